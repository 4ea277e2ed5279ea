package client

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"syscall"
	"time"

	"github.com/google/uuid"

	"github.com/aaronwong1989/zklink/codec/zk"
	"github.com/aaronwong1989/zklink/comm"
	"github.com/aaronwong1989/zklink/comm/logging"
)

// Transport 一条到设备的连接，严格一问一答，不可并发调用
type Transport interface {
	Kind() zk.TransportKind
	// Connect 建立套接字并完成 CMD_CONNECT 握手
	Connect(ctx context.Context) error
	// SendRequest 发送一条命令并等待一条应答，超时返回 KindTransportTimeout，会话保持不变
	SendRequest(ctx context.Context, command uint16, payload []byte) (*zk.Frame, error)
	// Post 只发送不等待应答
	Post(ctx context.Context, command uint16, payload []byte) error
	// Receive 无超时地读取一个原始报文单元，直到 ctx 结束
	Receive(ctx context.Context) ([]byte, error)
	Close() error
	Session() *Session
}

// TransportFactory 按配置创建未连接的 Transport
type TransportFactory func(cfg *Config) Transport

// link 套接字层，两种传输方式只在这里不同
type link interface {
	dial(ctx context.Context) error
	ready() bool
	write(unit []byte, deadline time.Time) error
	// arm 设置读超时，零值表示不超时
	arm(deadline time.Time) error
	// read 读取一个完整单元，TCP 包含前缀
	read() ([]byte, error)
	interrupt()
	close() error
}

type transport struct {
	kind    zk.TransportKind
	ip      string
	id      string
	link    link
	session *Session
	timeout time.Duration
	strict  bool
	log     logging.Logger
	metrics *metrics
}

func newTransport(kind zk.TransportKind, l link, cfg *Config, log logging.Logger, m *metrics) *transport {
	return &transport{
		kind:    kind,
		ip:      cfg.IP,
		id:      uuid.NewString(),
		link:    l,
		session: newSession(),
		timeout: cfg.Timeout,
		strict:  cfg.StrictChecksum,
		log:     log,
		metrics: m,
	}
}

func (t *transport) Kind() zk.TransportKind {
	return t.kind
}

func (t *transport) Session() *Session {
	return t.session
}

func (t *transport) Connect(ctx context.Context) error {
	if err := t.link.dial(ctx); err != nil {
		return t.fail("dial", zk.CMD_CONNECT, err)
	}
	reply, err := t.SendRequest(ctx, zk.CMD_CONNECT, nil)
	if err != nil {
		_ = t.link.close()
		return err
	}
	if reply.Command != zk.CMD_ACK_OK {
		_ = t.link.close()
		return t.fail("recv", zk.CMD_CONNECT, nack(zk.CMD_CONNECT, t.ip, reply))
	}
	t.session.ID = reply.SessionId
	t.log.Infof("[%-9s] [%s] %s://%s session established, %s", "Connect", t.id, t.kind, t.ip, t.session)
	return nil
}

func (t *transport) SendRequest(ctx context.Context, command uint16, payload []byte) (*zk.Frame, error) {
	if !t.link.ready() && command != zk.CMD_CONNECT {
		// UDP 本地端口被占用时延迟到第一条命令再绑定随机端口
		if err := t.Connect(ctx); err != nil {
			return nil, err
		}
	}

	sid, rid := t.session.next(command)
	buf := zk.Encode(t.kind, command, sid, rid, payload)
	comm.LogHex(t.log, logging.DebugLevel, ">>> "+zk.CommandName(command), buf)

	start := time.Now()
	deadline := start.Add(t.timeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	if err := t.link.write(buf, deadline); err != nil {
		return nil, t.fail("send", command, err)
	}

	frame, err := t.await(ctx, command, rid, deadline)
	if err != nil {
		return nil, err
	}
	if !frame.Valid() {
		mismatch := zk.NewError(zk.KindChecksumMismatch, "recv", command, t.ip, zk.ErrChecksum)
		t.metrics.fail(mismatch)
		if t.strict {
			return nil, mismatch
		}
		t.log.Warnf("[%-9s] [%s] %s, reply accepted", "Request", t.id, mismatch)
	}
	t.metrics.command(t.kind, command, start)
	t.log.Debugf("[%-9s] [%s] %s -> %s", "Request", t.id, zk.CommandName(command), frame)
	return frame, nil
}

// await 读取 replyID 对应的应答。超时后才到的旧应答和设备推送的实时事件被丢弃
func (t *transport) await(ctx context.Context, command, replyID uint16, deadline time.Time) (*zk.Frame, error) {
	if err := t.link.arm(deadline); err != nil {
		return nil, t.fail("recv", command, err)
	}
	stop := context.AfterFunc(ctx, t.link.interrupt)
	defer stop()
	for {
		unit, err := t.link.read()
		if err != nil {
			if ctx.Err() != nil {
				err = ctx.Err()
			}
			return nil, t.fail("recv", command, err)
		}
		comm.LogHex(t.log, logging.DebugLevel, "<<< "+zk.CommandName(command), unit)

		frame, err := zk.Decode(t.kind, unit)
		if err != nil {
			return nil, t.fail("recv", command, err)
		}
		if frame.Command == zk.CMD_REG_EVENT || frame.ReplyId != replyID {
			t.log.Debugf("[%-9s] [%s] skip %s with reply id %d, waiting for %d",
				"Request", t.id, zk.CommandName(frame.Command), frame.ReplyId, replyID)
			continue
		}
		return frame, nil
	}
}

func (t *transport) Post(ctx context.Context, command uint16, payload []byte) error {
	if !t.link.ready() {
		if err := t.Connect(ctx); err != nil {
			return err
		}
	}
	sid, rid := t.session.next(command)
	buf := zk.Encode(t.kind, command, sid, rid, payload)
	comm.LogHex(t.log, logging.DebugLevel, ">>> "+zk.CommandName(command), buf)
	if err := t.link.write(buf, time.Now().Add(t.timeout)); err != nil {
		return t.fail("send", command, err)
	}
	t.metrics.commands.WithLabelValues(t.kind.String(), zk.CommandName(command)).Inc()
	return nil
}

func (t *transport) Receive(ctx context.Context) ([]byte, error) {
	if !t.link.ready() {
		return nil, t.fail("recv", 0, zk.ErrNotConnected)
	}
	if err := ctx.Err(); err != nil {
		return nil, t.fail("recv", 0, err)
	}
	if err := t.link.arm(time.Time{}); err != nil {
		return nil, t.fail("recv", 0, err)
	}
	// 必须在 arm 之后注册，否则 interrupt 设置的超时会被覆盖
	stop := context.AfterFunc(ctx, t.link.interrupt)
	defer stop()
	unit, err := t.link.read()
	if err != nil {
		if ctx.Err() != nil {
			err = ctx.Err()
		}
		return nil, t.fail("recv", 0, err)
	}
	return unit, nil
}

func (t *transport) Close() error {
	t.log.Debugf("[%-9s] [%s] close %s://%s", "Close", t.id, t.kind, t.ip)
	return t.link.close()
}

func (t *transport) fail(op string, command uint16, err error) error {
	e := classify(op, command, t.ip, err)
	t.metrics.fail(e)
	return e
}

// classify 把底层错误一次性转换为 zk.Kind，已分类的错误原样返回
func classify(op string, command uint16, ip string, err error) error {
	var zerr *zk.Error
	if errors.As(err, &zerr) {
		return err
	}
	var ne net.Error
	kind := zk.KindUnknown
	switch {
	case errors.Is(err, syscall.ECONNREFUSED):
		kind = zk.KindConnRefused
	case errors.Is(err, syscall.EADDRINUSE):
		kind = zk.KindAddrInUse
	case errors.Is(err, context.DeadlineExceeded), errors.As(err, &ne) && ne.Timeout():
		kind = zk.KindTransportTimeout
	case errors.Is(err, io.EOF), errors.Is(err, io.ErrUnexpectedEOF), errors.Is(err, net.ErrClosed),
		errors.Is(err, syscall.ECONNRESET), errors.Is(err, syscall.EPIPE),
		errors.Is(err, context.Canceled), errors.Is(err, zk.ErrNotConnected):
		kind = zk.KindTransportClosed
	case errors.Is(err, zk.ErrorPacket):
		kind = zk.KindMalformedFrame
	case op == "dial":
		kind = zk.KindTransportConnectFailed
	}
	return zk.NewError(kind, op, command, ip, err)
}

// nack 设备以非预期的命令字应答
func nack(command uint16, ip string, reply *zk.Frame) error {
	return zk.NewError(zk.KindProtocolNack, "recv", command, ip,
		fmt.Errorf("%w: %s", zk.ErrUnexpectedCmd, zk.CommandName(reply.Command)))
}
