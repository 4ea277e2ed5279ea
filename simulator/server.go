package simulator

import (
	"context"
	"fmt"
	"math/rand"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"
	"github.com/panjf2000/gnet/v2"

	"github.com/aaronwong1989/zklink/codec/zk"
	"github.com/aaronwong1989/zklink/comm"
	"github.com/aaronwong1989/zklink/comm/logging"
)

// Server 在 gnet 事件循环上运行模拟终端。TCP 连接注册实时事件后由 OnTick 推送考勤事件
type Server struct {
	gnet.BuiltinEventEngine
	engine    gnet.Engine
	protocol  string
	address   string
	multicore bool
	kind      zk.TransportKind
	device    *Device
	pool      *ants.Pool
	interval  time.Duration
	// 已注册实时事件的连接
	listeners sync.Map
}

// NewServer protocol 为 tcp 或 udp；interval 为 0 时不推送事件
func NewServer(device *Device, protocol string, port int, multicore bool, interval time.Duration, pool *ants.Pool) *Server {
	kind := zk.Stream
	if protocol == "udp" {
		kind = zk.Datagram
	}
	return &Server{
		protocol:  protocol,
		address:   fmt.Sprintf(":%d", port),
		multicore: multicore,
		kind:      kind,
		device:    device,
		pool:      pool,
		interval:  interval,
	}
}

// NewPool 异步写出使用的工作池
func NewPool(size int) (*ants.Pool, error) {
	options := ants.Options{
		ExpiryDuration:   time.Minute, // 1 分钟内不被使用的worker会被清除
		Nonblocking:      false,
		MaxBlockingTasks: size,
		PreAlloc:         false,
		PanicHandler: func(e interface{}) {
			log.Errorf("%v", e)
		},
	}
	return ants.NewPool(size, ants.WithOptions(options))
}

func (s *Server) ProtoAddr() string {
	return s.protocol + "://" + s.address
}

// Run 阻塞运行直到 Stop
func (s *Server) Run() error {
	return gnet.Run(s, s.ProtoAddr(), gnet.WithMulticore(s.multicore), gnet.WithTicker(s.interval > 0))
}

func (s *Server) Stop(ctx context.Context) error {
	return gnet.Stop(ctx, s.ProtoAddr())
}

func (s *Server) OnBoot(eng gnet.Engine) (action gnet.Action) {
	log.Infof("[%-9s] running simulator on %s with multi-core=%t", "OnBoot", s.ProtoAddr(), s.multicore)
	s.engine = eng
	return
}

func (s *Server) OnShutdown(_ gnet.Engine) {
	log.Warnf("[%-9s] shutdown simulator %s", "OnShutdown", s.ProtoAddr())
}

func (s *Server) OnOpen(c gnet.Conn) (out []byte, action gnet.Action) {
	log.Infof("[%-9s] [%v<->%v] activeCons=%d.", "OnOpen", c.RemoteAddr(), c.LocalAddr(), s.engine.CountConnections())
	return
}

func (s *Server) OnClose(c gnet.Conn, e error) (action gnet.Action) {
	log.Warnf("[%-9s] [%v<->%v] reason=%v.", "OnClose", c.RemoteAddr(), c.LocalAddr(), e)
	s.listeners.Delete(c.RemoteAddr().String())
	return
}

func (s *Server) OnTraffic(c gnet.Conn) (action gnet.Action) {
	if s.kind == zk.Datagram {
		unit, err := c.Next(-1)
		if err != nil {
			log.Errorf("[%-9s] read datagram: %v", "OnTraffic", err)
			return gnet.None
		}
		for _, out := range s.device.Handle(zk.Datagram, unit) {
			if _, err = c.Write(out); err != nil {
				log.Errorf("[%-9s] write to %v: %v", "OnTraffic", c.RemoteAddr(), err)
			}
		}
		return gnet.None
	}

	for c.InboundBuffered() >= zk.EnvelopeLength {
		envelope, err := c.Peek(zk.EnvelopeLength)
		if err != nil {
			return gnet.Close
		}
		inner, err := zk.InnerLength(envelope)
		if err != nil || inner < zk.HeadLength {
			log.Warnf("[%-9s] [%v<->%v] bad envelope %x, close session...", "OnTraffic", c.RemoteAddr(), c.LocalAddr(), envelope)
			return gnet.Close
		}
		if c.InboundBuffered() < zk.EnvelopeLength+inner {
			break
		}
		unit := comm.TakeBytes(c, zk.EnvelopeLength+inner)
		if unit == nil {
			return gnet.Close
		}
		comm.LogHex(log, logging.DebugLevel, "Request", unit)

		replies := s.device.Handle(zk.Stream, unit)
		if cmd, ok := command(unit); ok {
			switch cmd {
			case zk.CMD_REG_EVENT:
				s.listeners.Store(c.RemoteAddr().String(), c)
			case zk.CMD_EXIT:
				s.listeners.Delete(c.RemoteAddr().String())
			}
		}
		if len(replies) == 0 {
			continue
		}
		_ = s.pool.Submit(func() {
			err := c.AsyncWritev(replies, func(c gnet.Conn) error {
				log.Debugf("[%-9s] >>> %d units to %v", "OnTraffic", len(replies), c.RemoteAddr())
				return nil
			})
			if err != nil {
				log.Errorf("[%-9s] write to %v: %v", "OnTraffic", c.RemoteAddr(), err)
			}
		})
	}
	return gnet.None
}

// OnTick 向已注册的连接推送一条随机用户的考勤事件
func (s *Server) OnTick() (delay time.Duration, action gnet.Action) {
	users := s.device.Users()
	if len(users) == 0 {
		return s.interval, gnet.None
	}
	s.listeners.Range(func(key, value interface{}) bool {
		addr, c := key.(string), value.(gnet.Conn)
		u := users[rand.Intn(len(users))]
		_ = s.pool.Submit(func() {
			now := s.device.Now()
			s.device.Punch(u.UserID, now)
			err := c.AsyncWrite(EventUnit(zk.Stream, u.UserID, now), nil)
			if err == nil {
				log.Infof("[%-9s] >>> event user=%s to %s", "OnTick", u.UserID, addr)
			} else {
				log.Errorf("[%-9s] >>> event to %s, error: %v", "OnTick", addr, err)
			}
		})
		return true
	})
	return s.interval, gnet.None
}

func command(unit []byte) (uint16, bool) {
	f, err := zk.Decode(zk.Stream, unit)
	if err != nil {
		return 0, false
	}
	return f.Command, true
}
