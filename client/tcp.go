package client

import (
	"context"
	"io"
	"net"
	"time"

	"github.com/aaronwong1989/zklink/codec/zk"
	"github.com/aaronwong1989/zklink/comm/logging"
)

// streamLink TCP 套接字，每个单元以 8 字节前缀开头
type streamLink struct {
	addr    string
	timeout time.Duration
	conn    net.Conn
}

func newStreamTransport(cfg *Config, log logging.Logger, m *metrics) *transport {
	l := &streamLink{addr: cfg.Addr(), timeout: cfg.Timeout}
	return newTransport(zk.Stream, l, cfg, log, m)
}

func (l *streamLink) dial(ctx context.Context) error {
	_ = l.close()
	d := net.Dialer{Timeout: l.timeout}
	conn, err := d.DialContext(ctx, "tcp", l.addr)
	if err != nil {
		return err
	}
	l.conn = conn
	return nil
}

func (l *streamLink) ready() bool {
	return l.conn != nil
}

func (l *streamLink) write(unit []byte, deadline time.Time) error {
	if l.conn == nil {
		return zk.ErrNotConnected
	}
	if err := l.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err := l.conn.Write(unit)
	return err
}

func (l *streamLink) arm(deadline time.Time) error {
	if l.conn == nil {
		return zk.ErrNotConnected
	}
	return l.conn.SetReadDeadline(deadline)
}

func (l *streamLink) read() ([]byte, error) {
	if l.conn == nil {
		return nil, zk.ErrNotConnected
	}
	envelope := make([]byte, zk.EnvelopeLength)
	if _, err := io.ReadFull(l.conn, envelope); err != nil {
		return nil, err
	}
	inner, err := zk.InnerLength(envelope)
	if err != nil {
		return nil, err
	}
	unit := make([]byte, zk.EnvelopeLength+inner)
	copy(unit, envelope)
	if _, err = io.ReadFull(l.conn, unit[zk.EnvelopeLength:]); err != nil {
		return nil, err
	}
	return unit, nil
}

func (l *streamLink) interrupt() {
	if l.conn != nil {
		_ = l.conn.SetReadDeadline(time.Now())
	}
}

func (l *streamLink) close() error {
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	return err
}
