package client

import (
	"context"
	"errors"
	"net"
	"syscall"
	"time"

	"github.com/aaronwong1989/zklink/codec/zk"
	"github.com/aaronwong1989/zklink/comm/logging"
)

const maxDatagram = 65535

// datagramLink UDP 套接字，绑定本地入站端口，每个数据报是一个单元
type datagramLink struct {
	addr   string
	inPort int
	conn   *net.UDPConn
	buf    []byte
}

func newDatagramTransport(cfg *Config, log logging.Logger, m *metrics) *transport {
	l := &datagramLink{addr: cfg.Addr(), inPort: cfg.InPort, buf: make([]byte, maxDatagram)}
	return newTransport(zk.Datagram, l, cfg, log, m)
}

func (l *datagramLink) dial(_ context.Context) error {
	_ = l.close()
	raddr, err := net.ResolveUDPAddr("udp", l.addr)
	if err != nil {
		return err
	}
	conn, err := net.DialUDP("udp", &net.UDPAddr{Port: l.inPort}, raddr)
	if err != nil {
		if errors.Is(err, syscall.EADDRINUSE) {
			// 下次改用随机端口
			l.inPort = 0
		}
		return err
	}
	l.conn = conn
	return nil
}

func (l *datagramLink) ready() bool {
	return l.conn != nil
}

func (l *datagramLink) write(unit []byte, deadline time.Time) error {
	if l.conn == nil {
		return zk.ErrNotConnected
	}
	if err := l.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	_, err := l.conn.Write(unit)
	return err
}

func (l *datagramLink) arm(deadline time.Time) error {
	if l.conn == nil {
		return zk.ErrNotConnected
	}
	return l.conn.SetReadDeadline(deadline)
}

func (l *datagramLink) read() ([]byte, error) {
	if l.conn == nil {
		return nil, zk.ErrNotConnected
	}
	n, err := l.conn.Read(l.buf)
	if err != nil {
		return nil, err
	}
	unit := make([]byte, n)
	copy(unit, l.buf[:n])
	return unit, nil
}

func (l *datagramLink) interrupt() {
	if l.conn != nil {
		_ = l.conn.SetReadDeadline(time.Now())
	}
}

func (l *datagramLink) close() error {
	if l.conn == nil {
		return nil
	}
	err := l.conn.Close()
	l.conn = nil
	return err
}
