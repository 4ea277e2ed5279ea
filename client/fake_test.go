package client

import (
	"context"
	"encoding/binary"
	"io"
	"net"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/aaronwong1989/zklink/codec/zk"
	"github.com/aaronwong1989/zklink/comm/logging"
	"github.com/aaronwong1989/zklink/simulator"
)

// fakeTransport 内存中的 Transport，按命令字生成应答
type fakeTransport struct {
	mu         sync.Mutex
	kind       zk.TransportKind
	connectErr error
	reply      func(command uint16, payload []byte) (*zk.Frame, error)
	units      chan []byte
	sent       []uint16
	payloads   [][]byte
	connects   int
	closed     int
	session    *Session
}

func newFake(kind zk.TransportKind) *fakeTransport {
	return &fakeTransport{kind: kind, session: newSession(), units: make(chan []byte, 16)}
}

func (f *fakeTransport) Kind() zk.TransportKind { return f.kind }

func (f *fakeTransport) Session() *Session { return f.session }

func (f *fakeTransport) Connect(_ context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.connects++
	return f.connectErr
}

func (f *fakeTransport) SendRequest(_ context.Context, command uint16, payload []byte) (*zk.Frame, error) {
	f.mu.Lock()
	f.sent = append(f.sent, command)
	f.payloads = append(f.payloads, append([]byte(nil), payload...))
	reply := f.reply
	f.mu.Unlock()
	sid, rid := f.session.next(command)
	if reply == nil {
		return zk.NewFrame(zk.CMD_ACK_OK, sid, rid, nil), nil
	}
	return reply(command, payload)
}

func (f *fakeTransport) Post(_ context.Context, command uint16, payload []byte) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.sent = append(f.sent, command)
	f.payloads = append(f.payloads, payload)
	return nil
}

func (f *fakeTransport) Receive(ctx context.Context) ([]byte, error) {
	select {
	case u, ok := <-f.units:
		if !ok {
			return nil, zk.NewError(zk.KindTransportClosed, "recv", 0, "", io.EOF)
		}
		return u, nil
	case <-ctx.Done():
		return nil, zk.NewError(zk.KindTransportClosed, "recv", 0, "", ctx.Err())
	}
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeTransport) commands() []uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]uint16(nil), f.sent...)
}

func (f *fakeTransport) count(command uint16) int {
	n := 0
	for _, c := range f.commands() {
		if c == command {
			n++
		}
	}
	return n
}

func factory(t Transport) TransportFactory {
	return func(_ *Config) Transport { return t }
}

func testConfig(port int) *Config {
	cfg := DefaultConfig()
	cfg.IP = "127.0.0.1"
	cfg.Port = port
	cfg.Timeout = 2 * time.Second
	return cfg
}

func newTestManager(t *testing.T, cfg *Config, opts ...Option) *Manager {
	opts = append([]Option{WithLogger(logging.NopLogger())}, opts...)
	m, err := NewManager(cfg, opts...)
	require.NoError(t, err)
	return m
}

// serveStream 在回环地址上用模拟设备应答 TCP 请求，收到 CMD_REG_EVENT 后推送 events
func serveStream(t *testing.T, d *simulator.Device, events ...[]byte) int {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = ln.Close() })

	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go func(conn net.Conn) {
				defer conn.Close()
				for {
					envelope := make([]byte, zk.EnvelopeLength)
					if _, err := io.ReadFull(conn, envelope); err != nil {
						return
					}
					inner, err := zk.InnerLength(envelope)
					if err != nil {
						return
					}
					unit := make([]byte, zk.EnvelopeLength+inner)
					copy(unit, envelope)
					if _, err = io.ReadFull(conn, unit[zk.EnvelopeLength:]); err != nil {
						return
					}
					for _, out := range d.Handle(zk.Stream, unit) {
						_, _ = conn.Write(out)
					}
					if binary.LittleEndian.Uint16(unit[8:10]) == zk.CMD_REG_EVENT {
						for _, ev := range events {
							_, _ = conn.Write(ev)
						}
					}
				}
			}(conn)
		}
	}()
	return ln.Addr().(*net.TCPAddr).Port
}

// serveDatagram 在回环地址上用模拟设备应答 UDP 请求，drop 返回 true 的请求不应答
func serveDatagram(t *testing.T, d *simulator.Device, drop func(f *zk.Frame) bool) int {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })

	go func() {
		buf := make([]byte, 65535)
		for {
			n, addr, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			unit := append([]byte(nil), buf[:n]...)
			f, err := zk.Decode(zk.Datagram, unit)
			if err != nil || (drop != nil && drop(f)) {
				continue
			}
			for _, out := range d.Handle(zk.Datagram, unit) {
				_, _ = pc.WriteTo(out, addr)
			}
		}
	}()
	return pc.LocalAddr().(*net.UDPAddr).Port
}

// serveDatagramLate 与 serveDatagram 相同，但 delay 返回非零的请求延迟应答
func serveDatagramLate(t *testing.T, d *simulator.Device, delay func(f *zk.Frame) time.Duration) int {
	pc, err := net.ListenPacket("udp", "127.0.0.1:0")
	require.NoError(t, err)
	t.Cleanup(func() { _ = pc.Close() })

	go func() {
		buf := make([]byte, 65535)
		for {
			n, addr, err := pc.ReadFrom(buf)
			if err != nil {
				return
			}
			unit := append([]byte(nil), buf[:n]...)
			f, err := zk.Decode(zk.Datagram, unit)
			if err != nil {
				continue
			}
			replies := d.Handle(zk.Datagram, unit)
			send := func() {
				for _, out := range replies {
					_, _ = pc.WriteTo(out, addr)
				}
			}
			if wait := delay(f); wait > 0 {
				time.AfterFunc(wait, send)
				continue
			}
			send()
		}
	}()
	return pc.LocalAddr().(*net.UDPAddr).Port
}
