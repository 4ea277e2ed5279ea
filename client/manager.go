package client

import (
	"context"
	"fmt"
	"sync"

	"github.com/google/uuid"
	"github.com/looplab/fsm"
	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/atomic"

	"github.com/aaronwong1989/zklink/codec/zk"
	"github.com/aaronwong1989/zklink/comm/logging"
)

// 连接状态
const (
	StateDisconnected       = "disconnected"
	StateConnectingStream   = "connecting_stream"
	StateConnectedStream    = "connected_stream"
	StateConnectingDatagram = "connecting_datagram"
	StateConnectedDatagram  = "connected_datagram"
	StateFailed             = "failed"
)

const (
	evDial          = "dial"
	evStreamUp      = "stream_up"
	evStreamRefused = "stream_refused"
	evDatagramUp    = "datagram_up"
	evFail          = "fail"
	evDisconnect    = "disconnect"
)

// Manager 管理到一台设备的唯一连接：先 TCP，连接被拒绝时回退 UDP。
// 所有操作由同一把锁串行化，Listen 运行期间独占连接。
type Manager struct {
	mu          sync.Mutex
	id          string
	cfg         *Config
	log         logging.Logger
	registry    prometheus.Registerer
	metrics     *metrics
	fsm         *fsm.FSM
	active      Transport
	decoder     *zk.Decoder
	newStream   TransportFactory
	newDatagram TransportFactory
	listening   *atomic.Bool
}

func NewManager(cfg *Config, opts ...Option) (*Manager, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	cfg.normalize()
	cs, err := cfg.charset()
	if err != nil {
		return nil, err
	}

	m := &Manager{
		id:        uuid.NewString(),
		cfg:       cfg,
		decoder:   zk.NewDecoder(cs),
		listening: atomic.NewBool(false),
	}
	for _, opt := range opts {
		opt(m)
	}
	if m.log == nil {
		m.log = logging.GetDefaultLogger()
	}
	m.decoder.WithLogger(m.log)
	if m.registry == nil {
		m.registry = prometheus.NewRegistry()
	}
	m.metrics = newMetrics(m.registry)
	if m.newStream == nil {
		m.newStream = func(cfg *Config) Transport { return newStreamTransport(cfg, m.log, m.metrics) }
	}
	if m.newDatagram == nil {
		m.newDatagram = func(cfg *Config) Transport { return newDatagramTransport(cfg, m.log, m.metrics) }
	}

	m.fsm = fsm.NewFSM(
		StateDisconnected,
		fsm.Events{
			{Name: evDial, Src: []string{StateDisconnected}, Dst: StateConnectingStream},
			{Name: evStreamUp, Src: []string{StateConnectingStream}, Dst: StateConnectedStream},
			{Name: evStreamRefused, Src: []string{StateConnectingStream}, Dst: StateConnectingDatagram},
			{Name: evDatagramUp, Src: []string{StateConnectingDatagram}, Dst: StateConnectedDatagram},
			{Name: evFail, Src: []string{StateConnectingStream, StateConnectingDatagram}, Dst: StateFailed},
			{Name: evDisconnect, Src: []string{StateConnectedStream, StateConnectedDatagram, StateFailed}, Dst: StateDisconnected},
		},
		fsm.Callbacks{
			"enter_state": func(_ context.Context, e *fsm.Event) {
				m.log.Infof("[%-9s] [%s] %s: %s -> %s", "Connect", m.id, e.Event, e.Src, e.Dst)
			},
		},
	)
	return m, nil
}

// State 当前连接状态
func (m *Manager) State() string {
	return m.fsm.Current()
}

// Transport 当前活动连接，未连接时为 nil
func (m *Manager) Transport() Transport {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.active
}

func (m *Manager) Listening() bool {
	return m.listening.Load()
}

// Connect 从 disconnected 开始走一遍回退流程，已连接时直接返回
func (m *Manager) Connect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connect(ctx)
}

func (m *Manager) connect(ctx context.Context) error {
	switch m.fsm.Current() {
	case StateConnectedStream, StateConnectedDatagram:
		return nil
	case StateFailed:
		m.event(ctx, evDisconnect)
	}
	m.event(ctx, evDial)

	stream := m.newStream(m.cfg)
	err := stream.Connect(ctx)
	if err == nil {
		m.active = stream
		m.event(ctx, evStreamUp)
		return nil
	}
	_ = stream.Close()
	if zk.KindOf(err) != zk.KindConnRefused {
		m.event(ctx, evFail)
		return m.connectFailed(zk.Stream, err)
	}

	m.log.Warnf("[%-9s] [%s] tcp refused by %s, trying udp: %v", "Connect", m.id, m.cfg.Addr(), err)
	m.event(ctx, evStreamRefused)
	datagram := m.newDatagram(m.cfg)
	err = datagram.Connect(ctx)
	switch {
	case err == nil:
	case zk.KindOf(err) == zk.KindAddrInUse:
		m.log.Warnf("[%-9s] [%s] udp in-port %d in use, treated as connected: %v", "Connect", m.id, m.cfg.InPort, err)
	default:
		_ = datagram.Close()
		_ = stream.Close()
		m.event(ctx, evFail)
		return m.connectFailed(zk.Datagram, err)
	}
	m.active = datagram
	m.event(ctx, evDatagramUp)
	return nil
}

func (m *Manager) connectFailed(kind zk.TransportKind, err error) error {
	e := zk.NewError(zk.KindTransportConnectFailed, "dial", zk.CMD_CONNECT, m.cfg.IP, fmt.Errorf("%s: %w", kind, err))
	m.metrics.fail(e)
	m.log.Errorf("[%-9s] [%s] %v", "Connect", m.id, e)
	return e
}

// Disconnect 尽力发送 CMD_EXIT 后关闭连接
func (m *Manager) Disconnect(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.disconnect(ctx)
}

func (m *Manager) disconnect(ctx context.Context) error {
	var err error
	if m.active != nil {
		if _, e := m.active.SendRequest(ctx, zk.CMD_EXIT, nil); e != nil {
			m.log.Debugf("[%-9s] [%s] CMD_EXIT ignored: %v", "Close", m.id, e)
		}
		err = m.active.Close()
		m.active = nil
	}
	if m.fsm.Can(evDisconnect) {
		m.event(ctx, evDisconnect)
	}
	return err
}

func (m *Manager) event(ctx context.Context, name string) {
	if err := m.fsm.Event(ctx, name); err != nil {
		m.log.Errorf("[%-9s] [%s] state %s, event %s: %v", "Connect", m.id, m.fsm.Current(), name, err)
	}
}

// connected 返回活动连接，未连接时返回 KindTransportClosed
func (m *Manager) connected(command uint16) (Transport, error) {
	if m.active == nil {
		return nil, zk.NewError(zk.KindTransportClosed, "send", command, m.cfg.IP, zk.ErrNotConnected)
	}
	return m.active, nil
}
