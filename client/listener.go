package client

import (
	"context"
	"sync"
	"time"

	"github.com/panjf2000/ants/v2"

	"github.com/aaronwong1989/zklink/codec/zk"
)

// EventHandler 接收实时事件。listener-workers 为 1 时按到达顺序串行调用
type EventHandler func(ev *zk.RealTimeEvent)

// Listen 注册实时事件后阻塞接收，直到 ctx 结束或连接出错。
// 运行期间持有连接锁，其它请求会等待。ctx 结束时返回 nil。
func (m *Manager) Listen(ctx context.Context, handler EventHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	t, err := m.connected(zk.CMD_REG_EVENT)
	if err != nil {
		return err
	}

	options := ants.Options{
		ExpiryDuration: time.Minute,
		Nonblocking:    false,
		PreAlloc:       false,
		PanicHandler: func(e interface{}) {
			m.log.Errorf("[%-9s] [%s] event handler panic: %v", "Listen", m.id, e)
		},
	}
	pool, err := ants.NewPool(m.cfg.ListenerWorkers, ants.WithOptions(options))
	if err != nil {
		return err
	}
	defer pool.Release()

	var wg sync.WaitGroup
	defer wg.Wait()

	if err = t.Post(ctx, zk.CMD_REG_EVENT, zk.ReqGetRealTimeEvent); err != nil {
		return err
	}
	m.listening.Store(true)
	defer m.listening.Store(false)
	m.log.Infof("[%-9s] [%s] listening for real-time events on %s", "Listen", m.id, t.Kind())

	kind := t.Kind()
	for {
		if ctx.Err() != nil {
			m.log.Infof("[%-9s] [%s] stopped: %v", "Listen", m.id, ctx.Err())
			return nil
		}
		unit, err := t.Receive(ctx)
		if err != nil {
			if ctx.Err() != nil {
				m.log.Infof("[%-9s] [%s] stopped: %v", "Listen", m.id, ctx.Err())
				return nil
			}
			return err
		}
		if !acceptEvent(kind, unit) {
			m.log.Debugf("[%-9s] [%s] skip %d bytes", "Listen", m.id, len(unit))
			continue
		}
		ev, err := m.decoder.Event(kind, unit)
		if err != nil {
			m.metrics.fail(err)
			m.log.Warnf("[%-9s] [%s] %v", "Listen", m.id, err)
			continue
		}
		m.metrics.events.WithLabelValues(kind.String()).Inc()

		wg.Add(1)
		if err = pool.Submit(func() {
			defer wg.Done()
			handler(ev)
		}); err != nil {
			wg.Done()
			m.log.Errorf("[%-9s] [%s] dispatch: %v", "Listen", m.id, err)
		}
	}
}

// acceptEvent UDP 按命令字过滤，TCP 按报文头中的事件类型过滤，长度必须是固定宽度
func acceptEvent(kind zk.TransportKind, unit []byte) bool {
	if len(unit) != zk.EventWidth(kind) {
		return false
	}
	frame, err := zk.Decode(kind, unit)
	if err != nil {
		return false
	}
	if kind == zk.Datagram {
		return frame.Command == zk.CMD_REG_EVENT
	}
	return frame.Command == zk.CMD_REG_EVENT && uint32(frame.SessionId) == zk.EF_ATTLOG
}
