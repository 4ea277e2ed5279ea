package client

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/aaronwong1989/zklink/comm/logging"
)

type Option func(m *Manager)

// WithLogger 替换诊断输出，默认使用 logging.GetDefaultLogger()
func WithLogger(l logging.Logger) Option {
	return func(m *Manager) {
		m.log = l
	}
}

// WithRegistry 指标注册位置，默认是私有 Registry
func WithRegistry(reg prometheus.Registerer) Option {
	return func(m *Manager) {
		m.registry = reg
	}
}

func WithStreamFactory(f TransportFactory) Option {
	return func(m *Manager) {
		m.newStream = f
	}
}

func WithDatagramFactory(f TransportFactory) Option {
	return func(m *Manager) {
		m.newDatagram = f
	}
}
