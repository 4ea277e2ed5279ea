package client

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/aaronwong1989/zklink/codec/zk"
)

type metrics struct {
	commands  *prometheus.CounterVec
	errors    *prometheus.CounterVec
	bulkBytes *prometheus.CounterVec
	events    *prometheus.CounterVec
	latency   *prometheus.HistogramVec
}

func newMetrics(reg prometheus.Registerer) *metrics {
	f := promauto.With(reg)
	return &metrics{
		commands: f.NewCounterVec(prometheus.CounterOpts{
			Name: "zklink_commands_total",
			Help: "Commands sent to the device.",
		}, []string{"transport", "command"}),
		errors: f.NewCounterVec(prometheus.CounterOpts{
			Name: "zklink_errors_total",
			Help: "Errors by kind, including tolerated checksum mismatches.",
		}, []string{"kind"}),
		bulkBytes: f.NewCounterVec(prometheus.CounterOpts{
			Name: "zklink_bulk_bytes_total",
			Help: "Bytes received through bulk transfers.",
		}, []string{"transport"}),
		events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "zklink_events_total",
			Help: "Real-time events delivered to handlers.",
		}, []string{"transport"}),
		latency: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "zklink_request_seconds",
			Help:    "Request/response round trip time.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}, []string{"transport"}),
	}
}

func (m *metrics) command(kind zk.TransportKind, cmd uint16, since time.Time) {
	m.commands.WithLabelValues(kind.String(), zk.CommandName(cmd)).Inc()
	m.latency.WithLabelValues(kind.String()).Observe(time.Since(since).Seconds())
}

func (m *metrics) fail(err error) {
	m.errors.WithLabelValues(zk.KindOf(err).String()).Inc()
}
