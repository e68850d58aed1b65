// Package metrics exposes the node's Prometheus collectors.
package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "hushroom"

// Metrics holds the collectors on a private registry. A nil *Metrics is valid and records nothing.
type Metrics struct {
	reg *prometheus.Registry

	signalsReceived *prometheus.CounterVec
	signalsRelayed  *prometheus.CounterVec
	signalsRejected *prometheus.CounterVec
	peers           prometheus.Gauge
	pending         prometheus.Gauge
	botCalls        *prometheus.CounterVec
	joins           *prometheus.CounterVec
}

func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	f := promauto.With(reg)

	return &Metrics{
		reg: reg,
		signalsReceived: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_received_total",
			Help:      "Signals received from peers, by kind.",
		}, []string{"kind"}),
		signalsRelayed: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_relayed_total",
			Help:      "Signal deliveries forwarded by the host, by kind.",
		}, []string{"kind"}),
		signalsRejected: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "signals_rejected_total",
			Help:      "Signals dropped during reconciliation, by kind and reason.",
		}, []string{"kind", "reason"}),
		peers: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "connected_peers",
			Help:      "Open peer links.",
		}),
		pending: f.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "pending_messages",
			Help:      "Messages sent while offline and not yet flushed.",
		}),
		botCalls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "bot_calls_total",
			Help:      "Bot service calls, by operation and outcome.",
		}, []string{"op", "outcome"}),
		joins: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "join_attempts_total",
			Help:      "Room join attempts, by outcome.",
		}, []string{"outcome"}),
	}
}

func (m *Metrics) SignalReceived(kind string) {
	if m == nil {
		return
	}
	m.signalsReceived.WithLabelValues(kind).Inc()
}

func (m *Metrics) SignalRelayed(kind string, deliveries int) {
	if m == nil || deliveries <= 0 {
		return
	}
	m.signalsRelayed.WithLabelValues(kind).Add(float64(deliveries))
}

func (m *Metrics) SignalRejected(kind, reason string) {
	if m == nil {
		return
	}
	m.signalsRejected.WithLabelValues(kind, reason).Inc()
}

func (m *Metrics) SetPeers(n int) {
	if m == nil {
		return
	}
	m.peers.Set(float64(n))
}

func (m *Metrics) SetPending(n int) {
	if m == nil {
		return
	}
	m.pending.Set(float64(n))
}

func (m *Metrics) BotCall(op, outcome string) {
	if m == nil {
		return
	}
	m.botCalls.WithLabelValues(op, outcome).Inc()
}

func (m *Metrics) JoinAttempt(outcome string) {
	if m == nil {
		return
	}
	m.joins.WithLabelValues(outcome).Inc()
}

// Registry returns the underlying registry, mainly for tests.
func (m *Metrics) Registry() *prometheus.Registry {
	return m.reg
}

// Handler serves the registry in the Prometheus text format.
func (m *Metrics) Handler() http.Handler {
	if m == nil {
		return http.NotFoundHandler()
	}
	return promhttp.HandlerFor(m.reg, promhttp.HandlerOpts{Registry: m.reg})
}
