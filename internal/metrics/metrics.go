// Package metrics holds the prometheus collectors of the inbox server
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
)

// Metrics groups the counters the conversation views and watchers update
type Metrics struct {
	Sends            *prometheus.CounterVec
	Dedups           prometheus.Counter
	StaleResults     *prometheus.CounterVec
	MarkReadFailures prometheus.Counter
	Reconnects       prometheus.Counter
	OpenViews        prometheus.Gauge
}

// New creates the collectors and registers them with reg. A nil registerer
// leaves them unregistered, which is what tests want.
func New(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		Sends: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wainbox",
			Name:      "sends_total",
			Help:      "Message sends by kind and result.",
		}, []string{"kind", "result"}),
		Dedups: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wainbox",
			Name:      "thread_dedups_total",
			Help:      "Feed inserts that replaced a row already in the thread.",
		}),
		StaleResults: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "wainbox",
			Name:      "stale_results_total",
			Help:      "Asynchronous results dropped because the conversation changed.",
		}, []string{"op"}),
		MarkReadFailures: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wainbox",
			Name:      "mark_read_failures_total",
			Help:      "Failed mark-as-read calls.",
		}),
		Reconnects: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "wainbox",
			Name:      "realtime_reconnects_total",
			Help:      "Realtime connections re-established after a drop.",
		}),
		OpenViews: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "wainbox",
			Name:      "open_views",
			Help:      "Conversation views currently open.",
		}),
	}
	if reg != nil {
		reg.MustRegister(m.Sends, m.Dedups, m.StaleResults, m.MarkReadFailures, m.Reconnects, m.OpenViews)
	}
	return m
}
