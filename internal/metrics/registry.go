package metrics

import (
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Registry owns every collector of the bot. It is created once in main and
// passed to the components that report into it.
type Registry struct {
	reg *prometheus.Registry

	Runtime *Runtime

	Updates        *prometheus.CounterVec
	Throttled      *prometheus.CounterVec
	BroadcastSends *prometheus.CounterVec
	Backups        *prometheus.CounterVec
}

func NewRegistry() *Registry {
	r := &Registry{
		reg:     prometheus.NewRegistry(),
		Runtime: NewRuntime(defaultCapacity),
		Updates: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optika_updates_total",
				Help: "Telegram updates that reached the middleware chain",
			},
			[]string{"kind"},
		),
		Throttled: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optika_antispam_dropped_total",
				Help: "Updates dropped by the anti-spam limiter, by notice shown",
			},
			[]string{"notice"},
		),
		BroadcastSends: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optika_broadcast_sends_total",
				Help: "Broadcast deliveries by result",
			},
			[]string{"result"},
		),
		Backups: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "optika_backups_total",
				Help: "Database backups by trigger and result",
			},
			[]string{"trigger", "result"},
		),
	}
	r.reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		r.Updates,
		r.Throttled,
		r.BroadcastSends,
		r.Backups,
	)
	return r
}

// MarkUpdate feeds both the in-memory ring and the Prometheus counter.
func (r *Registry) MarkUpdate(kind string) {
	r.Runtime.MarkEvent()
	r.Updates.WithLabelValues(kind).Inc()
}

// GaugeFunc exposes a value owned by another component, such as limiter or
// alert counters.
func (r *Registry) GaugeFunc(name, help string, fn func() float64) {
	r.reg.MustRegister(prometheus.NewGaugeFunc(prometheus.GaugeOpts{Name: name, Help: help}, fn))
}

func (r *Registry) Handler() http.Handler {
	return promhttp.HandlerFor(r.reg, promhttp.HandlerOpts{})
}

// Gatherer is used by tests.
func (r *Registry) Gatherer() prometheus.Gatherer { return r.reg }
