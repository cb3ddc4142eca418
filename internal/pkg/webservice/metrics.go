package webservice

import (
	"net/http"

	"github.com/ohowland/cgc_nodal/internal/pkg/network"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics owns its registry so more than one App can live in a process.
type Metrics struct {
	registry *prometheus.Registry
	solves   *prometheus.CounterVec
	duration prometheus.Histogram
	stored   prometheus.Gauge
}

func NewMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	factory := promauto.With(reg)
	return &Metrics{
		registry: reg,
		solves: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "cgc_solves_total",
			Help: "Number of network solves by final status.",
		}, []string{"status"}),
		duration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "cgc_solve_duration_seconds",
			Help:    "Wall time of a network solve, including model build.",
			Buckets: prometheus.ExponentialBuckets(0.001, 4, 8),
		}),
		stored: factory.NewGauge(prometheus.GaugeOpts{
			Name: "cgc_runs_stored",
			Help: "Number of solve results held in memory.",
		}),
	}
}

func (m *Metrics) observe(r *network.SolveResult, stored int) {
	m.solves.WithLabelValues(r.Status.String()).Inc()
	m.duration.Observe(r.Duration.Seconds())
	m.stored.Set(float64(stored))
}

// rejected counts a solve request that never reached the solver.
func (m *Metrics) rejected() {
	m.solves.WithLabelValues("rejected").Inc()
}

// busy counts a solve request turned away because every solver slot was
// taken.
func (m *Metrics) busy() {
	m.solves.WithLabelValues("busy").Inc()
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}
