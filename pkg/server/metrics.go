package server

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/microbiomedata/funcagg/pkg/aggregation"
)

// Metrics are the Prometheus collectors exported on /metrics.
type Metrics struct {
	cycles        *prometheus.CounterVec
	units         *prometheus.CounterVec
	cycleDuration prometheus.Histogram
	lastSuccess   prometheus.Gauge
	pending       *prometheus.GaugeVec
}

// NewMetrics creates the collectors and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		cycles: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "funcagg",
			Name:      "cycles_total",
			Help:      "Aggregation cycles by result.",
		}, []string{"result"}),
		units: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "funcagg",
			Name:      "units_total",
			Help:      "Workflow executions handled by builder and status.",
		}, []string{"builder", "status"}),
		cycleDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "funcagg",
			Name:      "cycle_duration_seconds",
			Help:      "Wall time of one aggregation cycle.",
			Buckets:   prometheus.ExponentialBuckets(1, 4, 10),
		}),
		lastSuccess: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "funcagg",
			Name:      "last_success_timestamp_seconds",
			Help:      "Unix time of the last completed cycle.",
		}),
		pending: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: "funcagg",
			Name:      "pending_units",
			Help:      "Workflow executions without aggregation members after the last run.",
		}, []string{"builder"}),
	}
	reg.MustRegister(m.cycles, m.units, m.cycleDuration, m.lastSuccess, m.pending)
	return m
}

// ObserveCycle records a finished cycle. err is the error that stopped it, if any.
func (m *Metrics) ObserveCycle(c *aggregation.Cycle, err error) {
	for _, r := range c.Reports {
		m.units.WithLabelValues(r.Builder, "aggregated").Add(float64(r.Processed))
		m.units.WithLabelValues(r.Builder, "failed").Add(float64(r.Failed))
		m.units.WithLabelValues(r.Builder, "skipped").Add(float64(r.Skipped))
		m.pending.WithLabelValues(r.Builder).Set(float64(len(r.Pending)))
	}
	if err != nil {
		m.cycles.WithLabelValues("error").Inc()
		return
	}
	m.cycles.WithLabelValues("success").Inc()
	m.cycleDuration.Observe(c.Finished.Sub(c.Started).Seconds())
	m.lastSuccess.Set(float64(c.Finished.Unix()))
}
