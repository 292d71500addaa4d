package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics exposes the service's prometheus instruments.
type Metrics struct {
	JobsRunning   prometheus.Gauge
	JobsCompleted *prometheus.CounterVec
	Iterations    prometheus.Counter
	JobDuration   prometheus.Histogram
}

// NewMetrics registers the service metrics on the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		JobsRunning: factory.NewGauge(prometheus.GaugeOpts{
			Name: "bayesopt_jobs_running",
			Help: "Number of optimization jobs currently running.",
		}),
		JobsCompleted: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "bayesopt_jobs_completed_total",
			Help: "Completed optimization jobs by outcome.",
		}, []string{"outcome"}),
		Iterations: factory.NewCounter(prometheus.CounterOpts{
			Name: "bayesopt_iterations_total",
			Help: "Optimizer iterations across all jobs.",
		}),
		JobDuration: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "bayesopt_job_duration_seconds",
			Help:    "Wall-clock duration of optimization jobs.",
			Buckets: prometheus.ExponentialBuckets(0.01, 4, 8),
		}),
	}
}
