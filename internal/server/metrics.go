package server

import (
	"github.com/prometheus/client_golang/prometheus"
)

// metrics are the job-level Prometheus collectors.
type metrics struct {
	started     prometheus.Counter
	finished    *prometheus.CounterVec
	running     prometheus.Gauge
	queued      prometheus.Gauge
	evaluations prometheus.Histogram
	duration    prometheus.Histogram
}

func newMetrics(reg prometheus.Registerer) *metrics {
	m := &metrics{
		started: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "godirect",
			Name:      "optimizations_started_total",
			Help:      "Optimization jobs accepted.",
		}),
		finished: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "godirect",
			Name:      "optimizations_finished_total",
			Help:      "Optimization jobs that reached a terminal state, by job status.",
		}, []string{"status"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "godirect",
			Name:      "optimizations_running",
			Help:      "Optimization jobs currently holding a worker.",
		}),
		queued: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "godirect",
			Name:      "optimizations_queued",
			Help:      "Optimization jobs waiting for a worker.",
		}),
		evaluations: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "godirect",
			Name:      "optimization_evaluations",
			Help:      "Objective evaluations used per finished job.",
			Buckets:   prometheus.ExponentialBuckets(10, 3, 9),
		}),
		duration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: "godirect",
			Name:      "optimization_duration_seconds",
			Help:      "Wall time of finished jobs.",
			Buckets:   prometheus.DefBuckets,
		}),
	}
	reg.MustRegister(m.started, m.finished, m.running, m.queued, m.evaluations, m.duration)
	return m
}
