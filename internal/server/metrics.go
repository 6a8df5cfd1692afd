package server

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	solvesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "sqpkit",
		Subsystem: "server",
		Name:      "solves_total",
		Help:      "Solve requests by terminal status.",
	}, []string{"status"})

	solveDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Namespace: "sqpkit",
		Subsystem: "server",
		Name:      "solve_duration_seconds",
		Help:      "Wall-clock duration of completed solves.",
		Buckets:   prometheus.ExponentialBuckets(0.0001, 4, 10),
	})
)
