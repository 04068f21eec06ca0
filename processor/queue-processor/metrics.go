package queueprocessor

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	capturesProcessed = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "substrate",
		Subsystem: "queue",
		Name:      "captures_processed_total",
		Help:      "Captures that completed the full pipeline.",
	})

	stageFailures = promauto.NewCounterVec(prometheus.CounterOpts{
		Namespace: "substrate",
		Subsystem: "queue",
		Name:      "stage_failures_total",
		Help:      "Stage invocation failures by stage name.",
	}, []string{"stage"})

	deadLetters = promauto.NewCounter(prometheus.CounterOpts{
		Namespace: "substrate",
		Subsystem: "queue",
		Name:      "dead_letters_total",
		Help:      "Captures whose retry budget was exhausted.",
	})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Namespace: "substrate",
		Subsystem: "queue",
		Name:      "stage_duration_seconds",
		Help:      "Stage invocation latency by stage name.",
		Buckets:   prometheus.ExponentialBuckets(0.1, 2, 12),
	}, []string{"stage"})
)
