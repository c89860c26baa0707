package parity

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"go.opentelemetry.io/otel"
)

var (
	casesTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "parity_cases_total",
		Help: "Total number of cases run, by suite and verdict",
	}, []string{"suite", "verdict"})

	caseDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "parity_case_duration_seconds",
		Help:    "Time spent running one case, synthesis through comparison",
		Buckets: prometheus.ExponentialBuckets(0.0001, 4, 10),
	})

	referenceCacheHits = promauto.NewCounter(prometheus.CounterOpts{
		Name: "parity_reference_cache_hits_total",
		Help: "Total number of cases that reused cached reference outputs",
	})
)

var tracer = otel.Tracer("parity-harness")
