package engine

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	exportsCreated = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portable_exports_created_total",
		Help: "Export packages accepted, by format.",
	}, []string{"format"})

	exportsFinished = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "portable_exports_finished_total",
		Help: "Export packages that reached a terminal status.",
	}, []string{"status"})

	exportsInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "portable_exports_in_flight",
		Help: "Export pipelines currently executing.",
	})

	stageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "portable_export_stage_duration_seconds",
		Help:    "Time spent in each export pipeline stage.",
		Buckets: prometheus.ExponentialBuckets(0.01, 4, 10),
	}, []string{"stage"})

	artifactBytes = promauto.NewCounter(prometheus.CounterOpts{
		Name: "portable_export_artifact_bytes_total",
		Help: "Bytes written to completed export artifacts.",
	})
)
