package pipeline

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	jobsProcessed = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "pipeline_jobs_processed_total",
		Help: "Jobs finished by this worker, by outcome",
	}, []string{"outcome"})

	activeJobs = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_active_jobs",
		Help: "Jobs currently processing on this worker",
	})

	transcodeDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "pipeline_transcode_duration_seconds",
		Help:    "Time spent decoding and resizing one source image",
		Buckets: prometheus.ExponentialBuckets(0.01, 2, 12),
	})

	queueDepth = promauto.NewGaugeVec(prometheus.GaugeOpts{
		Name: "pipeline_queue_depth",
		Help: "Jobs in the registry by status",
	}, []string{"status"})

	breakerOpenGauge = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "pipeline_registry_breaker_open",
		Help: "1 while the registry circuit breaker is open",
	})

	reconcileRepaired = promauto.NewCounter(prometheus.CounterOpts{
		Name: "pipeline_reconcile_repaired_total",
		Help: "Assets repaired from storage contents by the reconciler",
	})
)
