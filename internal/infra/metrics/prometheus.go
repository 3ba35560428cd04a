package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	JobsProcessedTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framecast_jobs_processed_total",
		Help: "Total number of compilation jobs processed, by outcome",
	}, []string{"outcome"})

	CompilationStageDuration = promauto.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "framecast_compilation_stage_duration_seconds",
		Help:    "Duration of the compilation pipeline stages",
		Buckets: []float64{0.5, 1, 5, 10, 30, 60, 120, 300, 600},
	}, []string{"stage"})

	FramesRecordedTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "framecast_frames_recorded_total",
		Help: "Total number of frames recorded on the ledger",
	})

	DispatchTotal = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "framecast_dispatch_total",
		Help: "Completion-crossing dispatch attempts, by outcome (won/lost)",
	}, []string{"outcome"})

	ActiveWorkers = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "framecast_active_workers",
		Help: "Number of workers currently compiling a video",
	})

	RetriesTotal = promauto.NewCounter(prometheus.CounterOpts{
		Name: "framecast_retries_total",
		Help: "Total number of operator-triggered retries accepted",
	})
)
