package metrics

import (
	"net/http"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	IngestionRuns = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plan_ingestion_runs_total",
			Help: "Ingestion runs by outcome",
		},
		[]string{"outcome"},
	)

	StageDuration = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "plan_ingestion_stage_duration_seconds",
			Help:    "Time spent per ingestion stage",
			Buckets: []float64{0.1, 0.5, 1, 5, 15, 60, 300},
		},
		[]string{"stage"},
	)

	DownloadAttempts = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "plan_download_attempts_total",
			Help: "Source download attempts by outcome",
		},
		[]string{"outcome"},
	)

	StatusWriteFailures = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "plan_status_write_failures_total",
			Help: "Processing status writes that failed",
		},
	)

	ChunksCreated = prometheus.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "plan_chunks_per_plan",
			Help:    "Chunks produced per ingestion",
			Buckets: []float64{1, 2, 5, 10, 25, 50, 100, 250},
		},
	)

	TakeoffBatches = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "takeoff_batches_total",
			Help: "Takeoff batch calls by outcome",
		},
		[]string{"mode", "outcome"},
	)

	TakeoffItems = prometheus.NewCounter(
		prometheus.CounterOpts{
			Name: "takeoff_items_total",
			Help: "Takeoff items returned after merge",
		},
	)

	LLMTokensUsed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "takeoff_llm_tokens_used",
			Help: "Total LLM tokens used",
		},
		[]string{"model", "type"},
	)
)

var initOnce sync.Once

// Init registers the collectors with the default registry.
func Init() {
	initOnce.Do(func() {
		prometheus.MustRegister(
			IngestionRuns,
			StageDuration,
			DownloadAttempts,
			StatusWriteFailures,
			ChunksCreated,
			TakeoffBatches,
			TakeoffItems,
			LLMTokensUsed,
		)
	})
}

func Handler() http.Handler {
	return promhttp.Handler()
}
