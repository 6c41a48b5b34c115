// Package metrics exposes Prometheus collectors for the documentation
// pipeline service.
package metrics

import (
	"net/http"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	pagesTotal           *prometheus.CounterVec
	jobsTotal            *prometheus.CounterVec
	llmCallsTotal        *prometheus.CounterVec
	fetchDurationSeconds prometheus.Histogram
	activeWorkers        prometheus.Gauge

	once sync.Once
)

// Init registers the collectors. Safe to call multiple times.
func Init() {
	once.Do(func() {
		pagesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docpipe_pages_total",
				Help: "Documentation pages processed, labeled by outcome.",
			},
			[]string{"outcome"},
		)
		jobsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docpipe_jobs_total",
				Help: "Jobs finished, labeled by terminal status.",
			},
			[]string{"status"},
		)
		llmCallsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "docpipe_llm_calls_total",
				Help: "Language model calls, labeled by operation and outcome.",
			},
			[]string{"operation", "outcome"},
		)
		fetchDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "docpipe_fetch_duration_seconds",
				Help:    "Histogram of page fetch latencies.",
				Buckets: []float64{0.1, 0.25, 0.5, 1, 2, 5, 10, 30},
			},
		)
		activeWorkers = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "docpipe_active_workers",
				Help: "Workers currently processing a job.",
			},
		)
	})
}

// Handler returns the Prometheus scrape handler.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObservePage increments the page counter for the given outcome.
func ObservePage(outcome string) {
	if pagesTotal != nil {
		pagesTotal.WithLabelValues(outcome).Inc()
	}
}

// ObserveJob increments the job counter for the given terminal status.
func ObserveJob(status string) {
	if jobsTotal != nil {
		jobsTotal.WithLabelValues(status).Inc()
	}
}

// ObserveLLMCall increments the model-call counter.
func ObserveLLMCall(operation, outcome string) {
	if llmCallsTotal != nil {
		llmCallsTotal.WithLabelValues(operation, outcome).Inc()
	}
}

// ObserveFetchDuration records one page fetch latency.
func ObserveFetchDuration(d time.Duration) {
	if fetchDurationSeconds != nil {
		fetchDurationSeconds.Observe(d.Seconds())
	}
}

// IncActiveWorkers increments the active workers gauge.
func IncActiveWorkers() {
	if activeWorkers != nil {
		activeWorkers.Inc()
	}
}

// DecActiveWorkers decrements the active workers gauge.
func DecActiveWorkers() {
	if activeWorkers != nil {
		activeWorkers.Dec()
	}
}
