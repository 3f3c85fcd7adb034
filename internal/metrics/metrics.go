// Package metrics exposes Prometheus collectors for the miner service.
package metrics

import (
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	minerFetchesTotal          *prometheus.CounterVec
	minerArtifactsSavedTotal   *prometheus.CounterVec
	minerDuplicatesTotal       prometheus.Counter
	minerEnrichFallbackTotal   *prometheus.CounterVec
	minerPassesTotal           prometheus.Counter
	minerPhase                 *prometheus.GaugeVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Phases tracked by the miner_phase gauge.
var phases = []string{"Idle", "Starting", "Running", "CoolingDown"}

// Init initializes the Prometheus collectors. Safe to call repeatedly.
func Init() {
	once.Do(func() {
		minerFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "miner_fetches_total",
				Help: "Total outbound fetches, labeled by status class.",
			},
			[]string{"status_class"},
		)

		minerArtifactsSavedTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "miner_artifacts_saved_total",
				Help: "Total artifact records persisted, labeled by source kind.",
			},
			[]string{"kind"},
		)

		minerDuplicatesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "miner_duplicates_skipped_total",
				Help: "Total candidates skipped because a record already existed.",
			},
		)

		minerEnrichFallbackTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "miner_enrich_fallback_total",
				Help: "Total enrichment calls that exhausted every endpoint, labeled by mode.",
			},
			[]string{"mode"},
		)

		minerPassesTotal = promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "miner_passes_total",
				Help: "Total completed passes over the source list.",
			},
		)

		minerPhase = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "miner_phase",
				Help: "Current orchestrator phase (1 for the active phase).",
			},
			[]string{"phase"},
		)
		SetPhase("Idle")

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total HTTP requests served, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of served request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)
	})
}

// StatusClass groups HTTP status codes for the fetch counter.
func StatusClass(code int) string {
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "other"
	}
}

// Handler returns an http.Handler exposing the Prometheus registry.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveFetch increments the fetch counter for the given status class.
func ObserveFetch(statusClass string) {
	if minerFetchesTotal == nil {
		return
	}
	minerFetchesTotal.WithLabelValues(statusClass).Inc()
}

// ObserveArtifactSaved increments the saved-records counter.
func ObserveArtifactSaved(kind string) {
	if minerArtifactsSavedTotal == nil {
		return
	}
	minerArtifactsSavedTotal.WithLabelValues(kind).Inc()
}

// ObserveDuplicateSkipped increments the duplicate-skip counter.
func ObserveDuplicateSkipped() {
	if minerDuplicatesTotal == nil {
		return
	}
	minerDuplicatesTotal.Inc()
}

// ObserveEnrichFallback increments the all-endpoints-failed counter.
func ObserveEnrichFallback(mode string) {
	if minerEnrichFallbackTotal == nil {
		return
	}
	minerEnrichFallbackTotal.WithLabelValues(mode).Inc()
}

// ObservePass increments the completed-pass counter.
func ObservePass() {
	if minerPassesTotal == nil {
		return
	}
	minerPassesTotal.Inc()
}

// SetPhase marks one phase active on the phase gauge and clears the rest.
func SetPhase(phase string) {
	if minerPhase == nil {
		return
	}
	for _, p := range phases {
		val := 0.0
		if p == phase {
			val = 1.0
		}
		minerPhase.WithLabelValues(p).Set(val)
	}
}

// ObserveHTTPRequest records a served HTTP request.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	if httpRequestsTotal == nil {
		return
	}
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
