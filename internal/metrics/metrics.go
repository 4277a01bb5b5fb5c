// Package metrics exposes Prometheus collectors for the listing publisher.
package metrics

import (
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

var (
	queueLength                prometheus.Gauge
	submissionsTotal           *prometheus.CounterVec
	sessionValidationsTotal    *prometheus.CounterVec
	workerState                *prometheus.GaugeVec
	listingUpsertsTotal        *prometheus.CounterVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec
	pacingDelaySeconds         *prometheus.HistogramVec
	submitDurationSeconds      prometheus.Histogram

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		queueLength = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "publisher_queue_length",
				Help: "Number of listings waiting in the posting queue.",
			},
		)

		submissionsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "publisher_submissions_total",
				Help: "Total number of marketplace submissions, labeled by outcome.",
			},
			[]string{"outcome"},
		)

		sessionValidationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "publisher_session_validations_total",
				Help: "Total number of live session validations, labeled by result.",
			},
			[]string{"result"},
		)

		workerState = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "publisher_worker_state",
				Help: "Current publish worker state; the active state is set to 1.",
			},
			[]string{"state"},
		)

		listingUpsertsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "publisher_listing_upserts_total",
				Help: "Total number of listing upserts, labeled by result.",
			},
			[]string{"result"},
		)

		httpRequestsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests, labeled by method and code.",
			},
			[]string{"method", "code"},
		)

		httpRequestDurationSeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Histogram of HTTP request latencies, labeled by method and route.",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1, 2, 5},
			},
			[]string{"method", "route"},
		)

		pacingDelaySeconds = promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "publisher_pacing_delay_seconds",
				Help:    "Histogram of submission pacing waits.",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60},
			},
			[]string{"site"},
		)

		submitDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "publisher_submit_duration_seconds",
				Help:    "Histogram of browser submission durations.",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
		)
	})
}

// SanitizeSite sanitizes a URL to extract a lowercase hostname.
// It returns "unknown" if the URL is invalid.
func SanitizeSite(rawURL string) string {
	if !strings.HasPrefix(rawURL, "http") {
		rawURL = "http://" + rawURL
	}
	u, err := url.Parse(rawURL)
	if err != nil || u.Hostname() == "" {
		return "unknown"
	}
	return strings.ToLower(u.Hostname())
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	Init()
	return promhttp.Handler()
}

// SetQueueLength records the current posting queue length.
func SetQueueLength(n int) {
	Init()
	queueLength.Set(float64(n))
}

// ObserveSubmission increments the submission counter for an outcome
// (posted, retry, error, session_invalid).
func ObserveSubmission(outcome string, duration time.Duration) {
	Init()
	submissionsTotal.WithLabelValues(outcome).Inc()
	if duration > 0 {
		submitDurationSeconds.Observe(duration.Seconds())
	}
}

// ObserveSessionValidation counts a live session probe by result (valid, invalid).
func ObserveSessionValidation(valid bool) {
	Init()
	result := "invalid"
	if valid {
		result = "valid"
	}
	sessionValidationsTotal.WithLabelValues(result).Inc()
}

// SetWorkerState marks state as the active worker state.
func SetWorkerState(state string) {
	Init()
	workerState.Reset()
	workerState.WithLabelValues(state).Set(1)
}

// ObserveUpsert counts a listing upsert as created or merged.
func ObserveUpsert(created bool) {
	Init()
	result := "merged"
	if created {
		result = "created"
	}
	listingUpsertsTotal.WithLabelValues(result).Inc()
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	Init()
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}

// ObservePacingDelay records the duration of a submission pacing wait.
func ObservePacingDelay(site string, duration time.Duration) {
	Init()
	pacingDelaySeconds.WithLabelValues(SanitizeSite(site)).Observe(duration.Seconds())
}
