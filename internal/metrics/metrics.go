// Package metrics exposes Prometheus collectors for the watcher service.
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
	cyclesTotal                *prometheus.CounterVec
	cycleDurationSeconds       prometheus.Histogram
	sourceFetchesTotal         *prometheus.CounterVec
	sourceListingsTotal        *prometheus.CounterVec
	validationDropsTotal       *prometheus.CounterVec
	notificationsTotal         *prometheus.CounterVec
	dedupRecords               prometheus.Gauge
	sourceFailureStreak        *prometheus.GaugeVec
	httpRequestsTotal          *prometheus.CounterVec
	httpRequestDurationSeconds *prometheus.HistogramVec

	once sync.Once
)

// Init initializes the Prometheus metrics collectors.
// It is safe to call this function multiple times.
func Init() {
	once.Do(func() {
		cyclesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticketwatch_cycles_total",
				Help: "Total number of crawl cycles, labeled by status.",
			},
			[]string{"status"},
		)

		cycleDurationSeconds = promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "ticketwatch_cycle_duration_seconds",
				Help:    "Histogram of full crawl cycle durations.",
				Buckets: []float64{1, 5, 10, 30, 60, 120, 300},
			},
		)

		sourceFetchesTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticketwatch_source_fetches_total",
				Help: "Total number of source fetch attempts, labeled by source and status.",
			},
			[]string{"source", "status"},
		)

		sourceListingsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticketwatch_source_listings_total",
				Help: "Total number of raw listings collected, labeled by source.",
			},
			[]string{"source"},
		)

		validationDropsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticketwatch_validation_drops_total",
				Help: "Total number of listings dropped during normalization, labeled by source and reason.",
			},
			[]string{"source", "reason"},
		)

		notificationsTotal = promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "ticketwatch_notifications_total",
				Help: "Total number of notification attempts, labeled by status.",
			},
			[]string{"status"},
		)

		dedupRecords = promauto.NewGauge(
			prometheus.GaugeOpts{
				Name: "ticketwatch_dedup_records",
				Help: "Number of records currently held in the dedup store.",
			},
		)

		sourceFailureStreak = promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "ticketwatch_source_failure_streak",
				Help: "Consecutive failed cycles per source.",
			},
			[]string{"source"},
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
	})
}

// Handler returns an http.Handler for exposing Prometheus metrics.
func Handler() http.Handler {
	return promhttp.Handler()
}

// ObserveCycle records the outcome and duration of a full crawl cycle.
func ObserveCycle(status string, duration time.Duration) {
	cyclesTotal.WithLabelValues(status).Inc()
	cycleDurationSeconds.Observe(duration.Seconds())
}

// ObserveSourceFetch increments the fetch counter for one source attempt.
func ObserveSourceFetch(source, status string, listings int) {
	sourceFetchesTotal.WithLabelValues(source, status).Inc()
	if listings > 0 {
		sourceListingsTotal.WithLabelValues(source).Add(float64(listings))
	}
}

// ObserveValidationDrop counts a listing rejected during normalization.
func ObserveValidationDrop(source, reason string) {
	validationDropsTotal.WithLabelValues(source, reason).Inc()
}

// ObserveNotification counts one notification attempt by outcome.
func ObserveNotification(status string) {
	notificationsTotal.WithLabelValues(status).Inc()
}

// SetDedupRecords updates the dedup store size gauge.
func SetDedupRecords(n int) {
	dedupRecords.Set(float64(n))
}

// SetFailureStreak updates the consecutive failure gauge for a source.
func SetFailureStreak(source string, n int) {
	sourceFailureStreak.WithLabelValues(source).Set(float64(n))
}

// ObserveHTTPRequest increments the HTTP request metrics.
func ObserveHTTPRequest(method, route string, code int, duration time.Duration) {
	httpRequestsTotal.WithLabelValues(method, strconv.Itoa(code)).Inc()
	httpRequestDurationSeconds.WithLabelValues(method, route).Observe(duration.Seconds())
}
