// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

package metrics

import (
	"context"
	"errors"
	"runtime"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Ingestion Metrics
	ListensTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracklog_listens_total",
			Help: "Listens processed by the ingestion pipeline",
		},
		[]string{"status", "layer"}, // status: accepted, duplicate, malformed, not_processed
	)

	SubmissionsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracklog_submissions_total",
			Help: "Submit calls by result",
		},
		[]string{"result"}, // ok, partial, unavailable, canceled
	)

	SubmitDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tracklog_submit_duration_seconds",
			Help:    "Duration of one submit call",
			Buckets: prometheus.DefBuckets,
		},
	)

	SubmitBatchSize = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "tracklog_submit_batch_size",
			Help:    "Listens per submit call",
			Buckets: []float64{1, 2, 5, 10, 50, 100, 500, 1000},
		},
	)

	// Recent-Write Cache Metrics
	CacheProbes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracklog_cache_probes_total",
			Help: "Recent-write cache probes by result",
		},
		[]string{"backend", "result"}, // hit, miss, error
	)

	CacheRegistrations = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracklog_cache_registrations_total",
			Help: "Recent-write cache registrations by result",
		},
		[]string{"backend", "result"}, // ok, error
	)

	CacheEntries = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "tracklog_cache_entries",
			Help: "Current number of bucket entries in the in-process cache",
		},
	)

	CacheExpired = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "tracklog_cache_expired_total",
			Help: "Cache entries removed by the janitor",
		},
	)

	// Store Metrics
	StoreOpDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "tracklog_store_op_duration_seconds",
			Help:    "Duration of durable store operations",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"backend", "op"},
	)

	StoreOpErrors = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracklog_store_op_errors_total",
			Help: "Durable store operation errors",
		},
		[]string{"backend", "op", "kind"}, // canceled, timeout, error
	)

	StoreMaintenance = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "tracklog_store_maintenance_total",
			Help: "Store housekeeping runs by result",
		},
		[]string{"result"},
	)

	// Circuit Breaker Metrics
	CircuitBreakerState = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "circuit_breaker_state",
			Help: "Circuit breaker state (0=closed, 1=half-open, 2=open)",
		},
		[]string{"name"},
	)

	CircuitBreakerTransitions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "circuit_breaker_state_transitions_total",
			Help: "Total number of circuit breaker state transitions",
		},
		[]string{"name", "to_state"},
	)

	// API Metrics
	APIRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	APIRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "http_request_duration_seconds",
			Help:    "HTTP request latency in seconds",
			Buckets: []float64{.001, .005, .01, .05, .1, .5, 1, 5, 10},
		},
		[]string{"method", "endpoint"},
	)

	APIActiveRequests = promauto.NewGauge(
		prometheus.GaugeOpts{
			Name: "http_requests_in_flight",
			Help: "Current number of in-flight HTTP requests",
		},
	)

	// NATS Queue Metrics
	NATSMessagesPublished = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "nats_messages_published_total",
			Help: "Total number of submissions published to NATS",
		},
	)

	NATSMessagesConsumed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "nats_messages_consumed_total",
			Help: "Messages consumed from NATS by outcome",
		},
		[]string{"outcome"}, // acked, nacked, dropped
	)

	NATSProcessingDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "nats_processing_duration_seconds",
			Help:    "Duration of NATS message processing in seconds",
			Buckets: prometheus.DefBuckets,
		},
	)

	// System Metrics
	AppInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "app_info",
			Help: "Application version and build information",
		},
		[]string{"version", "go_version"},
	)
)

// RecordListen counts one per-listen outcome.
func RecordListen(status, layer string) {
	if layer == "" {
		layer = "none"
	}
	ListensTotal.WithLabelValues(status, layer).Inc()
}

// RecordSubmission records a finished submit call.
func RecordSubmission(result string, batchSize int, duration time.Duration) {
	SubmissionsTotal.WithLabelValues(result).Inc()
	SubmitBatchSize.Observe(float64(batchSize))
	SubmitDuration.Observe(duration.Seconds())
}

// RecordCacheProbe records a cache probe. err wins over hit.
func RecordCacheProbe(backend string, hit bool, err error) {
	result := "miss"
	switch {
	case err != nil:
		result = "error"
	case hit:
		result = "hit"
	}
	CacheProbes.WithLabelValues(backend, result).Inc()
}

// RecordCacheRegistration records a cache registration.
func RecordCacheRegistration(backend string, err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	CacheRegistrations.WithLabelValues(backend, result).Inc()
}

// RecordCacheJanitor records one janitor pass over the in-process cache.
func RecordCacheJanitor(expired, size int) {
	CacheExpired.Add(float64(expired))
	CacheEntries.Set(float64(size))
}

// ObserveStoreOp records a store call.
func ObserveStoreOp(backend, op string, duration time.Duration, err error) {
	StoreOpDuration.WithLabelValues(backend, op).Observe(duration.Seconds())
	if err != nil {
		StoreOpErrors.WithLabelValues(backend, op, errorKind(err)).Inc()
	}
}

// RecordStoreMaintenance records one housekeeping run.
func RecordStoreMaintenance(err error) {
	result := "ok"
	if err != nil {
		result = "error"
	}
	StoreMaintenance.WithLabelValues(result).Inc()
}

// SetBreakerState records a breaker state change. The state follows
// gobreaker's numbering: 0 closed, 1 half-open, 2 open.
func SetBreakerState(name string, state int) {
	CircuitBreakerState.WithLabelValues(name).Set(float64(state))
	CircuitBreakerTransitions.WithLabelValues(name, breakerStateName(state)).Inc()
}

func breakerStateName(state int) string {
	switch state {
	case 0:
		return "closed"
	case 1:
		return "half-open"
	case 2:
		return "open"
	default:
		return "unknown"
	}
}

// RecordAPIRequest records an API request metric
func RecordAPIRequest(method, endpoint, statusCode string, duration time.Duration) {
	APIRequestsTotal.WithLabelValues(method, endpoint, statusCode).Inc()
	APIRequestDuration.WithLabelValues(method, endpoint).Observe(duration.Seconds())
}

// TrackActiveRequest tracks active API requests
func TrackActiveRequest(inc bool) {
	if inc {
		APIActiveRequests.Inc()
	} else {
		APIActiveRequests.Dec()
	}
}

// RecordNATSPublish records a submission published to NATS
func RecordNATSPublish() {
	NATSMessagesPublished.Inc()
}

// RecordNATSConsume records a consumed message and how it was settled.
func RecordNATSConsume(outcome string, duration time.Duration) {
	NATSMessagesConsumed.WithLabelValues(outcome).Inc()
	NATSProcessingDuration.Observe(duration.Seconds())
}

// SetAppInfo publishes the build version.
func SetAppInfo(version string) {
	AppInfo.WithLabelValues(version, runtime.Version()).Set(1)
}

func errorKind(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return "canceled"
	case errors.Is(err, context.DeadlineExceeded):
		return "timeout"
	default:
		return "error"
	}
}
