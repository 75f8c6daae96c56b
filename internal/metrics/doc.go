// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

/*
Package metrics defines the Prometheus collectors for Tracklog and small
Record helpers so callers never touch label values directly.

Metrics are registered on the default registry via promauto and exposed at
/metrics:

	curl http://localhost:8100/metrics

Ingestion:
  - tracklog_listens_total{status,layer}: per-listen outcomes. layer is the
    dedup layer that rejected a duplicate (batch, cache, store) or "none".
  - tracklog_submissions_total{result}, tracklog_submit_duration_seconds,
    tracklog_submit_batch_size

Cache:
  - tracklog_cache_probes_total{backend,result}: hit, miss, error. Errors are
    treated as misses by the pipeline.
  - tracklog_cache_registrations_total, tracklog_cache_entries,
    tracklog_cache_expired_total

Store:
  - tracklog_store_op_duration_seconds{backend,op}
  - tracklog_store_op_errors_total{backend,op,kind}
  - circuit_breaker_state{name}, circuit_breaker_state_transitions_total

HTTP and queue:
  - http_requests_total, http_request_duration_seconds, http_requests_in_flight
  - nats_messages_published_total, nats_messages_consumed_total{outcome},
    nats_processing_duration_seconds
*/
package metrics
