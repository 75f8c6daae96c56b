// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

/*
Package middleware holds the HTTP middleware shared by every Tracklog route.

  - RequestID: X-Request-ID propagation into the logging context
  - PrometheusMetrics: request counts, latency and in-flight gauge, labeled by
    chi route pattern so that user names never become label values
  - AccessLog: one structured log line per request

All middleware use the chi signature func(http.Handler) http.Handler.
*/
package middleware
