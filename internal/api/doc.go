// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

/*
Package api serves the ListenBrainz-compatible HTTP surface of Tracklog.

Routes:

	POST /1/submit-listens             submit a batch (Authorization: Token <token>)
	GET  /1/user/{user}/listens        newest-first history (max_ts, min_ts, count)
	GET  /1/user/{user}/listen-count   stored listen count
	GET  /health/live                  liveness
	GET  /health/ready                 durable store reachability
	GET  /metrics                      Prometheus exposition

Submit status codes:

	200  every listen accepted, duplicate or queued
	400  invalid body, or at least one malformed listen (outcomes still returned)
	401  missing or unknown token
	413  body larger than server.max_body_bytes
	503  durable store or queue unavailable (outcomes so far still returned)

Every JSON response uses the models.APIResponse envelope.
*/
package api
