// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

package api

import (
	"context"
	"net/http"
	"time"

	"github.com/tomtom215/tracklog/internal/logging"
)

// readyTimeout bounds the readiness probe's store ping.
const readyTimeout = 2 * time.Second

// HealthStatus is the body of the health endpoints.
type HealthStatus struct {
	Status string `json:"status"`
	Store  string `json:"store,omitempty"`
}

// HealthLive always succeeds while the process serves HTTP.
func (h *Handler) HealthLive(w http.ResponseWriter, r *http.Request) {
	respondSuccess(w, r, HealthStatus{Status: "alive"}, time.Now())
}

// HealthReady reports whether the durable store answers.
func (h *Handler) HealthReady(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	if h.store == nil {
		respondSuccess(w, r, HealthStatus{Status: "ready"}, start)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), readyTimeout)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		logging.Ctx(r.Context()).Warn().Err(err).Msg("Readiness check failed")
		respondError(w, r, http.StatusServiceUnavailable, ErrCodeStorageUnavailable, "listen storage is unavailable",
			HealthStatus{Status: "not_ready", Store: "unavailable"}, nil)
		return
	}
	respondSuccess(w, r, HealthStatus{Status: "ready", Store: "ok"}, start)
}
