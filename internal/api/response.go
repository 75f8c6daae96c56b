// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

package api

import (
	"net/http"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tracklog/internal/logging"
	"github.com/tomtom215/tracklog/internal/models"
)

// Error codes.
const (
	ErrCodeBadRequest         = "BAD_REQUEST"
	ErrCodeInvalidJSON        = "INVALID_JSON"
	ErrCodeValidation         = "VALIDATION_ERROR"
	ErrCodeMalformedListens   = "MALFORMED_LISTENS"
	ErrCodeTooManyListens     = "TOO_MANY_LISTENS"
	ErrCodePayloadTooLarge    = "PAYLOAD_TOO_LARGE"
	ErrCodeUnauthorized       = "UNAUTHORIZED"
	ErrCodeStorageUnavailable = "STORAGE_UNAVAILABLE"
	ErrCodeQueueUnavailable   = "QUEUE_UNAVAILABLE"
	ErrCodeInternal           = "INTERNAL_ERROR"
)

func respondJSON(w http.ResponseWriter, r *http.Request, status int, resp *models.APIResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		logging.Ctx(r.Context()).Error().Err(err).Msg("Failed to encode JSON response")
	}
}

func respondSuccess(w http.ResponseWriter, r *http.Request, data interface{}, start time.Time) {
	respondJSON(w, r, http.StatusOK, &models.APIResponse{
		Status:   "success",
		Data:     data,
		Metadata: metadata(start),
	})
}

// respondError writes an error envelope. data may carry partial results,
// such as per-listen outcomes of a failed submission.
func respondError(w http.ResponseWriter, r *http.Request, status int, code, message string, data interface{}, details map[string]interface{}) {
	respondJSON(w, r, status, &models.APIResponse{
		Status:   "error",
		Data:     data,
		Metadata: metadata(time.Time{}),
		Error:    &models.APIError{Code: code, Message: message, Details: details},
	})
}

func metadata(start time.Time) models.Metadata {
	m := models.Metadata{Timestamp: time.Now().UTC()}
	if !start.IsZero() {
		m.QueryTimeMS = time.Since(start).Milliseconds()
	}
	return m
}
