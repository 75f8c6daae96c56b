// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

package models

import "time"

// APIResponse is the envelope for every JSON response.
//
//	{"status": "success", "data": {...}, "metadata": {"timestamp": "...", "query_time_ms": 3}}
//	{"status": "error", "error": {"code": "STORAGE_UNAVAILABLE", "message": "..."}, "metadata": {...}}
type APIResponse struct {
	Status   string      `json:"status"`
	Data     interface{} `json:"data"`
	Metadata Metadata    `json:"metadata"`
	Error    *APIError   `json:"error,omitempty"`
}

// Metadata carries response timing.
type Metadata struct {
	Timestamp   time.Time `json:"timestamp"`
	QueryTimeMS int64     `json:"query_time_ms,omitempty"`
}

// APIError describes a failed request.
type APIError struct {
	Code    string                 `json:"code"`
	Message string                 `json:"message"`
	Details map[string]interface{} `json:"details,omitempty"`
}

// SubmitResponse is the data of a submit-listens response.
type SubmitResponse struct {
	UserKey  string        `json:"user_key"`
	Summary  SubmitSummary `json:"summary"`
	Outcomes []Outcome     `json:"outcomes,omitempty"`
	// Queued is true when the batch was handed to the queue writer and
	// per-listen outcomes are not yet known.
	Queued bool `json:"queued,omitempty"`
}

// ListenView is a stored listen as returned by the fetch endpoint.
type ListenView struct {
	UserName      string      `json:"user_name"`
	ListenedAt    int64       `json:"listened_at"`
	InsertedAt    int64       `json:"inserted_at"`
	TrackIdentity string      `json:"track_identity"`
	Listen        interface{} `json:"listen"`
}

// ListensResponse is the data of a fetch-listens response.
type ListensResponse struct {
	UserName string       `json:"user_name"`
	Count    int          `json:"count"`
	LatestTS int64        `json:"latest_listen_ts,omitempty"`
	Listens  []ListenView `json:"listens"`
}

// ListenCountResponse is the data of a listen-count response.
type ListenCountResponse struct {
	UserName string `json:"user_name"`
	Count    int64  `json:"count"`
}
