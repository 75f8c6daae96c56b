// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

// Package models defines the listen records, submission payloads and API
// envelopes shared across Tracklog packages.
package models

import (
	"time"

	"github.com/goccy/go-json"
	"github.com/google/uuid"
)

// Listen is one accepted play event. It is immutable once stored.
//
// UserKey is always the canonical partition key, never the raw identity.
// Payload is the submitted listen object, byte for byte.
type Listen struct {
	ID            uuid.UUID       `json:"id"`
	UserKey       string          `json:"user_key"`
	TrackIdentity string          `json:"track_identity"`
	Timestamp     int64           `json:"listened_at"`
	Payload       json.RawMessage `json:"payload"`
	InsertedAt    time.Time       `json:"inserted_at"`
}

// ListenStatus is the per-listen result of a submission.
type ListenStatus string

const (
	StatusAccepted  ListenStatus = "accepted"
	StatusDuplicate ListenStatus = "duplicate"
	StatusMalformed ListenStatus = "malformed"
	// StatusNotProcessed marks listens after a storage failure stopped the batch.
	StatusNotProcessed ListenStatus = "not_processed"
	// StatusQueued marks valid listens handed to the queue writer.
	StatusQueued ListenStatus = "queued"
)

// DedupLayer names the stage that recognised a duplicate.
type DedupLayer string

const (
	LayerNone  DedupLayer = ""
	LayerBatch DedupLayer = "batch"
	LayerCache DedupLayer = "cache"
	LayerStore DedupLayer = "store"
)

// Outcome reports what happened to one listen of a submission.
type Outcome struct {
	Index         int          `json:"index"`
	Status        ListenStatus `json:"status"`
	Layer         DedupLayer   `json:"layer,omitempty"`
	TrackIdentity string       `json:"track_identity,omitempty"`
	Timestamp     int64        `json:"listened_at,omitempty"`
	// MatchedTimestamp is the stored (or earlier in-batch) timestamp a
	// duplicate was matched against, when known.
	MatchedTimestamp *int64 `json:"matched_timestamp,omitempty"`
	Error            string `json:"error,omitempty"`
}

// SubmitSummary counts outcomes by status.
type SubmitSummary struct {
	Accepted     int `json:"accepted"`
	Duplicate    int `json:"duplicate"`
	Malformed    int `json:"malformed"`
	NotProcessed int `json:"not_processed"`
	Queued       int `json:"queued,omitempty"`
}

// Summarize tallies outcomes.
func Summarize(outcomes []Outcome) SubmitSummary {
	var s SubmitSummary
	for i := range outcomes {
		switch outcomes[i].Status {
		case StatusAccepted:
			s.Accepted++
		case StatusDuplicate:
			s.Duplicate++
		case StatusMalformed:
			s.Malformed++
		case StatusNotProcessed:
			s.NotProcessed++
		case StatusQueued:
			s.Queued++
		}
	}
	return s
}
