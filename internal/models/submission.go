// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

package models

import (
	"fmt"

	"github.com/goccy/go-json"
)

// Listen types accepted by the submit endpoint.
const (
	ListenTypeSingle = "single"
	ListenTypeImport = "import"
)

// Submission is the body of POST /1/submit-listens.
//
//	{
//	  "listen_type": "single",
//	  "payload": [
//	    {"listened_at": 1443521965,
//	     "track_metadata": {"artist_name": "Rick Astley", "track_name": "Never Gonna Give You Up",
//	                        "additional_info": {"recording_mbid": "..."}}}
//	  ]
//	}
//
// Payload items stay raw so that malformed items can be reported per listen
// while the rest of the batch is still processed.
type Submission struct {
	ListenType string            `json:"listen_type" validate:"required,oneof=single import"`
	Payload    []json.RawMessage `json:"payload" validate:"required,min=1"`
}

// TrackMetadata identifies what was played.
type TrackMetadata struct {
	ArtistName     string         `json:"artist_name" validate:"required,max=1024"`
	TrackName      string         `json:"track_name" validate:"required,max=1024"`
	ReleaseName    string         `json:"release_name,omitempty" validate:"max=1024"`
	AdditionalInfo map[string]any `json:"additional_info,omitempty"`
}

// StringInfo returns additional_info[key] when it is a non-empty string.
func (m *TrackMetadata) StringInfo(key string) string {
	if m == nil || m.AdditionalInfo == nil {
		return ""
	}
	if s, ok := m.AdditionalInfo[key].(string); ok {
		return s
	}
	return ""
}

// ListenInput is one decoded payload item. Raw holds the original bytes,
// which are stored unchanged as the listen payload.
type ListenInput struct {
	ListenedAt    *int64          `json:"listened_at" validate:"required,gte=0"`
	TrackMetadata *TrackMetadata  `json:"track_metadata" validate:"required"`
	Raw           json.RawMessage `json:"-"`
}

// DecodeListenInput parses one payload item, keeping its raw bytes.
func DecodeListenInput(raw json.RawMessage) (ListenInput, error) {
	var in ListenInput
	if err := json.Unmarshal(raw, &in); err != nil {
		return ListenInput{Raw: raw}, fmt.Errorf("invalid listen JSON: %w", err)
	}
	in.Raw = raw
	return in, nil
}

// NewListenInput builds an input from typed fields, rendering Raw as JSON.
// Used by tests and internal producers that do not start from HTTP bodies.
func NewListenInput(listenedAt int64, meta TrackMetadata) ListenInput {
	in := ListenInput{ListenedAt: &listenedAt, TrackMetadata: &meta}
	if raw, err := json.Marshal(in); err == nil {
		in.Raw = raw
	}
	return in
}
