// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

/*
Package queue decouples HTTP ingestion from the listen writer with NATS
JetStream, via Watermill.

In queue mode the API publishes each authenticated submission as one
message and answers immediately. A Writer consumes the stream and runs the
ingestion pipeline. Messages are settled as follows:

  - processed (including duplicates and malformed listens): Ack
  - storage unavailable or canceled: Nack, JetStream redelivers
  - undecodable message: Ack and drop, it can never succeed

Redelivery is safe because the pipeline is idempotent: listens written
before an outage come back as duplicates.
*/
package queue

import (
	"errors"
	"fmt"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tracklog/internal/models"
)

// ErrInvalidMessage marks a message that can never be processed.
var ErrInvalidMessage = errors.New("invalid submission message")

// SubmissionMessage is the queued form of one submit request.
type SubmissionMessage struct {
	// UserIdentity is the raw, uncanonicalized identity the token resolved to.
	UserIdentity  string            `json:"user_identity"`
	ListenType    string            `json:"listen_type"`
	Listens       []json.RawMessage `json:"listens"`
	ReceivedAt    time.Time         `json:"received_at"`
	CorrelationID string            `json:"correlation_id,omitempty"`
}

// Encode serializes m.
func (m *SubmissionMessage) Encode() ([]byte, error) {
	return json.Marshal(m)
}

// DecodeSubmission parses a message payload.
func DecodeSubmission(data []byte) (*SubmissionMessage, error) {
	var m SubmissionMessage
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("%w: %w", ErrInvalidMessage, err)
	}
	if m.UserIdentity == "" {
		return nil, fmt.Errorf("%w: missing user identity", ErrInvalidMessage)
	}
	return &m, nil
}

// Inputs decodes the queued listens. Items that fail to decode keep their
// raw bytes and fail validation in the pipeline, which reports them as
// malformed.
func (m *SubmissionMessage) Inputs() []models.ListenInput {
	inputs := make([]models.ListenInput, len(m.Listens))
	for i, raw := range m.Listens {
		in, _ := models.DecodeListenInput(raw)
		inputs[i] = in
	}
	return inputs
}
