// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

package ingest

import (
	"errors"
	"fmt"
)

// ErrTooManyListens is returned when a submission exceeds the configured
// per-request maximum. Nothing is processed.
var ErrTooManyListens = errors.New("too many listens in one submission")

// ErrInvalidRange is returned for a query whose lower bound is above its upper bound.
var ErrInvalidRange = errors.New("min_ts must not be greater than max_ts")

// MalformedListenError reports one listen that cannot be fingerprinted.
// The rest of the batch is unaffected.
type MalformedListenError struct {
	Index  int
	Field  string
	Reason string
}

func (e *MalformedListenError) Error() string {
	if e.Field == "" {
		return fmt.Sprintf("listen %d: %s", e.Index, e.Reason)
	}
	return fmt.Sprintf("listen %d: %s: %s", e.Index, e.Field, e.Reason)
}
