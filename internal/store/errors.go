// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

package store

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/tomtom215/tracklog/internal/logging"
)

// ErrStorageUnavailable marks transient infrastructure failures. A listen
// that hit it was not written and was not judged a duplicate.
var ErrStorageUnavailable = errors.New("storage unavailable")

// ErrClosed is returned by calls on a closed store.
var ErrClosed = errors.New("store closed")

// ErrUnknownBackend is returned by New for an unsupported backend name.
var ErrUnknownBackend = errors.New("unknown store backend")

// IsUnavailable reports whether err is a transient storage failure.
func IsUnavailable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}

// unavailable wraps a driver error. Context errors pass through unchanged
// so callers can tell cancellation from an outage.
func unavailable(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return fmt.Errorf("%s: %w", op, err)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

// isTransactionConflict checks if an error is a DuckDB transaction conflict
func isTransactionConflict(err error) bool {
	if err == nil {
		return false
	}
	errStr := err.Error()
	return strings.Contains(errStr, "Transaction conflict") ||
		strings.Contains(errStr, "Conflict on update")
}

func closeWithLog(closer io.Closer, resourceType string) {
	if closer == nil {
		return
	}
	if err := closer.Close(); err != nil {
		logging.Warn().Str("type", resourceType).Err(err).Msg("Failed to close resource")
	}
}

// closeQuietly is for error paths where a Close error is not actionable.
func closeQuietly(closer io.Closer) {
	if closer != nil {
		_ = closer.Close()
	}
}
