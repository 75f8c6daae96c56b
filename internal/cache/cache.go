// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

// Package cache implements the recent-write cache: a short-lived index of
// listens that were durably written a moment ago.
//
// A probe hit is proof of a duplicate. A miss proves nothing; the caller must
// still ask the durable store. Entries are registered only after the store
// accepted the listen, and expire after a TTL that should cover the longest
// client retry window.
package cache

import (
	"context"

	"github.com/tomtom215/tracklog/internal/fingerprint"
)

// RecentWrites is the recent-write cache contract.
type RecentWrites interface {
	// Probe reports whether a listen matching fp (same user and track,
	// timestamp within tolerance) was registered and has not expired.
	Probe(ctx context.Context, fp fingerprint.Fingerprint) (bool, error)

	// Register records a durably written listen.
	Register(ctx context.Context, fp fingerprint.Fingerprint) error

	// Name identifies the backend in logs and metrics.
	Name() string

	Close() error
}

// Cleaner is implemented by caches that need periodic expiry sweeps.
type Cleaner interface {
	CleanupExpired() int
}

// Disabled never hits and never stores. With it the durable store alone
// decides every duplicate.
type Disabled struct{}

var _ RecentWrites = Disabled{}

// Probe implements RecentWrites.
func (Disabled) Probe(context.Context, fingerprint.Fingerprint) (bool, error) { return false, nil }

// Register implements RecentWrites.
func (Disabled) Register(context.Context, fingerprint.Fingerprint) error { return nil }

// Name implements RecentWrites.
func (Disabled) Name() string { return "disabled" }

// Close implements RecentWrites.
func (Disabled) Close() error { return nil }
