// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

/*
Package store is the durable listen store: per-user partitioned, timestamp
ordered, append-only persistence and the source of truth for range queries.

Every backend exposes WriteUnique, a single atomic conditional insert. Inside
one user's partition it looks for a record with the same track identity in
[ts - tolerance, ts + tolerance] and inserts only when none exists. How the
check and the insert are made atomic differs per backend:

  - memory: one mutex per partition
  - duckdb: one mutex per partition around a transaction
  - badger: a per-partition guard key read and written in the same
    transaction, so racing writers for one user conflict and retry
  - postgres: pg_advisory_xact_lock on the partition inside the transaction

Writers for different users never share a lock or guard.
*/
package store

import (
	"context"
	"math"
	"sort"

	"github.com/tomtom215/tracklog/internal/fingerprint"
	"github.com/tomtom215/tracklog/internal/models"
)

// ListenStore is the durable listen store contract.
type ListenStore interface {
	// WriteUnique inserts l unless its partition already holds a record of
	// the same track within the fuzz tolerance. On a duplicate the closest
	// existing record is returned in WriteResult.Existing.
	WriteUnique(ctx context.Context, l *models.Listen) (WriteResult, error)

	// FetchRange returns the listens of one partition with From <= ts <= To.
	FetchRange(ctx context.Context, q RangeQuery) ([]models.Listen, error)

	// CountListens returns the number of records in a partition.
	CountListens(ctx context.Context, userKey string) (int64, error)

	Ping(ctx context.Context) error
	Name() string
	Close() error
}

// WriteResult is the outcome of WriteUnique.
type WriteResult struct {
	Accepted bool
	// Existing is the stored record that caused a rejection.
	Existing *models.Listen
}

// RangeQuery selects records of one partition by timestamp.
// Bounds are inclusive. Results are ascending unless Descending is set.
type RangeQuery struct {
	UserKey string
	From    int64
	To      int64
	// Limit keeps the newest Limit records of the window. Zero means no limit.
	Limit      int
	Descending bool
}

// AllTime returns a query covering the whole partition.
func AllTime(userKey string) RangeQuery {
	return RangeQuery{UserKey: userKey, From: math.MinInt64, To: math.MaxInt64}
}

// finishRange applies Limit and ordering to an ascending slice.
func finishRange(listens []models.Listen, q RangeQuery) []models.Listen {
	if q.Limit > 0 && len(listens) > q.Limit {
		listens = listens[len(listens)-q.Limit:]
	}
	if q.Descending {
		for i, j := 0, len(listens)-1; i < j; i, j = i+1, j-1 {
			listens[i], listens[j] = listens[j], listens[i]
		}
	}
	return listens
}

// closestRecord picks the candidate nearest to ts using the matcher's
// tie-break. candidates must already be restricted to one track.
func closestRecord(m fingerprint.Matcher, ts int64, candidates []models.Listen) *models.Listen {
	if len(candidates) == 0 {
		return nil
	}
	stamps := make([]int64, len(candidates))
	for i := range candidates {
		stamps[i] = candidates[i].Timestamp
	}
	best, ok := m.Closest(ts, stamps)
	if !ok {
		return nil
	}
	for i := range candidates {
		if candidates[i].Timestamp == best {
			found := candidates[i]
			return &found
		}
	}
	return nil
}

// sortListens orders by timestamp, then insertion time, then id.
func sortListens(listens []models.Listen) {
	sort.SliceStable(listens, func(i, j int) bool {
		a, b := &listens[i], &listens[j]
		if a.Timestamp != b.Timestamp {
			return a.Timestamp < b.Timestamp
		}
		if !a.InsertedAt.Equal(b.InsertedAt) {
			return a.InsertedAt.Before(b.InsertedAt)
		}
		return a.ID.String() < b.ID.String()
	})
}
