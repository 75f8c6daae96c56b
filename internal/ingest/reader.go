// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

package ingest

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/tomtom215/tracklog/internal/fingerprint"
	"github.com/tomtom215/tracklog/internal/models"
	"github.com/tomtom215/tracklog/internal/store"
)

// Query defaults.
const (
	DefaultQueryCount = 25
	DefaultMaxCount   = 100
)

// Reader serves listen history straight from the durable store. Reads never
// consult the recent-write cache.
type Reader struct {
	store        store.ListenStore
	defaultCount int
	maxCount     int
	now          func() time.Time
}

// NewReader creates a Reader. Non-positive counts fall back to the defaults.
func NewReader(s store.ListenStore, defaultCount, maxCount int) *Reader {
	if maxCount <= 0 {
		maxCount = DefaultMaxCount
	}
	if defaultCount <= 0 || defaultCount > maxCount {
		defaultCount = min(DefaultQueryCount, maxCount)
	}
	return &Reader{store: s, defaultCount: defaultCount, maxCount: maxCount, now: time.Now}
}

// ListensQuery selects a page of one user's history. Bounds are inclusive.
type ListensQuery struct {
	// MaxTS defaults to the current time.
	MaxTS *int64
	MinTS *int64
	// Count defaults to the reader's default and is capped at its maximum.
	Count int
}

// ListensPage is a newest-first page of listens.
type ListensPage struct {
	UserKey string
	Listens []models.Listen
}

// Listens returns up to Count listens of rawIdentity within the query
// bounds, newest first.
func (r *Reader) Listens(ctx context.Context, rawIdentity string, q ListensQuery) (ListensPage, error) {
	userKey := fingerprint.Canonicalize(rawIdentity)

	to := r.now().Unix()
	if q.MaxTS != nil {
		to = *q.MaxTS
	}
	from := int64(math.MinInt64)
	if q.MinTS != nil {
		from = *q.MinTS
	}
	if from > to {
		return ListensPage{}, fmt.Errorf("%w: %d > %d", ErrInvalidRange, from, to)
	}

	listens, err := r.store.FetchRange(ctx, store.RangeQuery{
		UserKey:    userKey,
		From:       from,
		To:         to,
		Limit:      r.clampCount(q.Count),
		Descending: true,
	})
	if err != nil {
		return ListensPage{}, fmt.Errorf("fetch listens: %w", err)
	}
	return ListensPage{UserKey: userKey, Listens: listens}, nil
}

// ListenCount returns the number of stored listens of rawIdentity.
func (r *Reader) ListenCount(ctx context.Context, rawIdentity string) (string, int64, error) {
	userKey := fingerprint.Canonicalize(rawIdentity)
	n, err := r.store.CountListens(ctx, userKey)
	if err != nil {
		return userKey, 0, fmt.Errorf("count listens: %w", err)
	}
	return userKey, n, nil
}

func (r *Reader) clampCount(n int) int {
	switch {
	case n <= 0:
		return r.defaultCount
	case n > r.maxCount:
		return r.maxCount
	default:
		return n
	}
}
