// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

package store

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/tomtom215/tracklog/internal/fingerprint"
	"github.com/tomtom215/tracklog/internal/models"
)

// Memory is an in-process store. Contents are lost on exit.
type Memory struct {
	matcher    fingerprint.Matcher
	partitions sync.Map // user key -> *memPartition
	closed     atomic.Bool
	now        func() time.Time
}

type memPartition struct {
	mu      sync.Mutex
	listens []models.Listen // ascending by Timestamp
}

// NewMemory creates an empty in-memory store.
func NewMemory(matcher fingerprint.Matcher) *Memory {
	return &Memory{matcher: matcher, now: time.Now}
}

func (s *Memory) partition(userKey string) *memPartition {
	p, _ := s.partitions.LoadOrStore(userKey, &memPartition{})
	return p.(*memPartition)
}

// WriteUnique implements ListenStore.
func (s *Memory) WriteUnique(ctx context.Context, l *models.Listen) (WriteResult, error) {
	if s.closed.Load() {
		return WriteResult{}, unavailable("memory write", ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return WriteResult{}, err
	}

	p := s.partition(l.UserKey)
	p.mu.Lock()
	defer p.mu.Unlock()

	from, to := s.matcher.Window(l.Timestamp)
	lo, hi := p.bounds(from, to)
	var candidates []models.Listen
	for i := lo; i < hi; i++ {
		if p.listens[i].TrackIdentity == l.TrackIdentity {
			candidates = append(candidates, p.listens[i])
		}
	}
	if existing := closestRecord(s.matcher, l.Timestamp, candidates); existing != nil {
		return WriteResult{Existing: existing}, nil
	}

	rec := *l
	if rec.ID == uuid.Nil {
		rec.ID = uuid.New()
	}
	if rec.InsertedAt.IsZero() {
		rec.InsertedAt = s.now().UTC()
	}
	// Insert after any equal timestamps to keep insertion order stable.
	at := sort.Search(len(p.listens), func(i int) bool { return p.listens[i].Timestamp > rec.Timestamp })
	p.listens = append(p.listens, models.Listen{})
	copy(p.listens[at+1:], p.listens[at:])
	p.listens[at] = rec

	l.ID, l.InsertedAt = rec.ID, rec.InsertedAt
	return WriteResult{Accepted: true}, nil
}

// bounds returns the index range [lo, hi) of records with from <= ts <= to.
// Caller holds p.mu.
func (p *memPartition) bounds(from, to int64) (int, int) {
	lo := sort.Search(len(p.listens), func(i int) bool { return p.listens[i].Timestamp >= from })
	hi := sort.Search(len(p.listens), func(i int) bool { return p.listens[i].Timestamp > to })
	return lo, hi
}

// FetchRange implements ListenStore.
func (s *Memory) FetchRange(ctx context.Context, q RangeQuery) ([]models.Listen, error) {
	if s.closed.Load() {
		return nil, unavailable("memory fetch", ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	v, ok := s.partitions.Load(q.UserKey)
	if !ok || q.From > q.To {
		return []models.Listen{}, nil
	}
	p := v.(*memPartition)
	p.mu.Lock()
	lo, hi := p.bounds(q.From, q.To)
	out := make([]models.Listen, hi-lo)
	copy(out, p.listens[lo:hi])
	p.mu.Unlock()
	return finishRange(out, q), nil
}

// CountListens implements ListenStore.
func (s *Memory) CountListens(ctx context.Context, userKey string) (int64, error) {
	if s.closed.Load() {
		return 0, unavailable("memory count", ErrClosed)
	}
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	v, ok := s.partitions.Load(userKey)
	if !ok {
		return 0, nil
	}
	p := v.(*memPartition)
	p.mu.Lock()
	defer p.mu.Unlock()
	return int64(len(p.listens)), nil
}

// Ping implements ListenStore.
func (s *Memory) Ping(context.Context) error {
	if s.closed.Load() {
		return unavailable("memory ping", ErrClosed)
	}
	return nil
}

// Name implements ListenStore.
func (s *Memory) Name() string { return "memory" }

// Close implements ListenStore.
func (s *Memory) Close() error {
	s.closed.Store(true)
	return nil
}
