// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

package store

import (
	"context"
	"time"

	"github.com/tomtom215/tracklog/internal/metrics"
	"github.com/tomtom215/tracklog/internal/models"
)

// Instrumented records latency and errors of every store call.
type Instrumented struct {
	ListenStore
}

// NewInstrumented wraps s with Prometheus instrumentation.
func NewInstrumented(s ListenStore) *Instrumented {
	return &Instrumented{ListenStore: s}
}

func (i *Instrumented) observe(op string, start time.Time, err error) {
	metrics.ObserveStoreOp(i.Name(), op, time.Since(start), err)
}

// WriteUnique implements ListenStore.
func (i *Instrumented) WriteUnique(ctx context.Context, l *models.Listen) (WriteResult, error) {
	start := time.Now()
	res, err := i.ListenStore.WriteUnique(ctx, l)
	i.observe("write_unique", start, err)
	return res, err
}

// FetchRange implements ListenStore.
func (i *Instrumented) FetchRange(ctx context.Context, q RangeQuery) ([]models.Listen, error) {
	start := time.Now()
	listens, err := i.ListenStore.FetchRange(ctx, q)
	i.observe("fetch_range", start, err)
	return listens, err
}

// CountListens implements ListenStore.
func (i *Instrumented) CountListens(ctx context.Context, userKey string) (int64, error) {
	start := time.Now()
	n, err := i.ListenStore.CountListens(ctx, userKey)
	i.observe("count", start, err)
	return n, err
}
