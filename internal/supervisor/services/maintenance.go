// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

package services

import (
	"context"

	"github.com/tomtom215/tracklog/internal/cache"
	"github.com/tomtom215/tracklog/internal/metrics"
	"github.com/tomtom215/tracklog/internal/store"
)

type sweepable interface {
	cache.Cleaner
	Len() int
}

// CacheJanitorTask returns a task sweeping expired entries from c, or false
// when c expires entries on its own (redis, disabled).
func CacheJanitorTask(c cache.RecentWrites) (func(context.Context) error, bool) {
	sc, ok := c.(sweepable)
	if !ok {
		return nil, false
	}
	return func(context.Context) error {
		metrics.RecordCacheJanitor(sc.CleanupExpired(), sc.Len())
		return nil
	}, true
}

// StoreMaintenanceTask returns a task running backend housekeeping on s.
func StoreMaintenanceTask(s store.ListenStore) func(context.Context) error {
	return func(ctx context.Context) error {
		err := store.Maintain(ctx, s)
		metrics.RecordStoreMaintenance(err)
		return err
	}
}
