// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

package store

import (
	"context"
	"sync"
	"time"
)

// partitionLocks hands out one mutex per user key.
type partitionLocks struct {
	m sync.Map
}

// acquire locks the partition mutex for userKey.
func (p *partitionLocks) acquire(userKey string) *sync.Mutex {
	muInterface, _ := p.m.LoadOrStore(userKey, &sync.Mutex{})
	mu, ok := muInterface.(*sync.Mutex)
	if !ok {
		mu = &sync.Mutex{}
		p.m.Store(userKey, mu)
	}
	mu.Lock()
	return mu
}

func (p *partitionLocks) release(mu *sync.Mutex) {
	mu.Unlock()
}

// ensureContext applies timeout when ctx carries no deadline.
func ensureContext(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if ctx == nil {
		ctx = context.Background()
	}
	if _, ok := ctx.Deadline(); ok || timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}
