// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

package cache

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/tomtom215/tracklog/internal/fingerprint"
)

// MemoryConfig sizes the in-process cache.
type MemoryConfig struct {
	Capacity      int
	TTL           time.Duration
	BloomExpected int
	BloomFPRate   float64
}

// Memory is the in-process recent-write cache.
//
// Timestamps are grouped into buckets of width max(tolerance, 1s) under the
// key "user|track|bucket", so a probe reads at most three LRU entries. A
// Bloom filter over "user|track" answers most misses without touching the LRU.
type Memory struct {
	matcher fingerprint.Matcher
	lru     *LRUCache

	// bloomMu guards replacing the filter during a rebuild.
	bloomMu sync.RWMutex
	bloom   *BloomFilter
	bloomN  int
	bloomFP float64
}

var (
	_ RecentWrites = (*Memory)(nil)
	_ Cleaner      = (*Memory)(nil)
)

// NewMemory creates an in-process cache for the given matcher.
func NewMemory(cfg MemoryConfig, matcher fingerprint.Matcher) *Memory {
	return &Memory{
		matcher: matcher,
		lru:     NewLRUCache(cfg.Capacity, cfg.TTL),
		bloom:   NewBloomFilter(cfg.BloomExpected, cfg.BloomFPRate),
		bloomN:  cfg.BloomExpected,
		bloomFP: cfg.BloomFPRate,
	}
}

// Probe implements RecentWrites.
func (m *Memory) Probe(_ context.Context, fp fingerprint.Fingerprint) (bool, error) {
	pair := pairKey(fp)

	m.bloomMu.RLock()
	maybe := m.bloom.Test(pair)
	m.bloomMu.RUnlock()
	if !maybe {
		return false, nil
	}

	for _, b := range m.matcher.ProbeBuckets(fp.Timestamp) {
		stamps, ok := m.lru.Get(bucketKey(pair, b))
		if !ok {
			continue
		}
		if _, hit := m.matcher.Closest(fp.Timestamp, stamps); hit {
			return true, nil
		}
	}
	return false, nil
}

// Register implements RecentWrites.
func (m *Memory) Register(_ context.Context, fp fingerprint.Fingerprint) error {
	pair := pairKey(fp)
	m.lru.Append(bucketKey(pair, m.matcher.Bucket(fp.Timestamp)), fp.Timestamp)

	m.bloomMu.RLock()
	m.bloom.Add(pair)
	m.bloomMu.RUnlock()
	return nil
}

// CleanupExpired drops expired buckets. When the Bloom filter has absorbed
// more pairs than it was sized for it is rebuilt from the live entries.
func (m *Memory) CleanupExpired() int {
	removed := m.lru.CleanupExpired()

	m.bloomMu.RLock()
	saturated := m.bloom.Saturated()
	m.bloomMu.RUnlock()
	if saturated {
		m.rebuildBloom()
	}
	return removed
}

func (m *Memory) rebuildBloom() {
	m.bloomMu.Lock()
	defer m.bloomMu.Unlock()

	// Registers racing with the rebuild wait on bloomMu, and entries added
	// before it are in the LRU, so nothing live is lost.
	keys := m.lru.Keys()
	fresh := NewBloomFilter(max(m.bloomN, 2*len(keys)), m.bloomFP)
	for _, key := range keys {
		if i := strings.LastIndexByte(key, '|'); i > 0 {
			fresh.Add(key[:i])
		}
	}
	m.bloom = fresh
}

// Len returns the number of live bucket entries.
func (m *Memory) Len() int { return m.lru.Len() }

// Stats exposes the LRU counters.
func (m *Memory) Stats() (hits, misses, evictions int64, size int) { return m.lru.Stats() }

// Name implements RecentWrites.
func (m *Memory) Name() string { return "memory" }

// Close implements RecentWrites.
func (m *Memory) Close() error {
	m.lru.Clear()
	return nil
}

func pairKey(fp fingerprint.Fingerprint) string {
	return fp.UserKey + "|" + fp.TrackIdentity
}

func bucketKey(pair string, bucket int64) string {
	return pair + "|" + strconv.FormatInt(bucket, 10)
}
