// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

package cache

import (
	"hash/fnv"
	"math"
	"math/bits"
	"sync"
)

// BloomFilter is a set-membership filter with no false negatives.
// The memory cache uses it to skip the LRU for (user, track) pairs that were
// never registered; a positive answer is always verified against the LRU,
// so false positives never turn into duplicate verdicts.
type BloomFilter struct {
	mu       sync.RWMutex
	bits     []uint64
	size     uint64
	hashFns  int
	count    int
	capacity int
}

// NewBloomFilter sizes a filter for expectedItems at falsePositiveRate.
//
//	m = -n * ln(p) / ln(2)^2 bits, k = m/n * ln(2) hash functions
func NewBloomFilter(expectedItems int, falsePositiveRate float64) *BloomFilter {
	if expectedItems <= 0 {
		expectedItems = 10000
	}
	if falsePositiveRate <= 0 || falsePositiveRate >= 1 {
		falsePositiveRate = 0.01
	}

	m := int(math.Ceil(-float64(expectedItems) * math.Log(falsePositiveRate) / (math.Ln2 * math.Ln2)))
	if m < 64 {
		m = 64
	}
	k := int(math.Round(float64(m) / float64(expectedItems) * math.Ln2))
	k = max(1, min(k, 10))

	words := (m + 63) / 64
	return &BloomFilter{
		bits:     make([]uint64, words),
		size:     uint64(words * 64),
		hashFns:  k,
		capacity: expectedItems,
	}
}

// Add inserts key.
func (bf *BloomFilter) Add(key string) {
	h1, h2 := bloomHashes(key)
	bf.mu.Lock()
	defer bf.mu.Unlock()
	for i := 0; i < bf.hashFns; i++ {
		idx := (h1 + uint64(i)*h2) % bf.size
		bf.bits[idx/64] |= 1 << (idx % 64)
	}
	bf.count++
}

// Test reports false when key was definitely never added.
func (bf *BloomFilter) Test(key string) bool {
	h1, h2 := bloomHashes(key)
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	for i := 0; i < bf.hashFns; i++ {
		idx := (h1 + uint64(i)*h2) % bf.size
		if bf.bits[idx/64]&(1<<(idx%64)) == 0 {
			return false
		}
	}
	return true
}

// Clear resets the filter.
func (bf *BloomFilter) Clear() {
	bf.mu.Lock()
	defer bf.mu.Unlock()
	for i := range bf.bits {
		bf.bits[i] = 0
	}
	bf.count = 0
}

// Count returns the number of Add calls since the last reset.
func (bf *BloomFilter) Count() int {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	return bf.count
}

// Saturated reports whether more items were added than the filter was sized
// for. A saturated filter still has no false negatives but stops saving work.
func (bf *BloomFilter) Saturated() bool {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	return bf.count > bf.capacity
}

// FillRatio returns the share of set bits.
func (bf *BloomFilter) FillRatio() float64 {
	bf.mu.RLock()
	defer bf.mu.RUnlock()
	set := 0
	for _, w := range bf.bits {
		set += bits.OnesCount64(w)
	}
	return float64(set) / float64(bf.size)
}

// bloomHashes returns the two base hashes for double hashing h1 + i*h2.
func bloomHashes(key string) (uint64, uint64) {
	h1 := fnv.New64a()
	_, _ = h1.Write([]byte(key))
	h2 := fnv.New64()
	_, _ = h2.Write([]byte(key))
	_, _ = h2.Write([]byte{0xff})
	return h1.Sum64(), h2.Sum64() | 1
}
