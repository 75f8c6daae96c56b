// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

package cache

import (
	"fmt"
	"sync"
	"testing"
	"time"
)

// fakeClock lets tests move time forward without sleeping.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)}
}

func (f *fakeClock) Now() time.Time {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.now
}

func (f *fakeClock) Advance(d time.Duration) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.now = f.now.Add(d)
}

func TestLRUCache_AppendAndGet(t *testing.T) {
	c := NewLRUCache(10, time.Minute)

	c.Append("k", 100)
	c.Append("k", 105)
	c.Append("k", 100)

	got, ok := c.Get("k")
	if !ok {
		t.Fatal("expected key to be present")
	}
	if len(got) != 2 || got[0] != 100 || got[1] != 105 {
		t.Errorf("Get = %v, want [100 105]", got)
	}

	if _, ok := c.Get("missing"); ok {
		t.Error("missing key should not be found")
	}

	hits, misses, _, size := c.Stats()
	if hits != 1 || misses != 1 || size != 1 {
		t.Errorf("Stats = %d hits, %d misses, size %d", hits, misses, size)
	}
}

func TestLRUCache_Expiry(t *testing.T) {
	clock := newFakeClock()
	c := NewLRUCache(10, time.Minute)
	c.now = clock.Now

	c.Append("a", 1)
	c.Append("b", 2)
	clock.Advance(30 * time.Second)
	c.Append("b", 3) // refreshes b

	clock.Advance(45 * time.Second)
	if _, ok := c.Get("a"); ok {
		t.Error("a should have expired")
	}
	if got, ok := c.Get("b"); !ok || len(got) != 2 {
		t.Errorf("b should be live with two timestamps, got %v %v", got, ok)
	}

	clock.Advance(2 * time.Minute)
	if removed := c.CleanupExpired(); removed != 1 {
		t.Errorf("CleanupExpired removed %d, want 1", removed)
	}
	if c.Len() != 0 {
		t.Errorf("Len = %d, want 0", c.Len())
	}
}

func TestLRUCache_AppendAfterExpiryDropsStaleTimestamps(t *testing.T) {
	clock := newFakeClock()
	c := NewLRUCache(10, time.Minute)
	c.now = clock.Now

	c.Append("k", 1)
	clock.Advance(2 * time.Minute)
	c.Append("k", 2)

	got, _ := c.Get("k")
	if len(got) != 1 || got[0] != 2 {
		t.Errorf("Get = %v, want [2]", got)
	}
}

func TestLRUCache_EvictsLeastRecentlyUsed(t *testing.T) {
	c := NewLRUCache(3, time.Minute)
	for i := 0; i < 3; i++ {
		c.Append(fmt.Sprintf("k%d", i), int64(i))
	}
	c.Get("k0") // k1 is now the oldest
	c.Append("k3", 3)

	if _, ok := c.Get("k1"); ok {
		t.Error("k1 should have been evicted")
	}
	for _, k := range []string{"k0", "k2", "k3"} {
		if _, ok := c.Get(k); !ok {
			t.Errorf("%s should still be cached", k)
		}
	}
	if _, _, evictions, _ := c.Stats(); evictions != 1 {
		t.Errorf("evictions = %d, want 1", evictions)
	}
	if keys := c.Keys(); len(keys) != 3 || keys[0] != "k3" {
		t.Errorf("Keys = %v", keys)
	}
}

func TestLRUCache_Concurrent(t *testing.T) {
	c := NewLRUCache(100, time.Minute)
	var wg sync.WaitGroup
	for g := 0; g < 8; g++ {
		wg.Add(1)
		go func(g int) {
			defer wg.Done()
			for i := 0; i < 500; i++ {
				key := fmt.Sprintf("k%d", i%150)
				c.Append(key, int64(g))
				c.Get(key)
			}
		}(g)
	}
	wg.Wait()
	if c.Len() > 100 {
		t.Errorf("Len = %d exceeds capacity", c.Len())
	}
}

func TestBloomFilter(t *testing.T) {
	bf := NewBloomFilter(1000, 0.01)
	for i := 0; i < 1000; i++ {
		bf.Add(fmt.Sprintf("item-%d", i))
	}
	for i := 0; i < 1000; i++ {
		if !bf.Test(fmt.Sprintf("item-%d", i)) {
			t.Fatalf("false negative for item-%d", i)
		}
	}

	falsePositives := 0
	for i := 0; i < 10000; i++ {
		if bf.Test(fmt.Sprintf("other-%d", i)) {
			falsePositives++
		}
	}
	if rate := float64(falsePositives) / 10000; rate > 0.05 {
		t.Errorf("false positive rate %.3f too high", rate)
	}
	if bf.Saturated() {
		t.Error("filter at capacity should not report saturation")
	}
	bf.Add("one-more")
	if !bf.Saturated() {
		t.Error("filter past capacity should report saturation")
	}

	bf.Clear()
	if bf.Count() != 0 || bf.FillRatio() != 0 {
		t.Error("Clear should reset the filter")
	}
}
