// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

package cache

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/tomtom215/tracklog/internal/fingerprint"
)

func newTestMemory(ttl time.Duration) *Memory {
	return NewMemory(MemoryConfig{Capacity: 1000, TTL: ttl, BloomExpected: 1000, BloomFPRate: 0.01},
		fingerprint.NewMatcher(10))
}

func fp(user, track string, ts int64) fingerprint.Fingerprint {
	return fingerprint.Fingerprint{UserKey: user, TrackIdentity: track, Timestamp: ts}
}

func TestMemory_ProbeWithinTolerance(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory(time.Minute)

	if hit, _ := m.Probe(ctx, fp("alice", "song-X", 1000)); hit {
		t.Fatal("empty cache must miss")
	}
	if err := m.Register(ctx, fp("alice", "song-X", 1000)); err != nil {
		t.Fatal(err)
	}

	tests := []struct {
		name string
		fp   fingerprint.Fingerprint
		want bool
	}{
		{"exact", fp("alice", "song-X", 1000), true},
		{"plus 2", fp("alice", "song-X", 1002), true},
		{"minus 9", fp("alice", "song-X", 991), true},
		{"plus 10 crosses bucket", fp("alice", "song-X", 1010), true},
		{"plus 11", fp("alice", "song-X", 1011), false},
		{"other track", fp("alice", "song-Y", 1000), false},
		{"other user", fp("bob", "song-X", 1000), false},
	}
	for _, tt := range tests {
		hit, err := m.Probe(ctx, tt.fp)
		if err != nil {
			t.Fatalf("%s: %v", tt.name, err)
		}
		if hit != tt.want {
			t.Errorf("%s: hit = %v, want %v", tt.name, hit, tt.want)
		}
	}
}

func TestMemory_BucketBoundaries(t *testing.T) {
	ctx := context.Background()
	m := newTestMemory(time.Minute)

	// Registered at the last second of a bucket, probed across the boundary
	// on both sides.
	_ = m.Register(ctx, fp("u", "t", 19))
	for _, ts := range []int64{9, 29} {
		if hit, _ := m.Probe(ctx, fp("u", "t", ts)); !hit {
			t.Errorf("probe at %d should hit 19", ts)
		}
	}
	if hit, _ := m.Probe(ctx, fp("u", "t", 30)); hit {
		t.Error("probe at 30 should miss 19")
	}
}

func TestMemory_ExpiryNeverHits(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock()
	m := newTestMemory(time.Minute)
	m.lru.now = clock.Now

	_ = m.Register(ctx, fp("alice", "song-X", 1000))
	clock.Advance(2 * time.Minute)

	if hit, _ := m.Probe(ctx, fp("alice", "song-X", 1000)); hit {
		t.Error("expired entry must not hit")
	}
}

func TestMemory_BloomRebuildKeepsLiveEntries(t *testing.T) {
	ctx := context.Background()
	m := NewMemory(MemoryConfig{Capacity: 1000, TTL: time.Minute, BloomExpected: 10, BloomFPRate: 0.01},
		fingerprint.NewMatcher(10))

	for i := 0; i < 20; i++ {
		_ = m.Register(ctx, fp("alice", fmt.Sprintf("track-%d", i), 1000))
	}
	m.CleanupExpired()

	if m.bloom.Saturated() {
		t.Error("rebuilt filter should start below capacity")
	}
	for i := 0; i < 20; i++ {
		if hit, _ := m.Probe(ctx, fp("alice", fmt.Sprintf("track-%d", i), 1005)); !hit {
			t.Errorf("track-%d lost after rebuild", i)
		}
	}
}

func TestDisabled(t *testing.T) {
	ctx := context.Background()
	var c RecentWrites = Disabled{}
	_ = c.Register(ctx, fp("u", "t", 1))
	if hit, err := c.Probe(ctx, fp("u", "t", 1)); hit || err != nil {
		t.Errorf("Disabled.Probe = %v, %v", hit, err)
	}
}
