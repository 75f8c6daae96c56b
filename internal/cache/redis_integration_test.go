// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

//go:build integration

package cache

import (
	"context"
	"testing"
	"time"

	"github.com/tomtom215/tracklog/internal/config"
	"github.com/tomtom215/tracklog/internal/fingerprint"
	"github.com/tomtom215/tracklog/internal/testinfra"
)

func TestRedisIntegration(t *testing.T) {
	rc := testinfra.StartRedis(t)
	ctx := context.Background()

	c, err := New(ctx, config.CacheConfig{
		Backend: config.CacheBackendRedis,
		TTL:     time.Minute,
		Redis:   config.RedisConfig{Addr: rc.Addr, KeyPrefix: "it:"},
	}, fingerprint.NewMatcher(10))
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	user := fingerprint.Canonicalize("i have a\\weird\\user, name\"\n")
	if err := c.Register(ctx, fp(user, "mbid:song-X", 1000)); err != nil {
		t.Fatal(err)
	}

	for ts, want := range map[int64]bool{1000: true, 1009: true, 990: true, 1011: false} {
		hit, err := c.Probe(ctx, fp(user, "mbid:song-X", ts))
		if err != nil {
			t.Fatal(err)
		}
		if hit != want {
			t.Errorf("probe %d = %v, want %v", ts, hit, want)
		}
	}
	if hit, _ := c.Probe(ctx, fp("someone-else", "mbid:song-X", 1000)); hit {
		t.Error("other user must miss")
	}
}
