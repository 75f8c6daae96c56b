// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

//go:build integration

package store

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/tracklog/internal/config"
	"github.com/tomtom215/tracklog/internal/fingerprint"
	"github.com/tomtom215/tracklog/internal/testinfra"
)

func TestPostgresIntegration(t *testing.T) {
	pg := testinfra.StartPostgres(t)
	ctx := context.Background()

	s, err := NewPostgres(ctx, config.PostgresConfig{URL: pg.URL, MaxConns: 16}, testMatcher, 10*time.Second)
	if err != nil {
		t.Fatalf("NewPostgres: %v", err)
	}
	defer s.Close()

	t.Run("tolerance", func(t *testing.T) {
		if res := mustWrite(t, s, newListen("alice", "mbid:a", 1000)); !res.Accepted {
			t.Fatal("first write rejected")
		}
		res := mustWrite(t, s, newListen("alice", "mbid:a", 1009))
		if res.Accepted || res.Existing == nil || res.Existing.Timestamp != 1000 {
			t.Errorf("fuzz duplicate = %+v", res)
		}
		if res := mustWrite(t, s, newListen("bob", "mbid:a", 1000)); !res.Accepted {
			t.Error("other user rejected")
		}
	})

	t.Run("special characters", func(t *testing.T) {
		user := fingerprint.Canonicalize("x'); DROP TABLE listens; --\n\\")
		mustWrite(t, s, newListen(user, "mbid:a", 5))
		got := fetchAll(t, s, user)
		if len(got) != 1 || got[0].UserKey != user {
			t.Errorf("got %+v", got)
		}
	})

	t.Run("concurrent same user", func(t *testing.T) {
		var (
			wg       sync.WaitGroup
			accepted atomic.Int32
		)
		for i := 0; i < 24; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				res, err := s.WriteUnique(ctx, newListen("racer", "mbid:same", 2000+int64(i%4)))
				if err != nil {
					t.Errorf("writer %d: %v", i, err)
					return
				}
				if res.Accepted {
					accepted.Add(1)
				}
			}(i)
		}
		wg.Wait()
		if accepted.Load() != 1 {
			t.Errorf("accepted %d, want 1", accepted.Load())
		}
		if n, _ := s.CountListens(ctx, "racer"); n != 1 {
			t.Errorf("count = %d, want 1", n)
		}
	})

	t.Run("range and limit", func(t *testing.T) {
		for i := int64(0); i < 5; i++ {
			mustWrite(t, s, newListen("ranger", fmt.Sprintf("mbid:%d", i), 100*i))
		}
		got, err := s.FetchRange(ctx, RangeQuery{UserKey: "ranger", From: 0, To: 400, Limit: 2, Descending: true})
		if err != nil {
			t.Fatal(err)
		}
		assertTimestamps(t, got, 400, 300)
	})
}
