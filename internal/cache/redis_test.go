// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/tomtom215/tracklog/internal/fingerprint"
)

// fakeRedis evaluates the two cache scripts against in-memory sorted sets.
type fakeRedis struct {
	mu        sync.Mutex
	sets      map[string]map[int64]struct{}
	ttls      map[string]int64
	returnErr error
	calls     int
}

func newFakeRedis() *fakeRedis {
	return &fakeRedis{sets: map[string]map[int64]struct{}{}, ttls: map[string]int64{}}
}

func (f *fakeRedis) Eval(ctx context.Context, script string, keys []string, args ...interface{}) (interface{}, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls++
	if f.returnErr != nil {
		return nil, f.returnErr
	}

	key := keys[0]
	switch script {
	case probeScript:
		lo, _ := strconv.ParseInt(fmt.Sprint(args[0]), 10, 64)
		hi, _ := strconv.ParseInt(fmt.Sprint(args[1]), 10, 64)
		for ts := range f.sets[key] {
			if ts >= lo && ts <= hi {
				return int64(1), nil
			}
		}
		return int64(0), nil
	case registerScript:
		ts, _ := strconv.ParseInt(fmt.Sprint(args[0]), 10, 64)
		if f.sets[key] == nil {
			f.sets[key] = map[int64]struct{}{}
		}
		f.sets[key][ts] = struct{}{}
		f.ttls[key] = args[1].(int64)
		return int64(1), nil
	}
	return nil, errors.New("unknown script")
}

func TestRedis_ProbeAndRegister(t *testing.T) {
	ctx := context.Background()
	fake := newFakeRedis()
	r := NewRedis(fake, fingerprint.NewMatcher(10), 2*time.Minute, "tl:", nil)

	if hit, err := r.Probe(ctx, fp("alice", "mbid:x", 1000)); err != nil || hit {
		t.Fatalf("empty probe = %v, %v", hit, err)
	}
	if err := r.Register(ctx, fp("alice", "mbid:x", 1000)); err != nil {
		t.Fatal(err)
	}
	if fake.ttls["tl:alice:mbid:x"] != 120000 {
		t.Errorf("ttl = %d ms, want 120000", fake.ttls["tl:alice:mbid:x"])
	}

	for ts, want := range map[int64]bool{991: true, 1009: true, 1010: true, 1011: false, 989: false} {
		hit, err := r.Probe(ctx, fp("alice", "mbid:x", ts))
		if err != nil {
			t.Fatal(err)
		}
		if hit != want {
			t.Errorf("probe at %d = %v, want %v", ts, hit, want)
		}
	}
	if hit, _ := r.Probe(ctx, fp("bob", "mbid:x", 1000)); hit {
		t.Error("other user must miss")
	}
}

func TestRedis_KeyLayout(t *testing.T) {
	r := NewRedis(newFakeRedis(), fingerprint.NewMatcher(10), time.Minute, "tl:", nil)
	user := fingerprint.Canonicalize("a:b")
	key := r.RedisKey(fp(user, "meta:123", 1))
	if key != "tl:a%3Ab:meta:123" {
		t.Errorf("RedisKey = %q", key)
	}
	if strings.Count(strings.TrimPrefix(key, "tl:"), ":") != 2 {
		t.Errorf("user part must not add separators: %q", key)
	}
}

func TestRedis_ErrorsAreReturned(t *testing.T) {
	ctx := context.Background()
	fake := newFakeRedis()
	fake.returnErr = errors.New("connection refused")
	r := NewRedis(fake, fingerprint.NewMatcher(10), time.Minute, "tl:", nil)

	if _, err := r.Probe(ctx, fp("u", "t", 1)); err == nil || !strings.Contains(err.Error(), "connection refused") {
		t.Errorf("Probe error = %v", err)
	}
	if err := r.Register(ctx, fp("u", "t", 1)); err == nil {
		t.Error("Register should fail")
	}
}

func TestRedis_DefaultTTL(t *testing.T) {
	r := NewRedis(newFakeRedis(), fingerprint.NewMatcher(10), 0, "", nil)
	if r.ttl != 10*time.Minute {
		t.Errorf("ttl = %v, want 10m", r.ttl)
	}
}
