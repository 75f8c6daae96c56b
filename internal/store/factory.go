// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

package store

import (
	"context"
	"fmt"

	"github.com/tomtom215/tracklog/internal/config"
	"github.com/tomtom215/tracklog/internal/fingerprint"
)

// New opens the configured backend, wrapped with instrumentation and, when
// enabled, a circuit breaker.
func New(ctx context.Context, cfg config.StoreConfig, breaker config.BreakerConfig, matcher fingerprint.Matcher) (ListenStore, error) {
	var (
		s   ListenStore
		err error
	)
	switch cfg.Backend {
	case config.StoreBackendMemory:
		s = NewMemory(matcher)
	case config.StoreBackendDuckDB:
		s, err = NewDuckDB(cfg.DuckDB, matcher, cfg.OpTimeout)
	case config.StoreBackendBadger:
		s, err = NewBadger(cfg.Badger, matcher, cfg.OpTimeout)
	case config.StoreBackendPostgres:
		s, err = NewPostgres(ctx, cfg.Postgres, matcher, cfg.OpTimeout)
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownBackend, cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("open %s store: %w", cfg.Backend, err)
	}

	s = NewInstrumented(s)
	if breaker.Enabled {
		s = NewBreaker(s, breaker)
	}
	return s, nil
}

// Unwrap strips the breaker and instrumentation wrappers added by New.
func Unwrap(s ListenStore) ListenStore {
	for {
		switch w := s.(type) {
		case *Breaker:
			s = w.inner
		case *Instrumented:
			s = w.ListenStore
		default:
			return s
		}
	}
}

// Maintain runs periodic housekeeping for backends that need it: value log
// GC for badger and a WAL checkpoint for duckdb.
func Maintain(ctx context.Context, s ListenStore) error {
	switch b := Unwrap(s).(type) {
	case *Badger:
		return b.RunGC()
	case *DuckDB:
		if b.path == "" {
			return nil
		}
		return b.Checkpoint(ctx)
	}
	return nil
}
