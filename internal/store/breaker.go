// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

package store

import (
	"context"
	"errors"
	"fmt"

	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/tomtom215/tracklog/internal/config"
	"github.com/tomtom215/tracklog/internal/logging"
	"github.com/tomtom215/tracklog/internal/metrics"
	"github.com/tomtom215/tracklog/internal/models"
)

// Breaker wraps a ListenStore with a circuit breaker. While open, calls fail
// fast with ErrStorageUnavailable instead of waiting on a dead backend.
// Duplicates are successful calls and never count toward tripping.
type Breaker struct {
	inner ListenStore
	cb    *gobreaker.CircuitBreaker[interface{}]
}

// NewBreaker wraps inner using cfg.
func NewBreaker(inner ListenStore, cfg config.BreakerConfig) *Breaker {
	name := "store-" + inner.Name()
	settings := gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    cfg.Interval,
		Timeout:     cfg.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.FailureThreshold
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().Str("breaker", name).Str("from", from.String()).Str("to", to.String()).
				Msg("Store circuit breaker state changed")
			metrics.SetBreakerState(name, int(to))
		},
		// Only infrastructure failures count; caller cancellation does not.
		IsSuccessful: func(err error) bool {
			return err == nil || !IsUnavailable(err)
		},
	}
	metrics.SetBreakerState(name, int(gobreaker.StateClosed))
	return &Breaker{inner: inner, cb: gobreaker.NewCircuitBreaker[interface{}](settings)}
}

// State returns the breaker state as a string.
func (b *Breaker) State() string {
	return b.cb.State().String()
}

// Unwrap returns the protected store.
func (b *Breaker) Unwrap() ListenStore { return b.inner }

func (b *Breaker) execute(fn func() (interface{}, error)) (interface{}, error) {
	v, err := b.cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return nil, fmt.Errorf("%s: %w: %w", b.cb.Name(), ErrStorageUnavailable, err)
	}
	return v, err
}

// WriteUnique implements ListenStore.
func (b *Breaker) WriteUnique(ctx context.Context, l *models.Listen) (WriteResult, error) {
	v, err := b.execute(func() (interface{}, error) {
		return b.inner.WriteUnique(ctx, l)
	})
	if err != nil {
		return WriteResult{}, err
	}
	return v.(WriteResult), nil
}

// FetchRange implements ListenStore.
func (b *Breaker) FetchRange(ctx context.Context, q RangeQuery) ([]models.Listen, error) {
	v, err := b.execute(func() (interface{}, error) {
		return b.inner.FetchRange(ctx, q)
	})
	if err != nil {
		return nil, err
	}
	return v.([]models.Listen), nil
}

// CountListens implements ListenStore.
func (b *Breaker) CountListens(ctx context.Context, userKey string) (int64, error) {
	v, err := b.execute(func() (interface{}, error) {
		return b.inner.CountListens(ctx, userKey)
	})
	if err != nil {
		return 0, err
	}
	return v.(int64), nil
}

// Ping bypasses the breaker so readiness reflects the backend itself.
func (b *Breaker) Ping(ctx context.Context) error { return b.inner.Ping(ctx) }

// Name implements ListenStore.
func (b *Breaker) Name() string { return b.inner.Name() }

// Close implements ListenStore.
func (b *Breaker) Close() error { return b.inner.Close() }

var _ ListenStore = (*Breaker)(nil)
