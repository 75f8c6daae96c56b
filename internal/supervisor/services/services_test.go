// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

package services

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"

	"github.com/tomtom215/tracklog/internal/cache"
	"github.com/tomtom215/tracklog/internal/fingerprint"
	"github.com/tomtom215/tracklog/internal/metrics"
	"github.com/tomtom215/tracklog/internal/store"
)

type mockHTTPServer struct {
	listenErr error
	stopCh    chan struct{}
	shutdowns atomic.Int32
}

func newMockHTTPServer() *mockHTTPServer {
	return &mockHTTPServer{stopCh: make(chan struct{})}
}

func (m *mockHTTPServer) ListenAndServe() error {
	if m.listenErr != nil {
		return m.listenErr
	}
	<-m.stopCh
	return http.ErrServerClosed
}

func (m *mockHTTPServer) Shutdown(context.Context) error {
	m.shutdowns.Add(1)
	close(m.stopCh)
	return nil
}

func TestHTTPServerService_ShutsDownOnCancel(t *testing.T) {
	srv := newMockHTTPServer()
	svc := NewHTTPServerService(srv, time.Second)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	cancel()
	select {
	case err := <-done:
		if !errors.Is(err, context.Canceled) {
			t.Errorf("Serve = %v, want context.Canceled", err)
		}
	case <-time.After(2 * time.Second):
		t.Fatal("Serve did not return")
	}
	if srv.shutdowns.Load() != 1 {
		t.Errorf("Shutdown called %d times", srv.shutdowns.Load())
	}
	if svc.String() != "http-server" {
		t.Errorf("String = %q", svc.String())
	}
}

func TestHTTPServerService_ListenFailure(t *testing.T) {
	srv := newMockHTTPServer()
	srv.listenErr = errors.New("address in use")

	err := NewHTTPServerService(srv, 0).Serve(context.Background())
	if err == nil || !strings.Contains(err.Error(), "address in use") {
		t.Errorf("Serve = %v", err)
	}
}

type runnerFunc func(ctx context.Context) error

func (f runnerFunc) Run(ctx context.Context) error { return f(ctx) }

func TestQueueWriterService(t *testing.T) {
	t.Run("returns context error on shutdown", func(t *testing.T) {
		ctx, cancel := context.WithCancel(context.Background())
		cancel()
		svc := NewQueueWriterService(runnerFunc(func(ctx context.Context) error { return ctx.Err() }))
		if err := svc.Serve(ctx); !errors.Is(err, context.Canceled) {
			t.Errorf("Serve = %v", err)
		}
	})

	t.Run("closed subscription is a failure", func(t *testing.T) {
		svc := NewQueueWriterService(runnerFunc(func(context.Context) error { return nil }))
		if err := svc.Serve(context.Background()); err == nil {
			t.Error("expected an error so the supervisor restarts the writer")
		}
	})

	t.Run("wraps subscribe errors", func(t *testing.T) {
		boom := errors.New("no responders")
		svc := NewQueueWriterService(runnerFunc(func(context.Context) error { return boom }))
		if err := svc.Serve(context.Background()); !errors.Is(err, boom) {
			t.Errorf("Serve = %v", err)
		}
	})
}

func TestPeriodicService_RunsUntilCanceled(t *testing.T) {
	var runs atomic.Int32
	svc := NewPeriodicService("test-task", 5*time.Millisecond, func(context.Context) error {
		if runs.Add(1)%2 == 0 {
			return errors.New("transient")
		}
		return nil
	})

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- svc.Serve(ctx) }()

	deadline := time.Now().Add(2 * time.Second)
	for runs.Load() < 4 {
		if time.Now().After(deadline) {
			t.Fatalf("task ran %d times", runs.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}
	cancel()
	if err := <-done; !errors.Is(err, context.Canceled) {
		t.Errorf("Serve = %v", err)
	}
}

func TestCacheJanitorTask(t *testing.T) {
	m := cache.NewMemory(cache.MemoryConfig{Capacity: 10, TTL: time.Minute, BloomExpected: 100, BloomFPRate: 0.01},
		fingerprint.NewMatcher(10))
	task, ok := CacheJanitorTask(m)
	if !ok {
		t.Fatal("memory cache should get a janitor")
	}
	if err := m.Register(context.Background(), fingerprint.Fingerprint{UserKey: "u", TrackIdentity: "t", Timestamp: 1}); err != nil {
		t.Fatal(err)
	}
	if err := task(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(metrics.CacheEntries); got != 1 {
		t.Errorf("cache entries gauge = %v, want 1", got)
	}

	if _, ok := CacheJanitorTask(cache.Disabled{}); ok {
		t.Error("disabled cache needs no janitor")
	}
}

func TestStoreMaintenanceTask(t *testing.T) {
	before := testutil.ToFloat64(metrics.StoreMaintenance.WithLabelValues("ok"))
	task := StoreMaintenanceTask(store.NewMemory(fingerprint.NewMatcher(10)))
	if err := task(context.Background()); err != nil {
		t.Fatal(err)
	}
	if got := testutil.ToFloat64(metrics.StoreMaintenance.WithLabelValues("ok")); got != before+1 {
		t.Errorf("maintenance counter = %v, want %v", got, before+1)
	}
}
