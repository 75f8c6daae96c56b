// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

package supervisor

import (
	"context"
	"errors"
	"log/slog"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tomtom215/tracklog/internal/logging"
	"github.com/tomtom215/tracklog/internal/supervisor/services"
)

func TestNewTree_AppliesDefaults(t *testing.T) {
	tree := NewTree(logging.NewSlogLogger(), TreeConfig{FailureBackoff: time.Second})
	want := DefaultTreeConfig()
	if tree.config.FailureThreshold != want.FailureThreshold || tree.config.FailureDecay != want.FailureDecay {
		t.Errorf("config = %+v", tree.config)
	}
	if tree.config.FailureBackoff != time.Second {
		t.Errorf("explicit backoff overwritten: %v", tree.config.FailureBackoff)
	}
}

type flakyService struct {
	starts atomic.Int32
}

func (f *flakyService) Serve(ctx context.Context) error {
	if f.starts.Add(1) == 1 {
		return errors.New("first run fails")
	}
	<-ctx.Done()
	return ctx.Err()
}

func TestTree_RestartsFailedServiceAndStops(t *testing.T) {
	logger := slog.New(logging.NewSlogHandler())
	tree := NewTree(logger, TreeConfig{FailureBackoff: 10 * time.Millisecond, ShutdownTimeout: time.Second})

	flaky := &flakyService{}
	var ticks atomic.Int32
	tree.AddMessagingService(flaky)
	tree.AddDataService(services.NewPeriodicService("tick", 5*time.Millisecond, func(context.Context) error {
		ticks.Add(1)
		return nil
	}))

	ctx, cancel := context.WithCancel(context.Background())
	errCh := tree.ServeBackground(ctx)

	deadline := time.Now().Add(3 * time.Second)
	for flaky.starts.Load() < 2 || ticks.Load() < 2 {
		if time.Now().After(deadline) {
			t.Fatalf("starts = %d, ticks = %d", flaky.starts.Load(), ticks.Load())
		}
		time.Sleep(5 * time.Millisecond)
	}

	cancel()
	select {
	case <-errCh:
	case <-time.After(3 * time.Second):
		t.Fatal("tree did not stop")
	}
	report, err := tree.UnstoppedServiceReport()
	if err != nil {
		t.Fatal(err)
	}
	if len(report) != 0 {
		t.Errorf("unstopped services: %v", report)
	}
}
