// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

//go:build integration

package queue

import (
	"context"
	"testing"
	"time"

	"github.com/goccy/go-json"

	"github.com/tomtom215/tracklog/internal/config"
	"github.com/tomtom215/tracklog/internal/ingest"
	"github.com/tomtom215/tracklog/internal/models"
	"github.com/tomtom215/tracklog/internal/store"
)

func TestEmbeddedJetStreamRoundTrip(t *testing.T) {
	srv, err := NewEmbeddedServer("127.0.0.1", -1, t.TempDir())
	if err != nil {
		t.Fatalf("NewEmbeddedServer: %v", err)
	}
	defer func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(ctx)
	}()
	if !srv.IsRunning() {
		t.Fatal("server should be running")
	}

	cfg := config.QueueConfig{
		URL:              srv.ClientURL(),
		Topic:            "listens-it",
		DurableName:      "writer-it",
		QueueGroup:       "writers-it",
		SubscribersCount: 2,
		AckWaitTimeout:   5 * time.Second,
		CloseTimeout:     5 * time.Second,
	}

	s := store.NewMemory(matcher)
	w, err := NewWriter(cfg, ingest.NewPipeline(s, nil, matcher), nil)
	if err != nil {
		t.Fatalf("NewWriter: %v", err)
	}
	pub, err := NewPublisher(cfg, nil)
	if err != nil {
		t.Fatalf("NewPublisher: %v", err)
	}
	defer pub.Close()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = w.Run(ctx) }()
	defer w.Close()

	batch := []json.RawMessage{rawListen(100, "A", "One"), rawListen(200, "A", "Two")}
	for range 3 {
		if _, err := pub.PublishSubmission(ctx, &SubmissionMessage{
			UserIdentity: "jetstream user",
			ListenType:   models.ListenTypeImport,
			Listens:      batch,
		}); err != nil {
			t.Fatalf("publish: %v", err)
		}
	}

	deadline := time.Now().Add(15 * time.Second)
	for {
		n, err := s.CountListens(ctx, "jetstream%20user")
		if err != nil {
			t.Fatal(err)
		}
		if n == 2 {
			break
		}
		if n > 2 || time.Now().After(deadline) {
			t.Fatalf("stored %d listens, want 2", n)
		}
		time.Sleep(50 * time.Millisecond)
	}
}
