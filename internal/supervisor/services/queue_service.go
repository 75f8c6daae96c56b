// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

package services

import (
	"context"
	"errors"
	"fmt"
)

// QueueRunner is satisfied by *queue.Writer.
type QueueRunner interface {
	Run(ctx context.Context) error
}

// QueueWriterService consumes queued submissions. A subscription that ends
// while the context is still live counts as a failure so suture restarts it.
type QueueWriterService struct {
	writer QueueRunner
}

// NewQueueWriterService wraps writer.
func NewQueueWriterService(writer QueueRunner) *QueueWriterService {
	return &QueueWriterService{writer: writer}
}

// Serve implements suture.Service.
func (s *QueueWriterService) Serve(ctx context.Context) error {
	err := s.writer.Run(ctx)
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if err == nil || errors.Is(err, context.Canceled) {
		return fmt.Errorf("queue writer stopped unexpectedly")
	}
	return fmt.Errorf("queue writer failed: %w", err)
}

func (s *QueueWriterService) String() string { return "queue-writer" }
