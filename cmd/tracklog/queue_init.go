// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

package main

import (
	"context"
	"fmt"
	"net/url"
	"strconv"
	"time"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/tomtom215/tracklog/internal/config"
	"github.com/tomtom215/tracklog/internal/logging"
	"github.com/tomtom215/tracklog/internal/queue"
	"github.com/tomtom215/tracklog/internal/supervisor"
	"github.com/tomtom215/tracklog/internal/supervisor/services"
)

// queueComponents holds the NATS side of queue ingestion mode.
type queueComponents struct {
	server    *queue.EmbeddedServer
	publisher *queue.Publisher
	writer    *queue.Writer
}

// initQueue starts the embedded server when configured, connects the
// publisher and registers the writer with the supervisor tree.
func initQueue(cfg config.QueueConfig, pipeline queue.Submitter, tree *supervisor.Tree) (*queueComponents, error) {
	qc := &queueComponents{}
	wmLogger := watermill.NewSlogLogger(logging.NewSlogLogger())

	if cfg.EmbeddedServer {
		host, port, err := hostPort(cfg.URL)
		if err != nil {
			return nil, err
		}
		qc.server, err = queue.NewEmbeddedServer(host, port, cfg.StoreDir)
		if err != nil {
			return nil, fmt.Errorf("start embedded NATS: %w", err)
		}
		cfg.URL = qc.server.ClientURL()
		logging.Info().Str("url", cfg.URL).Str("store_dir", cfg.StoreDir).Msg("Embedded NATS server started")
	}

	var err error
	if qc.publisher, err = queue.NewPublisher(cfg, wmLogger); err != nil {
		qc.Shutdown()
		return nil, fmt.Errorf("create queue publisher: %w", err)
	}
	if qc.writer, err = queue.NewWriter(cfg, pipeline, wmLogger); err != nil {
		qc.Shutdown()
		return nil, fmt.Errorf("create queue writer: %w", err)
	}

	tree.AddMessagingService(services.NewQueueWriterService(qc.writer))
	logging.Info().Str("topic", cfg.Topic).Int("subscribers", cfg.SubscribersCount).Msg("Queue writer added to supervisor tree")
	return qc, nil
}

// Shutdown closes the publisher, the writer and the embedded server, in that order.
func (qc *queueComponents) Shutdown() {
	if qc.publisher != nil {
		if err := qc.publisher.Close(); err != nil {
			logging.Warn().Err(err).Msg("Error closing queue publisher")
		}
	}
	if qc.writer != nil {
		if err := qc.writer.Close(); err != nil {
			logging.Warn().Err(err).Msg("Error closing queue writer")
		}
	}
	if qc.server != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := qc.server.Shutdown(ctx); err != nil {
			logging.Warn().Err(err).Msg("Embedded NATS server shutdown timed out")
		}
	}
}

func hostPort(natsURL string) (string, int, error) {
	u, err := url.Parse(natsURL)
	if err != nil {
		return "", 0, fmt.Errorf("parse queue url: %w", err)
	}
	host := u.Hostname()
	if host == "" {
		host = "127.0.0.1"
	}
	port := 4222
	if p := u.Port(); p != "" {
		if port, err = strconv.Atoi(p); err != nil {
			return "", 0, fmt.Errorf("parse queue port: %w", err)
		}
	}
	return host, port, nil
}
