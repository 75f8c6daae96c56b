// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

package queue

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/google/uuid"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/tracklog/internal/config"
	"github.com/tomtom215/tracklog/internal/metrics"
)

// Metadata keys set on published submissions.
const (
	MetadataUserIdentity = "user_identity"
	MetadataListenType   = "listen_type"
)

// Publisher hands submissions to JetStream.
type Publisher struct {
	publisher message.Publisher
	topic     string
	logger    watermill.LoggerAdapter

	mu     sync.RWMutex
	closed bool
}

// NewPublisher connects a JetStream publisher. The stream for cfg.Topic is
// provisioned on first publish.
func NewPublisher(cfg config.QueueConfig, logger watermill.LoggerAdapter) (*Publisher, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS publisher disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS publisher reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	pub, err := wmNats.NewPublisher(wmNats.PublisherConfig{
		URL:         cfg.URL,
		NatsOptions: natsOpts,
		Marshaler:   &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: true,
			TrackMsgId:    true,
			PublishOptions: []natsgo.PubOpt{
				natsgo.RetryAttempts(3),
				natsgo.RetryWait(100 * time.Millisecond),
			},
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill publisher: %w", err)
	}

	return &Publisher{publisher: pub, topic: cfg.Topic, logger: logger}, nil
}

// newPublisherWith wraps an existing watermill publisher.
func newPublisherWith(pub message.Publisher, topic string) *Publisher {
	return &Publisher{publisher: pub, topic: topic, logger: watermill.NopLogger{}}
}

// PublishSubmission queues one submission and returns its message id.
// The id doubles as the JetStream deduplication id.
func (p *Publisher) PublishSubmission(_ context.Context, sub *SubmissionMessage) (string, error) {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return "", fmt.Errorf("publisher is closed")
	}

	if sub.CorrelationID == "" {
		sub.CorrelationID = uuid.NewString()
	}
	if sub.ReceivedAt.IsZero() {
		sub.ReceivedAt = time.Now().UTC()
	}
	data, err := sub.Encode()
	if err != nil {
		return "", fmt.Errorf("encode submission: %w", err)
	}

	msg := message.NewMessage(sub.CorrelationID, data)
	msg.Metadata.Set(natsgo.MsgIdHdr, msg.UUID)
	msg.Metadata.Set(MetadataUserIdentity, sub.UserIdentity)
	msg.Metadata.Set(MetadataListenType, sub.ListenType)

	if err := p.publisher.Publish(p.topic, msg); err != nil {
		return "", fmt.Errorf("publish to %s: %w", p.topic, err)
	}
	metrics.RecordNATSPublish()
	return msg.UUID, nil
}

// Close stops the publisher. It is idempotent.
func (p *Publisher) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return nil
	}
	p.closed = true
	return p.publisher.Close()
}
