// Tracklog - Listen History Ingestion with Write-Time Deduplication
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/tracklog

package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ThreeDotsLabs/watermill"
	wmNats "github.com/ThreeDotsLabs/watermill-nats/v2/pkg/nats"
	"github.com/ThreeDotsLabs/watermill/message"
	natsgo "github.com/nats-io/nats.go"

	"github.com/tomtom215/tracklog/internal/config"
	"github.com/tomtom215/tracklog/internal/ingest"
	"github.com/tomtom215/tracklog/internal/logging"
	"github.com/tomtom215/tracklog/internal/metrics"
	"github.com/tomtom215/tracklog/internal/models"
	"github.com/tomtom215/tracklog/internal/store"
)

// Submitter runs a batch through the deduplication pipeline.
type Submitter interface {
	Submit(ctx context.Context, rawIdentity string, listens []models.ListenInput) (ingest.Result, error)
}

// Settlement is how a consumed message was settled.
type Settlement string

const (
	SettledAck     Settlement = "ack"
	SettledRetry   Settlement = "retry"
	SettledDropped Settlement = "dropped"
)

// Writer consumes queued submissions and writes them through the pipeline.
type Writer struct {
	subscriber message.Subscriber
	topic      string
	pipeline   Submitter
}

// NewWriter connects a durable JetStream consumer for cfg.Topic.
func NewWriter(cfg config.QueueConfig, pipeline Submitter, logger watermill.LoggerAdapter) (*Writer, error) {
	if logger == nil {
		logger = watermill.NopLogger{}
	}

	natsOpts := []natsgo.Option{
		natsgo.RetryOnFailedConnect(true),
		natsgo.MaxReconnects(-1),
		natsgo.ReconnectWait(2 * time.Second),
		natsgo.DisconnectErrHandler(func(_ *natsgo.Conn, err error) {
			if err != nil {
				logger.Error("NATS writer disconnected", err, nil)
			}
		}),
		natsgo.ReconnectHandler(func(nc *natsgo.Conn) {
			logger.Info("NATS writer reconnected", watermill.LogFields{"url": nc.ConnectedUrl()})
		}),
	}

	sub, err := wmNats.NewSubscriber(wmNats.SubscriberConfig{
		URL:              cfg.URL,
		QueueGroupPrefix: cfg.QueueGroup,
		SubscribersCount: cfg.SubscribersCount,
		AckWaitTimeout:   cfg.AckWaitTimeout,
		CloseTimeout:     cfg.CloseTimeout,
		NatsOptions:      natsOpts,
		Unmarshaler:      &wmNats.NATSMarshaler{},
		JetStream: wmNats.JetStreamConfig{
			AutoProvision: true,
			SubscribeOptions: []natsgo.SubOpt{
				natsgo.AckWait(cfg.AckWaitTimeout),
				natsgo.MaxDeliver(-1),
				natsgo.DeliverAll(),
			},
			DurablePrefix: cfg.DurableName,
		},
	}, logger)
	if err != nil {
		return nil, fmt.Errorf("create watermill subscriber: %w", err)
	}

	return &Writer{subscriber: sub, topic: cfg.Topic, pipeline: pipeline}, nil
}

// newWriterWith wraps an existing watermill subscriber.
func newWriterWith(sub message.Subscriber, topic string, pipeline Submitter) *Writer {
	return &Writer{subscriber: sub, topic: topic, pipeline: pipeline}
}

// Run consumes until ctx is canceled or the subscription closes.
func (w *Writer) Run(ctx context.Context) error {
	messages, err := w.subscriber.Subscribe(ctx, w.topic)
	if err != nil {
		return fmt.Errorf("subscribe to %s: %w", w.topic, err)
	}
	logging.Info().Str("topic", w.topic).Msg("Queue writer started")

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case msg, ok := <-messages:
			if !ok {
				return nil
			}
			w.Handle(ctx, msg)
		}
	}
}

// Handle processes one message and settles it.
func (w *Writer) Handle(ctx context.Context, msg *message.Message) Settlement {
	start := time.Now()
	settlement := w.process(ctx, msg)
	switch settlement {
	case SettledRetry:
		msg.Nack()
	default:
		msg.Ack()
	}
	metrics.RecordNATSConsume(string(settlement), time.Since(start))
	return settlement
}

func (w *Writer) process(ctx context.Context, msg *message.Message) Settlement {
	log := logging.Ctx(ctx).With().Str("message_uuid", msg.UUID).Logger()

	sub, err := DecodeSubmission(msg.Payload)
	if err != nil {
		log.Error().Err(err).Msg("Dropping undecodable submission")
		return SettledDropped
	}
	if sub.CorrelationID != "" {
		ctx = logging.ContextWithCorrelationID(ctx, sub.CorrelationID)
	}

	res, err := w.pipeline.Submit(ctx, sub.UserIdentity, sub.Inputs())
	switch {
	case err == nil:
		sum := res.Summary()
		logging.Ctx(ctx).Debug().
			Str("user_key", res.UserKey).
			Int("accepted", sum.Accepted).
			Int("duplicate", sum.Duplicate).
			Int("malformed", sum.Malformed).
			Msg("Queued submission written")
		return SettledAck
	case errors.Is(err, ingest.ErrTooManyListens):
		logging.Ctx(ctx).Error().Err(err).Msg("Dropping oversized submission")
		return SettledDropped
	case store.IsUnavailable(err), errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		logging.Ctx(ctx).Warn().Err(err).Msg("Queued submission will be redelivered")
		return SettledRetry
	default:
		logging.Ctx(ctx).Error().Err(err).Msg("Queued submission failed, will be redelivered")
		return SettledRetry
	}
}

// Close stops the subscription.
func (w *Writer) Close() error {
	return w.subscriber.Close()
}
