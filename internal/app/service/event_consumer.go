package service

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/privacykit/shortlink/internal/app/model"
	"go.uber.org/zap"
)

// EventConsumer consumes deactivation events from NATS JetStream and applies
// tombstones to the gone-cache, so every replica converges on the terminal
// state without re-reading the store.
type EventConsumer struct {
	js     nats.JetStreamContext
	logger *zap.Logger
	gone   *GoneCache
}

// NewEventConsumer creates a new deactivation event consumer
func NewEventConsumer(js nats.JetStreamContext, logger *zap.Logger, gone *GoneCache) *EventConsumer {
	return &EventConsumer{js: js, logger: logger, gone: gone}
}

// Start begins consuming deactivation events
func (c *EventConsumer) Start() error {
	// Create stream if not exists
	_, err := c.js.StreamInfo(model.DeactivationStreamName)
	if err != nil {
		_, err = c.js.AddStream(&nats.StreamConfig{
			Name:     model.DeactivationStreamName,
			Subjects: []string{model.DeactivationStreamSubject},
			MaxBytes: model.DeactivationStreamMaxSize,
		})
		if err != nil {
			return fmt.Errorf("failed to create stream: %w", err)
		}
	}

	// Create consumer if not exists
	_, err = c.js.ConsumerInfo(model.DeactivationStreamName, model.DeactivationConsumerName)
	if err != nil {
		_, err = c.js.AddConsumer(model.DeactivationStreamName, &nats.ConsumerConfig{
			Durable:   model.DeactivationConsumerName,
			AckPolicy: nats.AckExplicitPolicy,
		})
		if err != nil {
			return fmt.Errorf("failed to create consumer: %w", err)
		}
	}

	sub, err := c.js.PullSubscribe(model.DeactivationStreamSubject, model.DeactivationConsumerName)
	if err != nil {
		return fmt.Errorf("failed to subscribe: %w", err)
	}

	go c.consume(sub)
	return nil
}

func (c *EventConsumer) consume(sub *nats.Subscription) {
	ctx := context.Background()
	for {
		msgs, err := sub.Fetch(10, nats.MaxWait(5*time.Second))
		if err != nil && err != nats.ErrTimeout {
			c.logger.Error("failed to fetch messages", zap.Error(err))
			continue
		}

		for _, msg := range msgs {
			var event model.LinkDeactivatedEvent
			if err := json.Unmarshal(msg.Data, &event); err != nil {
				c.logger.Error("failed to unmarshal deactivation event", zap.Error(err))
				msg.Nak()
				continue
			}

			denial := Denial{
				Reason:    DenialReason(event.Reason),
				ExpiresAt: event.ExpiresAt,
				MaxClicks: event.MaxClicks,
			}
			if err := c.gone.Set(ctx, event.ShortCode, denial); err != nil {
				c.logger.Error("failed to tombstone code",
					zap.String("id", event.ID),
					zap.String("short_code", event.ShortCode),
					zap.Error(err))
				msg.Nak()
				continue
			}

			c.logger.Debug("code tombstoned",
				zap.String("id", event.ID),
				zap.String("short_code", event.ShortCode),
				zap.String("reason", event.Reason),
				zap.Time("occurred_at", event.OccurredAt),
			)

			msg.Ack()
		}
	}
}
