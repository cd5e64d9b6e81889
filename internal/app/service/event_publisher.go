package service

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"github.com/nats-io/nats.go"
	"github.com/privacykit/shortlink/internal/app/model"
)

// EventPublisher publishes link deactivation events to NATS JetStream
type EventPublisher struct {
	js nats.JetStreamContext
}

// NewEventPublisher creates a new deactivation event publisher
func NewEventPublisher(js nats.JetStreamContext) *EventPublisher {
	return &EventPublisher{js: js}
}

// PublishDeactivated announces that a code has latched off.
func (p *EventPublisher) PublishDeactivated(code string, d Denial) error {
	event := model.LinkDeactivatedEvent{
		ID:         uuid.New().String(),
		ShortCode:  code,
		Reason:     string(d.Reason),
		ExpiresAt:  d.ExpiresAt,
		MaxClicks:  d.MaxClicks,
		OccurredAt: time.Now(),
	}

	data, err := json.Marshal(event)
	if err != nil {
		return err
	}

	_, err = p.js.Publish(model.DeactivationStreamSubject, data)
	return err
}
