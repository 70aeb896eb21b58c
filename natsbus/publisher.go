package natsbus

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/slush-dev/pushrelay"
)

// DefaultEventPrefix is the subject prefix events are published under.
const DefaultEventPrefix = "pushrelay.events"

// EventPublisher is a pushrelay.Listener that republishes pipeline events as
// JSON on <prefix>.received and <prefix>.opened.
type EventPublisher struct {
	pub    Publisher
	prefix string
}

// NewEventPublisher creates an EventPublisher. An empty prefix means DefaultEventPrefix.
func NewEventPublisher(pub Publisher, prefix string) *EventPublisher {
	if prefix == "" {
		prefix = DefaultEventPrefix
	}
	return &EventPublisher{pub: pub, prefix: prefix}
}

// ReceivedSubject is the subject received envelopes are published on.
func (p *EventPublisher) ReceivedSubject() string { return p.prefix + ".received" }

// OpenedSubject is the subject opened notifications are published on.
func (p *EventPublisher) OpenedSubject() string { return p.prefix + ".opened" }

func (p *EventPublisher) OnReceived(ctx context.Context, env pushrelay.Envelope) error {
	return p.publishJSON(ctx, p.ReceivedSubject(), env)
}

func (p *EventPublisher) OnOpened(ctx context.Context, opened pushrelay.OpenedNotification) error {
	return p.publishJSON(ctx, p.OpenedSubject(), opened)
}

func (p *EventPublisher) publishJSON(ctx context.Context, subject string, v any) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("marshal event: %w", err)
	}
	if err := p.pub.Publish(subject, data); err != nil {
		return fmt.Errorf("publish %s: %w", subject, err)
	}
	return nil
}
