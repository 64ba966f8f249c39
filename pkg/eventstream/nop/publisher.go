// Package nop provides the durability event publisher used when keepsake runs
// without a broker.
package nop

import (
	"context"
	"log/slog"

	"github.com/papercomputeco/keepsake/pkg/eventstream"
)

// Publisher drops durability events. With a logger it records each dropped
// event at debug level so turn and session transitions stay visible.
type Publisher struct {
	logger *slog.Logger
}

// NewPublisher creates a publisher that drops every event. logger may be nil.
func NewPublisher(logger *slog.Logger) *Publisher {
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	return &Publisher{logger: logger}
}

// Publish rejects nil events and otherwise drops the event.
func (p *Publisher) Publish(ctx context.Context, event *eventstream.DurabilityEvent) error {
	if event == nil {
		return eventstream.ErrNilEvent
	}

	p.logger.DebugContext(ctx, "durability event dropped",
		"event_type", event.EventType,
		"event_id", event.EventID,
		"user_id", event.UserID,
		"chat_id", event.ChatID,
		"turn_id", event.TurnID,
	)
	return nil
}

// Close is a no-op.
func (p *Publisher) Close() error {
	return nil
}
