package testutils

import (
	"context"
	"sync"

	"github.com/papercomputeco/keepsake/pkg/eventstream"
)

// RecordingPublisher keeps every published event.
type RecordingPublisher struct {
	mu     sync.Mutex
	events []*eventstream.DurabilityEvent
}

func NewRecordingPublisher() *RecordingPublisher {
	return &RecordingPublisher{}
}

func (p *RecordingPublisher) Publish(_ context.Context, e *eventstream.DurabilityEvent) error {
	if e == nil {
		return eventstream.ErrNilEvent
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

// Types returns the event types in publish order.
func (p *RecordingPublisher) Types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, len(p.events))
	for i, e := range p.events {
		out[i] = e.EventType
	}
	return out
}

// Events returns the published events.
func (p *RecordingPublisher) Events() []*eventstream.DurabilityEvent {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*eventstream.DurabilityEvent(nil), p.events...)
}

func (p *RecordingPublisher) Close() error {
	return nil
}
