package eventstream

import "context"

// Publisher publishes durability events to an event stream backend.
type Publisher interface {
	Publish(ctx context.Context, event *DurabilityEvent) error
	Close() error
}
