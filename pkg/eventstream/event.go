package eventstream

import (
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/papercomputeco/keepsake/pkg/chat"
)

const (
	// SchemaVersionV1 is the first version of the event payload schema.
	SchemaVersionV1 = 1

	// EventTypeTurnDurable is emitted when a turn's attachments all carry
	// durable URLs.
	EventTypeTurnDurable = "keepsake.turn.durable"

	// EventTypeTurnFailed is emitted when a persistence job for a turn
	// exhausts its attempts.
	EventTypeTurnFailed = "keepsake.turn.failed"

	// EventTypeSessionSaved is emitted after a session's turns are written
	// to the vector tier.
	EventTypeSessionSaved = "keepsake.session.saved"
)

// DurabilityEvent is a transport-neutral payload describing a change in
// persistence state.
type DurabilityEvent struct {
	SchemaVersion int       `json:"schema_version"`
	EventType     string    `json:"event_type"`
	EventID       string    `json:"event_id"`
	EmittedAt     time.Time `json:"emitted_at"`
	UserID        string    `json:"user_id"`
	ChatID        string    `json:"chat_id"`
	TurnID        string    `json:"turn_id,omitempty"`
	Job           *JobMeta  `json:"job,omitempty"`

	// Turns is the number of turns written, for session events.
	Turns int `json:"turns,omitempty"`
}

// JobMeta describes the job that caused the event.
type JobMeta struct {
	ID       string `json:"id"`
	Kind     string `json:"kind"`
	Attempts int    `json:"attempts"`
	Error    string `json:"error,omitempty"`
}

// NewEvent returns an event of eventType for key with a fresh sortable id.
func NewEvent(eventType string, key chat.Key, now time.Time) *DurabilityEvent {
	return &DurabilityEvent{
		SchemaVersion: SchemaVersionV1,
		EventType:     eventType,
		EventID:       ulid.Make().String(),
		EmittedAt:     now.UTC(),
		UserID:        key.UserID,
		ChatID:        key.ChatID,
	}
}

// PartitionKey groups events for one conversation.
func (e *DurabilityEvent) PartitionKey() string {
	return e.UserID + "/" + e.ChatID
}
