// Package chat defines the conversation data model shared by every tier of
// the keepsake persistence layer: turns, attachment references and session
// metadata.
package chat

import (
	"strings"
	"time"
)

// Role identifies who produced a turn.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

// Valid reports whether r is a known role.
func (r Role) Valid() bool {
	return r == RoleUser || r == RoleAssistant
}

// Key identifies a conversation: one chat owned by one user.
type Key struct {
	UserID string `json:"user_id"`
	ChatID string `json:"chat_id"`
}

// String returns the canonical "user/chat" form used for locks, queue
// session keys and log attributes.
func (k Key) String() string {
	return k.UserID + "/" + k.ChatID
}

// Valid reports whether both halves of the key are set.
func (k Key) Valid() bool {
	return strings.TrimSpace(k.UserID) != "" && strings.TrimSpace(k.ChatID) != ""
}

// Durability tracks how far a turn has progressed towards the blob tier.
type Durability string

const (
	// DurabilityPending means at least one attachment is still uploading.
	DurabilityPending Durability = "pending"

	// DurabilityDurable means every attachment is a RemoteRef.
	DurabilityDurable Durability = "durable"

	// DurabilityFailed means an upload exhausted its retry budget. The turn
	// stays visible and keeps its PendingRef so it can be reconciled.
	DurabilityFailed Durability = "failed"

	// DurabilityIncomplete marks a turn recovered from long-term memory
	// without all of its attachment refs. It never becomes durable.
	DurabilityIncomplete Durability = "incomplete"
)

// Turn is one user or assistant exchange unit within a conversation.
// Turns are append-only; the only permitted mutations are resolving
// PendingRefs into RemoteRefs and the durability flag that follows.
type Turn struct {
	ID          string          `json:"id"`
	UserID      string          `json:"user_id"`
	ChatID      string          `json:"chat_id"`
	Role        Role            `json:"role"`
	Text        string          `json:"text"`
	Attachments []AttachmentRef `json:"attachments,omitempty"`
	CreatedAt   time.Time       `json:"created_at"`
	Durable     bool            `json:"durable"`
	Durability  Durability      `json:"durability"`
}

// Key returns the conversation key of the turn.
func (t *Turn) Key() Key {
	return Key{UserID: t.UserID, ChatID: t.ChatID}
}

// AllRemote reports whether every attachment has reached the blob tier.
// A turn without attachments is trivially remote.
func (t *Turn) AllRemote() bool {
	for _, ref := range t.Attachments {
		if ref.Kind != KindRemote {
			return false
		}
	}
	return true
}

// RefreshDurability recomputes Durable and Durability from the attachment
// refs. A failed marker is sticky until the failed ref is resolved; an
// incomplete marker is permanent.
func (t *Turn) RefreshDurability() {
	if t.Durability == DurabilityIncomplete {
		t.Durable = false
		return
	}
	if t.AllRemote() {
		t.Durable = true
		t.Durability = DurabilityDurable
		return
	}

	t.Durable = false
	if t.Durability != DurabilityFailed {
		t.Durability = DurabilityPending
	}
}

// Resolve replaces the PendingRef with the given correlation id by a
// RemoteRef pointing at url. Returns false when no such ref exists.
func (t *Turn) Resolve(correlationID, url string) bool {
	for i, ref := range t.Attachments {
		if ref.Kind == KindPending && ref.CorrelationID == correlationID {
			t.Attachments[i] = Remote(ref.ID, url, ref.ContentType)
			t.RefreshDurability()
			return true
		}
	}
	return false
}

// MarkFailed flags the turn as having a permanently failed upload.
func (t *Turn) MarkFailed() {
	t.Durable = false
	t.Durability = DurabilityFailed
}

// Clone returns a deep copy so callers cannot mutate buffer state.
func (t *Turn) Clone() *Turn {
	if t == nil {
		return nil
	}
	c := *t
	if t.Attachments != nil {
		c.Attachments = make([]AttachmentRef, len(t.Attachments))
		for i, ref := range t.Attachments {
			c.Attachments[i] = ref.clone()
		}
	}
	return &c
}
