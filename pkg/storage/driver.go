// Package storage defines the document tier: durable, key-addressed
// session metadata shared across devices.
package storage

import (
	"context"

	"github.com/papercomputeco/keepsake/pkg/chat"
)

// Driver persists chat sessions. Writes are whole-record upserts keyed by
// (user, chat); the last writer wins.
type Driver interface {
	// GetSession returns the session for key, or a NotFoundError.
	GetSession(ctx context.Context, key chat.Key) (*chat.Session, error)

	// PutSession creates or replaces a session.
	PutSession(ctx context.Context, s *chat.Session) error

	// ListSessions returns a user's sessions, most recently active first.
	ListSessions(ctx context.Context, userID string) ([]*chat.Session, error)

	// DeleteSession removes a session. Deleting a missing session is not an
	// error.
	DeleteSession(ctx context.Context, key chat.Key) error

	// Close releases any resources held by the driver.
	Close() error
}
