// Package inmemory implements storage.Driver with a process-local map.
package inmemory

import (
	"context"
	"errors"
	"sort"
	"sync"

	"github.com/papercomputeco/keepsake/pkg/chat"
	"github.com/papercomputeco/keepsake/pkg/storage"
)

// Driver implements storage.Driver using an in-memory map.
type Driver struct {
	// mu guards sessions
	mu sync.RWMutex

	// sessions is keyed by chat.Key.String()
	sessions map[string]*chat.Session
}

// NewDriver creates a new in-memory document store.
func NewDriver() *Driver {
	return &Driver{
		sessions: make(map[string]*chat.Session),
	}
}

// GetSession returns a copy of the stored session.
func (d *Driver) GetSession(_ context.Context, key chat.Key) (*chat.Session, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	s, ok := d.sessions[key.String()]
	if !ok {
		return nil, storage.NotFoundError{Key: key}
	}

	return s.Clone(), nil
}

// PutSession stores a copy of s.
func (d *Driver) PutSession(_ context.Context, s *chat.Session) error {
	if s == nil {
		return errors.New("cannot store nil session")
	}
	if !s.Key().Valid() {
		return errors.New("session has no user or chat id")
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	d.sessions[s.Key().String()] = s.Clone()
	return nil
}

// ListSessions returns the user's sessions, most recently active first.
func (d *Driver) ListSessions(_ context.Context, userID string) ([]*chat.Session, error) {
	d.mu.RLock()
	defer d.mu.RUnlock()

	out := make([]*chat.Session, 0)
	for _, s := range d.sessions {
		if s.UserID == userID {
			out = append(out, s.Clone())
		}
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastActivity.Equal(out[j].LastActivity) {
			return out[i].LastActivity.After(out[j].LastActivity)
		}
		return out[i].ChatID < out[j].ChatID
	})

	return out, nil
}

// DeleteSession removes a session.
func (d *Driver) DeleteSession(_ context.Context, key chat.Key) error {
	d.mu.Lock()
	defer d.mu.Unlock()

	delete(d.sessions, key.String())
	return nil
}

// Close is a no-op for the in-memory driver.
func (d *Driver) Close() error {
	return nil
}

var _ storage.Driver = (*Driver)(nil)
