// Package guard provides per-conversation mutual exclusion.
//
// A Guard grants at most one Lock per key at a time. Every Lock carries a
// TTL; a lock that is not released before it expires is force-released so a
// crashed worker cannot wedge a conversation. A busy key is reported as
// chat.ErrLockConflict, which callers treat as "retry later".
package guard

import (
	"context"
	"errors"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/papercomputeco/keepsake/pkg/chat"
)

// DefaultTTL is the lease length granted when a guard is configured without one.
const DefaultTTL = 2 * time.Minute

// ErrNotHeld is returned by Release and Refresh when the caller's lock is no
// longer the active holder, typically because its TTL expired.
var ErrNotHeld = errors.New("lock not held")

// Lock is a granted lease on a conversation key.
type Lock struct {
	Key        string
	Holder     string
	AcquiredAt time.Time
	TTL        time.Duration
}

// ExpiresAt returns the instant the lease lapses.
func (l Lock) ExpiresAt() time.Time {
	return l.AcquiredAt.Add(l.TTL)
}

// Guard hands out per-key leases.
type Guard interface {
	// Acquire grants a lease on key, or returns chat.ErrLockConflict if
	// another holder has an unexpired lease.
	Acquire(ctx context.Context, key string) (Lock, error)

	// Release gives the lease back. Releasing a lease that already expired
	// returns ErrNotHeld and leaves any newer holder untouched.
	Release(ctx context.Context, lock Lock) error

	// Refresh extends a held lease by its TTL, measured from now.
	Refresh(ctx context.Context, lock Lock) (Lock, error)

	// Close releases guard resources.
	Close() error
}

// KeyFor derives the guard key for a conversation.
func KeyFor(k chat.Key) string {
	return k.String()
}

// NewHolder returns a fresh, sortable holder token.
func NewHolder() string {
	return ulid.Make().String()
}

// Do runs fn while holding the lease for key. The lease is released on
// every exit path, including errors and panics inside fn.
func Do(ctx context.Context, g Guard, key string, fn func(ctx context.Context, lock Lock) error) (err error) {
	lock, err := g.Acquire(ctx, key)
	if err != nil {
		return err
	}

	defer func() {
		// Release with a fresh context: the caller's may already be cancelled.
		relErr := g.Release(context.WithoutCancel(ctx), lock)
		if err == nil && relErr != nil && !errors.Is(relErr, ErrNotHeld) {
			err = relErr
		}
	}()

	return fn(ctx, lock)
}
