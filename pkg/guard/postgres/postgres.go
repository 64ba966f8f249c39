// Package postgres implements guard.Guard as a lease table in PostgreSQL so
// that several keepsake processes can share per-conversation exclusion.
package postgres

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/papercomputeco/keepsake/pkg/chat"
	"github.com/papercomputeco/keepsake/pkg/guard"
	"github.com/papercomputeco/keepsake/pkg/metrics"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS keepsake_locks (
	lock_key    TEXT PRIMARY KEY,
	holder      TEXT NOT NULL,
	acquired_at TIMESTAMPTZ NOT NULL,
	expires_at  TIMESTAMPTZ NOT NULL
)`

// Guard implements guard.Guard on a keepsake_locks table.
//
// The pool is owned by the caller; Close does not close it.
type Guard struct {
	pool    *pgxpool.Pool
	ttl     time.Duration
	now     func() time.Time
	metrics *metrics.Metrics
}

// Option configures a Guard.
type Option func(*Guard)

// WithTTL overrides guard.DefaultTTL.
func WithTTL(ttl time.Duration) Option {
	return func(g *Guard) {
		if ttl > 0 {
			g.ttl = ttl
		}
	}
}

// WithClock overrides time.Now.
func WithClock(now func() time.Time) Option {
	return func(g *Guard) {
		if now != nil {
			g.now = now
		}
	}
}

// WithMetrics records grants and conflicts.
func WithMetrics(m *metrics.Metrics) Option {
	return func(g *Guard) {
		g.metrics = m
	}
}

// NewGuard creates the lease table if needed and returns a guard.
func NewGuard(ctx context.Context, pool *pgxpool.Pool, opts ...Option) (*Guard, error) {
	if pool == nil {
		return nil, errors.New("guard: nil pool")
	}

	g := &Guard{
		pool: pool,
		ttl:  guard.DefaultTTL,
		now:  time.Now,
	}
	for _, opt := range opts {
		opt(g)
	}

	if _, err := pool.Exec(ctx, schemaSQL); err != nil {
		return nil, fmt.Errorf("creating lock table: %w", err)
	}

	return g, nil
}

// Acquire inserts a lease row, taking over an expired one. The conditional
// upsert is atomic, so concurrent acquirers see exactly one grant.
func (g *Guard) Acquire(ctx context.Context, key string) (guard.Lock, error) {
	now := g.now().UTC()
	lock := guard.Lock{
		Key:        key,
		Holder:     guard.NewHolder(),
		AcquiredAt: now,
		TTL:        g.ttl,
	}

	var holder string
	err := g.pool.QueryRow(ctx, `
		INSERT INTO keepsake_locks (lock_key, holder, acquired_at, expires_at)
		VALUES ($1, $2, $3, $4)
		ON CONFLICT (lock_key) DO UPDATE
		   SET holder = EXCLUDED.holder,
		       acquired_at = EXCLUDED.acquired_at,
		       expires_at = EXCLUDED.expires_at
		 WHERE keepsake_locks.expires_at <= $3
		RETURNING holder`,
		key, lock.Holder, now, lock.ExpiresAt(),
	).Scan(&holder)
	if errors.Is(err, pgx.ErrNoRows) {
		g.metrics.GuardBusy()
		return guard.Lock{}, chat.ErrLockConflict
	}
	if err != nil {
		return guard.Lock{}, chat.Unavailable("acquire lock", err)
	}

	g.metrics.GuardGranted()
	return lock, nil
}

// Release deletes the lease row if lock still holds it.
func (g *Guard) Release(ctx context.Context, lock guard.Lock) error {
	tag, err := g.pool.Exec(ctx,
		`DELETE FROM keepsake_locks WHERE lock_key = $1 AND holder = $2`,
		lock.Key, lock.Holder,
	)
	if err != nil {
		return chat.Unavailable("release lock", err)
	}
	if tag.RowsAffected() == 0 {
		return guard.ErrNotHeld
	}
	return nil
}

// Refresh pushes expires_at forward for an unexpired lease.
func (g *Guard) Refresh(ctx context.Context, lock guard.Lock) (guard.Lock, error) {
	now := g.now().UTC()
	lock.AcquiredAt = now
	lock.TTL = g.ttl

	tag, err := g.pool.Exec(ctx, `
		UPDATE keepsake_locks
		   SET acquired_at = $3, expires_at = $4
		 WHERE lock_key = $1 AND holder = $2 AND expires_at > $3`,
		lock.Key, lock.Holder, now, lock.ExpiresAt(),
	)
	if err != nil {
		return guard.Lock{}, chat.Unavailable("refresh lock", err)
	}
	if tag.RowsAffected() == 0 {
		return guard.Lock{}, guard.ErrNotHeld
	}
	return lock, nil
}

// Close is a no-op because the pool is owned by the caller.
func (g *Guard) Close() error { return nil }
