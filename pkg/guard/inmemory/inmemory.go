// Package inmemory implements guard.Guard with a process-local lease table.
package inmemory

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/papercomputeco/keepsake/pkg/chat"
	"github.com/papercomputeco/keepsake/pkg/guard"
	"github.com/papercomputeco/keepsake/pkg/metrics"
)

// Config holds configuration for the in-memory guard.
type Config struct {
	// TTL is the lease length. Defaults to guard.DefaultTTL.
	TTL time.Duration

	// SweepInterval, when positive, starts a background sweeper that drops
	// expired leases. Expired leases are also reclaimed lazily on Acquire.
	SweepInterval time.Duration

	// Now is the clock. Defaults to time.Now.
	Now func() time.Time

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Guard implements guard.Guard using an in-process map.
type Guard struct {
	ttl     time.Duration
	now     func() time.Time
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu     sync.Mutex
	leases map[string]guard.Lock

	stop chan struct{}
	wg   sync.WaitGroup
}

// NewGuard creates an in-memory guard.
func NewGuard(c Config) *Guard {
	if c.TTL <= 0 {
		c.TTL = guard.DefaultTTL
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}

	g := &Guard{
		ttl:     c.TTL,
		now:     c.Now,
		metrics: c.Metrics,
		logger:  c.Logger,
		leases:  make(map[string]guard.Lock),
		stop:    make(chan struct{}),
	}

	if c.SweepInterval > 0 {
		g.wg.Add(1)
		go g.sweeper(c.SweepInterval)
	}

	return g
}

// Acquire grants a lease unless an unexpired one exists for key.
func (g *Guard) Acquire(_ context.Context, key string) (guard.Lock, error) {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	if held, ok := g.leases[key]; ok {
		if now.Before(held.ExpiresAt()) {
			g.metrics.GuardBusy()
			return guard.Lock{}, chat.ErrLockConflict
		}
		g.logger.Warn("force-releasing expired lock",
			"key", key,
			"holder", held.Holder,
			"acquired_at", held.AcquiredAt,
		)
		g.metrics.GuardExpired()
	}

	lock := guard.Lock{
		Key:        key,
		Holder:     guard.NewHolder(),
		AcquiredAt: now,
		TTL:        g.ttl,
	}
	g.leases[key] = lock
	g.metrics.GuardGranted()

	return lock, nil
}

// Release drops the lease if lock is still the active holder.
func (g *Guard) Release(_ context.Context, lock guard.Lock) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	held, ok := g.leases[lock.Key]
	if !ok || held.Holder != lock.Holder {
		return guard.ErrNotHeld
	}

	delete(g.leases, lock.Key)
	return nil
}

// Refresh restarts the TTL of a held lease.
func (g *Guard) Refresh(_ context.Context, lock guard.Lock) (guard.Lock, error) {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	held, ok := g.leases[lock.Key]
	if !ok || held.Holder != lock.Holder || !now.Before(held.ExpiresAt()) {
		return guard.Lock{}, guard.ErrNotHeld
	}

	held.AcquiredAt = now
	g.leases[lock.Key] = held
	return held, nil
}

// Held reports whether key currently has an unexpired lease.
func (g *Guard) Held(key string) bool {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	held, ok := g.leases[key]
	return ok && now.Before(held.ExpiresAt())
}

// Sweep drops every expired lease and returns how many were removed.
func (g *Guard) Sweep() int {
	now := g.now()

	g.mu.Lock()
	defer g.mu.Unlock()

	removed := 0
	for key, held := range g.leases {
		if !now.Before(held.ExpiresAt()) {
			delete(g.leases, key)
			removed++
		}
	}
	return removed
}

// Close stops the sweeper, if running.
func (g *Guard) Close() error {
	select {
	case <-g.stop:
	default:
		close(g.stop)
	}
	g.wg.Wait()
	return nil
}

func (g *Guard) sweeper(interval time.Duration) {
	defer g.wg.Done()

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-g.stop:
			return
		case <-ticker.C:
			if n := g.Sweep(); n > 0 {
				g.logger.Debug("swept expired locks", "count", n)
			}
		}
	}
}
