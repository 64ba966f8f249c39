// Package cache implements the response cache: content-addressed answers
// keyed by normalized prompt and context fingerprint, retained per
// category and replayed as a chunk stream on hit.
package cache

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/dgraph-io/ristretto"

	"github.com/papercomputeco/keepsake/pkg/metrics"
)

const (
	// DefaultCodeTTL is the retention of code answers.
	DefaultCodeTTL = 24 * time.Hour

	// DefaultQATTL is the retention of general answers.
	DefaultQATTL = time.Hour

	// DefaultMaxCost bounds the total bytes of cached values.
	DefaultMaxCost = 64 << 20

	entryOverhead = 256
)

// ErrInvalidCategory is returned by Store for an unknown category.
var ErrInvalidCategory = errors.New("invalid cache category")

// Config holds configuration for the response cache.
type Config struct {
	CodeTTL time.Duration
	QATTL   time.Duration

	// MaxCost bounds the summed cost (value bytes plus overhead) of
	// entries held by the backing store.
	MaxCost int64

	// Warm entries are loaded at construction and pinned.
	Warm []WarmEntry

	// Now is the clock used for TTL checks. Defaults to time.Now.
	Now func() time.Time

	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// WarmEntry is a canonical answer preloaded at start. It matches on the
// normalized prompt alone, regardless of context.
type WarmEntry struct {
	Prompt   string   `toml:"prompt" json:"prompt"`
	Value    string   `toml:"value" json:"value"`
	Category Category `toml:"category" json:"category"`
}

// Cache is the response cache.
type Cache struct {
	store   *ristretto.Cache
	ttls    map[Category]time.Duration
	now     func() time.Time
	metrics *metrics.Metrics
	logger  *slog.Logger

	mu   sync.RWMutex
	warm map[string]*Entry
}

// New creates a response cache and loads its warm set.
func New(c Config) (*Cache, error) {
	if c.CodeTTL <= 0 {
		c.CodeTTL = DefaultCodeTTL
	}
	if c.QATTL <= 0 {
		c.QATTL = DefaultQATTL
	}
	if c.MaxCost <= 0 {
		c.MaxCost = DefaultMaxCost
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}

	store, err := ristretto.NewCache(&ristretto.Config{
		NumCounters: max(c.MaxCost/entryOverhead*10, 1000),
		MaxCost:     c.MaxCost,
		BufferItems: 64,
	})
	if err != nil {
		return nil, fmt.Errorf("creating cache store: %w", err)
	}

	cache := &Cache{
		store: store,
		ttls: map[Category]time.Duration{
			CategoryCode: c.CodeTTL,
			CategoryQA:   c.QATTL,
		},
		now:     c.Now,
		metrics: c.Metrics,
		logger:  c.Logger,
		warm:    make(map[string]*Entry),
	}

	if n := cache.Warm(c.Warm); n > 0 {
		cache.logger.Info("warmed response cache", "entries", n)
	}

	return cache, nil
}

// TTL returns the retention configured for category.
func (c *Cache) TTL(category Category) time.Duration {
	return c.ttls[category]
}

// Lookup returns the live entry for key and increments its hit counter.
// Expired entries are dropped from the backing store and reported as a
// miss. Warm entries answer when the exact key is absent.
func (c *Cache) Lookup(key Key) (*Entry, bool) {
	if v, ok := c.store.Get(key.String()); ok {
		e, _ := v.(*Entry)
		if e != nil && !e.Expired(c.now()) {
			return c.hit(e), true
		}
		c.store.Del(key.String())
	}

	c.mu.RLock()
	e, ok := c.warm[key.Prompt]
	c.mu.RUnlock()
	if ok {
		return c.hit(e), true
	}

	c.metrics.CacheMiss()
	return nil, false
}

func (c *Cache) hit(e *Entry) *Entry {
	e.hits.Add(1)
	c.metrics.CacheHit(string(e.Category))
	return e
}

// Store records value under key. A rejected write is logged and
// otherwise ignored: it costs a later regeneration, never correctness.
func (c *Cache) Store(key Key, value string, category Category) (*Entry, error) {
	if !category.Valid() {
		return nil, fmt.Errorf("%w: %q", ErrInvalidCategory, category)
	}

	e := &Entry{
		Key:       key,
		Value:     value,
		Category:  category,
		TTL:       c.ttls[category],
		CreatedAt: c.now(),
	}

	if !c.store.SetWithTTL(key.String(), e, int64(len(value))+entryOverhead, e.TTL) {
		c.logger.Debug("cache store rejected entry", "category", category, "bytes", len(value))
		return e, nil
	}
	c.store.Wait()
	c.metrics.CacheStored(string(category))

	return e, nil
}

// Warm pins canonical entries and returns how many were loaded. Entries
// with an empty prompt or an unknown category are skipped.
func (c *Cache) Warm(entries []WarmEntry) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	n := 0
	for _, w := range entries {
		prompt := Normalize(w.Prompt)
		if prompt == "" || !w.Category.Valid() {
			c.logger.Warn("skipping warm cache entry", "prompt", w.Prompt, "category", w.Category)
			continue
		}
		c.warm[prompt] = &Entry{
			Key:       Key{Prompt: prompt},
			Value:     w.Value,
			Category:  w.Category,
			TTL:       c.ttls[w.Category],
			CreatedAt: c.now(),
			Warm:      true,
		}
		n++
	}
	return n
}

// Invalidate drops key from the backing store.
func (c *Cache) Invalidate(key Key) {
	c.store.Del(key.String())
}

// Close stops the backing store's goroutines.
func (c *Cache) Close() {
	c.store.Close()
}
