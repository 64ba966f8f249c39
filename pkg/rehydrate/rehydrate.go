// Package rehydrate turns stored attachment references back into
// displayable content through an ordered chain: the local cache by remote
// URL, the local cache by content id, then a single-flight background fetch
// from the blob store.
package rehydrate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	lru "github.com/hashicorp/golang-lru/v2"
	"golang.org/x/sync/singleflight"

	"github.com/papercomputeco/keepsake/pkg/blob"
	"github.com/papercomputeco/keepsake/pkg/chat"
	"github.com/papercomputeco/keepsake/pkg/metrics"
)

const (
	DefaultCapacity     = 128
	DefaultFetchTimeout = 30 * time.Second
	DefaultRetryAfter   = 30 * time.Second
)

var (
	// ErrPending is returned by Wait for a reference whose upload has not
	// finished; there is nothing to fetch yet.
	ErrPending = errors.New("attachment upload still pending")

	// ErrUnresolvable is returned for references with neither a cached
	// payload nor a URL to fetch.
	ErrUnresolvable = errors.New("attachment cannot be resolved")
)

// Config configures a Resolver.
type Config struct {
	// Blobs is the store fetched from on a cache miss. Required.
	Blobs blob.Store

	// Capacity bounds the number of cached blobs. Least recently used
	// blobs are evicted first.
	Capacity int

	// FetchTimeout bounds one background fetch.
	FetchTimeout time.Duration

	// RetryAfter is how long a failed fetch is reported as failed before a
	// later resolution tries again.
	RetryAfter time.Duration

	Now     func() time.Time
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

type failure struct {
	err error
	at  time.Time
}

// Resolver is safe for concurrent use.
type Resolver struct {
	config Config
	cache  *lru.Cache[string, *cached]
	group  singleflight.Group
	logger *slog.Logger

	ctx    context.Context
	cancel context.CancelFunc

	// byURL maps owner-scoped remote URLs to cache keys.
	byURL sync.Map

	mu       sync.Mutex
	failures map[string]failure
}

// New creates a Resolver.
func New(c Config) (*Resolver, error) {
	if c.Blobs == nil {
		return nil, errors.New("resolver requires a blob store")
	}
	if c.Capacity <= 0 {
		c.Capacity = DefaultCapacity
	}
	if c.FetchTimeout <= 0 {
		c.FetchTimeout = DefaultFetchTimeout
	}
	if c.RetryAfter <= 0 {
		c.RetryAfter = DefaultRetryAfter
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}

	r := &Resolver{
		config:   c,
		logger:   c.Logger,
		failures: make(map[string]failure),
	}

	cache, err := lru.NewWithEvict(c.Capacity, func(_ string, e *cached) {
		if e.blob.RemoteURL != "" {
			r.byURL.Delete(cacheKey(e.blob.OwnerKey, e.blob.RemoteURL))
		}
	})
	if err != nil {
		return nil, fmt.Errorf("creating blob cache: %w", err)
	}
	r.cache = cache
	r.ctx, r.cancel = context.WithCancel(context.Background())

	return r, nil
}

// Resolve answers immediately. A cached payload is returned ready; a
// remote reference that misses the cache starts a background fetch and
// returns a loading placeholder. Concurrent resolutions of one attachment
// share a single fetch.
func (r *Resolver) Resolve(owner string, ref chat.AttachmentRef) Resolution {
	if res, ok := r.lookup(owner, ref); ok {
		return res
	}

	placeholder := Placeholder{ID: ref.ContentID(), ContentType: ref.ContentType, State: StateLoading}

	switch ref.Kind {
	case chat.KindPending:
		return Resolution{State: StateLoading, Strategy: StrategyPending, Placeholder: placeholder}
	case chat.KindRemote:
	default:
		placeholder.State = StateFailed
		return Resolution{State: StateFailed, Placeholder: placeholder, Err: ErrUnresolvable}
	}

	if err := r.recentFailure(owner, ref); err != nil {
		placeholder.State = StateFailed
		r.config.Metrics.Resolved("failed")
		return Resolution{State: StateFailed, Strategy: StrategyFetch, Placeholder: placeholder, Err: err}
	}

	r.group.DoChan(cacheKey(owner, ref.ContentID()), func() (any, error) {
		return r.fetch(owner, ref)
	})
	return Resolution{State: StateLoading, Strategy: StrategyFetch, Placeholder: placeholder}
}

// Wait resolves ref and blocks until its content is available, joining any
// fetch already in flight.
func (r *Resolver) Wait(ctx context.Context, owner string, ref chat.AttachmentRef) (*CachedBlob, error) {
	if res, ok := r.lookup(owner, ref); ok {
		return res.Blob, nil
	}

	switch ref.Kind {
	case chat.KindPending:
		return nil, ErrPending
	case chat.KindRemote:
	default:
		return nil, ErrUnresolvable
	}

	ch := r.group.DoChan(cacheKey(owner, ref.ContentID()), func() (any, error) {
		return r.fetch(owner, ref)
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return nil, res.Err
		}
		return res.Val.(*cached).snapshot(), nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Forget drops a cached attachment, e.g. after history deletion.
func (r *Resolver) Forget(owner string, ref chat.AttachmentRef) {
	r.cache.Remove(cacheKey(owner, ref.ContentID()))
	r.mu.Lock()
	delete(r.failures, cacheKey(owner, ref.ContentID()))
	r.mu.Unlock()
}

// Len returns the number of cached blobs.
func (r *Resolver) Len() int {
	return r.cache.Len()
}

// Close cancels in-flight fetches and empties the cache.
func (r *Resolver) Close() error {
	r.cancel()
	r.cache.Purge()
	return nil
}

// lookup runs the local steps of the chain: inline payloads, then the
// cache by remote URL, then the cache by content id.
func (r *Resolver) lookup(owner string, ref chat.AttachmentRef) (Resolution, bool) {
	if ref.Kind == chat.KindInline && len(ref.Payload) > 0 {
		e := r.put(owner, ref.ContentID(), ref.ContentType, ref.Payload, "")
		return r.ready(e, StrategyInline), true
	}

	if ref.Kind == chat.KindRemote && ref.URL != "" {
		if k, ok := r.byURL.Load(cacheKey(owner, ref.URL)); ok {
			if b, ok := r.cache.Get(k.(string)); ok {
				return r.ready(b, StrategyURL), true
			}
		}
	}

	if id := ref.ContentID(); id != "" {
		if e, ok := r.cache.Get(cacheKey(owner, id)); ok {
			return r.ready(e, StrategyContentID), true
		}
	}

	return Resolution{}, false
}

func (r *Resolver) ready(e *cached, s Strategy) Resolution {
	e.touch(r.config.Now())
	b := e.snapshot()
	r.config.Metrics.Resolved(string(s))
	return Resolution{
		State:       StateReady,
		Strategy:    s,
		Blob:        b,
		Placeholder: Placeholder{ID: b.ID, ContentType: b.ContentType, State: StateReady},
	}
}

func (r *Resolver) put(owner, id, contentType string, payload []byte, url string) *cached {
	e := &cached{blob: CachedBlob{
		ID:          id,
		OwnerKey:    owner,
		ContentType: contentType,
		Payload:     payload,
		RemoteURL:   url,
	}}
	e.touch(r.config.Now())

	key := cacheKey(owner, id)
	r.cache.Add(key, e)
	if url != "" {
		r.byURL.Store(cacheKey(owner, url), key)
	}
	return e
}

// fetch downloads ref and populates the cache. It runs at most once per
// attachment at a time and is detached from any caller's context.
func (r *Resolver) fetch(owner string, ref chat.AttachmentRef) (*cached, error) {
	key := cacheKey(owner, ref.ContentID())
	if e, ok := r.cache.Get(key); ok {
		return e, nil
	}

	ctx, cancel := context.WithTimeout(r.ctx, r.config.FetchTimeout)
	defer cancel()

	data, contentType, err := r.config.Blobs.Get(ctx, ref.URL)
	if err != nil {
		r.mu.Lock()
		r.failures[key] = failure{err: err, at: r.config.Now()}
		r.mu.Unlock()
		r.config.Metrics.Resolved("failed")
		r.logger.Warn("attachment fetch failed",
			"attachment_id", ref.ContentID(),
			"url", ref.URL,
			"error", err,
		)
		return nil, fmt.Errorf("fetching %s: %w", ref.URL, err)
	}

	r.mu.Lock()
	delete(r.failures, key)
	r.mu.Unlock()

	if ref.ContentType != "" {
		contentType = ref.ContentType
	}
	e := r.put(owner, ref.ContentID(), contentType, data, ref.URL)
	r.config.Metrics.Resolved(string(StrategyFetch))
	r.logger.Debug("attachment fetched",
		"attachment_id", e.blob.ID,
		"bytes", len(data),
	)
	return e, nil
}

func (r *Resolver) recentFailure(owner string, ref chat.AttachmentRef) error {
	key := cacheKey(owner, ref.ContentID())

	r.mu.Lock()
	defer r.mu.Unlock()

	f, ok := r.failures[key]
	if !ok {
		return nil
	}
	if r.config.Now().Sub(f.at) >= r.config.RetryAfter {
		delete(r.failures, key)
		return nil
	}
	return f.err
}

func cacheKey(owner, id string) string {
	return owner + "|" + id
}

// cached is a cache entry. blob is immutable once stored.
type cached struct {
	blob         CachedBlob
	lastAccessed atomic.Int64
}

func (e *cached) touch(now time.Time) {
	e.lastAccessed.Store(now.UnixNano())
}

func (e *cached) snapshot() *CachedBlob {
	b := e.blob
	b.LastAccessed = time.Unix(0, e.lastAccessed.Load()).UTC()
	return &b
}
