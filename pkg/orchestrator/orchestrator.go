// Package orchestrator coordinates the four persistence tiers of a
// conversation: the in-process turn buffer, the document store for session
// metadata, the vector store for long-term recall and the blob store for
// attachments. Writes beyond the buffer happen on the persistence queue.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/papercomputeco/keepsake/pkg/blob"
	"github.com/papercomputeco/keepsake/pkg/chat"
	"github.com/papercomputeco/keepsake/pkg/embeddings"
	"github.com/papercomputeco/keepsake/pkg/eventstream"
	"github.com/papercomputeco/keepsake/pkg/eventstream/nop"
	"github.com/papercomputeco/keepsake/pkg/metrics"
	"github.com/papercomputeco/keepsake/pkg/queue"
	"github.com/papercomputeco/keepsake/pkg/storage"
	"github.com/papercomputeco/keepsake/pkg/vector"
)

// Config wires the orchestrator to its tiers.
type Config struct {
	// Documents stores session metadata. Required.
	Documents storage.Driver

	// Blobs stores attachments. Required.
	Blobs blob.Store

	// Vectors is the optional long-term tier. Embedder is required with it.
	Vectors  vector.Driver
	Embedder embeddings.Embedder

	// Events receives durability events. Defaults to a no-op publisher.
	Events eventstream.Publisher

	// Queue tunes the persistence queue. Handlers and OnSettled are set by
	// the orchestrator and ignored here.
	Queue queue.Config

	Now     func() time.Time
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Orchestrator is the single point of coordination across tiers. It is safe
// for concurrent use; operations on different conversations never contend
// beyond a brief map lookup.
type Orchestrator struct {
	config Config
	queue  *queue.Queue
	logger *slog.Logger

	mu    sync.RWMutex
	convs map[chat.Key]*conversation
}

// New creates an orchestrator and starts its persistence queue.
func New(c Config) (*Orchestrator, error) {
	if c.Documents == nil {
		return nil, errors.New("orchestrator requires a document store")
	}
	if c.Blobs == nil {
		return nil, errors.New("orchestrator requires a blob store")
	}
	if c.Vectors != nil && c.Embedder == nil {
		return nil, errors.New("orchestrator requires an embedder when a vector store is set")
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}
	if c.Events == nil {
		c.Events = nop.NewPublisher(c.Logger)
	}

	o := &Orchestrator{
		config: c,
		logger: c.Logger,
		convs:  make(map[chat.Key]*conversation),
	}

	qc := c.Queue
	qc.Handlers = map[queue.Kind]queue.Handler{
		queue.KindUpload:       o.upload,
		queue.KindVectorUpsert: o.upsertVectors,
		queue.KindSessionFlush: o.flushSession,
	}
	qc.OnSettled = o.settled
	if qc.Now == nil {
		qc.Now = c.Now
	}
	if qc.Metrics == nil {
		qc.Metrics = c.Metrics
	}
	if qc.Logger == nil {
		qc.Logger = c.Logger
	}

	q, err := queue.New(qc)
	if err != nil {
		return nil, fmt.Errorf("creating persistence queue: %w", err)
	}
	o.queue = q

	return o, nil
}

// Jobs lists the persistence jobs known for a conversation.
func (o *Orchestrator) Jobs(key chat.Key) []queue.Status {
	return o.queue.Jobs(key)
}

// Drain blocks until the persistence queue has nothing in flight.
func (o *Orchestrator) Drain(ctx context.Context) error {
	return o.queue.Drain(ctx)
}

// Close stops the persistence queue. The tiers are owned by the caller.
func (o *Orchestrator) Close() error {
	o.queue.Close()
	return nil
}

// upload is an attachment waiting for the blob tier.
type upload struct {
	turnID       string
	attachmentID string
	contentType  string
	payload      []byte
}

// conversation is the buffer for one chat.
type conversation struct {
	mu sync.Mutex

	key     chat.Key
	session *chat.Session
	turns   []*chat.Turn
	index   map[string]int

	// uploads is keyed by correlation id.
	uploads map[string]*upload

	// saved holds the ids of turns written to the vector tier.
	saved map[string]bool

	// vectorsDue is set while a vector upsert is owed.
	vectorsDue bool
}

func newConversation(key chat.Key, session *chat.Session, now time.Time) *conversation {
	if session == nil {
		session = &chat.Session{
			ChatID:       key.ChatID,
			UserID:       key.UserID,
			Status:       chat.StatusActive,
			LastActivity: now,
		}
	}
	return &conversation{
		key:     key,
		session: session,
		index:   make(map[string]int),
		uploads: make(map[string]*upload),
		saved:   make(map[string]bool),
	}
}

func (c *conversation) turn(id string) *chat.Turn {
	i, ok := c.index[id]
	if !ok {
		return nil
	}
	return c.turns[i]
}

func (c *conversation) push(t *chat.Turn) {
	c.index[t.ID] = len(c.turns)
	c.turns = append(c.turns, t)
}

func (c *conversation) reindex() {
	c.index = make(map[string]int, len(c.turns))
	for i, t := range c.turns {
		c.index[t.ID] = i
	}
}

// pending reports whether the conversation owes durability work. Failed
// jobs count until they are retried and succeed.
func (c *conversation) pending() bool {
	return len(c.uploads) > 0 || c.vectorsDue || len(c.session.FailedJobs) > 0
}

func (c *conversation) snapshot() *chat.Session {
	s := c.session.Clone()
	s.PendingPersistence = c.pending()
	return s
}

// lookup returns the buffered conversation for key, if any.
func (o *Orchestrator) lookup(key chat.Key) *conversation {
	o.mu.RLock()
	defer o.mu.RUnlock()
	return o.convs[key]
}

// open returns the buffered conversation for key, seeding a new buffer
// from the document store. A document store outage is absorbed: the buffer
// starts fresh and the next flush reconciles.
func (o *Orchestrator) open(ctx context.Context, key chat.Key) *conversation {
	if c := o.lookup(key); c != nil {
		return c
	}

	session, err := o.config.Documents.GetSession(ctx, key)
	if err != nil && !errors.Is(err, chat.ErrNotFound) {
		o.logger.Warn("could not read session, starting fresh buffer",
			"chat_id", key.ChatID,
			"user_id", key.UserID,
			"error", err,
		)
	}
	if err != nil {
		session = nil
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if c, ok := o.convs[key]; ok {
		return c
	}
	c := newConversation(key, session, o.config.Now())
	o.convs[key] = c
	return c
}

func (o *Orchestrator) publish(ctx context.Context, e *eventstream.DurabilityEvent) {
	if err := o.config.Events.Publish(ctx, e); err != nil {
		o.logger.Warn("could not publish durability event",
			"event_type", e.EventType,
			"chat_id", e.ChatID,
			"error", err,
		)
	}
}

// enqueue submits a job, logging instead of failing: the work remains
// visible as pending on the session.
func (o *Orchestrator) enqueue(kind queue.Kind, key chat.Key, target string) {
	if _, err := o.queue.Enqueue(queue.Job{Kind: kind, Session: key, TargetID: target}); err != nil {
		o.logger.Error("could not enqueue persistence job",
			"kind", string(kind),
			"chat_id", key.ChatID,
			"target_id", target,
			"error", err,
		)
	}
}

func (o *Orchestrator) flush(key chat.Key) {
	o.enqueue(queue.KindSessionFlush, key, key.String())
}
