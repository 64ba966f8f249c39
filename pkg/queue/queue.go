// Package queue provides the background persistence queue. Jobs run on a
// fixed pool of workers with bounded exponential backoff; jobs that
// exhaust their attempts stay visible as failed until retried or forgotten.
package queue

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"sync"
	"time"

	"github.com/oklog/ulid/v2"

	"github.com/papercomputeco/keepsake/pkg/chat"
	"github.com/papercomputeco/keepsake/pkg/metrics"
)

var (
	defaultNumWorkers uint = 3
	defaultJobTimeout      = 30 * time.Second
)

var (
	// ErrClosed is returned by Enqueue after Close.
	ErrClosed = errors.New("persistence queue closed")

	// ErrNoHandler is returned by Enqueue for a kind with no handler.
	ErrNoHandler = errors.New("no handler for job kind")
)

// Handler performs one attempt of a job. A nil return settles the job. An
// error wrapped with Permanent fails it without further attempts.
type Handler func(ctx context.Context, job Job) error

// Config is the configuration for the queue.
type Config struct {
	// Handlers maps each job kind to the function that performs it.
	Handlers map[Kind]Handler

	// NumWorkers is the number of background workers (defaults to 3).
	NumWorkers uint

	// MaxAttempts bounds attempts per job (defaults to 5).
	MaxAttempts int

	// Backoff computes retry delays.
	Backoff Backoff

	// JobTimeout bounds a single attempt (defaults to 30s).
	JobTimeout time.Duration

	// OnSettled is called from a worker after a job succeeds or fails for
	// good. It must not block for long.
	OnSettled func(Status)

	Now     func() time.Time
	Metrics *metrics.Metrics
	Logger  *slog.Logger
}

// Queue runs persistence jobs in the background.
type Queue struct {
	config Config

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu      sync.Mutex
	ready   []*entry
	jobs    map[string]*entry
	active  map[string]*entry
	session map[chat.Key][]*entry
	closed  bool
	changed chan struct{}
	notify  chan struct{}
	done    chan struct{}

	logger *slog.Logger
}

// New creates a queue and starts its workers.
func New(c Config) (*Queue, error) {
	if c.NumWorkers == 0 {
		c.NumWorkers = defaultNumWorkers
	}
	if c.NumWorkers > uint(math.MaxInt) {
		return nil, fmt.Errorf("NumWorkers %d exceeds max int", c.NumWorkers)
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = DefaultMaxAttempts
	}
	if c.JobTimeout <= 0 {
		c.JobTimeout = defaultJobTimeout
	}
	if c.Now == nil {
		c.Now = time.Now
	}
	if c.Logger == nil {
		c.Logger = slog.New(slog.DiscardHandler)
	}

	ctx, cancel := context.WithCancel(context.Background())
	q := &Queue{
		config:  c,
		ctx:     ctx,
		cancel:  cancel,
		jobs:    make(map[string]*entry),
		active:  make(map[string]*entry),
		session: make(map[chat.Key][]*entry),
		changed: make(chan struct{}),
		notify:  make(chan struct{}, 1),
		done:    make(chan struct{}),
		logger:  c.Logger,
	}

	q.wg.Add(int(c.NumWorkers))
	for i := range c.NumWorkers {
		go q.worker(i)
	}

	return q, nil
}

// Enqueue submits job. If a job for the same kind and target is already
// active it is returned instead; if that job is running it will run once
// more after it finishes, so no enqueued work is lost and the target is
// never processed concurrently.
func (q *Queue) Enqueue(job Job) (Status, error) {
	if _, ok := q.config.Handlers[job.Kind]; !ok {
		return Status{}, fmt.Errorf("%w: %s", ErrNoHandler, job.Kind)
	}

	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return Status{}, ErrClosed
	}

	if e, ok := q.active[job.dedupeKey()]; ok && !e.state.Terminal() {
		if e.state == StateRunning {
			e.again = true
		}
		q.logger.Debug("job coalesced",
			"job_id", e.id,
			"kind", string(job.Kind),
			"target_id", job.TargetID,
		)
		return e.status(), nil
	}

	e := &entry{
		id:        ulid.Make().String(),
		job:       job,
		state:     StateQueued,
		updatedAt: q.config.Now(),
	}
	q.jobs[e.id] = e
	q.active[job.dedupeKey()] = e
	q.session[job.Session] = append(q.session[job.Session], e)
	q.pushLocked(e)

	q.logger.Debug("job queued",
		"job_id", e.id,
		"kind", string(job.Kind),
		"target_id", job.TargetID,
		"chat_id", job.Session.ChatID,
	)
	return e.status(), nil
}

// Retry re-queues a failed job with a fresh attempt budget.
func (q *Queue) Retry(id string) (Status, error) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed {
		return Status{}, ErrClosed
	}

	e, ok := q.jobs[id]
	if !ok {
		return Status{}, fmt.Errorf("job %s: %w", id, chat.ErrNotFound)
	}
	if e.state != StateFailed {
		return e.status(), nil
	}

	if other, ok := q.active[e.job.dedupeKey()]; ok && other != e {
		// A newer job for the same target supersedes this one.
		q.removeLocked(e)
		return other.status(), nil
	}

	e.state = StateQueued
	e.attempts = 0
	e.lastErr = nil
	e.nextAt = time.Time{}
	e.updatedAt = q.config.Now()
	q.active[e.job.dedupeKey()] = e
	q.pushLocked(e)
	return e.status(), nil
}

// Get returns the status of a job.
func (q *Queue) Get(id string) (Status, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	e, ok := q.jobs[id]
	if !ok {
		return Status{}, false
	}
	return e.status(), true
}

// Jobs returns the jobs known for a session in submission order. Succeeded
// jobs are dropped once the session has nothing left in flight.
func (q *Queue) Jobs(key chat.Key) []Status {
	q.mu.Lock()
	defer q.mu.Unlock()

	entries := q.session[key]
	out := make([]Status, 0, len(entries))
	for _, e := range entries {
		out = append(out, e.status())
	}
	return out
}

// Pending reports whether any job for the session is queued, running or
// waiting to retry.
func (q *Queue) Pending(key chat.Key) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.pendingLocked(key)
}

// Forget drops every job record for a session. Active jobs still run but
// are no longer listed.
func (q *Queue) Forget(key chat.Key) {
	q.mu.Lock()
	defer q.mu.Unlock()

	for _, e := range q.session[key] {
		delete(q.jobs, e.id)
	}
	delete(q.session, key)
}

// Depth returns the number of jobs not yet settled.
func (q *Queue) Depth() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.active)
}

// Drain blocks until no jobs are queued, running or retrying, or ctx ends.
func (q *Queue) Drain(ctx context.Context) error {
	for {
		q.mu.Lock()
		if len(q.active) == 0 {
			q.mu.Unlock()
			return nil
		}
		ch := q.changed
		q.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Close stops accepting jobs, cancels pending retries, lets workers finish
// the jobs already queued and waits for them.
func (q *Queue) Close() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	for _, e := range q.active {
		if e.timer != nil {
			e.timer.Stop()
		}
	}
	q.mu.Unlock()

	close(q.done)
	q.wg.Wait()
	q.cancel()
}

// worker is the inner worker thread that continuously pulls jobs off the
// ready list.
func (q *Queue) worker(id uint) {
	defer q.wg.Done()
	q.logger.Debug("worker started", "worker_id", id)

	for {
		e, ok := q.next()
		if !ok {
			break
		}
		q.process(e)
	}

	q.logger.Debug("worker stopped", "worker_id", id)
}

// next pops a ready job, waiting when there is none. It returns false once
// the queue is closed and the ready list is empty.
func (q *Queue) next() (*entry, bool) {
	for {
		q.mu.Lock()
		if len(q.ready) > 0 {
			e := q.ready[0]
			q.ready = q.ready[1:]
			e.state = StateRunning
			e.attempts++
			e.updatedAt = q.config.Now()
			more := len(q.ready) > 0
			q.mu.Unlock()
			if more {
				q.wake()
			}
			return e, true
		}
		closed := q.closed
		q.mu.Unlock()

		if closed {
			return nil, false
		}
		select {
		case <-q.notify:
		case <-q.done:
		}
	}
}

func (q *Queue) process(e *entry) {
	handler := q.config.Handlers[e.job.Kind]

	ctx, cancel := context.WithTimeout(q.ctx, q.config.JobTimeout)
	err := handler(ctx, e.job)
	cancel()

	q.mu.Lock()
	e.updatedAt = q.config.Now()
	e.lastErr = err

	var settled bool
	switch {
	case err == nil && e.again && !q.closed:
		e.again = false
		e.state = StateQueued
		e.attempts = 0
		q.pushLocked(e)
		q.config.Metrics.JobOutcome(string(e.job.Kind), "succeeded")

	case err == nil:
		e.state = StateSucceeded
		e.nextAt = time.Time{}
		settled = true
		q.config.Metrics.JobOutcome(string(e.job.Kind), "succeeded")
		q.logger.Debug("job succeeded",
			"job_id", e.id,
			"kind", string(e.job.Kind),
			"target_id", e.job.TargetID,
			"attempts", e.attempts,
		)

	case e.attempts >= q.config.MaxAttempts || q.closed || IsPermanent(err):
		e.state = StateFailed
		e.nextAt = time.Time{}
		settled = true
		q.config.Metrics.JobOutcome(string(e.job.Kind), "failed")
		q.logger.Error("job failed, retry budget exhausted",
			"job_id", e.id,
			"kind", string(e.job.Kind),
			"target_id", e.job.TargetID,
			"attempts", e.attempts,
			"error", err,
		)

	default:
		delay := q.config.Backoff.Delay(e.attempts)
		e.state = StateRetrying
		e.nextAt = e.updatedAt.Add(delay)
		e.timer = time.AfterFunc(delay, func() { q.requeue(e) })
		q.config.Metrics.JobOutcome(string(e.job.Kind), "retried")
		q.logger.Warn("job attempt failed, retrying",
			"job_id", e.id,
			"kind", string(e.job.Kind),
			"target_id", e.job.TargetID,
			"attempts", e.attempts,
			"retry_in", delay,
			"error", err,
		)
	}
	status := e.status()
	if !settled {
		q.broadcastLocked()
	}
	q.mu.Unlock()

	if !settled {
		return
	}

	// The entry stays active until OnSettled returns so Drain also waits
	// for any work the callback enqueues.
	if q.config.OnSettled != nil {
		q.config.OnSettled(status)
	}

	q.mu.Lock()
	if q.active[e.job.dedupeKey()] == e && e.state.Terminal() {
		delete(q.active, e.job.dedupeKey())
	}
	if !q.pendingLocked(e.job.Session) {
		q.pruneLocked(e.job.Session)
	}
	q.broadcastLocked()
	q.mu.Unlock()
}

func (q *Queue) requeue(e *entry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if q.closed || e.state != StateRetrying {
		return
	}
	e.state = StateQueued
	e.timer = nil
	e.updatedAt = q.config.Now()
	q.pushLocked(e)
}

func (q *Queue) pushLocked(e *entry) {
	q.ready = append(q.ready, e)
	q.config.Metrics.QueueDepth(len(q.active))
	q.broadcastLocked()
	q.wake()
}

func (q *Queue) wake() {
	select {
	case q.notify <- struct{}{}:
	default:
	}
}

func (q *Queue) broadcastLocked() {
	close(q.changed)
	q.changed = make(chan struct{})
	q.config.Metrics.QueueDepth(len(q.active))
}

func (q *Queue) pendingLocked(key chat.Key) bool {
	for _, e := range q.session[key] {
		if !e.state.Terminal() {
			return true
		}
	}
	return false
}

func (q *Queue) pruneLocked(key chat.Key) {
	kept := q.session[key][:0]
	for _, e := range q.session[key] {
		if e.state == StateSucceeded {
			delete(q.jobs, e.id)
			continue
		}
		kept = append(kept, e)
	}
	if len(kept) == 0 {
		delete(q.session, key)
		return
	}
	q.session[key] = kept
}

func (q *Queue) removeLocked(e *entry) {
	delete(q.jobs, e.id)
	entries := q.session[e.job.Session]
	for i, other := range entries {
		if other == e {
			q.session[e.job.Session] = append(entries[:i], entries[i+1:]...)
			break
		}
	}
}
