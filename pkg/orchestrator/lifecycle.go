package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"

	"github.com/papercomputeco/keepsake/pkg/chat"
	"github.com/papercomputeco/keepsake/pkg/queue"
	"github.com/papercomputeco/keepsake/pkg/vector"
)

// deleteScanLimit bounds the vector items inspected when deleting a chat.
const deleteScanLimit = 10_000

// Save schedules a batch write of the conversation's unsaved turns to the
// vector tier without ending it.
func (o *Orchestrator) Save(_ context.Context, key chat.Key) error {
	c := o.lookup(key)
	if c == nil {
		return fmt.Errorf("conversation %s: %w", key, chat.ErrNotFound)
	}

	if o.config.Vectors != nil {
		c.mu.Lock()
		c.vectorsDue = true
		c.mu.Unlock()
		o.enqueue(queue.KindVectorUpsert, key, key.String())
	}
	o.flush(key)
	return nil
}

// End marks the conversation ended and saves it.
func (o *Orchestrator) End(ctx context.Context, key chat.Key) error {
	c := o.lookup(key)
	if c == nil {
		return fmt.Errorf("conversation %s: %w", key, chat.ErrNotFound)
	}

	c.mu.Lock()
	c.session.Status = chat.StatusEnded
	c.session.LastActivity = o.config.Now()
	c.mu.Unlock()

	return o.Save(ctx, key)
}

// Retry re-queues the conversation's failed persistence jobs and returns
// how many were re-queued. Failed uploads whose payload is no longer
// buffered cannot be retried and stay on the session record.
func (o *Orchestrator) Retry(_ context.Context, key chat.Key) (int, error) {
	c := o.lookup(key)
	if c == nil {
		return 0, fmt.Errorf("conversation %s: %w", key, chat.ErrNotFound)
	}

	c.mu.Lock()
	var retry []chat.FailedJob
	c.session.FailedJobs = slices.DeleteFunc(c.session.FailedJobs, func(f chat.FailedJob) bool {
		if queue.Kind(f.Kind) == queue.KindUpload {
			u, ok := c.uploads[f.TargetID]
			if !ok {
				return false
			}
			if t := c.turn(u.turnID); t != nil {
				t.Durability = chat.DurabilityPending
				t.RefreshDurability()
			}
		}
		if queue.Kind(f.Kind) == queue.KindVectorUpsert {
			c.vectorsDue = true
		}
		retry = append(retry, f)
		return true
	})
	c.mu.Unlock()

	for _, f := range retry {
		if _, err := o.queue.Retry(f.JobID); err != nil {
			if !errors.Is(err, chat.ErrNotFound) {
				return 0, err
			}
			o.enqueue(queue.Kind(f.Kind), key, f.TargetID)
		}
	}

	o.logger.Info("retrying failed persistence jobs",
		"chat_id", key.ChatID,
		"jobs", len(retry),
	)
	o.flush(key)
	return len(retry), nil
}

// DeleteChat removes a conversation's history from every tier: the
// buffer, its blob objects and its vector items. The session record is
// kept as an ended tombstone so other devices see the deletion.
func (o *Orchestrator) DeleteChat(ctx context.Context, key chat.Key) error {
	o.mu.Lock()
	c := o.convs[key]
	delete(o.convs, key)
	o.mu.Unlock()
	o.queue.Forget(key)

	var (
		session *chat.Session
		urls    []string
		errs    []error
	)

	if c != nil {
		c.mu.Lock()
		session = c.session.Clone()
		for _, t := range c.turns {
			for _, ref := range t.Attachments {
				if ref.Kind == chat.KindRemote {
					urls = append(urls, ref.URL)
				}
			}
		}
		c.mu.Unlock()
	} else {
		s, err := o.config.Documents.GetSession(ctx, key)
		switch {
		case errors.Is(err, chat.ErrNotFound):
		case err != nil:
			errs = append(errs, err)
		default:
			session = s
		}
	}

	if o.config.Vectors != nil {
		matches, err := o.config.Vectors.Query(ctx, vector.Query{
			Filter: vector.Filter{metaUserID: key.UserID, metaChatID: key.ChatID},
			TopK:   deleteScanLimit,
		})
		if err != nil {
			errs = append(errs, fmt.Errorf("listing vector items: %w", err))
		}
		ids := make([]string, 0, len(matches))
		for _, m := range matches {
			ids = append(ids, m.ID)
			urls = append(urls, strings.Fields(m.Metadata[metaAttachments])...)
		}
		if len(ids) > 0 {
			if err := o.config.Vectors.Delete(ctx, ids); err != nil {
				errs = append(errs, fmt.Errorf("deleting vector items: %w", err))
			}
		}
	}

	slices.Sort(urls)
	for _, url := range slices.Compact(urls) {
		if err := o.config.Blobs.Delete(ctx, url); err != nil {
			errs = append(errs, fmt.Errorf("deleting blob %s: %w", url, err))
		}
	}

	if session != nil {
		session.Status = chat.StatusEnded
		session.TurnCount = 0
		session.PendingPersistence = false
		session.FailedJobs = nil
		session.LastActivity = o.config.Now()
		if err := o.config.Documents.PutSession(ctx, session); err != nil {
			errs = append(errs, fmt.Errorf("writing session tombstone: %w", err))
		}
	}

	o.logger.Info("conversation deleted",
		"chat_id", key.ChatID,
		"user_id", key.UserID,
		"blobs", len(urls),
	)
	return errors.Join(errs...)
}
