package orchestrator

import (
	"context"
	"fmt"
	"slices"

	"github.com/papercomputeco/keepsake/pkg/blob"
	"github.com/papercomputeco/keepsake/pkg/chat"
	"github.com/papercomputeco/keepsake/pkg/embeddings"
	"github.com/papercomputeco/keepsake/pkg/eventstream"
	"github.com/papercomputeco/keepsake/pkg/queue"
	"github.com/papercomputeco/keepsake/pkg/vector"
)

// upload moves one pending attachment to the blob tier and resolves its
// PendingRef. The job target and the object id are the correlation id, so
// a retry after a lost acknowledgement overwrites the same object and no
// two uploads share one.
func (o *Orchestrator) upload(ctx context.Context, job queue.Job) error {
	c := o.lookup(job.Session)
	if c == nil {
		return nil
	}

	c.mu.Lock()
	u, ok := c.uploads[job.TargetID]
	c.mu.Unlock()
	if !ok {
		return nil
	}

	obj := blob.Object{
		ID:          job.TargetID,
		Owner:       job.Session.UserID,
		ContentType: u.contentType,
		Data:        u.payload,
	}
	if err := obj.Validate(); err != nil {
		return queue.Permanent(fmt.Errorf("uploading attachment %s: %w", u.attachmentID, err))
	}

	url, err := o.config.Blobs.Put(ctx, obj)
	if err != nil {
		return fmt.Errorf("uploading attachment %s: %w", u.attachmentID, err)
	}

	if o.lookup(job.Session) != c {
		// Deleted while uploading.
		return o.config.Blobs.Delete(ctx, url)
	}

	c.mu.Lock()
	delete(c.uploads, job.TargetID)
	c.session.FailedJobs = slices.DeleteFunc(c.session.FailedJobs, func(f chat.FailedJob) bool {
		return f.Kind == string(queue.KindUpload) && f.TargetID == job.TargetID
	})

	var durable *chat.Turn
	if t := c.turn(u.turnID); t != nil {
		t.Resolve(job.TargetID, url)
		if t.Durable {
			durable = t.Clone()
		}
	}
	revector := durable != nil && c.vectorsDue && !c.saved[durable.ID]
	c.mu.Unlock()

	o.logger.Info("attachment uploaded",
		"chat_id", job.Session.ChatID,
		"attachment_id", u.attachmentID,
		"correlation_id", job.TargetID,
		"url", url,
	)

	if durable != nil {
		o.config.Metrics.Turn("durable")
		e := eventstream.NewEvent(eventstream.EventTypeTurnDurable, job.Session, o.config.Now())
		e.TurnID = durable.ID
		o.publish(ctx, e)
	}
	if revector {
		o.enqueue(queue.KindVectorUpsert, job.Session, job.Session.String())
	}
	o.flush(job.Session)

	return nil
}

// flushSession writes the session record to the document tier.
func (o *Orchestrator) flushSession(ctx context.Context, job queue.Job) error {
	c := o.lookup(job.Session)
	if c == nil {
		return nil
	}

	c.mu.Lock()
	s := c.snapshot()
	uploaded := len(c.turns) > 0 && len(c.uploads) == 0
	c.mu.Unlock()

	if err := o.config.Documents.PutSession(ctx, s); err != nil {
		err = fmt.Errorf("flushing session %s: %w", job.Session, err)
		if uploaded {
			return &chat.PartialWriteError{Tier: "document", Err: err}
		}
		return err
	}
	return nil
}

// upsertVectors writes every durable, unsaved turn of a conversation to
// the vector tier in one batch. Turns still waiting on uploads are picked
// up by a later batch once they become durable.
func (o *Orchestrator) upsertVectors(ctx context.Context, job queue.Job) error {
	c := o.lookup(job.Session)
	if c == nil {
		return nil
	}

	c.mu.Lock()
	var batch []*chat.Turn
	waiting := false
	for _, t := range c.turns {
		if c.saved[t.ID] {
			continue
		}
		if !t.Durable {
			waiting = true
			continue
		}
		if t.Text == "" && len(t.Attachments) == 0 {
			continue
		}
		batch = append(batch, t.Clone())
	}
	if len(batch) == 0 || o.config.Vectors == nil {
		c.vectorsDue = waiting && o.config.Vectors != nil
		c.mu.Unlock()
		o.flush(job.Session)
		return nil
	}
	c.mu.Unlock()

	texts := make([]string, len(batch))
	for i, t := range batch {
		texts[i] = embeddingText(t)
	}
	vecs, err := embeddings.EmbedAll(ctx, o.config.Embedder, texts)
	if err != nil {
		return fmt.Errorf("embedding %d turns: %w", len(batch), err)
	}

	items := make([]vector.Item, len(batch))
	for i, t := range batch {
		var omitted []string
		items[i], omitted = itemFromTurn(t, vecs[i])
		if len(omitted) > 0 {
			o.logger.Warn("attachment refs exceed vector metadata budget",
				"chat_id", job.Session.ChatID,
				"turn_id", t.ID,
				"omitted_urls", omitted,
			)
		}
	}
	if err := o.config.Vectors.Upsert(ctx, items); err != nil {
		return fmt.Errorf("upserting %d turns: %w", len(items), err)
	}

	c.mu.Lock()
	for _, t := range batch {
		c.saved[t.ID] = true
	}
	c.vectorsDue = waiting
	c.mu.Unlock()

	o.logger.Info("turns saved to vector store",
		"chat_id", job.Session.ChatID,
		"turns", len(batch),
	)

	e := eventstream.NewEvent(eventstream.EventTypeSessionSaved, job.Session, o.config.Now())
	e.Turns = len(batch)
	o.publish(ctx, e)
	o.flush(job.Session)

	return nil
}

// settled records jobs that exhausted their retry budget on the session so
// they can be reconciled externally.
func (o *Orchestrator) settled(st queue.Status) {
	if st.State != queue.StateFailed {
		return
	}

	c := o.lookup(st.Session)
	if c == nil {
		return
	}

	c.mu.Lock()
	c.session.FailedJobs = slices.DeleteFunc(c.session.FailedJobs, func(f chat.FailedJob) bool {
		return f.Kind == string(st.Kind) && f.TargetID == st.TargetID
	})
	c.session.FailedJobs = append(c.session.FailedJobs, st.FailedJob())

	var turnID string
	if st.Kind == queue.KindUpload {
		if u, ok := c.uploads[st.TargetID]; ok {
			if t := c.turn(u.turnID); t != nil {
				t.MarkFailed()
				turnID = t.ID
			}
		}
	}
	c.mu.Unlock()

	if turnID != "" {
		o.config.Metrics.Turn("failed")
	}

	e := eventstream.NewEvent(eventstream.EventTypeTurnFailed, st.Session, o.config.Now())
	e.TurnID = turnID
	e.Job = &eventstream.JobMeta{
		ID:       st.ID,
		Kind:     string(st.Kind),
		Attempts: st.Attempts,
		Error:    st.LastError,
	}
	o.publish(context.Background(), e)

	if st.Kind != queue.KindSessionFlush {
		o.flush(st.Session)
	}
}
