package orchestrator

import (
	"context"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/papercomputeco/keepsake/pkg/blob"
	"github.com/papercomputeco/keepsake/pkg/chat"
	"github.com/papercomputeco/keepsake/pkg/queue"
)

const maxTitleRunes = 60

// Append adds a turn to the end of its conversation and returns the stored
// copy. Inline attachments are swapped for PendingRefs and handed to the
// queue for upload; the turn is never rolled back if an upload fails. Each
// upload is tracked by its correlation id, so the same content attached
// twice is uploaded twice. The session record is flushed asynchronously.
func (o *Orchestrator) Append(ctx context.Context, t *chat.Turn) (*chat.Turn, error) {
	if t == nil {
		return nil, errors.New("nil turn")
	}
	key := t.Key()
	if !key.Valid() {
		return nil, fmt.Errorf("turn has an incomplete conversation key %q", key)
	}
	if !t.Role.Valid() {
		return nil, fmt.Errorf("turn has unknown role %q", t.Role)
	}

	turn := t.Clone()
	if turn.ID == "" {
		turn.ID = uuid.NewString()
	}
	for i := range turn.Attachments {
		ref := &turn.Attachments[i]
		if ref.ID == "" && ref.Kind == chat.KindInline {
			ref.ID = chat.ContentIDOf(ref.Payload)
		}
		if err := ref.Validate(); err != nil {
			return nil, err
		}
		switch ref.Kind {
		case chat.KindPending:
			return nil, fmt.Errorf("attachment %s is already pending; append inline or remote refs", ref.ID)
		case chat.KindInline:
			obj := blob.Object{ID: ulid.Make().String(), Owner: key.UserID, ContentType: ref.ContentType, Data: ref.Payload}
			if err := obj.Validate(); err != nil {
				return nil, fmt.Errorf("attachment %s: %w", ref.ID, err)
			}
		}
	}

	c := o.open(ctx, key)
	c.mu.Lock()

	if c.turn(turn.ID) != nil {
		c.mu.Unlock()
		return nil, fmt.Errorf("turn %s already exists in %s", turn.ID, key)
	}

	now := o.config.Now()
	if turn.CreatedAt.IsZero() {
		turn.CreatedAt = now
	}
	if n := len(c.turns); n > 0 && turn.CreatedAt.Before(c.turns[n-1].CreatedAt) {
		turn.CreatedAt = c.turns[n-1].CreatedAt
	}

	var uploads []string
	for i, ref := range turn.Attachments {
		if ref.Kind != chat.KindInline {
			continue
		}
		correlationID := ulid.Make().String()
		c.uploads[correlationID] = &upload{
			turnID:       turn.ID,
			attachmentID: ref.ID,
			contentType:  ref.ContentType,
			payload:      ref.Payload,
		}
		turn.Attachments[i] = chat.Pending(ref.ID, correlationID, ref.ContentType)
		uploads = append(uploads, correlationID)
	}
	turn.Durability = ""
	turn.RefreshDurability()

	c.push(turn)
	c.session.TurnCount++
	c.session.LastActivity = now
	c.session.Status = chat.StatusActive
	if c.session.Title == "" && turn.Role == chat.RoleUser {
		c.session.Title = title(turn.Text)
	}
	stored := turn.Clone()
	c.mu.Unlock()

	o.config.Metrics.Turn("appended")
	o.logger.Debug("turn appended",
		"chat_id", key.ChatID,
		"turn_id", turn.ID,
		"role", string(turn.Role),
		"pending_uploads", len(uploads),
	)

	for _, id := range uploads {
		o.enqueue(queue.KindUpload, key, id)
	}
	o.flush(key)

	return stored, nil
}

// Turns returns a copy of the buffered turns for key in append order.
func (o *Orchestrator) Turns(key chat.Key) []*chat.Turn {
	c := o.lookup(key)
	if c == nil {
		return nil
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	return cloneTurns(c.turns)
}

func cloneTurns(turns []*chat.Turn) []*chat.Turn {
	out := make([]*chat.Turn, len(turns))
	for i, t := range turns {
		out[i] = t.Clone()
	}
	return out
}

func title(text string) string {
	r := []rune(text)
	if len(r) <= maxTitleRunes {
		return text
	}
	return string(r[:maxTitleRunes]) + "…"
}
