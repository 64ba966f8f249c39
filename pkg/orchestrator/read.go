package orchestrator

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/papercomputeco/keepsake/pkg/chat"
	"github.com/papercomputeco/keepsake/pkg/vector"
)

// ErrRecallDisabled is returned by Recall when no vector store is set.
var ErrRecallDisabled = errors.New("semantic recall requires a vector store")

// Conversation is the merged read-path view of a chat.
type Conversation struct {
	// Session is nil when no tier knows the conversation.
	Session *chat.Session `json:"session,omitempty"`

	// Turns are ordered by creation time.
	Turns []*chat.Turn `json:"turns"`

	// Recovered counts turns restored from the vector tier.
	Recovered int `json:"recovered"`
}

// Load merges the buffer, the document-store session and, when those hold
// fewer turns than the session recorded, turns recovered from the vector
// tier. Turns are de-duplicated by id. Recovered turns are put back in the
// buffer. A conversation no tier knows is returned empty, not as an error.
func (o *Orchestrator) Load(ctx context.Context, key chat.Key) (*Conversation, error) {
	var (
		session *chat.Session
		turns   []*chat.Turn
	)

	if c := o.lookup(key); c != nil {
		c.mu.Lock()
		session = c.snapshot()
		turns = cloneTurns(c.turns)
		c.mu.Unlock()
	} else {
		s, err := o.config.Documents.GetSession(ctx, key)
		switch {
		case errors.Is(err, chat.ErrNotFound):
		case err != nil:
			return nil, fmt.Errorf("loading session %s: %w", key, err)
		default:
			session = s
		}
	}

	out := &Conversation{Session: session, Turns: turns}
	if session == nil || session.TurnCount <= len(turns) || o.config.Vectors == nil {
		return out, nil
	}

	matches, err := o.config.Vectors.Query(ctx, vector.Query{
		Filter: vector.Filter{metaUserID: key.UserID, metaChatID: key.ChatID},
		TopK:   session.TurnCount,
	})
	if err != nil {
		o.logger.Warn("could not recover turns from vector store",
			"chat_id", key.ChatID,
			"user_id", key.UserID,
			"error", err,
		)
		return out, nil
	}

	seen := make(map[string]bool, len(turns))
	for _, t := range turns {
		seen[t.ID] = true
	}
	var recovered []*chat.Turn
	for _, m := range matches {
		if seen[m.ID] {
			continue
		}
		seen[m.ID] = true
		recovered = append(recovered, turnFromItem(m.Item))
	}
	if len(recovered) == 0 {
		return out, nil
	}

	out.Turns = mergeTurns(out.Turns, recovered)
	out.Recovered = len(recovered)
	o.restore(key, session, recovered)

	o.logger.Info("recovered turns from vector store",
		"chat_id", key.ChatID,
		"recovered", len(recovered),
	)
	return out, nil
}

// restore puts recovered turns back into the buffer, creating it if
// needed. Recovered turns are already saved in the vector tier.
func (o *Orchestrator) restore(key chat.Key, session *chat.Session, recovered []*chat.Turn) {
	o.mu.Lock()
	c, ok := o.convs[key]
	if !ok {
		s := session.Clone()
		s.PendingPersistence = false
		c = newConversation(key, s, o.config.Now())
		o.convs[key] = c
	}
	o.mu.Unlock()

	c.mu.Lock()
	defer c.mu.Unlock()

	var add []*chat.Turn
	for _, t := range recovered {
		if c.turn(t.ID) == nil {
			add = append(add, t.Clone())
			c.saved[t.ID] = true
		}
	}
	c.turns = mergeTurns(c.turns, add)
	c.reindex()
}

// mergeTurns interleaves recovered turns into an ordered list by creation
// time without reordering the existing turns.
func mergeTurns(turns, recovered []*chat.Turn) []*chat.Turn {
	slices.SortStableFunc(recovered, func(a, b *chat.Turn) int {
		return a.CreatedAt.Compare(b.CreatedAt)
	})

	out := make([]*chat.Turn, 0, len(turns)+len(recovered))
	i, j := 0, 0
	for i < len(turns) && j < len(recovered) {
		if recovered[j].CreatedAt.Before(turns[i].CreatedAt) {
			out = append(out, recovered[j])
			j++
		} else {
			out = append(out, turns[i])
			i++
		}
	}
	out = append(out, turns[i:]...)
	return append(out, recovered[j:]...)
}

// Sessions lists a user's conversations, most recently active first, with
// buffered state taking precedence over the document store.
func (o *Orchestrator) Sessions(ctx context.Context, userID string) ([]*chat.Session, error) {
	stored, err := o.config.Documents.ListSessions(ctx, userID)

	local := make(map[string]*chat.Session)
	o.mu.RLock()
	for key, c := range o.convs {
		if key.UserID != userID {
			continue
		}
		c.mu.Lock()
		local[key.ChatID] = c.snapshot()
		c.mu.Unlock()
	}
	o.mu.RUnlock()

	if err != nil {
		if len(local) == 0 {
			return nil, fmt.Errorf("listing sessions for %s: %w", userID, err)
		}
		o.logger.Warn("could not list stored sessions, returning buffered only",
			"user_id", userID,
			"error", err,
		)
	}

	out := make([]*chat.Session, 0, len(stored)+len(local))
	for _, s := range stored {
		if _, ok := local[s.ChatID]; !ok {
			out = append(out, s)
		}
	}
	for _, s := range local {
		out = append(out, s)
	}
	slices.SortFunc(out, func(a, b *chat.Session) int {
		return cmp.Or(b.LastActivity.Compare(a.LastActivity), cmp.Compare(a.ChatID, b.ChatID))
	})
	return out, nil
}

// Memory is a turn recalled by similarity.
type Memory struct {
	Turn  *chat.Turn `json:"turn"`
	Score float32    `json:"score"`
}

// Recall finds a user's past turns closest to query across all chats.
func (o *Orchestrator) Recall(ctx context.Context, userID, query string, k int) ([]Memory, error) {
	if o.config.Vectors == nil {
		return nil, ErrRecallDisabled
	}
	if query == "" {
		return nil, errors.New("recall query is empty")
	}

	vec, err := o.config.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("embedding recall query: %w", err)
	}

	matches, err := o.config.Vectors.Query(ctx, vector.Query{
		Vector: vec,
		Filter: vector.Filter{metaUserID: userID},
		TopK:   k,
	})
	if err != nil {
		return nil, fmt.Errorf("querying vector store: %w", err)
	}

	out := make([]Memory, len(matches))
	for i, m := range matches {
		out[i] = Memory{Turn: turnFromItem(m.Item), Score: m.Score}
	}
	return out, nil
}
