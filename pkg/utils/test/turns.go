package testutils

import (
	"fmt"
	"time"

	"github.com/papercomputeco/keepsake/pkg/chat"
)

// NewTestTurn builds a text-only turn with a deterministic id and timestamp.
func NewTestTurn(key chat.Key, seq int, role chat.Role, text string) *chat.Turn {
	t := &chat.Turn{
		ID:        fmt.Sprintf("%s-turn-%03d", key.ChatID, seq),
		UserID:    key.UserID,
		ChatID:    key.ChatID,
		Role:      role,
		Text:      text,
		CreatedAt: time.Date(2026, 1, 1, 9, 0, 0, 0, time.UTC).Add(time.Duration(seq) * time.Second),
	}
	t.RefreshDurability()
	return t
}

// NewTestConversation builds n alternating user/assistant turns.
func NewTestConversation(key chat.Key, n int) []*chat.Turn {
	turns := make([]*chat.Turn, 0, n)
	for i := range n {
		role := chat.RoleUser
		if i%2 == 1 {
			role = chat.RoleAssistant
		}
		turns = append(turns, NewTestTurn(key, i, role, fmt.Sprintf("message %d", i)))
	}
	return turns
}
