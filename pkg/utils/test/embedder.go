package testutils

import (
	"context"
	"fmt"
	"sync"

	"github.com/papercomputeco/keepsake/pkg/chat"
	"github.com/papercomputeco/keepsake/pkg/embeddings/hash"
)

// MockEmbedder is a test embedder that returns predictable embeddings.
type MockEmbedder struct {
	mu sync.Mutex

	Embeddings map[string][]float32

	// FailOn causes Embed to return an error when the input text matches.
	FailOn string

	// Unavailable makes every call fail as an upstream outage.
	Unavailable bool

	Calls int

	fallback *hash.Embedder
}

func NewMockEmbedder() *MockEmbedder {
	return &MockEmbedder{
		Embeddings: make(map[string][]float32),
		fallback:   hash.NewEmbedder(64),
	}
}

// SetUnavailable toggles the outage.
func (m *MockEmbedder) SetUnavailable(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.Unavailable = down
}

func (m *MockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	m.mu.Lock()
	m.Calls++
	down := m.Unavailable
	emb, ok := m.Embeddings[text]
	m.mu.Unlock()

	if down {
		return nil, chat.Unavailable("mock embedder", fmt.Errorf("offline"))
	}
	if m.FailOn != "" && text == m.FailOn {
		return nil, fmt.Errorf("mock embedding failure for: %s", text)
	}
	if ok {
		return emb, nil
	}
	return m.fallback.Embed(ctx, text)
}

func (m *MockEmbedder) Close() error {
	return nil
}
