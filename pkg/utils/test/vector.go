package testutils

import (
	"context"
	"sync"

	"github.com/papercomputeco/keepsake/pkg/chat"
	"github.com/papercomputeco/keepsake/pkg/vector"
	"github.com/papercomputeco/keepsake/pkg/vector/inmemory"
)

// MockVectorDriver is an in-memory vector driver that records upsert
// batches and can be switched offline.
type MockVectorDriver struct {
	*inmemory.Driver

	mu      sync.Mutex
	down    bool
	batches [][]vector.Item
	queries int
}

func NewMockVectorDriver() *MockVectorDriver {
	return &MockVectorDriver{Driver: inmemory.NewDriver()}
}

// SetUnavailable toggles the outage.
func (m *MockVectorDriver) SetUnavailable(down bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.down = down
}

// Batches returns the upsert batches received so far.
func (m *MockVectorDriver) Batches() [][]vector.Item {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([][]vector.Item(nil), m.batches...)
}

// Queries returns the number of queries received.
func (m *MockVectorDriver) Queries() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.queries
}

func (m *MockVectorDriver) Upsert(ctx context.Context, items []vector.Item) error {
	m.mu.Lock()
	if m.down {
		m.mu.Unlock()
		return vector.ErrConnection
	}
	m.batches = append(m.batches, items)
	m.mu.Unlock()
	return m.Driver.Upsert(ctx, items)
}

func (m *MockVectorDriver) Query(ctx context.Context, q vector.Query) ([]vector.Match, error) {
	m.mu.Lock()
	m.queries++
	down := m.down
	m.mu.Unlock()
	if down {
		return nil, chat.Unavailable("mock vector store", vector.ErrConnection)
	}
	return m.Driver.Query(ctx, q)
}
