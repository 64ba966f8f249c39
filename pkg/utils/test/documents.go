package testutils

import (
	"context"
	"sync"

	"github.com/papercomputeco/keepsake/pkg/chat"
	"github.com/papercomputeco/keepsake/pkg/storage/inmemory"
)

// FlakyDocuments is an in-memory document store that can be switched
// offline for writes.
type FlakyDocuments struct {
	*inmemory.Driver

	mu   sync.Mutex
	down bool
	puts int
}

func NewFlakyDocuments() *FlakyDocuments {
	return &FlakyDocuments{Driver: inmemory.NewDriver()}
}

// SetUnavailable toggles the write outage.
func (f *FlakyDocuments) SetUnavailable(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

// Puts returns the number of write attempts.
func (f *FlakyDocuments) Puts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puts
}

func (f *FlakyDocuments) PutSession(ctx context.Context, s *chat.Session) error {
	f.mu.Lock()
	f.puts++
	down := f.down
	f.mu.Unlock()
	if down {
		return chat.Unavailable("document store", ErrFlaky)
	}
	return f.Driver.PutSession(ctx, s)
}
