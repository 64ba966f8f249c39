package testutils

import (
	"context"
	"errors"
	"sync"

	"github.com/papercomputeco/keepsake/pkg/blob"
	"github.com/papercomputeco/keepsake/pkg/blob/inmemory"
	"github.com/papercomputeco/keepsake/pkg/chat"
)

// ErrFlaky is the cause wrapped by FlakyBlobStore failures.
var ErrFlaky = errors.New("flaky blob store")

// FlakyBlobStore is an in-memory blob store whose uploads fail on demand
// and whose downloads can be gated and counted.
type FlakyBlobStore struct {
	*inmemory.Store

	mu       sync.Mutex
	failPuts int
	down     bool
	puts     int
	gets     int
	gate     chan struct{}
}

func NewFlakyBlobStore() *FlakyBlobStore {
	return &FlakyBlobStore{Store: inmemory.NewStore()}
}

// FailNextPuts makes the next n uploads fail.
func (f *FlakyBlobStore) FailNextPuts(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failPuts = n
}

// SetUnavailable makes every upload fail until reset.
func (f *FlakyBlobStore) SetUnavailable(down bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.down = down
}

// GateGets blocks downloads until the returned func is called.
func (f *FlakyBlobStore) GateGets() (release func()) {
	f.mu.Lock()
	defer f.mu.Unlock()
	gate := make(chan struct{})
	f.gate = gate
	var once sync.Once
	return func() { once.Do(func() { close(gate) }) }
}

// Puts returns the number of upload attempts.
func (f *FlakyBlobStore) Puts() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.puts
}

// Gets returns the number of download attempts.
func (f *FlakyBlobStore) Gets() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.gets
}

func (f *FlakyBlobStore) Put(ctx context.Context, o blob.Object) (string, error) {
	f.mu.Lock()
	f.puts++
	fail := f.down || f.failPuts > 0
	if f.failPuts > 0 {
		f.failPuts--
	}
	f.mu.Unlock()

	if fail {
		return "", chat.Unavailable("blob put", ErrFlaky)
	}
	return f.Store.Put(ctx, o)
}

func (f *FlakyBlobStore) Get(ctx context.Context, url string) ([]byte, string, error) {
	f.mu.Lock()
	f.gets++
	gate := f.gate
	f.mu.Unlock()

	if gate != nil {
		select {
		case <-gate:
		case <-ctx.Done():
			return nil, "", ctx.Err()
		}
	}
	return f.Store.Get(ctx, url)
}
