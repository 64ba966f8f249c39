package testutils

import (
	"context"
	"sync"
	"time"

	"github.com/papercomputeco/keepsake/pkg/llm"
)

// FakeGenerator streams canned chunks.
type FakeGenerator struct {
	mu sync.Mutex

	// Chunks are sent in order, followed by a Done chunk.
	Chunks []llm.Chunk

	// Err is returned by Generate before streaming.
	Err error

	// StreamErr is sent as the final chunk instead of Done.
	StreamErr error

	// Delay is slept before each chunk.
	Delay time.Duration

	calls   int
	prompts []*llm.PromptContext
}

// NewFakeGenerator streams text split on spaces.
func NewFakeGenerator(words ...string) *FakeGenerator {
	g := &FakeGenerator{}
	for i, w := range words {
		if i > 0 {
			w = " " + w
		}
		g.Chunks = append(g.Chunks, llm.Chunk{Text: w})
	}
	return g
}

// Calls returns how many times Generate was called.
func (g *FakeGenerator) Calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.calls
}

// LastPrompt returns the most recent prompt context.
func (g *FakeGenerator) LastPrompt() *llm.PromptContext {
	g.mu.Lock()
	defer g.mu.Unlock()
	if len(g.prompts) == 0 {
		return nil
	}
	return g.prompts[len(g.prompts)-1]
}

func (g *FakeGenerator) Generate(ctx context.Context, pc *llm.PromptContext) (<-chan llm.Chunk, error) {
	g.mu.Lock()
	g.calls++
	g.prompts = append(g.prompts, pc)
	chunks := append([]llm.Chunk(nil), g.Chunks...)
	err, streamErr, delay := g.Err, g.StreamErr, g.Delay
	g.mu.Unlock()

	if err != nil {
		return nil, err
	}

	out := make(chan llm.Chunk)
	go func() {
		defer close(out)
		for _, c := range chunks {
			if delay > 0 {
				select {
				case <-time.After(delay):
				case <-ctx.Done():
					return
				}
			}
			select {
			case out <- c:
			case <-ctx.Done():
				return
			}
		}
		final := llm.Chunk{Done: true}
		if streamErr != nil {
			final = llm.Chunk{Err: streamErr}
		}
		select {
		case out <- final:
		case <-ctx.Done():
		}
	}()
	return out, nil
}

func (g *FakeGenerator) Close() error {
	return nil
}
