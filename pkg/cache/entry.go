package cache

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"github.com/papercomputeco/keepsake/pkg/llm"
)

// Category selects the retention window of an entry.
type Category string

const (
	// CategoryCode holds code answers, which stay valid longer.
	CategoryCode Category = "code"

	// CategoryQA holds general question answers.
	CategoryQA Category = "qa"
)

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return c == CategoryCode || c == CategoryQA
}

// Entry is a cached answer. Entries are never authoritative: a miss or an
// eviction only costs a regeneration.
type Entry struct {
	Key       Key
	Value     string
	Category  Category
	TTL       time.Duration
	CreatedAt time.Time

	// Warm entries are preloaded canonical answers. They do not expire.
	Warm bool

	hits atomic.Int64
}

// HitCount returns the number of lookups served by this entry.
func (e *Entry) HitCount() int64 {
	return e.hits.Load()
}

// ExpiresAt returns the instant after which the entry is invisible.
func (e *Entry) ExpiresAt() time.Time {
	return e.CreatedAt.Add(e.TTL)
}

// Expired reports whether the entry is past its TTL at now. An entry is
// still live at exactly CreatedAt+TTL-1ns and gone at CreatedAt+TTL.
func (e *Entry) Expired(now time.Time) bool {
	if e.Warm {
		return false
	}
	return !now.Before(e.ExpiresAt())
}

// Replay streams the cached value in the same chunk shape a live
// generation produces, ending with a Done chunk. The channel closes early
// when ctx is cancelled.
func (e *Entry) Replay(ctx context.Context) <-chan llm.Chunk {
	out := make(chan llm.Chunk)

	go func() {
		defer close(out)

		for _, piece := range Segments(e.Value) {
			select {
			case out <- llm.Chunk{Text: piece}:
			case <-ctx.Done():
				return
			}
		}

		select {
		case out <- llm.Chunk{Done: true}:
		case <-ctx.Done():
		}
	}()

	return out
}

// Segments splits text into word-sized pieces that concatenate back to
// the original, trailing whitespace kept on each piece.
func Segments(text string) []string {
	if text == "" {
		return nil
	}

	var (
		pieces []string
		start  int
		inWord bool
	)
	for i, r := range text {
		space := r == ' ' || r == '\n' || r == '\t'
		if !space && !inWord && i > start {
			pieces = append(pieces, text[start:i])
			start = i
		}
		inWord = !space
	}
	pieces = append(pieces, text[start:])

	// leading whitespace forms its own piece; fold it into the first word
	if len(pieces) > 1 && strings.TrimSpace(pieces[0]) == "" {
		pieces[1] = pieces[0] + pieces[1]
		pieces = pieces[1:]
	}
	return pieces
}
