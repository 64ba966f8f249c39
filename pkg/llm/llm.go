// Package llm defines the streaming generation contract driven by the
// exchange layer. Generators receive an assembled prompt context and emit
// text and media chunks until a terminal chunk closes the stream.
package llm

import (
	"context"
	"errors"
	"strings"

	"github.com/papercomputeco/keepsake/pkg/chat"
)

// ErrEmptyPrompt is returned when a generator is handed a context with no
// user prompt.
var ErrEmptyPrompt = errors.New("empty prompt")

// Message is one prior turn rendered for the model.
type Message struct {
	Role chat.Role
	Text string

	// Attachments carry only the references of prior media. Inline payloads
	// are never replayed into history.
	Attachments []chat.AttachmentRef
}

// PromptContext is the bounded context passed to a Generator.
type PromptContext struct {
	// Summary condenses turns that fell outside the recent window. Empty
	// when the conversation is short enough to need none.
	Summary string

	// Messages holds the recent turns oldest first.
	Messages []Message

	// Prompt is the current user request, always included verbatim.
	Prompt string

	// Attachments sent with the current prompt.
	Attachments []chat.AttachmentRef
}

// Validate reports whether the context can be sent to a generator.
func (p *PromptContext) Validate() error {
	if p == nil || strings.TrimSpace(p.Prompt) == "" {
		return ErrEmptyPrompt
	}
	return nil
}

// Media is a binary artifact produced during generation.
type Media struct {
	ID          string
	ContentType string
	Data        []byte
}

// Chunk is one streamed fragment of a generation. Exactly one of Text,
// Media or Err is meaningful unless Done is set, in which case the chunk
// is the last on the channel.
type Chunk struct {
	Text  string
	Media *Media
	Done  bool
	Err   error
}

// Generator produces a response stream for a prompt context. The returned
// channel is closed after the terminal chunk or when ctx is cancelled.
type Generator interface {
	// Generate starts a generation. Errors that prevent the stream from
	// starting are returned directly; later failures arrive as a chunk
	// with Err set.
	Generate(ctx context.Context, pc *PromptContext) (<-chan Chunk, error)

	// Close releases any resources held by the generator.
	Close() error
}

// Result is a fully drained generation.
type Result struct {
	Text  string
	Media []Media
}

// Collect drains a chunk stream into a Result. It returns the first chunk
// error, or ctx.Err() when the context ends before the stream does.
func Collect(ctx context.Context, chunks <-chan Chunk) (*Result, error) {
	var (
		sb  strings.Builder
		res Result
	)

	for {
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case c, ok := <-chunks:
			if !ok {
				res.Text = sb.String()
				return &res, nil
			}
			if c.Err != nil {
				return nil, c.Err
			}
			sb.WriteString(c.Text)
			if c.Media != nil {
				res.Media = append(res.Media, *c.Media)
			}
			if c.Done {
				res.Text = sb.String()
				return &res, nil
			}
		}
	}
}
