// Package contextwindow bounds the prompt context taken from a
// conversation: the most recent turns verbatim and one compact summary of
// everything older.
package contextwindow

import (
	"github.com/papercomputeco/keepsake/pkg/chat"
	"github.com/papercomputeco/keepsake/pkg/llm"
)

const (
	// DefaultRecent is the number of most recent turns kept verbatim.
	DefaultRecent = 5

	// DefaultMaxTurnChars caps a single recent turn. The latest user turn
	// is exempt.
	DefaultMaxTurnChars = 4000

	truncationMark = " [...]"
)

// Config holds configuration for a Selector.
type Config struct {
	Recent       int
	MaxTurnChars int

	// Summarizer condenses older turns. Defaults to an
	// ExtractiveSummarizer with default limits.
	Summarizer Summarizer
}

// Window is a bounded view of a conversation.
type Window struct {
	// Summary covers every turn before Turns. Empty when nothing was
	// omitted.
	Summary string

	// Turns are the verbatim turns in causal order.
	Turns []*chat.Turn

	// Summarized is the number of turns folded into Summary.
	Summarized int
}

// Selector builds Windows.
type Selector struct {
	recent       int
	maxTurnChars int
	summarizer   Summarizer
}

// New creates a Selector.
func New(c Config) *Selector {
	if c.Recent <= 0 {
		c.Recent = DefaultRecent
	}
	if c.MaxTurnChars <= 0 {
		c.MaxTurnChars = DefaultMaxTurnChars
	}
	if c.Summarizer == nil {
		c.Summarizer = &ExtractiveSummarizer{}
	}
	return &Selector{
		recent:       c.Recent,
		maxTurnChars: c.MaxTurnChars,
		summarizer:   c.Summarizer,
	}
}

// Select takes turns in append order and returns the bounded window. The
// latest user turn is always part of Turns and never truncated. When more
// than Recent turns follow it, it takes the slot of the oldest recent turn
// so Turns never exceeds Recent.
func (s *Selector) Select(turns []*chat.Turn) *Window {
	w := &Window{}
	if len(turns) == 0 {
		return w
	}

	split := max(len(turns)-s.recent, 0)

	latestUser := -1
	for i := len(turns) - 1; i >= 0; i-- {
		if turns[i].Role == chat.RoleUser {
			latestUser = i
			break
		}
	}
	if latestUser >= 0 && latestUser < split {
		split++
	}

	var older []*chat.Turn
	for i, t := range turns {
		switch {
		case i == latestUser:
			w.Turns = append(w.Turns, t)
		case i >= split:
			w.Turns = append(w.Turns, s.clip(t))
		default:
			older = append(older, t)
		}
	}

	if len(older) > 0 {
		w.Summary = s.summarizer.Summarize(older)
		w.Summarized = len(older)
	}

	return w
}

func (s *Selector) clip(t *chat.Turn) *chat.Turn {
	if len(t.Text) <= s.maxTurnChars {
		return t
	}
	c := t.Clone()
	c.Text = truncate(t.Text, s.maxTurnChars)
	return c
}

// Messages renders the window's turns for a generator.
func (w *Window) Messages() []llm.Message {
	msgs := make([]llm.Message, 0, len(w.Turns))
	for _, t := range w.Turns {
		msgs = append(msgs, llm.Message{
			Role:        t.Role,
			Text:        t.Text,
			Attachments: t.Attachments,
		})
	}
	return msgs
}

// Parts returns the window as ordered strings for fingerprinting.
func (w *Window) Parts() []string {
	parts := make([]string, 0, len(w.Turns)+1)
	parts = append(parts, "summary:"+w.Summary)
	for _, t := range w.Turns {
		parts = append(parts, string(t.Role)+":"+t.Text)
	}
	return parts
}

// PromptContext assembles the generator input for prompt.
func (w *Window) PromptContext(prompt string, attachments []chat.AttachmentRef) *llm.PromptContext {
	return &llm.PromptContext{
		Summary:     w.Summary,
		Messages:    w.Messages(),
		Prompt:      prompt,
		Attachments: attachments,
	}
}

// Size returns the number of characters the window contributes.
func (w *Window) Size() int {
	n := len(w.Summary)
	for _, t := range w.Turns {
		n += len(t.Text)
	}
	return n
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	cut := max(limit-len(truncationMark), 0)
	for cut > 0 && !utf8Start(s[cut]) {
		cut--
	}
	return s[:cut] + truncationMark
}

func utf8Start(b byte) bool {
	return b&0xC0 != 0x80
}
