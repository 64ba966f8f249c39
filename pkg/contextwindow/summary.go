package contextwindow

import (
	"fmt"
	"strings"

	"github.com/papercomputeco/keepsake/pkg/chat"
)

const (
	// DefaultSummaryChars caps the summary length.
	DefaultSummaryChars = 1500

	// DefaultSummaryLineChars caps the excerpt taken from one turn.
	DefaultSummaryLineChars = 160
)

// Summarizer condenses turns that fall outside the recent window into one
// bounded string.
type Summarizer interface {
	Summarize(turns []*chat.Turn) string
}

// SummarizerFunc adapts a function to Summarizer.
type SummarizerFunc func(turns []*chat.Turn) string

// Summarize calls f.
func (f SummarizerFunc) Summarize(turns []*chat.Turn) string {
	return f(turns)
}

// ExtractiveSummarizer keeps the first sentence of each turn, newest
// excerpts winning when the total exceeds MaxChars.
type ExtractiveSummarizer struct {
	MaxChars     int
	MaxLineChars int
}

// Summarize implements Summarizer.
func (e *ExtractiveSummarizer) Summarize(turns []*chat.Turn) string {
	maxChars := e.MaxChars
	if maxChars <= 0 {
		maxChars = DefaultSummaryChars
	}
	lineChars := e.MaxLineChars
	if lineChars <= 0 {
		lineChars = DefaultSummaryLineChars
	}

	lines := make([]string, 0, len(turns))
	for _, t := range turns {
		excerpt := firstSentence(t.Text)
		if excerpt == "" && len(t.Attachments) > 0 {
			excerpt = fmt.Sprintf("(%d attachment(s))", len(t.Attachments))
		}
		if excerpt == "" {
			continue
		}
		lines = append(lines, string(t.Role)+": "+truncate(excerpt, lineChars))
	}

	// walk newest to oldest so the most recent context survives the cap
	size := 0
	keep := len(lines)
	for i := len(lines) - 1; i >= 0; i-- {
		if size+len(lines[i])+1 > maxChars {
			break
		}
		size += len(lines[i]) + 1
		keep = i
	}

	kept := lines[keep:]
	if dropped := len(lines) - len(kept); dropped > 0 {
		header := fmt.Sprintf("(%d earlier turns omitted)", dropped)
		if size+len(header)+1 > maxChars && len(kept) > 0 {
			kept = kept[1:]
			header = fmt.Sprintf("(%d earlier turns omitted)", dropped+1)
		}
		kept = append([]string{header}, kept...)
	}

	return truncate(strings.Join(kept, "\n"), maxChars)
}

func firstSentence(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if i := strings.IndexAny(text, ".!?"); i >= 0 {
		return text[:i+1]
	}
	return text
}
