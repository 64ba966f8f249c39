package sse

import (
	"bufio"
	"io"
	"strings"
)

const maxLine = 1024 * 1024

// Reader parses events from an SSE stream. When created with NewTeeReader
// every raw line is also copied to a destination writer as it is read.
type Reader struct {
	scanner *bufio.Scanner
	tee     io.Writer

	event   Event
	pending bool
}

// NewReader returns a Reader over src.
func NewReader(src io.Reader) *Reader {
	return NewTeeReader(src, io.Discard)
}

// NewTeeReader returns a Reader over src that writes the raw stream through
// to tee, byte for byte.
func NewTeeReader(src io.Reader, tee io.Writer) *Reader {
	scanner := bufio.NewScanner(src)
	scanner.Buffer(make([]byte, 64*1024), maxLine)
	return &Reader{scanner: scanner, tee: tee}
}

// Next blocks until a complete event is available and returns it. It
// returns nil, nil once the stream is exhausted. A final event without a
// terminating blank line is still returned.
func (r *Reader) Next() (*Event, error) {
	for r.scanner.Scan() {
		line := r.scanner.Text()
		if _, err := io.WriteString(r.tee, line+"\n"); err != nil {
			return nil, err
		}

		switch {
		case line == "":
			if r.pending {
				return r.take(), nil
			}
		case strings.HasPrefix(line, ":"):
		default:
			r.field(line)
		}
	}
	if err := r.scanner.Err(); err != nil {
		return nil, err
	}

	if r.pending {
		return r.take(), nil
	}
	return nil, nil
}

func (r *Reader) field(line string) {
	name, value, _ := strings.Cut(line, ":")
	value = strings.TrimPrefix(value, " ")

	switch name {
	case "data":
		if r.pending && r.event.Data != "" {
			r.event.Data += "\n"
		}
		r.event.Data += value
	case "event":
		r.event.Type = value
	case "id":
		r.event.ID = value
	default:
		// "retry" and unknown fields are ignored.
		return
	}
	r.pending = true
}

func (r *Reader) take() *Event {
	e := r.event
	r.event = Event{}
	r.pending = false
	return &e
}
