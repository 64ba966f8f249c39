// Package sse provides minimal SSE (Server-Sent Events) encoding and a
// tee-reader. The API streams answers as events written with Write; clients
// parse them with TeeReader while optionally copying the raw bytes elsewhere
// (e.g. a debug log).
//
// See the SSE standard:
// https://html.spec.whatwg.org/multipage/server-sent-events.html
package sse

// Event represents a single parsed SSE event, delimited by a blank line
// in the upstream byte stream.
type Event struct {
	// Type is the SSE event type from the "event:" field.
	// An empty string means the default "message" type per the SSE standard.
	Type string

	// Data is the concatenated contents of all "data:" lines for this event,
	// joined with "\n" (per the SSE standard, multiple data fields are joined
	// with a single newline).
	Data string

	// ID is the last event ID from the "id:" field, if present.
	ID string
}
