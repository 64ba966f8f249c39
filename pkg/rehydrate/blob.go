package rehydrate

import "time"

// CachedBlob is a locally cached attachment payload.
type CachedBlob struct {
	ID           string
	OwnerKey     string
	ContentType  string
	Payload      []byte
	RemoteURL    string
	LastAccessed time.Time
}

// State is the display state of a resolution.
type State string

const (
	StateLoading State = "loading"
	StateReady   State = "ready"
	StateFailed  State = "failed"
)

// Placeholder stands in for content that is not available yet.
type Placeholder struct {
	ID          string `json:"id"`
	ContentType string `json:"content_type,omitempty"`
	State       State  `json:"state"`
}

// String renders the placeholder as a stable URI.
func (p Placeholder) String() string {
	return "keepsake://placeholder/" + p.ID + "?state=" + string(p.State)
}

// Strategy names what answered a resolution.
type Strategy string

const (
	StrategyInline    Strategy = "inline"
	StrategyURL       Strategy = "url"
	StrategyContentID Strategy = "content_id"
	StrategyFetch     Strategy = "fetch"
	StrategyPending   Strategy = "pending"
)

// Resolution is the immediate answer to Resolve. Blob is set when State is
// ready; otherwise Placeholder describes what to show.
type Resolution struct {
	State       State
	Strategy    Strategy
	Blob        *CachedBlob
	Placeholder Placeholder
	Err         error
}
