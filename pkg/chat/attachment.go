package chat

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"path"
	"strings"
)

// RefKind tags the variant held by an AttachmentRef.
type RefKind string

const (
	// KindInline holds the raw payload in memory. Inline refs are transient
	// and must be uploaded before a turn can become durable.
	KindInline RefKind = "inline"

	// KindRemote holds a durable URL returned by the blob store.
	KindRemote RefKind = "remote"

	// KindPending marks an upload in flight; CorrelationID names the
	// persistence job carrying it.
	KindPending RefKind = "pending"
)

// AttachmentRef is a tagged variant over the three attachment shapes.
// Exactly the fields relevant to Kind are populated; consumers switch on
// Kind exhaustively.
type AttachmentRef struct {
	Kind RefKind `json:"kind"`

	// ID is the stable content id of the attachment, shared by every shape
	// it takes over its lifetime.
	ID string `json:"id"`

	ContentType string `json:"content_type,omitempty"`

	// Payload is set for KindInline only. It is never serialized.
	Payload []byte `json:"-"`

	// URL is set for KindRemote only.
	URL string `json:"url,omitempty"`

	// CorrelationID is set for KindPending only.
	CorrelationID string `json:"correlation_id,omitempty"`
}

// Inline builds an inline ref around a raw payload.
func Inline(id, contentType string, payload []byte) AttachmentRef {
	return AttachmentRef{Kind: KindInline, ID: id, ContentType: contentType, Payload: payload}
}

// Remote builds a durable ref.
func Remote(id, url, contentType string) AttachmentRef {
	return AttachmentRef{Kind: KindRemote, ID: id, URL: url, ContentType: contentType}
}

// Pending builds an in-flight ref.
func Pending(id, correlationID, contentType string) AttachmentRef {
	return AttachmentRef{Kind: KindPending, ID: id, CorrelationID: correlationID, ContentType: contentType}
}

// Validate checks that the fields required by Kind are present.
func (a AttachmentRef) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("attachment ref has no id")
	}

	switch a.Kind {
	case KindInline:
		if len(a.Payload) == 0 {
			return fmt.Errorf("inline attachment %s has no payload", a.ID)
		}
	case KindRemote:
		if a.URL == "" {
			return fmt.Errorf("remote attachment %s has no url", a.ID)
		}
	case KindPending:
		if a.CorrelationID == "" {
			return fmt.Errorf("pending attachment %s has no correlation id", a.ID)
		}
	default:
		return fmt.Errorf("attachment %s has unknown kind %q", a.ID, a.Kind)
	}

	return nil
}

// ContentID extracts the content id addressing this attachment in local
// caches. Remote URLs are expected to end in the content id (optionally with
// an extension); the explicit ID wins when present.
func (a AttachmentRef) ContentID() string {
	if a.ID != "" {
		return a.ID
	}
	if a.Kind == KindRemote && a.URL != "" {
		return ContentIDFromURL(a.URL)
	}
	return ""
}

// ContentIDOf derives a content id from a payload. The same bytes always
// yield the same id.
func ContentIDOf(payload []byte) string {
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:16])
}

// ContentIDFromURL returns the last path element of url without its
// extension or query string.
func ContentIDFromURL(url string) string {
	if i := strings.IndexAny(url, "?#"); i >= 0 {
		url = url[:i]
	}
	base := path.Base(url)
	if base == "." || base == "/" {
		return ""
	}
	return strings.TrimSuffix(base, path.Ext(base))
}

func (a AttachmentRef) clone() AttachmentRef {
	c := a
	if a.Payload != nil {
		c.Payload = append([]byte(nil), a.Payload...)
	}
	return c
}
