// Package vector defines the long-term semantic tier: embedded turns with
// small reference metadata, queried by similarity or by metadata filter.
package vector

import (
	"context"
	"fmt"
	"math"
)

const (
	// MaxMetadataBytes bounds the summed key and value length of an item's
	// metadata. Metadata carries references, never payloads.
	MaxMetadataBytes = 2048

	// MaxContentBytes bounds the text stored alongside an embedding.
	MaxContentBytes = 16 << 10

	// DefaultTopK is used when a query does not set TopK.
	DefaultTopK = 10
)

// Item is a stored vector with its metadata.
type Item struct {
	// ID is unique within the store. Upserting an existing ID replaces it.
	ID string

	Vector []float32

	// Content is the text that was embedded.
	Content string

	// Metadata holds small string references such as user, chat and turn
	// ids or durable attachment URLs.
	Metadata map[string]string
}

// Match is a query result. Score is higher for closer matches and zero
// for filter-only queries.
type Match struct {
	Item
	Score float32
}

// Filter is a conjunction of exact metadata matches.
type Filter map[string]string

// Matches reports whether metadata satisfies every condition.
func (f Filter) Matches(metadata map[string]string) bool {
	for k, v := range f {
		if metadata[k] != v {
			return false
		}
	}
	return true
}

// Query selects items by vector similarity, by filter, or both. At least
// one of Vector or Filter must be set.
type Query struct {
	Vector []float32
	Filter Filter
	TopK   int
}

// Limit returns TopK or DefaultTopK.
func (q Query) Limit() int {
	if q.TopK <= 0 {
		return DefaultTopK
	}
	return q.TopK
}

// Validate checks that the query selects something.
func (q Query) Validate() error {
	if len(q.Vector) == 0 && len(q.Filter) == 0 {
		return fmt.Errorf("%w: query needs a vector or a filter", ErrInvalidQuery)
	}
	return nil
}

// Driver handles storage and retrieval of vectors.
type Driver interface {
	// Upsert stores items, replacing any with the same ID.
	Upsert(ctx context.Context, items []Item) error

	// Query returns matches ranked by similarity when Vector is set, or in
	// store order for filter-only queries.
	Query(ctx context.Context, q Query) ([]Match, error)

	// Get retrieves items by ID. Missing IDs are skipped.
	Get(ctx context.Context, ids []string) ([]Item, error)

	// Delete removes items by ID.
	Delete(ctx context.Context, ids []string) error

	// Close releases any resources held by the driver.
	Close() error
}

// ValidateItems checks ids, vector presence and metadata and content
// bounds before a batch is sent to a store.
func ValidateItems(items []Item) error {
	for _, it := range items {
		if it.ID == "" {
			return fmt.Errorf("%w: item has no id", ErrInvalidItem)
		}
		if len(it.Vector) == 0 {
			return fmt.Errorf("%w: item %s has no vector", ErrInvalidItem, it.ID)
		}
		if len(it.Content) > MaxContentBytes {
			return fmt.Errorf("%w: item %s content is %d bytes", ErrInvalidItem, it.ID, len(it.Content))
		}
		size := 0
		for k, v := range it.Metadata {
			size += len(k) + len(v)
		}
		if size > MaxMetadataBytes {
			return fmt.Errorf("%w: item %s metadata is %d bytes", ErrInvalidItem, it.ID, size)
		}
	}
	return nil
}

// CosineSimilarity returns the cosine of the angle between a and b, or 0
// when the lengths differ or either is a zero vector.
func CosineSimilarity(a, b []float32) float32 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, na, nb float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		na += float64(a[i]) * float64(a[i])
		nb += float64(b[i]) * float64(b[i])
	}
	if na == 0 || nb == 0 {
		return 0
	}
	return float32(dot / (math.Sqrt(na) * math.Sqrt(nb)))
}
