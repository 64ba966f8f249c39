package vector

import (
	"errors"
	"fmt"

	"github.com/papercomputeco/keepsake/pkg/chat"
)

var (
	// ErrNotFound is returned when an item is not found in the vector store.
	// It matches chat.ErrNotFound.
	ErrNotFound = notFound{}

	// ErrEmbedding is returned when embedding generation fails.
	ErrEmbedding = errors.New("embedding failed")

	// ErrConnection is returned when the vector store cannot be reached. It
	// matches chat.ErrUpstreamUnavailable.
	ErrConnection = fmt.Errorf("vector store connection failed: %w", chat.ErrUpstreamUnavailable)

	// ErrInvalidItem is returned for items rejected before upsert.
	ErrInvalidItem = errors.New("invalid vector item")

	// ErrInvalidQuery is returned for queries that select nothing.
	ErrInvalidQuery = errors.New("invalid vector query")
)

type notFound struct{}

func (notFound) Error() string { return "vector item not found" }

func (notFound) Is(target error) bool { return target == chat.ErrNotFound }
