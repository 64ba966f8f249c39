package storage

import "github.com/papercomputeco/keepsake/pkg/chat"

// NotFoundError is returned when a session doesn't exist in the store.
type NotFoundError struct {
	Key chat.Key
}

func (e NotFoundError) Error() string {
	if !e.Key.Valid() {
		return "session not found"
	}

	return "session not found: " + e.Key.String()
}

// Is lets errors.Is(err, chat.ErrNotFound) match.
func (e NotFoundError) Is(target error) bool {
	return target == chat.ErrNotFound
}
