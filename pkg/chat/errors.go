package chat

import (
	"errors"
	"fmt"
)

var (
	// ErrLockConflict is returned when another operation holds the
	// conversation lock. Callers retry later; it never signals failure of
	// the underlying operation.
	ErrLockConflict = errors.New("conversation is busy")

	// ErrUpstreamUnavailable is returned when a generation backend or a
	// storage tier cannot be reached.
	ErrUpstreamUnavailable = errors.New("upstream unavailable")

	// ErrNotFound is returned for a missing turn or session. Callers treat
	// it as empty state.
	ErrNotFound = errors.New("not found")

	// ErrAborted is returned when the caller cancels an in-flight exchange.
	ErrAborted = errors.New("exchange aborted")
)

// PartialWriteError records that one tier accepted a write while another
// did not. The missing write is tracked as pending work, not data loss.
type PartialWriteError struct {
	Tier string
	Err  error
}

func (e *PartialWriteError) Error() string {
	return fmt.Sprintf("partial write: %s tier: %v", e.Tier, e.Err)
}

func (e *PartialWriteError) Unwrap() error {
	return e.Err
}

// Unavailable wraps err so that errors.Is(err, ErrUpstreamUnavailable)
// holds while keeping the original cause in the chain.
func Unavailable(what string, err error) error {
	return fmt.Errorf("%s: %w: %w", what, ErrUpstreamUnavailable, err)
}
