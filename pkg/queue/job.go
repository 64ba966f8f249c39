package queue

import (
	"errors"
	"time"

	"github.com/papercomputeco/keepsake/pkg/chat"
)

// Kind names the work a job performs.
type Kind string

const (
	// KindUpload uploads a pending attachment to the blob tier.
	KindUpload Kind = "upload"

	// KindVectorUpsert writes a batch of turns to the vector tier.
	KindVectorUpsert Kind = "vector_upsert"

	// KindSessionFlush writes session metadata to the document tier.
	KindSessionFlush Kind = "session_flush"
)

// State is the lifecycle state of a job.
type State string

const (
	StateQueued    State = "queued"
	StateRunning   State = "running"
	StateRetrying  State = "retrying"
	StateSucceeded State = "succeeded"
	StateFailed    State = "failed"
)

// Terminal reports whether no further attempts will be made.
func (s State) Terminal() bool {
	return s == StateSucceeded || s == StateFailed
}

// Job is a unit of durability work. Jobs carry references only; handlers
// look up the data they act on when they run, so a retried job always sees
// the latest state.
type Job struct {
	Kind    Kind
	Session chat.Key

	// TargetID identifies what the job acts on: the correlation id of a
	// pending attachment for uploads, or the session key for flushes and
	// upserts. At most one
	// job per (Kind, TargetID) is active at a time.
	TargetID string
}

func (j Job) dedupeKey() string {
	return string(j.Kind) + "|" + j.TargetID
}

// Status is a point-in-time view of a job.
type Status struct {
	ID            string    `json:"id"`
	Kind          Kind      `json:"kind"`
	Session       chat.Key  `json:"session"`
	TargetID      string    `json:"target_id"`
	State         State     `json:"state"`
	Attempts      int       `json:"attempts"`
	LastError     string    `json:"last_error,omitempty"`
	NextAttemptAt time.Time `json:"next_attempt_at,omitzero"`
	UpdatedAt     time.Time `json:"updated_at"`
}

// FailedJob converts a failed status into its session-level record.
func (s Status) FailedJob() chat.FailedJob {
	return chat.FailedJob{
		JobID:    s.ID,
		Kind:     string(s.Kind),
		TargetID: s.TargetID,
		Attempts: s.Attempts,
		Error:    s.LastError,
		FailedAt: s.UpdatedAt,
	}
}

type entry struct {
	id        string
	job       Job
	state     State
	attempts  int
	lastErr   error
	nextAt    time.Time
	updatedAt time.Time

	// again is set when the same target is enqueued while this entry is
	// running; the entry runs once more after it succeeds.
	again bool
	timer *time.Timer
}

func (e *entry) status() Status {
	s := Status{
		ID:            e.id,
		Kind:          e.job.Kind,
		Session:       e.job.Session,
		TargetID:      e.job.TargetID,
		State:         e.state,
		Attempts:      e.attempts,
		NextAttemptAt: e.nextAt,
		UpdatedAt:     e.updatedAt,
	}
	if e.lastErr != nil {
		s.LastError = e.lastErr.Error()
	}
	return s
}

// PermanentError marks a job failure that no retry can fix, such as
// invalid input.
type PermanentError struct {
	Err error
}

func (e *PermanentError) Error() string { return e.Err.Error() }

func (e *PermanentError) Unwrap() error { return e.Err }

// Permanent wraps err so the queue fails the job on this attempt. A nil
// err stays nil.
func Permanent(err error) error {
	if err == nil {
		return nil
	}
	return &PermanentError{Err: err}
}

// IsPermanent reports whether err carries a PermanentError.
func IsPermanent(err error) bool {
	var p *PermanentError
	return errors.As(err, &p)
}
