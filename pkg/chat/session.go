package chat

import "time"

// Status is the lifecycle state of a chat session.
type Status string

const (
	StatusActive Status = "active"
	StatusEnded  Status = "ended"
)

// Session is the document-store record describing a conversation.
type Session struct {
	ChatID             string    `json:"chat_id"`
	UserID             string    `json:"user_id"`
	Title              string    `json:"title,omitempty"`
	Status             Status    `json:"status"`
	PendingPersistence bool      `json:"pending_persistence"`
	LastActivity       time.Time `json:"last_activity"`
	TurnCount          int       `json:"turn_count"`

	// FailedJobs lists persistence jobs that exhausted their retry budget.
	// They are kept for external reconciliation.
	FailedJobs []FailedJob `json:"failed_jobs,omitempty"`
}

// FailedJob is the session-level record of a persistence job that gave up.
type FailedJob struct {
	JobID    string    `json:"job_id"`
	Kind     string    `json:"kind"`
	TargetID string    `json:"target_id"`
	Attempts int       `json:"attempts"`
	Error    string    `json:"error"`
	FailedAt time.Time `json:"failed_at"`
}

// Key returns the conversation key of the session.
func (s *Session) Key() Key {
	return Key{UserID: s.UserID, ChatID: s.ChatID}
}

// Clone returns a deep copy.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	c := *s
	if s.FailedJobs != nil {
		c.FailedJobs = append([]FailedJob(nil), s.FailedJobs...)
	}
	return &c
}
