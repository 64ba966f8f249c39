// Package sqlstore is the database/sql implementation of storage.Driver
// shared by the SQLite, libSQL and PostgreSQL drivers.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/papercomputeco/keepsake/pkg/chat"
	"github.com/papercomputeco/keepsake/pkg/storage"
)

// Dialect selects the placeholder style of the target database.
type Dialect int

const (
	// Question uses "?" placeholders (SQLite, libSQL).
	Question Dialect = iota

	// Dollar uses "$n" placeholders (PostgreSQL).
	Dollar
)

var schema = []string{
	`CREATE TABLE IF NOT EXISTS keepsake_sessions (
		user_id             TEXT    NOT NULL,
		chat_id             TEXT    NOT NULL,
		title               TEXT    NOT NULL DEFAULT '',
		status              TEXT    NOT NULL,
		pending_persistence BOOLEAN NOT NULL DEFAULT FALSE,
		last_activity       BIGINT  NOT NULL,
		turn_count          INTEGER NOT NULL DEFAULT 0,
		failed_jobs         TEXT    NOT NULL DEFAULT '[]',
		PRIMARY KEY (user_id, chat_id)
	)`,
	`CREATE INDEX IF NOT EXISTS keepsake_sessions_activity
		ON keepsake_sessions (user_id, last_activity DESC)`,
}

const (
	columns = `user_id, chat_id, title, status, pending_persistence, last_activity, turn_count, failed_jobs`

	upsertQuery = `INSERT INTO keepsake_sessions (` + columns + `)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (user_id, chat_id) DO UPDATE SET
			title = excluded.title,
			status = excluded.status,
			pending_persistence = excluded.pending_persistence,
			last_activity = excluded.last_activity,
			turn_count = excluded.turn_count,
			failed_jobs = excluded.failed_jobs`

	getQuery    = `SELECT ` + columns + ` FROM keepsake_sessions WHERE user_id = ? AND chat_id = ?`
	listQuery   = `SELECT ` + columns + ` FROM keepsake_sessions WHERE user_id = ? ORDER BY last_activity DESC, chat_id ASC`
	deleteQuery = `DELETE FROM keepsake_sessions WHERE user_id = ? AND chat_id = ?`
)

// Driver implements storage.Driver over a *sql.DB.
type Driver struct {
	DB      *sql.DB
	dialect Dialect
}

// New wraps db and runs the append-only schema migration.
func New(ctx context.Context, db *sql.DB, dialect Dialect) (*Driver, error) {
	d := &Driver{DB: db, dialect: dialect}
	for _, stmt := range schema {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("failed to create schema: %w", err)
		}
	}
	return d, nil
}

// GetSession returns the session for key.
func (d *Driver) GetSession(ctx context.Context, key chat.Key) (*chat.Session, error) {
	row := d.DB.QueryRowContext(ctx, d.rebind(getQuery), key.UserID, key.ChatID)
	s, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, storage.NotFoundError{Key: key}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get session %s: %w", key, err)
	}
	return s, nil
}

// PutSession upserts s.
func (d *Driver) PutSession(ctx context.Context, s *chat.Session) error {
	if s == nil {
		return errors.New("cannot store nil session")
	}
	if !s.Key().Valid() {
		return errors.New("session has no user or chat id")
	}

	failed := s.FailedJobs
	if failed == nil {
		failed = []chat.FailedJob{}
	}
	failedJSON, err := json.Marshal(failed)
	if err != nil {
		return fmt.Errorf("failed to encode failed jobs: %w", err)
	}

	_, err = d.DB.ExecContext(ctx, d.rebind(upsertQuery),
		s.UserID,
		s.ChatID,
		s.Title,
		string(s.Status),
		s.PendingPersistence,
		s.LastActivity.UTC().UnixMicro(),
		s.TurnCount,
		string(failedJSON),
	)
	if err != nil {
		return fmt.Errorf("failed to put session %s: %w", s.Key(), err)
	}
	return nil
}

// ListSessions returns a user's sessions, most recently active first.
func (d *Driver) ListSessions(ctx context.Context, userID string) ([]*chat.Session, error) {
	rows, err := d.DB.QueryContext(ctx, d.rebind(listQuery), userID)
	if err != nil {
		return nil, fmt.Errorf("failed to list sessions: %w", err)
	}
	defer rows.Close()

	out := make([]*chat.Session, 0)
	for rows.Next() {
		s, err := scanSession(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// DeleteSession removes a session.
func (d *Driver) DeleteSession(ctx context.Context, key chat.Key) error {
	if _, err := d.DB.ExecContext(ctx, d.rebind(deleteQuery), key.UserID, key.ChatID); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", key, err)
	}
	return nil
}

// Close closes the database.
func (d *Driver) Close() error {
	return d.DB.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(row scanner) (*chat.Session, error) {
	var (
		s          chat.Session
		status     string
		lastActive int64
		failedJSON string
	)
	err := row.Scan(
		&s.UserID,
		&s.ChatID,
		&s.Title,
		&status,
		&s.PendingPersistence,
		&lastActive,
		&s.TurnCount,
		&failedJSON,
	)
	if err != nil {
		return nil, err
	}

	s.Status = chat.Status(status)
	s.LastActivity = time.UnixMicro(lastActive).UTC()
	if failedJSON != "" && failedJSON != "[]" {
		if err := json.Unmarshal([]byte(failedJSON), &s.FailedJobs); err != nil {
			return nil, fmt.Errorf("decoding failed jobs: %w", err)
		}
	}
	return &s, nil
}

func (d *Driver) rebind(query string) string {
	if d.dialect != Dollar {
		return query
	}

	var (
		sb strings.Builder
		n  int
	)
	sb.Grow(len(query) + 8)
	for _, r := range query {
		if r == '?' {
			n++
			sb.WriteByte('$')
			sb.WriteString(strconv.Itoa(n))
			continue
		}
		sb.WriteRune(r)
	}
	return sb.String()
}

var _ storage.Driver = (*Driver)(nil)
