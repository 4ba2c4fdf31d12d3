package db

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"
)

// Session repository errors.
var (
	ErrNoSession      = errors.New("no stored session")
	ErrInvalidSession = errors.New("invalid session")
)

// StoredSession is the persisted credential: the opaque token plus the
// user it belongs to. It survives process restarts; its absence means
// the process starts Unauthenticated.
type StoredSession struct {
	Token     string
	UserID    string
	UpdatedAt time.Time
}

// SessionRepository persists the single session row.
type SessionRepository struct {
	db *DB
}

// NewSessionRepository creates a SessionRepository.
func NewSessionRepository(db *DB) *SessionRepository {
	return &SessionRepository{db: db}
}

// Save stores or replaces the session.
func (r *SessionRepository) Save(ctx context.Context, token, userID string) error {
	if token == "" || userID == "" {
		return ErrInvalidSession
	}

	return withRetry(ctx, 0, 0, func() error {
		_, err := r.db.ExecContext(ctx, `
			INSERT INTO session (id, token, user_id, updated_at) VALUES (1, ?, ?, ?)
			ON CONFLICT(id) DO UPDATE SET token = excluded.token,
				user_id = excluded.user_id, updated_at = excluded.updated_at
		`, token, userID, time.Now().UTC().Format(time.RFC3339))
		if err != nil {
			return fmt.Errorf("failed to save session: %w", err)
		}
		return nil
	})
}

// Load reads the stored session. Returns ErrNoSession when absent.
func (r *SessionRepository) Load(ctx context.Context) (*StoredSession, error) {
	row := r.db.QueryRowContext(ctx, `SELECT token, user_id, updated_at FROM session WHERE id = 1`)

	var session StoredSession
	var updatedAt string
	if err := row.Scan(&session.Token, &session.UserID, &updatedAt); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNoSession
		}
		return nil, fmt.Errorf("failed to load session: %w", err)
	}

	ts, err := time.Parse(time.RFC3339, updatedAt)
	if err != nil {
		return nil, fmt.Errorf("failed to parse session timestamp: %w", err)
	}
	session.UpdatedAt = ts
	return &session, nil
}

// Clear removes the stored session. Clearing an absent session is a no-op.
func (r *SessionRepository) Clear(ctx context.Context) error {
	return withRetry(ctx, 0, 0, func() error {
		if _, err := r.db.ExecContext(ctx, `DELETE FROM session WHERE id = 1`); err != nil {
			return fmt.Errorf("failed to clear session: %w", err)
		}
		return nil
	})
}
