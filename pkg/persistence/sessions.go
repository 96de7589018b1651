package persistence

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"planforge/pkg/session"
)

// ErrSessionNotFound is returned when a requested session does not exist.
var ErrSessionNotFound = errors.New("session not found")

// SessionStore mirrors planning session snapshots into SQLite. It implements
// session.Persister.
type SessionStore struct {
	db *sql.DB
}

// Open initializes the database at path and returns a store over it.
func Open(path string) (*SessionStore, error) {
	db, err := InitializeDatabase(path)
	if err != nil {
		return nil, err
	}
	return &SessionStore{db: db}, nil
}

// NewSessionStore wraps an already initialized database.
func NewSessionStore(db *sql.DB) *SessionStore {
	return &SessionStore{db: db}
}

// Close closes the database.
func (s *SessionStore) Close() error {
	return s.db.Close()
}

// Save upserts the snapshot of one session.
func (s *SessionStore) Save(snap session.Session) error {
	data, err := json.Marshal(snap)
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", snap.ID, err)
	}
	_, err = s.db.Exec(`
		INSERT INTO planning_sessions (session_id, state, snapshot_json, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(session_id) DO UPDATE SET
			state = excluded.state,
			snapshot_json = excluded.snapshot_json,
			updated_at = excluded.updated_at
	`, snap.ID, string(snap.State), string(data), formatTime(snap.CreatedAt), formatTime(snap.UpdatedAt))
	if err != nil {
		return fmt.Errorf("failed to save session %s: %w", snap.ID, err)
	}
	return nil
}

// Delete removes a session. Deleting an unknown id is not an error.
func (s *SessionStore) Delete(id string) error {
	if _, err := s.db.Exec(`DELETE FROM planning_sessions WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

// Get returns one persisted session.
// Returns ErrSessionNotFound if the session does not exist.
func (s *SessionStore) Get(id string) (session.Session, error) {
	var raw string
	err := s.db.QueryRow(`SELECT snapshot_json FROM planning_sessions WHERE session_id = ?`, id).Scan(&raw)
	if errors.Is(err, sql.ErrNoRows) {
		return session.Session{}, ErrSessionNotFound
	}
	if err != nil {
		return session.Session{}, fmt.Errorf("failed to get session %s: %w", id, err)
	}
	return decodeSnapshot(raw)
}

// LoadAll returns every persisted session, oldest first.
func (s *SessionStore) LoadAll() ([]session.Session, error) {
	rows, err := s.db.Query(`SELECT snapshot_json FROM planning_sessions ORDER BY created_at, session_id`)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []session.Session
	for rows.Next() {
		var raw string
		if err := rows.Scan(&raw); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		snap, err := decodeSnapshot(raw)
		if err != nil {
			return nil, err
		}
		out = append(out, snap)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate sessions: %w", err)
	}
	return out, nil
}

// DeleteOlderThan removes sessions last updated before cutoff and returns how
// many were removed.
func (s *SessionStore) DeleteOlderThan(cutoff time.Time) (int64, error) {
	result, err := s.db.Exec(`DELETE FROM planning_sessions WHERE updated_at < ?`, formatTime(cutoff))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old sessions: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("failed to get rows affected: %w", err)
	}
	return n, nil
}

func decodeSnapshot(raw string) (session.Session, error) {
	var snap session.Session
	if err := json.Unmarshal([]byte(raw), &snap); err != nil {
		return session.Session{}, fmt.Errorf("failed to decode session snapshot: %w", err)
	}
	return snap, nil
}

// formatTime renders t in a fixed-width UTC form so text comparison orders
// like time comparison.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z")
}
