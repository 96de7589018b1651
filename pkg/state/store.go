// Package state persists session snapshots as one JSON file per session.
package state

import (
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"planforge/pkg/logx"
	"planforge/pkg/session"
)

const (
	filePrefix = "SESSION_"
	fileSuffix = ".json"
)

// Errors returned for ids that cannot name a snapshot file.
var (
	ErrEmptyID   = errors.New("session id cannot be empty")
	ErrInvalidID = errors.New("session id contains a path separator")
)

// Store keeps session snapshots under baseDir. It implements session.Persister.
type Store struct {
	baseDir string
	logger  *logx.Logger
}

// NewStore creates baseDir if needed.
func NewStore(baseDir string) (*Store, error) {
	if err := os.MkdirAll(baseDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create state directory %s: %w", baseDir, err)
	}
	return &Store{baseDir: baseDir, logger: logx.NewLogger("state")}, nil
}

// Save writes snap, replacing any previous file for the same session. The
// write goes through a temporary file so a crash never leaves half a snapshot.
func (s *Store) Save(snap session.Session) error {
	if err := checkID(snap.ID); err != nil {
		return err
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal session %s: %w", snap.ID, err)
	}

	tmp, err := os.CreateTemp(s.baseDir, ".tmp-"+snap.ID+"-*")
	if err != nil {
		return fmt.Errorf("failed to create temp file for session %s: %w", snap.ID, err)
	}
	tmpName := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write session %s: %w", snap.ID, err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to write session %s: %w", snap.ID, err)
	}
	if err := os.Rename(tmpName, s.filename(snap.ID)); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to store session %s: %w", snap.ID, err)
	}
	return nil
}

// Load returns the snapshot for id. A missing file yields session.ErrNotFound.
func (s *Store) Load(id string) (session.Session, error) {
	if err := checkID(id); err != nil {
		return session.Session{}, err
	}
	data, err := os.ReadFile(s.filename(id))
	if errors.Is(err, os.ErrNotExist) {
		return session.Session{}, fmt.Errorf("session %s: %w", id, session.ErrNotFound)
	}
	if err != nil {
		return session.Session{}, fmt.Errorf("failed to read session %s: %w", id, err)
	}
	var snap session.Session
	if err := json.Unmarshal(data, &snap); err != nil {
		return session.Session{}, fmt.Errorf("failed to unmarshal session %s: %w", id, err)
	}
	return snap, nil
}

// Delete removes the snapshot for id. Deleting a missing snapshot is not an error.
func (s *Store) Delete(id string) error {
	if err := checkID(id); err != nil {
		return err
	}
	if err := os.Remove(s.filename(id)); err != nil && !errors.Is(err, os.ErrNotExist) {
		return fmt.Errorf("failed to delete session %s: %w", id, err)
	}
	return nil
}

// IDs lists the sessions that have a snapshot, sorted.
func (s *Store) IDs() ([]string, error) {
	entries, err := os.ReadDir(s.baseDir)
	if err != nil {
		return nil, fmt.Errorf("failed to read state directory: %w", err)
	}

	var ids []string
	for _, entry := range entries {
		name := entry.Name()
		if entry.IsDir() || !strings.HasPrefix(name, filePrefix) || !strings.HasSuffix(name, fileSuffix) {
			continue
		}
		if id := strings.TrimSuffix(strings.TrimPrefix(name, filePrefix), fileSuffix); id != "" {
			ids = append(ids, id)
		}
	}
	slices.Sort(ids)
	return ids, nil
}

// LoadAll returns every readable snapshot. Unreadable files are logged and
// skipped so one corrupt file does not block a restart.
func (s *Store) LoadAll() ([]session.Session, error) {
	ids, err := s.IDs()
	if err != nil {
		return nil, err
	}
	out := make([]session.Session, 0, len(ids))
	for _, id := range ids {
		snap, err := s.Load(id)
		if err != nil {
			s.logger.Warn("skipping session snapshot %s: %v", id, err)
			continue
		}
		out = append(out, snap)
	}
	return out, nil
}

func checkID(id string) error {
	switch {
	case id == "":
		return ErrEmptyID
	case strings.ContainsAny(id, `/\`) || id == "." || id == "..":
		return ErrInvalidID
	default:
		return nil
	}
}

func (s *Store) filename(id string) string {
	return filepath.Join(s.baseDir, filePrefix+id+fileSuffix)
}
