package session

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"planforge/pkg/logx"
)

// Persister receives every committed snapshot and every disposal. Failures
// are logged and never undo a committed transition.
type Persister interface {
	Save(s Session) error
	Delete(id string) error
}

type entry struct {
	// lock is a one-slot semaphore; holding the slot serializes mutations.
	lock    chan struct{}
	snap    atomic.Pointer[Session]
	deleted atomic.Bool
}

func newEntry(s *Session) *entry {
	e := &entry{lock: make(chan struct{}, 1)}
	e.snap.Store(s)
	return e
}

func (e *entry) acquire(ctx context.Context) error {
	select {
	case e.lock <- struct{}{}:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (e *entry) tryAcquire() bool {
	select {
	case e.lock <- struct{}{}:
		return true
	default:
		return false
	}
}

func (e *entry) release() {
	<-e.lock
}

// Store holds sessions by id. Mutations of one session are serialized by a
// per-session lock; distinct sessions never wait on each other. Readers see
// the last committed snapshot without taking the session lock.
type Store struct {
	mu        sync.RWMutex
	entries   map[string]*entry
	persister Persister
	now       func() time.Time
	newID     func() string
	logger    *logx.Logger
}

// StoreOption configures a Store.
type StoreOption func(*Store)

// WithPersister mirrors committed snapshots to p.
func WithPersister(p Persister) StoreOption {
	return func(s *Store) { s.persister = p }
}

// WithClock overrides the time source.
func WithClock(now func() time.Time) StoreOption {
	return func(s *Store) { s.now = now }
}

// NewStore creates an empty Store.
func NewStore(opts ...StoreOption) *Store {
	s := &Store{
		entries: make(map[string]*entry),
		now:     time.Now,
		newID:   uuid.NewString,
		logger:  logx.NewLogger("store"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Create registers a new CREATED session for pitch and returns it.
func (s *Store) Create(pitch string) Session {
	now := s.now()
	sess := &Session{
		ID:        s.newID(),
		State:     StateCreated,
		Pitch:     pitch,
		CreatedAt: now,
		UpdatedAt: now,
	}

	s.mu.Lock()
	s.entries[sess.ID] = newEntry(sess)
	s.mu.Unlock()

	s.persist(sess)
	return sess.Clone()
}

func (s *Store) lookup(id string) (*entry, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	e, ok := s.entries[id]
	return e, ok
}

func notFound(op, id string) error {
	return &Error{Op: op, SessionID: id, Kind: KindNotFound, Err: ErrNotFound}
}

// Get returns the latest committed snapshot of id.
func (s *Store) Get(id string) (Session, error) {
	e, ok := s.lookup(id)
	if !ok {
		return Session{}, notFound("get", id)
	}
	return e.snap.Load().Clone(), nil
}

// UpdateFunc computes the next snapshot from the current one. Returning an
// error leaves the session unchanged.
type UpdateFunc func(current Session) (Session, error)

// Update runs fn under the session lock and commits its result atomically.
// Waiting for the lock honours ctx; a caller that gives up gets a busy error.
// fn's errors are returned unchanged.
func (s *Store) Update(ctx context.Context, id, op string, fn UpdateFunc) (Session, error) {
	e, ok := s.lookup(id)
	if !ok {
		return Session{}, notFound(op, id)
	}

	if err := e.acquire(ctx); err != nil {
		return Session{}, &Error{Op: op, SessionID: id, State: e.snap.Load().State, Kind: KindBusy, Err: err}
	}
	defer e.release()

	if e.deleted.Load() {
		return Session{}, notFound(op, id)
	}

	next, err := fn(e.snap.Load().Clone())
	if err != nil {
		return Session{}, err
	}

	next.ID = id
	next.UpdatedAt = s.now()
	committed := next.Clone()
	e.snap.Store(&committed)
	s.persist(&committed)
	return next, nil
}

// Delete removes id, waiting for any in-flight mutation to finish.
func (s *Store) Delete(ctx context.Context, id string) error {
	e, ok := s.lookup(id)
	if !ok {
		return notFound("delete", id)
	}
	if err := e.acquire(ctx); err != nil {
		return &Error{Op: "delete", SessionID: id, State: e.snap.Load().State, Kind: KindBusy, Err: err}
	}
	defer e.release()

	if e.deleted.Swap(true) {
		return notFound("delete", id)
	}
	s.remove(id)
	return nil
}

func (s *Store) remove(id string) {
	s.mu.Lock()
	delete(s.entries, id)
	s.mu.Unlock()

	if s.persister != nil {
		if err := s.persister.Delete(id); err != nil {
			s.logger.Warn("failed to delete persisted session %s: %v", id, err)
		}
	}
}

// List returns snapshots of every session, oldest first.
func (s *Store) List() []Session {
	s.mu.RLock()
	out := make([]Session, 0, len(s.entries))
	for _, e := range s.entries {
		out = append(out, e.snap.Load().Clone())
	}
	s.mu.RUnlock()

	slices.SortFunc(out, func(a, b Session) int {
		if c := a.CreatedAt.Compare(b.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return out
}

// Len returns the number of sessions held.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.entries)
}

// Sweep disposes of sessions idle for longer than ttl and returns their ids.
// Sessions with a mutation in flight are skipped.
func (s *Store) Sweep(ttl time.Duration) []string {
	if ttl <= 0 {
		return nil
	}
	cutoff := s.now().Add(-ttl)

	s.mu.RLock()
	candidates := make(map[string]*entry)
	for id, e := range s.entries {
		if e.snap.Load().UpdatedAt.Before(cutoff) {
			candidates[id] = e
		}
	}
	s.mu.RUnlock()

	var removed []string
	for id, e := range candidates {
		if !e.tryAcquire() {
			continue
		}
		if e.snap.Load().UpdatedAt.Before(cutoff) && !e.deleted.Swap(true) {
			s.remove(id)
			removed = append(removed, id)
		}
		e.release()
	}
	slices.Sort(removed)
	if len(removed) > 0 {
		s.logger.Info("swept %d idle sessions", len(removed))
	}
	return removed
}

// Restore loads previously persisted snapshots. Sessions whose id is already
// present, whose state is unknown, or whose fields contradict their state are
// skipped. It returns how many were loaded.
func (s *Store) Restore(snapshots []Session) int {
	s.mu.Lock()
	defer s.mu.Unlock()

	n := 0
	for _, snap := range snapshots {
		if snap.ID == "" || !IsValidState(snap.State) {
			s.logger.Warn("skipping persisted session %q in state %q", snap.ID, snap.State)
			continue
		}
		if err := checkSnapshot(snap); err != nil {
			s.logger.Warn("skipping persisted session %s: %v", snap.ID, err)
			continue
		}
		if _, exists := s.entries[snap.ID]; exists {
			continue
		}
		c := snap.Clone()
		s.entries[snap.ID] = newEntry(&c)
		n++
	}
	return n
}

// checkSnapshot reports the first field that contradicts snap's state.
func checkSnapshot(snap Session) error {
	switch snap.State {
	case StateAwaitingApproval, StateApproved:
		if snap.Plan == nil {
			return fmt.Errorf("%s without a plan", snap.State)
		}
		if len(snap.Answers) != len(snap.Clarifications) {
			return fmt.Errorf("%s with %d answers for %d questions", snap.State, len(snap.Answers), len(snap.Clarifications))
		}
	}
	if snap.State == StateApproved && snap.RepoPath == "" {
		return fmt.Errorf("%s without a repository path", snap.State)
	}
	if snap.State != StateApproved && snap.RepoPath != "" {
		return fmt.Errorf("%s with a repository path", snap.State)
	}
	return nil
}

func (s *Store) persist(sess *Session) {
	if s.persister == nil {
		return
	}
	if err := s.persister.Save(*sess); err != nil {
		s.logger.Warn("failed to persist session %s: %v", sess.ID, err)
	}
}
