// Package store holds the current event snapshot and persists it.
//
// One writer (the syncer) commits whole snapshots; any number of readers
// (HTTP handlers) load the current one without locking. The events and their
// timestamp live in a single immutable value behind one atomic pointer, so a
// reader can never pair the events of one commit with the stamp of another.
package store

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	appLog "icsagenda/internal/log"
	"icsagenda/internal/model"
)

// StampLayout is the fixed-width UTC form of LastModified. Fixed width keeps
// lexicographic order equal to time order for string-comparing clients.
const StampLayout = "2006-01-02T15:04:05.000000Z"

// stampResolution is the granularity of StampLayout; successive commits are
// at least this far apart.
const stampResolution = time.Microsecond

// ErrPersist wraps every durable-write failure returned by Commit.
var ErrPersist = errors.New("persist snapshot")

// Backend is the durable side of the store. Save must either fully replace
// the persisted snapshot or leave the previous one intact.
type Backend interface {
	// Load returns the persisted snapshot, or ok=false when none exists yet.
	Load(ctx context.Context) (snap model.Snapshot, ok bool, err error)
	Save(ctx context.Context, snap model.Snapshot) error
	Close() error
}

// Store is the in-process Event Store.
type Store struct {
	backend Backend
	now     func() time.Time

	current atomic.Pointer[model.Snapshot]
	// writeMu serializes commits; readers never take it.
	writeMu sync.Mutex
}

// Option configures a Store.
type Option func(*Store)

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(s *Store) {
		s.now = now
	}
}

// Open loads the last persisted snapshot from backend. With nothing
// persisted yet, the store starts empty with LastModified = now, so a fresh
// client does not mistake the bootstrap state for an old update.
func Open(ctx context.Context, backend Backend, opts ...Option) (*Store, error) {
	s := &Store{backend: backend, now: time.Now}
	for _, opt := range opts {
		opt(s)
	}

	snap, ok, err := backend.Load(ctx)
	if err != nil {
		return nil, fmt.Errorf("load snapshot: %w", err)
	}
	if !ok {
		snap = model.Snapshot{Events: []model.Event{}, LastModified: truncate(s.now())}
		appLog.Info("store bootstrap: no persisted snapshot")
	} else {
		if snap.Events == nil {
			snap.Events = []model.Event{}
		}
		snap.LastModified = truncate(snap.LastModified)
		appLog.Info("store loaded snapshot", "events", len(snap.Events), "last_modified", snap.LastModified.Format(StampLayout))
	}
	s.current.Store(&snap)
	return s, nil
}

// Snapshot returns the current snapshot. The event slice is a copy; callers
// may keep or modify it freely.
func (s *Store) Snapshot() model.Snapshot {
	cur := s.current.Load()
	return model.Snapshot{
		Events:       slices.Clone(cur.Events),
		LastModified: cur.LastModified,
	}
}

// LastModified returns the commit instant of the current snapshot.
func (s *Store) LastModified() time.Time {
	return s.current.Load().LastModified
}

// Len returns the number of events in the current snapshot.
func (s *Store) Len() int {
	return len(s.current.Load().Events)
}

// Commit persists events as the new snapshot and then publishes it. On a
// backend failure the error wraps ErrPersist and the previous snapshot stays
// current. Stamps strictly increase across commits.
func (s *Store) Commit(ctx context.Context, events []model.Event) (model.Snapshot, error) {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	prev := s.current.Load()
	stamp := truncate(s.now())
	if !stamp.After(prev.LastModified) {
		stamp = prev.LastModified.Add(stampResolution)
	}

	owned := slices.Clone(events)
	if owned == nil {
		owned = []model.Event{}
	}
	next := &model.Snapshot{Events: owned, LastModified: stamp}

	if err := s.backend.Save(ctx, *next); err != nil {
		return *prev, fmt.Errorf("%w: %w", ErrPersist, err)
	}

	s.current.Store(next)
	return *next, nil
}

// Close releases the backend.
func (s *Store) Close() error {
	return s.backend.Close()
}

func truncate(t time.Time) time.Time {
	return t.UTC().Truncate(stampResolution)
}
