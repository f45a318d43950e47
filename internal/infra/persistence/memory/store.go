// Package memory provides an in-memory implementation of the session store
// used for tests and ephemeral environments.
package memory

import (
	"context"
	"sort"
	"sync"

	"sessioncore/pkg/domain"
)

// Compile-time contract assertion ensuring memory.Store adheres to the domain
// persistence interface.
var _ domain.SessionStore = (*Store)(nil)

// Store keeps root session snapshots in a mutex-guarded map. Records are
// stored and returned by value through the snapshot boundary, so callers can
// never alias the store's internal state.
type Store struct {
	mu       sync.RWMutex
	sessions map[string]domain.RootSessionSnapshot
}

// NewStore constructs an empty in-memory session store.
func NewStore() *Store {
	return &Store{sessions: make(map[string]domain.RootSessionSnapshot)}
}

// Create persists a new hydrated root session, assigning a fresh identifier
// when none is set.
func (s *Store) Create(ctx context.Context, session *domain.RootSession) (*domain.RootSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if !session.Hydrated() {
		return nil, domain.InvalidStateError{Op: "Create"}
	}
	snap := session.Snapshot()
	if snap.ID == "" {
		snap.ID = domain.NewSessionID()
	}
	snap.Version = 1

	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[snap.ID]; ok {
		return nil, domain.ConflictError{ID: snap.ID, Expected: 0}
	}
	s.sessions[snap.ID] = snap
	return domain.RestoreRootSession(snap)
}

// Get loads a root session in hydrated mode, tabs included.
func (s *Store) Get(ctx context.Context, id string) (*domain.RootSession, error) {
	snap, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return domain.RestoreRootSession(snap)
}

// GetProjection loads a root session in projection mode. The stored metadata
// document is reduced to the denormalized scalars and the tab set is skipped.
func (s *Store) GetProjection(ctx context.Context, id string) (*domain.RootSession, error) {
	snap, err := s.load(ctx, id)
	if err != nil {
		return nil, err
	}
	return domain.RestoreRootSession(projectionOf(snap))
}

// ListProjections lists projections, optionally filtered by realm, ordered
// by id.
func (s *Store) ListProjections(ctx context.Context, realmID string) ([]*domain.RootSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	snaps := make([]domain.RootSessionSnapshot, 0, len(s.sessions))
	for _, snap := range s.sessions {
		if realmID != "" && snap.Metadata != nil && snap.Metadata.RealmID != realmID {
			continue
		}
		snaps = append(snaps, snap)
	}
	s.mu.RUnlock()

	sort.Slice(snaps, func(i, j int) bool { return snaps[i].ID < snaps[j].ID })
	out := make([]*domain.RootSession, 0, len(snaps))
	for _, snap := range snaps {
		restored, err := domain.RestoreRootSession(projectionOf(snap))
		if err != nil {
			return nil, err
		}
		out = append(out, restored)
	}
	return out, nil
}

// Update loads the current record, applies mutate, and commits with a version
// compare. The store lock is held across the whole read-mutate-write cycle;
// the compare still runs so the engine stays behaviorally identical to the
// relational ones when a mutator smuggles in a stale snapshot.
func (s *Store) Update(ctx context.Context, id string, mutate func(*domain.RootSession) error) (*domain.RootSession, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	stored, ok := s.sessions[id]
	if !ok {
		return nil, domain.NotFoundError{ID: id}
	}
	record, err := domain.RestoreRootSession(stored)
	if err != nil {
		return nil, err
	}
	if err := mutate(record); err != nil {
		return nil, err
	}
	next := record.Snapshot()
	if next.Version != stored.Version {
		return nil, domain.ConflictError{ID: id, Expected: next.Version}
	}
	next.ID = stored.ID
	next.Version = stored.Version + 1
	s.sessions[id] = next
	return domain.RestoreRootSession(next)
}

// Delete removes a root session and its tabs.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.sessions[id]; !ok {
		return false, nil
	}
	delete(s.sessions, id)
	return true, nil
}

// PurgeExpired removes every root session whose expiration is at or before
// now and returns the removed snapshots ordered by id.
func (s *Store) PurgeExpired(ctx context.Context, now int64) ([]domain.RootSessionSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed []domain.RootSessionSnapshot
	for id, snap := range s.sessions {
		if snap.Metadata == nil || snap.Metadata.ExpiresAt == nil {
			continue
		}
		if *snap.Metadata.ExpiresAt <= now {
			removed = append(removed, snap)
			delete(s.sessions, id)
		}
	}
	sort.Slice(removed, func(i, j int) bool { return removed[i].ID < removed[j].ID })
	return removed, nil
}

// Close is a no-op for the in-memory engine.
func (s *Store) Close() error { return nil }

// Len reports the number of stored root sessions.
func (s *Store) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

func (s *Store) load(ctx context.Context, id string) (domain.RootSessionSnapshot, error) {
	if err := ctx.Err(); err != nil {
		return domain.RootSessionSnapshot{}, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	snap, ok := s.sessions[id]
	if !ok {
		return domain.RootSessionSnapshot{}, domain.NotFoundError{ID: id}
	}
	return snap, nil
}

// projectionOf reduces a stored hydrated snapshot to its projection form:
// denormalized scalars only, no metadata document, no tabs.
func projectionOf(snap domain.RootSessionSnapshot) domain.RootSessionSnapshot {
	out := domain.RootSessionSnapshot{ID: snap.ID, Version: snap.Version}
	if snap.Metadata != nil {
		out.EntityVersion = snap.Metadata.EntityVersion
		out.RealmID = snap.Metadata.RealmID
		out.CreatedAt = snap.Metadata.CreatedAt
		out.ExpiresAt = snap.Metadata.ExpiresAt
	} else {
		out.EntityVersion = snap.EntityVersion
		out.RealmID = snap.RealmID
		out.CreatedAt = snap.CreatedAt
		out.ExpiresAt = snap.ExpiresAt
	}
	return out
}
