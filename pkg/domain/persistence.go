package domain

import "context"

// SessionStore is the contract implemented by the storage engines under
// internal/infra/persistence. All engines share the same semantics:
//
//   - The version counter advances exactly once per committed mutation and
//     is compared at commit time; a mismatch fails with ConflictError and
//     nothing is applied. Retry-on-conflict is caller policy.
//   - Deleting a root session deletes its tab sessions; tabs dropped from a
//     root's set are removed as orphans on the next commit.
//   - Projection reads bypass metadata decoding entirely.
type SessionStore interface {
	// Create persists a new hydrated root session, assigning a fresh
	// identifier when none is set. The returned record carries the
	// committed version.
	Create(ctx context.Context, session *RootSession) (*RootSession, error)

	// Get loads a root session in hydrated mode, tabs included.
	Get(ctx context.Context, id string) (*RootSession, error)

	// GetProjection loads a root session in projection mode from the
	// denormalized columns, skipping document deserialization and the tab
	// set.
	GetProjection(ctx context.Context, id string) (*RootSession, error)

	// ListProjections lists projections, optionally filtered by realm
	// (empty realmID means all realms), ordered by id.
	ListProjections(ctx context.Context, realmID string) ([]*RootSession, error)

	// Update loads the current hydrated record, applies mutate, and commits
	// with a version compare. NotFoundError when id is unknown;
	// ConflictError when a concurrent writer got there first.
	Update(ctx context.Context, id string, mutate func(*RootSession) error) (*RootSession, error)

	// Delete removes a root session and, by cascade, its tabs. It reports
	// whether a record existed.
	Delete(ctx context.Context, id string) (bool, error)

	// PurgeExpired removes every root session whose expiration is at or
	// before now (epoch millis) and returns the snapshots of the removed
	// records so callers can archive them.
	PurgeExpired(ctx context.Context, now int64) ([]RootSessionSnapshot, error)

	// Close releases any underlying resources.
	Close() error
}
