// Package sqlite persists root and tab sessions in a SQLite database using
// the pure Go driver. The metadata document is stored as a JSON blob next to
// the denormalized columns the projection reads come from.
package sqlite

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	_ "modernc.org/sqlite" // pure go sqlite driver

	"sessioncore/pkg/domain"
)

var _ domain.SessionStore = (*Store)(nil)

// Store is a SQLite-backed session store. Optimistic concurrency is enforced
// at commit time with a version predicate on the UPDATE statement; the
// denormalized columns are rewritten on every commit so projection reads
// never decode the document.
type Store struct {
	db   *sql.DB
	path string
}

const schema = `
CREATE TABLE IF NOT EXISTS root_session (
	id             TEXT PRIMARY KEY,
	version        INTEGER NOT NULL,
	metadata       BLOB NOT NULL,
	entity_version INTEGER NOT NULL,
	realm_id       TEXT NOT NULL,
	created_at     INTEGER,
	expires_at     INTEGER
);
CREATE INDEX IF NOT EXISTS root_session_realm_idx ON root_session(realm_id);
CREATE INDEX IF NOT EXISTS root_session_expires_idx ON root_session(expires_at);
CREATE TABLE IF NOT EXISTS tab_session (
	root_id        TEXT NOT NULL REFERENCES root_session(id) ON DELETE CASCADE,
	tab_id         TEXT NOT NULL,
	entity_version INTEGER NOT NULL,
	PRIMARY KEY (root_id, tab_id)
);
`

// NewStore opens (creating if needed) the database at path and ensures the
// schema exists.
func NewStore(path string) (*Store, error) {
	if path == "" {
		path = "sessioncore.db"
	}
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o750); err != nil && !errors.Is(err, os.ErrExist) {
			return nil, fmt.Errorf("create dirs: %w", err)
		}
	}
	// The pragma rides on the DSN: sqlite scopes foreign_keys per connection,
	// so every connection the pool hands out must enable it, not just the one
	// that served a one-off Exec.
	db, err := sql.Open("sqlite", path+"?_pragma=foreign_keys(1)")
	if err != nil {
		return nil, fmt.Errorf("open sqlite: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("create schema: %w", err)
	}
	return &Store{db: db, path: path}, nil
}

// Create persists a new hydrated root session.
func (s *Store) Create(ctx context.Context, session *domain.RootSession) (*domain.RootSession, error) {
	if !session.Hydrated() {
		return nil, domain.InvalidStateError{Op: "Create"}
	}
	snap := session.Snapshot()
	if snap.ID == "" {
		snap.ID = domain.NewSessionID()
	}
	snap.Version = 1

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if err := insertRoot(ctx, tx, snap); err != nil {
		return nil, err
	}
	if err := insertTabs(ctx, tx, snap); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return domain.RestoreRootSession(snap)
}

// Get loads a root session in hydrated mode, tabs included.
func (s *Store) Get(ctx context.Context, id string) (*domain.RootSession, error) {
	snap, err := s.loadSnapshot(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	return domain.RestoreRootSession(snap)
}

// GetProjection loads the denormalized columns only. The metadata blob and
// the tab rows are never read.
func (s *Store) GetProjection(ctx context.Context, id string) (*domain.RootSession, error) {
	row := s.db.QueryRowContext(ctx,
		`SELECT id, version, entity_version, realm_id, created_at, expires_at FROM root_session WHERE id = ?`, id)
	snap, err := scanProjection(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, domain.NotFoundError{ID: id}
	}
	if err != nil {
		return nil, err
	}
	return domain.RestoreRootSession(snap)
}

// ListProjections lists projections ordered by id, optionally filtered by
// realm.
func (s *Store) ListProjections(ctx context.Context, realmID string) ([]*domain.RootSession, error) {
	query := `SELECT id, version, entity_version, realm_id, created_at, expires_at FROM root_session`
	args := []any{}
	if realmID != "" {
		query += ` WHERE realm_id = ?`
		args = append(args, realmID)
	}
	query += ` ORDER BY id`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list projections: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*domain.RootSession
	for rows.Next() {
		snap, err := scanProjection(rows)
		if err != nil {
			return nil, err
		}
		restored, err := domain.RestoreRootSession(snap)
		if err != nil {
			return nil, err
		}
		out = append(out, restored)
	}
	return out, rows.Err()
}

// Update loads the current hydrated record, applies mutate, and commits with
// a version predicate. A concurrent writer that advanced the version between
// load and commit makes the predicate miss, which surfaces as ConflictError.
func (s *Store) Update(ctx context.Context, id string, mutate func(*domain.RootSession) error) (*domain.RootSession, error) {
	snap, err := s.loadSnapshot(ctx, s.db, id)
	if err != nil {
		return nil, err
	}
	record, err := domain.RestoreRootSession(snap)
	if err != nil {
		return nil, err
	}
	if err := mutate(record); err != nil {
		return nil, err
	}

	next := record.Snapshot()
	next.ID = snap.ID
	next.Version = snap.Version + 1
	metadata, err := json.Marshal(next.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	res, err := tx.ExecContext(ctx,
		`UPDATE root_session
		 SET version = ?, metadata = ?, entity_version = ?, realm_id = ?, created_at = ?, expires_at = ?
		 WHERE id = ? AND version = ?`,
		next.Version, metadata, next.Metadata.EntityVersion, next.Metadata.RealmID,
		nullableMillis(next.Metadata.CreatedAt), nullableMillis(next.Metadata.ExpiresAt),
		next.ID, snap.Version)
	if err != nil {
		return nil, fmt.Errorf("update root: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return nil, fmt.Errorf("rows affected: %w", err)
	}
	if affected == 0 {
		return nil, domain.ConflictError{ID: id, Expected: snap.Version}
	}

	// Orphan removal: the tab rows are rewritten to match the record's set.
	if _, err := tx.ExecContext(ctx, `DELETE FROM tab_session WHERE root_id = ?`, next.ID); err != nil {
		return nil, fmt.Errorf("clear tabs: %w", err)
	}
	if err := insertTabs(ctx, tx, next); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return domain.RestoreRootSession(next)
}

// Delete removes a root session; the tab rows go with it through the cascade.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, `DELETE FROM root_session WHERE id = ?`, id)
	if err != nil {
		return false, fmt.Errorf("delete root: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return affected > 0, nil
}

// PurgeExpired removes every root session whose expiration is at or before
// now and returns the removed snapshots ordered by id.
func (s *Store) PurgeExpired(ctx context.Context, now int64) ([]domain.RootSessionSnapshot, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	rows, err := tx.QueryContext(ctx,
		`SELECT id FROM root_session WHERE expires_at IS NOT NULL AND expires_at <= ? ORDER BY id`, now)
	if err != nil {
		return nil, fmt.Errorf("select expired: %w", err)
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			_ = rows.Close()
			return nil, fmt.Errorf("scan expired: %w", err)
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		_ = rows.Close()
		return nil, err
	}
	_ = rows.Close()

	removed := make([]domain.RootSessionSnapshot, 0, len(ids))
	for _, id := range ids {
		snap, err := s.loadSnapshot(ctx, tx, id)
		if err != nil {
			return nil, err
		}
		if _, err := tx.ExecContext(ctx, `DELETE FROM root_session WHERE id = ?`, id); err != nil {
			return nil, fmt.Errorf("delete expired: %w", err)
		}
		removed = append(removed, snap)
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return removed, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

// Path returns the configured database path.
func (s *Store) Path() string { return s.path }

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
}

func (s *Store) loadSnapshot(ctx context.Context, q querier, id string) (domain.RootSessionSnapshot, error) {
	var (
		snap     domain.RootSessionSnapshot
		metadata []byte
	)
	err := q.QueryRowContext(ctx,
		`SELECT id, version, metadata FROM root_session WHERE id = ?`, id).
		Scan(&snap.ID, &snap.Version, &metadata)
	if errors.Is(err, sql.ErrNoRows) {
		return domain.RootSessionSnapshot{}, domain.NotFoundError{ID: id}
	}
	if err != nil {
		return domain.RootSessionSnapshot{}, fmt.Errorf("select root: %w", err)
	}
	doc := &domain.SessionMetadata{}
	if err := json.Unmarshal(metadata, doc); err != nil {
		return domain.RootSessionSnapshot{}, fmt.Errorf("decode metadata: %w", err)
	}
	snap.Metadata = doc

	rows, err := q.QueryContext(ctx,
		`SELECT tab_id, entity_version FROM tab_session WHERE root_id = ? ORDER BY tab_id`, id)
	if err != nil {
		return domain.RootSessionSnapshot{}, fmt.Errorf("select tabs: %w", err)
	}
	defer func() { _ = rows.Close() }()
	for rows.Next() {
		var tab domain.TabSnapshot
		if err := rows.Scan(&tab.TabID, &tab.EntityVersion); err != nil {
			return domain.RootSessionSnapshot{}, fmt.Errorf("scan tab: %w", err)
		}
		snap.Tabs = append(snap.Tabs, tab)
	}
	return snap, rows.Err()
}

func insertRoot(ctx context.Context, tx *sql.Tx, snap domain.RootSessionSnapshot) error {
	metadata, err := json.Marshal(snap.Metadata)
	if err != nil {
		return fmt.Errorf("encode metadata: %w", err)
	}
	_, err = tx.ExecContext(ctx,
		`INSERT INTO root_session (id, version, metadata, entity_version, realm_id, created_at, expires_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		snap.ID, snap.Version, metadata, snap.Metadata.EntityVersion, snap.Metadata.RealmID,
		nullableMillis(snap.Metadata.CreatedAt), nullableMillis(snap.Metadata.ExpiresAt))
	if err != nil {
		return fmt.Errorf("insert root: %w", err)
	}
	return nil
}

func insertTabs(ctx context.Context, tx *sql.Tx, snap domain.RootSessionSnapshot) error {
	for _, tab := range snap.Tabs {
		if _, err := tx.ExecContext(ctx,
			`INSERT INTO tab_session (root_id, tab_id, entity_version) VALUES (?, ?, ?)`,
			snap.ID, tab.TabID, tab.EntityVersion); err != nil {
			return fmt.Errorf("insert tab %s: %w", tab.TabID, err)
		}
	}
	return nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanProjection(row rowScanner) (domain.RootSessionSnapshot, error) {
	var (
		snap      domain.RootSessionSnapshot
		createdAt sql.NullInt64
		expiresAt sql.NullInt64
	)
	if err := row.Scan(&snap.ID, &snap.Version, &snap.EntityVersion, &snap.RealmID, &createdAt, &expiresAt); err != nil {
		return domain.RootSessionSnapshot{}, err
	}
	if createdAt.Valid {
		snap.CreatedAt = &createdAt.Int64
	}
	if expiresAt.Valid {
		snap.ExpiresAt = &expiresAt.Int64
	}
	return snap, nil
}

func nullableMillis(v *int64) any {
	if v == nil {
		return nil
	}
	return *v
}
