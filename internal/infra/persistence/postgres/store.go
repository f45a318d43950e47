// Package postgres provides a Postgres-backed session store. The metadata
// document lives in a JSONB column and the projection columns are generated
// by the database from it, so the two representations can never drift.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	_ "github.com/jackc/pgx/v5/stdlib" // register pgx as a database/sql driver

	"sessioncore/pkg/domain"
)

// Compile-time contract assertion ensuring the store satisfies the domain
// interface.
var _ domain.SessionStore = (*Store)(nil)

const (
	defaultDriver = "pgx"
	// Default DSN keeps parity with OpenSessionStore defaults while allowing
	// overrides via env.
	defaultDSN = "postgres://localhost/sessioncore?sslmode=disable"
)

var (
	sqlOpen = sql.Open
	openMu  sync.Mutex
)

var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS root_session (
		id             UUID PRIMARY KEY,
		version        INTEGER NOT NULL,
		metadata       JSONB NOT NULL,
		entity_version INTEGER GENERATED ALWAYS AS ((metadata->>'entityVersion')::integer) STORED,
		realm_id       TEXT GENERATED ALWAYS AS (metadata->>'realmId') STORED,
		created_at     BIGINT GENERATED ALWAYS AS ((metadata->>'createdAt')::bigint) STORED,
		expires_at     BIGINT GENERATED ALWAYS AS ((metadata->>'expiresAt')::bigint) STORED
	)`,
	`CREATE INDEX IF NOT EXISTS root_session_realm_idx ON root_session (realm_id)`,
	`CREATE INDEX IF NOT EXISTS root_session_expires_idx ON root_session (expires_at)`,
	`CREATE TABLE IF NOT EXISTS tab_session (
		root_id        UUID NOT NULL REFERENCES root_session(id) ON DELETE CASCADE,
		tab_id         TEXT NOT NULL,
		entity_version INTEGER NOT NULL,
		PRIMARY KEY (root_id, tab_id)
	)`,
}

const (
	insertRootSQL       = `INSERT INTO root_session (id, version, metadata) VALUES ($1, $2, $3)`
	insertTabSQL        = `INSERT INTO tab_session (root_id, tab_id, entity_version) VALUES ($1, $2, $3)`
	selectRootSQL       = `SELECT id, version, metadata FROM root_session WHERE id = $1`
	selectTabsSQL       = `SELECT tab_id, entity_version FROM tab_session WHERE root_id = $1 ORDER BY tab_id`
	selectProjectionSQL = `SELECT id, version, entity_version, realm_id, created_at, expires_at FROM root_session WHERE id = $1`
	listProjectionsSQL  = `SELECT id, version, entity_version, realm_id, created_at, expires_at FROM root_session ORDER BY id`
	listByRealmSQL      = `SELECT id, version, entity_version, realm_id, created_at, expires_at FROM root_session WHERE realm_id = $1 ORDER BY id`
	updateRootSQL       = `UPDATE root_session SET version = $1, metadata = $2 WHERE id = $3 AND version = $4`
	deleteRootSQL       = `DELETE FROM root_session WHERE id = $1`
	deleteExpiredSQL    = `DELETE FROM root_session WHERE id = $1 AND expires_at IS NOT NULL AND expires_at <= $2`
	deleteTabsSQL       = `DELETE FROM tab_session WHERE root_id = $1`
	selectExpiredSQL    = `SELECT id FROM root_session WHERE expires_at IS NOT NULL AND expires_at <= $1 ORDER BY id`
)

// Store is a Postgres-backed session store.
type Store struct {
	db *sql.DB
}

// NewStore opens a Postgres-backed store using the provided DSN (falls back
// to defaultDSN) and ensures the schema exists.
func NewStore(dsn string) (*Store, error) {
	if dsn == "" {
		dsn = defaultDSN
	}
	openMu.Lock()
	db, err := sqlOpen(defaultDriver, dsn)
	openMu.Unlock()
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	ctx := context.Background()
	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	for _, stmt := range schemaStatements {
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return nil, fmt.Errorf("execute ddl: %w", err)
		}
	}
	return &Store{db: db}, nil
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
	metadata, err := json.Marshal(snap.Metadata)
	if err != nil {
		return nil, fmt.Errorf("encode metadata: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, insertRootSQL, snap.ID, snap.Version, metadata); err != nil {
		return nil, fmt.Errorf("insert root: %w", err)
	}
	for _, tab := range snap.Tabs {
		if _, err := tx.ExecContext(ctx, insertTabSQL, snap.ID, tab.TabID, tab.EntityVersion); err != nil {
			return nil, fmt.Errorf("insert tab %s: %w", tab.TabID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return domain.RestoreRootSession(snap)
}

// Get loads a root session in hydrated mode, tabs included.
func (s *Store) Get(ctx context.Context, id string) (*domain.RootSession, error) {
	snap, err := s.loadSnapshot(ctx, id)
	if err != nil {
		return nil, err
	}
	return domain.RestoreRootSession(snap)
}

// GetProjection loads the generated columns only. The JSONB document is
// never decoded on this path.
func (s *Store) GetProjection(ctx context.Context, id string) (*domain.RootSession, error) {
	snap, err := scanProjection(s.db.QueryRowContext(ctx, selectProjectionSQL, id))
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
	var (
		rows *sql.Rows
		err  error
	)
	if realmID == "" {
		rows, err = s.db.QueryContext(ctx, listProjectionsSQL)
	} else {
		rows, err = s.db.QueryContext(ctx, listByRealmSQL, realmID)
	}
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
// a version predicate on the UPDATE statement.
func (s *Store) Update(ctx context.Context, id string, mutate func(*domain.RootSession) error) (*domain.RootSession, error) {
	snap, err := s.loadSnapshot(ctx, id)
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

	res, err := tx.ExecContext(ctx, updateRootSQL, next.Version, metadata, next.ID, snap.Version)
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
	if _, err := tx.ExecContext(ctx, deleteTabsSQL, next.ID); err != nil {
		return nil, fmt.Errorf("clear tabs: %w", err)
	}
	for _, tab := range next.Tabs {
		if _, err := tx.ExecContext(ctx, insertTabSQL, next.ID, tab.TabID, tab.EntityVersion); err != nil {
			return nil, fmt.Errorf("insert tab %s: %w", tab.TabID, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit: %w", err)
	}
	return domain.RestoreRootSession(next)
}

// Delete removes a root session; the tab rows go with it through the cascade.
func (s *Store) Delete(ctx context.Context, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx, deleteRootSQL, id)
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
	rows, err := s.db.QueryContext(ctx, selectExpiredSQL, now)
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
		snap, err := s.loadSnapshot(ctx, id)
		if err != nil {
			var nfe domain.NotFoundError
			if errors.As(err, &nfe) {
				continue
			}
			return nil, err
		}
		// The delete re-checks expiry: a concurrent Update that extended
		// the session between the select and this statement keeps the row.
		res, err := s.db.ExecContext(ctx, deleteExpiredSQL, id, now)
		if err != nil {
			return nil, fmt.Errorf("delete expired: %w", err)
		}
		affected, err := res.RowsAffected()
		if err != nil {
			return nil, fmt.Errorf("rows affected: %w", err)
		}
		if affected == 0 {
			continue
		}
		removed = append(removed, snap)
	}
	return removed, nil
}

// Close closes the underlying database handle.
func (s *Store) Close() error { return s.db.Close() }

// DB exposes the underlying sql.DB for integration testing hooks.
func (s *Store) DB() *sql.DB { return s.db }

func (s *Store) loadSnapshot(ctx context.Context, id string) (domain.RootSessionSnapshot, error) {
	var (
		snap     domain.RootSessionSnapshot
		metadata []byte
	)
	err := s.db.QueryRowContext(ctx, selectRootSQL, id).Scan(&snap.ID, &snap.Version, &metadata)
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

	rows, err := s.db.QueryContext(ctx, selectTabsSQL, id)
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

// OverrideSQLOpen swaps the sqlOpen function for tests and returns a restore
// function.
func OverrideSQLOpen(fn func(driverName, dataSourceName string) (*sql.DB, error)) func() {
	openMu.Lock()
	defer openMu.Unlock()
	prev := sqlOpen
	sqlOpen = fn
	return func() {
		openMu.Lock()
		defer openMu.Unlock()
		sqlOpen = prev
	}
}
