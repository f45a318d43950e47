// Package testutil provides an in-memory stub database that understands the
// session schema, so the postgres store can be exercised without a server.
// Generated columns are emulated by decoding the metadata document on write.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"
	"sync"
	"time"
)

// StubConn holds the emulated table state and the fault switches used by
// store tests.
type StubConn struct {
	mu    sync.Mutex
	roots map[string]*rootRow
	tabs  map[string]map[string]int64

	// Execs records every normalized statement in arrival order.
	Execs []string

	// AfterQuery, when set, runs after a query has been served and the
	// stub lock released. Tests use it to interleave a concurrent write
	// between two of the store's statements.
	AfterQuery func(stmt string)

	FailPing   bool
	FailBegin  bool
	FailCommit bool
	// FailExec makes every subsequent Exec statement fail.
	FailExec bool
}

type rootRow struct {
	id       string
	version  int64
	metadata []byte

	entityVersion int64
	realmID       string
	createdAt     *int64
	expiresAt     *int64
}

type metadataDoc struct {
	EntityVersion int64  `json:"entityVersion"`
	RealmID       string `json:"realmId"`
	CreatedAt     *int64 `json:"createdAt"`
	ExpiresAt     *int64 `json:"expiresAt"`
}

// NewStubDB registers a sql.DB backed by an in-memory stub connection.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{
		roots: make(map[string]*rootRow),
		tabs:  make(map[string]map[string]int64),
	}
	name := fmt.Sprintf("stubpg%d", time.Now().UnixNano())
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

// RootCount reports the number of stored root rows.
func (c *StubConn) RootCount() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.roots)
}

// TabCount reports the number of tab rows attached to rootID.
func (c *StubConn) TabCount(rootID string) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.tabs[rootID])
}

// SetVersion overwrites the stored version of rootID, simulating a
// concurrent writer.
func (c *StubConn) SetVersion(rootID string, version int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if row, ok := c.roots[rootID]; ok {
		row.version = version
	}
}

// SetExpiry rewrites the stored expiration of rootID, simulating a
// concurrent writer extending (or clearing) the session's lifetime. The
// metadata document and the generated columns are updated together.
func (c *StubConn) SetExpiry(rootID string, expiresAt *int64) {
	c.mu.Lock()
	defer c.mu.Unlock()
	row, ok := c.roots[rootID]
	if !ok {
		return
	}
	doc := metadataDoc{
		EntityVersion: row.entityVersion,
		RealmID:       row.realmID,
		CreatedAt:     row.createdAt,
		ExpiresAt:     expiresAt,
	}
	raw, err := json.Marshal(doc)
	if err != nil {
		return
	}
	if err := row.setMetadata(raw); err != nil {
		return
	}
	row.version++
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) { return d.conn, nil }

// Prepare implements driver.Conn.
func (c *StubConn) Prepare(string) (driver.Stmt, error) { return nil, fmt.Errorf("not implemented") }

// Close implements driver.Conn.
func (c *StubConn) Close() error { return nil }

// Begin implements driver.Conn.
func (c *StubConn) Begin() (driver.Tx, error) {
	return c.BeginTx(context.Background(), driver.TxOptions{})
}

// Ping implements driver.Pinger.
func (c *StubConn) Ping(_ context.Context) error {
	if c.FailPing {
		return fmt.Errorf("ping fail")
	}
	return nil
}

// BeginTx implements driver.ConnBeginTx.
func (c *StubConn) BeginTx(_ context.Context, _ driver.TxOptions) (driver.Tx, error) {
	if c.FailBegin {
		return nil, fmt.Errorf("begin fail")
	}
	return &stubTx{conn: c}, nil
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	q := normalize(query)
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, q)
	if c.FailExec {
		return nil, fmt.Errorf("exec fail")
	}
	switch {
	case strings.HasPrefix(q, "CREATE TABLE"), strings.HasPrefix(q, "CREATE INDEX"):
		return driver.RowsAffected(0), nil
	case strings.HasPrefix(q, "INSERT INTO root_session"):
		return c.insertRoot(args)
	case strings.HasPrefix(q, "INSERT INTO tab_session"):
		return c.insertTab(args)
	case strings.HasPrefix(q, "UPDATE root_session"):
		return c.updateRoot(args)
	case strings.HasPrefix(q, "DELETE FROM root_session WHERE id = $1 AND expires_at"):
		return c.deleteExpired(args)
	case strings.HasPrefix(q, "DELETE FROM root_session"):
		return c.deleteRoot(args)
	case strings.HasPrefix(q, "DELETE FROM tab_session"):
		return c.deleteTabs(args)
	}
	return nil, fmt.Errorf("unsupported exec: %s", q)
}

// QueryContext implements driver.QueryerContext.
func (c *StubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	q := normalize(query)
	rows, err := c.query(q, args)
	if c.AfterQuery != nil {
		c.AfterQuery(q)
	}
	return rows, err
}

func (c *StubConn) query(q string, args []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch {
	case strings.HasPrefix(q, "SELECT id, version, metadata FROM root_session"):
		return c.selectRoot(args)
	case strings.HasPrefix(q, "SELECT tab_id, entity_version FROM tab_session"):
		return c.selectTabs(args)
	case strings.HasPrefix(q, "SELECT id, version, entity_version, realm_id, created_at, expires_at FROM root_session"):
		return c.selectProjections(q, args)
	case strings.HasPrefix(q, "SELECT id FROM root_session WHERE expires_at"):
		return c.selectExpired(args)
	}
	return nil, fmt.Errorf("unsupported query: %s", q)
}

func (c *StubConn) insertRoot(args []driver.NamedValue) (driver.Result, error) {
	if len(args) != 3 {
		return nil, fmt.Errorf("insert root: want 3 args, got %d", len(args))
	}
	id := args[0].Value.(string)
	if _, ok := c.roots[id]; ok {
		return nil, fmt.Errorf("duplicate key value violates unique constraint \"root_session_pkey\"")
	}
	row := &rootRow{id: id, version: args[1].Value.(int64)}
	if err := row.setMetadata(args[2].Value.([]byte)); err != nil {
		return nil, err
	}
	c.roots[id] = row
	return driver.RowsAffected(1), nil
}

func (c *StubConn) insertTab(args []driver.NamedValue) (driver.Result, error) {
	if len(args) != 3 {
		return nil, fmt.Errorf("insert tab: want 3 args, got %d", len(args))
	}
	rootID := args[0].Value.(string)
	if _, ok := c.roots[rootID]; !ok {
		return nil, fmt.Errorf("insert or update on table \"tab_session\" violates foreign key constraint")
	}
	tabID := args[1].Value.(string)
	if c.tabs[rootID] == nil {
		c.tabs[rootID] = make(map[string]int64)
	}
	if _, ok := c.tabs[rootID][tabID]; ok {
		return nil, fmt.Errorf("duplicate key value violates unique constraint \"tab_session_pkey\"")
	}
	c.tabs[rootID][tabID] = args[2].Value.(int64)
	return driver.RowsAffected(1), nil
}

func (c *StubConn) updateRoot(args []driver.NamedValue) (driver.Result, error) {
	if len(args) != 4 {
		return nil, fmt.Errorf("update root: want 4 args, got %d", len(args))
	}
	id := args[2].Value.(string)
	expected := args[3].Value.(int64)
	row, ok := c.roots[id]
	if !ok || row.version != expected {
		return driver.RowsAffected(0), nil
	}
	row.version = args[0].Value.(int64)
	if err := row.setMetadata(args[1].Value.([]byte)); err != nil {
		return nil, err
	}
	return driver.RowsAffected(1), nil
}

func (c *StubConn) deleteRoot(args []driver.NamedValue) (driver.Result, error) {
	id := args[0].Value.(string)
	if _, ok := c.roots[id]; !ok {
		return driver.RowsAffected(0), nil
	}
	delete(c.roots, id)
	delete(c.tabs, id)
	return driver.RowsAffected(1), nil
}

func (c *StubConn) deleteExpired(args []driver.NamedValue) (driver.Result, error) {
	if len(args) != 2 {
		return nil, fmt.Errorf("delete expired: want 2 args, got %d", len(args))
	}
	id := args[0].Value.(string)
	now := args[1].Value.(int64)
	row, ok := c.roots[id]
	if !ok || row.expiresAt == nil || *row.expiresAt > now {
		return driver.RowsAffected(0), nil
	}
	delete(c.roots, id)
	delete(c.tabs, id)
	return driver.RowsAffected(1), nil
}

func (c *StubConn) deleteTabs(args []driver.NamedValue) (driver.Result, error) {
	rootID := args[0].Value.(string)
	n := len(c.tabs[rootID])
	delete(c.tabs, rootID)
	return driver.RowsAffected(int64(n)), nil
}

func (c *StubConn) selectRoot(args []driver.NamedValue) (driver.Rows, error) {
	cols := []string{"id", "version", "metadata"}
	row, ok := c.roots[args[0].Value.(string)]
	if !ok {
		return &stubRows{cols: cols}, nil
	}
	return &stubRows{cols: cols, rows: [][]driver.Value{{row.id, row.version, row.metadata}}}, nil
}

func (c *StubConn) selectTabs(args []driver.NamedValue) (driver.Rows, error) {
	cols := []string{"tab_id", "entity_version"}
	rootID := args[0].Value.(string)
	tabIDs := make([]string, 0, len(c.tabs[rootID]))
	for tabID := range c.tabs[rootID] {
		tabIDs = append(tabIDs, tabID)
	}
	sort.Strings(tabIDs)
	rows := make([][]driver.Value, 0, len(tabIDs))
	for _, tabID := range tabIDs {
		rows = append(rows, []driver.Value{tabID, c.tabs[rootID][tabID]})
	}
	return &stubRows{cols: cols, rows: rows}, nil
}

func (c *StubConn) selectProjections(q string, args []driver.NamedValue) (driver.Rows, error) {
	cols := []string{"id", "version", "entity_version", "realm_id", "created_at", "expires_at"}
	var selected []*rootRow
	switch {
	case strings.Contains(q, "WHERE id ="):
		if row, ok := c.roots[args[0].Value.(string)]; ok {
			selected = append(selected, row)
		}
	case strings.Contains(q, "WHERE realm_id ="):
		realm := args[0].Value.(string)
		for _, row := range c.roots {
			if row.realmID == realm {
				selected = append(selected, row)
			}
		}
	default:
		for _, row := range c.roots {
			selected = append(selected, row)
		}
	}
	sort.Slice(selected, func(i, j int) bool { return selected[i].id < selected[j].id })
	rows := make([][]driver.Value, 0, len(selected))
	for _, row := range selected {
		rows = append(rows, []driver.Value{
			row.id, row.version, row.entityVersion, row.realmID,
			nullable(row.createdAt), nullable(row.expiresAt),
		})
	}
	return &stubRows{cols: cols, rows: rows}, nil
}

func (c *StubConn) selectExpired(args []driver.NamedValue) (driver.Rows, error) {
	now := args[0].Value.(int64)
	var ids []string
	for _, row := range c.roots {
		if row.expiresAt != nil && *row.expiresAt <= now {
			ids = append(ids, row.id)
		}
	}
	sort.Strings(ids)
	rows := make([][]driver.Value, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, []driver.Value{id})
	}
	return &stubRows{cols: []string{"id"}, rows: rows}, nil
}

// setMetadata stores the document and recomputes the generated columns the
// way the real schema would.
func (r *rootRow) setMetadata(raw []byte) error {
	var doc metadataDoc
	if err := json.Unmarshal(raw, &doc); err != nil {
		return fmt.Errorf("invalid input syntax for type json: %w", err)
	}
	r.metadata = append([]byte(nil), raw...)
	r.entityVersion = doc.EntityVersion
	r.realmID = doc.RealmID
	r.createdAt = doc.CreatedAt
	r.expiresAt = doc.ExpiresAt
	return nil
}

func nullable(v *int64) driver.Value {
	if v == nil {
		return nil
	}
	return *v
}

func normalize(query string) string {
	return strings.Join(strings.Fields(query), " ")
}

type stubTx struct {
	conn *StubConn
}

func (t *stubTx) Commit() error {
	if t.conn.FailCommit {
		return fmt.Errorf("commit fail")
	}
	return nil
}
func (t *stubTx) Rollback() error { return nil }

type stubRows struct {
	cols []string
	rows [][]driver.Value
	idx  int
}

func (r *stubRows) Columns() []string { return r.cols }
func (r *stubRows) Close() error      { return nil }

func (r *stubRows) Next(dest []driver.Value) error {
	if r.idx >= len(r.rows) {
		return io.EOF
	}
	copy(dest, r.rows[r.idx])
	r.idx++
	return nil
}
