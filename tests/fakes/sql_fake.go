package fakes

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"errors"
	"io"
	"sync"
)

// FakeSQLStore is an in-memory secrets table reachable through
// database/sql. Every query is answered as a lookup by its first argument;
// the statement text is ignored.
type FakeSQLStore struct {
	mu   sync.RWMutex
	rows map[string]fakeSQLRow

	// Versioned adds the version as a second result column
	Versioned bool
}

type fakeSQLRow struct {
	value   *string
	version int64
}

// NewFakeSQLStore creates an empty table
func NewFakeSQLStore() *FakeSQLStore {
	return &FakeSQLStore{rows: make(map[string]fakeSQLRow)}
}

// Put stores a row, bumping its version
func (s *FakeSQLStore) Put(name, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	row := s.rows[name]
	s.rows[name] = fakeSQLRow{value: &value, version: row.version + 1}
}

// PutNull stores a row whose value is NULL
func (s *FakeSQLStore) PutNull(name string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rows[name] = fakeSQLRow{version: 1}
}

// Open returns a database handle backed by the store. It matches
// providers.SQLOpenFunc.
func (s *FakeSQLStore) Open(string, string) (*sql.DB, error) {
	return sql.OpenDB(fakeSQLConnector{store: s}), nil
}

type fakeSQLConnector struct {
	store *FakeSQLStore
}

func (c fakeSQLConnector) Connect(context.Context) (driver.Conn, error) {
	return &fakeSQLConn{store: c.store}, nil
}

func (c fakeSQLConnector) Driver() driver.Driver {
	return fakeSQLDriver{}
}

type fakeSQLDriver struct{}

func (fakeSQLDriver) Open(string) (driver.Conn, error) {
	return nil, errors.New("fake sql driver is opened through its connector")
}

type fakeSQLConn struct {
	store *FakeSQLStore
}

func (c *fakeSQLConn) Prepare(string) (driver.Stmt, error) {
	return &fakeSQLStmt{store: c.store}, nil
}

func (c *fakeSQLConn) Close() error {
	return nil
}

func (c *fakeSQLConn) Begin() (driver.Tx, error) {
	return nil, errors.New("fake sql driver does not support transactions")
}

type fakeSQLStmt struct {
	store *FakeSQLStore
}

func (s *fakeSQLStmt) Close() error {
	return nil
}

func (s *fakeSQLStmt) NumInput() int {
	return -1
}

func (s *fakeSQLStmt) Exec([]driver.Value) (driver.Result, error) {
	return nil, errors.New("fake sql driver is read-only")
}

func (s *fakeSQLStmt) Query(args []driver.Value) (driver.Rows, error) {
	columns := []string{"value"}
	if s.store.Versioned {
		columns = append(columns, "version")
	}
	rows := &fakeSQLRows{columns: columns}
	if len(args) == 0 {
		return rows, nil
	}

	name, _ := args[0].(string)
	s.store.mu.RLock()
	row, ok := s.store.rows[name]
	s.store.mu.RUnlock()
	if !ok {
		return rows, nil
	}

	var value driver.Value
	if row.value != nil {
		value = *row.value
	}
	values := []driver.Value{value}
	if s.store.Versioned {
		values = append(values, row.version)
	}
	rows.data = [][]driver.Value{values}
	return rows, nil
}

type fakeSQLRows struct {
	columns []string
	data    [][]driver.Value
	pos     int
}

func (r *fakeSQLRows) Columns() []string {
	return r.columns
}

func (r *fakeSQLRows) Close() error {
	return nil
}

func (r *fakeSQLRows) Next(dest []driver.Value) error {
	if r.pos >= len(r.data) {
		return io.EOF
	}
	copy(dest, r.data[r.pos])
	r.pos++
	return nil
}
