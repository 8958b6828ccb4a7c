// Package testutil provides a recording stub database for postgres store tests.
package testutil

import (
	"context"
	"database/sql"
	"database/sql/driver"
	"fmt"
	"io"
	"strings"
	"sync"
	"sync/atomic"
)

// Statement is a statement received by the stub.
type Statement struct {
	SQL  string
	Args []any
}

type response struct {
	match   string
	columns []string
	rows    [][]driver.Value
	err     error
}

// StubConn records statements and answers queries from scripted responses.
type StubConn struct {
	mu        sync.Mutex
	Execs     []Statement
	Queries   []Statement
	responses []response
	FailExec  bool
	FailBegin bool
	Commits   int
	Rollbacks int
}

var stubSeq atomic.Int64

// NewStubDB registers a sql.DB backed by an in-memory stub connection.
func NewStubDB() (*sql.DB, *StubConn) {
	conn := &StubConn{}
	name := fmt.Sprintf("stubpg%d", stubSeq.Add(1))
	sql.Register(name, &stubDriver{conn: conn})
	db, err := sql.Open(name, "stub")
	if err != nil {
		panic(err)
	}
	return db, conn
}

// OnQuery answers queries containing match with rows. Later registrations
// win over earlier ones.
func (c *StubConn) OnQuery(match string, columns []string, rows ...[]driver.Value) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = append(c.responses, response{match: match, columns: columns, rows: rows})
}

// FailQuery makes queries containing match fail with err.
func (c *StubConn) FailQuery(match string, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.responses = append(c.responses, response{match: match, err: err})
}

// LastQuery returns the most recent query containing match.
func (c *StubConn) LastQuery(match string) (Statement, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for i := len(c.Queries) - 1; i >= 0; i-- {
		if strings.Contains(c.Queries[i].SQL, match) {
			return c.Queries[i], true
		}
	}
	return Statement{}, false
}

type stubDriver struct {
	conn *StubConn
}

func (d *stubDriver) Open(string) (driver.Conn, error) {
	return d.conn, nil
}

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
	if c.FailExec {
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

// CheckNamedValue implements driver.NamedValueChecker so array valuers and
// other driver types reach the stub unchanged.
func (c *StubConn) CheckNamedValue(nv *driver.NamedValue) error {
	if valuer, ok := nv.Value.(driver.Valuer); ok {
		v, err := valuer.Value()
		if err != nil {
			return err
		}
		nv.Value = v
	}
	return nil
}

func values(args []driver.NamedValue) []any {
	out := make([]any, len(args))
	for i, a := range args {
		out[i] = a.Value
	}
	return out
}

// ExecContext implements driver.ExecerContext.
func (c *StubConn) ExecContext(_ context.Context, query string, args []driver.NamedValue) (driver.Result, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Execs = append(c.Execs, Statement{SQL: query, Args: values(args)})
	if c.FailExec {
		return nil, fmt.Errorf("exec fail")
	}
	return driver.RowsAffected(1), nil
}

// QueryContext implements driver.QueryerContext.
func (c *StubConn) QueryContext(_ context.Context, query string, args []driver.NamedValue) (driver.Rows, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.Queries = append(c.Queries, Statement{SQL: query, Args: values(args)})
	for i := len(c.responses) - 1; i >= 0; i-- {
		resp := c.responses[i]
		if !strings.Contains(query, resp.match) {
			continue
		}
		if resp.err != nil {
			return nil, resp.err
		}
		return &stubRows{cols: resp.columns, rows: resp.rows}, nil
	}
	return &stubRows{}, nil
}

type stubTx struct {
	conn *StubConn
}

func (t *stubTx) Commit() error {
	t.conn.mu.Lock()
	defer t.conn.mu.Unlock()
	t.conn.Commits++
	return nil
}

func (t *stubTx) Rollback() error {
	t.conn.mu.Lock()
	defer t.conn.mu.Unlock()
	t.conn.Rollbacks++
	return nil
}

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
