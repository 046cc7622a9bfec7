package postgres_test

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// execCall records one Exec/Query invocation against a fake.
type execCall struct {
	sql  string
	args []any
}

// assign copies a canned value tuple into scan destinations.
func assign(dest []any, vals []any) error {
	if len(dest) != len(vals) {
		return fmt.Errorf("scan: want %d destinations, got %d", len(vals), len(dest))
	}
	for i, d := range dest {
		dv := reflect.ValueOf(d)
		if dv.Kind() != reflect.Ptr {
			return fmt.Errorf("scan: dest %d is not a pointer", i)
		}
		if vals[i] == nil {
			dv.Elem().Set(reflect.Zero(dv.Elem().Type()))
			continue
		}
		v := reflect.ValueOf(vals[i])
		switch {
		case v.Type().AssignableTo(dv.Elem().Type()):
			dv.Elem().Set(v)
		case v.Type().ConvertibleTo(dv.Elem().Type()):
			dv.Elem().Set(v.Convert(dv.Elem().Type()))
		default:
			return fmt.Errorf("scan: dest %d: cannot assign %s to %s", i, v.Type(), dv.Elem().Type())
		}
	}
	return nil
}

// fakeRow implements pgx.Row with a canned scan.
type fakeRow struct{ scan func(dest ...any) error }

func (r fakeRow) Scan(dest ...any) error { return r.scan(dest...) }

func valueRow(vals ...any) fakeRow {
	return fakeRow{scan: func(dest ...any) error { return assign(dest, vals) }}
}

func errRow(err error) fakeRow {
	return fakeRow{scan: func(_ ...any) error { return err }}
}

// fakeRows implements pgx.Rows over a fixed result set.
type fakeRows struct {
	rows [][]any
	idx  int
	err  error
}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return r.err }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.CommandTag{} }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Next() bool {
	if r.idx >= len(r.rows) {
		return false
	}
	r.idx++
	return true
}
func (r *fakeRows) Scan(dest ...any) error { return assign(dest, r.rows[r.idx-1]) }
func (r *fakeRows) Values() ([]any, error) { return r.rows[r.idx-1], nil }
func (r *fakeRows) RawValues() [][]byte    { return nil }
func (r *fakeRows) Conn() *pgx.Conn        { return nil }

// fakePool implements postgres.PgxPool for tests.
type fakePool struct {
	execs   []execCall
	execErr error

	queries  []execCall
	rows     pgx.Rows
	queryErr error

	row        pgx.Row
	queryRowFn func(sql string, args ...any) pgx.Row

	tx       *fakeTx
	beginErr error
}

func (p *fakePool) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	p.execs = append(p.execs, execCall{sql: sql, args: args})
	return pgconn.CommandTag{}, p.execErr
}

func (p *fakePool) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	if p.queryRowFn != nil {
		return p.queryRowFn(sql, args...)
	}
	if p.row == nil {
		return errRow(errors.New("no row configured"))
	}
	return p.row
}

func (p *fakePool) Query(_ context.Context, sql string, args ...any) (pgx.Rows, error) {
	p.queries = append(p.queries, execCall{sql: sql, args: args})
	if p.queryErr != nil {
		return nil, p.queryErr
	}
	if p.rows == nil {
		return &fakeRows{}, nil
	}
	return p.rows, nil
}

func (p *fakePool) BeginTx(_ context.Context, _ pgx.TxOptions) (pgx.Tx, error) {
	if p.beginErr != nil {
		return nil, p.beginErr
	}
	if p.tx == nil {
		p.tx = &fakeTx{}
	}
	return p.tx, nil
}

// fakeTx implements pgx.Tx. Only Exec, Commit and Rollback carry behavior.
type fakeTx struct {
	execs      []execCall
	execErr    error
	execErrOn  int // 1-based call index that fails; 0 means every call uses execErr
	commitErr  error
	committed  bool
	rolledBack bool
}

func (t *fakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	t.execs = append(t.execs, execCall{sql: sql, args: args})
	if t.execErr != nil && (t.execErrOn == 0 || t.execErrOn == len(t.execs)) {
		return pgconn.CommandTag{}, t.execErr
	}
	return pgconn.CommandTag{}, nil
}

func (t *fakeTx) Commit(_ context.Context) error {
	if t.commitErr != nil {
		return t.commitErr
	}
	t.committed = true
	return nil
}

func (t *fakeTx) Rollback(_ context.Context) error {
	if !t.committed {
		t.rolledBack = true
	}
	return nil
}

func (t *fakeTx) Begin(_ context.Context) (pgx.Tx, error) { return nil, errors.New("not supported") }
func (t *fakeTx) CopyFrom(_ context.Context, _ pgx.Identifier, _ []string, _ pgx.CopyFromSource) (int64, error) {
	return 0, errors.New("not supported")
}
func (t *fakeTx) SendBatch(_ context.Context, _ *pgx.Batch) pgx.BatchResults { return nil }
func (t *fakeTx) LargeObjects() pgx.LargeObjects                             { return pgx.LargeObjects{} }
func (t *fakeTx) Prepare(_ context.Context, _, _ string) (*pgconn.StatementDescription, error) {
	return nil, errors.New("not supported")
}
func (t *fakeTx) Query(_ context.Context, _ string, _ ...any) (pgx.Rows, error) {
	return nil, errors.New("not supported")
}
func (t *fakeTx) QueryRow(_ context.Context, _ string, _ ...any) pgx.Row {
	return errRow(errors.New("not supported"))
}
func (t *fakeTx) Conn() *pgx.Conn { return nil }
