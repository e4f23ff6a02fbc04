// Package fakedb provides pgx.Tx and pool fakes for service unit tests.
package fakedb

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// Pool hands out Tx values and remembers every one it started.
type Pool struct {
	mu       sync.Mutex
	Txs      []*Tx
	BeginErr error
	// NewTx customizes each transaction before it is returned.
	NewTx func(*Tx)

	ExecFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
}

func (p *Pool) Begin(ctx context.Context) (pgx.Tx, error) {
	if p.BeginErr != nil {
		return nil, p.BeginErr
	}
	tx := &Tx{}
	if p.NewTx != nil {
		p.NewTx(tx)
	}
	p.mu.Lock()
	p.Txs = append(p.Txs, tx)
	p.mu.Unlock()
	return tx, nil
}

// Last returns the most recent transaction or nil.
func (p *Pool) Last() *Tx {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(p.Txs) == 0 {
		return nil
	}
	return p.Txs[len(p.Txs)-1]
}

func (p *Pool) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	if p.ExecFunc == nil {
		panic("fakedb: pool Exec not configured")
	}
	return p.ExecFunc(ctx, sql, args...)
}

func (p *Pool) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("fakedb: pool Query not implemented")
}

func (p *Pool) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	if p.QueryRowFunc == nil {
		panic("fakedb: pool QueryRow not configured")
	}
	return p.QueryRowFunc(ctx, sql, args...)
}

// Tx records Commit/Rollback and delegates Exec/QueryRow to optional funcs.
type Tx struct {
	Committed bool
	Rolled    bool
	CommitErr error

	Statements []string

	ExecFunc     func(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRowFunc func(ctx context.Context, sql string, args ...any) pgx.Row
}

func (f *Tx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("fakedb: nested transactions not supported")
}

func (f *Tx) Commit(context.Context) error {
	if f.Rolled {
		return pgx.ErrTxClosed
	}
	if f.CommitErr != nil {
		return f.CommitErr
	}
	f.Committed = true
	return nil
}

func (f *Tx) Rollback(context.Context) error {
	if f.Committed {
		return pgx.ErrTxClosed
	}
	f.Rolled = true
	return nil
}

func (f *Tx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *Tx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *Tx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *Tx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *Tx) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.Statements = append(f.Statements, sql)
	if f.ExecFunc == nil {
		return pgconn.CommandTag{}, nil
	}
	return f.ExecFunc(ctx, sql, args...)
}

func (f *Tx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *Tx) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	f.Statements = append(f.Statements, sql)
	if f.QueryRowFunc == nil {
		panic("fakedb: QueryRow not configured")
	}
	return f.QueryRowFunc(ctx, sql, args...)
}

func (f *Tx) Conn() *pgx.Conn {
	return nil
}

// Row is a pgx.Row that scans fixed int64/string values or returns Err.
type Row struct {
	Values []any
	Err    error
}

func (r Row) Scan(dest ...any) error {
	if r.Err != nil {
		return r.Err
	}
	if len(dest) != len(r.Values) {
		return errors.New("fakedb: scan arity mismatch")
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *int64:
			*p = r.Values[i].(int64)
		case *string:
			*p = r.Values[i].(string)
		case *bool:
			*p = r.Values[i].(bool)
		default:
			return errors.New("fakedb: unsupported scan target")
		}
	}
	return nil
}
