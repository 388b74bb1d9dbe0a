package testinfra

import (
	"context"
	"errors"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// FakePool hands out FakeTx values and keeps every one it created.
type FakePool struct {
	mu       sync.Mutex
	BeginErr error
	Txs      []*FakeTx
	// NewTx customizes each transaction before it is returned.
	NewTx func(*FakeTx)
}

func (f *FakePool) Begin(context.Context) (pgx.Tx, error) {
	if f.BeginErr != nil {
		return nil, f.BeginErr
	}
	tx := &FakeTx{}
	if f.NewTx != nil {
		f.NewTx(tx)
	}
	f.mu.Lock()
	f.Txs = append(f.Txs, tx)
	f.mu.Unlock()
	return tx, nil
}

// Last returns the most recent transaction, or nil.
func (f *FakePool) Last() *FakeTx {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.Txs) == 0 {
		return nil
	}
	return f.Txs[len(f.Txs)-1]
}

// FakeTx records commit and rollback. Exec and QueryRow are answered by the
// optional hooks; without them Exec succeeds and QueryRow yields ErrNoRows.
type FakeTx struct {
	Committed  bool
	RolledBack bool
	CommitErr  error
	Statements []string

	ExecFunc     func(sql string, args ...any) (pgconn.CommandTag, error)
	QueryRowFunc func(sql string, args ...any) pgx.Row
}

func (f *FakeTx) Begin(context.Context) (pgx.Tx, error) {
	return nil, errors.New("FakeTx does not support nested transactions")
}

func (f *FakeTx) Commit(context.Context) error {
	if f.CommitErr != nil {
		return f.CommitErr
	}
	f.Committed = true
	return nil
}

func (f *FakeTx) Rollback(context.Context) error {
	if !f.Committed {
		f.RolledBack = true
	}
	return nil
}

func (f *FakeTx) CopyFrom(context.Context, pgx.Identifier, []string, pgx.CopyFromSource) (int64, error) {
	panic("not implemented")
}

func (f *FakeTx) SendBatch(context.Context, *pgx.Batch) pgx.BatchResults {
	panic("not implemented")
}

func (f *FakeTx) LargeObjects() pgx.LargeObjects {
	panic("not implemented")
}

func (f *FakeTx) Prepare(context.Context, string, string) (*pgconn.StatementDescription, error) {
	panic("not implemented")
}

func (f *FakeTx) Exec(_ context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.Statements = append(f.Statements, sql)
	if f.ExecFunc != nil {
		return f.ExecFunc(sql, args...)
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *FakeTx) Query(context.Context, string, ...any) (pgx.Rows, error) {
	panic("not implemented")
}

func (f *FakeTx) QueryRow(_ context.Context, sql string, args ...any) pgx.Row {
	f.Statements = append(f.Statements, sql)
	if f.QueryRowFunc != nil {
		return f.QueryRowFunc(sql, args...)
	}
	return RowFunc(func(...any) error { return pgx.ErrNoRows })
}

func (f *FakeTx) Conn() *pgx.Conn {
	return nil
}

// RowFunc adapts a function to pgx.Row.
type RowFunc func(dest ...any) error

func (r RowFunc) Scan(dest ...any) error {
	return r(dest...)
}
