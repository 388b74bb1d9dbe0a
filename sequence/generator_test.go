package sequence

import (
	"context"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"creditflow/db"
)

func TestNextFormatsReturnedCounter(t *testing.T) {
	q := &fakeQuerier{row: fakeRow{values: []any{"SOL-2025-", 17}}}
	g := NewGenerator(q, nil)

	got, err := g.Next(context.Background(), 2025)
	require.NoError(t, err)
	assert.Equal(t, "SOL-2025-000017", got)
	assert.Equal(t, []any{2025, "SOL-2025-", MaxValue}, q.args)
}

func TestNextTxUsesCallerQuerier(t *testing.T) {
	own := &fakeQuerier{}
	tx := &fakeQuerier{row: fakeRow{values: []any{"SOL-2025-", 1}}}
	g := NewGenerator(own, nil)

	got, err := g.NextTx(context.Background(), tx, 2025)
	require.NoError(t, err)
	assert.Equal(t, "SOL-2025-000001", got)
	assert.Zero(t, own.calls)
	assert.Equal(t, 1, tx.calls)
}

func TestNextExhausted(t *testing.T) {
	q := &fakeQuerier{row: fakeRow{err: pgx.ErrNoRows}}
	_, err := NewGenerator(q, nil).Next(context.Background(), 2025)
	assert.ErrorIs(t, err, ErrExhausted)
	assert.False(t, db.IsStorage(err))
}

func TestNextStorageFailure(t *testing.T) {
	q := &fakeQuerier{row: fakeRow{err: errors.New("connection refused")}}
	core, logs := observer.New(zap.ErrorLevel)
	_, err := NewGenerator(q, zap.New(core)).Next(context.Background(), 2025)
	assert.True(t, db.IsStorage(err))
	assert.Equal(t, 1, logs.Len())
}

func TestNextTxLeavesStorageFailureToCaller(t *testing.T) {
	q := &fakeQuerier{row: fakeRow{err: errors.New("connection refused")}}
	core, logs := observer.New(zap.DebugLevel)
	_, err := NewGenerator(&fakeQuerier{}, zap.New(core)).NextTx(context.Background(), q, 2025)
	assert.True(t, db.IsStorage(err))
	assert.Zero(t, logs.Len())
}

func TestNextRejectsBadYear(t *testing.T) {
	for _, year := range []int{25, 999, 10000, -2025} {
		q := &fakeQuerier{}
		_, err := NewGenerator(q, nil).NextTx(context.Background(), q, year)
		assert.ErrorIs(t, err, ErrYearOutOfRange, year)
		assert.False(t, db.IsStorage(err), year)
		assert.Zero(t, q.calls)
	}
	_, err := NewGenerator(&fakeQuerier{}, nil).Current(context.Background(), 25)
	assert.ErrorIs(t, err, ErrYearOutOfRange)
}

func TestCurrentMissingYear(t *testing.T) {
	q := &fakeQuerier{row: fakeRow{err: pgx.ErrNoRows}}
	c, err := NewGenerator(q, nil).Current(context.Background(), 2031)
	require.NoError(t, err)
	assert.Equal(t, 0, c.Value)
	assert.Equal(t, "SOL-2031-000001", c.Next())
}

func TestReset(t *testing.T) {
	q := &fakeQuerier{}
	require.NoError(t, NewGenerator(q, nil).Reset(context.Background(), 2025))
	assert.Equal(t, 1, q.execs)
}

type fakeQuerier struct {
	row   fakeRow
	args  []any
	calls int
	execs int
}

func (f *fakeQuerier) QueryRow(_ context.Context, _ string, args ...any) pgx.Row {
	f.calls++
	f.args = args
	return f.row
}

func (f *fakeQuerier) Exec(context.Context, string, ...any) (pgconn.CommandTag, error) {
	f.execs++
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	for i, d := range dest {
		switch p := d.(type) {
		case *string:
			*p = r.values[i].(string)
		case *int:
			*p = r.values[i].(int)
		}
	}
	return nil
}
