package sequence

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"go.uber.org/zap"

	"creditflow/db"
	"creditflow/metrics"
)

// Querier is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Querier interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Counter is the persisted state of one year's sequence.
type Counter struct {
	Year       int
	Prefix     string
	Value      int
	LastUsedAt time.Time
}

// Next is the number the counter will issue next.
func (c Counter) Next() string {
	return Format(c.Prefix, c.Value+1)
}

// Last is the most recently issued number, empty if none.
func (c Counter) Last() string {
	if c.Value == 0 {
		return ""
	}
	return Format(c.Prefix, c.Value)
}

// Generator issues tracking numbers from the sequence_counters table. It
// keeps no state in process; every call is one round trip.
type Generator struct {
	db     Querier
	logger *zap.Logger
}

func NewGenerator(q Querier, logger *zap.Logger) *Generator {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Generator{db: q, logger: logger}
}

// Next issues the next number for year using the generator's own connection.
func (g *Generator) Next(ctx context.Context, year int) (string, error) {
	number, err := g.NextTx(ctx, g.db, year)
	if db.IsStorage(err) {
		metrics.RecordStorageError("sequence next")
		g.logger.Error("issue tracking number", zap.Int("year", year), zap.Error(err))
	}
	return number, err
}

// NextTx issues the next number on q, typically the caller's transaction, so
// that a rolled back create does not consume a number. Storage failures are
// returned wrapped and left for the caller to report.
func (g *Generator) NextTx(ctx context.Context, q Querier, year int) (string, error) {
	if err := checkYear(year); err != nil {
		return "", err
	}

	const upsertSQL = `
INSERT INTO sequence_counters (year, prefix, value, last_used_at)
VALUES ($1, $2, 1, now())
ON CONFLICT (year) DO UPDATE
SET value = sequence_counters.value + 1,
    last_used_at = now()
WHERE sequence_counters.value < $3
RETURNING prefix, value;
`

	var (
		prefix string
		value  int
	)
	err := q.QueryRow(ctx, upsertSQL, year, DefaultPrefix(year), MaxValue).Scan(&prefix, &value)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", fmt.Errorf("%w: %d", ErrExhausted, year)
	}
	if err != nil {
		return "", db.Wrap("sequence next", err)
	}
	metrics.RecordNumberIssued(year)
	return Format(prefix, value), nil
}

// Current returns the counter for year. A year without a row reports value 0.
func (g *Generator) Current(ctx context.Context, year int) (Counter, error) {
	if err := checkYear(year); err != nil {
		return Counter{}, err
	}

	const selectSQL = `SELECT year, prefix, value, last_used_at FROM sequence_counters WHERE year = $1`

	var c Counter
	err := g.db.QueryRow(ctx, selectSQL, year).Scan(&c.Year, &c.Prefix, &c.Value, &c.LastUsedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Counter{Year: year, Prefix: DefaultPrefix(year)}, nil
	}
	if err != nil {
		return Counter{}, db.Wrap("sequence current", err)
	}
	return c, nil
}

// Reset sets the year's counter back to zero so the next number ends in
// 000001 again. Administrative use only.
func (g *Generator) Reset(ctx context.Context, year int) error {
	if err := checkYear(year); err != nil {
		return err
	}

	const resetSQL = `
INSERT INTO sequence_counters (year, prefix, value, last_used_at)
VALUES ($1, $2, 0, now())
ON CONFLICT (year) DO UPDATE
SET value = 0,
    last_used_at = now();
`

	if _, err := g.db.Exec(ctx, resetSQL, year, DefaultPrefix(year)); err != nil {
		metrics.RecordStorageError("sequence reset")
		return db.Wrap("sequence reset", err)
	}
	g.logger.Warn("sequence counter reset", zap.Int("year", year))
	return nil
}

func checkYear(year int) error {
	if year < 1000 || year > 9999 {
		return fmt.Errorf("%w: %d", ErrYearOutOfRange, year)
	}
	return nil
}
