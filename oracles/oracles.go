// Package oracles holds SQL invariant checks over the durable store. Every
// oracle selects offending rows; an empty result means the invariant holds.
package oracles

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
)

type Oracle struct {
	Name string
	SQL  string
}

// Violation is the first offending row of a failed oracle.
type Violation struct {
	Oracle string
	Row    string
}

// Querier is satisfied by *pgxpool.Pool, *pgx.Conn and pgx.Tx.
type Querier interface {
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
}

func All() []Oracle {
	return []Oracle{
		{
			Name: "unique_tracking_number",
			SQL: `SELECT tracking_number, COUNT(*) FROM loan_applications
                  GROUP BY tracking_number HAVING COUNT(*) > 1`,
		},
		{
			Name: "tracking_number_format",
			SQL: `SELECT id::text, tracking_number FROM loan_applications
                  WHERE tracking_number !~ '^SOL-[0-9]{4}-[0-9]{6}$'`,
		},
		{
			Name: "counter_covers_issued",
			SQL: `WITH issued AS (
                      SELECT substr(tracking_number, 5, 4)::int AS year,
                             MAX(substr(tracking_number, 10, 6)::int) AS top
                      FROM loan_applications
                      WHERE tracking_number ~ '^SOL-[0-9]{4}-[0-9]{6}$'
                      GROUP BY 1)
                  SELECT i.year, i.top, c.value FROM issued i
                  LEFT JOIN sequence_counters c ON c.year = i.year
                  WHERE c.value IS NULL OR c.value < i.top`,
		},
		{
			Name: "timeline_starts_at_intake",
			SQL: `SELECT e.application_id::text, e.state, e.detail FROM timeline_entries e
                  WHERE e.seq = 1 AND (e.state <> 'intake-received' OR NOT e.automatic)`,
		},
		{
			Name: "timeline_seq_contiguous",
			SQL: `WITH numbered AS (
                      SELECT application_id::text AS application_id, seq,
                             ROW_NUMBER() OVER (PARTITION BY application_id ORDER BY seq) AS pos
                      FROM timeline_entries)
                  SELECT * FROM numbered WHERE seq <> pos`,
		},
		{
			Name: "state_matches_timeline",
			SQL: `SELECT a.id::text, a.state, last.state AS timeline_state FROM loan_applications a
                  LEFT JOIN LATERAL (
                      SELECT state FROM timeline_entries e
                      WHERE e.application_id = a.id ORDER BY seq DESC LIMIT 1) last ON true
                  WHERE last.state IS DISTINCT FROM a.state`,
		},
		{
			Name: "signature_node_count",
			SQL: `SELECT document_id::text, node_count,
                         (xpath('count(/loan_application/signatures/signature)', xml::xml))[1]::text AS counted
                  FROM signature_artifacts
                  WHERE (xpath('count(/loan_application/signatures/signature)', xml::xml))[1]::text::int <> node_count`,
		},
		{
			Name: "artifact_linked",
			SQL: `SELECT a.id::text, a.artifact_id::text FROM loan_applications a
                  WHERE a.artifact_id IS NOT NULL
                    AND NOT EXISTS (SELECT 1 FROM signature_artifacts s
                                    WHERE s.document_id = a.artifact_id AND s.application_id = a.id)`,
		},
		{
			Name: "application_delete_guard",
			SQL: `SELECT 'missing_no_delete_trigger' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'no_delete_loan_applications')`,
		},
		{
			Name: "timeline_append_only_guard",
			SQL: `SELECT 'missing_append_only_trigger' AS detail
                  WHERE NOT EXISTS (SELECT 1 FROM pg_trigger WHERE tgname = 'timeline_entries_append_only')`,
		},
	}
}

// Run executes every oracle and returns the first violation, or nil when all pass.
func Run(ctx context.Context, q Querier) (*Violation, error) {
	for _, o := range All() {
		v, err := Check(ctx, q, o)
		if err != nil || v != nil {
			return v, err
		}
	}
	return nil, nil
}

// Check runs a single oracle.
func Check(ctx context.Context, q Querier, o Oracle) (*Violation, error) {
	rows, err := q.Query(ctx, o.SQL)
	if err != nil {
		return nil, fmt.Errorf("oracle %s: %w", o.Name, err)
	}
	defer rows.Close()

	if !rows.Next() {
		return nil, rows.Err()
	}
	vals, err := rows.Values()
	if err != nil {
		return nil, fmt.Errorf("oracle %s: %w", o.Name, err)
	}
	return &Violation{Oracle: o.Name, Row: fmt.Sprintf("%v", vals)}, nil
}
