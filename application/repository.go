package application

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"creditflow/db"
	"creditflow/state"
)

// Repository is the data access the service needs. Every method runs on the
// caller's transaction.
type Repository interface {
	Insert(ctx context.Context, tx pgx.Tx, app Application) error
	Get(ctx context.Context, tx pgx.Tx, id string, forUpdate bool) (Application, error)
	GetByTrackingNumber(ctx context.Context, tx pgx.Tx, number string) (Application, error)
	UpdateState(ctx context.Context, tx pgx.Tx, id string, next state.Code, at time.Time) error
	UpdatePayload(ctx context.Context, tx pgx.Tx, app Application) error
	SetArtifact(ctx context.Context, tx pgx.Tx, id, documentID string, at time.Time) error
	AppendTimeline(ctx context.Context, tx pgx.Tx, entry TimelineEntry) (TimelineEntry, error)
	ListTimeline(ctx context.Context, tx pgx.Tx, id string) ([]TimelineEntry, error)
	EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error
}

type PGRepository struct{}

func NewRepository() *PGRepository {
	return &PGRepository{}
}

func (r *PGRepository) Insert(ctx context.Context, tx pgx.Tx, app Application) error {
	payload, err := json.Marshal(app.Payload)
	if err != nil {
		return fmt.Errorf("application: marshal payload: %w", err)
	}

	const insertSQL = `
INSERT INTO loan_applications
    (id, tracking_number, owner_id, state, requested_amount, term_months, annual_rate, payload, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5::numeric, $6, $7::numeric, $8::jsonb, $9, $9);
`

	if _, err := tx.Exec(ctx, insertSQL,
		app.ID, app.TrackingNumber, app.OwnerID, string(app.State),
		app.Terms.RequestedAmount.String(), app.Terms.TermMonths, app.Terms.AnnualRate.String(),
		string(payload), app.CreatedAt,
	); err != nil {
		return db.Wrap("insert application", err)
	}
	return nil
}

const selectApplicationSQL = `
SELECT id::text, tracking_number, owner_id, state,
       requested_amount::text, term_months, annual_rate::text,
       payload, artifact_id::text, created_at, updated_at
FROM loan_applications
`

// Get loads the application and its ledger. With forUpdate the row stays
// locked until tx ends.
func (r *PGRepository) Get(ctx context.Context, tx pgx.Tx, id string, forUpdate bool) (Application, error) {
	query := selectApplicationSQL + `WHERE id = $1`
	if forUpdate {
		query += ` FOR UPDATE`
	}
	return r.load(ctx, tx, query, id)
}

func (r *PGRepository) GetByTrackingNumber(ctx context.Context, tx pgx.Tx, number string) (Application, error) {
	return r.load(ctx, tx, selectApplicationSQL+`WHERE tracking_number = $1`, number)
}

func (r *PGRepository) load(ctx context.Context, tx pgx.Tx, query string, arg string) (Application, error) {
	var (
		app     Application
		st      string
		amount  string
		rate    string
		payload []byte
	)
	err := tx.QueryRow(ctx, query, arg).Scan(
		&app.ID, &app.TrackingNumber, &app.OwnerID, &st,
		&amount, &app.Terms.TermMonths, &rate,
		&payload, &app.ArtifactID, &app.CreatedAt, &app.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return Application{}, ErrNotFound
	}
	if err != nil {
		return Application{}, db.Wrap("load application", err)
	}

	app.State = state.Code(st)
	if app.Terms.RequestedAmount, err = decimal.NewFromString(amount); err != nil {
		return Application{}, fmt.Errorf("application: stored amount %q: %w", amount, err)
	}
	if app.Terms.AnnualRate, err = decimal.NewFromString(rate); err != nil {
		return Application{}, fmt.Errorf("application: stored rate %q: %w", rate, err)
	}
	if err := json.Unmarshal(payload, &app.Payload); err != nil {
		return Application{}, fmt.Errorf("application: stored payload: %w", err)
	}

	if app.Timeline, err = r.ListTimeline(ctx, tx, app.ID); err != nil {
		return Application{}, err
	}
	return app, nil
}

func (r *PGRepository) UpdateState(ctx context.Context, tx pgx.Tx, id string, next state.Code, at time.Time) error {
	const updateSQL = `UPDATE loan_applications SET state = $2, updated_at = $3 WHERE id = $1`

	tag, err := tx.Exec(ctx, updateSQL, id, string(next), at)
	if err != nil {
		return db.Wrap("update application state", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) UpdatePayload(ctx context.Context, tx pgx.Tx, app Application) error {
	payload, err := json.Marshal(app.Payload)
	if err != nil {
		return fmt.Errorf("application: marshal payload: %w", err)
	}

	const updateSQL = `
UPDATE loan_applications
SET requested_amount = $2::numeric,
    term_months = $3,
    annual_rate = $4::numeric,
    payload = $5::jsonb,
    updated_at = $6
WHERE id = $1;
`

	tag, err := tx.Exec(ctx, updateSQL, app.ID,
		app.Terms.RequestedAmount.String(), app.Terms.TermMonths, app.Terms.AnnualRate.String(),
		string(payload), app.UpdatedAt,
	)
	if err != nil {
		return db.Wrap("update application payload", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (r *PGRepository) SetArtifact(ctx context.Context, tx pgx.Tx, id, documentID string, at time.Time) error {
	const updateSQL = `UPDATE loan_applications SET artifact_id = $2::uuid, updated_at = $3 WHERE id = $1`

	tag, err := tx.Exec(ctx, updateSQL, id, documentID, at)
	if err != nil {
		return db.Wrap("set application artifact", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

// AppendTimeline inserts entry with its precomputed seq. A concurrent writer
// that skipped the row lock would hit the (application_id, seq) unique key.
func (r *PGRepository) AppendTimeline(ctx context.Context, tx pgx.Tx, entry TimelineEntry) (TimelineEntry, error) {
	const insertSQL = `
INSERT INTO timeline_entries (application_id, seq, state, detail, actor_id, automatic, created_at)
VALUES ($1, $2, $3, $4, $5, $6, $7)
RETURNING id;
`

	err := tx.QueryRow(ctx, insertSQL,
		entry.ApplicationID, entry.Seq, string(entry.State), entry.Detail, entry.ActorID, entry.Automatic, entry.CreatedAt,
	).Scan(&entry.ID)
	if err != nil {
		return TimelineEntry{}, db.Wrap("append timeline", err)
	}
	return entry, nil
}

func (r *PGRepository) ListTimeline(ctx context.Context, tx pgx.Tx, id string) ([]TimelineEntry, error) {
	const selectSQL = `
SELECT id, application_id::text, seq, state, detail, actor_id, automatic, created_at
FROM timeline_entries
WHERE application_id = $1
ORDER BY seq;
`

	rows, err := tx.Query(ctx, selectSQL, id)
	if err != nil {
		return nil, db.Wrap("list timeline", err)
	}
	defer rows.Close()

	var out []TimelineEntry
	for rows.Next() {
		var (
			e  TimelineEntry
			st string
		)
		if err := rows.Scan(&e.ID, &e.ApplicationID, &e.Seq, &st, &e.Detail, &e.ActorID, &e.Automatic, &e.CreatedAt); err != nil {
			return nil, db.Wrap("scan timeline", err)
		}
		e.State = state.Code(st)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, db.Wrap("list timeline", err)
	}
	return out, nil
}

func (r *PGRepository) EnqueueOutbox(ctx context.Context, tx pgx.Tx, topic string, payload map[string]any) error {
	b, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("application: marshal outbox payload: %w", err)
	}

	const insertSQL = `INSERT INTO outbox (topic, payload) VALUES ($1, $2::jsonb)`

	if _, err := tx.Exec(ctx, insertSQL, topic, string(b)); err != nil {
		return db.Wrap("enqueue outbox", err)
	}
	return nil
}
