package signature

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"creditflow/db"
)

// ErrNotFound is returned when no artifact exists for a document id.
var ErrNotFound = errors.New("signature: artifact not found")

// Record is an artifact as persisted, with the signers needed to complete it.
type Record struct {
	DocumentID      string
	ApplicationID   string
	RequiredSigners []string
	Artifact        Artifact
}

// Complete reports whether every required signer has an entry.
func (r Record) Complete() bool {
	if len(r.RequiredSigners) == 0 {
		return false
	}
	for _, id := range r.RequiredSigners {
		if !r.Artifact.Has(id) {
			return false
		}
	}
	return true
}

// Pending lists required signers without an entry.
func (r Record) Pending() []string {
	var out []string
	for _, id := range r.RequiredSigners {
		if !r.Artifact.Has(id) {
			out = append(out, id)
		}
	}
	return out
}

// Store persists artifacts. Every method runs on the caller's transaction.
type Store interface {
	Insert(ctx context.Context, tx pgx.Tx, rec Record) error
	Get(ctx context.Context, tx pgx.Tx, documentID string) (Record, error)
	LoadForUpdate(ctx context.Context, tx pgx.Tx, documentID string) (Record, error)
	Save(ctx context.Context, tx pgx.Tx, rec Record) error
}

type PGStore struct {
	loc *time.Location
}

func NewPGStore(loc *time.Location) *PGStore {
	if loc == nil {
		loc = time.UTC
	}
	return &PGStore{loc: loc}
}

func (s *PGStore) Insert(ctx context.Context, tx pgx.Tx, rec Record) error {
	xml, err := rec.Artifact.Marshal()
	if err != nil {
		return err
	}

	const insertSQL = `
INSERT INTO signature_artifacts (document_id, application_id, required_signers, xml, node_count, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $6);
`

	required := rec.RequiredSigners
	if required == nil {
		required = []string{}
	}
	if _, err := tx.Exec(ctx, insertSQL, rec.DocumentID, rec.ApplicationID, required, string(xml), rec.Artifact.NodeCount(), rec.Artifact.CreatedAt); err != nil {
		if db.IsUniqueViolation(err) {
			return fmt.Errorf("signature: artifact %s already exists", rec.DocumentID)
		}
		return db.Wrap("insert signature artifact", err)
	}
	return nil
}

// LoadForUpdate reads the artifact and holds its row lock until tx ends.
func (s *PGStore) LoadForUpdate(ctx context.Context, tx pgx.Tx, documentID string) (Record, error) {
	return s.load(ctx, tx, documentID, true)
}

// Get reads the artifact without locking.
func (s *PGStore) Get(ctx context.Context, tx pgx.Tx, documentID string) (Record, error) {
	return s.load(ctx, tx, documentID, false)
}

func (s *PGStore) load(ctx context.Context, tx pgx.Tx, documentID string, forUpdate bool) (Record, error) {
	selectSQL := `SELECT document_id::text, application_id::text, required_signers, xml, node_count FROM signature_artifacts WHERE document_id = $1`
	if forUpdate {
		selectSQL += ` FOR UPDATE`
	}

	var (
		rec       Record
		xml       string
		nodeCount int
	)
	err := tx.QueryRow(ctx, selectSQL, documentID).Scan(&rec.DocumentID, &rec.ApplicationID, &rec.RequiredSigners, &xml, &nodeCount)
	if errors.Is(err, pgx.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, db.Wrap("load signature artifact", err)
	}

	a, err := ParseArtifact([]byte(xml), s.loc)
	if err != nil {
		return Record{}, fmt.Errorf("signature: stored artifact %s: %w", documentID, err)
	}
	if a.NodeCount() != nodeCount {
		return Record{}, fmt.Errorf("signature: stored artifact %s: node_count column %d, document %d", documentID, nodeCount, a.NodeCount())
	}
	rec.Artifact = a
	return rec, nil
}

func (s *PGStore) Save(ctx context.Context, tx pgx.Tx, rec Record) error {
	xml, err := rec.Artifact.Marshal()
	if err != nil {
		return err
	}

	const updateSQL = `
UPDATE signature_artifacts
SET xml = $2,
    node_count = $3,
    updated_at = $4
WHERE document_id = $1;
`

	tag, err := tx.Exec(ctx, updateSQL, rec.DocumentID, string(xml), rec.Artifact.NodeCount(), rec.Artifact.UpdatedAt)
	if err != nil {
		return db.Wrap("save signature artifact", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}
