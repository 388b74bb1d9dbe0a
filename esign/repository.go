package esign

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"creditflow/db"
)

// ErrDuplicateIdempotencyKey signals the event was already processed.
var ErrDuplicateIdempotencyKey = errors.New("esign: duplicate idempotency key")

type Repository struct{}

func NewRepository() *Repository {
	return &Repository{}
}

// InsertIdempotencyKey reserves key inside the active transaction.
func (r *Repository) InsertIdempotencyKey(ctx context.Context, tx pgx.Tx, key string) error {
	if key == "" {
		return fmt.Errorf("esign: empty idempotency key")
	}

	_, err := tx.Exec(ctx, `INSERT INTO idempotency (key) VALUES ($1)`, key)
	if err != nil {
		if db.IsUniqueViolation(err) {
			return ErrDuplicateIdempotencyKey
		}
		return db.Wrap("insert idempotency key", err)
	}
	return nil
}
