package db

import (
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5/pgconn"
)

// UniqueViolation is the SQLSTATE postgres reports for duplicate keys.
const UniqueViolation = "23505"

// StorageError marks a failure of the durable store, as opposed to a
// rejected request. Callers log these; validation errors are not wrapped.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return fmt.Sprintf("storage: %s: %v", e.Op, e.Err)
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Wrap returns nil for a nil err, otherwise a *StorageError for op.
func Wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	var se *StorageError
	if errors.As(err, &se) {
		return err
	}
	return &StorageError{Op: op, Err: err}
}

// IsStorage reports whether err came from the durable store.
func IsStorage(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}

// IsUniqueViolation reports whether err is a postgres duplicate-key error.
func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == UniqueViolation
}
