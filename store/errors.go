package store

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

var (
	ErrNotFound             = errors.New("record not found")
	ErrDuplicateContent     = errors.New("document with the same content hash already exists")
	ErrDuplicateCorrelation = errors.New("document with the same correlation id already exists")
	ErrInvalidTransition    = errors.New("invalid index status transition")
)

const uniqueViolation = "23505"

// mapUniqueViolation turns a unique-constraint failure on documents into the
// matching sentinel error.
func mapUniqueViolation(err error) error {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) || pgErr.Code != uniqueViolation {
		return err
	}
	switch pgErr.ConstraintName {
	case "documents_content_hash_key":
		return ErrDuplicateContent
	case "documents_correlation_id_key":
		return ErrDuplicateCorrelation
	}
	return err
}
