// pkg/destination/errors.go
package destination

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgconn"
	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
)

var (
	// ErrUniqueViolation is a duplicate key on insert
	ErrUniqueViolation = errors.New("unique constraint violation")
	// ErrForeignKeyViolation is a reference to a row that does not exist
	ErrForeignKeyViolation = errors.New("foreign key violation")
	// ErrValidation is a NOT NULL, CHECK or data format rejection
	ErrValidation = errors.New("destination validation error")
)

// PostgreSQL SQLSTATE codes
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
	pgNotNullViolation    = "23502"
	pgCheckViolation      = "23514"
	pgDataExceptionClass  = "22"
)

// Classify wraps a driver error with the matching sentinel so callers can use
// errors.Is regardless of driver. Unrecognized errors are returned unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	if sentinel := sentinelFor(err); sentinel != nil {
		return fmt.Errorf("%w: %v", sentinel, err)
	}
	return err
}

func sentinelFor(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return fromSQLState(pgErr.Code)
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return fromSQLState(string(pqErr.Code))
	}

	var liteErr sqlite3.Error
	if errors.As(err, &liteErr) {
		switch liteErr.ExtendedCode {
		case sqlite3.ErrConstraintUnique, sqlite3.ErrConstraintPrimaryKey:
			return ErrUniqueViolation
		case sqlite3.ErrConstraintForeignKey:
			return ErrForeignKeyViolation
		case sqlite3.ErrConstraintNotNull, sqlite3.ErrConstraintCheck:
			return ErrValidation
		}
	}
	return nil
}

func fromSQLState(code string) error {
	switch {
	case code == pgUniqueViolation:
		return ErrUniqueViolation
	case code == pgForeignKeyViolation:
		return ErrForeignKeyViolation
	case code == pgNotNullViolation, code == pgCheckViolation:
		return ErrValidation
	case strings.HasPrefix(code, pgDataExceptionClass):
		return ErrValidation
	}
	return nil
}
