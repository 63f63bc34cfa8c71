package persistence

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"

	"ordersight/core/domain"
	"ordersight/pkg/apperr"
)

const (
	pgUniqueViolation      = "23505"
	pgSerializationFailure = "40001"
	pgDeadlockDetected     = "40P01"
)

// wrapDBError maps driver errors onto the shared taxonomy. sql.ErrNoRows is
// handled by callers, since "absent" is usually a normal answer here.
func wrapDBError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return apperr.Duplicate(op, pgErr.ConstraintName)
		case pgSerializationFailure, pgDeadlockDetected:
			return apperr.Conflict(op)
		}
	}
	return apperr.DatabaseError(op, err)
}

func apperrInvalidTransition(from, to domain.MessageStatus) error {
	return apperr.InvalidState(string(from), string(to))
}

