package repository

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

const uniqueViolation = "23505"

// PGErrorCode returns the SQLSTATE of a postgres error, or "unknown".
func PGErrorCode(err error) string {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code
	}
	return "unknown"
}

func isUniqueViolation(err error) bool {
	return err != nil && PGErrorCode(err) == uniqueViolation
}
