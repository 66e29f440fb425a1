package postgres

import (
	"github.com/cockroachdb/errors"
	"github.com/lib/pq"
)

// Postgres error code for unique_violation
const uniqueViolationCode = "23505"

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		return string(pqErr.Code) == uniqueViolationCode
	}
	return false
}
