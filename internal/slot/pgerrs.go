package slot

import (
	"errors"

	"github.com/jackc/pgx/v5/pgconn"
)

// Postgres error codes that mean "another transaction got there first".
const (
	codeUniqueViolation     = "23505"
	codeSerializationFail   = "40001"
	codeDeadlockDetected    = "40P01"
	codeLockNotAvailable    = "55P03"
	codeQueryCanceledByStmt = "57014" // statement_timeout while waiting on a lock
)

// IsConflictError reports whether err is a store-level outcome of losing a
// race: a unique-constraint violation on the slot table, a serialization
// failure, a deadlock, or a lock timeout. Callers on interactive paths
// convert these to a conflict result rather than a server error, since the
// caller can simply resubmit.
func IsConflictError(err error) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	switch pgErr.Code {
	case codeUniqueViolation, codeSerializationFail, codeDeadlockDetected,
		codeLockNotAvailable, codeQueryCanceledByStmt:
		return true
	}
	return false
}
