package storage

import (
	"database/sql"
	"database/sql/driver"
	"errors"
	"fmt"
	"strings"

	"github.com/lib/pq"

	"github.com/labscreen/screenresults/internal/apperrors"
)

// PostgreSQL error codes the store reacts to.
const (
	codeUniqueViolation      = "23505"
	codeSerializationFailure = "40001"
	codeDeadlockDetected     = "40P01"
	codeLockNotAvailable     = "55P03"
	classConnectionException = "08"
)

// classify maps driver errors onto the shared error taxonomy. Unique violations become
// apperrors.ErrConcurrentPopulation; serialization failures, deadlocks, lock timeouts and
// lost connections become apperrors.ErrTransactionFailure. Anything else is returned as is.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		code := string(pqErr.Code)

		switch {
		case code == codeUniqueViolation:
			return fmt.Errorf("%w: %s", apperrors.ErrConcurrentPopulation, pqErr.Message)
		case code == codeSerializationFailure, code == codeDeadlockDetected, code == codeLockNotAvailable,
			strings.HasPrefix(code, classConnectionException):
			return fmt.Errorf("%w: %w", apperrors.ErrTransactionFailure, err)
		}

		return err
	}

	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, driver.ErrBadConn) {
		return fmt.Errorf("%w: %w", apperrors.ErrTransactionFailure, err)
	}

	return err
}
