package repobun

import (
	"database/sql"
	"strings"

	"github.com/lemmego/repokit"
)

// =====================================
// Error Conversion
// =====================================

// convertBunError converts driver errors to repokit errors
func convertBunError(err error) error {
	if err == nil {
		return nil
	}

	errStr := strings.ToLower(err.Error())
	switch {
	case err == sql.ErrNoRows:
		return repokit.NewErrorWithCause(repokit.ErrorTypeNotFound, "record not found", err)
	case strings.Contains(errStr, "duplicate") || strings.Contains(errStr, "unique"):
		return repokit.NewErrorWithCause(repokit.ErrorTypeDatabase, "duplicate key violation", err)
	case strings.Contains(errStr, "foreign key") || strings.Contains(errStr, "constraint"):
		return repokit.NewErrorWithCause(repokit.ErrorTypeDatabase, "constraint violation", err)
	case strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded"):
		return repokit.NewErrorWithCause(repokit.ErrorTypeTimeout, "operation timeout", err)
	case strings.Contains(errStr, "connection"):
		return repokit.NewErrorWithCause(repokit.ErrorTypeConnection, "connection error", err)
	default:
		return repokit.NewErrorWithCause(repokit.ErrorTypeDatabase, "database operation failed", err)
	}
}
