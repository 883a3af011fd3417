package repomongo

import (
	"strings"

	"github.com/lemmego/repokit"
	"go.mongodb.org/mongo-driver/mongo"
)

// =====================================
// Error Conversion
// =====================================

// convertMongoError converts MongoDB driver errors to repokit errors
func convertMongoError(err error) error {
	if err == nil {
		return nil
	}

	switch err {
	case mongo.ErrNilDocument, mongo.ErrNilValue:
		return repokit.NewErrorWithCause(repokit.ErrorTypeValidation, "nil document provided", err)
	}

	if writeErr, ok := err.(mongo.WriteException); ok {
		for _, we := range writeErr.WriteErrors {
			switch we.Code {
			case 11000, 11001: // duplicate key
				return repokit.NewErrorWithCause(repokit.ErrorTypeDatabase, "duplicate key violation", err)
			case 121: // document validation failed
				return repokit.NewErrorWithCause(repokit.ErrorTypeValidation, "document validation failed", err)
			}
		}
	}

	if cmdErr, ok := err.(mongo.CommandError); ok {
		switch cmdErr.Code {
		case 11000, 11001:
			return repokit.NewErrorWithCause(repokit.ErrorTypeDatabase, "duplicate key violation", err)
		case 13, 18: // unauthorized / authentication failed
			return repokit.NewErrorWithCause(repokit.ErrorTypeConnection, "authentication failed", err)
		}
	}

	errStr := strings.ToLower(err.Error())
	if strings.Contains(errStr, "timeout") || strings.Contains(errStr, "deadline exceeded") {
		return repokit.NewErrorWithCause(repokit.ErrorTypeTimeout, "operation timeout", err)
	}
	if strings.Contains(errStr, "connection") || strings.Contains(errStr, "network") {
		return repokit.NewErrorWithCause(repokit.ErrorTypeConnection, "connection error", err)
	}

	return repokit.NewErrorWithCause(repokit.ErrorTypeDatabase, "database operation failed", err)
}
