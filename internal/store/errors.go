// File path: internal/store/errors.go
package store

import (
	"database/sql"
	"errors"
	"strings"
)

// Error taxonomy shared by the ingestion and query layers.
var (
	// ErrNotReady marks data that has not become visible after a bulk
	// commit. Callers retry; it is never surfaced as a fatal failure.
	ErrNotReady = errors.New("store: data not ready")
	// ErrNotFound marks an entity that is genuinely absent after all
	// fallbacks were exhausted.
	ErrNotFound = errors.New("store: not found")
	// ErrCancelled is returned when ingestion observes the shared cancel
	// flag between batches.
	ErrCancelled = errors.New("store: ingestion cancelled")
	// ErrConstraint marks a duplicate-key violation during bulk insert.
	ErrConstraint = errors.New("store: constraint violation")
	// ErrStoreUnavailable marks a handle that was closed concurrently.
	ErrStoreUnavailable = errors.New("store: handle unavailable")
)

// IsConstraint reports whether err stems from a SQLite uniqueness or
// primary-key violation.
func IsConstraint(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrConstraint) {
		return true
	}
	msg := err.Error()
	return strings.Contains(msg, "UNIQUE constraint failed") ||
		strings.Contains(msg, "constraint failed")
}

// isClosed reports whether err indicates the underlying handle was closed
// out from under the caller, which the store heals by reopening once.
func isClosed(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, sql.ErrConnDone) || errors.Is(err, ErrStoreUnavailable) {
		return true
	}
	return strings.Contains(err.Error(), "database is closed")
}
