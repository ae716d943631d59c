package store

// Store defines the interface for session result persistence.
// Implementations must be thread-safe and handle concurrent access gracefully.
//
// Error handling conventions:
//   - Return nil error on success
//   - Return ErrNotFound if the result doesn't exist (for Load/Delete)
//   - Wrap underlying errors with context using fmt.Errorf("context: %w", err)
type Store interface {
	// SaveResult atomically saves the final result of a session.
	// An existing result for the same session is overwritten.
	SaveResult(result *Result) error

	// LoadResult retrieves the result of the given session.
	// Returns ErrNotFound if no result exists for this sessionID.
	LoadResult(sessionID string) (*Result, error)

	// ListResults returns metadata for all stored results.
	// The returned slice may be empty.
	ListResults() ([]ResultInfo, error)

	// DeleteResult removes the result and its snapshot trace.
	// Returns ErrNotFound if nothing is stored for this sessionID.
	DeleteResult(sessionID string) error
}

// ErrNotFound is returned when a requested result does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing result.
type NotFoundError struct {
	SessionID string
}

func (e *NotFoundError) Error() string {
	if e.SessionID != "" {
		return "result not found: " + e.SessionID
	}
	return "result not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
