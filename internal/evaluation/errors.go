package evaluation

import (
	"errors"
	"fmt"
)

var (
	ErrNotPanelMember   = errors.New("rater is not a member of the board panel")
	ErrSessionNotFound  = errors.New("evaluation session not found")
	ErrSessionExists    = errors.New("evaluation session already exists")
	ErrSessionFinalized = errors.New("evaluation session is finalized")
	ErrSubmissionClosed = errors.New("session is closed for submissions")
	ErrReviewNotOpen    = errors.New("session is not awaiting admin review")
	ErrVersionConflict  = errors.New("session was modified concurrently")
)

// ValidationError reports a rejected field. The request is never partially
// applied: validation runs before any mutation.
type ValidationError struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

func fieldErr(field, format string, args ...interface{}) *ValidationError {
	return &ValidationError{Field: field, Reason: fmt.Sprintf(format, args...)}
}
