package exam

import (
	"errors"
	"strings"
)

var (
	ErrNotFound = errors.New("not found")
	// ErrConflict marks an invalid state transition: a closed session, a second open
	// session, or a response racing another for the same sequence number.
	ErrConflict      = errors.New("invalid state transition")
	ErrSessionClosed = &closedError{}
	// ErrDataSufficiency means the question bank cannot serve a selection.
	ErrDataSufficiency = errors.New("question bank insufficient")
	ErrValidation      = errors.New("validation failed")
)

type closedError struct{}

func (*closedError) Error() string        { return "session closed" }
func (*closedError) Is(target error) bool { return target == ErrConflict }

// ValidationError carries every problem found, not just the first.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "validation failed: " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Is(target error) bool { return target == ErrValidation }

func NewValidationError(problems ...string) *ValidationError {
	return &ValidationError{Problems: problems}
}
