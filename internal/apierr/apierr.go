// Package apierr maps domain failures onto HTTP responses.
package apierr

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/mind-engage/mindengage-placement/internal/exam"
)

const (
	CodeNotFound     = "not_found"
	CodeInvalidState = "invalid_state"
	CodeValidation   = "validation_failed"
	CodeBadRequest   = "bad_request"
	CodeInsufficient = "question_bank_insufficient"
	CodeInternal     = "internal"
	CodeUnauthorized = "unauthorized"
	CodeForbidden    = "forbidden"
	CodeUnavailable  = "unavailable"
)

type Error struct {
	Status  int      `json:"-"`
	Code    string   `json:"error"`
	Message string   `json:"message"`
	Details []string `json:"details,omitempty"`
	Err     error    `json:"-"`
}

func (e *Error) Error() string {
	if e.Err != nil {
		return e.Code + ": " + e.Err.Error()
	}
	return e.Code + ": " + e.Message
}

func (e *Error) Unwrap() error { return e.Err }

func New(status int, code, msg string) *Error {
	return &Error{Status: status, Code: code, Message: msg}
}

// From classifies err. Server-side faults get an opaque message.
func From(err error) *Error {
	var ae *Error
	if errors.As(err, &ae) {
		return ae
	}
	var ve *exam.ValidationError
	switch {
	case errors.As(err, &ve):
		return &Error{Status: http.StatusBadRequest, Code: CodeValidation, Message: "validation failed", Details: ve.Problems, Err: err}
	case errors.Is(err, exam.ErrValidation):
		return &Error{Status: http.StatusBadRequest, Code: CodeValidation, Message: err.Error(), Err: err}
	case errors.Is(err, exam.ErrNotFound):
		return &Error{Status: http.StatusNotFound, Code: CodeNotFound, Message: err.Error(), Err: err}
	case errors.Is(err, exam.ErrConflict):
		return &Error{Status: http.StatusConflict, Code: CodeInvalidState, Message: err.Error(), Err: err}
	case errors.Is(err, exam.ErrDataSufficiency):
		return &Error{Status: http.StatusServiceUnavailable, Code: CodeInsufficient, Message: "question bank cannot serve this request", Err: err}
	}
	return &Error{Status: http.StatusInternalServerError, Code: CodeInternal, Message: "internal error", Err: err}
}

// Write renders err as JSON and returns the mapped error for logging.
func Write(w http.ResponseWriter, err error) *Error {
	ae := From(err)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(ae.Status)
	_ = json.NewEncoder(w).Encode(ae)
	return ae
}
