package apierr

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mind-engage/mindengage-placement/internal/exam"
)

func TestFrom(t *testing.T) {
	cases := []struct {
		err    error
		status int
		code   string
	}{
		{fmt.Errorf("session 4: %w", exam.ErrNotFound), 404, CodeNotFound},
		{fmt.Errorf("x: %w", exam.ErrSessionClosed), 409, CodeInvalidState},
		{exam.ErrConflict, 409, CodeInvalidState},
		{exam.NewValidationError("a", "b"), 400, CodeValidation},
		{fmt.Errorf("level B1: %w", exam.ErrDataSufficiency), 503, CodeInsufficient},
		{errors.New("pq: connection refused"), 500, CodeInternal},
		{New(http.StatusUnauthorized, CodeUnauthorized, "missing bearer"), 401, CodeUnauthorized},
	}
	for _, tc := range cases {
		ae := From(tc.err)
		assert.Equal(t, tc.status, ae.Status, tc.err.Error())
		assert.Equal(t, tc.code, ae.Code, tc.err.Error())
	}
}

func TestWriteHidesInternals(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, errors.New("dial tcp 10.0.0.3:5432: secret host"))
	assert.Equal(t, 500, rec.Code)
	assert.NotContains(t, rec.Body.String(), "10.0.0.3")

	rec = httptest.NewRecorder()
	Write(rec, fmt.Errorf("level C2: %w", exam.ErrDataSufficiency))
	assert.NotContains(t, rec.Body.String(), "C2")
}

func TestWriteValidationDetails(t *testing.T) {
	rec := httptest.NewRecorder()
	Write(rec, exam.NewValidationError("Question text is required", "At least 2 options required"))
	require.Equal(t, 400, rec.Code)
	var body struct {
		Error   string   `json:"error"`
		Details []string `json:"details"`
	}
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	assert.Equal(t, CodeValidation, body.Error)
	assert.Equal(t, []string{"Question text is required", "At least 2 options required"}, body.Details)
	assert.Equal(t, "application/json", rec.Header().Get("Content-Type"))
}
