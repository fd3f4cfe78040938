package logger

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRedactHidesSecrets(t *testing.T) {
	got := redact([]interface{}{"user", "ana", "password", "hunter2", "access_token", "abc", "dangling"})
	assert.Equal(t, []interface{}{"user", "ana", "password", "[REDACTED]", "access_token", "[REDACTED]", "dangling"}, got)
}

func TestOrNop(t *testing.T) {
	l := OrNop(nil)
	assert.NotNil(t, l)
	l.Info("discarded", "k", 1)
}
