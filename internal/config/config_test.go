package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFromEnvDefaults(t *testing.T) {
	for _, k := range []string{"MODE", "HTTP_ADDR", "LOG_MODE", "DB_DRIVER", "SESSION_QUOTA", "CALIBRATION_WORKERS", "TOKEN_TTL", "CORS_ORIGINS", "TRACE_STDOUT"} {
		t.Setenv(k, "")
	}
	c := FromEnv()
	assert.Equal(t, ModeOffline, c.Mode)
	assert.Equal(t, ":8080", c.HTTPAddr)
	assert.Equal(t, "dev", c.LogMode)
	assert.Equal(t, "sqlite", c.DBDriver)
	assert.Equal(t, 10, c.SessionQuota)
	assert.Equal(t, 4, c.CalibrationWorkers)
	assert.Equal(t, 8*time.Hour, c.TokenTTL)
	assert.False(t, c.TraceStdout)
	assert.Equal(t, []string{"http://localhost:3000", "http://localhost:5173"}, c.CORSOrigins)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("MODE", "online")
	t.Setenv("LOG_MODE", "")
	t.Setenv("SESSION_QUOTA", "12")
	t.Setenv("CALIBRATION_WORKERS", "-3")
	t.Setenv("TOKEN_TTL", "30m")
	t.Setenv("CORS_ORIGINS", " https://a.example , ,https://b.example")
	t.Setenv("TRACE_STDOUT", "yes")

	c := FromEnv()
	assert.Equal(t, ModeOnline, c.Mode)
	assert.Equal(t, "prod", c.LogMode)
	assert.Equal(t, 12, c.SessionQuota)
	assert.Equal(t, 4, c.CalibrationWorkers)
	assert.Equal(t, 30*time.Minute, c.TokenTTL)
	assert.Equal(t, []string{"https://a.example", "https://b.example"}, c.CORSOrigins)
	assert.True(t, c.TraceStdout)
}

func TestLoadReadsDotEnv(t *testing.T) {
	path := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(path, []byte("SESSION_QUOTA=7\nHTTP_ADDR=:9999\n"), 0o600))
	t.Setenv("SESSION_QUOTA", "")
	t.Setenv("HTTP_ADDR", ":7000")
	// godotenv does not override variables that are already set, even when empty
	require.NoError(t, os.Unsetenv("SESSION_QUOTA"))

	c := Load(path)
	assert.Equal(t, 7, c.SessionQuota)
	assert.Equal(t, ":7000", c.HTTPAddr)
}
