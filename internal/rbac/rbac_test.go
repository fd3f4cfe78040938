package rbac

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestCheckerDefaults(t *testing.T) {
	c := NewChecker(nil)
	assert.True(t, c.Has("student", "assessment:take"))
	assert.False(t, c.Has("student", "bank:import"))
	assert.True(t, c.Has("teacher", "bank:import"))
	assert.True(t, c.Has("teacher", "calibration:run"))
	assert.False(t, c.Has("teacher", "assessment:take"))
	assert.True(t, c.Has("admin", "anything:at-all"))
	assert.False(t, c.Has("ghost", "assessment:view"))
	assert.True(t, c.Any("student", "bank:read", "assessment:view"))
}

func TestRequire(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := Require("bank:write")(ok)

	for role, want := range map[string]int{"teacher": 204, "student": 403, "": 403} {
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req = req.WithContext(WithRole(req.Context(), role))
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		assert.Equal(t, want, rec.Code, role)
	}
}

func TestRequireOwnerOr(t *testing.T) {
	ok := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { w.WriteHeader(http.StatusNoContent) })
	h := RequireOwnerOr("assessment:history-all", func(r *http.Request) bool {
		return SubjectFromContext(r.Context()) == "7"
	})(ok)

	run := func(role, sub string) int {
		ctx := WithSubject(WithRole(context.Background(), role), sub)
		req := httptest.NewRequest(http.MethodGet, "/", nil).WithContext(ctx)
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		return rec.Code
	}
	assert.Equal(t, 204, run("student", "7"))
	assert.Equal(t, 403, run("student", "8"))
	assert.Equal(t, 204, run("teacher", "2"))
}

func TestCheckerPrefixes(t *testing.T) {
	c := NewChecker(map[string][]string{"auditor": {"calibration:view", "bank:read*"}})
	assert.True(t, c.Has("auditor", "calibration:view"))
	assert.False(t, c.Has("auditor", "calibration:run"))
	assert.True(t, c.Has("auditor", "bank:read-archive"))
	assert.False(t, c.Has("auditor", "bank:write"))
}

func TestCanReadsRoleFromContext(t *testing.T) {
	ctx := context.Background()
	assert.False(t, Can(ctx, "assessment:sessions-all"))
	assert.False(t, Can(WithRole(ctx, "student"), "assessment:sessions-all"))
	assert.True(t, Can(WithRole(ctx, "teacher"), "assessment:sessions-all"))
	assert.True(t, Can(WithRole(ctx, "admin"), "assessment:sessions-all"))
}
