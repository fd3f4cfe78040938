package rbac

import (
	"context"
	"net/http"

	"github.com/mind-engage/mindengage-placement/internal/apierr"
)

var defaultChecker = NewChecker(nil)

// guard wraps next so it only runs when allow holds for the request.
func guard(allow func(r *http.Request, role string) bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if !allow(r, RoleFromContext(r.Context())) {
				apierr.Write(w, apierr.New(http.StatusForbidden, apierr.CodeForbidden, "forbidden"))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// Can reports whether the role in ctx holds perm under the default policy.
func Can(ctx context.Context, perm string) bool {
	role := RoleFromContext(ctx)
	return role != "" && defaultChecker.Has(role, perm)
}

func Require(perm string) func(http.Handler) http.Handler {
	return guard(func(_ *http.Request, role string) bool {
		return role != "" && defaultChecker.Has(role, perm)
	})
}

// RequireAny passes when the role holds at least one of perms.
func RequireAny(perms ...string) func(http.Handler) http.Handler {
	return guard(func(_ *http.Request, role string) bool {
		return role != "" && defaultChecker.Any(role, perms...)
	})
}

// RequireOwnerOr passes when isOwner holds or the role has perm.
func RequireOwnerOr(perm string, isOwner func(r *http.Request) bool) func(http.Handler) http.Handler {
	return guard(func(r *http.Request, role string) bool {
		return isOwner(r) || (role != "" && defaultChecker.Has(role, perm))
	})
}
