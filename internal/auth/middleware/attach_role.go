package auth

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/mind-engage/mindengage-placement/internal/apierr"
	"github.com/mind-engage/mindengage-placement/internal/exam"
	"github.com/mind-engage/mindengage-placement/internal/rbac"
)

// AttachRoleFromDB replaces the token role with the stored one, so role changes
// apply before tokens expire. allowClaimFallback keeps the claim for unknown
// users; the configured admin always keeps its claim.
func AttachRoleFromDB(users UserStore, allowClaimFallback bool) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ctx := r.Context()
			claimRole := rbac.RoleFromContext(ctx)

			id, perr := strconv.ParseInt(rbac.SubjectFromContext(ctx), 10, 64)
			if perr != nil {
				if claimRole == "admin" || (allowClaimFallback && claimRole != "") {
					next.ServeHTTP(w, r)
					return
				}
				apierr.Write(w, apierr.New(http.StatusForbidden, apierr.CodeForbidden, "forbidden"))
				return
			}

			role, err := users.RoleOf(ctx, id)
			switch {
			case err == nil && role != "":
				next.ServeHTTP(w, r.WithContext(rbac.WithRole(ctx, role)))
			case errors.Is(err, exam.ErrNotFound) && allowClaimFallback && claimRole != "":
				next.ServeHTTP(w, r)
			case err != nil && !errors.Is(err, exam.ErrNotFound):
				apierr.Write(w, err)
			default:
				apierr.Write(w, apierr.New(http.StatusForbidden, apierr.CodeForbidden, "forbidden"))
			}
		})
	}
}
