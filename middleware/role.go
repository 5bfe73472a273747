package middleware

import (
	"net/http"
	"slices"

	"github.com/MrEthical07/trustcore/store"
)

// RequireRole admits principals whose effective role is one of roles. It
// must run after Guard.
func RequireRole(roles ...store.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			p, ok := PrincipalFromContext(r.Context())
			if !ok {
				writeError(w, http.StatusUnauthorized, "authentication failed")
				return
			}
			if len(roles) > 0 && !slices.Contains(roles, p.EffectiveRole) {
				writeError(w, http.StatusForbidden, "insufficient permissions")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
