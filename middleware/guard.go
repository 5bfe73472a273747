package middleware

import (
	"context"
	"encoding/json"
	"errors"
	"net"
	"net/http"

	"github.com/MrEthical07/trustcore"
)

// Authenticator is the part of *trustcore.Engine the guard needs.
type Authenticator interface {
	Authenticate(ctx context.Context, authorizationHeader string) (*trustcore.Principal, error)
}

type principalContextKey struct{}

// PrincipalFromContext returns the principal stored by Guard.
func PrincipalFromContext(ctx context.Context) (*trustcore.Principal, bool) {
	p, ok := ctx.Value(principalContextKey{}).(*trustcore.Principal)
	return p, ok && p != nil
}

// WithPrincipal stores p in ctx. Guard calls it; tests may too.
func WithPrincipal(ctx context.Context, p *trustcore.Principal) context.Context {
	return context.WithValue(ctx, principalContextKey{}, p)
}

// Guard authenticates the Authorization header and stores the principal in
// the request context. Rejections never reveal which check failed.
func Guard(auth Authenticator) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if auth == nil {
				writeError(w, http.StatusUnauthorized, "authentication failed")
				return
			}

			ctx := WithOrigin(r)
			p, err := auth.Authenticate(ctx, r.Header.Get("Authorization"))
			if err != nil {
				writeError(w, StatusFor(err), trustcore.PublicMessage(err))
				return
			}

			next.ServeHTTP(w, r.WithContext(WithPrincipal(ctx, p)))
		})
	}
}

// WithOrigin returns the request context carrying the client address and
// User-Agent, so sessions and audit events record them.
func WithOrigin(r *http.Request) context.Context {
	ctx := r.Context()
	host := r.RemoteAddr
	if h, _, err := net.SplitHostPort(r.RemoteAddr); err == nil {
		host = h
	}
	if host != "" {
		ctx = trustcore.WithClientIP(ctx, host)
	}
	if ua := r.UserAgent(); ua != "" {
		ctx = trustcore.WithUserAgent(ctx, ua)
	}
	return ctx
}

// StatusFor maps an engine error onto an HTTP status.
func StatusFor(err error) int {
	switch {
	case err == nil:
		return http.StatusOK
	case errors.Is(err, trustcore.ErrInputRejected):
		return http.StatusBadRequest
	case errors.Is(err, trustcore.ErrAccountLocked):
		return http.StatusLocked
	case errors.Is(err, trustcore.ErrPermissionDenied):
		return http.StatusForbidden
	case errors.Is(err, trustcore.ErrIdentityExists), errors.Is(err, trustcore.ErrAlreadyInState):
		return http.StatusConflict
	case errors.Is(err, trustcore.ErrCredentialsInvalid),
		errors.Is(err, trustcore.ErrTokenInvalid),
		errors.Is(err, trustcore.ErrTokenExpired),
		errors.Is(err, trustcore.ErrTokenWrongType),
		errors.Is(err, trustcore.ErrSessionInvalid),
		errors.Is(err, trustcore.ErrMFAInvalid):
		return http.StatusUnauthorized
	case errors.Is(err, trustcore.ErrIdentityNotFound):
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(map[string]string{"error": msg})
}
