package trustcore

import (
	"context"
	"errors"
	"strings"

	"github.com/MrEthical07/trustcore/audit"
	"github.com/MrEthical07/trustcore/jwt"
	"github.com/MrEthical07/trustcore/metrics"
	"github.com/MrEthical07/trustcore/session"
)

// Refresh exchanges a refresh token for a new access token. The token's
// signature and kind are checked first, then its session, then the owning
// identity. The refresh token is not rotated.
func (e *Engine) Refresh(ctx context.Context, refreshToken string) (res *RefreshResult, err error) {
	ctx, done := e.startOp(ctx, "refresh")
	defer func() { done(err) }()

	out, err := e.sessions.Refresh(ctx, strings.TrimSpace(refreshToken))
	if err != nil {
		mapped := refreshErr(err)
		if !errors.Is(mapped, ErrInternal) {
			e.metrics.Inc(metrics.RefreshFailure)
			e.record(ctx, audit.Event{
				Action:  audit.ActionTokenRefresh,
				Status:  audit.StatusFailure,
				Details: map[string]any{"reason": refreshFailureReason(err)},
			})
		}
		return nil, mapped
	}

	e.metrics.Inc(metrics.RefreshSuccess)
	e.record(ctx, audit.Event{
		IdentityID: out.Identity.ID,
		Action:     audit.ActionTokenRefresh,
		Status:     audit.StatusSuccess,
		Details:    map[string]any{"session_id": out.Session.ID},
	})
	return &RefreshResult{
		AccessToken:     out.Access.Value,
		AccessExpiresAt: out.Access.ExpiresAt,
	}, nil
}

func refreshFailureReason(err error) string {
	switch {
	case errors.Is(err, jwt.ErrExpired):
		return "token-expired"
	case errors.Is(err, jwt.ErrWrongType):
		return "wrong-token-type"
	case errors.Is(err, session.ErrNotFound):
		return "session-not-found"
	case errors.Is(err, session.ErrRevoked):
		return "session-revoked"
	case errors.Is(err, session.ErrExpired):
		return "session-expired"
	case errors.Is(err, session.ErrIdentityInactive):
		return "identity-inactive"
	default:
		return "token-invalid"
	}
}

// Logout revokes the session behind refreshToken when identityID owns it.
// An empty or unknown token still logs the logout; the access token simply
// runs out.
func (e *Engine) Logout(ctx context.Context, identityID, refreshToken string) (err error) {
	ctx, done := e.startOp(ctx, "logout")
	defer func() { done(err) }()

	var revoked bool
	if token := strings.TrimSpace(refreshToken); token != "" {
		revoked, err = e.sessions.Revoke(ctx, identityID, session.HashToken(token))
		if err != nil {
			return internalErr("revoke session", err)
		}
	}

	e.metrics.Inc(metrics.Logout)
	e.record(ctx, audit.Event{
		IdentityID: identityID,
		Action:     audit.ActionLogout,
		Status:     audit.StatusSuccess,
		Details:    map[string]any{"session_revoked": revoked},
	})
	return nil
}
