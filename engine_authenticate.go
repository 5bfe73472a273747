package trustcore

import (
	"context"
	"errors"
	"slices"

	"github.com/MrEthical07/trustcore/jwt"
	"github.com/MrEthical07/trustcore/metrics"
	"github.com/MrEthical07/trustcore/store"
)

// Authenticate verifies an Authorization header value. Only access tokens
// are accepted, and the identity must still exist and be active. The base
// role comes from the store, not the token; an elevation grant in the token
// applies only while its own expiry marker is in the future.
func (e *Engine) Authenticate(ctx context.Context, authorizationHeader string) (p *Principal, err error) {
	ctx, done := e.startOp(ctx, "authenticate")
	defer func() {
		if err != nil {
			e.metrics.Inc(metrics.AuthenticateFailure)
		}
		done(err)
	}()

	raw, ok := jwt.ExtractBearer(authorizationHeader)
	if !ok {
		return nil, classErr(ErrTokenInvalid, ErrMissingBearer)
	}
	claims, err := e.tokens.VerifyKind(raw, jwt.KindAccess)
	if err != nil {
		return nil, tokenErr(err)
	}

	identity, err := e.loadIdentity(ctx, claims.Subject)
	if errors.Is(err, ErrIdentityNotFound) {
		return nil, classErr(ErrTokenInvalid, err)
	}
	if err != nil {
		return nil, err
	}
	if !identity.Active {
		return nil, classErr(ErrPermissionDenied, ErrIdentityInactive)
	}

	p = &Principal{
		IdentityID:    identity.ID,
		Username:      identity.Username,
		Role:          identity.Role,
		EffectiveRole: identity.Role,
		TokenID:       claims.ID,
	}
	if claims.ExpiresAt != nil {
		p.ExpiresAt = claims.ExpiresAt.Time
	}
	if claims.Elevation.Active(e.clock.Now()) {
		if role := store.Role(claims.Elevation.Role); role.Valid() {
			until := claims.Elevation.Until.Time
			p.EffectiveRole = role
			p.ElevatedUntil = &until
		}
	}
	return p, nil
}

// Authorize checks the principal's effective role against roles. No roles
// means any authenticated principal passes.
func (e *Engine) Authorize(p *Principal, roles ...store.Role) error {
	if p == nil {
		return classErr(ErrTokenInvalid, ErrMissingBearer)
	}
	if len(roles) == 0 || slices.Contains(roles, p.EffectiveRole) {
		return nil
	}
	return ErrPermissionDenied
}
