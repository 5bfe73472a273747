package session

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/trustcore/clock"
	"github.com/MrEthical07/trustcore/jwt"
	"github.com/MrEthical07/trustcore/store"
	"github.com/google/uuid"
)

var (
	ErrNotFound         = errors.New("session not found")
	ErrRevoked          = errors.New("session revoked")
	ErrExpired          = errors.New("session expired")
	ErrIdentityInactive = errors.New("identity inactive")
)

// TokenService is the slice of the token manager the registry needs.
type TokenService interface {
	VerifyKind(token string, kind jwt.Kind) (*jwt.Claims, error)
	Issue(sub jwt.Subject, kind jwt.Kind) (jwt.Token, error)
}

// IdentityReader resolves identities for the refresh protocol.
type IdentityReader interface {
	FindByID(ctx context.Context, id string) (*store.Identity, error)
}

// Registry tracks issued refresh tokens.
type Registry struct {
	sessions   store.SessionStore
	identities IdentityReader
	tokens     TokenService
	clock      clock.Clock
}

func NewRegistry(sessions store.SessionStore, identities IdentityReader, tokens TokenService, clk clock.Clock) *Registry {
	return &Registry{
		sessions:   sessions,
		identities: identities,
		tokens:     tokens,
		clock:      clock.OrSystem(clk),
	}
}

// HashToken is the hex SHA-256 digest under which a refresh token is stored.
func HashToken(raw string) string {
	sum := sha256.Sum256([]byte(raw))
	return hex.EncodeToString(sum[:])
}

// IsValid reports !s.Revoked && now < s.ExpiresAt.
func IsValid(s *store.Session, now time.Time) bool {
	return s != nil && !s.Revoked && now.Before(s.ExpiresAt)
}

// Create registers refreshToken for identityID for ttl.
func (r *Registry) Create(ctx context.Context, identityID, refreshToken string, origin store.Origin, ttl time.Duration) (*store.Session, error) {
	if ttl <= 0 {
		return nil, errors.New("session: ttl must be > 0")
	}
	now := r.clock.Now()
	sess := &store.Session{
		ID:         uuid.NewString(),
		IdentityID: identityID,
		TokenHash:  HashToken(refreshToken),
		Origin:     origin,
		ExpiresAt:  now.Add(ttl),
		CreatedAt:  now,
	}
	if err := r.sessions.CreateSession(ctx, sess); err != nil {
		return nil, fmt.Errorf("session: create: %w", err)
	}
	return sess, nil
}

// Resolve loads the session for tokenHash and checks it is valid now.
func (r *Registry) Resolve(ctx context.Context, tokenHash string) (*store.Session, error) {
	sess, err := r.sessions.FindSessionByTokenHash(ctx, tokenHash)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("session: lookup: %w", err)
	}
	switch {
	case sess.Revoked:
		return sess, ErrRevoked
	case !r.clock.Now().Before(sess.ExpiresAt):
		return sess, ErrExpired
	}
	return sess, nil
}

// Revoke marks the session of tokenHash revoked when identityID owns it.
func (r *Registry) Revoke(ctx context.Context, identityID, tokenHash string) (bool, error) {
	ok, err := r.sessions.RevokeSession(ctx, identityID, tokenHash)
	if err != nil {
		return false, fmt.Errorf("session: revoke: %w", err)
	}
	return ok, nil
}

// RevokeAll revokes every session of identityID except keepTokenHash.
func (r *Registry) RevokeAll(ctx context.Context, identityID, keepTokenHash string) (int, error) {
	n, err := r.sessions.RevokeIdentitySessions(ctx, identityID, keepTokenHash)
	if err != nil {
		return 0, fmt.Errorf("session: revoke all: %w", err)
	}
	return n, nil
}

// RefreshResult is a freshly minted access token and what backed it.
type RefreshResult struct {
	Access   jwt.Token
	Identity *store.Identity
	Session  *store.Session
}

// Refresh exchanges a refresh token for a new access token. Checks run in a
// fixed order: token signature and kind, then the session, then the
// identity. The access token is minted only after all three pass.
func (r *Registry) Refresh(ctx context.Context, rawRefreshToken string) (*RefreshResult, error) {
	claims, err := r.tokens.VerifyKind(rawRefreshToken, jwt.KindRefresh)
	if err != nil {
		return nil, err
	}

	sess, err := r.Resolve(ctx, HashToken(rawRefreshToken))
	if err != nil {
		return nil, err
	}
	if sess.IdentityID != claims.Subject {
		return nil, ErrNotFound
	}

	identity, err := r.identities.FindByID(ctx, claims.Subject)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrIdentityInactive
	}
	if err != nil {
		return nil, fmt.Errorf("session: identity lookup: %w", err)
	}
	if !identity.Active {
		return nil, ErrIdentityInactive
	}

	access, err := r.tokens.Issue(jwt.Subject{
		ID:       identity.ID,
		Username: identity.Username,
		Role:     string(identity.Role),
	}, jwt.KindAccess)
	if err != nil {
		return nil, fmt.Errorf("session: mint access: %w", err)
	}
	return &RefreshResult{Access: access, Identity: identity, Session: sess}, nil
}

// SweepExpired deletes sessions that expired at or before now. Idempotent
// and safe to run from any number of instances.
func (r *Registry) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	n, err := r.sessions.DeleteExpiredSessions(ctx, now)
	if err != nil {
		return 0, fmt.Errorf("session: sweep: %w", err)
	}
	return n, nil
}
