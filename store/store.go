// Package store defines the records the authentication core persists and the
// narrow contracts a backing store must satisfy.
//
// Implementations live in sub-packages: memory (tests and single-process
// deployments), postgres (durable) and redisstore (sessions only).
package store

import (
	"context"
	"errors"
	"time"

	"github.com/MrEthical07/trustcore/audit"
)

var (
	// ErrNotFound is returned when a lookup matches no record.
	ErrNotFound = errors.New("store: not found")
	// ErrConflict is returned when a conditional update observes a newer version.
	ErrConflict = errors.New("store: version conflict")
	// ErrDuplicate is returned when a unique field (email, username, token hash) is taken.
	ErrDuplicate = errors.New("store: duplicate")
)

// IdentityStore persists identities. Email and username are unique
// case-insensitively; a write that would break that fails with ErrDuplicate.
// UpdateIdentity is a compare-and-swap on
// Identity.Version: it succeeds only when the stored version equals the
// version carried by the argument, and then stores Version+1.
type IdentityStore interface {
	FindByEmail(ctx context.Context, email string) (*Identity, error)
	FindByID(ctx context.Context, id string) (*Identity, error)
	CreateIdentity(ctx context.Context, identity *Identity) error
	UpdateIdentity(ctx context.Context, identity *Identity) error
	// ListIdentities returns one page of matching identities and the total
	// number of matches.
	ListIdentities(ctx context.Context, q IdentityQuery) ([]*Identity, int, error)
}

// SessionStore persists refresh-token sessions keyed by token hash.
type SessionStore interface {
	CreateSession(ctx context.Context, s *Session) error
	FindSessionByTokenHash(ctx context.Context, tokenHash string) (*Session, error)
	// RevokeSession marks the session revoked when it belongs to identityID.
	// It reports whether a session was revoked.
	RevokeSession(ctx context.Context, identityID, tokenHash string) (bool, error)
	// RevokeIdentitySessions revokes every live session of identityID except
	// the one with keepTokenHash (which may be empty).
	RevokeIdentitySessions(ctx context.Context, identityID, keepTokenHash string) (int, error)
	// DeleteExpiredSessions removes sessions with ExpiresAt <= now. Idempotent.
	DeleteExpiredSessions(ctx context.Context, now time.Time) (int, error)
}

// AuditStore is the append-only audit trail.
type AuditStore interface {
	AppendAuditEvent(ctx context.Context, event audit.Event) error
	QueryAuditEvents(ctx context.Context, q audit.Query) ([]audit.Event, error)
}

// Store is everything the Engine needs from a backing store.
type Store interface {
	IdentityStore
	SessionStore
	AuditStore
}
