package store

import (
	"time"

	"github.com/MrEthical07/trustcore/audit"
)

// Role is the closed set of base roles.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
	RoleGuest Role = "guest"
)

// Valid reports whether r is a defined role.
func (r Role) Valid() bool {
	switch r {
	case RoleAdmin, RoleUser, RoleGuest:
		return true
	}
	return false
}

// Origin is the request metadata recorded with sessions and events.
type Origin = audit.Origin

// Identity is an authenticating principal. PasswordHash and MFASecret never
// leave the core.
type Identity struct {
	ID           string
	Username     string
	Email        string
	PasswordHash string
	FirstName    string
	LastName     string
	Role         Role

	MFAEnabled bool
	// MFASecret is set while enrollment is pending or enabled.
	MFASecret string
	// MFALastStep is the most recent TOTP time step accepted at login.
	MFALastStep int64
	// MFAEnrollStep is the time step of the code that confirmed enrollment.
	// It is kept apart from MFALastStep so that confirming MFA does not
	// consume the step the next login will use.
	MFAEnrollStep int64

	Active              bool
	LastLogin           *time.Time
	FailedLoginAttempts int
	LockUntil           *time.Time

	CreatedAt time.Time
	UpdatedAt time.Time
	Version   int64
}

// Clone returns a deep copy of i.
func (i *Identity) Clone() *Identity {
	if i == nil {
		return nil
	}
	out := *i
	out.LastLogin = cloneTime(i.LastLogin)
	out.LockUntil = cloneTime(i.LockUntil)
	return &out
}

// IdentityQuery filters ListIdentities. Results are ordered newest first.
type IdentityQuery struct {
	Role   Role
	Active *bool
	Limit  int
	Offset int
}

const (
	DefaultIdentityLimit = 10
	MaxIdentityLimit     = 100
)

// Normalized returns q with Limit defaulted and capped and Offset floored at 0.
func (q IdentityQuery) Normalized() IdentityQuery {
	switch {
	case q.Limit <= 0:
		q.Limit = DefaultIdentityLimit
	case q.Limit > MaxIdentityLimit:
		q.Limit = MaxIdentityLimit
	}
	if q.Offset < 0 {
		q.Offset = 0
	}
	return q
}

// Matches reports whether i satisfies the Role and Active filters.
func (q IdentityQuery) Matches(i *Identity) bool {
	if q.Role != "" && i.Role != q.Role {
		return false
	}
	if q.Active != nil && i.Active != *q.Active {
		return false
	}
	return true
}

// Session is a refresh-token registration. Only the token digest is stored.
type Session struct {
	ID         string
	IdentityID string
	TokenHash  string
	Origin     Origin
	ExpiresAt  time.Time
	Revoked    bool
	CreatedAt  time.Time
}

// Clone returns a copy of s.
func (s *Session) Clone() *Session {
	if s == nil {
		return nil
	}
	out := *s
	return &out
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}
