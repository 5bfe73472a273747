package jwt

import (
	"time"

	"github.com/golang-jwt/jwt/v5"
)

// Kind tags what a token may be used for.
type Kind string

const (
	KindAccess     Kind = "access"
	KindRefresh    Kind = "refresh"
	KindMFAPending Kind = "mfa-pending"
)

// Valid reports whether k is one of the three token kinds.
func (k Kind) Valid() bool {
	switch k {
	case KindAccess, KindRefresh, KindMFAPending:
		return true
	}
	return false
}

// Subject is the identity snapshot embedded at issuance.
type Subject struct {
	ID       string
	Username string
	Role     string
}

// Elevation is a time-boxed role grant carried by an access token. Until is
// checked independently of the token's own expiry.
type Elevation struct {
	Role  string           `json:"role"`
	Until *jwt.NumericDate `json:"until"`
}

// Active reports whether the grant is still in force at now.
func (e *Elevation) Active(now time.Time) bool {
	return e != nil && e.Until != nil && now.Before(e.Until.Time)
}

// Claims is the claim set of every token kind. Username and Role are only
// populated on access tokens.
type Claims struct {
	Type      Kind       `json:"type"`
	Username  string     `json:"username,omitempty"`
	Role      string     `json:"role,omitempty"`
	Elevation *Elevation `json:"elev,omitempty"`
	jwt.RegisteredClaims
}

// Token is a freshly signed token with its bookkeeping.
type Token struct {
	Value     string
	Kind      Kind
	ID        string
	IssuedAt  time.Time
	ExpiresAt time.Time
}
