package trustcore

import (
	"time"

	"github.com/MrEthical07/trustcore/risk"
	"github.com/MrEthical07/trustcore/store"
)

// Profile is the public projection of an identity. It never carries the
// password hash or the MFA secret.
type Profile struct {
	ID         string     `json:"id"`
	Username   string     `json:"username"`
	Email      string     `json:"email"`
	FirstName  string     `json:"first_name,omitempty"`
	LastName   string     `json:"last_name,omitempty"`
	Role       store.Role `json:"role"`
	MFAEnabled bool       `json:"mfa_enabled"`
	Active     bool       `json:"active"`
	LastLogin  *time.Time `json:"last_login,omitempty"`
	CreatedAt  time.Time  `json:"created_at"`
}

func profileOf(i *store.Identity) *Profile {
	p := &Profile{
		ID:         i.ID,
		Username:   i.Username,
		Email:      i.Email,
		FirstName:  i.FirstName,
		LastName:   i.LastName,
		Role:       i.Role,
		MFAEnabled: i.MFAEnabled,
		Active:     i.Active,
		CreatedAt:  i.CreatedAt,
	}
	if i.LastLogin != nil {
		t := *i.LastLogin
		p.LastLogin = &t
	}
	return p
}

// RegisterInput is the registration request.
type RegisterInput struct {
	Username  string
	Email     string
	Password  string
	FirstName string
	LastName  string
}

// ProfileUpdate carries the fields UpdateProfile may change. Nil leaves a
// field as it is.
type ProfileUpdate struct {
	FirstName *string
	LastName  *string
	Email     *string
}

// IdentityPage is one page of ListIdentities.
type IdentityPage struct {
	Identities []*Profile `json:"users"`
	Total      int        `json:"total"`
	Limit      int        `json:"limit"`
	Offset     int        `json:"offset"`
}

// LoginStatus discriminates a LoginResult.
type LoginStatus int

const (
	// LoginAuthenticated carries access and refresh tokens.
	LoginAuthenticated LoginStatus = iota + 1
	// LoginRequiresMFA carries only a pending token for VerifyMFALogin.
	LoginRequiresMFA
)

func (s LoginStatus) String() string {
	switch s {
	case LoginAuthenticated:
		return "authenticated"
	case LoginRequiresMFA:
		return "requires_mfa"
	default:
		return "unknown"
	}
}

// LoginResult is the successful outcome of Login or VerifyMFALogin.
// Rejections are returned as errors (ErrCredentialsInvalid, *LockedError).
type LoginResult struct {
	Status LoginStatus

	// Set when Status is LoginRequiresMFA.
	PendingToken     string
	PendingExpiresAt time.Time

	// Set when Status is LoginAuthenticated.
	AccessToken      string
	AccessExpiresAt  time.Time
	RefreshToken     string
	RefreshExpiresAt time.Time
	SessionID        string
	Risk             risk.Assessment

	Profile *Profile
}

// RefreshResult is a freshly minted access token. The refresh token is not
// rotated and stays valid until it expires or is revoked.
type RefreshResult struct {
	AccessToken     string
	AccessExpiresAt time.Time
}

// MFAEnrollment is returned by EnrollMFA. The secret stays pending until
// VerifyMFAEnrollment succeeds.
type MFAEnrollment struct {
	Secret string
	URI    string
	// QRCode is a PNG data URL of URI.
	QRCode string
}

// ElevationGrant is an automatically approved, time-boxed role grant.
type ElevationGrant struct {
	AccessToken      string
	Role             store.Role
	ExpiresAt        time.Time
	GrantedMinutes   int
	RequestedMinutes int
	Risk             risk.Assessment
}

// Principal is an authenticated caller.
type Principal struct {
	IdentityID string
	Username   string
	// Role is the identity's current base role.
	Role store.Role
	// EffectiveRole is Role, or the elevation role while a grant is active.
	EffectiveRole store.Role
	ElevatedUntil *time.Time
	TokenID       string
	ExpiresAt     time.Time
}

// Elevated reports whether an elevation grant is in force.
func (p *Principal) Elevated() bool {
	return p != nil && p.ElevatedUntil != nil
}
