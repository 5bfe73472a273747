package trustcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/trustcore/jwt"
	"github.com/MrEthical07/trustcore/session"
)

// Error classes. Every error an Engine operation returns for an expected
// condition matches exactly one of these with errors.Is.
var (
	// ErrInputRejected marks malformed caller input (reason, duration, code, registration fields).
	ErrInputRejected = errors.New("input rejected")
	// ErrCredentialsInvalid marks a wrong email or password. The message never says which.
	ErrCredentialsInvalid = errors.New("invalid credentials")
	// ErrAccountLocked is matched by *LockedError.
	ErrAccountLocked = errors.New("account locked")
	// ErrTokenInvalid marks a token that failed signature, claim or subject checks.
	ErrTokenInvalid = errors.New("invalid token")
	// ErrTokenExpired marks a token past its expiry.
	ErrTokenExpired = errors.New("token expired")
	// ErrTokenWrongType marks a token presented where another kind is expected.
	ErrTokenWrongType = errors.New("wrong token type")
	// ErrSessionInvalid marks a refresh whose session is missing, revoked or expired.
	ErrSessionInvalid = errors.New("session invalid")
	// ErrMFAInvalid marks a wrong or replayed one-time code.
	ErrMFAInvalid = errors.New("invalid mfa code")
	// ErrAlreadyInState marks a request for a state the identity already has.
	ErrAlreadyInState = errors.New("already in requested state")
	// ErrPermissionDenied marks an authenticated caller without the required role.
	ErrPermissionDenied = errors.New("permission denied")
	// ErrInternal wraps unexpected store, hashing or signing failures.
	ErrInternal = errors.New("internal error")
)

// Detailed causes, wrapped under a class.
var (
	ErrIdentityExists      = errors.New("identity already exists")
	ErrIdentityNotFound    = errors.New("identity not found")
	ErrIdentityInactive    = errors.New("identity inactive")
	ErrInvalidUsername     = errors.New("username must be 3-50 letters or digits")
	ErrInvalidEmail        = errors.New("email address is invalid")
	ErrPasswordReuse       = errors.New("new password must differ from the current password")
	ErrInvalidPendingToken = errors.New("invalid mfa pending token")
	ErrInvalidCode         = errors.New("invalid one-time code")
	ErrMalformedCode       = errors.New("one-time code is malformed")
	ErrMFAReplay           = errors.New("one-time code already used")
	ErrMFANotEnrolled      = errors.New("mfa enrollment not started")
	ErrMFAAlreadyEnabled   = errors.New("mfa already enabled")
	ErrInvalidReason       = errors.New("elevation reason too short")
	ErrInvalidDuration     = errors.New("elevation duration must not be negative")
	ErrAlreadyElevated     = errors.New("identity already holds the elevated role")
	ErrMissingBearer       = errors.New("missing bearer credential")
	ErrSelfAction          = errors.New("operation cannot target the acting identity")
	ErrNameTooLong         = errors.New("first and last name must be at most 50 characters")
	ErrEmptyUpdate         = errors.New("profile update changes nothing")
	ErrUpdateContention    = errors.New("identity update retries exhausted")
)

// LockedError is returned while an identity is locked out.
type LockedError struct {
	Until time.Time
}

func (e *LockedError) Error() string {
	return "account locked until " + e.Until.UTC().Format(time.RFC3339)
}

// Is makes errors.Is(err, ErrAccountLocked) hold.
func (e *LockedError) Is(target error) bool {
	return target == ErrAccountLocked
}

func classErr(class, cause error) error {
	return fmt.Errorf("%w: %w", class, cause)
}

func internalErr(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", ErrInternal, op, err)
}

// tokenErr maps a verification failure onto the token classes.
func tokenErr(err error) error {
	switch {
	case errors.Is(err, jwt.ErrExpired):
		return classErr(ErrTokenExpired, err)
	case errors.Is(err, jwt.ErrWrongType):
		return classErr(ErrTokenWrongType, err)
	default:
		return classErr(ErrTokenInvalid, err)
	}
}

// refreshErr maps session registry failures. Anything it does not
// recognise is internal.
func refreshErr(err error) error {
	switch {
	case errors.Is(err, jwt.ErrExpired), errors.Is(err, jwt.ErrWrongType),
		errors.Is(err, jwt.ErrMalformed), errors.Is(err, jwt.ErrInvalidSignature),
		errors.Is(err, jwt.ErrWrongAudience), errors.Is(err, jwt.ErrWrongIssuer),
		errors.Is(err, jwt.ErrInvalidClaims):
		return tokenErr(err)
	case errors.Is(err, session.ErrNotFound), errors.Is(err, session.ErrRevoked),
		errors.Is(err, session.ErrExpired), errors.Is(err, session.ErrIdentityInactive):
		return classErr(ErrSessionInvalid, err)
	default:
		return internalErr("refresh", err)
	}
}

// PublicMessage is the message safe to show a caller. Token and session
// failures collapse to one message each so the variants cannot be told
// apart from outside.
func PublicMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrAccountLocked):
		return "account locked"
	case errors.Is(err, ErrCredentialsInvalid):
		return "invalid credentials"
	case errors.Is(err, ErrTokenInvalid), errors.Is(err, ErrTokenExpired), errors.Is(err, ErrTokenWrongType):
		return "authentication failed"
	case errors.Is(err, ErrSessionInvalid):
		return "invalid or expired session"
	case errors.Is(err, ErrMFAInvalid):
		return "invalid verification code"
	case errors.Is(err, ErrPermissionDenied):
		return "insufficient permissions"
	case errors.Is(err, ErrIdentityExists):
		return "identity already exists"
	case errors.Is(err, ErrInputRejected), errors.Is(err, ErrAlreadyInState):
		return err.Error()
	default:
		return "internal error"
	}
}
