package trustcore

import (
	"errors"
	"fmt"
	"time"

	"github.com/MrEthical07/trustcore/jwt"
	"github.com/MrEthical07/trustcore/lockout"
	"github.com/MrEthical07/trustcore/password"
	"github.com/MrEthical07/trustcore/risk"
	"github.com/MrEthical07/trustcore/store"
	"github.com/MrEthical07/trustcore/totp"
)

// Config is the complete Engine configuration. It is copied at Build time
// and never read again from the caller's value.
type Config struct {
	JWT       jwt.Config
	Session   SessionConfig
	Lockout   lockout.Config
	Password  PasswordConfig
	TOTP      totp.Config
	Risk      risk.Config
	Elevation ElevationConfig
	Audit     AuditConfig
	Identity  IdentityConfig
}

/*
====================================
SESSION CONFIG
====================================
*/

// SessionConfig controls the session registry. Session lifetime follows
// JWT.RefreshTTL.
type SessionConfig struct {
	// SweepInterval is how often binaries run the expired-session sweep.
	SweepInterval time.Duration
	// RevokeOnPasswordChange revokes every other session after a password change.
	RevokeOnPasswordChange bool
}

/*
====================================
PASSWORD CONFIG
====================================
*/

// PasswordAlgorithm selects the hash used for new passwords.
type PasswordAlgorithm string

const (
	PasswordArgon2id PasswordAlgorithm = "argon2id"
	PasswordBcrypt   PasswordAlgorithm = "bcrypt"
)

// PasswordConfig selects the hasher and the strength policy. Hashes written
// by the other algorithm still verify and are rehashed on the next
// successful login when UpgradeOnLogin is set.
type PasswordConfig struct {
	Algorithm      PasswordAlgorithm
	Argon2         password.Argon2Config
	BcryptCost     int
	Policy         password.Policy
	UpgradeOnLogin bool
}

/*
====================================
ELEVATION CONFIG
====================================
*/

// ElevationConfig bounds just-in-time role grants. Grants are approved
// automatically; there is no reviewer step.
type ElevationConfig struct {
	Role            store.Role
	DefaultDuration time.Duration
	MaxDuration     time.Duration
	MinReasonLength int
}

/*
====================================
AUDIT CONFIG
====================================
*/

// AuditConfig controls delivery of audit events.
type AuditConfig struct {
	// Timeout bounds one delivery attempt.
	Timeout time.Duration
	// Async hands events to a buffered dispatcher instead of the caller's goroutine.
	Async      bool
	BufferSize int
	DropIfFull bool
}

/*
====================================
IDENTITY CONFIG
====================================
*/

// IdentityConfig covers registration rules and identity updates.
type IdentityConfig struct {
	UsernameMinLength int
	UsernameMaxLength int
	DefaultRole       store.Role
	// MaxUpdateRetries bounds compare-and-swap retries on a contended identity.
	MaxUpdateRetries int
}

// DefaultConfig returns production defaults. JWT.PrivateKey must still be
// provided.
func DefaultConfig() Config {
	return Config{
		JWT: jwt.DefaultConfig(),
		Session: SessionConfig{
			SweepInterval:          10 * time.Minute,
			RevokeOnPasswordChange: true,
		},
		Lockout: lockout.DefaultConfig(),
		Password: PasswordConfig{
			Algorithm:      PasswordArgon2id,
			Argon2:         password.DefaultArgon2Config(),
			BcryptCost:     password.DefaultBcryptCost,
			Policy:         password.DefaultPolicy(),
			UpgradeOnLogin: true,
		},
		TOTP: totp.DefaultConfig(),
		Risk: risk.DefaultConfig(),
		Elevation: ElevationConfig{
			Role:            store.RoleAdmin,
			DefaultDuration: time.Hour,
			MaxDuration:     4 * time.Hour,
			MinReasonLength: 10,
		},
		Audit: AuditConfig{
			Timeout:    2 * time.Second,
			BufferSize: 1024,
		},
		Identity: IdentityConfig{
			UsernameMinLength: 3,
			UsernameMaxLength: 50,
			DefaultRole:       store.RoleUser,
			MaxUpdateRetries:  16,
		},
	}
}

func cloneConfig(cfg Config) Config {
	out := cfg
	out.JWT.PrivateKey = cloneBytes(cfg.JWT.PrivateKey)
	out.JWT.PublicKey = cloneBytes(cfg.JWT.PublicKey)
	if cfg.JWT.VerifyKeys != nil {
		out.JWT.VerifyKeys = make(map[string][]byte, len(cfg.JWT.VerifyKeys))
		for kid, key := range cfg.JWT.VerifyKeys {
			out.JWT.VerifyKeys[kid] = cloneBytes(key)
		}
	}
	return out
}

func cloneBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	out := make([]byte, len(b))
	copy(out, b)
	return out
}

// Validate checks the sections the Engine owns. Token, TOTP and hasher
// settings are validated again by their constructors during Build.
func (c *Config) Validate() error {
	if err := c.Lockout.Validate(); err != nil {
		return err
	}
	if err := c.TOTP.Validate(); err != nil {
		return err
	}

	switch c.Password.Algorithm {
	case PasswordArgon2id:
		if err := c.Password.Argon2.Validate(); err != nil {
			return err
		}
	case PasswordBcrypt:
	default:
		return fmt.Errorf("password algorithm %q is not supported", c.Password.Algorithm)
	}
	if c.Password.Policy.MinLength < 8 {
		return errors.New("password policy MinLength must be >= 8")
	}

	if !c.Elevation.Role.Valid() {
		return errors.New("elevation role is not a known role")
	}
	if c.Elevation.DefaultDuration <= 0 || c.Elevation.MaxDuration <= 0 {
		return errors.New("elevation durations must be > 0")
	}
	if c.Elevation.DefaultDuration > c.Elevation.MaxDuration {
		return errors.New("elevation DefaultDuration must not exceed MaxDuration")
	}
	if c.Elevation.MinReasonLength < 1 {
		return errors.New("elevation MinReasonLength must be >= 1")
	}

	if c.Risk.FallbackScore < 0 || c.Risk.FallbackScore > 100 {
		return errors.New("risk FallbackScore must be within [0,100]")
	}
	if c.Risk.RecentWindow <= 0 || c.Risk.RapidReloginWindow <= 0 {
		return errors.New("risk windows must be > 0")
	}

	if c.Audit.Timeout <= 0 {
		return errors.New("audit Timeout must be > 0")
	}
	if c.Audit.Async && c.Audit.BufferSize <= 0 {
		return errors.New("audit BufferSize must be > 0 when Async is set")
	}

	if c.Identity.UsernameMinLength < 1 || c.Identity.UsernameMaxLength < c.Identity.UsernameMinLength {
		return errors.New("identity username length bounds are invalid")
	}
	if !c.Identity.DefaultRole.Valid() {
		return errors.New("identity DefaultRole is not a known role")
	}
	if c.Identity.DefaultRole == c.Elevation.Role {
		return errors.New("identity DefaultRole must differ from the elevation role")
	}
	if c.Identity.MaxUpdateRetries < 1 {
		return errors.New("identity MaxUpdateRetries must be >= 1")
	}
	if c.Session.SweepInterval < 0 {
		return errors.New("session SweepInterval must be >= 0")
	}
	return nil
}
