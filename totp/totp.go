// Package totp generates enrollment secrets and verifies time-based one-time
// codes (RFC 6238) with a bounded skew window. Verification reports the
// matched time step so callers can refuse a code that was already used.
package totp

import (
	"bytes"
	"crypto/subtle"
	"encoding/base64"
	"errors"
	"fmt"
	"image/png"
	"strings"
	"time"

	"github.com/MrEthical07/trustcore/clock"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/hotp"
	"github.com/pquerna/otp/totp"
)

// Config holds TOTP parameters. Authenticator apps broadly support only the
// defaults (SHA1, 6 digits, 30s).
type Config struct {
	Issuer     string
	Period     uint
	Digits     int
	Algorithm  string
	Skew       uint
	SecretSize uint
	QRSize     int
}

func DefaultConfig() Config {
	return Config{
		Issuer:     "Zero Trust Auth",
		Period:     30,
		Digits:     6,
		Algorithm:  "SHA1",
		Skew:       1,
		SecretSize: 20,
		QRSize:     256,
	}
}

func (c Config) Validate() error {
	switch {
	case strings.TrimSpace(c.Issuer) == "":
		return errors.New("totp: issuer is required")
	case c.Period == 0:
		return errors.New("totp: period must be > 0")
	case c.Digits != 6 && c.Digits != 8:
		return errors.New("totp: digits must be 6 or 8")
	case c.SecretSize < 16:
		return errors.New("totp: secret size must be >= 16 bytes")
	case c.Skew > 3:
		return errors.New("totp: skew must be <= 3 steps")
	}
	if _, err := parseAlgorithm(c.Algorithm); err != nil {
		return err
	}
	return nil
}

// Enrollment is what a user needs to add the secret to an authenticator.
type Enrollment struct {
	// Secret is the base32 secret for manual entry.
	Secret string
	// URI is the otpauth:// provisioning URI.
	URI string
	// QRCode is a PNG data URL rendering of URI.
	QRCode string
}

// Engine generates and checks codes.
type Engine struct {
	cfg       Config
	algorithm otp.Algorithm
	clock     clock.Clock
}

func New(cfg Config, clk clock.Clock) (*Engine, error) {
	if cfg.QRSize <= 0 {
		cfg.QRSize = 256
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	alg, _ := parseAlgorithm(cfg.Algorithm)
	return &Engine{cfg: cfg, algorithm: alg, clock: clock.OrSystem(clk)}, nil
}

// Generate creates a fresh secret for account.
func (e *Engine) Generate(account string) (Enrollment, error) {
	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      e.cfg.Issuer,
		AccountName: account,
		Period:      e.cfg.Period,
		SecretSize:  e.cfg.SecretSize,
		Digits:      otp.Digits(e.cfg.Digits),
		Algorithm:   e.algorithm,
	})
	if err != nil {
		return Enrollment{}, fmt.Errorf("totp: generate: %w", err)
	}

	img, err := key.Image(e.cfg.QRSize, e.cfg.QRSize)
	if err != nil {
		return Enrollment{}, fmt.Errorf("totp: render qr: %w", err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return Enrollment{}, fmt.Errorf("totp: encode qr: %w", err)
	}

	return Enrollment{
		Secret: key.Secret(),
		URI:    key.URL(),
		QRCode: "data:image/png;base64," + base64.StdEncoding.EncodeToString(buf.Bytes()),
	}, nil
}

// Verify checks code against secret at the current time.
func (e *Engine) Verify(secret, code string) (step int64, ok bool, err error) {
	return e.VerifyAt(secret, code, e.clock.Now())
}

// VerifyAt checks code against every step in [now-skew, now+skew] and
// returns the matching step. A code of the wrong shape is a plain mismatch.
func (e *Engine) VerifyAt(secret, code string, at time.Time) (int64, bool, error) {
	code = strings.TrimSpace(code)
	if len(code) != e.cfg.Digits || !numeric(code) {
		return 0, false, nil
	}
	if secret == "" {
		return 0, false, errors.New("totp: empty secret")
	}

	current := e.Step(at)
	skew := int64(e.cfg.Skew)
	for step := current - skew; step <= current+skew; step++ {
		if step < 0 {
			continue
		}
		want, err := e.codeForStep(secret, step)
		if err != nil {
			return 0, false, err
		}
		if subtle.ConstantTimeCompare([]byte(want), []byte(code)) == 1 {
			return step, true, nil
		}
	}
	return 0, false, nil
}

// CodeAt returns the code for secret at t.
func (e *Engine) CodeAt(secret string, t time.Time) (string, error) {
	return e.codeForStep(secret, e.Step(t))
}

// Step is the RFC 6238 counter for t.
func (e *Engine) Step(t time.Time) int64 {
	return t.Unix() / int64(e.cfg.Period)
}

func (e *Engine) codeForStep(secret string, step int64) (string, error) {
	code, err := hotp.GenerateCodeCustom(secret, uint64(step), hotp.ValidateOpts{
		Digits:    otp.Digits(e.cfg.Digits),
		Algorithm: e.algorithm,
	})
	if err != nil {
		return "", fmt.Errorf("totp: %w", err)
	}
	return code, nil
}

func parseAlgorithm(name string) (otp.Algorithm, error) {
	switch strings.ToUpper(name) {
	case "", "SHA1":
		return otp.AlgorithmSHA1, nil
	case "SHA256":
		return otp.AlgorithmSHA256, nil
	case "SHA512":
		return otp.AlgorithmSHA512, nil
	default:
		return 0, fmt.Errorf("totp: unsupported algorithm %q", name)
	}
}

func numeric(s string) bool {
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return false
		}
	}
	return true
}
