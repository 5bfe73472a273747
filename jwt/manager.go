package jwt

import (
	"crypto/ed25519"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MrEthical07/trustcore/clock"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

// SigningMethod selects the token signature algorithm.
type SigningMethod string

const (
	MethodHS256   SigningMethod = "hs256"
	MethodEd25519 SigningMethod = "ed25519"
)

// Config is the immutable token configuration.
//
// For HS256, PrivateKey is the shared secret. For Ed25519, PrivateKey signs
// and PublicKey (or VerifyKeys keyed by kid, for rotation) verifies; both
// accept raw key bytes or PEM.
type Config struct {
	Issuer        string
	Audience      string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	MFAPendingTTL time.Duration
	Leeway        time.Duration
	MaxFutureIAT  time.Duration
	SigningMethod SigningMethod
	PrivateKey    []byte
	PublicKey     []byte
	KeyID         string
	VerifyKeys    map[string][]byte
}

// DefaultConfig returns the standard lifetimes and tags. Keys are left empty.
func DefaultConfig() Config {
	return Config{
		Issuer:        "zero-trust-auth-service",
		Audience:      "zero-trust-api",
		AccessTTL:     time.Hour,
		RefreshTTL:    7 * 24 * time.Hour,
		MFAPendingTTL: 5 * time.Minute,
		MaxFutureIAT:  10 * time.Minute,
		SigningMethod: MethodHS256,
	}
}

const minHMACKeyBytes = 32

// Manager signs and verifies tokens.
type Manager struct {
	config Config
	clock  clock.Clock
}

func NewManager(cfg Config, clk clock.Clock) (*Manager, error) {
	if cfg.AccessTTL <= 0 || cfg.RefreshTTL <= 0 || cfg.MFAPendingTTL <= 0 {
		return nil, errors.New("jwt: token lifetimes must be > 0")
	}
	if cfg.Leeway < 0 || cfg.Leeway > 2*time.Minute {
		return nil, errors.New("jwt: leeway must be within [0,2m]")
	}
	if cfg.MaxFutureIAT < 0 || cfg.MaxFutureIAT > 24*time.Hour {
		return nil, errors.New("jwt: max future iat must be within [0,24h]")
	}
	if strings.TrimSpace(cfg.Issuer) == "" || strings.TrimSpace(cfg.Audience) == "" {
		return nil, errors.New("jwt: issuer and audience are required")
	}
	cfg.KeyID = strings.TrimSpace(cfg.KeyID)

	switch cfg.SigningMethod {
	case MethodHS256:
		if len(cfg.PrivateKey) < minHMACKeyBytes {
			return nil, fmt.Errorf("jwt: hs256 secret must be at least %d bytes", minHMACKeyBytes)
		}
	case MethodEd25519:
		if len(cfg.PrivateKey) > 0 {
			if _, err := parseEdPrivateKey(cfg.PrivateKey); err != nil {
				return nil, err
			}
		}
		if len(cfg.VerifyKeys) == 0 && len(cfg.PublicKey) == 0 {
			return nil, errors.New("jwt: ed25519 requires a public key or verify key set")
		}
		if len(cfg.PublicKey) > 0 {
			if _, err := parseEdPublicKey(cfg.PublicKey); err != nil {
				return nil, err
			}
		}
		for kid, key := range cfg.VerifyKeys {
			if strings.TrimSpace(kid) == "" {
				return nil, errors.New("jwt: verify key map contains empty kid")
			}
			if _, err := parseEdPublicKey(key); err != nil {
				return nil, fmt.Errorf("jwt: verify key %q: %w", kid, err)
			}
		}
	default:
		return nil, fmt.Errorf("jwt: unsupported signing method %q", cfg.SigningMethod)
	}
	if cfg.KeyID != "" && len(cfg.VerifyKeys) > 0 {
		if _, ok := cfg.VerifyKeys[cfg.KeyID]; !ok {
			return nil, errors.New("jwt: KeyID is not present in VerifyKeys")
		}
	}

	return &Manager{config: cfg, clock: clock.OrSystem(clk)}, nil
}

// TTL returns the configured lifetime of kind.
func (m *Manager) TTL(kind Kind) time.Duration {
	switch kind {
	case KindRefresh:
		return m.config.RefreshTTL
	case KindMFAPending:
		return m.config.MFAPendingTTL
	default:
		return m.config.AccessTTL
	}
}

// Issue signs a token of kind for sub. Access tokens carry the username and
// role snapshot; the other kinds carry only the subject id.
func (m *Manager) Issue(sub Subject, kind Kind) (Token, error) {
	if !kind.Valid() {
		return Token{}, fmt.Errorf("jwt: unknown token kind %q", kind)
	}
	now := m.clock.Now()
	claims := m.baseClaims(sub.ID, kind, now, now.Add(m.TTL(kind)))
	if kind == KindAccess {
		claims.Username = sub.Username
		claims.Role = sub.Role
	}
	return m.sign(claims)
}

// IssueElevated signs an access token whose lifetime is the elevation window.
// The base role stays in Role; the grant sits in Elevation.
func (m *Manager) IssueElevated(sub Subject, elevatedRole string, until time.Time) (Token, error) {
	now := m.clock.Now()
	if !until.After(now) {
		return Token{}, errors.New("jwt: elevation window already closed")
	}
	claims := m.baseClaims(sub.ID, KindAccess, now, until)
	claims.Username = sub.Username
	claims.Role = sub.Role
	claims.Elevation = &Elevation{Role: elevatedRole, Until: jwt.NewNumericDate(until)}
	return m.sign(claims)
}

func (m *Manager) baseClaims(subject string, kind Kind, now, exp time.Time) *Claims {
	return &Claims{
		Type: kind,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   subject,
			Issuer:    m.config.Issuer,
			Audience:  jwt.ClaimStrings{m.config.Audience},
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
}

func (m *Manager) sign(claims *Claims) (Token, error) {
	token := jwt.NewWithClaims(m.method(), claims)
	if m.config.KeyID != "" {
		token.Header["kid"] = m.config.KeyID
	}
	key, err := m.signKey()
	if err != nil {
		return Token{}, err
	}
	value, err := token.SignedString(key)
	if err != nil {
		return Token{}, fmt.Errorf("jwt: sign: %w", err)
	}
	return Token{
		Value:     value,
		Kind:      claims.Type,
		ID:        claims.ID,
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: claims.ExpiresAt.Time,
	}, nil
}

// Verify checks signature, issuer, audience and expiry. It does not check
// the kind; use VerifyKind wherever a specific kind is expected.
func (m *Manager) Verify(tokenStr string) (*Claims, error) {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{m.method().Alg()}),
		jwt.WithIssuer(m.config.Issuer),
		jwt.WithAudience(m.config.Audience),
		jwt.WithExpirationRequired(),
		jwt.WithIssuedAt(),
		jwt.WithLeeway(m.config.Leeway),
		jwt.WithTimeFunc(m.clock.Now),
	)

	claims := &Claims{}
	token, err := parser.ParseWithClaims(tokenStr, claims, m.keyFunc)
	if err != nil {
		return nil, classify(err)
	}
	if !token.Valid {
		return nil, ErrInvalidClaims
	}
	if claims.Subject == "" || !claims.Type.Valid() {
		return nil, ErrInvalidClaims
	}
	if m.config.MaxFutureIAT > 0 && claims.IssuedAt != nil &&
		claims.IssuedAt.Time.After(m.clock.Now().Add(m.config.MaxFutureIAT)) {
		return nil, ErrInvalidClaims
	}
	return claims, nil
}

// VerifyKind is Verify plus a kind check. A valid token of another kind
// fails with ErrWrongType.
func (m *Manager) VerifyKind(tokenStr string, kind Kind) (*Claims, error) {
	claims, err := m.Verify(tokenStr)
	if err != nil {
		return nil, err
	}
	if claims.Type != kind {
		return nil, ErrWrongType
	}
	return claims, nil
}

func (m *Manager) keyFunc(t *jwt.Token) (any, error) {
	if len(m.config.VerifyKeys) > 0 {
		kid, _ := t.Header["kid"].(string)
		key, ok := m.config.VerifyKeys[kid]
		if !ok {
			return nil, errors.New("unknown kid")
		}
		return m.verifyKeyFrom(key)
	}
	if m.config.KeyID != "" {
		if kid, _ := t.Header["kid"].(string); kid != m.config.KeyID {
			return nil, errors.New("unknown kid")
		}
	}
	if m.config.SigningMethod == MethodHS256 {
		return m.config.PrivateKey, nil
	}
	return parseEdPublicKey(m.config.PublicKey)
}

func (m *Manager) method() jwt.SigningMethod {
	if m.config.SigningMethod == MethodHS256 {
		return jwt.SigningMethodHS256
	}
	return jwt.SigningMethodEdDSA
}

func (m *Manager) signKey() (any, error) {
	if m.config.SigningMethod == MethodHS256 {
		return m.config.PrivateKey, nil
	}
	if len(m.config.PrivateKey) == 0 {
		return nil, errors.New("jwt: verify-only manager cannot sign")
	}
	return parseEdPrivateKey(m.config.PrivateKey)
}

func (m *Manager) verifyKeyFrom(key []byte) (any, error) {
	if m.config.SigningMethod == MethodHS256 {
		return key, nil
	}
	return parseEdPublicKey(key)
}

func parseEdPrivateKey(key []byte) (ed25519.PrivateKey, error) {
	if len(key) == ed25519.PrivateKeySize {
		return ed25519.PrivateKey(key), nil
	}
	parsed, err := jwt.ParseEdPrivateKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("jwt: invalid ed25519 private key")
	}
	edKey, ok := parsed.(ed25519.PrivateKey)
	if !ok {
		return nil, errors.New("jwt: invalid ed25519 private key type")
	}
	return edKey, nil
}

func parseEdPublicKey(key []byte) (ed25519.PublicKey, error) {
	if len(key) == ed25519.PublicKeySize {
		return ed25519.PublicKey(key), nil
	}
	parsed, err := jwt.ParseEdPublicKeyFromPEM(key)
	if err != nil {
		return nil, errors.New("jwt: invalid ed25519 public key")
	}
	edKey, ok := parsed.(ed25519.PublicKey)
	if !ok {
		return nil, errors.New("jwt: invalid ed25519 public key type")
	}
	return edKey, nil
}
