package password

import (
	"errors"
	"strings"
)

var (
	// ErrInvalidHash is returned when an encoded hash cannot be parsed.
	ErrInvalidHash = errors.New("password: invalid hash encoding")
	// ErrUnsupportedHash is returned when no configured hasher recognises the encoding.
	ErrUnsupportedHash = errors.New("password: unsupported hash algorithm")
)

// Hasher is a one-way salted password hash.
type Hasher interface {
	Hash(password string) (string, error)
	// Verify reports whether password matches encodedHash. A mismatch is
	// (false, nil); an error means the hash itself is unusable.
	Verify(password, encodedHash string) (bool, error)
	// NeedsUpgrade reports whether encodedHash was produced with weaker or
	// different parameters than the hasher's current ones.
	NeedsUpgrade(encodedHash string) (bool, error)
}

type recognizer interface {
	Hasher
	recognizes(encodedHash string) bool
}

// Multi hashes with Preferred and verifies with whichever hasher recognises
// the encoding. Hashes not produced by Preferred always need an upgrade.
type Multi struct {
	Preferred Hasher
	Legacy    []Hasher
}

func (m Multi) Hash(password string) (string, error) {
	return m.Preferred.Hash(password)
}

func (m Multi) Verify(password, encodedHash string) (bool, error) {
	h, err := m.pick(encodedHash)
	if err != nil {
		return false, err
	}
	return h.Verify(password, encodedHash)
}

func (m Multi) NeedsUpgrade(encodedHash string) (bool, error) {
	h, err := m.pick(encodedHash)
	if err != nil {
		return false, err
	}
	if h != m.Preferred {
		return true, nil
	}
	return h.NeedsUpgrade(encodedHash)
}

func (m Multi) pick(encodedHash string) (Hasher, error) {
	for _, h := range append([]Hasher{m.Preferred}, m.Legacy...) {
		if r, ok := h.(recognizer); ok && r.recognizes(encodedHash) {
			return h, nil
		}
	}
	return nil, ErrUnsupportedHash
}

func hasAnyPrefix(s string, prefixes ...string) bool {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return true
		}
	}
	return false
}
