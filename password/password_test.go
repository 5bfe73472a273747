package password

import (
	"errors"
	"strings"
	"testing"
)

func testArgon2(t *testing.T) *Argon2 {
	t.Helper()
	h, err := NewArgon2(Argon2Config{Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	return h
}

func testBcrypt(t *testing.T, cost int) *Bcrypt {
	t.Helper()
	h, err := NewBcrypt(cost)
	if err != nil {
		t.Fatalf("NewBcrypt failed: %v", err)
	}
	return h
}

func TestArgon2HashVerify(t *testing.T) {
	h := testArgon2(t)
	encoded, err := h.Hash("Correct#Horse9")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if !strings.HasPrefix(encoded, "$argon2id$v=19$m=8192,t=1,p=1$") {
		t.Fatalf("unexpected encoding %q", encoded)
	}

	ok, err := h.Verify("Correct#Horse9", encoded)
	if err != nil || !ok {
		t.Fatalf("expected match, ok=%v err=%v", ok, err)
	}
	ok, err = h.Verify("Correct#Horse8", encoded)
	if err != nil || ok {
		t.Fatalf("expected mismatch, ok=%v err=%v", ok, err)
	}

	again, _ := h.Hash("Correct#Horse9")
	if again == encoded {
		t.Fatal("expected distinct salts")
	}
}

func TestArgon2RejectsMalformed(t *testing.T) {
	h := testArgon2(t)
	for _, bad := range []string{
		"",
		"$argon2i$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5",
		"$argon2id$v=18$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5",
		"$argon2id$v=19$m=16,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$a2V5",
		"$argon2id$v=19$m=8192,t=1,p=1$c2hvcnQ$a2V5",
		"$argon2id$v=19$m=8192,t=1,p=1$c2FsdHNhbHRzYWx0c2FsdA$",
	} {
		if _, err := h.Verify("x", bad); !errors.Is(err, ErrInvalidHash) {
			t.Fatalf("expected ErrInvalidHash for %q, got %v", bad, err)
		}
	}
}

func TestArgon2NeedsUpgrade(t *testing.T) {
	weak := testArgon2(t)
	encoded, err := weak.Hash("Correct#Horse9")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	strong, err := NewArgon2(Argon2Config{Memory: 16 * 1024, Time: 2, Parallelism: 1, SaltLength: 16, KeyLength: 32})
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}

	if up, _ := weak.NeedsUpgrade(encoded); up {
		t.Fatal("same parameters must not need upgrade")
	}
	if up, _ := strong.NeedsUpgrade(encoded); !up {
		t.Fatal("stronger parameters must need upgrade")
	}
}

func TestArgon2ConfigFloor(t *testing.T) {
	if _, err := NewArgon2(Argon2Config{Memory: 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 32}); err == nil {
		t.Fatal("expected memory floor error")
	}
	if err := DefaultArgon2Config().Validate(); err != nil {
		t.Fatalf("default config invalid: %v", err)
	}
}

func TestBcryptHashVerify(t *testing.T) {
	h := testBcrypt(t, 4)
	encoded, err := h.Hash("Correct#Horse9")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if ok, err := h.Verify("Correct#Horse9", encoded); err != nil || !ok {
		t.Fatalf("expected match, ok=%v err=%v", ok, err)
	}
	if ok, err := h.Verify("nope", encoded); err != nil || ok {
		t.Fatalf("expected mismatch, ok=%v err=%v", ok, err)
	}
	if _, err := h.Verify("x", "not-a-hash"); !errors.Is(err, ErrInvalidHash) {
		t.Fatalf("expected ErrInvalidHash, got %v", err)
	}

	stronger := testBcrypt(t, 5)
	if up, _ := stronger.NeedsUpgrade(encoded); !up {
		t.Fatal("higher cost must need upgrade")
	}
	if _, err := NewBcrypt(64); err == nil {
		t.Fatal("expected cost range error")
	}
}

func TestMultiVerifiesLegacyAndUpgrades(t *testing.T) {
	argon := testArgon2(t)
	legacy := testBcrypt(t, 4)
	m := Multi{Preferred: argon, Legacy: []Hasher{legacy}}

	old, err := legacy.Hash("Correct#Horse9")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if ok, err := m.Verify("Correct#Horse9", old); err != nil || !ok {
		t.Fatalf("expected legacy match, ok=%v err=%v", ok, err)
	}
	if up, err := m.NeedsUpgrade(old); err != nil || !up {
		t.Fatalf("legacy hash must need upgrade, up=%v err=%v", up, err)
	}

	fresh, err := m.Hash("Correct#Horse9")
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	if !strings.HasPrefix(fresh, "$argon2id$") {
		t.Fatalf("expected preferred encoding, got %q", fresh)
	}
	if up, _ := m.NeedsUpgrade(fresh); up {
		t.Fatal("fresh hash must not need upgrade")
	}
	if _, err := m.Verify("x", "$scrypt$whatever"); !errors.Is(err, ErrUnsupportedHash) {
		t.Fatalf("expected ErrUnsupportedHash, got %v", err)
	}
}

func TestPolicyCheck(t *testing.T) {
	p := DefaultPolicy()
	cases := []struct {
		password string
		ok       bool
	}{
		{"Aa1!aaaa", true},
		{"Aa1!aaa", false},
		{"aa1!aaaa", false},
		{"AA1!AAAA", false},
		{"Aa!aaaaa", false},
		{"Aa1aaaaa", false},
		{"Пароль1!", true},
	}
	for _, tc := range cases {
		err := p.Check(tc.password)
		if tc.ok && err != nil {
			t.Fatalf("%q: unexpected error %v", tc.password, err)
		}
		if !tc.ok && !errors.Is(err, ErrPolicy) {
			t.Fatalf("%q: expected ErrPolicy, got %v", tc.password, err)
		}
	}
}
