package trustcore

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/MrEthical07/trustcore/audit"
	"github.com/MrEthical07/trustcore/password"
	"github.com/MrEthical07/trustcore/store"
)

func TestLoginSuccessIssuesTokensAndSession(t *testing.T) {
	env := newTestEnv(t)
	ctx := WithClientIP(context.Background(), "203.0.113.9")
	ctx = WithUserAgent(ctx, "Mozilla/5.0 (X11; Linux x86_64; rv:128.0) Gecko/20100101 Firefox/128.0")
	p := env.register(t, "alice")

	res, err := env.engine.Login(ctx, "  ALICE@example.com ", testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if res.Status != LoginAuthenticated || res.AccessToken == "" || res.RefreshToken == "" {
		t.Fatalf("unexpected result: %+v", res)
	}
	if res.Profile.ID != p.ID || res.Profile.LastLogin == nil {
		t.Fatalf("profile not populated: %+v", res.Profile)
	}
	if !res.RefreshExpiresAt.Equal(testStart.Add(7 * 24 * time.Hour)) {
		t.Fatalf("refresh expiry = %v", res.RefreshExpiresAt)
	}

	sessions := env.store.Sessions()
	if len(sessions) != 1 || sessions[0].ID != res.SessionID || sessions[0].Origin.IP != "203.0.113.9" {
		t.Fatalf("unexpected sessions: %+v", sessions)
	}
	if sessions[0].TokenHash == res.RefreshToken {
		t.Fatal("session must store a hash, not the raw refresh token")
	}

	logins := env.events(t, audit.Query{IdentityID: p.ID, Action: audit.ActionLogin})
	if len(logins) != 1 || logins[0].Status != audit.StatusSuccess || logins[0].RiskScore == nil {
		t.Fatalf("expected one scored login event, got %+v", logins)
	}
	if logins[0].Origin.IP != "203.0.113.9" {
		t.Fatalf("login event origin = %+v", logins[0].Origin)
	}
	client, ok := logins[0].Details["client"].(map[string]any)
	if !ok || client["browser"] != "Firefox" {
		t.Fatalf("client details = %+v", logins[0].Details["client"])
	}
}

func TestLoginResetsFailureCounter(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.register(t, "alice")

	for i := 0; i < 4; i++ {
		if _, err := env.engine.Login(ctx, "alice@example.com", wrongPassword); !errors.Is(err, ErrCredentialsInvalid) {
			t.Fatalf("attempt %d: expected ErrCredentialsInvalid, got %v", i+1, err)
		}
	}
	if got := env.identity(t, p.ID).FailedLoginAttempts; got != 4 {
		t.Fatalf("FailedLoginAttempts = %d, want 4", got)
	}

	env.login(t, "alice")
	i := env.identity(t, p.ID)
	if i.FailedLoginAttempts != 0 || i.LockUntil != nil {
		t.Fatalf("counter not reset: attempts=%d lock=%v", i.FailedLoginAttempts, i.LockUntil)
	}
}

func TestLoginLockout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.register(t, "alice")

	// The attempt that trips the lock still reports bad credentials.
	for i := 0; i < 5; i++ {
		_, err := env.engine.Login(ctx, "alice@example.com", wrongPassword)
		if !errors.Is(err, ErrCredentialsInvalid) || errors.Is(err, ErrAccountLocked) {
			t.Fatalf("attempt %d: expected ErrCredentialsInvalid, got %v", i+1, err)
		}
	}

	i := env.identity(t, p.ID)
	wantUntil := testStart.Add(30 * time.Minute)
	if i.LockUntil == nil || !i.LockUntil.Equal(wantUntil) {
		t.Fatalf("LockUntil = %v, want %v", i.LockUntil, wantUntil)
	}

	_, err := env.engine.Login(ctx, "alice@example.com", testPassword)
	var locked *LockedError
	if !errors.As(err, &locked) || !errors.Is(err, ErrAccountLocked) {
		t.Fatalf("expected LockedError, got %v", err)
	}
	if !locked.Until.Equal(wantUntil) {
		t.Fatalf("LockedError.Until = %v, want %v", locked.Until, wantUntil)
	}
	if got := env.identity(t, p.ID).FailedLoginAttempts; got != 5 {
		t.Fatalf("locked attempt must not count, got %d", got)
	}

	locks := env.events(t, audit.Query{IdentityID: p.ID, Action: audit.ActionAccountLock})
	if len(locks) != 1 || locks[0].Status != audit.StatusWarning {
		t.Fatalf("expected one account_lock warning, got %+v", locks)
	}

	env.clock.Advance(30 * time.Minute)
	env.login(t, "alice")
}

func TestLoginAfterExpiredLockStartsFreshCount(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.register(t, "alice")

	for i := 0; i < 5; i++ {
		env.engine.Login(ctx, "alice@example.com", wrongPassword)
	}
	env.clock.Advance(31 * time.Minute)

	if _, err := env.engine.Login(ctx, "alice@example.com", wrongPassword); !errors.Is(err, ErrCredentialsInvalid) {
		t.Fatalf("expected ErrCredentialsInvalid, got %v", err)
	}
	i := env.identity(t, p.ID)
	if i.FailedLoginAttempts != 1 || i.LockUntil != nil {
		t.Fatalf("expected fresh count after lock expiry, got attempts=%d lock=%v", i.FailedLoginAttempts, i.LockUntil)
	}
}

func TestLoginUnknownEmailAndInactive(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.register(t, "alice")

	_, err := env.engine.Login(ctx, "nobody@example.com", testPassword)
	if !errors.Is(err, ErrCredentialsInvalid) {
		t.Fatalf("unknown email: expected ErrCredentialsInvalid, got %v", err)
	}
	if PublicMessage(err) != "invalid credentials" {
		t.Fatalf("unexpected public message %q", PublicMessage(err))
	}

	env.patch(t, p.ID, func(i *store.Identity) { i.Active = false })
	_, err = env.engine.Login(ctx, "alice@example.com", testPassword)
	if !errors.Is(err, ErrCredentialsInvalid) || !errors.Is(err, ErrIdentityInactive) {
		t.Fatalf("inactive: expected ErrCredentialsInvalid/ErrIdentityInactive, got %v", err)
	}
	if got := env.identity(t, p.ID).FailedLoginAttempts; got != 0 {
		t.Fatalf("inactive login must not count failures, got %d", got)
	}

	failures := env.events(t, audit.Query{Action: audit.ActionFailedLogin})
	if len(failures) != 2 {
		t.Fatalf("expected 2 failed_login events, got %d", len(failures))
	}
}

func TestConcurrentWrongPasswordsAreNotLost(t *testing.T) {
	env := newTestEnv(t, func(c *Config) {
		c.Lockout.Threshold = 1000
		c.Identity.MaxUpdateRetries = 1000
	})
	p := env.register(t, "alice")

	const workers = 16
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := env.engine.Login(context.Background(), "alice@example.com", wrongPassword)
			if !errors.Is(err, ErrCredentialsInvalid) {
				t.Errorf("expected ErrCredentialsInvalid, got %v", err)
			}
		}()
	}
	wg.Wait()

	if got := env.identity(t, p.ID).FailedLoginAttempts; got != workers {
		t.Fatalf("FailedLoginAttempts = %d, want %d", got, workers)
	}
}

func TestLoginUpgradesLegacyHash(t *testing.T) {
	env := newTestEnv(t)
	p := env.register(t, "alice")

	argon, err := password.NewArgon2(password.Argon2Config{
		Memory: 8 * 1024, Time: 1, Parallelism: 1, SaltLength: 16, KeyLength: 16,
	})
	if err != nil {
		t.Fatalf("NewArgon2 failed: %v", err)
	}
	legacy, err := argon.Hash(testPassword)
	if err != nil {
		t.Fatalf("Hash failed: %v", err)
	}
	env.patch(t, p.ID, func(i *store.Identity) { i.PasswordHash = legacy })

	env.login(t, "alice")
	if got := env.identity(t, p.ID).PasswordHash; !strings.HasPrefix(got, "$2") {
		t.Fatalf("hash not upgraded to bcrypt: %q", got)
	}
	env.login(t, "alice")
}

func TestLoginSurvivesAuditOutage(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice")
	env.store.FailAuditWith(errors.New("audit store offline"))

	res := env.login(t, "alice")
	if !res.Risk.Degraded || res.Risk.Score != 50 {
		t.Fatalf("expected degraded fallback score, got %+v", res.Risk)
	}
}

func TestLoginWithMFA(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.register(t, "alice")
	secret := env.enableMFA(t, p.ID)

	res, err := env.engine.Login(ctx, "alice@example.com", testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	if res.Status != LoginRequiresMFA || res.PendingToken == "" || res.AccessToken != "" {
		t.Fatalf("expected pending result, got %+v", res)
	}
	if len(env.store.Sessions()) != 0 {
		t.Fatal("no session may exist before the second factor")
	}

	if _, err := env.engine.Authenticate(ctx, bearer(res.PendingToken)); !errors.Is(err, ErrTokenWrongType) {
		t.Fatalf("pending token as access: expected ErrTokenWrongType, got %v", err)
	}

	if _, err := env.engine.VerifyMFALogin(ctx, res.PendingToken, "12ab56"); !errors.Is(err, ErrInputRejected) {
		t.Fatalf("malformed code: expected ErrInputRejected, got %v", err)
	}

	good := env.totpCode(t, secret)
	bad := "000000"
	if bad == good {
		bad = "111111"
	}
	if _, err := env.engine.VerifyMFALogin(ctx, res.PendingToken, bad); !errors.Is(err, ErrMFAInvalid) {
		t.Fatalf("wrong code: expected ErrMFAInvalid, got %v", err)
	}
	if got := env.identity(t, p.ID).FailedLoginAttempts; got != 0 {
		t.Fatalf("wrong MFA code must not count toward lockout, got %d", got)
	}

	done, err := env.engine.VerifyMFALogin(ctx, res.PendingToken, good)
	if err != nil {
		t.Fatalf("VerifyMFALogin failed: %v", err)
	}
	if done.Status != LoginAuthenticated || done.RefreshToken == "" {
		t.Fatalf("expected tokens, got %+v", done)
	}

	// Same code in the same step is a replay, even with a new pending token.
	again, err := env.engine.Login(ctx, "alice@example.com", testPassword)
	if err != nil {
		t.Fatalf("second Login failed: %v", err)
	}
	_, err = env.engine.VerifyMFALogin(ctx, again.PendingToken, good)
	if !errors.Is(err, ErrMFAInvalid) || !errors.Is(err, ErrMFAReplay) {
		t.Fatalf("replay: expected ErrMFAReplay, got %v", err)
	}

	env.clock.Advance(30 * time.Second)
	if _, err := env.engine.VerifyMFALogin(ctx, again.PendingToken, env.totpCode(t, secret)); err != nil {
		t.Fatalf("next step code failed: %v", err)
	}
}

func TestPendingTokenExpires(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.register(t, "alice")
	secret := env.enableMFA(t, p.ID)

	res, err := env.engine.Login(ctx, "alice@example.com", testPassword)
	if err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	env.clock.Advance(5*time.Minute + time.Second)

	_, err = env.engine.VerifyMFALogin(ctx, res.PendingToken, env.totpCode(t, secret))
	if !errors.Is(err, ErrTokenInvalid) || !errors.Is(err, ErrInvalidPendingToken) {
		t.Fatalf("expected ErrInvalidPendingToken, got %v", err)
	}
}

func TestPendingTokenRejectsOtherKinds(t *testing.T) {
	env := newTestEnv(t)
	env.register(t, "alice")
	res := env.login(t, "alice")

	_, err := env.engine.VerifyMFALogin(context.Background(), res.AccessToken, "123456")
	if !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("access token as pending: expected ErrTokenInvalid, got %v", err)
	}
}
