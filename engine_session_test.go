package trustcore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/trustcore/audit"
	"github.com/MrEthical07/trustcore/store"
)

func TestRefreshMintsAccessToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.register(t, "alice")
	res := env.login(t, "alice")

	env.clock.Advance(2 * time.Hour)
	out, err := env.engine.Refresh(ctx, res.RefreshToken)
	if err != nil {
		t.Fatalf("Refresh failed: %v", err)
	}
	if !out.AccessExpiresAt.Equal(env.clock.Now().Add(time.Hour)) {
		t.Fatalf("access expiry = %v", out.AccessExpiresAt)
	}

	principal, err := env.engine.Authenticate(ctx, bearer(out.AccessToken))
	if err != nil {
		t.Fatalf("Authenticate failed: %v", err)
	}
	if principal.IdentityID != p.ID {
		t.Fatalf("principal = %+v", principal)
	}

	// The refresh token is not rotated.
	if _, err := env.engine.Refresh(ctx, res.RefreshToken); err != nil {
		t.Fatalf("second Refresh failed: %v", err)
	}
}

func TestRefreshAfterLogout(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.register(t, "alice")
	res := env.login(t, "alice")

	if err := env.engine.Logout(ctx, p.ID, res.RefreshToken); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	_, err := env.engine.Refresh(ctx, res.RefreshToken)
	if !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("expected ErrSessionInvalid, got %v", err)
	}

	logouts := env.events(t, audit.Query{IdentityID: p.ID, Action: audit.ActionLogout})
	if len(logouts) != 1 || logouts[0].Details["session_revoked"] != true {
		t.Fatalf("unexpected logout events: %+v", logouts)
	}
}

func TestLogoutOtherIdentityDoesNotRevoke(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice")
	bob := env.register(t, "bob")
	res := env.login(t, "alice")

	if err := env.engine.Logout(ctx, bob.ID, res.RefreshToken); err != nil {
		t.Fatalf("Logout failed: %v", err)
	}
	if _, err := env.engine.Refresh(ctx, res.RefreshToken); err != nil {
		t.Fatalf("session of another identity must survive, got %v", err)
	}
}

func TestRefreshExpiredToken(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	p := env.register(t, "alice")
	res := env.login(t, "alice")

	env.clock.Advance(7*24*time.Hour + time.Second)
	_, err := env.engine.Refresh(ctx, res.RefreshToken)
	if !errors.Is(err, ErrTokenExpired) {
		t.Fatalf("expected ErrTokenExpired, got %v", err)
	}

	ok := env.events(t, audit.Query{IdentityID: p.ID, Action: audit.ActionTokenRefresh, Status: audit.StatusSuccess})
	if len(ok) != 0 {
		t.Fatalf("expired refresh must not log success, got %+v", ok)
	}
	failed := env.events(t, audit.Query{Action: audit.ActionTokenRefresh, Status: audit.StatusFailure})
	if len(failed) != 1 || failed[0].Details["reason"] != "token-expired" {
		t.Fatalf("unexpected failure events: %+v", failed)
	}
}

func TestRefreshRejectsOtherTokenKinds(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice")
	res := env.login(t, "alice")

	if _, err := env.engine.Refresh(ctx, res.AccessToken); !errors.Is(err, ErrTokenWrongType) {
		t.Fatalf("access as refresh: expected ErrTokenWrongType, got %v", err)
	}
	if _, err := env.engine.Authenticate(ctx, bearer(res.RefreshToken)); !errors.Is(err, ErrTokenWrongType) {
		t.Fatalf("refresh as access: expected ErrTokenWrongType, got %v", err)
	}
	if _, err := env.engine.Refresh(ctx, "not-a-token"); !errors.Is(err, ErrTokenInvalid) {
		t.Fatalf("garbage: expected ErrTokenInvalid, got %v", err)
	}
}

func TestRefreshForInactiveIdentity(t *testing.T) {
	env := newTestEnv(t)
	p := env.register(t, "alice")
	res := env.login(t, "alice")

	env.patch(t, p.ID, func(i *store.Identity) { i.Active = false })
	_, err := env.engine.Refresh(context.Background(), res.RefreshToken)
	if !errors.Is(err, ErrSessionInvalid) {
		t.Fatalf("expected ErrSessionInvalid, got %v", err)
	}
}

func TestSweepExpired(t *testing.T) {
	env := newTestEnv(t)
	ctx := context.Background()
	env.register(t, "alice")
	env.login(t, "alice")
	env.clock.Advance(24 * time.Hour)
	env.login(t, "alice")

	env.clock.Advance(6*24*time.Hour + time.Minute)
	n, err := env.engine.SweepExpired(ctx)
	if err != nil {
		t.Fatalf("SweepExpired failed: %v", err)
	}
	if n != 1 || len(env.store.Sessions()) != 1 {
		t.Fatalf("swept %d, remaining %d", n, len(env.store.Sessions()))
	}
}
