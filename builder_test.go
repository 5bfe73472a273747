package trustcore

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/MrEthical07/trustcore/audit"
	"github.com/MrEthical07/trustcore/clock"
	"github.com/MrEthical07/trustcore/metrics"
	"github.com/MrEthical07/trustcore/store/memory"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
)

type captureSink struct {
	mu     sync.Mutex
	events []audit.Event
}

func (s *captureSink) Emit(_ context.Context, ev audit.Event) error {
	s.mu.Lock()
	s.events = append(s.events, ev)
	s.mu.Unlock()
	return nil
}

func (s *captureSink) actions() []audit.Action {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]audit.Action, 0, len(s.events))
	for _, ev := range s.events {
		out = append(out, ev.Action)
	}
	return out
}

func TestBuildRequiresStore(t *testing.T) {
	if _, err := New().WithConfig(testConfig()).Build(); err == nil {
		t.Fatal("expected error without a store")
	}
}

func TestBuildOnlyOnce(t *testing.T) {
	b := New().WithConfig(testConfig()).WithStore(memory.New())
	if _, err := b.Build(); err != nil {
		t.Fatalf("Build failed: %v", err)
	}
	if _, err := b.Build(); err == nil {
		t.Fatal("expected error on second Build")
	}
}

func TestBuildRejectsShortSigningKey(t *testing.T) {
	cfg := testConfig()
	cfg.JWT.PrivateKey = []byte("short")
	if _, err := New().WithConfig(cfg).WithStore(memory.New()).Build(); err == nil {
		t.Fatal("expected error for a short HS256 key")
	}
}

func TestAsyncAuditAndExtraSink(t *testing.T) {
	cfg := testConfig()
	cfg.Audit.Async = true
	st := memory.New()
	extra := &captureSink{}
	reg := prometheus.NewRegistry()

	engine, err := New().
		WithConfig(cfg).
		WithStore(st).
		WithClock(clock.NewFake(testStart)).
		WithAuditSink(extra).
		WithMetrics(reg).
		Build()
	if err != nil {
		t.Fatalf("Build failed: %v", err)
	}

	ctx := context.Background()
	if _, err := engine.Register(ctx, RegisterInput{Username: "alice", Email: "alice@example.com", Password: testPassword}); err != nil {
		t.Fatalf("Register failed: %v", err)
	}
	if _, err := engine.Login(ctx, "alice@example.com", testPassword); err != nil {
		t.Fatalf("Login failed: %v", err)
	}
	engine.Close()

	got := extra.actions()
	if len(got) < 2 || got[0] != audit.ActionRegister {
		t.Fatalf("extra sink saw %v", got)
	}
	stored, err := st.QueryAuditEvents(ctx, audit.Query{Action: audit.ActionLogin})
	if err != nil || len(stored) != 1 {
		t.Fatalf("store saw %d login events, err %v", len(stored), err)
	}
	if engine.AuditDropped() != 0 {
		t.Fatalf("dropped %d events", engine.AuditDropped())
	}

	m := testutil.ToFloat64(engine.metrics.Events.WithLabelValues(string(metrics.LoginSuccess)))
	if m != 1 {
		t.Fatalf("login_success counter = %v, want 1", m)
	}
}

func TestPublicMessage(t *testing.T) {
	tests := []struct {
		err  error
		want string
	}{
		{nil, ""},
		{classErr(ErrCredentialsInvalid, ErrIdentityNotFound), "invalid credentials"},
		{classErr(ErrCredentialsInvalid, errWrongPassword), "invalid credentials"},
		{&LockedError{Until: testStart}, "account locked"},
		{classErr(ErrTokenExpired, errors.New("exp")), "authentication failed"},
		{classErr(ErrTokenWrongType, errors.New("kind")), "authentication failed"},
		{classErr(ErrTokenInvalid, ErrMissingBearer), "authentication failed"},
		{classErr(ErrSessionInvalid, errors.New("revoked")), "invalid or expired session"},
		{classErr(ErrMFAInvalid, ErrMFAReplay), "invalid verification code"},
		{ErrPermissionDenied, "insufficient permissions"},
		{ErrIdentityExists, "identity already exists"},
		{internalErr("update identity", errors.New("connection reset")), "internal error"},
	}
	for _, tc := range tests {
		if got := PublicMessage(tc.err); got != tc.want {
			t.Fatalf("PublicMessage(%v) = %q, want %q", tc.err, got, tc.want)
		}
	}
}
