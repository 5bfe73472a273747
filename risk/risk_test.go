package risk

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrEthical07/trustcore/audit"
	"github.com/MrEthical07/trustcore/clock"
	"github.com/MrEthical07/trustcore/store"
	"github.com/MrEthical07/trustcore/store/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var t0 = time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)

type captureRecorder struct{ events []audit.Event }

func (c *captureRecorder) Record(_ context.Context, ev audit.Event) audit.Event {
	c.events = append(c.events, ev)
	return ev
}

func seasoned() *store.Identity {
	return &store.Identity{ID: "u1", MFAEnabled: true, CreatedAt: t0.Add(-90 * 24 * time.Hour)}
}

func TestLevelFor(t *testing.T) {
	cases := map[int]Level{0: LevelLow, 24: LevelLow, 25: LevelMedium, 49: LevelMedium, 50: LevelHigh, 74: LevelHigh, 75: LevelCritical, 100: LevelCritical}
	for score, want := range cases {
		assert.Equal(t, want, LevelFor(score), "score %d", score)
	}
}

func TestShouldBlock(t *testing.T) {
	assert.True(t, ShouldBlock(75, 0))
	assert.False(t, ShouldBlock(74, 0))
	assert.True(t, ShouldBlock(40, 40))
}

func TestComputeCapsAndClamps(t *testing.T) {
	cfg := DefaultConfig()
	assert.Equal(t, 25, cfg.Compute(Signals{FailedAttempts: 50}))
	assert.Equal(t, 20, cfg.Compute(Signals{RecentFailures: 100}))
	all := Signals{FailedAttempts: 10, Locked: true, RecentFailures: 10, RapidRelogin: true, MFADisabled: true, NewAccount: true}
	assert.Equal(t, 100, cfg.Compute(all))

	heavy := cfg
	heavy.LockedWeight = 500
	assert.Equal(t, 100, heavy.Compute(Signals{Locked: true}))
	assert.Zero(t, cfg.Compute(Signals{}))
}

func TestComputeMonotonicPerSignal(t *testing.T) {
	cfg := DefaultConfig()
	base := Signals{Locked: true, MFADisabled: true}
	prev := -1
	for n := 0; n <= 12; n++ {
		s := base
		s.FailedAttempts = n
		got := cfg.Compute(s)
		require.GreaterOrEqual(t, got, prev, "failed attempts %d", n)
		prev = got
	}
	prev = -1
	for n := 0; n <= 12; n++ {
		s := base
		s.RecentFailures = n
		got := cfg.Compute(s)
		require.GreaterOrEqual(t, got, prev, "recent failures %d", n)
		prev = got
	}
	for _, flip := range []func(*Signals){
		func(s *Signals) { s.Locked = true },
		func(s *Signals) { s.RapidRelogin = true },
		func(s *Signals) { s.MFADisabled = true },
		func(s *Signals) { s.NewAccount = true },
	} {
		s := Signals{FailedAttempts: 2}
		before := cfg.Compute(s)
		flip(&s)
		assert.GreaterOrEqual(t, cfg.Compute(s), before)
	}
}

func TestScoreReadsHistory(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	for i := 0; i < 3; i++ {
		require.NoError(t, mem.AppendAuditEvent(ctx, audit.Event{
			ID: "f" + string(rune('0'+i)), IdentityID: "u1", Action: audit.ActionFailedLogin,
			Status: audit.StatusFailure, Timestamp: t0.Add(-time.Duration(i+1) * 10 * time.Minute),
		}))
	}
	require.NoError(t, mem.AppendAuditEvent(ctx, audit.Event{
		ID: "old", IdentityID: "u1", Action: audit.ActionFailedLogin,
		Status: audit.StatusFailure, Timestamp: t0.Add(-2 * time.Hour),
	}))

	rec := &captureRecorder{}
	e := New(mem, WithClock(clock.NewFake(t0)), WithRecorder(rec))

	ident := seasoned()
	ident.FailedLoginAttempts = 2
	got := e.Score(ctx, ident, audit.Origin{IP: "10.0.0.1"}, audit.ActionLogin)

	assert.Equal(t, 3, got.Signals.RecentFailures)
	assert.Equal(t, 10+12, got.Score)
	assert.Equal(t, LevelLow, got.Level)
	assert.False(t, got.Degraded)

	require.Len(t, rec.events, 1)
	ev := rec.events[0]
	assert.Equal(t, audit.ActionRiskAssessment, ev.Action)
	assert.Equal(t, audit.StatusSuccess, ev.Status)
	require.NotNil(t, ev.RiskScore)
	assert.Equal(t, 22, *ev.RiskScore)
	assert.Equal(t, 3, ev.Details["recent_failures"])
}

func TestScoreRapidReloginNeedsPriorFailures(t *testing.T) {
	ctx := context.Background()
	e := New(memory.New(), WithClock(clock.NewFake(t0)))

	ident := seasoned()
	last := t0.Add(-2 * time.Minute)
	ident.LastLogin = &last
	assert.False(t, e.Score(ctx, ident, audit.Origin{}, audit.ActionLogin).Signals.RapidRelogin)

	ident.FailedLoginAttempts = 1
	got := e.Score(ctx, ident, audit.Origin{}, audit.ActionLogin)
	assert.True(t, got.Signals.RapidRelogin)
	assert.Equal(t, 5+15, got.Score)

	stale := t0.Add(-10 * time.Minute)
	ident.LastLogin = &stale
	assert.False(t, e.Score(ctx, ident, audit.Origin{}, audit.ActionLogin).Signals.RapidRelogin)
}

func TestScoreLoginOnlySignals(t *testing.T) {
	ctx := context.Background()
	e := New(memory.New(), WithClock(clock.NewFake(t0)))
	ident := seasoned()
	ident.MFAEnabled = false

	assert.Equal(t, 10, e.Score(ctx, ident, audit.Origin{}, audit.ActionLogin).Score)
	assert.Zero(t, e.Score(ctx, ident, audit.Origin{}, audit.ActionJITAccessRequest).Score)
}

func TestScoreLockedNewAccountWarns(t *testing.T) {
	ctx := context.Background()
	rec := &captureRecorder{}
	e := New(memory.New(), WithClock(clock.NewFake(t0)), WithRecorder(rec))

	until := t0.Add(10 * time.Minute)
	ident := &store.Identity{ID: "u2", FailedLoginAttempts: 5, LockUntil: &until, CreatedAt: t0.Add(-time.Hour)}
	got := e.Score(ctx, ident, audit.Origin{}, audit.ActionLogin)

	assert.Equal(t, 25+20+10+10, got.Score)
	assert.Equal(t, LevelHigh, got.Level)
	require.Len(t, rec.events, 1)
	assert.Equal(t, audit.StatusWarning, rec.events[0].Status)
}

func TestScoreFallsBackWhenHistoryFails(t *testing.T) {
	ctx := context.Background()
	mem := memory.New()
	mem.FailAuditWith(errors.New("disk on fire"))
	rec := &captureRecorder{}
	e := New(mem, WithClock(clock.NewFake(t0)), WithRecorder(rec))

	got := e.Score(ctx, seasoned(), audit.Origin{}, audit.ActionLogin)
	assert.Equal(t, 50, got.Score)
	assert.True(t, got.Degraded)
	require.Len(t, rec.events, 1)
	assert.Equal(t, true, rec.events[0].Details["degraded"])
	assert.Equal(t, audit.StatusSuccess, rec.events[0].Status)
}
