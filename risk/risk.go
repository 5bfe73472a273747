// Package risk scores how suspicious an authentication action looks, from
// the identity's credential state and its recent audit history.
package risk

import (
	"context"
	"log/slog"
	"time"

	"github.com/MrEthical07/trustcore/audit"
	"github.com/MrEthical07/trustcore/clock"
	"github.com/MrEthical07/trustcore/store"
)

// Level buckets a score for display and policy.
type Level string

const (
	LevelLow      Level = "low"
	LevelMedium   Level = "medium"
	LevelHigh     Level = "high"
	LevelCritical Level = "critical"
)

// DefaultBlockThreshold is the score at or above which ShouldBlock reports true.
const DefaultBlockThreshold = 75

// LevelFor maps a score onto its Level.
func LevelFor(score int) Level {
	switch {
	case score >= 75:
		return LevelCritical
	case score >= 50:
		return LevelHigh
	case score >= 25:
		return LevelMedium
	default:
		return LevelLow
	}
}

// ShouldBlock reports whether score meets threshold. A non-positive
// threshold falls back to DefaultBlockThreshold.
func ShouldBlock(score, threshold int) bool {
	if threshold <= 0 {
		threshold = DefaultBlockThreshold
	}
	return score >= threshold
}

// Config holds signal weights and caps.
type Config struct {
	FailedAttemptWeight int
	FailedAttemptCap    int
	LockedWeight        int
	RecentFailureWeight int
	RecentFailureCap    int
	RecentWindow        time.Duration
	RapidReloginWeight  int
	RapidReloginWindow  time.Duration
	MFADisabledWeight   int
	NewAccountWeight    int
	NewAccountAge       time.Duration
	// FallbackScore is returned when history cannot be read.
	FallbackScore int
	// WarnAbove marks the risk_assessment event as a warning when exceeded.
	WarnAbove int
}

func DefaultConfig() Config {
	return Config{
		FailedAttemptWeight: 5,
		FailedAttemptCap:    25,
		LockedWeight:        20,
		RecentFailureWeight: 4,
		RecentFailureCap:    20,
		RecentWindow:        time.Hour,
		RapidReloginWeight:  15,
		RapidReloginWindow:  5 * time.Minute,
		MFADisabledWeight:   10,
		NewAccountWeight:    10,
		NewAccountAge:       24 * time.Hour,
		FallbackScore:       50,
		WarnAbove:           50,
	}
}

// Signals are the raw inputs behind a score.
type Signals struct {
	FailedAttempts int
	Locked         bool
	RecentFailures int
	RapidRelogin   bool
	MFADisabled    bool
	NewAccount     bool
}

// Details renders s for an audit event.
func (s Signals) Details() map[string]any {
	return map[string]any{
		"failed_attempts": s.FailedAttempts,
		"locked":          s.Locked,
		"recent_failures": s.RecentFailures,
		"rapid_relogin":   s.RapidRelogin,
		"mfa_disabled":    s.MFADisabled,
		"new_account":     s.NewAccount,
	}
}

// Assessment is the outcome of Score.
type Assessment struct {
	Score   int
	Level   Level
	Signals Signals
	// Degraded is set when history was unavailable and FallbackScore was used.
	Degraded bool
}

// Compute sums the capped signal contributions and clamps the total to [0,100].
func (c Config) Compute(s Signals) int {
	score := capped(s.FailedAttempts*c.FailedAttemptWeight, c.FailedAttemptCap)
	if s.Locked {
		score += c.LockedWeight
	}
	score += capped(s.RecentFailures*c.RecentFailureWeight, c.RecentFailureCap)
	if s.RapidRelogin {
		score += c.RapidReloginWeight
	}
	if s.MFADisabled {
		score += c.MFADisabledWeight
	}
	if s.NewAccount {
		score += c.NewAccountWeight
	}
	return clamp(score, 0, 100)
}

// HistoryReader is the slice of the audit store the engine reads.
type HistoryReader interface {
	QueryAuditEvents(ctx context.Context, q audit.Query) ([]audit.Event, error)
}

// EventRecorder receives the risk_assessment event. *audit.Recorder satisfies it.
type EventRecorder interface {
	Record(ctx context.Context, ev audit.Event) audit.Event
}

type Engine struct {
	cfg      Config
	history  HistoryReader
	recorder EventRecorder
	clock    clock.Clock
	logger   *slog.Logger
}

type Option func(*Engine)

func WithConfig(cfg Config) Option { return func(e *Engine) { e.cfg = cfg } }

func WithClock(c clock.Clock) Option { return func(e *Engine) { e.clock = clock.OrSystem(c) } }

func WithRecorder(r EventRecorder) Option { return func(e *Engine) { e.recorder = r } }

func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

func New(history HistoryReader, opts ...Option) *Engine {
	e := &Engine{
		cfg:     DefaultConfig(),
		history: history,
		clock:   clock.System{},
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Score assesses action for identity and appends a risk_assessment event.
// It never fails: unreadable history yields the fallback score.
func (e *Engine) Score(ctx context.Context, identity *store.Identity, origin audit.Origin, action audit.Action) Assessment {
	now := e.clock.Now()
	a := e.assess(ctx, identity, action, now)

	details := a.Signals.Details()
	details["action"] = string(action)
	details["level"] = string(a.Level)
	if a.Degraded {
		details["degraded"] = true
	}
	status := audit.StatusSuccess
	if a.Score > e.cfg.WarnAbove {
		status = audit.StatusWarning
	}
	if e.recorder != nil {
		e.recorder.Record(ctx, audit.Event{
			IdentityID: identity.ID,
			Action:     audit.ActionRiskAssessment,
			Origin:     origin,
			Status:     status,
			Details:    details,
		}.WithRisk(a.Score))
	}
	return a
}

func (e *Engine) assess(ctx context.Context, identity *store.Identity, action audit.Action, now time.Time) Assessment {
	sig := Signals{
		FailedAttempts: identity.FailedLoginAttempts,
		Locked:         identity.LockUntil != nil && now.Before(*identity.LockUntil),
	}

	var recent []audit.Event
	var err error
	if e.history != nil {
		recent, err = e.history.QueryAuditEvents(ctx, audit.Query{
			IdentityID: identity.ID,
			Action:     audit.ActionFailedLogin,
			Since:      now.Add(-e.cfg.RecentWindow),
			Limit:      audit.MaxQueryLimit,
		})
	}
	if err != nil {
		e.logger.Warn("risk history unavailable",
			slog.String("identity_id", identity.ID),
			slog.Any("error", err),
		)
		return Assessment{
			Score:    e.cfg.FallbackScore,
			Level:    LevelFor(e.cfg.FallbackScore),
			Signals:  sig,
			Degraded: true,
		}
	}
	sig.RecentFailures = len(recent)

	if action == audit.ActionLogin {
		priorFailures := sig.FailedAttempts > 0 || sig.RecentFailures > 0
		if identity.LastLogin != nil && now.Sub(*identity.LastLogin) < e.cfg.RapidReloginWindow && priorFailures {
			sig.RapidRelogin = true
		}
		sig.MFADisabled = !identity.MFAEnabled
	}
	if !identity.CreatedAt.IsZero() && now.Sub(identity.CreatedAt) < e.cfg.NewAccountAge {
		sig.NewAccount = true
	}

	score := e.cfg.Compute(sig)
	return Assessment{Score: score, Level: LevelFor(score), Signals: sig}
}

func capped(v, limit int) int {
	if v > limit {
		return limit
	}
	return v
}

func clamp(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
