// Package metrics exposes Prometheus instrumentation for the authentication
// core. A nil *Metrics is valid and records nothing.
package metrics

import (
	"maps"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Event names one counted protocol step.
type Event string

const (
	LoginSuccess        Event = "login_success"
	LoginFailure        Event = "login_failure"
	LoginLocked         Event = "login_locked"
	LockoutTriggered    Event = "lockout_triggered"
	MFARequired         Event = "mfa_required"
	MFASuccess          Event = "mfa_success"
	MFAFailure          Event = "mfa_failure"
	MFAReplay           Event = "mfa_replay"
	RefreshSuccess      Event = "refresh_success"
	RefreshFailure      Event = "refresh_failure"
	Logout              Event = "logout"
	SessionCreated      Event = "session_created"
	SessionsRevoked     Event = "sessions_revoked"
	ElevationGranted    Event = "elevation_granted"
	ElevationRejected   Event = "elevation_rejected"
	RegisterSuccess     Event = "register_success"
	RegisterDuplicate   Event = "register_duplicate"
	PasswordChanged     Event = "password_changed"
	PasswordRehashed    Event = "password_rehashed"
	ProfileUpdated      Event = "profile_updated"
	AuthenticateFailure Event = "authenticate_failure"
	CASRetry            Event = "cas_retry"
)

var durationBuckets = []float64{0.001, 0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1}

type Metrics struct {
	Events        *prometheus.CounterVec
	OpDuration    *prometheus.HistogramVec
	RiskScore     prometheus.Histogram
	AuditFailures prometheus.Counter
	SweptSessions prometheus.Counter
	SweepFailures prometheus.Counter

	mu     sync.Mutex
	counts map[Event]uint64
}

// New registers every collector on reg. A nil reg uses the default registerer.
func New(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	f := promauto.With(reg)
	return &Metrics{
		counts: make(map[Event]uint64),
		Events: f.NewCounterVec(prometheus.CounterOpts{
			Name: "trustcore_events_total",
			Help: "Authentication protocol steps by outcome",
		}, []string{"event"}),
		OpDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "trustcore_operation_duration_seconds",
			Help:    "Duration of engine operations",
			Buckets: durationBuckets,
		}, []string{"op", "outcome"}),
		RiskScore: f.NewHistogram(prometheus.HistogramOpts{
			Name:    "trustcore_risk_score",
			Help:    "Distribution of computed risk scores",
			Buckets: []float64{10, 25, 50, 75, 90, 100},
		}),
		AuditFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "trustcore_audit_failures_total",
			Help: "Audit events that could not be delivered",
		}),
		SweptSessions: f.NewCounter(prometheus.CounterOpts{
			Name: "trustcore_sessions_swept_total",
			Help: "Expired sessions removed by the sweeper",
		}),
		SweepFailures: f.NewCounter(prometheus.CounterOpts{
			Name: "trustcore_sweep_failures_total",
			Help: "Sweeper passes that returned an error",
		}),
	}
}

func (m *Metrics) Inc(ev Event) {
	if m == nil {
		return
	}
	m.Events.WithLabelValues(string(ev)).Inc()
	m.mu.Lock()
	m.counts[ev]++
	m.mu.Unlock()
}

// Snapshot returns the event counts recorded so far. Exporters that poll,
// such as the OpenTelemetry bridge, read from it.
func (m *Metrics) Snapshot() map[Event]uint64 {
	if m == nil {
		return nil
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	return maps.Clone(m.counts)
}

// ObserveOp records the duration of op since start. Call with the clock
// reading taken at the start of the operation.
func (m *Metrics) ObserveOp(op string, start time.Time, err error) {
	if m == nil {
		return
	}
	outcome := "ok"
	if err != nil {
		outcome = "error"
	}
	m.OpDuration.WithLabelValues(op, outcome).Observe(time.Since(start).Seconds())
}

func (m *Metrics) ObserveRisk(score int) {
	if m == nil {
		return
	}
	m.RiskScore.Observe(float64(score))
}

func (m *Metrics) AuditFailed() {
	if m == nil {
		return
	}
	m.AuditFailures.Inc()
}

// Swept records one sweeper pass.
func (m *Metrics) Swept(removed int, err error) {
	if m == nil {
		return
	}
	if err != nil {
		m.SweepFailures.Inc()
		return
	}
	m.SweptSessions.Add(float64(removed))
}
