// Package lockout is the account lockout policy: a pure decision over the
// failed-attempt counter and the lock deadline. Persisting the result is the
// caller's job and must be done with a conditional update.
package lockout

import (
	"errors"
	"time"
)

// Config holds the lockout thresholds.
type Config struct {
	Threshold int
	Duration  time.Duration
}

// DefaultConfig locks for 30 minutes after 5 consecutive failures.
func DefaultConfig() Config {
	return Config{Threshold: 5, Duration: 30 * time.Minute}
}

// Validate rejects a non-positive threshold or duration.
func (c Config) Validate() error {
	if c.Threshold <= 0 {
		return errors.New("lockout: threshold must be > 0")
	}
	if c.Duration <= 0 {
		return errors.New("lockout: duration must be > 0")
	}
	return nil
}

// State is the lockout-relevant slice of an identity.
type State struct {
	FailedAttempts int
	LockUntil      *time.Time
}

// Policy applies a Config.
type Policy struct {
	cfg Config
}

func New(cfg Config) Policy {
	return Policy{cfg: cfg}
}

// ShouldLock reports whether failedAttempts has reached the threshold.
func (p Policy) ShouldLock(failedAttempts int) bool {
	return failedAttempts >= p.cfg.Threshold
}

// LockDuration is the fixed lock length, counted from the failure that trips it.
func (p Policy) LockDuration() time.Duration {
	return p.cfg.Duration
}

// IsLocked reports lockUntil != nil && now < lockUntil.
func IsLocked(lockUntil *time.Time, now time.Time) bool {
	return lockUntil != nil && now.Before(*lockUntil)
}

// RegisterFailure returns the state after one more failed attempt at now and
// whether this failure tripped the lock. An expired lock starts a fresh count;
// an active lock is never extended.
func (p Policy) RegisterFailure(s State, now time.Time) (State, bool) {
	if s.LockUntil != nil && !IsLocked(s.LockUntil, now) {
		s = State{}
	}
	s.FailedAttempts++
	if IsLocked(s.LockUntil, now) || !p.ShouldLock(s.FailedAttempts) {
		return s, false
	}
	until := now.Add(p.cfg.Duration)
	s.LockUntil = &until
	return s, true
}

// Reset is the state after a successful authentication.
func (Policy) Reset() State {
	return State{}
}
