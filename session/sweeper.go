package session

import (
	"context"
	"errors"
	"log/slog"
	"time"
)

// Sweeper runs SweepExpired periodically until its context is cancelled.
type Sweeper struct {
	registry *Registry
	interval time.Duration
	logger   *slog.Logger
	onSweep  func(removed int, err error)
}

// SweeperOption configures a Sweeper.
type SweeperOption func(*Sweeper)

func WithSweepLogger(l *slog.Logger) SweeperOption {
	return func(s *Sweeper) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithSweepHook observes every sweep result.
func WithSweepHook(fn func(removed int, err error)) SweeperOption {
	return func(s *Sweeper) { s.onSweep = fn }
}

func NewSweeper(r *Registry, interval time.Duration, opts ...SweeperOption) *Sweeper {
	if interval <= 0 {
		interval = 10 * time.Minute
	}
	s := &Sweeper{
		registry: r,
		interval: interval,
		logger:   slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps once immediately and then on every tick. It returns nil when
// ctx is cancelled; sweep errors are logged and do not stop the loop.
func (s *Sweeper) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		s.sweepOnce(ctx)
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

func (s *Sweeper) sweepOnce(ctx context.Context) {
	n, err := s.registry.SweepExpired(ctx, s.registry.clock.Now())
	if s.onSweep != nil {
		s.onSweep(n, err)
	}
	switch {
	case err != nil && !errors.Is(err, context.Canceled):
		s.logger.Warn("session sweep failed", slog.Any("error", err))
	case n > 0:
		s.logger.Info("expired sessions swept", slog.Int("removed", n))
	}
}
