package audit

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/MrEthical07/trustcore/clock"
	"github.com/oklog/ulid/v2"
)

const defaultRecordTimeout = 2 * time.Second

// Recorder stamps events and hands them to a Sink with a bounded attempt.
// Record never returns an error: failures go to the logger and the failure
// hook, so audit problems cannot change the outcome of the audited operation.
type Recorder struct {
	sink      Sink
	clock     clock.Clock
	timeout   time.Duration
	logger    *slog.Logger
	onFailure func(Event, error)
}

// RecorderOption configures a Recorder.
type RecorderOption func(*Recorder)

// WithClock sets the clock used for event timestamps.
func WithClock(c clock.Clock) RecorderOption {
	return func(r *Recorder) { r.clock = clock.OrSystem(c) }
}

// WithTimeout bounds a single delivery attempt.
func WithTimeout(d time.Duration) RecorderOption {
	return func(r *Recorder) {
		if d > 0 {
			r.timeout = d
		}
	}
}

// WithLogger sets the logger used for delivery failures.
func WithLogger(l *slog.Logger) RecorderOption {
	return func(r *Recorder) {
		if l != nil {
			r.logger = l
		}
	}
}

// WithFailureHook registers fn to observe delivery failures (metrics).
func WithFailureHook(fn func(Event, error)) RecorderOption {
	return func(r *Recorder) { r.onFailure = fn }
}

func NewRecorder(sink Sink, opts ...RecorderOption) *Recorder {
	if sink == nil {
		sink = NoOpSink{}
	}
	r := &Recorder{
		sink:    sink,
		clock:   clock.System{},
		timeout: defaultRecordTimeout,
		logger:  slog.New(slog.DiscardHandler),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Record assigns an id and timestamp when missing and delivers ev.
// The returned event is the one handed to the sink; callers are free to
// ignore it.
func (r *Recorder) Record(ctx context.Context, ev Event) Event {
	if r == nil {
		return ev
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = r.clock.Now()
	}
	if ev.ID == "" {
		ev.ID = ulid.MustNew(ulid.Timestamp(ev.Timestamp), ulid.DefaultEntropy()).String()
	}
	if ev.Status == "" {
		ev.Status = StatusSuccess
	}
	if !ev.Action.Valid() {
		r.fail(ev, fmt.Errorf("audit: unknown action %q", ev.Action))
		return ev
	}

	if ctx == nil {
		ctx = context.Background()
	}
	// The caller's cancellation must not cut the trail short.
	deliverCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), r.timeout)
	defer cancel()

	if err := r.deliver(deliverCtx, ev); err != nil {
		r.fail(ev, err)
	}
	return ev
}

func (r *Recorder) deliver(ctx context.Context, ev Event) (err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("audit: sink panic: %v", p)
		}
	}()
	return r.sink.Emit(ctx, ev)
}

func (r *Recorder) fail(ev Event, err error) {
	r.logger.Warn("audit delivery failed",
		slog.String("event_id", ev.ID),
		slog.String("action", string(ev.Action)),
		slog.String("identity_id", ev.IdentityID),
		slog.Any("error", err),
	)
	if r.onFailure != nil {
		r.onFailure(ev, err)
	}
}
