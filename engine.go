package trustcore

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/MrEthical07/trustcore/audit"
	"github.com/MrEthical07/trustcore/clock"
	"github.com/MrEthical07/trustcore/jwt"
	"github.com/MrEthical07/trustcore/lockout"
	"github.com/MrEthical07/trustcore/metrics"
	"github.com/MrEthical07/trustcore/password"
	"github.com/MrEthical07/trustcore/risk"
	"github.com/MrEthical07/trustcore/session"
	"github.com/MrEthical07/trustcore/store"
	"github.com/MrEthical07/trustcore/totp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Engine is the authentication orchestrator. It is safe for concurrent use.
type Engine struct {
	config     Config
	store      store.Store
	clock      clock.Clock
	logger     *slog.Logger
	tracer     trace.Tracer
	metrics    *metrics.Metrics
	hasher     password.Hasher
	policy     password.Policy
	lockout    lockout.Policy
	tokens     *jwt.Manager
	sessions   *session.Registry
	totp       *totp.Engine
	risk       *risk.Engine
	audit      *audit.Recorder
	dispatcher *audit.Dispatcher
}

// Close drains the audit dispatcher when one is configured.
func (e *Engine) Close() {
	if e == nil || e.dispatcher == nil {
		return
	}
	e.dispatcher.Close()
}

// AuditDropped reports audit events discarded by a full dispatcher buffer.
func (e *Engine) AuditDropped() uint64 {
	if e == nil || e.dispatcher == nil {
		return 0
	}
	return e.dispatcher.Dropped()
}

// EventCounts returns the protocol event counters. It is nil unless the
// engine was built WithMetrics.
func (e *Engine) EventCounts() map[metrics.Event]uint64 {
	if e == nil {
		return nil
	}
	return e.metrics.Snapshot()
}

// Sessions exposes the registry so binaries can run a session.Sweeper.
func (e *Engine) Sessions() *session.Registry {
	return e.sessions
}

// SweepExpired removes sessions that expired at or before the current time.
func (e *Engine) SweepExpired(ctx context.Context) (n int, err error) {
	ctx, done := e.startOp(ctx, "sweep_expired")
	defer func() { done(err) }()

	n, err = e.sessions.SweepExpired(ctx, e.clock.Now())
	e.metrics.Swept(n, err)
	if err != nil {
		return 0, internalErr("sweep", err)
	}
	return n, nil
}

// startOp opens the span for op and returns a func that closes it with the
// operation's outcome.
func (e *Engine) startOp(ctx context.Context, op string) (context.Context, func(error)) {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, span := e.tracer.Start(ctx, "trustcore."+op)
	start := time.Now()
	return ctx, func(err error) {
		if err != nil {
			span.RecordError(err)
			span.SetStatus(codes.Error, PublicMessage(err))
		}
		span.End()
		e.metrics.ObserveOp(op, start, err)
	}
}

func (e *Engine) record(ctx context.Context, ev audit.Event) {
	if ev.Origin == (audit.Origin{}) {
		ev.Origin = originFromContext(ctx)
	}
	e.audit.Record(ctx, ev)
}

func (e *Engine) score(ctx context.Context, identity *store.Identity, action audit.Action) risk.Assessment {
	a := e.risk.Score(ctx, identity, originFromContext(ctx), action)
	e.metrics.ObserveRisk(a.Score)
	trace.SpanFromContext(ctx).SetAttributes(attribute.Int("trustcore.risk_score", a.Score))
	return a
}

// errSkipWrite lets a mutation decide that nothing needs persisting.
var errSkipWrite = errors.New("skip write")

// mutateIdentity applies fn to the freshest copy of the identity and writes
// it back with a version check, retrying from a fresh read on conflict.
// An error from fn aborts without writing and is returned as is, together
// with the identity fn saw.
func (e *Engine) mutateIdentity(ctx context.Context, id string, fn func(*store.Identity) error) (*store.Identity, error) {
	for attempt := 0; attempt < e.config.Identity.MaxUpdateRetries; attempt++ {
		identity, err := e.store.FindByID(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			return nil, ErrIdentityNotFound
		}
		if err != nil {
			return nil, internalErr("load identity", err)
		}
		if err := fn(identity); err != nil {
			if errors.Is(err, errSkipWrite) {
				return identity, nil
			}
			return identity, err
		}
		identity.UpdatedAt = e.clock.Now()

		err = e.store.UpdateIdentity(ctx, identity)
		switch {
		case err == nil:
			return identity, nil
		case errors.Is(err, store.ErrConflict):
			e.metrics.Inc(metrics.CASRetry)
			continue
		case errors.Is(err, store.ErrNotFound):
			return nil, ErrIdentityNotFound
		case errors.Is(err, store.ErrDuplicate):
			return nil, ErrIdentityExists
		default:
			return nil, internalErr("update identity", err)
		}
	}
	e.logger.Warn("identity update contention",
		slog.String("identity_id", id),
		slog.Int("attempts", e.config.Identity.MaxUpdateRetries),
	)
	return nil, internalErr("update identity", ErrUpdateContention)
}

func (e *Engine) loadIdentity(ctx context.Context, id string) (*store.Identity, error) {
	identity, err := e.store.FindByID(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, ErrIdentityNotFound
	}
	if err != nil {
		return nil, internalErr("load identity", err)
	}
	return identity, nil
}

func subjectOf(i *store.Identity) jwt.Subject {
	return jwt.Subject{ID: i.ID, Username: i.Username, Role: string(i.Role)}
}

// Me returns the public profile of identityID.
func (e *Engine) Me(ctx context.Context, identityID string) (*Profile, error) {
	identity, err := e.loadIdentity(ctx, identityID)
	if err != nil {
		return nil, err
	}
	return profileOf(identity), nil
}
