package trustcore

import (
	"errors"
	"log/slog"

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
	"github.com/prometheus/client_golang/prometheus"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/trace"
)

const tracerName = "github.com/MrEthical07/trustcore"

// Builder assembles an Engine. Configure it during initialization, call
// Build once, and discard it.
type Builder struct {
	config     Config
	store      store.Store
	sessions   store.SessionStore
	clock      clock.Clock
	logger     *slog.Logger
	auditSinks []audit.Sink
	registerer prometheus.Registerer
	tracer     trace.TracerProvider
	hasher     password.Hasher

	built bool
}

// New returns a Builder seeded with DefaultConfig.
func New() *Builder {
	return &Builder{config: DefaultConfig()}
}

// WithConfig replaces the configuration. cfg is copied.
func (b *Builder) WithConfig(cfg Config) *Builder {
	b.config = cloneConfig(cfg)
	return b
}

// WithStore sets the backing store. Required.
func (b *Builder) WithStore(s store.Store) *Builder {
	b.store = s
	return b
}

// WithSessionStore keeps sessions in s instead of the main store, for
// example Redis in front of Postgres.
func (b *Builder) WithSessionStore(s store.SessionStore) *Builder {
	b.sessions = s
	return b
}

func (b *Builder) WithClock(c clock.Clock) *Builder {
	b.clock = c
	return b
}

func (b *Builder) WithLogger(l *slog.Logger) *Builder {
	b.logger = l
	return b
}

// WithAuditSink adds a sink that receives every audit event next to the
// store. The store always keeps the trail because risk scoring reads it.
func (b *Builder) WithAuditSink(sink audit.Sink) *Builder {
	if sink != nil {
		b.auditSinks = append(b.auditSinks, sink)
	}
	return b
}

// WithMetrics registers Prometheus collectors on reg.
func (b *Builder) WithMetrics(reg prometheus.Registerer) *Builder {
	b.registerer = reg
	return b
}

// WithTracerProvider overrides the global OpenTelemetry provider.
func (b *Builder) WithTracerProvider(tp trace.TracerProvider) *Builder {
	b.tracer = tp
	return b
}

// WithPasswordHasher overrides the hasher built from Config.Password.
func (b *Builder) WithPasswordHasher(h password.Hasher) *Builder {
	b.hasher = h
	return b
}

// Build validates the configuration and wires every component.
func (b *Builder) Build() (*Engine, error) {
	if b.built {
		return nil, errors.New("builder already used")
	}
	if b.store == nil {
		return nil, errors.New("store required")
	}

	cfg := cloneConfig(b.config)
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	clk := clock.OrSystem(b.clock)
	logger := b.logger
	if logger == nil {
		logger = slog.New(slog.DiscardHandler)
	}
	tp := b.tracer
	if tp == nil {
		tp = otel.GetTracerProvider()
	}

	engine := &Engine{
		config:  cfg,
		store:   b.store,
		clock:   clk,
		logger:  logger,
		tracer:  tp.Tracer(tracerName),
		policy:  cfg.Password.Policy,
		lockout: lockout.New(cfg.Lockout),
	}
	if b.registerer != nil {
		engine.metrics = metrics.New(b.registerer)
	}

	// -------- TOKENS --------
	tokens, err := jwt.NewManager(cfg.JWT, clk)
	if err != nil {
		return nil, err
	}
	engine.tokens = tokens

	// -------- PASSWORDS --------
	if b.hasher != nil {
		engine.hasher = b.hasher
	} else {
		h, err := buildHasher(cfg.Password)
		if err != nil {
			return nil, err
		}
		engine.hasher = h
	}

	// -------- TOTP --------
	otp, err := totp.New(cfg.TOTP, clk)
	if err != nil {
		return nil, err
	}
	engine.totp = otp

	// -------- SESSIONS --------
	sessions := b.sessions
	if sessions == nil {
		sessions = b.store
	}
	engine.sessions = session.NewRegistry(sessions, b.store, tokens, clk)

	// -------- AUDIT --------
	var sink audit.Sink = audit.NewStoreSink(b.store)
	if len(b.auditSinks) > 0 {
		sink = append(audit.MultiSink{sink}, b.auditSinks...)
	}
	if cfg.Audit.Async {
		engine.dispatcher = audit.NewDispatcher(audit.DispatcherConfig{
			BufferSize: cfg.Audit.BufferSize,
			DropIfFull: cfg.Audit.DropIfFull,
		}, sink, logger)
		sink = engine.dispatcher
	}
	engine.audit = audit.NewRecorder(sink,
		audit.WithClock(clk),
		audit.WithTimeout(cfg.Audit.Timeout),
		audit.WithLogger(logger),
		audit.WithFailureHook(func(audit.Event, error) { engine.metrics.AuditFailed() }),
	)

	// -------- RISK --------
	engine.risk = risk.New(b.store,
		risk.WithConfig(cfg.Risk),
		risk.WithClock(clk),
		risk.WithLogger(logger),
		risk.WithRecorder(engine.audit),
	)

	b.built = true
	return engine, nil
}

func buildHasher(cfg PasswordConfig) (password.Hasher, error) {
	argon, err := password.NewArgon2(cfg.Argon2)
	if err != nil && cfg.Algorithm == PasswordArgon2id {
		return nil, err
	}
	cost := cfg.BcryptCost
	if cost == 0 {
		cost = password.DefaultBcryptCost
	}
	bc, err := password.NewBcrypt(cost)
	if err != nil {
		return nil, err
	}
	if cfg.Algorithm == PasswordBcrypt {
		if argon == nil {
			return password.Multi{Preferred: bc}, nil
		}
		return password.Multi{Preferred: bc, Legacy: []password.Hasher{argon}}, nil
	}
	return password.Multi{Preferred: argon, Legacy: []password.Hasher{bc}}, nil
}
