// Package app wires a trustcore.Engine from the binaries' file
// configuration: the store, an optional Redis session store, optional
// Kafka and JSON-lines audit streams, and Prometheus metrics.
package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/MrEthical07/trustcore"
	"github.com/MrEthical07/trustcore/audit"
	"github.com/MrEthical07/trustcore/audit/kafkasink"
	"github.com/MrEthical07/trustcore/internal/config"
	"github.com/MrEthical07/trustcore/store"
	"github.com/MrEthical07/trustcore/store/memory"
	"github.com/MrEthical07/trustcore/store/postgres"
	"github.com/MrEthical07/trustcore/store/redisstore"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"
)

// App is a built Engine plus the resources it holds.
type App struct {
	Engine *trustcore.Engine

	closers []func() error
}

// Close releases every resource in reverse order of acquisition.
func (a *App) Close() error {
	if a.Engine != nil {
		a.Engine.Close()
	}
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	return errors.Join(errs...)
}

// Open connects the configured backends and builds the Engine. reg may be
// nil to skip metrics.
func Open(ctx context.Context, cfg *config.Config, logger *slog.Logger, reg prometheus.Registerer) (_ *App, err error) {
	a := &App{}
	defer func() {
		if err != nil {
			_ = a.Close()
		}
	}()

	b := trustcore.New().
		WithConfig(cfg.Engine()).
		WithLogger(logger)
	if reg != nil {
		b.WithMetrics(reg)
	}

	var st store.Store
	switch cfg.Store.Driver {
	case "postgres":
		pg, err := postgres.Open(cfg.Store.DSN)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, pg.Close)
		pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
		err = pg.Ping(pingCtx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("postgres ping: %w", err)
		}
		if cfg.Store.Migrate {
			if err := pg.Migrate(ctx); err != nil {
				return nil, fmt.Errorf("postgres migrate: %w", err)
			}
		}
		st = pg
	default:
		st = memory.New()
	}
	b.WithStore(st)

	if cfg.Redis.Addr != "" {
		client := redis.NewUniversalClient(&redis.UniversalOptions{
			Addrs:    []string{cfg.Redis.Addr},
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		a.closers = append(a.closers, client.Close)
		sessions := redisstore.New(client, cfg.Redis.KeyPrefix)
		if _, err := sessions.Ping(ctx); err != nil {
			return nil, fmt.Errorf("redis ping: %w", err)
		}
		b.WithSessionStore(sessions)
	}

	if len(cfg.Kafka.Brokers) > 0 {
		sink, client, err := kafkasink.Dial(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { client.Close(); return nil })
		b.WithAuditSink(sink)
	}

	switch out := cfg.Audit.Output; out {
	case "":
	case "stdout":
		b.WithAuditSink(audit.NewJSONWriterSink(os.Stdout))
	case "stderr":
		b.WithAuditSink(audit.NewJSONWriterSink(os.Stderr))
	default:
		f, err := os.OpenFile(out, os.O_WRONLY|os.O_CREATE|os.O_APPEND, 0o600)
		if err != nil {
			return nil, fmt.Errorf("open audit output: %w", err)
		}
		a.closers = append(a.closers, f.Close)
		b.WithAuditSink(audit.NewJSONWriterSink(f))
	}

	a.Engine, err = b.Build()
	if err != nil {
		return nil, fmt.Errorf("build engine: %w", err)
	}
	logger.Info("engine ready",
		slog.String("store", cfg.Store.Driver),
		slog.Bool("redis_sessions", cfg.Redis.Addr != ""),
		slog.Int("kafka_brokers", len(cfg.Kafka.Brokers)),
		slog.String("audit_output", cfg.Audit.Output),
	)
	return a, nil
}
