// Command trustcore-sweeper deletes expired sessions on a fixed interval
// and exposes Prometheus metrics. Run any number of replicas; the sweep is
// idempotent.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/MrEthical07/trustcore/internal/app"
	"github.com/MrEthical07/trustcore/internal/config"
	"github.com/MrEthical07/trustcore/internal/logging"
	"github.com/MrEthical07/trustcore/metrics"
	"github.com/MrEthical07/trustcore/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"
)

func main() {
	configPath := flag.String("config", os.Getenv("TRUSTCORE_CONFIG"), "path to the YAML config file")
	once := flag.Bool("once", false, "sweep once and exit")
	flag.Parse()

	if err := run(*configPath, *once); err != nil {
		fmt.Fprintf(os.Stderr, "trustcore-sweeper: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath string, once bool) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	logger := logging.New(os.Stdout, cfg.Log.Format, cfg.Log.Level, "trustcore-sweeper")

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.Open(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	if once {
		n, err := a.Engine.SweepExpired(ctx)
		if err != nil {
			return err
		}
		logger.Info("sweep complete", slog.Int("removed", n))
		return nil
	}

	reg := prometheus.NewRegistry()
	m := metrics.New(reg)
	interval := cfg.Engine().Session.SweepInterval
	sweeper := session.NewSweeper(a.Engine.Sessions(), interval,
		session.WithSweepLogger(logger),
		session.WithSweepHook(m.Swept),
	)

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	srv := &http.Server{
		Addr:              cfg.Metrics.Addr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("sweeper started", slog.Duration("interval", interval))
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		logger.Info("metrics listening", slog.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})

	err = g.Wait()
	logger.Info("sweeper stopped")
	return err
}
