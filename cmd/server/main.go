package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/prudhvinik1/offlinesync/internal/api"
	"github.com/prudhvinik1/offlinesync/internal/clock"
	"github.com/prudhvinik1/offlinesync/internal/config"
	"github.com/prudhvinik1/offlinesync/internal/conflict"
	"github.com/prudhvinik1/offlinesync/internal/connectivity"
	"github.com/prudhvinik1/offlinesync/internal/metrics"
	"github.com/prudhvinik1/offlinesync/internal/queue"
	"github.com/prudhvinik1/offlinesync/internal/services"
	"github.com/prudhvinik1/offlinesync/internal/transport"
	"golang.org/x/sync/errgroup"
)

func main() {
	godotenv.Load()

	cfg, err := config.LoadConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg.LogLevel, cfg.LogFormat)
	slog.SetDefault(logger)

	if err := run(cfg, logger); err != nil {
		logger.Error("server exited", "error", err)
		os.Exit(1)
	}
	logger.Info("server stopped gracefully")
}

func run(cfg *config.Config, logger *slog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	store, closeStore, err := openStore(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to open %s store: %w", cfg.StoreBackend, err)
	}
	defer closeStore()

	clk := clock.Real()
	q, err := queue.Open(ctx, store, queue.WithKey(cfg.QueueKey), queue.WithClock(clk))
	if err != nil {
		return fmt.Errorf("failed to open queue: %w", err)
	}

	tokens, err := transport.NewJWTTokenSource(cfg.JWTSecret, cfg.JWTSubject, cfg.JWTExpiry, clk)
	if err != nil {
		return err
	}
	remote := transport.NewRouter(transport.NewHTTPRemote(cfg.RemoteAPIURL, cfg.RemoteTimeout, tokens))

	resolver, err := conflict.ByName(cfg.ConflictStrategy)
	if err != nil {
		return err
	}

	probe := connectivity.NewHTTPProbe(cfg.HealthURL, cfg.ProbeInterval, cfg.RemoteTimeout, logger.With("component", "probe"))
	monitor := connectivity.NewMonitor(probe, clk, cfg.ReconnectDebounce, logger.With("component", "monitor"))

	m := metrics.New(prometheus.DefaultRegisterer)
	engine, err := services.NewSyncEngine(services.SyncEngineDeps{
		Queue:             q,
		Remote:            remote,
		Monitor:           monitor,
		Clock:             clk,
		Resolver:          resolver,
		Policy:            cfg.RetryPolicy(),
		FailFastPermanent: cfg.FailFastPermanent,
		Metrics:           m,
		Logger:            logger,
	})
	if err != nil {
		return err
	}

	pending, failed := q.Counts()
	logger.Info("queue loaded", "backend", cfg.StoreBackend, "pending", pending, "failed", failed)

	// Start Server
	server := &http.Server{
		Addr: fmt.Sprintf(":%s", cfg.ServerPort),
		Handler: api.NewRouter(engine, api.Options{
			AdminKeyHash: cfg.AdminKeyHash,
			Metrics:      promhttp.Handler(),
			Logger:       logger,
		}),
		ReadHeaderTimeout: 10 * time.Second,
	}

	monitor.Start()
	defer monitor.Stop()
	engine.Start()

	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return probe.Run(gCtx)
	})
	g.Go(func() error {
		logger.Info("starting server", "port", cfg.ServerPort)
		if err := server.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	})
	// graceful shutdown
	g.Go(func() error {
		<-gCtx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		err := server.Shutdown(shutdownCtx)
		engine.Stop()
		return err
	})

	return g.Wait()
}

func newLogger(level, format string) *slog.Logger {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		lvl = slog.LevelInfo
	}
	opts := &slog.HandlerOptions{Level: lvl}

	var handler slog.Handler
	if strings.EqualFold(format, "text") {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}
	return slog.New(handler)
}
