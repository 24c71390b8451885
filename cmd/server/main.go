// Package main is the entrypoint for the Betelgeus station analysis API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"

	"github.com/rhernandezbas/Betelgeus-Backend/internal/api"
	"github.com/rhernandezbas/Betelgeus-Backend/internal/api/handler"
	mw "github.com/rhernandezbas/Betelgeus-Backend/internal/api/middleware"
	"github.com/rhernandezbas/Betelgeus-Backend/internal/api/response"
	"github.com/rhernandezbas/Betelgeus-Backend/internal/cache"
	"github.com/rhernandezbas/Betelgeus-Backend/internal/config"
	"github.com/rhernandezbas/Betelgeus-Backend/internal/events"
	"github.com/rhernandezbas/Betelgeus-Backend/internal/history"
	"github.com/rhernandezbas/Betelgeus-Backend/internal/station"
	"github.com/rhernandezbas/Betelgeus-Backend/internal/store"
	"github.com/rhernandezbas/Betelgeus-Backend/internal/workflow"
)

const (
	shutdownTimeout = 30 * time.Second
	natsPingTimeout = 2 * time.Second
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid values
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"station_api", cfg.Station.BaseURL,
		"audit_log", cfg.Database.Enabled(),
		"nats", cfg.NATS.URL != "",
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Redis backs history and rate limiting
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	checks := []healthCheck{{name: "cache", pinger: redisCache}}

	// 3. Optional audit log
	var pgStore *store.PostgresStore
	if cfg.Database.Enabled() {
		pool, err := store.Connect(ctx, cfg.Database)
		if err != nil {
			return fmt.Errorf("connect database: %w", err)
		}
		defer pool.Close()
		slog.Info("database connected")

		if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
			return fmt.Errorf("run migrations: %w", err)
		}
		slog.Info("database migrations applied")

		pgStore = store.NewPostgresStore(pool)
		checks = append(checks, healthCheck{name: "database", pinger: pgStore})
	}

	// 4. Event fan-out: SSE subscribers always, NATS when configured
	broadcaster := events.NewBroadcaster()
	publishers := events.Multi{broadcaster}
	if cfg.NATS.URL != "" {
		nc, err := events.ConnectNATS(cfg.NATS.URL)
		if err != nil {
			return fmt.Errorf("connect nats: %w", err)
		}
		defer func() {
			if err := nc.Drain(); err != nil {
				slog.Warn("draining nats connection", "error", err)
			}
		}()
		slog.Info("nats connected", "url", nc.ConnectedUrl(), "subject_prefix", cfg.NATS.SubjectPrefix)

		publishers = append(publishers, events.NewNATSPublisher(nc, cfg.NATS.SubjectPrefix))
		checks = append(checks, healthCheck{name: "events", pinger: natsPinger{nc}})
	}

	// 5. Workflow
	client := station.NewHTTPClient(cfg.Station.BaseURL, station.Credentials{
		Username: cfg.Station.Username,
		Password: cfg.Station.Password,
	}, cfg.Station.Timeout)
	hist := history.NewStore(history.NewCacheSlot(redisCache, cfg.History.Namespace))

	opts := []workflow.Option{
		workflow.WithPublisher(publishers),
		workflow.WithMaxWait(cfg.Station.MaxWaitSeconds),
	}
	if pgStore != nil {
		opts = append(opts, workflow.WithRecorder(pgStore))
	}
	orch := workflow.New(client, hist, opts...)

	// 6. Build router with dependencies
	deps := api.Dependencies{
		RateLimit: mw.NewRateLimit(redisCache, cfg.RateLimit.PerMinute),

		HealthHandler: healthHandler(checks...),

		StateHandler:            handler.NewStateHandler(orch),
		AnalyzeHandler:          handler.NewAnalyzeHandler(orch),
		ApplyFrequenciesHandler: handler.NewApplyFrequenciesHandler(orch),
		SkipFrequenciesHandler:  handler.NewSkipFrequenciesHandler(orch),
		ResetHandler:            handler.NewResetHandler(orch),
		FeedbackHandler:         handler.NewFeedbackHandler(orch),
		HistoryHandler:          handler.NewHistoryHandler(orch),
		FlowStatusHandler:       handler.NewFlowStatusHandler(orch),
		EventsHandler:           handler.NewEventsHandler(orch, broadcaster),
	}
	if pgStore != nil {
		deps.ListAnalysesHandler = handler.NewListAnalysesHandler(pgStore)
		deps.AnalysisStatsHandler = handler.NewAnalysisStatsHandler(pgStore)
	}

	router := api.NewRouter(deps)

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	// Request contexts derive from baseCtx so open event streams end on shutdown.
	baseCtx, cancelBase := context.WithCancel(context.Background())
	defer cancelBase()
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
		BaseContext:  func(net.Listener) context.Context { return baseCtx },
	}
	srv.RegisterOnShutdown(cancelBase)

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("server shutdown incomplete", "error", err)
	}

	// Abandon any in-flight station call and let its goroutine observe the reset.
	orch.Reset()
	if err := orch.WaitContext(shutdownCtx); err != nil {
		slog.Warn("workflow tasks still running at exit", "error", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// pinger is anything whose liveness the health endpoint reports.
type pinger interface {
	Ping(ctx context.Context) error
}

type healthCheck struct {
	name   string
	pinger pinger
}

// natsPinger round-trips a PING to the NATS server.
type natsPinger struct {
	conn *nats.Conn
}

func (p natsPinger) Ping(ctx context.Context) error {
	// FlushWithContext rejects contexts without a deadline.
	ctx, cancel := context.WithTimeout(ctx, natsPingTimeout)
	defer cancel()
	return p.conn.FlushWithContext(ctx)
}

// healthHandler reports each dependency as ok or degraded.
func healthHandler(checks ...healthCheck) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		services := make(map[string]string, len(checks))
		degraded := false
		for _, c := range checks {
			services[c.name] = "ok"
			if err := c.pinger.Ping(r.Context()); err != nil {
				slog.Warn("health check failed", "service", c.name, "error", err)
				services[c.name] = "degraded"
				degraded = true
			}
		}

		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", services)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": services,
		})
	}
}
