package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/sitedrop/sitedrop/internal/app/migrate"
	httpx "github.com/sitedrop/sitedrop/internal/http"
	"github.com/sitedrop/sitedrop/internal/repository/postgres"
	"github.com/sitedrop/sitedrop/internal/service/deploy"
	"github.com/sitedrop/sitedrop/internal/service/janitor"
	"github.com/sitedrop/sitedrop/internal/service/staging"
	"github.com/sitedrop/sitedrop/internal/ws"
	"github.com/sitedrop/sitedrop/pkg/config"
	"github.com/sitedrop/sitedrop/pkg/logger"
)

func main() {
	cfg := config.LoadAPIConfig()
	log := logger.New("api", slog.LevelInfo)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Error("failed to connect to database", "error", err)
		os.Exit(1)
	}

	runner, err := migrate.New(pool, cfg.DatabaseURL, cfg.MigrationsDir, log)
	if err != nil {
		log.Error("failed to configure migrations", "error", err)
		os.Exit(1)
	}
	defer runner.Close()
	if err := runner.Ping(ctx); err != nil {
		log.Error("database ping failed", "error", err)
		os.Exit(1)
	}
	if err := runner.Ensure(ctx); err != nil {
		log.Error("migrations failed", "error", err)
		os.Exit(1)
	}

	repo := postgres.New(pool)

	workspace, err := staging.NewManager(cfg.StagingRoot)
	if err != nil {
		log.Error("failed to prepare staging root", "error", err)
		os.Exit(1)
	}
	pipeline := staging.New(workspace, log)

	jan := janitor.New(workspace.Cleanup, log)
	defer jan.Close()

	hub := ws.NewHub()
	defer hub.Close()
	publisher := deploy.StaticPublisher{Domain: cfg.DeployDomain}

	deploySvc := deploy.New(repo, repo, pipeline, jan, publisher, hub, log, cfg)
	if err := deploySvc.Load(ctx); err != nil {
		log.Error("failed to load quota state", "error", err)
		os.Exit(1)
	}

	limiter := httpx.NewMemoryRateLimiter()
	if addr := strings.TrimSpace(cfg.RateLimitRedisAddr); addr != "" {
		redisLimiter, err := httpx.NewRedisRateLimiter(addr, cfg.RateLimitRedisPass, cfg.RateLimitRedisDB, log)
		if err != nil {
			log.Warn("redis rate limiter unavailable", "error", err)
		} else {
			limiter.Close()
			limiter = redisLimiter
		}
	}

	router := httpx.NewRouter(log, deploySvc, limiter, pool.Ping, cfg.SSEHeartbeat)
	defer router.Close()

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	errorCh := make(chan error, 1)
	go func() {
		log.Info("api server starting", "addr", cfg.Addr)
		errorCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			log.Error("graceful shutdown failed", "error", err)
		}
		log.Info("api server stopped")
	case err := <-errorCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", "error", err)
			os.Exit(1)
		}
	}
}
