package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"callhub/internal/audit"
	"callhub/internal/auth"
	"callhub/internal/calls"
	"callhub/internal/channels"
	"callhub/internal/config"
	"callhub/internal/events"
	"callhub/internal/httpapi"
	"callhub/internal/rooms"
	"callhub/pkg/logger"
	"callhub/pkg/utils"

	"github.com/gin-gonic/gin"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/joho/godotenv"
)

func main() {
	// Root context that cancels on shutdown
	rootCtx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// A missing .env is normal outside local development.
	_ = godotenv.Load()

	cfg, err := config.Load()
	if err != nil {
		slog.Error("config load failed", "err", err)
		os.Exit(1)
	}

	log := logger.New(cfg.App.Env, cfg.App.LogLevel)
	slog.SetDefault(log)

	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	authManager, err := auth.NewManager(cfg.Auth)
	if err != nil {
		log.Error("auth init failed", "err", err)
		os.Exit(1)
	}

	db, err := utils.OpenPostgres(rootCtx, "pgx", cfg.PostgresDSN(), utils.PostgresPoolConfig{})
	if err != nil {
		log.Error("postgres init failed", "err", err)
		os.Exit(1)
	}
	defer db.Close()

	rdb, err := utils.OpenRedis(rootCtx, utils.RedisConfig{Addr: cfg.RedisAddr()})
	if err != nil {
		log.Error("redis init failed", "err", err)
		os.Exit(1)
	}
	defer rdb.Close()

	sessions := calls.NewPostgresRepo(db)
	auditRepo := audit.NewPostgresRepo(db)
	directory := channels.NewPostgresDirectory(db)
	for name, migrate := range map[string]func(context.Context) error{
		"call_sessions":     sessions.Migrate,
		"call_audit_events": auditRepo.Migrate,
		"channels":          directory.Migrate,
	} {
		if err := migrate(rootCtx); err != nil {
			log.Error("schema migration failed", "table", name, "err", err)
			os.Exit(1)
		}
	}

	provider, err := rooms.NewVideoSDKProvider(cfg.Provider, nil)
	if err != nil {
		log.Error("provider init failed", "err", err)
		os.Exit(1)
	}

	opts := calls.Options{
		Locker:          calls.NewRedisLocker(rdb, cfg.Calls.BeginLockTTL, cfg.Calls.BeginLockWait),
		Audit:           audit.NewService(auditRepo),
		Events:          events.NewRedisPublisher(rdb),
		ProviderTimeout: cfg.Provider.Timeout,
	}
	h := httpapi.Handlers{
		Calls:         calls.NewService(sessions, provider, directory, opts),
		Reconciler:    calls.NewReconciler(sessions, provider, opts),
		WebhookSecret: cfg.Provider.WebhookSecret,
	}

	r := gin.New()
	r.Use(gin.Recovery())
	r.Use(logger.Middleware(log))
	r.Use(httpapi.ClientIP())

	registerRoutes(r, h, auth.RequireAccessToken(authManager), func(ctx context.Context) error {
		if err := utils.HealthCheck(ctx, db, 2*time.Second); err != nil {
			return err
		}
		return rdb.Ping(ctx).Err()
	})

	srv := &http.Server{
		Addr:              cfg.HTTPAddr(),
		Handler:           r,
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       15 * time.Second,
		WriteTimeout:      30 * time.Second,
		IdleTimeout:       60 * time.Second,
	}

	go func() {
		log.Info("api listening", "addr", srv.Addr, "env", cfg.App.Env, "provider", provider.Name())
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("http server failed", "err", err)
			stop()
		}
	}()

	<-rootCtx.Done()
	log.Info("shutdown initiated")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 20*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("http shutdown failed", "err", err)
	}
}
