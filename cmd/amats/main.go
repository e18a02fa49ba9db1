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

	"github.com/hibiken/asynq"

	"github.com/utv-amats/amats/internal/app"
	"github.com/utv-amats/amats/internal/assets"
	"github.com/utv-amats/amats/internal/assignments"
	audithttp "github.com/utv-amats/amats/internal/audit/http"
	"github.com/utv-amats/amats/internal/auth"
	"github.com/utv-amats/amats/internal/notifications"
	"github.com/utv-amats/amats/internal/observability"
	"github.com/utv-amats/amats/internal/platform/cache"
	"github.com/utv-amats/amats/internal/platform/db"
	"github.com/utv-amats/amats/internal/platform/migrations"
	"github.com/utv-amats/amats/internal/presence"
	"github.com/utv-amats/amats/internal/rbac"
	"github.com/utv-amats/amats/internal/report"
	"github.com/utv-amats/amats/internal/shared"
	"github.com/utv-amats/amats/internal/users"
	"github.com/utv-amats/amats/jobs"
)

func main() {
	if app.InTestMode() {
		slog.Default().Info("test mode detected, skipping runtime startup")
		return
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := app.LoadConfig()
	if err != nil {
		slog.Default().Error("load config", slog.Any("error", err))
		os.Exit(1)
	}

	logger := app.NewLogger(cfg)

	if cfg.AutoMigrate {
		if err := migrations.Up(cfg.PGDSN); err != nil {
			logger.Error("apply migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	dbpool, err := db.New(ctx, cfg.PGDSN, cfg.PGMaxConns)
	if err != nil {
		logger.Error("connect postgres", slog.Any("error", err))
		os.Exit(1)
	}
	defer dbpool.Close()

	redisClient, err := cache.New(ctx, cfg.RedisAddr)
	if err != nil {
		logger.Error("connect redis", slog.Any("error", err))
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logger.Warn("redis close", slog.Any("error", err))
		}
	}()

	metrics := observability.NewMetrics()
	services := app.NewServices(cfg, dbpool, redisClient, metrics, logger)
	sessionManager := shared.NewSessionManager(redisClient, "amats_session", cfg.SessionSecret, cfg.SessionTTL, cfg.IsProduction())
	rbacMiddleware := rbac.Middleware{Logger: logger}

	inspector := asynq.NewInspector(asynq.RedisClientOpt{Addr: cfg.RedisAddr})
	defer func() {
		if err := inspector.Close(); err != nil {
			logger.Warn("inspector close", slog.Any("error", err))
		}
	}()

	router := app.NewRouter(app.RouterParams{
		Logger:             logger,
		Config:             cfg,
		SessionManager:     sessionManager,
		AuthService:        services.Auth,
		Pool:               dbpool,
		Redis:              redisClient,
		RBACMiddleware:     rbacMiddleware,
		AuthHandler:        auth.NewHandler(logger, services.Auth, sessionManager, rbacMiddleware),
		AssetsHandler:      assets.NewHandler(logger, services.Assets, rbacMiddleware),
		AssignmentsHandler: assignments.NewHandler(logger, services.Assignments, rbacMiddleware, services.Idempotency),
		PresenceHandler:    presence.NewHandler(logger, services.Presence, rbacMiddleware),
		UsersHandler:       users.NewHandler(logger, services.Users, rbacMiddleware),
		AuditHandler:       audithttp.NewHandler(logger, services.Audit),
		ReportHandler:      report.NewHandler(logger, services.Reports, rbacMiddleware),
		JobHandler:         jobs.NewHandler(inspector, logger, rbacMiddleware),
		PermissionsHandler: rbac.NewPermissionsHandler(rbacMiddleware),
		NotifyHandler:      notifications.NewHandler(logger, services.Notifications, rbacMiddleware),
		Metrics:            metrics,
	})

	server := &http.Server{
		Addr:         cfg.AppAddr,
		Handler:      router,
		ReadTimeout:  cfg.AppReadTimeout,
		WriteTimeout: cfg.AppWriteTimeout,
	}

	go func() {
		logger.Info("starting http server", slog.String("addr", cfg.AppAddr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("http server", slog.Any("error", err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown", slog.Any("error", err))
	}
}
