package app

import (
	"context"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/utv-amats/amats/internal/assets"
	"github.com/utv-amats/amats/internal/assignments"
	audithttp "github.com/utv-amats/amats/internal/audit/http"
	"github.com/utv-amats/amats/internal/auth"
	"github.com/utv-amats/amats/internal/notifications"
	"github.com/utv-amats/amats/internal/observability"
	"github.com/utv-amats/amats/internal/platform/httpx"
	"github.com/utv-amats/amats/internal/presence"
	"github.com/utv-amats/amats/internal/rbac"
	"github.com/utv-amats/amats/internal/report"
	"github.com/utv-amats/amats/internal/shared"
	"github.com/utv-amats/amats/internal/users"
	"github.com/utv-amats/amats/jobs"
)

// RouterParams groups dependencies for building the HTTP router.
type RouterParams struct {
	Logger         *slog.Logger
	Config         *Config
	SessionManager *shared.SessionManager
	AuthService    *auth.Service
	Pool           *pgxpool.Pool
	Redis          *redis.Client
	RBACMiddleware rbac.Middleware

	AuthHandler        *auth.Handler
	AssetsHandler      *assets.Handler
	AssignmentsHandler *assignments.Handler
	PresenceHandler    *presence.Handler
	UsersHandler       *users.Handler
	AuditHandler       *audithttp.Handler
	ReportHandler      *report.Handler
	JobHandler         *jobs.Handler
	PermissionsHandler *rbac.PermissionsHandler
	NotifyHandler      *notifications.Handler
	Metrics            *observability.Metrics
}

type healthResponse struct {
	Status   string            `json:"status"`
	Services map[string]string `json:"services"`
}

// NewRouter constructs the chi.Router with AMATS defaults.
func NewRouter(params RouterParams) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", healthHandler(params))
	if params.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", params.Metrics.Handler())
	}

	r.Group(func(r chi.Router) {
		for _, mw := range MiddlewareStack(MiddlewareConfig{
			Logger:         params.Logger,
			Config:         params.Config,
			SessionManager: params.SessionManager,
			Auth:           params.AuthService,
			Metrics:        params.Metrics,
		}) {
			r.Use(mw)
		}
		r.Use(chimw.Logger)

		r.Route("/auth", params.AuthHandler.MountRoutes)
		if params.AssetsHandler != nil {
			params.AssetsHandler.MountRoutes(r)
		}
		if params.AssignmentsHandler != nil {
			params.AssignmentsHandler.MountRoutes(r)
		}
		if params.PresenceHandler != nil {
			params.PresenceHandler.MountRoutes(r)
		}
		if params.UsersHandler != nil {
			params.UsersHandler.MountRoutes(r)
		}
		if params.NotifyHandler != nil {
			params.NotifyHandler.MountRoutes(r)
		}
		if params.AuditHandler != nil {
			params.AuditHandler.MountRoutes(r, params.RBACMiddleware)
		}
		if params.ReportHandler != nil {
			r.Route("/reports", params.ReportHandler.MountRoutes)
		}
		if params.JobHandler != nil {
			r.Route("/jobs", params.JobHandler.MountRoutes)
		}
		if params.PermissionsHandler != nil {
			r.Route("/permissions", params.PermissionsHandler.MountRoutes)
		}
	})

	return r
}

func healthHandler(params RouterParams) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
		defer cancel()
		out := healthResponse{Status: "ok", Services: map[string]string{}}
		if params.Pool != nil {
			out.Services["postgres"] = probe(params.Pool.Ping(ctx))
		}
		if params.Redis != nil {
			out.Services["redis"] = probe(params.Redis.Ping(ctx).Err())
		}
		status := http.StatusOK
		for name, state := range out.Services {
			if state != "ok" {
				out.Status = "degraded"
				status = http.StatusServiceUnavailable
				if params.Logger != nil {
					params.Logger.Warn("health check failed", slog.String("service", name))
				}
			}
		}
		httpx.JSON(w, status, out)
	}
}

func probe(err error) string {
	if err != nil {
		return "unavailable"
	}
	return "ok"
}
