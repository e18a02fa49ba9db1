package app

import (
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"github.com/utv-amats/amats/internal/assets"
	"github.com/utv-amats/amats/internal/assignments"
	"github.com/utv-amats/amats/internal/audit"
	"github.com/utv-amats/amats/internal/auth"
	"github.com/utv-amats/amats/internal/notifications"
	"github.com/utv-amats/amats/internal/observability"
	"github.com/utv-amats/amats/internal/platform/cache"
	"github.com/utv-amats/amats/internal/presence"
	"github.com/utv-amats/amats/internal/report"
	"github.com/utv-amats/amats/internal/shared"
	"github.com/utv-amats/amats/internal/users"
)

const reportCacheNamespace = "amats:reports"

// Services holds the domain services shared by the API, worker and CLI.
type Services struct {
	Audit         *audit.Service
	Users         *users.Service
	Auth          *auth.Service
	Assets        *assets.Service
	Assignments   *assignments.Service
	Presence      *presence.Service
	Reports       *report.Service
	Notifications *notifications.Service
	Idempotency   *shared.IdempotencyStore
	ReportCache   *cache.Versioned
}

// NewServices wires repositories and services. A nil redis client disables
// report caching; a nil metrics leaves workflow counters unset.
func NewServices(cfg *Config, pool *pgxpool.Pool, redisClient *redis.Client, metrics *observability.Metrics, logger *slog.Logger) *Services {
	reportCache := cache.NewVersioned(redisClient, reportCacheNamespace, cfg.ReportCacheTTL)

	auditService := audit.NewService(audit.NewRepository(pool))
	userService := users.NewService(users.NewRepository(pool))
	assetService := assets.NewService(assets.NewRepository(pool), reportCache, logger)

	var observer assignments.Observer
	var presenceMetrics presence.Metrics
	if metrics != nil {
		observer = metrics
		presenceMetrics = metrics.Jobs()
	}
	assignmentService := assignments.NewService(assignments.NewRepository(pool), reportCache, observer, logger)

	scanner := presence.NewScanner(presence.ScannerConfig{
		Concurrency: cfg.ScanConcurrency,
		PingTimeout: cfg.ScanPingTimeout,
		Privileged:  cfg.ScanPrivileged,
		ProcRoot:    cfg.ScanProcRoot,
	}, logger)
	presenceService := presence.NewService(presence.NewRepository(pool), scanner, presence.Config{
		Subnet:    cfg.ScanSubnet,
		Timeout:   cfg.ScanTimeout,
		Threshold: cfg.PresenceThreshold,
	}, presenceMetrics, reportCache, logger)

	var summaryCache report.SummaryCache
	if redisClient != nil {
		summaryCache = reportCache
	}
	reportService := report.NewService(report.NewRepository(pool), summaryCache, auditService, logger)

	return &Services{
		Audit:         auditService,
		Users:         userService,
		Auth:          auth.NewService(userService, auditService),
		Assets:        assetService,
		Assignments:   assignmentService,
		Presence:      presenceService,
		Reports:       reportService,
		Notifications: notifications.NewService(notifications.NewRepository(pool)),
		Idempotency:   shared.NewIdempotencyStore(pool),
		ReportCache:   reportCache,
	}
}
