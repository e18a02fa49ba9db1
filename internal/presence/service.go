package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/netip"
	"slices"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
	"golang.org/x/sync/singleflight"

	"github.com/utv-amats/amats/internal/assets"
	"github.com/utv-amats/amats/internal/audit"
	"github.com/utv-amats/amats/internal/rbac"
	"github.com/utv-amats/amats/internal/shared"
)

const (
	entityAsset   = "asset"
	entityNetwork = "network"
)

var errStale = errors.New("presence: asset changed since snapshot")

// applyGrace bounds the database work after the sweep itself timed out.
const applyGrace = time.Minute

// passActor attributes per-asset presence changes. They follow from the
// network, not from whoever requested the pass.
var passActor = shared.SystemActor("presence")

// Collaborator performs the network sweep for one pass.
type Collaborator interface {
	Scan(ctx context.Context, subnet netip.Prefix, timeout time.Duration) ([]Observation, error)
}

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Snapshot(ctx context.Context) ([]Tracked, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	// ApplyUpdate writes u only when the asset still has u.From and
	// u.PrevLastSeen, reporting false otherwise.
	ApplyUpdate(ctx context.Context, u Update) (bool, error)
	RecordAudit(ctx context.Context, entry audit.Entry) error
}

// Metrics receives per-pass counters.
type Metrics interface {
	AddTransitions(to string, count int)
	AddUnknownDevices(count int)
}

// CacheInvalidator drops derived read models after a pass changed statuses.
type CacheInvalidator interface {
	Bump(ctx context.Context) error
}

// Config holds the scan defaults.
type Config struct {
	Subnet    string
	Timeout   time.Duration
	Threshold time.Duration
}

// Service applies scan passes to the registry.
type Service struct {
	repo    RepositoryPort
	scanner Collaborator
	cfg     Config
	metrics Metrics
	cache   CacheInvalidator
	logger  *slog.Logger
	group   singleflight.Group
	now     func() time.Time
}

// NewService builds the presence service. metrics and cache may be nil.
func NewService(repo RepositoryPort, scanner Collaborator, cfg Config, metrics Metrics, cache CacheInvalidator, logger *slog.Logger) *Service {
	if cfg.Timeout <= 0 {
		cfg.Timeout = time.Minute
	}
	if cfg.Threshold <= 0 {
		cfg.Threshold = 24 * time.Hour
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		repo:    repo,
		scanner: scanner,
		cfg:     cfg,
		metrics: metrics,
		cache:   cache,
		logger:  logger,
		now:     time.Now,
	}
}

// RunScan sweeps the subnet, reconciles the result against the registry and
// applies each asset change in its own transaction. Concurrent passes over
// the same subnet share one execution, which is detached from any single
// caller's cancellation. Every caller gets its own SCAN audit entry.
func (s *Service) RunScan(ctx context.Context, actor shared.Actor, req ScanRequest) (Report, error) {
	if err := rbac.AuthorizeActor(actor, rbac.OpRunScan); err != nil {
		return Report{}, err
	}
	raw := strings.TrimSpace(req.Subnet)
	if raw == "" {
		raw = s.cfg.Subnet
	}
	subnet, err := netip.ParsePrefix(raw)
	if err != nil {
		return Report{}, fmt.Errorf("%w: invalid subnet %q", shared.ErrValidation, raw)
	}
	subnet = subnet.Masked()
	timeout := req.Timeout
	if timeout <= 0 {
		timeout = s.cfg.Timeout
	}

	resultChan := s.group.DoChan(shared.PresenceScanKey(subnet.String()), func() (any, error) {
		passCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), timeout+applyGrace)
		defer cancel()
		return s.run(passCtx, subnet, timeout)
	})
	var report Report
	select {
	case <-ctx.Done():
		return Report{}, ctx.Err()
	case res := <-resultChan:
		if res.Err != nil {
			return Report{}, res.Err
		}
		report = res.Val.(Report)
	}

	summary := audit.NewEntry(actor, audit.ActionScan, entityNetwork, report.RunID, report.summary(), report.FinishedAt)
	if err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.RecordAudit(ctx, summary)
	}); err != nil {
		return Report{}, err
	}
	return report, nil
}

func (s *Service) run(ctx context.Context, subnet netip.Prefix, timeout time.Duration) (Report, error) {
	report := Report{
		RunID:     ulid.Make().String(),
		Subnet:    subnet.String(),
		StartedAt: s.now().UTC(),
	}
	logger := s.logger.With(slog.String("run_id", report.RunID), slog.String("subnet", report.Subnet))

	observations, err := s.scanner.Scan(ctx, subnet, timeout)
	if err != nil {
		if !errors.Is(err, shared.ErrScan) && ctx.Err() == nil {
			err = fmt.Errorf("%w: %v", shared.ErrScan, err)
		}
		return Report{}, err
	}
	snapshot, err := s.repo.Snapshot(ctx)
	if err != nil {
		return Report{}, fmt.Errorf("%w: load presence snapshot: %v", shared.ErrStorage, err)
	}
	now := s.now().UTC()
	result := Reconcile(snapshot, slices.Values(observations), s.cfg.Threshold, now)
	report.Responded = result.Responded
	report.Matched = result.Matched
	report.Unknown = result.Unknown

	transitions := map[assets.Status]int{}
	for _, u := range result.Updates {
		err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
			ok, err := tx.ApplyUpdate(ctx, u)
			if err != nil {
				return err
			}
			if !ok {
				return errStale
			}
			if u.Event == "" {
				return nil
			}
			entry := audit.NewEntry(passActor, u.Event, entityAsset, u.Tag, u.Describe(s.cfg.Threshold), now)
			return tx.RecordAudit(ctx, entry)
		})
		if errors.Is(err, errStale) {
			report.Skipped++
			logger.Info("presence update skipped, asset changed concurrently", slog.String("asset_tag", u.Tag))
			continue
		}
		if err != nil {
			return Report{}, err
		}
		switch u.Event {
		case audit.ActionMissing:
			report.Missing = append(report.Missing, u.Tag)
			transitions[u.To]++
		case audit.ActionReacquired:
			report.Reacquired = append(report.Reacquired, u.Tag)
			transitions[u.To]++
		}
	}

	report.FinishedAt = s.now().UTC()

	if s.metrics != nil {
		for to, n := range transitions {
			s.metrics.AddTransitions(string(to), n)
		}
		s.metrics.AddUnknownDevices(len(report.Unknown))
	}
	if len(transitions) > 0 && s.cache != nil {
		if err := s.cache.Bump(ctx); err != nil {
			logger.Warn("report cache bump failed", slog.Any("error", err))
		}
	}
	logger.Info("presence scan applied",
		slog.Int("responded", report.Responded),
		slog.Int("matched", report.Matched),
		slog.Int("missing", len(report.Missing)),
		slog.Int("reacquired", len(report.Reacquired)),
		slog.Int("unknown", len(report.Unknown)),
		slog.Int("skipped", report.Skipped))
	return report, nil
}

func (r Report) summary() string {
	return fmt.Sprintf("scan %s: %d responded, %d matched, %d missing, %d reacquired, %d unknown, %d skipped",
		r.Subnet, r.Responded, r.Matched, len(r.Missing), len(r.Reacquired), len(r.Unknown), r.Skipped)
}
