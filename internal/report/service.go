package report

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/utv-amats/amats/internal/assets"
	"github.com/utv-amats/amats/internal/assignments"
	"github.com/utv-amats/amats/internal/audit"
	"github.com/utv-amats/amats/internal/rbac"
	"github.com/utv-amats/amats/internal/shared"
)

// RepositoryPort is the read model behind reports.
type RepositoryPort interface {
	Inventory(ctx context.Context) ([]assets.Asset, error)
	Assignments(ctx context.Context) ([]assignments.Assignment, error)
	Overdue(ctx context.Context, now time.Time) ([]assignments.Assignment, error)
	Summary(ctx context.Context, now time.Time) (Summary, error)
}

// SummaryCache stores summaries under a versioned key.
type SummaryCache interface {
	BuildKey(ctx context.Context, parts ...string) (string, error)
	FetchJSON(ctx context.Context, key string, dest any, loader func(context.Context) (any, error)) error
}

// Recorder appends standalone audit entries.
type Recorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Export is a rendered report ready for download.
type Export struct {
	Kind     Kind
	Filename string
	Rows     int
	Body     []byte
}

// Service renders exports and the registry summary.
type Service struct {
	repo   RepositoryPort
	cache  SummaryCache
	audit  Recorder
	logger *slog.Logger
	now    func() time.Time
}

// NewService constructs the report service. A nil cache disables caching.
func NewService(repo RepositoryPort, cache SummaryCache, audit Recorder, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, audit: audit, logger: logger, now: time.Now}
}

// Export renders kind as CSV and records an EXPORT entry. The export fails
// when the entry cannot be written.
func (s *Service) Export(ctx context.Context, actor shared.Actor, kind Kind) (Export, error) {
	if err := rbac.AuthorizeActor(actor, rbac.OpExportReport); err != nil {
		return Export{}, err
	}
	now := s.now().UTC()
	var (
		body []byte
		rows int
		err  error
	)
	switch kind {
	case KindInventory:
		var list []assets.Asset
		if list, err = s.repo.Inventory(ctx); err == nil {
			rows = len(list)
			body, err = WriteInventoryCSV(list)
		}
	case KindAssignments:
		var list []assignments.Assignment
		if list, err = s.repo.Assignments(ctx); err == nil {
			rows = len(list)
			body, err = WriteAssignmentsCSV(list)
		}
	case KindOverdue:
		var list []assignments.Assignment
		if list, err = s.repo.Overdue(ctx, now); err == nil {
			rows = len(list)
			body, err = WriteOverdueCSV(list, now)
		}
	default:
		return Export{}, fmt.Errorf("%w: unknown report %q", shared.ErrValidation, kind)
	}
	if err != nil {
		return Export{}, fmt.Errorf("report: %s: %w", kind, err)
	}

	entry := audit.NewEntry(actor, audit.ActionExport, "report", string(kind),
		fmt.Sprintf("exported %s report (%d rows)", kind, rows), now)
	if err := s.audit.Record(ctx, entry); err != nil {
		return Export{}, err
	}
	return Export{Kind: kind, Filename: kind.Filename(now), Rows: rows, Body: body}, nil
}

// Summary returns status and category counts, served from cache until the
// registry changes.
func (s *Service) Summary(ctx context.Context, actor shared.Actor) (Summary, error) {
	if err := rbac.AuthorizeActor(actor, rbac.OpExportReport); err != nil {
		return Summary{}, err
	}
	load := func(ctx context.Context) (any, error) {
		return s.repo.Summary(ctx, s.now().UTC())
	}
	if s.cache == nil {
		return s.repo.Summary(ctx, s.now().UTC())
	}
	key, err := s.cache.BuildKey(ctx, "summary")
	if err != nil {
		s.logger.Warn("report cache unavailable", slog.Any("error", err))
		return s.repo.Summary(ctx, s.now().UTC())
	}
	var out Summary
	if err := s.cache.FetchJSON(ctx, key, &out, load); err != nil {
		return Summary{}, err
	}
	return out, nil
}
