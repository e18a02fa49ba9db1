package audit

import (
	"context"
	"fmt"
	"time"

	"github.com/utv-amats/amats/internal/rbac"
	"github.com/utv-amats/amats/internal/shared"
)

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	List(ctx context.Context, filters TimelineFilters, limit, offset int) ([]Entry, error)
}

// Service coordinates audit recording, listing and archival.
type Service struct {
	repo RepositoryPort
	now  func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Record appends a standalone entry in its own transaction. Mutations that
// change other tables write their entry through their own transaction instead.
func (s *Service) Record(ctx context.Context, entry Entry) error {
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = s.now().UTC()
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		return tx.Insert(ctx, entry)
	})
}

// Timeline returns one page of entries, newest first.
func (s *Service) Timeline(ctx context.Context, actor shared.Actor, filters TimelineFilters) (Result, error) {
	if err := rbac.AuthorizeActor(actor, rbac.OpViewAudit); err != nil {
		return Result{}, err
	}
	pageSize := filters.PageSize
	if pageSize <= 0 {
		pageSize = defaultPageSize
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	page := filters.Page
	if page <= 0 {
		page = 1
	}
	rows, err := s.repo.List(ctx, filters, pageSize+1, (page-1)*pageSize)
	if err != nil {
		return Result{}, err
	}
	hasNext := len(rows) > pageSize
	if hasNext {
		rows = rows[:pageSize]
	}
	if rows == nil {
		rows = []Entry{}
	}
	paging := PagingInfo{Page: page, PageSize: pageSize, HasNext: hasNext}
	if page > 1 {
		paging.PrevPage = page - 1
	}
	if hasNext {
		paging.NextPage = page + 1
	}
	return Result{Rows: rows, Paging: paging}, nil
}

// Export renders every matching entry as CSV and records the export itself.
func (s *Service) Export(ctx context.Context, actor shared.Actor, filters TimelineFilters) ([]byte, error) {
	if err := rbac.AuthorizeActor(actor, rbac.OpViewAudit); err != nil {
		return nil, err
	}
	rows, err := s.repo.List(ctx, filters, 0, 0)
	if err != nil {
		return nil, err
	}
	payload, err := WriteCSV(rows)
	if err != nil {
		return nil, err
	}
	entry := NewEntry(actor, ActionExport, "audit_log", "", fmt.Sprintf("exported %d audit entries", len(rows)), s.now())
	if err := s.Record(ctx, entry); err != nil {
		return nil, err
	}
	return payload, nil
}

// Archive flags entries as archived. Entries are never deleted; the archival
// is itself audited in the same transaction.
func (s *Service) Archive(ctx context.Context, actor shared.Actor, ids []int64) (int64, error) {
	if err := rbac.AuthorizeActor(actor, rbac.OpManageUsers); err != nil {
		return 0, err
	}
	if len(ids) == 0 {
		return 0, fmt.Errorf("%w: no audit entries selected", shared.ErrValidation)
	}
	var archived int64
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		n, err := tx.Archive(ctx, ids)
		if err != nil {
			return err
		}
		archived = n
		return tx.Insert(ctx, NewEntry(actor, ActionUpdate, "audit_log", "", fmt.Sprintf("archived %d audit entries", n), s.now()))
	})
	if err != nil {
		return 0, err
	}
	return archived, nil
}
