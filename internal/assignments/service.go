package assignments

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/utv-amats/amats/internal/assets"
	"github.com/utv-amats/amats/internal/audit"
	"github.com/utv-amats/amats/internal/rbac"
	"github.com/utv-amats/amats/internal/shared"
)

const entityAsset = "asset"

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (Assignment, error)
	List(ctx context.Context, filter ListFilter) ([]Assignment, int, error)
	ListOverdue(ctx context.Context, now time.Time) ([]Assignment, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	GetAsset(ctx context.Context, assetID int64) (AssetRef, error)
	GetHolder(ctx context.Context, userID int64) (Holder, error)
	// ClaimAsset moves an asset from one status to another only if it still
	// holds the expected status. It reports false when another actor won.
	ClaimAsset(ctx context.Context, assetID int64, from, to assets.Status) (bool, error)
	InsertAssignment(ctx context.Context, a Assignment) (Assignment, error)
	GetAssignmentForUpdate(ctx context.Context, id int64) (Assignment, error)
	// CloseAssignment stamps the return fields and reports false when the
	// assignment was already closed.
	CloseAssignment(ctx context.Context, a Assignment) (bool, error)
	ReleaseAsset(ctx context.Context, assetID int64, to assets.Status, condition assets.Condition) (bool, error)
	InsertMaintenance(ctx context.Context, m assets.MaintenanceRecord) (assets.MaintenanceRecord, error)
	RecordAudit(ctx context.Context, entry audit.Entry) error
}

// Observer receives workflow outcomes for metrics.
type Observer interface {
	ObserveAssignment(op string, err error)
}

// CacheInvalidator drops derived read models after a mutation commits.
type CacheInvalidator interface {
	Bump(ctx context.Context) error
}

// Service runs the issue/return workflow.
type Service struct {
	repo     RepositoryPort
	cache    CacheInvalidator
	observer Observer
	logger   *slog.Logger
	now      func() time.Time
}

// NewService builds Service. cache and observer may be nil.
func NewService(repo RepositoryPort, cache CacheInvalidator, observer Observer, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, observer: observer, logger: logger, now: time.Now}
}

// Issue checks an AVAILABLE asset out to a holder. A second concurrent issue
// of the same asset fails with shared.ErrConflict.
func (s *Service) Issue(ctx context.Context, actor shared.Actor, input IssueInput) (result Assignment, err error) {
	defer func() { s.observe("issue", err) }()
	if err := rbac.AuthorizeActor(actor, rbac.OpIssue); err != nil {
		return Assignment{}, err
	}
	input.Purpose = strings.TrimSpace(input.Purpose)
	if err := shared.Validate(input); err != nil {
		return Assignment{}, err
	}
	now := s.now().UTC()
	if input.DueAt != nil && !input.DueAt.After(now) {
		return Assignment{}, fmt.Errorf("%w: due date must be in the future", shared.ErrValidation)
	}
	if rbac.Role(actor.Role) == rbac.RoleTechnician && input.HolderID != actor.UserID {
		return Assignment{}, fmt.Errorf("%w: technicians may only issue assets to themselves", shared.ErrUnauthorized)
	}

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		asset, err := tx.GetAsset(ctx, input.AssetID)
		if err != nil {
			return err
		}
		if asset.Status != assets.StatusAvailable {
			return fmt.Errorf("%w: asset %s is %s", shared.ErrConflict, asset.Tag, asset.Status)
		}
		holder, err := tx.GetHolder(ctx, input.HolderID)
		if err != nil {
			return err
		}
		if !holder.Active {
			return fmt.Errorf("%w: holder %s is inactive", shared.ErrValidation, holder.Username)
		}
		claimed, err := tx.ClaimAsset(ctx, asset.ID, assets.StatusAvailable, assets.StatusIssued)
		if err != nil {
			return err
		}
		if !claimed {
			return fmt.Errorf("%w: asset %s was issued concurrently", shared.ErrConflict, asset.Tag)
		}
		var dueAt *time.Time
		if input.DueAt != nil {
			d := input.DueAt.UTC()
			dueAt = &d
		}
		result, err = tx.InsertAssignment(ctx, Assignment{
			AssetID:      asset.ID,
			AssetTag:     asset.Tag,
			AssetName:    asset.Name,
			HolderID:     holder.ID,
			HolderName:   displayName(holder),
			HolderEmail:  holder.Email,
			IssuedBy:     actor.ActorID(),
			IssuedByName: actor.String(),
			IssuedAt:     now,
			DueAt:        dueAt,
			Purpose:      input.Purpose,
			ConditionOut: asset.Condition,
			CheckoutAddr: actor.SourceAddr,
		})
		if err != nil {
			return err
		}
		desc := fmt.Sprintf("issued %s to %s", asset.Tag, holder.Username)
		if dueAt != nil {
			desc += " due " + dueAt.Format(time.RFC3339)
		}
		return tx.RecordAudit(ctx, audit.NewEntry(actor, audit.ActionIssue, entityAsset, asset.Tag, desc, now))
	})
	if err != nil {
		return Assignment{}, err
	}
	s.invalidate(ctx)
	return result, nil
}

// Return closes an open assignment. The asset goes back to AVAILABLE, or to
// MAINTENANCE with an open corrective record when the condition or note
// reports damage. Returning twice
// fails with shared.ErrInvalidState.
func (s *Service) Return(ctx context.Context, actor shared.Actor, input ReturnInput) (result Assignment, err error) {
	defer func() { s.observe("return", err) }()
	if err := rbac.AuthorizeActor(actor, rbac.OpReturn); err != nil {
		return Assignment{}, err
	}
	input.Note = strings.TrimSpace(input.Note)
	if err := shared.Validate(input); err != nil {
		return Assignment{}, err
	}
	now := s.now().UTC()

	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		a, err := tx.GetAssignmentForUpdate(ctx, input.AssignmentID)
		if err != nil {
			return err
		}
		holderID := a.HolderID
		if err := rbac.AuthorizeAsset(actor, rbac.OpReturn, rbac.AssetScope{Status: string(assets.StatusIssued), HolderID: &holderID}); err != nil {
			return err
		}
		if !a.Open() {
			return fmt.Errorf("%w: assignment %d was already returned", shared.ErrInvalidState, a.ID)
		}
		a.ReturnedAt = &now
		a.ReturnedBy = actor.ActorID()
		a.ConditionReturned = input.Condition
		a.ReturnNote = input.Note
		a.ReturnAddr = actor.SourceAddr
		closed, err := tx.CloseAssignment(ctx, a)
		if err != nil {
			return err
		}
		if !closed {
			return fmt.Errorf("%w: assignment %d was already returned", shared.ErrInvalidState, a.ID)
		}
		target := assets.StatusAvailable
		if IndicatesDamage(input.Condition, input.Note) {
			target = assets.StatusMaintenance
		}
		released, err := tx.ReleaseAsset(ctx, a.AssetID, target, input.Condition)
		if err != nil {
			return err
		}
		if !released {
			return fmt.Errorf("%w: asset %s changed state during return", shared.ErrConflict, a.AssetTag)
		}
		if target == assets.StatusMaintenance {
			desc := "damage reported on return"
			if input.Note != "" {
				desc += ": " + input.Note
			}
			if _, err := tx.InsertMaintenance(ctx, assets.MaintenanceRecord{
				AssetID:     a.AssetID,
				AssetTag:    a.AssetTag,
				Type:        assets.MaintenanceCorrective,
				Description: desc,
				PerformedBy: actor.ActorID(),
				PerformedAt: now,
			}); err != nil {
				return err
			}
		}
		result = a
		desc := fmt.Sprintf("returned %s from %s, now %s", a.AssetTag, a.HolderName, target)
		if input.Note != "" {
			desc += ": " + input.Note
		}
		return tx.RecordAudit(ctx, audit.NewEntry(actor, audit.ActionReturn, entityAsset, a.AssetTag, desc, now))
	})
	if err != nil {
		return Assignment{}, err
	}
	s.invalidate(ctx)
	return result, nil
}

// OverdueScan lists open assignments whose due time has passed. It never
// mutates state and is safe to call repeatedly.
func (s *Service) OverdueScan(ctx context.Context) ([]Assignment, error) {
	return s.repo.ListOverdue(ctx, s.now().UTC())
}

// Overdue is OverdueScan for an interactive caller; technicians only see their own.
func (s *Service) Overdue(ctx context.Context, actor shared.Actor) ([]Assignment, error) {
	if err := rbac.AuthorizeActor(actor, rbac.OpView); err != nil {
		return nil, err
	}
	rows, err := s.OverdueScan(ctx)
	if err != nil {
		return nil, err
	}
	if rbac.Role(actor.Role) != rbac.RoleTechnician {
		return rows, nil
	}
	own := rows[:0:0]
	for _, a := range rows {
		if a.HolderID == actor.UserID {
			own = append(own, a)
		}
	}
	return own, nil
}

// Get loads one assignment the actor may see.
func (s *Service) Get(ctx context.Context, actor shared.Actor, id int64) (Assignment, error) {
	if err := rbac.AuthorizeActor(actor, rbac.OpView); err != nil {
		return Assignment{}, err
	}
	a, err := s.repo.Get(ctx, id)
	if err != nil {
		return Assignment{}, err
	}
	if rbac.Role(actor.Role) == rbac.RoleTechnician && a.HolderID != actor.UserID {
		return Assignment{}, fmt.Errorf("%w: assignment belongs to another holder", shared.ErrUnauthorized)
	}
	return a, nil
}

// List pages through assignment history, newest first.
func (s *Service) List(ctx context.Context, actor shared.Actor, filter ListFilter) ([]Assignment, shared.Pagination, error) {
	if err := rbac.AuthorizeActor(actor, rbac.OpView); err != nil {
		return nil, shared.Pagination{}, err
	}
	if rbac.Role(actor.Role) == rbac.RoleTechnician {
		filter.HolderID = actor.UserID
	}
	filter.Page, filter.PerPage = shared.NormalizePage(filter.Page, filter.PerPage)
	rows, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return rows, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

func (s *Service) observe(op string, err error) {
	if s.observer != nil {
		s.observer.ObserveAssignment(op, err)
	}
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("report cache bump failed", slog.Any("error", err))
	}
}

func displayName(h Holder) string {
	if h.FullName != "" {
		return h.FullName
	}
	return h.Username
}
