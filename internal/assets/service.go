package assets

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strconv"
	"strings"
	"time"

	"github.com/utv-amats/amats/internal/audit"
	"github.com/utv-amats/amats/internal/rbac"
	"github.com/utv-amats/amats/internal/shared"
)

const entityAsset = "asset"
const entityCategory = "asset_category"

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	GetAsset(ctx context.Context, id int64) (Asset, error)
	ListAssets(ctx context.Context, filter ListFilter) ([]Asset, int, error)
	ListCategories(ctx context.Context) ([]Category, error)
	ListMaintenance(ctx context.Context, assetID int64) ([]MaintenanceRecord, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	GetCategory(ctx context.Context, id int64) (Category, error)
	InsertCategory(ctx context.Context, c Category) (Category, error)
	DeleteCategory(ctx context.Context, id int64) error
	CountAssetsInCategory(ctx context.Context, id int64) (int, error)
	TagExists(ctx context.Context, tag string) (bool, error)
	InsertAsset(ctx context.Context, a Asset) (Asset, error)
	GetAssetForUpdate(ctx context.Context, id int64) (Asset, error)
	UpdateAsset(ctx context.Context, a Asset) error
	InsertMaintenance(ctx context.Context, m MaintenanceRecord) (MaintenanceRecord, error)
	// CloseMaintenance completes every open record of the asset.
	CloseMaintenance(ctx context.Context, assetID int64, resolution string, at time.Time) (int, error)
	RecordAudit(ctx context.Context, entry audit.Entry) error
}

// CacheInvalidator drops derived read models after a mutation commits.
type CacheInvalidator interface {
	Bump(ctx context.Context) error
}

// Service coordinates the asset registry.
type Service struct {
	repo   RepositoryPort
	cache  CacheInvalidator
	logger *slog.Logger
	now    func() time.Time
	intn   func(int) int
}

// NewService builds Service. cache may be nil.
func NewService(repo RepositoryPort, cache CacheInvalidator, logger *slog.Logger) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{repo: repo, cache: cache, logger: logger, now: time.Now, intn: rand.IntN}
}

// CreateCategory adds a category.
func (s *Service) CreateCategory(ctx context.Context, actor shared.Actor, input CategoryInput) (Category, error) {
	if err := rbac.AuthorizeActor(actor, rbac.OpCreateAsset); err != nil {
		return Category{}, err
	}
	input.Name = strings.TrimSpace(input.Name)
	if err := shared.Validate(input); err != nil {
		return Category{}, err
	}
	var created Category
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		var err error
		created, err = tx.InsertCategory(ctx, Category{Name: input.Name, Description: strings.TrimSpace(input.Description), CreatedAt: s.now().UTC()})
		if err != nil {
			return err
		}
		return tx.RecordAudit(ctx, audit.NewEntry(actor, audit.ActionCreate, entityCategory, idString(created.ID),
			fmt.Sprintf("created category %s", created.Name), s.now()))
	})
	if err != nil {
		return Category{}, err
	}
	return created, nil
}

// ListCategories returns every category ordered by name.
func (s *Service) ListCategories(ctx context.Context, actor shared.Actor) ([]Category, error) {
	if err := rbac.AuthorizeActor(actor, rbac.OpView); err != nil {
		return nil, err
	}
	return s.repo.ListCategories(ctx)
}

// DeleteCategory removes an unreferenced category.
func (s *Service) DeleteCategory(ctx context.Context, actor shared.Actor, id int64) error {
	if err := rbac.AuthorizeActor(actor, rbac.OpCreateAsset); err != nil {
		return err
	}
	return s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		cat, err := tx.GetCategory(ctx, id)
		if err != nil {
			return err
		}
		n, err := tx.CountAssetsInCategory(ctx, id)
		if err != nil {
			return err
		}
		if n > 0 {
			return fmt.Errorf("%w: category %s still has %d assets", shared.ErrInvalidState, cat.Name, n)
		}
		if err := tx.DeleteCategory(ctx, id); err != nil {
			return err
		}
		return tx.RecordAudit(ctx, audit.NewEntry(actor, audit.ActionDelete, entityCategory, idString(id),
			fmt.Sprintf("deleted category %s", cat.Name), s.now()))
	})
}

// CreateAsset registers a new asset in AVAILABLE state.
func (s *Service) CreateAsset(ctx context.Context, actor shared.Actor, input CreateAssetInput) (Asset, error) {
	if err := rbac.AuthorizeActor(actor, rbac.OpCreateAsset); err != nil {
		return Asset{}, err
	}
	if err := shared.Validate(input); err != nil {
		return Asset{}, err
	}
	mac, err := NormalizeMAC(input.MACAddress)
	if err != nil {
		return Asset{}, err
	}
	condition := input.Condition
	if condition == "" {
		condition = ConditionGood
	}

	var created Asset
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		cat, err := tx.GetCategory(ctx, input.CategoryID)
		if err != nil {
			return err
		}
		tag := strings.ToUpper(strings.TrimSpace(input.Tag))
		if tag == "" {
			tag, err = generateTag(ctx, cat.Name, s.intn, tx.TagExists)
			if err != nil {
				return err
			}
		}
		now := s.now().UTC()
		created, err = tx.InsertAsset(ctx, Asset{
			Tag:          tag,
			Name:         strings.TrimSpace(input.Name),
			CategoryID:   cat.ID,
			CategoryName: cat.Name,
			SerialNumber: strings.TrimSpace(input.SerialNumber),
			Model:        strings.TrimSpace(input.Model),
			Manufacturer: strings.TrimSpace(input.Manufacturer),
			Status:       StatusAvailable,
			Condition:    condition,
			Location:     strings.TrimSpace(input.Location),
			MACAddress:   mac,
			Notes:        input.Notes,
			CreatedBy:    actor.ActorID(),
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		if err != nil {
			return err
		}
		return tx.RecordAudit(ctx, audit.NewEntry(actor, audit.ActionCreate, entityAsset, created.Tag,
			fmt.Sprintf("created asset %s (%s)", created.Tag, created.Name), now))
	})
	if err != nil {
		return Asset{}, err
	}
	s.invalidate(ctx)
	return created, nil
}

// GetAsset loads one asset the actor may see.
func (s *Service) GetAsset(ctx context.Context, actor shared.Actor, id int64) (Asset, error) {
	if err := rbac.AuthorizeActor(actor, rbac.OpView); err != nil {
		return Asset{}, err
	}
	asset, err := s.repo.GetAsset(ctx, id)
	if err != nil {
		return Asset{}, err
	}
	if err := rbac.AuthorizeAsset(actor, rbac.OpView, asset.Scope()); err != nil {
		return Asset{}, err
	}
	return asset, nil
}

// ListAssets pages through the assets the actor may see.
func (s *Service) ListAssets(ctx context.Context, actor shared.Actor, filter ListFilter) ([]Asset, shared.Pagination, error) {
	if err := rbac.AuthorizeActor(actor, rbac.OpView); err != nil {
		return nil, shared.Pagination{}, err
	}
	if rbac.Role(actor.Role) == rbac.RoleTechnician {
		filter.VisibleTo = actor.UserID
	}
	filter.Page, filter.PerPage = shared.NormalizePage(filter.Page, filter.PerPage)
	rows, total, err := s.repo.ListAssets(ctx, filter)
	if err != nil {
		return nil, shared.Pagination{}, err
	}
	return rows, shared.NewPagination(filter.Page, filter.PerPage, total), nil
}

// UpdateAsset patches descriptive fields. Status changes go through the
// dedicated transitions.
func (s *Service) UpdateAsset(ctx context.Context, actor shared.Actor, id int64, input UpdateAssetInput) (Asset, error) {
	if err := rbac.AuthorizeActor(actor, rbac.OpCreateAsset); err != nil {
		return Asset{}, err
	}
	if err := shared.Validate(input); err != nil {
		return Asset{}, err
	}
	var updated Asset
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		asset, err := tx.GetAssetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		changed, err := applyPatch(ctx, tx, &asset, input)
		if err != nil {
			return err
		}
		if len(changed) == 0 {
			updated = asset
			return nil
		}
		asset.UpdatedAt = s.now().UTC()
		if err := tx.UpdateAsset(ctx, asset); err != nil {
			return err
		}
		updated = asset
		return tx.RecordAudit(ctx, audit.NewEntry(actor, audit.ActionUpdate, entityAsset, asset.Tag,
			fmt.Sprintf("updated %s on %s", strings.Join(changed, ", "), asset.Tag), asset.UpdatedAt))
	})
	if err != nil {
		return Asset{}, err
	}
	s.invalidate(ctx)
	return updated, nil
}

func applyPatch(ctx context.Context, tx TxRepository, asset *Asset, in UpdateAssetInput) ([]string, error) {
	var changed []string
	setString := func(field string, dst *string, src *string) {
		if src == nil {
			return
		}
		v := strings.TrimSpace(*src)
		if v != *dst {
			*dst = v
			changed = append(changed, field)
		}
	}
	setString("name", &asset.Name, in.Name)
	setString("serial_number", &asset.SerialNumber, in.SerialNumber)
	setString("model", &asset.Model, in.Model)
	setString("manufacturer", &asset.Manufacturer, in.Manufacturer)
	setString("location", &asset.Location, in.Location)
	setString("notes", &asset.Notes, in.Notes)
	if in.Condition != nil && *in.Condition != asset.Condition {
		asset.Condition = *in.Condition
		changed = append(changed, "condition")
	}
	if in.MACAddress != nil {
		mac, err := NormalizeMAC(*in.MACAddress)
		if err != nil {
			return nil, err
		}
		if mac != asset.MACAddress {
			asset.MACAddress = mac
			changed = append(changed, "mac_address")
		}
	}
	if in.CategoryID != nil && *in.CategoryID != asset.CategoryID {
		cat, err := tx.GetCategory(ctx, *in.CategoryID)
		if err != nil {
			return nil, err
		}
		asset.CategoryID = cat.ID
		asset.CategoryName = cat.Name
		changed = append(changed, "category")
	}
	return changed, nil
}

// SetMaintenance moves an asset into MAINTENANCE and opens a corrective
// maintenance record. Issued assets must be returned first and retired
// assets stay retired.
func (s *Service) SetMaintenance(ctx context.Context, actor shared.Actor, id int64, note string) (Asset, error) {
	return s.transition(ctx, actor, rbac.OpCreateAsset, id, audit.ActionMaintenance, func(a Asset) (Status, error) {
		switch a.Status {
		case StatusIssued, StatusRetired, StatusMaintenance:
			return "", fmt.Errorf("%w: asset %s is %s", shared.ErrInvalidState, a.Tag, a.Status)
		}
		return StatusMaintenance, nil
	}, openCorrective(actor, note, s.now().UTC()), note)
}

// CompleteMaintenance returns a MAINTENANCE asset to AVAILABLE and closes its
// open maintenance records with note as the resolution.
func (s *Service) CompleteMaintenance(ctx context.Context, actor shared.Actor, id int64, note string) (Asset, error) {
	return s.transition(ctx, actor, rbac.OpCreateAsset, id, audit.ActionUpdate, func(a Asset) (Status, error) {
		if a.Status != StatusMaintenance {
			return "", fmt.Errorf("%w: asset %s is %s, not in maintenance", shared.ErrInvalidState, a.Tag, a.Status)
		}
		return StatusAvailable, nil
	}, closeOpen(note, s.now().UTC()), note)
}

// Retire permanently removes an asset from circulation.
func (s *Service) Retire(ctx context.Context, actor shared.Actor, id int64, note string) (Asset, error) {
	return s.transition(ctx, actor, rbac.OpRetireAsset, id, audit.ActionRetire, func(a Asset) (Status, error) {
		switch a.Status {
		case StatusIssued:
			return "", fmt.Errorf("%w: asset %s is issued and must be returned first", shared.ErrInvalidState, a.Tag)
		case StatusRetired:
			return "", fmt.Errorf("%w: asset %s is already retired", shared.ErrInvalidState, a.Tag)
		}
		return StatusRetired, nil
	}, closeOpen("retired", s.now().UTC()), note)
}

// transition applies a lifecycle change. Assets with an open assignment,
// including MISSING ones, only leave it through a return.
func (s *Service) transition(ctx context.Context, actor shared.Actor, op rbac.Operation, id int64, action audit.Action,
	next func(Asset) (Status, error), after func(context.Context, TxRepository, Asset) error, note string) (Asset, error) {
	if err := rbac.AuthorizeActor(actor, op); err != nil {
		return Asset{}, err
	}
	var updated Asset
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		asset, err := tx.GetAssetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		to, err := next(asset)
		if err != nil {
			return err
		}
		if asset.HolderID != nil {
			return fmt.Errorf("%w: asset %s has an open assignment and must be returned first", shared.ErrInvalidState, asset.Tag)
		}
		from := asset.Status
		asset.Status = to
		asset.UpdatedAt = s.now().UTC()
		if err := tx.UpdateAsset(ctx, asset); err != nil {
			return err
		}
		if after != nil {
			if err := after(ctx, tx, asset); err != nil {
				return err
			}
		}
		updated = asset
		desc := fmt.Sprintf("%s: %s -> %s", asset.Tag, from, to)
		if note = strings.TrimSpace(note); note != "" {
			desc += " (" + note + ")"
		}
		return tx.RecordAudit(ctx, audit.NewEntry(actor, action, entityAsset, asset.Tag, desc, asset.UpdatedAt))
	})
	if err != nil {
		return Asset{}, err
	}
	s.invalidate(ctx)
	return updated, nil
}

func (s *Service) invalidate(ctx context.Context) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Bump(ctx); err != nil {
		s.logger.Warn("report cache bump failed", slog.Any("error", err))
	}
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}
