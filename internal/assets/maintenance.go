package assets

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"

	"github.com/utv-amats/amats/internal/audit"
	"github.com/utv-amats/amats/internal/platform/db"
	"github.com/utv-amats/amats/internal/rbac"
	"github.com/utv-amats/amats/internal/shared"
)

// MaintenanceType classifies a maintenance record.
type MaintenanceType string

const (
	MaintenancePreventive MaintenanceType = "PREVENTIVE"
	MaintenanceCorrective MaintenanceType = "CORRECTIVE"
	MaintenanceUpgrade    MaintenanceType = "UPGRADE"
	MaintenanceInspection MaintenanceType = "INSPECTION"
)

// MaintenanceRecord is one entry in an asset's service history. Records
// opened by a MAINTENANCE transition stay open until the asset leaves it.
type MaintenanceRecord struct {
	ID              int64           `json:"id"`
	AssetID         int64           `json:"asset_id"`
	AssetTag        string          `json:"asset_tag"`
	Type            MaintenanceType `json:"maintenance_type"`
	Description     string          `json:"description"`
	Resolution      string          `json:"resolution,omitempty"`
	PerformedBy     *int64          `json:"performed_by,omitempty"`
	PerformedByName string          `json:"performed_by_name,omitempty"`
	PerformedAt     time.Time       `json:"performed_at"`
	CompletedAt     *time.Time      `json:"completed_at,omitempty"`
	CostCents       int64           `json:"cost_cents"`
	NextScheduled   *time.Time      `json:"next_scheduled,omitempty"`
}

// Open reports whether the work is still in progress.
func (m MaintenanceRecord) Open() bool { return m.CompletedAt == nil }

// MaintenanceInput logs completed work against an asset.
type MaintenanceInput struct {
	Type          MaintenanceType `json:"maintenance_type" validate:"required,oneof=PREVENTIVE CORRECTIVE UPGRADE INSPECTION"`
	Description   string          `json:"description" validate:"required,max=2000"`
	PerformedAt   *time.Time      `json:"performed_at"`
	CostCents     int64           `json:"cost_cents" validate:"gte=0"`
	NextScheduled *time.Time      `json:"next_scheduled"`
}

// RecordMaintenance logs completed work. Retired assets take no new history.
func (s *Service) RecordMaintenance(ctx context.Context, actor shared.Actor, assetID int64, input MaintenanceInput) (MaintenanceRecord, error) {
	if err := rbac.AuthorizeActor(actor, rbac.OpCreateAsset); err != nil {
		return MaintenanceRecord{}, err
	}
	input.Description = strings.TrimSpace(input.Description)
	if err := shared.Validate(input); err != nil {
		return MaintenanceRecord{}, err
	}
	now := s.now().UTC()
	performed := now
	if input.PerformedAt != nil {
		performed = input.PerformedAt.UTC()
		if performed.After(now) {
			return MaintenanceRecord{}, fmt.Errorf("%w: performed_at is in the future", shared.ErrValidation)
		}
	}
	if input.NextScheduled != nil && input.NextScheduled.Before(performed) {
		return MaintenanceRecord{}, fmt.Errorf("%w: next_scheduled precedes performed_at", shared.ErrValidation)
	}

	var created MaintenanceRecord
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		asset, err := tx.GetAssetForUpdate(ctx, assetID)
		if err != nil {
			return err
		}
		if asset.Status == StatusRetired {
			return fmt.Errorf("%w: asset %s is retired", shared.ErrInvalidState, asset.Tag)
		}
		completed := performed
		created, err = tx.InsertMaintenance(ctx, MaintenanceRecord{
			AssetID:       asset.ID,
			AssetTag:      asset.Tag,
			Type:          input.Type,
			Description:   input.Description,
			PerformedBy:   actor.ActorID(),
			PerformedAt:   performed,
			CompletedAt:   &completed,
			CostCents:     input.CostCents,
			NextScheduled: input.NextScheduled,
		})
		if err != nil {
			return err
		}
		desc := fmt.Sprintf("%s: %s maintenance logged: %s", asset.Tag, created.Type, created.Description)
		return tx.RecordAudit(ctx, audit.NewEntry(actor, audit.ActionMaintenance, entityAsset, asset.Tag, desc, now))
	})
	if err != nil {
		return MaintenanceRecord{}, err
	}
	return created, nil
}

// ListMaintenance returns an asset's history, newest first.
func (s *Service) ListMaintenance(ctx context.Context, actor shared.Actor, assetID int64) ([]MaintenanceRecord, error) {
	if _, err := s.GetAsset(ctx, actor, assetID); err != nil {
		return nil, err
	}
	return s.repo.ListMaintenance(ctx, assetID)
}

func openCorrective(actor shared.Actor, note string, at time.Time) func(context.Context, TxRepository, Asset) error {
	return func(ctx context.Context, tx TxRepository, a Asset) error {
		desc := strings.TrimSpace(note)
		if desc == "" {
			desc = "placed in maintenance"
		}
		_, err := tx.InsertMaintenance(ctx, MaintenanceRecord{
			AssetID:     a.ID,
			AssetTag:    a.Tag,
			Type:        MaintenanceCorrective,
			Description: desc,
			PerformedBy: actor.ActorID(),
			PerformedAt: at,
		})
		return err
	}
}

func closeOpen(note string, at time.Time) func(context.Context, TxRepository, Asset) error {
	return func(ctx context.Context, tx TxRepository, a Asset) error {
		_, err := tx.CloseMaintenance(ctx, a.ID, strings.TrimSpace(note), at)
		return err
	}
}

const maintenanceColumns = `m.id, m.asset_id, a.asset_tag, m.maintenance_type, m.description, m.resolution,
	m.performed_by, COALESCE(NULLIF(u.full_name, ''), u.username, ''), m.performed_at, m.completed_at,
	m.cost_cents, m.next_scheduled`

// ListMaintenance returns the records of one asset, newest first.
func (r *Repository) ListMaintenance(ctx context.Context, assetID int64) ([]MaintenanceRecord, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+maintenanceColumns+` FROM maintenance_records m
		JOIN assets a ON a.id = m.asset_id
		LEFT JOIN users u ON u.id = m.performed_by
		WHERE m.asset_id = $1 ORDER BY m.performed_at DESC, m.id DESC`, assetID)
	if err != nil {
		return nil, fmt.Errorf("%w: list maintenance: %v", shared.ErrStorage, err)
	}
	defer rows.Close()
	var out []MaintenanceRecord
	for rows.Next() {
		m, err := scanMaintenance(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (r *txRepo) InsertMaintenance(ctx context.Context, m MaintenanceRecord) (MaintenanceRecord, error) {
	return InsertMaintenance(ctx, r.tx, m)
}

func (r *txRepo) CloseMaintenance(ctx context.Context, assetID int64, resolution string, at time.Time) (int, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE maintenance_records SET completed_at = $2, resolution = $3
		WHERE asset_id = $1 AND completed_at IS NULL`, assetID, at, resolution)
	if err != nil {
		return 0, err
	}
	return int(tag.RowsAffected()), nil
}

// InsertMaintenance writes a record on q. Other workflows that move an asset
// into MAINTENANCE call it inside their own transaction.
func InsertMaintenance(ctx context.Context, q db.DBTX, m MaintenanceRecord) (MaintenanceRecord, error) {
	var next pgtype.Date
	if m.NextScheduled != nil {
		next = pgtype.Date{Time: *m.NextScheduled, Valid: true}
	}
	err := q.QueryRow(ctx, `INSERT INTO maintenance_records
		(asset_id, maintenance_type, description, performed_by, performed_at, completed_at, cost_cents, next_scheduled)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		m.AssetID, string(m.Type), m.Description, m.PerformedBy, m.PerformedAt, m.CompletedAt, m.CostCents, next).Scan(&m.ID)
	if err != nil {
		return MaintenanceRecord{}, fmt.Errorf("%w: insert maintenance: %v", shared.ErrStorage, err)
	}
	return m, nil
}

func scanMaintenance(row pgx.Row) (MaintenanceRecord, error) {
	var (
		m           MaintenanceRecord
		kind        string
		performedBy pgtype.Int8
		completed   pgtype.Timestamptz
		next        pgtype.Date
	)
	err := row.Scan(&m.ID, &m.AssetID, &m.AssetTag, &kind, &m.Description, &m.Resolution,
		&performedBy, &m.PerformedByName, &m.PerformedAt, &completed, &m.CostCents, &next)
	if errors.Is(err, pgx.ErrNoRows) {
		return MaintenanceRecord{}, shared.ErrNotFound
	}
	if err != nil {
		return MaintenanceRecord{}, err
	}
	m.Type = MaintenanceType(kind)
	if performedBy.Valid {
		id := performedBy.Int64
		m.PerformedBy = &id
	}
	if completed.Valid {
		t := completed.Time
		m.CompletedAt = &t
	}
	if next.Valid {
		t := next.Time
		m.NextScheduled = &t
	}
	return m, nil
}
