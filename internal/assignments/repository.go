package assignments

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/utv-amats/amats/internal/assets"
	"github.com/utv-amats/amats/internal/audit"
	"github.com/utv-amats/amats/internal/platform/db"
	"github.com/utv-amats/amats/internal/shared"
)

// Repository persists assignments in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

type txRepo struct {
	tx pgx.Tx
}

// WithTx executes the callback inside repeatable-read transaction. A
// serialization failure means a concurrent writer won the row.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
	if db.IsSerializationFailure(err) {
		return fmt.Errorf("%w: concurrent update", shared.ErrConflict)
	}
	return err
}

const assignmentColumns = `g.id, g.asset_id, a.asset_tag, a.name, g.holder_id,
	COALESCE(NULLIF(h.full_name, ''), h.username), h.email,
	g.issued_by, COALESCE(NULLIF(i.full_name, ''), i.username, ''), COALESCE(i.email, ''),
	g.issued_at, g.due_at, g.returned_at, g.returned_by, g.purpose, g.condition_out,
	COALESCE(g.condition_returned, ''), g.return_note, g.checkout_addr, g.return_addr`

const assignmentFrom = ` FROM asset_assignments g
	JOIN assets a ON a.id = g.asset_id
	JOIN users h ON h.id = g.holder_id
	LEFT JOIN users i ON i.id = g.issued_by`

// Get loads one assignment.
func (r *Repository) Get(ctx context.Context, id int64) (Assignment, error) {
	return scanAssignment(r.pool.QueryRow(ctx, `SELECT `+assignmentColumns+assignmentFrom+` WHERE g.id = $1`, id))
}

// List returns a page of assignments, newest first, plus the total match count.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]Assignment, int, error) {
	var (
		clauses []string
		args    []any
	)
	if f.AssetID != 0 {
		args = append(args, f.AssetID)
		clauses = append(clauses, "g.asset_id = $"+strconv.Itoa(len(args)))
	}
	if f.HolderID != 0 {
		args = append(args, f.HolderID)
		clauses = append(clauses, "g.holder_id = $"+strconv.Itoa(len(args)))
	}
	if f.OpenOnly {
		clauses = append(clauses, "g.returned_at IS NULL")
	}
	where := ""
	if len(clauses) > 0 {
		where = " WHERE " + strings.Join(clauses, " AND ")
	}
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*)`+assignmentFrom+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%w: count assignments: %v", shared.ErrStorage, err)
	}
	args = append(args, f.PerPage, shared.Offset(f.Page, f.PerPage))
	sql := `SELECT ` + assignmentColumns + assignmentFrom + where +
		fmt.Sprintf(` ORDER BY g.issued_at DESC, g.id DESC LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	out, err := r.query(ctx, sql, args...)
	return out, total, err
}

// ListOverdue returns open assignments whose due time is before now.
func (r *Repository) ListOverdue(ctx context.Context, now time.Time) ([]Assignment, error) {
	return r.query(ctx, `SELECT `+assignmentColumns+assignmentFrom+`
		WHERE g.returned_at IS NULL AND g.due_at IS NOT NULL AND g.due_at < $1
		ORDER BY g.due_at`, now)
}

// ExportAll returns every assignment, oldest first.
func (r *Repository) ExportAll(ctx context.Context) ([]Assignment, error) {
	return r.query(ctx, `SELECT `+assignmentColumns+assignmentFrom+` ORDER BY g.issued_at, g.id`)
}

func (r *Repository) query(ctx context.Context, sql string, args ...any) ([]Assignment, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list assignments: %v", shared.ErrStorage, err)
	}
	defer rows.Close()
	var out []Assignment
	for rows.Next() {
		a, err := scanAssignment(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (r *txRepo) GetAsset(ctx context.Context, assetID int64) (AssetRef, error) {
	var (
		ref               AssetRef
		status, condition string
		holder            pgtype.Int8
	)
	err := r.tx.QueryRow(ctx, `SELECT a.id, a.asset_tag, a.name, a.status, a.condition, o.holder_id
		FROM assets a
		LEFT JOIN asset_assignments o ON o.asset_id = a.id AND o.returned_at IS NULL
		WHERE a.id = $1`, assetID).Scan(&ref.ID, &ref.Tag, &ref.Name, &status, &condition, &holder)
	if errors.Is(err, pgx.ErrNoRows) {
		return AssetRef{}, fmt.Errorf("%w: asset %d", shared.ErrNotFound, assetID)
	}
	if err != nil {
		return AssetRef{}, err
	}
	ref.Status = assets.Status(status)
	ref.Condition = assets.Condition(condition)
	if holder.Valid {
		id := holder.Int64
		ref.HolderID = &id
	}
	return ref, nil
}

func (r *txRepo) GetHolder(ctx context.Context, userID int64) (Holder, error) {
	var h Holder
	err := r.tx.QueryRow(ctx, `SELECT id, username, full_name, email, is_active FROM users WHERE id = $1`, userID).
		Scan(&h.ID, &h.Username, &h.FullName, &h.Email, &h.Active)
	if errors.Is(err, pgx.ErrNoRows) {
		return Holder{}, fmt.Errorf("%w: user %d", shared.ErrNotFound, userID)
	}
	return h, err
}

func (r *txRepo) ClaimAsset(ctx context.Context, assetID int64, from, to assets.Status) (bool, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE assets SET status = $3, updated_at = now() WHERE id = $1 AND status = $2`,
		assetID, string(from), string(to))
	if err != nil {
		if db.IsSerializationFailure(err) {
			return false, nil
		}
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *txRepo) InsertAssignment(ctx context.Context, a Assignment) (Assignment, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO asset_assignments
		(asset_id, holder_id, issued_by, issued_at, due_at, purpose, condition_out, checkout_addr)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8) RETURNING id`,
		a.AssetID, a.HolderID, a.IssuedBy, a.IssuedAt, a.DueAt, a.Purpose, string(a.ConditionOut), a.CheckoutAddr).Scan(&a.ID)
	if db.IsUniqueViolation(err, "asset_assignments_open_key") {
		return Assignment{}, fmt.Errorf("%w: asset %s already has an open assignment", shared.ErrConflict, a.AssetTag)
	}
	if err != nil {
		return Assignment{}, err
	}
	return a, nil
}

func (r *txRepo) GetAssignmentForUpdate(ctx context.Context, id int64) (Assignment, error) {
	return scanAssignment(r.tx.QueryRow(ctx, `SELECT `+assignmentColumns+assignmentFrom+` WHERE g.id = $1 FOR UPDATE OF g`, id))
}

func (r *txRepo) CloseAssignment(ctx context.Context, a Assignment) (bool, error) {
	var condition *string
	if a.ConditionReturned != "" {
		c := string(a.ConditionReturned)
		condition = &c
	}
	tag, err := r.tx.Exec(ctx, `UPDATE asset_assignments
		SET returned_at = $2, returned_by = $3, condition_returned = $4, return_note = $5, return_addr = $6
		WHERE id = $1 AND returned_at IS NULL`,
		a.ID, a.ReturnedAt, a.ReturnedBy, condition, a.ReturnNote, a.ReturnAddr)
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *txRepo) ReleaseAsset(ctx context.Context, assetID int64, to assets.Status, condition assets.Condition) (bool, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE assets
		SET status = $2, condition = COALESCE(NULLIF($3, ''), condition), updated_at = now()
		WHERE id = $1 AND status IN ('ISSUED', 'MISSING')`,
		assetID, string(to), string(condition))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() == 1, nil
}

func (r *txRepo) InsertMaintenance(ctx context.Context, m assets.MaintenanceRecord) (assets.MaintenanceRecord, error) {
	return assets.InsertMaintenance(ctx, r.tx, m)
}

func (r *txRepo) RecordAudit(ctx context.Context, entry audit.Entry) error {
	return audit.Insert(ctx, r.tx, entry)
}

func scanAssignment(row pgx.Row) (Assignment, error) {
	var (
		a                       Assignment
		issuedBy, returnedBy    pgtype.Int8
		dueAt, returnedAt       pgtype.Timestamptz
		conditionOut, condition string
	)
	err := row.Scan(&a.ID, &a.AssetID, &a.AssetTag, &a.AssetName, &a.HolderID,
		&a.HolderName, &a.HolderEmail,
		&issuedBy, &a.IssuedByName, &a.IssuedByEmail,
		&a.IssuedAt, &dueAt, &returnedAt, &returnedBy, &a.Purpose, &conditionOut,
		&condition, &a.ReturnNote, &a.CheckoutAddr, &a.ReturnAddr)
	if errors.Is(err, pgx.ErrNoRows) {
		return Assignment{}, shared.ErrNotFound
	}
	if err != nil {
		return Assignment{}, err
	}
	a.ConditionOut = assets.Condition(conditionOut)
	a.ConditionReturned = assets.Condition(condition)
	if issuedBy.Valid {
		id := issuedBy.Int64
		a.IssuedBy = &id
	}
	if returnedBy.Valid {
		id := returnedBy.Int64
		a.ReturnedBy = &id
	}
	if dueAt.Valid {
		t := dueAt.Time
		a.DueAt = &t
	}
	if returnedAt.Valid {
		t := returnedAt.Time
		a.ReturnedAt = &t
	}
	return a, nil
}
