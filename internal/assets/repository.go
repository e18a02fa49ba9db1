package assets

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/utv-amats/amats/internal/audit"
	"github.com/utv-amats/amats/internal/platform/db"
	"github.com/utv-amats/amats/internal/shared"
)

// Repository persists the registry in PostgreSQL.
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

// WithTx executes the callback inside repeatable-read transaction.
func (r *Repository) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	return db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
}

const assetColumns = `a.id, a.asset_tag, a.name, a.category_id, c.name, a.serial_number, a.model, a.manufacturer,
	a.status, a.condition, a.location, a.mac_address, a.ip_address, a.last_seen, a.notes,
	o.holder_id, COALESCE(NULLIF(u.full_name, ''), u.username, ''), a.created_by, a.created_at, a.updated_at`

const assetFrom = ` FROM assets a
	JOIN asset_categories c ON c.id = a.category_id
	LEFT JOIN asset_assignments o ON o.asset_id = a.id AND o.returned_at IS NULL
	LEFT JOIN users u ON u.id = o.holder_id`

// GetAsset loads one asset with its current holder.
func (r *Repository) GetAsset(ctx context.Context, id int64) (Asset, error) {
	return scanAsset(r.pool.QueryRow(ctx, `SELECT `+assetColumns+assetFrom+` WHERE a.id = $1`, id))
}

// ListAssets returns one page of assets plus the total match count.
func (r *Repository) ListAssets(ctx context.Context, f ListFilter) ([]Asset, int, error) {
	where, args := listWhere(f)
	var total int
	if err := r.pool.QueryRow(ctx, `SELECT COUNT(*)`+assetFrom+where, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("%w: count assets: %v", shared.ErrStorage, err)
	}
	args = append(args, f.PerPage, shared.Offset(f.Page, f.PerPage))
	sql := `SELECT ` + assetColumns + assetFrom + where +
		fmt.Sprintf(` ORDER BY a.asset_tag LIMIT $%d OFFSET $%d`, len(args)-1, len(args))
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("%w: list assets: %v", shared.ErrStorage, err)
	}
	defer rows.Close()
	var out []Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, a)
	}
	return out, total, rows.Err()
}

// ExportAll returns every asset ordered by tag.
func (r *Repository) ExportAll(ctx context.Context) ([]Asset, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+assetColumns+assetFrom+` ORDER BY a.asset_tag`)
	if err != nil {
		return nil, fmt.Errorf("%w: export assets: %v", shared.ErrStorage, err)
	}
	defer rows.Close()
	var out []Asset
	for rows.Next() {
		a, err := scanAsset(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func listWhere(f ListFilter) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	next := func() string { return "$" + strconv.Itoa(len(args)) }
	if s := strings.TrimSpace(f.Search); s != "" {
		args = append(args, "%"+s+"%")
		p := next()
		clauses = append(clauses, fmt.Sprintf("(a.asset_tag ILIKE %s OR a.name ILIKE %s OR a.serial_number ILIKE %s OR a.location ILIKE %s)", p, p, p, p))
	}
	if f.Status != "" {
		args = append(args, string(f.Status))
		clauses = append(clauses, "a.status = "+next())
	}
	if f.CategoryID != 0 {
		args = append(args, f.CategoryID)
		clauses = append(clauses, "a.category_id = "+next())
	}
	if f.VisibleTo != 0 {
		args = append(args, f.VisibleTo)
		clauses = append(clauses, fmt.Sprintf("(a.status = 'AVAILABLE' OR o.holder_id = %s)", next()))
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}

// ListCategories returns every category ordered by name.
func (r *Repository) ListCategories(ctx context.Context) ([]Category, error) {
	rows, err := r.pool.Query(ctx, `SELECT id, name, description, created_at FROM asset_categories ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("%w: list categories: %v", shared.ErrStorage, err)
	}
	defer rows.Close()
	var out []Category
	for rows.Next() {
		var c Category
		if err := rows.Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (r *txRepo) GetCategory(ctx context.Context, id int64) (Category, error) {
	var c Category
	err := r.tx.QueryRow(ctx, `SELECT id, name, description, created_at FROM asset_categories WHERE id = $1`, id).
		Scan(&c.ID, &c.Name, &c.Description, &c.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Category{}, fmt.Errorf("%w: category %d", shared.ErrNotFound, id)
	}
	return c, err
}

func (r *txRepo) InsertCategory(ctx context.Context, c Category) (Category, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO asset_categories (name, description, created_at) VALUES ($1, $2, $3) RETURNING id`,
		c.Name, c.Description, c.CreatedAt).Scan(&c.ID)
	if db.IsUniqueViolation(err, "") {
		return Category{}, fmt.Errorf("%w: category %q already exists", shared.ErrConflict, c.Name)
	}
	return c, err
}

func (r *txRepo) DeleteCategory(ctx context.Context, id int64) error {
	_, err := r.tx.Exec(ctx, `DELETE FROM asset_categories WHERE id = $1`, id)
	return err
}

func (r *txRepo) CountAssetsInCategory(ctx context.Context, id int64) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM assets WHERE category_id = $1`, id).Scan(&n)
	return n, err
}

func (r *txRepo) TagExists(ctx context.Context, tag string) (bool, error) {
	var exists bool
	err := r.tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM assets WHERE asset_tag = $1)`, tag).Scan(&exists)
	return exists, err
}

func (r *txRepo) InsertAsset(ctx context.Context, a Asset) (Asset, error) {
	err := r.tx.QueryRow(ctx, `INSERT INTO assets
		(asset_tag, name, category_id, serial_number, model, manufacturer, status, condition, location,
		 mac_address, notes, created_by, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14) RETURNING id`,
		a.Tag, a.Name, a.CategoryID, nullable(a.SerialNumber), a.Model, a.Manufacturer, string(a.Status),
		string(a.Condition), a.Location, nullable(a.MACAddress), a.Notes, a.CreatedBy, a.CreatedAt, a.UpdatedAt).Scan(&a.ID)
	if err != nil {
		return Asset{}, uniqueConflict(err)
	}
	return a, nil
}

func (r *txRepo) GetAssetForUpdate(ctx context.Context, id int64) (Asset, error) {
	return scanAsset(r.tx.QueryRow(ctx, `SELECT `+assetColumns+assetFrom+` WHERE a.id = $1 FOR UPDATE OF a`, id))
}

func (r *txRepo) UpdateAsset(ctx context.Context, a Asset) error {
	_, err := r.tx.Exec(ctx, `UPDATE assets SET name = $2, category_id = $3, serial_number = $4, model = $5,
		manufacturer = $6, status = $7, condition = $8, location = $9, mac_address = $10, notes = $11, updated_at = $12
		WHERE id = $1`,
		a.ID, a.Name, a.CategoryID, nullable(a.SerialNumber), a.Model, a.Manufacturer, string(a.Status),
		string(a.Condition), a.Location, nullable(a.MACAddress), a.Notes, a.UpdatedAt)
	return uniqueConflict(err)
}

func (r *txRepo) RecordAudit(ctx context.Context, entry audit.Entry) error {
	return audit.Insert(ctx, r.tx, entry)
}

func uniqueConflict(err error) error {
	switch {
	case err == nil:
		return nil
	case db.IsUniqueViolation(err, "assets_asset_tag_key"):
		return fmt.Errorf("%w: asset tag already in use", shared.ErrConflict)
	case db.IsUniqueViolation(err, "assets_serial_number_key"):
		return fmt.Errorf("%w: serial number already registered", shared.ErrConflict)
	case db.IsUniqueViolation(err, "assets_mac_address_key"):
		return fmt.Errorf("%w: MAC address already registered", shared.ErrConflict)
	}
	return err
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func scanAsset(row pgx.Row) (Asset, error) {
	var (
		a                   Asset
		serial, mac, ip     pgtype.Text
		lastSeen            pgtype.Timestamptz
		holderID, createdBy pgtype.Int8
		status, condition   string
	)
	err := row.Scan(&a.ID, &a.Tag, &a.Name, &a.CategoryID, &a.CategoryName, &serial, &a.Model, &a.Manufacturer,
		&status, &condition, &a.Location, &mac, &ip, &lastSeen, &a.Notes,
		&holderID, &a.HolderName, &createdBy, &a.CreatedAt, &a.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Asset{}, shared.ErrNotFound
	}
	if err != nil {
		return Asset{}, err
	}
	a.Status = Status(status)
	a.Condition = Condition(condition)
	a.SerialNumber = serial.String
	a.MACAddress = mac.String
	a.IPAddress = ip.String
	if lastSeen.Valid {
		t := lastSeen.Time
		a.LastSeen = &t
	}
	if holderID.Valid {
		id := holderID.Int64
		a.HolderID = &id
	}
	if createdBy.Valid {
		id := createdBy.Int64
		a.CreatedBy = &id
	}
	return a, nil
}
