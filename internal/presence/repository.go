package presence

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/utv-amats/amats/internal/assets"
	"github.com/utv-amats/amats/internal/audit"
	"github.com/utv-amats/amats/internal/platform/db"
)

// Repository reads and updates presence fields in PostgreSQL.
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
	err := db.WithTx(ctx, r.pool, func(tx pgx.Tx) error {
		return fn(ctx, &txRepo{tx: tx})
	})
	if db.IsSerializationFailure(err) {
		return errStale
	}
	return err
}

// Snapshot loads every asset that carries a MAC address.
func (r *Repository) Snapshot(ctx context.Context) ([]Tracked, error) {
	rows, err := r.pool.Query(ctx, `SELECT a.id, a.asset_tag, a.mac_address, COALESCE(a.ip_address, ''), a.status, a.last_seen,
		EXISTS (SELECT 1 FROM asset_assignments o WHERE o.asset_id = a.id AND o.returned_at IS NULL)
		FROM assets a
		WHERE a.mac_address IS NOT NULL
		ORDER BY a.id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []Tracked
	for rows.Next() {
		var (
			t        Tracked
			status   string
			lastSeen pgtype.Timestamptz
		)
		if err := rows.Scan(&t.AssetID, &t.Tag, &t.MAC, &t.IP, &status, &lastSeen, &t.OpenHolder); err != nil {
			return nil, err
		}
		t.Status = assets.Status(status)
		if lastSeen.Valid {
			at := lastSeen.Time
			t.LastSeen = &at
		}
		out = append(out, t)
	}
	return out, rows.Err()
}

func (r *txRepo) ApplyUpdate(ctx context.Context, u Update) (bool, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE assets
		SET status = $2, last_seen = $3, ip_address = NULLIF($4, ''),
			location = COALESCE(NULLIF($5, ''), location), updated_at = now()
		WHERE id = $1 AND status = $6 AND last_seen IS NOT DISTINCT FROM $7`,
		u.AssetID, string(u.To), u.LastSeen, u.IP, u.Location, string(u.From), u.PrevLastSeen)
	if err != nil {
		return false, fmt.Errorf("presence: apply %s: %w", u.Tag, err)
	}
	return tag.RowsAffected() == 1, nil
}

func (r *txRepo) RecordAudit(ctx context.Context, entry audit.Entry) error {
	return audit.Insert(ctx, r.tx, entry)
}
