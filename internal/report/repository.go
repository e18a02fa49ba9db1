package report

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/utv-amats/amats/internal/assets"
	"github.com/utv-amats/amats/internal/assignments"
	"github.com/utv-amats/amats/internal/shared"
)

// Repository reads report data from PostgreSQL through the registry and
// workflow repositories.
type Repository struct {
	pool        *pgxpool.Pool
	assets      *assets.Repository
	assignments *assignments.Repository
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{
		pool:        pool,
		assets:      assets.NewRepository(pool),
		assignments: assignments.NewRepository(pool),
	}
}

// Inventory returns every asset.
func (r *Repository) Inventory(ctx context.Context) ([]assets.Asset, error) {
	return r.assets.ExportAll(ctx)
}

// Assignments returns every assignment.
func (r *Repository) Assignments(ctx context.Context) ([]assignments.Assignment, error) {
	return r.assignments.ExportAll(ctx)
}

// Overdue returns open assignments past due at now.
func (r *Repository) Overdue(ctx context.Context, now time.Time) ([]assignments.Assignment, error) {
	return r.assignments.ListOverdue(ctx, now)
}

// Summary aggregates counts in a single snapshot.
func (r *Repository) Summary(ctx context.Context, now time.Time) (Summary, error) {
	out := Summary{GeneratedAt: now}
	counts := make(map[assets.Status]int, len(assets.Statuses))
	rows, err := r.pool.Query(ctx, `SELECT status, COUNT(*) FROM assets GROUP BY status`)
	if err != nil {
		return Summary{}, fmt.Errorf("%w: summary by status: %v", shared.ErrStorage, err)
	}
	for rows.Next() {
		var (
			status string
			n      int
		)
		if err := rows.Scan(&status, &n); err != nil {
			rows.Close()
			return Summary{}, err
		}
		counts[assets.Status(status)] = n
		out.Total += n
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Summary{}, err
	}
	for _, st := range assets.Statuses {
		out.ByStatus = append(out.ByStatus, StatusCount{Status: st, Count: counts[st]})
	}

	rows, err = r.pool.Query(ctx, `SELECT c.id, c.name, COUNT(a.id)
		FROM asset_categories c LEFT JOIN assets a ON a.category_id = c.id
		GROUP BY c.id, c.name ORDER BY c.name`)
	if err != nil {
		return Summary{}, fmt.Errorf("%w: summary by category: %v", shared.ErrStorage, err)
	}
	for rows.Next() {
		var c CategoryCount
		if err := rows.Scan(&c.CategoryID, &c.Category, &c.Count); err != nil {
			rows.Close()
			return Summary{}, err
		}
		out.ByCategory = append(out.ByCategory, c)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return Summary{}, err
	}

	err = r.pool.QueryRow(ctx, `SELECT
			COUNT(*) FILTER (WHERE returned_at IS NULL),
			COUNT(*) FILTER (WHERE returned_at IS NULL AND due_at IS NOT NULL AND due_at < $1)
		FROM asset_assignments`, now).Scan(&out.Open, &out.Overdue)
	if err != nil {
		return Summary{}, fmt.Errorf("%w: summary assignments: %v", shared.ErrStorage, err)
	}
	return out, nil
}
