package audit

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/utv-amats/amats/internal/platform/db"
	"github.com/utv-amats/amats/internal/shared"
)

// Insert appends entry using q, which is normally the caller's open
// transaction. Any failure wraps shared.ErrStorage so the enclosing
// transaction aborts.
func Insert(ctx context.Context, q db.DBTX, entry Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	_, err := q.Exec(ctx, `INSERT INTO audit_logs
		(actor_id, actor_name, action, entity, entity_id, description, source_addr, occurred_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)`,
		entry.ActorID, entry.ActorName, string(entry.Action), entry.Entity, entry.EntityID,
		entry.Description, entry.SourceAddr, entry.OccurredAt)
	if err != nil {
		return fmt.Errorf("%w: audit insert: %v", shared.ErrStorage, err)
	}
	return nil
}

// Repository persists audit entries in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	Insert(ctx context.Context, entry Entry) error
	Archive(ctx context.Context, ids []int64) (int64, error)
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

func (r *txRepo) Insert(ctx context.Context, entry Entry) error {
	return Insert(ctx, r.tx, entry)
}

func (r *txRepo) Archive(ctx context.Context, ids []int64) (int64, error) {
	tag, err := r.tx.Exec(ctx, `UPDATE audit_logs SET archived = TRUE WHERE id = ANY($1) AND archived = FALSE`, ids)
	if err != nil {
		return 0, fmt.Errorf("%w: audit archive: %v", shared.ErrStorage, err)
	}
	return tag.RowsAffected(), nil
}

// List returns entries matching filters ordered newest first. A limit of zero
// returns every match.
func (r *Repository) List(ctx context.Context, filters TimelineFilters, limit, offset int) ([]Entry, error) {
	where, args := buildWhere(filters)
	sql := `SELECT id, actor_id, actor_name, action, entity, entity_id, description, source_addr, occurred_at, archived
		FROM audit_logs` + where + ` ORDER BY occurred_at DESC, id DESC`
	if limit > 0 {
		args = append(args, limit, offset)
		sql += fmt.Sprintf(" LIMIT $%d OFFSET $%d", len(args)-1, len(args))
	}
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: audit list: %v", shared.ErrStorage, err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var (
			e       Entry
			actorID pgtype.Int8
			action  string
		)
		if err := rows.Scan(&e.ID, &actorID, &e.ActorName, &action, &e.Entity, &e.EntityID, &e.Description, &e.SourceAddr, &e.OccurredAt, &e.Archived); err != nil {
			return nil, err
		}
		if actorID.Valid {
			id := actorID.Int64
			e.ActorID = &id
		}
		e.Action = Action(action)
		out = append(out, e)
	}
	return out, rows.Err()
}

func buildWhere(f TimelineFilters) (string, []any) {
	var (
		clauses []string
		args    []any
	)
	add := func(clause string, v any) {
		args = append(args, v)
		clauses = append(clauses, strings.ReplaceAll(clause, "?", "$"+strconv.Itoa(len(args))))
	}
	if !f.From.IsZero() {
		add("occurred_at >= ?", f.From)
	}
	if !f.To.IsZero() {
		add("occurred_at < ?", f.To)
	}
	if v := strings.TrimSpace(f.Actor); v != "" {
		add("actor_name = ?", v)
	}
	if v := strings.TrimSpace(f.Entity); v != "" {
		add("entity = ?", v)
	}
	if v := strings.TrimSpace(f.EntityID); v != "" {
		add("entity_id = ?", v)
	}
	if v := strings.TrimSpace(f.Action); v != "" {
		add("action = ?", strings.ToUpper(v))
	}
	if !f.IncludeArchived {
		clauses = append(clauses, "archived = FALSE")
	}
	if len(clauses) == 0 {
		return "", nil
	}
	return " WHERE " + strings.Join(clauses, " AND "), args
}
