package notifications

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/utv-amats/amats/internal/shared"
)

// Repository stores notifications in PostgreSQL.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs Repository.
func NewRepository(pool *pgxpool.Pool) *Repository {
	return &Repository{pool: pool}
}

// Insert stores n and returns it with its id.
func (r *Repository) Insert(ctx context.Context, n Notification) (Notification, error) {
	err := r.pool.QueryRow(ctx, `INSERT INTO notifications (user_id, message, link, level, is_read, created_at)
		VALUES ($1, $2, $3, $4, FALSE, $5) RETURNING id`,
		n.UserID, n.Message, n.Link, string(n.Level), n.CreatedAt).Scan(&n.ID)
	if err != nil {
		return Notification{}, fmt.Errorf("%w: insert notification: %v", shared.ErrStorage, err)
	}
	return n, nil
}

// ListForUser returns the newest notifications of one user.
func (r *Repository) ListForUser(ctx context.Context, userID int64, f ListFilter) ([]Notification, error) {
	sql := `SELECT id, user_id, message, link, level, is_read, created_at FROM notifications WHERE user_id = $1`
	if f.UnreadOnly {
		sql += ` AND NOT is_read`
	}
	sql += ` ORDER BY created_at DESC, id DESC LIMIT $2`
	rows, err := r.pool.Query(ctx, sql, userID, f.Limit)
	if err != nil {
		return nil, fmt.Errorf("%w: list notifications: %v", shared.ErrStorage, err)
	}
	defer rows.Close()
	var out []Notification
	for rows.Next() {
		var (
			n     Notification
			level string
		)
		if err := rows.Scan(&n.ID, &n.UserID, &n.Message, &n.Link, &level, &n.Read, &n.CreatedAt); err != nil {
			return nil, err
		}
		n.Level = Level(level)
		out = append(out, n)
	}
	return out, rows.Err()
}

// MarkRead flags one notification of userID as read. It reports false when
// no such notification belongs to the user.
func (r *Repository) MarkRead(ctx context.Context, userID, id int64) (bool, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE notifications SET is_read = TRUE WHERE id = $1 AND user_id = $2`, id, userID)
	if err != nil {
		return false, fmt.Errorf("%w: mark notification read: %v", shared.ErrStorage, err)
	}
	return tag.RowsAffected() == 1, nil
}

// MarkAllRead flags every unread notification of userID.
func (r *Repository) MarkAllRead(ctx context.Context, userID int64) (int, error) {
	tag, err := r.pool.Exec(ctx, `UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND NOT is_read`, userID)
	if err != nil {
		return 0, fmt.Errorf("%w: mark notifications read: %v", shared.ErrStorage, err)
	}
	return int(tag.RowsAffected()), nil
}
