package users

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

	"github.com/utv-amats/amats/internal/audit"
	"github.com/utv-amats/amats/internal/platform/db"
	"github.com/utv-amats/amats/internal/rbac"
	"github.com/utv-amats/amats/internal/shared"
)

// Repository provides PostgreSQL backed persistence.
type Repository struct {
	pool *pgxpool.Pool
}

// NewRepository constructs a repository.
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

const userColumns = `id, username, email, full_name, role, department, COALESCE(employee_id, ''),
	password_hash, is_active, created_at, updated_at`

// Get loads a user by id.
func (r *Repository) Get(ctx context.Context, id int64) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1`, id))
}

// GetByUsername loads a user by login name, case-insensitively.
func (r *Repository) GetByUsername(ctx context.Context, username string) (User, error) {
	return scanUser(r.pool.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE lower(username) = lower($1)`, username))
}

// List returns users ordered by username.
func (r *Repository) List(ctx context.Context, f ListFilter) ([]User, error) {
	var (
		clauses []string
		args    []any
	)
	if f.Role != "" {
		args = append(args, string(f.Role))
		clauses = append(clauses, "role = $"+strconv.Itoa(len(args)))
	}
	if f.ActiveOnly {
		clauses = append(clauses, "is_active")
	}
	sql := `SELECT ` + userColumns + ` FROM users`
	if len(clauses) > 0 {
		sql += " WHERE " + strings.Join(clauses, " AND ")
	}
	rows, err := r.pool.Query(ctx, sql+" ORDER BY username", args...)
	if err != nil {
		return nil, fmt.Errorf("%w: list users: %v", shared.ErrStorage, err)
	}
	defer rows.Close()
	var out []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, u)
	}
	return out, rows.Err()
}

func (r *txRepo) Insert(ctx context.Context, u User) (User, error) {
	var employeeID *string
	if u.EmployeeID != "" {
		employeeID = &u.EmployeeID
	}
	err := r.tx.QueryRow(ctx, `INSERT INTO users
		(username, email, full_name, role, department, employee_id, password_hash, is_active, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10) RETURNING id`,
		u.Username, u.Email, u.FullName, string(u.Role), u.Department, employeeID, u.PasswordHash, u.Active,
		u.CreatedAt, u.UpdatedAt).Scan(&u.ID)
	if db.IsUniqueViolation(err, "") {
		return User{}, fmt.Errorf("%w: username or employee id already in use", shared.ErrConflict)
	}
	if err != nil {
		return User{}, err
	}
	return u, nil
}

func (r *txRepo) SetEmployeeID(ctx context.Context, id int64, employeeID string) error {
	_, err := r.tx.Exec(ctx, `UPDATE users SET employee_id = $2 WHERE id = $1`, id, employeeID)
	if db.IsUniqueViolation(err, "") {
		return fmt.Errorf("%w: employee id %s already in use", shared.ErrConflict, employeeID)
	}
	return err
}

func (r *txRepo) GetForUpdate(ctx context.Context, id int64) (User, error) {
	return scanUser(r.tx.QueryRow(ctx, `SELECT `+userColumns+` FROM users WHERE id = $1 FOR UPDATE`, id))
}

func (r *txRepo) UpdateRole(ctx context.Context, id int64, role rbac.Role, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE users SET role = $2, updated_at = $3 WHERE id = $1`, id, string(role), at)
	return err
}

func (r *txRepo) SetActive(ctx context.Context, id int64, active bool, at time.Time) error {
	_, err := r.tx.Exec(ctx, `UPDATE users SET is_active = $2, updated_at = $3 WHERE id = $1`, id, active, at)
	return err
}

func (r *txRepo) CountActiveAdmins(ctx context.Context) (int, error) {
	var n int
	err := r.tx.QueryRow(ctx, `SELECT COUNT(*) FROM users WHERE role = 'ADMIN' AND is_active`).Scan(&n)
	return n, err
}

func (r *txRepo) RecordAudit(ctx context.Context, entry audit.Entry) error {
	return audit.Insert(ctx, r.tx, entry)
}

func scanUser(row pgx.Row) (User, error) {
	var (
		u       User
		role    string
		updated pgtype.Timestamptz
	)
	err := row.Scan(&u.ID, &u.Username, &u.Email, &u.FullName, &role, &u.Department, &u.EmployeeID,
		&u.PasswordHash, &u.Active, &u.CreatedAt, &updated)
	if errors.Is(err, pgx.ErrNoRows) {
		return User{}, shared.ErrNotFound
	}
	if err != nil {
		return User{}, err
	}
	u.Role = rbac.Role(role)
	u.UpdatedAt = updated.Time
	return u, nil
}
