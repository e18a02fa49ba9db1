package users

import (
	"time"

	"github.com/utv-amats/amats/internal/rbac"
)

// User is a staff profile with its role.
type User struct {
	ID           int64     `json:"id"`
	Username     string    `json:"username"`
	Email        string    `json:"email"`
	FullName     string    `json:"full_name"`
	Role         rbac.Role `json:"role"`
	Department   string    `json:"department"`
	EmployeeID   string    `json:"employee_id"`
	PasswordHash string    `json:"-"`
	Active       bool      `json:"is_active"`
	CreatedAt    time.Time `json:"created_at"`
	UpdatedAt    time.Time `json:"updated_at"`
}

// DisplayName prefers the full name.
func (u User) DisplayName() string {
	if u.FullName != "" {
		return u.FullName
	}
	return u.Username
}

// CreateInput provisions a new account.
type CreateInput struct {
	Username   string `json:"username" validate:"required,min=2,max=150,alphanum"`
	Email      string `json:"email" validate:"omitempty,email"`
	FullName   string `json:"full_name" validate:"max=200"`
	Role       string `json:"role" validate:"required,oneof=ADMIN TECHNICIAN SUPERVISOR"`
	Department string `json:"department" validate:"max=100"`
	EmployeeID string `json:"employee_id" validate:"max=50"`
	Password   string `json:"password" validate:"required,min=8,max=72"`
}

// RoleInput changes a user's role.
type RoleInput struct {
	Role string `json:"role" validate:"required,oneof=ADMIN TECHNICIAN SUPERVISOR"`
}

// ListFilter narrows the user directory.
type ListFilter struct {
	Role       rbac.Role
	ActiveOnly bool
}
