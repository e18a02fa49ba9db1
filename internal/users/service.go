package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/utv-amats/amats/internal/audit"
	"github.com/utv-amats/amats/internal/rbac"
	"github.com/utv-amats/amats/internal/shared"
)

const entityUser = "user"

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error
	Get(ctx context.Context, id int64) (User, error)
	GetByUsername(ctx context.Context, username string) (User, error)
	List(ctx context.Context, filter ListFilter) ([]User, error)
}

// TxRepository exposes transactional operations used by service.
type TxRepository interface {
	Insert(ctx context.Context, u User) (User, error)
	SetEmployeeID(ctx context.Context, id int64, employeeID string) error
	GetForUpdate(ctx context.Context, id int64) (User, error)
	UpdateRole(ctx context.Context, id int64, role rbac.Role, at time.Time) error
	SetActive(ctx context.Context, id int64, active bool, at time.Time) error
	CountActiveAdmins(ctx context.Context) (int, error)
	RecordAudit(ctx context.Context, entry audit.Entry) error
}

// Service manages staff profiles.
type Service struct {
	repo RepositoryPort
	cost int
	now  func() time.Time
}

// NewService builds Service instance.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, cost: bcrypt.DefaultCost, now: time.Now}
}

// HashPassword hashes a plain password with the service's bcrypt cost.
func (s *Service) HashPassword(password string) (string, error) {
	hash, err := bcrypt.GenerateFromPassword([]byte(password), s.cost)
	if err != nil {
		if errors.Is(err, bcrypt.ErrPasswordTooLong) {
			return "", fmt.Errorf("%w: password too long", shared.ErrValidation)
		}
		return "", err
	}
	return string(hash), nil
}

// Create provisions an account. The employee id defaults to UTV-<id>.
func (s *Service) Create(ctx context.Context, actor shared.Actor, input CreateInput) (User, error) {
	if err := rbac.AuthorizeActor(actor, rbac.OpManageUsers); err != nil {
		return User{}, err
	}
	input.Username = strings.TrimSpace(input.Username)
	input.Email = strings.TrimSpace(input.Email)
	input.EmployeeID = strings.TrimSpace(input.EmployeeID)
	if err := shared.Validate(input); err != nil {
		return User{}, err
	}
	role, ok := rbac.ParseRole(input.Role)
	if !ok {
		return User{}, fmt.Errorf("%w: unknown role %q", shared.ErrValidation, input.Role)
	}
	hash, err := s.HashPassword(input.Password)
	if err != nil {
		return User{}, err
	}
	now := s.now().UTC()
	var created User
	err = s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		u, err := tx.Insert(ctx, User{
			Username:     input.Username,
			Email:        input.Email,
			FullName:     strings.TrimSpace(input.FullName),
			Role:         role,
			Department:   strings.TrimSpace(input.Department),
			EmployeeID:   input.EmployeeID,
			PasswordHash: hash,
			Active:       true,
			CreatedAt:    now,
			UpdatedAt:    now,
		})
		if err != nil {
			return err
		}
		if u.EmployeeID == "" {
			u.EmployeeID = fmt.Sprintf("UTV-%04d", u.ID)
			if err := tx.SetEmployeeID(ctx, u.ID, u.EmployeeID); err != nil {
				return err
			}
		}
		created = u
		desc := fmt.Sprintf("created user %s with role %s", u.Username, u.Role)
		return tx.RecordAudit(ctx, audit.NewEntry(actor, audit.ActionCreate, entityUser, u.Username, desc, now))
	})
	if err != nil {
		return User{}, err
	}
	return created, nil
}

// ChangeRole reassigns a role. The last active ADMIN cannot be demoted.
func (s *Service) ChangeRole(ctx context.Context, actor shared.Actor, id int64, input RoleInput) (User, error) {
	if err := rbac.AuthorizeActor(actor, rbac.OpManageUsers); err != nil {
		return User{}, err
	}
	if err := shared.Validate(input); err != nil {
		return User{}, err
	}
	role, ok := rbac.ParseRole(input.Role)
	if !ok {
		return User{}, fmt.Errorf("%w: unknown role %q", shared.ErrValidation, input.Role)
	}
	now := s.now().UTC()
	var updated User
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		u, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if u.Role == role {
			updated = u
			return nil
		}
		if u.Role == rbac.RoleAdmin && u.Active {
			if err := s.ensureAnotherAdmin(ctx, tx); err != nil {
				return err
			}
		}
		if err := tx.UpdateRole(ctx, id, role, now); err != nil {
			return err
		}
		desc := fmt.Sprintf("changed role of %s from %s to %s", u.Username, u.Role, role)
		u.Role, u.UpdatedAt = role, now
		updated = u
		return tx.RecordAudit(ctx, audit.NewEntry(actor, audit.ActionUpdate, entityUser, u.Username, desc, now))
	})
	if err != nil {
		return User{}, err
	}
	return updated, nil
}

// Deactivate disables login for a user. Actors cannot deactivate themselves.
func (s *Service) Deactivate(ctx context.Context, actor shared.Actor, id int64) (User, error) {
	if err := rbac.AuthorizeActor(actor, rbac.OpManageUsers); err != nil {
		return User{}, err
	}
	if id == actor.UserID {
		return User{}, fmt.Errorf("%w: cannot deactivate your own account", shared.ErrInvalidState)
	}
	now := s.now().UTC()
	var updated User
	err := s.repo.WithTx(ctx, func(ctx context.Context, tx TxRepository) error {
		u, err := tx.GetForUpdate(ctx, id)
		if err != nil {
			return err
		}
		if !u.Active {
			return fmt.Errorf("%w: user %s is already inactive", shared.ErrInvalidState, u.Username)
		}
		if u.Role == rbac.RoleAdmin {
			if err := s.ensureAnotherAdmin(ctx, tx); err != nil {
				return err
			}
		}
		if err := tx.SetActive(ctx, id, false, now); err != nil {
			return err
		}
		u.Active, u.UpdatedAt = false, now
		updated = u
		return tx.RecordAudit(ctx, audit.NewEntry(actor, audit.ActionUpdate, entityUser, u.Username, "deactivated user "+u.Username, now))
	})
	if err != nil {
		return User{}, err
	}
	return updated, nil
}

func (s *Service) ensureAnotherAdmin(ctx context.Context, tx TxRepository) error {
	n, err := tx.CountActiveAdmins(ctx)
	if err != nil {
		return err
	}
	if n <= 1 {
		return fmt.Errorf("%w: at least one active administrator is required", shared.ErrInvalidState)
	}
	return nil
}

// List returns the user directory.
func (s *Service) List(ctx context.Context, actor shared.Actor, filter ListFilter) ([]User, error) {
	if err := rbac.AuthorizeActor(actor, rbac.OpManageUsers); err != nil {
		return nil, err
	}
	return s.repo.List(ctx, filter)
}

// Get loads a profile for an administrator.
func (s *Service) Get(ctx context.Context, actor shared.Actor, id int64) (User, error) {
	if err := rbac.AuthorizeActor(actor, rbac.OpManageUsers); err != nil {
		return User{}, err
	}
	return s.repo.Get(ctx, id)
}

// Lookup loads a profile without an authorization check. It backs session
// resolution, where no actor exists yet.
func (s *Service) Lookup(ctx context.Context, id int64) (User, error) {
	return s.repo.Get(ctx, id)
}

// Authenticate verifies credentials. Unknown users, inactive users and
// wrong passwords all yield shared.ErrInvalidCredentials.
func (s *Service) Authenticate(ctx context.Context, username, password string) (User, error) {
	u, err := s.repo.GetByUsername(ctx, strings.TrimSpace(username))
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return User{}, shared.ErrInvalidCredentials
		}
		return User{}, err
	}
	if !u.Active {
		return User{}, shared.ErrInvalidCredentials
	}
	if err := bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)); err != nil {
		return User{}, shared.ErrInvalidCredentials
	}
	return u, nil
}
