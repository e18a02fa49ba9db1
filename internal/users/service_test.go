package users

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/utv-amats/amats/internal/audit"
	"github.com/utv-amats/amats/internal/rbac"
	"github.com/utv-amats/amats/internal/shared"
)

type memoryRepo struct {
	mu     sync.Mutex
	users  map[int64]User
	audit  []audit.Entry
	nextID int64
}

type memoryTx struct {
	repo *memoryRepo
}

func newMemoryRepo() *memoryRepo {
	return &memoryRepo{users: map[int64]User{}}
}

func (r *memoryRepo) WithTx(ctx context.Context, fn func(context.Context, TxRepository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	saved := make(map[int64]User, len(r.users))
	for k, v := range r.users {
		saved[k] = v
	}
	entries, next := len(r.audit), r.nextID
	if err := fn(ctx, &memoryTx{repo: r}); err != nil {
		r.users, r.audit, r.nextID = saved, r.audit[:entries], next
		return err
	}
	return nil
}

func (r *memoryRepo) Get(ctx context.Context, id int64) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	u, ok := r.users[id]
	if !ok {
		return User{}, shared.ErrNotFound
	}
	return u, nil
}

func (r *memoryRepo) GetByUsername(ctx context.Context, username string) (User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, u := range r.users {
		if strings.EqualFold(u.Username, username) {
			return u, nil
		}
	}
	return User{}, shared.ErrNotFound
}

func (r *memoryRepo) List(ctx context.Context, f ListFilter) ([]User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []User
	for _, u := range r.users {
		if f.Role != "" && u.Role != f.Role {
			continue
		}
		if f.ActiveOnly && !u.Active {
			continue
		}
		out = append(out, u)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Username < out[j].Username })
	return out, nil
}

func (tx *memoryTx) Insert(ctx context.Context, u User) (User, error) {
	for _, existing := range tx.repo.users {
		if strings.EqualFold(existing.Username, u.Username) || (u.EmployeeID != "" && existing.EmployeeID == u.EmployeeID) {
			return User{}, shared.ErrConflict
		}
	}
	tx.repo.nextID++
	u.ID = tx.repo.nextID
	tx.repo.users[u.ID] = u
	return u, nil
}

func (tx *memoryTx) SetEmployeeID(ctx context.Context, id int64, employeeID string) error {
	u := tx.repo.users[id]
	u.EmployeeID = employeeID
	tx.repo.users[id] = u
	return nil
}

func (tx *memoryTx) GetForUpdate(ctx context.Context, id int64) (User, error) {
	u, ok := tx.repo.users[id]
	if !ok {
		return User{}, shared.ErrNotFound
	}
	return u, nil
}

func (tx *memoryTx) UpdateRole(ctx context.Context, id int64, role rbac.Role, at time.Time) error {
	u := tx.repo.users[id]
	u.Role, u.UpdatedAt = role, at
	tx.repo.users[id] = u
	return nil
}

func (tx *memoryTx) SetActive(ctx context.Context, id int64, active bool, at time.Time) error {
	u := tx.repo.users[id]
	u.Active, u.UpdatedAt = active, at
	tx.repo.users[id] = u
	return nil
}

func (tx *memoryTx) CountActiveAdmins(ctx context.Context) (int, error) {
	n := 0
	for _, u := range tx.repo.users {
		if u.Role == rbac.RoleAdmin && u.Active {
			n++
		}
	}
	return n, nil
}

func (tx *memoryTx) RecordAudit(ctx context.Context, entry audit.Entry) error {
	if err := entry.Validate(); err != nil {
		return err
	}
	tx.repo.audit = append(tx.repo.audit, entry)
	return nil
}

var (
	admin      = shared.Actor{UserID: 1, Username: "admin", Role: "ADMIN"}
	supervisor = shared.Actor{UserID: 9, Username: "sup", Role: "SUPERVISOR"}
	fixedNow   = time.Date(2024, 5, 1, 8, 0, 0, 0, time.UTC)
)

func newTestService(t *testing.T) (*Service, *memoryRepo) {
	t.Helper()
	repo := newMemoryRepo()
	svc := NewService(repo)
	svc.cost = bcrypt.MinCost
	svc.now = func() time.Time { return fixedNow }
	_, err := svc.Create(context.Background(), admin, CreateInput{Username: "admin", Role: "ADMIN", Password: "correct-horse"})
	require.NoError(t, err)
	return svc, repo
}

func TestCreateUserDefaultsEmployeeIDAndHashes(t *testing.T) {
	svc, repo := newTestService(t)

	u, err := svc.Create(context.Background(), admin, CreateInput{
		Username: "t1",
		Email:    "t1@utv.test",
		FullName: "Tina Tech",
		Role:     "technician",
		Password: "s3cret-pass",
	})
	require.NoError(t, err)
	require.Equal(t, "UTV-0002", u.EmployeeID)
	require.Equal(t, rbac.RoleTechnician, u.Role)
	require.NotEqual(t, "s3cret-pass", u.PasswordHash)
	require.NoError(t, bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte("s3cret-pass")))

	require.Len(t, repo.audit, 2)
	require.Equal(t, audit.ActionCreate, repo.audit[1].Action)
	require.Equal(t, "t1", repo.audit[1].EntityID)

	_, err = svc.Create(context.Background(), admin, CreateInput{Username: "T1", Role: "ADMIN", Password: "another-pass"})
	require.ErrorIs(t, err, shared.ErrConflict)

	_, err = svc.Create(context.Background(), admin, CreateInput{Username: "x", Role: "ADMIN", Password: "short"})
	require.ErrorIs(t, err, shared.ErrValidation)

	_, err = svc.Create(context.Background(), supervisor, CreateInput{Username: "s2", Role: "SUPERVISOR", Password: "long-enough"})
	require.ErrorIs(t, err, shared.ErrUnauthorized)
}

func TestAuthenticate(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	u, err := svc.Authenticate(ctx, "ADMIN", "correct-horse")
	require.NoError(t, err)
	require.Equal(t, "admin", u.Username)

	_, err = svc.Authenticate(ctx, "admin", "wrong")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
	_, err = svc.Authenticate(ctx, "nobody", "correct-horse")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}

func TestLastAdminIsProtected(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()

	_, err := svc.ChangeRole(ctx, admin, 1, RoleInput{Role: "SUPERVISOR"})
	require.ErrorIs(t, err, shared.ErrInvalidState)

	second, err := svc.Create(ctx, admin, CreateInput{Username: "admin2", Role: "ADMIN", Password: "another-pass"})
	require.NoError(t, err)
	demoted, err := svc.ChangeRole(ctx, admin, second.ID, RoleInput{Role: "SUPERVISOR"})
	require.NoError(t, err)
	require.Equal(t, rbac.RoleSupervisor, demoted.Role)
}

func TestDeactivate(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	tech, err := svc.Create(ctx, admin, CreateInput{Username: "t1", Role: "TECHNICIAN", Password: "s3cret-pass"})
	require.NoError(t, err)

	_, err = svc.Deactivate(ctx, admin, admin.UserID)
	require.ErrorIs(t, err, shared.ErrInvalidState)

	u, err := svc.Deactivate(ctx, admin, tech.ID)
	require.NoError(t, err)
	require.False(t, u.Active)
	entries := len(repo.audit)

	_, err = svc.Deactivate(ctx, admin, tech.ID)
	require.ErrorIs(t, err, shared.ErrInvalidState)
	require.Len(t, repo.audit, entries)

	_, err = svc.Authenticate(ctx, "t1", "s3cret-pass")
	require.ErrorIs(t, err, shared.ErrInvalidCredentials)
}
