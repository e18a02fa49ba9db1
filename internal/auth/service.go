package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/utv-amats/amats/internal/audit"
	"github.com/utv-amats/amats/internal/shared"
	"github.com/utv-amats/amats/internal/users"
)

const entitySession = "session"

// Directory resolves and verifies user accounts.
type Directory interface {
	Authenticate(ctx context.Context, username, password string) (users.User, error)
	Lookup(ctx context.Context, id int64) (users.User, error)
}

// Recorder appends standalone audit entries.
type Recorder interface {
	Record(ctx context.Context, entry audit.Entry) error
}

// Service wraps authentication business rules.
type Service struct {
	users Directory
	audit Recorder
	now   func() time.Time
}

// NewService constructs a new Service.
func NewService(users Directory, audit Recorder) *Service {
	return &Service{users: users, audit: audit, now: time.Now}
}

// Login verifies credentials and records the LOGIN. The login fails when the
// audit entry cannot be written.
func (s *Service) Login(ctx context.Context, username, password, sourceAddr string) (users.User, error) {
	user, err := s.users.Authenticate(ctx, username, password)
	if err != nil {
		return users.User{}, err
	}
	actor := ActorFor(user, sourceAddr)
	entry := audit.NewEntry(actor, audit.ActionLogin, entitySession, user.Username, "signed in", s.now())
	if err := s.audit.Record(ctx, entry); err != nil {
		return users.User{}, err
	}
	return user, nil
}

// Logout records the LOGOUT for actor.
func (s *Service) Logout(ctx context.Context, actor shared.Actor) error {
	entry := audit.NewEntry(actor, audit.ActionLogout, entitySession, actor.Username, "signed out", s.now())
	return s.audit.Record(ctx, entry)
}

// Resolve turns a session's user id into an actor. Deleted or deactivated
// users resolve to shared.ErrInvalidCredentials.
func (s *Service) Resolve(ctx context.Context, userID int64, sourceAddr string) (shared.Actor, users.User, error) {
	user, err := s.users.Lookup(ctx, userID)
	if err != nil {
		if errors.Is(err, shared.ErrNotFound) {
			return shared.Actor{}, users.User{}, fmt.Errorf("%w: user %d no longer exists", shared.ErrInvalidCredentials, userID)
		}
		return shared.Actor{}, users.User{}, err
	}
	if !user.Active {
		return shared.Actor{}, users.User{}, fmt.Errorf("%w: user %s is inactive", shared.ErrInvalidCredentials, user.Username)
	}
	return ActorFor(user, sourceAddr), user, nil
}

// ActorFor builds the actor a user acts as from sourceAddr.
func ActorFor(u users.User, sourceAddr string) shared.Actor {
	return shared.Actor{UserID: u.ID, Username: u.Username, Role: string(u.Role), SourceAddr: sourceAddr}
}
