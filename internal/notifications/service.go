package notifications

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/utv-amats/amats/internal/shared"
)

// RepositoryPort abstracts repository usage for service.
type RepositoryPort interface {
	Insert(ctx context.Context, n Notification) (Notification, error)
	ListForUser(ctx context.Context, userID int64, f ListFilter) ([]Notification, error)
	MarkRead(ctx context.Context, userID, id int64) (bool, error)
	MarkAllRead(ctx context.Context, userID int64) (int, error)
}

// Service manages in-app notifications.
type Service struct {
	repo RepositoryPort
	now  func() time.Time
}

// NewService builds Service.
func NewService(repo RepositoryPort) *Service {
	return &Service{repo: repo, now: time.Now}
}

// Notify stores a notification for n.UserID. It is called by background
// jobs, so there is no actor check.
func (s *Service) Notify(ctx context.Context, n Notification) (Notification, error) {
	if n.UserID <= 0 {
		return Notification{}, fmt.Errorf("%w: notification without recipient", shared.ErrValidation)
	}
	n.Message = strings.TrimSpace(n.Message)
	if n.Level == "" {
		n.Level = LevelInfo
	}
	if err := shared.Validate(n); err != nil {
		return Notification{}, err
	}
	n.Read = false
	n.CreatedAt = s.now().UTC()
	return s.repo.Insert(ctx, n)
}

// List returns the actor's own notifications, newest first.
func (s *Service) List(ctx context.Context, actor shared.Actor, f ListFilter) ([]Notification, error) {
	if actor.UserID <= 0 {
		return nil, shared.ErrUnauthorized
	}
	if f.Limit <= 0 {
		f.Limit = defaultLimit
	}
	if f.Limit > maxLimit {
		f.Limit = maxLimit
	}
	return s.repo.ListForUser(ctx, actor.UserID, f)
}

// MarkRead flags one of the actor's notifications. Notifications of other
// users are reported as not found.
func (s *Service) MarkRead(ctx context.Context, actor shared.Actor, id int64) error {
	if actor.UserID <= 0 {
		return shared.ErrUnauthorized
	}
	ok, err := s.repo.MarkRead(ctx, actor.UserID, id)
	if err != nil {
		return err
	}
	if !ok {
		return fmt.Errorf("%w: notification %d", shared.ErrNotFound, id)
	}
	return nil
}

// MarkAllRead flags every unread notification of the actor.
func (s *Service) MarkAllRead(ctx context.Context, actor shared.Actor) (int, error) {
	if actor.UserID <= 0 {
		return 0, shared.ErrUnauthorized
	}
	return s.repo.MarkAllRead(ctx, actor.UserID)
}
