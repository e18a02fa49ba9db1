package notifications

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/utv-amats/amats/internal/shared"
)

var (
	holder = shared.Actor{UserID: 7, Username: "t1", Role: "TECHNICIAN"}
	issuer = shared.Actor{UserID: 1, Username: "admin", Role: "ADMIN"}
	sentAt = time.Date(2024, 5, 3, 9, 0, 0, 0, time.UTC)
)

func newTestService(t *testing.T) (*Service, *memoryRepo) {
	t.Helper()
	repo := &memoryRepo{}
	svc := NewService(repo)
	svc.now = func() time.Time { return sentAt }
	return svc, repo
}

func TestNotifyDefaultsAndValidation(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()

	n, err := svc.Notify(ctx, Notification{UserID: 7, Message: "  A101 is overdue ", Link: "/assignments/3"})
	require.NoError(t, err)
	require.Equal(t, LevelInfo, n.Level)
	require.Equal(t, "A101 is overdue", n.Message)
	require.Equal(t, sentAt, n.CreatedAt)
	require.False(t, n.Read)

	_, err = svc.Notify(ctx, Notification{Message: "orphan"})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.Notify(ctx, Notification{UserID: 7, Message: " "})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.Notify(ctx, Notification{UserID: 7, Message: "x", Level: "CRITICAL"})
	require.ErrorIs(t, err, shared.ErrValidation)
	_, err = svc.Notify(ctx, Notification{UserID: 7, Message: "x", Link: strings.Repeat("a", 256)})
	require.ErrorIs(t, err, shared.ErrValidation)
	require.Len(t, repo.items, 1)
}

func TestListIsScopedToActor(t *testing.T) {
	svc, _ := newTestService(t)
	ctx := context.Background()
	for _, n := range []Notification{
		{UserID: 7, Message: "first", Level: LevelWarning},
		{UserID: 1, Message: "for issuer", Level: LevelAlert},
		{UserID: 7, Message: "second", Level: LevelWarning},
	} {
		_, err := svc.Notify(ctx, n)
		require.NoError(t, err)
	}

	items, err := svc.List(ctx, holder, ListFilter{})
	require.NoError(t, err)
	require.Len(t, items, 2)
	require.Equal(t, "second", items[0].Message)

	items, err = svc.List(ctx, holder, ListFilter{Limit: 1})
	require.NoError(t, err)
	require.Len(t, items, 1)

	_, err = svc.List(ctx, shared.SystemActor("worker"), ListFilter{})
	require.ErrorIs(t, err, shared.ErrUnauthorized)
}

func TestMarkReadOnlyTouchesOwnNotifications(t *testing.T) {
	svc, repo := newTestService(t)
	ctx := context.Background()
	mine, err := svc.Notify(ctx, Notification{UserID: 7, Message: "mine"})
	require.NoError(t, err)
	theirs, err := svc.Notify(ctx, Notification{UserID: 1, Message: "theirs"})
	require.NoError(t, err)

	require.ErrorIs(t, svc.MarkRead(ctx, holder, theirs.ID), shared.ErrNotFound)
	require.False(t, repo.items[1].Read)

	require.NoError(t, svc.MarkRead(ctx, holder, mine.ID))
	unread, err := svc.List(ctx, holder, ListFilter{UnreadOnly: true})
	require.NoError(t, err)
	require.Empty(t, unread)

	n, err := svc.MarkAllRead(ctx, issuer)
	require.NoError(t, err)
	require.Equal(t, 1, n)
}
