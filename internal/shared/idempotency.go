package shared

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

// ErrIdempotencyConflict indicates the actor already submitted this key.
var ErrIdempotencyConflict = errors.New("idempotent request already processed")

// IdempotencyStore remembers Idempotency-Key headers per actor so a client
// retrying a mutation after a dropped response does not apply it twice.
type IdempotencyStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewIdempotencyStore constructs the store.
func NewIdempotencyStore(pool *pgxpool.Pool) *IdempotencyStore {
	return &IdempotencyStore{pool: pool, now: time.Now}
}

// Claim records key for actorID. A key already claimed by the same actor
// yields ErrIdempotencyConflict; other actors may reuse the same key.
func (s *IdempotencyStore) Claim(ctx context.Context, actorID int64, key, scope string) error {
	if s == nil || s.pool == nil {
		return fmt.Errorf("%w: idempotency store not configured", ErrStorage)
	}
	if key == "" || scope == "" {
		return fmt.Errorf("%w: idempotency key and scope required", ErrValidation)
	}
	if len(key) > 200 {
		return fmt.Errorf("%w: idempotency key too long", ErrValidation)
	}
	_, err := s.pool.Exec(ctx,
		`INSERT INTO idempotency_keys (actor_id, key, scope, created_at) VALUES ($1, $2, $3, $4)`,
		actorID, key, scope, s.now().UTC())
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == "23505" {
			return ErrIdempotencyConflict
		}
		return fmt.Errorf("%w: claim idempotency key: %v", ErrStorage, err)
	}
	return nil
}

// Release forgets a claim so the request can be retried after it failed.
func (s *IdempotencyStore) Release(ctx context.Context, actorID int64, key string) error {
	if s == nil || s.pool == nil || key == "" {
		return nil
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE actor_id = $1 AND key = $2`, actorID, key)
	return err
}

// Cleanup removes claims older than olderThan.
func (s *IdempotencyStore) Cleanup(ctx context.Context, olderThan time.Duration) error {
	if s == nil || s.pool == nil {
		return nil
	}
	_, err := s.pool.Exec(ctx, `DELETE FROM idempotency_keys WHERE created_at < $1`, s.now().UTC().Add(-olderThan))
	return err
}
