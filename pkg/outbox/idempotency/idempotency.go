// Package idempotency remembers which outbox rows a consumer already handed to Pub/Sub,
// so a publisher that crashes between publish and commit does not send them twice.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Store is the subset of the redis client the guard needs.
type Store interface {
	SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error)
	Del(ctx context.Context, keys ...string) error
	IdempotencyKey(scope, id string) string
}

// Guard claims event IDs for one consumer under
// <prefix>:idempotency:evt:processed:<consumer>:<event_id>.
type Guard struct {
	store Store
	scope string
	ttl   time.Duration
}

func NewGuard(store Store, consumer string, ttl time.Duration) (*Guard, error) {
	switch {
	case store == nil:
		return nil, errors.New("idempotency store is required")
	case consumer == "":
		return nil, errors.New("consumer name is required")
	case ttl < 0:
		return nil, errors.New("ttl must be non-negative")
	}
	return &Guard{store: store, scope: fmt.Sprintf("evt:processed:%s", consumer), ttl: ttl}, nil
}

// Claim marks eventID as handled. first is false when an earlier claim still stands.
func (g *Guard) Claim(ctx context.Context, eventID uuid.UUID) (first bool, err error) {
	if eventID == uuid.Nil {
		return false, errors.New("event id is required")
	}
	return g.store.SetNX(ctx, g.key(eventID), "1", g.ttl)
}

// Release drops the claim so a failed publish can be retried.
func (g *Guard) Release(ctx context.Context, eventID uuid.UUID) error {
	if eventID == uuid.Nil {
		return errors.New("event id is required")
	}
	return g.store.Del(ctx, g.key(eventID))
}

func (g *Guard) key(eventID uuid.UUID) string {
	return g.store.IdempotencyKey(g.scope, eventID.String())
}
