package stripewebhook

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/angelmondragon/kitafinder-backend/pkg/redis"
)

// InFlightGuard marks an event as being processed so a concurrent redelivery
// of the same event backs off instead of racing the first one. The claim is a
// lease: it expires after ttl even when the owner dies without releasing it.
type InFlightGuard struct {
	store redis.ClaimStore
	ttl   time.Duration
	scope string
}

func NewInFlightGuard(store redis.ClaimStore, ttl time.Duration, scope string) (*InFlightGuard, error) {
	if store == nil {
		return nil, errors.New("claim store is required")
	}
	if ttl <= 0 {
		return nil, errors.New("ttl must be positive")
	}
	if scope == "" {
		return nil, errors.New("scope is required")
	}
	return &InFlightGuard{
		store: store,
		ttl:   ttl,
		scope: scope,
	}, nil
}

// Claim reports whether the caller now owns eventID.
func (g *InFlightGuard) Claim(ctx context.Context, eventID string) (bool, error) {
	if eventID == "" {
		return false, errors.New("event id is required")
	}
	key := g.store.InFlightKey(g.scope, eventID)
	set, err := g.store.SetNX(ctx, key, "1", g.ttl)
	if err != nil {
		return false, fmt.Errorf("set in-flight key: %w", err)
	}
	return set, nil
}

// Release drops the claim once the delivery has finished, whatever its outcome.
func (g *InFlightGuard) Release(ctx context.Context, eventID string) error {
	if eventID == "" {
		return errors.New("event id is required")
	}
	return g.store.Del(ctx, g.store.InFlightKey(g.scope, eventID))
}
