// Package idempotency lets at-least-once consumers skip outbox events they
// have already handled.
package idempotency

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/nanophoto/nanophoto-backend/pkg/instance"
	"github.com/nanophoto/nanophoto-backend/pkg/redis"
)

// Deduper holds one consumer's claims under
// <prefix>:idempotency:consumed:<consumer>:<event_id>.
type Deduper struct {
	store    redis.IdempotencyStore
	scope    string
	ttl      time.Duration
	now      func() time.Time
	instance string
}

func NewDeduper(store redis.IdempotencyStore, consumer string, ttl time.Duration) (*Deduper, error) {
	if store == nil {
		return nil, errors.New("idempotency store is required")
	}
	consumer = strings.TrimSpace(consumer)
	if consumer == "" {
		return nil, errors.New("consumer name is required")
	}
	if ttl <= 0 {
		return nil, fmt.Errorf("claim ttl for %s must be positive", consumer)
	}
	return &Deduper{
		store:    store,
		scope:    "consumed:" + consumer,
		ttl:      ttl,
		now:      time.Now,
		instance: instance.GetID(),
	}, nil
}

// Claim reports whether this delivery is the first to see eventID. The
// claim records which worker took it and when.
func (d *Deduper) Claim(ctx context.Context, eventID uuid.UUID) (bool, error) {
	if eventID == uuid.Nil {
		return false, errors.New("event id is required")
	}
	owner := d.instance + "@" + d.now().UTC().Format(time.RFC3339)
	return d.store.SetNX(ctx, d.key(eventID), owner, d.ttl)
}

// Forget drops a claim so the next redelivery is handled again.
func (d *Deduper) Forget(ctx context.Context, eventID uuid.UUID) error {
	if eventID == uuid.Nil {
		return errors.New("event id is required")
	}
	return d.store.Del(ctx, d.key(eventID))
}

func (d *Deduper) key(eventID uuid.UUID) string {
	return d.store.IdempotencyKey(d.scope, eventID.String())
}
