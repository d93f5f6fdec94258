package cron

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"
)

type leaseMap struct {
	mu      sync.Mutex
	data    map[string]string
	failDel bool
}

func (s *leaseMap) SetNX(_ context.Context, key string, value any, _ time.Duration) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.data[key]; ok {
		return false, nil
	}
	s.data[key] = value.(string)
	return true, nil
}

func (s *leaseMap) CompareAndDelete(_ context.Context, key, want string) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failDel {
		return false, errors.New("connection reset")
	}
	if s.data[key] != want {
		return false, nil
	}
	delete(s.data, key)
	return true, nil
}

func TestLeaseSingleHolder(t *testing.T) {
	store := &leaseMap{data: map[string]string{}}
	ctx := context.Background()
	a, _ := NewLease(store, "np:lock:cron", 0)
	b, _ := NewLease(store, "np:lock:cron", 0)
	if a.ttl != defaultLeaseTTL {
		t.Fatalf("expected default ttl, got %s", a.ttl)
	}

	if ok, err := a.Acquire(ctx); err != nil || !ok {
		t.Fatalf("first acquire: %v %v", ok, err)
	}
	if ok, _ := a.Acquire(ctx); ok {
		t.Fatal("holder must not re-acquire its own lease")
	}
	if ok, _ := b.Acquire(ctx); ok {
		t.Fatal("second replica must not acquire a held lease")
	}
	if err := b.Release(ctx); err != nil {
		t.Fatalf("non-holder release: %v", err)
	}
	if _, held := store.data["np:lock:cron"]; !held {
		t.Fatal("non-holder release must keep the lease")
	}
	if err := a.Release(ctx); err != nil {
		t.Fatalf("holder release: %v", err)
	}
	if ok, _ := b.Acquire(ctx); !ok {
		t.Fatal("lease should be free after release")
	}
}

func TestLeaseReleaseAfterExpiryKeepsNewHolder(t *testing.T) {
	store := &leaseMap{data: map[string]string{}}
	ctx := context.Background()
	a, _ := NewLease(store, "np:lock:cron", time.Minute)
	b, _ := NewLease(store, "np:lock:cron", time.Minute)

	if ok, _ := a.Acquire(ctx); !ok {
		t.Fatal("expected first acquire")
	}
	// simulate the TTL lapsing while a is still running
	delete(store.data, "np:lock:cron")
	if ok, _ := b.Acquire(ctx); !ok {
		t.Fatal("expected b to take the lapsed lease")
	}
	if err := a.Release(ctx); err != nil {
		t.Fatalf("stale release: %v", err)
	}
	if store.data["np:lock:cron"] != b.token {
		t.Fatal("stale holder removed the new lease")
	}
}

func TestLeaseReleaseError(t *testing.T) {
	store := &leaseMap{data: map[string]string{}, failDel: true}
	ctx := context.Background()
	lease, _ := NewLease(store, "np:lock:cron", time.Minute)
	if ok, _ := lease.Acquire(ctx); !ok {
		t.Fatal("expected acquire")
	}
	if err := lease.Release(ctx); err == nil {
		t.Fatal("expected release error")
	}
	if _, err := NewLease(nil, "k", 0); err == nil {
		t.Fatal("expected error for nil store")
	}
	if _, err := NewLease(store, "", 0); err == nil {
		t.Fatal("expected error for empty key")
	}
}
