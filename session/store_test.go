package session

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newStoreTest(t *testing.T) (*Store, *miniredis.Miniredis, func()) {
	t.Helper()

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis run failed: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	store := NewStore(rdb, "session")

	return store, mr, func() {
		_ = rdb.Close()
		mr.Close()
	}
}

func TestSaveAndGet(t *testing.T) {
	store, _, done := newStoreTest(t)
	defer done()
	ctx := context.Background()

	rec := Record{Signature: "eyJ-abc-def", Concurrent: 2, Active: true}
	if err := store.Save(ctx, "13800000001", rec, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Get(ctx, "13800000001")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if got != rec {
		t.Fatalf("got %+v, want %+v", got, rec)
	}
}

func TestGetMissingReturnsNil(t *testing.T) {
	store, _, done := newStoreTest(t)
	defer done()

	_, err := store.Get(context.Background(), "nobody")
	if !errors.Is(err, redis.Nil) {
		t.Fatalf("want redis.Nil, got %v", err)
	}
}

func TestTTLTracksSave(t *testing.T) {
	store, mr, done := newStoreTest(t)
	defer done()
	ctx := context.Background()

	if err := store.Save(ctx, "sub", Record{Signature: "sig", Active: true}, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}

	ttl, err := store.TTL(ctx, "sub")
	if err != nil {
		t.Fatalf("ttl: %v", err)
	}
	if ttl <= 0 || ttl > time.Hour {
		t.Fatalf("unexpected ttl %v", ttl)
	}

	mr.FastForward(30 * time.Minute)
	ttl, err = store.TTL(ctx, "sub")
	if err != nil {
		t.Fatalf("ttl after fast-forward: %v", err)
	}
	if ttl > 30*time.Minute {
		t.Fatalf("ttl did not shrink: %v", ttl)
	}
}
