package session

import (
	"context"
	"testing"
	"time"
)

func TestReleaseDecrements(t *testing.T) {
	store, _, done := newStoreTest(t)
	defer done()
	ctx := context.Background()

	if err := store.Save(ctx, "sub", Record{Signature: "sig", Concurrent: 2, Active: true}, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := store.Release(ctx, "sub"); err != nil {
		t.Fatalf("release: %v", err)
	}

	rec, err := store.Get(ctx, "sub")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Concurrent != 1 {
		t.Fatalf("count = %d, want 1", rec.Concurrent)
	}
}

func TestReleaseFloorsAtZero(t *testing.T) {
	store, _, done := newStoreTest(t)
	defer done()
	ctx := context.Background()

	if err := store.Save(ctx, "sub", Record{Signature: "sig", Concurrent: 0, Active: true}, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}

	for i := 0; i < 5; i++ {
		if err := store.Release(ctx, "sub"); err != nil {
			t.Fatalf("release %d: %v", i, err)
		}
	}

	rec, err := store.Get(ctx, "sub")
	if err != nil {
		t.Fatalf("get: %v", err)
	}
	if rec.Concurrent != 0 {
		t.Fatalf("count = %d, want 0", rec.Concurrent)
	}
}

func TestReleaseMissingSessionIsNoop(t *testing.T) {
	store, _, done := newStoreTest(t)
	defer done()

	if err := store.Release(context.Background(), "ghost"); err != nil {
		t.Fatalf("release on missing key must not fail: %v", err)
	}
}

func TestReleasePreservesTTL(t *testing.T) {
	store, mr, done := newStoreTest(t)
	defer done()
	ctx := context.Background()

	if err := store.Save(ctx, "sub", Record{Signature: "sig", Concurrent: 1, Active: true}, time.Hour); err != nil {
		t.Fatalf("save: %v", err)
	}
	mr.FastForward(45 * time.Minute)

	if err := store.Release(ctx, "sub"); err != nil {
		t.Fatalf("release: %v", err)
	}

	ttl, err := store.TTL(ctx, "sub")
	if err != nil {
		t.Fatalf("ttl: %v", err)
	}
	if ttl > 15*time.Minute+time.Second || ttl <= 0 {
		t.Fatalf("release changed the ttl: %v", ttl)
	}
}
