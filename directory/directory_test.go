package directory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newDirectoryTest(t *testing.T) *Directory {
	t.Helper()

	dir, err := Open(":memory:")
	if err != nil {
		t.Fatalf("open directory: %v", err)
	}
	t.Cleanup(func() { _ = dir.Close() })
	return dir
}

func seedSubscriber(t *testing.T, dir *Directory, tel string, active bool, policy string, maxConcurrent int) {
	t.Helper()

	_, err := dir.db.Exec(
		`INSERT INTO users (tel, username, active, expires_at, max_concurrent_requests, created_at) VALUES (?, ?, ?, ?, ?, ?)`,
		tel, "user-"+tel, active, policy, maxConcurrent, time.Now().UTC(),
	)
	if err != nil {
		t.Fatalf("seed subscriber: %v", err)
	}
}

func TestLookup(t *testing.T) {
	dir := newDirectoryTest(t)
	seedSubscriber(t, dir, "13800000001", true, "1y", 3)

	sub, err := dir.Lookup(context.Background(), "13800000001")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if !sub.Active || sub.ExpiryPolicy != "1y" || sub.MaxConcurrent != 3 {
		t.Fatalf("unexpected subscriber: %+v", sub)
	}
}

func TestLookupUnknownTel(t *testing.T) {
	dir := newDirectoryTest(t)

	_, err := dir.Lookup(context.Background(), "nobody")
	if !errors.Is(err, ErrSubscriberNotFound) {
		t.Fatalf("want ErrSubscriberNotFound, got %v", err)
	}
}

func TestLookupDefaultsCeiling(t *testing.T) {
	dir := newDirectoryTest(t)
	_, err := dir.db.Exec(`INSERT INTO users (tel, expires_at) VALUES ('t', '1h')`)
	if err != nil {
		t.Fatalf("seed: %v", err)
	}

	sub, err := dir.Lookup(context.Background(), "t")
	if err != nil {
		t.Fatalf("lookup: %v", err)
	}
	if sub.MaxConcurrent != 1 {
		t.Fatalf("maxConcurrent = %d, want 1", sub.MaxConcurrent)
	}
}

func TestActiveCacheMissFillsFromDirectory(t *testing.T) {
	dir := newDirectoryTest(t)
	seedSubscriber(t, dir, "tel", true, "1y", 1)

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	cache := NewActiveCache(rdb, dir, time.Hour, nil)
	ctx := context.Background()

	if !cache.IsActive(ctx, "tel") {
		t.Fatal("want active")
	}

	got, err := mr.Get("active:tel")
	if err != nil {
		t.Fatalf("cache key not filled: %v", err)
	}
	if got != "true" {
		t.Fatalf("cached %q, want \"true\"", got)
	}
}

func TestActiveCacheCachesUnknownAsInactive(t *testing.T) {
	dir := newDirectoryTest(t)

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	cache := NewActiveCache(rdb, dir, time.Hour, nil)

	if cache.IsActive(context.Background(), "ghost") {
		t.Fatal("unknown subscriber must be inactive")
	}
	if got, _ := mr.Get("active:ghost"); got != "false" {
		t.Fatalf("cached %q, want \"false\"", got)
	}
}

func TestActiveCachePrefersCachedValue(t *testing.T) {
	dir := newDirectoryTest(t)
	seedSubscriber(t, dir, "tel", false, "1y", 1)

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	defer mr.Close()
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()

	// Stale cached "true" wins until the TTL elapses, even though the
	// directory now says inactive.
	mr.Set("active:tel", "true")

	cache := NewActiveCache(rdb, dir, time.Hour, nil)
	if !cache.IsActive(context.Background(), "tel") {
		t.Fatal("cached value must take precedence before expiry")
	}
}

func TestActiveCacheFallsBackWhenRedisDown(t *testing.T) {
	dir := newDirectoryTest(t)
	seedSubscriber(t, dir, "tel", true, "1y", 1)

	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("miniredis: %v", err)
	}
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	defer rdb.Close()
	mr.Close()

	cache := NewActiveCache(rdb, dir, time.Hour, nil)
	if !cache.IsActive(context.Background(), "tel") {
		t.Fatal("directory fallback should still report active")
	}
}
