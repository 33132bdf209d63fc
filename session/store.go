package session

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// ErrRedisUnavailable wraps transport-level Redis failures.
var ErrRedisUnavailable = errors.New("redis unavailable")

// ErrSignatureMismatch is returned by Reserve when the stored signature no
// longer matches the presented credential (a newer credential superseded it).
var ErrSignatureMismatch = errors.New("session signature mismatch")

// ErrInactive is returned by Reserve when the record's active flag is false.
var ErrInactive = errors.New("session inactive")

// ErrConcurrencyExceeded is returned by Reserve when the subject already has
// maxConcurrent admitted requests in flight.
var ErrConcurrencyExceeded = errors.New("concurrency ceiling reached")

const (
	reserveStatusNotFound int64 = 0
	reserveStatusCorrupt  int64 = 1
	reserveStatusMismatch int64 = 2
	reserveStatusInactive int64 = 3
	reserveStatusCeiling  int64 = 4
	reserveStatusReserved int64 = 5
)

// reserveScript validates and reserves a concurrency slot in one atomic
// step. It re-parses the stored value with the same right-anchored rule as
// Decode: the greedy first capture leaves the last two delimiter-free
// segments for count and active. The rewrite preserves the key's remaining
// TTL so the session never outlives its credential.
const reserveScript = `
local value = redis.call("GET", KEYS[1])
if not value then
  return {0}
end

local sig, count, active = string.match(value, "^(.*)%-([^%-]*)%-([^%-]*)$")
if not sig then
  return {1}
end

if sig ~= ARGV[1] then
  return {2}
end

if active ~= "true" then
  return {3}
end

local n = tonumber(count) or 0
local max = tonumber(ARGV[2])
if n >= max then
  return {4, n}
end

local updated = sig .. "-" .. (n + 1) .. "-" .. active
local ttl = redis.call("PTTL", KEYS[1])
if ttl > 0 then
  redis.call("SET", KEYS[1], updated, "PX", ttl)
else
  redis.call("SET", KEYS[1], updated)
end

return {5, n + 1}
`

var reserveLua = redis.NewScript(reserveScript)

// releaseScript decrements the concurrency counter, floored at zero, again
// preserving the remaining TTL. A missing or unparseable value is a no-op:
// the session may have expired or been superseded since admission.
const releaseScript = `
local value = redis.call("GET", KEYS[1])
if not value then
  return -1
end

local sig, count, active = string.match(value, "^(.*)%-([^%-]*)%-([^%-]*)$")
if not sig then
  return -1
end

local n = tonumber(count) or 0
if n > 0 then
  n = n - 1
end

local updated = sig .. "-" .. n .. "-" .. active
local ttl = redis.call("PTTL", KEYS[1])
if ttl > 0 then
  redis.call("SET", KEYS[1], updated, "PX", ttl)
else
  redis.call("SET", KEYS[1], updated)
end

return n
`

var releaseLua = redis.NewScript(releaseScript)

// Store is a Redis-backed session store keyed by subject identifier.
// Reservation and release run as Lua scripts so concurrent requests for the
// same subject cannot lose updates.
type Store struct {
	redis  redis.UniversalClient
	prefix string
}

// NewStore creates a session [Store] backed by the given Redis client.
// prefix sets the key namespace; an empty prefix defaults to "session".
func NewStore(rdb redis.UniversalClient, prefix string) *Store {
	if prefix == "" {
		prefix = "session"
	}
	return &Store{redis: rdb, prefix: prefix}
}

func (s *Store) key(subject string) string {
	return s.prefix + ":" + subject
}

// Save writes a subject's record with the given TTL, overwriting whatever
// was there. Issuance relies on this overwrite to revoke prior credentials.
func (s *Store) Save(ctx context.Context, subject string, rec Record, ttl time.Duration) error {
	if err := s.redis.Set(ctx, s.key(subject), Encode(rec), ttl).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}

// Get retrieves and decodes a subject's record. A missing key returns
// redis.Nil unchanged so callers can distinguish "no session" from transport
// failure.
func (s *Store) Get(ctx context.Context, subject string) (Record, error) {
	value, err := s.redis.Get(ctx, s.key(subject)).Result()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return Record{}, err
		}
		return Record{}, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return Decode(value), nil
}

// TTL returns the remaining lifetime of a subject's record.
func (s *Store) TTL(ctx context.Context, subject string) (time.Duration, error) {
	ttl, err := s.redis.TTL(ctx, s.key(subject)).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return ttl, nil
}

// Reserve atomically validates the stored record against the presented
// credential signature and, when all gates pass, increments the concurrency
// counter. Returns the post-increment count on success.
//
// Failure modes map to sentinel errors: redis.Nil (no session),
// [ErrSignatureMismatch] (superseded, also covers corrupt records),
// [ErrInactive], and [ErrConcurrencyExceeded].
func (s *Store) Reserve(ctx context.Context, subject, signature string, maxConcurrent int) (int, error) {
	result, err := reserveLua.Run(ctx, s.redis, []string{s.key(subject)}, signature, maxConcurrent).Result()
	if err != nil {
		return 0, fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}

	parts, ok := result.([]interface{})
	if !ok || len(parts) == 0 {
		return 0, fmt.Errorf("%w: invalid reserve script response", ErrRedisUnavailable)
	}
	code, ok := parts[0].(int64)
	if !ok {
		return 0, fmt.Errorf("%w: invalid reserve script status", ErrRedisUnavailable)
	}

	switch code {
	case reserveStatusNotFound:
		return 0, redis.Nil
	case reserveStatusCorrupt, reserveStatusMismatch:
		return 0, ErrSignatureMismatch
	case reserveStatusInactive:
		return 0, ErrInactive
	case reserveStatusCeiling:
		return 0, ErrConcurrencyExceeded
	case reserveStatusReserved:
		if len(parts) < 2 {
			return 0, fmt.Errorf("%w: missing reserve count", ErrRedisUnavailable)
		}
		n, ok := parts[1].(int64)
		if !ok {
			return 0, fmt.Errorf("%w: invalid reserve count", ErrRedisUnavailable)
		}
		return int(n), nil
	default:
		return 0, fmt.Errorf("%w: unknown reserve script status", ErrRedisUnavailable)
	}
}

// Release atomically decrements the subject's concurrency counter, floored
// at zero. Missing or superseded sessions are a no-op, which makes Release
// safe to call on any exit path without checking whether the session still
// exists.
func (s *Store) Release(ctx context.Context, subject string) error {
	if err := releaseLua.Run(ctx, s.redis, []string{s.key(subject)}).Err(); err != nil {
		return fmt.Errorf("%w: %v", ErrRedisUnavailable, err)
	}
	return nil
}
