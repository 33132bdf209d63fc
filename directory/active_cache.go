package directory

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultActiveTTL is the fixed lifetime of cached active flags. Directory
// changes become visible to admission at most this long after they land.
const DefaultActiveTTL = 2 * time.Hour

// ActiveCache caches each subscriber's active flag in Redis under
// "active:<tel>" as the literal strings "true"/"false".
type ActiveCache struct {
	redis redis.UniversalClient
	dir   *Directory
	ttl   time.Duration
	log   *slog.Logger
}

// NewActiveCache builds an [ActiveCache]. A non-positive ttl falls back to
// [DefaultActiveTTL]; a nil logger falls back to slog.Default.
func NewActiveCache(rdb redis.UniversalClient, dir *Directory, ttl time.Duration, log *slog.Logger) *ActiveCache {
	if ttl <= 0 {
		ttl = DefaultActiveTTL
	}
	if log == nil {
		log = slog.Default()
	}
	return &ActiveCache{redis: rdb, dir: dir, ttl: ttl, log: log}
}

func (c *ActiveCache) key(tel string) string {
	return "active:" + tel
}

// IsActive reports whether the subscriber is active, consulting the cache
// first. The cache is never the sole source of truth for longer than its
// TTL: a miss repopulates from the directory, caching "false" for unknown
// subscribers too. Cache-layer failures degrade to a direct directory
// query; if that also fails the subscriber is reported inactive.
func (c *ActiveCache) IsActive(ctx context.Context, tel string) bool {
	cached, err := c.redis.Get(ctx, c.key(tel)).Result()
	if err == nil {
		return cached == "true"
	}
	if !errors.Is(err, redis.Nil) {
		c.log.Warn("active cache unavailable, querying directory directly",
			"tel", tel, "error", err)
		return c.directDeny(ctx, tel)
	}

	active, err := c.dir.IsActive(ctx, tel)
	if err != nil {
		c.log.Error("active status query failed, denying",
			"tel", tel, "error", err)
		return false
	}

	value := "false"
	if active {
		value = "true"
	}
	if err := c.redis.Set(ctx, c.key(tel), value, c.ttl).Err(); err != nil {
		c.log.Warn("active cache fill failed", "tel", tel, "error", err)
	}

	return active
}

// Invalidate drops the cached flag so the next check reads the directory.
func (c *ActiveCache) Invalidate(ctx context.Context, tel string) error {
	return c.redis.Del(ctx, c.key(tel)).Err()
}

func (c *ActiveCache) directDeny(ctx context.Context, tel string) bool {
	active, err := c.dir.IsActive(ctx, tel)
	if err != nil {
		c.log.Error("directory fallback failed, denying", "tel", tel, "error", err)
		return false
	}
	return active
}
