// Package cache provides the Redis-backed read cache for account profiles.
package cache

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"

	"account_backend/internal/feature/account/usecase"
)

// Config controls the profile cache.
type Config struct {
	ProfileTTL time.Duration `env:"PROFILE_CACHE_TTL" envDefault:"5m"`
	Namespace  string        `env:"CACHE_NAMESPACE" envDefault:"account"`
}

// tombstone marks an invalidated entry. Set only fills empty keys, so a
// fill computed before the invalidation cannot overwrite it.
const tombstone = "-"

// maxTombstoneTTL bounds how long a tombstone blocks refilling.
const maxTombstoneTTL = time.Minute

// invalidateTimeout applies when the caller's context is already done.
const invalidateTimeout = 2 * time.Second

// ProfileCache stores public profiles in Redis. All operations are best
// effort: a Redis failure is logged and treated as a miss.
type ProfileCache struct {
	rdb       *redis.Client
	ttl       time.Duration
	namespace string
}

var _ usecase.ProfileCache = (*ProfileCache)(nil)

// NewProfileCache creates a ProfileCache. A nil client bypasses the cache.
// If ttl is 0, it defaults to 5 minutes. If namespace is empty, it uses "account".
func NewProfileCache(rdb *redis.Client, ttl time.Duration, namespace string) *ProfileCache {
	if ttl <= 0 {
		ttl = 5 * time.Minute
	}
	if namespace == "" {
		namespace = "account"
	}
	return &ProfileCache{rdb: rdb, ttl: ttl, namespace: namespace}
}

// Get returns the cached profile for userID.
func (c *ProfileCache) Get(ctx context.Context, userID string) (*usecase.Profile, bool) {
	if c.rdb == nil {
		return nil, false
	}
	key := c.key(userID)
	b, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if err != redis.Nil {
			slog.Warn("profile cache read failed", "error", err)
		}
		return nil, false
	}
	if string(b) == tombstone {
		return nil, false
	}
	var p usecase.Profile
	if err := json.Unmarshal(b, &p); err != nil || p.UserID != userID {
		// Delete corrupted cache entry
		_ = c.rdb.Del(ctx, key).Err()
		return nil, false
	}
	return &p, true
}

// Set stores p until the TTL expires or it is invalidated. It never
// replaces an existing entry or tombstone.
func (c *ProfileCache) Set(ctx context.Context, p *usecase.Profile) {
	if c.rdb == nil || p == nil {
		return
	}
	b, err := json.Marshal(p)
	if err != nil {
		return
	}
	if err := c.rdb.SetNX(ctx, c.key(p.UserID), b, c.ttl).Err(); err != nil {
		slog.Warn("profile cache write failed", "error", err)
	}
}

// Invalidate replaces the cached profile for userID with a tombstone.
// It still runs when ctx has been canceled, since the write it follows
// has already been committed. If Redis is unreachable the entry stays
// until its TTL expires.
func (c *ProfileCache) Invalidate(ctx context.Context, userID string) {
	if c.rdb == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), invalidateTimeout)
	defer cancel()
	if err := c.rdb.Set(ctx, c.key(userID), tombstone, c.tombstoneTTL()).Err(); err != nil {
		slog.Error("profile cache invalidation failed", "error", err, "user_id", userID)
	}
}

func (c *ProfileCache) tombstoneTTL() time.Duration {
	return min(c.ttl, maxTombstoneTTL)
}

func (c *ProfileCache) key(userID string) string {
	return c.namespace + ":profile:" + safe(userID)
}

// safe escapes characters that are problematic for Redis keys.
func safe(s string) string {
	s = strings.ReplaceAll(s, " ", "_")
	s = strings.ReplaceAll(s, ":", "_")
	return s
}
