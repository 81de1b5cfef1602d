package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"access-service/internal/engine"
	"access-service/internal/metrics"
)

const (
	keyPrefix = "perm:grants:"
	// localCacheMaxSize bounds the in-process fallback cache
	localCacheMaxSize = 10000
)

// localEntry is an in-process cache entry with its own expiry
type localEntry struct {
	data      []byte
	expiresAt time.Time
}

// PermissionCache memoizes computed grant sets keyed by
// (tenant, principal, role fingerprint). Redis-backed with an in-process
// fallback so a Redis outage degrades to slower lookups, never to wrong
// answers: any failure falls through to the loader.
type PermissionCache struct {
	client *redis.Client // nil when Redis is unavailable
	ttl    time.Duration
	logger *logrus.Logger

	mu    sync.RWMutex
	local map[string]localEntry
}

// New creates a permission cache. The Redis client may be nil; the cache
// then runs purely in-process.
func New(client *redis.Client, ttl time.Duration, logger *logrus.Logger) *PermissionCache {
	return &PermissionCache{
		client: client,
		ttl:    ttl,
		logger: logger,
		local:  make(map[string]localEntry),
	}
}

func cacheKey(tenantID, userID uuid.UUID, fingerprint string) string {
	return fmt.Sprintf("%s%s:%s:%s", keyPrefix, tenantID, userID, fingerprint)
}

func principalPrefix(tenantID, userID uuid.UUID) string {
	return fmt.Sprintf("%s%s:%s:", keyPrefix, tenantID, userID)
}

// Fetch returns the cached grant set or computes it via the loader and
// caches the result. Loader errors propagate; cache errors do not.
func (c *PermissionCache) Fetch(ctx context.Context, tenantID, userID uuid.UUID, fingerprint string, load engine.GrantLoader) ([]engine.Grant, error) {
	key := cacheKey(tenantID, userID, fingerprint)

	if data, ok := c.getLocal(key); ok {
		if grants, err := decode(data); err == nil {
			metrics.CacheLookups.WithLabelValues("hit").Inc()
			return grants, nil
		}
		c.deleteLocal(key)
	}

	if c.client != nil {
		data, err := c.client.Get(ctx, key).Bytes()
		if err == nil {
			if grants, derr := decode(data); derr == nil {
				metrics.CacheLookups.WithLabelValues("hit").Inc()
				c.setLocal(key, data, c.ttl)
				return grants, nil
			}
		} else if err != redis.Nil {
			c.logger.WithError(err).Debug("Permission cache read failed, falling back to loader")
		}
	}

	metrics.CacheLookups.WithLabelValues("miss").Inc()
	grants, ttlHint, err := load(ctx)
	if err != nil {
		return nil, err
	}

	ttl := c.ttl
	if ttlHint > 0 && ttlHint < ttl {
		ttl = ttlHint
	}
	if data, merr := json.Marshal(grants); merr == nil && ttl > 0 {
		c.setLocal(key, data, ttl)
		if c.client != nil {
			if serr := c.client.Set(ctx, key, data, ttl).Err(); serr != nil {
				c.logger.WithError(serr).Debug("Permission cache write failed")
			}
		}
	}
	return grants, nil
}

// Invalidate drops every cached grant set for the principal in the tenant,
// across all role fingerprints
func (c *PermissionCache) Invalidate(ctx context.Context, tenantID, userID uuid.UUID) error {
	prefix := principalPrefix(tenantID, userID)

	c.mu.Lock()
	for key := range c.local {
		if strings.HasPrefix(key, prefix) {
			delete(c.local, key)
		}
	}
	c.mu.Unlock()

	if c.client == nil {
		return nil
	}

	var cursor uint64
	for {
		keys, next, err := c.client.Scan(ctx, cursor, prefix+"*", 100).Result()
		if err != nil {
			return fmt.Errorf("cache invalidation scan: %w", err)
		}
		if len(keys) > 0 {
			if err := c.client.Del(ctx, keys...).Err(); err != nil {
				return fmt.Errorf("cache invalidation delete: %w", err)
			}
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return nil
}

func decode(data []byte) ([]engine.Grant, error) {
	var grants []engine.Grant
	if err := json.Unmarshal(data, &grants); err != nil {
		return nil, err
	}
	return grants, nil
}

func (c *PermissionCache) getLocal(key string) ([]byte, bool) {
	c.mu.RLock()
	entry, ok := c.local[key]
	c.mu.RUnlock()
	if !ok || time.Now().After(entry.expiresAt) {
		return nil, false
	}
	return entry.data, true
}

func (c *PermissionCache) setLocal(key string, data []byte, ttl time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(c.local) >= localCacheMaxSize {
		// Evict expired entries first; fall back to dropping everything
		now := time.Now()
		for k, e := range c.local {
			if now.After(e.expiresAt) {
				delete(c.local, k)
			}
		}
		if len(c.local) >= localCacheMaxSize {
			c.local = make(map[string]localEntry)
		}
	}
	c.local[key] = localEntry{data: data, expiresAt: time.Now().Add(ttl)}
}

func (c *PermissionCache) deleteLocal(key string) {
	c.mu.Lock()
	delete(c.local, key)
	c.mu.Unlock()
}
