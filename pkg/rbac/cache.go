package rbac

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strconv"
	"time"

	"github.com/go-redis/redis/v8"
	lru "github.com/hashicorp/golang-lru/v2/expirable"

	"github.com/platinummonkey/rentshelf/pkg/observability"
)

const defaultActionKeyPrefix = "rentshelf:rbac:actions"

// Stamp versions cached action sets. Invalidation bumps a generation in
// redis, so a set stamped before the bump is never served again by any replica.
type Stamp struct {
	Global int64
	User   int64
}

// RedisActionCache shares resolved action sets and their generations
// between API replicas
type RedisActionCache struct {
	client *redis.Client
	prefix string
	ttl    time.Duration
}

// NewRedisActionCache creates a redis-backed action cache
func NewRedisActionCache(client *redis.Client, ttl time.Duration) *RedisActionCache {
	return &RedisActionCache{
		client: client,
		prefix: defaultActionKeyPrefix,
		ttl:    ttl,
	}
}

func (c *RedisActionCache) globalGenKey() string {
	return c.prefix + ":gen"
}

func (c *RedisActionCache) userGenKey(userID int64) string {
	return c.prefix + ":gen:" + strconv.FormatInt(userID, 10)
}

func (c *RedisActionCache) key(userID int64, stamp Stamp) string {
	return fmt.Sprintf("%s:set:%d:%d:%d", c.prefix, userID, stamp.Global, stamp.User)
}

// Stamp reads the current generations for a user in one round trip
func (c *RedisActionCache) Stamp(ctx context.Context, userID int64) (Stamp, error) {
	vals, err := c.client.MGet(ctx, c.globalGenKey(), c.userGenKey(userID)).Result()
	if err != nil {
		return Stamp{}, fmt.Errorf("failed to read cache generation: %w", err)
	}
	return Stamp{Global: genValue(vals[0]), User: genValue(vals[1])}, nil
}

func genValue(v interface{}) int64 {
	s, ok := v.(string)
	if !ok {
		return 0
	}
	n, _ := strconv.ParseInt(s, 10, 64)
	return n
}

// Get returns the set cached under stamp, or false on a miss
func (c *RedisActionCache) Get(ctx context.Context, userID int64, stamp Stamp) (ActionSet, bool, error) {
	val, err := c.client.Get(ctx, c.key(userID, stamp)).Result()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("failed to read action cache: %w", err)
	}
	return ParseActionSet(val), true, nil
}

// Set stores the set under stamp for the cache TTL. A set resolved before an
// invalidation lands under a stale stamp that no reader asks for.
func (c *RedisActionCache) Set(ctx context.Context, userID int64, stamp Stamp, actions ActionSet) error {
	if err := c.client.Set(ctx, c.key(userID, stamp), actions.String(), c.ttl).Err(); err != nil {
		return fmt.Errorf("failed to write action cache: %w", err)
	}
	return nil
}

// Bump advances the generations of the given users
func (c *RedisActionCache) Bump(ctx context.Context, userIDs ...int64) error {
	if len(userIDs) == 0 {
		return nil
	}
	pipe := c.client.Pipeline()
	for _, id := range userIDs {
		pipe.Incr(ctx, c.userGenKey(id))
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to invalidate action cache: %w", err)
	}
	return nil
}

// BumpAll advances the global generation, retiring every cached set
func (c *RedisActionCache) BumpAll(ctx context.Context) error {
	if err := c.client.Incr(ctx, c.globalGenKey()).Err(); err != nil {
		return fmt.Errorf("failed to purge action cache: %w", err)
	}
	return nil
}

// Invalidator drops cached permission data after bindings change
type Invalidator interface {
	InvalidateUsers(ctx context.Context, userIDs ...int64)
	InvalidateAll(ctx context.Context)
}

// CachedResolver fronts an ActionResolver with an in-process LRU and an
// optional redis layer. Without redis the LRU expires after the configured
// TTL. With redis every lookup first reads the user's generation stamp, so an
// invalidation on any replica takes effect everywhere on the next request.
type CachedResolver struct {
	source  ActionResolver
	local   *lru.LRU[int64, stampedSet]
	remote  *RedisActionCache
	metrics *observability.Metrics
	logger  *observability.Logger
}

type stampedSet struct {
	stamp   Stamp
	actions ActionSet
}

// NewCachedResolver creates a resolver cache. remote may be nil.
func NewCachedResolver(source ActionResolver, size int, ttl time.Duration, remote *RedisActionCache, metrics *observability.Metrics, logger *observability.Logger) *CachedResolver {
	if size <= 0 {
		size = 1000
	}
	if logger == nil {
		logger = observability.NewLogger(observability.InfoLevel, io.Discard)
	}
	return &CachedResolver{
		source:  source,
		local:   lru.NewLRU[int64, stampedSet](size, nil, ttl),
		remote:  remote,
		metrics: metrics,
		logger:  logger,
	}
}

// ActionsFor returns the user's action set from the first layer that has it
// at the current generation. When redis is unreachable the generation cannot
// be checked and the database answers directly.
func (c *CachedResolver) ActionsFor(ctx context.Context, userID int64) (ActionSet, error) {
	var stamp Stamp
	if c.remote != nil {
		var err error
		if stamp, err = c.remote.Stamp(ctx, userID); err != nil {
			c.logger.WithError(err).Warn("Permission cache unavailable")
			c.metrics.ObservePermissionCache("redis", false)
			return c.source.ActionsFor(ctx, userID)
		}
	}

	if entry, ok := c.local.Get(userID); ok && entry.stamp == stamp {
		c.metrics.ObservePermissionCache("memory", true)
		return entry.actions, nil
	}
	c.metrics.ObservePermissionCache("memory", false)

	if c.remote != nil {
		actions, ok, err := c.remote.Get(ctx, userID, stamp)
		if err != nil {
			c.logger.WithError(err).Warn("Permission cache unavailable")
		}
		c.metrics.ObservePermissionCache("redis", ok)
		if ok {
			c.local.Add(userID, stampedSet{stamp: stamp, actions: actions})
			return actions, nil
		}
	}

	actions, err := c.source.ActionsFor(ctx, userID)
	if err != nil {
		return nil, err
	}

	c.local.Add(userID, stampedSet{stamp: stamp, actions: actions})
	if c.remote != nil {
		if err := c.remote.Set(ctx, userID, stamp, actions); err != nil {
			c.logger.WithError(err).Warn("Permission cache unavailable")
		}
	}
	return actions, nil
}

// HasAnyRoleWithAction answers from the cached action set
func (c *CachedResolver) HasAnyRoleWithAction(ctx context.Context, userID int64, action Action) (bool, error) {
	actions, err := c.ActionsFor(ctx, userID)
	if err != nil {
		return false, err
	}
	return actions.Has(action), nil
}

// InvalidateUsers drops the cached sets of the given users
func (c *CachedResolver) InvalidateUsers(ctx context.Context, userIDs ...int64) {
	for _, id := range userIDs {
		c.local.Remove(id)
	}
	if c.remote != nil {
		if err := c.remote.Bump(ctx, userIDs...); err != nil {
			c.logger.WithError(err).Warn("Failed to invalidate permission cache")
		}
	}
}

// InvalidateAll drops every cached set. Role and permission binding changes
// can affect any number of users.
func (c *CachedResolver) InvalidateAll(ctx context.Context) {
	c.local.Purge()
	if c.remote != nil {
		if err := c.remote.BumpAll(ctx); err != nil {
			c.logger.WithError(err).Warn("Failed to invalidate permission cache")
		}
	}
}
