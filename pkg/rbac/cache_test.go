package rbac

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/go-redis/redis/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newRedisCache(t *testing.T) (*RedisActionCache, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	return NewRedisActionCache(client, time.Minute), mr
}

func TestRedisActionCache(t *testing.T) {
	cache, mr := newRedisCache(t)
	ctx := context.Background()

	stamp, err := cache.Stamp(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, Stamp{}, stamp)

	_, ok, err := cache.Get(ctx, 1, stamp)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Set(ctx, 1, stamp, NewActionSet(ActionCreate, ActionReadAll)))
	require.NoError(t, cache.Set(ctx, 2, stamp, ActionSet{}))

	got, ok, err := cache.Get(ctx, 1, stamp)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, NewActionSet(ActionCreate, ActionReadAll), got)

	got, ok, err = cache.Get(ctx, 2, stamp)
	require.NoError(t, err)
	assert.True(t, ok, "an empty set is still a hit")
	assert.Empty(t, got)

	mr.FastForward(2 * time.Minute)
	_, ok, err = cache.Get(ctx, 1, stamp)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, cache.Bump(ctx, 3))
	stamp3, err := cache.Stamp(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, Stamp{User: 1}, stamp3)

	require.NoError(t, cache.BumpAll(ctx))
	stamp3, err = cache.Stamp(ctx, 3)
	require.NoError(t, err)
	assert.Equal(t, Stamp{Global: 1, User: 1}, stamp3)
	stamp4, err := cache.Stamp(ctx, 4)
	require.NoError(t, err)
	assert.Equal(t, Stamp{Global: 1}, stamp4)
}

func TestCachedResolver_Layers(t *testing.T) {
	remote, _ := newRedisCache(t)
	ctx := context.Background()
	source := &stubResolver{actions: map[int64]ActionSet{1: NewActionSet(ActionUpdate)}}

	resolver := NewCachedResolver(source, 10, time.Minute, remote, nil, nil)

	got, err := resolver.ActionsFor(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, NewActionSet(ActionUpdate), got)
	assert.Equal(t, 1, source.calls)

	_, err = resolver.ActionsFor(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, source.calls, "memory hit")

	// A second replica shares the redis layer.
	replica := NewCachedResolver(source, 10, time.Minute, remote, nil, nil)
	_, err = replica.ActionsFor(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, source.calls, "redis hit")

	source.actions[1] = NewActionSet(ActionAll)
	resolver.InvalidateUsers(ctx, 1)
	got, err = resolver.ActionsFor(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, NewActionSet(ActionAll), got)
	assert.Equal(t, 2, source.calls)

	resolver.InvalidateAll(ctx)
	_, err = resolver.ActionsFor(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 3, source.calls)
}

func TestCachedResolver_RevokeReachesEveryReplica(t *testing.T) {
	remote, _ := newRedisCache(t)
	ctx := context.Background()
	source := &stubResolver{actions: map[int64]ActionSet{7: NewActionSet(ActionAll)}}

	a := NewCachedResolver(source, 10, time.Minute, remote, nil, nil)
	b := NewCachedResolver(source, 10, time.Minute, remote, nil, nil)

	got, err := b.ActionsFor(ctx, 7)
	require.NoError(t, err)
	assert.True(t, got.Has(ActionAll))

	source.actions[7] = ActionSet{}
	a.InvalidateUsers(ctx, 7)

	got, err = b.ActionsFor(ctx, 7)
	require.NoError(t, err)
	assert.False(t, got.Has(ActionAll), "per-user invalidation on another replica")

	source.actions[7] = NewActionSet(ActionAll)
	_, err = b.ActionsFor(ctx, 7)
	require.NoError(t, err)

	source.actions[7] = ActionSet{}
	a.InvalidateAll(ctx)

	got, err = b.ActionsFor(ctx, 7)
	require.NoError(t, err)
	assert.False(t, got.Has(ActionAll), "global invalidation on another replica")
}

func TestCachedResolver_StaleRefillIsNeverServed(t *testing.T) {
	remote, _ := newRedisCache(t)
	ctx := context.Background()
	source := &stubResolver{actions: map[int64]ActionSet{7: ActionSet{}}}
	resolver := NewCachedResolver(source, 10, time.Minute, remote, nil, nil)

	// A reader resolved ALL, then a revoke committed and invalidated before
	// the reader wrote its result back.
	before, err := remote.Stamp(ctx, 7)
	require.NoError(t, err)
	resolver.InvalidateUsers(ctx, 7)
	require.NoError(t, remote.Set(ctx, 7, before, NewActionSet(ActionAll)))

	got, err := resolver.ActionsFor(ctx, 7)
	require.NoError(t, err)
	assert.False(t, got.Has(ActionAll))
	assert.Equal(t, 1, source.calls)
}

func TestCachedResolver_MemoryOnlyExpires(t *testing.T) {
	source := &stubResolver{actions: map[int64]ActionSet{1: NewActionSet(ActionUpdate)}}
	resolver := NewCachedResolver(source, 10, 20*time.Millisecond, nil, nil, nil)
	ctx := context.Background()

	_, err := resolver.ActionsFor(ctx, 1)
	require.NoError(t, err)
	_, err = resolver.ActionsFor(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, 1, source.calls)

	assert.Eventually(t, func() bool {
		_, err := resolver.ActionsFor(ctx, 1)
		return err == nil && source.calls > 1
	}, time.Second, 10*time.Millisecond)
}

func TestCachedResolver_BookReturnUsesCachedSet(t *testing.T) {
	source := &stubResolver{actions: map[int64]ActionSet{
		1: NewActionSet(ActionUpdate),
		2: NewActionSet(ActionAll),
		3: NewActionSet(ActionDelete),
	}}
	resolver := NewCachedResolver(source, 10, time.Minute, nil, nil, nil)
	engine := NewEngine(resolver, nil, nil)
	ctx := context.Background()

	for _, tt := range []struct {
		userID  int64
		allowed bool
	}{{1, true}, {2, true}, {3, false}} {
		for i := 0; i < 2; i++ {
			decision, err := engine.Decide(ctx, ResourceBookReturn, Request{Principal: principal(tt.userID, false), Operation: OpReturn})
			require.NoError(t, err)
			assert.Equal(t, tt.allowed, decision.Allowed, "user %d", tt.userID)
		}
	}
	assert.Equal(t, 3, source.calls, "one source read per user")
}

func TestCachedResolver_RedisDownFallsBackToSource(t *testing.T) {
	mr, err := miniredis.Run()
	require.NoError(t, err)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr(), MaxRetries: -1})
	defer client.Close()
	remote := NewRedisActionCache(client, time.Minute)
	mr.Close()

	source := &stubResolver{actions: map[int64]ActionSet{1: NewActionSet(ActionDelete)}}
	resolver := NewCachedResolver(source, 10, time.Minute, remote, nil, nil)

	got, err := resolver.ActionsFor(context.Background(), 1)
	require.NoError(t, err)
	assert.Equal(t, NewActionSet(ActionDelete), got)
}
