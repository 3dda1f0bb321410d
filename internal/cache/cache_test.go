package cache

import (
	"context"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestCache(t *testing.T) (*RedisFollowCache, *miniredis.Miniredis) {
	t.Helper()
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return NewRedisFollowCache(client, time.Minute), mr
}

func TestRedisFollowCacheRoundTrip(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	_, ok, err := c.Followees(ctx, 1)
	require.NoError(t, err)
	assert.False(t, ok)

	stored, err := c.StoreFollowees(ctx, 1, 0, []uint{1, 2, 3})
	require.NoError(t, err)
	assert.True(t, stored)
	ids, ok, err := c.Followees(ctx, 1)
	require.NoError(t, err)
	assert.True(t, ok)
	assert.ElementsMatch(t, []uint{1, 2, 3}, ids)
	assert.True(t, mr.Exists("following:1"))
	assert.Equal(t, time.Minute, mr.TTL("following:1"))

	_, err = c.StoreFollowees(ctx, 1, 0, []uint{1})
	require.NoError(t, err)
	ids, _, err = c.Followees(ctx, 1)
	require.NoError(t, err)
	assert.Equal(t, []uint{1}, ids, "store replaces the set")
}

func TestRedisFollowCacheInvalidate(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	_, err := c.StoreFollowees(ctx, 1, 0, []uint{1, 2})
	require.NoError(t, err)
	_, err = c.StoreFollowees(ctx, 2, 0, []uint{2})
	require.NoError(t, err)
	require.NoError(t, c.Invalidate(ctx, 1, 2))

	assert.False(t, mr.Exists("following:1"))
	assert.False(t, mr.Exists("following:2"))
	v, err := c.Version(ctx, 1)
	require.NoError(t, err)
	assert.EqualValues(t, 1, v)
	require.NoError(t, c.Invalidate(ctx))
}

func TestRedisFollowCacheRejectsStaleFill(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	v, err := c.Version(ctx, 1)
	require.NoError(t, err)
	assert.Zero(t, v)

	// An unfollow lands between the reader's version read and its fill.
	require.NoError(t, c.Invalidate(ctx, 1))

	stored, err := c.StoreFollowees(ctx, 1, v, []uint{1, 2})
	require.NoError(t, err)
	assert.False(t, stored)
	assert.False(t, mr.Exists("following:1"))

	v, err = c.Version(ctx, 1)
	require.NoError(t, err)
	stored, err = c.StoreFollowees(ctx, 1, v, []uint{1})
	require.NoError(t, err)
	assert.True(t, stored)
}

func TestRedisFollowCacheExpires(t *testing.T) {
	c, mr := newTestCache(t)
	ctx := context.Background()

	_, err := c.StoreFollowees(ctx, 7, 0, []uint{7})
	require.NoError(t, err)
	mr.FastForward(2 * time.Minute)

	_, ok, err := c.Followees(ctx, 7)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestRedisFollowCacheCorruptMember(t *testing.T) {
	c, mr := newTestCache(t)
	_, err := mr.SAdd("following:3", "three")
	require.NoError(t, err)

	_, _, err = c.Followees(context.Background(), 3)
	assert.Error(t, err)
}
