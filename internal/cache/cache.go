// Package cache keeps each profile's followee set close to the feed resolver.
// The follows table stays authoritative; a cache miss or error falls back to it.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// FollowCache stores the set of profile ids a profile follows.
//
// Every invalidation bumps a per-profile version. A reader takes the version before it reads
// the database and fills the cache only if the version is unchanged, so a set read before an
// unfollow can never be written back after it.
type FollowCache interface {
	// Followees returns the cached set and whether it was present.
	Followees(ctx context.Context, profileID uint) ([]uint, bool, error)
	Version(ctx context.Context, profileID uint) (int64, error)
	// StoreFollowees fills the set if the version still matches and reports whether it did.
	StoreFollowees(ctx context.Context, profileID uint, version int64, ids []uint) (bool, error)
	Invalidate(ctx context.Context, profileIDs ...uint) error
}

type RedisFollowCache struct {
	client *redis.Client
	ttl    time.Duration
}

func NewRedisFollowCache(client *redis.Client, ttl time.Duration) *RedisFollowCache {
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &RedisFollowCache{client: client, ttl: ttl}
}

func followingKey(profileID uint) string {
	return fmt.Sprintf("following:%d", profileID)
}

func versionKey(profileID uint) string {
	return fmt.Sprintf("following:%d:version", profileID)
}

var errStaleVersion = errors.New("follow cache version moved")

func (c *RedisFollowCache) Followees(ctx context.Context, profileID uint) ([]uint, bool, error) {
	members, err := c.client.SMembers(ctx, followingKey(profileID)).Result()
	if err != nil {
		return nil, false, err
	}
	// A stored set always holds at least the self edge, so empty means missing.
	if len(members) == 0 {
		return nil, false, nil
	}

	ids := make([]uint, 0, len(members))
	for _, m := range members {
		n, err := strconv.ParseUint(m, 10, 64)
		if err != nil {
			return nil, false, fmt.Errorf("corrupt member %q in %s: %w", m, followingKey(profileID), err)
		}
		ids = append(ids, uint(n))
	}
	return ids, true, nil
}

func (c *RedisFollowCache) Version(ctx context.Context, profileID uint) (int64, error) {
	v, err := c.client.Get(ctx, versionKey(profileID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	return v, err
}

func (c *RedisFollowCache) StoreFollowees(ctx context.Context, profileID uint, version int64, ids []uint) (bool, error) {
	if len(ids) == 0 {
		return false, nil
	}
	key, verKey := followingKey(profileID), versionKey(profileID)
	members := make([]any, len(ids))
	for i, id := range ids {
		members[i] = strconv.FormatUint(uint64(id), 10)
	}

	err := c.client.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, verKey).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != version {
			return errStaleVersion
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SAdd(ctx, key, members...)
			pipe.Expire(ctx, key, c.ttl)
			return nil
		})
		return err
	}, verKey)
	if errors.Is(err, errStaleVersion) || errors.Is(err, redis.TxFailedErr) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return true, nil
}

// Invalidate drops the cached sets and bumps their versions in one transaction.
func (c *RedisFollowCache) Invalidate(ctx context.Context, profileIDs ...uint) error {
	if len(profileIDs) == 0 {
		return nil
	}
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for _, id := range profileIDs {
			pipe.Incr(ctx, versionKey(id))
			pipe.Del(ctx, followingKey(id))
		}
		return nil
	})
	return err
}

// Noop never hits, used when no Redis address is configured.
type Noop struct{}

func (Noop) Followees(context.Context, uint) ([]uint, bool, error)             { return nil, false, nil }
func (Noop) Version(context.Context, uint) (int64, error)                      { return 0, nil }
func (Noop) StoreFollowees(context.Context, uint, int64, []uint) (bool, error) { return false, nil }
func (Noop) Invalidate(context.Context, ...uint) error                         { return nil }
