// Package cache keeps room membership in redis so a broadcast does not hit
// the database for every message.
package cache

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Source is the authoritative membership lookup behind the cache.
type Source interface {
	RoomMemberIDs(ctx context.Context, roomID int64) ([]int64, error)
}

type MemberCache struct {
	rdb    *redis.Client
	source Source
	ttl    time.Duration
	log    *zap.Logger
}

func NewMemberCache(rdb *redis.Client, source Source, ttl time.Duration, log *zap.Logger) *MemberCache {
	return &MemberCache{rdb: rdb, source: source, ttl: ttl, log: log.Named("member_cache")}
}

func membersKey(roomID int64) string {
	return fmt.Sprintf("room:%d:members", roomID)
}

// genKey counts membership changes of a room. A refill only lands if the
// count did not move while the source was being read.
func genKey(roomID int64) string {
	return membersKey(roomID) + ":gen"
}

// RoomMemberIDs serves from redis when it can. Redis failures fall through
// to the source and are only logged.
func (c *MemberCache) RoomMemberIDs(ctx context.Context, roomID int64) ([]int64, error) {
	key := membersKey(roomID)

	cached, err := c.rdb.SMembers(ctx, key).Result()
	if err != nil {
		c.log.Warn("redis read failed", zap.String("key", key), zap.Error(err))
	} else if len(cached) > 0 {
		ids, ok := parseIDs(cached)
		if ok {
			return ids, nil
		}
		c.log.Warn("corrupt member set", zap.String("key", key))
	}

	gen, genErr := c.generation(ctx, roomID)

	ids, err := c.source.RoomMemberIDs(ctx, roomID)
	if err != nil {
		return nil, err
	}
	if len(ids) == 0 || genErr != nil {
		return ids, nil
	}

	if err := c.refill(ctx, roomID, gen, ids); err != nil {
		c.log.Warn("redis write failed", zap.String("key", key), zap.Error(err))
	}
	return ids, nil
}

func (c *MemberCache) generation(ctx context.Context, roomID int64) (int64, error) {
	gen, err := c.rdb.Get(ctx, genKey(roomID)).Int64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		c.log.Warn("redis read failed", zap.String("key", genKey(roomID)), zap.Error(err))
	}
	return gen, err
}

// refill stores ids unless Forget ran since gen was read, in which case
// ids may predate the membership change and are left out of the cache.
func (c *MemberCache) refill(ctx context.Context, roomID, gen int64, ids []int64) error {
	key, gk := membersKey(roomID), genKey(roomID)
	members := make([]interface{}, len(ids))
	for i, id := range ids {
		members[i] = id
	}

	err := c.rdb.Watch(ctx, func(tx *redis.Tx) error {
		current, err := tx.Get(ctx, gk).Int64()
		if err != nil && !errors.Is(err, redis.Nil) {
			return err
		}
		if current != gen {
			return redis.TxFailedErr
		}
		_, err = tx.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
			pipe.Del(ctx, key)
			pipe.SAdd(ctx, key, members...)
			pipe.Expire(ctx, key, c.ttl)
			return nil
		})
		return err
	}, gk)
	if errors.Is(err, redis.TxFailedErr) {
		c.log.Debug("members changed during refill, not cached", zap.Int64("room_id", roomID))
		return nil
	}
	return err
}

// Forget drops the cached members of roomID after a membership change and
// invalidates refills that started before it.
func (c *MemberCache) Forget(ctx context.Context, roomID int64) {
	_, err := c.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.Incr(ctx, genKey(roomID))
		pipe.Del(ctx, membersKey(roomID))
		return nil
	})
	if err != nil {
		c.log.Warn("redis delete failed", zap.Int64("room_id", roomID), zap.Error(err))
	}
}

func parseIDs(values []string) ([]int64, bool) {
	ids := make([]int64, 0, len(values))
	for _, v := range values {
		id, err := strconv.ParseInt(v, 10, 64)
		if err != nil {
			return nil, false
		}
		ids = append(ids, id)
	}
	return ids, true
}
