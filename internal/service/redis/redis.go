package redis

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
)

type (
	RedisService struct {
		rdb *redis.Client
	}
)

func NewRedis(rdb *redis.Client) *RedisService {
	return &RedisService{
		rdb: rdb,
	}
}

func (r *RedisService) Ping(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}

func (r *RedisService) RPush(ctx context.Context, key string, value ...any) error {
	return r.rdb.RPush(ctx, key, value...).Err()
}

func (r *RedisService) LRange(ctx context.Context, key string) ([]string, error) {
	return r.rdb.LRange(ctx, key, 0, -1).Result()
}

func (r *RedisService) LPop(ctx context.Context, key string) (string, error) {
	return r.rdb.LPop(ctx, key).Result()
}

func (r *RedisService) LLen(ctx context.Context, key string) (int64, error) {
	return r.rdb.LLen(ctx, key).Result()
}

// Drain returns the whole list and deletes it in one transaction.
func (r *RedisService) Drain(ctx context.Context, key string) ([]string, error) {
	var lrange *redis.StringSliceCmd
	_, err := r.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		lrange = pipe.LRange(ctx, key, 0, -1)
		pipe.Del(ctx, key)
		return nil
	})
	if err != nil {
		return nil, err
	}
	return lrange.Val(), nil
}

func (r *RedisService) Del(ctx context.Context, key ...string) error {
	return r.rdb.Del(ctx, key...).Err()
}

func (r *RedisService) Set(ctx context.Context, key string, value any, ttl time.Duration) error {
	return r.rdb.Set(ctx, key, value, ttl).Err()
}

func (r *RedisService) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	return r.rdb.SetNX(ctx, key, value, ttl).Result()
}

func (r *RedisService) Get(ctx context.Context, key string) (string, error) {
	return r.rdb.Get(ctx, key).Result()
}

func (r *RedisService) HSet(ctx context.Context, key, field string, value any) error {
	return r.rdb.HSet(ctx, key, field, value).Err()
}

func (r *RedisService) HGet(ctx context.Context, key, field string) (string, error) {
	return r.rdb.HGet(ctx, key, field).Result()
}

func (r *RedisService) HDel(ctx context.Context, key string, field ...string) error {
	return r.rdb.HDel(ctx, key, field...).Err()
}

func (r *RedisService) HLen(ctx context.Context, key string) (int64, error) {
	return r.rdb.HLen(ctx, key).Result()
}

func (r *RedisService) SAdd(ctx context.Context, key string, member ...any) error {
	return r.rdb.SAdd(ctx, key, member...).Err()
}

func (r *RedisService) SRem(ctx context.Context, key string, member ...any) error {
	return r.rdb.SRem(ctx, key, member...).Err()
}

func (r *RedisService) SMembers(ctx context.Context, key string) ([]string, error) {
	return r.rdb.SMembers(ctx, key).Result()
}

func (r *RedisService) SIsMember(ctx context.Context, key string, member any) (bool, error) {
	return r.rdb.SIsMember(ctx, key, member).Result()
}

// IsNil reports whether err means the key does not exist.
func IsNil(err error) bool {
	return errors.Is(err, redis.Nil)
}
