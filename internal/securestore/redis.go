// redis.go -- go-redis backed KV for the general-purpose fast store.
//
// Lets several agent processes on one host share preferences and pending
// sign-up data. Keys are namespaced so the KV can share a Redis database.
package securestore

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"
)

// RedisKV wraps a Redis client as a KV.
type RedisKV struct {
	rdb    *redis.Client
	prefix string
}

// NewRedisClient connects to Redis and pings it before returning.
// Accepts either a redis:// URL or a bare host:port address.
func NewRedisClient(ctx context.Context, redisURL string) (*redis.Client, error) {
	var opt *redis.Options
	if strings.HasPrefix(redisURL, "redis://") || strings.HasPrefix(redisURL, "rediss://") {
		parsed, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("parse redis url: %w", err)
		}
		opt = parsed
	} else {
		opt = &redis.Options{Addr: redisURL}
	}

	rdb := redis.NewClient(opt)
	if err := rdb.Ping(ctx).Err(); err != nil {
		rdb.Close()
		return nil, fmt.Errorf("pinging redis: %w", err)
	}
	return rdb, nil
}

// NewRedisKV returns a KV storing keys under "<namespace>:".
// The caller owns rdb and closes it.
func NewRedisKV(rdb *redis.Client, namespace string) *RedisKV {
	return &RedisKV{rdb: rdb, prefix: namespace + ":"}
}

func (r *RedisKV) Get(ctx context.Context, key string) (string, bool, error) {
	v, err := r.rdb.Get(ctx, r.prefix+key).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("fetching %q: %w", key, err)
	}
	return v, true, nil
}

// Set stores value with no expiry; expiry is tracked inside the records themselves.
func (r *RedisKV) Set(ctx context.Context, key, value string) error {
	if err := r.rdb.Set(ctx, r.prefix+key, value, 0).Err(); err != nil {
		return fmt.Errorf("storing %q: %w", key, err)
	}
	return nil
}

func (r *RedisKV) Delete(ctx context.Context, key string) error {
	if err := r.rdb.Del(ctx, r.prefix+key).Err(); err != nil {
		return fmt.Errorf("deleting %q: %w", key, err)
	}
	return nil
}

// Keys scans the namespace. SCAN keeps Redis responsive on large databases.
func (r *RedisKV) Keys(ctx context.Context) ([]string, error) {
	var keys []string
	iter := r.rdb.Scan(ctx, 0, r.prefix+"*", 100).Iterator()
	for iter.Next(ctx) {
		keys = append(keys, strings.TrimPrefix(iter.Val(), r.prefix))
	}
	if err := iter.Err(); err != nil {
		return nil, fmt.Errorf("scanning keys: %w", err)
	}
	return keys, nil
}

// CheckHealth pings Redis.
func (r *RedisKV) CheckHealth(ctx context.Context) error {
	return r.rdb.Ping(ctx).Err()
}
