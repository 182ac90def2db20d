package cache

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/playgate-tv/playgate/internal/log"
	"github.com/playgate-tv/playgate/internal/metrics"
)

const redisOpTimeout = 2 * time.Second

// Redis is the Redis-backed Store, used when multiple instances should
// share resolved-ad and source-list caches.
type Redis struct {
	client *redis.Client
}

// NewRedis connects to Redis and verifies the connection. Callers fall
// back to the in-process backend when this fails.
func NewRedis(addr, password string, db int) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         addr,
		Password:     password,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("redis connection failed: %w", err)
	}

	lg := log.WithComponent("cache")
	lg.Info().Str("addr", addr).Int("db", db).Msg("connected to redis")
	return &Redis{client: client}, nil
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	val, err := r.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		metrics.IncCacheOp("redis", "miss")
		return nil, false
	}
	if err != nil {
		lg := log.WithComponent("cache")
		lg.Warn().Err(err).Str("key", key).Msg("redis get failed")
		metrics.IncCacheOp("redis", "error")
		return nil, false
	}
	metrics.IncCacheOp("redis", "hit")
	return val, true
}

func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()

	if err := r.client.Set(ctx, key, value, ttl).Err(); err != nil {
		lg := log.WithComponent("cache")
		lg.Warn().Err(err).Str("key", key).Msg("redis set failed")
		metrics.IncCacheOp("redis", "error")
		return
	}
	metrics.IncCacheOp("redis", "set")
}

func (r *Redis) Delete(ctx context.Context, key string) {
	ctx, cancel := context.WithTimeout(ctx, redisOpTimeout)
	defer cancel()
	if err := r.client.Del(ctx, key).Err(); err != nil {
		lg := log.WithComponent("cache")
		lg.Warn().Err(err).Str("key", key).Msg("redis delete failed")
	}
}

func (r *Redis) Close() error {
	return r.client.Close()
}

// Ping reports backend reachability for readiness probes.
func (r *Redis) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}
