// Package cache is a small byte cache used for enrollment reads. Values are
// advisory: the ledger stays the source of truth and callers fall back to it
// on any cache error.
package cache

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"

	cfgpkg "github.com/fatflowers/academy/pkg/config"
)

type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, val []byte, ttl time.Duration) error
	Delete(ctx context.Context, keys ...string) error
	// Incr bumps a counter and refreshes its expiry, returning the new value.
	Incr(ctx context.Context, key string, ttl time.Duration) (int64, error)
}

type RedisCache struct {
	client redis.UniversalClient
}

func NewRedisCache(client redis.UniversalClient) *RedisCache {
	return &RedisCache{client: client}
}

func (c *RedisCache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	b, err := c.client.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redis get %s: %w", key, err)
	}
	return b, true, nil
}

func (c *RedisCache) Set(ctx context.Context, key string, val []byte, ttl time.Duration) error {
	if err := c.client.Set(ctx, key, val, ttl).Err(); err != nil {
		return fmt.Errorf("redis set %s: %w", key, err)
	}
	return nil
}

func (c *RedisCache) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.client.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("redis del: %w", err)
	}
	return nil
}

func (c *RedisCache) Incr(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	var incr *redis.IntCmd
	_, err := c.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		incr = pipe.Incr(ctx, key)
		pipe.Expire(ctx, key, ttl)
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("redis incr %s: %w", key, err)
	}
	return incr.Val(), nil
}

// Nop never hits; used when no redis is configured.
type Nop struct{}

func (Nop) Get(context.Context, string) ([]byte, bool, error)          { return nil, false, nil }
func (Nop) Set(context.Context, string, []byte, time.Duration) error   { return nil }
func (Nop) Delete(context.Context, ...string) error                    { return nil }
func (Nop) Incr(context.Context, string, time.Duration) (int64, error) { return 0, nil }

// NewRedisClient returns nil when redis.addr is empty.
func NewRedisClient(lc fx.Lifecycle, l *zap.SugaredLogger, cfg *cfgpkg.Config) (*redis.Client, error) {
	if cfg.Redis.Addr == "" {
		l.Infow("redis disabled, using in-process cache and locks")
		return nil, nil
	}
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	lc.Append(fx.Hook{
		OnStart: func(ctx context.Context) error {
			if err := client.Ping(ctx).Err(); err != nil {
				return fmt.Errorf("redis ping: %w", err)
			}
			l.Infow("connected to redis", "addr", cfg.Redis.Addr)
			return nil
		},
		OnStop: func(ctx context.Context) error {
			return client.Close()
		},
	})
	return client, nil
}

func New(client *redis.Client) Cache {
	if client == nil {
		return Nop{}
	}
	return NewRedisCache(client)
}

var Module = fx.Options(
	fx.Provide(NewRedisClient),
	fx.Provide(New),
)
