package storage

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
)

const keyNamespace = "healthpay"

type cmdable interface {
	Ping(context.Context) *redis.StatusCmd
	Get(context.Context, string) *redis.StringCmd
	Set(context.Context, string, any, time.Duration) *redis.StatusCmd
	Del(context.Context, ...string) *redis.IntCmd
}

// RedisOptions configures the Redis-backed store.
type RedisOptions struct {
	URL      string
	Address  string
	Password string
	DB       int
	// Scope namespaces keys, typically one per installation.
	Scope string
	// CartTTL expires an idle cart record. Receipt records never expire.
	CartTTL time.Duration
}

// Redis stores records in Redis under namespaced keys.
type Redis struct {
	store   cmdable
	raw     *redis.Client
	scope   string
	cartTTL time.Duration
}

// NewRedis connects to Redis and verifies connectivity.
func NewRedis(ctx context.Context, opts RedisOptions) (*Redis, error) {
	clientOpts, err := redisOptions(opts)
	if err != nil {
		return nil, err
	}
	raw := redis.NewClient(clientOpts)
	if err := raw.Ping(ctx).Err(); err != nil {
		_ = raw.Close()
		return nil, fmt.Errorf("ping redis: %w", err)
	}
	return &Redis{store: raw, raw: raw, scope: opts.Scope, cartTTL: opts.CartTTL}, nil
}

func redisOptions(opts RedisOptions) (*redis.Options, error) {
	if opts.URL == "" && opts.Address == "" {
		return nil, errors.New("redis url or address is required")
	}
	if opts.URL != "" {
		parsed, err := redis.ParseURL(opts.URL)
		if err != nil {
			return nil, fmt.Errorf("parsing redis url: %w", err)
		}
		return parsed, nil
	}
	return &redis.Options{
		Addr:     opts.Address,
		Password: opts.Password,
		DB:       opts.DB,
	}, nil
}

// Key returns the namespaced Redis key for a record key.
func (r *Redis) Key(key string) string {
	parts := []string{keyNamespace}
	if r.scope != "" {
		parts = append(parts, r.scope)
	}
	return strings.Join(append(parts, key), ":")
}

func (r *Redis) Get(ctx context.Context, key string) ([]byte, error) {
	if r.store == nil {
		return nil, errors.New("redis client not initialized")
	}
	v, err := r.store.Get(ctx, r.Key(key)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, ErrNotFound
	}
	return v, err
}

func (r *Redis) Set(ctx context.Context, key string, value []byte) error {
	if r.store == nil {
		return errors.New("redis client not initialized")
	}
	var ttl time.Duration
	if key == KeyCart {
		ttl = r.cartTTL
	}
	return r.store.Set(ctx, r.Key(key), value, ttl).Err()
}

func (r *Redis) Delete(ctx context.Context, key string) error {
	if r.store == nil {
		return errors.New("redis client not initialized")
	}
	return r.store.Del(ctx, r.Key(key)).Err()
}

// Ping checks connectivity.
func (r *Redis) Ping(ctx context.Context) error {
	if r.store == nil {
		return errors.New("redis client not initialized")
	}
	return r.store.Ping(ctx).Err()
}

// Close releases the underlying connection pool.
func (r *Redis) Close() error {
	if r.raw == nil {
		return nil
	}
	return r.raw.Close()
}
