// Package redis implements the cache backend on a Redis server shared by all the service instances.
package redis

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// Redis is a cache on a Redis server.
type Redis struct {
	c *redis.Client
}

// New connects to the server in uri (redis://[:password@]host:port/db).
func New(uri string) (*Redis, error) {
	opt, err := redis.ParseURL(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid redis uri %s: %w", uri, err)
	}

	opt.MaxRetries = 3
	opt.ReadTimeout = 3 * time.Second
	opt.WriteTimeout = 3 * time.Second

	c := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint:gomnd // 5 seconds timeout
	defer cancel()

	if err = c.Ping(ctx).Err(); err != nil {
		c.Close()

		return nil, fmt.Errorf("cannot connect to redis: %w", err)
	}

	return &Redis{c: c}, nil
}

// Get returns the value of key.
func (r *Redis) Get(ctx context.Context, key string) ([]byte, bool, error) {
	data, err := r.c.Get(ctx, key).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}

	if err != nil {
		return nil, false, err
	}

	return data, true, nil
}

// Set stores value until ttl passes.
func (r *Redis) Set(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	return r.c.SetEx(ctx, key, value, ttl).Err()
}

// Del deletes the keys.
func (r *Redis) Del(ctx context.Context, keys ...string) error {
	return r.c.Del(ctx, keys...).Err()
}

// Close closes the client.
func (r *Redis) Close() error {
	return r.c.Close()
}
