// Package local implements the cache backend in process memory.
package local

import (
	"context"
	"time"

	"github.com/patrickmn/go-cache"
)

const cleanupInterval = time.Minute

// Local is a go-cache store.
type Local struct {
	c *cache.Cache
}

// New returns an empty local cache.
func New() *Local {
	return &Local{c: cache.New(cache.NoExpiration, cleanupInterval)}
}

// Get returns the value of key.
func (l *Local) Get(_ context.Context, key string) ([]byte, bool, error) {
	v, found := l.c.Get(key)
	if !found {
		return nil, false, nil
	}

	data, ok := v.([]byte)

	return data, ok, nil
}

// Set stores value until ttl passes.
func (l *Local) Set(_ context.Context, key string, value []byte, ttl time.Duration) error {
	l.c.Set(key, value, ttl)

	return nil
}

// Del deletes the keys.
func (l *Local) Del(_ context.Context, keys ...string) error {
	for _, k := range keys {
		l.c.Delete(k)
	}

	return nil
}

// Close empties the cache.
func (l *Local) Close() error {
	l.c.Flush()

	return nil
}
