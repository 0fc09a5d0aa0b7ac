// Package cache defines the cache of derived read views. The cache is never authoritative: every write path deletes
// the keys it affects, and a miss is served from the store.
package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	"github.com/tarancss/nftmarket/lib/cache/local"
	"github.com/tarancss/nftmarket/lib/cache/redis"
	"github.com/tarancss/nftmarket/lib/config"
	"github.com/tarancss/nftmarket/lib/metrics"
)

// Backend types
const (
	LOCAL string = "local"
	REDIS string = "redis"
)

// TTLDefault applies when the config sets no TTL.
const TTLDefault = 300 * time.Second

// Keys
const (
	KeyConfig     = "get-config"
	KeyFullConfig = "get-full-config"
)

// Backend stores raw values.
type Backend interface {
	// Get returns false if the key is missing or expired.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Del(ctx context.Context, keys ...string) error
	Close() error
}

// Cache stores JSON encoded values on a Backend.
type Cache struct {
	b   Backend
	ttl time.Duration
	m   *metrics.Metrics
}

// New returns the cache configured in c.
func New(c config.CacheConfig) (*Cache, error) {
	var (
		b   Backend
		err error
	)

	switch c.Type {
	case "", LOCAL:
		b = local.New()
	case REDIS:
		if b, err = redis.New(c.Conn); err != nil {
			return nil, err
		}
	default:
		return nil, fmt.Errorf("unknown cache type %s", c.Type)
	}

	return NewWithBackend(b, c.TTL.Duration), nil
}

// NewWithBackend returns a cache on b. A zero ttl takes TTLDefault.
func NewWithBackend(b Backend, ttl time.Duration) *Cache {
	if ttl <= 0 {
		ttl = TTLDefault
	}

	return &Cache{b: b, ttl: ttl, m: metrics.Get()}
}

// Close closes the backend.
func (c *Cache) Close() error {
	return c.b.Close()
}

// Get decodes the value of key into v and returns true on a hit. Backend errors are logged and reported as a miss.
func (c *Cache) Get(ctx context.Context, key string, v interface{}) bool {
	data, ok, err := c.b.Get(ctx, key)
	if err != nil {
		log.Printf("[cache] get %s err:%e", key, err)
	}

	if ok && err == nil {
		if err = json.Unmarshal(data, v); err != nil {
			log.Printf("[cache] decode %s err:%e", key, err)

			ok = false
		}
	}

	c.m.CacheLookup(ok && err == nil)

	return ok && err == nil
}

// Set stores v under key with the cache TTL.
func (c *Cache) Set(ctx context.Context, key string, v interface{}) {
	data, err := json.Marshal(v)
	if err == nil {
		err = c.b.Set(ctx, key, data, c.ttl)
	}

	if err != nil {
		log.Printf("[cache] set %s err:%e", key, err)
	}
}

// Del deletes the keys.
func (c *Cache) Del(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}

	return c.b.Del(ctx, keys...)
}

// TokensByNFT is the key of the tokens of an NFT.
func TokensByNFT(nftID string) string {
	return "get-tokens-by-nft-" + nftID
}

// TokensByAddress is the key of the tokens held by an address.
func TokensByAddress(address string) string {
	return "get-tokens-by-address-" + address
}

// TokensByAddressAndNFT is the key of the tokens of an NFT held by an address.
func TokensByAddressAndNFT(address, nftID string) string {
	return "get-tokens-by-address-and-nft-" + address + "-" + nftID
}

// TransactionDetail is the key of a transaction.
func TransactionDetail(id string) string {
	return "get-transaction-detail-by-id-" + id
}
