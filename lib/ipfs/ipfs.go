// Package ipfs uploads files and metadata to IPFS through a set of providers. The Gateway starts with a random
// provider and moves to the next one each time an upload fails, up to the configured number of attempts.
package ipfs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"github.com/tarancss/nftmarket/lib/config"
	"github.com/tarancss/nftmarket/lib/metrics"
)

// Default values
const (
	RetriesDefault = 3
	WaitDefault    = 300 * time.Millisecond
)

// Errors returned
var (
	ErrNoProvider      = errors.New("no ipfs provider configured")
	ErrUnknownProvider = errors.New("unknown ipfs provider")
	ErrUpload          = errors.New("ipfs upload failed")
)

// Uploader is the upload capability the market depends on.
type Uploader interface {
	Upload(ctx context.Context, name string, data []byte) (string, error)
	UploadMetadata(ctx context.Context, name string, v interface{}) (string, error)
}

// Gateway rotates over providers.
type Gateway struct {
	providers []Provider
	retries   int
	wait      time.Duration
	m         *metrics.Metrics

	mu   sync.Mutex
	next int
}

// New returns a Gateway with the providers of c.
func New(c config.IpfsConfig) (*Gateway, error) {
	ps := make([]Provider, 0, len(c.Providers))

	for _, pc := range c.Providers {
		p, err := NewProvider(pc)
		if err != nil {
			return nil, err
		}

		ps = append(ps, p)
	}

	return NewGateway(ps, c.Retries, c.Wait.Duration)
}

// NewGateway returns a Gateway on ps. Zero retries or wait take the defaults.
func NewGateway(ps []Provider, retries int, wait time.Duration) (*Gateway, error) {
	if len(ps) == 0 {
		return nil, ErrNoProvider
	}

	if retries <= 0 {
		retries = RetriesDefault
	}

	if wait <= 0 {
		wait = WaitDefault
	}

	return &Gateway{
		providers: ps,
		retries:   retries,
		wait:      wait,
		m:         metrics.Get(),
		next:      rand.Intn(len(ps)), //nolint:gosec // provider choice does not need a secure source
	}, nil
}

// provider returns the current provider.
func (g *Gateway) provider() Provider {
	g.mu.Lock()
	defer g.mu.Unlock()

	return g.providers[g.next]
}

// rotate moves to the provider after failed, unless another upload rotated already.
func (g *Gateway) rotate(failed Provider) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.providers[g.next] == failed {
		g.next = (g.next + 1) % len(g.providers)
	}
}

// Upload stores data and returns its ipfs:// URI.
func (g *Gateway) Upload(ctx context.Context, name string, data []byte) (string, error) {
	var err error

	for attempt := 1; attempt <= g.retries; attempt++ {
		p := g.provider()

		var cid string

		cid, err = p.Upload(ctx, name, data)
		g.m.IpfsUpload(p.Name(), err)

		if err == nil {
			return "ipfs://" + cid, nil
		}

		log.Printf("[ipfs] %s upload %s failed, attempt %d/%d err:%e", p.Name(), name, attempt, g.retries, err)
		g.rotate(p)

		if attempt == g.retries {
			break
		}

		t := time.NewTimer(g.wait)
		select {
		case <-ctx.Done():
			t.Stop()

			return "", ctx.Err()
		case <-t.C:
		}
	}

	return "", fmt.Errorf("cannot upload %s after %d attempts: %w", name, g.retries, err)
}

// UploadMetadata stores the JSON encoding of v.
func (g *Gateway) UploadMetadata(ctx context.Context, name string, v interface{}) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("cannot encode metadata: %w", err)
	}

	return g.Upload(ctx, name, data)
}
