// Package lock implements the advisory lock manager. A lock is a row in the lock store whose document id is unique:
// inserting it acquires the lock, deleting it releases it, and a row whose lockUntil has passed is swept by the next
// caller of the same type.
package lock

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/tarancss/nftmarket/lib/config"
	"github.com/tarancss/nftmarket/lib/metrics"
	"github.com/tarancss/nftmarket/lib/store"
)

// Default values
const (
	TTLDefault     = 10 * time.Second
	BackoffDefault = 500 * time.Millisecond
)

// ErrLockContention is returned when the lock could not be acquired within the retry budget.
var ErrLockContention = errors.New("lock contention exceeded")

// Key identifies the logical document to serialize.
type Key struct {
	Type       store.LockType
	DocumentID string
}

func (k Key) String() string {
	return string(k.Type) + ":" + k.DocumentID
}

// Manager acquires and releases advisory locks.
type Manager struct {
	s          store.LockStore
	ttl        time.Duration
	backoff    time.Duration
	maxRetries int
	now        func() time.Time
	m          *metrics.Metrics
}

// New returns a Manager on the given lock store. Zero durations take the defaults; MaxRetries 0 retries until ctx
// is done.
func New(s store.LockStore, c config.LockConfig) *Manager {
	m := &Manager{
		s:          s,
		ttl:        c.TTL.Duration,
		backoff:    c.Backoff.Duration,
		maxRetries: c.MaxRetries,
		now:        time.Now,
		m:          metrics.Get(),
	}
	if m.ttl <= 0 {
		m.ttl = TTLDefault
	}
	if m.backoff <= 0 {
		m.backoff = BackoffDefault
	}

	return m
}

// Do runs fn holding the lock on key. When the document is locked by someone else Do waits for the backoff and tries
// again, until the retry budget is exhausted (ErrLockContention) or ctx is done. Errors returned by fn are returned
// after the lock is released.
func (m *Manager) Do(ctx context.Context, key Key, fn func(ctx context.Context) error) error {
	for retry := 0; ; retry++ {
		err := m.acquire(ctx, key)
		if err == nil {
			break
		}

		if !errors.Is(err, store.ErrDuplicateKey) {
			return fmt.Errorf("cannot lock %s: %w", key, err)
		}

		m.m.LockRetry(string(key.Type))
		log.Printf("[lock] %s: document %s was locked. Retry %d", key.Type, key.DocumentID, retry+1)

		if m.maxRetries > 0 && retry+1 >= m.maxRetries {
			m.m.LockContention(string(key.Type))

			return fmt.Errorf("%w: %s after %d retries", ErrLockContention, key, retry+1)
		}

		t := time.NewTimer(m.backoff)
		select {
		case <-ctx.Done():
			t.Stop()

			return ctx.Err()
		case <-t.C:
		}
	}

	defer m.release(ctx, key)

	return fn(ctx)
}

// acquire sweeps the expired locks of the same type and inserts a new one.
func (m *Manager) acquire(ctx context.Context, key Key) error {
	now := m.now()
	if err := m.s.DeleteExpiredLocks(ctx, key.Type, now); err != nil {
		return err
	}

	return m.s.InsertLock(ctx, store.Lock{Type: key.Type, DocumentID: key.DocumentID, LockUntil: now.Add(m.ttl)})
}

// release runs on a context that outlives the caller's cancellation. A failed release is only logged: the lock
// expires after its TTL.
func (m *Manager) release(ctx context.Context, key Key) {
	if err := m.s.DeleteLock(context.WithoutCancel(ctx), key.Type, key.DocumentID); err != nil {
		log.Printf("[lock] cannot release %s err:%e", key, err)
	}
}
