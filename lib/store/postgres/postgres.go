// Package postgres implements the lock store for PostgreSQL. Use it when locks must live outside the document
// database.
package postgres

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/lib/pq" //nolint:gci // load the postgres driver that is used by the system

	"github.com/tarancss/nftmarket/lib/store"
)

const uniqueViolation = "23505"

const schema = `CREATE TABLE IF NOT EXISTS locks (
	document_id TEXT PRIMARY KEY,
	type        TEXT NOT NULL,
	lock_until  TIMESTAMPTZ NOT NULL
)`

// Postgres implements store.LockStore.
type Postgres struct {
	db *sql.DB
}

// New returns a postgres client connection to the specified database in 'connection' and creates the locks table.
func New(connection string) (*Postgres, error) {
	db, err := sql.Open("postgres", connection)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to DB in %s: %w", connection, err)
	}

	if _, err = db.Exec(schema); err != nil {
		db.Close()

		return nil, fmt.Errorf("cannot create locks table: %w", err)
	}

	return &Postgres{db: db}, nil
}

// Close will close any database connection. Must be called at termination time.
func (p *Postgres) Close() error {
	return p.db.Close()
}

// DeleteExpiredLocks deletes the locks of type t that expired before now.
func (p *Postgres) DeleteExpiredLocks(ctx context.Context, t store.LockType, now time.Time) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM locks WHERE type = $1 AND lock_until < $2`, string(t), now)

	return err
}

// InsertLock saves a lock. The primary key turns a concurrent lock into store.ErrDuplicateKey.
func (p *Postgres) InsertLock(ctx context.Context, l store.Lock) error {
	_, err := p.db.ExecContext(ctx, `INSERT INTO locks (document_id, type, lock_until) VALUES ($1, $2, $3)`,
		l.DocumentID, string(l.Type), l.LockUntil)

	var pqErr *pq.Error
	if errors.As(err, &pqErr) && pqErr.Code == uniqueViolation {
		return store.ErrDuplicateKey
	}

	return err
}

// DeleteLock releases a lock.
func (p *Postgres) DeleteLock(ctx context.Context, t store.LockType, documentID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM locks WHERE type = $1 AND document_id = $2`, string(t), documentID)

	return err
}
