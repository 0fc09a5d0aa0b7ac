// Package db implements the opening and graceful closing of database connections.
package db

import (
	"errors"
	"fmt"
	"io"

	"github.com/tarancss/nftmarket/lib/store"
	"github.com/tarancss/nftmarket/lib/store/memory"
	"github.com/tarancss/nftmarket/lib/store/mongo"
	"github.com/tarancss/nftmarket/lib/store/postgres"
)

const (
	MONGODB  string = "mongodb"
	POSTGRES string = "postgresql"
	MEMORY   string = "memory"
)

// ErrUnknownDB is returned for an unsupported database type.
var ErrUnknownDB = errors.New("unknown database type")

// Locks is a lock store that must be closed at termination time.
type Locks interface {
	store.LockStore
	io.Closer
}

// New returns a new database connection according to the options (database type).
func New(options, connection string) (store.DB, error) {
	switch options {
	case MONGODB:
		return mongo.New(connection)
	case MEMORY:
		return memory.New(), nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownDB, options)
}

// NewLocks returns the lock store. An empty type keeps the locks in the main database dh.
func NewLocks(options, connection string, dh store.DB) (Locks, error) {
	switch options {
	case "":
		return nopCloser{dh}, nil
	case POSTGRES:
		return postgres.New(connection)
	case MONGODB:
		return mongo.New(connection)
	case MEMORY:
		return memory.New(), nil
	}

	return nil, fmt.Errorf("%w: %s", ErrUnknownDB, options)
}

// nopCloser leaves closing to the owner of the main database.
type nopCloser struct {
	store.LockStore
}

func (nopCloser) Close() error { return nil }
