// Package mongo implements the interface for MongoDB.
//
// Multi-document atomic scopes run in a session transaction, so the server must be a replica set or a sharded
// cluster. Decimal fields are stored as Decimal128.
package mongo

import (
	"context"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mgo "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/x/mongo/driver/connstring"
)

const defaultDatabase = "nftmarket"

// Collection names.
const (
	colLocks        = "locks"
	colTransactions = "transactions"
	colOwners       = "owners"
	colNFTs         = "nfts"
	colUsers        = "users"
	colSettings     = "settings"
	colCounters     = "counters"
)

// Mongo implements a connection to a MongoDB database.
type Mongo struct {
	c  *mgo.Client
	db *mgo.Database
}

// New returns a Mongo client connection to the specified MongoDB database uri. The database name is taken from the
// uri path. Required indexes are created if missing.
func New(uri string) (*Mongo, error) {
	cs, err := connstring.ParseAndValidate(uri)
	if err != nil {
		return nil, fmt.Errorf("invalid mongo uri %s: %w", uri, err)
	}

	name := cs.Database
	if name == "" {
		name = defaultDatabase
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second) //nolint:gomnd // 5 seconds timeout
	defer cancel()

	c, err := mgo.Connect(ctx, options.Client().ApplyURI(uri).SetRegistry(registry()))
	if err != nil {
		return nil, fmt.Errorf("error connecting to mongo DB: %w", err)
	}

	m := &Mongo{c: c, db: c.Database(name)}
	if err = m.ensureIndexes(ctx); err != nil {
		_ = c.Disconnect(context.Background())
		return nil, fmt.Errorf("error creating mongo indexes: %w", err)
	}

	return m, nil
}

// Close will close a database connection. Must be called at termination time.
func (m *Mongo) Close() error {
	return m.c.Disconnect(context.Background())
}

func (m *Mongo) ensureIndexes(ctx context.Context) error {
	unique := options.Index().SetUnique(true)
	indexes := []struct {
		col    string
		models []mgo.IndexModel
	}{
		{colLocks, []mgo.IndexModel{{Keys: bson.D{{Key: "documentId", Value: 1}}, Options: unique}}},
		{colOwners, []mgo.IndexModel{
			{Keys: bson.D{{Key: "tokenId", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "address", Value: 1}, {Key: "status", Value: 1}}},
		}},
		{colUsers, []mgo.IndexModel{
			{Keys: bson.D{{Key: "address", Value: 1}}, Options: unique},
			{Keys: bson.D{{Key: "pathId", Value: 1}}},
			{Keys: bson.D{{Key: "originator", Value: 1}}},
		}},
		{colTransactions, []mgo.IndexModel{
			{Keys: bson.D{{Key: "hash", Value: 1}, {Key: "type", Value: 1}}},
			{Keys: bson.D{{Key: "toAddress", Value: 1}, {Key: "status", Value: 1}, {Key: "type", Value: 1}}},
			{Keys: bson.D{{Key: "affiliateInfo.referrerDirect.address", Value: 1}}},
			{Keys: bson.D{{Key: "affiliateInfo.bda.address", Value: 1}}},
		}},
		{colNFTs, []mgo.IndexModel{{Keys: bson.D{{Key: "token.ids", Value: 1}}}}},
	}

	for _, i := range indexes {
		if _, err := m.db.Collection(i.col).Indexes().CreateMany(ctx, i.models); err != nil {
			return fmt.Errorf("collection %s: %w", i.col, err)
		}
	}

	return nil
}

// WithTransaction runs fn inside a session transaction. A context that already carries a session joins it.
func (m *Mongo) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if mgo.SessionFromContext(ctx) != nil {
		return fn(ctx)
	}

	sess, err := m.c.StartSession()
	if err != nil {
		return fmt.Errorf("cannot start mongo session: %w", err)
	}
	defer sess.EndSession(context.Background())

	_, err = sess.WithTransaction(ctx, func(sc mgo.SessionContext) (interface{}, error) {
		return nil, fn(sc)
	})

	return err
}
