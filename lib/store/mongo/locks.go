package mongo

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	mgo "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tarancss/nftmarket/lib/store"
	"github.com/tarancss/nftmarket/lib/util"
)

// DeleteExpiredLocks deletes the locks of type t whose lockUntil is before now.
func (m *Mongo) DeleteExpiredLocks(ctx context.Context, t store.LockType, now time.Time) error {
	_, err := m.db.Collection(colLocks).DeleteMany(ctx, bson.M{"type": t, "lockUntil": bson.M{"$lt": now}})

	return err
}

// InsertLock saves a lock. The unique index on documentId turns a concurrent lock into ErrDuplicateKey.
func (m *Mongo) InsertLock(ctx context.Context, l store.Lock) error {
	_, err := m.db.Collection(colLocks).InsertOne(ctx, l)
	if mgo.IsDuplicateKeyError(err) {
		return store.ErrDuplicateKey
	}

	return err
}

// DeleteLock releases a lock.
func (m *Mongo) DeleteLock(ctx context.Context, t store.LockType, documentID string) error {
	_, err := m.db.Collection(colLocks).DeleteOne(ctx, bson.M{"type": t, "documentId": documentID})

	return err
}

// InsertTransaction saves a new transaction, assigning its id if empty.
func (m *Mongo) InsertTransaction(ctx context.Context, t *store.Transaction) error {
	if t.ID == "" {
		t.ID = util.NewID()
	}

	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}

	t.UpdatedAt = now

	_, err := m.db.Collection(colTransactions).InsertOne(ctx, t)
	if mgo.IsDuplicateKeyError(err) {
		return store.ErrDuplicateKey
	}

	return err
}

// FindTransaction returns the transaction with the given id.
func (m *Mongo) FindTransaction(ctx context.Context, id string) (*store.Transaction, error) {
	var t store.Transaction
	if err := m.db.Collection(colTransactions).FindOne(ctx, bson.M{"_id": id}).Decode(&t); err != nil {
		return nil, notFound(err)
	}

	return &t, nil
}

// FindTransactionByHash returns the oldest transaction of the given type and hash holding tokenID if not empty.
func (m *Mongo) FindTransactionByHash(ctx context.Context, typ store.TransactionType,
	hash, tokenID string) (*store.Transaction, error) {
	var t store.Transaction

	filter := bson.M{"type": typ, "hash": hash}
	if tokenID != "" {
		filter["tokenIds"] = tokenID
	}

	err := m.db.Collection(colTransactions).FindOne(ctx, filter,
		options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: 1}})).Decode(&t)
	if err != nil {
		return nil, notFound(err)
	}

	return &t, nil
}

// SaveTransaction replaces the stored transaction.
func (m *Mongo) SaveTransaction(ctx context.Context, t *store.Transaction,
	from ...store.TransactionStatus) error {
	t.UpdatedAt = time.Now()

	filter := bson.M{"_id": t.ID}
	if len(from) > 0 {
		filter["status"] = bson.M{"$in": from}
	}

	res, err := m.db.Collection(colTransactions).ReplaceOne(ctx, filter, t)
	if err != nil {
		return fmt.Errorf("cannot save transaction %s: %w", t.ID, err)
	}

	if res.MatchedCount == 0 {
		return store.ErrNoMatch
	}

	return nil
}

func transactionQuery(q store.TransactionQuery) bson.D {
	match := bson.D{}
	if q.ToAddresses != nil {
		match = append(match, bson.E{Key: "toAddress", Value: bson.M{"$in": q.ToAddresses}})
	}

	if q.Status != "" {
		match = append(match, bson.E{Key: "status", Value: q.Status})
	}

	if q.Type != "" {
		match = append(match, bson.E{Key: "type", Value: q.Type})
	}

	if q.Affiliate != "" {
		match = append(match, bson.E{Key: "$or", Value: bson.A{
			bson.M{"affiliateInfo.referrerDirect.address": q.Affiliate},
			bson.M{"affiliateInfo.bda.address": q.Affiliate},
		}})
	}

	return match
}

// ListTransactions returns the matching transactions, oldest first.
func (m *Mongo) ListTransactions(ctx context.Context, q store.TransactionQuery) ([]store.Transaction, error) {
	cur, err := m.db.Collection(colTransactions).Find(ctx, transactionQuery(q),
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "_id", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("cannot list transactions: %w", err)
	}
	defer cur.Close(ctx)

	var res []store.Transaction
	if err = cur.All(ctx, &res); err != nil {
		return nil, err
	}

	return res, nil
}

// SumTransactions adds up quantity and revenue of the matching transactions.
func (m *Mongo) SumTransactions(ctx context.Context, q store.TransactionQuery) (store.GroupTotals, error) {
	pipe := mgo.Pipeline{
		{{Key: "$match", Value: transactionQuery(q)}},
		{{Key: "$group", Value: bson.D{
			{Key: "_id", Value: nil},
			{Key: "totalTokenSold", Value: bson.M{"$sum": "$quantity"}},
			{Key: "totalVolume", Value: bson.M{"$sum": "$revenue"}},
		}}},
	}

	cur, err := m.db.Collection(colTransactions).Aggregate(ctx, pipe)
	if err != nil {
		return store.GroupTotals{}, fmt.Errorf("cannot aggregate transactions: %w", err)
	}
	defer cur.Close(ctx)

	var res []store.GroupTotals
	if err = cur.All(ctx, &res); err != nil {
		return store.GroupTotals{}, err
	}

	if len(res) == 0 {
		return store.GroupTotals{}, nil
	}

	return res[0], nil
}

// notFound maps the driver's no documents error to the store one.
func notFound(err error) error {
	if errors.Is(err, mgo.ErrNoDocuments) {
		return store.ErrDataNotFound
	}

	return err
}
