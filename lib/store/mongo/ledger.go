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

// InsertOwners saves new ledger rows.
func (m *Mongo) InsertOwners(ctx context.Context, owners []store.Owner) error {
	docs := make([]interface{}, len(owners))
	for i := range owners {
		docs[i] = owners[i]
	}

	_, err := m.db.Collection(colOwners).InsertMany(ctx, docs)
	if mgo.IsDuplicateKeyError(err) {
		return store.ErrDuplicateKey
	}

	return err
}

// FindOwner returns the ledger row of the token.
func (m *Mongo) FindOwner(ctx context.Context, tokenID string) (*store.Owner, error) {
	var o store.Owner
	if err := m.db.Collection(colOwners).FindOne(ctx, bson.M{"tokenId": tokenID}).Decode(&o); err != nil {
		return nil, notFound(err)
	}

	return &o, nil
}

// UpdateOwner updates the first ledger row matching f.
func (m *Mongo) UpdateOwner(ctx context.Context, f store.OwnerFilter, u store.OwnerUpdate) error {
	filter := bson.D{}
	if f.TokenID != "" {
		filter = append(filter, bson.E{Key: "tokenId", Value: f.TokenID})
	}

	if f.NFTID != "" {
		filter = append(filter, bson.E{Key: "nftId", Value: f.NFTID})
	}

	if len(f.Statuses) > 0 {
		filter = append(filter, bson.E{Key: "status", Value: bson.M{"$in": f.Statuses}})
	}

	set := ownerSet(u)
	if len(set) == 0 {
		n, err := m.db.Collection(colOwners).CountDocuments(ctx, filter)
		if err == nil && n == 0 {
			err = store.ErrNoMatch
		}

		return err
	}

	res, err := m.db.Collection(colOwners).UpdateOne(ctx, filter, bson.M{"$set": set})
	if err != nil {
		return fmt.Errorf("cannot update owner %s: %w", f.TokenID, err)
	}

	if res.MatchedCount == 0 {
		return store.ErrNoMatch
	}

	return nil
}

func ownerSet(u store.OwnerUpdate) bson.M {
	set := bson.M{}
	if u.Address != nil {
		set["address"] = *u.Address
	}
	if u.Status != nil {
		set["status"] = *u.Status
	}
	if u.IsTransfer != nil {
		set["isTransfer"] = *u.IsTransfer
	}
	if u.MintedAddress != nil {
		set["mintedAddress"] = *u.MintedAddress
	}
	if u.IsMintedAddressAdmin != nil {
		set["isMintedAddressAdmin"] = *u.IsMintedAddressAdmin
	}
	if u.MintedHash != nil {
		set["mintedHash"] = *u.MintedHash
	}
	if u.MintedDate != nil {
		set["mintedDate"] = *u.MintedDate
	}
	if u.Amount != nil {
		set["amount"] = *u.Amount
	}
	return set
}

func ownerQuery(q store.OwnerQuery) bson.D {
	filter := bson.D{}
	if q.Address != "" {
		filter = append(filter, bson.E{Key: "address", Value: q.Address})
	}

	if q.NFTID != "" {
		filter = append(filter, bson.E{Key: "nftId", Value: q.NFTID})
	}

	if q.AdminMinted != nil {
		filter = append(filter, bson.E{Key: "isMintedAddressAdmin", Value: *q.AdminMinted})
	}

	if q.Transferred != nil {
		filter = append(filter, bson.E{Key: "isTransfer", Value: *q.Transferred})
	}

	status := bson.M{}
	if len(q.Statuses) > 0 {
		status["$in"] = q.Statuses
	}

	if len(q.ExcludeStatuses) > 0 {
		status["$nin"] = q.ExcludeStatuses
	}

	if len(status) > 0 {
		filter = append(filter, bson.E{Key: "status", Value: status})
	}

	return filter
}

// CountOwners counts the ledger rows matching q.
func (m *Mongo) CountOwners(ctx context.Context, q store.OwnerQuery) (int64, error) {
	return m.db.Collection(colOwners).CountDocuments(ctx, ownerQuery(q))
}

// ListOwners returns the ledger rows matching q sorted by token id.
func (m *Mongo) ListOwners(ctx context.Context, q store.OwnerQuery) ([]store.Owner, error) {
	cur, err := m.db.Collection(colOwners).Find(ctx, ownerQuery(q),
		options.Find().SetSort(bson.D{{Key: "tokenId", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("cannot list owners: %w", err)
	}
	defer cur.Close(ctx)

	owners := []store.Owner{}
	if err = cur.All(ctx, &owners); err != nil {
		return nil, err
	}

	return owners, nil
}

// InsertNFT saves a new NFT, assigning its id if empty.
func (m *Mongo) InsertNFT(ctx context.Context, n *store.NFT) error {
	if n.ID == "" {
		n.ID = util.NewID()
	}

	now := time.Now()
	n.CreatedAt, n.UpdatedAt = now, now

	_, err := m.db.Collection(colNFTs).InsertOne(ctx, n)
	if mgo.IsDuplicateKeyError(err) {
		return store.ErrDuplicateKey
	}

	return err
}

// FindNFT returns a non-deleted NFT.
func (m *Mongo) FindNFT(ctx context.Context, id string) (*store.NFT, error) {
	var n store.NFT
	if err := m.db.Collection(colNFTs).FindOne(ctx, bson.M{"_id": id, "isDeleted": false}).Decode(&n); err != nil {
		return nil, notFound(err)
	}

	return &n, nil
}

// FindNFTByTokenID returns the non-deleted NFT the token id belongs to.
func (m *Mongo) FindNFTByTokenID(ctx context.Context, tokenID string) (*store.NFT, error) {
	var n store.NFT

	err := m.db.Collection(colNFTs).FindOne(ctx, bson.M{"token.ids": tokenID, "isDeleted": false}).Decode(&n)
	if err != nil {
		return nil, notFound(err)
	}

	return &n, nil
}

// UpdateNFT applies u in a single conditional update. The filter refuses increments that would leave a counter
// negative or exceed the supply.
func (m *Mongo) UpdateNFT(ctx context.Context, id string, u store.NFTUpdate) (*store.NFT, error) {
	filter := bson.D{{Key: "_id", Value: id}, {Key: "isDeleted", Value: false}}

	counters := []struct {
		field string
		inc   int64
	}{
		{"token.totalMinted", u.IncMinted},
		{"token.totalAvailable", u.IncAvailable},
		{"token.totalBurnt", u.IncBurnt},
		{"quantityForSale", u.IncForSale},
	}

	inc := bson.M{}

	var sum int64

	for _, c := range counters {
		if c.inc == 0 {
			continue
		}

		inc[c.field] = c.inc
		sum += c.inc

		if c.inc < 0 {
			filter = append(filter, bson.E{Key: c.field, Value: bson.M{"$gte": -c.inc}})
		}
	}

	set := bson.M{"updatedAt": time.Now()}

	var supply interface{} = "$token.totalSupply"
	if u.TotalSupply != nil {
		set["token.totalSupply"] = *u.TotalSupply
		supply = *u.TotalSupply
	}

	if len(inc) > 0 || u.TotalSupply != nil {
		filter = append(filter, bson.E{Key: "$expr", Value: bson.M{"$lte": bson.A{
			bson.M{"$add": bson.A{"$token.totalAvailable", "$token.totalMinted", "$token.totalBurnt",
				"$quantityForSale", sum}},
			supply,
		}}})
	}

	if u.Status != nil {
		set["status"] = *u.Status
	}
	if u.OrderID != nil {
		set["orderId"] = *u.OrderID
	}
	if u.Price != nil {
		set["price"] = *u.Price
	}
	if u.HashPutOnSale != nil {
		set["hashPutOnSale"] = *u.HashPutOnSale
	}
	if u.MetadataURL != nil {
		set["metadataUrl"] = *u.MetadataURL
	}
	if u.Cid != nil {
		set["token.cid"] = *u.Cid
	}

	update := bson.M{"$set": set}
	if len(inc) > 0 {
		update["$inc"] = inc
	}

	if len(u.AddTokenIDs) > 0 {
		update["$push"] = bson.M{"token.ids": bson.M{"$each": u.AddTokenIDs}}
	}

	var n store.NFT

	err := m.db.Collection(colNFTs).FindOneAndUpdate(ctx, filter, update,
		options.FindOneAndUpdate().SetReturnDocument(options.After)).Decode(&n)
	if errors.Is(err, mgo.ErrNoDocuments) {
		return nil, store.ErrNoMatch
	}

	if err != nil {
		return nil, fmt.Errorf("cannot update nft %s: %w", id, err)
	}

	return &n, nil
}
