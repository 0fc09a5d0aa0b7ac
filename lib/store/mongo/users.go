package mongo

import (
	"context"
	"fmt"

	"go.mongodb.org/mongo-driver/bson"
	mgo "go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"

	"github.com/tarancss/nftmarket/lib/store"
)

const settingsID = "config"

func userFilter(f store.UserFilter) bson.D {
	filter := bson.D{}
	if !f.IncludeDeleted {
		filter = append(filter, bson.E{Key: "isDeleted", Value: false})
	}

	if f.Address != "" {
		filter = append(filter, bson.E{Key: "address", Value: f.Address})
	}

	if f.Role != "" {
		filter = append(filter, bson.E{Key: "role", Value: f.Role})
	} else if len(f.Roles) > 0 {
		filter = append(filter, bson.E{Key: "role", Value: bson.M{"$in": f.Roles}})
	}

	if f.Status != "" {
		filter = append(filter, bson.E{Key: "status", Value: f.Status})
	}

	if f.Referrer != "" {
		filter = append(filter, bson.E{Key: "referrer", Value: f.Referrer})
	}

	if f.Originator != "" {
		filter = append(filter, bson.E{Key: "originator", Value: f.Originator})
	} else if len(f.Originators) > 0 {
		filter = append(filter, bson.E{Key: "originator", Value: bson.M{"$in": f.Originators}})
	}

	// equality on an array field matches any element
	if f.DescendantOf != "" {
		filter = append(filter, bson.E{Key: "pathId", Value: f.DescendantOf})
	}

	return filter
}

func userUpdate(u store.UserUpdate) bson.M {
	set := bson.M{}
	if u.Name != nil {
		set["name"] = *u.Name
	}
	if u.Role != nil {
		set["role"] = *u.Role
	}
	if u.Status != nil {
		set["status"] = *u.Status
	}
	if u.UserType != nil {
		set["userType"] = *u.UserType
	}
	if u.Originator != nil {
		set["originator"] = *u.Originator
	}
	if u.PersonalVolume != nil {
		set["personalVolume"] = *u.PersonalVolume
	}
	if u.EquityShare != nil {
		set["equityShares"] = *u.EquityShare
	}
	if u.HaveReceivedBlackFromAdmin != nil {
		set["haveReceivedBlackFromAdmin"] = *u.HaveReceivedBlackFromAdmin
	}
	if u.IsDeleted != nil {
		set["isDeleted"] = *u.IsDeleted
	}
	if u.Permissions != nil {
		set["permissions"] = *u.Permissions
	}

	update := bson.M{}
	if len(set) > 0 {
		update["$set"] = set
	}

	if u.IncDirectReferee != 0 {
		update["$inc"] = bson.M{"directReferee": u.IncDirectReferee}
	}

	return update
}

// InsertUser saves a new user.
func (m *Mongo) InsertUser(ctx context.Context, u *store.User) error {
	_, err := m.db.Collection(colUsers).InsertOne(ctx, u)
	if mgo.IsDuplicateKeyError(err) {
		return store.ErrDuplicateKey
	}

	return err
}

// FindUser returns the first user matching f.
func (m *Mongo) FindUser(ctx context.Context, f store.UserFilter) (*store.User, error) {
	var u store.User

	err := m.db.Collection(colUsers).FindOne(ctx, userFilter(f),
		options.FindOne().SetSort(bson.D{{Key: "createdAt", Value: 1}})).Decode(&u)
	if err != nil {
		return nil, notFound(err)
	}

	return &u, nil
}

// ListUsers returns the users matching f in creation order.
func (m *Mongo) ListUsers(ctx context.Context, f store.UserFilter) ([]store.User, error) {
	cur, err := m.db.Collection(colUsers).Find(ctx, userFilter(f),
		options.Find().SetSort(bson.D{{Key: "createdAt", Value: 1}, {Key: "address", Value: 1}}))
	if err != nil {
		return nil, fmt.Errorf("cannot list users: %w", err)
	}
	defer cur.Close(ctx)

	users := []store.User{}
	if err = cur.All(ctx, &users); err != nil {
		return nil, err
	}

	return users, nil
}

// UpdateUser updates the first user matching f.
func (m *Mongo) UpdateUser(ctx context.Context, f store.UserFilter, u store.UserUpdate) error {
	res, err := m.db.Collection(colUsers).UpdateOne(ctx, userFilter(f), userUpdate(u))
	if err != nil {
		return fmt.Errorf("cannot update user %s: %w", f.Address, err)
	}

	if res.MatchedCount == 0 {
		return store.ErrNoMatch
	}

	return nil
}

// UpdateUsers updates every user matching f.
func (m *Mongo) UpdateUsers(ctx context.Context, f store.UserFilter, u store.UserUpdate) (int64, error) {
	res, err := m.db.Collection(colUsers).UpdateMany(ctx, userFilter(f), userUpdate(u))
	if err != nil {
		return 0, fmt.Errorf("cannot update users: %w", err)
	}

	return res.MatchedCount, nil
}

// DeleteUser removes the first user matching f.
func (m *Mongo) DeleteUser(ctx context.Context, f store.UserFilter) error {
	res, err := m.db.Collection(colUsers).DeleteOne(ctx, userFilter(f))
	if err != nil {
		return fmt.Errorf("cannot delete user %s: %w", f.Address, err)
	}

	if res.DeletedCount == 0 {
		return store.ErrNoMatch
	}

	return nil
}

// LoadSettings returns the marketplace settings.
func (m *Mongo) LoadSettings(ctx context.Context) (*store.Settings, error) {
	var s store.Settings
	if err := m.db.Collection(colSettings).FindOne(ctx, bson.M{"_id": settingsID}).Decode(&s); err != nil {
		return nil, notFound(err)
	}

	return &s, nil
}

// SaveSettings replaces the marketplace settings.
func (m *Mongo) SaveSettings(ctx context.Context, s *store.Settings) error {
	_, err := m.db.Collection(colSettings).ReplaceOne(ctx, bson.M{"_id": settingsID}, s,
		options.Replace().SetUpsert(true))

	return err
}

// NextIndex increments the named counter.
func (m *Mongo) NextIndex(ctx context.Context, name string) (int64, error) {
	var c struct {
		Seq int64 `bson:"seq"`
	}

	err := m.db.Collection(colCounters).FindOneAndUpdate(ctx, bson.M{"_id": name}, bson.M{"$inc": bson.M{"seq": 1}},
		options.FindOneAndUpdate().SetUpsert(true).SetReturnDocument(options.After)).Decode(&c)
	if err != nil {
		return 0, fmt.Errorf("cannot increment counter %s: %w", name, err)
	}

	return c.Seq, nil
}
