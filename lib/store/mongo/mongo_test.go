// +build integration

package mongo

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tarancss/nftmarket/lib/store"
	"github.com/tarancss/nftmarket/lib/util"
)

// the server must run as a replica set for session transactions
var uri string = "mongodb://localhost:27017/nftmarket_test?replicaSet=rs0"

func TestNewMongo(t *testing.T) {
	m, err := New(uri)
	if err != nil {
		t.Fatalf("err:%e", err)
	}

	if err = m.Close(); err != nil {
		t.Errorf("err:%e", err)
	}
}

func TestLocks(t *testing.T) {
	m, err := New(uri)
	if err != nil {
		t.Fatalf("err:%e", err)
	}
	defer m.Close()

	ctx := context.Background()
	id := util.NewID()
	l := store.Lock{Type: store.LockBuyNFT, DocumentID: id, LockUntil: time.Now().Add(time.Second)}

	if err = m.InsertLock(ctx, l); err != nil {
		t.Fatalf("err:%e", err)
	}

	if err = m.InsertLock(ctx, l); !errors.Is(err, store.ErrDuplicateKey) {
		t.Errorf("second lock should fail with duplicate key, got err:%e", err)
	}

	if err = m.DeleteExpiredLocks(ctx, store.LockBuyNFT, time.Now().Add(time.Minute)); err != nil {
		t.Errorf("err:%e", err)
	}

	if err = m.InsertLock(ctx, l); err != nil {
		t.Errorf("expired lock was not swept err:%e", err)
	}

	if err = m.DeleteLock(ctx, store.LockBuyNFT, id); err != nil {
		t.Errorf("err:%e", err)
	}
}

func TestNFTGuard(t *testing.T) {
	m, err := New(uri)
	if err != nil {
		t.Fatalf("err:%e", err)
	}
	defer m.Close()

	ctx := context.Background()
	n := &store.NFT{Code: "GUARD", Name: "guard", Status: store.NFTOffSale, Price: decimal.NewFromInt(10),
		Token: store.Token{Standard: store.ERC721, TotalSupply: 2, IDs: []string{}}}

	if err = m.InsertNFT(ctx, n); err != nil {
		t.Fatalf("err:%e", err)
	}

	if _, err = m.UpdateNFT(ctx, n.ID, store.NFTUpdate{IncAvailable: 2}); err != nil {
		t.Errorf("err:%e", err)
	}

	if _, err = m.UpdateNFT(ctx, n.ID, store.NFTUpdate{IncAvailable: 1}); !errors.Is(err, store.ErrNoMatch) {
		t.Errorf("supply exceeded, got err:%e", err)
	}

	got, err := m.UpdateNFT(ctx, n.ID, store.NFTUpdate{IncAvailable: -1, IncMinted: 1, AddTokenIDs: []string{n.ID}})
	if err != nil {
		t.Fatalf("err:%e", err)
	}

	if got.Token.TotalMinted != 1 || got.Token.TotalAvailable != 1 || len(got.Token.IDs) != 1 {
		t.Errorf("unexpected counters %+v", got.Token)
	}

	if !got.Price.Equal(decimal.NewFromInt(10)) {
		t.Errorf("decimal was not kept, got %s", got.Price)
	}
}

func TestWithTransaction(t *testing.T) {
	m, err := New(uri)
	if err != nil {
		t.Fatalf("err:%e", err)
	}
	defer m.Close()

	ctx := context.Background()
	addr := "0x" + util.NewID() + "00000000000000"
	abort := errors.New("abort")

	err = m.WithTransaction(ctx, func(ctx context.Context) error {
		if err := m.InsertUser(ctx, &store.User{Address: addr, Role: store.RoleUser, PathID: []string{}}); err != nil {
			return err
		}

		return abort
	})
	if !errors.Is(err, abort) {
		t.Errorf("expected abort, got err:%e", err)
	}

	if _, err = m.FindUser(ctx, store.UserFilter{Address: addr}); !errors.Is(err, store.ErrDataNotFound) {
		t.Errorf("insert was not rolled back, err:%e", err)
	}
}

func TestNextIndex(t *testing.T) {
	m, err := New(uri)
	if err != nil {
		t.Fatalf("err:%e", err)
	}
	defer m.Close()

	name := "test-" + util.NewID()

	for i := int64(1); i <= 3; i++ {
		n, err := m.NextIndex(context.Background(), name)
		if err != nil || n != i {
			t.Errorf("got %d expected %d err:%e", n, i, err)
		}
	}
}
