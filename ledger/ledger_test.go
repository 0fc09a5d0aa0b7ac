package ledger

import (
	"context"
	"errors"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/tarancss/nftmarket/lib/store"
	"github.com/tarancss/nftmarket/lib/store/memory"
	"github.com/tarancss/nftmarket/lib/util"
)

const (
	alice = "0x00000000000000000000000000000000000000a1"
	bob   = "0x00000000000000000000000000000000000000b0"
)

func newNFT(t *testing.T, s *memory.Memory, supply int64) *store.NFT {
	n := &store.NFT{Code: "1", Name: "n", Status: store.NFTOffSale,
		Token: store.Token{Standard: store.ERC721, TotalSupply: supply, TotalAvailable: supply}}
	if err := s.InsertNFT(context.Background(), n); err != nil {
		t.Fatalf("err:%e", err)
	}
	return n
}

func TestDeriveStatus(t *testing.T) {
	cases := []struct {
		forSale int64
		token   store.Token
		status  store.NFTStatus
	}{
		{5, store.Token{TotalSupply: 10, TotalAvailable: 5}, store.NFTOffSale},
		{2, store.Token{TotalSupply: 10, TotalAvailable: 5, TotalBurnt: 3}, store.NFTOffSale},
		{2, store.Token{TotalSupply: 10, TotalAvailable: 5, TotalMinted: 3}, store.NFTOnSale},
		{0, store.Token{TotalSupply: 10, TotalMinted: 10}, store.NFTOnSale},
	}

	for i, c := range cases {
		if got := DeriveStatus(c.forSale, c.token); got != c.status {
			t.Errorf("[%d] expected %s got %s", i, c.status, got)
		}
	}
}

func TestAdminMintAndHoldings(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	l := New(s)
	n := newNFT(t, s, 3)

	updated, err := l.AdminMint(ctx, n, alice, "0xhash", []string{"t1", "t2"})
	if err != nil {
		t.Fatalf("err:%e", err)
	}
	if updated.Token.TotalMinted != 2 || updated.Token.TotalAvailable != 1 || len(updated.Token.IDs) != 2 {
		t.Errorf("unexpected token %+v", updated.Token)
	}

	h, err := l.Holdings(ctx, alice)
	// minted tokens are not committed yet
	if err != nil || h.AdminMinted != 2 || h.Owned != 0 {
		t.Errorf("unexpected holdings %+v err:%v", h, err)
	}

	// more than available: supply would be exceeded
	if _, err = l.AdminMint(ctx, n, alice, "0xhash", []string{"t3", "t4"}); !errors.Is(err, store.ErrNoMatch) {
		t.Errorf("expected no match but got %v", err)
	}

	if err = l.Transfer(ctx, "t1", bob); err != nil {
		t.Fatalf("err:%e", err)
	}
	o, _ := s.FindOwner(ctx, "t1")
	if o.Address != bob || !o.IsTransfer || o.MintedAddress != alice || !o.IsMintedAddressAdmin {
		t.Errorf("transfer lost attribution %+v", o)
	}

	if c, _ := l.CountBlacks(ctx, bob, false); c != 0 {
		t.Errorf("transferred token counted without includeTransferred: %d", c)
	}
	if c, _ := l.CountBlacks(ctx, bob, true); c != 1 {
		t.Errorf("expected 1 black for bob got %d", c)
	}

	if err = l.SetLocked(ctx, "t2", true); err != nil {
		t.Fatalf("err:%e", err)
	}
	if c, _ := l.CountBlacksAfterRedemption(ctx, alice); c != 1 {
		t.Errorf("expected 1 locked black got %d", c)
	}
	if h, _ = l.Holdings(ctx, alice); h.AdminMinted != 1 || h.Owned != 1 {
		t.Errorf("unexpected holdings after locking %+v", h)
	}

	if err = l.Redeem(ctx, "t2"); err != nil {
		t.Fatalf("err:%e", err)
	}
	h, _ = l.Holdings(ctx, alice)
	if h.AdminMinted != 0 || h.Owned != 1 {
		t.Errorf("unexpected holdings after redemption %+v", h)
	}

	// a redeemed token cannot be redeemed again
	if err = l.Redeem(ctx, "t2"); !errors.Is(err, store.ErrNoMatch) {
		t.Errorf("expected no match but got %v", err)
	}
}

func TestBurn(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	l := New(s)
	n := newNFT(t, s, 2)

	if _, err := l.AdminMint(ctx, n, alice, "0xhash", []string{"t1"}); err != nil {
		t.Fatalf("err:%e", err)
	}
	if err := l.Transfer(ctx, "t1", util.ZeroAddress); err != nil {
		t.Fatalf("err:%e", err)
	}

	o, _ := s.FindOwner(ctx, "t1")
	got, _ := s.FindNFT(ctx, n.ID)
	if o.Status != store.OwnerBurned || got.Token.TotalBurnt != 1 || got.Token.TotalMinted != 0 {
		t.Errorf("unexpected burn owner:%+v token:%+v", o, got.Token)
	}
	if err := l.Transfer(ctx, "t1", bob); !errors.Is(err, store.ErrNoMatch) {
		t.Errorf("burned token was transferred err:%v", err)
	}
}

func TestSaleCycle(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	l := New(s)
	n := newNFT(t, s, 10)

	if err := l.CreateTemplate(ctx, n); err != nil {
		t.Fatalf("err:%e", err)
	}
	if err := l.Mint(ctx, n, alice, "0xmint"); err != nil {
		t.Fatalf("err:%e", err)
	}

	n, err := l.PutOnSale(ctx, n.ID, 4, decimal.NewFromInt(2), "0xorder", "0xsale")
	if err != nil {
		t.Fatalf("err:%e", err)
	}
	if n.Status != store.NFTOnSale || n.QuantityForSale != 4 || n.Token.TotalAvailable != 6 || n.OrderID != "0xorder" {
		t.Errorf("unexpected nft on sale %+v", n)
	}

	// more than available
	if _, err = l.PutOnSale(ctx, n.ID, 7, decimal.NewFromInt(2), "0xorder", "0xsale"); !errors.Is(err, store.ErrNoMatch) {
		t.Errorf("expected no match but got %v", err)
	}

	if n, err = l.Buy(ctx, n, 1, bob); err != nil {
		t.Fatalf("err:%e", err)
	}
	if n.Status != store.NFTOffSale || n.Token.TotalMinted != 1 || n.QuantityForSale != 3 || n.OrderID != "" {
		t.Errorf("unexpected nft after buy %+v", n)
	}
	o, _ := s.FindOwner(ctx, n.ID)
	if o.Address != bob || o.Status != store.OwnerMinted || o.MintedAddress != alice {
		t.Errorf("unexpected owner after buy %+v", o)
	}

	if n, err = l.CancelSale(ctx, n); err != nil {
		t.Fatalf("err:%e", err)
	}
	// a token was sold, so the nft stays on sale
	if n.QuantityForSale != 0 || n.Token.TotalAvailable != 9 || n.Status != store.NFTOnSale {
		t.Errorf("unexpected nft after cancel %+v", n)
	}

	if n, err = l.AddSupply(ctx, n, 12); err != nil {
		t.Fatalf("err:%e", err)
	}
	if n.Token.TotalSupply != 12 || n.Token.TotalAvailable != 11 {
		t.Errorf("unexpected nft after add supply %+v", n.Token)
	}

	tk := n.Token
	if tk.TotalAvailable+tk.TotalMinted+tk.TotalBurnt > tk.TotalSupply {
		t.Errorf("supply exceeded %+v", tk)
	}
}

func TestSoldOut(t *testing.T) {
	ctx := context.Background()
	s := memory.New()
	l := New(s)
	n := newNFT(t, s, 2)
	_ = l.CreateTemplate(ctx, n)

	n, _ = l.PutOnSale(ctx, n.ID, 2, decimal.NewFromInt(1), "0xorder", "0xsale")
	n, err := l.Buy(ctx, n, 2, bob)
	if err != nil || n.Status != store.NFTSoldOut {
		t.Errorf("expected sold out got %+v err:%v", n, err)
	}

	n, err = l.AddSupply(ctx, n, 3)
	if err != nil || n.Status != store.NFTOffSale || n.Token.TotalAvailable != 1 {
		t.Errorf("expected off sale got %+v err:%v", n, err)
	}
}
