package ledger

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/tarancss/nftmarket/lib/store"
)

// DeriveStatus returns OFF-SALE when the sale pool, the available tokens and the burnt ones account for the whole
// supply, ON-SALE otherwise.
func DeriveStatus(forSale int64, t store.Token) store.NFTStatus {
	if forSale+t.TotalAvailable+t.TotalBurnt == t.TotalSupply {
		return store.NFTOffSale
	}

	return store.NFTOnSale
}

// PutOnSale moves qty available tokens to the sale pool.
func (l *Ledger) PutOnSale(ctx context.Context, nftID string, qty int64, price decimal.Decimal, orderID,
	hash string) (*store.NFT, error) {
	status := store.NFTOnSale

	n, err := l.s.UpdateNFT(ctx, nftID, store.NFTUpdate{
		IncAvailable:  -qty,
		IncForSale:    qty,
		Status:        &status,
		Price:         &price,
		OrderID:       &orderID,
		HashPutOnSale: &hash,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot put %d tokens of nft %s on sale: %w", qty, nftID, err)
	}

	return n, nil
}

// CancelSale returns the sale pool to the available tokens and clears the order.
func (l *Ledger) CancelSale(ctx context.Context, n *store.NFT) (*store.NFT, error) {
	status := DeriveStatus(n.QuantityForSale, n.Token)
	empty := ""

	updated, err := l.s.UpdateNFT(ctx, n.ID, store.NFTUpdate{
		IncForSale:   -n.QuantityForSale,
		IncAvailable: n.QuantityForSale,
		Status:       &status,
		OrderID:      &empty,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot cancel sale of nft %s: %w", n.ID, err)
	}

	return updated, nil
}

// AddSupply raises the supply of the NFT to supply. The new tokens become available and a sold out NFT goes back
// off sale.
func (l *Ledger) AddSupply(ctx context.Context, n *store.NFT, supply int64) (*store.NFT, error) {
	u := store.NFTUpdate{TotalSupply: &supply, IncAvailable: supply - n.Token.TotalSupply}

	if n.Status == store.NFTSoldOut {
		status := store.NFTOffSale
		u.Status = &status
	}

	updated, err := l.s.UpdateNFT(ctx, n.ID, u)
	if err != nil {
		return nil, fmt.Errorf("cannot add supply to nft %s: %w", n.ID, err)
	}

	return updated, nil
}

// Buy moves qty tokens from the sale pool to minted and makes buyer the holder of the NFT token.
func (l *Ledger) Buy(ctx context.Context, n *store.NFT, qty int64, buyer string) (*store.NFT, error) {
	status := store.NFTOffSale
	if n.QuantityForSale-qty+n.Token.TotalAvailable == 0 {
		status = store.NFTSoldOut
	}

	empty := ""

	updated, err := l.s.UpdateNFT(ctx, n.ID, store.NFTUpdate{
		IncForSale: -qty,
		IncMinted:  qty,
		Status:     &status,
		OrderID:    &empty,
	})
	if err != nil {
		return nil, fmt.Errorf("cannot sell %d tokens of nft %s: %w", qty, n.ID, err)
	}

	// minted also means owned after a purchase
	minted := store.OwnerMinted
	if err = l.s.UpdateOwner(ctx, store.OwnerFilter{TokenID: n.ID,
		Statuses: []store.OwnerStatus{store.OwnerUnmint, store.OwnerMinted}},
		store.OwnerUpdate{Address: &buyer, Status: &minted}); err != nil {
		return nil, fmt.Errorf("cannot update owner of nft %s: %w", n.ID, err)
	}

	return updated, nil
}
