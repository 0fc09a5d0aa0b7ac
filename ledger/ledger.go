// Package ledger keeps the ownership ledger: one Owner row per token with its holder and lifecycle status, and the
// supply counters of the NFTs the tokens belong to.
//
// Every method must run inside the atomic scope of the operation that causes it. Updates that match no row return
// store.ErrNoMatch so that the scope is rolled back.
package ledger

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tarancss/nftmarket/lib/store"
	"github.com/tarancss/nftmarket/lib/util"
)

// Statuses of a token that has a holder. Committed tokens went through the locking contract: they are the ones
// counted as owned when the BDA status is evaluated.
var (
	Held      = []store.OwnerStatus{store.OwnerMinted, store.OwnerLocked, store.OwnerUnlocked}
	Owned     = []store.OwnerStatus{store.OwnerMinted, store.OwnerLocked, store.OwnerUnlocked, store.OwnerRedeemed}
	Committed = []store.OwnerStatus{store.OwnerLocked, store.OwnerUnlocked, store.OwnerRedeemed}
)

// Store is the persistence the ledger needs.
type Store interface {
	store.OwnerStore
	store.NFTStore
}

// Ledger updates Owner rows and NFT counters.
type Ledger struct {
	s   Store
	now func() time.Time
}

// New returns a Ledger on s.
func New(s Store) *Ledger {
	return &Ledger{s: s, now: time.Now}
}

// Holdings counts the tokens of an address.
type Holdings struct {
	// AdminMinted counts held tokens minted by an admin ("black" NFTs).
	AdminMinted int64
	// Owned counts the committed tokens: locked, unlocked or redeemed.
	Owned int64
}

// Holdings returns the token counts of address.
func (l *Ledger) Holdings(ctx context.Context, address string) (Holdings, error) {
	var (
		h   Holdings
		err error
	)

	admin := true
	if h.AdminMinted, err = l.s.CountOwners(ctx, store.OwnerQuery{Address: address, AdminMinted: &admin,
		Statuses: Held}); err != nil {
		return h, err
	}

	h.Owned, err = l.s.CountOwners(ctx, store.OwnerQuery{Address: address, Statuses: Committed})

	return h, err
}

// CountBlacks counts the admin-minted tokens held by address that are not burned or invalid. Unless
// includeTransferred is set, tokens received through a transfer are not counted.
func (l *Ledger) CountBlacks(ctx context.Context, address string, includeTransferred bool) (int64, error) {
	admin := true
	q := store.OwnerQuery{Address: address, AdminMinted: &admin,
		ExcludeStatuses: []store.OwnerStatus{store.OwnerBurned, store.OwnerInvalid}}

	if !includeTransferred {
		transferred := false
		q.Transferred = &transferred
	}

	return l.s.CountOwners(ctx, q)
}

// CountBlacksAfterRedemption counts the admin-minted tokens of address in the locking contract.
func (l *Ledger) CountBlacksAfterRedemption(ctx context.Context, address string) (int64, error) {
	admin := true

	return l.s.CountOwners(ctx, store.OwnerQuery{Address: address, AdminMinted: &admin,
		Statuses: []store.OwnerStatus{store.OwnerLocked, store.OwnerUnlocked}})
}

// CreateTemplate inserts the UNMINT row of a new NFT. Its token id is the NFT id.
func (l *Ledger) CreateTemplate(ctx context.Context, n *store.NFT) error {
	return l.s.InsertOwners(ctx, []store.Owner{{
		TokenID:        n.ID,
		NFTID:          n.ID,
		Status:         store.OwnerUnmint,
		Amount:         n.Token.TotalSupply,
		LockingBalance: decimal.Zero,
	}})
}

// Mint moves the template row of the NFT to MINTED with minter as holder and marks the NFT minted.
func (l *Ledger) Mint(ctx context.Context, n *store.NFT, minter, hash string) error {
	now := l.now()
	status := store.OwnerMinted
	amount := n.Token.TotalSupply
	isAdmin := false

	if err := l.s.UpdateOwner(ctx, store.OwnerFilter{TokenID: n.ID, Statuses: []store.OwnerStatus{store.OwnerUnmint}},
		store.OwnerUpdate{
			Address:              &minter,
			Status:               &status,
			MintedAddress:        &minter,
			IsMintedAddressAdmin: &isAdmin,
			MintedHash:           &hash,
			MintedDate:           &now,
			Amount:               &amount,
		}); err != nil {
		return fmt.Errorf("cannot mint owner %s: %w", n.ID, err)
	}

	minted := store.NFTMinted
	if _, err := l.s.UpdateNFT(ctx, n.ID, store.NFTUpdate{Status: &minted}); err != nil {
		return fmt.Errorf("cannot mint nft %s: %w", n.ID, err)
	}

	return nil
}

// AdminMint realizes tokenIDs of the NFT as admin-minted tokens held by receiver.
func (l *Ledger) AdminMint(ctx context.Context, n *store.NFT, receiver, hash string, tokenIDs []string) (*store.NFT,
	error) {
	qty := int64(len(tokenIDs))

	updated, err := l.s.UpdateNFT(ctx, n.ID, store.NFTUpdate{IncAvailable: -qty, IncMinted: qty, AddTokenIDs: tokenIDs})
	if err != nil {
		return nil, fmt.Errorf("cannot move %d tokens of nft %s to minted: %w", qty, n.ID, err)
	}

	now := l.now()
	owners := make([]store.Owner, 0, qty)

	for _, id := range tokenIDs {
		owners = append(owners, store.Owner{
			TokenID:              id,
			NFTID:                n.ID,
			Address:              receiver,
			MintedAddress:        receiver,
			IsMintedAddressAdmin: true,
			MintedHash:           hash,
			MintedDate:           now,
			Amount:               1,
			Status:               store.OwnerMinted,
			LockingBalance:       decimal.Zero,
		})
	}

	if err = l.s.InsertOwners(ctx, owners); err != nil {
		return nil, fmt.Errorf("cannot insert owners of nft %s: %w", n.ID, err)
	}

	return updated, nil
}

// Transfer moves a held token to a new holder. A transfer to the zero address burns the token.
func (l *Ledger) Transfer(ctx context.Context, tokenID, to string) error {
	if to == util.ZeroAddress {
		return l.burn(ctx, tokenID)
	}

	transferred := true
	if err := l.s.UpdateOwner(ctx, store.OwnerFilter{TokenID: tokenID, Statuses: Held},
		store.OwnerUpdate{Address: &to, IsTransfer: &transferred}); err != nil {
		return fmt.Errorf("cannot transfer token %s: %w", tokenID, err)
	}

	return nil
}

func (l *Ledger) burn(ctx context.Context, tokenID string) error {
	o, err := l.s.FindOwner(ctx, tokenID)
	if err != nil {
		return fmt.Errorf("cannot burn token %s: %w", tokenID, err)
	}

	burned := store.OwnerBurned
	if err = l.s.UpdateOwner(ctx, store.OwnerFilter{TokenID: tokenID, Statuses: Held},
		store.OwnerUpdate{Status: &burned}); err != nil {
		return fmt.Errorf("cannot burn token %s: %w", tokenID, err)
	}

	if _, err = l.s.UpdateNFT(ctx, o.NFTID, store.NFTUpdate{IncMinted: -1, IncBurnt: 1}); err != nil {
		return fmt.Errorf("cannot burn token %s of nft %s: %w", tokenID, o.NFTID, err)
	}

	return nil
}

// Redeem marks a held token REDEEMED.
func (l *Ledger) Redeem(ctx context.Context, tokenID string) error {
	redeemed := store.OwnerRedeemed
	if err := l.s.UpdateOwner(ctx, store.OwnerFilter{TokenID: tokenID, Statuses: Held},
		store.OwnerUpdate{Status: &redeemed}); err != nil {
		return fmt.Errorf("cannot redeem token %s: %w", tokenID, err)
	}

	return nil
}

// SetLocked moves a token into (LOCKED) or out of (UNLOCKED) the locking contract. The holder does not change.
func (l *Ledger) SetLocked(ctx context.Context, tokenID string, locked bool) error {
	status, from := store.OwnerLocked, []store.OwnerStatus{store.OwnerMinted, store.OwnerUnlocked}
	if !locked {
		status, from = store.OwnerUnlocked, []store.OwnerStatus{store.OwnerLocked}
	}

	if err := l.s.UpdateOwner(ctx, store.OwnerFilter{TokenID: tokenID, Statuses: from},
		store.OwnerUpdate{Status: &status}); err != nil {
		return fmt.Errorf("cannot set token %s %s: %w", tokenID, status, err)
	}

	log.Printf("[ledger] token %s %s", tokenID, status)

	return nil
}
