package market

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"github.com/tarancss/nftmarket/lib/auth"
	"github.com/tarancss/nftmarket/lib/block"
	"github.com/tarancss/nftmarket/lib/block/types"
	"github.com/tarancss/nftmarket/lib/cache"
	"github.com/tarancss/nftmarket/lib/fault"
	"github.com/tarancss/nftmarket/lib/lock"
	mtypes "github.com/tarancss/nftmarket/lib/msg/types"
	"github.com/tarancss/nftmarket/lib/store"
	"github.com/tarancss/nftmarket/lib/util"
)

// NFTRequest is the body of a new NFT.
type NFTRequest struct {
	Name        string              `json:"name"`
	Description string              `json:"description"`
	Image       string              `json:"image"`
	Standard    store.TokenStandard `json:"standard"`
	TotalSupply int64               `json:"totalSupply"`
	Price       decimal.Decimal     `json:"price"`
	Currency    string              `json:"currency"`
	Attributes  map[string]string   `json:"attributes,omitempty"`
}

type metadata struct {
	Name        string            `json:"name"`
	Description string            `json:"description,omitempty"`
	Image       string            `json:"image,omitempty"`
	Attributes  map[string]string `json:"attributes,omitempty"`
}

// CreateNFT adds an NFT to the catalogue with its whole supply available and the UNMINT template row of its
// tokens. The metadata is uploaded to IPFS when an uploader is configured.
func (m *Market) CreateNFT(ctx context.Context, req NFTRequest) (*store.NFT, error) {
	if req.Name == "" {
		return nil, fault.InvalidData("name is required")
	}

	if req.TotalSupply <= 0 {
		return nil, fault.New(fault.CodeNumberMustGreater, "total supply must be greater than 0")
	}

	switch req.Standard {
	case "":
		req.Standard = store.ERC721
	case store.ERC721, store.ERC1155:
	default:
		return nil, fault.InvalidData("unknown token standard " + string(req.Standard))
	}

	idx, err := m.db.NextIndex(ctx, "nft")
	if err != nil {
		return nil, fmt.Errorf("cannot get next nft index: %w", err)
	}

	n := &store.NFT{
		Code:        fmt.Sprintf("NFT%06d", idx),
		Name:        req.Name,
		Description: req.Description,
		Image:       req.Image,
		Token: store.Token{
			Standard:       req.Standard,
			TotalSupply:    req.TotalSupply,
			TotalAvailable: req.TotalSupply,
		},
		Price:    req.Price,
		Currency: req.Currency,
		Status:   store.NFTOffSale,
	}

	if m.ipfs != nil {
		cid, err := m.ipfs.UploadMetadata(ctx, n.Code+".json",
			metadata{Name: n.Name, Description: n.Description, Image: n.Image, Attributes: req.Attributes})
		if err != nil {
			return nil, fmt.Errorf("cannot upload metadata of %s: %w", n.Code, err)
		}

		n.Token.Cid = cid
		n.MetadataURL = "ipfs://" + cid
	}

	if err = m.db.WithTransaction(ctx, func(ctx context.Context) error {
		if err := m.db.InsertNFT(ctx, n); err != nil {
			return err
		}

		return m.ledger.CreateTemplate(ctx, n)
	}); err != nil {
		return nil, fmt.Errorf("cannot create nft %s: %w", n.Code, err)
	}

	log.Printf("[nft] created %s %s supply %d", n.ID, n.Code, n.Token.TotalSupply)

	return n, nil
}

// MintNFT completes a MINTED transaction: the template row of its NFT gets the receiver as holder and the
// commissions of the affiliates of the receiver are stamped on the transaction.
func (m *Market) MintNFT(ctx context.Context, txID, hash string) (*Result, error) {
	return m.complete(ctx, lock.Key{Type: store.LockMintNFT, DocumentID: txID}, txID, hash,
		func(ctx context.Context, tx *store.Transaction) ([]*mtypes.Notification, error) {
			if tx.Type != store.TxMinted {
				return nil, fault.InvalidData(fmt.Sprintf("transaction type %s is not a mint", tx.Type))
			}

			n, err := m.findNFT(ctx, tx.NFT.ID)
			if err != nil {
				return nil, err
			}

			if err = m.ledger.Mint(ctx, n, tx.ToAddress, hash); err != nil {
				if errors.Is(err, store.ErrNoMatch) {
					return nil, fault.Wrap(fault.CodeEditionUnsuccessful, "nft is already minted", err)
				}

				return nil, err
			}

			tx.Affiliate, err = m.affiliate(ctx, tx)

			return nil, err
		})
}

// SaleRequest is the body of the sale operations.
type SaleRequest struct {
	Hash     string          `json:"hash"`
	Quantity int64           `json:"quantity"`
	Price    decimal.Decimal `json:"price"`
}

// receipt waits for the mined receipt of hash. With withOrder the receipt must carry the order id of the
// marketplace contract.
func (m *Market) receipt(ctx context.Context, hash string, withOrder bool) (*types.Receipt, error) {
	if !util.IsHash(hash) {
		return nil, fault.InvalidData("transaction hash is invalid")
	}

	accept := func(r *types.Receipt) bool { return true }
	if withOrder {
		accept = block.HasOrderID
	}

	r, err := m.chain.Wait(ctx, hash, accept)
	if err != nil {
		return nil, err
	}

	if r.Status == types.ReceiptFailed {
		return nil, fault.Wrap(fault.CodeInvalidData, "transaction failed on chain", types.ErrTxFailed)
	}

	return r, nil
}

// alreadyDone returns the transaction of type typ recorded for hash, or nil if there is none.
func (m *Market) alreadyDone(ctx context.Context, typ store.TransactionType, hash string) (*Result, error) {
	tx, err := m.db.FindTransactionByHash(ctx, typ, hash, "")
	if errors.Is(err, store.ErrDataNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	log.Printf("[%s] transaction %s is already completed", typ, hash)

	return &Result{Transaction: tx, IsAlreadyCompleted: true}, nil
}

// PutOnSale moves quantity available tokens of the NFT to the sale pool once the listing is mined.
func (m *Market) PutOnSale(ctx context.Context, nftID string, req SaleRequest, caller *auth.Claims) (*Result, error) {
	if req.Quantity <= 0 {
		return nil, fault.New(fault.CodeNumberMustGreater, "quantity must be greater than 0")
	}

	if req.Price.IsNegative() {
		return nil, fault.InvalidData("price must not be negative")
	}

	r, err := m.receipt(ctx, req.Hash, true)
	if err != nil {
		return nil, err
	}

	orderID, _ := block.OrderID(r)

	var res *Result

	err = m.locks.Do(ctx, lock.Key{Type: store.LockPutOnSale, DocumentID: nftID}, func(ctx context.Context) error {
		var err error
		if res, err = m.alreadyDone(ctx, store.TxListed, req.Hash); res != nil || err != nil {
			return err
		}

		n, err := m.findNFT(ctx, nftID)
		if err != nil {
			return err
		}

		if n.Token.TotalAvailable < req.Quantity {
			return fault.New(fault.CodeInsufficientNFT, "not enough nft available")
		}

		tx := &store.Transaction{
			NFT:         n.Simple(),
			Type:        store.TxListed,
			FromAddress: caller.Address,
			Quantity:    req.Quantity,
			Status:      store.TxSuccess,
			Hash:        req.Hash,
			Price:       req.Price,
			Revenue:     decimal.Zero,
			OrderID:     orderID,
		}

		m.clearCacheNFT(ctx, tx)

		if err = m.db.WithTransaction(ctx, func(ctx context.Context) error {
			if _, err := m.ledger.PutOnSale(ctx, n.ID, req.Quantity, req.Price, orderID, req.Hash); err != nil {
				return err
			}

			return m.db.InsertTransaction(ctx, tx)
		}); err != nil {
			return err
		}

		m.clearCacheNFT(ctx, tx)

		res = &Result{Transaction: tx}

		return nil
	})

	m.m.Transaction(string(store.TxListed), err)

	return res, err
}

// CancelOnSale returns the sale pool of the NFT to the available tokens once the delisting is mined.
func (m *Market) CancelOnSale(ctx context.Context, nftID, hash string, caller *auth.Claims) (*Result, error) {
	if _, err := m.receipt(ctx, hash, false); err != nil {
		return nil, err
	}

	var res *Result

	err := m.locks.Do(ctx, lock.Key{Type: store.LockCancelEvent, DocumentID: nftID}, func(ctx context.Context) error {
		var err error
		if res, err = m.alreadyDone(ctx, store.TxDelisted, hash); res != nil || err != nil {
			return err
		}

		n, err := m.findNFT(ctx, nftID)
		if err != nil {
			return err
		}

		if n.QuantityForSale == 0 {
			return fault.InvalidData("nft is not on sale")
		}

		tx := &store.Transaction{
			NFT:         n.Simple(),
			Type:        store.TxDelisted,
			FromAddress: caller.Address,
			Quantity:    n.QuantityForSale,
			Status:      store.TxSuccess,
			Hash:        hash,
			Price:       n.Price,
			Revenue:     decimal.Zero,
			OrderID:     n.OrderID,
		}

		m.clearCacheNFT(ctx, tx)

		if err = m.db.WithTransaction(ctx, func(ctx context.Context) error {
			if _, err := m.ledger.CancelSale(ctx, n); err != nil {
				return err
			}

			return m.db.InsertTransaction(ctx, tx)
		}); err != nil {
			return err
		}

		m.clearCacheNFT(ctx, tx)

		res = &Result{Transaction: tx}

		return nil
	})

	m.m.Transaction(string(store.TxDelisted), err)

	return res, err
}

// AddSupply raises the total supply of the NFT to supply.
func (m *Market) AddSupply(ctx context.Context, nftID string, supply int64) (*store.NFT, error) {
	var n *store.NFT

	err := m.locks.Do(ctx, lock.Key{Type: store.LockUpdateEvent, DocumentID: nftID}, func(ctx context.Context) error {
		cur, err := m.findNFT(ctx, nftID)
		if err != nil {
			return err
		}

		if supply <= cur.Token.TotalSupply {
			return fault.New(fault.CodeNumberMustGreater, "new supply must be greater than the current supply")
		}

		if n, err = m.ledger.AddSupply(ctx, cur, supply); err != nil {
			return err
		}

		if err = m.cache.Del(ctx, cache.TokensByNFT(nftID)); err != nil {
			log.Printf("[cache] cannot clear nft %s err:%e", nftID, err)
		}

		return nil
	})

	return n, err
}

// Buy records the purchase of quantity tokens of the NFT by caller once the order is mined. A hash already bought
// is answered as already completed.
func (m *Market) Buy(ctx context.Context, nftID string, req SaleRequest, caller *auth.Claims) (*Result, error) {
	if req.Quantity <= 0 {
		return nil, fault.New(fault.CodeNumberMustGreater, "quantity must be greater than 0")
	}

	r, err := m.receipt(ctx, req.Hash, true)
	if err != nil {
		return nil, err
	}

	orderID, _ := block.OrderID(r)

	var res *Result

	// the nft lock serializes the buy with the other sale operations of the nft
	err = m.locks.Do(ctx, lock.Key{Type: store.LockBuyNFT, DocumentID: nftID}, func(ctx context.Context) error {
		var err error
		if res, err = m.alreadyDone(ctx, store.TxBuy, req.Hash); res != nil || err != nil {
			return err
		}

		n, err := m.findNFT(ctx, nftID)
		if err != nil {
			return err
		}

		if n.QuantityForSale < req.Quantity {
			return fault.New(fault.CodeInsufficientNFT, "not enough nft on sale")
		}

		tx := &store.Transaction{
			NFT:       n.Simple(),
			Type:      store.TxBuy,
			ToAddress: caller.Address,
			Quantity:  req.Quantity,
			Status:    store.TxSuccess,
			Hash:      req.Hash,
			Price:     n.Price,
			Revenue:   n.Price.Mul(decimal.NewFromInt(req.Quantity)),
			OrderID:   orderID,
		}

		m.clearCacheNFT(ctx, tx)

		if err = m.db.WithTransaction(ctx, func(ctx context.Context) error {
			if err := m.db.InsertTransaction(ctx, tx); err != nil {
				return err
			}

			_, err := m.ledger.Buy(ctx, n, req.Quantity, caller.Address)

			return err
		}); err != nil {
			return err
		}

		m.clearCacheNFT(ctx, tx)

		res = &Result{Transaction: tx}

		return nil
	})

	m.m.Transaction(string(store.TxBuy), err)

	return res, err
}
