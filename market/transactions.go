package market

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"github.com/tarancss/nftmarket/lib/auth"
	"github.com/tarancss/nftmarket/lib/cache"
	"github.com/tarancss/nftmarket/lib/fault"
	"github.com/tarancss/nftmarket/lib/lock"
	"github.com/tarancss/nftmarket/lib/msg/types"
	"github.com/tarancss/nftmarket/lib/store"
	"github.com/tarancss/nftmarket/lib/util"
	"github.com/tarancss/nftmarket/referral"
)

// Result of a state machine action.
type Result struct {
	Transaction        *store.Transaction `json:"transaction,omitempty"`
	IsAlreadyCompleted bool               `json:"isAlreadyCompleted"`
}

// effect applies the domain changes of a successful transaction. It runs inside the atomic scope and may modify tx
// before it is saved. Notifications are sent after commit.
type effect func(ctx context.Context, tx *store.Transaction) ([]*types.Notification, error)

// complete moves the transaction txID to SUCCESS with hash and applies fn, all under the lock key. A transaction
// that is already SUCCESS is returned untouched.
func (m *Market) complete(ctx context.Context, key lock.Key, txID, hash string, fn effect) (*Result, error) {
	var res *Result

	err := m.locks.Do(ctx, key, func(ctx context.Context) error {
		tx, err := m.findTransaction(ctx, txID)
		if err != nil {
			return err
		}

		if tx.Status == store.TxSuccess {
			log.Printf("[%s] transaction %s is already completed", key.Type, tx.ID)

			res = &Result{Transaction: tx, IsAlreadyCompleted: true}

			return nil
		}

		m.clearCacheNFT(ctx, tx)

		var notes []*types.Notification

		if err = m.db.WithTransaction(ctx, func(ctx context.Context) error {
			tx.Status = store.TxSuccess
			tx.Hash = hash

			if fn != nil {
				if notes, err = fn(ctx, tx); err != nil {
					return err
				}
			}

			return m.db.SaveTransaction(ctx, tx)
		}); err != nil {
			return fmt.Errorf("cannot complete transaction %s: %w", txID, err)
		}

		m.clearCacheNFT(ctx, tx)
		m.forest.Notify(notes...)

		res = &Result{Transaction: tx}

		return nil
	})

	m.m.Transaction(string(key.Type), err)

	return res, err
}

func (m *Market) findTransaction(ctx context.Context, id string) (*store.Transaction, error) {
	if !util.IsObjectID(id) {
		return nil, fault.InvalidData("invalid transaction id " + id)
	}

	tx, err := m.db.FindTransaction(ctx, id)
	if errors.Is(err, store.ErrDataNotFound) {
		return nil, fault.NotFound("transaction not found")
	}

	return tx, err
}

func (m *Market) findNFT(ctx context.Context, id string) (*store.NFT, error) {
	n, err := m.db.FindNFT(ctx, id)
	if errors.Is(err, store.ErrDataNotFound) {
		return nil, fault.NotFound("nft not found")
	}

	return n, err
}

// clearCacheNFT deletes the cached views a transaction changes. Failures are logged only.
func (m *Market) clearCacheNFT(ctx context.Context, tx *store.Transaction) {
	keys := []string{cache.TokensByNFT(tx.NFT.ID)}

	if tx.ToAddress != "" && tx.ToAddress != util.ZeroAddress {
		keys = append(keys, cache.TokensByAddress(tx.ToAddress), cache.TokensByAddressAndNFT(tx.ToAddress, tx.NFT.ID))
	}

	if (tx.Type == store.TxTransfer || tx.Type == store.TxTransferOutside) && tx.FromAddress != "" {
		keys = append(keys, cache.TokensByAddress(tx.FromAddress),
			cache.TokensByAddressAndNFT(tx.FromAddress, tx.NFT.ID))
	}

	keys = append(keys, cache.TransactionDetail(tx.ID))

	if err := m.cache.Del(ctx, keys...); err != nil {
		log.Printf("[cache] cannot clear nft %s err:%e", tx.NFT.ID, err)
	}
}

// Deposit completes a deposit transaction. It has no effect besides the transaction itself.
func (m *Market) Deposit(ctx context.Context, txID, hash string) (*Result, error) {
	return m.complete(ctx, lock.Key{Type: store.LockDeposit, DocumentID: txID}, txID, hash, nil)
}

// AdminMintNFT completes the admin mint of tokenIDs to the receiver of the transaction. The receiver is marked as
// having received a black NFT and becomes BDA if it was a common user.
func (m *Market) AdminMintNFT(ctx context.Context, txID, hash string, tokenIDs []string) (*Result, error) {
	if len(tokenIDs) == 0 {
		return nil, fault.InvalidData("no token ids minted")
	}

	return m.complete(ctx, lock.Key{Type: store.LockAdminMintNFT, DocumentID: txID}, txID, hash,
		func(ctx context.Context, tx *store.Transaction) ([]*types.Notification, error) {
			n, err := m.findNFT(ctx, tx.NFT.ID)
			if err != nil {
				return nil, err
			}

			if _, err = m.ledger.AdminMint(ctx, n, tx.ToAddress, hash, tokenIDs); err != nil {
				return nil, err
			}

			tx.TokenIDs = tokenIDs
			tx.Quantity = int64(len(tokenIDs))

			return nil, m.updateReceiverBlack(ctx, tx.ToAddress)
		})
}

func (m *Market) updateReceiverBlack(ctx context.Context, address string) error {
	u, err := m.db.FindUser(ctx, store.UserFilter{Address: address})
	if errors.Is(err, store.ErrDataNotFound) {
		log.Printf("[%s] receiver %s is not a user", store.LockAdminMintNFT, address)
		return nil
	} else if err != nil {
		return err
	}

	if u.UserType == store.UserCommon && u.Role == store.RoleUser {
		return m.forest.BecomeBDA(ctx, u)
	}

	received := true

	return m.db.UpdateUser(ctx, store.UserFilter{Address: address},
		store.UserUpdate{HaveReceivedBlackFromAdmin: &received})
}

// UpdateAdminAction completes an admin setting or admin delete transaction.
func (m *Market) UpdateAdminAction(ctx context.Context, txID, hash string) (*Result, error) {
	return m.complete(ctx, lock.Key{Type: store.LockAdminSetting, DocumentID: txID}, txID, hash,
		func(ctx context.Context, tx *store.Transaction) ([]*types.Notification, error) {
			return nil, m.updateAdminAfterSuccess(ctx, tx)
		})
}

func (m *Market) updateAdminAfterSuccess(ctx context.Context, tx *store.Transaction) error {
	switch tx.Type {
	case store.TxAdminSetting:
		u, err := m.db.FindUser(ctx, store.UserFilter{Address: tx.ToAddress, IncludeDeleted: true})
		if errors.Is(err, store.ErrDataNotFound) {
			return m.db.InsertUser(ctx, &store.User{
				Address:  tx.ToAddress,
				Role:     store.RoleAdmin,
				Status:   store.UserActive,
				UserType: store.UserCommon,
			})
		} else if err != nil {
			return err
		}

		active := store.UserActive

		if u.IsDeleted {
			restored, role := false, store.RoleAdmin

			return m.db.UpdateUser(ctx, store.UserFilter{Address: tx.ToAddress, IncludeDeleted: true},
				store.UserUpdate{Role: &role, Status: &active, IsDeleted: &restored})
		}

		if u.Role == store.RoleAdmin && u.Status == store.UserActive {
			return nil
		}

		return m.db.UpdateUser(ctx, store.UserFilter{Address: tx.ToAddress, Role: store.RoleAdmin,
			Status: store.UserDraft}, store.UserUpdate{Status: &active})
	case store.TxAdminDelete:
		deleted := true

		return m.db.UpdateUser(ctx, store.UserFilter{Address: tx.ToAddress, Role: store.RoleAdmin},
			store.UserUpdate{IsDeleted: &deleted})
	}

	return fault.InvalidData(fmt.Sprintf("transaction type %s is not an admin action", tx.Type))
}

// ApproveRedemption completes a redemption: its tokens become REDEEMED and the redeemer may lose its BDA status.
func (m *Market) ApproveRedemption(ctx context.Context, txID, hash string) (*Result, error) {
	return m.complete(ctx, lock.Key{Type: store.LockApproveRedemption, DocumentID: txID}, txID, hash,
		func(ctx context.Context, tx *store.Transaction) ([]*types.Notification, error) {
			if tx.Type != store.TxCreateRedemption {
				return nil, fault.InvalidData(fmt.Sprintf("transaction type %s is not a redemption", tx.Type))
			}

			for _, id := range tx.TokenIDs {
				if err := m.ledger.Redeem(ctx, id); err != nil {
					return nil, err
				}
			}

			note, err := m.forest.UpdateTransporter(ctx, tx.FromAddress, referral.Redemption)

			return []*types.Notification{note}, err
		})
}

// Transfer is an ERC-721 transfer observed on chain.
type Transfer struct {
	Hash    string `json:"hash"`
	TokenID string `json:"tokenId"`
	From    string `json:"from"`
	To      string `json:"to"`
}

// TransferNFT721 applies an on-chain transfer of a token. Transfers to or from the locking contract are not
// marketplace transfers: they only lock or unlock the token and return a nil Result. Tokens of unknown NFTs are
// skipped.
func (m *Market) TransferNFT721(ctx context.Context, t Transfer) (*Result, error) {
	t.From, t.To = util.FormatAddress(t.From), util.FormatAddress(t.To)

	if m.locking != "" && (t.From == m.locking || t.To == m.locking) {
		return nil, m.lockToken(ctx, t)
	}

	var res *Result

	key := lock.Key{Type: store.LockTransferNFT, DocumentID: t.Hash + "-" + t.TokenID}

	err := m.locks.Do(ctx, key, func(ctx context.Context) error {
		if done, err := m.db.FindTransactionByHash(ctx, store.TxTransferOutside, t.Hash, t.TokenID); err == nil {
			log.Printf("[%s] transfer %s is already completed", key.Type, key.DocumentID)

			res = &Result{Transaction: done, IsAlreadyCompleted: true}

			return nil
		} else if !errors.Is(err, store.ErrDataNotFound) {
			return err
		}

		n, err := m.db.FindNFTByTokenID(ctx, t.TokenID)
		if errors.Is(err, store.ErrDataNotFound) {
			log.Printf("[%s] nft of token %s not found", key.Type, t.TokenID)
			return nil
		} else if err != nil {
			return err
		}

		log.Printf("[%s] transfer nft %s token %s from %s to %s", key.Type, n.ID, t.TokenID, t.From, t.To)

		tx := &store.Transaction{
			NFT:         n.Simple(),
			Type:        store.TxTransferOutside,
			TokenIDs:    []string{t.TokenID},
			FromAddress: t.From,
			ToAddress:   t.To,
			Quantity:    1,
			Status:      store.TxSuccess,
			Hash:        t.Hash,
			Price:       decimal.Zero,
			Revenue:     decimal.Zero,
		}

		m.clearCacheNFT(ctx, tx)

		var note *types.Notification

		if err = m.db.WithTransaction(ctx, func(ctx context.Context) error {
			if err := m.db.InsertTransaction(ctx, tx); err != nil {
				return err
			}

			o, err := m.db.FindOwner(ctx, t.TokenID)
			if err != nil {
				return fmt.Errorf("cannot find owner of token %s: %w", t.TokenID, err)
			}

			action := referral.TransferNFT
			if o.IsMintedAddressAdmin {
				action = referral.TransferBlackNFT
			}

			// holdings are evaluated before the token leaves the sender
			if note, err = m.forest.UpdateTransporter(ctx, t.From, action); err != nil {
				return err
			}

			return m.ledger.Transfer(ctx, t.TokenID, t.To)
		}); err != nil {
			return fmt.Errorf("cannot transfer token %s: %w", t.TokenID, err)
		}

		m.clearCacheNFT(ctx, tx)
		m.forest.Notify(note)

		res = &Result{Transaction: tx}

		return nil
	})

	m.m.Transaction(string(store.TxTransferOutside), err)

	return res, err
}

// lockToken records a token entering or leaving the locking contract. Tokens without a held row are skipped.
func (m *Market) lockToken(ctx context.Context, t Transfer) error {
	key := lock.Key{Type: store.LockTransferNFT, DocumentID: t.Hash + "-" + t.TokenID}

	return m.locks.Do(ctx, key, func(ctx context.Context) error {
		err := m.ledger.SetLocked(ctx, t.TokenID, t.To == m.locking)
		if errors.Is(err, store.ErrNoMatch) {
			log.Printf("[%s] token %s not held, skipping locking contract transfer", key.Type, t.TokenID)
			return nil
		}

		return err
	})
}

// TransactionRequest is the body of a new transaction.
type TransactionRequest struct {
	Type      store.TransactionType `json:"type"`
	NFTID     string                `json:"nftId"`
	ToAddress string                `json:"toAddress"`
	TokenIDs  []string              `json:"tokenIds"`
	Quantity  int64                 `json:"quantity"`
	Price     decimal.Decimal       `json:"price"`
}

// CreateTransaction records a DRAFT transaction requested by the caller.
func (m *Market) CreateTransaction(ctx context.Context, req TransactionRequest, caller *auth.Claims) (*store.Transaction,
	error) {
	tx := &store.Transaction{
		Type:        req.Type,
		FromAddress: caller.Address,
		ToAddress:   caller.Address,
		TokenIDs:    req.TokenIDs,
		Quantity:    req.Quantity,
		Status:      store.TxDraft,
		Price:       req.Price,
		Revenue:     req.Price.Mul(decimal.NewFromInt(req.Quantity)),
	}

	if req.ToAddress != "" {
		if !util.IsAddress(req.ToAddress) {
			return nil, fault.New(fault.CodeInvalidAddress, "invalid address "+req.ToAddress)
		}

		tx.ToAddress = util.FormatAddress(req.ToAddress)
	}

	switch req.Type {
	case store.TxMinted, store.TxDeposit:
		if req.Quantity <= 0 {
			return nil, fault.New(fault.CodeNumberMustGreater, "quantity must be greater than 0")
		}
	case store.TxAdminMinted:
		if err := m.authorize(ctx, caller, store.PermNFTManagement); err != nil {
			return nil, err
		}

		if req.Quantity <= 0 {
			return nil, fault.New(fault.CodeNumberMustGreater, "quantity must be greater than 0")
		}
	case store.TxCreateRedemption:
		if len(req.TokenIDs) == 0 {
			return nil, fault.InvalidData("no tokens to redeem")
		}

		tx.Quantity = int64(len(req.TokenIDs))
	default:
		return nil, fault.InvalidData(fmt.Sprintf("transaction type %s cannot be created", req.Type))
	}

	if req.NFTID != "" {
		n, err := m.findNFT(ctx, req.NFTID)
		if err != nil {
			return nil, err
		}

		tx.NFT = n.Simple()
	}

	if err := m.db.InsertTransaction(ctx, tx); err != nil {
		return nil, fmt.Errorf("cannot create transaction: %w", err)
	}

	return tx, nil
}

func isAdmin(c *auth.Claims) bool {
	return c.Role == store.RoleAdmin || c.Role == store.RoleSuperAdmin
}

// authorize returns an error unless caller is the super admin or an active admin granted p. The grants are read
// from the store so a revoked or deleted admin loses them before its token expires.
func (m *Market) authorize(ctx context.Context, caller *auth.Claims, p store.Permission) error {
	switch {
	case caller.Role == store.RoleSuperAdmin:
		return nil
	case caller.Role != store.RoleAdmin:
		return fault.Permission("you must be administrator")
	}

	u, err := m.db.FindUser(ctx, store.UserFilter{Address: caller.Address, Role: store.RoleAdmin})
	if errors.Is(err, store.ErrDataNotFound) {
		return fault.Permission("admin not found")
	} else if err != nil {
		return err
	}

	if !u.Can(p) {
		return fault.Permission("you don't have the " + string(p) + " permission")
	}

	return nil
}

// checkPermission returns an error if caller may not update tx.
func checkPermission(tx *store.Transaction, caller *auth.Claims) error {
	switch tx.Type {
	case store.TxMinted, store.TxTransfer:
		if caller.Address != tx.ToAddress {
			return fault.Permission("you don't have permission to update this transaction")
		}
	case store.TxAdminMinted, store.TxDelisted:
		if !isAdmin(caller) {
			return fault.Permission("you must be administrator to update this transaction")
		}
	case store.TxAdminSetting, store.TxAdminDelete:
		if caller.Role != store.RoleSuperAdmin {
			return fault.Permission("you must be super administrator to update this transaction")
		}
	default:
		if caller.Address != tx.FromAddress && !isAdmin(caller) {
			return fault.Permission("you don't have permission to update this transaction")
		}
	}

	return nil
}

// UpdateTransactionHash sets the hash of a DRAFT transaction submitted to the chain and moves it to PROCESSING. It
// holds the lock of the transaction so that it cannot interleave with its completion.
func (m *Market) UpdateTransactionHash(ctx context.Context, id, hash string, caller *auth.Claims) (*store.Transaction,
	error) {
	if !util.IsHash(hash) {
		return nil, fault.InvalidData("transaction hash is invalid")
	}

	var tx *store.Transaction

	err := m.locks.Do(ctx, lock.Key{Type: store.LockUpdateEvent, DocumentID: id}, func(ctx context.Context) error {
		var err error
		if tx, err = m.findTransaction(ctx, id); err != nil {
			return err
		}

		if err = checkPermission(tx, caller); err != nil {
			return err
		}

		if tx.Status.Terminal() {
			return fault.New(fault.CodeAlreadyCompleted, "transaction is already completed")
		}

		tx.Hash = hash
		tx.Status = store.TxProcessing

		return m.saveOpen(ctx, tx)
	})
	if err != nil {
		return nil, err
	}

	m.clearCacheNFT(ctx, tx)

	return tx, nil
}

// saveOpen saves tx only if the stored one is still DRAFT or PROCESSING.
func (m *Market) saveOpen(ctx context.Context, tx *store.Transaction) error {
	err := m.db.SaveTransaction(ctx, tx, store.TxDraft, store.TxProcessing)
	if errors.Is(err, store.ErrNoMatch) {
		return fault.New(fault.CodeAlreadyCompleted, "transaction is already completed")
	}

	return err
}

// TransactionUpdate is the body of a transaction cancellation.
type TransactionUpdate struct {
	Status  store.TransactionStatus `json:"status"`
	Hash    string                  `json:"hash"`
	Message string                  `json:"message"`
}

// UpdateTransaction cancels or fails a transaction that is not terminal. A failed admin setting removes the DRAFT
// admin it created.
func (m *Market) UpdateTransaction(ctx context.Context, id string, u TransactionUpdate,
	caller *auth.Claims) (*store.Transaction, error) {
	if u.Status != store.TxCancel && u.Status != store.TxFail {
		return nil, fault.InvalidData(fmt.Sprintf("status %s is not allowed", u.Status))
	}

	tx, err := m.findTransaction(ctx, id)
	if err != nil {
		return nil, err
	}

	if err = checkPermission(tx, caller); err != nil {
		return nil, err
	}

	key := lock.Key{Type: store.LockUpdateEvent, DocumentID: tx.ID}
	if tx.Type == store.TxCreateRedemption {
		key.Type = store.LockCancelRedemption
	}

	err = m.locks.Do(ctx, key, func(ctx context.Context) error {
		if tx, err = m.findTransaction(ctx, id); err != nil {
			return err
		}

		if tx.Status.Terminal() {
			return fault.New(fault.CodeAlreadyCompleted, "transaction is already completed")
		}

		tx.Status, tx.Hash, tx.Message = u.Status, u.Hash, u.Message

		return m.db.WithTransaction(ctx, func(ctx context.Context) error {
			if err := m.saveOpen(ctx, tx); err != nil {
				return err
			}

			return m.updateAdminAfterFail(ctx, tx)
		})
	})
	if err != nil {
		return nil, err
	}

	m.clearCacheNFT(ctx, tx)

	return tx, nil
}

func (m *Market) updateAdminAfterFail(ctx context.Context, tx *store.Transaction) error {
	if tx.Type != store.TxAdminSetting {
		return nil
	}

	err := m.db.DeleteUser(ctx, store.UserFilter{Address: tx.ToAddress, Role: store.RoleAdmin,
		Status: store.UserDraft})
	if errors.Is(err, store.ErrNoMatch) {
		return nil
	}

	return err
}

// GetTransaction returns the cached detail of a transaction.
func (m *Market) GetTransaction(ctx context.Context, id string) (*store.Transaction, error) {
	var tx store.Transaction

	key := cache.TransactionDetail(id)
	if m.cache.Get(ctx, key, &tx) {
		return &tx, nil
	}

	t, err := m.findTransaction(ctx, id)
	if err != nil {
		return nil, err
	}

	m.cache.Set(ctx, key, t)

	return t, nil
}
