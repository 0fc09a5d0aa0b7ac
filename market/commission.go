package market

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tarancss/nftmarket/lib/store"
	"github.com/tarancss/nftmarket/lib/util"
)

// Affiliate roles in a commission.
const (
	RoleReferrerDirect = "referrer-direct"
	RoleBDA            = "bda"
)

// affiliate returns the commissions earned on the sale tx: the direct referrer of the buyer and the nearest BDA
// above it. The system user earns nothing and buyers out of the forest return nil.
func (m *Market) affiliate(ctx context.Context, tx *store.Transaction) (*store.AffiliateInfo, error) {
	u, err := m.db.FindUser(ctx, store.UserFilter{Address: tx.ToAddress})
	if errors.Is(err, store.ErrDataNotFound) {
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	var a store.AffiliateInfo

	for i := len(u.PathID) - 1; i >= 0 && a.BDA == nil; i-- {
		up, err := m.db.FindUser(ctx, store.UserFilter{Address: u.PathID[i]})
		if errors.Is(err, store.ErrDataNotFound) {
			continue
		} else if err != nil {
			return nil, err
		}

		if up.Role == store.RoleSystem {
			break
		}

		if i == len(u.PathID)-1 {
			a.ReferrerDirect = commission(up.Address, m.rates.ReferrerDirect, tx.Revenue)
		}

		if up.UserType == store.UserBDA {
			a.BDA = commission(up.Address, m.rates.BDA, tx.Revenue)
		}
	}

	if a.ReferrerDirect == nil && a.BDA == nil {
		return nil, nil
	}

	return &a, nil
}

func commission(address string, ratio float64, revenue decimal.Decimal) *store.Commission {
	p := decimal.NewFromFloat(ratio)

	return &store.Commission{Address: address, Percentage: p, CommissionFee: revenue.Mul(p)}
}

// Earning is a commission of an affiliate on a sale. Percentage is in hundredths.
type Earning struct {
	TransactionID string          `json:"transactionId"`
	NFT           store.SimpleNFT `json:"nft"`
	Buyer         string          `json:"buyer"`
	Role          string          `json:"role"`
	Quantity      int64           `json:"quantity"`
	Revenue       decimal.Decimal `json:"revenue"`
	Percentage    decimal.Decimal `json:"percentage"`
	Earnings      decimal.Decimal `json:"earnings"`
	CreatedAt     time.Time       `json:"createdAt"`
}

// Commissions lists the earnings of an affiliate and their totals.
type Commissions struct {
	Address         string          `json:"address"`
	Items           []Earning       `json:"items"`
	TotalEarnings   decimal.Decimal `json:"totalEarnings"`
	TotalVolume     decimal.Decimal `json:"totalVolume"`
	TotalTokensSold int64           `json:"totalTokensSold"`
}

// GetCommission returns the commissions earned by address on successful mints, oldest first. A sale where address
// is both the direct referrer and the BDA of the buyer yields an item per role but counts its volume once.
func (m *Market) GetCommission(ctx context.Context, address string) (*Commissions, error) {
	u, err := m.forest.User(ctx, address)
	if err != nil {
		return nil, err
	}

	txs, err := m.db.ListTransactions(ctx, store.TransactionQuery{Status: store.TxSuccess, Type: store.TxMinted,
		Affiliate: u.Address})
	if err != nil {
		return nil, err
	}

	res := &Commissions{Address: u.Address, Items: []Earning{}, TotalEarnings: decimal.Zero,
		TotalVolume: decimal.Zero}
	hundred := decimal.NewFromInt(100)

	for _, tx := range txs {
		for _, c := range tx.Affiliate.Of(u.Address) {
			role := RoleBDA
			if c == tx.Affiliate.ReferrerDirect {
				role = RoleReferrerDirect
			}

			res.Items = append(res.Items, Earning{
				TransactionID: tx.ID,
				NFT:           tx.NFT,
				Buyer:         tx.ToAddress,
				Role:          role,
				Quantity:      tx.Quantity,
				Revenue:       tx.Revenue,
				Percentage:    c.Percentage.Mul(hundred),
				Earnings:      c.CommissionFee,
				CreatedAt:     tx.CreatedAt,
			})
			res.TotalEarnings = res.TotalEarnings.Add(c.CommissionFee)
		}

		res.TotalVolume = res.TotalVolume.Add(tx.Revenue)
		res.TotalTokensSold += tx.Quantity
	}

	return res, nil
}

// isAffiliate is used by handlers to restrict commissions to their owner or an admin.
func isAffiliate(address, caller string) bool {
	return util.FormatAddress(address) == util.FormatAddress(caller)
}
