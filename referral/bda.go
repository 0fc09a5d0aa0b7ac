package referral

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tarancss/nftmarket/lib/msg/types"
	"github.com/tarancss/nftmarket/lib/store"
	"github.com/tarancss/nftmarket/lib/util"
)

// ActionType is the action that may cost a user its BDA status.
type ActionType string

const (
	Redemption       ActionType = "REDEMPTION"
	TransferNFT      ActionType = "TRANSFER_NFT"
	TransferBlackNFT ActionType = "TRANSFER_BLACK_NFT"
)

// BecomeBDA promotes u and re-roots onto u the descendants attributed to one of its ancestors. It must run inside
// the atomic scope of the admin mint that promotes u.
func (f *Forest) BecomeBDA(ctx context.Context, u *store.User) error {
	bda := store.UserBDA
	received := true

	if err := f.s.UpdateUser(ctx, store.UserFilter{Address: u.Address},
		store.UserUpdate{UserType: &bda, HaveReceivedBlackFromAdmin: &received}); err != nil {
		return fmt.Errorf("cannot promote %s: %w", u.Address, err)
	}

	ancestors := u.PathID
	if u.Role == store.RoleSystem {
		ancestors = []string{u.Address}
	}

	n, err := f.s.UpdateUsers(ctx, store.UserFilter{DescendantOf: u.Address, Originators: ancestors},
		store.UserUpdate{Originator: &u.Address})
	if err != nil {
		return fmt.Errorf("cannot re-root descendants of %s: %w", u.Address, err)
	}

	log.Printf("[referral] %s became BDA, %d descendants re-rooted", u.Address, n)

	return nil
}

// CanLoseBDA returns the notification code to send to u after action and whether u loses its BDA status. Transfer
// actions are evaluated on the holdings before the token leaves u; redemption after the token is redeemed.
func (f *Forest) CanLoseBDA(ctx context.Context, u *store.User, action ActionType) (string, bool, error) {
	if u.UserType != store.UserBDA {
		return "", false, nil
	}

	h, err := f.h.Holdings(ctx, u.Address)
	if err != nil {
		return "", false, err
	}

	blacks, err := f.h.CountBlacks(ctx, u.Address, true)
	if err != nil {
		return "", false, err
	}

	redeemable, err := f.h.CountBlacksAfterRedemption(ctx, u.Address)
	if err != nil {
		return "", false, err
	}

	if u.HaveReceivedBlackFromAdmin {
		switch action {
		case Redemption:
			if redeemable == 0 {
				return types.LostBDAReceived, true, nil
			}
		case TransferNFT:
			if blacks == 1 && h.Owned == 1 {
				return types.LostBDAReceived, true, nil
			}
		case TransferBlackNFT:
			if blacks == 1 {
				return types.LostBDAReceived, true, nil
			}
		}

		return "", false, nil
	}

	if (action == TransferNFT || action == TransferBlackNFT) && h.Owned == 1 {
		return types.LostBDA, true, nil
	}

	return "", false, nil
}

// LoseBDA demotes u to a common user and hands the users attributed to u over to the originator of u.
func (f *Forest) LoseBDA(ctx context.Context, u *store.User) error {
	common := store.UserCommon
	zero := decimal.Zero

	if err := f.s.UpdateUser(ctx, store.UserFilter{Address: u.Address, Role: store.RoleUser},
		store.UserUpdate{UserType: &common, PersonalVolume: &zero, EquityShare: &zero}); err != nil {
		return fmt.Errorf("cannot demote %s: %w", u.Address, err)
	}

	n, err := f.s.UpdateUsers(ctx, store.UserFilter{Originator: u.Address, Role: store.RoleUser},
		store.UserUpdate{Originator: &u.Originator})
	if err != nil {
		return fmt.Errorf("cannot re-root users of %s: %w", u.Address, err)
	}

	log.Printf("[referral] %s lost BDA, %d users handed over to %q", u.Address, n, u.Originator)

	return nil
}

// UpdateTransporter evaluates the BDA status of the user that gives away a token. Addresses without a user row are
// skipped. The returned notification, if any, is to be sent once the atomic scope commits.
func (f *Forest) UpdateTransporter(ctx context.Context, address string, action ActionType) (*types.Notification,
	error) {
	u, err := f.s.FindUser(ctx, store.UserFilter{Address: util.FormatAddress(address)})
	if errors.Is(err, store.ErrDataNotFound) {
		log.Printf("[referral] transporter %s is not a user, skipping", address)
		return nil, nil
	} else if err != nil {
		return nil, err
	}

	code, lose, err := f.CanLoseBDA(ctx, u, action)
	if err != nil {
		return nil, fmt.Errorf("cannot evaluate BDA status of %s: %w", u.Address, err)
	}

	if lose {
		if err = f.LoseBDA(ctx, u); err != nil {
			return nil, err
		}
	}

	if code == "" {
		return nil, nil
	}

	return &types.Notification{Address: u.Address, Code: code, TimeStamp: time.Now().Unix(),
		Message: "BDA status lost after " + string(action)}, nil
}

// Notify sends the notifications collected during a committed scope. Failures are logged only.
func (f *Forest) Notify(ns ...*types.Notification) {
	for _, n := range ns {
		if n == nil {
			continue
		}

		if err := f.n.SendNotification(*n); err != nil {
			log.Printf("[referral] cannot notify %s %s: %e", n.Address, n.Code, err)
		}
	}
}
