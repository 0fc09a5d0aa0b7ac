// Package referral maintains the referral forest of users and the Business Diamond Agent (BDA) status derived
// from it.
//
// Every user stores its referrer, its originator (the topmost non-system ancestor its volume is attributed to) and
// its pathId, the ordered list of ancestors from the root of its tree down to its referrer. Addresses are stored
// normalised so that path membership is an exact comparison.
package referral

import (
	"context"
	"errors"
	"fmt"
	"log"

	"github.com/shopspring/decimal"

	"github.com/tarancss/nftmarket/ledger"
	"github.com/tarancss/nftmarket/lib/fault"
	"github.com/tarancss/nftmarket/lib/msg"
	"github.com/tarancss/nftmarket/lib/store"
	"github.com/tarancss/nftmarket/lib/util"
)

// MinDirectReferees a BDA needs to share equity.
const MinDirectReferees = 3

// Store is the persistence the forest needs.
type Store interface {
	store.UserStore
	SumTransactions(ctx context.Context, q store.TransactionQuery) (store.GroupTotals, error)
}

// Holdings counts the tokens of a user. It is implemented by the ownership ledger.
type Holdings interface {
	Holdings(ctx context.Context, address string) (ledger.Holdings, error)
	CountBlacks(ctx context.Context, address string, includeTransferred bool) (int64, error)
	CountBlacksAfterRedemption(ctx context.Context, address string) (int64, error)
}

// Forest reads and mutates the referral forest.
type Forest struct {
	s Store
	h Holdings
	n msg.Notifier
}

// New returns a Forest. If n is nil notifications are logged.
func New(s Store, h Holdings, n msg.Notifier) *Forest {
	if n == nil {
		n = msg.LogNotifier{}
	}

	return &Forest{s: s, h: h, n: n}
}

// Register appends a new user to the subtree of referrer. An empty referrer attaches the user to the system user.
// It must run inside an atomic scope as it also increments the direct referees of the referrer.
func (f *Forest) Register(ctx context.Context, address, referrer string) (*store.User, error) {
	if !util.IsAddress(address) {
		return nil, fault.New(fault.CodeInvalidAddress, "invalid address "+address)
	}

	address = util.FormatAddress(address)

	if _, err := f.s.FindUser(ctx, store.UserFilter{Address: address, IncludeDeleted: true}); err == nil {
		return nil, fault.New(fault.CodeRegisteredAsUser, "address is already registered")
	} else if !errors.Is(err, store.ErrDataNotFound) {
		return nil, err
	}

	ref, err := f.referrer(ctx, referrer)
	if err != nil {
		return nil, err
	}

	u := &store.User{
		Address:        address,
		Role:           store.RoleUser,
		Status:         store.UserActive,
		UserType:       store.UserCommon,
		Referrer:       ref.Address,
		PathID:         append(append([]string{}, ref.PathID...), ref.Address),
		EquityShare:    decimal.Zero,
		PersonalVolume: decimal.Zero,
	}

	// volume of the direct referees of the system is not attributed
	if ref.Role != store.RoleSystem {
		u.Originator = ref.Originator
		if u.Originator == "" {
			u.Originator = ref.Address
		}
	}

	if err = f.s.InsertUser(ctx, u); err != nil {
		if errors.Is(err, store.ErrDuplicateKey) {
			return nil, fault.New(fault.CodeRegisteredAsUser, "address is already registered")
		}

		return nil, fmt.Errorf("cannot insert user %s: %w", address, err)
	}

	if err = f.s.UpdateUser(ctx, store.UserFilter{Address: ref.Address}, store.UserUpdate{IncDirectReferee: 1}); err != nil {
		return nil, fmt.Errorf("cannot count referee of %s: %w", ref.Address, err)
	}

	log.Printf("[referral] user %s registered under %s", u.Address, u.Referrer)

	return u, nil
}

func (f *Forest) referrer(ctx context.Context, address string) (*store.User, error) {
	if address == "" {
		u, err := f.s.FindUser(ctx, store.UserFilter{Role: store.RoleSystem})
		if errors.Is(err, store.ErrDataNotFound) {
			return nil, fault.NotFound("system user not found")
		}

		return u, err
	}

	u, err := f.s.FindUser(ctx, store.UserFilter{Address: util.FormatAddress(address)})
	if errors.Is(err, store.ErrDataNotFound) {
		return nil, fault.New(fault.CodeInvalidReferrer, "referrer does not exist")
	} else if err != nil {
		return nil, err
	}

	if u.Role == store.RoleAdmin || u.Role == store.RoleSuperAdmin {
		return nil, fault.InvalidData("the referrer must be different to admin")
	}

	return u, nil
}

// Descendants returns every user in the subtree below address. With directOnly only the users referred by address
// are returned.
func (f *Forest) Descendants(ctx context.Context, address string, directOnly bool) ([]store.User, error) {
	address = util.FormatAddress(address)

	filter := store.UserFilter{DescendantOf: address}
	if directOnly {
		filter.Referrer = address
	}

	return f.s.ListUsers(ctx, filter)
}

// GroupInfo holds the totals of a subtree.
type GroupInfo struct {
	TotalTokenSold int64           `json:"totalTokenSold"`
	TotalVolume    decimal.Decimal `json:"totalVolume"`
	TotalMember    int64           `json:"totalMember"`
	DirectReferee  int64           `json:"directReferee,omitempty"`
}

// GroupInfo sums the successful mint transactions received by members. Members are counted as given.
func (f *Forest) GroupInfo(ctx context.Context, members []store.User) (GroupInfo, error) {
	addresses := make([]string, 0, len(members))
	for _, m := range members {
		addresses = append(addresses, m.Address)
	}

	info := GroupInfo{TotalVolume: decimal.Zero, TotalMember: int64(len(members))}
	if len(addresses) == 0 {
		return info, nil
	}

	t, err := f.s.SumTransactions(ctx, store.TransactionQuery{
		Status:      store.TxSuccess,
		Type:        store.TxMinted,
		ToAddresses: addresses,
	})
	if err != nil {
		return info, fmt.Errorf("cannot sum transactions of group: %w", err)
	}

	info.TotalTokenSold, info.TotalVolume = t.TotalTokenSold, t.TotalVolume

	return info, nil
}

// GroupInfoOf returns the totals of address and its whole subtree, with the direct referees of address.
func (f *Forest) GroupInfoOf(ctx context.Context, address string) (GroupInfo, error) {
	u, err := f.User(ctx, address)
	if err != nil {
		return GroupInfo{}, err
	}

	members, err := f.Descendants(ctx, u.Address, false)
	if err != nil {
		return GroupInfo{}, err
	}

	info, err := f.GroupInfo(ctx, append(members, *u))
	info.DirectReferee = u.DirectReferee

	return info, err
}

// BDAStatus tells whether a BDA takes part in equity sharing.
type BDAStatus struct {
	Address       string `json:"address"`
	DirectReferee int64  `json:"directReferee"`
	Eligible      bool   `json:"eligible"`
}

// GetBDAStatus returns the BDA status of address. Users that are not BDA get a CodeUserNotBDA error.
func (f *Forest) GetBDAStatus(ctx context.Context, address string) (BDAStatus, error) {
	u, err := f.User(ctx, address)
	if err != nil {
		return BDAStatus{}, err
	}

	if u.UserType != store.UserBDA {
		return BDAStatus{}, fault.New(fault.CodeUserNotBDA, "user is not a BDA")
	}

	return BDAStatus{Address: u.Address, DirectReferee: u.DirectReferee, Eligible: Eligible(u)}, nil
}

// Eligible returns true for a BDA with enough direct referees to share equity.
func Eligible(u *store.User) bool {
	return u.UserType == store.UserBDA && u.DirectReferee >= MinDirectReferees
}

// User returns the non-deleted user of address.
func (f *Forest) User(ctx context.Context, address string) (*store.User, error) {
	u, err := f.s.FindUser(ctx, store.UserFilter{Address: util.FormatAddress(address)})
	if errors.Is(err, store.ErrDataNotFound) {
		return nil, fault.NotFound("user not found")
	}

	return u, err
}
