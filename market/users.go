package market

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/tarancss/nftmarket/lib/auth"
	"github.com/tarancss/nftmarket/lib/fault"
	"github.com/tarancss/nftmarket/lib/store"
	"github.com/tarancss/nftmarket/lib/util"
	"github.com/tarancss/nftmarket/referral"
)

// Register adds address to the referral forest under referrer.
func (m *Market) Register(ctx context.Context, address, referrer string) (*store.User, error) {
	var u *store.User

	err := m.db.WithTransaction(ctx, func(ctx context.Context) error {
		var err error
		u, err = m.forest.Register(ctx, address, referrer)

		return err
	})

	return u, err
}

// CreateAdmin creates a DRAFT admin granted perms and the ADMIN_SETTING transaction that activates it once mined.
func (m *Market) CreateAdmin(ctx context.Context, address, name string, perms []store.Permission,
	caller *auth.Claims) (*store.Transaction, error) {
	if caller.Role != store.RoleSuperAdmin {
		return nil, fault.Permission("you must be super administrator to create admins")
	}

	perms, err := grants(perms)
	if err != nil {
		return nil, err
	}

	if !util.IsAddress(address) {
		return nil, fault.New(fault.CodeInvalidAddress, "invalid address "+address)
	}

	address = util.FormatAddress(address)

	u, err := m.db.FindUser(ctx, store.UserFilter{Address: address, IncludeDeleted: true})
	switch {
	case err == nil && u.Role != store.RoleAdmin:
		return nil, fault.New(fault.CodeRegisteredAsUser, "address is registered as user")
	case err == nil && !u.IsDeleted && u.Status == store.UserActive:
		return nil, fault.New(fault.CodeAdminWalletExisted, "admin wallet already exists")
	case err != nil && !errors.Is(err, store.ErrDataNotFound):
		return nil, err
	}

	admins, err := m.db.ListUsers(ctx, store.UserFilter{Role: store.RoleAdmin})
	if err != nil {
		return nil, err
	}

	for _, a := range admins {
		if a.Address != address && name != "" && strings.EqualFold(a.Name, name) {
			return nil, fault.New(fault.CodeAdminNameExisted, "admin name already exists")
		}
	}

	tx := &store.Transaction{
		Type:        store.TxAdminSetting,
		FromAddress: caller.Address,
		ToAddress:   address,
		Status:      store.TxDraft,
		Price:       decimal.Zero,
		Revenue:     decimal.Zero,
	}

	if err = m.db.WithTransaction(ctx, func(ctx context.Context) error {
		// a previous DRAFT admin of the same wallet is reused and a deleted one is restored as DRAFT
		if u != nil && u.IsDeleted {
			restored, draft := false, store.UserDraft

			if err := m.db.UpdateUser(ctx, store.UserFilter{Address: address, IncludeDeleted: true},
				store.UserUpdate{Name: &name, Status: &draft, IsDeleted: &restored, Permissions: &perms}); err != nil {
				return err
			}
		} else if u != nil {
			if err := m.db.UpdateUser(ctx, store.UserFilter{Address: address},
				store.UserUpdate{Name: &name, Permissions: &perms}); err != nil {
				return err
			}
		} else if err := m.db.InsertUser(ctx, &store.User{
			Address:        address,
			Name:           name,
			Role:           store.RoleAdmin,
			Status:         store.UserDraft,
			UserType:       store.UserCommon,
			EquityShare:    decimal.Zero,
			PersonalVolume: decimal.Zero,
			Permissions:    perms,
		}); err != nil {
			return err
		}

		return m.db.InsertTransaction(ctx, tx)
	}); err != nil {
		return nil, fmt.Errorf("cannot create admin %s: %w", address, err)
	}

	log.Printf("[admin] draft admin %s created by %s", address, caller.Address)

	return tx, nil
}

// grants validates and dedupes the permissions given to an admin.
func grants(perms []store.Permission) ([]store.Permission, error) {
	res := make([]store.Permission, 0, len(perms))

	for _, p := range perms {
		if !p.Grantable() {
			return nil, fault.New(fault.CodeEditionUnsuccessful, "your permission is incorrect!")
		}

		if !util.In(res, p) {
			res = append(res, p)
		}
	}

	return res, nil
}

// DeleteAdmin creates the ADMIN_DELETE transaction that removes an active admin once mined.
func (m *Market) DeleteAdmin(ctx context.Context, address string, caller *auth.Claims) (*store.Transaction, error) {
	if caller.Role != store.RoleSuperAdmin {
		return nil, fault.Permission("you must be super administrator to delete admins")
	}

	address = util.FormatAddress(address)

	if _, err := m.db.FindUser(ctx, store.UserFilter{Address: address, Role: store.RoleAdmin,
		Status: store.UserActive}); errors.Is(err, store.ErrDataNotFound) {
		return nil, fault.NotFound("admin not found")
	} else if err != nil {
		return nil, err
	}

	tx := &store.Transaction{
		Type:        store.TxAdminDelete,
		FromAddress: caller.Address,
		ToAddress:   address,
		Status:      store.TxDraft,
		Price:       decimal.Zero,
		Revenue:     decimal.Zero,
	}

	if err := m.db.InsertTransaction(ctx, tx); err != nil {
		return nil, err
	}

	return tx, nil
}

// GetDescendants returns the subtree of address, or its direct referees only.
func (m *Market) GetDescendants(ctx context.Context, address string, directOnly bool) ([]store.User, error) {
	if _, err := m.forest.User(ctx, address); err != nil {
		return nil, err
	}

	return m.forest.Descendants(ctx, address, directOnly)
}

// GetGroupInfo returns the totals of the subtree of address.
func (m *Market) GetGroupInfo(ctx context.Context, address string) (referral.GroupInfo, error) {
	return m.forest.GroupInfoOf(ctx, address)
}

// GetBDAStatus returns the BDA status of address.
func (m *Market) GetBDAStatus(ctx context.Context, address string) (referral.BDAStatus, error) {
	return m.forest.GetBDAStatus(ctx, address)
}
