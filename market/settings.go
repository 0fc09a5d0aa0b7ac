package market

import (
	"context"
	"errors"
	"log"
	"strings"

	"github.com/tarancss/nftmarket/ledger"
	"github.com/tarancss/nftmarket/lib/cache"
	"github.com/tarancss/nftmarket/lib/fault"
	"github.com/tarancss/nftmarket/lib/lock"
	"github.com/tarancss/nftmarket/lib/store"
	"github.com/tarancss/nftmarket/lib/util"
)

// settingsDoc is the lock document of the settings.
const settingsDoc = "config"

func (m *Market) settings(ctx context.Context) (*store.Settings, error) {
	s, err := m.db.LoadSettings(ctx)
	if errors.Is(err, store.ErrDataNotFound) {
		return &store.Settings{Currencies: []store.Currency{}, Attributes: []store.Attribute{}}, nil
	}

	return s, err
}

// GetConfig returns the settings shown to users: hidden attributes are left out.
func (m *Market) GetConfig(ctx context.Context) (*store.Settings, error) {
	var s store.Settings
	if m.cache.Get(ctx, cache.KeyConfig, &s) {
		return &s, nil
	}

	full, err := m.settings(ctx)
	if err != nil {
		return nil, err
	}

	s = *full
	s.Attributes = make([]store.Attribute, 0, len(full.Attributes))

	for _, a := range full.Attributes {
		if !a.Hidden {
			s.Attributes = append(s.Attributes, a)
		}
	}

	m.cache.Set(ctx, cache.KeyConfig, &s)

	return &s, nil
}

// GetFullConfig returns the whole settings.
func (m *Market) GetFullConfig(ctx context.Context) (*store.Settings, error) {
	var s store.Settings
	if m.cache.Get(ctx, cache.KeyFullConfig, &s) {
		return &s, nil
	}

	full, err := m.settings(ctx)
	if err != nil {
		return nil, err
	}

	m.cache.Set(ctx, cache.KeyFullConfig, full)

	return full, nil
}

// updateSettings applies fn to the settings under the settings lock and clears the cached settings.
func (m *Market) updateSettings(ctx context.Context, fn func(s *store.Settings) error) (*store.Settings, error) {
	var s *store.Settings

	err := m.locks.Do(ctx, lock.Key{Type: store.LockAdminSetting, DocumentID: settingsDoc},
		func(ctx context.Context) error {
			var err error
			if s, err = m.settings(ctx); err != nil {
				return err
			}

			if err = fn(s); err != nil {
				return err
			}

			return m.db.SaveSettings(ctx, s)
		})
	if err != nil {
		return nil, err
	}

	if err = m.cache.Del(ctx, cache.KeyConfig, cache.KeyFullConfig); err != nil {
		log.Printf("[cache] cannot clear config err:%e", err)
	}

	return s, nil
}

// SetCurrency adds a currency or replaces the one with the same symbol.
func (m *Market) SetCurrency(ctx context.Context, c store.Currency) (*store.Settings, error) {
	if c.Symbol == "" {
		return nil, fault.InvalidData("currency symbol is required")
	}

	if !c.IsNative && !util.IsAddress(c.Address) {
		return nil, fault.New(fault.CodeInvalidAddress, "invalid currency address "+c.Address)
	}

	c.Address = util.FormatAddress(c.Address)

	return m.updateSettings(ctx, func(s *store.Settings) error {
		for i := range s.Currencies {
			if strings.EqualFold(s.Currencies[i].Symbol, c.Symbol) {
				s.Currencies[i] = c
				return nil
			}
		}

		s.Currencies = append(s.Currencies, c)

		return nil
	})
}

// SetAttribute adds an attribute or replaces the one with the same key.
func (m *Market) SetAttribute(ctx context.Context, a store.Attribute) (*store.Settings, error) {
	if a.Key == "" {
		return nil, fault.InvalidData("attribute key is required")
	}

	return m.updateSettings(ctx, func(s *store.Settings) error {
		for i := range s.Attributes {
			if s.Attributes[i].Key == a.Key {
				s.Attributes[i] = a
				return nil
			}
		}

		s.Attributes = append(s.Attributes, a)

		return nil
	})
}

// tokens returns the cached ledger rows of q.
func (m *Market) tokens(ctx context.Context, key string, q store.OwnerQuery) ([]store.Owner, error) {
	var os []store.Owner
	if m.cache.Get(ctx, key, &os) {
		return os, nil
	}

	os, err := m.db.ListOwners(ctx, q)
	if err != nil {
		return nil, err
	}

	m.cache.Set(ctx, key, os)

	return os, nil
}

// TokensByNFT returns the ledger rows of an NFT.
func (m *Market) TokensByNFT(ctx context.Context, nftID string) ([]store.Owner, error) {
	if _, err := m.findNFT(ctx, nftID); err != nil {
		return nil, err
	}

	return m.tokens(ctx, cache.TokensByNFT(nftID), store.OwnerQuery{NFTID: nftID})
}

// TokensByAddress returns the tokens owned by address.
func (m *Market) TokensByAddress(ctx context.Context, address string) ([]store.Owner, error) {
	if !util.IsAddress(address) {
		return nil, fault.New(fault.CodeInvalidAddress, "invalid address "+address)
	}

	address = util.FormatAddress(address)

	return m.tokens(ctx, cache.TokensByAddress(address), store.OwnerQuery{Address: address, Statuses: ledger.Owned})
}

// TokensByAddressAndNFT returns the tokens of an NFT owned by address.
func (m *Market) TokensByAddressAndNFT(ctx context.Context, address, nftID string) ([]store.Owner, error) {
	if !util.IsAddress(address) {
		return nil, fault.New(fault.CodeInvalidAddress, "invalid address "+address)
	}

	address = util.FormatAddress(address)

	return m.tokens(ctx, cache.TokensByAddressAndNFT(address, nftID),
		store.OwnerQuery{Address: address, NFTID: nftID, Statuses: ledger.Owned})
}
