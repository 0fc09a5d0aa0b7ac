// Package memory implements the store interface in process memory. It is meant for development and tests: atomic
// scopes are serialized and rolled back from a snapshot, and all other operations wait for a running scope to end.
package memory

import (
	"context"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"

	"github.com/tarancss/nftmarket/lib/store"
	"github.com/tarancss/nftmarket/lib/util"
)

// Memory implements an in-memory database.
type Memory struct {
	scope sync.Mutex // held while an atomic scope runs
	mu    sync.Mutex // guards the maps

	locks    map[string]store.Lock
	txs      map[string]store.Transaction
	owners   map[string]store.Owner
	nfts     map[string]store.NFT
	users    map[string]store.User
	settings *store.Settings
	counters map[string]int64

	writes int64
}

type scopeKey struct{}

// New returns an empty in-memory database.
func New() *Memory {
	return &Memory{
		locks:    make(map[string]store.Lock),
		txs:      make(map[string]store.Transaction),
		owners:   make(map[string]store.Owner),
		nfts:     make(map[string]store.NFT),
		users:    make(map[string]store.User),
		counters: make(map[string]int64),
	}
}

// Close does nothing.
func (m *Memory) Close() error {
	return nil
}

// Writes returns the number of document writes done so far. Lock rows are not counted.
func (m *Memory) Writes() int64 {
	return atomic.LoadInt64(&m.writes)
}

func (m *Memory) inScope(ctx context.Context) bool {
	s, _ := ctx.Value(scopeKey{}).(*Memory)
	return s == m
}

// enter waits for a running atomic scope unless ctx belongs to it, then takes the map mutex.
func (m *Memory) enter(ctx context.Context) func() {
	if m.inScope(ctx) {
		m.mu.Lock()
		return m.mu.Unlock
	}
	m.scope.Lock()
	m.mu.Lock()
	return func() {
		m.mu.Unlock()
		m.scope.Unlock()
	}
}

func (m *Memory) wrote() {
	atomic.AddInt64(&m.writes, 1)
}

type snapshot struct {
	txs      map[string]store.Transaction
	owners   map[string]store.Owner
	nfts     map[string]store.NFT
	users    map[string]store.User
	settings *store.Settings
	counters map[string]int64
	writes   int64
}

func copyMap[K comparable, V any](src map[K]V) map[K]V {
	dst := make(map[K]V, len(src))
	for k, v := range src {
		dst[k] = v
	}
	return dst
}

// WithTransaction runs fn holding the scope mutex and restores the previous state if fn fails. Rows are replaced
// on every write, never modified in place, so a shallow copy of the maps is a valid snapshot.
func (m *Memory) WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error {
	if m.inScope(ctx) {
		return fn(ctx)
	}

	m.scope.Lock()
	defer m.scope.Unlock()

	m.mu.Lock()
	snap := snapshot{
		txs:      copyMap(m.txs),
		owners:   copyMap(m.owners),
		nfts:     copyMap(m.nfts),
		users:    copyMap(m.users),
		settings: m.settings,
		counters: copyMap(m.counters),
		writes:   atomic.LoadInt64(&m.writes),
	}
	m.mu.Unlock()

	if err := fn(context.WithValue(ctx, scopeKey{}, m)); err != nil {
		m.mu.Lock()
		m.txs, m.owners, m.nfts, m.users = snap.txs, snap.owners, snap.nfts, snap.users
		m.settings, m.counters = snap.settings, snap.counters
		atomic.StoreInt64(&m.writes, snap.writes)
		m.mu.Unlock()

		return err
	}

	return nil
}

// DeleteExpiredLocks deletes the locks of type t that expired before now.
func (m *Memory) DeleteExpiredLocks(ctx context.Context, t store.LockType, now time.Time) error {
	defer m.enter(ctx)()

	for id, l := range m.locks {
		if l.Type == t && l.LockUntil.Before(now) {
			delete(m.locks, id)
		}
	}

	return nil
}

// InsertLock saves a lock unless its document id is already locked.
func (m *Memory) InsertLock(ctx context.Context, l store.Lock) error {
	defer m.enter(ctx)()

	if _, ok := m.locks[l.DocumentID]; ok {
		return store.ErrDuplicateKey
	}

	m.locks[l.DocumentID] = l

	return nil
}

// DeleteLock deletes the lock of the document if it has the given type.
func (m *Memory) DeleteLock(ctx context.Context, t store.LockType, documentID string) error {
	defer m.enter(ctx)()

	if l, ok := m.locks[documentID]; ok && l.Type == t {
		delete(m.locks, documentID)
	}

	return nil
}

// InsertTransaction saves a new transaction, assigning its id if empty.
func (m *Memory) InsertTransaction(ctx context.Context, t *store.Transaction) error {
	defer m.enter(ctx)()

	if t.ID == "" {
		t.ID = util.NewID()
	}

	if _, ok := m.txs[t.ID]; ok {
		return store.ErrDuplicateKey
	}

	now := time.Now()
	if t.CreatedAt.IsZero() {
		t.CreatedAt = now
	}

	t.UpdatedAt = now
	m.txs[t.ID] = cloneTransaction(*t)
	m.wrote()

	return nil
}

// FindTransaction returns the transaction with the given id.
func (m *Memory) FindTransaction(ctx context.Context, id string) (*store.Transaction, error) {
	defer m.enter(ctx)()

	t, ok := m.txs[id]
	if !ok {
		return nil, store.ErrDataNotFound
	}

	t = cloneTransaction(t)

	return &t, nil
}

// FindTransactionByHash returns the oldest transaction of the given type and hash holding tokenID if not empty.
func (m *Memory) FindTransactionByHash(ctx context.Context, typ store.TransactionType,
	hash, tokenID string) (*store.Transaction, error) {
	defer m.enter(ctx)()

	var found *store.Transaction

	for _, t := range m.txs {
		if t.Type != typ || t.Hash != hash || (tokenID != "" && !util.In(t.TokenIDs, tokenID)) {
			continue
		}

		if found == nil || t.CreatedAt.Before(found.CreatedAt) {
			c := cloneTransaction(t)
			found = &c
		}
	}

	if found == nil {
		return nil, store.ErrDataNotFound
	}

	return found, nil
}

// SaveTransaction replaces the stored transaction.
func (m *Memory) SaveTransaction(ctx context.Context, t *store.Transaction, from ...store.TransactionStatus) error {
	defer m.enter(ctx)()

	old, ok := m.txs[t.ID]
	if !ok {
		return store.ErrNoMatch
	}

	if len(from) > 0 && !inStatuses(old.Status, from) {
		return store.ErrNoMatch
	}

	t.UpdatedAt = time.Now()
	m.txs[t.ID] = cloneTransaction(*t)
	m.wrote()

	return nil
}

func inStatuses(s store.TransactionStatus, ss []store.TransactionStatus) bool {
	for _, x := range ss {
		if x == s {
			return true
		}
	}

	return false
}

// SumTransactions adds up quantity and revenue of the matching transactions.
func (m *Memory) SumTransactions(ctx context.Context, q store.TransactionQuery) (store.GroupTotals, error) {
	defer m.enter(ctx)()

	res := store.GroupTotals{TotalVolume: decimal.Zero}

	for _, t := range m.txs {
		if !matchTransaction(t, q) {
			continue
		}

		res.TotalTokenSold += t.Quantity
		res.TotalVolume = res.TotalVolume.Add(t.Revenue)
	}

	return res, nil
}

// ListTransactions returns the matching transactions, oldest first.
func (m *Memory) ListTransactions(ctx context.Context, q store.TransactionQuery) ([]store.Transaction, error) {
	defer m.enter(ctx)()

	var res []store.Transaction

	for _, t := range m.txs {
		if matchTransaction(t, q) {
			res = append(res, cloneTransaction(t))
		}
	}

	sort.Slice(res, func(i, j int) bool {
		if res[i].CreatedAt.Equal(res[j].CreatedAt) {
			return res[i].ID < res[j].ID
		}
		return res[i].CreatedAt.Before(res[j].CreatedAt)
	})

	return res, nil
}

// InsertOwners saves new ledger rows. No row is saved if any token id exists.
func (m *Memory) InsertOwners(ctx context.Context, owners []store.Owner) error {
	defer m.enter(ctx)()

	seen := make(map[string]bool, len(owners))

	for _, o := range owners {
		if _, ok := m.owners[o.TokenID]; ok || seen[o.TokenID] {
			return store.ErrDuplicateKey
		}

		seen[o.TokenID] = true
	}

	for _, o := range owners {
		m.owners[o.TokenID] = o
		m.wrote()
	}

	return nil
}

// FindOwner returns the ledger row of the token.
func (m *Memory) FindOwner(ctx context.Context, tokenID string) (*store.Owner, error) {
	defer m.enter(ctx)()

	o, ok := m.owners[tokenID]
	if !ok {
		return nil, store.ErrDataNotFound
	}

	return &o, nil
}

// UpdateOwner updates the first ledger row matching f.
func (m *Memory) UpdateOwner(ctx context.Context, f store.OwnerFilter, u store.OwnerUpdate) error {
	defer m.enter(ctx)()

	for _, id := range sortedKeys(m.owners) {
		o := m.owners[id]
		if (f.TokenID != "" && o.TokenID != f.TokenID) || (f.NFTID != "" && o.NFTID != f.NFTID) ||
			(len(f.Statuses) > 0 && !inStatus(f.Statuses, o.Status)) {
			continue
		}

		applyOwner(&o, u)
		m.owners[id] = o
		m.wrote()

		return nil
	}

	return store.ErrNoMatch
}

// CountOwners counts the ledger rows matching q.
func (m *Memory) CountOwners(ctx context.Context, q store.OwnerQuery) (int64, error) {
	defer m.enter(ctx)()

	var n int64

	for _, o := range m.owners {
		if matchOwner(o, q) {
			n++
		}
	}

	return n, nil
}

// ListOwners returns the ledger rows matching q sorted by token id.
func (m *Memory) ListOwners(ctx context.Context, q store.OwnerQuery) ([]store.Owner, error) {
	defer m.enter(ctx)()

	res := []store.Owner{}

	for _, id := range sortedKeys(m.owners) {
		if o := m.owners[id]; matchOwner(o, q) {
			res = append(res, o)
		}
	}

	return res, nil
}

// InsertNFT saves a new NFT, assigning its id if empty.
func (m *Memory) InsertNFT(ctx context.Context, n *store.NFT) error {
	defer m.enter(ctx)()

	if n.ID == "" {
		n.ID = util.NewID()
	}

	if _, ok := m.nfts[n.ID]; ok {
		return store.ErrDuplicateKey
	}

	now := time.Now()
	n.CreatedAt, n.UpdatedAt = now, now
	m.nfts[n.ID] = cloneNFT(*n)
	m.wrote()

	return nil
}

// FindNFT returns a non-deleted NFT.
func (m *Memory) FindNFT(ctx context.Context, id string) (*store.NFT, error) {
	defer m.enter(ctx)()

	n, ok := m.nfts[id]
	if !ok || n.IsDeleted {
		return nil, store.ErrDataNotFound
	}

	n = cloneNFT(n)

	return &n, nil
}

// FindNFTByTokenID returns the non-deleted NFT the token id belongs to.
func (m *Memory) FindNFTByTokenID(ctx context.Context, tokenID string) (*store.NFT, error) {
	defer m.enter(ctx)()

	for _, n := range m.nfts {
		if !n.IsDeleted && util.In(n.Token.IDs, tokenID) {
			n = cloneNFT(n)
			return &n, nil
		}
	}

	return nil, store.ErrDataNotFound
}

// UpdateNFT applies u to the NFT if its counters stay consistent.
func (m *Memory) UpdateNFT(ctx context.Context, id string, u store.NFTUpdate) (*store.NFT, error) {
	defer m.enter(ctx)()

	n, ok := m.nfts[id]
	if !ok || n.IsDeleted {
		return nil, store.ErrNoMatch
	}

	n = cloneNFT(n)
	if u.TotalSupply != nil {
		n.Token.TotalSupply = *u.TotalSupply
	}

	n.Token.TotalMinted += u.IncMinted
	n.Token.TotalAvailable += u.IncAvailable
	n.Token.TotalBurnt += u.IncBurnt
	n.QuantityForSale += u.IncForSale

	t := n.Token
	if t.TotalMinted < 0 || t.TotalAvailable < 0 || t.TotalBurnt < 0 || n.QuantityForSale < 0 ||
		t.TotalAvailable+t.TotalMinted+t.TotalBurnt+n.QuantityForSale > t.TotalSupply {
		return nil, store.ErrNoMatch
	}

	if u.Status != nil {
		n.Status = *u.Status
	}

	if u.OrderID != nil {
		n.OrderID = *u.OrderID
	}

	if u.Price != nil {
		n.Price = *u.Price
	}

	if u.HashPutOnSale != nil {
		n.HashPutOnSale = *u.HashPutOnSale
	}

	if u.MetadataURL != nil {
		n.MetadataURL = *u.MetadataURL
	}

	if u.Cid != nil {
		n.Token.Cid = *u.Cid
	}

	n.Token.IDs = append(n.Token.IDs, u.AddTokenIDs...)
	n.UpdatedAt = time.Now()
	m.nfts[id] = n
	m.wrote()

	n = cloneNFT(n)

	return &n, nil
}

// InsertUser saves a new user.
func (m *Memory) InsertUser(ctx context.Context, u *store.User) error {
	defer m.enter(ctx)()

	if _, ok := m.users[u.Address]; ok {
		return store.ErrDuplicateKey
	}

	if u.CreatedAt.IsZero() {
		u.CreatedAt = time.Now()
	}

	m.users[u.Address] = cloneUser(*u)
	m.wrote()

	return nil
}

// FindUser returns the first user matching f.
func (m *Memory) FindUser(ctx context.Context, f store.UserFilter) (*store.User, error) {
	defer m.enter(ctx)()

	for _, u := range m.sortedUsers() {
		if matchUser(u, f) {
			u = cloneUser(u)
			return &u, nil
		}
	}

	return nil, store.ErrDataNotFound
}

// ListUsers returns the users matching f in creation order.
func (m *Memory) ListUsers(ctx context.Context, f store.UserFilter) ([]store.User, error) {
	defer m.enter(ctx)()

	res := []store.User{}

	for _, u := range m.sortedUsers() {
		if matchUser(u, f) {
			res = append(res, cloneUser(u))
		}
	}

	return res, nil
}

// UpdateUser updates the first user matching f.
func (m *Memory) UpdateUser(ctx context.Context, f store.UserFilter, upd store.UserUpdate) error {
	defer m.enter(ctx)()

	for _, u := range m.sortedUsers() {
		if matchUser(u, f) {
			u = cloneUser(u)
			applyUser(&u, upd)
			m.users[u.Address] = u
			m.wrote()

			return nil
		}
	}

	return store.ErrNoMatch
}

// UpdateUsers updates every user matching f.
func (m *Memory) UpdateUsers(ctx context.Context, f store.UserFilter, upd store.UserUpdate) (int64, error) {
	defer m.enter(ctx)()

	var n int64

	for _, u := range m.sortedUsers() {
		if matchUser(u, f) {
			u = cloneUser(u)
			applyUser(&u, upd)
			m.users[u.Address] = u
			n++
		}
	}

	if n > 0 {
		m.wrote()
	}

	return n, nil
}

// DeleteUser removes the first user matching f.
func (m *Memory) DeleteUser(ctx context.Context, f store.UserFilter) error {
	defer m.enter(ctx)()

	for _, u := range m.sortedUsers() {
		if matchUser(u, f) {
			delete(m.users, u.Address)
			m.wrote()

			return nil
		}
	}

	return store.ErrNoMatch
}

// LoadSettings returns the marketplace settings.
func (m *Memory) LoadSettings(ctx context.Context) (*store.Settings, error) {
	defer m.enter(ctx)()

	if m.settings == nil {
		return nil, store.ErrDataNotFound
	}

	s := *m.settings
	s.Currencies = append([]store.Currency(nil), s.Currencies...)
	s.Attributes = append([]store.Attribute(nil), s.Attributes...)

	return &s, nil
}

// SaveSettings replaces the marketplace settings.
func (m *Memory) SaveSettings(ctx context.Context, s *store.Settings) error {
	defer m.enter(ctx)()

	c := *s
	c.Currencies = append([]store.Currency(nil), s.Currencies...)
	c.Attributes = append([]store.Attribute(nil), s.Attributes...)
	c.UpdatedAt = time.Now()
	m.settings = &c
	m.wrote()

	return nil
}

// NextIndex increments the named counter.
func (m *Memory) NextIndex(ctx context.Context, name string) (int64, error) {
	defer m.enter(ctx)()

	m.counters[name]++
	m.wrote()

	return m.counters[name], nil
}

func (m *Memory) sortedUsers() []store.User {
	us := make([]store.User, 0, len(m.users))
	for _, u := range m.users {
		us = append(us, u)
	}

	sort.Slice(us, func(i, j int) bool {
		if us[i].CreatedAt.Equal(us[j].CreatedAt) {
			return us[i].Address < us[j].Address
		}
		return us[i].CreatedAt.Before(us[j].CreatedAt)
	})

	return us
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}

	sort.Strings(keys)

	return keys
}

func inStatus(ss []store.OwnerStatus, s store.OwnerStatus) bool {
	for _, v := range ss {
		if v == s {
			return true
		}
	}
	return false
}

func matchOwner(o store.Owner, q store.OwnerQuery) bool {
	switch {
	case q.Address != "" && o.Address != q.Address:
		return false
	case q.NFTID != "" && o.NFTID != q.NFTID:
		return false
	case q.AdminMinted != nil && o.IsMintedAddressAdmin != *q.AdminMinted:
		return false
	case q.Transferred != nil && o.IsTransfer != *q.Transferred:
		return false
	case len(q.Statuses) > 0 && !inStatus(q.Statuses, o.Status):
		return false
	case inStatus(q.ExcludeStatuses, o.Status):
		return false
	}
	return true
}

func applyOwner(o *store.Owner, u store.OwnerUpdate) {
	if u.Address != nil {
		o.Address = *u.Address
	}
	if u.Status != nil {
		o.Status = *u.Status
	}
	if u.IsTransfer != nil {
		o.IsTransfer = *u.IsTransfer
	}
	if u.MintedAddress != nil {
		o.MintedAddress = *u.MintedAddress
	}
	if u.IsMintedAddressAdmin != nil {
		o.IsMintedAddressAdmin = *u.IsMintedAddressAdmin
	}
	if u.MintedHash != nil {
		o.MintedHash = *u.MintedHash
	}
	if u.MintedDate != nil {
		o.MintedDate = *u.MintedDate
	}
	if u.Amount != nil {
		o.Amount = *u.Amount
	}
}

func matchUser(u store.User, f store.UserFilter) bool {
	switch {
	case !f.IncludeDeleted && u.IsDeleted:
		return false
	case f.Address != "" && u.Address != f.Address:
		return false
	case f.Role != "" && u.Role != f.Role:
		return false
	case len(f.Roles) > 0 && !inRole(f.Roles, u.Role):
		return false
	case f.Status != "" && u.Status != f.Status:
		return false
	case f.Referrer != "" && u.Referrer != f.Referrer:
		return false
	case f.Originator != "" && u.Originator != f.Originator:
		return false
	case len(f.Originators) > 0 && !util.In(f.Originators, u.Originator):
		return false
	case f.DescendantOf != "" && !util.In(u.PathID, f.DescendantOf):
		return false
	}
	return true
}

func matchTransaction(t store.Transaction, q store.TransactionQuery) bool {
	switch {
	case q.Status != "" && t.Status != q.Status:
		return false
	case q.Type != "" && t.Type != q.Type:
		return false
	case q.ToAddresses != nil && !util.In(q.ToAddresses, t.ToAddress):
		return false
	case q.Affiliate != "" && len(t.Affiliate.Of(q.Affiliate)) == 0:
		return false
	}
	return true
}

func inRole(rs []store.UserRole, r store.UserRole) bool {
	for _, v := range rs {
		if v == r {
			return true
		}
	}
	return false
}

func applyUser(u *store.User, upd store.UserUpdate) {
	if upd.Name != nil {
		u.Name = *upd.Name
	}
	if upd.Role != nil {
		u.Role = *upd.Role
	}
	if upd.Status != nil {
		u.Status = *upd.Status
	}
	if upd.UserType != nil {
		u.UserType = *upd.UserType
	}
	if upd.Originator != nil {
		u.Originator = *upd.Originator
	}
	if upd.PersonalVolume != nil {
		u.PersonalVolume = *upd.PersonalVolume
	}
	if upd.EquityShare != nil {
		u.EquityShare = *upd.EquityShare
	}
	if upd.HaveReceivedBlackFromAdmin != nil {
		u.HaveReceivedBlackFromAdmin = *upd.HaveReceivedBlackFromAdmin
	}
	if upd.IsDeleted != nil {
		u.IsDeleted = *upd.IsDeleted
	}
	if upd.Permissions != nil {
		u.Permissions = append([]store.Permission(nil), *upd.Permissions...)
	}
	u.DirectReferee += upd.IncDirectReferee
}

func cloneTransaction(t store.Transaction) store.Transaction {
	t.TokenIDs = append([]string(nil), t.TokenIDs...)
	if t.Affiliate != nil {
		a := store.AffiliateInfo{}
		if c := t.Affiliate.ReferrerDirect; c != nil {
			cc := *c
			a.ReferrerDirect = &cc
		}
		if c := t.Affiliate.BDA; c != nil {
			cc := *c
			a.BDA = &cc
		}
		t.Affiliate = &a
	}
	return t
}

func cloneNFT(n store.NFT) store.NFT {
	n.Token.IDs = append([]string(nil), n.Token.IDs...)
	return n
}

func cloneUser(u store.User) store.User {
	u.PathID = append([]string(nil), u.PathID...)
	u.Permissions = append([]store.Permission(nil), u.Permissions...)
	return u
}
