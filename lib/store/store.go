// Package store defines the interface for database implementations to the market and worker microservices.
//
// Every update that targets an existing row returns ErrNoMatch when no row matched. Callers running inside an atomic
// scope (DB.WithTransaction) must return that error so the whole scope is rolled back.
package store

import (
	"context"
	"errors"
	"time"

	"github.com/shopspring/decimal"
)

// LockStore keeps advisory lock rows.
type LockStore interface {
	// DeleteExpiredLocks deletes the locks of type t whose lockUntil is before now.
	DeleteExpiredLocks(ctx context.Context, t LockType, now time.Time) error
	// InsertLock returns ErrDuplicateKey if a lock with the same document id exists.
	InsertLock(ctx context.Context, l Lock) error
	DeleteLock(ctx context.Context, t LockType, documentID string) error
}

// TransactionStore keeps business transactions.
type TransactionStore interface {
	InsertTransaction(ctx context.Context, t *Transaction) error
	FindTransaction(ctx context.Context, id string) (*Transaction, error)
	// FindTransactionByHash returns the oldest transaction of type typ and hash. A non-empty tokenID must be one of
	// its token ids.
	FindTransactionByHash(ctx context.Context, typ TransactionType, hash, tokenID string) (*Transaction, error)
	// SaveTransaction replaces the stored transaction with the same id. When from is given the stored status must be
	// one of from, ErrNoMatch otherwise.
	SaveTransaction(ctx context.Context, t *Transaction, from ...TransactionStatus) error
	SumTransactions(ctx context.Context, q TransactionQuery) (GroupTotals, error)
	// ListTransactions returns the matching transactions, oldest first.
	ListTransactions(ctx context.Context, q TransactionQuery) ([]Transaction, error)
}

// OwnerStore keeps the token ledger.
type OwnerStore interface {
	// InsertOwners returns ErrDuplicateKey if a token id already has a row.
	InsertOwners(ctx context.Context, owners []Owner) error
	FindOwner(ctx context.Context, tokenID string) (*Owner, error)
	UpdateOwner(ctx context.Context, f OwnerFilter, u OwnerUpdate) error
	CountOwners(ctx context.Context, q OwnerQuery) (int64, error)
	ListOwners(ctx context.Context, q OwnerQuery) ([]Owner, error)
}

// NFTStore keeps the catalogue.
type NFTStore interface {
	InsertNFT(ctx context.Context, n *NFT) error
	FindNFT(ctx context.Context, id string) (*NFT, error)
	FindNFTByTokenID(ctx context.Context, tokenID string) (*NFT, error)
	// UpdateNFT applies u and returns the updated NFT. Counter increments are refused with ErrNoMatch when a counter
	// would become negative or the supply would be exceeded.
	UpdateNFT(ctx context.Context, id string, u NFTUpdate) (*NFT, error)
}

// UserStore keeps accounts and the referral forest. Filters exclude deleted users unless IncludeDeleted is set.
type UserStore interface {
	// InsertUser returns ErrDuplicateKey if the address exists.
	InsertUser(ctx context.Context, u *User) error
	FindUser(ctx context.Context, f UserFilter) (*User, error)
	ListUsers(ctx context.Context, f UserFilter) ([]User, error)
	// UpdateUser updates the first user matching f.
	UpdateUser(ctx context.Context, f UserFilter, u UserUpdate) error
	// UpdateUsers updates all the users matching f in a single statement and returns how many matched.
	UpdateUsers(ctx context.Context, f UserFilter, u UserUpdate) (int64, error)
	DeleteUser(ctx context.Context, f UserFilter) error
}

// SettingStore keeps the marketplace settings and the atomic counters.
type SettingStore interface {
	LoadSettings(ctx context.Context) (*Settings, error)
	SaveSettings(ctx context.Context, s *Settings) error
	// NextIndex increments and returns the named counter.
	NextIndex(ctx context.Context, name string) (int64, error)
}

// DB defines required methods for the market and worker services.
type DB interface {
	LockStore
	TransactionStore
	OwnerStore
	NFTStore
	UserStore
	SettingStore
	// WithTransaction runs fn in a multi-document atomic scope. Operations must use the context passed to fn. If fn
	// returns an error every write made through that context is rolled back.
	WithTransaction(ctx context.Context, fn func(ctx context.Context) error) error
	Close() error
}

// TransactionQuery selects transactions. Empty fields are not filtered; a nil ToAddresses is not filtered either.
// Affiliate matches the transactions where the address earned a commission.
type TransactionQuery struct {
	Status      TransactionStatus
	Type        TransactionType
	ToAddresses []string
	Affiliate   string
}

// OwnerFilter selects the ledger row to update. Empty fields are not filtered.
type OwnerFilter struct {
	TokenID  string
	NFTID    string
	Statuses []OwnerStatus
}

// OwnerUpdate lists the fields to set; nil fields are left untouched.
type OwnerUpdate struct {
	Address              *string
	Status               *OwnerStatus
	IsTransfer           *bool
	MintedAddress        *string
	IsMintedAddressAdmin *bool
	MintedHash           *string
	MintedDate           *time.Time
	Amount               *int64
}

// OwnerQuery selects ledger rows to count or list.
type OwnerQuery struct {
	Address         string
	NFTID           string
	AdminMinted     *bool
	Transferred     *bool
	Statuses        []OwnerStatus
	ExcludeStatuses []OwnerStatus
}

// NFTUpdate lists the fields to set and the counters to increment.
type NFTUpdate struct {
	Status        *NFTStatus
	OrderID       *string
	Price         *decimal.Decimal
	HashPutOnSale *string
	MetadataURL   *string
	Cid           *string
	TotalSupply   *int64
	AddTokenIDs   []string

	IncMinted    int64
	IncAvailable int64
	IncBurnt     int64
	IncForSale   int64
}

// UserFilter selects users. Empty fields are not filtered. DescendantOf matches users whose pathId contains the
// address.
type UserFilter struct {
	Address        string
	Role           UserRole
	Roles          []UserRole
	Status         UserStatus
	Referrer       string
	Originator     string
	Originators    []string
	DescendantOf   string
	IncludeDeleted bool
}

// UserUpdate lists the fields to set; nil fields are left untouched.
type UserUpdate struct {
	Name                       *string
	Role                       *UserRole
	Status                     *UserStatus
	UserType                   *UserType
	Originator                 *string
	PersonalVolume             *decimal.Decimal
	EquityShare                *decimal.Decimal
	HaveReceivedBlackFromAdmin *bool
	IsDeleted                  *bool
	Permissions                *[]Permission
	IncDirectReferee           int64
}

// Errors returned
var (
	ErrDataNotFound = errors.New("data was not found in store")
	ErrDuplicateKey = errors.New("duplicate key")
	ErrNoMatch      = errors.New("update fail: no document matched")
)
