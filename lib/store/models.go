package store

import (
	"time"

	"github.com/shopspring/decimal"
)

// LockType names the operation family a lock serializes.
type LockType string

// Lock types.
const (
	LockBuyNFT               LockType = "buy-nft"
	LockCancelEvent          LockType = "cancel-event"
	LockAdminMintNFT         LockType = "admin-mint-nft"
	LockAdminPutOnSale       LockType = "admin-put-on-sale"
	LockPutOnSale            LockType = "put-on-sale"
	LockTransferNFT          LockType = "transfer-nft"
	LockCreateRedemption     LockType = "create-redemption"
	LockUpdateRedemption     LockType = "update-redemption"
	LockApproveRedemption    LockType = "approve-redemption"
	LockCancelRedemption     LockType = "cancel-redemption"
	LockUpdateEvent          LockType = "update-event"
	LockUpdateRewardEvent    LockType = "update-reward-event"
	LockDeposit              LockType = "deposit"
	LockAdminSetting         LockType = "admin-setting"
	LockClaimed              LockType = "claimed"
	LockCountDownRewardEvent LockType = "count-down-reward-event"
	LockRecover              LockType = "recover"
	LockMintNFT              LockType = "mint-nft"
)

// Lock is an advisory lock row. DocumentID is unique among stored locks.
type Lock struct {
	Type       LockType  `json:"type" bson:"type"`
	DocumentID string    `json:"documentId" bson:"documentId"`
	LockUntil  time.Time `json:"lockUntil" bson:"lockUntil"`
}

// TransactionType is the business action a Transaction records.
type TransactionType string

// Transaction types.
const (
	TxListed            TransactionType = "listed"
	TxDelisted          TransactionType = "delisted"
	TxMinted            TransactionType = "minted"
	TxTransfer          TransactionType = "transfer"
	TxAdminMinted       TransactionType = "admin-minted"
	TxTransferOutside   TransactionType = "transfer-outside"
	TxCreateRedemption  TransactionType = "create-redemption"
	TxCancelRedemption  TransactionType = "cancel-redemption"
	TxApproveRedemption TransactionType = "approve-redemption"
	TxDeposit           TransactionType = "deposit"
	TxAdminSetting      TransactionType = "admin-setting"
	TxAdminDelete       TransactionType = "admin-delete"
	TxClaimed           TransactionType = "claimed"
	TxRecover           TransactionType = "recover"
	TxBuy               TransactionType = "buy"
)

// TransactionStatus values. SUCCESS, CANCEL and FAIL are terminal.
type TransactionStatus string

const (
	TxDraft      TransactionStatus = "DRAFT"
	TxProcessing TransactionStatus = "PROCESSING"
	TxSuccess    TransactionStatus = "SUCCESS"
	TxCancel     TransactionStatus = "CANCEL"
	TxFail       TransactionStatus = "FAIL"
)

// Terminal returns true for statuses no action may leave.
func (s TransactionStatus) Terminal() bool {
	return s == TxSuccess || s == TxCancel || s == TxFail
}

// TokenStandard of the NFT contract.
type TokenStandard string

const (
	ERC721  TokenStandard = "erc-721"
	ERC1155 TokenStandard = "erc-1155"
)

// SimpleNFT is the NFT reference copied into transactions.
type SimpleNFT struct {
	ID       string        `json:"id" bson:"id"`
	Code     string        `json:"code" bson:"code"`
	Name     string        `json:"name" bson:"name"`
	Image    string        `json:"image,omitempty" bson:"image,omitempty"`
	Standard TokenStandard `json:"standard" bson:"standard"`
}

// Transaction records a business action and its outcome.
type Transaction struct {
	ID          string            `json:"id" bson:"_id"`
	NFT         SimpleNFT         `json:"nft" bson:"nft"`
	Type        TransactionType   `json:"type" bson:"type"`
	FromAddress string            `json:"fromAddress" bson:"fromAddress"`
	ToAddress   string            `json:"toAddress" bson:"toAddress"`
	TokenIDs    []string          `json:"tokenIds,omitempty" bson:"tokenIds,omitempty"`
	Quantity    int64             `json:"quantity" bson:"quantity"`
	Status      TransactionStatus `json:"status" bson:"status"`
	Hash        string            `json:"hash,omitempty" bson:"hash,omitempty"`
	Price       decimal.Decimal   `json:"price" bson:"price"`
	Revenue     decimal.Decimal   `json:"revenue" bson:"revenue"`
	OrderID     string            `json:"orderId,omitempty" bson:"orderId,omitempty"`
	Message     string            `json:"message,omitempty" bson:"message,omitempty"`
	Affiliate   *AffiliateInfo    `json:"affiliateInfo,omitempty" bson:"affiliateInfo,omitempty"`
	CreatedAt   time.Time         `json:"createdAt" bson:"createdAt"`
	UpdatedAt   time.Time         `json:"updatedAt" bson:"updatedAt"`
}

// Commission earned by an affiliate on a sale. Percentage is a ratio of the revenue.
type Commission struct {
	Address       string          `json:"address" bson:"address"`
	Percentage    decimal.Decimal `json:"percentage" bson:"percentage"`
	CommissionFee decimal.Decimal `json:"commissionFee" bson:"commissionFee"`
}

// AffiliateInfo is stamped on successful MINTED transactions: the direct referrer of the buyer and the nearest BDA
// above it.
type AffiliateInfo struct {
	ReferrerDirect *Commission `json:"referrerDirect,omitempty" bson:"referrerDirect,omitempty"`
	BDA            *Commission `json:"bda,omitempty" bson:"bda,omitempty"`
}

// Of returns the commissions of address, nil if it earned none.
func (a *AffiliateInfo) Of(address string) []*Commission {
	if a == nil {
		return nil
	}

	var cs []*Commission

	for _, c := range []*Commission{a.ReferrerDirect, a.BDA} {
		if c != nil && c.Address == address {
			cs = append(cs, c)
		}
	}

	return cs
}

// OwnerStatus is the lifecycle status of a token.
type OwnerStatus string

const (
	OwnerLocked   OwnerStatus = "LOCKED"
	OwnerUnlocked OwnerStatus = "UNLOCKED"
	OwnerBurned   OwnerStatus = "BURNED"
	OwnerRedeemed OwnerStatus = "REDEEMED"
	OwnerInvalid  OwnerStatus = "INVALID"
	OwnerUnmint   OwnerStatus = "UNMINT"
	OwnerMinted   OwnerStatus = "MINTED"
)

// Owner is the ledger row of a token.
type Owner struct {
	TokenID              string          `json:"tokenId" bson:"tokenId"`
	NFTID                string          `json:"nftId" bson:"nftId"`
	Address              string          `json:"address" bson:"address"`
	MintedAddress        string          `json:"mintedAddress,omitempty" bson:"mintedAddress,omitempty"`
	IsMintedAddressAdmin bool            `json:"isMintedAddressAdmin" bson:"isMintedAddressAdmin"`
	MintedHash           string          `json:"mintedHash,omitempty" bson:"mintedHash,omitempty"`
	MintedDate           time.Time       `json:"mintedDate,omitempty" bson:"mintedDate,omitempty"`
	Amount               int64           `json:"amount" bson:"amount"`
	Status               OwnerStatus     `json:"status" bson:"status"`
	IsTransfer           bool            `json:"isTransfer" bson:"isTransfer"`
	LockingBalance       decimal.Decimal `json:"lockingBalance" bson:"lockingBalance"`
	LastLockDate         time.Time       `json:"lastLockDate,omitempty" bson:"lastLockDate,omitempty"`
}

// NFTStatus of a catalogue item.
type NFTStatus string

const (
	NFTOffSale  NFTStatus = "OFF-SALE"
	NFTOnSale   NFTStatus = "ON-SALE"
	NFTSoldOut  NFTStatus = "SOLD-OUT"
	NFTMinted   NFTStatus = "MINTED"
	NFTUnminted NFTStatus = "UNMINT"
)

// Token holds the supply counters of an NFT. TotalAvailable+TotalMinted+TotalBurnt never exceeds TotalSupply.
type Token struct {
	Standard       TokenStandard `json:"standard" bson:"standard"`
	IDs            []string      `json:"ids" bson:"ids"`
	Cid            string        `json:"cid,omitempty" bson:"cid,omitempty"`
	TotalSupply    int64         `json:"totalSupply" bson:"totalSupply"`
	TotalMinted    int64         `json:"totalMinted" bson:"totalMinted"`
	TotalAvailable int64         `json:"totalAvailable" bson:"totalAvailable"`
	TotalBurnt     int64         `json:"totalBurnt" bson:"totalBurnt"`
}

// NFT is a catalogue item.
type NFT struct {
	ID              string          `json:"id" bson:"_id"`
	Code            string          `json:"code" bson:"code"`
	Name            string          `json:"name" bson:"name"`
	Description     string          `json:"description,omitempty" bson:"description,omitempty"`
	Image           string          `json:"image,omitempty" bson:"image,omitempty"`
	MetadataURL     string          `json:"metadataUrl,omitempty" bson:"metadataUrl,omitempty"`
	Token           Token           `json:"token" bson:"token"`
	Price           decimal.Decimal `json:"price" bson:"price"`
	Currency        string          `json:"currency,omitempty" bson:"currency,omitempty"`
	QuantityForSale int64           `json:"quantityForSale" bson:"quantityForSale"`
	Status          NFTStatus       `json:"status" bson:"status"`
	OrderID         string          `json:"orderId,omitempty" bson:"orderId,omitempty"`
	HashPutOnSale   string          `json:"hashPutOnSale,omitempty" bson:"hashPutOnSale,omitempty"`
	IsDeleted       bool            `json:"isDeleted" bson:"isDeleted"`
	CreatedAt       time.Time       `json:"createdAt" bson:"createdAt"`
	UpdatedAt       time.Time       `json:"updatedAt" bson:"updatedAt"`
}

// Simple returns the reference of the NFT stored in transactions.
func (n *NFT) Simple() SimpleNFT {
	return SimpleNFT{ID: n.ID, Code: n.Code, Name: n.Name, Image: n.Image, Standard: n.Token.Standard}
}

// UserRole of an account.
type UserRole string

const (
	RoleSuperAdmin UserRole = "super-admin"
	RoleSystem     UserRole = "system"
	RoleAdmin      UserRole = "admin"
	RoleUser       UserRole = "user"
	RoleWorker     UserRole = "worker"
)

// Permission granted to an admin.
type Permission string

const (
	PermUserManagement       Permission = "USER_MANAGEMENT"
	PermEventManagement      Permission = "EVENT_MANAGEMENT"
	PermRedemptionManagement Permission = "REDEMPTION_MANAGEMENT"
	PermNFTManagement        Permission = "NFT_MANAGEMENT"
	PermLockingManagement    Permission = "LOCKING_MANAGEMENT"
	PermRevenueManagement    Permission = "REVENUE_MANAGEMENT"
	PermRoleManagement       Permission = "ROLE_MANAGEMENT"
)

// Grantable returns true for the permissions the super admin may give to admins. Role management is kept by the
// super admin.
func (p Permission) Grantable() bool {
	switch p {
	case PermUserManagement, PermEventManagement, PermRedemptionManagement, PermNFTManagement,
		PermLockingManagement, PermRevenueManagement:
		return true
	}

	return false
}

// UserStatus of an account.
type UserStatus string

const (
	UserActive     UserStatus = "active"
	UserBanned     UserStatus = "banned"
	UserDeactive   UserStatus = "deactive"
	UserProcessing UserStatus = "processing"
	UserDraft      UserStatus = "draft"
)

// UserType tells common users from Business Diamond Agents.
type UserType int

const (
	UserCommon UserType = 1
	UserBDA    UserType = 2
)

// User is an account and its node in the referral forest. PathID lists the ancestors from the root down to the
// referrer.
type User struct {
	Address                    string          `json:"address" bson:"address"`
	Name                       string          `json:"name,omitempty" bson:"name,omitempty"`
	Role                       UserRole        `json:"role" bson:"role"`
	Status                     UserStatus      `json:"status" bson:"status"`
	UserType                   UserType        `json:"userType" bson:"userType"`
	Referrer                   string          `json:"referrer,omitempty" bson:"referrer,omitempty"`
	Originator                 string          `json:"originator,omitempty" bson:"originator,omitempty"`
	PathID                     []string        `json:"pathId" bson:"pathId"`
	DirectReferee              int64           `json:"directReferee" bson:"directReferee"`
	EquityShare                decimal.Decimal `json:"equityShares" bson:"equityShares"`
	PersonalVolume             decimal.Decimal `json:"personalVolume" bson:"personalVolume"`
	HaveReceivedBlackFromAdmin bool            `json:"haveReceivedBlackFromAdmin" bson:"haveReceivedBlackFromAdmin"`
	Permissions                []Permission    `json:"permissions,omitempty" bson:"permissions,omitempty"`
	IsDeleted                  bool            `json:"isDeleted" bson:"isDeleted"`
	CreatedAt                  time.Time       `json:"createdAt" bson:"createdAt"`
}

// Can returns true if the user is the super admin or an active admin granted p.
func (u *User) Can(p Permission) bool {
	switch {
	case u.Role == RoleSuperAdmin:
		return true
	case u.Role != RoleAdmin || u.Status != UserActive || u.IsDeleted:
		return false
	}

	for _, g := range u.Permissions {
		if g == p {
			return true
		}
	}

	return false
}

// Currency accepted by the marketplace.
type Currency struct {
	Name     string          `json:"name" bson:"name"`
	Symbol   string          `json:"symbol" bson:"symbol"`
	Address  string          `json:"address" bson:"address"`
	Decimals int             `json:"decimals" bson:"decimals"`
	USD      decimal.Decimal `json:"usd" bson:"usd"`
	IsNative bool            `json:"isNative" bson:"isNative"`
}

// Attribute that can be set on NFTs.
type Attribute struct {
	Key    string   `json:"key" bson:"key"`
	Name   string   `json:"name" bson:"name"`
	Values []string `json:"values" bson:"values"`
	Hidden bool     `json:"hidden" bson:"hidden"`
}

// Settings is the marketplace configuration managed by admins.
type Settings struct {
	Currencies []Currency  `json:"currencies" bson:"currencies"`
	Attributes []Attribute `json:"attributes" bson:"attributes"`
	UpdatedAt  time.Time   `json:"updatedAt" bson:"updatedAt"`
}

// GroupTotals aggregates transactions of a set of addresses.
type GroupTotals struct {
	TotalTokenSold int64           `json:"totalTokenSold" bson:"totalTokenSold"`
	TotalVolume    decimal.Decimal `json:"totalVolume" bson:"totalVolume"`
}
