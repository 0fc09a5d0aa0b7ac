// Package market implements the market microservice.
//
// The service exposes a RESTful API for users and admins of the NFT marketplace and applies the blockchain events
// delivered by the worker service. Every state changing action runs under an advisory lock, reloads its
// transaction, and applies its effects in a single atomic scope of the database, so that a duplicated request or a
// replayed event is answered as already completed without touching the store.
package market

import (
	"context"
	"log"
	"net/http"

	"github.com/tarancss/nftmarket/ledger"
	"github.com/tarancss/nftmarket/lib/auth"
	"github.com/tarancss/nftmarket/lib/block/types"
	"github.com/tarancss/nftmarket/lib/cache"
	"github.com/tarancss/nftmarket/lib/config"
	"github.com/tarancss/nftmarket/lib/ipfs"
	"github.com/tarancss/nftmarket/lib/lock"
	"github.com/tarancss/nftmarket/lib/metrics"
	"github.com/tarancss/nftmarket/lib/msg"
	"github.com/tarancss/nftmarket/lib/store"
	"github.com/tarancss/nftmarket/lib/util"
	"github.com/tarancss/nftmarket/referral"
)

// ReceiptWaiter polls the chain for the receipt of a transaction. It is implemented by block.Waiter.
type ReceiptWaiter interface {
	Wait(ctx context.Context, hash string, accept func(*types.Receipt) bool) (*types.Receipt, error)
}

// Deps lists the collaborators of the service.
type Deps struct {
	DB              store.DB
	Locks           store.LockStore // nil keeps the locks in DB
	Lock            config.LockConfig
	Cache           *cache.Cache
	Chain           ReceiptWaiter
	Ipfs            ipfs.Uploader // nil skips metadata upload
	Notifier        msg.Notifier
	Auth            *auth.Auth
	Commission      config.CommissionConfig
	LockingContract string
}

// Market contains the data necessary to deliver the service
type Market struct {
	db      store.DB
	locks   *lock.Manager
	ledger  *ledger.Ledger
	forest  *referral.Forest
	cache   *cache.Cache
	chain   ReceiptWaiter
	ipfs    ipfs.Uploader
	auth    *auth.Auth
	rates   config.CommissionConfig
	locking string
	m       *metrics.Metrics
	s       *http.Server  // http server
	ss      *http.Server  // https server
	sc      chan struct{} // http server channel used for graceful shutdowns
}

// New returns a pointer to a new Market service
func New(d Deps) *Market {
	ls := d.Locks
	if ls == nil {
		ls = d.DB
	}

	l := ledger.New(d.DB)

	return &Market{
		db:      d.DB,
		locks:   lock.New(ls, d.Lock),
		ledger:  l,
		forest:  referral.New(d.DB, l, d.Notifier),
		cache:   d.Cache,
		chain:   d.Chain,
		ipfs:    d.Ipfs,
		auth:    d.Auth,
		rates:   d.Commission,
		locking: util.FormatAddress(d.LockingContract),
		m:       metrics.Get(),
		sc:      make(chan struct{}),
	}
}

// Forest returns the referral forest of the service.
func (m *Market) Forest() *referral.Forest {
	return m.forest
}

// Stop shuts down the http servers implementing the RESTful API. The collaborators passed to New are closed by
// their owner.
func (m *Market) Stop() {
	var err error
	// shutdown http server
	if m.s != nil {
		if err = m.s.Shutdown(context.Background()); err != nil {
			log.Printf("Error in http server shutdown:%e", err)
		}
	}

	if m.ss != nil {
		if err = m.ss.Shutdown(context.Background()); err != nil {
			log.Printf("Error in https server shutdown:%e", err)
		}
	}

	close(m.sc) // close server channels to indicate shutdowns have finished
}
