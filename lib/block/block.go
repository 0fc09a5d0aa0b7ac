// Package block defines the interface required for blockchain connections and the polling of transaction receipts.
package block

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/tarancss/nftmarket/lib/block/ethereum"
	"github.com/tarancss/nftmarket/lib/block/types"
	"github.com/tarancss/nftmarket/lib/config"
)

// Default values
const (
	PollIntervalDefault = time.Second
)

// Chain is the read capability the market needs from a blockchain node.
type Chain interface {
	// TransactionReceipt returns types.ErrNoReceipt while the transaction is not mined.
	TransactionReceipt(ctx context.Context, hash string) (*types.Receipt, error)
	Close()
}

// Init connects to the node read from the config.
func Init(c config.ChainConfig) (Chain, error) {
	e, err := ethereum.Init(c.Node)
	if err != nil {
		return nil, err
	}

	return e, nil
}

// Waiter polls receipts with the interval and timeout of the config.
type Waiter struct {
	Chain    Chain
	Interval time.Duration
	Timeout  time.Duration
}

// NewWaiter returns a Waiter on chain.
func NewWaiter(chain Chain, c config.ChainConfig) *Waiter {
	return &Waiter{Chain: chain, Interval: c.PollInterval.Duration, Timeout: c.ReceiptTimeout.Duration}
}

// Wait calls WaitReceipt with the Waiter settings.
func (w *Waiter) Wait(ctx context.Context, hash string, accept func(*types.Receipt) bool) (*types.Receipt, error) {
	return WaitReceipt(ctx, w.Chain, hash, accept, w.Interval, w.Timeout)
}

// WaitReceipt polls the receipt of hash every interval until accept returns true for it. A nil accept takes any
// receipt. A zero timeout waits until ctx is done. When the deadline passes types.ErrReceiptTimeout is returned.
func WaitReceipt(ctx context.Context, chain Chain, hash string, accept func(*types.Receipt) bool,
	interval, timeout time.Duration) (*types.Receipt, error) {
	if interval <= 0 {
		interval = PollIntervalDefault
	}

	var deadline <-chan time.Time

	if timeout > 0 {
		t := time.NewTimer(timeout)
		defer t.Stop()

		deadline = t.C
	}

	tick := time.NewTicker(interval)
	defer tick.Stop()

	for {
		r, err := chain.TransactionReceipt(ctx, hash)

		switch {
		case err == nil && (accept == nil || accept(r)):
			return r, nil
		case err != nil && !errors.Is(err, types.ErrNoReceipt):
			log.Printf("[block] receipt %s err:%e", hash, err)
		}

		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-deadline:
			return nil, fmt.Errorf("%w: %s", types.ErrReceiptTimeout, hash)
		case <-tick.C:
		}
	}
}

// OrderID returns the order id a marketplace contract emits as the first topic of its second log.
func OrderID(r *types.Receipt) (string, error) {
	if r == nil || len(r.Logs) < 2 || len(r.Logs[1].Topics) < 2 {
		return "", types.ErrNoOrderID
	}

	return r.Logs[1].Topics[1], nil
}

// HasOrderID accepts receipts carrying an order id.
func HasOrderID(r *types.Receipt) bool {
	_, err := OrderID(r)

	return err == nil
}
