// Implements interface for ethereum networks
package ethereum

import (
	"context"
	"errors"
	"fmt"

	"github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/common"
	gtypes "github.com/ethereum/go-ethereum/core/types"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/tarancss/nftmarket/lib/block/types"
)

// Ethereum implements a connection to an ethereum-type chain.
type Ethereum struct {
	c *ethclient.Client
}

// Init returns a connection to an ethereum node.
func Init(node string) (*Ethereum, error) {
	c, err := ethclient.Dial(node)
	if err != nil {
		return nil, fmt.Errorf("cannot connect to ethereum blockchain in %s: %w", node, err)
	}

	return &Ethereum{c: c}, nil
}

// Close ends a connection
func (e *Ethereum) Close() {
	e.c.Close()
}

// TransactionReceipt returns the receipt of the transaction hash, or types.ErrNoReceipt if it is not mined yet.
func (e *Ethereum) TransactionReceipt(ctx context.Context, hash string) (*types.Receipt, error) {
	r, err := e.c.TransactionReceipt(ctx, common.HexToHash(hash))
	if errors.Is(err, ethereum.NotFound) {
		return nil, types.ErrNoReceipt
	}

	if err != nil {
		return nil, err
	}

	return DecodeReceipt(r), nil
}

// DecodeReceipt returns the simplified receipt.
func DecodeReceipt(r *gtypes.Receipt) *types.Receipt {
	rec := &types.Receipt{
		Hash:    r.TxHash.Hex(),
		Status:  uint8(r.Status),
		GasUsed: r.GasUsed,
		Logs:    make([]types.Log, 0, len(r.Logs)),
	}
	if r.BlockNumber != nil {
		rec.Block = r.BlockNumber.Uint64()
	}

	for _, l := range r.Logs {
		tl := types.Log{Address: l.Address.Hex(), Data: common.Bytes2Hex(l.Data), Topics: make([]string, len(l.Topics))}
		for i, t := range l.Topics {
			tl.Topics[i] = t.Hex()
		}

		rec.Logs = append(rec.Logs, tl)
	}

	return rec
}
