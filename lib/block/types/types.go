// Package types common blockchain types.
package types

import (
	"errors"
)

// Receipt status constants
const (
	ReceiptFailed  uint8 = 0
	ReceiptSuccess uint8 = 1
)

// Log is an event emitted by a contract during a transaction.
type Log struct {
	Address string   `json:"address"`
	Topics  []string `json:"topics"`
	Data    string   `json:"data"`
}

// Receipt contains the fields of a mined transaction receipt used by the market.
type Receipt struct {
	Hash    string `json:"hash"`
	Block   uint64 `json:"block"`
	Status  uint8  `json:"status"`
	GasUsed uint64 `json:"gasUsed"`
	Logs    []Log  `json:"logs"`
}

// Error codes.
var (
	ErrNoReceipt      = errors.New("transaction receipt not available yet")
	ErrReceiptTimeout = errors.New("timeout waiting for transaction receipt")
	ErrNoOrderID      = errors.New("receipt does not contain an order id")
	ErrTxFailed       = errors.New("transaction failed on chain")
)
