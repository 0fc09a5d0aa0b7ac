// Defines some constant values and types for message brokers.
package types

import (
	"encoding/json"
)

// Event types emitted by the marketplace contracts.
const (
	BlackDiamondMinted = "BlackDiamondMinted"
	Transfer           = "Transfer"
	PermissionUpdated  = "PermissionUpdated"
	Deposited          = "Deposited"
	RedemptionApproved = "RedemptionApproved"
)

// Exchanges and queues
const (
	EventExchange        = "ev"
	NotificationExchange = "nt"
	WorkerQueue          = "ev-worker"
)

// Event is a blockchain event as delivered to the worker. Data is interpreted per EventType.
type Event struct {
	TimeStamp       int64           `json:"timeStamp"`
	Hash            string          `json:"hash"`
	From            string          `json:"from"`
	To              string          `json:"to"`
	ContractAddress string          `json:"contractAddress"`
	EventType       string          `json:"eventType"`
	Data            json.RawMessage `json:"data,omitempty"`
}

// Notification codes
const (
	// LostBDAReceived is sent to a user that received a black NFT from an admin and lost the BDA status.
	LostBDAReceived = "N5"
	// LostBDA is sent to a user that lost the BDA status without having received a black NFT.
	LostBDA = "N6"
)

// Notification is a message published to a user.
type Notification struct {
	Address   string `json:"address"`
	Code      string `json:"code"`
	Message   string `json:"message,omitempty"`
	TimeStamp int64  `json:"timeStamp"`
}
