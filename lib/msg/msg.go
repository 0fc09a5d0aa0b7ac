// Package msg defines the interface for different message brokers.
//
// Blockchain events are published to the "ev" exchange and consumed by the worker service. User notifications are
// published to the "nt" exchange.
package msg

import (
	"log"
	"sync"

	"github.com/tarancss/nftmarket/lib/msg/types"
)

// Notifier publishes user notifications.
type Notifier interface {
	SendNotification(n types.Notification) error
}

// MsgBroker is the interface message brokers implement.
type MsgBroker interface {
	Setup(interface{}) error
	Close() error

	// methods for the listeners publishing chain events
	SendEvent(e types.Event) error

	// methods for the worker service
	GetEvents(mut *sync.Mutex) (<-chan types.Event, <-chan error, error)

	// methods for the market service
	Notifier
}

// LogNotifier writes notifications to the log. It is used when no broker is configured.
type LogNotifier struct{}

// SendNotification logs n.
func (LogNotifier) SendNotification(n types.Notification) error {
	log.Printf("[notification] %s to %s: %s", n.Code, n.Address, n.Message)

	return nil
}
