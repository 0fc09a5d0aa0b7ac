// Package amqp implements the message broker interface for AMQP compliant brokers (ie RabbitMQ)
package amqp

import (
	"encoding/json"
	"log"
	"sync"

	"github.com/streadway/amqp"

	mtype "github.com/tarancss/nftmarket/lib/msg/types"
)

// Amqp implements a connection to a broker and a channel for reuse.
type Amqp struct {
	conn *amqp.Connection
	ch   *amqp.Channel
	mu   sync.Mutex // guards ch when publishing
}

// New instantiates a new amqp broker.
func New(uri string) (*Amqp, error) {
	conn, err := amqp.Dial(uri)
	if err != nil {
		return nil, err
	}

	log.Printf("Connected to %s", uri)

	return &Amqp{conn: conn}, nil
}

// Setup obtains an amqp channel and declares the message broker exchanges:
//
// - ev ("events"): chain listeners publish contract events to this exchange
//
// - nt ("notifications"): the market service publishes user notifications to this exchange
func (r *Amqp) Setup(x interface{}) error {
	// obtain a one-use channel
	channel, err := r.conn.Channel()
	if err != nil {
		return err
	}
	defer channel.Close()
	// declare exchanges
	if err = channel.ExchangeDeclare(mtype.EventExchange, "topic", true, false, false, false, nil); err != nil {
		return err
	}
	err = channel.ExchangeDeclare(mtype.NotificationExchange, "topic", true, false, false, false, nil)
	return err
}

// Close terminages gracefully the connection to the AMQP message broker
func (r *Amqp) Close() error {
	r.mu.Lock()
	if r.ch != nil {
		if err := r.ch.Close(); err != nil {
			log.Printf("Error closing amqp.Channel:%e", err)
		}
		r.ch = nil
		log.Printf("amqp.Channel closed!")
	}
	r.mu.Unlock()
	return r.conn.Close()
}

// publish sends a JSON document to the exchange, obtaining the channel if not present.
func (r *Amqp) publish(exchange, key, header string, v interface{}) error {
	jsonDoc, err := json.Marshal(v)
	if err != nil {
		return err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.ch == nil {
		if r.ch, err = r.conn.Channel(); err != nil {
			return err
		}
	}
	// build body
	msg := amqp.Publishing{
		Headers:     amqp.Table{"x-" + exchange + "-name": header},
		Body:        jsonDoc,
		ContentType: "application/json",
	}

	return r.ch.Publish(exchange, key, false, false, msg)
}

// SendEvent publishes a contract event to the "ev" exchange with routing key <contract>.<eventType>.<hash>.
func (r *Amqp) SendEvent(e mtype.Event) error {
	err := r.publish(mtype.EventExchange, e.ContractAddress+"."+e.EventType+"."+e.Hash, e.Hash, e)
	if err != nil {
		log.Printf("[%s] Error sending event %s to message broker %e", e.EventType, e.Hash, err)
	}
	return err
}

// SendNotification publishes a user notification to the "nt" exchange with routing key <address>.<code>.
func (r *Amqp) SendNotification(n mtype.Notification) error {
	err := r.publish(mtype.NotificationExchange, n.Address+"."+n.Code, n.Address, n)
	if err != nil {
		log.Printf("[%s] Error sending notification to message broker %e", n.Code, err)
	}
	return err
}

// GetEvents consumes events from the "ev" exchange pushing them to the returned channel. The Mutex pointer is
// provided to ensure the consumed message has been fully dealt with by the management function, so the message
// consumed is only acknowledged when the mutex is unlocked.
func (r *Amqp) GetEvents(mut *sync.Mutex) (<-chan mtype.Event, <-chan error, error) {
	// the consumer gets its own channel so that publishing does not share it
	ch, err := r.conn.Channel()
	if err != nil {
		return nil, nil, err
	}
	// declare queue
	if _, err = ch.QueueDeclare(mtype.WorkerQueue, true, false, false, false, nil); err != nil {
		return nil, nil, err
	}
	// bind queue to exchange
	if err = ch.QueueBind(mtype.WorkerQueue, "*.*.*", mtype.EventExchange, false, nil); err != nil {
		return nil, nil, err
	}
	// create channel for receiving events
	msgs, errCons := ch.Consume(mtype.WorkerQueue, "worker", false, false, false, false, nil)
	if errCons != nil {
		return nil, nil, errCons
	}
	// define channels to return
	eves := make(chan mtype.Event)
	errs := make(chan error)
	// start routine to consume messages from broker
	go func() {
		defer close(eves)
		for m := range msgs {
			var e mtype.Event
			if err := json.Unmarshal(m.Body, &e); err != nil {
				errs <- err
				// a malformed message would be redelivered forever
				_ = m.Nack(false, false)
				continue
			}
			eves <- e
			mut.Lock() // wait for the worker to finish processing the event
			_ = m.Ack(false)
		}
	}()
	return eves, errs, nil
}
