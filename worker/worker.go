// Package worker implements the blockchain event reconciler. Events emitted by the marketplace contracts are
// consumed from the message broker (or posted to the market API) and applied to the market through its idempotent
// transaction actions, so that a duplicated or replayed event is answered as already completed.
package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"sync"

	"github.com/gorilla/mux"

	"github.com/tarancss/nftmarket/lib/auth"
	"github.com/tarancss/nftmarket/lib/fault"
	"github.com/tarancss/nftmarket/lib/metrics"
	"github.com/tarancss/nftmarket/lib/msg"
	"github.com/tarancss/nftmarket/lib/msg/types"
	"github.com/tarancss/nftmarket/lib/store"
	"github.com/tarancss/nftmarket/lib/util"
	"github.com/tarancss/nftmarket/market"
)

// ErrUnknownEvent is returned for events the worker does not handle.
var ErrUnknownEvent = errors.New("unknown event type")

// Worker applies blockchain events to the market.
type Worker struct {
	m    *market.Market
	mb   msg.MsgBroker
	mt   *metrics.Metrics
	done chan struct{}
	wg   sync.WaitGroup
}

// New instantiates a new worker. mb may be nil when events are only posted to the API.
func New(m *market.Market, mb msg.MsgBroker) *Worker {
	return &Worker{
		m:    m,
		mb:   mb,
		mt:   metrics.Get(),
		done: make(chan struct{}),
	}
}

// txData is the payload of the events correlated to a transaction of the market.
type txData struct {
	TransactionID string   `json:"transactionId"`
	TokenIDs      []string `json:"tokenIds,omitempty"`
}

// transferData is the payload of a Transfer event.
type transferData struct {
	From    string `json:"from"`
	To      string `json:"to"`
	TokenID string `json:"tokenId"`
}

// ReceivedData applies the event e to the market. Unknown event types are logged and dropped returning a nil
// Result and ErrUnknownEvent. A nil Result with a nil error means the event did not concern the market.
func (w *Worker) ReceivedData(ctx context.Context, e types.Event) (res *market.Result, err error) {
	defer func() {
		if errors.Is(err, ErrUnknownEvent) {
			w.mt.WorkerEvent(e.EventType, "ignored")
			return
		}
		w.mt.WorkerEventResult(e.EventType, err)
	}()

	switch e.EventType {
	case types.BlackDiamondMinted, types.PermissionUpdated, types.Deposited, types.RedemptionApproved:
		var d txData
		if err = decode(e, &d); err != nil {
			return nil, err
		}

		id := util.IDFromBytes(d.TransactionID)

		switch e.EventType {
		case types.BlackDiamondMinted:
			return w.m.AdminMintNFT(ctx, id, e.Hash, d.TokenIDs)
		case types.PermissionUpdated:
			return w.m.UpdateAdminAction(ctx, id, e.Hash)
		case types.Deposited:
			return w.m.Deposit(ctx, id, e.Hash)
		default:
			return w.m.ApproveRedemption(ctx, id, e.Hash)
		}
	case types.Transfer:
		var d transferData
		if err = decode(e, &d); err != nil {
			return nil, err
		}

		return w.m.TransferNFT721(ctx, market.Transfer{Hash: e.Hash, TokenID: d.TokenID, From: d.From, To: d.To})
	default:
		log.Printf("[worker] event %s of %s not handled", e.EventType, e.Hash)

		return nil, fmt.Errorf("%w: %s", ErrUnknownEvent, e.EventType)
	}
}

func decode(e types.Event, v interface{}) error {
	if len(e.Data) == 0 {
		return fault.InvalidData("missing data of event " + e.EventType)
	}

	if err := json.Unmarshal(e.Data, v); err != nil {
		return fault.InvalidData("invalid data of event " + e.EventType)
	}

	return nil
}

// ManageEvents starts a go routine to consume the events of the message broker. A message is only acknowledged once
// it has been applied, so that a worker stopped halfway gets it redelivered.
func (w *Worker) ManageEvents() error {
	if w.mb == nil {
		return errors.New("worker: no message broker")
	}

	var mut *sync.Mutex = new(sync.Mutex)

	mut.Lock()

	eveCh, errCh, err := w.mb.GetEvents(mut)
	if err != nil {
		return fmt.Errorf("worker: cannot get events: %w", err)
	}

	w.wg.Add(1)

	// launch event channel reader
	go func() {
		defer w.wg.Done()

		log.Printf("[worker] Start listening to event channel")

		for {
			select {
			case <-w.done:
				log.Printf("[worker] Stop listening to event channel")
				return
			case eve, ok := <-eveCh:
				if !ok {
					log.Printf("[worker] Event channel closed")
					return
				}

				res, err := w.ReceivedData(context.Background(), eve)
				switch {
				case err != nil:
					log.Printf("[worker] %s %s err:%e", eve.EventType, eve.Hash, err)
				case res != nil && res.IsAlreadyCompleted:
					log.Printf("[worker] %s %s already applied", eve.EventType, eve.Hash)
				default:
					log.Printf("[worker] %s %s applied", eve.EventType, eve.Hash)
				}

				mut.Unlock()
			case e, ok := <-errCh:
				if !ok {
					errCh = nil
					continue
				}

				log.Printf("[worker] Received error %+v", e)
			}
		}
	}()

	return nil
}

// Stop ends the event consumer after the event being applied, if any.
func (w *Worker) Stop() {
	close(w.done)
	w.wg.Wait()
}

// Routes registers the event ingress of the worker on the market API. Only worker tokens are accepted.
func (w *Worker) Routes(r *mux.Router, protect func(http.HandlerFunc) http.Handler) {
	r.Handle("/worker", protect(w.eventHandler)).Methods("POST")
}

func (w *Worker) eventHandler(rw http.ResponseWriter, r *http.Request) {
	var res *market.Result
	var err error

	defer func() { market.Reply(rw, r, res, err) }()

	if c, ok := auth.FromContext(r.Context()); !ok || c.Role != store.RoleWorker {
		err = fault.Permission("worker token required")
		return
	}

	var e types.Event
	if err = market.Decode(r, &e); err != nil {
		return
	}

	if res, err = w.ReceivedData(r.Context(), e); errors.Is(err, ErrUnknownEvent) {
		err = nil
	}
}
