package worker

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/tarancss/nftmarket/lib/auth"
	"github.com/tarancss/nftmarket/lib/cache"
	"github.com/tarancss/nftmarket/lib/cache/local"
	"github.com/tarancss/nftmarket/lib/config"
	"github.com/tarancss/nftmarket/lib/fault"
	"github.com/tarancss/nftmarket/lib/msg"
	"github.com/tarancss/nftmarket/lib/msg/types"
	"github.com/tarancss/nftmarket/lib/store"
	"github.com/tarancss/nftmarket/lib/store/memory"
	"github.com/tarancss/nftmarket/market"
)

func addr(i int) string {
	return fmt.Sprintf("0x%040x", i)
}

func hash(i int) string {
	return fmt.Sprintf("0x%064x", i)
}

// broker delivers its events one at a time, waiting for the worker to release the mutex before acking the next.
type broker struct {
	eves  []types.Event
	mu    sync.Mutex
	acked int
	done  chan struct{}
}

func (b *broker) Setup(interface{}) error       { return nil }
func (b *broker) Close() error                  { return nil }
func (b *broker) SendEvent(e types.Event) error { return nil }

func (b *broker) SendNotification(types.Notification) error { return nil }

func (b *broker) GetEvents(mut *sync.Mutex) (<-chan types.Event, <-chan error, error) {
	eves := make(chan types.Event)
	errs := make(chan error)

	go func() {
		errs <- errors.New("malformed message")
		for _, e := range b.eves {
			eves <- e
			mut.Lock()
			b.mu.Lock()
			b.acked++
			b.mu.Unlock()
		}
		close(b.done)
	}()

	return eves, errs, nil
}

var _ msg.MsgBroker = (*broker)(nil)

type fixture struct {
	w *Worker
	m *market.Market
	s *memory.Memory
	a *auth.Auth
}

func newFixture(t *testing.T, mb msg.MsgBroker) *fixture {
	s := memory.New()

	a, err := auth.New("secret")
	require.NoError(t, err)

	m := market.New(market.Deps{
		DB:              s,
		Lock:            config.LockConfig{Backoff: config.Duration{Duration: 5 * time.Millisecond}},
		Cache:           cache.NewWithBackend(local.New(), time.Minute),
		Notifier:        msg.LogNotifier{},
		Auth:            a,
		LockingContract: addr(3),
	})

	require.NoError(t, s.InsertUser(context.Background(), &store.User{Address: addr(1), Role: store.RoleSystem,
		Status: store.UserActive, UserType: store.UserCommon}))

	return &fixture{w: New(m, mb), m: m, s: s, a: a}
}

// mintTx inserts an NFT and the PROCESSING admin mint transaction of its tokens to receiver.
func (f *fixture) mintTx(t *testing.T, receiver string) *store.Transaction {
	ctx := context.Background()

	n := &store.NFT{Code: "NFT1", Name: "black", Token: store.Token{Standard: store.ERC721, TotalSupply: 5,
		TotalAvailable: 5}, Status: store.NFTOffSale}
	require.NoError(t, f.s.InsertNFT(ctx, n))

	tx := &store.Transaction{NFT: n.Simple(), Type: store.TxAdminMinted, ToAddress: receiver,
		Status: store.TxProcessing}
	require.NoError(t, f.s.InsertTransaction(ctx, tx))

	return tx
}

func event(t *testing.T, typ, h string, data interface{}) types.Event {
	b, err := json.Marshal(data)
	require.NoError(t, err)

	return types.Event{TimeStamp: time.Now().Unix(), Hash: h, EventType: typ, Data: b}
}

func TestReceivedData(t *testing.T) {
	ctx := context.Background()
	b, c := addr(11), addr(12)
	f := newFixture(t, nil)

	tx := f.mintTx(t, b)
	mint := event(t, types.BlackDiamondMinted, hash(1), txData{TransactionID: "0x" + tx.ID, TokenIDs: []string{"t1"}})

	res, err := f.w.ReceivedData(ctx, mint)
	require.NoError(t, err)
	require.False(t, res.IsAlreadyCompleted)
	require.Equal(t, store.TxSuccess, res.Transaction.Status)

	// replayed event
	res, err = f.w.ReceivedData(ctx, mint)
	require.NoError(t, err)
	require.True(t, res.IsAlreadyCompleted)

	o, err := f.s.FindOwner(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, b, o.Address)

	// transfer out of the marketplace, twice
	transfer := event(t, types.Transfer, hash(2), transferData{From: b, To: c, TokenID: "t1"})

	res, err = f.w.ReceivedData(ctx, transfer)
	require.NoError(t, err)
	require.False(t, res.IsAlreadyCompleted)

	res, err = f.w.ReceivedData(ctx, transfer)
	require.NoError(t, err)
	require.True(t, res.IsAlreadyCompleted)

	o, err = f.s.FindOwner(ctx, "t1")
	require.NoError(t, err)
	require.Equal(t, c, o.Address)

	// locking contract transfers do not concern the market
	res, err = f.w.ReceivedData(ctx, event(t, types.Transfer, hash(3), transferData{From: c, To: addr(3), TokenID: "t1"}))
	require.NoError(t, err)
	require.Nil(t, res)

	// deposit
	dep := &store.Transaction{Type: store.TxDeposit, ToAddress: c, Quantity: 1, Status: store.TxProcessing}
	require.NoError(t, f.s.InsertTransaction(ctx, dep))

	res, err = f.w.ReceivedData(ctx, event(t, types.Deposited, hash(4), txData{TransactionID: "0x" + dep.ID}))
	require.NoError(t, err)
	require.Equal(t, hash(4), res.Transaction.Hash)

	// errors
	cases := []struct {
		name string
		e    types.Event
		code string
	}{
		{"nodata_0", types.Event{EventType: types.Deposited, Hash: hash(5)}, fault.CodeInvalidData},
		{"baddata_0", types.Event{EventType: types.Transfer, Hash: hash(5), Data: []byte(`"x"`)}, fault.CodeInvalidData},
		{"badid_0", event(t, types.PermissionUpdated, hash(5), txData{TransactionID: "0x12"}), fault.CodeInvalidData},
		{"missing_0", event(t, types.RedemptionApproved, hash(5), txData{TransactionID: "0x5f0c1a2b3c4d5e6f70819203"}),
			fault.CodeNoDataExists},
	}
	for _, c := range cases {
		_, err := f.w.ReceivedData(ctx, c.e)
		if !fault.Is(err, c.code) {
			t.Errorf("[%s] expected %s got %v", c.name, c.code, err)
		}
	}

	res, err = f.w.ReceivedData(ctx, types.Event{EventType: "Approval", Hash: hash(6)})
	require.ErrorIs(t, err, ErrUnknownEvent)
	require.Nil(t, res)
}

func TestManageEvents(t *testing.T) {
	ctx := context.Background()
	b := addr(11)

	mb := &broker{done: make(chan struct{})}
	f := newFixture(t, mb)
	tx := f.mintTx(t, b)

	mint := event(t, types.BlackDiamondMinted, hash(1), txData{TransactionID: "0x" + tx.ID, TokenIDs: []string{"t1"}})
	mb.eves = []types.Event{mint, {EventType: "Approval"}, mint}

	require.NoError(t, f.w.ManageEvents())

	select {
	case <-mb.done:
	case <-time.After(5 * time.Second):
		t.Fatalf("events not acknowledged")
	}
	f.w.Stop()

	mb.mu.Lock()
	require.Equal(t, 3, mb.acked)
	mb.mu.Unlock()

	got, err := f.s.FindTransaction(ctx, tx.ID)
	require.NoError(t, err)
	require.Equal(t, store.TxSuccess, got.Status)

	n, err := f.s.FindNFT(ctx, tx.NFT.ID)
	require.NoError(t, err)
	require.Equal(t, int64(1), n.Token.TotalMinted)

	require.Error(t, New(f.m, nil).ManageEvents())
}

func TestEventHandler(t *testing.T) {
	b := addr(11)
	f := newFixture(t, nil)
	tx := f.mintTx(t, b)

	srv := httptest.NewServer(f.m.Router(f.w.Routes))
	defer srv.Close()

	token := func(role store.UserRole) string {
		tk, err := f.a.Sign(addr(30), role, time.Hour)
		require.NoError(t, err)
		return tk
	}

	mint := event(t, types.BlackDiamondMinted, hash(1), txData{TransactionID: "0x" + tx.ID, TokenIDs: []string{"t1"}})

	cases := []struct {
		name      string
		token     string
		e         types.Event
		status    int
		completed bool
	}{
		{"user_0", token(store.RoleUser), mint, http.StatusForbidden, false},
		{"worker_0", token(store.RoleWorker), mint, http.StatusOK, false},
		{"worker_1", token(store.RoleWorker), mint, http.StatusOK, true},
		{"worker_2", token(store.RoleWorker), types.Event{EventType: "Approval"}, http.StatusOK, false},
	}

	for _, c := range cases {
		body, err := json.Marshal(c.e)
		require.NoError(t, err)

		req, err := http.NewRequest(http.MethodPost, srv.URL+"/worker", bytes.NewBuffer(body))
		require.NoError(t, err)
		req.Header.Set("Authorization", "Bearer "+c.token)

		resp, err := http.DefaultClient.Do(req)
		require.NoError(t, err)

		var res market.Response
		err = json.NewDecoder(resp.Body).Decode(&res)
		resp.Body.Close()
		require.NoError(t, err)

		if resp.StatusCode != c.status {
			t.Errorf("[%s] Error in StatusCode:%d expected:%d (%s)", c.name, resp.StatusCode, c.status, res.Error)
			continue
		}
		if c.status != http.StatusOK {
			continue
		}

		var r *market.Result
		require.NoError(t, json.Unmarshal(res.Body, &r))
		if c.completed && (r == nil || !r.IsAlreadyCompleted) {
			t.Errorf("[%s] expected already completed got %+v", c.name, r)
		}
	}
}
