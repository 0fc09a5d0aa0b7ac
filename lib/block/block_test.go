package block

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/tarancss/nftmarket/lib/block/types"
)

// chain returns no receipt for the first pending calls, then a receipt with logs.
type chain struct {
	pending int32
	calls   int32
	logs    []types.Log
}

func (c *chain) TransactionReceipt(ctx context.Context, hash string) (*types.Receipt, error) {
	if atomic.AddInt32(&c.calls, 1) <= c.pending {
		return nil, types.ErrNoReceipt
	}
	return &types.Receipt{Hash: hash, Status: types.ReceiptSuccess, Logs: c.logs}, nil
}

func (c *chain) Close() {}

var orderLogs = []types.Log{{Topics: []string{"0x1"}}, {Topics: []string{"0x2", "0xorder"}}} //nolint:gochecknoglobals

func TestWaitReceipt(t *testing.T) {
	cases := []struct {
		pending int32
		logs    []types.Log
		accept  func(*types.Receipt) bool
		timeout time.Duration
		err     error
		calls   int32
	}{
		{0, nil, nil, 0, nil, 1},
		{2, nil, nil, time.Second, nil, 3},
		{1, orderLogs, HasOrderID, time.Second, nil, 2},
		// mined without the expected log
		{0, nil, HasOrderID, 30 * time.Millisecond, types.ErrReceiptTimeout, 0},
		{1000, nil, nil, 30 * time.Millisecond, types.ErrReceiptTimeout, 0},
	}

	for i, c := range cases {
		ch := &chain{pending: c.pending, logs: c.logs}
		r, err := WaitReceipt(context.Background(), ch, "0xhash", c.accept, time.Millisecond, c.timeout)
		if !errors.Is(err, c.err) {
			t.Errorf("[%d] expected %v but got %v", i, c.err, err)
			continue
		}
		if c.err == nil && (r == nil || r.Hash != "0xhash") {
			t.Errorf("[%d] unexpected receipt %+v", i, r)
		}
		if c.calls > 0 && ch.calls != c.calls {
			t.Errorf("[%d] expected %d calls but got %d", i, c.calls, ch.calls)
		}
	}
}

func TestWaitReceiptCancel(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := WaitReceipt(ctx, &chain{pending: 1000}, "0xhash", nil, time.Millisecond, 0); !errors.Is(err, context.Canceled) {
		t.Errorf("expected cancel but got %v", err)
	}
}

func TestOrderID(t *testing.T) {
	cases := []struct {
		r   *types.Receipt
		id  string
		err error
	}{
		{nil, "", types.ErrNoOrderID},
		{&types.Receipt{Logs: orderLogs[:1]}, "", types.ErrNoOrderID},
		{&types.Receipt{Logs: []types.Log{{}, {Topics: []string{"0x2"}}}}, "", types.ErrNoOrderID},
		{&types.Receipt{Logs: orderLogs}, "0xorder", nil},
	}

	for i, c := range cases {
		id, err := OrderID(c.r)
		if id != c.id || !errors.Is(err, c.err) {
			t.Errorf("[%d] expected %s %v but got %s %v", i, c.id, c.err, id, err)
		}
	}
}
