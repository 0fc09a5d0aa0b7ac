package ethereum

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/tarancss/nftmarket/lib/block/types"
)

const (
	minedHash = "0xc39f3c2c2b5c0a772e8605bbeef7d341937b85e739a3c55d1e7384ac88f31c65"
	orderID   = "0x00000000000000000000000000000000000000000000000000000000000000a1"
)

// receipt contains the sample data returned by the node.
var receipt = map[string]interface{}{ //nolint:gochecknoglobals // testdata
	"blockHash":         "0xd44a255e40eee23bd90a54a792f7a35c175400958de22a9bbfe08a7b2c244ed6",
	"blockNumber":       "0x29bf9b",
	"contractAddress":   nil,
	"cumulativeGasUsed": "0x47addd",
	"gasUsed":           "0xff59",
	"logsBloom":         "0x" + strings.Repeat("00", 256),
	"status":            "0x1",
	"transactionHash":   minedHash,
	"transactionIndex":  "0x0",
	"logs": []interface{}{
		map[string]interface{}{
			"address":         "0x7762440182222620a7435195208038708d27ee41",
			"topics":          []string{"0xddf252ad1be2c89b69c2b068fc378daa952ba7f163c4a11628f55a4df523b3ef"},
			"data":            "0x",
			"transactionHash": minedHash,
			"logIndex":        "0x0",
		},
		map[string]interface{}{
			"address": "0x7762440182222620a7435195208038708d27ee41",
			"topics": []string{"0x3f3b6e5c0b5a0e0c7a4b1b0f5b9e4f8d1d4a8b7c6e5f4d3c2b1a09f8e7d6c5b4",
				orderID},
			"data":            "0x01",
			"transactionHash": minedHash,
			"logIndex":        "0x1",
		},
	},
}

// node mocks the JSON-RPC endpoint: the mined hash has a receipt, any other returns null.
func node(t *testing.T) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
			Params []string        `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			t.Errorf("bad request err:%e", err)
			return
		}

		var result interface{}
		if req.Method == "eth_getTransactionReceipt" && len(req.Params) == 1 && req.Params[0] == minedHash {
			result = receipt
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(map[string]interface{}{"jsonrpc": "2.0", "id": req.ID, "result": result})
	}))
}

func TestTransactionReceipt(t *testing.T) {
	srv := node(t)
	defer srv.Close()

	e, err := Init(srv.URL)
	if err != nil {
		t.Fatalf("err:%e", err)
	}
	defer e.Close()

	r, err := e.TransactionReceipt(context.Background(), minedHash)
	if err != nil {
		t.Fatalf("err:%e", err)
	}

	if r.Hash != minedHash || r.Status != types.ReceiptSuccess || r.Block != 0x29bf9b || len(r.Logs) != 2 ||
		r.Logs[1].Topics[1] != orderID {
		t.Errorf("unexpected receipt %+v", r)
	}

	_, err = e.TransactionReceipt(context.Background(),
		"0xdbd3184b2f947dab243071000df22cf5acc6efdce90a04aaf057521b1ee5bf60")
	if !errors.Is(err, types.ErrNoReceipt) {
		t.Errorf("expected no receipt but got %v", err)
	}
}
