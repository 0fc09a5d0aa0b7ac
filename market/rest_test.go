package market

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/tarancss/nftmarket/lib/fault"
	"github.com/tarancss/nftmarket/lib/store"
)

func TestAPI(t *testing.T) {
	a, b := addr(10), addr(11)
	f := newFixture(t, a)
	f.adminMint(t, a, 1, "t1")

	srv := httptest.NewServer(f.m.Router())
	defer srv.Close()

	token := func(address string, role store.UserRole) string {
		tk, err := f.a.Sign(address, role, time.Hour)
		if err != nil {
			t.Fatalf("err:%e", err)
		}
		return tk
	}
	userB := token(b, store.RoleUser)
	userA := token(a, store.RoleUser)
	sa := token(super, store.RoleSuperAdmin)

	// active admins with and without the nft grant
	for i, ps := range [][]store.Permission{{store.PermNFTManagement}, nil} {
		if err := f.s.InsertUser(context.Background(), &store.User{Address: addr(21 + i), Role: store.RoleAdmin,
			Status: store.UserActive, UserType: store.UserCommon, Permissions: ps}); err != nil {
			t.Fatalf("err:%e", err)
		}
	}
	nftAdmin, plainAdmin := token(addr(21), store.RoleAdmin), token(addr(22), store.RoleAdmin)

	// define tests
	cases := []struct {
		name, method, uri string      // case name, http method to use and uri
		token             string      // bearer token
		obj               interface{} // object for POST, PUT, DELETE
		status            int         // http status code
		code              string      // error code expected
	}{
		{"home_0", http.MethodGet, "/", "", nil, http.StatusOK, ""},
		{"register_0", http.MethodPost, "/users", "", registerReq{Referrer: a}, http.StatusUnauthorized, ""},
		{"register_1", http.MethodPost, "/users", userB, registerReq{Referrer: addr(77)}, http.StatusBadRequest, fault.CodeInvalidReferrer},
		{"register_2", http.MethodPost, "/users", userB, registerReq{Referrer: a}, http.StatusOK, ""},
		{"register_3", http.MethodPost, "/users", userB, registerReq{Referrer: a}, http.StatusBadRequest, fault.CodeRegisteredAsUser},
		{"register_4", http.MethodGet, "/users", userB, nil, http.StatusMethodNotAllowed, ""},
		{"referees_0", http.MethodGet, "/users/" + a + "/referees?direct=true", "", nil, http.StatusOK, ""},
		{"referees_1", http.MethodGet, "/users/" + addr(77) + "/referees", "", nil, http.StatusNotFound, fault.CodeNoDataExists},
		{"group_0", http.MethodGet, "/users/" + a + "/group", "", nil, http.StatusOK, ""},
		{"bda_0", http.MethodGet, "/users/" + a + "/bda", "", nil, http.StatusOK, ""},
		{"bda_1", http.MethodGet, "/users/" + b + "/bda", "", nil, http.StatusBadRequest, fault.CodeUserNotBDA},
		{"admin_0", http.MethodPost, "/admins/" + addr(20), userA, adminReq{Name: "ann"}, http.StatusForbidden, fault.CodePermission},
		{"admin_1", http.MethodPost, "/admins/" + addr(20), sa, adminReq{Name: "ann"}, http.StatusOK, ""},
		{"admin_2", http.MethodPost, "/admins/" + addr(23), sa, adminReq{Name: "bea", Permissions: []store.Permission{store.PermRoleManagement}}, http.StatusBadRequest, fault.CodeEditionUnsuccessful},
		{"commission_0", http.MethodGet, "/users/" + a + "/commission", userA, nil, http.StatusOK, ""},
		{"commission_1", http.MethodGet, "/users/" + a + "/commission", userB, nil, http.StatusForbidden, fault.CodePermission},
		{"commission_2", http.MethodGet, "/users/" + a + "/commission", sa, nil, http.StatusOK, ""},
		{"nft_0", http.MethodPost, "/nfts", userA, NFTRequest{Name: "x", TotalSupply: 1}, http.StatusForbidden, fault.CodePermission},
		{"nft_1", http.MethodPost, "/nfts", sa, NFTRequest{Name: "x"}, http.StatusBadRequest, fault.CodeNumberMustGreater},
		{"nft_2", http.MethodPost, "/nfts", sa, "{", http.StatusBadRequest, fault.CodeInvalidData},
		{"nft_3", http.MethodPost, "/nfts", nftAdmin, NFTRequest{Name: "x"}, http.StatusBadRequest, fault.CodeNumberMustGreater},
		{"nft_4", http.MethodPost, "/nfts", plainAdmin, NFTRequest{Name: "x", TotalSupply: 1}, http.StatusForbidden, fault.CodePermission},
		{"tokens_0", http.MethodGet, "/tokens/" + a, "", nil, http.StatusOK, ""},
		{"tokens_1", http.MethodGet, "/tokens/0x12", "", nil, http.StatusBadRequest, fault.CodeInvalidAddress},
		{"tokens_2", http.MethodGet, "/nfts/5f0c1a2b3c4d5e6f70819203/tokens", "", nil, http.StatusNotFound, fault.CodeNoDataExists},
		{"tx_0", http.MethodGet, "/transactions/nope", "", nil, http.StatusBadRequest, fault.CodeInvalidData},
		{"tx_1", http.MethodPost, "/transactions", userA, TransactionRequest{Type: store.TxAdminMinted, Quantity: 1}, http.StatusForbidden, fault.CodePermission},
		{"tx_2", http.MethodPost, "/transactions/5f0c1a2b3c4d5e6f70819203/deposit", userA, completeReq{Hash: hash(1)}, http.StatusForbidden, fault.CodePermission},
		{"tx_3", http.MethodPost, "/transactions/5f0c1a2b3c4d5e6f70819203/deposit", sa, completeReq{Hash: hash(1)}, http.StatusNotFound, fault.CodeNoDataExists},
		{"config_0", http.MethodGet, "/config", "", nil, http.StatusOK, ""},
		{"config_1", http.MethodGet, "/config/full", "", nil, http.StatusUnauthorized, ""},
		{"config_2", http.MethodPut, "/config/attributes", sa, store.Attribute{Key: "color"}, http.StatusOK, ""},
		{"config_3", http.MethodPut, "/config/fees", sa, store.Attribute{Key: "color"}, http.StatusNotFound, fault.CodeNoDataExists},
		{"worker_0", http.MethodPost, "/worker/token", userA, workerTokenReq{Address: addr(30)}, http.StatusForbidden, fault.CodePermission},
		{"worker_1", http.MethodPost, "/worker/token", sa, workerTokenReq{Address: addr(30)}, http.StatusOK, ""},
	}

	// run tests
	for _, c := range cases {
		s, res, err := makeRequest(c.method, srv.URL+c.uri, c.token, c.obj)
		if err != nil {
			t.Errorf("[%s] Error in request:%e", c.name, err)
			continue
		}
		if s != c.status {
			t.Errorf("[%s] Error in StatusCode:%d expected:%d", c.name, s, c.status)
		}
		if res != nil && res.Code != c.code {
			t.Errorf("[%s] Error in code:%s expected:%s (%s)", c.name, res.Code, c.code, res.Error)
		}
		if res != nil && res.TraceID == "" {
			t.Errorf("[%s] Missing trace id", c.name)
		}
	}

	// the worker token is accepted by the API
	_, res, err := makeRequest(http.MethodPost, srv.URL+"/worker/token", sa, workerTokenReq{Address: addr(30)})
	if err != nil || res == nil {
		t.Fatalf("err:%v", err)
	}
	var wt string
	if err = json.Unmarshal(res.Body, &wt); err != nil {
		t.Fatalf("err:%e", err)
	}
	if c, err := f.a.Verify(wt); err != nil || c.Role != store.RoleWorker || c.Address != addr(30) {
		t.Errorf("unexpected worker claims %+v err:%v", c, err)
	}
}

// makeRequest sends obj as JSON and returns the status and decoded Response. Replies that are not a Response (as
// those of the router or the auth middleware) return a nil Response.
func makeRequest(method, uri, token string, obj interface{}) (int, *Response, error) {
	var body io.Reader

	switch o := obj.(type) {
	case nil:
	case string:
		body = bytes.NewBufferString(o)
	default:
		b, err := json.Marshal(o)
		if err != nil {
			return 0, nil, err
		}
		body = bytes.NewBuffer(b)
	}

	req, err := http.NewRequest(method, uri, body)
	if err != nil {
		return 0, nil, err
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return 0, nil, err
	}
	defer resp.Body.Close()

	var res Response
	if err = json.NewDecoder(resp.Body).Decode(&res); err != nil {
		return resp.StatusCode, nil, nil
	}

	return resp.StatusCode, &res, nil
}
