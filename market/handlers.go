package market

import (
	"encoding/json"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/tarancss/nftmarket/lib/auth"
	"github.com/tarancss/nftmarket/lib/fault"
	"github.com/tarancss/nftmarket/lib/store"
	"github.com/tarancss/nftmarket/referral"
)

// WorkerTokenTTL is the validity of the tokens issued to the worker service.
const WorkerTokenTTL = 30 * 24 * time.Hour

// Response defines the data structure returned to the client making the http request.
type Response struct {
	Body    json.RawMessage `json:"body,omitempty"`
	Error   string          `json:"error,omitempty"`
	Code    string          `json:"code,omitempty"`
	TraceID string          `json:"traceId"`
}

// Reply writes v, or err if not nil, to the client and logs the request.
func Reply(rw http.ResponseWriter, r *http.Request, v interface{}, err error) {
	res := Response{TraceID: uuid.NewString()}
	status := http.StatusOK

	if err != nil {
		status = fault.HTTPStatus(err)
		res.Error, res.Code = fault.Message(err), fault.Code(err)
	} else if res.Body, err = json.Marshal(v); err != nil {
		status = http.StatusInternalServerError
		res.Error, res.Code = fault.Message(err), fault.Code(err)
	}
	// log request and result
	log.Printf("httpreq from %v %s trace:%s status:%d err:%e\n", r.RemoteAddr, r.RequestURI, res.TraceID, status, err)
	// reply
	rw.Header().Set("Content-Type", "application/json;charset=utf8")
	rw.WriteHeader(status)
	_ = json.NewEncoder(rw).Encode(&res)
}

// Decode reads the JSON body of r into v.
func Decode(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		return fault.Wrap(fault.CodeInvalidData, "invalid request body", err)
	}

	return nil
}

// caller returns the claims verified by the auth middleware.
func caller(r *http.Request) *auth.Claims {
	c, ok := auth.FromContext(r.Context())
	if !ok {
		return &auth.Claims{}
	}

	return c
}

func requireAdmin(c *auth.Claims) error {
	if !isAdmin(c) {
		return fault.Permission("you must be administrator")
	}

	return nil
}

// homeHandler just replies a welcome message to the client.
func (m *Market) homeHandler(rw http.ResponseWriter, r *http.Request) {
	Reply(rw, r, "Hello, this is the NFT marketplace!", nil)
}

type registerReq struct {
	Referrer string `json:"referrer"`
}

// registerHandler adds the caller to the referral forest.
func (m *Market) registerHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var u *store.User

	defer func() { Reply(rw, r, u, err) }()

	var req registerReq
	if err = Decode(r, &req); err != nil {
		return
	}

	u, err = m.Register(r.Context(), caller(r).Address, req.Referrer)
}

// refereesHandler replies the subtree of a user, or its direct referees with ?direct=true.
func (m *Market) refereesHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var us []store.User

	defer func() { Reply(rw, r, us, err) }()

	direct, _ := strconv.ParseBool(r.URL.Query().Get("direct"))
	us, err = m.GetDescendants(r.Context(), mux.Vars(r)["address"], direct)
}

func (m *Market) groupHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var info referral.GroupInfo

	defer func() { Reply(rw, r, info, err) }()

	info, err = m.GetGroupInfo(r.Context(), mux.Vars(r)["address"])
}

// commissionHandler replies the commissions earned by a user. Only the user or an admin of revenues may see them.
func (m *Market) commissionHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var cs *Commissions

	defer func() { Reply(rw, r, cs, err) }()

	address := mux.Vars(r)["address"]

	if c := caller(r); !isAffiliate(address, c.Address) {
		if err = m.authorize(r.Context(), c, store.PermRevenueManagement); err != nil {
			return
		}
	}

	cs, err = m.GetCommission(r.Context(), address)
}

func (m *Market) bdaHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var st referral.BDAStatus

	defer func() { Reply(rw, r, st, err) }()

	st, err = m.GetBDAStatus(r.Context(), mux.Vars(r)["address"])
}

type adminReq struct {
	Name        string             `json:"name"`
	Permissions []store.Permission `json:"permissions"`
}

// adminHandler creates (POST) or deletes (DELETE) an admin.
func (m *Market) adminHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var tx *store.Transaction

	defer func() { Reply(rw, r, tx, err) }()

	address := mux.Vars(r)["address"]

	switch r.Method {
	case http.MethodPost:
		var req adminReq
		if err = Decode(r, &req); err != nil {
			return
		}

		tx, err = m.CreateAdmin(r.Context(), address, req.Name, req.Permissions, caller(r))
	case http.MethodDelete:
		tx, err = m.DeleteAdmin(r.Context(), address, caller(r))
	}
}

func (m *Market) createNFTHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var n *store.NFT

	defer func() { Reply(rw, r, n, err) }()

	if err = m.authorize(r.Context(), caller(r), store.PermNFTManagement); err != nil {
		return
	}

	var req NFTRequest
	if err = Decode(r, &req); err != nil {
		return
	}

	n, err = m.CreateNFT(r.Context(), req)
}

type completeReq struct {
	TransactionID string   `json:"transactionId"`
	Hash          string   `json:"hash"`
	TokenIDs      []string `json:"tokenIds,omitempty"`
}

// mintHandler completes the MINTED transaction of the NFT.
func (m *Market) mintHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res *Result

	defer func() { Reply(rw, r, res, err) }()

	var req completeReq
	if err = Decode(r, &req); err != nil {
		return
	}

	tx, err := m.findTransaction(r.Context(), req.TransactionID)
	if err != nil {
		return
	}

	if tx.NFT.ID != mux.Vars(r)["id"] {
		err = fault.InvalidData("transaction does not belong to the nft")
		return
	}

	if err = checkPermission(tx, caller(r)); err != nil {
		return
	}

	res, err = m.MintNFT(r.Context(), req.TransactionID, req.Hash)
}

func (m *Market) saleHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res *Result

	defer func() { Reply(rw, r, res, err) }()

	if err = m.authorize(r.Context(), caller(r), store.PermNFTManagement); err != nil {
		return
	}

	var req SaleRequest
	if err = Decode(r, &req); err != nil {
		return
	}

	res, err = m.PutOnSale(r.Context(), mux.Vars(r)["id"], req, caller(r))
}

func (m *Market) cancelHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res *Result

	defer func() { Reply(rw, r, res, err) }()

	if err = m.authorize(r.Context(), caller(r), store.PermNFTManagement); err != nil {
		return
	}

	var req SaleRequest
	if err = Decode(r, &req); err != nil {
		return
	}

	res, err = m.CancelOnSale(r.Context(), mux.Vars(r)["id"], req.Hash, caller(r))
}

type supplyReq struct {
	TotalSupply int64 `json:"totalSupply"`
}

func (m *Market) supplyHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var n *store.NFT

	defer func() { Reply(rw, r, n, err) }()

	if err = m.authorize(r.Context(), caller(r), store.PermNFTManagement); err != nil {
		return
	}

	var req supplyReq
	if err = Decode(r, &req); err != nil {
		return
	}

	n, err = m.AddSupply(r.Context(), mux.Vars(r)["id"], req.TotalSupply)
}

func (m *Market) buyHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res *Result

	defer func() { Reply(rw, r, res, err) }()

	var req SaleRequest
	if err = Decode(r, &req); err != nil {
		return
	}

	res, err = m.Buy(r.Context(), mux.Vars(r)["id"], req, caller(r))
}

func (m *Market) nftTokensHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var os []store.Owner

	defer func() { Reply(rw, r, os, err) }()

	os, err = m.TokensByNFT(r.Context(), mux.Vars(r)["id"])
}

// addrTokensHandler replies the tokens owned by an address, optionally of a single NFT.
func (m *Market) addrTokensHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var os []store.Owner

	defer func() { Reply(rw, r, os, err) }()

	v := mux.Vars(r)
	if nftID, ok := v["nftId"]; ok {
		os, err = m.TokensByAddressAndNFT(r.Context(), v["address"], nftID)
	} else {
		os, err = m.TokensByAddress(r.Context(), v["address"])
	}
}

func (m *Market) createTxHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var tx *store.Transaction

	defer func() { Reply(rw, r, tx, err) }()

	var req TransactionRequest
	if err = Decode(r, &req); err != nil {
		return
	}

	tx, err = m.CreateTransaction(r.Context(), req, caller(r))
}

func (m *Market) txHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var tx *store.Transaction

	defer func() { Reply(rw, r, tx, err) }()

	tx, err = m.GetTransaction(r.Context(), mux.Vars(r)["id"])
}

func (m *Market) txHashHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var tx *store.Transaction

	defer func() { Reply(rw, r, tx, err) }()

	var req TransactionUpdate
	if err = Decode(r, &req); err != nil {
		return
	}

	tx, err = m.UpdateTransactionHash(r.Context(), mux.Vars(r)["id"], req.Hash, caller(r))
}

func (m *Market) updateTxHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var tx *store.Transaction

	defer func() { Reply(rw, r, tx, err) }()

	var req TransactionUpdate
	if err = Decode(r, &req); err != nil {
		return
	}

	tx, err = m.UpdateTransaction(r.Context(), mux.Vars(r)["id"], req, caller(r))
}

// actionPermissions lists the admin permission each transaction action requires. Admin actions are checked as
// super admin only.
var actionPermissions = map[string]store.Permission{
	"deposit":    store.PermLockingManagement,
	"redemption": store.PermRedemptionManagement,
	"admin-mint": store.PermNFTManagement,
}

// txActionHandler completes a deposit, admin action or redemption on behalf of an admin.
func (m *Market) txActionHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var res *Result

	defer func() { Reply(rw, r, res, err) }()

	c := caller(r)
	if err = requireAdmin(c); err != nil {
		return
	}

	var req completeReq
	if err = Decode(r, &req); err != nil {
		return
	}

	v := mux.Vars(r)

	tx, err := m.findTransaction(r.Context(), v["id"])
	if err != nil {
		return
	}

	if err = checkPermission(tx, c); err != nil {
		return
	}

	if p, ok := actionPermissions[v["action"]]; ok {
		if err = m.authorize(r.Context(), c, p); err != nil {
			return
		}
	}

	switch v["action"] {
	case "deposit":
		res, err = m.Deposit(r.Context(), tx.ID, req.Hash)
	case "admin-action":
		res, err = m.UpdateAdminAction(r.Context(), tx.ID, req.Hash)
	case "redemption":
		res, err = m.ApproveRedemption(r.Context(), tx.ID, req.Hash)
	case "admin-mint":
		res, err = m.AdminMintNFT(r.Context(), tx.ID, req.Hash, req.TokenIDs)
	default:
		err = fault.NotFound("unknown action " + v["action"])
	}
}

func (m *Market) configHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var s *store.Settings

	defer func() { Reply(rw, r, s, err) }()

	if r.URL.Path != "/config/full" {
		s, err = m.GetConfig(r.Context())
		return
	}

	if err = requireAdmin(caller(r)); err != nil {
		return
	}

	s, err = m.GetFullConfig(r.Context())
}

// setConfigHandler sets a currency or an attribute.
func (m *Market) setConfigHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var s *store.Settings

	defer func() { Reply(rw, r, s, err) }()

	if err = requireAdmin(caller(r)); err != nil {
		return
	}

	switch mux.Vars(r)["setting"] {
	case "currencies":
		var c store.Currency
		if err = Decode(r, &c); err != nil {
			return
		}

		s, err = m.SetCurrency(r.Context(), c)
	case "attributes":
		var a store.Attribute
		if err = Decode(r, &a); err != nil {
			return
		}

		s, err = m.SetAttribute(r.Context(), a)
	default:
		err = fault.NotFound("unknown setting")
	}
}

type workerTokenReq struct {
	Address string `json:"address"`
}

// workerTokenHandler issues the bearer token the worker service uses to post events.
func (m *Market) workerTokenHandler(rw http.ResponseWriter, r *http.Request) {
	var err error

	var token string

	defer func() { Reply(rw, r, token, err) }()

	if caller(r).Role != store.RoleSuperAdmin {
		err = fault.Permission("you must be super administrator to issue worker tokens")
		return
	}

	var req workerTokenReq
	if err = Decode(r, &req); err != nil {
		return
	}

	token, err = m.auth.Sign(req.Address, store.RoleWorker, WorkerTokenTTL)
}
