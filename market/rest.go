package market

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/gorilla/mux"
)

const timeout = 15

// Route registers extra routes on the router of the service. protect wraps a handler with the bearer token check.
type Route func(r *mux.Router, protect func(http.HandlerFunc) http.Handler)

// Router returns the RESTful API of the market service.
func (m *Market) Router(extra ...Route) *mux.Router {
	protect := func(h http.HandlerFunc) http.Handler { return m.auth.Middleware(h) }

	// API definition
	r := mux.NewRouter()
	r.HandleFunc("/", m.homeHandler)
	r.Handle("/users", protect(m.registerHandler)).Methods("POST")                       // join the referral forest
	r.HandleFunc("/users/{address}/referees", m.refereesHandler).Methods("GET")          // subtree or direct referees
	r.HandleFunc("/users/{address}/group", m.groupHandler).Methods("GET")                // subtree totals
	r.HandleFunc("/users/{address}/bda", m.bdaHandler).Methods("GET")                    // BDA status
	r.Handle("/users/{address}/commission", protect(m.commissionHandler)).Methods("GET") // affiliate earnings
	r.Handle("/admins/{address}", protect(m.adminHandler)).Methods("POST", "DELETE")     // create or delete an admin
	r.Handle("/nfts", protect(m.createNFTHandler)).Methods("POST")                       // add an NFT to the catalogue
	r.Handle("/nfts/{id}/mint", protect(m.mintHandler)).Methods("POST")                  // complete a mint
	r.Handle("/nfts/{id}/sale", protect(m.saleHandler)).Methods("POST")                  // put on sale
	r.Handle("/nfts/{id}/cancel", protect(m.cancelHandler)).Methods("POST")              // cancel the sale
	r.Handle("/nfts/{id}/supply", protect(m.supplyHandler)).Methods("POST")              // raise the supply
	r.Handle("/nfts/{id}/buy", protect(m.buyHandler)).Methods("POST")                    // buy tokens on sale
	r.HandleFunc("/nfts/{id}/tokens", m.nftTokensHandler).Methods("GET")                 // tokens of an NFT
	r.HandleFunc("/tokens/{address}", m.addrTokensHandler).Methods("GET")                // tokens of an address
	r.HandleFunc("/tokens/{address}/{nftId}", m.addrTokensHandler).Methods("GET")        // tokens of an NFT of an address
	r.Handle("/transactions", protect(m.createTxHandler)).Methods("POST")                // new DRAFT transaction
	r.HandleFunc("/transactions/{id}", m.txHandler).Methods("GET")                       // transaction details
	r.Handle("/transactions/{id}/hash", protect(m.txHashHandler)).Methods("PUT")         // submitted to the chain
	r.Handle("/transactions/{id}", protect(m.updateTxHandler)).Methods("PUT")            // cancel or fail
	r.Handle("/transactions/{id}/{action}", protect(m.txActionHandler)).Methods("POST")  // complete a transaction
	r.HandleFunc("/config", m.configHandler).Methods("GET")                              // public settings
	r.Handle("/config/full", protect(m.configHandler)).Methods("GET")                    // all settings
	r.Handle("/config/{setting}", protect(m.setConfigHandler)).Methods("PUT")            // currencies or attributes
	r.Handle("/worker/token", protect(m.workerTokenHandler)).Methods("POST")             // token for the worker service

	for _, route := range extra {
		route(r, protect)
	}

	return r
}

// Init sets up and starts the http/https server to service the RESTful API for the market service. If sslPort,
// sslCert and sslKey are informed, it will start an https (TLS) server on the specified endpoint.
func (m *Market) Init(endpoint, port, sslPort, sslCert, sslKey string, extra ...Route) string {
	var err, errTLS error

	r := m.Router(extra...)

	// start http server
	if port != "" {
		m.s = &http.Server{
			Handler:      r,
			Addr:         endpoint + ":" + port,
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			err = m.s.ListenAndServe()
		}()

		log.Printf("Listening to API http requests on %s:%s", endpoint, port)
	}
	// start https server
	if sslPort != "" && sslCert != "" && sslKey != "" {
		m.ss = &http.Server{
			Handler:      r,
			Addr:         endpoint + ":" + sslPort,
			WriteTimeout: timeout * time.Second,
			ReadTimeout:  timeout * time.Second,
		}

		go func() {
			errTLS = m.ss.ListenAndServeTLS(sslCert, sslKey)
		}()

		log.Printf("Listening to API https requests on %s:%s", endpoint, sslPort)
	}
	// wait for servers to be shutdown
	<-m.sc

	return fmt.Sprintf("shutdown http server:%e, https server:%e", err, errTLS)
}
