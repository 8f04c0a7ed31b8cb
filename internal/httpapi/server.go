// Package httpapi exposes the Node Service request contracts from
// spec.md §4.J over HTTP/JSON, grounded on
// cmd/xchainserver/server/{routes,handlers,middleware}.go's gorilla/mux
// shape in the teacher repo.
package httpapi

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"

	"p2pchain/core"
	"p2pchain/pkg/config"
)

// Server wires the handlers to the node's shared state. Per spec.md §5, the
// Request Handler re-reads the chain directory on every request rather than
// holding the live in-memory BlockChain the Mining Loop mutates — the chain
// directory is the serialization medium between the two flows of control.
type Server struct {
	Self     string
	ChainDir string
	Pool     *core.MempoolStore
	Peers    *core.PeerSet
	Cfg      *config.Config
	Running  *core.RunningFlag
	log      *logrus.Logger
}

// NewServer constructs a Server ready to be handed to NewRouter.
func NewServer(self, chainDir string, pool *core.MempoolStore, peers *core.PeerSet, cfg *config.Config, running *core.RunningFlag, log *logrus.Logger) *Server {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Server{Self: self, ChainDir: chainDir, Pool: pool, Peers: peers, Cfg: cfg, Running: running, log: log}
}

// NewRouter configures the HTTP routes for the node, the way
// cmd/xchainserver/server/routes.go's NewRouter does for the teacher's
// cross-chain server.
func (s *Server) NewRouter() *mux.Router {
	r := mux.NewRouter()
	r.Use(s.requestLogger)
	r.Use(jsonHeaders)

	r.HandleFunc("/running", s.handleRunning).Methods(http.MethodGet)
	r.HandleFunc("/nodes", s.handleNodes).Methods(http.MethodGet)
	r.HandleFunc("/register", s.handleRegister).Methods(http.MethodGet)
	r.HandleFunc("/blockchain", s.handleBlockchain).Methods(http.MethodGet)
	r.HandleFunc("/chainlength", s.handleChainLength).Methods(http.MethodGet)
	r.HandleFunc("/block", s.handleBlock).Methods(http.MethodGet)
	r.HandleFunc("/pushtx", s.handlePushTx).Methods(http.MethodPut)
	r.HandleFunc("/unprocessed", s.handleUnprocessed).Methods(http.MethodGet)
	r.HandleFunc("/balance", s.handleBalance).Methods(http.MethodGet)
	r.HandleFunc("/balances", s.handleBalances).Methods(http.MethodGet)
	r.HandleFunc("/confirmations", s.handleConfirmations).Methods(http.MethodGet)

	return r
}

// ListenAndServe starts the HTTP server and blocks until it returns (on
// error or Shutdown). When it returns, it clears Running so the Mining Loop
// exits at the start of its next iteration (spec.md §5 Cancellation).
func (s *Server) ListenAndServe(addr string) error {
	srv := &http.Server{
		Addr:         addr,
		Handler:      s.NewRouter(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}
	err := srv.ListenAndServe()
	s.Running.Stop()
	return err
}
