package httpapi

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"p2pchain/core"
)

func writeJSON(w http.ResponseWriter, v any) {
	_ = json.NewEncoder(w).Encode(v)
}

func writeText(w http.ResponseWriter, s string) {
	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte(s))
}

// GET /running — spec.md §4.J.
func (s *Server) handleRunning(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, "running")
}

// GET /nodes — list of known peer URL strings.
func (s *Server) handleNodes(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Peers.Keys())
}

// GET /register?url=<url> — upsert peer; return a short acknowledgement.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	peerURL := r.URL.Query().Get("url")
	if peerURL == "" {
		writeText(w, "missing url parameter")
		return
	}
	s.Peers.Upsert(peerURL, time.Now())
	writeText(w, fmt.Sprintf("registered %s", peerURL))
}

// GET /blockchain — load from disk, return JSON array of block objects.
func (s *Server) handleBlockchain(w http.ResponseWriter, r *http.Request) {
	chain, err := core.Load(s.ChainDir, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	body, err := chain.AsJSON()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write([]byte(body))
}

// GET /chainlength — number of blocks on disk, as plain text.
func (s *Server) handleChainLength(w http.ResponseWriter, r *http.Request) {
	chain, err := core.Load(s.ChainDir, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeText(w, strconv.Itoa(chain.Len()))
}

// GET /block?index=n — the n-th block JSON; 400 if absent.
func (s *Server) handleBlock(w http.ResponseWriter, r *http.Request) {
	idxStr := r.URL.Query().Get("index")
	idx, err := strconv.Atoi(idxStr)
	if err != nil {
		http.Error(w, "missing or malformed index parameter", http.StatusBadRequest)
		return
	}
	chain, err := core.Load(s.ChainDir, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	block := chain.Block(idx)
	if block == nil {
		http.Error(w, fmt.Sprintf("no block at index %d", idx), http.StatusBadRequest)
		return
	}
	body, err := block.ToJSON()
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	_, _ = w.Write([]byte(body))
}

// PUT /pushtx (JSON body = a transaction).
func (s *Server) handlePushTx(w http.ResponseWriter, r *http.Request) {
	var tx core.Transaction
	if err := json.NewDecoder(r.Body).Decode(&tx); err != nil {
		writeText(w, "Invalid transaction; ignoring")
		return
	}
	if !tx.IsValid() {
		writeText(w, "Invalid transaction; ignoring")
		return
	}
	if s.Pool.Exists(tx.UUID) {
		writeText(w, "duplicate transaction; ignoring")
		return
	}
	if err := s.Pool.InsertIfAbsent(&tx); err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	writeText(w, fmt.Sprintf("received transaction %s", tx.UUID))
}

// GET /unprocessed — JSON list of transaction objects with block absent.
func (s *Server) handleUnprocessed(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.Pool.Unprocessed())
}

// GET /balance?address=<a>&confirmations=<k> — text decimal. k defaults to
// config Confirmations. k=0 also reflects unconfirmed mempool rows
// (spec.md §4.J).
func (s *Server) handleBalance(w http.ResponseWriter, r *http.Request) {
	addr := r.URL.Query().Get("address")
	k := s.confirmationsParam(r)

	chain, err := core.Load(s.ChainDir, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	bal := chain.GetBalance(addr, k, s.Cfg.NewAddressBalance, s.Cfg.BlockReward)
	if k == 0 {
		received, transferred := s.Pool.BalanceAdjustments(addr)
		bal += received - transferred
	}
	writeText(w, formatBalance(bal))
}

// GET /balances?prefix=<p>&confirmations=<k> — JSON object restricted to
// addresses starting with p.
func (s *Server) handleBalances(w http.ResponseWriter, r *http.Request) {
	prefix := r.URL.Query().Get("prefix")
	k := s.confirmationsParam(r)

	chain, err := core.Load(s.ChainDir, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	balances := chain.GetBalances(k, s.Cfg.NewAddressBalance, s.Cfg.BlockReward)
	out := make(map[string]float64)
	for addr, bal := range balances {
		if strings.HasPrefix(addr, prefix) {
			out[addr] = bal
		}
	}
	writeJSON(w, out)
}

// GET /confirmations?transaction_id=<uuid> — text integer: 0 if
// unconfirmed, else chain_length - block_index_of_tx.
func (s *Server) handleConfirmations(w http.ResponseWriter, r *http.Request) {
	txID := r.URL.Query().Get("transaction_id")
	if txID == "" {
		http.Error(w, "missing transaction_id parameter", http.StatusBadRequest)
		return
	}
	chain, err := core.Load(s.ChainDir, nil)
	if err != nil {
		http.Error(w, err.Error(), http.StatusInternalServerError)
		return
	}
	for _, b := range chain.Blocks() {
		bundle, err := core.BundleFromPayload(b.Data)
		if err != nil {
			continue
		}
		for _, tx := range bundle.Transactions {
			if tx.UUID == txID {
				writeText(w, strconv.Itoa(chain.Len()-b.Index))
				return
			}
		}
	}
	writeText(w, "0")
}

func (s *Server) confirmationsParam(r *http.Request) int {
	raw := r.URL.Query().Get("confirmations")
	if raw == "" {
		return s.Cfg.Confirmations
	}
	k, err := strconv.Atoi(raw)
	if err != nil {
		return s.Cfg.Confirmations
	}
	return k
}

func formatBalance(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}
