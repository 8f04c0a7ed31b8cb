package httpapi

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"p2pchain/core"
	"p2pchain/pkg/config"
)

func newTestServer(t *testing.T) (*Server, string) {
	t.Helper()
	dir := t.TempDir()
	genesis, err := core.MineGenesisBlock(0, "miner")
	if err != nil {
		t.Fatalf("MineGenesisBlock: %v", err)
	}
	chain, err := core.Load(dir, nil)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	chain.Append(genesis)
	if err := chain.Save(dir); err != nil {
		t.Fatalf("Save: %v", err)
	}

	pool, err := core.OpenMempoolStore(dir+"/mempool.json", nil)
	if err != nil {
		t.Fatalf("OpenMempoolStore: %v", err)
	}
	cfg := config.Default()
	s := NewServer("http://self:5000", dir, pool, core.NewPeerSet(nil), &cfg, core.NewRunningFlag(), nil)
	return s, dir
}

func TestHandleRunning(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/running", nil)
	rec := httptest.NewRecorder()
	s.NewRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var body string
	if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if body != "running" {
		t.Fatalf("body = %q, want %q", body, "running")
	}
}

func TestHandleChainLength(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/chainlength", nil)
	rec := httptest.NewRecorder()
	s.NewRouter().ServeHTTP(rec, req)

	if rec.Body.String() != "1" {
		t.Fatalf("body = %q, want %q", rec.Body.String(), "1")
	}
}

func TestHandleBlockMissingIndex(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/block", nil)
	rec := httptest.NewRecorder()
	s.NewRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400 for missing index", rec.Code)
	}
}

func TestHandleBlockValidIndex(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/block?index=0", nil)
	rec := httptest.NewRecorder()
	s.NewRouter().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	var b core.Block
	if err := json.Unmarshal(rec.Body.Bytes(), &b); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if b.Index != 0 {
		t.Fatalf("block index = %d, want 0", b.Index)
	}
}

func TestHandlePushTxValidAndDuplicate(t *testing.T) {
	s, _ := newTestServer(t)
	alice, _ := core.NewKeyPair()
	tx := core.NewTransaction(alice.Address, "bob", 0.1, 0.01, "")
	if err := tx.Sign(alice); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	body, _ := tx.ToJSON()

	req := httptest.NewRequest(http.MethodPut, "/pushtx", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	s.NewRouter().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if want := "received transaction " + tx.UUID; rec.Body.String() != want {
		t.Fatalf("body = %q, want %q", rec.Body.String(), want)
	}

	req2 := httptest.NewRequest(http.MethodPut, "/pushtx", bytes.NewBufferString(body))
	rec2 := httptest.NewRecorder()
	s.NewRouter().ServeHTTP(rec2, req2)
	if rec2.Body.String() != "duplicate transaction; ignoring" {
		t.Fatalf("body = %q, want duplicate message", rec2.Body.String())
	}
}

func TestHandlePushTxInvalidSignature(t *testing.T) {
	s, _ := newTestServer(t)
	alice, _ := core.NewKeyPair()
	tx := core.NewTransaction(alice.Address, "bob", 0.1, 0.01, "")
	// not signed
	body, _ := tx.ToJSON()

	req := httptest.NewRequest(http.MethodPut, "/pushtx", bytes.NewBufferString(body))
	rec := httptest.NewRecorder()
	s.NewRouter().ServeHTTP(rec, req)
	if rec.Body.String() != "Invalid transaction; ignoring" {
		t.Fatalf("body = %q, want rejection message", rec.Body.String())
	}
}

func TestHandleBalanceDefaultsAndNewAddress(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/balance?address=never-seen", nil)
	rec := httptest.NewRecorder()
	s.NewRouter().ServeHTTP(rec, req)

	if rec.Body.String() != "1" {
		t.Fatalf("body = %q, want %q (NewAddressBalance)", rec.Body.String(), "1")
	}
}

func TestHandleConfirmationsUnknownTransaction(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/confirmations?transaction_id=does-not-exist", nil)
	rec := httptest.NewRecorder()
	s.NewRouter().ServeHTTP(rec, req)

	if rec.Body.String() != "0" {
		t.Fatalf("body = %q, want %q for an unconfirmed transaction", rec.Body.String(), "0")
	}
}

func TestHandleRegisterAndNodes(t *testing.T) {
	s, _ := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/register?url=http://peer:5001", nil)
	rec := httptest.NewRecorder()
	s.NewRouter().ServeHTTP(rec, req)
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}

	req2 := httptest.NewRequest(http.MethodGet, "/nodes", nil)
	rec2 := httptest.NewRecorder()
	s.NewRouter().ServeHTTP(rec2, req2)
	var nodes []string
	if err := json.Unmarshal(rec2.Body.Bytes(), &nodes); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(nodes) != 1 || nodes[0] != "http://peer:5001" {
		t.Fatalf("nodes = %v, want [http://peer:5001]", nodes)
	}
}
