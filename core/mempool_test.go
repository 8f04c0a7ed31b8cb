package core

import (
	"path/filepath"
	"testing"

	"p2pchain/internal/testutil"
)

func TestMempoolInsertIfAbsentIsIdempotent(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	defer sb.Cleanup()
	store, err := OpenMempoolStore(filepath.Join(sb.Root, "mempool.json"), newTestLogger())
	if err != nil {
		t.Fatalf("OpenMempoolStore: %v", err)
	}
	alice, _ := NewKeyPair()
	tx := signedTx(t, alice, "bob", 1, 0)

	for i := 0; i < 3; i++ {
		if err := store.InsertIfAbsent(tx); err != nil {
			t.Fatalf("InsertIfAbsent: %v", err)
		}
	}
	if got := len(store.Unprocessed()); got != 1 {
		t.Fatalf("expected exactly one row after repeated insertion, got %d", got)
	}
}

func TestMempoolMarkAndUnmarkAll(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	defer sb.Cleanup()
	store, _ := OpenMempoolStore(filepath.Join(sb.Root, "mempool.json"), newTestLogger())
	alice, _ := NewKeyPair()
	tx := signedTx(t, alice, "bob", 1, 0)
	_ = store.InsertIfAbsent(tx)

	if len(store.Unprocessed()) != 1 {
		t.Fatal("expected tx to be unprocessed before Mark")
	}
	if err := store.Mark(tx.UUID, 5); err != nil {
		t.Fatalf("Mark: %v", err)
	}
	if len(store.Unprocessed()) != 0 {
		t.Fatal("expected tx to disappear from Unprocessed after Mark")
	}
	if err := store.UnmarkAll(); err != nil {
		t.Fatalf("UnmarkAll: %v", err)
	}
	if len(store.Unprocessed()) != 1 {
		t.Fatal("expected tx to reappear as unprocessed after UnmarkAll")
	}
}

func TestMempoolPersistsAcrossReopen(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	defer sb.Cleanup()
	path := filepath.Join(sb.Root, "mempool.json")
	store, _ := OpenMempoolStore(path, newTestLogger())
	alice, _ := NewKeyPair()
	tx := signedTx(t, alice, "bob", 1, 0)
	if err := store.InsertIfAbsent(tx); err != nil {
		t.Fatalf("InsertIfAbsent: %v", err)
	}

	reopened, err := OpenMempoolStore(path, newTestLogger())
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	if !reopened.Exists(tx.UUID) {
		t.Fatal("expected transaction to survive reopening the store")
	}
}

func TestMempoolBalanceAdjustments(t *testing.T) {
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	defer sb.Cleanup()
	store, _ := OpenMempoolStore(filepath.Join(sb.Root, "mempool.json"), newTestLogger())
	alice, _ := NewKeyPair()
	tx := signedTx(t, alice, "bob", 2, 0.5)
	_ = store.InsertIfAbsent(tx)

	received, transferred := store.BalanceAdjustments("bob")
	if received != 2 || transferred != 0 {
		t.Fatalf("bob adjustments = (%v, %v), want (2, 0)", received, transferred)
	}
	received, transferred = store.BalanceAdjustments(alice.Address)
	if received != 0 || transferred != 2.5 {
		t.Fatalf("alice adjustments = (%v, %v), want (0, 2.5)", received, transferred)
	}

	if err := store.Mark(tx.UUID, 1); err != nil {
		t.Fatalf("Mark: %v", err)
	}
	received, transferred = store.BalanceAdjustments("bob")
	if received != 0 || transferred != 0 {
		t.Fatal("confirmed transactions must not count toward mempool balance adjustments")
	}
}
