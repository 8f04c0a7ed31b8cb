package core

import "testing"

func signedTx(t *testing.T, from *KeyPair, to string, amount, fee float64) *Transaction {
	t.Helper()
	tx := NewTransaction(from.Address, to, amount, fee, "")
	if err := tx.Sign(from); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	return tx
}

func TestBundlePayloadRoundTrip(t *testing.T) {
	alice, _ := NewKeyPair()
	bob, _ := NewKeyPair()
	bundle := NewBundle("Mined by bob", bob.Address)
	bundle.Transactions = append(bundle.Transactions, signedTx(t, alice, bob.Address, 1, 0.1))

	payload, err := bundle.ToPayload()
	if err != nil {
		t.Fatalf("ToPayload: %v", err)
	}
	back, err := BundleFromPayload(payload)
	if err != nil {
		t.Fatalf("BundleFromPayload: %v", err)
	}
	if back.MinerAddress != bundle.MinerAddress || len(back.Transactions) != 1 {
		t.Fatalf("round-trip mismatch: %+v", back)
	}
	if back.Transactions[0].UUID != bundle.Transactions[0].UUID {
		t.Fatal("transaction order/identity not preserved across ToPayload/FromPayload")
	}
}

func TestBundleIsValidRejectsBadTransaction(t *testing.T) {
	alice, _ := NewKeyPair()
	bundle := NewBundle("m", alice.Address)
	tx := NewTransaction(alice.Address, "dst", 1, 0, "") // unsigned
	bundle.Transactions = append(bundle.Transactions, tx)
	if bundle.IsValid() {
		t.Fatal("bundle with an unsigned transaction must be invalid")
	}
}

func TestEmptyBundleIsValid(t *testing.T) {
	bundle := NewBundle("genesis", "miner")
	if !bundle.IsValid() {
		t.Fatal("empty bundle must be valid")
	}
}
