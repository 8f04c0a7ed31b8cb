package core

import "testing"

func TestTransactionSignAndValidate(t *testing.T) {
	kp, _ := NewKeyPair()
	tx := NewTransaction(kp.Address, "receiver-addr", 2.5, 0.1, "payment")
	if tx.IsValid() {
		t.Fatal("unsigned transaction must not be valid")
	}
	if err := tx.Sign(kp); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	if !tx.IsValid() {
		t.Fatal("signed transaction must be valid")
	}
}

func TestTransactionHeaderIsDeterministic(t *testing.T) {
	kp, _ := NewKeyPair()
	tx1 := &Transaction{UUID: "fixed-uuid", From: kp.Address, To: "dst", Amount: 1, Fee: 0.5, Msg: "m"}
	tx2 := &Transaction{UUID: "fixed-uuid", From: kp.Address, To: "dst", Amount: 1, Fee: 0.5, Msg: "m"}
	if tx1.Header() != tx2.Header() {
		t.Fatalf("identical transactions produced different headers: %q vs %q", tx1.Header(), tx2.Header())
	}
}

func TestTransactionTamperingInvalidatesSignature(t *testing.T) {
	kp, _ := NewKeyPair()
	tx := NewTransaction(kp.Address, "dst", 1, 0, "m")
	if err := tx.Sign(kp); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	tx.Amount = 1000
	if tx.IsValid() {
		t.Fatal("mutated transaction must fail validation")
	}
}

func TestTransactionJSONRoundTrip(t *testing.T) {
	kp, _ := NewKeyPair()
	tx := NewTransaction(kp.Address, "dst", 3, 0.25, "note")
	if err := tx.Sign(kp); err != nil {
		t.Fatalf("Sign: %v", err)
	}
	body, err := tx.ToJSON()
	if err != nil {
		t.Fatalf("ToJSON: %v", err)
	}
	back, err := TransactionFromJSON(body)
	if err != nil {
		t.Fatalf("TransactionFromJSON: %v", err)
	}
	if back.UUID != tx.UUID || back.Signature != tx.Signature || back.Amount != tx.Amount {
		t.Fatalf("round-trip mismatch: got %+v, want %+v", back, tx)
	}
	if !back.IsValid() {
		t.Fatal("round-tripped transaction must still validate")
	}
}
