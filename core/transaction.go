package core

import (
	"encoding/json"
	"fmt"
	"strconv"

	"github.com/google/uuid"
)

// Transaction is one signed value transfer (spec.md §3, §4.B). It is
// immutable after Sign is called successfully.
type Transaction struct {
	UUID      string `json:"uuid"`
	From      string `json:"from_addr"`
	To        string `json:"to_addr"`
	Amount    float64 `json:"amount"`
	Fee       float64 `json:"fee"`
	Msg       string `json:"msg"`
	Signature string `json:"signature"`
}

// NewTransaction assigns a fresh uuid and leaves Signature empty.
func NewTransaction(from, to string, amount, fee float64, msg string) *Transaction {
	return &Transaction{
		UUID:   uuid.New().String(),
		From:   from,
		To:     to,
		Amount: amount,
		Fee:    fee,
		Msg:    msg,
	}
}

// formatAmount pins the canonical numeric-to-decimal formatting spec.md §3
// requires: shortest round-trip decimal ('g', -1 precision), so the same
// float always serializes to the same header string across processes.
func formatAmount(v float64) string {
	return strconv.FormatFloat(v, 'g', -1, 64)
}

// Header builds the canonical signing header:
// "{uuid}:{from}:{to}:{amount}:{fee}:{msg}".
func (t *Transaction) Header() string {
	return fmt.Sprintf("%s:%s:%s:%s:%s:%s",
		t.UUID, t.From, t.To, formatAmount(t.Amount), formatAmount(t.Fee), t.Msg)
}

// Sign sets Signature to sign(priv, Header()).
func (t *Transaction) Sign(kp *KeyPair) error {
	sig, err := Sign(kp.Private, t.Header())
	if err != nil {
		return fmt.Errorf("transaction: sign %s: %w", t.UUID, err)
	}
	t.Signature = sig
	return nil
}

// IsValid reports whether the transaction is well-formed: a signature is
// present and verifies against From.
func (t *Transaction) IsValid() bool {
	if t.Signature == "" {
		return false
	}
	return Verify(t.From, t.Header(), t.Signature)
}

// ToJSON / TransactionFromJSON round-trip a Transaction as the exact field
// set named in spec.md §3. Round-trip is identity.
func (t *Transaction) ToJSON() (string, error) {
	b, err := json.Marshal(t)
	if err != nil {
		return "", fmt.Errorf("transaction: marshal %s: %w", t.UUID, err)
	}
	return string(b), nil
}

func TransactionFromJSON(data string) (*Transaction, error) {
	var t Transaction
	if err := json.Unmarshal([]byte(data), &t); err != nil {
		return nil, fmt.Errorf("transaction: unmarshal: %w", err)
	}
	return &t, nil
}
