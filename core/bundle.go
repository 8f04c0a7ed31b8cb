package core

import (
	"encoding/json"
	"fmt"
)

// TransactionBundle is a block's payload: an ordered list of transactions
// plus the address that receives the block reward and all fees (spec.md
// §3, §4.C). Order is preserved bit-exactly across ToPayload/FromPayload.
type TransactionBundle struct {
	Msg          string         `json:"msg"`
	MinerAddress string         `json:"miner_address"`
	Transactions []*Transaction `json:"transactions"`
}

// NewBundle returns an empty bundle labeled msg, paying miner.
func NewBundle(msg, miner string) *TransactionBundle {
	return &TransactionBundle{Msg: msg, MinerAddress: miner, Transactions: []*Transaction{}}
}

// ToPayload serializes the bundle to the block's opaque data string.
func (b *TransactionBundle) ToPayload() (string, error) {
	out, err := json.Marshal(b)
	if err != nil {
		return "", fmt.Errorf("bundle: marshal: %w", err)
	}
	return string(out), nil
}

// BundleFromPayload is the inverse of ToPayload.
func BundleFromPayload(data string) (*TransactionBundle, error) {
	var b TransactionBundle
	if err := json.Unmarshal([]byte(data), &b); err != nil {
		return nil, fmt.Errorf("bundle: unmarshal: %w", err)
	}
	if b.Transactions == nil {
		b.Transactions = []*Transaction{}
	}
	return &b, nil
}

// IsValid reports whether every transaction in the bundle is well-formed.
func (b *TransactionBundle) IsValid() bool {
	for _, tx := range b.Transactions {
		if !tx.IsValid() {
			return false
		}
	}
	return true
}
