package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/sirupsen/logrus"
)

// mempoolRow mirrors the SQL schema spec.md §6 describes
// (transactions(uuid PK, from_addr, to_addr, amount, fee, msg, signature,
// block nullable int)) as a single row. Block is nil for an unprocessed
// transaction.
type mempoolRow struct {
	Tx    *Transaction `json:"tx"`
	Block *int         `json:"block,omitempty"`
}

// MempoolStore is a durable, mutex-guarded keyed store of known
// transactions (spec.md §3, §4.F). No SQL driver is vendored anywhere in
// the example pack this repo was grounded on, so this is the "equivalent
// keyed store" spec.md explicitly allows: an in-memory map persisted as a
// single JSON file on every mutation, the way core/coin.go's ledger
// snapshot/persist pattern works in the teacher repo.
type MempoolStore struct {
	mu   sync.RWMutex
	rows map[string]*mempoolRow
	path string
	log  *logrus.Logger
}

// OpenMempoolStore loads path if it exists, or starts empty. It is opened
// once per node and shared between the Node Service and the Mining Loop
// (spec.md §3 ownership note).
func OpenMempoolStore(path string, log *logrus.Logger) (*MempoolStore, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	m := &MempoolStore{rows: make(map[string]*mempoolRow), path: path, log: log}

	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return m, nil
	}
	if err != nil {
		return nil, fmt.Errorf("mempool: read %s: %w", path, err)
	}
	var rows map[string]*mempoolRow
	if err := json.Unmarshal(data, &rows); err != nil {
		return nil, fmt.Errorf("mempool: unmarshal %s: %w", path, err)
	}
	m.rows = rows
	return m, nil
}

// persist must be called with mu held.
func (m *MempoolStore) persist() error {
	if m.path == "" {
		return nil
	}
	if err := os.MkdirAll(filepath.Dir(m.path), 0o755); err != nil {
		return fmt.Errorf("mempool: mkdir: %w", err)
	}
	data, err := json.Marshal(m.rows)
	if err != nil {
		return fmt.Errorf("mempool: marshal: %w", err)
	}
	if err := os.WriteFile(m.path, data, 0o644); err != nil {
		return fmt.Errorf("mempool: write %s: %w", m.path, err)
	}
	return nil
}

// InsertIfAbsent is idempotent on tx.UUID, per spec.md §4.F and the
// idempotence property in §8.
func (m *MempoolStore) InsertIfAbsent(tx *Transaction) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.rows[tx.UUID]; ok {
		return nil
	}
	m.rows[tx.UUID] = &mempoolRow{Tx: tx}
	return m.persist()
}

// Exists reports whether uuid is known to the store.
func (m *MempoolStore) Exists(uuid string) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.rows[uuid]
	return ok
}

// Unprocessed returns every transaction whose block pointer is absent.
func (m *MempoolStore) Unprocessed() []*Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Transaction, 0, len(m.rows))
	for _, row := range m.rows {
		if row.Block == nil {
			out = append(out, row.Tx)
		}
	}
	return out
}

// Mark sets the confirming block index for uuid. Unknown uuids are a no-op.
func (m *MempoolStore) Mark(uuid string, blockIndex int) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	row, ok := m.rows[uuid]
	if !ok {
		return nil
	}
	idx := blockIndex
	row.Block = &idx
	return m.persist()
}

// UnmarkAll clears every row's block pointer. Called on node startup
// (spec.md §4.F: "local authoritative chain is empty until reload") and at
// the start of mempool reconciliation (spec.md §4.H step 4).
func (m *MempoolStore) UnmarkAll() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, row := range m.rows {
		row.Block = nil
	}
	return m.persist()
}

// BalanceAdjustments sums, over unprocessed rows only, what addr would
// receive and what it would transfer (amount+fee), per spec.md §4.F.
func (m *MempoolStore) BalanceAdjustments(addr string) (received, transferred float64) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, row := range m.rows {
		if row.Block != nil {
			continue
		}
		tx := row.Tx
		if tx.To == addr {
			received += tx.Amount
		}
		if tx.From == addr {
			transferred += tx.Amount + tx.Fee
		}
	}
	return received, transferred
}

// All returns every known transaction regardless of confirmation state,
// used by reconciliation and diagnostics.
func (m *MempoolStore) All() []*Transaction {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Transaction, 0, len(m.rows))
	for _, row := range m.rows {
		out = append(out, row.Tx)
	}
	return out
}
