package core

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"sync"

	"github.com/sirupsen/logrus"
)

// BlockChain is an ordered, mutex-guarded sequence of blocks (spec.md §3,
// §4.E). It is the correctness nucleus: validity, balance accounting, and
// fork resolution all live here.
type BlockChain struct {
	mu     sync.RWMutex
	blocks []*Block
	log    *logrus.Logger
}

// NewBlockChain returns an empty chain. An empty chain is valid per spec.md
// §4.E.
func NewBlockChain(log *logrus.Logger) *BlockChain {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &BlockChain{blocks: []*Block{}, log: log}
}

// MineGenesisBlock searches nonces until an empty-bundle block at index 0,
// empty prev_hash, satisfies difficulty D. Used to bootstrap a brand new
// node that cannot reach any peer with a longer chain (spec.md §4
// Supplemented features: genesis bootstrapping, grounded on
// original_source/blockchain.py's constructor behavior).
func MineGenesisBlock(difficulty int, minerAddr string) (*Block, error) {
	bundle := NewBundle("genesis", minerAddr)
	payload, err := bundle.ToPayload()
	if err != nil {
		return nil, fmt.Errorf("chain: genesis payload: %w", err)
	}
	for nonce := 0; ; nonce++ {
		b := NewBlock(0, "", payload, nonce)
		if b.SatisfiesPoW(difficulty) {
			return b, nil
		}
	}
}

// IsValid checks every invariant in spec.md §4.E against an arbitrary slice
// of blocks (used both as BlockChain.IsValid and to vet chains fetched from
// peers before adopting them).
func IsValid(blocks []*Block, difficulty int, newAddressBalance float64) bool {
	if len(blocks) == 0 {
		return true
	}
	if blocks[0].Index != 0 {
		return false
	}
	seen := make(map[string]bool)
	balances := make(map[string]float64)
	for i, b := range blocks {
		if !b.SatisfiesPoW(difficulty) {
			return false
		}
		if i > 0 && !IsValidSuccessor(blocks[i-1], b) {
			return false
		}
		bundle, err := BundleFromPayload(b.Data)
		if err != nil || !bundle.IsValid() {
			return false
		}
		for _, tx := range bundle.Transactions {
			if seen[tx.UUID] {
				return false
			}
			seen[tx.UUID] = true
		}
		if !applyBundleToBalances(balances, bundle, newAddressBalance) {
			return false
		}
	}
	return true
}

// applyBundleToBalances applies every transaction in bundle in order,
// returning false the instant any balance would go
// negative (spec.md §3 balance semantics). BLOCK_REWARD is intentionally
// not applied here: callers that need reward accounting use
// GetBalances/applyBlock, which is the only place the per-block reward is
// added; IsValid only needs to confirm no prefix goes negative under
// transactions, so it calls this without a reward amount (reward is always
// non-negative and can only raise balances, never invalidate a chain).
func applyBundleToBalances(balances map[string]float64, bundle *TransactionBundle, newAddressBalance float64) bool {
	get := func(addr string) float64 {
		if v, ok := balances[addr]; ok {
			return v
		}
		return newAddressBalance
	}
	for _, tx := range bundle.Transactions {
		fromBal := get(tx.From)
		cost := tx.Amount + tx.Fee
		if fromBal-cost < 0 {
			return false
		}
		balances[tx.From] = fromBal - cost
		balances[tx.To] = get(tx.To) + tx.Amount
		balances[bundle.MinerAddress] = get(bundle.MinerAddress) + tx.Fee
	}
	return true
}

// IsValid is the BlockChain method form of the package-level IsValid.
func (c *BlockChain) IsValid(difficulty int, newAddressBalance float64) bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return IsValid(c.blocks, difficulty, newAddressBalance)
}

// GetBalances applies all blocks up to and including index
// len(chain)-confirmations, yielding the balance of every address seen. A
// block at index i has len(chain)-i confirmations, so confirmations=1 (the
// default) means "all confirmed blocks", the head included; confirmations=0
// also includes the head.
func (c *BlockChain) GetBalances(confirmations int, newAddressBalance, blockReward float64) map[string]float64 {
	c.mu.RLock()
	defer c.mu.RUnlock()

	cutoff := len(c.blocks) - confirmations + 1
	if cutoff < 0 {
		cutoff = 0
	}
	if cutoff > len(c.blocks) {
		cutoff = len(c.blocks)
	}

	balances := make(map[string]float64)
	get := func(addr string) float64 {
		if v, ok := balances[addr]; ok {
			return v
		}
		return newAddressBalance
	}
	for i := 0; i < cutoff; i++ {
		b := c.blocks[i]
		bundle, err := BundleFromPayload(b.Data)
		if err != nil {
			continue
		}
		for _, tx := range bundle.Transactions {
			balances[tx.From] = get(tx.From) - tx.Amount - tx.Fee
			balances[tx.To] = get(tx.To) + tx.Amount
			balances[bundle.MinerAddress] = get(bundle.MinerAddress) + tx.Fee
		}
		balances[bundle.MinerAddress] = get(bundle.MinerAddress) + blockReward
	}
	return balances
}

// GetBalance returns newAddressBalance if addr has never been seen, else its
// computed balance.
func (c *BlockChain) GetBalance(addr string, confirmations int, newAddressBalance, blockReward float64) float64 {
	balances := c.GetBalances(confirmations, newAddressBalance, blockReward)
	if v, ok := balances[addr]; ok {
		return v
	}
	return newAddressBalance
}

// NextIndex is the index the next appended block must carry.
func (c *BlockChain) NextIndex() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.blocks)
}

// Len returns the number of blocks on the chain.
func (c *BlockChain) Len() int {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return len(c.blocks)
}

// Head returns the last block, or nil for an empty chain.
func (c *BlockChain) Head() *Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if len(c.blocks) == 0 {
		return nil
	}
	return c.blocks[len(c.blocks)-1]
}

// Block returns the block at index, or nil if out of range.
func (c *BlockChain) Block(index int) *Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if index < 0 || index >= len(c.blocks) {
		return nil
	}
	return c.blocks[index]
}

// Blocks returns a shallow copy of the block slice.
func (c *BlockChain) Blocks() []*Block {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]*Block, len(c.blocks))
	copy(out, c.blocks)
	return out
}

// Append adds a block with no validity check; the caller must ensure it is a
// valid successor, per spec.md §4.E.
func (c *BlockChain) Append(b *Block) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks = append(c.blocks, b)
}

// Replace atomically swaps the entire block slice, used when adopting a
// longer chain from a peer.
func (c *BlockChain) Replace(blocks []*Block) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.blocks = blocks
}

// AsJSON serializes the chain as a JSON array of block objects.
func (c *BlockChain) AsJSON() (string, error) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out, err := json.Marshal(c.blocks)
	if err != nil {
		return "", fmt.Errorf("chain: marshal: %w", err)
	}
	return string(out), nil
}

// ChainFromJSON parses a JSON array of block objects into a slice of blocks
// (not yet wrapped in a BlockChain, so callers can validate before adopting
// it).
func ChainFromJSON(data []byte) ([]*Block, error) {
	var blocks []*Block
	if err := json.Unmarshal(data, &blocks); err != nil {
		return nil, fmt.Errorf("chain: unmarshal: %w", err)
	}
	return blocks, nil
}

// ForkPoint returns the smallest index at which a and b differ, or -1 if
// even genesis differs (or either is empty).
func ForkPoint(a, b []*Block) int {
	if len(a) == 0 || len(b) == 0 {
		return -1
	}
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if ComputeHash(a[i]) != ComputeHash(b[i]) {
			if i == 0 {
				return -1
			}
			return i
		}
	}
	return n
}

// blockFileName is the per-block persisted file name, spec.md §6.
func blockFileName(index int) string {
	return fmt.Sprintf("%06d.json", index)
}

// Save persists every block to dir, one file per block (last-writer-wins by
// index, per spec.md §7: a failed write on one block doesn't corrupt the
// others, and the next successful Save re-persists the tail).
func (c *BlockChain) Save(dir string) error {
	c.mu.RLock()
	blocks := make([]*Block, len(c.blocks))
	copy(blocks, c.blocks)
	c.mu.RUnlock()

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("chain: mkdir %s: %w", dir, err)
	}
	for _, b := range blocks {
		data, err := json.Marshal(b)
		if err != nil {
			c.log.Errorf("chain: marshal block %d: %v", b.Index, err)
			continue
		}
		path := filepath.Join(dir, blockFileName(b.Index))
		if err := os.WriteFile(path, data, 0o644); err != nil {
			c.log.Errorf("chain: write block %d: %v", b.Index, err)
			continue
		}
	}
	return nil
}

// SaveBlock persists a single block file, used by the mining loop after
// successfully mining one new block instead of rewriting the whole chain.
func (c *BlockChain) SaveBlock(dir string, b *Block) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("chain: mkdir %s: %w", dir, err)
	}
	data, err := json.Marshal(b)
	if err != nil {
		return fmt.Errorf("chain: marshal block %d: %w", b.Index, err)
	}
	path := filepath.Join(dir, blockFileName(b.Index))
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("chain: write block %d: %w", b.Index, err)
	}
	return nil
}

// Load reads every block file in dir, in index order. Malformed files are
// treated as absent (tolerating a partially-written new block), per
// spec.md §5.
func Load(dir string, log *logrus.Logger) (*BlockChain, error) {
	if log == nil {
		log = logrus.StandardLogger()
	}
	entries, err := os.ReadDir(dir)
	if os.IsNotExist(err) {
		return NewBlockChain(log), nil
	}
	if err != nil {
		return nil, fmt.Errorf("chain: read dir %s: %w", dir, err)
	}

	names := make([]string, 0, len(entries))
	for _, e := range entries {
		if !e.IsDir() {
			names = append(names, e.Name())
		}
	}
	sort.Strings(names)

	blocks := make([]*Block, 0, len(names))
	for _, name := range names {
		data, err := os.ReadFile(filepath.Join(dir, name))
		if err != nil {
			log.Warnf("chain: skipping unreadable block file %s: %v", name, err)
			continue
		}
		b, err := BlockFromJSON(data)
		if err != nil {
			log.Warnf("chain: skipping malformed block file %s: %v", name, err)
			continue
		}
		blocks = append(blocks, b)
	}
	return &BlockChain{blocks: blocks, log: log}, nil
}
