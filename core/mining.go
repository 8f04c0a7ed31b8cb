package core

import (
	"context"
	"sync"
	"time"

	"github.com/sirupsen/logrus"

	"p2pchain/pkg/config"
)

// RunningFlag is the shared cancellation flag spec.md §5 describes: set to
// false by the Node Service's exit hook and polled by the Mining Loop at
// the top of each iteration. It is the simplest of the three concurrency
// options DESIGN NOTES §9 lists (mutex-protected shared state in a single
// process), which is what this port uses.
type RunningFlag struct {
	mu      sync.RWMutex
	running bool
}

func NewRunningFlag() *RunningFlag { return &RunningFlag{running: true} }

func (r *RunningFlag) Stop() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.running = false
}

func (r *RunningFlag) IsRunning() bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return r.running
}

// DefaultMineYield is the 10ms sleep between nonce attempts spec.md §9
// calls "intentional yielding, not a rate limit" — tunable, not load
// bearing for correctness.
const DefaultMineYield = 10 * time.Millisecond

// Mine tries nonces 0..intents-1 against the given payload, returning the
// first block whose hash satisfies difficulty, or nil after intents tries
// (spec.md §4.I step 2).
func Mine(chain *BlockChain, data string, difficulty, intents int, yield time.Duration) *Block {
	index := chain.NextIndex()
	prevHash := ""
	if head := chain.Head(); head != nil {
		prevHash = ComputeHash(head)
	}
	for nonce := 0; nonce < intents; nonce++ {
		b := NewBlock(index, prevHash, data, nonce)
		if b.SatisfiesPoW(difficulty) {
			return b
		}
		if yield > 0 {
			time.Sleep(yield)
		}
	}
	return nil
}

// MiningLoop drives the Synchronizer, then attempts proof-of-work on the
// bundle it returns, forever while Running holds (spec.md §4.I). Grounded
// on core/mining_node.go's NewMiningNode/StartMining/StopMining wiring
// shape in the teacher repo.
type MiningLoop struct {
	Sync     *Synchronizer
	Chain    *BlockChain
	ChainDir string
	Cfg      *config.Config
	Running  *RunningFlag

	// IntentsPerIteration bounds how many nonces are tried before moving on
	// to the next synchronization round; zero tries no nonce at all, so no
	// block is mined in that iteration.
	IntentsPerIteration int
	Yield               time.Duration

	log *logrus.Logger
}

func NewMiningLoop(sync *Synchronizer, chain *BlockChain, chainDir string, cfg *config.Config, running *RunningFlag, log *logrus.Logger) *MiningLoop {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &MiningLoop{
		Sync: sync, Chain: chain, ChainDir: chainDir, Cfg: cfg, Running: running,
		IntentsPerIteration: 200000,
		Yield:               DefaultMineYield,
		log:                 log,
	}
}

// Run blocks, executing synchronize-then-mine iterations until Running is
// cleared or ctx is cancelled.
func (m *MiningLoop) Run(ctx context.Context) {
	for m.Running.IsRunning() {
		select {
		case <-ctx.Done():
			return
		default:
		}

		payload, err := m.Sync.RunOnce(ctx)
		if err != nil {
			m.log.Errorf("mining: synchronizer iteration failed: %v", err)
			continue
		}

		block := Mine(m.Chain, payload, m.Cfg.Difficulty, m.IntentsPerIteration, m.Yield)
		if block == nil {
			continue
		}

		m.Chain.Append(block)
		if err := m.Chain.SaveBlock(m.ChainDir, block); err != nil {
			m.log.Errorf("mining: persist block %d: %v", block.Index, err)
		}
		m.log.WithFields(logrus.Fields{"index": block.Index, "hash": block.Hash}).Info("mining: mined new block")
	}
}
