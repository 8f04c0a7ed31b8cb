package core

import (
	"context"
	"testing"
	"time"

	"p2pchain/internal/testutil"
	"p2pchain/pkg/config"
)

func TestRunningFlagStop(t *testing.T) {
	rf := NewRunningFlag()
	if !rf.IsRunning() {
		t.Fatal("expected a fresh RunningFlag to start running")
	}
	rf.Stop()
	if rf.IsRunning() {
		t.Fatal("expected Stop to clear IsRunning")
	}
}

func TestMineFindsSatisfyingNonce(t *testing.T) {
	log := newTestLogger()
	chain := NewBlockChain(log)
	genesis, _ := MineGenesisBlock(0, "miner")
	chain.Append(genesis)

	b := Mine(chain, "payload", 1, 2_000_000, 0)
	if b == nil {
		t.Fatal("expected Mine to find a satisfying nonce within the budget")
	}
	if !b.SatisfiesPoW(1) {
		t.Fatal("mined block does not actually satisfy proof-of-work")
	}
	if b.Index != 1 || b.PrevHash != ComputeHash(genesis) {
		t.Fatalf("mined block not correctly chained: index=%d prevHash=%s", b.Index, b.PrevHash)
	}
}

func TestMineGivesUpAfterIntentsExhausted(t *testing.T) {
	log := newTestLogger()
	chain := NewBlockChain(log)
	chain.Append(MustMineGenesis(t, 0))

	b := Mine(chain, "payload", 64, 5, 0) // difficulty far beyond reach in 5 tries
	if b != nil {
		t.Fatal("expected Mine to return nil once intents are exhausted")
	}
}

// MustMineGenesis is a small test helper that fails the test on error rather
// than threading an error return through every call site.
func MustMineGenesis(t *testing.T, difficulty int) *Block {
	t.Helper()
	b, err := MineGenesisBlock(difficulty, "miner")
	if err != nil {
		t.Fatalf("MineGenesisBlock: %v", err)
	}
	return b
}

func TestMiningLoopStopsWhenRunningCleared(t *testing.T) {
	log := newTestLogger()
	chain := NewBlockChain(log)
	chain.Append(MustMineGenesis(t, 0))

	cfg := config.Default()
	sb, err := testutil.NewSandbox()
	if err != nil {
		t.Fatalf("NewSandbox: %v", err)
	}
	defer sb.Cleanup()
	dir := sb.Root
	pool, _ := OpenMempoolStore(dir+"/mempool.json", log)
	peers := NewPeerSet(log)
	sync := NewSynchronizer("http://self:5000", nil, chain, peers, pool, &cfg, dir, log)
	running := NewRunningFlag()

	loop := NewMiningLoop(sync, chain, dir, &cfg, running, log)
	loop.IntentsPerIteration = 1000
	loop.Yield = 0

	done := make(chan struct{})
	go func() {
		loop.Run(context.Background())
		close(done)
	}()

	running.Stop()
	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("MiningLoop.Run did not exit promptly after Running.Stop()")
	}
}
