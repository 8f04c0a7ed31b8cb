package core

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"sort"
	"strconv"
	"time"

	"github.com/sirupsen/logrus"

	"p2pchain/pkg/config"
)

// Synchronizer runs the five per-iteration steps of spec.md §4.H: refresh
// peers, adopt the longest valid chain, gossip unprocessed transactions,
// reconcile the mempool with the chain, and build the next bundle. It is
// grounded on core/blockchain_synchronization.go's SyncManager shape in the
// teacher repo (background loop, logrus narration, Start/Stop), generalized
// from "delegate to a Replicator" to these concrete HTTP steps.
type Synchronizer struct {
	Self    string
	Seeds   []string
	Chain   *BlockChain
	Peers   *PeerSet
	Pool    *MempoolStore
	Cfg     *config.Config
	ChainDir string

	client *http.Client
	log    *logrus.Logger
}

// NewSynchronizer wires a Synchronizer from its dependencies.
func NewSynchronizer(self string, seeds []string, chain *BlockChain, peers *PeerSet, pool *MempoolStore, cfg *config.Config, chainDir string, log *logrus.Logger) *Synchronizer {
	if log == nil {
		log = logrus.StandardLogger()
	}
	return &Synchronizer{
		Self: self, Seeds: seeds, Chain: chain, Peers: peers, Pool: pool,
		Cfg: cfg, ChainDir: chainDir,
		client: &http.Client{Timeout: 5 * time.Second},
		log:    log,
	}
}

// RunOnce executes steps 1-5 in order and returns the serialized bundle to
// hand the miner (spec.md §4.H step 5, §4.I step 1).
func (s *Synchronizer) RunOnce(ctx context.Context) (string, error) {
	s.refreshPeers(ctx)
	s.adoptLongestChain(ctx)
	s.gossipUnprocessed(ctx)
	if err := s.reconcileMempool(); err != nil {
		return "", fmt.Errorf("sync: reconcile mempool: %w", err)
	}
	return s.buildNextBundle()
}

// --- step 1: peer refresh ---------------------------------------------

func (s *Synchronizer) refreshPeers(ctx context.Context) {
	candidates := map[string]bool{}
	for _, p := range s.Peers.Keys() {
		candidates[p] = true
	}
	for _, p := range s.Seeds {
		candidates[p] = true
	}
	delete(candidates, s.Self)

	level2 := map[string]bool{}
	for peer := range candidates {
		nodes, err := s.getNodes(ctx, peer)
		if err != nil {
			s.log.Warnf("sync: peer refresh: %s unreachable: %v", peer, err)
			s.Peers.Drop(peer)
			continue
		}
		for _, n := range nodes {
			level2[n] = true
		}
	}

	now := time.Now()
	for peer := range level2 {
		if peer == s.Self {
			continue
		}
		if err := s.register(ctx, peer); err != nil {
			s.log.Warnf("sync: register with %s failed: %v", peer, err)
			s.Peers.Drop(peer)
			continue
		}
		s.Peers.Upsert(peer, now)
	}
}

func (s *Synchronizer) getNodes(ctx context.Context, peer string) ([]string, error) {
	body, err := s.get(ctx, peer+"/nodes")
	if err != nil {
		return nil, err
	}
	var nodes []string
	if err := json.Unmarshal(body, &nodes); err != nil {
		return nil, fmt.Errorf("malformed /nodes response: %w", err)
	}
	return nodes, nil
}

func (s *Synchronizer) register(ctx context.Context, peer string) error {
	u := peer + "/register?url=" + url.QueryEscape(s.Self)
	_, err := s.get(ctx, u)
	return err
}

// --- step 2: adopt longest valid chain ----------------------------------

func (s *Synchronizer) adoptLongestChain(ctx context.Context) {
	local := s.Chain.Blocks()
	best := local
	bestFromPeer := false

	for _, peer := range s.Peers.Keys() {
		length, err := s.chainLength(ctx, peer)
		if err != nil {
			s.log.Warnf("sync: chainlength from %s: %v", peer, err)
			s.Peers.Drop(peer)
			continue
		}
		if length <= len(local) {
			continue
		}
		blocks, err := s.fetchChain(ctx, peer)
		if err != nil {
			s.log.Warnf("sync: blockchain from %s: %v", peer, err)
			s.Peers.Drop(peer)
			continue
		}
		if !IsValid(blocks, s.Cfg.Difficulty, s.Cfg.NewAddressBalance) {
			s.log.Warnf("sync: invalid chain from %s, ignoring", peer)
			continue
		}
		// Strict > preserves the first-seen winner on ties.
		if len(blocks) > len(best) {
			best = blocks
			bestFromPeer = true
		}
	}

	if bestFromPeer {
		s.Chain.Replace(best)
		if err := s.Chain.Save(s.ChainDir); err != nil {
			s.log.Errorf("sync: persist adopted chain: %v", err)
		}
		s.log.Infof("sync: adopted longer chain (%d blocks)", len(best))
	}
}

func (s *Synchronizer) chainLength(ctx context.Context, peer string) (int, error) {
	body, err := s.get(ctx, peer+"/chainlength")
	if err != nil {
		return 0, err
	}
	return strconv.Atoi(string(body))
}

func (s *Synchronizer) fetchChain(ctx context.Context, peer string) ([]*Block, error) {
	body, err := s.get(ctx, peer+"/blockchain")
	if err != nil {
		return nil, err
	}
	return ChainFromJSON(body)
}

// --- step 3: gossip unprocessed transactions ----------------------------

func (s *Synchronizer) gossipUnprocessed(ctx context.Context) {
	for _, peer := range s.Peers.Keys() {
		body, err := s.get(ctx, peer+"/unprocessed")
		if err != nil {
			s.log.Warnf("sync: unprocessed from %s: %v", peer, err)
			s.Peers.Drop(peer)
			continue
		}
		var txs []*Transaction
		if err := json.Unmarshal(body, &txs); err != nil {
			s.log.Warnf("sync: malformed /unprocessed from %s, treating as dead this iteration: %v", peer, err)
			continue
		}
		for _, tx := range txs {
			// Not re-validated here; the sender is trusted to have
			// validated, per spec.md §4.H step 3. Validity is re-checked
			// when a bundle is built.
			if err := s.Pool.InsertIfAbsent(tx); err != nil {
				s.log.Warnf("sync: insert gossiped tx %s: %v", tx.UUID, err)
			}
		}
	}
}

// --- step 4: reconcile mempool with chain -------------------------------

func (s *Synchronizer) reconcileMempool() error {
	if err := s.Pool.UnmarkAll(); err != nil {
		return err
	}
	for _, b := range s.Chain.Blocks() {
		bundle, err := BundleFromPayload(b.Data)
		if err != nil {
			s.log.Warnf("sync: block %d has unparsable bundle: %v", b.Index, err)
			continue
		}
		for _, tx := range bundle.Transactions {
			if err := s.Pool.InsertIfAbsent(tx); err != nil {
				return err
			}
			if err := s.Pool.Mark(tx.UUID, b.Index); err != nil {
				return err
			}
		}
	}
	return nil
}

// --- step 5: build next bundle ------------------------------------------

func (s *Synchronizer) buildNextBundle() (string, error) {
	unprocessed := s.Pool.Unprocessed()
	sort.Slice(unprocessed, func(i, j int) bool { return unprocessed[i].Fee > unprocessed[j].Fee })

	balances := s.Chain.GetBalances(1, s.Cfg.NewAddressBalance, s.Cfg.BlockReward)
	get := func(addr string) float64 {
		if v, ok := balances[addr]; ok {
			return v
		}
		return s.Cfg.NewAddressBalance
	}

	bundle := NewBundle(fmt.Sprintf("Mined by %s", s.Self), s.Self)
	for _, tx := range unprocessed {
		if len(bundle.Transactions) >= s.Cfg.MaxTransactionsPerBlock {
			break
		}
		if !tx.IsValid() {
			continue // gossiped transactions are validated here, not on receipt
		}
		cost := tx.Amount + tx.Fee
		if get(tx.From)-cost < 0 {
			continue // sender can't afford it; stays unprocessed (spec.md §8 S6)
		}
		balances[tx.From] = get(tx.From) - cost
		balances[tx.To] = get(tx.To) + tx.Amount
		balances[bundle.MinerAddress] = get(bundle.MinerAddress) + tx.Fee
		bundle.Transactions = append(bundle.Transactions, tx)
	}
	return bundle.ToPayload()
}

// --- shared HTTP helper ---------------------------------------------------

func (s *Synchronizer) get(ctx context.Context, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	resp, err := s.client.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, rawURL)
	}
	return io.ReadAll(resp.Body)
}
