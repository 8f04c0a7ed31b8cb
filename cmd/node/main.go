// Command node runs a single blockchain node: the HTTP Request Handler and
// the background Mining Loop, sharing the Peer Set, Mempool Store, and
// running flag described in spec.md §5. Grounded on
// cmd/xchainserver/main.go's plain net/http bootstrap in the teacher repo,
// generalized to cobra flags the way cmd/synnergy/main.go wires subcommands.
package main

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"p2pchain/core"
	"p2pchain/internal/httpapi"
	"p2pchain/pkg/config"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		logrus.Warnf("node: .env load: %v", err)
	}

	var (
		host      string
		port      int
		dbfile    string
		minerFlag string
	)

	cmd := &cobra.Command{
		Use:   "node [peer-url ...]",
		Short: "run a p2pchain node",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runNode(host, port, dbfile, minerFlag, args)
		},
	}
	cmd.Flags().StringVarP(&host, "host", "H", "0.0.0.0", "address to bind the HTTP service to")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port to bind to; 0 auto-picks the first free port >= 5000")
	cmd.Flags().StringVarP(&dbfile, "dbfile", "d", "", "mempool store file path; defaults under DATA_DIR/{port}")
	cmd.Flags().StringVarP(&minerFlag, "miner", "m", "", "miner address, or a seed string to derive a demo keypair from")

	if err := cmd.Execute(); err != nil {
		logrus.Fatal(err)
	}
}

func runNode(host string, port int, dbfile, minerFlag string, peers []string) error {
	log := logrus.StandardLogger()

	cfg, err := config.LoadFromEnv()
	if err != nil {
		return fmt.Errorf("node: load config: %w", err)
	}

	if port == 0 {
		port, err = firstFreePort(host, 5000)
		if err != nil {
			return fmt.Errorf("node: auto-select port: %w", err)
		}
	}

	minerAddr, err := resolveMinerAddress(minerFlag)
	if err != nil {
		return fmt.Errorf("node: resolve miner address: %w", err)
	}

	dataDir := os.Getenv("DATA_DIR")
	if dataDir == "" {
		dataDir = cfg.DataDir
	}
	nodeDir := filepath.Join(dataDir, strconv.Itoa(port))
	chainDir := filepath.Join(nodeDir, "chaindata")
	if err := os.MkdirAll(chainDir, 0o755); err != nil {
		return fmt.Errorf("node: create chain dir: %w", err)
	}
	if dbfile == "" {
		dbfile = filepath.Join(nodeDir, "mempool.json")
	}

	chain, err := core.Load(chainDir, log)
	if err != nil {
		return fmt.Errorf("node: load chain: %w", err)
	}
	if chain.Len() == 0 {
		log.Info("node: bootstrapping genesis block")
		genesis, err := core.MineGenesisBlock(cfg.Difficulty, minerAddr)
		if err != nil {
			return fmt.Errorf("node: mine genesis block: %w", err)
		}
		chain.Append(genesis)
		if err := chain.Save(chainDir); err != nil {
			return fmt.Errorf("node: persist genesis block: %w", err)
		}
	}
	if !chain.IsValid(cfg.Difficulty, cfg.NewAddressBalance) {
		log.Fatal("node: local chain fails validity at startup; refusing to start")
	}

	pool, err := core.OpenMempoolStore(dbfile, log)
	if err != nil {
		return fmt.Errorf("node: open mempool store: %w", err)
	}
	if err := pool.UnmarkAll(); err != nil {
		return fmt.Errorf("node: reset mempool marks: %w", err)
	}

	peerSet := core.NewPeerSet(log)
	running := core.NewRunningFlag()
	self := fmt.Sprintf("http://%s:%d", publicHost(host), port)

	seeds := append([]string{}, cfg.NodeAddresses...)
	seeds = append(seeds, peers...)

	sync := core.NewSynchronizer(self, seeds, chain, peerSet, pool, cfg, chainDir, log)
	loop := core.NewMiningLoop(sync, chain, chainDir, cfg, running, log)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go loop.Run(ctx)

	server := httpapi.NewServer(self, chainDir, pool, peerSet, cfg, running, log)

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	go func() {
		<-sig
		log.Info("node: shutdown signal received")
		running.Stop()
		cancel()
		os.Exit(0)
	}()

	addr := net.JoinHostPort(host, strconv.Itoa(port))
	log.WithFields(logrus.Fields{"addr": addr, "miner": minerAddr}).Info("node: listening")
	if err := server.ListenAndServe(addr); err != nil {
		return fmt.Errorf("node: http server: %w", err)
	}
	return nil
}

// firstFreePort probes ports starting at from until one binds successfully,
// per spec.md §6's auto port-selection requirement.
func firstFreePort(host string, from int) (int, error) {
	for p := from; p < from+1000; p++ {
		l, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(p)))
		if err == nil {
			_ = l.Close()
			return p, nil
		}
	}
	return 0, fmt.Errorf("no free port found starting at %d", from)
}

func publicHost(host string) string {
	if host == "0.0.0.0" || host == "" {
		return "127.0.0.1"
	}
	return host
}

// resolveMinerAddress accepts either a literal hex address or a seed string
// to derive a demo keypair from (spec.md §4 Supplemented features), mirroring
// the convenience original_source/blockchain.py's CLI offers for quickly
// standing up named demo miners ("0", "1", "2"...).
func resolveMinerAddress(flag string) (string, error) {
	if flag == "" {
		kp, err := core.NewKeyPair()
		if err != nil {
			return "", err
		}
		return kp.Address, nil
	}
	if _, err := core.PublicKeyFromAddress(flag); err == nil {
		return flag, nil
	}
	kp, err := core.DeriveFromSeed(flag)
	if err != nil {
		return "", err
	}
	return kp.Address, nil
}
