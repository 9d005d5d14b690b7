// Command node runs a single labchain-go peer: it assembles the genesis
// block, starts the chain builder's event loop, optionally mines, and
// serves the peer protocol over TCP.
package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/ardanlabs/conf/v3"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/labchain-go/node/internal/chain"
	"github.com/labchain-go/node/internal/chainbuilder"
	"github.com/labchain-go/node/internal/config"
	"github.com/labchain-go/node/internal/cryptoprim"
	"github.com/labchain-go/node/internal/miner"
	"github.com/labchain-go/node/internal/p2p"
)

const configPrefix = "NODE"

func main() {
	cmd := &cobra.Command{
		Use:   "node",
		Short: "Run a labchain-go peer node",
		RunE:  runNode,
	}
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func runNode(_ *cobra.Command, _ []string) error {
	var cfg config.Node
	help, err := conf.Parse(configPrefix, &cfg)
	if err != nil {
		if errors.Is(err, conf.ErrHelpWanted) {
			fmt.Println(help)
			return nil
		}
		return fmt.Errorf("parsing config: %w", err)
	}

	zapLog, err := zap.NewProduction()
	if err != nil {
		return fmt.Errorf("building logger: %w", err)
	}
	defer zapLog.Sync() //nolint:errcheck
	log := zapLog.Sugar()

	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return fmt.Errorf("creating data dir %s: %w", cfg.DataDir, err)
	}

	rewardKey, err := loadOrCreateRewardKey(cfg.KeyFile, log)
	if err != nil {
		return fmt.Errorf("loading reward key: %w", err)
	}
	log.Infow("reward key ready", "pubkey", rewardKey.PublicKeyHex())

	genesis := chain.Genesis()

	server, err := p2p.New(genesis.ComputeHash(), cfg.ListenAddr, cfg.MaxPeers, log)
	if err != nil {
		return fmt.Errorf("starting peer server: %w", err)
	}

	cb, err := chainbuilder.New(genesis, server, log)
	if err != nil {
		return fmt.Errorf("building chain: %w", err)
	}
	server.SetCore(cb)

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	go cb.Run(ctx)
	go server.Run(ctx)

	if cfg.BootstrapPeer != "" {
		go func() {
			if err := server.Dial(cfg.BootstrapPeer); err != nil {
				log.Warnw("failed to connect to bootstrap peer", "peer", cfg.BootstrapPeer, "err", err)
			}
		}()
	}

	if cfg.Mine {
		m := miner.New(cb, rewardKey, log)
		cb.AddListener(m)
		m.Start()
	}

	log.Infow("node running",
		"listen", cfg.ListenAddr, "peer_port", server.ListenPort(),
		"mine", cfg.Mine, "genesis", genesis.ComputeHash().String())

	<-ctx.Done()
	log.Info("shutting down")
	return nil
}

// loadOrCreateRewardKey reads a hex-encoded private key from path, or
// generates a fresh keypair and persists it there if the file doesn't
// exist. An empty path generates an ephemeral, unpersisted key.
func loadOrCreateRewardKey(path string, log *zap.SugaredLogger) (cryptoprim.Key, error) {
	if path == "" {
		log.Warn("no key file configured; generating an ephemeral reward key")
		return cryptoprim.GenerateKey()
	}

	raw, err := os.ReadFile(path)
	switch {
	case err == nil:
		return cryptoprim.KeyFromPrivateHex(string(raw))
	case os.IsNotExist(err):
		key, genErr := cryptoprim.GenerateKey()
		if genErr != nil {
			return cryptoprim.Key{}, genErr
		}
		if writeErr := os.WriteFile(path, []byte(key.PrivateKeyHex()), 0o600); writeErr != nil {
			return cryptoprim.Key{}, fmt.Errorf("writing new key file: %w", writeErr)
		}
		log.Infow("generated new reward key", "path", path)
		return key, nil
	default:
		return cryptoprim.Key{}, fmt.Errorf("reading key file: %w", err)
	}
}
