// node wires together a complete Albatross node: policy calendar, BLS
// signer, transactional KV store, history engine, block pipeline,
// Tendermint macro-consensus manager, and ZK light-client prover. It
// does not speak to the network (gossipsub/wire transport is a separate
// concern this repo declares types for in the wire package but doesn't
// run), so standing the node up means loading every durable component
// and holding them ready, not driving an active consensus round — that
// requires a peer set this binary doesn't have.
package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	dbm "github.com/cometbft/cometbft-db"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/albatross-go/node/internal/accounts"
	"github.com/albatross-go/node/internal/blssig"
	"github.com/albatross-go/node/internal/chain"
	"github.com/albatross-go/node/internal/config"
	"github.com/albatross-go/node/internal/fatal"
	"github.com/albatross-go/node/internal/history"
	"github.com/albatross-go/node/internal/logging"
	"github.com/albatross-go/node/internal/storage"
	"github.com/albatross-go/node/internal/tendermint"
	"github.com/albatross-go/node/internal/zkp"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("load config: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		log.Fatalf("invalid config: %v", err)
	}

	logger := logging.New("node")
	logger.Printf("starting on chain %s (data dir %s)", cfg.ChainID, cfg.DataDir)

	if err := blssig.Initialize(); err != nil {
		logger.Fatalf("initialize bls backend: %v", err)
	}

	db, err := openDatabase(cfg)
	if err != nil {
		logger.Fatalf("open database: %v", err)
	}
	defer db.Close()

	signer, err := loadOrGenerateBLSKey(cfg, logger)
	if err != nil {
		logger.Fatalf("load bls signer key: %v", err)
	}
	logger.Printf("validator public key: %s", signer.PublicKey().Hex())

	keys, err := loadZKPKeys(cfg, logger)
	if err != nil {
		logger.Fatalf("load zkp keys: %v", err)
	}

	acct := accounts.NewStore()
	var hist history.Store
	if cfg.LightHistory {
		hist = history.NewLight()
	} else {
		hist = history.NewFull()
	}
	notifier := chain.NewNotifier(256)
	pipeline := chain.NewPipeline(acct, hist, notifier)
	tendermintMgr := tendermint.NewManager()
	prover := zkp.NewProver(keys)

	// pipeline, tendermintMgr, and prover are now fully initialized and
	// ready to be driven by inbound blocks, proposals/votes, and election
	// records respectively. Without a running transport (out of scope
	// here — see the wire package) there is nothing to feed them, so this
	// binary's job ends at standing them up; a future wire-protocol
	// listener calls pipeline.Push, tendermintMgr.HandleProposal/
	// HandleVote, and prover.StartElection as messages arrive.
	_ = pipeline
	_ = tendermintMgr
	_ = prover
	logger.Printf("chain pipeline, tendermint manager, and zkp prover initialized")

	var metricsServer *http.Server
	if cfg.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{Addr: "127.0.0.1:9090", Handler: mux}
		go func() {
			logger.Printf("metrics listening on %s", metricsServer.Addr)
			if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				logger.Printf("metrics server error: %v", err)
			}
		}()
	}

	logger.Printf("node ready")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	logger.Printf("shutting down")
	if metricsServer != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := metricsServer.Shutdown(shutdownCtx); err != nil {
			logger.Printf("metrics server shutdown error: %v", err)
		}
	}
	logger.Printf("stopped")
}

func openDatabase(cfg *config.Config) (storage.Database, error) {
	if cfg.DatabasePath == "" {
		return storage.NewMemory(), nil
	}
	if err := os.MkdirAll(cfg.DataDir, 0700); err != nil {
		return nil, fmt.Errorf("create data dir %s: %w", cfg.DataDir, err)
	}
	backend, err := dbm.NewGoLevelDB("albatross", cfg.DatabasePath)
	if err != nil {
		return nil, fmt.Errorf("open goleveldb at %s: %w", cfg.DatabasePath, err)
	}
	return storage.NewCometDB(backend), nil
}

// loadOrGenerateBLSKey loads the validator's signing key from
// cfg.BLSKeyPath, generating and persisting a new one (0600, restrictive
// permissions) if none exists yet.
func loadOrGenerateBLSKey(cfg *config.Config, logger *log.Logger) (*blssig.PrivateKey, error) {
	keyPath := cfg.BLSKeyPath
	if keyPath == "" {
		keyPath = filepath.Join(cfg.DataDir, "bls_key.hex")
	}
	if err := os.MkdirAll(filepath.Dir(keyPath), 0700); err != nil {
		return nil, fmt.Errorf("create key directory: %w", err)
	}

	if _, err := os.Stat(keyPath); os.IsNotExist(err) {
		logger.Printf("generating new bls key at %s", keyPath)
		sk, _, err := blssig.GenerateKeyPair()
		if err != nil {
			return nil, fmt.Errorf("generate bls key: %w", err)
		}
		if err := os.WriteFile(keyPath, []byte(sk.Hex()), 0600); err != nil {
			return nil, fmt.Errorf("save bls key to %s: %w", keyPath, err)
		}
		return sk, nil
	}

	data, err := os.ReadFile(keyPath)
	if err != nil {
		return nil, fmt.Errorf("read bls key from %s: %w", keyPath, err)
	}
	keyBytes, err := hex.DecodeString(string(bytes.TrimSpace(data)))
	if err != nil {
		return nil, fmt.Errorf("decode bls key from %s: %w", keyPath, err)
	}
	sk, err := blssig.PrivateKeyFromBytes(keyBytes)
	if err != nil {
		return nil, fmt.Errorf("parse bls key from %s: %w", keyPath, err)
	}
	return sk, nil
}

// loadZKPKeys loads the proof-chain Groth16 key set from cfg.ZKPKeysDir,
// generating and saving one via a fresh Setup if the directory is empty —
// convenient for local/test runs; production deployments should run
// cmd/bls-zk-setup once and distribute the resulting directory instead,
// since Setup takes a non-trivial amount of time per circuit.
func loadZKPKeys(cfg *config.Config, logger *log.Logger) (*zkp.Keys, error) {
	if _, err := os.Stat(cfg.ZKPKeysDir); os.IsNotExist(err) {
		logger.Printf("no zkp keys found at %s, running setup", cfg.ZKPKeysDir)
		keys, err := zkp.Setup()
		if err != nil {
			return nil, fmt.Errorf("zkp setup: %w", err)
		}
		if err := keys.SaveToFiles(cfg.ZKPKeysDir); err != nil {
			return nil, fmt.Errorf("save zkp keys: %w", err)
		}
		return keys, nil
	}
	return zkp.LoadFromFiles(cfg.ZKPKeysDir)
}

// commitOrAbort commits wtx, aborting the process per spec.md §7's
// storage-integrity rule if the commit itself fails — a failed commit
// means the durable store may be left in an inconsistent state, which is
// not safe to keep running on.
func commitOrAbort(logger *log.Logger, wtx storage.WriteTransaction) {
	if err := wtx.Commit(); err != nil {
		fatal.Abort(logger, fmt.Errorf("commit write transaction: %w", err))
	}
}

