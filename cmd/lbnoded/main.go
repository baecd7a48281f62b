// Learning Battery Market node daemon.
//
// Usage:
//
//	lbnoded [options]  Run node
//	lbnoded --help     Show help
package main

import (
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/Klingon-tech/lbm/config"
	klog "github.com/Klingon-tech/lbm/internal/log"
	"github.com/Klingon-tech/lbm/internal/node"
)

func main() {
	// ── 1. Load config (defaults → file → flags) ────────────────────────
	cfg, _, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}

	// ── 2. Init logger ───────────────────────────────────────────────────
	// Default to logging to <datadir>/logs/lbnode.log alongside console.
	logFile := cfg.Log.File
	if logFile == "" {
		logsDir := cfg.LogsDir()
		if err := os.MkdirAll(logsDir, 0755); err != nil {
			fmt.Fprintf(os.Stderr, "Error creating logs dir: %v\n", err)
			os.Exit(1)
		}
		logFile = filepath.Join(logsDir, "lbnode.log")
	}
	logSet, err := klog.New(cfg.Log.Level, cfg.Log.JSON, logFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error initializing logger: %v\n", err)
		os.Exit(1)
	}
	logger := logSet.Component("main")

	// ── 3. Open the node ─────────────────────────────────────────────────
	var password []byte
	if cfg.Keystore.Encrypted {
		logger.Fatal().Msg("keystore.encrypted requires a password, but lbnoded has no interactive prompt wired up; run with keystore.encrypted=false or supply a password via a future --keystore-password flag")
	}

	n, err := node.Open(cfg, logSet, password)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to open node")
	}

	if err := n.Start(); err != nil {
		logger.Fatal().Err(err).Msg("failed to start node")
	}

	logger.Info().
		Str("node_id", n.Identity().NodeID()).
		Str("datadir", cfg.DataDir).
		Int("groups", len(n.GroupIDs())).
		Msg("lbnoded started")

	// ── 4. Wait for shutdown ─────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	logger.Info().Str("signal", sig.String()).Msg("shutdown signal received")

	n.Stop()
	logger.Info().Msg("goodbye")
}
