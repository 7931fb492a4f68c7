package main

import (
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/NakaSato/poc-blockchain-p2p-sub001/config"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/store"
)

var (
	envFile  string
	dataDir  string
	logLevel string
)

var rootCmd = &cobra.Command{
	Use:   "gridnode",
	Short: "Permissioned energy-trading ledger node",
	Long: `gridnode runs a proof-of-authority ledger for regional energy trading.

Configuration is read from GRID_* environment variables, optionally loaded from an
.env file, and the flags below override them.`,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env", ".env", "path to an .env file (ignored when missing)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data-dir", "", "ledger data directory (overrides GRID_DATA_DIR)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "log level (overrides GRID_LOG_LEVEL)")

	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(keygenCmd)
	rootCmd.AddCommand(statusCmd)
}

// loadConfig layers persistent flags over the environment.
func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadConfig(envFile)
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.DataDir = dataDir
	}
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	return cfg, cfg.Validate()
}

func openStore(cfg *config.Config) (store.Store, error) {
	if cfg.InMemory {
		return store.NewInMemoryDatabase()
	}
	if err := os.MkdirAll(cfg.DataDir, 0o755); err != nil {
		return nil, errors.Wrapf(err, "create data dir %s", cfg.DataDir)
	}
	return store.NewDatabase(cfg.DataDir)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
