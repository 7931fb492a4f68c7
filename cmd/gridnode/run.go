package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/NakaSato/poc-blockchain-p2p-sub001/amount"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/config"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/crypto"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/node"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/types"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/utils"
)

var (
	metricsAddr    string
	devMode        bool
	devAuthorities int
	devSupplyGTX   float64
	devStakeGTX    float64
	inMemory       bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the node",
	Long: `Run block production and shard scaling until interrupted.

An empty store needs a genesis block. With --dev the node generates authority keys,
stores them and commits a genesis block registering them.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig()
		if err != nil {
			return err
		}
		if cmd.Flags().Changed("metrics-addr") {
			cfg.MetricsAddr = metricsAddr
		}
		if cmd.Flags().Changed("dev") {
			cfg.Development = devMode
		}
		if cmd.Flags().Changed("in-memory") {
			cfg.InMemory = inMemory
		}
		if err := cfg.Validate(); err != nil {
			return err
		}

		logger, err := utils.NewLogger(cfg.LogLevel, cfg.Development)
		if err != nil {
			return errors.Wrap(err, "create logger")
		}
		defer logger.Sync() //nolint:errcheck

		db, err := openStore(cfg)
		if err != nil {
			return err
		}
		defer db.Close()

		n, err := node.New(cfg, db, logger, nil)
		if err != nil {
			return err
		}
		if !n.HasGenesis() {
			if !cfg.Development {
				return errors.Wrap(types.ErrChainEmpty, "store holds no chain; start once with --dev or restore a data dir")
			}
			if err := bootstrapDev(n, logger); err != nil {
				return err
			}
		}
		if err := n.CheckChainIntegrity(); err != nil {
			return errors.Wrap(err, "chain integrity check")
		}

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		if cfg.MetricsAddr != "" {
			srv := serveMetrics(cfg, logger)
			defer func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
		}

		err = n.Run(ctx)
		logger.Info("node stopped", zap.Uint64("height", n.GetHeight()), zap.Error(err))
		return err
	},
}

func init() {
	runCmd.Flags().StringVar(&metricsAddr, "metrics-addr", "", "serve Prometheus metrics on host:port")
	runCmd.Flags().BoolVar(&devMode, "dev", false, "development mode: console logs and a generated genesis")
	runCmd.Flags().BoolVar(&inMemory, "in-memory", false, "keep the ledger in memory only")
	runCmd.Flags().IntVar(&devAuthorities, "dev-authorities", 3, "authorities generated for a development genesis")
	runCmd.Flags().Float64Var(&devSupplyGTX, "dev-supply", 1_000_000, "GTX minted to the first authority in a development genesis")
	runCmd.Flags().Float64Var(&devStakeGTX, "dev-stake", config.DefaultStakeUnitGTX, "stake in GTX of every development authority")
}

func bootstrapDev(n *node.Node, logger *zap.Logger) error {
	if devAuthorities < 1 {
		return errors.New("--dev-authorities must be at least 1")
	}
	stake, err := amount.NewAmount(devStakeGTX)
	if err != nil {
		return err
	}
	supply, err := amount.NewAmount(devSupplyGTX)
	if err != nil {
		return err
	}

	var authorities []node.GenesisAuthority
	for i := 0; i < devAuthorities; i++ {
		signer, err := crypto.NewPrivateKey()
		if err != nil {
			return errors.Wrap(err, "generate authority key")
		}
		if err := n.AddAuthorityKey(signer); err != nil {
			return err
		}
		category := types.AuthorityCategories[i%len(types.AuthorityCategories)]
		authorities = append(authorities, node.GenesisAuthority{
			Signer:   signer,
			Name:     category.String(),
			Category: category,
			Stake:    stake,
		})
	}

	genesis, err := node.BuildGenesis(authorities, authorities[0].Signer, supply, time.Now())
	if err != nil {
		return err
	}
	if err := n.Bootstrap(genesis); err != nil {
		return err
	}
	logger.Info("development genesis committed",
		zap.String("hash", genesis.Hash.String()),
		zap.Strings("authorities", n.LocalAuthorities()))
	return nil
}

func serveMetrics(cfg *config.Config, logger *zap.Logger) *http.Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:              cfg.MetricsAddr,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("metrics server failed", zap.Error(err))
		}
	}()
	logger.Info("serving metrics", zap.String("addr", cfg.MetricsAddr))
	return srv
}
