package consensus

import (
	"time"

	"github.com/pkg/errors"

	"github.com/NakaSato/poc-blockchain-p2p-sub001/amount"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/config"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/types"
)

// Config holds the Proof-of-Authority parameters.
type Config struct {
	// RoundTimeout is how long the expected authority has to produce a block for a
	// height before the turn passes to the next candidate.
	RoundTimeout time.Duration
	// MaxClockSkew bounds how far in the future a block timestamp may be.
	MaxClockSkew time.Duration

	StakeUnit     amount.Amount
	MaxStakeUnits int

	InitialReputation  float64
	MissPenalty        float64
	RejectPenalty      float64
	ReputationRecovery float64
	RejectionThreshold int

	MaxTxPerBlock int
}

func DefaultConfig() Config {
	unit, _ := amount.NewAmount(config.DefaultStakeUnitGTX)
	return Config{
		RoundTimeout:       config.DefaultRoundTimeout,
		MaxClockSkew:       config.DefaultMaxClockSkew,
		StakeUnit:          unit,
		MaxStakeUnits:      config.DefaultMaxStakeUnits,
		InitialReputation:  config.DefaultInitialReputation,
		MissPenalty:        config.DefaultMissPenalty,
		RejectPenalty:      config.DefaultRejectPenalty,
		ReputationRecovery: config.DefaultReputationRecovery,
		RejectionThreshold: config.DefaultRejectionThreshold,
		MaxTxPerBlock:      config.DefaultMaxTxPerBlock,
	}
}

// ConfigFrom maps the node configuration onto the engine parameters.
func ConfigFrom(c *config.Config) (Config, error) {
	unit, err := amount.NewAmount(c.StakeUnitGTX)
	if err != nil {
		return Config{}, errors.Wrap(err, "stake unit")
	}
	cfg := Config{
		RoundTimeout:       c.RoundTimeout,
		MaxClockSkew:       c.MaxClockSkew,
		StakeUnit:          unit,
		MaxStakeUnits:      c.MaxStakeUnits,
		InitialReputation:  c.InitialReputation,
		MissPenalty:        c.MissPenalty,
		RejectPenalty:      c.RejectPenalty,
		ReputationRecovery: c.ReputationRecovery,
		RejectionThreshold: c.RejectionThreshold,
		MaxTxPerBlock:      c.MaxTxPerBlock,
	}
	return cfg, cfg.validate()
}

func (c Config) validate() error {
	switch {
	case c.RoundTimeout <= 0:
		return errors.Wrap(types.ErrConsensus, "round timeout must be positive")
	case c.MaxClockSkew < 0:
		return errors.Wrap(types.ErrConsensus, "clock skew must not be negative")
	case !c.StakeUnit.IsPositive():
		return errors.Wrap(types.ErrConsensus, "stake unit must be positive")
	case c.MaxStakeUnits < 1:
		return errors.Wrap(types.ErrConsensus, "max stake units must be at least 1")
	case c.RejectionThreshold < 1:
		return errors.Wrap(types.ErrConsensus, "rejection threshold must be at least 1")
	case c.MaxTxPerBlock < 1:
		return errors.Wrap(types.ErrConsensus, "max transactions per block must be at least 1")
	case c.InitialReputation < 0 || c.InitialReputation > 1:
		return errors.Wrap(types.ErrConsensus, "initial reputation must lie in [0, 1]")
	}
	return nil
}
