package config

import (
	"os"
	"time"

	"github.com/asaskevich/govalidator"
	"github.com/jessevdk/go-flags"
	"github.com/joho/godotenv"
	"github.com/pkg/errors"
)

// Config holds every tunable of a node. Default fills it from constraints.go and
// LoadConfig layers GRID_* environment variables over that.
type Config struct {
	DataDir     string `long:"data-dir" env:"GRID_DATA_DIR" description:"Ledger data directory"`
	InMemory    bool   `long:"in-memory" env:"GRID_IN_MEMORY" description:"Keep the ledger in memory only"`
	LogLevel    string `long:"log-level" env:"GRID_LOG_LEVEL" description:"Log level"`
	Development bool   `long:"dev" env:"GRID_DEV" description:"Development mode"`
	MetricsAddr string `long:"metrics-addr" env:"GRID_METRICS_ADDR" description:"Prometheus listen address"`

	// KeyPassphrase, when set, encrypts authority keys at rest.
	KeyPassphrase string `long:"key-passphrase" env:"GRID_KEY_PASSPHRASE" description:"Passphrase sealing stored authority keys"`

	MaxTxPerBlock   int           `long:"max-tx-per-block" env:"GRID_MAX_TX_PER_BLOCK" description:"Transactions per block"`
	BlockCacheSize  int           `long:"block-cache-size" env:"GRID_BLOCK_CACHE_SIZE" description:"Blocks kept in the ledger cache"`
	ProduceInterval time.Duration `long:"produce-interval" env:"GRID_PRODUCE_INTERVAL" description:"Shard production tick"`

	RoundTimeout       time.Duration `long:"round-timeout" env:"GRID_ROUND_TIMEOUT" description:"Wait before skipping the expected authority"`
	MaxClockSkew       time.Duration `long:"max-clock-skew" env:"GRID_MAX_CLOCK_SKEW" description:"Tolerated future block timestamp"`
	StakeUnitGTX       float64       `long:"stake-unit-gtx" env:"GRID_STAKE_UNIT_GTX" description:"GTX per stake unit"`
	MaxStakeUnits      int           `long:"max-stake-units" env:"GRID_MAX_STAKE_UNITS" description:"Stake units counted per authority"`
	InitialReputation  float64       `long:"initial-reputation" env:"GRID_INITIAL_REPUTATION" description:"Reputation of a new authority"`
	MissPenalty        float64       `long:"miss-penalty" env:"GRID_MISS_PENALTY" description:"Reputation lost per skipped turn"`
	RejectPenalty      float64       `long:"reject-penalty" env:"GRID_REJECT_PENALTY" description:"Reputation lost per rejected block"`
	ReputationRecovery float64       `long:"reputation-recovery" env:"GRID_REPUTATION_RECOVERY" description:"Reputation regained per produced block"`
	RejectionThreshold int           `long:"rejection-threshold" env:"GRID_REJECTION_THRESHOLD" description:"Consecutive rejections before deactivation"`

	Strategy      string `long:"routing-strategy" env:"GRID_ROUTING_STRATEGY" description:"geographic, functional or hybrid"`
	InitialShards int    `long:"initial-shards" env:"GRID_INITIAL_SHARDS" description:"Shards created on first start"`

	MinShards          int           `long:"min-shards" env:"GRID_MIN_SHARDS" description:"Lower shard bound"`
	MaxShards          int           `long:"max-shards" env:"GRID_MAX_SHARDS" description:"Upper shard bound"`
	ScaleStep          int           `long:"scale-step" env:"GRID_SCALE_STEP" description:"Shards added or retired per action"`
	ScaleCooldown      time.Duration `long:"scale-cooldown" env:"GRID_SCALE_COOLDOWN" description:"Minimum time between scaling actions"`
	ConsecutiveSamples int           `long:"consecutive-samples" env:"GRID_CONSECUTIVE_SAMPLES" description:"Samples a breach must persist"`
	SampleInterval     time.Duration `long:"sample-interval" env:"GRID_SAMPLE_INTERVAL" description:"Metrics sampling interval"`
	CPUUpper           float64       `long:"cpu-upper" env:"GRID_CPU_UPPER" description:"CPU percent scale-up threshold"`
	CPULower           float64       `long:"cpu-lower" env:"GRID_CPU_LOWER" description:"CPU percent scale-down threshold"`
	MemoryUpper        float64       `long:"memory-upper" env:"GRID_MEMORY_UPPER" description:"Memory percent scale-up threshold"`
	MemoryLower        float64       `long:"memory-lower" env:"GRID_MEMORY_LOWER" description:"Memory percent scale-down threshold"`
	TPSUpper           float64       `long:"tps-upper" env:"GRID_TPS_UPPER" description:"Throughput scale-up threshold"`
	TPSLower           float64       `long:"tps-lower" env:"GRID_TPS_LOWER" description:"Throughput scale-down threshold"`
	LatencyUpperMs     float64       `long:"latency-upper-ms" env:"GRID_LATENCY_UPPER_MS" description:"Append latency scale-up threshold"`
	LatencyLowerMs     float64       `long:"latency-lower-ms" env:"GRID_LATENCY_LOWER_MS" description:"Append latency scale-down threshold"`

	SubmitRate  float64 `long:"submit-rate" env:"GRID_SUBMIT_RATE" description:"Admitted submissions per second"`
	SubmitBurst int     `long:"submit-burst" env:"GRID_SUBMIT_BURST" description:"Submission burst size"`
}

// Default returns a configuration populated with the package defaults.
func Default() *Config {
	return &Config{
		DataDir:     "./data",
		LogLevel:    "info",
		MetricsAddr: "",

		MaxTxPerBlock:   DefaultMaxTxPerBlock,
		BlockCacheSize:  DefaultBlockCacheSize,
		ProduceInterval: DefaultProduceInterval,

		RoundTimeout:       DefaultRoundTimeout,
		MaxClockSkew:       DefaultMaxClockSkew,
		StakeUnitGTX:       DefaultStakeUnitGTX,
		MaxStakeUnits:      DefaultMaxStakeUnits,
		InitialReputation:  DefaultInitialReputation,
		MissPenalty:        DefaultMissPenalty,
		RejectPenalty:      DefaultRejectPenalty,
		ReputationRecovery: DefaultReputationRecovery,
		RejectionThreshold: DefaultRejectionThreshold,

		Strategy:      DefaultStrategy,
		InitialShards: DefaultInitialShards,

		MinShards:          DefaultMinShards,
		MaxShards:          DefaultMaxShards,
		ScaleStep:          DefaultScaleStep,
		ScaleCooldown:      DefaultScaleCooldown,
		ConsecutiveSamples: DefaultConsecutiveSamples,
		SampleInterval:     DefaultSampleInterval,
		CPUUpper:           DefaultCPUUpper,
		CPULower:           DefaultCPULower,
		MemoryUpper:        DefaultMemoryUpper,
		MemoryLower:        DefaultMemoryLower,
		TPSUpper:           DefaultTPSUpper,
		TPSLower:           DefaultTPSLower,
		LatencyUpperMs:     DefaultLatencyUpperMs,
		LatencyLowerMs:     DefaultLatencyLowerMs,

		SubmitRate:  DefaultSubmitRate,
		SubmitBurst: DefaultSubmitBurst,
	}
}

// LoadConfig reads envPath (when present) into the environment and builds a Config from
// GRID_* variables layered over the defaults.
func LoadConfig(envPath string) (*Config, error) {
	if envPath != "" {
		if err := godotenv.Load(envPath); err != nil && !os.IsNotExist(err) {
			return nil, errors.Wrapf(err, "load %s", envPath)
		}
	}

	cfg := Default()
	parser := flags.NewParser(cfg, flags.None)
	if _, err := parser.ParseArgs(nil); err != nil {
		return nil, errors.Wrap(err, "parse GRID_* environment")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate checks the cross-field constraints that individual parsers cannot.
func (c *Config) Validate() error {
	switch {
	case !c.InMemory && c.DataDir == "":
		return errors.New("data dir must be set unless running in memory")
	case c.MetricsAddr != "" && !govalidator.IsDialString(c.MetricsAddr):
		return errors.Errorf("metrics address %q is not host:port", c.MetricsAddr)
	case !govalidator.IsIn(c.Strategy, Strategies...):
		return errors.Errorf("unknown routing strategy %q", c.Strategy)
	case c.MaxTxPerBlock < 1:
		return errors.New("max tx per block must be at least 1")
	case c.BlockCacheSize < 1:
		return errors.New("block cache size must be at least 1")
	case c.ProduceInterval <= 0:
		return errors.New("produce interval must be positive")
	case c.RoundTimeout <= 0:
		return errors.New("round timeout must be positive")
	case c.MaxClockSkew < 0:
		return errors.New("max clock skew must not be negative")
	case c.StakeUnitGTX <= 0:
		return errors.New("stake unit must be positive")
	case c.MaxStakeUnits < 1:
		return errors.New("max stake units must be at least 1")
	case !inUnit(c.InitialReputation) || !inUnit(c.MissPenalty) || !inUnit(c.RejectPenalty) || !inUnit(c.ReputationRecovery):
		return errors.New("reputation parameters must lie in [0, 1]")
	case c.RejectionThreshold < 1:
		return errors.New("rejection threshold must be at least 1")
	case c.InitialShards < c.MinShards || c.InitialShards > c.MaxShards:
		return errors.Errorf("initial shards %d outside [%d, %d]", c.InitialShards, c.MinShards, c.MaxShards)
	case c.SampleInterval <= 0:
		return errors.New("sample interval must be positive")
	case c.SubmitRate <= 0 || c.SubmitBurst < 1:
		return errors.New("submit rate and burst must be positive")
	}
	// Scaling thresholds and bounds are validated by the coordinator itself.
	return nil
}

func inUnit(f float64) bool {
	return f >= 0 && f <= 1
}
