package config

import "time"

const (
	// Chain
	DefaultMaxTxPerBlock      = 500
	DefaultBlockCacheSize     = 1024
	DefaultExpectedCommitted  = 1_000_000
	DefaultBloomFalsePositive = 0.001
	DefaultProduceInterval    = 250 * time.Millisecond

	// Consensus
	DefaultRoundTimeout       = 5 * time.Second
	DefaultMaxClockSkew       = 2 * time.Second
	DefaultStakeUnitGTX       = 1_000
	DefaultMaxStakeUnits      = 10
	DefaultInitialReputation  = 1.0
	DefaultMissPenalty        = 0.05
	DefaultRejectPenalty      = 0.1
	DefaultReputationRecovery = 0.01
	DefaultRejectionThreshold = 3

	// Routing
	DefaultStrategy      = "hybrid"
	DefaultInitialShards = 2

	// Scaling
	DefaultMinShards          = 1
	DefaultMaxShards          = 16
	DefaultScaleStep          = 1
	DefaultScaleCooldown      = 60 * time.Second
	DefaultConsecutiveSamples = 3
	DefaultSampleInterval     = 10 * time.Second

	DefaultCPUUpper       = 80.0
	DefaultCPULower       = 30.0
	DefaultMemoryUpper    = 85.0
	DefaultMemoryLower    = 40.0
	DefaultTPSUpper       = 1_000.0
	DefaultTPSLower       = 100.0
	DefaultLatencyUpperMs = 500.0
	DefaultLatencyLowerMs = 50.0

	// Ingestion
	DefaultSubmitRate  = 2_000.0
	DefaultSubmitBurst = 500
)

// Strategies accepted by GRID_ROUTING_STRATEGY.
var Strategies = []string{"geographic", "functional", "hybrid"}
