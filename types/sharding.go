package types

import (
	"strconv"
	"time"
)

// ShardID identifies a shard. IDs are never reused within a process lifetime.
type ShardID uint32

func (id ShardID) String() string {
	return "shard-" + strconv.FormatUint(uint64(id), 10)
}

// ScalingMetrics is one immutable sample of node load.
type ScalingMetrics struct {
	ActiveShards     int       `cbor:"1,keyasint"`
	TotalTPS         float64   `cbor:"2,keyasint"`
	AvgLatencyMs     float64   `cbor:"3,keyasint"`
	CPUPercent       float64   `cbor:"4,keyasint"`
	MemoryUsageMB    float64   `cbor:"5,keyasint"`
	MemoryPercent    float64   `cbor:"6,keyasint"`
	StorageOpsPerSec float64   `cbor:"7,keyasint"`
	SampledAt        time.Time `cbor:"8,keyasint"`
}
