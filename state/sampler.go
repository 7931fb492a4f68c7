package state

import (
	"context"
	"runtime"
	"sync"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/pbnjay/memory"
	"gonum.org/v1/gonum/stat"

	"github.com/NakaSato/poc-blockchain-p2p-sub001/types"
)

// LedgerStats is the part of the ledger the sampler reads.
type LedgerStats interface {
	GetTotalTransactions() uint64
	DrainLatencies() []float64
}

// OpsCounter reports a monotonically increasing count of storage operations.
type OpsCounter interface {
	Ops() uint64
}

// RuntimeSampler measures this process. Rates are computed over the interval since the
// previous call, so the first sample reports zero rates.
type RuntimeSampler struct {
	ledger LedgerStats
	ops    OpsCounter
	clock  clock.Clock

	totalMemory float64

	mu      sync.Mutex
	started bool
	lastAt  time.Time
	lastTx  uint64
	lastOps uint64
	lastCPU time.Duration
}

// NewRuntimeSampler builds a sampler. ops may be nil when storage is not counted.
func NewRuntimeSampler(ledger LedgerStats, ops OpsCounter, clk clock.Clock) *RuntimeSampler {
	if clk == nil {
		clk = clock.New()
	}
	return &RuntimeSampler{
		ledger:      ledger,
		ops:         ops,
		clock:       clk,
		totalMemory: float64(memory.TotalMemory()),
	}
}

func (s *RuntimeSampler) Sample(ctx context.Context) (types.ScalingMetrics, error) {
	if err := ctx.Err(); err != nil {
		return types.ScalingMetrics{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	now := s.clock.Now()
	m := types.ScalingMetrics{SampledAt: now}

	var ms runtime.MemStats
	runtime.ReadMemStats(&ms)
	m.MemoryUsageMB = float64(ms.Sys) / (1 << 20)
	if s.totalMemory > 0 {
		m.MemoryPercent = float64(ms.Sys) / s.totalMemory * 100
	}

	if lat := s.ledger.DrainLatencies(); len(lat) > 0 {
		m.AvgLatencyMs = stat.Mean(lat, nil)
	}

	tx := s.ledger.GetTotalTransactions()
	var ops uint64
	if s.ops != nil {
		ops = s.ops.Ops()
	}
	cpu := processCPUTime()

	if s.started {
		elapsed := now.Sub(s.lastAt)
		if elapsed > 0 {
			secs := elapsed.Seconds()
			m.TotalTPS = float64(tx-s.lastTx) / secs
			m.StorageOpsPerSec = float64(ops-s.lastOps) / secs
			if cpu > 0 {
				m.CPUPercent = cpuPercent(cpu-s.lastCPU, elapsed, runtime.NumCPU())
			}
		}
	}

	s.started = true
	s.lastAt = now
	s.lastTx = tx
	s.lastOps = ops
	s.lastCPU = cpu
	return m, nil
}

// cpuPercent is busy time over wall time across all cores, in [0, 100].
func cpuPercent(busy, wall time.Duration, cores int) float64 {
	if wall <= 0 || cores < 1 || busy <= 0 {
		return 0
	}
	p := float64(busy) / (float64(wall) * float64(cores)) * 100
	if p > 100 {
		p = 100
	}
	return p
}
