package state

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/benbjohnson/clock"
	"github.com/fxamacker/cbor/v2"
	"github.com/pkg/errors"
	"go.uber.org/zap"

	"github.com/NakaSato/poc-blockchain-p2p-sub001/config"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/store"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/types"
)

// Phase is the coordinator state.
type Phase uint32

const (
	PhaseStable Phase = iota + 1
	PhaseEvaluating
	PhaseScaling
)

func (p Phase) String() string {
	switch p {
	case PhaseStable:
		return "stable"
	case PhaseEvaluating:
		return "evaluating"
	case PhaseScaling:
		return "scaling"
	default:
		return "unknown"
	}
}

// TriggerReason is the metric that caused a scaling action.
type TriggerReason uint8

const (
	ReasonCPU TriggerReason = iota + 1
	ReasonMemory
	ReasonTPS
	ReasonLatency
	ReasonLowLoad
)

func (r TriggerReason) String() string {
	switch r {
	case ReasonCPU:
		return "cpu"
	case ReasonMemory:
		return "memory"
	case ReasonTPS:
		return "tps"
	case ReasonLatency:
		return "latency"
	case ReasonLowLoad:
		return "low_load"
	default:
		return "unknown"
	}
}

// Thresholds is a scale-up/scale-down pair. Lower must stay strictly below Upper.
type Thresholds struct {
	Upper float64
	Lower float64
}

type ScalingConfig struct {
	MinShards          int
	MaxShards          int
	Step               int
	Cooldown           time.Duration
	ConsecutiveSamples int
	SampleInterval     time.Duration

	CPU       Thresholds
	Memory    Thresholds
	TPS       Thresholds
	LatencyMs Thresholds
}

func ScalingConfigFrom(c *config.Config) ScalingConfig {
	return ScalingConfig{
		MinShards:          c.MinShards,
		MaxShards:          c.MaxShards,
		Step:               c.ScaleStep,
		Cooldown:           c.ScaleCooldown,
		ConsecutiveSamples: c.ConsecutiveSamples,
		SampleInterval:     c.SampleInterval,
		CPU:                Thresholds{Upper: c.CPUUpper, Lower: c.CPULower},
		Memory:             Thresholds{Upper: c.MemoryUpper, Lower: c.MemoryLower},
		TPS:                Thresholds{Upper: c.TPSUpper, Lower: c.TPSLower},
		LatencyMs:          Thresholds{Upper: c.LatencyUpperMs, Lower: c.LatencyLowerMs},
	}
}

// Validate rejects bounds and thresholds the coordinator cannot run with.
func (c ScalingConfig) Validate() error {
	switch {
	case c.MinShards < 1:
		return errors.Wrapf(types.ErrScaling, "min shards must be at least 1, got %d", c.MinShards)
	case c.MaxShards < c.MinShards:
		return errors.Wrapf(types.ErrScaling, "max shards %d below min shards %d", c.MaxShards, c.MinShards)
	case c.Step < 1:
		return errors.Wrapf(types.ErrScaling, "scale step must be at least 1, got %d", c.Step)
	case c.Cooldown < 0:
		return errors.Wrap(types.ErrScaling, "cooldown must not be negative")
	case c.ConsecutiveSamples < 1:
		return errors.Wrapf(types.ErrScaling, "consecutive samples must be at least 1, got %d", c.ConsecutiveSamples)
	case c.SampleInterval <= 0:
		return errors.Wrap(types.ErrScaling, "sample interval must be positive")
	}
	for _, t := range []struct {
		name string
		th   Thresholds
	}{
		{"cpu", c.CPU}, {"memory", c.Memory}, {"tps", c.TPS}, {"latency", c.LatencyMs},
	} {
		if t.th.Lower < 0 || t.th.Lower >= t.th.Upper {
			return errors.Wrapf(types.ErrScaling, "%s thresholds need 0 <= lower < upper, got %.2f/%.2f", t.name, t.th.Lower, t.th.Upper)
		}
	}
	return nil
}

// MetricsSampler produces one load sample. ActiveShards is filled in by the coordinator.
type MetricsSampler interface {
	Sample(ctx context.Context) (types.ScalingMetrics, error)
}

// ShardScaler is the part of the router the coordinator drives.
type ShardScaler interface {
	ShardCount() int
	Rebalance(n int) error
}

// Action records one completed scaling step.
type Action struct {
	At     time.Time     `cbor:"1,keyasint"`
	From   int           `cbor:"2,keyasint"`
	To     int           `cbor:"3,keyasint"`
	Reason TriggerReason `cbor:"4,keyasint"`
}

// scalingState is persisted so the cooldown survives a restart.
type scalingState struct {
	LastAction time.Time `cbor:"1,keyasint"`
	Actions    uint64    `cbor:"2,keyasint"`
}

// Coordinator samples load on a fixed interval and grows or shrinks the shard count
// after a sustained run of samples beyond the thresholds.
type Coordinator struct {
	cfg     ScalingConfig
	sampler MetricsSampler
	shards  ShardScaler
	db      store.Store
	logger  *zap.Logger
	clock   clock.Clock

	latest  atomic.Pointer[types.ScalingMetrics]
	phase   atomic.Uint32
	history *LoadHistory

	mu         sync.Mutex
	highRun    int
	lowRun     int
	lastReason TriggerReason
	lastAction time.Time
	acted      bool
	actions    []Action
}

// NewCoordinator validates cfg and restores the last action time from db, which may be
// nil.
func NewCoordinator(cfg ScalingConfig, sampler MetricsSampler, shards ShardScaler, db store.Store, logger *zap.Logger, clk clock.Clock) (*Coordinator, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if sampler == nil || shards == nil {
		return nil, errors.Wrap(types.ErrScaling, "coordinator needs a sampler and a shard scaler")
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.New()
	}
	c := &Coordinator{
		cfg:     cfg,
		sampler: sampler,
		shards:  shards,
		db:      db,
		logger:  logger.Named("scaling"),
		clock:   clk,
		history: NewLoadHistory(defaultHistoryWindow),
	}
	c.setPhase(PhaseStable)

	if db != nil {
		data, err := db.Get([]byte(store.ScalingStateKey))
		switch {
		case err == nil:
			var st scalingState
			if err := cbor.Unmarshal(data, &st); err != nil {
				return nil, errors.Wrapf(types.ErrScaling, "decode scaling state: %v", err)
			}
			c.lastAction = st.LastAction
			c.acted = st.Actions > 0
		case !errors.Is(err, types.ErrNotFound):
			return nil, errors.Wrapf(types.ErrScaling, "load scaling state: %v", err)
		}
	}
	if err := c.clampShards(); err != nil {
		return nil, err
	}
	return c, nil
}

// clampShards pulls a restored shard count back inside the configured bounds.
func (c *Coordinator) clampShards() error {
	n := c.shards.ShardCount()
	target := n
	switch {
	case n > c.cfg.MaxShards:
		target = c.cfg.MaxShards
	case n < c.cfg.MinShards:
		target = c.cfg.MinShards
	default:
		return nil
	}
	c.logger.Warn("shard count outside configured bounds",
		zap.Int("shards", n),
		zap.Int("min", c.cfg.MinShards),
		zap.Int("max", c.cfg.MaxShards),
		zap.Int("target", target))
	if err := c.shards.Rebalance(target); err != nil {
		return errors.Wrapf(types.ErrScaling, "clamp shards %d -> %d: %v", n, target, err)
	}
	return nil
}

func (c *Coordinator) setPhase(p Phase) {
	c.phase.Store(uint32(p))
	phaseGauge.Set(float64(p))
}

func (c *Coordinator) Phase() Phase {
	return Phase(c.phase.Load())
}

// GetScalingMetrics returns the latest snapshot without waiting for a tick in progress.
func (c *Coordinator) GetScalingMetrics() (types.ScalingMetrics, bool) {
	m := c.latest.Load()
	if m == nil {
		return types.ScalingMetrics{}, false
	}
	return *m, true
}

// ForecastTPS projects throughput one sample interval ahead from recent ticks.
func (c *Coordinator) ForecastTPS() (float64, bool) {
	return c.history.Forecast(1)
}

// Actions returns every scaling action taken by this coordinator, oldest first.
func (c *Coordinator) Actions() []Action {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]Action(nil), c.actions...)
}

// Run ticks every SampleInterval until ctx is done. A tick in progress completes.
func (c *Coordinator) Run(ctx context.Context) error {
	ticker := c.clock.Ticker(c.cfg.SampleInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			if err := c.Tick(ctx); err != nil {
				c.logger.Warn("scaling tick failed", zap.Error(err))
			}
		}
	}
}

// Tick takes one sample and acts on it.
func (c *Coordinator) Tick(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	sample, err := c.sampler.Sample(ctx)
	if err != nil {
		return errors.Wrap(err, "sample metrics")
	}
	active := c.shards.ShardCount()
	sample.ActiveShards = active
	if sample.SampledAt.IsZero() {
		sample.SampledAt = c.clock.Now()
	}
	snapshot := sample
	c.latest.Store(&snapshot)
	observeSnapshot(&snapshot)
	c.history.Record(sample.TotalTPS)
	if f, ok := c.history.Forecast(1); ok {
		ScalingForecastTPS.Set(f)
	}

	c.setPhase(PhaseEvaluating)
	defer c.setPhase(PhaseStable)

	if reason, high := c.breach(&sample); high {
		c.highRun++
		c.lowRun = 0
		c.lastReason = reason
	} else if c.allLow(&sample) {
		c.lowRun++
		c.highRun = 0
	} else {
		c.highRun, c.lowRun = 0, 0
	}

	switch {
	case c.highRun >= c.cfg.ConsecutiveSamples && active < c.cfg.MaxShards:
		target := active + c.cfg.Step
		if target > c.cfg.MaxShards {
			target = c.cfg.MaxShards
		}
		return c.scaleLocked(active, target, c.lastReason)
	case c.lowRun >= c.cfg.ConsecutiveSamples && active > c.cfg.MinShards:
		target := active - c.cfg.Step
		if target < c.cfg.MinShards {
			target = c.cfg.MinShards
		}
		return c.scaleLocked(active, target, ReasonLowLoad)
	}
	return nil
}

// breach returns the first metric above its upper threshold.
func (c *Coordinator) breach(m *types.ScalingMetrics) (TriggerReason, bool) {
	switch {
	case m.CPUPercent > c.cfg.CPU.Upper:
		return ReasonCPU, true
	case m.MemoryPercent > c.cfg.Memory.Upper:
		return ReasonMemory, true
	case m.TotalTPS > c.cfg.TPS.Upper:
		return ReasonTPS, true
	case m.AvgLatencyMs > c.cfg.LatencyMs.Upper:
		return ReasonLatency, true
	}
	return 0, false
}

func (c *Coordinator) allLow(m *types.ScalingMetrics) bool {
	return m.CPUPercent < c.cfg.CPU.Lower &&
		m.MemoryPercent < c.cfg.Memory.Lower &&
		m.TotalTPS < c.cfg.TPS.Lower &&
		m.AvgLatencyMs < c.cfg.LatencyMs.Lower
}

// scaleLocked resizes the router unless the cooldown is still running. A failed
// rebalance keeps the sample runs so the next tick retries. c.mu must be held.
func (c *Coordinator) scaleLocked(from, to int, reason TriggerReason) error {
	now := c.clock.Now()
	if c.acted && now.Sub(c.lastAction) < c.cfg.Cooldown {
		c.logger.Debug("scaling suppressed by cooldown",
			zap.Stringer("reason", reason),
			zap.Duration("remaining", c.cfg.Cooldown-now.Sub(c.lastAction)))
		return nil
	}

	c.setPhase(PhaseScaling)
	if err := c.shards.Rebalance(to); err != nil {
		c.logger.Error("rebalance failed",
			zap.Int("from", from),
			zap.Int("to", to),
			zap.Error(err))
		return err
	}

	action := Action{At: now, From: from, To: to, Reason: reason}
	c.actions = append(c.actions, action)
	c.lastAction = now
	c.acted = true
	c.highRun, c.lowRun = 0, 0
	observeAction(action)
	c.persistLocked()

	c.logger.Info("shard count changed",
		zap.Int("from", from),
		zap.Int("to", to),
		zap.Stringer("reason", reason))
	return nil
}

func (c *Coordinator) persistLocked() {
	if c.db == nil {
		return
	}
	data, err := cbor.Marshal(&scalingState{LastAction: c.lastAction, Actions: uint64(len(c.actions))})
	if err == nil {
		err = c.db.Put([]byte(store.ScalingStateKey), data)
	}
	if err != nil {
		c.logger.Warn("failed to persist scaling state", zap.Error(err))
	}
}
