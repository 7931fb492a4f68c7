package state

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/NakaSato/poc-blockchain-p2p-sub001/types"
)

var (
	// ScalingLoad holds the most recent load sample, one series per metric.
	ScalingLoad = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "grid_scaling_load",
			Help: "Latest load sample taken by the scaling coordinator",
		},
		[]string{"metric"}, // metric: cpu_percent, memory_percent, memory_mb, tps, latency_ms, storage_ops
	)

	// ScalingPhase 1=stable, 2=evaluating, 3=scaling.
	ScalingPhase = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "grid_scaling_phase",
			Help: "Scaling coordinator phase (1=stable, 2=evaluating, 3=scaling)",
		},
	)

	ActiveShards = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "grid_active_shards",
			Help: "Number of active shards",
		},
	)

	ScalingActionsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Name: "grid_scaling_actions_total",
			Help: "Completed scaling actions",
		},
		[]string{"direction", "reason"}, // direction: up, down
	)

	ShardPending = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "grid_shard_pending_transactions",
			Help: "Pending transactions per shard",
		},
		[]string{"shard"},
	)

	// ScalingForecastTPS is the throughput projected one sample interval ahead.
	ScalingForecastTPS = prometheus.NewGauge(
		prometheus.GaugeOpts{
			Name: "grid_scaling_forecast_tps",
			Help: "Throughput projected by a linear fit over recent samples",
		},
	)
)

var phaseGauge = ScalingPhase

func init() {
	prometheus.MustRegister(ScalingLoad)
	prometheus.MustRegister(ScalingPhase)
	prometheus.MustRegister(ActiveShards)
	prometheus.MustRegister(ScalingActionsTotal)
	prometheus.MustRegister(ShardPending)
	prometheus.MustRegister(ScalingForecastTPS)
}

func observeSnapshot(m *types.ScalingMetrics) {
	ScalingLoad.WithLabelValues("cpu_percent").Set(m.CPUPercent)
	ScalingLoad.WithLabelValues("memory_percent").Set(m.MemoryPercent)
	ScalingLoad.WithLabelValues("memory_mb").Set(m.MemoryUsageMB)
	ScalingLoad.WithLabelValues("tps").Set(m.TotalTPS)
	ScalingLoad.WithLabelValues("latency_ms").Set(m.AvgLatencyMs)
	ScalingLoad.WithLabelValues("storage_ops").Set(m.StorageOpsPerSec)
	ActiveShards.Set(float64(m.ActiveShards))
}

func observeAction(a Action) {
	direction := "up"
	if a.To < a.From {
		direction = "down"
	}
	ScalingActionsTotal.WithLabelValues(direction, a.Reason.String()).Inc()
	ActiveShards.Set(float64(a.To))
}

// ObservePending publishes the pool size of every shard. Series of retired shards are
// dropped.
func ObservePending(r *Router) {
	ShardPending.Reset()
	for id, n := range r.PendingByShard() {
		ShardPending.WithLabelValues(id.String()).Set(float64(n))
	}
}
