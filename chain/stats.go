package chain

import (
	"github.com/shopspring/decimal"

	"github.com/NakaSato/poc-blockchain-p2p-sub001/types"
)

// BlockEnergyStats summarises the energy trades carried by one block.
type BlockEnergyStats struct {
	TotalKWh       decimal.Decimal
	TotalValue     decimal.Decimal
	Trades         int
	AveragePrice   decimal.Decimal
	RenewableKWh   decimal.Decimal
	RenewableShare float64
	ByRegion       map[types.Region]decimal.Decimal
}

// EnergyStats aggregates every EnergyTrade transaction in b. AveragePrice is the
// volume-weighted price.
func EnergyStats(b *types.Block) BlockEnergyStats {
	stats := BlockEnergyStats{
		TotalKWh:     decimal.Zero,
		TotalValue:   decimal.Zero,
		AveragePrice: decimal.Zero,
		RenewableKWh: decimal.Zero,
		ByRegion:     make(map[types.Region]decimal.Decimal),
	}

	for _, tx := range b.Transactions {
		if tx.Payload.Kind != types.PayloadEnergyTrade || tx.Payload.Trade == nil {
			continue
		}
		t := tx.Payload.Trade
		stats.Trades++
		stats.TotalKWh = stats.TotalKWh.Add(t.Amount)
		stats.TotalValue = stats.TotalValue.Add(t.TotalValue())
		if t.Source.Renewable() {
			stats.RenewableKWh = stats.RenewableKWh.Add(t.Amount)
		}
		region := t.Location.Region
		stats.ByRegion[region] = stats.ByRegion[region].Add(t.Amount)
	}

	if stats.TotalKWh.IsPositive() {
		stats.AveragePrice = stats.TotalValue.Div(stats.TotalKWh)
		stats.RenewableShare = stats.RenewableKWh.Div(stats.TotalKWh).InexactFloat64()
	}
	return stats
}
