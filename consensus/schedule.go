package consensus

import (
	"math"

	"github.com/NakaSato/poc-blockchain-p2p-sub001/amount"
	"github.com/NakaSato/poc-blockchain-p2p-sub001/types"
)

const reputationLevels = 10

// Weight is an authority's share of the production schedule: its stake in whole units,
// clamped to [1, maxUnits], times its reputation level in [1, 10].
func Weight(a *types.Authority, unit amount.Amount, maxUnits int) int {
	units := 1
	if unit > 0 {
		units = int(a.Stake / unit)
	}
	if units < 1 {
		units = 1
	}
	if units > maxUnits {
		units = maxUnits
	}
	level := 1 + int(math.Floor(clampReputation(a.Reputation)*(reputationLevels-1)))
	return units * level
}

// BuildSchedule lays out one full cycle of producers using smooth weighted round-robin.
// authorities must be sorted by ID; equal current weights go to the lower ID. The cycle
// length is the sum of the weights and each authority appears exactly weight times.
func BuildSchedule(authorities []*types.Authority, unit amount.Amount, maxUnits int) []string {
	if len(authorities) == 0 {
		return nil
	}
	weights := make([]int, len(authorities))
	total := 0
	for i, a := range authorities {
		weights[i] = Weight(a, unit, maxUnits)
		total += weights[i]
	}

	current := make([]int, len(authorities))
	schedule := make([]string, 0, total)
	for len(schedule) < total {
		best := 0
		for i := range authorities {
			current[i] += weights[i]
			if current[i] > current[best] {
				best = i
			}
		}
		current[best] -= total
		schedule = append(schedule, authorities[best].ID)
	}
	return schedule
}

// candidates returns the distinct authorities in schedule order starting at the slot for
// height. The first entry is the expected producer; the rest take over in turn when a
// round times out.
func candidates(schedule []string, height uint64) []string {
	if len(schedule) == 0 {
		return nil
	}
	start := int(height % uint64(len(schedule)))
	seen := make(map[string]struct{})
	var out []string
	for i := 0; i < len(schedule); i++ {
		id := schedule[(start+i)%len(schedule)]
		if _, ok := seen[id]; ok {
			continue
		}
		seen[id] = struct{}{}
		out = append(out, id)
	}
	return out
}
