package rebalance

import (
	"math"
	"sort"

	"github.com/mselser95/venuecoord/internal/events"
)

// Strategies for choosing transfer amounts.
const (
	// StrategyProportional moves balances all the way back to their targets.
	StrategyProportional = "proportional"
	// StrategyThreshold moves only drifting exchanges, and only back to the
	// edge of the threshold band.
	StrategyThreshold = "threshold"
)

const epsilon = 1e-9

// Policy bounds a rebalance plan.
type Policy struct {
	Threshold float64 // allowed |share - target|, e.g. 0.1
	MinAmount float64 // smaller transfers are dropped
	MaxAmount float64 // larger transfers are capped; 0 means no cap
	Strategy  string
}

// Plan holds the observed allocation and the transfers that correct it.
type Plan struct {
	Total       float64
	Allocations map[string]float64
	Drift       map[string]float64
	Transfers   []events.Transfer
}

// NeedsRebalance reports whether the plan moves anything.
func (p *Plan) NeedsRebalance() bool {
	return len(p.Transfers) > 0
}

// BuildPlan compares balances of asset with targets (exchange -> weight) and
// proposes transfers. Exchanges without a target are ignored. Nothing moves
// unless some exchange drifts by more than the threshold.
func BuildPlan(asset string, balances, targets map[string]float64, policy Policy) *Plan {
	plan := &Plan{
		Allocations: make(map[string]float64, len(targets)),
		Drift:       make(map[string]float64, len(targets)),
	}

	names := make([]string, 0, len(targets))
	for ex := range targets {
		names = append(names, ex)
		plan.Total += balances[ex]
	}
	sort.Strings(names)

	if plan.Total <= 0 {
		return plan
	}

	// gap > 0 is surplus over target, gap < 0 a shortfall.
	gaps := make(map[string]float64, len(names))
	var drifting []string
	for _, ex := range names {
		share := balances[ex] / plan.Total
		plan.Allocations[ex] = share
		plan.Drift[ex] = share - targets[ex]
		gaps[ex] = balances[ex] - targets[ex]*plan.Total
		if math.Abs(plan.Drift[ex]) > policy.Threshold {
			drifting = append(drifting, ex)
		}
	}
	if len(drifting) == 0 {
		return plan
	}

	correct := drifting
	band := 0.0
	if policy.Strategy == StrategyThreshold {
		band = policy.Threshold * plan.Total
	} else {
		correct = append([]string(nil), names...)
	}
	sort.SliceStable(correct, func(i, j int) bool {
		return math.Abs(gaps[correct[i]]) > math.Abs(gaps[correct[j]])
	})

	for _, ex := range correct {
		need := math.Abs(gaps[ex]) - band
		if need <= epsilon {
			continue
		}
		surplus := gaps[ex] > 0

		for _, cp := range counterparts(names, gaps, !surplus) {
			if need <= epsilon {
				break
			}
			amount := math.Min(need, math.Abs(gaps[cp]))
			need -= amount

			from, to := ex, cp
			if !surplus {
				from, to = cp, ex
			}
			gaps[from] -= amount
			gaps[to] += amount

			plan.Transfers = append(plan.Transfers, events.Transfer{
				From: from, To: to, Asset: asset, Amount: amount,
			})
		}
	}

	plan.Transfers = clamp(plan.Transfers, policy)
	return plan
}

// counterparts returns exchanges on the requested side, largest gap first.
func counterparts(names []string, gaps map[string]float64, surplus bool) []string {
	var out []string
	for _, ex := range names {
		if (surplus && gaps[ex] > epsilon) || (!surplus && gaps[ex] < -epsilon) {
			out = append(out, ex)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return math.Abs(gaps[out[i]]) > math.Abs(gaps[out[j]])
	})
	return out
}

func clamp(transfers []events.Transfer, policy Policy) []events.Transfer {
	out := transfers[:0]
	for _, t := range transfers {
		if policy.MaxAmount > 0 && t.Amount > policy.MaxAmount {
			t.Amount = policy.MaxAmount
		}
		if t.Amount < policy.MinAmount {
			continue
		}
		out = append(out, t)
	}
	return out
}
