package rebalance

import (
	"testing"

	"github.com/mselser95/venuecoord/internal/events"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildPlan(t *testing.T) {
	t.Parallel()

	half := map[string]float64{"binance": 0.5, "kucoin": 0.5}
	three := map[string]float64{"binance": 0.4, "kucoin": 0.3, "okx": 0.3}

	tests := []struct {
		name      string
		balances  map[string]float64
		targets   map[string]float64
		policy    Policy
		transfers []events.Transfer
	}{
		{
			name:     "drift above threshold moves to target",
			balances: map[string]float64{"binance": 8000, "kucoin": 2000},
			targets:  half,
			policy:   Policy{Threshold: 0.1, MinAmount: 100, MaxAmount: 10000, Strategy: StrategyProportional},
			transfers: []events.Transfer{
				{From: "binance", To: "kucoin", Asset: "USDT", Amount: 3000},
			},
		},
		{
			name:     "transfer capped at max amount",
			balances: map[string]float64{"binance": 8000, "kucoin": 2000},
			targets:  half,
			policy:   Policy{Threshold: 0.1, MinAmount: 100, MaxAmount: 1000, Strategy: StrategyProportional},
			transfers: []events.Transfer{
				{From: "binance", To: "kucoin", Asset: "USDT", Amount: 1000},
			},
		},
		{
			name:     "drift within threshold",
			balances: map[string]float64{"binance": 5400, "kucoin": 4600},
			targets:  half,
			policy:   Policy{Threshold: 0.1, MinAmount: 100, Strategy: StrategyProportional},
		},
		{
			name:     "transfers below min amount dropped",
			balances: map[string]float64{"binance": 80, "kucoin": 20},
			targets:  half,
			policy:   Policy{Threshold: 0.1, MinAmount: 100, Strategy: StrategyProportional},
		},
		{
			name:     "proportional corrects every exchange",
			balances: map[string]float64{"binance": 5000, "kucoin": 3500, "okx": 1500},
			targets:  three,
			policy:   Policy{Threshold: 0.08, Strategy: StrategyProportional},
			transfers: []events.Transfer{
				{From: "binance", To: "okx", Asset: "USDT", Amount: 1000},
				{From: "kucoin", To: "okx", Asset: "USDT", Amount: 500},
			},
		},
		{
			name:     "threshold moves drifting exchanges to band edge",
			balances: map[string]float64{"binance": 5000, "kucoin": 3500, "okx": 1500},
			targets:  three,
			policy:   Policy{Threshold: 0.08, Strategy: StrategyThreshold},
			transfers: []events.Transfer{
				{From: "binance", To: "okx", Asset: "USDT", Amount: 700},
			},
		},
		{
			name:     "empty balances",
			balances: map[string]float64{},
			targets:  half,
			policy:   Policy{Threshold: 0.1, Strategy: StrategyProportional},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			plan := BuildPlan("USDT", tt.balances, tt.targets, tt.policy)
			require.Len(t, plan.Transfers, len(tt.transfers))
			assert.Equal(t, len(tt.transfers) > 0, plan.NeedsRebalance())
			for i, want := range tt.transfers {
				got := plan.Transfers[i]
				assert.Equal(t, want.From, got.From)
				assert.Equal(t, want.To, got.To)
				assert.Equal(t, want.Asset, got.Asset)
				assert.InDelta(t, want.Amount, got.Amount, 1e-6)
			}
		})
	}
}

func TestBuildPlan_AllocationsAndDrift(t *testing.T) {
	t.Parallel()

	plan := BuildPlan("USDT",
		map[string]float64{"binance": 7500, "kucoin": 2500, "bybit": 999},
		map[string]float64{"binance": 0.5, "kucoin": 0.5},
		Policy{Threshold: 0.1, Strategy: StrategyProportional})

	assert.InDelta(t, 10000, plan.Total, 1e-9)
	assert.InDelta(t, 0.75, plan.Allocations["binance"], 1e-9)
	assert.InDelta(t, 0.25, plan.Allocations["kucoin"], 1e-9)
	assert.InDelta(t, -0.25, plan.Drift["kucoin"], 1e-9)
	assert.NotContains(t, plan.Allocations, "bybit")
}
