package testutil

import (
	"time"

	"github.com/mselser95/venuecoord/pkg/types"
)

// CreateTestSpec creates a market-making spec with bid/ask spreads of 0.1.
func CreateTestSpec(id string, exchange string, pair string) types.StrategySpec {
	return types.StrategySpec{
		ID:          id,
		Type:        "market_making",
		Exchange:    exchange,
		TradingPair: pair,
		Parameters: map[string]any{
			types.ParamBidSpread: 0.1,
			types.ParamAskSpread: 0.1,
			"order_amount":       0.01,
		},
		RiskLimits: types.RiskLimits{
			MaxPositionSize:    1,
			MaxDailyLoss:       100,
			StopLossPercentage: 5,
			MaxOpenOrders:      4,
			MaxSlippage:        0.01,
		},
		ExecutionSettings: types.ExecutionSettings{
			OrderRefreshTime:      30,
			OrderRefreshTolerance: 0.2,
			PriceSource:           "current_market",
		},
	}
}

// CreateTestGroup creates an active group whose specs are deployed as exec-<spec id>.
func CreateTestGroup(id string, specs ...types.StrategySpec) *types.CrossExchangeGroup {
	now := time.Now()
	g := &types.CrossExchangeGroup{
		ID:          id,
		Type:        "cross_exchange",
		Strategies:  specs,
		Status:      types.GroupActive,
		Deployments: make(map[string]string, len(specs)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	for _, s := range specs {
		g.Deployments[s.ID] = "exec-" + s.ID
	}
	g.RecomputeExchanges()
	return g
}
