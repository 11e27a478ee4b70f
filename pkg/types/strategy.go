package types

import (
	"fmt"
	"maps"
	"strings"
)

// StrategyTypeArbitrage is the strategy type deployed for arbitrage legs.
const StrategyTypeArbitrage = "arbitrage"

// Spread parameter keys rewritten by the adaptive tuner.
const (
	ParamBidSpread = "bid_spread"
	ParamAskSpread = "ask_spread"
)

// RiskLimits bounds what a deployed strategy may do.
type RiskLimits struct {
	MaxPositionSize    float64 `json:"maxPositionSize"`
	MaxDailyLoss       float64 `json:"maxDailyLoss"`
	StopLossPercentage float64 `json:"stopLossPercentage"`
	MaxOpenOrders      int     `json:"maxOpenOrders"`
	MaxSlippage        float64 `json:"maxSlippage"`
}

// ExecutionSettings controls order management on the backend.
type ExecutionSettings struct {
	OrderRefreshTime      float64 `json:"orderRefreshTime"`
	OrderRefreshTolerance float64 `json:"orderRefreshTolerance"`
	FilledOrderDelay      float64 `json:"filledOrderDelay"`
	OrderOptimization     bool    `json:"orderOptimization"`
	AddTransactionCosts   bool    `json:"addTransactionCosts"`
	PriceSource           string  `json:"priceSource"`
}

// StrategySpec describes a strategy submitted for coordination.
// Parameter values are numbers or strings.
type StrategySpec struct {
	ID                string            `json:"id"`
	Type              string            `json:"type"`
	Exchange          string            `json:"exchange"`
	TradingPair       string            `json:"tradingPair"`
	Parameters        map[string]any    `json:"parameters"`
	RiskLimits        RiskLimits        `json:"riskLimits"`
	ExecutionSettings ExecutionSettings `json:"executionSettings"`
}

// Clone returns a copy that shares no mutable state with s.
func (s StrategySpec) Clone() StrategySpec {
	out := s
	if s.Parameters != nil {
		out.Parameters = maps.Clone(s.Parameters)
	}
	return out
}

// Validate checks the fields every backend requires.
func (s StrategySpec) Validate() error {
	var problems []string
	if strings.TrimSpace(s.ID) == "" {
		problems = append(problems, "id is required")
	}
	if strings.TrimSpace(s.Type) == "" {
		problems = append(problems, "type is required")
	}
	if strings.TrimSpace(s.Exchange) == "" {
		problems = append(problems, "exchange is required")
	}
	if strings.TrimSpace(s.TradingPair) == "" {
		problems = append(problems, "trading pair is required")
	}
	if s.RiskLimits.MaxPositionSize < 0 {
		problems = append(problems, "max position size cannot be negative")
	}
	if s.RiskLimits.StopLossPercentage < 0 || s.RiskLimits.StopLossPercentage > 100 {
		problems = append(problems, "stop loss percentage must be between 0 and 100")
	}
	if s.RiskLimits.MaxSlippage < 0 {
		problems = append(problems, "max slippage cannot be negative")
	}
	for k, v := range s.Parameters {
		switch v.(type) {
		case string, float64, float32, int, int64, int32:
		default:
			problems = append(problems, fmt.Sprintf("parameter %q must be a number or string", k))
		}
	}
	if len(problems) > 0 {
		return fmt.Errorf("%w: %s: %s", ErrInvalidStrategy, s.ID, strings.Join(problems, "; "))
	}
	return nil
}

// ConflictKey identifies strategies that would trade the same book the same way.
func (s StrategySpec) ConflictKey() string {
	return s.Exchange + "|" + s.TradingPair + "|" + s.Type
}

// StrategyPatch is a full overwrite of the listed parameters.
type StrategyPatch struct {
	Parameters map[string]any `json:"parameters"`
}
