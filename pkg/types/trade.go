package types

import "time"

// StrategyPerformance is the backend's view of a running strategy.
type StrategyPerformance struct {
	PnL            float64 `json:"pnl"`
	ExecutedTrades int     `json:"executedTrades"`
	AvgLatencyMs   float64 `json:"avgLatencyMs"`
}

// Order is an order placed by a deployed strategy.
type Order struct {
	ID     string  `json:"id"`
	Side   string  `json:"side"`
	Price  float64 `json:"price"`
	Size   float64 `json:"size"`
	Status string  `json:"status"`
}

// Trade is a fill reported by the backend.
type Trade struct {
	ID        string    `json:"id"`
	OrderID   string    `json:"orderId"`
	Side      string    `json:"side"`
	Price     float64   `json:"price"`
	Size      float64   `json:"size"`
	Timestamp time.Time `json:"timestamp"`
}

// StrategyExecutionRecord is returned by the backend when a strategy is deployed.
type StrategyExecutionRecord struct {
	ID           string              `json:"id"`
	StrategyType string              `json:"strategyType"`
	InstanceID   string              `json:"instanceId"`
	Status       string              `json:"status"`
	StartTime    time.Time           `json:"startTime"`
	Parameters   map[string]any      `json:"parameters"`
	Performance  StrategyPerformance `json:"performance"`
	Orders       []Order             `json:"orders"`
	Trades       []Trade             `json:"trades"`
	Errors       []string            `json:"errors"`
}

// Leg sides of an arbitrage execution.
const (
	SideBuy  = "buy"
	SideSell = "sell"
)

// ArbitrageExecution summarizes both deployed legs of an arbitrage.
type ArbitrageExecution struct {
	ID            string                  `json:"id"`
	OpportunityID string                  `json:"opportunityId"`
	Pair          string                  `json:"pair"`
	BuyExchange   string                  `json:"buyExchange"`
	SellExchange  string                  `json:"sellExchange"`
	BuyPrice      float64                 `json:"buyPrice"`
	SellPrice     float64                 `json:"sellPrice"`
	ProfitPercent float64                 `json:"profitPercent"`
	BuyLeg        StrategyExecutionRecord `json:"buyLeg"`
	SellLeg       StrategyExecutionRecord `json:"sellLeg"`
	ExecutedAt    time.Time               `json:"executedAt"`
}
