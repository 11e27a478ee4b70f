package arbitrage

import "time"

// CreateTestOpportunity creates a detected BTC/USDT opportunity buying on
// binance at 50000 and selling on kucoin at 50300.
func CreateTestOpportunity(id string) *Opportunity {
	return &Opportunity{
		ID:              id,
		Pair:            "BTC/USDT",
		BuyExchange:     "binance",
		SellExchange:    "kucoin",
		BuyPrice:        50000,
		SellPrice:       50300,
		ProfitPercent:   0.6,
		EstimatedProfit: 0.006,
		DetectedAt:      time.Now(),
		Status:          StatusDetected,
	}
}
