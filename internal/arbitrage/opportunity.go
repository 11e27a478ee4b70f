package arbitrage

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Status is the lifecycle state of an opportunity.
type Status string

// Opportunity statuses.
const (
	StatusDetected  Status = "detected"
	StatusExecuting Status = "executing"
	StatusExecuted  Status = "executed"
	StatusInvalid   Status = "invalid"
)

// Opportunity is a cross-exchange price gap on one pair: buy on the cheaper
// venue, sell on the dearer one.
type Opportunity struct {
	ID              string    `json:"id"`
	Pair            string    `json:"pair"`
	BuyExchange     string    `json:"buyExchange"`
	SellExchange    string    `json:"sellExchange"`
	BuyPrice        float64   `json:"buyPrice"`
	SellPrice       float64   `json:"sellPrice"`
	ProfitPercent   float64   `json:"profitPercent"`
	EstimatedProfit float64   `json:"estimatedProfit"` // quote currency at max order size
	DetectedAt      time.Time `json:"detectedAt"`
	Status          Status    `json:"status"`
}

// ProfitPercent is the gross spread between two prices relative to the lower one.
func ProfitPercent(low, high float64) float64 {
	return (high - low) / low * 100
}

// NewOpportunity creates a detected opportunity sized at orderSize.
func NewOpportunity(pair, buyExchange, sellExchange string, buyPrice, sellPrice, orderSize float64) *Opportunity {
	profit := ProfitPercent(buyPrice, sellPrice)

	return &Opportunity{
		ID:              uuid.New().String(),
		Pair:            pair,
		BuyExchange:     buyExchange,
		SellExchange:    sellExchange,
		BuyPrice:        buyPrice,
		SellPrice:       sellPrice,
		ProfitPercent:   profit,
		EstimatedProfit: orderSize * profit / 100,
		DetectedAt:      time.Now(),
		Status:          StatusDetected,
	}
}

// LegParameters returns the strategy parameters of one leg. side is
// types.SideBuy or types.SideSell.
func (o *Opportunity) LegParameters(side string, orderSize float64) map[string]any {
	return map[string]any{
		"opportunity_id": o.ID,
		"side":           side,
		"pair":           o.Pair,
		"buy_exchange":   o.BuyExchange,
		"sell_exchange":  o.SellExchange,
		"buy_price":      o.BuyPrice,
		"sell_price":     o.SellPrice,
		"profit_percent": o.ProfitPercent,
		"order_amount":   orderSize,
	}
}

// String returns a human-readable representation of the opportunity.
func (o *Opportunity) String() string {
	id := o.ID
	if len(id) > 8 {
		id = id[:8]
	}
	return fmt.Sprintf(
		"Opportunity[%s] %s buy %s@%.4f sell %s@%.4f profit=%.3f%% est=%.2f",
		id,
		o.Pair,
		o.BuyExchange,
		o.BuyPrice,
		o.SellExchange,
		o.SellPrice,
		o.ProfitPercent,
		o.EstimatedProfit,
	)
}
