package types

import (
	"maps"
	"slices"
	"time"
)

// GroupStatus is the lifecycle state of a cross-exchange group.
type GroupStatus string

// Group statuses.
const (
	GroupActive  GroupStatus = "active"
	GroupPaused  GroupStatus = "paused"
	GroupStopped GroupStatus = "stopped"
)

// GroupPerformance aggregates results across a group's strategies.
type GroupPerformance struct {
	TotalPnL       float64 `json:"totalPnL"`
	ExecutedTrades int     `json:"executedTrades"`
	AverageLatency float64 `json:"averageLatency"`
}

// CrossExchangeGroup is the unit of coordination and failover.
type CrossExchangeGroup struct {
	ID          string           `json:"id"`
	Type        string           `json:"type"`
	Exchanges   []string         `json:"exchanges"`
	Strategies  []StrategySpec   `json:"strategies"`
	Status      GroupStatus      `json:"status"`
	Performance GroupPerformance `json:"performance"`

	// Deployments maps a spec ID to the backend execution ID it runs under.
	// A spec with no entry is not running.
	Deployments map[string]string `json:"deployments"`

	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Clone returns a deep copy of the group.
func (g *CrossExchangeGroup) Clone() *CrossExchangeGroup {
	if g == nil {
		return nil
	}
	out := *g
	out.Exchanges = slices.Clone(g.Exchanges)
	out.Strategies = make([]StrategySpec, len(g.Strategies))
	for i, s := range g.Strategies {
		out.Strategies[i] = s.Clone()
	}
	out.Deployments = maps.Clone(g.Deployments)
	return &out
}

// UsesExchange reports whether any strategy in the group runs on exchange.
func (g *CrossExchangeGroup) UsesExchange(exchange string) bool {
	for _, s := range g.Strategies {
		if s.Exchange == exchange {
			return true
		}
	}
	return false
}

// RecomputeExchanges rebuilds Exchanges from the strategies, keeping first-seen order.
func (g *CrossExchangeGroup) RecomputeExchanges() {
	g.Exchanges = DistinctExchanges(g.Strategies)
}

// DistinctExchanges lists the exchanges referenced by specs in first-seen order.
func DistinctExchanges(specs []StrategySpec) []string {
	seen := make(map[string]bool, len(specs))
	out := make([]string, 0, len(specs))
	for _, s := range specs {
		if seen[s.Exchange] {
			continue
		}
		seen[s.Exchange] = true
		out = append(out, s.Exchange)
	}
	return out
}
