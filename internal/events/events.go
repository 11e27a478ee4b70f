// Package events defines the typed notifications emitted by the coordinator
// and the observers that consume them.
package events

import (
	"github.com/mselser95/venuecoord/pkg/types"
)

// Kind names an event type. It is used for metric labels and log messages only;
// consumers switch on the concrete event type.
type Kind string

// Event kinds.
const (
	KindStrategyCoordinated   Kind = "strategy-coordinated"
	KindArbitrageExecuted     Kind = "arbitrage-executed"
	KindExchangeFailover      Kind = "exchange-failover"
	KindExchangeStatusChanged Kind = "exchange-status-changed"
	KindRebalanceProposed     Kind = "rebalance-proposed"
	KindStrategyStopped       Kind = "strategy-stopped"
)

// Event is implemented by every notification below.
type Event interface {
	Kind() Kind
}

// StrategyCoordinated is emitted once a strategy batch is placed.
type StrategyCoordinated struct {
	Group   *types.CrossExchangeGroup
	Records []types.StrategyExecutionRecord
}

// ArbitrageExecuted is emitted after both legs of an opportunity are deployed.
type ArbitrageExecuted struct {
	Execution types.ArbitrageExecution
}

// FailoverOutcome is the terminal state a group reached during failover.
type FailoverOutcome string

// Failover outcomes.
const (
	OutcomeRelocated FailoverOutcome = "relocated"
	OutcomePaused    FailoverOutcome = "paused"
)

// ExchangeFailover reports what happened to one group when its exchange failed.
type ExchangeFailover struct {
	GroupID     string          `json:"groupId"`
	Exchange    string          `json:"exchange"`
	Fallback    string          `json:"fallback,omitempty"` // empty when paused
	Outcome     FailoverOutcome `json:"outcome"`
	StrategyIDs []string        `json:"strategyIds"`

	// StopErrors maps a strategy ID to the error returned while stopping it.
	StopErrors map[string]string `json:"stopErrors,omitempty"`
}

// ExchangeStatusChanged is emitted on every health state transition.
type ExchangeStatusChanged struct {
	Exchange string
	From     types.HealthState
	To       types.HealthState
	Status   types.ExchangeStatus
}

// Transfer is one proposed balance movement between exchanges.
type Transfer struct {
	From   string  `json:"from"`
	To     string  `json:"to"`
	Asset  string  `json:"asset"`
	Amount float64 `json:"amount"`
}

// RebalanceProposed carries the transfers that would restore target allocations.
type RebalanceProposed struct {
	Asset       string
	Allocations map[string]float64 // exchange -> current share of the total
	Transfers   []Transfer
}

// StrategyStopped is emitted when a group is stopped and removed.
type StrategyStopped struct {
	GroupID     string            `json:"groupId"`
	StrategyIDs []string          `json:"strategyIds"`
	StopErrors  map[string]string `json:"stopErrors,omitempty"`
}

func (StrategyCoordinated) Kind() Kind   { return KindStrategyCoordinated }
func (ArbitrageExecuted) Kind() Kind     { return KindArbitrageExecuted }
func (ExchangeFailover) Kind() Kind      { return KindExchangeFailover }
func (ExchangeStatusChanged) Kind() Kind { return KindExchangeStatusChanged }
func (RebalanceProposed) Kind() Kind     { return KindRebalanceProposed }
func (StrategyStopped) Kind() Kind       { return KindStrategyStopped }
