// Package backend talks to the execution backend that hosts strategies and
// proxies market data for every exchange.
package backend

import (
	"context"

	"github.com/mselser95/venuecoord/pkg/types"
)

// Client is the set of capabilities the coordination engine needs from an
// execution backend. Every call is a network round trip and must honour ctx.
type Client interface {
	GetInstancesByExchange(ctx context.Context, exchange string) ([]types.Instance, error)
	DeployStrategy(ctx context.Context, instanceID string, spec types.StrategySpec) (*types.StrategyExecutionRecord, error)
	UpdateStrategy(ctx context.Context, strategyID string, patch types.StrategyPatch) error
	StopStrategy(ctx context.Context, strategyID string) error

	GetMarketPrice(ctx context.Context, pair string, exchange string) (float64, error)
	GetVolatility(ctx context.Context, pair string, exchange string) (float64, error)
	GetVolume(ctx context.Context, pair string, exchange string) (float64, error)
	GetSpread(ctx context.Context, pair string, exchange string) (float64, error)

	PingExchange(ctx context.Context, exchange string) (*types.PingResult, error)
	GetBalances(ctx context.Context, exchange string) (map[string]float64, error)
}

// FirstAvailable returns the first instance able to take another strategy.
func FirstAvailable(instances []types.Instance) (types.Instance, bool) {
	for _, inst := range instances {
		if inst.Available() {
			return inst, true
		}
	}
	return types.Instance{}, false
}
