package storage

import (
	"context"

	"github.com/mselser95/venuecoord/internal/arbitrage"
	"github.com/mselser95/venuecoord/pkg/types"
)

// Storage is the interface for recording arbitrage activity.
type Storage interface {
	// StoreOpportunity stores a detected arbitrage opportunity.
	StoreOpportunity(ctx context.Context, opp *arbitrage.Opportunity) error

	// StoreExecution stores an executed arbitrage with both legs.
	StoreExecution(ctx context.Context, exec *types.ArbitrageExecution) error

	// Close closes the storage connection.
	Close() error
}
