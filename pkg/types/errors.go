package types

import (
	"errors"
	"fmt"
)

// Coordination error taxonomy. Callers match with errors.Is.
var (
	ErrExchangeNotAvailable     = errors.New("exchange not available")
	ErrOpportunityNoLongerValid = errors.New("arbitrage opportunity no longer valid")
	ErrNoFallbackAvailable      = errors.New("no fallback exchange available")
	ErrNoInstanceAvailable      = errors.New("no execution instance available")
	ErrGroupNotFound            = errors.New("strategy group not found")
	ErrInvalidStrategy          = errors.New("invalid strategy")
	ErrCapacityExceeded         = errors.New("max concurrent strategies exceeded")
	ErrStrategyConflict         = errors.New("conflicting strategy already active")
	ErrOpportunityNotFound      = errors.New("opportunity not found")
	ErrOpportunityInFlight      = errors.New("opportunity already executing or executed")
	ErrUnknownExchange          = errors.New("unknown exchange")
)

// BackendError is a failed call to the execution backend.
type BackendError struct {
	Op         string // backend operation, e.g. "deploy", "stop", "price"
	Exchange   string
	StrategyID string
	Err        error
}

func (e *BackendError) Error() string {
	if e.StrategyID != "" {
		return fmt.Sprintf("backend %s failed (exchange: %s, strategy: %s): %v", e.Op, e.Exchange, e.StrategyID, e.Err)
	}

	return fmt.Sprintf("backend %s failed (exchange: %s): %v", e.Op, e.Exchange, e.Err)
}

// Unwrap returns the underlying error for errors.Is and errors.As.
func (e *BackendError) Unwrap() error {
	return e.Err
}

// ExchangeUnavailableError reports the exchange that blocked an operation.
func ExchangeUnavailableError(exchange string, status HealthState) error {
	return fmt.Errorf("%w: %s (status: %s)", ErrExchangeNotAvailable, exchange, status)
}
