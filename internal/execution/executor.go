// Package execution turns arbitrage opportunities into deployed strategy legs.
//
// Venues share no transaction, so the only protection against acting on stale
// data is to re-fetch both prices immediately before deploying and to stop the
// surviving leg when its counterpart fails.
package execution

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mselser95/venuecoord/internal/arbitrage"
	"github.com/mselser95/venuecoord/internal/backend"
	"github.com/mselser95/venuecoord/internal/events"
	"github.com/mselser95/venuecoord/internal/state"
	"github.com/mselser95/venuecoord/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Storage persists completed executions.
type Storage interface {
	StoreExecution(ctx context.Context, exec *types.ArbitrageExecution) error
}

// StatusMarker records opportunity status changes, typically the detector.
// ClaimExecution moves an opportunity to executing and reports false when it
// is already executing or executed.
type StatusMarker interface {
	MarkStatus(id string, status arbitrage.Status)
	ClaimExecution(id string) bool
}

// Breaker gates the auto-execute loop.
type Breaker interface {
	IsEnabled() bool
	RecordTrade(size float64)
}

// Config holds executor configuration.
type Config struct {
	Backend backend.Client
	Store   *state.Store
	Events  events.Emitter
	Logger  *zap.Logger
	Storage Storage      // optional
	Marker  StatusMarker // optional
	Breaker Breaker      // optional

	MinProfitThreshold float64 // percent
	MaxLatency         time.Duration
	ExecutionTimeout   time.Duration
	OrderSize          float64

	// OpportunityChannel feeds the auto-execute loop started by Start.
	OpportunityChannel <-chan *arbitrage.Opportunity
}

// Executor executes arbitrage opportunities.
type Executor struct {
	backend backend.Client
	store   *state.Store
	events  events.Emitter
	logger  *zap.Logger
	storage Storage
	marker  StatusMarker
	breaker Breaker

	threshold        float64
	maxLatency       time.Duration
	executionTimeout time.Duration
	orderSize        float64

	opportunityChan <-chan *arbitrage.Opportunity
	wg              sync.WaitGroup
}

// New creates a new executor.
func New(cfg *Config) (*Executor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Backend == nil {
		return nil, fmt.Errorf("backend cannot be nil")
	}
	if cfg.Store == nil {
		return nil, fmt.Errorf("store cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	e := &Executor{
		backend:          cfg.Backend,
		store:            cfg.Store,
		events:           cfg.Events,
		logger:           cfg.Logger,
		storage:          cfg.Storage,
		marker:           cfg.Marker,
		breaker:          cfg.Breaker,
		threshold:        cfg.MinProfitThreshold,
		maxLatency:       cfg.MaxLatency,
		executionTimeout: cfg.ExecutionTimeout,
		orderSize:        cfg.OrderSize,
		opportunityChan:  cfg.OpportunityChannel,
	}
	if e.events == nil {
		e.events = events.Nop{}
	}
	if e.maxLatency <= 0 {
		e.maxLatency = time.Second
	}
	if e.executionTimeout <= 0 {
		e.executionTimeout = 5 * time.Second
	}
	return e, nil
}

// ExecuteArbitrage re-validates opp against fresh prices and, if it still
// clears the profit threshold and both venues are healthy, deploys a buy leg
// and a sell leg. opp is passed by value; the caller's copy is not modified.
func (e *Executor) ExecuteArbitrage(ctx context.Context, opp arbitrage.Opportunity) (*types.ArbitrageExecution, error) {
	start := time.Now()
	defer func() {
		ExecutionDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	if !e.claim(opp.ID) {
		ExecutionsTotal.WithLabelValues("duplicate").Inc()
		return nil, fmt.Errorf("%w: %s", types.ErrOpportunityInFlight, opp.ID)
	}

	buyPrice, sellPrice, err := e.refetch(ctx, opp)
	if err != nil {
		e.mark(opp.ID, arbitrage.StatusDetected)
		ExecutionsTotal.WithLabelValues("price_error").Inc()
		return nil, fmt.Errorf("re-validate opportunity %s: %w", opp.ID, err)
	}

	if sellPrice <= buyPrice || arbitrage.ProfitPercent(buyPrice, sellPrice) < e.threshold {
		e.mark(opp.ID, arbitrage.StatusInvalid)
		ExecutionsTotal.WithLabelValues("stale").Inc()
		e.logger.Info("opportunity-no-longer-valid",
			zap.String("opportunity-id", opp.ID),
			zap.String("pair", opp.Pair),
			zap.Float64("detected-profit-percent", opp.ProfitPercent),
			zap.Float64("buy-price", buyPrice),
			zap.Float64("sell-price", sellPrice))
		return nil, fmt.Errorf("%w: %s buy %s@%.4f sell %s@%.4f",
			types.ErrOpportunityNoLongerValid, opp.Pair, opp.BuyExchange, buyPrice, opp.SellExchange, sellPrice)
	}

	for _, ex := range []string{opp.BuyExchange, opp.SellExchange} {
		st, ok := e.store.ExchangeStatus(ex)
		if !ok || !st.IsHealthy() {
			e.mark(opp.ID, arbitrage.StatusDetected)
			ExecutionsTotal.WithLabelValues("exchange_unavailable").Inc()
			return nil, types.ExchangeUnavailableError(ex, st.Status)
		}
	}

	fresh := opp
	fresh.BuyPrice = buyPrice
	fresh.SellPrice = sellPrice
	fresh.ProfitPercent = arbitrage.ProfitPercent(buyPrice, sellPrice)
	fresh.EstimatedProfit = e.orderSize * fresh.ProfitPercent / 100

	buyLeg, sellLeg, err := e.deployLegs(ctx, &fresh)
	if err != nil {
		e.mark(opp.ID, arbitrage.StatusDetected)
		ExecutionsTotal.WithLabelValues("deploy_error").Inc()
		return nil, err
	}

	exec := &types.ArbitrageExecution{
		ID:            uuid.New().String(),
		OpportunityID: opp.ID,
		Pair:          opp.Pair,
		BuyExchange:   opp.BuyExchange,
		SellExchange:  opp.SellExchange,
		BuyPrice:      buyPrice,
		SellPrice:     sellPrice,
		ProfitPercent: fresh.ProfitPercent,
		BuyLeg:        *buyLeg,
		SellLeg:       *sellLeg,
		ExecutedAt:    time.Now(),
	}

	if e.storage != nil {
		if err := e.storage.StoreExecution(ctx, exec); err != nil {
			e.logger.Error("failed-to-store-execution",
				zap.String("execution-id", exec.ID),
				zap.Error(err))
		}
	}

	e.mark(opp.ID, arbitrage.StatusExecuted)
	if e.breaker != nil {
		e.breaker.RecordTrade(e.orderSize)
	}
	ExecutionsTotal.WithLabelValues("success").Inc()
	ExpectedProfitPercent.Observe(exec.ProfitPercent)

	e.logger.Info("arbitrage-executed",
		zap.String("execution-id", exec.ID),
		zap.String("opportunity-id", opp.ID),
		zap.String("pair", exec.Pair),
		zap.Float64("profit-percent", exec.ProfitPercent))

	e.events.Emit(events.ArbitrageExecuted{Execution: *exec})
	return exec, nil
}

func (e *Executor) claim(id string) bool {
	if e.marker == nil {
		return true
	}
	return e.marker.ClaimExecution(id)
}

func (e *Executor) mark(id string, status arbitrage.Status) {
	if e.marker != nil {
		e.marker.MarkStatus(id, status)
	}
}

// refetch reads both venue prices concurrently.
func (e *Executor) refetch(ctx context.Context, opp arbitrage.Opportunity) (buy, sell float64, err error) {
	g, gctx := errgroup.WithContext(ctx)

	fetch := func(exchange string, out *float64) func() error {
		return func() error {
			fetchCtx, cancel := context.WithTimeout(gctx, e.maxLatency)
			defer cancel()

			price, err := e.backend.GetMarketPrice(fetchCtx, opp.Pair, exchange)
			if err != nil {
				return &types.BackendError{Op: "price", Exchange: exchange, Err: err}
			}
			if price <= 0 {
				return &types.BackendError{Op: "price", Exchange: exchange, Err: fmt.Errorf("non-positive price %v", price)}
			}
			*out = price
			return nil
		}
	}
	g.Go(fetch(opp.BuyExchange, &buy))
	g.Go(fetch(opp.SellExchange, &sell))

	if err := g.Wait(); err != nil {
		return 0, 0, err
	}
	return buy, sell, nil
}

type legResult struct {
	record *types.StrategyExecutionRecord
	err    error
}

// deployLegs deploys both legs concurrently. When exactly one fails the other
// is stopped again before the error is returned.
func (e *Executor) deployLegs(ctx context.Context, opp *arbitrage.Opportunity) (buy, sell *types.StrategyExecutionRecord, err error) {
	var (
		wg      sync.WaitGroup
		buyRes  legResult
		sellRes legResult
	)
	wg.Add(2)
	go func() {
		defer wg.Done()
		buyRes = e.deployLeg(ctx, opp, types.SideBuy, opp.BuyExchange)
	}()
	go func() {
		defer wg.Done()
		sellRes = e.deployLeg(ctx, opp, types.SideSell, opp.SellExchange)
	}()
	wg.Wait()

	switch {
	case buyRes.err == nil && sellRes.err == nil:
		return buyRes.record, sellRes.record, nil
	case buyRes.err != nil && sellRes.err != nil:
		return nil, nil, errors.Join(buyRes.err, sellRes.err)
	case buyRes.err != nil:
		e.compensate(ctx, opp, sellRes.record)
		return nil, nil, buyRes.err
	default:
		e.compensate(ctx, opp, buyRes.record)
		return nil, nil, sellRes.err
	}
}

func (e *Executor) deployLeg(ctx context.Context, opp *arbitrage.Opportunity, side, exchange string) legResult {
	queryCtx, cancel := context.WithTimeout(ctx, e.maxLatency)
	instances, err := e.backend.GetInstancesByExchange(queryCtx, exchange)
	cancel()
	if err != nil {
		return legResult{err: &types.BackendError{Op: "instances", Exchange: exchange, Err: err}}
	}
	instance, ok := backend.FirstAvailable(instances)
	if !ok {
		return legResult{err: fmt.Errorf("%s leg: %w on %s", side, types.ErrNoInstanceAvailable, exchange)}
	}

	spec := types.StrategySpec{
		ID:          opp.ID + "-" + side,
		Type:        types.StrategyTypeArbitrage,
		Exchange:    exchange,
		TradingPair: opp.Pair,
		Parameters:  opp.LegParameters(side, e.orderSize),
	}

	deployCtx, cancel := context.WithTimeout(ctx, e.executionTimeout)
	defer cancel()

	rec, err := e.backend.DeployStrategy(deployCtx, instance.ID, spec)
	if err != nil {
		return legResult{err: &types.BackendError{Op: "deploy", Exchange: exchange, StrategyID: spec.ID, Err: err}}
	}
	return legResult{record: rec}
}

// compensate stops the leg that succeeded.
func (e *Executor) compensate(ctx context.Context, opp *arbitrage.Opportunity, survivor *types.StrategyExecutionRecord) {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.executionTimeout)
	defer cancel()

	if err := e.backend.StopStrategy(stopCtx, survivor.ID); err != nil {
		CompensationsTotal.WithLabelValues("error").Inc()
		e.logger.Error("leg-compensation-failed",
			zap.String("opportunity-id", opp.ID),
			zap.String("execution-id", survivor.ID),
			zap.Error(err))
		return
	}

	CompensationsTotal.WithLabelValues("success").Inc()
	e.logger.Warn("leg-compensated",
		zap.String("opportunity-id", opp.ID),
		zap.String("execution-id", survivor.ID))
}

// Start starts the auto-execute loop when an opportunity channel is configured.
func (e *Executor) Start(ctx context.Context) error {
	if e.opportunityChan == nil {
		return fmt.Errorf("auto-execute requires an opportunity channel")
	}

	e.logger.Info("executor-starting",
		zap.Float64("min-profit-threshold", e.threshold),
		zap.Float64("order-size", e.orderSize))

	e.wg.Add(1)
	go e.executionLoop(ctx)

	return nil
}

// Wait blocks until the auto-execute loop has exited.
func (e *Executor) Wait() {
	e.wg.Wait()
}

// executionLoop processes opportunities.
func (e *Executor) executionLoop(ctx context.Context) {
	defer e.wg.Done()

	for {
		select {
		case <-ctx.Done():
			e.logger.Info("executor-stopping")
			return
		case opp, ok := <-e.opportunityChan:
			if !ok {
				e.logger.Info("opportunity-channel-closed")
				return
			}

			if e.breaker != nil && !e.breaker.IsEnabled() {
				ExecutionsTotal.WithLabelValues("breaker_open").Inc()
				e.logger.Debug("execution-skipped-breaker-open", zap.String("opportunity-id", opp.ID))
				continue
			}

			if _, err := e.ExecuteArbitrage(ctx, *opp); err != nil {
				if errors.Is(err, types.ErrOpportunityNoLongerValid) || errors.Is(err, types.ErrOpportunityInFlight) {
					e.logger.Debug("execution-skipped", zap.String("opportunity-id", opp.ID), zap.Error(err))
					continue
				}
				e.logger.Error("execution-failed",
					zap.String("opportunity-id", opp.ID),
					zap.Error(err))
			}
		}
	}
}
