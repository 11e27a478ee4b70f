// Package coordinator assembles the health tracker, placement engine,
// arbitrage detector and executor, adaptive tuner, failover controller and
// rebalance monitor around one shared coordination state.
package coordinator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mselser95/venuecoord/internal/arbitrage"
	"github.com/mselser95/venuecoord/internal/backend"
	"github.com/mselser95/venuecoord/internal/circuitbreaker"
	"github.com/mselser95/venuecoord/internal/events"
	"github.com/mselser95/venuecoord/internal/execution"
	"github.com/mselser95/venuecoord/internal/failover"
	"github.com/mselser95/venuecoord/internal/health"
	"github.com/mselser95/venuecoord/internal/placement"
	"github.com/mselser95/venuecoord/internal/rebalance"
	"github.com/mselser95/venuecoord/internal/state"
	"github.com/mselser95/venuecoord/internal/tuning"
	"github.com/mselser95/venuecoord/pkg/config"
	"github.com/mselser95/venuecoord/pkg/types"
	"go.uber.org/zap"
)

// Hooks supplied by the embedding application.
type (
	StrategyMonitor  = placement.StrategyMonitor
	ConfigValidator  = placement.ConfigValidator
	ValidationResult = placement.ValidationResult
)

// Storage persists opportunities and executions.
type Storage interface {
	arbitrage.Storage
	execution.Storage
}

// Config holds coordinator dependencies.
type Config struct {
	Settings  *config.Config
	Backend   backend.Client
	Logger    *zap.Logger
	Storage   Storage         // optional
	Validator ConfigValidator // optional
	Monitor   StrategyMonitor // optional
}

// Engine is the coordination engine.
type Engine struct {
	settings   *config.Config
	backend    backend.Client
	logger     *zap.Logger
	store      *state.Store
	dispatcher *events.Dispatcher

	executionTimeout time.Duration

	tracker    *health.Tracker
	placement  *placement.Engine
	detector   *arbitrage.Detector
	executor   *execution.Executor
	tuner      *tuning.Tuner
	failover   *failover.Controller
	rebalancer *rebalance.Monitor                   // nil when rebalancing is disabled
	breaker    *circuitbreaker.BalanceCircuitBreaker // nil when the breaker is disabled
}

// New builds an engine. Every monitored exchange starts in the unknown state.
func New(cfg *Config) (*Engine, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Settings == nil {
		return nil, fmt.Errorf("settings cannot be nil")
	}
	if cfg.Backend == nil {
		return nil, fmt.Errorf("backend cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}

	s := cfg.Settings
	e := &Engine{
		settings:   s,
		backend:    cfg.Backend,
		logger:     cfg.Logger,
		store:      state.New(s.MonitoredExchanges()),
		dispatcher: events.NewDispatcher(cfg.Logger),

		executionTimeout: s.Arbitrage.ExecutionTimeout,
	}
	if e.executionTimeout <= 0 {
		e.executionTimeout = 5 * time.Second
	}

	var err error
	e.tracker, err = health.New(&health.Config{
		Backend:             cfg.Backend,
		Store:               e.store,
		Events:              e.dispatcher,
		Logger:              cfg.Logger.Named("health"),
		CheckInterval:       s.Failover.HealthCheckInterval,
		MaxLatency:          s.Arbitrage.MaxLatency,
		FailoverThreshold:   s.Failover.FailoverThreshold,
		ErrorThreshold:      s.Failover.ErrorThreshold,
		AutoRecovery:        s.Failover.AutoRecoveryEnabled,
		MaxRecoveryAttempts: s.Failover.MaxFailoverAttempts,
		Recovery: health.BackoffConfig{
			InitialDelay:      s.Failover.RecoveryCheckInterval,
			BackoffMultiplier: 2,
			JitterPercent:     0.1,
		},
		FailoverCooldown: s.Failover.FailoverCooldown,
	})
	if err != nil {
		return nil, fmt.Errorf("create health tracker: %w", err)
	}

	e.placement, err = placement.New(&placement.Config{
		Backend:                 cfg.Backend,
		Store:                   e.store,
		Events:                  e.dispatcher,
		Logger:                  cfg.Logger.Named("placement"),
		Validator:               cfg.Validator,
		Monitor:                 cfg.Monitor,
		MaxConcurrentStrategies: s.Coordination.MaxConcurrentStrategies,
		ConflictResolution:      s.Coordination.ConflictResolution,
		Priorities:              s.Coordination.StrategyPriorities,
		QueryTimeout:            s.Arbitrage.MaxLatency,
		ExecutionTimeout:        s.Arbitrage.ExecutionTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create placement engine: %w", err)
	}

	var oppStorage arbitrage.Storage
	var execStorage execution.Storage
	if cfg.Storage != nil {
		oppStorage, execStorage = cfg.Storage, cfg.Storage
	}

	e.detector, err = arbitrage.New(&arbitrage.Config{
		Prices:             cfg.Backend,
		Storage:            oppStorage,
		Logger:             cfg.Logger.Named("arbitrage"),
		MinProfitThreshold: s.Arbitrage.MinProfitThreshold,
		MaxLatency:         s.Arbitrage.MaxLatency,
		Pairs:              s.Arbitrage.SupportedPairs,
		Exchanges:          s.Arbitrage.Exchanges,
		MaxOrderSize:       s.Arbitrage.MaxOrderSize,
		PollInterval:       s.Arbitrage.PriceUpdateInterval,
	})
	if err != nil {
		return nil, fmt.Errorf("create arbitrage detector: %w", err)
	}

	if s.CircuitBreaker.Enabled {
		e.breaker, err = circuitbreaker.New(&circuitbreaker.Config{
			CheckInterval:   s.CircuitBreaker.CheckInterval,
			TradeMultiplier: s.CircuitBreaker.TradeMultiplier,
			MinAbsolute:     s.CircuitBreaker.MinAbsolute,
			HysteresisRatio: s.CircuitBreaker.HysteresisRatio,
			Balances:        cfg.Backend,
			Exchanges:       s.Arbitrage.Exchanges,
			Asset:           s.CircuitBreaker.Asset,
			Logger:          cfg.Logger.Named("circuitbreaker"),
		})
		if err != nil {
			return nil, fmt.Errorf("create circuit breaker: %w", err)
		}
	}

	execCfg := &execution.Config{
		Backend:            cfg.Backend,
		Store:              e.store,
		Events:             e.dispatcher,
		Logger:             cfg.Logger.Named("execution"),
		Storage:            execStorage,
		Marker:             e.detector,
		MinProfitThreshold: s.Arbitrage.MinProfitThreshold,
		MaxLatency:         s.Arbitrage.MaxLatency,
		ExecutionTimeout:   s.Arbitrage.ExecutionTimeout,
		OrderSize:          s.Arbitrage.MaxOrderSize,
	}
	if e.breaker != nil {
		execCfg.Breaker = e.breaker
	}
	if s.Arbitrage.AutoExecute {
		execCfg.OpportunityChannel = e.detector.OpportunityChan()
	}
	e.executor, err = execution.New(execCfg)
	if err != nil {
		return nil, fmt.Errorf("create arbitrage executor: %w", err)
	}

	e.tuner, err = tuning.New(&tuning.Config{
		Backend:          cfg.Backend,
		Store:            e.store,
		Logger:           cfg.Logger.Named("tuning"),
		Interval:         s.Coordination.AdjustInterval,
		QueryTimeout:     s.Arbitrage.MaxLatency,
		ExecutionTimeout: s.Arbitrage.ExecutionTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create adaptive tuner: %w", err)
	}

	e.failover, err = failover.New(&failover.Config{
		Backend:           cfg.Backend,
		Store:             e.store,
		Events:            e.dispatcher,
		Logger:            cfg.Logger.Named("failover"),
		FallbackExchanges: s.Failover.FallbackExchanges,
		QueryTimeout:      s.Arbitrage.MaxLatency,
		ExecutionTimeout:  s.Arbitrage.ExecutionTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("create failover controller: %w", err)
	}

	if s.Rebalancing.Enabled {
		e.rebalancer, err = rebalance.New(&rebalance.Config{
			Backend: cfg.Backend,
			Events:  e.dispatcher,
			Logger:  cfg.Logger.Named("rebalance"),
			Targets: s.Rebalancing.TargetAllocations,
			Policy: rebalance.Policy{
				Threshold: s.Rebalancing.RebalanceThreshold,
				MinAmount: s.Rebalancing.MinRebalanceAmount,
				MaxAmount: s.Rebalancing.MaxRebalanceAmount,
				Strategy:  s.Rebalancing.RebalancingStrategy,
			},
			Interval:     s.Rebalancing.RebalanceInterval,
			QueryTimeout: s.Arbitrage.MaxLatency,
		})
		if err != nil {
			return nil, fmt.Errorf("create rebalance monitor: %w", err)
		}
	}

	e.tracker.OnFailure(e.onExchangeFailed)

	return e, nil
}

// RegisterObserver subscribes o to every coordinator event.
func (e *Engine) RegisterObserver(o events.Observer) {
	e.dispatcher.Register(o)
}

// OnTransition subscribes h to exchange health transitions.
func (e *Engine) OnTransition(h health.TransitionHandler) {
	e.tracker.OnTransition(h)
}

func (e *Engine) onExchangeFailed(ctx context.Context, exchange string) {
	if _, err := e.failover.HandleExchangeFailover(ctx, exchange); err != nil {
		e.logger.Error("automatic-failover-failed",
			zap.String("exchange", exchange),
			zap.Error(err))
	}
	e.refreshGauges()
}

// CoordinateStrategies places specs as one cross-exchange group, all or nothing.
func (e *Engine) CoordinateStrategies(ctx context.Context, specs []types.StrategySpec) (*types.CrossExchangeGroup, error) {
	g, err := e.placement.CoordinateStrategies(ctx, specs)
	e.refreshGauges()
	return g, err
}

// DetectOpportunities runs one detection pass.
func (e *Engine) DetectOpportunities(ctx context.Context) ([]*arbitrage.Opportunity, error) {
	return e.detector.DetectOpportunities(ctx)
}

// LatestOpportunities returns the result of the last detection pass.
func (e *Engine) LatestOpportunities() []*arbitrage.Opportunity {
	return e.detector.Latest()
}

// ExecuteArbitrage re-validates and executes opp.
func (e *Engine) ExecuteArbitrage(ctx context.Context, opp arbitrage.Opportunity) (*types.ArbitrageExecution, error) {
	return e.executor.ExecuteArbitrage(ctx, opp)
}

// ExecuteOpportunity executes a previously detected opportunity by ID.
func (e *Engine) ExecuteOpportunity(ctx context.Context, id string) (*types.ArbitrageExecution, error) {
	opp, ok := e.detector.Lookup(id)
	if !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrOpportunityNotFound, id)
	}
	return e.executor.ExecuteArbitrage(ctx, *opp)
}

// AdjustStrategiesForMarketConditions runs one tuning pass and returns the
// number of strategies updated.
func (e *Engine) AdjustStrategiesForMarketConditions(ctx context.Context) (int, error) {
	return e.tuner.AdjustStrategiesForMarketConditions(ctx)
}

// HandleExchangeFailover relocates or pauses every group running on exchange.
func (e *Engine) HandleExchangeFailover(ctx context.Context, exchange string) ([]events.ExchangeFailover, error) {
	if _, ok := e.store.ExchangeStatus(exchange); !ok {
		return nil, fmt.Errorf("%w: %s", types.ErrUnknownExchange, exchange)
	}
	out, err := e.failover.HandleExchangeFailover(ctx, exchange)
	e.refreshGauges()
	return out, err
}

// ProbeExchange pings exchange once and applies the result to its status.
func (e *Engine) ProbeExchange(ctx context.Context, exchange string) (types.ExchangeStatus, error) {
	return e.tracker.Probe(ctx, exchange)
}

// ResetRecovery restores the recovery budget of a failed exchange.
func (e *Engine) ResetRecovery(exchange string) {
	e.tracker.ResetRecovery(exchange)
}

// CheckBalances runs one rebalance check. It returns nil when rebalancing is disabled.
func (e *Engine) CheckBalances(ctx context.Context) (*rebalance.Plan, error) {
	if e.rebalancer == nil {
		return nil, nil
	}
	return e.rebalancer.CheckBalances(ctx)
}

// CircuitBreakerStatus returns the balance guard's status. ok is false when
// the breaker is disabled.
func (e *Engine) CircuitBreakerStatus() (status circuitbreaker.Status, ok bool) {
	if e.breaker == nil {
		return circuitbreaker.Status{}, false
	}
	return e.breaker.GetStatus(), true
}

// GetActiveStrategies returns copies of every group, oldest first.
func (e *Engine) GetActiveStrategies() []*types.CrossExchangeGroup {
	return e.store.Groups()
}

// GetStrategyGroup returns a copy of one group.
func (e *Engine) GetStrategyGroup(id string) (*types.CrossExchangeGroup, bool) {
	return e.store.Group(id)
}

// GetExchangeStatus returns a copy of every exchange status.
func (e *Engine) GetExchangeStatus() map[string]types.ExchangeStatus {
	return e.store.ExchangeStatuses()
}

// Ready reports whether at least one exchange is healthy.
func (e *Engine) Ready() bool {
	for _, name := range e.store.Exchanges() {
		if e.store.IsHealthy(name) {
			return true
		}
	}
	return false
}

// StopStrategy stops every running spec of a group and removes it. Stop
// failures do not keep the group alive; they are logged and reported in the
// StrategyStopped event.
func (e *Engine) StopStrategy(ctx context.Context, groupID string) (*events.StrategyStopped, error) {
	stopped := &events.StrategyStopped{GroupID: groupID}

	err := e.store.UpdateGroup(groupID, func(g *types.CrossExchangeGroup) error {
		for _, spec := range g.Strategies {
			stopped.StrategyIDs = append(stopped.StrategyIDs, spec.ID)

			executionID, running := g.Deployments[spec.ID]
			if !running {
				continue
			}
			if err := e.stop(ctx, executionID); err != nil {
				if stopped.StopErrors == nil {
					stopped.StopErrors = make(map[string]string)
				}
				stopped.StopErrors[spec.ID] = err.Error()
				e.logger.Warn("strategy-stop-failed",
					zap.String("group-id", groupID),
					zap.String("strategy-id", spec.ID),
					zap.String("execution-id", executionID),
					zap.Error(err))
			}
			delete(g.Deployments, spec.ID)
		}
		g.Status = types.GroupStopped
		g.UpdatedAt = time.Now()
		return nil
	})
	if err != nil {
		GroupStopsTotal.WithLabelValues("not_found").Inc()
		return nil, err
	}

	if _, err := e.store.RemoveGroup(groupID); err != nil && !errors.Is(err, types.ErrGroupNotFound) {
		return nil, err
	}

	result := "success"
	if len(stopped.StopErrors) > 0 {
		result = "partial"
	}
	GroupStopsTotal.WithLabelValues(result).Inc()
	e.refreshGauges()

	e.logger.Info("strategy-group-stopped",
		zap.String("group-id", groupID),
		zap.Int("strategies", len(stopped.StrategyIDs)),
		zap.Int("stop-errors", len(stopped.StopErrors)))
	e.dispatcher.Emit(*stopped)

	return stopped, nil
}

func (e *Engine) stop(ctx context.Context, executionID string) error {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.executionTimeout)
	defer cancel()
	return e.backend.StopStrategy(stopCtx, executionID)
}

func (e *Engine) refreshGauges() {
	ActiveGroups.Set(float64(e.store.ActiveStrategyCount()))
}

// Start launches every background loop. Auto execution and rebalancing only
// run when enabled in the settings.
func (e *Engine) Start(ctx context.Context) error {
	e.tracker.Start(ctx)

	if err := e.detector.Start(ctx); err != nil {
		return fmt.Errorf("start arbitrage detector: %w", err)
	}
	if e.settings.Arbitrage.AutoExecute {
		if err := e.executor.Start(ctx); err != nil {
			return fmt.Errorf("start arbitrage executor: %w", err)
		}
	}
	e.tuner.Start(ctx)
	if e.rebalancer != nil {
		e.rebalancer.Start(ctx)
	}
	if e.breaker != nil {
		e.breaker.Start(ctx)
	}

	e.logger.Info("coordinator-started",
		zap.Strings("exchanges", e.store.Exchanges()),
		zap.Bool("auto-execute", e.settings.Arbitrage.AutoExecute),
		zap.Bool("rebalancing", e.rebalancer != nil),
		zap.Bool("circuit-breaker", e.breaker != nil))
	return nil
}

// Wait blocks until every background loop has exited.
func (e *Engine) Wait() {
	e.tracker.Wait()
	e.detector.Wait()
	e.executor.Wait()
	e.tuner.Wait()
	if e.rebalancer != nil {
		e.rebalancer.Wait()
	}
	if e.breaker != nil {
		e.breaker.Wait()
	}
}
