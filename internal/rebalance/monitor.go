// Package rebalance watches how a quote asset is spread across exchanges and
// proposes transfers when the allocation drifts from its targets. Transfers
// are proposals only; the execution backend has no transfer API.
package rebalance

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mselser95/venuecoord/internal/backend"
	"github.com/mselser95/venuecoord/internal/events"
	"github.com/mselser95/venuecoord/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// DefaultAsset is the asset monitored when none is configured.
const DefaultAsset = "USDT"

// Config holds rebalance monitor configuration.
type Config struct {
	Backend backend.Client
	Events  events.Emitter
	Logger  *zap.Logger

	Asset        string
	Targets      map[string]float64 // exchange -> target share, summing to 1
	Policy       Policy
	Interval     time.Duration
	QueryTimeout time.Duration
}

// Monitor periodically checks balances against target allocations.
type Monitor struct {
	backend backend.Client
	events  events.Emitter
	logger  *zap.Logger

	asset        string
	targets      map[string]float64
	policy       Policy
	interval     time.Duration
	queryTimeout time.Duration

	wg sync.WaitGroup
}

// New creates a rebalance monitor.
func New(cfg *Config) (*Monitor, error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Backend == nil {
		return nil, fmt.Errorf("backend cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if len(cfg.Targets) == 0 {
		return nil, fmt.Errorf("targets cannot be empty")
	}
	if cfg.Policy.Strategy != StrategyProportional && cfg.Policy.Strategy != StrategyThreshold {
		return nil, fmt.Errorf("unknown rebalancing strategy %q", cfg.Policy.Strategy)
	}

	targets := make(map[string]float64, len(cfg.Targets))
	for ex, w := range cfg.Targets {
		targets[ex] = w
	}

	m := &Monitor{
		backend:      cfg.Backend,
		events:       cfg.Events,
		logger:       cfg.Logger,
		asset:        cfg.Asset,
		targets:      targets,
		policy:       cfg.Policy,
		interval:     cfg.Interval,
		queryTimeout: cfg.QueryTimeout,
	}
	if m.events == nil {
		m.events = events.Nop{}
	}
	if m.asset == "" {
		m.asset = DefaultAsset
	}
	if m.interval <= 0 {
		m.interval = 5 * time.Minute
	}
	if m.queryTimeout <= 0 {
		m.queryTimeout = 5 * time.Second
	}
	return m, nil
}

// CheckBalances fetches balances from every target exchange and builds a
// plan. A RebalanceProposed event is emitted when the plan has transfers.
// A failed balance query aborts the check; a partial total would skew
// every share.
func (m *Monitor) CheckBalances(ctx context.Context) (*Plan, error) {
	balances, err := m.fetchBalances(ctx)
	if err != nil {
		return nil, err
	}

	plan := BuildPlan(m.asset, balances, m.targets, m.policy)
	for ex, share := range plan.Allocations {
		AllocationShare.WithLabelValues(ex).Set(share)
		AllocationDrift.WithLabelValues(ex).Set(plan.Drift[ex])
	}

	if !plan.NeedsRebalance() {
		m.logger.Debug("allocation-within-threshold",
			zap.String("asset", m.asset),
			zap.Float64("total", plan.Total))
		return plan, nil
	}

	ProposalsTotal.Inc()
	m.logger.Info("rebalance-proposed",
		zap.String("asset", m.asset),
		zap.Float64("total", plan.Total),
		zap.Int("transfers", len(plan.Transfers)))

	m.events.Emit(events.RebalanceProposed{
		Asset:       m.asset,
		Allocations: plan.Allocations,
		Transfers:   plan.Transfers,
	})
	return plan, nil
}

func (m *Monitor) fetchBalances(ctx context.Context) (map[string]float64, error) {
	queryCtx, cancel := context.WithTimeout(ctx, m.queryTimeout)
	defer cancel()

	var mu sync.Mutex
	balances := make(map[string]float64, len(m.targets))

	g, gctx := errgroup.WithContext(queryCtx)
	for ex := range m.targets {
		g.Go(func() error {
			all, err := m.backend.GetBalances(gctx, ex)
			if err != nil {
				BalanceFetchErrorsTotal.WithLabelValues(ex).Inc()
				return &types.BackendError{Op: "balances", Exchange: ex, Err: err}
			}
			mu.Lock()
			balances[ex] = all[m.asset]
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return balances, nil
}

// Start launches the periodic balance check.
func (m *Monitor) Start(ctx context.Context) {
	m.logger.Info("rebalance-monitor-started",
		zap.String("asset", m.asset),
		zap.Duration("interval", m.interval),
		zap.String("strategy", m.policy.Strategy))

	m.wg.Add(1)
	go m.loop(ctx)
}

// Wait blocks until the monitor loop has exited.
func (m *Monitor) Wait() {
	m.wg.Wait()
}

func (m *Monitor) loop(ctx context.Context) {
	defer m.wg.Done()

	ticker := time.NewTicker(m.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			m.logger.Info("rebalance-monitor-stopped")
			return
		case <-ticker.C:
			if _, err := m.CheckBalances(ctx); err != nil && ctx.Err() == nil {
				m.logger.Warn("balance-check-failed", zap.Error(err))
			}
		}
	}
}
