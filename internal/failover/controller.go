// Package failover relocates or pauses the strategies of a failed exchange.
package failover

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/mselser95/venuecoord/internal/backend"
	"github.com/mselser95/venuecoord/internal/events"
	"github.com/mselser95/venuecoord/internal/state"
	"github.com/mselser95/venuecoord/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Config holds failover controller configuration.
type Config struct {
	Backend backend.Client
	Store   *state.Store
	Events  events.Emitter
	Logger  *zap.Logger

	FallbackExchanges []string // tried in order
	QueryTimeout      time.Duration
	ExecutionTimeout  time.Duration
}

// Controller handles exchange failures.
type Controller struct {
	backend backend.Client
	store   *state.Store
	events  events.Emitter
	logger  *zap.Logger

	fallbacks        []string
	queryTimeout     time.Duration
	executionTimeout time.Duration
}

// New creates a failover controller.
func New(cfg *Config) (*Controller, error) {
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

	c := &Controller{
		backend:          cfg.Backend,
		store:            cfg.Store,
		events:           cfg.Events,
		logger:           cfg.Logger,
		fallbacks:        cfg.FallbackExchanges,
		queryTimeout:     cfg.QueryTimeout,
		executionTimeout: cfg.ExecutionTimeout,
	}
	if c.events == nil {
		c.events = events.Nop{}
	}
	if c.queryTimeout <= 0 {
		c.queryTimeout = time.Second
	}
	if c.executionTimeout <= 0 {
		c.executionTimeout = 5 * time.Second
	}
	return c, nil
}

// HandleExchangeFailover moves every running strategy off exchange. For each
// affected group the strategies on exchange are stopped (best effort), then
// redeployed on the first healthy fallback with an available instance. When
// no fallback works the group is paused. Every affected group ends either
// relocated or paused and produces one ExchangeFailover event, which is also
// returned. Groups are handled concurrently; each under its own lock.
func (c *Controller) HandleExchangeFailover(ctx context.Context, exchange string) ([]events.ExchangeFailover, error) {
	start := time.Now()
	defer func() {
		FailoverDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	c.logger.Warn("exchange-failover-started", zap.String("exchange", exchange))

	var (
		mu       sync.Mutex
		outcomes []events.ExchangeFailover
		errs     []error
	)

	var g errgroup.Group
	for _, id := range c.store.GroupIDs() {
		g.Go(func() error {
			var outcome *events.ExchangeFailover
			err := c.store.UpdateGroup(id, func(grp *types.CrossExchangeGroup) error {
				outcome = c.failoverGroup(ctx, grp, exchange)
				return nil
			})

			mu.Lock()
			defer mu.Unlock()
			switch {
			case errors.Is(err, types.ErrGroupNotFound):
			case err != nil:
				errs = append(errs, fmt.Errorf("group %s: %w", id, err))
			case outcome != nil:
				outcomes = append(outcomes, *outcome)
			}
			return nil
		})
	}
	_ = g.Wait()

	sort.Slice(outcomes, func(i, j int) bool {
		return outcomes[i].GroupID < outcomes[j].GroupID
	})
	for _, o := range outcomes {
		c.events.Emit(o)
	}

	c.logger.Info("exchange-failover-complete",
		zap.String("exchange", exchange),
		zap.Int("groups", len(outcomes)),
		zap.Duration("duration", time.Since(start)))

	return outcomes, errors.Join(errs...)
}

// failoverGroup runs under the group's lock. It returns nil when the group has
// no running strategy on exchange.
func (c *Controller) failoverGroup(ctx context.Context, g *types.CrossExchangeGroup, exchange string) *events.ExchangeFailover {
	if g.Status == types.GroupStopped {
		return nil
	}

	var affected []int
	for i, s := range g.Strategies {
		if _, running := g.Deployments[s.ID]; running && s.Exchange == exchange {
			affected = append(affected, i)
		}
	}
	if len(affected) == 0 {
		return nil
	}

	outcome := &events.ExchangeFailover{
		GroupID:     g.ID,
		Exchange:    exchange,
		StrategyIDs: make([]string, 0, len(affected)),
	}

	for _, i := range affected {
		spec := g.Strategies[i]
		outcome.StrategyIDs = append(outcome.StrategyIDs, spec.ID)

		if err := c.stop(ctx, g.Deployments[spec.ID]); err != nil {
			StopFailuresTotal.WithLabelValues(exchange).Inc()
			if outcome.StopErrors == nil {
				outcome.StopErrors = make(map[string]string)
			}
			outcome.StopErrors[spec.ID] = err.Error()
			c.logger.Warn("failover-stop-failed",
				zap.String("group-id", g.ID),
				zap.String("strategy-id", spec.ID),
				zap.Error(err))
		}
		delete(g.Deployments, spec.ID)
	}

	for _, fallback := range c.fallbacks {
		if fallback == exchange || !c.store.IsHealthy(fallback) {
			continue
		}
		records, ok := c.relocate(ctx, g, affected, fallback)
		if !ok {
			continue
		}

		for n, i := range affected {
			g.Strategies[i].Exchange = fallback
			g.Deployments[g.Strategies[i].ID] = records[n].ID
		}
		g.RecomputeExchanges()
		g.UpdatedAt = time.Now()

		outcome.Fallback = fallback
		outcome.Outcome = events.OutcomeRelocated
		GroupFailoversTotal.WithLabelValues(exchange, string(events.OutcomeRelocated)).Inc()
		c.logger.Info("group-relocated",
			zap.String("group-id", g.ID),
			zap.String("exchange", exchange),
			zap.String("fallback", fallback),
			zap.Int("strategies", len(affected)))
		return outcome
	}

	g.Status = types.GroupPaused
	g.UpdatedAt = time.Now()

	outcome.Outcome = events.OutcomePaused
	GroupFailoversTotal.WithLabelValues(exchange, string(events.OutcomePaused)).Inc()
	c.logger.Warn("group-paused",
		zap.String("group-id", g.ID),
		zap.String("exchange", exchange),
		zap.Error(types.ErrNoFallbackAvailable))
	return outcome
}

// relocate deploys the affected specs on fallback. Either every spec lands or
// none stays deployed.
func (c *Controller) relocate(ctx context.Context, g *types.CrossExchangeGroup, affected []int, fallback string) ([]types.StrategyExecutionRecord, bool) {
	queryCtx, cancel := context.WithTimeout(ctx, c.queryTimeout)
	instances, err := c.backend.GetInstancesByExchange(queryCtx, fallback)
	cancel()
	if err != nil {
		c.logger.Warn("fallback-instances-unavailable",
			zap.String("fallback", fallback),
			zap.Error(err))
		return nil, false
	}
	instance, ok := backend.FirstAvailable(instances)
	if !ok {
		c.logger.Debug("fallback-has-no-instance", zap.String("fallback", fallback))
		return nil, false
	}

	records := make([]types.StrategyExecutionRecord, 0, len(affected))
	for _, i := range affected {
		spec := g.Strategies[i].Clone()
		spec.Exchange = fallback

		deployCtx, cancel := context.WithTimeout(ctx, c.executionTimeout)
		rec, err := c.backend.DeployStrategy(deployCtx, instance.ID, spec)
		cancel()
		if err != nil {
			c.logger.Warn("fallback-deploy-failed",
				zap.String("group-id", g.ID),
				zap.String("strategy-id", spec.ID),
				zap.String("fallback", fallback),
				zap.Error(err))
			for _, r := range records {
				if err := c.stop(ctx, r.ID); err != nil {
					c.logger.Error("fallback-rollback-failed",
						zap.String("execution-id", r.ID),
						zap.Error(err))
				}
			}
			return nil, false
		}
		records = append(records, *rec)
	}
	return records, true
}

// stop survives cancellation of ctx so a shutdown mid-failover still stops strategies.
func (c *Controller) stop(ctx context.Context, executionID string) error {
	stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), c.executionTimeout)
	defer cancel()
	return c.backend.StopStrategy(stopCtx, executionID)
}
