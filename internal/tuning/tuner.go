// Package tuning rewrites strategy spreads when market volatility leaves its
// normal band.
package tuning

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mselser95/venuecoord/internal/backend"
	"github.com/mselser95/venuecoord/internal/state"
	"github.com/mselser95/venuecoord/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Defaults for the normal volatility band.
const (
	DefaultVolatilityThreshold = 0.05
	DefaultSpreadMultiplier    = 2.0
)

// Config holds tuner configuration.
type Config struct {
	Backend backend.Client
	Store   *state.Store
	Logger  *zap.Logger

	Interval            time.Duration
	QueryTimeout        time.Duration
	ExecutionTimeout    time.Duration
	VolatilityThreshold float64
	SpreadMultiplier    float64
}

// MarketConditions is one reading for a (pair, exchange).
type MarketConditions struct {
	Volatility float64
	Volume     float64
	Spread     float64
}

// Tuner adjusts spreads of running strategies.
type Tuner struct {
	backend backend.Client
	store   *state.Store
	logger  *zap.Logger

	interval            time.Duration
	queryTimeout        time.Duration
	executionTimeout    time.Duration
	volatilityThreshold float64
	spreadMultiplier    float64

	wg sync.WaitGroup
}

// New creates a tuner.
func New(cfg *Config) (*Tuner, error) {
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

	t := &Tuner{
		backend:             cfg.Backend,
		store:               cfg.Store,
		logger:              cfg.Logger,
		interval:            cfg.Interval,
		queryTimeout:        cfg.QueryTimeout,
		executionTimeout:    cfg.ExecutionTimeout,
		volatilityThreshold: cfg.VolatilityThreshold,
		spreadMultiplier:    cfg.SpreadMultiplier,
	}
	if t.interval <= 0 {
		t.interval = time.Minute
	}
	if t.queryTimeout <= 0 {
		t.queryTimeout = time.Second
	}
	if t.executionTimeout <= 0 {
		t.executionTimeout = 5 * time.Second
	}
	if t.volatilityThreshold <= 0 {
		t.volatilityThreshold = DefaultVolatilityThreshold
	}
	if t.spreadMultiplier <= 0 {
		t.spreadMultiplier = DefaultSpreadMultiplier
	}
	return t, nil
}

// AdjustStrategiesForMarketConditions reads market conditions for every
// running strategy of every active group and, where volatility is above the
// normal band, overwrites both spreads with volatility times the multiplier.
// Strategies inside the band get no update call. It returns the number of
// updates issued.
func (t *Tuner) AdjustStrategiesForMarketConditions(ctx context.Context) (int, error) {
	updated := 0

	for _, id := range t.store.GroupIDs() {
		if err := ctx.Err(); err != nil {
			return updated, err
		}

		err := t.store.UpdateGroup(id, func(g *types.CrossExchangeGroup) error {
			if g.Status != types.GroupActive {
				return nil
			}
			for i := range g.Strategies {
				if t.adjust(ctx, g, &g.Strategies[i]) {
					updated++
				}
			}
			return nil
		})
		if err != nil && !errors.Is(err, types.ErrGroupNotFound) {
			return updated, err
		}
	}

	return updated, nil
}

// adjust runs with the group's lock held.
func (t *Tuner) adjust(ctx context.Context, g *types.CrossExchangeGroup, spec *types.StrategySpec) bool {
	executionID, running := g.Deployments[spec.ID]
	if !running {
		return false
	}

	conditions, err := t.readConditions(ctx, spec.TradingPair, spec.Exchange)
	if err != nil {
		MarketQueryErrorsTotal.WithLabelValues(spec.Exchange).Inc()
		t.logger.Warn("market-conditions-unavailable",
			zap.String("group-id", g.ID),
			zap.String("strategy-id", spec.ID),
			zap.String("exchange", spec.Exchange),
			zap.Error(err))
		return false
	}
	ObservedVolatility.WithLabelValues(spec.TradingPair, spec.Exchange).Set(conditions.Volatility)

	if conditions.Volatility <= t.volatilityThreshold {
		return false
	}

	spread := conditions.Volatility * t.spreadMultiplier
	patch := types.StrategyPatch{Parameters: map[string]any{
		types.ParamBidSpread: spread,
		types.ParamAskSpread: spread,
	}}

	updateCtx, cancel := context.WithTimeout(ctx, t.executionTimeout)
	defer cancel()

	if err := t.backend.UpdateStrategy(updateCtx, executionID, patch); err != nil {
		SpreadUpdatesTotal.WithLabelValues("error").Inc()
		t.logger.Error("spread-update-failed",
			zap.String("group-id", g.ID),
			zap.String("strategy-id", spec.ID),
			zap.Error(err))
		return false
	}

	// Specs are shared-nothing clones, so the new spreads can be written in place.
	if spec.Parameters == nil {
		spec.Parameters = make(map[string]any, 2)
	}
	spec.Parameters[types.ParamBidSpread] = spread
	spec.Parameters[types.ParamAskSpread] = spread
	g.UpdatedAt = time.Now()

	SpreadUpdatesTotal.WithLabelValues("success").Inc()
	t.logger.Info("spreads-adjusted",
		zap.String("group-id", g.ID),
		zap.String("strategy-id", spec.ID),
		zap.String("pair", spec.TradingPair),
		zap.String("exchange", spec.Exchange),
		zap.Float64("volatility", conditions.Volatility),
		zap.Float64("volume", conditions.Volume),
		zap.Float64("market-spread", conditions.Spread),
		zap.Float64("spread", spread))
	return true
}

// readConditions queries volatility, volume and spread concurrently.
func (t *Tuner) readConditions(ctx context.Context, pair, exchange string) (MarketConditions, error) {
	queryCtx, cancel := context.WithTimeout(ctx, t.queryTimeout)
	defer cancel()

	var c MarketConditions
	g, gctx := errgroup.WithContext(queryCtx)
	g.Go(func() (err error) {
		c.Volatility, err = t.backend.GetVolatility(gctx, pair, exchange)
		return err
	})
	g.Go(func() (err error) {
		c.Volume, err = t.backend.GetVolume(gctx, pair, exchange)
		return err
	})
	g.Go(func() (err error) {
		c.Spread, err = t.backend.GetSpread(gctx, pair, exchange)
		return err
	})
	if err := g.Wait(); err != nil {
		return MarketConditions{}, err
	}
	return c, nil
}

// Start launches the periodic adjustment loop.
func (t *Tuner) Start(ctx context.Context) {
	t.logger.Info("adaptive-tuner-started",
		zap.Duration("interval", t.interval),
		zap.Float64("volatility-threshold", t.volatilityThreshold))

	t.wg.Add(1)
	go t.loop(ctx)
}

// Wait blocks until the adjustment loop has exited.
func (t *Tuner) Wait() {
	t.wg.Wait()
}

func (t *Tuner) loop(ctx context.Context) {
	defer t.wg.Done()

	ticker := time.NewTicker(t.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Info("adaptive-tuner-stopped")
			return
		case <-ticker.C:
			n, err := t.AdjustStrategiesForMarketConditions(ctx)
			if err != nil && ctx.Err() == nil {
				t.logger.Error("adjustment-pass-failed", zap.Error(err))
				continue
			}
			t.logger.Debug("adjustment-pass-complete", zap.Int("updates", n))
		}
	}
}
