// Package placement maps strategy batches onto execution-backend instances.
//
// A batch is all-or-nothing: every target exchange must be healthy before the
// first deploy, and a deploy failure stops every leg already deployed for the
// batch before the error is returned.
package placement

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/mselser95/venuecoord/internal/backend"
	"github.com/mselser95/venuecoord/internal/events"
	"github.com/mselser95/venuecoord/internal/state"
	"github.com/mselser95/venuecoord/pkg/config"
	"github.com/mselser95/venuecoord/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// GroupTypeCrossExchange is the type of groups built from a strategy batch.
const GroupTypeCrossExchange = "cross_exchange"

// StrategyMonitor is told about every deployed strategy.
type StrategyMonitor interface {
	TrackStrategy(record types.StrategyExecutionRecord)
}

// ValidationResult is the verdict of a ConfigValidator.
type ValidationResult struct {
	IsValid bool
	Errors  []string
}

// ConfigValidator vets a spec before it is accepted for placement.
type ConfigValidator interface {
	ValidateConfiguration(spec types.StrategySpec) ValidationResult
}

// Config holds placement engine configuration.
type Config struct {
	Backend   backend.Client
	Store     *state.Store
	Events    events.Emitter
	Logger    *zap.Logger
	Validator ConfigValidator // optional
	Monitor   StrategyMonitor // optional

	MaxConcurrentStrategies int                // 0 means unlimited
	ConflictResolution      string             // config.ConflictReject or config.ConflictAllow
	Priorities              map[string]float64 // strategy type -> priority, higher first
	QueryTimeout            time.Duration
	ExecutionTimeout        time.Duration
}

// Engine places strategy batches.
type Engine struct {
	backend   backend.Client
	store     *state.Store
	events    events.Emitter
	logger    *zap.Logger
	validator ConfigValidator
	monitor   StrategyMonitor

	maxConcurrent    int
	rejectConflicts  bool
	priorities       map[string]float64
	queryTimeout     time.Duration
	executionTimeout time.Duration

	// admit serializes capacity and conflict checks with group insertion.
	admit sync.Mutex
}

// New creates a placement engine.
func New(cfg *Config) (*Engine, error) {
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

	e := &Engine{
		backend:          cfg.Backend,
		store:            cfg.Store,
		events:           cfg.Events,
		logger:           cfg.Logger,
		validator:        cfg.Validator,
		monitor:          cfg.Monitor,
		maxConcurrent:    cfg.MaxConcurrentStrategies,
		rejectConflicts:  cfg.ConflictResolution != config.ConflictAllow,
		priorities:       cfg.Priorities,
		queryTimeout:     cfg.QueryTimeout,
		executionTimeout: cfg.ExecutionTimeout,
	}
	if e.events == nil {
		e.events = events.Nop{}
	}
	if e.queryTimeout <= 0 {
		e.queryTimeout = time.Second
	}
	if e.executionTimeout <= 0 {
		e.executionTimeout = 5 * time.Second
	}
	return e, nil
}

type deployment struct {
	spec   types.StrategySpec
	record types.StrategyExecutionRecord
}

// CoordinateStrategies validates specs, checks every target exchange is
// healthy, deploys each spec to an available instance on its exchange and
// registers the resulting group. On any failure nothing stays deployed.
func (e *Engine) CoordinateStrategies(ctx context.Context, specs []types.StrategySpec) (*types.CrossExchangeGroup, error) {
	start := time.Now()
	defer func() {
		CoordinationDurationSeconds.Observe(time.Since(start).Seconds())
	}()

	group, err := e.coordinate(ctx, specs)
	if err != nil {
		CoordinationsTotal.WithLabelValues(resultLabel(err)).Inc()
		return nil, err
	}
	CoordinationsTotal.WithLabelValues("success").Inc()
	return group, nil
}

func (e *Engine) coordinate(ctx context.Context, specs []types.StrategySpec) (*types.CrossExchangeGroup, error) {
	if len(specs) == 0 {
		return nil, fmt.Errorf("%w: no strategies given", types.ErrInvalidStrategy)
	}

	batch := make([]types.StrategySpec, len(specs))
	for i, s := range specs {
		batch[i] = s.Clone()
	}
	if err := e.validate(batch); err != nil {
		return nil, err
	}
	e.sortByPriority(batch)

	e.admit.Lock()
	defer e.admit.Unlock()

	if err := e.checkAdmission(batch); err != nil {
		return nil, err
	}

	exchanges := types.DistinctExchanges(batch)
	for _, ex := range exchanges {
		st, ok := e.store.ExchangeStatus(ex)
		if !ok {
			return nil, types.ExchangeUnavailableError(ex, types.HealthUnknown)
		}
		if !st.IsHealthy() {
			e.logger.Warn("placement-rejected-unhealthy-exchange",
				zap.String("exchange", ex),
				zap.String("status", string(st.Status)))
			return nil, types.ExchangeUnavailableError(ex, st.Status)
		}
	}

	deployed, err := e.deployAll(ctx, batch, exchanges)
	if err != nil {
		e.rollback(ctx, deployed)
		return nil, err
	}

	now := time.Now()
	group := &types.CrossExchangeGroup{
		ID:          uuid.New().String(),
		Type:        GroupTypeCrossExchange,
		Exchanges:   exchanges,
		Strategies:  batch,
		Status:      types.GroupActive,
		Deployments: make(map[string]string, len(deployed)),
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	records := make([]types.StrategyExecutionRecord, 0, len(deployed))
	for _, d := range deployed {
		group.Deployments[d.spec.ID] = d.record.ID
		records = append(records, d.record)
	}

	if err := e.store.InsertGroup(group); err != nil {
		e.rollback(ctx, deployed)
		return nil, fmt.Errorf("register group: %w", err)
	}

	if e.monitor != nil {
		for _, r := range records {
			e.monitor.TrackStrategy(r)
		}
	}

	e.logger.Info("strategies-coordinated",
		zap.String("group-id", group.ID),
		zap.Strings("exchanges", exchanges),
		zap.Int("strategies", len(batch)))

	snapshot := group.Clone()
	e.events.Emit(events.StrategyCoordinated{Group: group.Clone(), Records: records})
	return snapshot, nil
}

func (e *Engine) validate(batch []types.StrategySpec) error {
	seen := make(map[string]bool, len(batch))
	for _, s := range batch {
		if err := s.Validate(); err != nil {
			return err
		}
		if seen[s.ID] {
			return fmt.Errorf("%w: duplicate strategy id %s", types.ErrInvalidStrategy, s.ID)
		}
		seen[s.ID] = true

		if e.validator != nil {
			res := e.validator.ValidateConfiguration(s)
			if !res.IsValid {
				return fmt.Errorf("%w: %s: %s", types.ErrInvalidStrategy, s.ID, strings.Join(res.Errors, "; "))
			}
		}
	}
	return nil
}

func (e *Engine) checkAdmission(batch []types.StrategySpec) error {
	if e.maxConcurrent > 0 {
		active := e.store.ActiveStrategyCount()
		if active+len(batch) > e.maxConcurrent {
			return fmt.Errorf("%w: %d active, %d requested, limit %d",
				types.ErrCapacityExceeded, active, len(batch), e.maxConcurrent)
		}
	}

	if !e.rejectConflicts {
		return nil
	}
	keys := e.store.ActiveConflictKeys()
	for _, s := range batch {
		k := s.ConflictKey()
		if keys[k] {
			return fmt.Errorf("%w: %s (%s %s on %s)", types.ErrStrategyConflict, s.ID, s.Type, s.TradingPair, s.Exchange)
		}
		keys[k] = true
	}
	return nil
}

// sortByPriority orders specs by configured type priority, highest first,
// keeping submission order among equals.
func (e *Engine) sortByPriority(batch []types.StrategySpec) {
	if len(e.priorities) == 0 {
		return
	}
	sort.SliceStable(batch, func(i, j int) bool {
		return e.priorities[batch[i].Type] > e.priorities[batch[j].Type]
	})
}

func (e *Engine) deployAll(ctx context.Context, batch []types.StrategySpec, exchanges []string) ([]deployment, error) {
	byExchange := make(map[string][]types.StrategySpec, len(exchanges))
	for _, s := range batch {
		byExchange[s.Exchange] = append(byExchange[s.Exchange], s)
	}

	var (
		mu       sync.Mutex
		deployed []deployment
	)
	record := func(d deployment) {
		mu.Lock()
		defer mu.Unlock()
		deployed = append(deployed, d)
	}

	g, gctx := errgroup.WithContext(ctx)
	for _, ex := range exchanges {
		g.Go(func() error {
			return e.deployExchange(gctx, ex, byExchange[ex], record)
		})
	}
	err := g.Wait()

	// Report deployments in batch order regardless of completion order.
	order := make(map[string]int, len(batch))
	for i, s := range batch {
		order[s.ID] = i
	}
	sort.Slice(deployed, func(i, j int) bool {
		return order[deployed[i].spec.ID] < order[deployed[j].spec.ID]
	})
	return deployed, err
}

func (e *Engine) deployExchange(ctx context.Context, exchange string, specs []types.StrategySpec, record func(deployment)) error {
	instance, err := e.pickInstance(ctx, exchange)
	if err != nil {
		return err
	}

	for _, spec := range specs {
		deployCtx, cancel := context.WithTimeout(ctx, e.executionTimeout)
		rec, err := e.backend.DeployStrategy(deployCtx, instance.ID, spec)
		cancel()
		if err != nil {
			DeploysTotal.WithLabelValues(exchange, "error").Inc()
			e.logger.Error("strategy-deploy-failed",
				zap.String("strategy-id", spec.ID),
				zap.String("exchange", exchange),
				zap.String("instance-id", instance.ID),
				zap.Error(err))
			return &types.BackendError{Op: "deploy", Exchange: exchange, StrategyID: spec.ID, Err: err}
		}

		DeploysTotal.WithLabelValues(exchange, "success").Inc()
		record(deployment{spec: spec, record: *rec})
	}
	return nil
}

func (e *Engine) pickInstance(ctx context.Context, exchange string) (types.Instance, error) {
	queryCtx, cancel := context.WithTimeout(ctx, e.queryTimeout)
	defer cancel()

	instances, err := e.backend.GetInstancesByExchange(queryCtx, exchange)
	if err != nil {
		return types.Instance{}, &types.BackendError{Op: "instances", Exchange: exchange, Err: err}
	}
	instance, ok := backend.FirstAvailable(instances)
	if !ok {
		return types.Instance{}, fmt.Errorf("%w on %s", types.ErrNoInstanceAvailable, exchange)
	}
	return instance, nil
}

// rollback stops every deployment of a failed batch. It runs even when ctx is
// cancelled so a cancelled request does not leak live strategies.
func (e *Engine) rollback(ctx context.Context, deployed []deployment) {
	if len(deployed) == 0 {
		return
	}

	base := context.WithoutCancel(ctx)
	var errs []error
	for _, d := range deployed {
		stopCtx, cancel := context.WithTimeout(base, e.executionTimeout)
		err := e.backend.StopStrategy(stopCtx, d.record.ID)
		cancel()
		if err != nil {
			RollbacksTotal.WithLabelValues("error").Inc()
			errs = append(errs, fmt.Errorf("stop %s: %w", d.spec.ID, err))
			continue
		}
		RollbacksTotal.WithLabelValues("success").Inc()
	}

	if err := errors.Join(errs...); err != nil {
		e.logger.Error("placement-rollback-incomplete",
			zap.Int("deployed", len(deployed)),
			zap.Error(err))
		return
	}
	e.logger.Warn("placement-rolled-back", zap.Int("stopped", len(deployed)))
}

func resultLabel(err error) string {
	switch {
	case errors.Is(err, types.ErrExchangeNotAvailable):
		return "exchange_unavailable"
	case errors.Is(err, types.ErrInvalidStrategy):
		return "invalid"
	case errors.Is(err, types.ErrCapacityExceeded):
		return "capacity"
	case errors.Is(err, types.ErrStrategyConflict):
		return "conflict"
	case errors.Is(err, types.ErrNoInstanceAvailable):
		return "no_instance"
	default:
		return "error"
	}
}
