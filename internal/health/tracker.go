// Package health tracks the health of every configured exchange from periodic
// backend pings and drives recovery probing of failed exchanges.
package health

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/mselser95/venuecoord/internal/backend"
	"github.com/mselser95/venuecoord/internal/events"
	"github.com/mselser95/venuecoord/internal/state"
	"github.com/mselser95/venuecoord/pkg/types"
	"go.uber.org/zap"
)

var errPingTimeout = errors.New("ping exceeded failover threshold")

// TransitionHandler is called on every health state change.
type TransitionHandler func(ctx context.Context, change events.ExchangeStatusChanged)

// FailureHandler is called when an exchange becomes failed, at most once per
// failover cooldown per exchange. A failure suppressed by the cooldown is
// delivered by the first health check after the cooldown expires if the exchange is
// still failed.
type FailureHandler func(ctx context.Context, exchange string)

// Config holds tracker configuration.
type Config struct {
	Backend backend.Client
	Store   *state.Store
	Events  events.Emitter
	Logger  *zap.Logger

	CheckInterval     time.Duration
	MaxLatency        time.Duration // slower successful pings are degraded
	FailoverThreshold time.Duration // ping timeout; slower pings are failed
	ErrorThreshold    int           // consecutive errors before failed

	AutoRecovery        bool
	MaxRecoveryAttempts int
	Recovery            BackoffConfig
	FailoverCooldown    time.Duration
}

// Tracker owns every exchange status transition.
type Tracker struct {
	backend backend.Client
	store   *state.Store
	events  events.Emitter
	logger  *zap.Logger

	checkInterval       time.Duration
	maxLatency          time.Duration
	failoverThreshold   time.Duration
	errorThreshold      int
	autoRecovery        bool
	maxRecoveryAttempts int
	recovery            BackoffConfig
	failoverCooldown    time.Duration

	mu                 sync.Mutex
	attempts           map[string]int
	lastFailover       map[string]time.Time
	deferredFailover   map[string]bool
	transitionHandlers []TransitionHandler
	failureHandlers    []FailureHandler

	wg sync.WaitGroup
}

// New creates a tracker.
func New(cfg *Config) (*Tracker, error) {
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

	t := &Tracker{
		backend:             cfg.Backend,
		store:               cfg.Store,
		events:              cfg.Events,
		logger:              cfg.Logger,
		checkInterval:       cfg.CheckInterval,
		maxLatency:          cfg.MaxLatency,
		failoverThreshold:   cfg.FailoverThreshold,
		errorThreshold:      cfg.ErrorThreshold,
		autoRecovery:        cfg.AutoRecovery,
		maxRecoveryAttempts: cfg.MaxRecoveryAttempts,
		recovery:            cfg.Recovery,
		failoverCooldown:    cfg.FailoverCooldown,
		attempts:            make(map[string]int),
		lastFailover:        make(map[string]time.Time),
		deferredFailover:    make(map[string]bool),
	}
	if t.events == nil {
		t.events = events.Nop{}
	}
	if t.checkInterval <= 0 {
		t.checkInterval = 30 * time.Second
	}
	if t.maxLatency <= 0 {
		t.maxLatency = time.Second
	}
	if t.failoverThreshold <= 0 {
		t.failoverThreshold = 5 * time.Second
	}
	if t.errorThreshold <= 0 {
		t.errorThreshold = 3
	}
	if t.recovery.InitialDelay <= 0 {
		t.recovery.InitialDelay = time.Minute
	}
	if t.recovery.BackoffMultiplier < 1 {
		t.recovery.BackoffMultiplier = 2
	}
	if t.recovery.MaxDelay <= 0 {
		t.recovery.MaxDelay = 16 * t.recovery.InitialDelay
	}

	for _, name := range t.store.Exchanges() {
		ExchangeHealthState.WithLabelValues(name).Set(stateValue(types.HealthUnknown))
	}

	return t, nil
}

// OnTransition registers a handler for every state change.
func (t *Tracker) OnTransition(h TransitionHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.transitionHandlers = append(t.transitionHandlers, h)
}

// OnFailure registers a handler for transitions to failed.
func (t *Tracker) OnFailure(h FailureHandler) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.failureHandlers = append(t.failureHandlers, h)
}

// RecoveryAttempts returns the recovery probes spent on a failed exchange.
func (t *Tracker) RecoveryAttempts(exchange string) int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.attempts[exchange]
}

// ResetRecovery gives an exchange whose recovery budget is spent a fresh one.
func (t *Tracker) ResetRecovery(exchange string) {
	t.mu.Lock()
	defer t.mu.Unlock()
	delete(t.attempts, exchange)

	t.logger.Info("recovery-reset", zap.String("exchange", exchange))
}

// Probe pings the exchange once and applies the result to its status.
// A failed exchange is only probed as a recovery attempt, which requires
// auto recovery and an unspent attempt budget; otherwise its status is
// returned untouched. The returned error is the ping failure, if any.
func (t *Tracker) Probe(ctx context.Context, exchange string) (types.ExchangeStatus, error) {
	current, ok := t.store.ExchangeStatus(exchange)
	if !ok {
		return types.ExchangeStatus{}, fmt.Errorf("%w: %s", types.ErrUnknownExchange, exchange)
	}

	recovering := current.Status == types.HealthFailed
	if recovering {
		t.retryDeferredFailover(ctx, exchange)

		if !t.autoRecovery {
			return current, nil
		}

		t.mu.Lock()
		if t.attempts[exchange] >= t.maxRecoveryAttempts {
			t.mu.Unlock()
			t.logger.Debug("recovery-exhausted", zap.String("exchange", exchange))
			return current, nil
		}
		t.attempts[exchange]++
		attempt := t.attempts[exchange]
		t.mu.Unlock()

		t.logger.Info("recovery-probe",
			zap.String("exchange", exchange),
			zap.Int("attempt", attempt),
			zap.Int("max-attempts", t.maxRecoveryAttempts))
	}

	latency, pingErr := t.ping(ctx, exchange)
	if ctx.Err() != nil {
		// Shutting down; a cancelled ping says nothing about the exchange.
		return current, ctx.Err()
	}

	now := time.Now()
	before, after, err := t.store.UpdateExchangeStatus(exchange, func(s *types.ExchangeStatus) {
		t.classify(s, latency, pingErr, now)
	})
	if err != nil {
		return current, err
	}

	if recovering {
		if after.Status == types.HealthFailed {
			RecoveryAttemptsTotal.WithLabelValues(exchange, "failed").Inc()
		} else {
			RecoveryAttemptsTotal.WithLabelValues(exchange, "recovered").Inc()
		}
	}

	if before.Status != after.Status {
		t.transition(ctx, before, after)
	}

	return after, pingErr
}

func (t *Tracker) ping(ctx context.Context, exchange string) (time.Duration, error) {
	pingCtx, cancel := context.WithTimeout(ctx, t.failoverThreshold)
	defer cancel()

	start := time.Now()
	res, err := t.backend.PingExchange(pingCtx, exchange)
	elapsed := time.Since(start)
	PingDurationSeconds.WithLabelValues(exchange).Observe(elapsed.Seconds())

	if err != nil {
		if errors.Is(pingCtx.Err(), context.DeadlineExceeded) && ctx.Err() == nil {
			return elapsed, fmt.Errorf("ping %s: %w", exchange, errPingTimeout)
		}
		return elapsed, &types.BackendError{Op: "ping", Exchange: exchange, Err: err}
	}

	if res.LatencyMs > 0 {
		return time.Duration(res.LatencyMs) * time.Millisecond, nil
	}
	return elapsed, nil
}

func (t *Tracker) classify(s *types.ExchangeStatus, latency time.Duration, pingErr error, now time.Time) {
	s.LastPingAt = now

	if pingErr != nil {
		s.ErrorCount++
		switch {
		case errors.Is(pingErr, errPingTimeout), s.ErrorCount >= t.errorThreshold:
			s.Status = types.HealthFailed
		case s.Status == types.HealthFailed:
			// stays failed until a successful recovery probe
		default:
			s.Status = types.HealthDegraded
		}
		return
	}

	s.LatencyMs = latency.Milliseconds()
	switch {
	case latency > t.failoverThreshold:
		s.ErrorCount++
		s.Status = types.HealthFailed
	case latency > t.maxLatency:
		s.ErrorCount = 0
		s.Status = types.HealthDegraded
	default:
		s.ErrorCount = 0
		s.Status = types.HealthHealthy
	}
}

func (t *Tracker) transition(ctx context.Context, before, after types.ExchangeStatus) {
	exchange := after.Name

	TransitionsTotal.WithLabelValues(exchange, string(after.Status)).Inc()
	ExchangeHealthState.WithLabelValues(exchange).Set(stateValue(after.Status))

	switch {
	case after.Status == types.HealthFailed:
		t.logger.Warn("exchange-failed",
			zap.String("exchange", exchange),
			zap.String("from", string(before.Status)),
			zap.Int("error-count", after.ErrorCount),
			zap.Int64("latency-ms", after.LatencyMs))
	case before.Status == types.HealthFailed:
		t.mu.Lock()
		delete(t.attempts, exchange)
		delete(t.deferredFailover, exchange)
		t.mu.Unlock()

		t.logger.Info("exchange-recovered",
			zap.String("exchange", exchange),
			zap.String("to", string(after.Status)),
			zap.Int64("latency-ms", after.LatencyMs))
	}

	change := events.ExchangeStatusChanged{
		Exchange: exchange,
		From:     before.Status,
		To:       after.Status,
		Status:   after,
	}
	t.events.Emit(change)

	t.mu.Lock()
	handlers := make([]TransitionHandler, len(t.transitionHandlers))
	copy(handlers, t.transitionHandlers)
	t.mu.Unlock()

	for _, h := range handlers {
		h(ctx, change)
	}

	if after.Status == types.HealthFailed {
		t.triggerFailover(ctx, exchange)
	}
}

func (t *Tracker) triggerFailover(ctx context.Context, exchange string) {
	t.mu.Lock()
	last, seen := t.lastFailover[exchange]
	if seen && time.Since(last) < t.failoverCooldown {
		t.deferredFailover[exchange] = true
		t.mu.Unlock()
		FailoverTriggersTotal.WithLabelValues(exchange, "cooldown").Inc()
		t.logger.Info("failover-deferred-by-cooldown",
			zap.String("exchange", exchange),
			zap.Duration("since-last", time.Since(last)),
			zap.Duration("cooldown", t.failoverCooldown))
		return
	}
	t.lastFailover[exchange] = time.Now()
	delete(t.deferredFailover, exchange)
	handlers := make([]FailureHandler, len(t.failureHandlers))
	copy(handlers, t.failureHandlers)
	t.mu.Unlock()

	FailoverTriggersTotal.WithLabelValues(exchange, "triggered").Inc()
	for _, h := range handlers {
		h(ctx, exchange)
	}
}

// retryDeferredFailover delivers a failure suppressed by the cooldown once the
// cooldown has expired. Called only while the exchange is failed.
func (t *Tracker) retryDeferredFailover(ctx context.Context, exchange string) {
	t.mu.Lock()
	pending := t.deferredFailover[exchange]
	expired := time.Since(t.lastFailover[exchange]) >= t.failoverCooldown
	t.mu.Unlock()

	if !pending || !expired {
		return
	}

	t.logger.Info("deferred-failover-triggered", zap.String("exchange", exchange))
	t.triggerFailover(ctx, exchange)
}

// Start launches one probe loop per exchange. Loops exit when ctx is cancelled.
func (t *Tracker) Start(ctx context.Context) {
	exchanges := t.store.Exchanges()

	t.logger.Info("health-tracker-started",
		zap.Strings("exchanges", exchanges),
		zap.Duration("check-interval", t.checkInterval),
		zap.Duration("max-latency", t.maxLatency),
		zap.Duration("failover-threshold", t.failoverThreshold),
		zap.Bool("auto-recovery", t.autoRecovery))

	for _, exchange := range exchanges {
		t.wg.Add(1)
		go t.probeLoop(ctx, exchange)
	}
}

// Wait blocks until every probe loop has exited.
func (t *Tracker) Wait() {
	t.wg.Wait()
}

func (t *Tracker) probeLoop(ctx context.Context, exchange string) {
	defer t.wg.Done()

	timer := time.NewTimer(0)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			t.logger.Debug("probe-loop-stopped", zap.String("exchange", exchange))
			return
		case <-timer.C:
			status, err := t.Probe(ctx, exchange)
			if err != nil && ctx.Err() == nil {
				t.logger.Debug("probe-failed",
					zap.String("exchange", exchange),
					zap.Error(err))
			}
			timer.Reset(t.nextDelay(exchange, status))
		}
	}
}

func (t *Tracker) nextDelay(exchange string, status types.ExchangeStatus) time.Duration {
	if status.Status != types.HealthFailed || !t.autoRecovery {
		return t.checkInterval
	}

	t.mu.Lock()
	spent := t.attempts[exchange]
	t.mu.Unlock()

	if spent >= t.maxRecoveryAttempts {
		return t.checkInterval
	}
	return t.recovery.delay(spent + 1)
}
