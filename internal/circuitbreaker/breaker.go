// Package circuitbreaker gates automatic arbitrage execution on the quote
// balance held at the venues. Every leg spends quote currency on one exchange,
// so the breaker watches the thinnest one.
package circuitbreaker

import (
	"context"
	"fmt"
	"math"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
)

const tradeWindow = 20

// BalanceFetcher fetches asset balances held on an exchange.
// backend.Client and test mocks implement it.
type BalanceFetcher interface {
	GetBalances(ctx context.Context, exchange string) (map[string]float64, error)
}

// BalanceCircuitBreaker monitors venue balances and controls trade execution.
// It dynamically calculates thresholds based on recent trade history and uses
// hysteresis to prevent rapid state changes.
type BalanceCircuitBreaker struct {
	enabled atomic.Bool // Atomic for lock-free reads

	// Configuration
	checkInterval   time.Duration
	balances        BalanceFetcher
	exchanges       []string
	asset           string
	logger          *zap.Logger
	tradeMultiplier float64 // Multiplier for avg trade size
	minAbsolute     float64 // Absolute minimum balance
	hysteresisRatio float64 // Re-enable at ratio * disable threshold

	// Protected by mutex
	mu               sync.RWMutex
	lastBalance      float64   // Lowest balance at the last check
	lastExchange     string    // Exchange holding lastBalance
	lastCheck        time.Time // When we last checked
	recentTrades     []float64 // Rolling window of trade sizes
	disableThreshold float64   // Current disable threshold
	enableThreshold  float64   // Current enable threshold

	wg sync.WaitGroup
}

// Config holds circuit breaker configuration.
type Config struct {
	CheckInterval   time.Duration
	TradeMultiplier float64
	MinAbsolute     float64
	HysteresisRatio float64
	Balances        BalanceFetcher
	Exchanges       []string
	Asset           string
	Logger          *zap.Logger
}

// Status holds current circuit breaker status for debugging.
type Status struct {
	Enabled          bool      `json:"enabled"`
	Asset            string    `json:"asset"`
	LastBalance      float64   `json:"lastBalance"`
	LastExchange     string    `json:"lastExchange"`
	LastCheck        time.Time `json:"lastCheck"`
	DisableThreshold float64   `json:"disableThreshold"`
	EnableThreshold  float64   `json:"enableThreshold"`
	AvgTradeSize     float64   `json:"avgTradeSize"`
	RecentTradeCount int       `json:"recentTradeCount"`
}

// New creates a new circuit breaker with the given configuration.
func New(cfg *Config) (breaker *BalanceCircuitBreaker, err error) {
	if cfg == nil {
		return nil, fmt.Errorf("config cannot be nil")
	}
	if cfg.Balances == nil {
		return nil, fmt.Errorf("balance fetcher cannot be nil")
	}
	if cfg.Logger == nil {
		return nil, fmt.Errorf("logger cannot be nil")
	}
	if len(cfg.Exchanges) == 0 {
		return nil, fmt.Errorf("exchanges cannot be empty")
	}
	if cfg.Asset == "" {
		return nil, fmt.Errorf("asset cannot be empty")
	}
	if cfg.CheckInterval <= 0 {
		return nil, fmt.Errorf("check interval must be positive")
	}
	if cfg.TradeMultiplier <= 0 {
		return nil, fmt.Errorf("trade multiplier must be positive")
	}
	if cfg.MinAbsolute <= 0 {
		return nil, fmt.Errorf("min absolute must be positive")
	}
	if cfg.HysteresisRatio < 1.0 {
		return nil, fmt.Errorf("hysteresis ratio must be >= 1.0")
	}

	breaker = &BalanceCircuitBreaker{
		checkInterval:    cfg.CheckInterval,
		balances:         cfg.Balances,
		exchanges:        append([]string(nil), cfg.Exchanges...),
		asset:            cfg.Asset,
		logger:           cfg.Logger,
		tradeMultiplier:  cfg.TradeMultiplier,
		minAbsolute:      cfg.MinAbsolute,
		hysteresisRatio:  cfg.HysteresisRatio,
		recentTrades:     make([]float64, 0, tradeWindow),
		disableThreshold: cfg.MinAbsolute, // Start with minimum
		enableThreshold:  cfg.MinAbsolute * cfg.HysteresisRatio,
	}

	// Start enabled by default
	breaker.enabled.Store(true)

	CircuitBreakerEnabled.Set(1)
	CircuitBreakerDisableThreshold.Set(breaker.disableThreshold)
	CircuitBreakerEnableThreshold.Set(breaker.enableThreshold)
	CircuitBreakerAvgTradeSize.Set(0)

	return breaker, nil
}

// IsEnabled returns true if trades should be executed.
// This is lock-free and safe to call from hot paths.
func (b *BalanceCircuitBreaker) IsEnabled() (enabled bool) {
	return b.enabled.Load()
}

// RecordTrade adds a trade notional to the rolling window and recalculates
// thresholds. Call this after successful trade execution.
func (b *BalanceCircuitBreaker) RecordTrade(tradeSize float64) {
	if tradeSize <= 0 {
		b.logger.Warn("invalid-trade-size",
			zap.Float64("size", tradeSize))
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	b.recentTrades = append(b.recentTrades, tradeSize)
	if len(b.recentTrades) > tradeWindow {
		b.recentTrades = b.recentTrades[1:]
	}

	avgTradeSize := average(b.recentTrades)

	b.disableThreshold = math.Max(avgTradeSize*b.tradeMultiplier, b.minAbsolute)
	b.enableThreshold = b.disableThreshold * b.hysteresisRatio

	CircuitBreakerAvgTradeSize.Set(avgTradeSize)
	CircuitBreakerDisableThreshold.Set(b.disableThreshold)
	CircuitBreakerEnableThreshold.Set(b.enableThreshold)

	b.logger.Debug("thresholds-updated",
		zap.Float64("avg-trade-size", avgTradeSize),
		zap.Int("trade-count", len(b.recentTrades)),
		zap.Float64("disable-threshold", b.disableThreshold),
		zap.Float64("enable-threshold", b.enableThreshold))
}

// CheckBalance reads the asset balance on every exchange and updates the
// enabled state from the lowest one. A failed read leaves the state unchanged.
func (b *BalanceCircuitBreaker) CheckBalance(ctx context.Context) (err error) {
	start := time.Now()
	defer func() {
		CircuitBreakerCheckDuration.Observe(time.Since(start).Seconds())
	}()

	balance, exchange, err := b.lowestBalance(ctx)
	if err != nil {
		b.logger.Error("failed-to-check-balance",
			zap.Error(err),
			zap.String("asset", b.asset))
		return err
	}

	b.mu.Lock()
	b.lastBalance = balance
	b.lastExchange = exchange
	b.lastCheck = time.Now()
	disableThreshold := b.disableThreshold
	enableThreshold := b.enableThreshold
	b.mu.Unlock()

	CircuitBreakerBalance.Set(balance)

	currentlyEnabled := b.enabled.Load()

	// State transition logic with hysteresis
	shouldDisable := currentlyEnabled && balance < disableThreshold
	shouldEnable := !currentlyEnabled && balance >= enableThreshold

	switch {
	case shouldDisable:
		b.enabled.Store(false)
		CircuitBreakerEnabled.Set(0)
		CircuitBreakerStateChanges.Inc()

		b.logger.Warn("circuit-breaker-disabled",
			zap.String("exchange", exchange),
			zap.Float64("balance", balance),
			zap.Float64("disable-threshold", disableThreshold),
			zap.Float64("enable-threshold", enableThreshold))
	case shouldEnable:
		b.enabled.Store(true)
		CircuitBreakerEnabled.Set(1)
		CircuitBreakerStateChanges.Inc()

		b.logger.Info("circuit-breaker-enabled",
			zap.String("exchange", exchange),
			zap.Float64("balance", balance),
			zap.Float64("disable-threshold", disableThreshold),
			zap.Float64("enable-threshold", enableThreshold))
	default:
		b.logger.Debug("balance-checked",
			zap.String("exchange", exchange),
			zap.Float64("balance", balance),
			zap.Bool("enabled", currentlyEnabled))
	}

	return nil
}

func (b *BalanceCircuitBreaker) lowestBalance(ctx context.Context) (float64, string, error) {
	lowest := math.Inf(1)
	lowestExchange := ""

	for _, exchange := range b.exchanges {
		balances, err := b.balances.GetBalances(ctx, exchange)
		if err != nil {
			return 0, "", fmt.Errorf("get balances on %s: %w", exchange, err)
		}

		if v := balances[b.asset]; v < lowest {
			lowest = v
			lowestExchange = exchange
		}
	}

	return lowest, lowestExchange, nil
}

// Start checks the balance immediately, then begins the background
// monitoring loop. It runs until ctx is cancelled.
func (b *BalanceCircuitBreaker) Start(ctx context.Context) {
	b.logger.Info("circuit-breaker-started",
		zap.String("asset", b.asset),
		zap.Strings("exchanges", b.exchanges),
		zap.Duration("check-interval", b.checkInterval),
		zap.Float64("trade-multiplier", b.tradeMultiplier),
		zap.Float64("min-absolute", b.minAbsolute),
		zap.Float64("hysteresis-ratio", b.hysteresisRatio))

	err := b.CheckBalance(ctx)
	if err != nil {
		b.logger.Error("initial-balance-check-failed", zap.Error(err))
	}

	b.wg.Add(1)
	go b.monitorLoop(ctx)
}

// Wait blocks until the monitoring loop has exited.
func (b *BalanceCircuitBreaker) Wait() {
	b.wg.Wait()
}

func (b *BalanceCircuitBreaker) monitorLoop(ctx context.Context) {
	defer b.wg.Done()

	ticker := time.NewTicker(b.checkInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			b.logger.Info("circuit-breaker-stopped")
			return
		case <-ticker.C:
			err := b.CheckBalance(ctx)
			if err != nil {
				b.logger.Error("balance-check-error", zap.Error(err))
			}
		}
	}
}

// GetStatus returns current circuit breaker status for debugging and HTTP endpoints.
func (b *BalanceCircuitBreaker) GetStatus() (status Status) {
	b.mu.RLock()
	defer b.mu.RUnlock()

	return Status{
		Enabled:          b.enabled.Load(),
		Asset:            b.asset,
		LastBalance:      b.lastBalance,
		LastExchange:     b.lastExchange,
		LastCheck:        b.lastCheck,
		DisableThreshold: b.disableThreshold,
		EnableThreshold:  b.enableThreshold,
		AvgTradeSize:     average(b.recentTrades),
		RecentTradeCount: len(b.recentTrades),
	}
}

func average(xs []float64) float64 {
	if len(xs) == 0 {
		return 0
	}
	sum := 0.0
	for _, x := range xs {
		sum += x
	}
	return sum / float64(len(xs))
}
