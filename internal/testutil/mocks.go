package testutil

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/mselser95/venuecoord/internal/backend"
	"github.com/mselser95/venuecoord/pkg/types"
)

// DeployCall records one DeployStrategy invocation.
type DeployCall struct {
	InstanceID  string
	Spec        types.StrategySpec
	ExecutionID string
}

// UpdateCall records one UpdateStrategy invocation.
type UpdateCall struct {
	StrategyID string
	Patch      types.StrategyPatch
}

// MockBackend is an in-memory backend.Client with programmable market data
// and failures. It records every mutation for assertions.
type MockBackend struct {
	mu sync.Mutex

	prices     map[string][]float64 // exchange|pair -> queued prices, the last one sticks
	volatility map[string]float64   // exchange|pair
	latency    map[string]int64
	pingDelay  map[string]time.Duration
	priceDelay map[string]time.Duration
	pingErr    map[string]error
	marketErr  map[string]error
	instances  map[string][]types.Instance
	deployErr  map[string]error // exchange -> error
	stopErr    map[string]error // execution ID -> error
	balances   map[string]map[string]float64

	deploys    []DeployCall
	updates    []UpdateCall
	stops      []string
	priceCalls int
	pings      map[string]int
	nextID     int
}

// NewMockBackend creates a mock with one running instance and a 10ms ping per exchange.
func NewMockBackend(exchanges ...string) *MockBackend {
	m := &MockBackend{
		prices:     make(map[string][]float64),
		volatility: make(map[string]float64),
		latency:    make(map[string]int64),
		pingDelay:  make(map[string]time.Duration),
		priceDelay: make(map[string]time.Duration),
		pingErr:    make(map[string]error),
		marketErr:  make(map[string]error),
		instances:  make(map[string][]types.Instance),
		deployErr:  make(map[string]error),
		stopErr:    make(map[string]error),
		balances:   make(map[string]map[string]float64),
		pings:      make(map[string]int),
	}
	for _, ex := range exchanges {
		m.instances[ex] = []types.Instance{{ID: "inst-" + ex, Exchange: ex, Status: types.InstanceRunning}}
		m.latency[ex] = 10
	}
	return m
}

func key(exchange, pair string) string {
	return exchange + "|" + pair
}

// SetPrice fixes the price of pair on exchange.
func (m *MockBackend) SetPrice(exchange, pair string, price float64) {
	m.SetPriceSequence(exchange, pair, price)
}

// SetPriceSequence queues prices returned by successive GetMarketPrice calls.
func (m *MockBackend) SetPriceSequence(exchange, pair string, prices ...float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.prices[key(exchange, pair)] = append([]float64(nil), prices...)
}

// SetVolatility fixes the volatility of pair on exchange.
func (m *MockBackend) SetVolatility(exchange, pair string, v float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.volatility[key(exchange, pair)] = v
}

// SetMarketError makes every market data query for exchange fail.
func (m *MockBackend) SetMarketError(exchange string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.marketErr[exchange] = err
}

// SetLatency sets the latency reported by PingExchange.
func (m *MockBackend) SetLatency(exchange string, ms int64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.latency[exchange] = ms
}

// SetPingDelay makes PingExchange block for d or until ctx is done.
func (m *MockBackend) SetPingDelay(exchange string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingDelay[exchange] = d
}

// SetPriceDelay makes GetMarketPrice on exchange wait d before answering.
func (m *MockBackend) SetPriceDelay(exchange string, d time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.priceDelay[exchange] = d
}

// SetPingError makes PingExchange fail; nil clears it.
func (m *MockBackend) SetPingError(exchange string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.pingErr[exchange] = err
}

// SetInstances replaces the instances of exchange.
func (m *MockBackend) SetInstances(exchange string, instances ...types.Instance) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.instances[exchange] = append([]types.Instance(nil), instances...)
}

// SetDeployError makes deploys on exchange fail; nil clears it.
func (m *MockBackend) SetDeployError(exchange string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.deployErr[exchange] = err
}

// SetStopError makes stopping the execution fail.
func (m *MockBackend) SetStopError(executionID string, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stopErr[executionID] = err
}

// SetBalances sets the balances reported for exchange.
func (m *MockBackend) SetBalances(exchange string, balances map[string]float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.balances[exchange] = balances
}

// DeployCalls returns the recorded deploys.
func (m *MockBackend) DeployCalls() []DeployCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]DeployCall(nil), m.deploys...)
}

// UpdateCalls returns the recorded updates.
func (m *MockBackend) UpdateCalls() []UpdateCall {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]UpdateCall(nil), m.updates...)
}

// StopCalls returns the execution IDs passed to StopStrategy.
func (m *MockBackend) StopCalls() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]string(nil), m.stops...)
}

// PriceCalls returns how many GetMarketPrice calls were made.
func (m *MockBackend) PriceCalls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.priceCalls
}

// PingCount returns how many times exchange was pinged.
func (m *MockBackend) PingCount(exchange string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.pings[exchange]
}

// GetInstancesByExchange implements backend.Client.
func (m *MockBackend) GetInstancesByExchange(ctx context.Context, exchange string) ([]types.Instance, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]types.Instance(nil), m.instances[exchange]...), nil
}

// DeployStrategy implements backend.Client. Execution IDs are exec-1, exec-2, ...
func (m *MockBackend) DeployStrategy(ctx context.Context, instanceID string, spec types.StrategySpec) (*types.StrategyExecutionRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.deployErr[spec.Exchange]; err != nil {
		return nil, err
	}

	m.nextID++
	rec := &types.StrategyExecutionRecord{
		ID:           fmt.Sprintf("exec-%d", m.nextID),
		StrategyType: spec.Type,
		InstanceID:   instanceID,
		Status:       "running",
		StartTime:    time.Now(),
		Parameters:   spec.Clone().Parameters,
	}
	m.deploys = append(m.deploys, DeployCall{InstanceID: instanceID, Spec: spec.Clone(), ExecutionID: rec.ID})
	return rec, nil
}

// UpdateStrategy implements backend.Client.
func (m *MockBackend) UpdateStrategy(ctx context.Context, strategyID string, patch types.StrategyPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.updates = append(m.updates, UpdateCall{StrategyID: strategyID, Patch: patch})
	return nil
}

// StopStrategy implements backend.Client.
func (m *MockBackend) StopStrategy(ctx context.Context, strategyID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stops = append(m.stops, strategyID)
	return m.stopErr[strategyID]
}

// GetMarketPrice implements backend.Client. A price delay set with
// SetPriceDelay is served before the lookup and honours ctx.
func (m *MockBackend) GetMarketPrice(ctx context.Context, pair string, exchange string) (float64, error) {
	m.mu.Lock()
	m.priceCalls++
	delay := m.priceDelay[exchange]
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.marketErr[exchange]; err != nil {
		return 0, err
	}
	queue := m.prices[key(exchange, pair)]
	if len(queue) == 0 {
		return 0, fmt.Errorf("no price for %s on %s", pair, exchange)
	}
	price := queue[0]
	if len(queue) > 1 {
		m.prices[key(exchange, pair)] = queue[1:]
	}
	return price, nil
}

// GetVolatility implements backend.Client.
func (m *MockBackend) GetVolatility(ctx context.Context, pair string, exchange string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.marketErr[exchange]; err != nil {
		return 0, err
	}
	v, ok := m.volatility[key(exchange, pair)]
	if !ok {
		return 0, fmt.Errorf("no volatility for %s on %s", pair, exchange)
	}
	return v, nil
}

// GetVolume implements backend.Client.
func (m *MockBackend) GetVolume(ctx context.Context, pair string, exchange string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.marketErr[exchange]; err != nil {
		return 0, err
	}
	return 1_000_000, nil
}

// GetSpread implements backend.Client.
func (m *MockBackend) GetSpread(ctx context.Context, pair string, exchange string) (float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.marketErr[exchange]; err != nil {
		return 0, err
	}
	return 0.001, nil
}

// PingExchange implements backend.Client.
func (m *MockBackend) PingExchange(ctx context.Context, exchange string) (*types.PingResult, error) {
	m.mu.Lock()
	m.pings[exchange]++
	delay := m.pingDelay[exchange]
	err := m.pingErr[exchange]
	latency := m.latency[exchange]
	m.mu.Unlock()

	if delay > 0 {
		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	if err != nil {
		return nil, err
	}
	return &types.PingResult{LatencyMs: latency}, nil
}

// GetBalances implements backend.Client.
func (m *MockBackend) GetBalances(ctx context.Context, exchange string) (map[string]float64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if err := m.marketErr[exchange]; err != nil {
		return nil, err
	}
	out := make(map[string]float64, len(m.balances[exchange]))
	for k, v := range m.balances[exchange] {
		out[k] = v
	}
	return out, nil
}

var _ backend.Client = (*MockBackend)(nil)
