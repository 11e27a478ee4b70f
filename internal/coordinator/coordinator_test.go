package coordinator

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mselser95/venuecoord/internal/events"
	"github.com/mselser95/venuecoord/internal/testutil"
	"github.com/mselser95/venuecoord/pkg/config"
	"github.com/mselser95/venuecoord/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func testSettings() *config.Config {
	return &config.Config{
		Arbitrage: config.ArbitrageConfig{
			MinProfitThreshold:  0.5,
			MaxLatency:          100 * time.Millisecond,
			SupportedPairs:      []string{"BTC/USDT"},
			Exchanges:           []string{"binance", "kucoin"},
			MaxOrderSize:        1000,
			ExecutionTimeout:    time.Second,
			PriceUpdateInterval: time.Hour,
		},
		Failover: config.FailoverConfig{
			PrimaryExchange:     "binance",
			FallbackExchanges:   []string{"kucoin", "okx"},
			HealthCheckInterval: time.Hour,
			FailoverThreshold:   500 * time.Millisecond,
			ErrorThreshold:      1,
		},
		Coordination: config.CoordinationConfig{
			ConflictResolution: config.ConflictReject,
			AdjustInterval:     time.Hour,
		},
	}
}

type fixture struct {
	backend *testutil.MockBackend
	engine  *Engine
	events  *events.ChannelObserver
}

func newFixture(t *testing.T, settings *config.Config) *fixture {
	t.Helper()

	b := testutil.NewMockBackend("binance", "kucoin", "okx")
	e, err := New(&Config{Settings: settings, Backend: b, Logger: zaptest.NewLogger(t)})
	require.NoError(t, err)

	obs := events.NewChannelObserver(64)
	e.RegisterObserver(obs)
	return &fixture{backend: b, engine: e, events: obs}
}

func (f *fixture) probeAll(t *testing.T) {
	t.Helper()
	for _, ex := range []string{"binance", "kucoin", "okx"} {
		_, _ = f.engine.ProbeExchange(context.Background(), ex)
	}
}

func drain(ch <-chan events.Event, kind events.Kind) []events.Event {
	var out []events.Event
	for {
		select {
		case e := <-ch:
			if e.Kind() == kind {
				out = append(out, e)
			}
		default:
			return out
		}
	}
}

func TestNew_TracksMonitoredExchangesAsUnknown(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testSettings())
	statuses := f.engine.GetExchangeStatus()
	require.Len(t, statuses, 3)
	for name, s := range statuses {
		assert.Equal(t, name, s.Name)
		assert.Equal(t, types.HealthUnknown, s.Status)
	}
	assert.False(t, f.engine.Ready())

	f.probeAll(t)
	assert.True(t, f.engine.Ready())
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	logger := zaptest.NewLogger(t)
	b := testutil.NewMockBackend()

	for name, cfg := range map[string]*Config{
		"nil config":   nil,
		"nil settings": {Backend: b, Logger: logger},
		"nil backend":  {Settings: testSettings(), Logger: logger},
		"nil logger":   {Settings: testSettings(), Backend: b},
	} {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			_, err := New(cfg)
			assert.Error(t, err)
		})
	}
}

func TestSnapshots_AreIdempotentCopies(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testSettings())
	f.probeAll(t)

	_, err := f.engine.CoordinateStrategies(context.Background(), []types.StrategySpec{
		testutil.CreateTestSpec("s1", "binance", "BTC/USDT"),
		testutil.CreateTestSpec("s2", "kucoin", "BTC/USDT"),
	})
	require.NoError(t, err)

	first := f.engine.GetActiveStrategies()
	second := f.engine.GetActiveStrategies()
	require.Len(t, first, 1)
	assert.Equal(t, first, second)

	statuses := f.engine.GetExchangeStatus()
	assert.Equal(t, statuses, f.engine.GetExchangeStatus())

	// Mutating a snapshot leaves coordination state untouched.
	first[0].Status = types.GroupStopped
	first[0].Strategies[0].Parameters[types.ParamBidSpread] = 9.9
	delete(statuses, "binance")

	again := f.engine.GetActiveStrategies()
	assert.Equal(t, types.GroupActive, again[0].Status)
	assert.Equal(t, 0.1, again[0].Strategies[0].Parameters[types.ParamBidSpread])
	assert.Len(t, f.engine.GetExchangeStatus(), 3)
}

func TestProbeFailure_TriggersAutomaticFailover(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testSettings())
	f.probeAll(t)

	g, err := f.engine.CoordinateStrategies(context.Background(), []types.StrategySpec{
		testutil.CreateTestSpec("s1", "binance", "BTC/USDT"),
	})
	require.NoError(t, err)

	f.backend.SetPingError("binance", errors.New("connection refused"))
	status, err := f.engine.ProbeExchange(context.Background(), "binance")
	require.Error(t, err)
	assert.Equal(t, types.HealthFailed, status.Status)

	relocated, ok := f.engine.GetStrategyGroup(g.ID)
	require.True(t, ok)
	assert.Equal(t, types.GroupActive, relocated.Status)
	assert.Equal(t, "kucoin", relocated.Strategies[0].Exchange)

	failovers := drain(f.events.Events(), events.KindExchangeFailover)
	require.Len(t, failovers, 1)
	ev := failovers[0].(events.ExchangeFailover)
	assert.Equal(t, events.OutcomeRelocated, ev.Outcome)
	assert.Equal(t, "kucoin", ev.Fallback)
}

func TestProbeFailure_FailoverDeferredByCooldownStillRelocates(t *testing.T) {
	t.Parallel()

	settings := testSettings()
	settings.Failover.FailoverCooldown = 300 * time.Millisecond
	settings.Failover.AutoRecoveryEnabled = true
	settings.Failover.MaxFailoverAttempts = 1000
	settings.Failover.RecoveryCheckInterval = time.Millisecond

	f := newFixture(t, settings)
	f.probeAll(t)
	ctx := context.Background()

	// first outage starts the cooldown
	f.backend.SetPingError("binance", errors.New("connection refused"))
	_, _ = f.engine.ProbeExchange(ctx, "binance")
	f.backend.SetPingError("binance", nil)
	status, err := f.engine.ProbeExchange(ctx, "binance")
	require.NoError(t, err)
	require.Equal(t, types.HealthHealthy, status.Status)

	g, err := f.engine.CoordinateStrategies(ctx, []types.StrategySpec{
		testutil.CreateTestSpec("s1", "binance", "BTC/USDT"),
	})
	require.NoError(t, err)

	// second outage inside the cooldown
	f.backend.SetPingError("binance", errors.New("connection refused"))
	_, _ = f.engine.ProbeExchange(ctx, "binance")

	held, ok := f.engine.GetStrategyGroup(g.ID)
	require.True(t, ok)
	require.Equal(t, "binance", held.Strategies[0].Exchange)

	require.Eventually(t, func() bool {
		_, _ = f.engine.ProbeExchange(ctx, "binance")
		moved, ok := f.engine.GetStrategyGroup(g.ID)
		return ok && moved.Strategies[0].Exchange == "kucoin"
	}, 2*time.Second, 10*time.Millisecond)
}

func TestHandleExchangeFailover_UnknownExchange(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testSettings())
	_, err := f.engine.HandleExchangeFailover(context.Background(), "bitstamp")
	assert.ErrorIs(t, err, types.ErrUnknownExchange)
}

func TestStopStrategy(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testSettings())
	f.probeAll(t)

	g, err := f.engine.CoordinateStrategies(context.Background(), []types.StrategySpec{
		testutil.CreateTestSpec("s1", "binance", "BTC/USDT"),
		testutil.CreateTestSpec("s2", "kucoin", "BTC/USDT"),
	})
	require.NoError(t, err)

	failing := g.Deployments["s2"]
	f.backend.SetStopError(failing, errors.New("instance gone"))

	stopped, err := f.engine.StopStrategy(context.Background(), g.ID)
	require.NoError(t, err)
	assert.Equal(t, []string{"s1", "s2"}, stopped.StrategyIDs)
	assert.Equal(t, map[string]string{"s2": "instance gone"}, stopped.StopErrors)
	assert.ElementsMatch(t, []string{g.Deployments["s1"], failing}, f.backend.StopCalls())

	_, ok := f.engine.GetStrategyGroup(g.ID)
	assert.False(t, ok)
	assert.Empty(t, f.engine.GetActiveStrategies())
	assert.Len(t, drain(f.events.Events(), events.KindStrategyStopped), 1)

	_, err = f.engine.StopStrategy(context.Background(), g.ID)
	assert.ErrorIs(t, err, types.ErrGroupNotFound)
}

func TestExecuteOpportunity(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testSettings())
	f.probeAll(t)
	f.backend.SetPrice("binance", "BTC/USDT", 50000)
	f.backend.SetPrice("kucoin", "BTC/USDT", 50300)

	_, err := f.engine.ExecuteOpportunity(context.Background(), "missing")
	assert.ErrorIs(t, err, types.ErrOpportunityNotFound)

	opps, err := f.engine.DetectOpportunities(context.Background())
	require.NoError(t, err)
	require.Len(t, opps, 1)
	assert.Equal(t, opps, f.engine.LatestOpportunities())

	exec, err := f.engine.ExecuteOpportunity(context.Background(), opps[0].ID)
	require.NoError(t, err)
	assert.Equal(t, opps[0].ID, exec.OpportunityID)
	assert.Len(t, f.backend.DeployCalls(), 2)

	_, err = f.engine.ExecuteOpportunity(context.Background(), opps[0].ID)
	assert.ErrorIs(t, err, types.ErrOpportunityInFlight)
	assert.Len(t, f.backend.DeployCalls(), 2)
}

func TestAdjustStrategiesForMarketConditions(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testSettings())
	f.probeAll(t)
	f.backend.SetVolatility("binance", "BTC/USDT", 0.08)

	_, err := f.engine.CoordinateStrategies(context.Background(), []types.StrategySpec{
		testutil.CreateTestSpec("s1", "binance", "BTC/USDT"),
	})
	require.NoError(t, err)

	n, err := f.engine.AdjustStrategiesForMarketConditions(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
}

func TestCheckBalances_DisabledReturnsNil(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testSettings())
	plan, err := f.engine.CheckBalances(context.Background())
	require.NoError(t, err)
	assert.Nil(t, plan)
}

func TestCheckBalances_Enabled(t *testing.T) {
	t.Parallel()

	settings := testSettings()
	settings.Rebalancing = config.RebalancingConfig{
		Enabled:             true,
		RebalanceInterval:   time.Hour,
		RebalanceThreshold:  0.1,
		MaxRebalanceAmount:  10000,
		MinRebalanceAmount:  100,
		TargetAllocations:   map[string]float64{"binance": 0.5, "kucoin": 0.5},
		RebalancingStrategy: config.RebalanceProportional,
	}
	f := newFixture(t, settings)
	f.backend.SetBalances("binance", map[string]float64{"USDT": 9000})
	f.backend.SetBalances("kucoin", map[string]float64{"USDT": 1000})

	plan, err := f.engine.CheckBalances(context.Background())
	require.NoError(t, err)
	require.True(t, plan.NeedsRebalance())
	assert.Len(t, drain(f.events.Events(), events.KindRebalanceProposed), 1)
}

func TestStartAndWait(t *testing.T) {
	t.Parallel()

	settings := testSettings()
	settings.Arbitrage.AutoExecute = true
	f := newFixture(t, settings)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.engine.Start(ctx))

	require.Eventually(t, f.engine.Ready, 2*time.Second, 10*time.Millisecond)

	cancel()
	f.engine.Wait()
}

func TestCircuitBreakerStatus(t *testing.T) {
	t.Parallel()

	f := newFixture(t, testSettings())
	_, ok := f.engine.CircuitBreakerStatus()
	assert.False(t, ok)

	settings := testSettings()
	settings.Arbitrage.AutoExecute = true
	settings.CircuitBreaker = config.CircuitBreakerConfig{
		Enabled:         true,
		Asset:           "USDT",
		CheckInterval:   time.Hour,
		TradeMultiplier: 3,
		MinAbsolute:     100,
		HysteresisRatio: 1.5,
	}
	f = newFixture(t, settings)
	f.backend.SetBalances("binance", map[string]float64{"USDT": 5000})
	f.backend.SetBalances("kucoin", map[string]float64{"USDT": 40})

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.engine.Start(ctx))
	defer func() {
		cancel()
		f.engine.Wait()
	}()

	status, ok := f.engine.CircuitBreakerStatus()
	require.True(t, ok)
	assert.False(t, status.Enabled)
	assert.Equal(t, "kucoin", status.LastExchange)
	assert.Equal(t, 40.0, status.LastBalance)
}
