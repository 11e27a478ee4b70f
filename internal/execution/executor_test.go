package execution

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/mselser95/venuecoord/internal/arbitrage"
	"github.com/mselser95/venuecoord/internal/events"
	"github.com/mselser95/venuecoord/internal/state"
	"github.com/mselser95/venuecoord/internal/testutil"
	"github.com/mselser95/venuecoord/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type memoryStorage struct {
	mu    sync.Mutex
	execs []*types.ArbitrageExecution
}

func (m *memoryStorage) StoreExecution(_ context.Context, exec *types.ArbitrageExecution) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.execs = append(m.execs, exec)
	return nil
}

type statusLog struct {
	mu       sync.Mutex
	statuses []arbitrage.Status
	byID     map[string]arbitrage.Status
}

func (s *statusLog) MarkStatus(id string, status arbitrage.Status) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.record(id, status)
}

func (s *statusLog) ClaimExecution(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	if current := s.byID[id]; current == arbitrage.StatusExecuting || current == arbitrage.StatusExecuted {
		return false
	}
	s.record(id, arbitrage.StatusExecuting)
	return true
}

func (s *statusLog) record(id string, status arbitrage.Status) {
	s.statuses = append(s.statuses, status)
	if s.byID == nil {
		s.byID = make(map[string]arbitrage.Status)
	}
	s.byID[id] = status
}

func (s *statusLog) last() arbitrage.Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[len(s.statuses)-1]
}

type fakeBreaker struct {
	mu      sync.Mutex
	enabled bool
	trades  []float64
}

func (b *fakeBreaker) IsEnabled() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.enabled
}

func (b *fakeBreaker) RecordTrade(size float64) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.trades = append(b.trades, size)
}

func (b *fakeBreaker) set(enabled bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.enabled = enabled
}

func (b *fakeBreaker) recorded() []float64 {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]float64(nil), b.trades...)
}

type fixture struct {
	backend  *testutil.MockBackend
	store    *state.Store
	storage  *memoryStorage
	statuses *statusLog
	events   *events.ChannelObserver
	executor *Executor
}

func newFixture(t *testing.T, oppChan <-chan *arbitrage.Opportunity) *fixture {
	t.Helper()

	logger := zaptest.NewLogger(t)
	f := &fixture{
		backend:  testutil.NewMockBackend("binance", "kucoin"),
		store:    state.New([]string{"binance", "kucoin"}),
		storage:  &memoryStorage{},
		statuses: &statusLog{},
		events:   events.NewChannelObserver(8),
	}
	for _, ex := range []string{"binance", "kucoin"} {
		_, _, err := f.store.UpdateExchangeStatus(ex, func(s *types.ExchangeStatus) { s.Status = types.HealthHealthy })
		require.NoError(t, err)
	}

	dispatcher := events.NewDispatcher(logger)
	dispatcher.Register(f.events)

	executor, err := New(&Config{
		Backend:            f.backend,
		Store:              f.store,
		Events:             dispatcher,
		Logger:             logger,
		Storage:            f.storage,
		Marker:             f.statuses,
		MinProfitThreshold: 0.5,
		MaxLatency:         100 * time.Millisecond,
		ExecutionTimeout:   time.Second,
		OrderSize:          0.1,
		OpportunityChannel: oppChan,
	})
	require.NoError(t, err)
	f.executor = executor
	return f
}

func TestExecuteArbitrage_DeploysBothLegs(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.backend.SetPrice("binance", "BTC/USDT", 50000)
	f.backend.SetPrice("kucoin", "BTC/USDT", 50350)

	opp := arbitrage.CreateTestOpportunity("opp-1")
	exec, err := f.executor.ExecuteArbitrage(context.Background(), *opp)
	require.NoError(t, err)

	assert.Equal(t, "opp-1", exec.OpportunityID)
	assert.Equal(t, 50000.0, exec.BuyPrice)
	assert.Equal(t, 50350.0, exec.SellPrice)
	assert.InDelta(t, 0.7, exec.ProfitPercent, 1e-9)
	assert.NotEmpty(t, exec.BuyLeg.ID)
	assert.NotEmpty(t, exec.SellLeg.ID)

	calls := f.backend.DeployCalls()
	require.Len(t, calls, 2)
	byExchange := map[string]testutil.DeployCall{}
	for _, c := range calls {
		byExchange[c.Spec.Exchange] = c
		assert.Equal(t, types.StrategyTypeArbitrage, c.Spec.Type)
		assert.Equal(t, "opp-1", c.Spec.Parameters["opportunity_id"])
	}
	assert.Equal(t, types.SideBuy, byExchange["binance"].Spec.Parameters["side"])
	assert.Equal(t, types.SideSell, byExchange["kucoin"].Spec.Parameters["side"])
	assert.Equal(t, 50350.0, byExchange["kucoin"].Spec.Parameters["sell_price"])

	assert.Len(t, f.storage.execs, 1)
	assert.Equal(t, arbitrage.StatusExecuted, f.statuses.last())
	require.Len(t, f.events.Events(), 1)
	ev := (<-f.events.Events()).(events.ArbitrageExecuted)
	assert.Equal(t, exec.ID, ev.Execution.ID)

	// The caller's value is untouched.
	assert.Equal(t, 50300.0, opp.SellPrice)
}

func TestExecuteArbitrage_RejectsStaleOpportunity(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		binance float64
		kucoin  float64
	}{
		{name: "spread collapsed below threshold", binance: 50250, kucoin: 50280},
		{name: "prices inverted", binance: 50400, kucoin: 50300},
		{name: "prices equal", binance: 50300, kucoin: 50300},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, nil)
			f.backend.SetPrice("binance", "BTC/USDT", tt.binance)
			f.backend.SetPrice("kucoin", "BTC/USDT", tt.kucoin)

			exec, err := f.executor.ExecuteArbitrage(context.Background(), *arbitrage.CreateTestOpportunity("opp-1"))
			require.Error(t, err)
			assert.Nil(t, exec)
			assert.ErrorIs(t, err, types.ErrOpportunityNoLongerValid)
			assert.Contains(t, err.Error(), "no longer valid")

			assert.Empty(t, f.backend.DeployCalls())
			assert.Equal(t, 2, f.backend.PriceCalls())
			assert.Equal(t, arbitrage.StatusInvalid, f.statuses.last())
			assert.Empty(t, f.events.Events())
		})
	}
}

func TestExecuteArbitrage_UnhealthyExchange(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.backend.SetPrice("binance", "BTC/USDT", 50000)
	f.backend.SetPrice("kucoin", "BTC/USDT", 50300)
	_, _, err := f.store.UpdateExchangeStatus("kucoin", func(s *types.ExchangeStatus) { s.Status = types.HealthDegraded })
	require.NoError(t, err)

	_, err = f.executor.ExecuteArbitrage(context.Background(), *arbitrage.CreateTestOpportunity("opp-1"))
	assert.ErrorIs(t, err, types.ErrExchangeNotAvailable)
	assert.Empty(t, f.backend.DeployCalls())
}

func TestExecuteArbitrage_PriceFetchFailure(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.backend.SetPrice("binance", "BTC/USDT", 50000)
	f.backend.SetMarketError("kucoin", errors.New("timeout"))

	_, err := f.executor.ExecuteArbitrage(context.Background(), *arbitrage.CreateTestOpportunity("opp-1"))
	require.Error(t, err)

	var backendErr *types.BackendError
	require.ErrorAs(t, err, &backendErr)
	assert.Equal(t, "kucoin", backendErr.Exchange)
	assert.Empty(t, f.backend.DeployCalls())
	assert.Equal(t, arbitrage.StatusDetected, f.statuses.last())
}

func TestExecuteArbitrage_RejectsNonPositivePrice(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		binance   float64
		kucoin    float64
		wantVenue string
	}{
		{name: "zero buy price", binance: 0, kucoin: 50300, wantVenue: "binance"},
		{name: "negative buy price", binance: -1, kucoin: 50300, wantVenue: "binance"},
		{name: "zero sell price", binance: 50000, kucoin: 0, wantVenue: "kucoin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			f := newFixture(t, nil)
			f.backend.SetPrice("binance", "BTC/USDT", tt.binance)
			f.backend.SetPrice("kucoin", "BTC/USDT", tt.kucoin)

			_, err := f.executor.ExecuteArbitrage(context.Background(), *arbitrage.CreateTestOpportunity("opp-1"))
			require.Error(t, err)

			var backendErr *types.BackendError
			require.ErrorAs(t, err, &backendErr)
			assert.Equal(t, tt.wantVenue, backendErr.Exchange)
			assert.Empty(t, f.backend.DeployCalls())
			assert.Empty(t, f.storage.execs)
			assert.Empty(t, f.events.Events())
			assert.Equal(t, arbitrage.StatusDetected, f.statuses.last())
		})
	}
}

func TestExecuteArbitrage_SlowVenueTimesOut(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.backend.SetPrice("binance", "BTC/USDT", 50000)
	f.backend.SetPrice("kucoin", "BTC/USDT", 50300)
	f.backend.SetPriceDelay("kucoin", 5*time.Second)

	start := time.Now()
	_, err := f.executor.ExecuteArbitrage(context.Background(), *arbitrage.CreateTestOpportunity("opp-1"))
	require.Error(t, err)
	assert.Less(t, time.Since(start), time.Second)

	var backendErr *types.BackendError
	require.ErrorAs(t, err, &backendErr)
	assert.Equal(t, "kucoin", backendErr.Exchange)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
	assert.Empty(t, f.backend.DeployCalls())
	assert.Equal(t, arbitrage.StatusDetected, f.statuses.last())
}

func TestExecuteArbitrage_RejectsDuplicateExecution(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.backend.SetPrice("binance", "BTC/USDT", 50000)
	f.backend.SetPrice("kucoin", "BTC/USDT", 50350)
	opp := arbitrage.CreateTestOpportunity("opp-1")

	// concurrent callers: exactly one deploys
	const callers = 4
	var wg sync.WaitGroup
	errs := make(chan error, callers)
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := f.executor.ExecuteArbitrage(context.Background(), *opp)
			errs <- err
		}()
	}
	wg.Wait()
	close(errs)

	succeeded := 0
	for err := range errs {
		if err == nil {
			succeeded++
			continue
		}
		assert.ErrorIs(t, err, types.ErrOpportunityInFlight)
	}
	assert.Equal(t, 1, succeeded)
	assert.Len(t, f.backend.DeployCalls(), 2)
	assert.Len(t, f.storage.execs, 1)

	// executed opportunities stay executed
	_, err := f.executor.ExecuteArbitrage(context.Background(), *opp)
	assert.ErrorIs(t, err, types.ErrOpportunityInFlight)
	assert.Len(t, f.backend.DeployCalls(), 2)
}

func TestExecuteArbitrage_FailedLegIsCompensated(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.backend.SetPrice("binance", "BTC/USDT", 50000)
	f.backend.SetPrice("kucoin", "BTC/USDT", 50300)
	f.backend.SetDeployError("kucoin", errors.New("insufficient balance"))

	_, err := f.executor.ExecuteArbitrage(context.Background(), *arbitrage.CreateTestOpportunity("opp-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "insufficient balance")

	calls := f.backend.DeployCalls()
	require.Len(t, calls, 1)
	assert.Equal(t, "binance", calls[0].Spec.Exchange)
	assert.Equal(t, []string{calls[0].ExecutionID}, f.backend.StopCalls())
	assert.Empty(t, f.storage.execs)
	assert.Empty(t, f.events.Events())
}

func TestExecuteArbitrage_BothLegsFail(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	f.backend.SetPrice("binance", "BTC/USDT", 50000)
	f.backend.SetPrice("kucoin", "BTC/USDT", 50300)
	f.backend.SetDeployError("binance", errors.New("binance down"))
	f.backend.SetDeployError("kucoin", errors.New("kucoin down"))

	_, err := f.executor.ExecuteArbitrage(context.Background(), *arbitrage.CreateTestOpportunity("opp-1"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "binance down")
	assert.Contains(t, err.Error(), "kucoin down")
	assert.Empty(t, f.backend.StopCalls())
}

func TestExecutor_AutoExecuteLoop(t *testing.T) {
	t.Parallel()

	oppChan := make(chan *arbitrage.Opportunity, 1)
	f := newFixture(t, oppChan)
	f.backend.SetPrice("binance", "BTC/USDT", 50000)
	f.backend.SetPrice("kucoin", "BTC/USDT", 50300)

	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, f.executor.Start(ctx))

	oppChan <- arbitrage.CreateTestOpportunity("opp-1")

	select {
	case e := <-f.events.Events():
		assert.Equal(t, "opp-1", e.(events.ArbitrageExecuted).Execution.OpportunityID)
	case <-time.After(time.Second):
		t.Fatal("opportunity was not executed")
	}

	cancel()
	f.executor.Wait()
}

func TestExecutor_StartWithoutChannel(t *testing.T) {
	t.Parallel()

	f := newFixture(t, nil)
	assert.Error(t, f.executor.Start(context.Background()))
}

func TestExecutor_AutoExecuteRespectsBreaker(t *testing.T) {
	t.Parallel()

	oppChan := make(chan *arbitrage.Opportunity, 1)
	f := newFixture(t, oppChan)
	f.backend.SetPrice("binance", "BTC/USDT", 50000)
	f.backend.SetPrice("kucoin", "BTC/USDT", 50300)

	breaker := &fakeBreaker{}
	f.executor.breaker = breaker

	ctx, cancel := context.WithCancel(context.Background())
	defer func() {
		cancel()
		f.executor.Wait()
	}()
	require.NoError(t, f.executor.Start(ctx))

	oppChan <- arbitrage.CreateTestOpportunity("opp-skipped")

	select {
	case e := <-f.events.Events():
		t.Fatalf("unexpected event while breaker is open: %T", e)
	case <-time.After(100 * time.Millisecond):
	}
	assert.Empty(t, f.backend.DeployCalls())

	breaker.set(true)
	oppChan <- arbitrage.CreateTestOpportunity("opp-executed")

	select {
	case e := <-f.events.Events():
		assert.Equal(t, "opp-executed", e.(events.ArbitrageExecuted).Execution.OpportunityID)
	case <-time.After(time.Second):
		t.Fatal("opportunity was not executed")
	}
	assert.Equal(t, []float64{0.1}, breaker.recorded())
}
