package httpserver

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/goccy/go-json"
	"github.com/mselser95/venuecoord/internal/arbitrage"
	"github.com/mselser95/venuecoord/internal/circuitbreaker"
	"github.com/mselser95/venuecoord/internal/events"
	"github.com/mselser95/venuecoord/pkg/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

type fakeCoordinator struct {
	groups    []*types.CrossExchangeGroup
	opps      []*arbitrage.Opportunity
	err       error
	gotSpecs  []types.StrategySpec
	gotID     string
	failovers []events.ExchangeFailover
	breaker   *circuitbreaker.Status
}

func (f *fakeCoordinator) GetExchangeStatus() map[string]types.ExchangeStatus {
	return map[string]types.ExchangeStatus{
		"binance": {Name: "binance", Status: types.HealthHealthy, LatencyMs: 12},
	}
}

func (f *fakeCoordinator) GetActiveStrategies() []*types.CrossExchangeGroup {
	return f.groups
}

func (f *fakeCoordinator) CoordinateStrategies(ctx context.Context, specs []types.StrategySpec) (*types.CrossExchangeGroup, error) {
	f.gotSpecs = specs
	if f.err != nil {
		return nil, f.err
	}
	return &types.CrossExchangeGroup{ID: "g1", Strategies: specs, Status: types.GroupActive}, nil
}

func (f *fakeCoordinator) StopStrategy(ctx context.Context, groupID string) (*events.StrategyStopped, error) {
	f.gotID = groupID
	if f.err != nil {
		return nil, f.err
	}
	return &events.StrategyStopped{GroupID: groupID, StrategyIDs: []string{"s1"}}, nil
}

func (f *fakeCoordinator) LatestOpportunities() []*arbitrage.Opportunity {
	return f.opps
}

func (f *fakeCoordinator) ExecuteOpportunity(ctx context.Context, id string) (*types.ArbitrageExecution, error) {
	f.gotID = id
	if f.err != nil {
		return nil, f.err
	}
	return &types.ArbitrageExecution{ID: "x1", OpportunityID: id}, nil
}

func (f *fakeCoordinator) HandleExchangeFailover(ctx context.Context, exchange string) ([]events.ExchangeFailover, error) {
	f.gotID = exchange
	return f.failovers, f.err
}

func (f *fakeCoordinator) CircuitBreakerStatus() (circuitbreaker.Status, bool) {
	if f.breaker == nil {
		return circuitbreaker.Status{}, false
	}
	return *f.breaker, true
}

func serve(coord Coordinator, method, path, body string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Route("/api", NewAPIHandler(coord, zap.NewNop()).Routes)

	req := httptest.NewRequest(method, path, strings.NewReader(body))
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestAPI_Exchanges(t *testing.T) {
	t.Parallel()

	w := serve(&fakeCoordinator{}, http.MethodGet, "/api/exchanges", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "application/json", w.Header().Get("Content-Type"))

	var got map[string]types.ExchangeStatus
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, types.HealthHealthy, got["binance"].Status)
}

func TestAPI_CoordinateStrategies(t *testing.T) {
	t.Parallel()

	coord := &fakeCoordinator{}
	body := `{"strategies":[{"id":"s1","type":"market_making","exchange":"binance","tradingPair":"BTC/USDT"}]}`

	w := serve(coord, http.MethodPost, "/api/strategies", body)
	require.Equal(t, http.StatusCreated, w.Code, w.Body.String())
	require.Len(t, coord.gotSpecs, 1)
	assert.Equal(t, "binance", coord.gotSpecs[0].Exchange)

	var got types.CrossExchangeGroup
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "g1", got.ID)
}

func TestAPI_CoordinateStrategies_BadBody(t *testing.T) {
	t.Parallel()

	w := serve(&fakeCoordinator{}, http.MethodPost, "/api/strategies", "{not json")
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAPI_ErrorMapping(t *testing.T) {
	t.Parallel()

	tests := []struct {
		err  error
		want int
	}{
		{fmt.Errorf("%w: empty batch", types.ErrInvalidStrategy), http.StatusBadRequest},
		{types.ErrCapacityExceeded, http.StatusConflict},
		{types.ErrStrategyConflict, http.StatusConflict},
		{types.ExchangeUnavailableError("binance", types.HealthFailed), http.StatusServiceUnavailable},
		{types.ErrNoInstanceAvailable, http.StatusServiceUnavailable},
		{&types.BackendError{Op: "deploy", Exchange: "binance", Err: errors.New("boom")}, http.StatusBadGateway},
		{errors.New("unexpected"), http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.err.Error(), func(t *testing.T) {
			t.Parallel()

			w := serve(&fakeCoordinator{err: tt.err}, http.MethodPost, "/api/strategies", `{"strategies":[]}`)
			assert.Equal(t, tt.want, w.Code)

			var resp ErrorResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.err.Error(), resp.Error)
		})
	}
}

func TestAPI_StopStrategy(t *testing.T) {
	t.Parallel()

	coord := &fakeCoordinator{}
	w := serve(coord, http.MethodDelete, "/api/strategies/g-42", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "g-42", coord.gotID)
	assert.Contains(t, w.Body.String(), `"groupId":"g-42"`)

	w = serve(&fakeCoordinator{err: types.ErrGroupNotFound}, http.MethodDelete, "/api/strategies/missing", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPI_Opportunities(t *testing.T) {
	t.Parallel()

	w := serve(&fakeCoordinator{}, http.MethodGet, "/api/opportunities", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	coord := &fakeCoordinator{opps: []*arbitrage.Opportunity{arbitrage.CreateTestOpportunity("opp-1")}}
	w = serve(coord, http.MethodGet, "/api/opportunities", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got []arbitrage.Opportunity
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	require.Len(t, got, 1)
	assert.Equal(t, "opp-1", got[0].ID)
}

func TestAPI_Execute(t *testing.T) {
	t.Parallel()

	coord := &fakeCoordinator{}
	w := serve(coord, http.MethodPost, "/api/opportunities/execute", `{"id":"opp-1"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "opp-1", coord.gotID)

	w = serve(coord, http.MethodPost, "/api/opportunities/execute", `{}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w = serve(&fakeCoordinator{err: types.ErrOpportunityNoLongerValid}, http.MethodPost, "/api/opportunities/execute", `{"id":"opp-1"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = serve(&fakeCoordinator{err: types.ErrOpportunityInFlight}, http.MethodPost, "/api/opportunities/execute", `{"id":"opp-1"}`)
	assert.Equal(t, http.StatusConflict, w.Code)

	w = serve(&fakeCoordinator{err: types.ErrOpportunityNotFound}, http.MethodPost, "/api/opportunities/execute", `{"id":"nope"}`)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPI_Failover(t *testing.T) {
	t.Parallel()

	coord := &fakeCoordinator{failovers: []events.ExchangeFailover{{
		GroupID:  "g1",
		Exchange: "binance",
		Fallback: "kucoin",
		Outcome:  events.OutcomeRelocated,
	}}}
	w := serve(coord, http.MethodPost, "/api/exchanges/binance/failover", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "binance", coord.gotID)
	assert.Contains(t, w.Body.String(), `"outcome":"relocated"`)

	w = serve(&fakeCoordinator{}, http.MethodPost, "/api/exchanges/binance/failover", "")
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `[]`, w.Body.String())

	w = serve(&fakeCoordinator{err: types.ErrUnknownExchange}, http.MethodPost, "/api/exchanges/bitstamp/failover", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestAPI_CircuitBreaker(t *testing.T) {
	t.Parallel()

	w := serve(&fakeCoordinator{}, http.MethodGet, "/api/circuit-breaker", "")
	assert.Equal(t, http.StatusNotFound, w.Code)

	coord := &fakeCoordinator{breaker: &circuitbreaker.Status{Enabled: false, Asset: "USDT", LastBalance: 40, LastExchange: "kucoin"}}
	w = serve(coord, http.MethodGet, "/api/circuit-breaker", "")
	require.Equal(t, http.StatusOK, w.Code)

	var got circuitbreaker.Status
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &got))
	assert.Equal(t, "kucoin", got.LastExchange)
	assert.False(t, got.Enabled)
}
