package arbitrage

import (
	"context"
	"errors"
	"math/rand"
	"testing"
	"time"

	"github.com/mselser95/venuecoord/internal/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newDetector(t *testing.T, prices *testutil.MockBackend, storage Storage, exchanges ...string) *Detector {
	t.Helper()

	d, err := New(&Config{
		Prices:             prices,
		Storage:            storage,
		Logger:             zaptest.NewLogger(t),
		MinProfitThreshold: 0.5,
		MaxLatency:         100 * time.Millisecond,
		Pairs:              []string{"BTC/USDT"},
		Exchanges:          exchanges,
		MaxOrderSize:       1,
		PollInterval:       10 * time.Millisecond,
	})
	require.NoError(t, err)
	return d
}

func TestDetectOpportunities(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name         string
		binance      float64
		kucoin       float64
		wantCount    int
		wantBuy      string
		wantSell     string
		wantProfit   float64
		wantEstimate float64
	}{
		{
			name:         "spread above threshold",
			binance:      50000,
			kucoin:       50300,
			wantCount:    1,
			wantBuy:      "binance",
			wantSell:     "kucoin",
			wantProfit:   0.6,
			wantEstimate: 0.006,
		},
		{
			name:         "inverted spread buys on kucoin",
			binance:      50300,
			kucoin:       50000,
			wantCount:    1,
			wantBuy:      "kucoin",
			wantSell:     "binance",
			wantProfit:   0.6,
			wantEstimate: 0.006,
		},
		{
			name:      "spread below threshold",
			binance:   50000,
			kucoin:    50100,
			wantCount: 0,
		},
		{
			name:      "equal prices",
			binance:   50000,
			kucoin:    50000,
			wantCount: 0,
		},
		{
			name:      "non-positive price is ignored",
			binance:   0,
			kucoin:    50300,
			wantCount: 0,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			prices := testutil.NewMockBackend("binance", "kucoin")
			prices.SetPrice("binance", "BTC/USDT", tt.binance)
			prices.SetPrice("kucoin", "BTC/USDT", tt.kucoin)
			storage := NewMockStorage()

			d := newDetector(t, prices, storage, "binance", "kucoin")
			opps, err := d.DetectOpportunities(context.Background())
			require.NoError(t, err)
			require.Len(t, opps, tt.wantCount)
			assert.Len(t, storage.GetOpportunities(), tt.wantCount)

			if tt.wantCount == 0 {
				return
			}
			opp := opps[0]
			assert.Equal(t, "BTC/USDT", opp.Pair)
			assert.Equal(t, tt.wantBuy, opp.BuyExchange)
			assert.Equal(t, tt.wantSell, opp.SellExchange)
			assert.InDelta(t, tt.wantProfit, opp.ProfitPercent, 1e-9)
			assert.InDelta(t, tt.wantEstimate, opp.EstimatedProfit, 1e-9)
			assert.Equal(t, StatusDetected, opp.Status)
			assert.NotEmpty(t, opp.ID)

			select {
			case got := <-d.OpportunityChan():
				assert.Equal(t, opp.ID, got.ID)
			default:
				t.Fatal("expected opportunity on channel")
			}
		})
	}
}

func TestDetectOpportunities_ThresholdProperty(t *testing.T) {
	t.Parallel()

	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		p1 := 100 + rng.Float64()*100000
		p2 := p1 * (1 + rng.Float64()*0.01)

		prices := testutil.NewMockBackend("a", "b")
		prices.SetPrice("a", "BTC/USDT", p1)
		prices.SetPrice("b", "BTC/USDT", p2)

		d := newDetector(t, prices, nil, "a", "b")
		opps, err := d.DetectOpportunities(context.Background())
		require.NoError(t, err)

		if (p2-p1)/p1*100 >= 0.5 && p2 > p1 {
			require.Len(t, opps, 1, "p1=%f p2=%f", p1, p2)
			assert.Equal(t, "a", opps[0].BuyExchange)
			assert.Equal(t, "b", opps[0].SellExchange)
		} else {
			assert.Empty(t, opps, "p1=%f p2=%f", p1, p2)
		}
	}
}

func TestDetectOpportunities_FailedFetchIsIsolated(t *testing.T) {
	t.Parallel()

	prices := testutil.NewMockBackend("binance", "kucoin", "okx")
	prices.SetPrice("binance", "BTC/USDT", 50000)
	prices.SetPrice("kucoin", "BTC/USDT", 50300)
	prices.SetMarketError("okx", errors.New("rate limited"))

	d := newDetector(t, prices, nil, "binance", "kucoin", "okx")
	opps, err := d.DetectOpportunities(context.Background())
	require.NoError(t, err)
	require.Len(t, opps, 1)
	assert.Equal(t, "kucoin", opps[0].SellExchange)
	assert.Equal(t, 3, prices.PriceCalls())
}

func TestDetectOpportunities_SlowVenueIsBoundedByMaxLatency(t *testing.T) {
	t.Parallel()

	prices := testutil.NewMockBackend("binance", "kucoin", "okx")
	prices.SetPrice("binance", "BTC/USDT", 50000)
	prices.SetPrice("kucoin", "BTC/USDT", 50300)
	prices.SetPrice("okx", "BTC/USDT", 51000)
	prices.SetPriceDelay("okx", 5*time.Second)

	d := newDetector(t, prices, nil, "binance", "kucoin", "okx")

	start := time.Now()
	opps, err := d.DetectOpportunities(context.Background())
	elapsed := time.Since(start)
	require.NoError(t, err)

	// okx times out after MaxLatency and is left out of the pass
	assert.Less(t, elapsed, time.Second)
	require.Len(t, opps, 1)
	assert.Equal(t, "binance", opps[0].BuyExchange)
	assert.Equal(t, "kucoin", opps[0].SellExchange)
}

func TestDetector_ClaimExecution(t *testing.T) {
	t.Parallel()

	prices := testutil.NewMockBackend("binance", "kucoin")
	prices.SetPrice("binance", "BTC/USDT", 50000)
	prices.SetPrice("kucoin", "BTC/USDT", 50300)

	d := newDetector(t, prices, nil, "binance", "kucoin")
	opps, err := d.DetectOpportunities(context.Background())
	require.NoError(t, err)
	require.Len(t, opps, 1)
	id := opps[0].ID

	require.True(t, d.ClaimExecution(id))
	found, _ := d.Lookup(id)
	assert.Equal(t, StatusExecuting, found.Status)
	assert.False(t, d.ClaimExecution(id))

	// a failed attempt hands the opportunity back
	d.MarkStatus(id, StatusDetected)
	assert.True(t, d.ClaimExecution(id))

	d.MarkStatus(id, StatusExecuted)
	assert.False(t, d.ClaimExecution(id))

	assert.True(t, d.ClaimExecution("forgotten"))
}

func TestDetectOpportunities_SortedByProfit(t *testing.T) {
	t.Parallel()

	prices := testutil.NewMockBackend("binance", "kucoin", "okx")
	prices.SetPrice("binance", "BTC/USDT", 50000)
	prices.SetPrice("kucoin", "BTC/USDT", 50300)
	prices.SetPrice("okx", "BTC/USDT", 51000)

	d := newDetector(t, prices, nil, "binance", "kucoin", "okx")
	opps, err := d.DetectOpportunities(context.Background())
	require.NoError(t, err)

	// binance/okx 2%, kucoin/okx ~1.39%, binance/kucoin 0.6%
	require.Len(t, opps, 3)
	for i := 1; i < len(opps); i++ {
		assert.GreaterOrEqual(t, opps[i-1].ProfitPercent, opps[i].ProfitPercent)
	}
	assert.Equal(t, "binance", opps[0].BuyExchange)
	assert.Equal(t, "okx", opps[0].SellExchange)

	latest := d.Latest()
	require.Len(t, latest, 3)
	found, ok := d.Lookup(opps[0].ID)
	require.True(t, ok)
	assert.Equal(t, opps[0].ID, found.ID)

	d.MarkStatus(opps[0].ID, StatusInvalid)
	found, _ = d.Lookup(opps[0].ID)
	assert.Equal(t, StatusInvalid, found.Status)
}

func TestDetectOpportunities_StorageErrorDoesNotDropResult(t *testing.T) {
	t.Parallel()

	prices := testutil.NewMockBackend("binance", "kucoin")
	prices.SetPrice("binance", "BTC/USDT", 50000)
	prices.SetPrice("kucoin", "BTC/USDT", 50300)
	storage := NewMockStorage()
	storage.Err = errors.New("disk full")

	d := newDetector(t, prices, storage, "binance", "kucoin")
	opps, err := d.DetectOpportunities(context.Background())
	require.NoError(t, err)
	assert.Len(t, opps, 1)
}

func TestDetector_StartPolls(t *testing.T) {
	t.Parallel()

	prices := testutil.NewMockBackend("binance", "kucoin")
	prices.SetPrice("binance", "BTC/USDT", 50000)
	prices.SetPrice("kucoin", "BTC/USDT", 50300)

	d := newDetector(t, prices, nil, "binance", "kucoin")
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, d.Start(ctx))

	select {
	case opp := <-d.OpportunityChan():
		assert.Equal(t, "binance", opp.BuyExchange)
	case <-time.After(time.Second):
		t.Fatal("detector did not publish an opportunity")
	}

	cancel()
	d.Wait()
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	_, err := New(nil)
	assert.Error(t, err)

	_, err = New(&Config{Logger: zaptest.NewLogger(t)})
	assert.EqualError(t, err, "price source cannot be nil")
}

func TestOpportunity_String(t *testing.T) {
	t.Parallel()

	opp := NewOpportunity("BTC/USDT", "binance", "kucoin", 50000, 50300, 2)
	assert.Contains(t, opp.String(), "BTC/USDT buy binance@50000.0000 sell kucoin@50300.0000")
	assert.InDelta(t, 0.012, opp.EstimatedProfit, 1e-9)

	params := opp.LegParameters("buy", 2)
	assert.Equal(t, opp.ID, params["opportunity_id"])
	assert.Equal(t, "buy", params["side"])
}
