package circuitbreaker

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/mselser95/venuecoord/internal/testutil"
	"go.uber.org/zap/zaptest"
)

func validConfig(t *testing.T, fetcher BalanceFetcher) *Config {
	t.Helper()
	return &Config{
		CheckInterval:   time.Minute,
		TradeMultiplier: 3.0,
		MinAbsolute:     100.0,
		HysteresisRatio: 1.5,
		Balances:        fetcher,
		Exchanges:       []string{"binance", "kucoin"},
		Asset:           "USDT",
		Logger:          zaptest.NewLogger(t),
	}
}

func newMock(binance, kucoin float64) *testutil.MockBackend {
	m := testutil.NewMockBackend("binance", "kucoin")
	m.SetBalances("binance", map[string]float64{"USDT": binance})
	m.SetBalances("kucoin", map[string]float64{"USDT": kucoin})
	return m
}

func TestNew(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name   string
		mutate func(c *Config)
		errMsg string
	}{
		{name: "valid-config", mutate: func(c *Config) {}},
		{name: "nil-balances", mutate: func(c *Config) { c.Balances = nil }, errMsg: "balance fetcher cannot be nil"},
		{name: "nil-logger", mutate: func(c *Config) { c.Logger = nil }, errMsg: "logger cannot be nil"},
		{name: "no-exchanges", mutate: func(c *Config) { c.Exchanges = nil }, errMsg: "exchanges cannot be empty"},
		{name: "no-asset", mutate: func(c *Config) { c.Asset = "" }, errMsg: "asset cannot be empty"},
		{name: "zero-check-interval", mutate: func(c *Config) { c.CheckInterval = 0 }, errMsg: "check interval must be positive"},
		{name: "zero-multiplier", mutate: func(c *Config) { c.TradeMultiplier = 0 }, errMsg: "trade multiplier must be positive"},
		{name: "zero-min-absolute", mutate: func(c *Config) { c.MinAbsolute = 0 }, errMsg: "min absolute must be positive"},
		{name: "hysteresis-below-one", mutate: func(c *Config) { c.HysteresisRatio = 0.9 }, errMsg: "hysteresis ratio must be >= 1.0"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			cfg := validConfig(t, newMock(1000, 1000))
			tt.mutate(cfg)

			breaker, err := New(cfg)
			if tt.errMsg != "" {
				if err == nil {
					t.Fatalf("expected error %q, got nil", tt.errMsg)
				}
				if err.Error() != tt.errMsg {
					t.Errorf("expected error %q, got %q", tt.errMsg, err.Error())
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if !breaker.IsEnabled() {
				t.Error("expected breaker to start enabled")
			}
			status := breaker.GetStatus()
			if status.DisableThreshold != 100 {
				t.Errorf("expected disable threshold 100, got %f", status.DisableThreshold)
			}
			if status.EnableThreshold != 150 {
				t.Errorf("expected enable threshold 150, got %f", status.EnableThreshold)
			}
		})
	}
}

func TestNew_NilConfig(t *testing.T) {
	t.Parallel()

	_, err := New(nil)
	if err == nil || err.Error() != "config cannot be nil" {
		t.Errorf("expected config cannot be nil, got %v", err)
	}
}

func TestRecordTrade_UpdatesThresholds(t *testing.T) {
	t.Parallel()

	breaker, err := New(validConfig(t, newMock(1000, 1000)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	breaker.RecordTrade(20) // 20*3 = 60 stays under the 100 floor
	status := breaker.GetStatus()
	if status.DisableThreshold != 100 {
		t.Errorf("expected floor threshold 100, got %f", status.DisableThreshold)
	}

	breaker.RecordTrade(180) // avg 100, 100*3 = 300
	status = breaker.GetStatus()
	if status.AvgTradeSize != 100 {
		t.Errorf("expected avg trade size 100, got %f", status.AvgTradeSize)
	}
	if status.DisableThreshold != 300 {
		t.Errorf("expected disable threshold 300, got %f", status.DisableThreshold)
	}
	if status.EnableThreshold != 450 {
		t.Errorf("expected enable threshold 450, got %f", status.EnableThreshold)
	}

	breaker.RecordTrade(-5)
	if breaker.GetStatus().RecentTradeCount != 2 {
		t.Errorf("expected non-positive trade to be ignored")
	}
}

func TestRecordTrade_RollingWindow(t *testing.T) {
	t.Parallel()

	breaker, err := New(validConfig(t, newMock(1000, 1000)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for i := 0; i < tradeWindow+5; i++ {
		breaker.RecordTrade(10)
	}
	if got := breaker.GetStatus().RecentTradeCount; got != tradeWindow {
		t.Errorf("expected %d trades in window, got %d", tradeWindow, got)
	}
}

func TestCheckBalance_UsesLowestExchange(t *testing.T) {
	t.Parallel()

	breaker, err := New(validConfig(t, newMock(5000, 80)))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = breaker.CheckBalance(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	status := breaker.GetStatus()
	if status.LastExchange != "kucoin" {
		t.Errorf("expected lowest exchange kucoin, got %s", status.LastExchange)
	}
	if status.LastBalance != 80 {
		t.Errorf("expected balance 80, got %f", status.LastBalance)
	}
	if breaker.IsEnabled() {
		t.Error("expected breaker disabled below threshold")
	}
}

func TestCheckBalance_Hysteresis(t *testing.T) {
	t.Parallel()

	mock := newMock(1000, 90)
	breaker, err := New(validConfig(t, mock))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	steps := []struct {
		kucoin      float64
		wantEnabled bool
	}{
		{kucoin: 90, wantEnabled: false},  // below 100 disables
		{kucoin: 120, wantEnabled: false}, // above disable but below 150 stays off
		{kucoin: 150, wantEnabled: true},  // reaches enable threshold
		{kucoin: 110, wantEnabled: true},  // above disable threshold stays on
	}

	for i, step := range steps {
		mock.SetBalances("kucoin", map[string]float64{"USDT": step.kucoin})

		err = breaker.CheckBalance(context.Background())
		if err != nil {
			t.Fatalf("step %d: unexpected error: %v", i, err)
		}
		if breaker.IsEnabled() != step.wantEnabled {
			t.Errorf("step %d: balance %f, expected enabled=%v", i, step.kucoin, step.wantEnabled)
		}
	}
}

func TestCheckBalance_MissingAssetCountsAsZero(t *testing.T) {
	t.Parallel()

	mock := newMock(1000, 1000)
	mock.SetBalances("kucoin", map[string]float64{"BTC": 3})

	breaker, err := New(validConfig(t, mock))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = breaker.CheckBalance(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if breaker.IsEnabled() {
		t.Error("expected breaker disabled when an exchange holds none of the asset")
	}
}

func TestCheckBalance_FetchErrorKeepsState(t *testing.T) {
	t.Parallel()

	mock := newMock(1000, 1000)
	mock.SetMarketError("kucoin", errors.New("connection reset"))

	breaker, err := New(validConfig(t, mock))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	err = breaker.CheckBalance(context.Background())
	if err == nil {
		t.Fatal("expected error, got nil")
	}
	if !breaker.IsEnabled() {
		t.Error("expected breaker to stay enabled after a failed check")
	}
	if !breaker.GetStatus().LastCheck.IsZero() {
		t.Error("expected last check to be unset after a failed check")
	}
}

func TestStart_StopsOnCancel(t *testing.T) {
	t.Parallel()

	cfg := validConfig(t, newMock(50, 50))
	cfg.CheckInterval = 10 * time.Millisecond

	breaker, err := New(cfg)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	breaker.Start(ctx)

	if breaker.IsEnabled() {
		t.Error("expected initial check to disable the breaker")
	}

	cancel()

	done := make(chan struct{})
	go func() {
		breaker.Wait()
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(time.Second):
		t.Fatal("monitor loop did not stop")
	}
}
