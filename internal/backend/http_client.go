package backend

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	json "github.com/goccy/go-json"
	"github.com/mselser95/venuecoord/pkg/types"
	"go.uber.org/zap"
)

// HTTPClient is a Client for the execution backend REST API.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	httpClient *http.Client
	logger     *zap.Logger
}

// HTTPConfig holds HTTP client configuration.
type HTTPConfig struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Logger  *zap.Logger
}

// NewHTTPClient creates a new execution backend client.
func NewHTTPClient(cfg *HTTPConfig) *HTTPClient {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}

	return &HTTPClient{
		baseURL: strings.TrimRight(cfg.BaseURL, "/"),
		apiKey:  cfg.APIKey,
		httpClient: &http.Client{
			Timeout: timeout,
		},
		logger: cfg.Logger,
	}
}

type valueResponse struct {
	Value float64 `json:"value"`
}

type balancesResponse struct {
	Balances map[string]float64 `json:"balances"`
}

// GetInstancesByExchange lists execution instances connected to exchange.
func (c *HTTPClient) GetInstancesByExchange(ctx context.Context, exchange string) ([]types.Instance, error) {
	var instances []types.Instance
	err := c.do(ctx, "instances", http.MethodGet, "/api/v1/instances", url.Values{"exchange": {exchange}}, nil, &instances)
	if err != nil {
		return nil, &types.BackendError{Op: "instances", Exchange: exchange, Err: err}
	}
	return instances, nil
}

// DeployStrategy deploys spec onto the given instance.
func (c *HTTPClient) DeployStrategy(ctx context.Context, instanceID string, spec types.StrategySpec) (*types.StrategyExecutionRecord, error) {
	var record types.StrategyExecutionRecord
	path := "/api/v1/instances/" + url.PathEscape(instanceID) + "/strategies"
	err := c.do(ctx, "deploy", http.MethodPost, path, nil, spec, &record)
	if err != nil {
		return nil, &types.BackendError{Op: "deploy", Exchange: spec.Exchange, StrategyID: spec.ID, Err: err}
	}
	return &record, nil
}

// UpdateStrategy overwrites the parameters listed in patch.
func (c *HTTPClient) UpdateStrategy(ctx context.Context, strategyID string, patch types.StrategyPatch) error {
	err := c.do(ctx, "update", http.MethodPatch, "/api/v1/strategies/"+url.PathEscape(strategyID), nil, patch, nil)
	if err != nil {
		return &types.BackendError{Op: "update", StrategyID: strategyID, Err: err}
	}
	return nil
}

// StopStrategy stops a deployed strategy.
func (c *HTTPClient) StopStrategy(ctx context.Context, strategyID string) error {
	err := c.do(ctx, "stop", http.MethodDelete, "/api/v1/strategies/"+url.PathEscape(strategyID), nil, nil, nil)
	if err != nil {
		return &types.BackendError{Op: "stop", StrategyID: strategyID, Err: err}
	}
	return nil
}

// GetMarketPrice returns the current mid price of pair on exchange.
func (c *HTTPClient) GetMarketPrice(ctx context.Context, pair string, exchange string) (float64, error) {
	return c.marketValue(ctx, "price", pair, exchange)
}

// GetVolatility returns the current volatility of pair on exchange as a fraction.
func (c *HTTPClient) GetVolatility(ctx context.Context, pair string, exchange string) (float64, error) {
	return c.marketValue(ctx, "volatility", pair, exchange)
}

// GetVolume returns the rolling traded volume of pair on exchange.
func (c *HTTPClient) GetVolume(ctx context.Context, pair string, exchange string) (float64, error) {
	return c.marketValue(ctx, "volume", pair, exchange)
}

// GetSpread returns the current bid/ask spread of pair on exchange as a fraction.
func (c *HTTPClient) GetSpread(ctx context.Context, pair string, exchange string) (float64, error) {
	return c.marketValue(ctx, "spread", pair, exchange)
}

func (c *HTTPClient) marketValue(ctx context.Context, metric string, pair string, exchange string) (float64, error) {
	var resp valueResponse
	query := url.Values{"pair": {pair}, "exchange": {exchange}}
	err := c.do(ctx, metric, http.MethodGet, "/api/v1/market/"+metric, query, nil, &resp)
	if err != nil {
		return 0, &types.BackendError{Op: metric, Exchange: exchange, Err: err}
	}
	return resp.Value, nil
}

// PingExchange checks backend connectivity to exchange.
func (c *HTTPClient) PingExchange(ctx context.Context, exchange string) (*types.PingResult, error) {
	var result types.PingResult
	err := c.do(ctx, "ping", http.MethodGet, "/api/v1/exchanges/"+url.PathEscape(exchange)+"/ping", nil, nil, &result)
	if err != nil {
		return nil, &types.BackendError{Op: "ping", Exchange: exchange, Err: err}
	}
	return &result, nil
}

// GetBalances returns per-asset balances on exchange, valued in the quote currency.
func (c *HTTPClient) GetBalances(ctx context.Context, exchange string) (map[string]float64, error) {
	var resp balancesResponse
	err := c.do(ctx, "balances", http.MethodGet, "/api/v1/exchanges/"+url.PathEscape(exchange)+"/balances", nil, nil, &resp)
	if err != nil {
		return nil, &types.BackendError{Op: "balances", Exchange: exchange, Err: err}
	}
	return resp.Balances, nil
}

func (c *HTTPClient) do(ctx context.Context, op string, method string, path string, query url.Values, in any, out any) (err error) {
	start := time.Now()
	defer func() {
		RequestDurationSeconds.WithLabelValues(op).Observe(time.Since(start).Seconds())
		result := "ok"
		if err != nil {
			result = "error"
		}
		RequestsTotal.WithLabelValues(op, result).Inc()
	}()

	requestURL := c.baseURL + path
	if len(query) > 0 {
		requestURL += "?" + query.Encode()
	}

	var body io.Reader
	if in != nil {
		payload, marshalErr := json.Marshal(in)
		if marshalErr != nil {
			return fmt.Errorf("marshal request: %w", marshalErr)
		}
		body = bytes.NewReader(payload)
	}

	req, err := http.NewRequestWithContext(ctx, method, requestURL, body)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	req.Header.Set("User-Agent", "venuecoord/1.0")
	if in != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("X-API-Key", c.apiKey)
	}

	c.logger.Debug("backend-request",
		zap.String("op", op),
		zap.String("method", method),
		zap.String("url", requestURL))

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("do request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 4096))
		return fmt.Errorf("unexpected status code %d: %s", resp.StatusCode, strings.TrimSpace(string(respBody)))
	}

	if out == nil || resp.StatusCode == http.StatusNoContent {
		return nil
	}

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response body: %w", err)
	}

	err = json.Unmarshal(respBody, out)
	if err != nil {
		return fmt.Errorf("unmarshal response: %w", err)
	}

	return nil
}

var _ Client = (*HTTPClient)(nil)
