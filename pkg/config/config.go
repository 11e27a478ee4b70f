package config

import (
	"fmt"
	"os"
	"slices"
	"strconv"
	"strings"
	"time"
)

// Config holds all application configuration.
type Config struct {
	// Application
	LogLevel string
	HTTPPort string

	// Execution backend
	BackendMode      string // "paper" or "http"
	BackendURL       string
	BackendAPIKey    string
	BackendTimeout   time.Duration
	InstanceCacheTTL time.Duration

	// Storage
	StorageMode  string // "postgres" or "console"
	PostgresHost string
	PostgresPort string
	PostgresUser string
	PostgresPass string
	PostgresDB   string
	PostgresSSL  string

	Arbitrage    ArbitrageConfig
	Failover     FailoverConfig
	Rebalancing    RebalancingConfig
	Coordination   CoordinationConfig
	CircuitBreaker CircuitBreakerConfig
}

// ArbitrageConfig configures cross-exchange opportunity detection and execution.
type ArbitrageConfig struct {
	MinProfitThreshold  float64 // percent, e.g. 0.5 means 0.5%
	MaxLatency          time.Duration
	SupportedPairs      []string
	Exchanges           []string
	MaxOrderSize        float64
	MinOrderSize        float64
	ExecutionTimeout    time.Duration
	PriceUpdateInterval time.Duration
	AutoExecute         bool
}

// FailoverConfig configures health probing and strategy relocation.
type FailoverConfig struct {
	PrimaryExchange       string
	FallbackExchanges     []string
	HealthCheckInterval   time.Duration
	FailoverThreshold     time.Duration
	MaxFailoverAttempts   int
	FailoverCooldown      time.Duration
	AutoRecoveryEnabled   bool
	RecoveryCheckInterval time.Duration
	ErrorThreshold        int
}

// RebalancingConfig configures balance drift monitoring.
type RebalancingConfig struct {
	Enabled             bool
	RebalanceInterval   time.Duration
	RebalanceThreshold  float64 // allocation drift, 0.05 = 5 percentage points
	MaxRebalanceAmount  float64
	MinRebalanceAmount  float64
	TargetAllocations   map[string]float64
	RebalancingStrategy string // "proportional" or "threshold"
}

// CircuitBreakerConfig configures the balance guard in front of auto-execution.
type CircuitBreakerConfig struct {
	Enabled         bool
	Asset           string // quote asset checked on every arbitrage exchange
	CheckInterval   time.Duration
	TradeMultiplier float64 // disable below avg trade size * multiplier
	MinAbsolute     float64 // floor for the disable threshold
	HysteresisRatio float64 // re-enable at disable threshold * ratio
}

// ResourceAllocation caps per-strategy resources requested from the backend.
type ResourceAllocation struct {
	MaxCPUPerStrategy     float64
	MaxMemoryPerStrategy  float64
	MaxNetworkPerStrategy float64
}

// CoordinationConfig configures placement policy and tuning cadence.
type CoordinationConfig struct {
	MaxConcurrentStrategies int // 0 = unlimited
	StrategyPriorities      map[string]float64
	ConflictResolution      string // "reject" or "allow"
	ResourceAllocation      ResourceAllocation
	AdjustInterval          time.Duration
}

// Supported enumerations.
const (
	BackendModePaper = "paper"
	BackendModeHTTP  = "http"

	ConflictReject = "reject"
	ConflictAllow  = "allow"

	RebalanceProportional = "proportional"
	RebalanceThreshold    = "threshold"
)

// LoadFromEnv loads configuration from environment variables with defaults.
func LoadFromEnv() (*Config, error) {
	cfg := &Config{
		// Application defaults
		LogLevel: getEnvOrDefault("LOG_LEVEL", "info"),
		HTTPPort: getEnvOrDefault("HTTP_PORT", "8080"),

		// Backend defaults
		BackendMode:      getEnvOrDefault("BACKEND_MODE", BackendModePaper),
		BackendURL:       getEnvOrDefault("BACKEND_URL", "http://localhost:8000"),
		BackendAPIKey:    os.Getenv("BACKEND_API_KEY"),
		BackendTimeout:   getDurationOrDefault("BACKEND_TIMEOUT", 10*time.Second),
		InstanceCacheTTL: getDurationOrDefault("INSTANCE_CACHE_TTL", 30*time.Second),

		// Storage defaults
		StorageMode:  getEnvOrDefault("STORAGE_MODE", "console"),
		PostgresHost: getEnvOrDefault("POSTGRES_HOST", "localhost"),
		PostgresPort: getEnvOrDefault("POSTGRES_PORT", "5432"),
		PostgresUser: getEnvOrDefault("POSTGRES_USER", "venuecoord"),
		PostgresPass: getEnvOrDefault("POSTGRES_PASSWORD", "venuecoord"),
		PostgresDB:   getEnvOrDefault("POSTGRES_DB", "venuecoord"),
		PostgresSSL:  getEnvOrDefault("POSTGRES_SSLMODE", "disable"),

		Arbitrage: ArbitrageConfig{
			MinProfitThreshold:  getFloat64OrDefault("ARB_MIN_PROFIT_THRESHOLD", 0.5),
			MaxLatency:          getDurationOrDefault("ARB_MAX_LATENCY", 500*time.Millisecond),
			SupportedPairs:      getListOrDefault("ARB_SUPPORTED_PAIRS", []string{"BTC/USDT", "ETH/USDT"}),
			Exchanges:           getListOrDefault("ARB_EXCHANGES", []string{"binance", "kucoin", "okx"}),
			MaxOrderSize:        getFloat64OrDefault("ARB_MAX_ORDER_SIZE", 1000.0),
			MinOrderSize:        getFloat64OrDefault("ARB_MIN_ORDER_SIZE", 10.0),
			ExecutionTimeout:    getDurationOrDefault("ARB_EXECUTION_TIMEOUT", 5*time.Second),
			PriceUpdateInterval: getDurationOrDefault("ARB_PRICE_UPDATE_INTERVAL", 1*time.Second),
			AutoExecute:         getBoolOrDefault("ARB_AUTO_EXECUTE", false),
		},

		Failover: FailoverConfig{
			PrimaryExchange:       getEnvOrDefault("FAILOVER_PRIMARY_EXCHANGE", "binance"),
			FallbackExchanges:     getListOrDefault("FAILOVER_FALLBACK_EXCHANGES", []string{"kucoin", "okx"}),
			HealthCheckInterval:   getDurationOrDefault("FAILOVER_HEALTH_CHECK_INTERVAL", 10*time.Second),
			FailoverThreshold:     getDurationOrDefault("FAILOVER_THRESHOLD", 3*time.Second),
			MaxFailoverAttempts:   getIntOrDefault("FAILOVER_MAX_ATTEMPTS", 5),
			FailoverCooldown:      getDurationOrDefault("FAILOVER_COOLDOWN", 1*time.Minute),
			AutoRecoveryEnabled:   getBoolOrDefault("FAILOVER_AUTO_RECOVERY", true),
			RecoveryCheckInterval: getDurationOrDefault("FAILOVER_RECOVERY_CHECK_INTERVAL", 30*time.Second),
			ErrorThreshold:        getIntOrDefault("FAILOVER_ERROR_THRESHOLD", 3),
		},

		Rebalancing: RebalancingConfig{
			Enabled:             getBoolOrDefault("REBALANCE_ENABLED", false),
			RebalanceInterval:   getDurationOrDefault("REBALANCE_INTERVAL", 5*time.Minute),
			RebalanceThreshold:  getFloat64OrDefault("REBALANCE_THRESHOLD", 0.1),
			MaxRebalanceAmount:  getFloat64OrDefault("REBALANCE_MAX_AMOUNT", 10000.0),
			MinRebalanceAmount:  getFloat64OrDefault("REBALANCE_MIN_AMOUNT", 100.0),
			TargetAllocations:   getFloatMapOrDefault("REBALANCE_TARGET_ALLOCATIONS", nil),
			RebalancingStrategy: getEnvOrDefault("REBALANCE_STRATEGY", RebalanceProportional),
		},

		Coordination: CoordinationConfig{
			MaxConcurrentStrategies: getIntOrDefault("COORD_MAX_CONCURRENT_STRATEGIES", 50),
			StrategyPriorities:      getFloatMapOrDefault("COORD_STRATEGY_PRIORITIES", nil),
			ConflictResolution:      getEnvOrDefault("COORD_CONFLICT_RESOLUTION", ConflictReject),
			ResourceAllocation: ResourceAllocation{
				MaxCPUPerStrategy:     getFloat64OrDefault("COORD_MAX_CPU_PER_STRATEGY", 0.5),
				MaxMemoryPerStrategy:  getFloat64OrDefault("COORD_MAX_MEMORY_PER_STRATEGY", 512),
				MaxNetworkPerStrategy: getFloat64OrDefault("COORD_MAX_NETWORK_PER_STRATEGY", 10),
			},
			AdjustInterval: getDurationOrDefault("COORD_ADJUST_INTERVAL", 1*time.Minute),
		},

		CircuitBreaker: CircuitBreakerConfig{
			Enabled:         getBoolOrDefault("CIRCUIT_BREAKER_ENABLED", false),
			Asset:           getEnvOrDefault("CIRCUIT_BREAKER_ASSET", "USDT"),
			CheckInterval:   getDurationOrDefault("CIRCUIT_BREAKER_CHECK_INTERVAL", 30*time.Second),
			TradeMultiplier: getFloat64OrDefault("CIRCUIT_BREAKER_TRADE_MULTIPLIER", 3.0),
			MinAbsolute:     getFloat64OrDefault("CIRCUIT_BREAKER_MIN_ABSOLUTE", 100.0),
			HysteresisRatio: getFloat64OrDefault("CIRCUIT_BREAKER_HYSTERESIS_RATIO", 1.5),
		},
	}

	err := cfg.Validate()
	if err != nil {
		return nil, fmt.Errorf("validate config: %w", err)
	}

	return cfg, nil
}

// Validate checks that configuration values are valid.
func (c *Config) Validate() error {
	if c.HTTPPort == "" {
		return fmt.Errorf("HTTP_PORT cannot be empty")
	}

	if c.BackendMode != BackendModePaper && c.BackendMode != BackendModeHTTP {
		return fmt.Errorf("BACKEND_MODE must be 'paper' or 'http', got %q", c.BackendMode)
	}

	if c.BackendMode == BackendModeHTTP && c.BackendURL == "" {
		return fmt.Errorf("BACKEND_URL cannot be empty in http mode")
	}

	if c.StorageMode != "console" && c.StorageMode != "postgres" {
		return fmt.Errorf("STORAGE_MODE must be 'console' or 'postgres', got %q", c.StorageMode)
	}

	err := c.Arbitrage.validate()
	if err != nil {
		return err
	}

	err = c.Failover.validate()
	if err != nil {
		return err
	}

	err = c.Rebalancing.validate()
	if err != nil {
		return err
	}

	err = c.Coordination.validate()
	if err != nil {
		return err
	}

	return c.CircuitBreaker.validate()
}

func (a *ArbitrageConfig) validate() error {
	if a.MinProfitThreshold <= 0 {
		return fmt.Errorf("ARB_MIN_PROFIT_THRESHOLD must be positive, got %f", a.MinProfitThreshold)
	}

	if a.MaxLatency <= 0 {
		return fmt.Errorf("ARB_MAX_LATENCY must be positive, got %s", a.MaxLatency)
	}

	if len(a.Exchanges) < 2 {
		return fmt.Errorf("ARB_EXCHANGES must list at least 2 exchanges, got %d", len(a.Exchanges))
	}

	if len(a.SupportedPairs) == 0 {
		return fmt.Errorf("ARB_SUPPORTED_PAIRS cannot be empty")
	}

	if a.MinOrderSize < 0 || a.MaxOrderSize <= 0 {
		return fmt.Errorf("ARB_MIN_ORDER_SIZE must be non-negative and ARB_MAX_ORDER_SIZE positive")
	}

	if a.MinOrderSize > a.MaxOrderSize {
		return fmt.Errorf("ARB_MIN_ORDER_SIZE (%f) cannot exceed ARB_MAX_ORDER_SIZE (%f)", a.MinOrderSize, a.MaxOrderSize)
	}

	if a.ExecutionTimeout <= 0 {
		return fmt.Errorf("ARB_EXECUTION_TIMEOUT must be positive, got %s", a.ExecutionTimeout)
	}

	if a.PriceUpdateInterval <= 0 {
		return fmt.Errorf("ARB_PRICE_UPDATE_INTERVAL must be positive, got %s", a.PriceUpdateInterval)
	}

	return nil
}

func (f *FailoverConfig) validate() error {
	if f.HealthCheckInterval <= 0 {
		return fmt.Errorf("FAILOVER_HEALTH_CHECK_INTERVAL must be positive, got %s", f.HealthCheckInterval)
	}

	if f.FailoverThreshold <= 0 {
		return fmt.Errorf("FAILOVER_THRESHOLD must be positive, got %s", f.FailoverThreshold)
	}

	if f.MaxFailoverAttempts < 0 {
		return fmt.Errorf("FAILOVER_MAX_ATTEMPTS must be non-negative, got %d", f.MaxFailoverAttempts)
	}

	if f.FailoverCooldown < 0 {
		return fmt.Errorf("FAILOVER_COOLDOWN must be non-negative, got %s", f.FailoverCooldown)
	}

	if f.AutoRecoveryEnabled && f.RecoveryCheckInterval <= 0 {
		return fmt.Errorf("FAILOVER_RECOVERY_CHECK_INTERVAL must be positive when auto recovery is enabled")
	}

	if f.ErrorThreshold < 1 {
		return fmt.Errorf("FAILOVER_ERROR_THRESHOLD must be at least 1, got %d", f.ErrorThreshold)
	}

	if slices.Contains(f.FallbackExchanges, f.PrimaryExchange) && f.PrimaryExchange != "" {
		return fmt.Errorf("FAILOVER_FALLBACK_EXCHANGES cannot contain the primary exchange %q", f.PrimaryExchange)
	}

	return nil
}

func (r *RebalancingConfig) validate() error {
	if !r.Enabled {
		return nil
	}

	if r.RebalanceInterval <= 0 {
		return fmt.Errorf("REBALANCE_INTERVAL must be positive, got %s", r.RebalanceInterval)
	}

	if r.RebalanceThreshold <= 0 || r.RebalanceThreshold >= 1.0 {
		return fmt.Errorf("REBALANCE_THRESHOLD must be between 0 and 1.0, got %f", r.RebalanceThreshold)
	}

	if r.MinRebalanceAmount > r.MaxRebalanceAmount {
		return fmt.Errorf("REBALANCE_MIN_AMOUNT (%f) cannot exceed REBALANCE_MAX_AMOUNT (%f)", r.MinRebalanceAmount, r.MaxRebalanceAmount)
	}

	if len(r.TargetAllocations) == 0 {
		return fmt.Errorf("REBALANCE_TARGET_ALLOCATIONS cannot be empty when rebalancing is enabled")
	}

	sum := 0.0
	for _, v := range r.TargetAllocations {
		if v < 0 {
			return fmt.Errorf("REBALANCE_TARGET_ALLOCATIONS cannot contain negative weights")
		}
		sum += v
	}
	if sum < 0.999 || sum > 1.001 {
		return fmt.Errorf("REBALANCE_TARGET_ALLOCATIONS must sum to 1.0, got %f", sum)
	}

	if r.RebalancingStrategy != RebalanceProportional && r.RebalancingStrategy != RebalanceThreshold {
		return fmt.Errorf("REBALANCE_STRATEGY must be 'proportional' or 'threshold', got %q", r.RebalancingStrategy)
	}

	return nil
}

func (c *CoordinationConfig) validate() error {
	if c.MaxConcurrentStrategies < 0 {
		return fmt.Errorf("COORD_MAX_CONCURRENT_STRATEGIES must be non-negative (0 = unlimited), got %d", c.MaxConcurrentStrategies)
	}

	if c.ConflictResolution != ConflictReject && c.ConflictResolution != ConflictAllow {
		return fmt.Errorf("COORD_CONFLICT_RESOLUTION must be 'reject' or 'allow', got %q", c.ConflictResolution)
	}

	if c.AdjustInterval <= 0 {
		return fmt.Errorf("COORD_ADJUST_INTERVAL must be positive, got %s", c.AdjustInterval)
	}

	return nil
}

func (b *CircuitBreakerConfig) validate() error {
	if !b.Enabled {
		return nil
	}

	if b.Asset == "" {
		return fmt.Errorf("CIRCUIT_BREAKER_ASSET cannot be empty when the circuit breaker is enabled")
	}

	if b.CheckInterval <= 0 {
		return fmt.Errorf("CIRCUIT_BREAKER_CHECK_INTERVAL must be positive, got %s", b.CheckInterval)
	}

	if b.TradeMultiplier <= 0 {
		return fmt.Errorf("CIRCUIT_BREAKER_TRADE_MULTIPLIER must be positive, got %f", b.TradeMultiplier)
	}

	if b.MinAbsolute <= 0 {
		return fmt.Errorf("CIRCUIT_BREAKER_MIN_ABSOLUTE must be positive, got %f", b.MinAbsolute)
	}

	if b.HysteresisRatio < 1.0 {
		return fmt.Errorf("CIRCUIT_BREAKER_HYSTERESIS_RATIO must be >= 1.0, got %f", b.HysteresisRatio)
	}

	return nil
}

// MonitoredExchanges returns every exchange the engine must track, in a stable order:
// arbitrage venues first, then the primary and fallback exchanges not already listed.
func (c *Config) MonitoredExchanges() []string {
	out := make([]string, 0, len(c.Arbitrage.Exchanges)+len(c.Failover.FallbackExchanges)+1)
	add := func(name string) {
		if name != "" && !slices.Contains(out, name) {
			out = append(out, name)
		}
	}
	for _, e := range c.Arbitrage.Exchanges {
		add(e)
	}
	add(c.Failover.PrimaryExchange)
	for _, e := range c.Failover.FallbackExchanges {
		add(e)
	}
	return out
}

func getEnvOrDefault(key string, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

func getIntOrDefault(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	intVal, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}

	return intVal
}

func getFloat64OrDefault(key string, defaultValue float64) float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	floatVal, err := strconv.ParseFloat(value, 64)
	if err != nil {
		return defaultValue
	}

	return floatVal
}

func getBoolOrDefault(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	boolVal, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}

	return boolVal
}

func getDurationOrDefault(key string, defaultValue time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	duration, err := time.ParseDuration(value)
	if err != nil {
		return defaultValue
	}

	return duration
}

// getListOrDefault parses a comma-separated list, dropping empty items.
func getListOrDefault(key string, defaultValue []string) []string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	var out []string
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item != "" {
			out = append(out, item)
		}
	}
	if len(out) == 0 {
		return defaultValue
	}

	return out
}

// getFloatMapOrDefault parses "a=0.5,b=0.5". Malformed input falls back to the default.
func getFloatMapOrDefault(key string, defaultValue map[string]float64) map[string]float64 {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	out := make(map[string]float64)
	for _, item := range strings.Split(value, ",") {
		item = strings.TrimSpace(item)
		if item == "" {
			continue
		}
		k, v, ok := strings.Cut(item, "=")
		if !ok {
			return defaultValue
		}
		f, err := strconv.ParseFloat(strings.TrimSpace(v), 64)
		if err != nil {
			return defaultValue
		}
		out[strings.TrimSpace(k)] = f
	}

	return out
}
