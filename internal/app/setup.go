package app

import (
	"context"
	"fmt"

	"github.com/mselser95/venuecoord/internal/backend"
	"github.com/mselser95/venuecoord/internal/coordinator"
	"github.com/mselser95/venuecoord/internal/events"
	"github.com/mselser95/venuecoord/internal/storage"
	"github.com/mselser95/venuecoord/pkg/cache"
	"github.com/mselser95/venuecoord/pkg/config"
	"github.com/mselser95/venuecoord/pkg/healthprobe"
	"github.com/mselser95/venuecoord/pkg/httpserver"
	"github.com/mselser95/venuecoord/pkg/types"
	"go.uber.org/zap"
)

// Reference prices for the paper backend.
var paperBasePrices = map[string]float64{
	"BTC/USDT": 50000,
	"ETH/USDT": 3000,
	"SOL/USDT": 150,
}

// New creates a new application instance.
func New(cfg *config.Config, logger *zap.Logger, opts *Options) (*App, error) {
	if opts == nil {
		opts = &Options{}
	}

	ctx, cancel := context.WithCancel(context.Background())

	// Initialize components
	healthChecker := setupHealthChecker()

	// Setup cache
	instanceCache, err := setupCache(logger)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("setup cache: %w", err)
	}

	client := setupBackend(cfg, logger, instanceCache, opts)

	// Setup storage
	store, err := setupStorage(cfg, logger)
	if err != nil {
		cancel()
		instanceCache.Close()
		return nil, fmt.Errorf("setup storage: %w", err)
	}

	engine, err := setupEngine(cfg, logger, client, store)
	if err != nil {
		cancel()
		instanceCache.Close()
		_ = store.Close()
		return nil, fmt.Errorf("setup engine: %w", err)
	}

	healthChecker.SetCheck(func() (bool, string) {
		if engine.Ready() {
			return true, ""
		}
		return false, "no healthy exchange"
	})

	// Setup HTTP server (needs the engine)
	httpServer := setupHTTPServer(cfg, logger, healthChecker, engine)

	return &App{
		cfg:           cfg,
		logger:        logger,
		healthChecker: healthChecker,
		httpServer:    httpServer,
		instanceCache: instanceCache,
		backend:       client,
		engine:        engine,
		storage:       store,
		ctx:           ctx,
		cancel:        cancel,
	}, nil
}

func setupHealthChecker() *healthprobe.HealthChecker {
	return healthprobe.New()
}

func setupHTTPServer(
	cfg *config.Config,
	logger *zap.Logger,
	healthChecker *healthprobe.HealthChecker,
	engine *coordinator.Engine,
) *httpserver.Server {
	return httpserver.New(&httpserver.Config{
		Port:          cfg.HTTPPort,
		Logger:        logger,
		HealthChecker: healthChecker,
		Coordinator:   engine,
	})
}

func setupCache(logger *zap.Logger) (cache.Cache, error) {
	c, err := cache.NewRistrettoCache(&cache.RistrettoConfig{
		Name:        "instances",
		NumCounters: 1000, // 10x expected max items (one entry per exchange)
		MaxCost:     100,
		BufferItems: 64,
		Logger:      logger,
	})
	if err != nil {
		return nil, err
	}
	return c, nil
}

// setupBackend selects the execution backend and puts instance discovery
// behind the cache.
func setupBackend(cfg *config.Config, logger *zap.Logger, instanceCache cache.Cache, opts *Options) backend.Client {
	var client backend.Client
	switch {
	case opts.Backend != nil:
		client = opts.Backend
	case cfg.BackendMode == config.BackendModeHTTP:
		client = backend.NewHTTPClient(&backend.HTTPConfig{
			BaseURL: cfg.BackendURL,
			APIKey:  cfg.BackendAPIKey,
			Timeout: cfg.BackendTimeout,
			Logger:  logger,
		})
		logger.Info("backend-selected", zap.String("mode", config.BackendModeHTTP), zap.String("url", cfg.BackendURL))
	default:
		client = backend.NewPaperBackend(&backend.PaperConfig{
			Exchanges:            cfg.MonitoredExchanges(),
			BasePrices:           paperBasePrices,
			InstancesPerExchange: 2,
			Jitter:               0.005,
			StartingBalance:      10000,
			Seed:                 opts.PaperSeed,
			Logger:               logger,
		})
		logger.Info("backend-selected", zap.String("mode", config.BackendModePaper))
	}

	return backend.NewCachedClient(client, instanceCache, cfg.InstanceCacheTTL)
}

func setupStorage(cfg *config.Config, logger *zap.Logger) (storage.Storage, error) {
	if cfg.StorageMode == "postgres" {
		pgStorage, err := storage.NewPostgresStorage(&storage.PostgresConfig{
			Host:     cfg.PostgresHost,
			Port:     cfg.PostgresPort,
			User:     cfg.PostgresUser,
			Password: cfg.PostgresPass,
			Database: cfg.PostgresDB,
			SSLMode:  cfg.PostgresSSL,
			Logger:   logger,
		})
		if err != nil {
			return nil, fmt.Errorf("create postgres storage: %w", err)
		}
		return pgStorage, nil
	}

	return storage.NewConsoleStorage(logger), nil
}

func setupEngine(cfg *config.Config, logger *zap.Logger, client backend.Client, store storage.Storage) (*coordinator.Engine, error) {
	engine, err := coordinator.New(&coordinator.Config{
		Settings: cfg,
		Backend:  client,
		Logger:   logger,
		Storage:  store,
		Monitor:  &deploymentLogger{logger: logger},
	})
	if err != nil {
		return nil, err
	}

	engine.RegisterObserver(events.NewLogObserver(logger))
	return engine, nil
}

// deploymentLogger records every strategy deployment in the log.
type deploymentLogger struct {
	logger *zap.Logger
}

func (d *deploymentLogger) TrackStrategy(record types.StrategyExecutionRecord) {
	d.logger.Info("strategy-deployed",
		zap.String("execution-id", record.ID),
		zap.String("strategy-type", record.StrategyType),
		zap.String("instance-id", record.InstanceID),
		zap.String("status", record.Status))
}
