package app

import (
	"context"
	"sync"

	"github.com/mselser95/venuecoord/internal/backend"
	"github.com/mselser95/venuecoord/internal/coordinator"
	"github.com/mselser95/venuecoord/internal/storage"
	"github.com/mselser95/venuecoord/pkg/cache"
	"github.com/mselser95/venuecoord/pkg/config"
	"github.com/mselser95/venuecoord/pkg/healthprobe"
	"github.com/mselser95/venuecoord/pkg/httpserver"
	"go.uber.org/zap"
)

// App is the main application orchestrator.
type App struct {
	cfg           *config.Config
	logger        *zap.Logger
	healthChecker *healthprobe.HealthChecker
	httpServer    *httpserver.Server
	instanceCache cache.Cache
	backend       backend.Client
	engine        *coordinator.Engine
	storage       storage.Storage
	ctx           context.Context
	cancel        context.CancelFunc
	wg            sync.WaitGroup
}

// Options holds application options.
type Options struct {
	// Backend replaces the backend selected by BACKEND_MODE.
	Backend backend.Client
	// PaperSeed seeds the paper backend; 0 picks a time-based seed.
	PaperSeed int64
}

// Engine returns the coordination engine.
func (a *App) Engine() *coordinator.Engine {
	return a.engine
}
