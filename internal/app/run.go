package app

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"
)

// Run starts the application and blocks until shutdown.
func (a *App) Run() error {
	a.logger.Info("application-starting",
		zap.String("backend-mode", a.cfg.BackendMode),
		zap.Strings("exchanges", a.cfg.MonitoredExchanges()),
		zap.Float64("min-profit-threshold", a.cfg.Arbitrage.MinProfitThreshold),
		zap.String("log-level", a.cfg.LogLevel))

	// Start all components
	err := a.startComponents()
	if err != nil {
		a.cancel()
		return err
	}

	// Mark as started; readiness also requires a healthy exchange
	a.healthChecker.SetReady(true)

	a.logger.Info("application-ready",
		zap.String("http-addr", ":"+a.cfg.HTTPPort))

	// Wait for shutdown signal
	return a.waitForShutdown()
}

func (a *App) startComponents() error {
	// Start HTTP server
	a.wg.Add(1)
	go a.runHTTPServer()

	// Give HTTP server a moment to start
	time.Sleep(100 * time.Millisecond)

	// Start coordination loops
	err := a.engine.Start(a.ctx)
	if err != nil {
		return fmt.Errorf("start engine: %w", err)
	}

	return nil
}

func (a *App) runHTTPServer() {
	defer a.wg.Done()
	err := a.httpServer.Start()
	if err != nil {
		a.logger.Error("http-server-error", zap.Error(err))
	}
}

func (a *App) waitForShutdown() error {
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(sigChan)

	select {
	case sig := <-sigChan:
		a.logger.Info("shutdown-signal-received", zap.String("signal", sig.String()))
	case <-a.ctx.Done():
		a.logger.Info("context-cancelled")
	}

	return a.Shutdown()
}
