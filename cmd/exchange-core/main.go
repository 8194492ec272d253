package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/crystalmix/exchange-core/app"
	"github.com/crystalmix/exchange-core/pkg"
)

// main initializes and runs the exchange-core service.
func main() {
	// Initialize global logger with default configuration
	pkg.InitLogger()
	logger := pkg.Logger
	defer logger.Sync() // Ensure all buffered logs are flushed on exit

	// Create a context that can be canceled for graceful shutdown
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	srv, metricsSrv, cleanup, err := app.NewApp(ctx, logger)
	if err != nil {
		logger.Fatal("failed_to_initialize_app", zap.Error(err))
	}
	defer cleanup()

	// Start servers in goroutines to allow signal handling
	go func() {
		logger.Sugar().Infow("exchange-core API started", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server error", zap.Error(err))
		}
	}()
	go func() {
		logger.Sugar().Infow("metrics endpoint started", "addr", metricsSrv.Addr)
		if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("metrics server error", zap.Error(err))
		}
	}()

	// Handle shutdown signals (SIGINT, SIGTERM) for a K8s pod termination grace period
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	osSignal := <-quit
	logger.Info("Received shutdown signal", zap.String("signal", osSignal.String()))

	// Timeout context for draining connections (align with K8s terminationGracePeriodSeconds)
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	cancel() // Stop the hub and feed consumers
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("shutdown error", zap.Error(err))
	}
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		logger.Error("metrics shutdown error", zap.Error(err))
	}
	logger.Info("Service shutdown completed successfully")
}
