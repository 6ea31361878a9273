/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"supplychain-tracker-go/internal/api"
	"supplychain-tracker-go/internal/common"
	"supplychain-tracker-go/internal/config"
	"supplychain-tracker-go/internal/listener"

	"go.uber.org/zap"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		_, _ = zap.NewProduction()
		zap.L().Fatal("Failed to load configuration", zap.Error(err))
	}

	_, loggerCleanup := common.InitializeLogger()
	defer loggerCleanup()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	zap.L().Info("Starting supply chain tracker")

	services, err := common.InitializeServices(ctx, cfg)
	if err != nil {
		zap.L().Fatal("Failed to initialize services", zap.Error(err))
	}
	defer services.Close()

	if !services.Engine.ChainConfigured() {
		zap.L().Warn("Registry not configured, chain-backed endpoints will return 500")
	}

	defects := listener.NewDefectListener(listener.DefectListenerConfig{
		Repairer:        services.Engine,
		Store:           services.DbService,
		PollingInterval: cfg.Listener.PollingInterval,
		MaxAttempts:     cfg.Listener.MaxAttempts,
		BatchSize:       cfg.Listener.BatchSize,
		RetryBackoff:    cfg.Listener.RetryBackoff,
	})
	if err := defects.Start(ctx); err != nil {
		zap.L().Fatal("Failed to start defect listener", zap.Error(err))
	}

	tracker := api.NewTrackerService(services.DbService, services.Gate, services.Engine)
	server := &http.Server{
		Addr:              cfg.Server.Addr,
		Handler:           tracker.Router(cfg.Server.CorsOrigins),
		ReadHeaderTimeout: 10 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		zap.L().Info("HTTP server listening", zap.String("addr", cfg.Server.Addr))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	zap.L().Info("Press Ctrl+C to stop")

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	select {
	case <-sigChan:
		zap.L().Info("Shutdown signal received, stopping server...")
	case err := <-serverErr:
		zap.L().Error("HTTP server failed", zap.Error(err))
	}

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		zap.L().Warn("Forced server shutdown", zap.Error(err))
	}

	done := make(chan struct{})
	go func() {
		defects.Stop()
		close(done)
	}()

	select {
	case <-done:
		zap.L().Info("Stopped gracefully")
	case <-shutdownCtx.Done():
		zap.L().Warn("Forced shutdown after timeout")
	}
}
