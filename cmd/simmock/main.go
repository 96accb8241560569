// Package main implements simmock, a stand-in simulator for running the
// bridge without a real simulator.
package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sim-control/simbridge/internal/config"
	"github.com/sim-control/simbridge/internal/logging"
	"github.com/sim-control/simbridge/internal/mocksim"
	"github.com/spf13/cobra"
)

var version = "0.1.0-dev"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "simmock",
		Short: "Mock simulator speaking the bridge's JSON-RPC protocol",
		Long: `simmock serves the simulator JSON-RPC methods on /rpc with a trivial
kinematic vehicle, plus a maintenance TCP port for fault injection
(set_mode, collide, clear_collision, reset, status).`,
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			level, _ := cmd.Flags().GetString("log-level")
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runMock(ctx, path, level)
		},
	}
	cmd.Flags().String("config", "", "Configuration file (default $SIMMOCK_CONFIG or config/simmock.yaml)")
	cmd.Flags().String("log-level", "info", "Log level: debug, info, warn, error")
	return cmd
}

func runMock(ctx context.Context, path, level string) error {
	logger, closer, err := logging.New(config.LoggingConfig{Level: level, Format: "text"})
	if err != nil {
		return err
	}
	defer closer.Close()

	// Step 1: Load configuration
	cfg, err := mocksim.Load(path)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}
	logger.Info("starting mock simulator", "version", version, "vehicle", cfg.Vehicle.Name, "mode", cfg.Mode)

	// Step 2: Initialize the simulated world
	world := mocksim.NewWorld(cfg, nil, logger)
	defer func() {
		if err := world.Close(); err != nil {
			logger.Warn("world shutdown error", "error", err)
		}
	}()

	// Step 3: Create JSON-RPC HTTP server
	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Network.HTTP.Port),
		Handler:      mocksim.NewServer(world, logger).Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Step 4: Create maintenance TCP server
	maintenance := mocksim.NewMaintenanceServer(cfg, world, logger)

	errCh := make(chan error, 2)
	go func() {
		logger.Info("starting HTTP server", "port", cfg.Network.HTTP.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("HTTP server failed: %w", err)
		}
	}()
	go func() {
		if err := maintenance.ListenAndServe(); err != nil {
			errCh <- fmt.Errorf("maintenance server failed: %w", err)
		}
	}()

	var runErr error
	select {
	case <-ctx.Done():
		logger.Info("shutting down servers")
	case runErr = <-errCh:
		logger.Error("server failed", "error", runErr)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("HTTP server shutdown error", "error", err)
	}
	if err := maintenance.Close(); err != nil {
		logger.Warn("maintenance server shutdown error", "error", err)
	}

	logger.Info("servers stopped")
	return runErr
}
