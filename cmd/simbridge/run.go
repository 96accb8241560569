package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"os"
	"os/signal"
	"syscall"

	"github.com/sim-control/simbridge/internal/api"
	"github.com/sim-control/simbridge/internal/audit"
	"github.com/sim-control/simbridge/internal/auth"
	"github.com/sim-control/simbridge/internal/config"
	"github.com/sim-control/simbridge/internal/controller"
	"github.com/sim-control/simbridge/internal/logging"
	"github.com/sim-control/simbridge/internal/simulator"
	"github.com/sim-control/simbridge/internal/telemetry"
	"github.com/spf13/cobra"
)

// Compile-time assertion that Controller serves the status endpoints
var _ api.StatusPort = (*controller.Controller)(nil)

func newRunCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "run",
		Short: "Connect to the simulator and run the bridge",
		Long: `Connect to the simulator, fly the startup sequence and serve the
telemetry and command API until interrupted.

Exits 0 on a requested shutdown (SIGINT, SIGTERM) and 1 on any fatal
condition: connect timeout, version mismatch, frame initialization
failure or lost simulator health.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			path, _ := cmd.Flags().GetString("config")
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return runBridge(ctx, path)
		},
	}
}

func runBridge(ctx context.Context, path string) error {
	// Step 1: Load configuration
	cfg, err := config.Load(path, slog.Default())
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Step 2: Initialize logging
	logger, logCloser, err := logging.New(cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logCloser.Close()
	logger.Info("starting simbridge", "version", version, "vehicle", cfg.Vehicle.Name)
	logger.Info("configuration loaded", "sensors", len(cfg.SensorDescriptors), "endpoint", cfg.Simulator.Endpoint)

	// Step 3: Initialize telemetry hub
	hub := telemetry.NewHub(telemetry.Options{
		BufferSize:        cfg.Telemetry.EventBufferSize,
		HeartbeatInterval: cfg.Telemetry.HeartbeatInterval,
		HeartbeatJitter:   cfg.Telemetry.HeartbeatJitter,
		Logger:            logger.With("component", "telemetry"),
	})
	defer hub.Stop()
	logger.Info("telemetry hub initialized")

	// Step 4: Start the flight recorder
	if cfg.Telemetry.RecorderPath != "" {
		recorder, err := telemetry.OpenRecorder(hub, cfg.Telemetry, logger.With("component", "recorder"))
		if err != nil {
			return fmt.Errorf("failed to open flight recorder: %w", err)
		}
		recCtx, stopRecorder := context.WithCancel(context.Background())
		recDone := make(chan struct{})
		go func() {
			defer close(recDone)
			recorder.Run(recCtx)
		}()
		defer func() {
			stopRecorder()
			<-recDone
			if err := recorder.Close(); err != nil {
				logger.Warn("error closing flight recorder", "error", err)
			}
			logger.Info("flight recorder closed", "records", recorder.Written())
		}()
		logger.Info("flight recorder started", "path", cfg.Telemetry.RecorderPath)
	}

	// Step 5: Initialize audit logger
	auditLogger, err := audit.NewLogger(cfg.Audit)
	if err != nil {
		return fmt.Errorf("failed to initialize audit logger: %w", err)
	}
	defer func() {
		if err := auditLogger.Close(); err != nil {
			logger.Warn("error closing audit logger", "error", err)
		}
	}()
	logger.Info("audit logger initialized", "path", auditLogger.FilePath())

	// Step 6: Create simulator client and controller
	client := simulator.NewClient(simulator.ClientConfig{
		Endpoint:    cfg.Simulator.Endpoint,
		CallTimeout: cfg.Simulator.CallTimeout,
	})
	ctrl, err := controller.New(cfg, client, controller.Options{
		Hub:    hub,
		Audit:  auditLogger,
		Logger: logger,
	})
	if err != nil {
		return fmt.Errorf("failed to create controller: %w", err)
	}

	// Step 7: Create API server with all components
	var authMiddleware *auth.Middleware
	if cfg.API.Auth.Enabled {
		verifier, err := auth.NewVerifier(cfg.API.Auth)
		if err != nil {
			return fmt.Errorf("failed to initialize token verifier: %w", err)
		}
		authMiddleware = auth.NewMiddleware(verifier)
	}
	server := api.NewServer(api.Options{
		Status:       ctrl,
		Commands:     ctrl.Arbiter(),
		Telemetry:    hub,
		Auth:         authMiddleware,
		Version:      version,
		ReadTimeout:  cfg.API.ReadTimeout,
		WriteTimeout: cfg.API.WriteTimeout,
		IdleTimeout:  cfg.API.IdleTimeout,
		Logger:       logger,
	})

	// Step 8: Start HTTP server
	ln, err := net.Listen("tcp", cfg.API.Addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", cfg.API.Addr, err)
	}
	serveErr := make(chan error, 1)
	go func() {
		if err := server.Serve(ln); err != nil {
			serveErr <- err
			ctrl.Stop()
		}
	}()
	logger.Info("api started", "health", "http://localhost"+cfg.API.Addr+"/api/v1/health")

	// Step 9: Run the controller until interrupted or a fatal condition
	runErr := ctrl.Run(ctx)

	stopCtx, cancel := context.WithTimeout(context.Background(), cfg.Timing.ShutdownTimeout)
	defer cancel()
	if err := server.Stop(stopCtx); err != nil {
		logger.Warn("error stopping HTTP server", "error", err)
	}

	select {
	case err := <-serveErr:
		runErr = errors.Join(runErr, err)
	default:
	}
	if runErr != nil {
		return runErr
	}
	logger.Info("simbridge shutdown complete")
	return nil
}
