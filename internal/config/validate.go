package config

import (
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
)

// Normalize replaces out-of-range global parameters by their defaults
// and logs a warning naming the parameter and the fallback.
func Normalize(cfg *Config, logger *slog.Logger) {
	d := Defaults()

	if cfg.Timing.StateRefreshRate <= 0 {
		logger.Warn("param expected > 0, set to default", "param", "stateRefreshRate", "value", cfg.Timing.StateRefreshRate, "default", d.Timing.StateRefreshRate)
		cfg.Timing.StateRefreshRate = d.Timing.StateRefreshRate
	}
	if cfg.Timing.TimePublisherInterval <= 0 {
		logger.Warn("param expected > 0, set to default", "param", "timePublisherInterval", "value", cfg.Timing.TimePublisherInterval, "default", d.Timing.TimePublisherInterval)
		cfg.Timing.TimePublisherInterval = d.Timing.TimePublisherInterval
	}
	if cfg.Vehicle.Velocity <= 0 {
		logger.Warn("param expected > 0, set to default", "param", "velocity", "value", cfg.Vehicle.Velocity, "default", d.Vehicle.Velocity)
		cfg.Vehicle.Velocity = d.Vehicle.Velocity
	}
	if cfg.Motion.MinMovingDistance < 0 {
		logger.Warn("param expected >= 0, set to default", "param", "minMovingDistance", "value", cfg.Motion.MinMovingDistance, "default", d.Motion.MinMovingDistance)
		cfg.Motion.MinMovingDistance = d.Motion.MinMovingDistance
	}
	if cfg.Simulator.FrameInitRetries < 1 {
		logger.Warn("param expected >= 1, set to default", "param", "frameInitRetries", "value", cfg.Simulator.FrameInitRetries, "default", d.Simulator.FrameInitRetries)
		cfg.Simulator.FrameInitRetries = d.Simulator.FrameInitRetries
	}
	if cfg.Telemetry.EventBufferSize <= 0 {
		logger.Warn("param expected > 0, set to default", "param", "eventBufferSize", "value", cfg.Telemetry.EventBufferSize, "default", d.Telemetry.EventBufferSize)
		cfg.Telemetry.EventBufferSize = d.Telemetry.EventBufferSize
	}
}

// Validate reports structural errors that have no sensible fallback.
func Validate(cfg *Config) error {
	var errs []error

	if strings.TrimSpace(cfg.Vehicle.Name) == "" {
		errs = append(errs, errors.New("vehicle.name must not be empty"))
	}
	if u, err := url.Parse(cfg.Simulator.Endpoint); err != nil || u.Scheme == "" || u.Host == "" {
		errs = append(errs, fmt.Errorf("simulator.endpoint %q is not an absolute URL", cfg.Simulator.Endpoint))
	}
	if cfg.Simulator.CallTimeout <= 0 {
		errs = append(errs, errors.New("simulator.callTimeout must be > 0"))
	}
	if cfg.Simulator.ConnectTimeout <= 0 {
		errs = append(errs, errors.New("simulator.connectTimeout must be > 0"))
	}
	if cfg.Simulator.ConnectRetryInterval <= 0 || cfg.Simulator.ConnectRetryInterval > cfg.Simulator.ConnectTimeout {
		errs = append(errs, fmt.Errorf("simulator.connectRetryInterval %v must be in (0, connectTimeout]", cfg.Simulator.ConnectRetryInterval))
	}
	if cfg.Simulator.HealthTimeout <= 0 {
		errs = append(errs, errors.New("simulator.healthTimeout must be > 0"))
	}

	switch cfg.Drift.Model {
	case "identity", "random_walk":
	default:
		errs = append(errs, fmt.Errorf("drift.model %q must be one of identity, random_walk", cfg.Drift.Model))
	}

	switch cfg.Logging.Format {
	case "text", "json":
	default:
		errs = append(errs, fmt.Errorf("logging.format %q must be text or json", cfg.Logging.Format))
	}

	if cfg.API.Auth.Enabled {
		switch cfg.API.Auth.Algorithm {
		case "HS256":
			if cfg.API.Auth.SecretKey == "" {
				errs = append(errs, errors.New("api.auth.secretKey is required for HS256"))
			}
		case "RS256":
			if cfg.API.Auth.PublicKeyPEM == "" {
				errs = append(errs, errors.New("api.auth.publicKeyPem is required for RS256"))
			}
		default:
			errs = append(errs, fmt.Errorf("api.auth.algorithm %q must be HS256 or RS256", cfg.API.Auth.Algorithm))
		}
	}

	return errors.Join(errs...)
}
