package config

import (
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v2"
)

// DefaultPath is read when no explicit path is given and it exists.
const DefaultPath = "config/simbridge.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SIMBRIDGE_"

// Load merges Defaults, the YAML file at path (or $SIMBRIDGE_CONFIG, or
// DefaultPath when present), SIMBRIDGE_* environment overrides, then
// normalizes, validates and builds the sensor descriptors.
func Load(path string, logger *slog.Logger) (*Config, error) {
	cfg := Defaults()

	explicit := path != ""
	if !explicit {
		if p := os.Getenv(EnvPrefix + "CONFIG"); p != "" {
			path, explicit = p, true
		} else {
			path = DefaultPath
		}
	}

	if err := loadFromFile(cfg, path); err != nil {
		if explicit || !errors.Is(err, fs.ErrNotExist) {
			return nil, fmt.Errorf("failed to load %s: %w", path, err)
		}
		logger.Debug("no configuration file, using defaults", "path", path)
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	Normalize(cfg, logger)

	if err := Validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	cfg.SensorDescriptors = BuildSensors(cfg.Sensors, cfg.Vehicle.Name, logger)
	cfg.ProcessorDescriptors = BuildProcessors(cfg.Processors, cfg.SensorDescriptors, cfg.Vehicle.Name, logger)
	return cfg, nil
}

// Parse decodes YAML bytes over Defaults without touching the
// environment. Used by tools that inspect a file.
func Parse(data []byte, logger *slog.Logger) (*Config, error) {
	cfg := Defaults()
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	Normalize(cfg, logger)
	if err := Validate(cfg); err != nil {
		return nil, err
	}
	cfg.SensorDescriptors = BuildSensors(cfg.Sensors, cfg.Vehicle.Name, logger)
	cfg.ProcessorDescriptors = BuildProcessors(cfg.Processors, cfg.SensorDescriptors, cfg.Vehicle.Name, logger)
	return cfg, nil
}

func loadFromFile(cfg *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides parses each section under its own prefix, e.g.
// SIMBRIDGE_SIM_ENDPOINT or SIMBRIDGE_MOTION_MIN_MOVING_DISTANCE. The
// sensor list is file-only.
func applyEnvOverrides(cfg *Config) error {
	sections := []struct {
		prefix string
		target any
	}{
		{"SIM_", &cfg.Simulator},
		{"VEHICLE_", &cfg.Vehicle},
		{"TIMING_", &cfg.Timing},
		{"MOTION_", &cfg.Motion},
		{"DRIFT_", &cfg.Drift},
		{"TELEMETRY_", &cfg.Telemetry},
		{"API_", &cfg.API},
		{"LOG_", &cfg.Logging},
		{"AUDIT_", &cfg.Audit},
	}
	for _, s := range sections {
		if err := env.ParseWithOptions(s.target, env.Options{Prefix: EnvPrefix + s.prefix}); err != nil {
			return fmt.Errorf("%s*: %w", EnvPrefix+s.prefix, err)
		}
	}
	return nil
}
