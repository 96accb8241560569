package mocksim

import (
	"errors"
	"fmt"
	"io/fs"
	"net/netip"
	"os"
	"slices"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v2"
)

// DefaultPath is read when no explicit path is given and it exists.
const DefaultPath = "config/simmock.yaml"

// EnvPrefix prefixes every environment override.
const EnvPrefix = "SIMMOCK_"

// Operating modes.
const (
	ModeNormal   = "normal"
	ModeDegraded = "degraded"
	ModeOffline  = "offline"
)

var validModes = []string{ModeNormal, ModeDegraded, ModeOffline}

// Config represents the complete configuration of the mock simulator.
type Config struct {
	Network  NetworkConfig  `yaml:"network"`
	Versions VersionsConfig `yaml:"versions"`
	Vehicle  VehicleConfig  `yaml:"vehicle"`
	Timing   TimingConfig   `yaml:"timing"`
	Mode     string         `yaml:"mode" env:"MODE"`
}

// NetworkConfig holds listener settings.
type NetworkConfig struct {
	HTTP        HTTPConfig        `yaml:"http"`
	Maintenance MaintenanceConfig `yaml:"maintenance"`
}

// HTTPConfig holds the JSON-RPC listener settings.
type HTTPConfig struct {
	Port int `yaml:"port" env:"HTTP_PORT"`
}

// MaintenanceConfig holds maintenance TCP server settings.
type MaintenanceConfig struct {
	Port         int      `yaml:"port" env:"MAINTENANCE_PORT"`
	AllowedCIDRs []string `yaml:"allowedCidrs" env:"MAINTENANCE_ALLOWED_CIDRS" envSeparator:","`
}

// VersionsConfig holds the protocol versions reported to clients.
type VersionsConfig struct {
	Server    int `yaml:"server" env:"SERVER_VERSION"`
	MinClient int `yaml:"minClient" env:"MIN_CLIENT_VERSION"`
}

// VehicleConfig describes the single simulated vehicle.
type VehicleConfig struct {
	Name       string  `yaml:"name" env:"VEHICLE_NAME"`
	MaxSpeed   float64 `yaml:"maxSpeed" env:"VEHICLE_MAX_SPEED"`
	YawRateDeg float64 `yaml:"yawRateDeg" env:"VEHICLE_YAW_RATE_DEG"`

	// TakeoffAltitude is the climb height in meters.
	TakeoffAltitude float64 `yaml:"takeoffAltitude" env:"VEHICLE_TAKEOFF_ALTITUDE"`
}

// TimingConfig holds all timing-related settings.
type TimingConfig struct {
	// StepInterval is the kinematic integration period.
	StepInterval time.Duration `yaml:"stepInterval" env:"STEP_INTERVAL"`

	CommandQueueSize int `yaml:"commandQueueSize" env:"COMMAND_QUEUE_SIZE"`

	// CommandTimeout bounds the wait for a queue slot and for the
	// worker's answer.
	CommandTimeout time.Duration `yaml:"commandTimeout" env:"COMMAND_TIMEOUT"`
}

// Load loads configuration from file and environment variables.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

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
	}

	if err := applyEnvOverrides(cfg); err != nil {
		return nil, fmt.Errorf("failed to apply environment overrides: %w", err)
	}

	if err := validateConfig(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	return cfg, nil
}

// DefaultConfig returns the default configuration.
func DefaultConfig() *Config {
	return &Config{
		Network: NetworkConfig{
			HTTP: HTTPConfig{
				Port: 41451,
			},
			Maintenance: MaintenanceConfig{
				Port:         50001,
				AllowedCIDRs: []string{"127.0.0.0/8", "172.20.0.0/16"},
			},
		},
		Versions: VersionsConfig{
			Server:    1,
			MinClient: 1,
		},
		Vehicle: VehicleConfig{
			Name:            "airsim_drone",
			MaxSpeed:        10,
			YawRateDeg:      90,
			TakeoffAltitude: 3,
		},
		Timing: TimingConfig{
			StepInterval:     10 * time.Millisecond,
			CommandQueueSize: 16,
			CommandTimeout:   2 * time.Second,
		},
		Mode: ModeNormal,
	}
}

// loadFromFile loads configuration from a YAML file
func loadFromFile(cfg *Config, filename string) error {
	data, err := os.ReadFile(filename)
	if err != nil {
		return err
	}

	return yaml.Unmarshal(data, cfg)
}

// applyEnvOverrides applies SIMMOCK_* overrides, e.g. SIMMOCK_MODE.
func applyEnvOverrides(cfg *Config) error {
	return env.ParseWithOptions(cfg, env.Options{Prefix: EnvPrefix})
}

// validateConfig validates the configuration
func validateConfig(cfg *Config) error {
	if !slices.Contains(validModes, cfg.Mode) {
		return fmt.Errorf("invalid mode %s, must be one of: %v", cfg.Mode, validModes)
	}

	if cfg.Versions.Server <= 0 || cfg.Versions.MinClient <= 0 {
		return fmt.Errorf("versions must be positive: server=%d, minClient=%d", cfg.Versions.Server, cfg.Versions.MinClient)
	}

	if cfg.Vehicle.Name == "" {
		return errors.New("vehicle name must not be empty")
	}
	if cfg.Vehicle.MaxSpeed <= 0 || cfg.Vehicle.YawRateDeg <= 0 {
		return fmt.Errorf("vehicle limits must be positive: maxSpeed=%v, yawRateDeg=%v", cfg.Vehicle.MaxSpeed, cfg.Vehicle.YawRateDeg)
	}
	if cfg.Vehicle.TakeoffAltitude <= 0 {
		return fmt.Errorf("takeoff altitude %v must be positive", cfg.Vehicle.TakeoffAltitude)
	}

	if cfg.Timing.StepInterval <= 0 || cfg.Timing.StepInterval > time.Second {
		return fmt.Errorf("step interval %v is outside reasonable range (0, 1s]", cfg.Timing.StepInterval)
	}
	if cfg.Timing.CommandQueueSize <= 0 {
		return fmt.Errorf("command queue size %d must be positive", cfg.Timing.CommandQueueSize)
	}
	if cfg.Timing.CommandTimeout <= 0 {
		return fmt.Errorf("command timeout %v must be positive", cfg.Timing.CommandTimeout)
	}

	for _, cidr := range cfg.Network.Maintenance.AllowedCIDRs {
		if _, err := netip.ParsePrefix(cidr); err != nil {
			return fmt.Errorf("invalid maintenance CIDR %q: %w", cidr, err)
		}
	}

	return nil
}
