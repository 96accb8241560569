package config

import "time"

// Config is the complete bridge configuration.
type Config struct {
	Simulator SimulatorConfig `yaml:"simulator"`
	Vehicle   VehicleConfig   `yaml:"vehicle"`
	Timing    TimingConfig    `yaml:"timing"`
	Motion    MotionConfig    `yaml:"motion"`
	Drift     DriftConfig     `yaml:"drift"`
	Telemetry TelemetryConfig `yaml:"telemetry"`
	API       APIConfig       `yaml:"api"`
	Logging   LoggingConfig   `yaml:"logging"`
	Audit     AuditConfig     `yaml:"audit"`

	// Sensors is the raw sensor list as written in the file.
	Sensors []SensorEntry `yaml:"sensors"`

	// SensorDescriptors is built from Sensors by Load.
	SensorDescriptors []SensorDescriptor `yaml:"-"`

	// Processors post-process sensor readings, keyed by input sensor.
	Processors []ProcessorEntry `yaml:"processors"`

	// ProcessorDescriptors is built from Processors by Load.
	ProcessorDescriptors []ProcessorDescriptor `yaml:"-"`
}

// SimulatorConfig holds connection settings for the simulator RPC.
type SimulatorConfig struct {
	Endpoint             string        `yaml:"endpoint" env:"ENDPOINT"`
	CallTimeout          time.Duration `yaml:"callTimeout" env:"CALL_TIMEOUT"`
	ConnectTimeout       time.Duration `yaml:"connectTimeout" env:"CONNECT_TIMEOUT"`
	ConnectRetryInterval time.Duration `yaml:"connectRetryInterval" env:"CONNECT_RETRY_INTERVAL"`
	HealthTimeout        time.Duration `yaml:"healthTimeout" env:"HEALTH_TIMEOUT"`

	// FrameName is the parent frame of published vehicle poses.
	FrameName string `yaml:"frameName" env:"FRAME_NAME"`

	// UseSimTime stamps messages with simulator time and enables the
	// clock republishing loop.
	UseSimTime bool `yaml:"useSimTime" env:"USE_SIM_TIME"`

	FrameInitRetries       int           `yaml:"frameInitRetries" env:"FRAME_INIT_RETRIES"`
	FrameInitRetryInterval time.Duration `yaml:"frameInitRetryInterval" env:"FRAME_INIT_RETRY_INTERVAL"`
}

// VehicleConfig describes the controlled vehicle.
type VehicleConfig struct {
	Name string `yaml:"name" env:"NAME"`

	// Velocity is the cruise speed of pose commands in m/s.
	Velocity float64 `yaml:"velocity" env:"VELOCITY"`

	// PublishSensorTransforms attaches the mounting transform to every
	// sensor message instead of broadcasting it once on tf_static.
	PublishSensorTransforms bool `yaml:"publishSensorTransforms" env:"PUBLISH_SENSOR_TRANSFORMS"`
}

// TimingConfig holds loop cadences.
type TimingConfig struct {
	// StateRefreshRate is the main state-poll rate in Hz.
	StateRefreshRate float64 `yaml:"stateRefreshRate" env:"STATE_REFRESH_RATE"`

	// TimePublisherInterval is the wall-clock period of the clock loop.
	TimePublisherInterval time.Duration `yaml:"timePublisherInterval" env:"TIME_PUBLISHER_INTERVAL"`

	StartupDelay    time.Duration `yaml:"startupDelay" env:"STARTUP_DELAY"`
	ShutdownTimeout time.Duration `yaml:"shutdownTimeout" env:"SHUTDOWN_TIMEOUT"`
}

// MotionConfig holds pose command arbitration parameters.
type MotionConfig struct {
	// MinMovingDistance is the displacement in metres below which a
	// pose command only rotates in place.
	MinMovingDistance float64 `yaml:"minMovingDistance" env:"MIN_MOVING_DISTANCE"`

	CommandTimeoutSec float64 `yaml:"commandTimeoutSec" env:"COMMAND_TIMEOUT_SEC"`
	YawMarginDeg      float64 `yaml:"yawMarginDeg" env:"YAW_MARGIN_DEG"`
	TakeoffTimeoutSec float64 `yaml:"takeoffTimeoutSec" env:"TAKEOFF_TIMEOUT_SEC"`
	StartupVelocity   float64 `yaml:"startupVelocity" env:"STARTUP_VELOCITY"`
}

// DriftConfig selects and tunes the odometry drift model.
type DriftConfig struct {
	// Model is "identity" or "random_walk".
	Model string `yaml:"model" env:"MODEL"`
	Seed  int64  `yaml:"seed" env:"SEED"`

	// Noise densities of the random walk, per sqrt(second).
	PositionNoise float64 `yaml:"positionNoise" env:"POSITION_NOISE"`
	YawNoise      float64 `yaml:"yawNoise" env:"YAW_NOISE"`
}

// TelemetryConfig configures the bus and its outlets.
type TelemetryConfig struct {
	EventBufferSize   int           `yaml:"eventBufferSize" env:"EVENT_BUFFER_SIZE"`
	HeartbeatInterval time.Duration `yaml:"heartbeatInterval" env:"HEARTBEAT_INTERVAL"`
	HeartbeatJitter   time.Duration `yaml:"heartbeatJitter" env:"HEARTBEAT_JITTER"`

	// PollWarnInterval throttles repeated poll-failure warnings per
	// sensor.
	PollWarnInterval time.Duration `yaml:"pollWarnInterval" env:"POLL_WARN_INTERVAL"`

	// RecorderPath enables the CBOR flight recorder when non-empty.
	RecorderPath       string   `yaml:"recorderPath" env:"RECORDER_PATH"`
	RecorderMaxSizeMB  int      `yaml:"recorderMaxSizeMB" env:"RECORDER_MAX_SIZE_MB"`
	RecorderMaxBackups int      `yaml:"recorderMaxBackups" env:"RECORDER_MAX_BACKUPS"`
	RecorderTopics     []string `yaml:"recorderTopics" env:"RECORDER_TOPICS" envSeparator:","`
}

// APIConfig configures the HTTP surface.
type APIConfig struct {
	Addr         string        `yaml:"addr" env:"ADDR"`
	ReadTimeout  time.Duration `yaml:"readTimeout" env:"READ_TIMEOUT"`
	WriteTimeout time.Duration `yaml:"writeTimeout" env:"WRITE_TIMEOUT"`
	IdleTimeout  time.Duration `yaml:"idleTimeout" env:"IDLE_TIMEOUT"`
	Auth         AuthConfig    `yaml:"auth" envPrefix:"AUTH_"`
}

// AuthConfig configures bearer-token verification.
type AuthConfig struct {
	Enabled      bool   `yaml:"enabled" env:"ENABLED"`
	Algorithm    string `yaml:"algorithm" env:"ALGORITHM"`
	SecretKey    string `yaml:"secretKey" env:"SECRET_KEY"`
	PublicKeyPEM string `yaml:"publicKeyPem" env:"PUBLIC_KEY_PEM"`
}

// LoggingConfig configures the process logger.
type LoggingConfig struct {
	Level      string `yaml:"level" env:"LEVEL"`
	Format     string `yaml:"format" env:"FORMAT"`
	File       string `yaml:"file" env:"FILE"`
	MaxSizeMB  int    `yaml:"maxSizeMB" env:"MAX_SIZE_MB"`
	MaxBackups int    `yaml:"maxBackups" env:"MAX_BACKUPS"`
	MaxAgeDays int    `yaml:"maxAgeDays" env:"MAX_AGE_DAYS"`
}

// AuditConfig configures the command audit trail.
type AuditConfig struct {
	Dir        string `yaml:"dir" env:"DIR"`
	MaxSizeMB  int    `yaml:"maxSizeMB" env:"MAX_SIZE_MB"`
	MaxBackups int    `yaml:"maxBackups" env:"MAX_BACKUPS"`
}

// Defaults returns the baseline configuration.
func Defaults() *Config {
	return &Config{
		Simulator: SimulatorConfig{
			Endpoint:               "http://127.0.0.1:41451/rpc",
			CallTimeout:            2 * time.Second,
			ConnectTimeout:         3 * time.Second,
			ConnectRetryInterval:   300 * time.Millisecond,
			HealthTimeout:          500 * time.Millisecond,
			FrameName:              "odom",
			UseSimTime:             false,
			FrameInitRetries:       3,
			FrameInitRetryInterval: 500 * time.Millisecond,
		},
		Vehicle: VehicleConfig{
			Name:     "airsim_drone",
			Velocity: 1.0,
		},
		Timing: TimingConfig{
			StateRefreshRate:      100,
			TimePublisherInterval: 10 * time.Millisecond,
			StartupDelay:          100 * time.Millisecond,
			ShutdownTimeout:       5 * time.Second,
		},
		Motion: MotionConfig{
			MinMovingDistance: 0.1,
			CommandTimeoutSec: 3600,
			YawMarginDeg:      5,
			TakeoffTimeoutSec: 2,
			StartupVelocity:   5,
		},
		Drift: DriftConfig{
			Model:         "identity",
			PositionNoise: 0.005,
			YawNoise:      0.001,
		},
		Telemetry: TelemetryConfig{
			EventBufferSize:    50,
			HeartbeatInterval:  15 * time.Second,
			HeartbeatJitter:    2 * time.Second,
			PollWarnInterval:   5 * time.Second,
			RecorderMaxSizeMB:  100,
			RecorderMaxBackups: 3,
		},
		API: APIConfig{
			Addr:         ":8000",
			ReadTimeout:  30 * time.Second,
			WriteTimeout: 0,
			IdleTimeout:  120 * time.Second,
			Auth: AuthConfig{
				Algorithm: "HS256",
			},
		},
		Logging: LoggingConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  50,
			MaxBackups: 3,
			MaxAgeDays: 28,
		},
		Audit: AuditConfig{
			Dir:        "logs",
			MaxSizeMB:  50,
			MaxBackups: 5,
		},
	}
}

// DefaultSensorRate is the poll rate substituted for invalid sensor rates.
const DefaultSensorRate = 10.0
