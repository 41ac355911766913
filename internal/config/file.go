package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// ErrInvalidConfig is wrapped by every validation failure.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the top-level runtime configuration.
type Config struct {
	Lock       LockConfig       `yaml:"lock"`
	Modes      ModesConfig      `yaml:"modes"`
	Thresholds ThresholdsConfig `yaml:"thresholds"`
	Ranging    RangingConfig    `yaml:"ranging"`
	Timing     TimingConfig     `yaml:"timing"`
	Geofence   GeofenceConfig   `yaml:"geofence"`
	LogSink    LogSinkConfig    `yaml:"log_sink"`
	Logger     LoggerConfig     `yaml:"logger"`
}

// LockConfig identifies the lock's GATT profile and the local adapter.
type LockConfig struct {
	ServiceUUID string `yaml:"service_uuid"`
	CommandUUID string `yaml:"command_uuid"`
	Adapter     string `yaml:"adapter"`
}

// ModesConfig holds the live ranging / signal-only flag pair.
type ModesConfig struct {
	Ranging    bool `yaml:"ranging"`
	SignalOnly bool `yaml:"signal_only"`
}

// ThresholdsConfig holds the decision thresholds and hysteresis margins.
type ThresholdsConfig struct {
	RangingCm           float64 `yaml:"ranging_cm"`
	RangingExitMarginCm float64 `yaml:"ranging_exit_margin_cm"`
	SignalDBm           int     `yaml:"signal_dbm"`
	SignalMarginDB      int     `yaml:"signal_margin_db"`
}

// RangingConfig selects the ranging backend.
type RangingConfig struct {
	Backend string `yaml:"backend"` // "serial", "sim" or "none"
	Port    string `yaml:"port"`
	Baud    int    `yaml:"baud"`
}

// TimingConfig holds engine intervals.
type TimingConfig struct {
	SignalPollInterval time.Duration `yaml:"signal_poll_interval"`
	AddressSettleDelay time.Duration `yaml:"address_settle_delay"`
	LogInterval        time.Duration `yaml:"log_interval"`
	ConfigPollInterval time.Duration `yaml:"config_poll_interval"`
}

// GeofenceConfig arms the engine only near the lock when enabled.
type GeofenceConfig struct {
	Enabled       bool    `yaml:"enabled"`
	Latitude      float64 `yaml:"latitude"`
	Longitude     float64 `yaml:"longitude"`
	Altitude      float64 `yaml:"altitude"`
	ArmRadiusM    float64 `yaml:"arm_radius_m"`
	DisarmRadiusM float64 `yaml:"disarm_radius_m"`
	GPSPort       string  `yaml:"gps_port"`
	GPSBaud       int     `yaml:"gps_baud"`
}

// LogSinkConfig configures where distance snapshots are persisted.
// An empty Path logs snapshots through the logger only.
type LogSinkConfig struct {
	Path   string `yaml:"path"`
	Retain int    `yaml:"retain"`
}

// LoggerConfig configures the process logger.
type LoggerConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Defaults returns the configuration used when no file is present.
func Defaults() *Config {
	return &Config{
		Lock: LockConfig{
			ServiceUUID: ServiceUUID,
			CommandUUID: CommandUUID,
			Adapter:     "hci0",
		},
		Modes: ModesConfig{Ranging: true, SignalOnly: true},
		Thresholds: ThresholdsConfig{
			RangingCm:           RangingThresholdCm,
			RangingExitMarginCm: RangingExitMarginCm,
			SignalDBm:           SignalThresholdDBm,
			SignalMarginDB:      SignalMarginDB,
		},
		Ranging: RangingConfig{
			Backend: "serial",
			Port:    "/dev/ttyUSB0",
			Baud:    115200,
		},
		Timing: TimingConfig{
			SignalPollInterval: SignalPollInterval,
			AddressSettleDelay: AddressSettleDelay,
			LogInterval:        LogInterval,
			ConfigPollInterval: ConfigPollInterval,
		},
		Geofence: GeofenceConfig{
			ArmRadiusM:    ArmRadiusM,
			DisarmRadiusM: DisarmRadiusM,
			GPSBaud:       9600,
		},
		LogSink: LogSinkConfig{Retain: LogRetain},
		Logger:  LoggerConfig{Level: "info", Format: "text", Output: "stderr"},
	}
}

// Load reads the YAML file at path on top of Defaults, applies environment
// overrides and validates the result. A missing file is not an error.
func Load(path string) (*Config, error) {
	cfg := Defaults()

	data, err := os.ReadFile(path)
	if err != nil && !os.IsNotExist(err) {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	ApplyEnvOverrides(cfg)

	if err := Validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ApplyEnvOverrides overlays LOCKAPPROACH_* environment variables.
func ApplyEnvOverrides(cfg *Config) {
	if v, ok := envBool("LOCKAPPROACH_RANGING"); ok {
		cfg.Modes.Ranging = v
	}
	if v, ok := envBool("LOCKAPPROACH_SIGNAL_ONLY"); ok {
		cfg.Modes.SignalOnly = v
	}
	if v := os.Getenv("LOCKAPPROACH_ADAPTER"); v != "" {
		cfg.Lock.Adapter = v
	}
	if v := os.Getenv("LOCKAPPROACH_UWB_BACKEND"); v != "" {
		cfg.Ranging.Backend = v
	}
	if v := os.Getenv("LOCKAPPROACH_UWB_PORT"); v != "" {
		cfg.Ranging.Port = v
	}
	if v := os.Getenv("LOCKAPPROACH_LOG_DB"); v != "" {
		cfg.LogSink.Path = v
	}
	if v := os.Getenv("LOCKAPPROACH_LOG_LEVEL"); v != "" {
		cfg.Logger.Level = v
	}
	if v := os.Getenv("LOCKAPPROACH_LOG_FORMAT"); v != "" {
		cfg.Logger.Format = v
	}
}

func envBool(key string) (bool, bool) {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return false, false
	}
	v, err := strconv.ParseBool(raw)
	if err != nil {
		return false, false
	}
	return v, true
}

// Validate checks cross-field consistency.
func Validate(cfg *Config) error {
	if cfg.Lock.ServiceUUID == "" || cfg.Lock.CommandUUID == "" {
		return fmt.Errorf("%w: lock service and command UUIDs are required", ErrInvalidConfig)
	}
	if cfg.Thresholds.RangingCm <= 0 {
		return fmt.Errorf("%w: thresholds.ranging_cm must be positive", ErrInvalidConfig)
	}
	if cfg.Thresholds.RangingExitMarginCm < 0 || cfg.Thresholds.SignalMarginDB < 0 {
		return fmt.Errorf("%w: hysteresis margins must not be negative", ErrInvalidConfig)
	}
	switch cfg.Ranging.Backend {
	case "serial":
		if cfg.Ranging.Port == "" {
			return fmt.Errorf("%w: ranging.port is required for the serial backend", ErrInvalidConfig)
		}
		if cfg.Ranging.Baud <= 0 {
			return fmt.Errorf("%w: ranging.baud must be positive", ErrInvalidConfig)
		}
	case "sim", "none":
	default:
		return fmt.Errorf("%w: unknown ranging backend %q", ErrInvalidConfig, cfg.Ranging.Backend)
	}
	t := cfg.Timing
	if t.SignalPollInterval <= 0 || t.LogInterval <= 0 || t.ConfigPollInterval <= 0 || t.AddressSettleDelay < 0 {
		return fmt.Errorf("%w: timing intervals must be positive", ErrInvalidConfig)
	}
	if cfg.Geofence.Enabled {
		if cfg.Geofence.ArmRadiusM <= 0 || cfg.Geofence.DisarmRadiusM <= cfg.Geofence.ArmRadiusM {
			return fmt.Errorf("%w: geofence disarm radius must exceed a positive arm radius", ErrInvalidConfig)
		}
	}
	if cfg.LogSink.Retain < 0 {
		return fmt.Errorf("%w: log_sink.retain must not be negative", ErrInvalidConfig)
	}
	return nil
}
