package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for Vivarium Core.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Site     SiteConfig     `yaml:"site"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	Logging  LoggingConfig  `yaml:"logging"`
	Sensor   SensorConfig   `yaml:"sensor"`
	Devices  DevicesConfig  `yaml:"devices"`
}

// SiteConfig contains enclosure-specific information.
type SiteConfig struct {
	ID       string `yaml:"id"`
	Name     string `yaml:"name"`
	Timezone string `yaml:"timezone"`
}

// DatabaseConfig contains SQLite database settings.
type DatabaseConfig struct {
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled   bool                `yaml:"enabled"`
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`
}

// MQTTBrokerConfig contains MQTT broker connection details.
type MQTTBrokerConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	TLS      bool   `yaml:"tls"`
	ClientID string `yaml:"client_id"`
}

// MQTTAuthConfig contains MQTT authentication credentials.
type MQTTAuthConfig struct {
	Username string `yaml:"username"`
	Password string `yaml:"password"`
}

// MQTTReconnectConfig contains MQTT reconnection settings.
type MQTTReconnectConfig struct {
	InitialDelay int `yaml:"initial_delay"`
	MaxDelay     int `yaml:"max_delay"`
	MaxAttempts  int `yaml:"max_attempts"`
}

// InfluxDBConfig contains InfluxDB connection settings for climate telemetry.
type InfluxDBConfig struct {
	Enabled       bool   `yaml:"enabled"`
	URL           string `yaml:"url"`
	Token         string `yaml:"token"`
	Org           string `yaml:"org"`
	Bucket        string `yaml:"bucket"`
	BatchSize     int    `yaml:"batch_size"`
	FlushInterval int    `yaml:"flush_interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// SensorConfig contains sensor acquisition settings.
//
// The reader binary is executed in an isolated process with a hard
// wall-clock timeout so a wedged I2C bus cannot stall the control loop.
type SensorConfig struct {
	// ID is the sensor identifier used in the readings table (e.g., "th-1").
	ID string `yaml:"id"`

	// ReaderBinary is the path to the external sensor reader executable.
	ReaderBinary string `yaml:"reader_binary"`

	// ReaderArgs are command-line arguments passed to the reader.
	ReaderArgs []string `yaml:"reader_args"`

	// TimeoutSeconds is the hard limit for a single acquisition.
	TimeoutSeconds int `yaml:"timeout_seconds"`

	// IntervalSeconds is how often the acquisition loop runs.
	IntervalSeconds int `yaml:"interval_seconds"`
}

// DevicesConfig contains per-actuator settings.
type DevicesConfig struct {
	Light      LightConfig      `yaml:"light"`
	Mister     MisterConfig     `yaml:"mister"`
	Humidifier HumidifierConfig `yaml:"humidifier"`
}

// LightConfig contains the light relay pin and its daily schedule window.
type LightConfig struct {
	DeviceID string `yaml:"device_id"`
	Pin      int    `yaml:"pin"`

	// WindowStart/WindowEnd are times of day in "HH:MM" format.
	// The window is half-open: on while start <= now < end.
	// A window with start > end spans midnight.
	WindowStart string `yaml:"window_start"`
	WindowEnd   string `yaml:"window_end"`
}

// MisterConfig contains the mister relay pin and its pulsed policy settings.
type MisterConfig struct {
	DeviceID string `yaml:"device_id"`
	Pin      int    `yaml:"pin"`

	// HumidityThreshold is the percentage below which misting is considered.
	HumidityThreshold float64 `yaml:"humidity_threshold"`

	// MinIntervalMinutes is the minimum gap between runs, measured from
	// the last recorded OFF transition.
	MinIntervalMinutes int `yaml:"min_interval_minutes"`

	// RunSeconds is how long a single misting pulse lasts.
	RunSeconds int `yaml:"run_seconds"`
}

// HumidifierConfig contains the cloud humidifier account and hysteresis settings.
type HumidifierConfig struct {
	DeviceID string `yaml:"device_id"`

	// TargetHumidity and Hysteresis define the dead band: the humidifier
	// activates below target-hysteresis and deactivates at or above target.
	TargetHumidity float64 `yaml:"target_humidity"`
	Hysteresis     float64 `yaml:"hysteresis"`

	// RunMinutes bounds a single activation; the policy schedules the
	// matching OFF at activation time.
	RunMinutes int `yaml:"run_minutes"`

	Remote RemoteConfig `yaml:"remote"`
}

// RemoteConfig contains cloud API credentials for the humidifier session.
type RemoteConfig struct {
	BaseURL    string `yaml:"base_url"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	DeviceName string `yaml:"device_name"`
}

// Load reads configuration from a YAML file.
//
// It starts from defaults, overlays the file contents, applies environment
// variable overrides, and validates the result.
//
// Environment variables follow the pattern VIVARIUM_SECTION_KEY.
// For example: VIVARIUM_DATABASE_PATH, VIVARIUM_MQTT_HOST
//
// Parameters:
//   - path: Path to the YAML configuration file
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	applyEnvOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		Site: SiteConfig{
			ID:       "vivarium-001",
			Name:     "Vivarium",
			Timezone: "UTC",
		},
		Database: DatabaseConfig{
			Path:        "./data/vivarium.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "vivarium-core",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
				MaxAttempts:  0,
			},
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
		Sensor: SensorConfig{
			ID:              "th-1",
			TimeoutSeconds:  10,
			IntervalSeconds: 60,
		},
		Devices: DevicesConfig{
			Light: LightConfig{
				DeviceID:    "light",
				Pin:         17,
				WindowStart: "08:00",
				WindowEnd:   "20:00",
			},
			Mister: MisterConfig{
				DeviceID:           "mister",
				Pin:                27,
				HumidityThreshold:  70,
				MinIntervalMinutes: 60,
				RunSeconds:         30,
			},
			Humidifier: HumidifierConfig{
				DeviceID:       "humidifier",
				TargetHumidity: 55,
				Hysteresis:     5,
				RunMinutes:     15,
			},
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
// Environment variables follow the pattern: VIVARIUM_SECTION_KEY
func applyEnvOverrides(cfg *Config) {
	// Database
	if v := os.Getenv("VIVARIUM_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
	}

	// MQTT
	if v := os.Getenv("VIVARIUM_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("VIVARIUM_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("VIVARIUM_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// InfluxDB
	if v := os.Getenv("VIVARIUM_INFLUXDB_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}

	// Cloud humidifier credentials — never commit these to config.yaml
	if v := os.Getenv("VIVARIUM_REMOTE_USERNAME"); v != "" {
		cfg.Devices.Humidifier.Remote.Username = v
	}
	if v := os.Getenv("VIVARIUM_REMOTE_PASSWORD"); v != "" {
		cfg.Devices.Humidifier.Remote.Password = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.Site.ID == "" {
		errs = append(errs, "site.id is required")
	}

	if c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}

	if c.Sensor.TimeoutSeconds <= 0 {
		errs = append(errs, "sensor.timeout_seconds must be positive")
	}
	if c.Sensor.IntervalSeconds <= 0 {
		errs = append(errs, "sensor.interval_seconds must be positive")
	}

	if _, err := ParseTimeOfDay(c.Devices.Light.WindowStart); err != nil {
		errs = append(errs, fmt.Sprintf("devices.light.window_start: %v", err))
	}
	if _, err := ParseTimeOfDay(c.Devices.Light.WindowEnd); err != nil {
		errs = append(errs, fmt.Sprintf("devices.light.window_end: %v", err))
	}

	if c.Devices.Mister.HumidityThreshold <= 0 || c.Devices.Mister.HumidityThreshold > 100 {
		errs = append(errs, "devices.mister.humidity_threshold must be within (0, 100]")
	}
	if c.Devices.Mister.MinIntervalMinutes <= 0 {
		errs = append(errs, "devices.mister.min_interval_minutes must be positive")
	}
	if c.Devices.Mister.RunSeconds <= 0 {
		errs = append(errs, "devices.mister.run_seconds must be positive")
	}

	if c.Devices.Humidifier.Hysteresis < 0 {
		errs = append(errs, "devices.humidifier.hysteresis must not be negative")
	}
	if c.Devices.Humidifier.TargetHumidity <= c.Devices.Humidifier.Hysteresis {
		errs = append(errs, "devices.humidifier.target_humidity must exceed hysteresis")
	}
	if c.Devices.Humidifier.RunMinutes <= 0 {
		errs = append(errs, "devices.humidifier.run_minutes must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ParseTimeOfDay parses an "HH:MM" string into minutes since midnight.
func ParseTimeOfDay(value string) (int, error) {
	var hour, minute int
	if _, err := fmt.Sscanf(value, "%d:%d", &hour, &minute); err != nil {
		return 0, fmt.Errorf("invalid time of day %q (want HH:MM)", value)
	}
	if hour < 0 || hour > 23 || minute < 0 || minute > 59 {
		return 0, fmt.Errorf("time of day %q out of range", value)
	}
	return hour*60 + minute, nil
}

// SensorTimeout returns the sensor acquisition timeout as a Duration.
func (c *Config) SensorTimeout() time.Duration {
	return time.Duration(c.Sensor.TimeoutSeconds) * time.Second
}

// SensorInterval returns the acquisition loop interval as a Duration.
func (c *Config) SensorInterval() time.Duration {
	return time.Duration(c.Sensor.IntervalSeconds) * time.Second
}

// MisterMinInterval returns the mister re-arm interval as a Duration.
func (c *Config) MisterMinInterval() time.Duration {
	return time.Duration(c.Devices.Mister.MinIntervalMinutes) * time.Minute
}

// MisterRunDuration returns the mister pulse length as a Duration.
func (c *Config) MisterRunDuration() time.Duration {
	return time.Duration(c.Devices.Mister.RunSeconds) * time.Second
}

// HumidifierRunDuration returns the bounded humidifier run length as a Duration.
func (c *Config) HumidifierRunDuration() time.Duration {
	return time.Duration(c.Devices.Humidifier.RunMinutes) * time.Minute
}
