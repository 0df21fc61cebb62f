package config

import (
	"fmt"
	"net/url"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the Particle bridge.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	Particle ParticleConfig `yaml:"particle"`
	Stream   StreamConfig   `yaml:"stream"`
	InfluxDB InfluxDBConfig `yaml:"influxdb"`
	TSDB     TSDBConfig     `yaml:"tsdb"`
	Database DatabaseConfig `yaml:"database"`
	MQTT     MQTTConfig     `yaml:"mqtt"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Health   HealthConfig   `yaml:"health"`
	Logging  LoggingConfig  `yaml:"logging"`
}

// ParticleConfig contains the Particle Cloud event stream settings.
type ParticleConfig struct {
	// APIURL is the base URL of the Particle Cloud API.
	// Default: "https://api.particle.io"
	APIURL string `yaml:"api_url"`

	// AccessToken authenticates the event stream subscription.
	// Set via PARTICLE_TOKEN rather than the config file.
	AccessToken string `yaml:"access_token"`

	// DeviceID scopes the subscription to a single device.
	// If empty, events from all devices on the account are received.
	DeviceID string `yaml:"device_id"`

	// EventName is the event published by the firmware. It is informational
	// only: readings are selected by payload shape, not by event name.
	EventName string `yaml:"event_name"`
}

// StreamConfig contains reconnection and read settings for the event stream.
type StreamConfig struct {
	// InitialBackoff is the first reconnect delay in seconds. Default: 5
	InitialBackoff int `yaml:"initial_backoff"`

	// MaxBackoff caps the reconnect delay in seconds. Default: 60
	MaxBackoff int `yaml:"max_backoff"`

	// IdleTimeout forces a reconnect after this many seconds without any
	// bytes from the stream. 0 disables the check.
	IdleTimeout int `yaml:"idle_timeout"`

	// ReadBufferSize is the maximum chunk size read from the response body.
	ReadBufferSize int `yaml:"read_buffer_size"`
}

// InfluxDBConfig contains InfluxDB connection settings.
type InfluxDBConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
	Token   string `yaml:"token"`
	Org     string `yaml:"org"`
	Bucket  string `yaml:"bucket"`

	// WriteTimeout bounds a single blocking write in seconds. Default: 10
	WriteTimeout int `yaml:"write_timeout"`
}

// TSDBConfig contains VictoriaMetrics settings (InfluxDB line protocol over HTTP).
type TSDBConfig struct {
	Enabled bool   `yaml:"enabled"`
	URL     string `yaml:"url"`
}

// DatabaseConfig contains settings for the local SQLite reading journal.
type DatabaseConfig struct {
	Enabled     bool   `yaml:"enabled"`
	Path        string `yaml:"path"`
	WALMode     bool   `yaml:"wal_mode"`
	BusyTimeout int    `yaml:"busy_timeout"`

	// RetentionHours prunes journal rows older than this at startup and hourly after. 0 keeps everything.
	RetentionHours int `yaml:"retention_hours"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Enabled     bool                `yaml:"enabled"`
	Broker      MQTTBrokerConfig    `yaml:"broker"`
	Auth        MQTTAuthConfig      `yaml:"auth"`
	QoS         int                 `yaml:"qos"`
	TopicPrefix string              `yaml:"topic_prefix"`
	Reconnect   MQTTReconnectConfig `yaml:"reconnect"`
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
}

// MetricsConfig contains the Prometheus exporter settings.
type MetricsConfig struct {
	Enabled bool   `yaml:"enabled"`
	Listen  string `yaml:"listen"`
	Path    string `yaml:"path"`
}

// HealthConfig contains health reporting settings.
type HealthConfig struct {
	// Interval between MQTT health messages in seconds. Default: 30
	Interval int `yaml:"interval"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
	Output string `yaml:"output"`
}

// Load reads configuration from a YAML file and applies environment variable overrides.
//
// The configuration loading order is:
//  1. Default values (hardcoded)
//  2. YAML file values (override defaults), if path is non-empty
//  3. Environment variables (override file values)
//
// Container deployments configure the bridge purely through the environment
// with short names (PARTICLE_TOKEN, DEVICE_ID, INFLUX_URL, ...). Everything
// else follows the pattern PARTICLE_BRIDGE_SECTION_KEY.
//
// Parameters:
//   - path: Path to the YAML configuration file ("" for environment only)
//
// Returns:
//   - *Config: Loaded and validated configuration
//   - error: If file cannot be read, parsed, or validation fails
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("reading config file: %w", err)
		}

		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
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
		Particle: ParticleConfig{
			APIURL:    "https://api.particle.io",
			EventName: "sensor/reading",
		},
		Stream: StreamConfig{
			InitialBackoff: 5,
			MaxBackoff:     60,
			ReadBufferSize: 4096,
		},
		InfluxDB: InfluxDBConfig{
			Enabled:      true,
			URL:          "http://localhost:8086",
			WriteTimeout: 10,
		},
		TSDB: TSDBConfig{
			URL: "http://localhost:8428",
		},
		Database: DatabaseConfig{
			Path:        "./data/readings.db",
			WALMode:     true,
			BusyTimeout: 5,
		},
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "particle-bridge",
			},
			QoS:         1,
			TopicPrefix: "particle",
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Metrics: MetricsConfig{
			Listen: ":9464",
			Path:   "/metrics",
		},
		Health: HealthConfig{
			Interval: 30,
		},
		Logging: LoggingConfig{
			Level:  "info",
			Format: "json",
			Output: "stdout",
		},
	}
}

// applyEnvOverrides applies environment variable overrides to the configuration.
func applyEnvOverrides(cfg *Config) {
	// Particle
	if v := os.Getenv("PARTICLE_TOKEN"); v != "" {
		cfg.Particle.AccessToken = v
	}
	if v := os.Getenv("DEVICE_ID"); v != "" {
		cfg.Particle.DeviceID = v
	}
	if v := os.Getenv("EVENT_NAME"); v != "" {
		cfg.Particle.EventName = v
	}
	if v := os.Getenv("PARTICLE_API_URL"); v != "" {
		cfg.Particle.APIURL = v
	}

	// InfluxDB
	if v := os.Getenv("INFLUX_URL"); v != "" {
		cfg.InfluxDB.URL = v
	}
	if v := os.Getenv("INFLUX_TOKEN"); v != "" {
		cfg.InfluxDB.Token = v
	}
	if v := os.Getenv("INFLUX_ORG"); v != "" {
		cfg.InfluxDB.Org = v
	}
	if v := os.Getenv("INFLUX_BUCKET"); v != "" {
		cfg.InfluxDB.Bucket = v
	}

	// TSDB
	if v := os.Getenv("PARTICLE_BRIDGE_TSDB_URL"); v != "" {
		cfg.TSDB.URL = v
		cfg.TSDB.Enabled = true
	}

	// Database
	if v := os.Getenv("PARTICLE_BRIDGE_DATABASE_PATH"); v != "" {
		cfg.Database.Path = v
		cfg.Database.Enabled = true
	}

	// MQTT
	if v := os.Getenv("PARTICLE_BRIDGE_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
		cfg.MQTT.Enabled = true
	}
	if v := os.Getenv("PARTICLE_BRIDGE_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("PARTICLE_BRIDGE_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}

	// Metrics
	if v := os.Getenv("PARTICLE_BRIDGE_METRICS_LISTEN"); v != "" {
		cfg.Metrics.Listen = v
		cfg.Metrics.Enabled = true
	}

	// Logging
	if v := os.Getenv("PARTICLE_BRIDGE_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("PARTICLE_BRIDGE_LOG_FORMAT"); v != "" {
		cfg.Logging.Format = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// Particle validation
	if c.Particle.AccessToken == "" {
		errs = append(errs, "particle.access_token is required (set PARTICLE_TOKEN environment variable)")
	}
	if u, err := url.Parse(c.Particle.APIURL); err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		errs = append(errs, "particle.api_url must be an http(s) URL")
	}

	// Stream validation
	if c.Stream.InitialBackoff <= 0 {
		errs = append(errs, "stream.initial_backoff must be positive")
	}
	if c.Stream.MaxBackoff < c.Stream.InitialBackoff {
		errs = append(errs, "stream.max_backoff must be >= stream.initial_backoff")
	}
	if c.Stream.IdleTimeout < 0 {
		errs = append(errs, "stream.idle_timeout cannot be negative")
	}

	// Sink validation - a bridge with nowhere to write is a misconfiguration
	if !c.InfluxDB.Enabled && !c.TSDB.Enabled && !c.Database.Enabled && !c.MQTT.Enabled {
		errs = append(errs, "at least one of influxdb, tsdb, database or mqtt must be enabled")
	}
	if c.InfluxDB.Enabled {
		if c.InfluxDB.URL == "" {
			errs = append(errs, "influxdb.url is required")
		}
		if c.InfluxDB.Org == "" {
			errs = append(errs, "influxdb.org is required (set INFLUX_ORG environment variable)")
		}
		if c.InfluxDB.Bucket == "" {
			errs = append(errs, "influxdb.bucket is required (set INFLUX_BUCKET environment variable)")
		}
	}
	if c.TSDB.Enabled && c.TSDB.URL == "" {
		errs = append(errs, "tsdb.url is required")
	}
	if c.Database.Enabled && c.Database.Path == "" {
		errs = append(errs, "database.path is required")
	}

	// MQTT validation
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.Enabled && c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topic_prefix is required")
	}

	// Logging validation
	switch strings.ToLower(c.Logging.Level) {
	case "debug", "info", "warn", "warning", "error":
	default:
		errs = append(errs, "logging.level must be debug, info, warn or error")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// GetInitialBackoff returns the first reconnect delay as a Duration.
func (c *Config) GetInitialBackoff() time.Duration {
	return time.Duration(c.Stream.InitialBackoff) * time.Second
}

// GetMaxBackoff returns the reconnect delay cap as a Duration.
func (c *Config) GetMaxBackoff() time.Duration {
	return time.Duration(c.Stream.MaxBackoff) * time.Second
}

// GetIdleTimeout returns the stream idle timeout as a Duration (0 = disabled).
func (c *Config) GetIdleTimeout() time.Duration {
	return time.Duration(c.Stream.IdleTimeout) * time.Second
}

// GetHealthInterval returns the health reporting interval as a Duration.
func (c *Config) GetHealthInterval() time.Duration {
	return time.Duration(c.Health.Interval) * time.Second
}

// GetInfluxWriteTimeout returns the InfluxDB write timeout as a Duration.
func (c *Config) GetInfluxWriteTimeout() time.Duration {
	return time.Duration(c.InfluxDB.WriteTimeout) * time.Second
}
