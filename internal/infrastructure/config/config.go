package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for heatpump-link.
// All configuration is loaded from YAML and can be overridden by environment variables.
type Config struct {
	MQTT    MQTTConfig    `yaml:"mqtt"`
	Serial  SerialConfig  `yaml:"serial"`
	Poll    PollConfig    `yaml:"poll"`
	API     APIConfig     `yaml:"api"`
	Logging LoggingConfig `yaml:"logging"`
}

// MQTTConfig contains MQTT broker connection settings.
type MQTTConfig struct {
	Broker    MQTTBrokerConfig    `yaml:"broker"`
	Auth      MQTTAuthConfig      `yaml:"auth"`
	QoS       int                 `yaml:"qos"`
	Reconnect MQTTReconnectConfig `yaml:"reconnect"`

	// KeepAlive is the MQTT keepalive interval.
	// Default: 1.5x the poll interval.
	KeepAlive time.Duration `yaml:"keepalive"`

	// TopicPrefix is prepended verbatim to every published and subscribed topic
	// (e.g. "home/" gives "home/house/actual_temp").
	TopicPrefix string `yaml:"topic_prefix"`
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

// SerialConfig contains the heat pump controller's serial line settings.
type SerialConfig struct {
	// Port is the platform-dependent device path (e.g. "/dev/ttyS0", "COM3").
	Port string `yaml:"port"`

	// Baud is the line speed. The controller only speaks 19200 8N1.
	Baud int `yaml:"baud"`

	// ResponseTimeout bounds the wait for a response terminator.
	// Default: 2s
	ResponseTimeout time.Duration `yaml:"response_timeout"`

	// MaxResponseBytes bounds the response length before the line is
	// considered stuck.
	// Default: 32
	MaxResponseBytes int `yaml:"max_response_bytes"`
}

// PollConfig contains poll scheduler settings.
type PollConfig struct {
	// Interval is the fixed period between poll cycles, in whole seconds.
	// Default: 10s
	Interval time.Duration `yaml:"interval"`

	// PhaseOffset shifts the poll grid so that (seconds + offset) mod interval == 0.
	// Default: 5s
	PhaseOffset time.Duration `yaml:"phase_offset"`

	// SleepSlice bounds each sleep between cycles so cancellation is observed promptly.
	// Default: 100ms
	SleepSlice time.Duration `yaml:"sleep_slice"`

	// Cycles stops the scheduler after this many cycles. 0 means run until cancelled.
	Cycles int `yaml:"cycles"`

	// QuietWindow is avoided before the first request on a freshly opened line.
	QuietWindow QuietWindowConfig `yaml:"quiet_window"`
}

// QuietWindowConfig describes the controller's own communication slot
// around the top of each minute.
type QuietWindowConfig struct {
	// Lead is how long before the minute boundary the window opens.
	// Default: 2s
	Lead time.Duration `yaml:"lead"`

	// Width is the total length of the window.
	// Default: 5s
	Width time.Duration `yaml:"width"`
}

// APIConfig contains HTTP API server settings.
type APIConfig struct {
	Enabled   bool             `yaml:"enabled"`
	Host      string           `yaml:"host"`
	Port      int              `yaml:"port"`
	Timeouts  APITimeoutConfig `yaml:"timeouts"`
	WebSocket WebSocketConfig  `yaml:"websocket"`
}

// WebSocketConfig contains settings for the live value stream.
type WebSocketConfig struct {
	MaxMessageSize int `yaml:"max_message_size"`
	PingInterval   int `yaml:"ping_interval"`
	PongTimeout    int `yaml:"pong_timeout"`
}

// APITimeoutConfig contains HTTP timeout settings.
type APITimeoutConfig struct {
	Read  int `yaml:"read"`
	Write int `yaml:"write"`
	Idle  int `yaml:"idle"`
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
//  2. YAML file values (override defaults)
//  3. Environment variables (override file values)
//
// Environment variables follow the pattern: HEATPUMP_SECTION_KEY
// For example: HEATPUMP_SERIAL_PORT, HEATPUMP_MQTT_HOST
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
	applyDerivedDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Default returns the built-in configuration with environment overrides
// applied. Used when no config file is present.
func Default() (*Config, error) {
	cfg := defaultConfig()
	applyEnvOverrides(cfg)
	applyDerivedDefaults(cfg)

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}
	return cfg, nil
}

// defaultConfig returns a Config with sensible defaults.
func defaultConfig() *Config {
	return &Config{
		MQTT: MQTTConfig{
			Broker: MQTTBrokerConfig{
				Host:     "localhost",
				Port:     1883,
				ClientID: "heatpump-link",
			},
			QoS: 1,
			Reconnect: MQTTReconnectConfig{
				InitialDelay: 1,
				MaxDelay:     60,
			},
		},
		Serial: SerialConfig{
			Port:             "/dev/ttyS0",
			Baud:             19200,
			ResponseTimeout:  2 * time.Second,
			MaxResponseBytes: 32,
		},
		Poll: PollConfig{
			Interval:    10 * time.Second,
			PhaseOffset: 5 * time.Second,
			SleepSlice:  100 * time.Millisecond,
			QuietWindow: QuietWindowConfig{
				Lead:  2 * time.Second,
				Width: 5 * time.Second,
			},
		},
		API: APIConfig{
			Host: "0.0.0.0",
			Port: 9110,
			Timeouts: APITimeoutConfig{
				Read:  10,
				Write: 10,
				Idle:  60,
			},
			WebSocket: WebSocketConfig{
				MaxMessageSize: 4096,
				PingInterval:   30,
				PongTimeout:    10,
			},
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
	// MQTT
	if v := os.Getenv("HEATPUMP_MQTT_HOST"); v != "" {
		cfg.MQTT.Broker.Host = v
	}
	if v := os.Getenv("HEATPUMP_MQTT_USERNAME"); v != "" {
		cfg.MQTT.Auth.Username = v
	}
	if v := os.Getenv("HEATPUMP_MQTT_PASSWORD"); v != "" {
		cfg.MQTT.Auth.Password = v
	}
	if v, ok := os.LookupEnv("HEATPUMP_TOPIC_PREFIX"); ok {
		cfg.MQTT.TopicPrefix = v
	}

	// Serial
	if v := os.Getenv("HEATPUMP_SERIAL_PORT"); v != "" {
		cfg.Serial.Port = v
	}
}

// applyDerivedDefaults fills settings whose defaults depend on other settings.
func applyDerivedDefaults(cfg *Config) {
	if cfg.MQTT.KeepAlive == 0 {
		cfg.MQTT.KeepAlive = cfg.Poll.Interval + cfg.Poll.Interval/2
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	// MQTT validation
	if c.MQTT.Broker.Host == "" {
		errs = append(errs, "mqtt.broker.host is required")
	}
	if c.MQTT.Broker.Port < 1 || c.MQTT.Broker.Port > 65535 {
		errs = append(errs, "mqtt.broker.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if strings.ContainsAny(c.MQTT.TopicPrefix, "+#") {
		errs = append(errs, "mqtt.topic_prefix must not contain wildcards")
	}

	// Serial validation
	if c.Serial.Port == "" {
		errs = append(errs, "serial.port is required")
	}
	if c.Serial.Baud <= 0 {
		errs = append(errs, "serial.baud must be positive")
	}
	if c.Serial.ResponseTimeout <= 0 {
		errs = append(errs, "serial.response_timeout must be positive")
	}
	if c.Serial.MaxResponseBytes < 2 {
		errs = append(errs, "serial.max_response_bytes must be at least 2")
	}

	// Poll validation
	if c.Poll.Interval < time.Second || c.Poll.Interval%time.Second != 0 {
		errs = append(errs, "poll.interval must be a whole number of seconds")
	}
	if c.Poll.PhaseOffset < 0 || c.Poll.PhaseOffset%time.Second != 0 ||
		(c.Poll.Interval > 0 && c.Poll.PhaseOffset >= c.Poll.Interval) {
		errs = append(errs, "poll.phase_offset must be whole seconds and less than poll.interval")
	}
	if c.Poll.SleepSlice <= 0 || c.Poll.SleepSlice > c.Poll.Interval {
		errs = append(errs, "poll.sleep_slice must be positive and no longer than poll.interval")
	}
	if c.Poll.Cycles < 0 {
		errs = append(errs, "poll.cycles must not be negative")
	}
	if c.Poll.QuietWindow.Lead < 0 || c.Poll.QuietWindow.Width < 0 ||
		c.Poll.QuietWindow.Width >= time.Minute {
		errs = append(errs, "poll.quiet_window must be non-negative and shorter than a minute")
	}

	// API validation
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}
	if c.API.Enabled && (c.API.WebSocket.PingInterval < 1 || c.API.WebSocket.PongTimeout < 1) {
		errs = append(errs, "api.websocket.ping_interval and pong_timeout must be positive")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}

	return nil
}

// ReadTimeout returns the API read timeout as a Duration.
func (c APIConfig) ReadTimeout() time.Duration {
	return time.Duration(c.Timeouts.Read) * time.Second
}

// WriteTimeout returns the API write timeout as a Duration.
func (c APIConfig) WriteTimeout() time.Duration {
	return time.Duration(c.Timeouts.Write) * time.Second
}

// IdleTimeout returns the API idle timeout as a Duration.
func (c APIConfig) IdleTimeout() time.Duration {
	return time.Duration(c.Timeouts.Idle) * time.Second
}
