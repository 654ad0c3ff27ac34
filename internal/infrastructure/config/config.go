package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the root configuration structure for the bridge.
type Config struct {
	KLF200   KLF200Config   `json:"klf200" yaml:"klf200"`
	MQTT     MQTTConfig     `json:"mqtt" yaml:"mqtt"`
	Polling  PollingConfig  `json:"polling" yaml:"polling"`
	Features FeaturesConfig `json:"features" yaml:"features"`
	Logging  LoggingConfig  `json:"logging" yaml:"logging"`
	API      APIConfig      `json:"api" yaml:"api"`
	DataDir  string         `json:"dataDir" yaml:"dataDir"`
}

// KLF200Config contains gateway connection settings.
// Durations are expressed in milliseconds, matching the file format the
// original deployments use.
type KLF200Config struct {
	Host               string  `json:"host" yaml:"host"`
	Password           string  `json:"password" yaml:"password"`
	Port               int     `json:"port" yaml:"port"`
	TLSFingerprint     *string `json:"tlsFingerprint" yaml:"tlsFingerprint"`
	ConnectionTimeout  int     `json:"connectionTimeout" yaml:"connectionTimeout"`
	KeepaliveInterval  int     `json:"keepaliveInterval" yaml:"keepaliveInterval"`
	ReconnectBaseDelay int     `json:"reconnectBaseDelay" yaml:"reconnectBaseDelay"`
	ReconnectMaxDelay  int     `json:"reconnectMaxDelay" yaml:"reconnectMaxDelay"`
}

// MQTTConfig contains bus-facing settings. Broker coordinates come from
// the operator file, not from here.
type MQTTConfig struct {
	TopicPrefix string `json:"topicPrefix" yaml:"topicPrefix"`
	Retain      bool   `json:"retain" yaml:"retain"`
	QoS         int    `json:"qos" yaml:"qos"`
}

// PollingConfig contains the periodic state poll settings.
type PollingConfig struct {
	Enabled  bool `json:"enabled" yaml:"enabled"`
	Interval int  `json:"interval" yaml:"interval"` // milliseconds
}

// FeaturesConfig toggles optional behaviour.
type FeaturesConfig struct {
	AutoDiscovery    bool `json:"autoDiscovery" yaml:"autoDiscovery"`
	PublishOnStartup bool `json:"publishOnStartup" yaml:"publishOnStartup"`
	// HomeAssistantDiscovery is accepted and validated but currently
	// unused by the core.
	HomeAssistantDiscovery bool `json:"homeAssistantDiscovery" yaml:"homeAssistantDiscovery"`
}

// LoggingConfig contains logging settings.
type LoggingConfig struct {
	Level    string `json:"level" yaml:"level"`
	Format   string `json:"format" yaml:"format"`
	Output   string `json:"output" yaml:"output"`
	MaxFiles int    `json:"maxFiles" yaml:"maxFiles"`
	MaxSize  int    `json:"maxSize" yaml:"maxSize"` // megabytes
}

// APIConfig contains the read-only status API settings.
type APIConfig struct {
	Enabled bool   `json:"enabled" yaml:"enabled"`
	Host    string `json:"host" yaml:"host"`
	Port    int    `json:"port" yaml:"port"`
}

// Load reads configuration from a file and applies environment overrides.
//
// Files ending in .yaml or .yml parse as YAML; everything else parses as
// JSON. Loading order: defaults, file values, environment variables,
// then validation.
func Load(path string) (*Config, error) {
	cfg := defaultConfig()

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parsing config file: %w", err)
		}
	default:
		if err := json.Unmarshal(data, cfg); err != nil {
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
		KLF200: KLF200Config{
			Port:               51200,
			ConnectionTimeout:  10_000,
			KeepaliveInterval:  600_000,
			ReconnectBaseDelay: 5_000,
			ReconnectMaxDelay:  60_000,
		},
		MQTT: MQTTConfig{
			TopicPrefix: "klf200",
			Retain:      true,
			QoS:         1,
		},
		Polling: PollingConfig{
			Enabled:  true,
			Interval: 60_000,
		},
		Features: FeaturesConfig{
			AutoDiscovery:    true,
			PublishOnStartup: true,
		},
		Logging: LoggingConfig{
			Level:    "info",
			Format:   "json",
			Output:   "stdout",
			MaxFiles: 3,
			MaxSize:  10,
		},
		API: APIConfig{
			Enabled: false,
			Host:    "127.0.0.1",
			Port:    8123,
		},
		DataDir: "./data",
	}
}

// applyEnvOverrides applies environment variable overrides.
// Variables follow the pattern VELUXBRIDGE_SECTION_KEY.
func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("VELUXBRIDGE_KLF200_HOST"); v != "" {
		cfg.KLF200.Host = v
	}
	if v := os.Getenv("VELUXBRIDGE_KLF200_PASSWORD"); v != "" {
		cfg.KLF200.Password = v
	}
	if v := os.Getenv("VELUXBRIDGE_KLF200_PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.KLF200.Port = port
		}
	}
	if v := os.Getenv("VELUXBRIDGE_MQTT_TOPIC_PREFIX"); v != "" {
		cfg.MQTT.TopicPrefix = v
	}
	if v := os.Getenv("VELUXBRIDGE_LOGGING_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("VELUXBRIDGE_DATA_DIR"); v != "" {
		cfg.DataDir = v
	}
}

// Validate checks the configuration for errors.
//
// Returns:
//   - error: Description of every validation failure, or nil if valid
func (c *Config) Validate() error {
	var errs []string

	if c.KLF200.Host == "" {
		errs = append(errs, "klf200.host is required")
	}
	if c.KLF200.Password == "" {
		errs = append(errs, "klf200.password is required")
	}
	if c.KLF200.Port < 1 || c.KLF200.Port > 65535 {
		errs = append(errs, "klf200.port must be between 1 and 65535")
	}
	if c.MQTT.QoS < 0 || c.MQTT.QoS > 2 {
		errs = append(errs, "mqtt.qos must be 0, 1, or 2")
	}
	if c.MQTT.TopicPrefix == "" {
		errs = append(errs, "mqtt.topicPrefix must not be empty")
	}
	if c.Polling.Enabled && c.Polling.Interval < 1000 {
		errs = append(errs, "polling.interval must be at least 1000 ms")
	}
	if c.API.Enabled && (c.API.Port < 1 || c.API.Port > 65535) {
		errs = append(errs, "api.port must be between 1 and 65535")
	}

	if len(errs) > 0 {
		return fmt.Errorf("configuration errors: %s", strings.Join(errs, "; "))
	}
	return nil
}

// Fingerprint returns the configured TLS fingerprint or empty.
func (c *KLF200Config) Fingerprint() string {
	if c.TLSFingerprint == nil {
		return ""
	}
	return *c.TLSFingerprint
}

// GetConnectionTimeout returns the gateway connect timeout as a Duration.
func (c *KLF200Config) GetConnectionTimeout() time.Duration {
	return time.Duration(c.ConnectionTimeout) * time.Millisecond
}

// GetKeepaliveInterval returns the keepalive interval as a Duration.
func (c *KLF200Config) GetKeepaliveInterval() time.Duration {
	return time.Duration(c.KeepaliveInterval) * time.Millisecond
}

// GetReconnectBaseDelay returns the first reconnect delay as a Duration.
func (c *KLF200Config) GetReconnectBaseDelay() time.Duration {
	return time.Duration(c.ReconnectBaseDelay) * time.Millisecond
}

// GetReconnectMaxDelay returns the reconnect delay cap as a Duration.
func (c *KLF200Config) GetReconnectMaxDelay() time.Duration {
	return time.Duration(c.ReconnectMaxDelay) * time.Millisecond
}

// GetInterval returns the poll interval as a Duration.
func (c *PollingConfig) GetInterval() time.Duration {
	return time.Duration(c.Interval) * time.Millisecond
}
