package config

import (
	"encoding/json"
	"fmt"
	"os"
)

// DefaultBrokerPath is the operator-maintained broker file. The bridge
// shares its broker with other services on the host, so credentials live
// outside the bridge's own configuration.
const DefaultBrokerPath = "/etc/veluxbridge/broker.json"

// BrokerConfig holds message-bus broker coordinates.
type BrokerConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	TLS      bool   `json:"tls"`
}

// defaultBroker is the fallback when no operator file exists:
// an anonymous local broker.
func defaultBroker() BrokerConfig {
	return BrokerConfig{
		Host: "localhost",
		Port: 1883,
	}
}

// LoadBroker reads the operator broker file.
//
// A missing file is not an error; the default anonymous localhost broker
// is returned instead. A present but unreadable or malformed file is an
// error: silently ignoring a broken operator file would strand the bridge
// on the wrong broker.
func LoadBroker(path string) (BrokerConfig, error) {
	if path == "" {
		path = DefaultBrokerPath
	}

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return defaultBroker(), nil
		}
		return BrokerConfig{}, fmt.Errorf("reading broker file: %w", err)
	}

	broker := defaultBroker()
	if err := json.Unmarshal(data, &broker); err != nil {
		return BrokerConfig{}, fmt.Errorf("parsing broker file: %w", err)
	}
	if broker.Host == "" {
		broker.Host = "localhost"
	}
	if broker.Port == 0 {
		broker.Port = 1883
	}
	return broker, nil
}
