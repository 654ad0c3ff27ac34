package mqtt

import (
	"crypto/tls"
	"fmt"
	"time"

	pahomqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/nerrad567/velux-bridge/internal/infrastructure/config"
)

// Connection constants.
const (
	// defaultConnectTimeout is the maximum time to wait for initial connection.
	defaultConnectTimeout = 10 * time.Second

	// defaultPublishTimeout is the maximum time to wait for publish acknowledgment.
	defaultPublishTimeout = 5 * time.Second

	// defaultDisconnectQuiesce is the time to wait for pending operations on disconnect.
	defaultDisconnectQuiesce = 1000 // milliseconds

	// defaultKeepAlive is the keepalive interval for the connection.
	defaultKeepAlive = 60 * time.Second

	// reconnectInitialDelay and reconnectMaxDelay bound the paho
	// auto-reconnect backoff.
	reconnectInitialDelay = time.Second
	reconnectMaxDelay     = time.Minute

	// maxQoS is the maximum QoS level supported.
	maxQoS = 2

	// tlsMinVersion is the minimum TLS version for secure connections.
	tlsMinVersion = tls.VersionTLS12
)

// Will describes the Last Will and Testament registered with the broker.
// The broker publishes it on the client's behalf when the connection drops
// without a clean disconnect.
type Will struct {
	Topic    string
	Payload  string
	QoS      byte
	Retained bool
}

// Options holds everything needed to connect to the broker.
type Options struct {
	// Broker is the operator-provided broker coordinates.
	Broker config.BrokerConfig

	// ClientID identifies this client to the broker. Must be unique per
	// run; brokers disconnect the older of two clients sharing an ID.
	ClientID string

	// Will is the optional Last Will and Testament.
	Will *Will
}

// buildClientOptions creates paho MQTT options from bridge options.
//
// This configures:
//   - Broker URL (tcp:// or ssl:// based on TLS setting)
//   - Client ID and credentials
//   - Auto-reconnect with exponential backoff
//   - Clean session mode
//   - The Last Will and Testament, if provided
func buildClientOptions(o Options) *pahomqtt.ClientOptions {
	opts := pahomqtt.NewClientOptions()

	scheme := "tcp"
	if o.Broker.TLS {
		scheme = "ssl"
	}
	opts.AddBroker(fmt.Sprintf("%s://%s:%d", scheme, o.Broker.Host, o.Broker.Port))

	opts.SetClientID(o.ClientID)

	if o.Broker.Username != "" {
		opts.SetUsername(o.Broker.Username)
		opts.SetPassword(o.Broker.Password)
	}

	// Clean session - start fresh on connect (no persistent session on broker)
	opts.SetCleanSession(true)

	// Auto-reconnect with exponential backoff
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(reconnectInitialDelay)
	opts.SetMaxReconnectInterval(reconnectMaxDelay)

	opts.SetConnectTimeout(defaultConnectTimeout)

	// Keepalive - broker PINGs detect dead connections
	opts.SetKeepAlive(defaultKeepAlive)

	if o.Broker.TLS {
		opts.SetTLSConfig(&tls.Config{
			MinVersion: tlsMinVersion,
		})
	}

	if o.Will != nil {
		opts.SetWill(o.Will.Topic, o.Will.Payload, o.Will.QoS, o.Will.Retained)
	}

	return opts
}
