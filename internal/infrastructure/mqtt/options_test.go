package mqtt

import (
	"testing"

	"github.com/nerrad567/velux-bridge/internal/infrastructure/config"
)

func TestBuildClientOptionsPlain(t *testing.T) {
	opts := buildClientOptions(Options{
		Broker:   config.BrokerConfig{Host: "localhost", Port: 1883},
		ClientID: "klf200-plugin-1",
	})

	if len(opts.Servers) != 1 {
		t.Fatalf("servers = %d, want 1", len(opts.Servers))
	}
	if got := opts.Servers[0].String(); got != "tcp://localhost:1883" {
		t.Errorf("broker URL = %q, want tcp://localhost:1883", got)
	}
	if opts.ClientID != "klf200-plugin-1" {
		t.Errorf("client ID = %q", opts.ClientID)
	}
	if opts.Username != "" {
		t.Errorf("username = %q, want empty for anonymous broker", opts.Username)
	}
	if !opts.AutoReconnect || !opts.CleanSession {
		t.Error("auto-reconnect and clean session must be enabled")
	}
	if opts.WillEnabled {
		t.Error("will must be off unless configured")
	}
}

func TestBuildClientOptionsTLSAndAuth(t *testing.T) {
	opts := buildClientOptions(Options{
		Broker: config.BrokerConfig{
			Host:     "broker.lan",
			Port:     8883,
			Username: "u",
			Password: "s",
			TLS:      true,
		},
		ClientID: "klf200-plugin-2",
	})

	if got := opts.Servers[0].Scheme; got != "ssl" {
		t.Errorf("scheme = %q, want ssl", got)
	}
	if opts.Username != "u" || opts.Password != "s" {
		t.Error("credentials not applied")
	}
	if opts.TLSConfig == nil || opts.TLSConfig.MinVersion != tlsMinVersion {
		t.Error("TLS config not applied")
	}
}

func TestBuildClientOptionsWill(t *testing.T) {
	opts := buildClientOptions(Options{
		Broker:   config.BrokerConfig{Host: "localhost", Port: 1883},
		ClientID: "klf200-plugin-3",
		Will: &Will{
			Topic:    "klf200/status",
			Payload:  "offline",
			QoS:      1,
			Retained: true,
		},
	})

	if !opts.WillEnabled {
		t.Fatal("will not enabled")
	}
	if opts.WillTopic != "klf200/status" || string(opts.WillPayload) != "offline" {
		t.Errorf("will = %q %q", opts.WillTopic, opts.WillPayload)
	}
	if opts.WillQos != 1 || !opts.WillRetained {
		t.Error("will QoS/retain not applied")
	}
}
