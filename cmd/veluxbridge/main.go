// veluxbridge connects a Velux KLF200 gateway to an MQTT broker.
//
// It holds one authenticated TLS session to the gateway, mirrors actuator
// and scene state onto retained bus topics, and translates bus commands
// back into gateway commands.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/nerrad567/velux-bridge/internal/api"
	"github.com/nerrad567/velux-bridge/internal/bridge"
	"github.com/nerrad567/velux-bridge/internal/daemon"
	"github.com/nerrad567/velux-bridge/internal/device"
	"github.com/nerrad567/velux-bridge/internal/infrastructure/config"
	"github.com/nerrad567/velux-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/velux-bridge/internal/infrastructure/mqtt"
	"github.com/nerrad567/velux-bridge/internal/velux"
)

// Version information - set at build time via ldflags
// Example: go build -ldflags "-X main.version=1.0.0 -X main.commit=abc123"
var (
	version = "dev"
	commit  = "unknown"
)

var (
	configPath string
	brokerPath string
)

var rootCmd = &cobra.Command{
	Use:   "veluxbridge",
	Short: "Bridge between a Velux KLF200 gateway and an MQTT broker",
	RunE: func(cmd *cobra.Command, _ []string) error {
		cmd.SilenceUsage = true
		return run()
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the version number of veluxbridge",
	Run: func(*cobra.Command, []string) {
		fmt.Printf("veluxbridge %s (%s)\n", version, commit)
	},
}

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c",
		"/etc/veluxbridge/config.json", "path to the configuration file")
	rootCmd.PersistentFlags().StringVar(&brokerPath, "broker",
		config.DefaultBrokerPath, "path to the operator broker file")
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

// run assembles the bridge and blocks until a termination signal.
// Configuration problems abort here, before any external connection.
func run() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	broker, err := config.LoadBroker(brokerPath)
	if err != nil {
		return err
	}

	logger := logging.New(cfg.Logging, version)
	logger.Info("starting veluxbridge", "version", version, "commit", commit)

	// Live log-level reload on config rewrite.
	watcher, err := logging.NewWatcher(configPath, logger)
	if err != nil {
		logger.Warn("config watcher unavailable", "error", err)
	} else {
		if err := watcher.Start(); err != nil {
			logger.Warn("config watcher failed to start", "error", err)
		} else {
			defer watcher.Close()
		}
	}

	registry := device.NewRegistry(filepath.Join(cfg.DataDir, "devices.json"))
	registry.SetLogger(logger.With("component", "registry"))

	// Bus side.
	topics := bridge.Topics{Prefix: cfg.MQTT.TopicPrefix}
	client, err := mqtt.Connect(mqtt.Options{
		Broker:   broker,
		ClientID: bridge.NewClientID(cfg.MQTT.TopicPrefix),
		Will: &mqtt.Will{
			Topic:    topics.Status(),
			Payload:  bridge.StatusOffline,
			QoS:      byte(cfg.MQTT.QoS),
			Retained: true,
		},
	})
	if err != nil {
		return fmt.Errorf("connecting to broker %s:%d: %w", broker.Host, broker.Port, err)
	}
	client.SetLogger(logger.With("component", "mqtt"))

	bus, err := bridge.New(bridge.Options{
		Client:      client,
		TopicPrefix: cfg.MQTT.TopicPrefix,
		QoS:         byte(cfg.MQTT.QoS),
		Retain:      cfg.MQTT.Retain,
		Logger:      logger.With("component", "bridge"),
	})
	if err != nil {
		return err
	}

	// Gateway side.
	session := velux.NewSession(velux.SessionConfig{
		Host:              cfg.KLF200.Host,
		Port:              cfg.KLF200.Port,
		Password:          cfg.KLF200.Password,
		Fingerprint:       cfg.KLF200.Fingerprint(),
		ConnectTimeout:    cfg.KLF200.GetConnectionTimeout(),
		KeepaliveInterval: cfg.KLF200.GetKeepaliveInterval(),
		ReconnectBase:     cfg.KLF200.GetReconnectBaseDelay(),
		ReconnectMax:      cfg.KLF200.GetReconnectMaxDelay(),
	})
	session.SetLogger(logger.With("component", "klf200"))

	// Optional status API.
	var statusAPI daemon.StatusAPI
	if cfg.API.Enabled {
		statusAPI = api.New(api.Deps{
			Config:       cfg.API,
			Logger:       logger.With("component", "api"),
			Registry:     registry,
			SessionStats: session.Stats,
			BusConnected: client.IsConnected,
			Version:      version,
		})
	}

	d, err := daemon.New(daemon.Options{
		Config:   cfg,
		Logger:   logger.With("component", "daemon"),
		Registry: registry,
		Gateway:  session,
		Bus:      bus,
		API:      statusAPI,
	})
	if err != nil {
		return err
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	return d.Run(ctx)
}
