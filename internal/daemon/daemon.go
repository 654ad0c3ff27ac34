package daemon

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/nerrad567/velux-bridge/internal/bridge"
	"github.com/nerrad567/velux-bridge/internal/device"
	"github.com/nerrad567/velux-bridge/internal/infrastructure/config"
	"github.com/nerrad567/velux-bridge/internal/velux"
)

// commandTimeout bounds a single gateway command triggered from the bus.
const commandTimeout = 15 * time.Second

// discoveryTimeout bounds a full discovery round.
const discoveryTimeout = time.Minute

// Gateway is the daemon's view of the gateway session.
// Satisfied by *velux.Session.
type Gateway interface {
	Connect(ctx context.Context) error
	DiscoverDevices(ctx context.Context) ([]device.Device, error)
	DiscoverScenes(ctx context.Context) ([]device.Scene, error)
	SetPosition(ctx context.Context, nodeID, pct int) error
	Stop(ctx context.Context, nodeID int) error
	RunScene(ctx context.Context, sceneID int) error
	Refresh(ctx context.Context) error
	Reconnect(ctx context.Context) error
	Close() error
	State() velux.SessionState

	SetOnConnected(func())
	SetOnDisconnected(func(err error))
	SetOnDeviceChanged(func(d device.Device))
	SetOnDevicesDiscovered(func(devices []device.Device))
	SetOnScenesDiscovered(func(scenes []device.Scene))
}

// Bus is the daemon's view of the bus bridge.
// Satisfied by *bridge.Bridge.
type Bus interface {
	Start() error
	PublishStatus(status string) error
	PublishDevice(d device.Device) error
	PublishScene(s device.Scene) error
	PublishError(severity, component, message string, details any) error
	Close() error

	SetOnDeviceCommand(func(nodeID int, cmd bridge.Command))
	SetOnSceneCommand(func(sceneID int))
	SetOnGlobalCommand(func(cmd bridge.GlobalCommand))
}

// StatusAPI is an optional HTTP status server managed by the daemon.
// Satisfied by *api.Server.
type StatusAPI interface {
	Start() error
	Close() error

	// NotifyDeviceChanged feeds the WebSocket event stream.
	NotifyDeviceChanged(d device.Device)
}

// Logger is the logging interface used by the daemon.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options holds the daemon's collaborators. Everything is passed in at
// construction; the daemon holds no global state.
type Options struct {
	Config   *config.Config
	Logger   Logger
	Registry *device.Registry
	Gateway  Gateway
	Bus      Bus

	// API is optional; nil disables the status server.
	API StatusAPI
}

// Daemon orchestrates the bridge: startup, event wiring, the poll loop
// and graceful shutdown.
type Daemon struct {
	cfg      *config.Config
	logger   Logger
	registry *device.Registry
	gateway  Gateway
	bus      Bus
	api      StatusAPI

	pollStop chan struct{}
	wg       sync.WaitGroup
	stopOnce sync.Once
}

// New creates a daemon. Call Run to start it.
func New(opts Options) (*Daemon, error) {
	if opts.Config == nil {
		return nil, fmt.Errorf("daemon: config is required")
	}
	if opts.Registry == nil {
		return nil, fmt.Errorf("daemon: registry is required")
	}
	if opts.Gateway == nil {
		return nil, fmt.Errorf("daemon: gateway is required")
	}
	if opts.Bus == nil {
		return nil, fmt.Errorf("daemon: bus is required")
	}

	return &Daemon{
		cfg:      opts.Config,
		logger:   opts.Logger,
		registry: opts.Registry,
		gateway:  opts.Gateway,
		bus:      opts.Bus,
		api:      opts.API,
		pollStop: make(chan struct{}),
	}, nil
}

// Run starts the bridge and blocks until ctx is cancelled, then shuts
// down. The startup order is fixed: registry warm start, event wiring,
// bus (with online status), gateway, discovery, initial publication,
// poll loop, status API.
//
// Only the bus connection is fatal at this point; a gateway that cannot
// be reached keeps reconnecting on its backoff schedule while the bus
// side stays up.
func (d *Daemon) Run(ctx context.Context) error {
	// Warm start: last-known snapshot, devices marked offline until the
	// gateway confirms them.
	if err := d.registry.LoadSnapshot(); err != nil {
		d.logWarn("snapshot load failed", "error", err)
	}

	d.wire()

	if err := d.bus.Start(); err != nil {
		return fmt.Errorf("starting bus bridge: %w", err)
	}

	if err := d.gateway.Connect(ctx); err != nil {
		// Not fatal: the session retries on its backoff schedule.
		d.logError("gateway connect failed", err)
		d.reportError(bridge.SeverityError, "klf", "Connection failed", err.Error())
	} else if d.cfg.Features.AutoDiscovery {
		d.discover(ctx)
	}

	if d.cfg.Features.PublishOnStartup {
		d.publishAll()
	}

	if d.cfg.Polling.Enabled {
		d.wg.Add(1)
		go d.pollLoop()
	}

	if d.api != nil {
		if err := d.api.Start(); err != nil {
			d.logError("status API start failed", err)
		}
	}

	d.logInfo("bridge running",
		"prefix", d.cfg.MQTT.TopicPrefix,
		"gateway", d.cfg.KLF200.Host)

	<-ctx.Done()
	d.shutdown()
	return nil
}

// wire connects the event paths between collaborators.
func (d *Daemon) wire() {
	// Registry changes flow to the bus. The registry only fires this
	// when a semantic field changed, so equal updates publish nothing.
	d.registry.SetOnDeviceChanged(func(_ *device.Device, curr device.Device) {
		if err := d.bus.PublishDevice(curr); err != nil {
			d.logWarn("device publish failed", "node", curr.NodeID, "error", err)
		}
		if d.api != nil {
			d.api.NotifyDeviceChanged(curr)
		}
	})

	// Gateway events flow into the registry.
	d.gateway.SetOnDeviceChanged(func(dev device.Device) {
		if err := d.registry.Update(dev); err != nil {
			d.logWarn("registry update failed", "node", dev.NodeID, "error", err)
		}
	})
	d.gateway.SetOnDevicesDiscovered(func(devices []device.Device) {
		if err := d.registry.ReplaceAll(devices); err != nil {
			d.logWarn("registry replace failed", "error", err)
		}
	})
	d.gateway.SetOnScenesDiscovered(func(scenes []device.Scene) {
		if err := d.registry.SceneReplaceAll(scenes); err != nil {
			d.logWarn("scene replace failed", "error", err)
			return
		}
		for _, s := range scenes {
			if err := d.bus.PublishScene(s); err != nil {
				d.logWarn("scene publish failed", "scene", s.SceneID, "error", err)
			}
		}
	})

	d.gateway.SetOnConnected(func() {
		if err := d.bus.PublishStatus(bridge.StatusOnline); err != nil {
			d.logWarn("status publish failed", "error", err)
		}
	})
	d.gateway.SetOnDisconnected(func(err error) {
		// The status topic reflects the bridge process, not the gateway
		// session; the LWT covers process death. Only the error stream
		// records the lost session.
		detail := ""
		if err != nil {
			detail = err.Error()
		}
		d.reportError(bridge.SeverityError, "klf", "Connection lost", detail)
	})

	// Bus commands flow to the gateway.
	d.bus.SetOnDeviceCommand(d.handleDeviceCommand)
	d.bus.SetOnSceneCommand(d.handleSceneCommand)
	d.bus.SetOnGlobalCommand(d.handleGlobalCommand)
}

// discover runs one device and scene discovery round.
// The discovery callbacks populate the registry.
func (d *Daemon) discover(ctx context.Context) {
	ctx, cancel := context.WithTimeout(ctx, discoveryTimeout)
	defer cancel()

	if _, err := d.gateway.DiscoverDevices(ctx); err != nil {
		d.logError("device discovery failed", err)
		d.reportError(bridge.SeverityError, "klf", "Device discovery failed", err.Error())
	}
	if _, err := d.gateway.DiscoverScenes(ctx); err != nil {
		d.logError("scene discovery failed", err)
		d.reportError(bridge.SeverityError, "klf", "Scene discovery failed", err.Error())
	}
}

// publishAll publishes every known device and scene.
func (d *Daemon) publishAll() {
	for _, dev := range d.registry.List() {
		if err := d.bus.PublishDevice(dev); err != nil {
			d.logWarn("device publish failed", "node", dev.NodeID, "error", err)
		}
	}
	for _, s := range d.registry.Scenes() {
		if err := d.bus.PublishScene(s); err != nil {
			d.logWarn("scene publish failed", "scene", s.SceneID, "error", err)
		}
	}
}

// pollLoop re-queries all device states at the configured interval while
// the gateway is connected. The discovery callback feeds the registry,
// which publishes whatever actually changed.
func (d *Daemon) pollLoop() {
	defer d.wg.Done()

	interval := d.cfg.Polling.GetInterval()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	d.logInfo("poll loop started", "interval", interval)

	for {
		select {
		case <-d.pollStop:
			return
		case <-ticker.C:
			if d.gateway.State() != velux.StateConnected {
				continue
			}
			ctx, cancel := context.WithTimeout(context.Background(), discoveryTimeout)
			if _, err := d.gateway.DiscoverDevices(ctx); err != nil {
				if !errors.Is(err, velux.ErrNotConnected) {
					d.logWarn("poll failed", "error", err)
				}
			}
			cancel()
		}
	}
}

// handleDeviceCommand translates one bus command into a gateway call.
func (d *Daemon) handleDeviceCommand(nodeID int, cmd bridge.Command) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	var err error
	switch cmd.Kind {
	case bridge.CommandOpen:
		err = d.gateway.SetPosition(ctx, nodeID, 100)
	case bridge.CommandClose:
		err = d.gateway.SetPosition(ctx, nodeID, 0)
	case bridge.CommandStop:
		err = d.gateway.Stop(ctx, nodeID)
	case bridge.CommandPosition:
		err = d.gateway.SetPosition(ctx, nodeID, cmd.Position)
	}

	if err != nil {
		d.logWarn("device command failed",
			"node", nodeID, "command", cmd.Kind.String(), "error", err)
		d.reportError(bridge.SeverityError, "klf",
			fmt.Sprintf("Command %s failed for node %d", cmd.Kind, nodeID), err.Error())
		return
	}
	d.logDebug("device command dispatched", "node", nodeID, "command", cmd.Kind.String())
}

// handleSceneCommand triggers a scene run.
func (d *Daemon) handleSceneCommand(sceneID int) {
	ctx, cancel := context.WithTimeout(context.Background(), commandTimeout)
	defer cancel()

	if err := d.gateway.RunScene(ctx, sceneID); err != nil {
		d.logWarn("scene command failed", "scene", sceneID, "error", err)
		d.reportError(bridge.SeverityError, "klf",
			fmt.Sprintf("Scene %d failed", sceneID), err.Error())
		return
	}
	d.logDebug("scene dispatched", "scene", sceneID)
}

// handleGlobalCommand handles refresh and reconnect.
// A requested reconnect does not flip the status topic to offline; the
// operator asked for a new session, not a bridge restart.
func (d *Daemon) handleGlobalCommand(cmd bridge.GlobalCommand) {
	ctx, cancel := context.WithTimeout(context.Background(), discoveryTimeout)
	defer cancel()

	switch cmd {
	case bridge.GlobalRefresh:
		if err := d.gateway.Refresh(ctx); err != nil {
			d.logWarn("refresh failed", "error", err)
			d.reportError(bridge.SeverityError, "klf", "Refresh failed", err.Error())
		}
	case bridge.GlobalReconnect:
		if err := d.gateway.Reconnect(ctx); err != nil {
			d.logWarn("reconnect failed", "error", err)
			d.reportError(bridge.SeverityError, "klf", "Reconnect failed", err.Error())
			return
		}
		if d.cfg.Features.AutoDiscovery {
			d.discover(ctx)
		}
	}
}

// reportError publishes to the error stream, logging a failed publish.
func (d *Daemon) reportError(severity, component, message, details string) {
	var detailsAny any
	if details != "" {
		detailsAny = details
	}
	if err := d.bus.PublishError(severity, component, message, detailsAny); err != nil {
		d.logWarn("error publish failed", "error", err)
	}
}

// shutdown tears the bridge down in reverse startup order. Every step
// tolerates an already-closed collaborator; shutdown always completes.
func (d *Daemon) shutdown() {
	d.stopOnce.Do(func() {
		d.logInfo("shutting down")

		close(d.pollStop)
		d.wg.Wait()

		if d.api != nil {
			if err := d.api.Close(); err != nil {
				d.logWarn("status API close failed", "error", err)
			}
		}

		if err := d.gateway.Close(); err != nil {
			d.logWarn("gateway close failed", "error", err)
		}

		// Publishes the retained offline status before disconnecting.
		if err := d.bus.Close(); err != nil {
			d.logWarn("bus close failed", "error", err)
		}

		if err := d.registry.Close(); err != nil {
			d.logWarn("registry close failed", "error", err)
		}

		d.logInfo("shutdown complete")
	})
}

func (d *Daemon) logDebug(msg string, keysAndValues ...any) {
	if d.logger != nil {
		d.logger.Debug(msg, keysAndValues...)
	}
}

func (d *Daemon) logInfo(msg string, keysAndValues ...any) {
	if d.logger != nil {
		d.logger.Info(msg, keysAndValues...)
	}
}

func (d *Daemon) logWarn(msg string, keysAndValues ...any) {
	if d.logger != nil {
		d.logger.Warn(msg, keysAndValues...)
	}
}

func (d *Daemon) logError(msg string, err error) {
	if d.logger != nil {
		d.logger.Error(msg, "error", err)
	}
}
