package bridge

import (
	"fmt"
	"strconv"
	"sync"

	"github.com/nerrad567/velux-bridge/internal/device"
	"github.com/nerrad567/velux-bridge/internal/infrastructure/mqtt"
)

// MQTTClient is the interface the bridge needs from the bus client.
// Satisfied by *mqtt.Client; mocked in tests.
type MQTTClient interface {
	// Publish sends a message to a topic.
	Publish(topic string, payload []byte, qos byte, retained bool) error

	// Subscribe registers a handler for a topic pattern.
	Subscribe(topic string, qos byte, handler mqtt.MessageHandler) error

	// IsConnected returns true if connected to the broker.
	IsConnected() bool

	// Close disconnects from the broker.
	Close() error
}

// Logger is the logging interface used by the bridge.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// Options holds configuration for creating a bridge.
type Options struct {
	// Client is the connected bus client.
	Client MQTTClient

	// TopicPrefix is the root of the topic map.
	TopicPrefix string

	// QoS for every publish and subscription.
	QoS byte

	// Retain controls retention of device and scene state topics.
	// Status is always retained regardless.
	Retain bool

	// Logger is an optional structured logger.
	Logger Logger
}

// Bridge owns the bus session: command subscriptions, payload parsing and
// retained publication of device, scene and status topics.
//
// Thread Safety: all methods are safe for concurrent use. Publishes may be
// concurrent; ordering per topic is preserved by the underlying client.
type Bridge struct {
	client MQTTClient
	topics Topics
	qos    byte
	retain bool

	onDeviceCommand func(nodeID int, cmd Command)
	onSceneCommand  func(sceneID int)
	onGlobalCommand func(cmd GlobalCommand)
	callbackMu      sync.RWMutex

	logger Logger
}

// New creates a bridge over a connected client.
func New(opts Options) (*Bridge, error) {
	if opts.Client == nil {
		return nil, fmt.Errorf("bridge: client is required")
	}
	if opts.TopicPrefix == "" {
		return nil, fmt.Errorf("bridge: topic prefix is required")
	}
	return &Bridge{
		client: opts.Client,
		topics: Topics{Prefix: opts.TopicPrefix},
		qos:    opts.QoS,
		retain: opts.Retain,
		logger: opts.Logger,
	}, nil
}

// Topics returns the bridge's topic map.
func (b *Bridge) Topics() Topics {
	return b.topics
}

// SetOnDeviceCommand registers the device command callback.
func (b *Bridge) SetOnDeviceCommand(callback func(nodeID int, cmd Command)) {
	b.callbackMu.Lock()
	b.onDeviceCommand = callback
	b.callbackMu.Unlock()
}

// SetOnSceneCommand registers the scene command callback.
func (b *Bridge) SetOnSceneCommand(callback func(sceneID int)) {
	b.callbackMu.Lock()
	b.onSceneCommand = callback
	b.callbackMu.Unlock()
}

// SetOnGlobalCommand registers the global command callback.
func (b *Bridge) SetOnGlobalCommand(callback func(cmd GlobalCommand)) {
	b.callbackMu.Lock()
	b.onGlobalCommand = callback
	b.callbackMu.Unlock()
}

// Start subscribes to the inbound command topics and publishes the online
// status. Subscriptions survive broker reconnects; the client re-establishes
// them with the same options.
func (b *Bridge) Start() error {
	for _, pattern := range []string{
		b.topics.DeviceCmdPattern(),
		b.topics.PositionSetPattern(),
		b.topics.SceneCmdPattern(),
		b.topics.GlobalCmd(),
	} {
		if err := b.client.Subscribe(pattern, b.qos, b.handleMessage); err != nil {
			return fmt.Errorf("subscribe %s: %w", pattern, err)
		}
	}

	if err := b.PublishStatus(StatusOnline); err != nil {
		return err
	}

	b.logInfo("bus bridge started", "prefix", b.topics.Prefix)
	return nil
}

// PublishStatus publishes the bridge status, retained.
// The status topic reflects the bridge process, not the gateway session.
func (b *Bridge) PublishStatus(status string) error {
	return b.client.Publish(b.topics.Status(), []byte(status), b.qos, true)
}

// PublishDevice publishes the three retained topics for one device:
// the state document, the bare position and the movement flag.
func (b *Bridge) PublishDevice(d device.Device) error {
	payload, err := devicePayload(d)
	if err != nil {
		return fmt.Errorf("marshal device %d: %w", d.NodeID, err)
	}

	if err := b.client.Publish(b.topics.DeviceState(d.NodeID), payload, b.qos, b.retain); err != nil {
		return err
	}
	if err := b.client.Publish(b.topics.DevicePosition(d.NodeID),
		[]byte(strconv.Itoa(d.Position)), b.qos, b.retain); err != nil {
		return err
	}
	return b.client.Publish(b.topics.DeviceMoving(d.NodeID),
		[]byte(strconv.FormatBool(d.Moving)), b.qos, b.retain)
}

// PublishScene publishes the retained scene state document.
func (b *Bridge) PublishScene(s device.Scene) error {
	payload, err := scenePayload(s)
	if err != nil {
		return fmt.Errorf("marshal scene %d: %w", s.SceneID, err)
	}
	return b.client.Publish(b.topics.SceneState(s.SceneID), payload, b.qos, b.retain)
}

// PublishError publishes a record on the error stream, not retained.
func (b *Bridge) PublishError(severity, component, message string, details any) error {
	payload, err := errorPayload(severity, component, message, details)
	if err != nil {
		return fmt.Errorf("marshal error record: %w", err)
	}
	return b.client.Publish(b.topics.Errors(), payload, b.qos, false)
}

// Close publishes the offline status synchronously, then disconnects.
// Tolerates a broker that is already gone.
func (b *Bridge) Close() error {
	if b.client.IsConnected() {
		if err := b.PublishStatus(StatusOffline); err != nil {
			b.logWarn("offline status publish failed", "error", err)
		}
	}
	return b.client.Close()
}

// handleMessage routes one inbound message. Unparseable payloads are
// logged and discarded.
func (b *Bridge) handleMessage(topic string, payload []byte) error {
	route := b.topics.Parse(topic)

	switch route.Kind {
	case RouteDeviceCmd:
		cmd, err := ParseDeviceCommand(payload)
		if err != nil {
			b.logWarn("discarding device command", "topic", topic, "error", err)
			return nil
		}
		b.fireDeviceCommand(route.ID, cmd)

	case RoutePositionSet:
		cmd, err := ParsePositionOnly(payload)
		if err != nil {
			b.logWarn("discarding position set", "topic", topic, "error", err)
			return nil
		}
		b.fireDeviceCommand(route.ID, cmd)

	case RouteSceneCmd:
		if err := ParseSceneCommand(payload); err != nil {
			b.logWarn("discarding scene command", "topic", topic, "error", err)
			return nil
		}
		b.fireSceneCommand(route.ID)

	case RouteGlobalCmd:
		cmd, err := ParseGlobalCommand(payload)
		if err != nil {
			b.logWarn("discarding global command", "topic", topic, "error", err)
			return nil
		}
		b.fireGlobalCommand(cmd)

	case RouteUnknown:
		b.logDebug("message on unrouted topic", "topic", topic)
	}
	return nil
}

func (b *Bridge) fireDeviceCommand(nodeID int, cmd Command) {
	b.callbackMu.RLock()
	callback := b.onDeviceCommand
	b.callbackMu.RUnlock()
	if callback != nil {
		callback(nodeID, cmd)
	}
}

func (b *Bridge) fireSceneCommand(sceneID int) {
	b.callbackMu.RLock()
	callback := b.onSceneCommand
	b.callbackMu.RUnlock()
	if callback != nil {
		callback(sceneID)
	}
}

func (b *Bridge) fireGlobalCommand(cmd GlobalCommand) {
	b.callbackMu.RLock()
	callback := b.onGlobalCommand
	b.callbackMu.RUnlock()
	if callback != nil {
		callback(cmd)
	}
}

func (b *Bridge) logDebug(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Debug(msg, keysAndValues...)
	}
}

func (b *Bridge) logInfo(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Info(msg, keysAndValues...)
	}
}

func (b *Bridge) logWarn(msg string, keysAndValues ...any) {
	if b.logger != nil {
		b.logger.Warn(msg, keysAndValues...)
	}
}
