package bridge

import (
	"encoding/json"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/nerrad567/velux-bridge/internal/device"
	"github.com/nerrad567/velux-bridge/internal/infrastructure/mqtt"
)

// mockClient implements MQTTClient for testing.
type mockClient struct {
	mu            sync.Mutex
	published     []mockPublish
	subscriptions []string
	handlers      map[string]mqtt.MessageHandler
	connected     bool
	closed        bool
}

type mockPublish struct {
	Topic    string
	Payload  string
	QoS      byte
	Retained bool
}

func newMockClient() *mockClient {
	return &mockClient{
		connected: true,
		handlers:  make(map[string]mqtt.MessageHandler),
	}
}

func (m *mockClient) Publish(topic string, payload []byte, qos byte, retained bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.published = append(m.published, mockPublish{
		Topic:    topic,
		Payload:  string(payload),
		QoS:      qos,
		Retained: retained,
	})
	return nil
}

func (m *mockClient) Subscribe(topic string, _ byte, handler mqtt.MessageHandler) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subscriptions = append(m.subscriptions, topic)
	m.handlers[topic] = handler
	return nil
}

func (m *mockClient) IsConnected() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.connected
}

func (m *mockClient) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.connected = false
	m.closed = true
	return nil
}

// simulate delivers a message the way the paho client would: through the
// handler registered for the matching subscription pattern.
func (m *mockClient) simulate(topic string, payload string) {
	m.mu.Lock()
	var handler mqtt.MessageHandler
	for pattern, h := range m.handlers {
		if patternMatches(pattern, topic) {
			handler = h
			break
		}
	}
	m.mu.Unlock()
	if handler != nil {
		//nolint:errcheck // handler errors are logged by the real client
		handler(topic, []byte(payload))
	}
}

// patternMatches implements single-level MQTT wildcard matching for tests.
func patternMatches(pattern, topic string) bool {
	pp := strings.Split(pattern, "/")
	tp := strings.Split(topic, "/")
	if len(pp) != len(tp) {
		return false
	}
	for i := range pp {
		if pp[i] != "+" && pp[i] != tp[i] {
			return false
		}
	}
	return true
}

func (m *mockClient) publishes() []mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]mockPublish, len(m.published))
	copy(out, m.published)
	return out
}

func (m *mockClient) find(topic string) *mockPublish {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := len(m.published) - 1; i >= 0; i-- {
		if m.published[i].Topic == topic {
			p := m.published[i]
			return &p
		}
	}
	return nil
}

func testBridge(t *testing.T, client *mockClient) *Bridge {
	t.Helper()
	b, err := New(Options{
		Client:      client,
		TopicPrefix: "klf200",
		QoS:         1,
		Retain:      true,
	})
	if err != nil {
		t.Fatalf("New() error: %v", err)
	}
	return b
}

func TestStartSubscribesAndPublishesOnline(t *testing.T) {
	client := newMockClient()
	b := testBridge(t, client)

	if err := b.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	wantSubs := []string{
		"klf200/devices/+/cmd",
		"klf200/devices/+/position/set",
		"klf200/scenes/+/cmd",
		"klf200/cmd",
	}
	client.mu.Lock()
	subs := append([]string(nil), client.subscriptions...)
	client.mu.Unlock()
	if len(subs) != len(wantSubs) {
		t.Fatalf("subscriptions = %v", subs)
	}
	for i, want := range wantSubs {
		if subs[i] != want {
			t.Errorf("subscription[%d] = %q, want %q", i, subs[i], want)
		}
	}

	status := client.find("klf200/status")
	if status == nil {
		t.Fatal("online status not published")
	}
	if status.Payload != "online" || !status.Retained {
		t.Errorf("status = %+v, want retained online", status)
	}
}

func TestPublishDevice(t *testing.T) {
	client := newMockClient()
	b := testBridge(t, client)

	d := device.Device{
		NodeID:         0,
		Name:           "Kitchen",
		Type:           device.TypeWindow,
		Position:       50,
		TargetPosition: 50,
		Online:         true,
		LimitationMax:  100,
		SerialNumber:   "0A1B2C3D4E5F0708",
		ProductType:    4,
		LastUpdate:     time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
	if err := b.PublishDevice(d); err != nil {
		t.Fatalf("PublishDevice() error: %v", err)
	}

	state := client.find("klf200/devices/0/state")
	if state == nil {
		t.Fatal("state not published")
	}
	if !state.Retained || state.QoS != 1 {
		t.Errorf("state flags = %+v", state)
	}

	var decoded map[string]any
	if err := json.Unmarshal([]byte(state.Payload), &decoded); err != nil {
		t.Fatalf("state payload is not JSON: %v", err)
	}
	if decoded["position"] != float64(50) || decoded["moving"] != false {
		t.Errorf("state payload = %v", decoded)
	}
	if decoded["type"] != "window" || decoded["error"] != nil {
		t.Errorf("state payload = %v", decoded)
	}
	if _, ok := decoded["lastUpdate"].(string); !ok {
		t.Error("lastUpdate missing from state payload")
	}

	pos := client.find("klf200/devices/0/position")
	if pos == nil || pos.Payload != "50" || !pos.Retained {
		t.Errorf("position = %+v, want retained 50", pos)
	}

	moving := client.find("klf200/devices/0/moving")
	if moving == nil || moving.Payload != "false" {
		t.Errorf("moving = %+v, want false", moving)
	}
}

func TestPublishScene(t *testing.T) {
	client := newMockClient()
	b := testBridge(t, client)

	if err := b.PublishScene(device.Scene{SceneID: 3, Name: "Night", ProductCount: 2}); err != nil {
		t.Fatalf("PublishScene() error: %v", err)
	}

	state := client.find("klf200/scenes/3/state")
	if state == nil || !state.Retained {
		t.Fatalf("scene state = %+v", state)
	}
	var decoded map[string]any
	if err := json.Unmarshal([]byte(state.Payload), &decoded); err != nil {
		t.Fatalf("scene payload is not JSON: %v", err)
	}
	if decoded["name"] != "Night" || decoded["productCount"] != float64(2) {
		t.Errorf("scene payload = %v", decoded)
	}
}

func TestPublishErrorNotRetained(t *testing.T) {
	client := newMockClient()
	b := testBridge(t, client)

	if err := b.PublishError(SeverityError, "klf", "Connection lost", "dial timeout"); err != nil {
		t.Fatalf("PublishError() error: %v", err)
	}

	rec := client.find("klf200/errors")
	if rec == nil {
		t.Fatal("error record not published")
	}
	if rec.Retained {
		t.Error("error records must not be retained")
	}

	var decoded ErrorRecord
	if err := json.Unmarshal([]byte(rec.Payload), &decoded); err != nil {
		t.Fatalf("error payload is not JSON: %v", err)
	}
	if decoded.Severity != "error" || decoded.Component != "klf" {
		t.Errorf("record = %+v", decoded)
	}
	if decoded.Timestamp.IsZero() {
		t.Error("record timestamp missing")
	}
}

func TestDeviceCommandRouting(t *testing.T) {
	client := newMockClient()
	b := testBridge(t, client)
	if err := b.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	type received struct {
		nodeID int
		cmd    Command
	}
	var got []received
	var mu sync.Mutex
	b.SetOnDeviceCommand(func(nodeID int, cmd Command) {
		mu.Lock()
		got = append(got, received{nodeID, cmd})
		mu.Unlock()
	})

	client.simulate("klf200/devices/0/cmd", "open")
	client.simulate("klf200/devices/3/cmd", "75")
	client.simulate("klf200/devices/5/position/set", "50")
	client.simulate("klf200/devices/5/position/set", "150") // discarded
	client.simulate("klf200/devices/9/cmd", "garbage")      // discarded

	mu.Lock()
	defer mu.Unlock()
	want := []received{
		{0, Command{Kind: CommandOpen}},
		{3, Command{Kind: CommandPosition, Position: 75}},
		{5, Command{Kind: CommandPosition, Position: 50}},
	}
	if len(got) != len(want) {
		t.Fatalf("received %d commands, want %d: %+v", len(got), len(want), got)
	}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("command[%d] = %+v, want %+v", i, got[i], want[i])
		}
	}
}

func TestSceneAndGlobalCommandRouting(t *testing.T) {
	client := newMockClient()
	b := testBridge(t, client)
	if err := b.Start(); err != nil {
		t.Fatalf("Start() error: %v", err)
	}

	var scenes []int
	var globals []GlobalCommand
	var mu sync.Mutex
	b.SetOnSceneCommand(func(id int) {
		mu.Lock()
		scenes = append(scenes, id)
		mu.Unlock()
	})
	b.SetOnGlobalCommand(func(cmd GlobalCommand) {
		mu.Lock()
		globals = append(globals, cmd)
		mu.Unlock()
	})

	client.simulate("klf200/scenes/2/cmd", "run")
	client.simulate("klf200/scenes/2/cmd", "RUN")
	client.simulate("klf200/scenes/2/cmd", "walk") // discarded
	client.simulate("klf200/cmd", "refresh")
	client.simulate("klf200/cmd", "reconnect")
	client.simulate("klf200/cmd", "reboot") // discarded

	mu.Lock()
	defer mu.Unlock()
	if len(scenes) != 2 || scenes[0] != 2 {
		t.Errorf("scene commands = %v", scenes)
	}
	if len(globals) != 2 || globals[0] != GlobalRefresh || globals[1] != GlobalReconnect {
		t.Errorf("global commands = %v", globals)
	}
}

func TestCloseSendsOfflineThenDisconnects(t *testing.T) {
	client := newMockClient()
	b := testBridge(t, client)

	if err := b.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}

	status := client.find("klf200/status")
	if status == nil || status.Payload != "offline" || !status.Retained {
		t.Errorf("status = %+v, want retained offline", status)
	}
	if !client.closed {
		t.Error("client not closed")
	}
}

func TestCloseWithDeadBroker(t *testing.T) {
	client := newMockClient()
	client.connected = false
	b := testBridge(t, client)

	if err := b.Close(); err != nil {
		t.Fatalf("Close() error: %v", err)
	}
	// No offline publish attempted against a dead broker.
	for _, p := range client.publishes() {
		if p.Topic == "klf200/status" {
			t.Error("status published despite dead broker")
		}
	}
}

func TestNewClientIDUnique(t *testing.T) {
	a := NewClientID("klf200")
	if !strings.HasPrefix(a, "klf200-plugin-") {
		t.Errorf("client ID = %q", a)
	}
	time.Sleep(2 * time.Millisecond)
	if b := NewClientID("klf200"); a == b {
		t.Error("client IDs must differ between runs")
	}
}
