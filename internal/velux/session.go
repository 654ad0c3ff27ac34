package velux

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/cenkalti/backoff/v4"

	"github.com/nerrad567/velux-bridge/internal/device"
)

// Keepalive and reconnect defaults. The gateway severs idle sessions after
// 10-15 minutes, so the default keepalive stays well inside that window.
const (
	defaultKeepaliveInterval = 10 * time.Minute
	minKeepaliveInterval     = time.Minute
	defaultReconnectBase     = 5 * time.Second
	defaultReconnectMax      = time.Minute
	discoveryTimeout         = 30 * time.Second
)

// SessionState is the session lifecycle state.
type SessionState int32

// Session states. Closed is terminal.
const (
	StateDisconnected SessionState = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateClosed
)

// String returns the lowercase state name.
func (s SessionState) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// SessionConfig holds gateway session parameters.
type SessionConfig struct {
	// Host is the gateway address. Required.
	Host string

	// Port is the gateway API port. Default: 51200.
	Port int

	// Password is the gateway password (the WiFi password printed on the
	// unit, unless changed). Required.
	Password string

	// Fingerprint optionally pins the gateway certificate (SHA-256 hex).
	Fingerprint string

	// ConnectTimeout bounds TCP dial plus TLS handshake. Default: 10s.
	ConnectTimeout time.Duration

	// KeepaliveInterval is the idle probe period. Constrained to at least
	// one minute; default 10 minutes.
	KeepaliveInterval time.Duration

	// ReconnectBase is the first reconnect delay. Default: 5s.
	ReconnectBase time.Duration

	// ReconnectMax caps the reconnect delay. Default: 60s.
	ReconnectMax time.Duration
}

// DialFunc opens a transport. Swapped out in tests.
type DialFunc func(ctx context.Context, cfg TransportConfig) (Transport, error)

// SessionStats extends transport statistics with session-level counters.
type SessionStats struct {
	Stats
	State             string
	ReconnectAttempts uint64
}

// Session owns the single authenticated gateway session.
//
// It connects with TLS and password login, enables the house status monitor,
// holds the connection open with keepalive probes, re-dials with exponential
// backoff when the transport drops, and serialises commands so at most one
// is in flight per actuator.
//
// Thread Safety: all methods are safe for concurrent use. Event callbacks
// fire on the transport's dispatch goroutine in arrival order; connection
// lifecycle callbacks fire on whichever goroutine drove the transition.
type Session struct {
	cfg  SessionConfig
	dial DialFunc

	mu        sync.Mutex
	state     SessionState
	transport Transport

	// Last-known device view, built from discovery and merged with state
	// change notifications. Keyed by node ID.
	nodes   map[int]device.Device
	nodesMu sync.Mutex

	// Per-actuator command serialisation.
	nodeLocks   map[int]*sync.Mutex
	nodeLocksMu sync.Mutex

	// Command session identifier, incremented per command.
	cmdSession atomic.Uint32

	// Discovery frame collector. Non-nil while a discovery call is
	// draining notification frames.
	collector   chan Frame
	collectorMu sync.Mutex

	// Reconnect machinery.
	backoff        *backoff.ExponentialBackOff
	reconnectTimer *time.Timer
	attempts       atomic.Uint64

	// Keepalive machinery; one stop channel per connection generation.
	keepaliveStop chan struct{}
	wg            sync.WaitGroup

	// Event callbacks (optional).
	onConnected         func()
	onDisconnected      func(err error)
	onDeviceChanged     func(d device.Device)
	onDevicesDiscovered func(devices []device.Device)
	onScenesDiscovered  func(scenes []device.Scene)
	callbackMu          sync.RWMutex

	logger   Logger
	loggerMu sync.RWMutex
}

// NewSession creates a session manager. Call Connect to establish the
// session and Close to tear it down.
func NewSession(cfg SessionConfig) *Session {
	if cfg.ConnectTimeout == 0 {
		cfg.ConnectTimeout = defaultConnectTimeout
	}
	if cfg.KeepaliveInterval == 0 {
		cfg.KeepaliveInterval = defaultKeepaliveInterval
	}
	if cfg.KeepaliveInterval < minKeepaliveInterval {
		cfg.KeepaliveInterval = minKeepaliveInterval
	}
	if cfg.ReconnectBase == 0 {
		cfg.ReconnectBase = defaultReconnectBase
	}
	if cfg.ReconnectMax == 0 {
		cfg.ReconnectMax = defaultReconnectMax
	}

	// Deterministic doubling schedule: base, 2·base, 4·base, ... capped
	// at max, no jitter, no attempt limit.
	bo := backoff.NewExponentialBackOff()
	bo.InitialInterval = cfg.ReconnectBase
	bo.RandomizationFactor = 0
	bo.Multiplier = 2
	bo.MaxInterval = cfg.ReconnectMax
	bo.MaxElapsedTime = 0
	bo.Reset()

	return &Session{
		cfg:       cfg,
		dial:      defaultDial,
		state:     StateDisconnected,
		nodes:     make(map[int]device.Device),
		nodeLocks: make(map[int]*sync.Mutex),
		backoff:   bo,
	}
}

func defaultDial(ctx context.Context, cfg TransportConfig) (Transport, error) {
	return Dial(ctx, cfg)
}

// SetDial overrides the transport dialer. Test hook.
func (s *Session) SetDial(dial DialFunc) {
	s.dial = dial
}

// SetLogger sets the logger for the session.
func (s *Session) SetLogger(logger Logger) {
	s.loggerMu.Lock()
	s.logger = logger
	s.loggerMu.Unlock()
}

// SetOnConnected registers the callback fired after every successful
// connection, initial and reconnect alike.
func (s *Session) SetOnConnected(callback func()) {
	s.callbackMu.Lock()
	s.onConnected = callback
	s.callbackMu.Unlock()
}

// SetOnDisconnected registers the callback fired when the session loses
// the gateway outside of Close.
func (s *Session) SetOnDisconnected(callback func(err error)) {
	s.callbackMu.Lock()
	s.onDisconnected = callback
	s.callbackMu.Unlock()
}

// SetOnDeviceChanged registers the callback for asynchronous actuator
// state changes. Delivered in gateway arrival order.
func (s *Session) SetOnDeviceChanged(callback func(d device.Device)) {
	s.callbackMu.Lock()
	s.onDeviceChanged = callback
	s.callbackMu.Unlock()
}

// SetOnDevicesDiscovered registers the callback fired after each completed
// device discovery.
func (s *Session) SetOnDevicesDiscovered(callback func(devices []device.Device)) {
	s.callbackMu.Lock()
	s.onDevicesDiscovered = callback
	s.callbackMu.Unlock()
}

// SetOnScenesDiscovered registers the callback fired after each completed
// scene discovery.
func (s *Session) SetOnScenesDiscovered(callback func(scenes []device.Scene)) {
	s.callbackMu.Lock()
	s.onScenesDiscovered = callback
	s.callbackMu.Unlock()
}

// State returns the current session state.
func (s *Session) State() SessionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Stats returns transport statistics plus session counters.
func (s *Session) Stats() SessionStats {
	s.mu.Lock()
	transport := s.transport
	state := s.state
	s.mu.Unlock()

	var ts Stats
	if transport != nil {
		ts = transport.Stats()
	}
	return SessionStats{
		Stats:             ts,
		State:             state.String(),
		ReconnectAttempts: s.attempts.Load(),
	}
}

// Connect establishes the gateway session: TLS handshake, password login,
// house status monitor subscription, keepalive timer.
//
// On failure the session enters Reconnecting and retries on the backoff
// schedule; the first error is still returned so the caller can report it.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	switch s.state {
	case StateClosed:
		s.mu.Unlock()
		return ErrClosed
	case StateConnected, StateConnecting:
		s.mu.Unlock()
		return nil
	case StateDisconnected, StateReconnecting:
	}
	s.state = StateConnecting
	s.mu.Unlock()

	if err := s.establish(ctx); err != nil {
		s.scheduleReconnect()
		return err
	}
	return nil
}

// establish performs one full connection attempt. On success the session
// is Connected with keepalive running and the backoff schedule reset.
func (s *Session) establish(ctx context.Context) error {
	transport, err := s.dial(ctx, TransportConfig{
		Host:           s.cfg.Host,
		Port:           s.cfg.Port,
		Fingerprint:    s.cfg.Fingerprint,
		ConnectTimeout: s.cfg.ConnectTimeout,
	})
	if err != nil {
		return err
	}

	// Login.
	pw, err := buildPasswordEnter(s.cfg.Password)
	if err != nil {
		transport.Close()
		return err
	}
	cfm, err := transport.Call(ctx, Frame{Command: cmdPasswordEnterREQ, Data: pw}, cmdPasswordEnterCFM)
	if err != nil {
		transport.Close()
		return fmt.Errorf("login: %w", err)
	}
	if len(cfm.Data) < 1 || cfm.Data[0] != 0 {
		transport.Close()
		return ErrAuthFailed
	}

	// Event subscription: without the house status monitor the gateway
	// stays silent about actuator movement.
	if _, err := transport.Call(ctx, Frame{Command: cmdHouseMonitorEnableREQ}, cmdHouseMonitorEnableCFM); err != nil {
		transport.Close()
		return fmt.Errorf("enable status monitor: %w", err)
	}

	transport.SetOnNotify(s.handleNotify)
	transport.SetOnClosed(s.handleTransportClosed)

	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		transport.Close()
		return ErrClosed
	}
	s.transport = transport
	s.state = StateConnected
	stop := make(chan struct{})
	s.keepaliveStop = stop
	s.mu.Unlock()

	s.backoff.Reset()
	s.attempts.Store(0)

	s.wg.Add(1)
	go s.keepaliveLoop(stop)

	s.logInfo("gateway session established", "host", s.cfg.Host)
	s.fireConnected()
	return nil
}

// keepaliveLoop sends a lightweight state query on each tick. A failed
// probe synthesises a disconnection so the reconnect schedule takes over.
func (s *Session) keepaliveLoop(stop chan struct{}) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.KeepaliveInterval)
	defer ticker.Stop()

	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			s.mu.Lock()
			transport := s.transport
			connected := s.state == StateConnected
			s.mu.Unlock()
			if !connected || transport == nil {
				return
			}

			ctx, cancel := context.WithTimeout(context.Background(), defaultRequestTimeout)
			_, err := transport.Call(ctx, Frame{Command: cmdGetStateREQ}, cmdGetStateCFM)
			cancel()
			if err != nil {
				s.logWarn("keepalive probe failed", "error", err)
				s.handleTransportClosed(fmt.Errorf("keepalive: %w", err))
				return
			}
			s.logDebug("keepalive ok")
		}
	}
}

// handleTransportClosed reacts to transport loss (socket closure or a
// failed keepalive). No-op when shutdown is in progress.
func (s *Session) handleTransportClosed(err error) {
	s.mu.Lock()
	if s.state != StateConnected {
		s.mu.Unlock()
		return
	}
	s.state = StateReconnecting
	transport := s.transport
	s.transport = nil
	stop := s.keepaliveStop
	s.keepaliveStop = nil
	s.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if transport != nil {
		transport.Close()
	}

	s.logWarn("gateway session lost", "error", err)
	s.fireDisconnected(err)
	s.scheduleReconnect()
}

// scheduleReconnect arms the backoff timer for the next attempt.
func (s *Session) scheduleReconnect() {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return
	}
	s.state = StateReconnecting
	delay := s.backoff.NextBackOff()
	n := s.attempts.Add(1)

	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
	}
	s.reconnectTimer = time.AfterFunc(delay, s.attemptReconnect)
	s.mu.Unlock()

	s.logInfo("reconnect scheduled", "attempt", n, "delay", delay)
}

// attemptReconnect runs one backoff-driven connection attempt followed by
// rediscovery.
func (s *Session) attemptReconnect() {
	s.mu.Lock()
	if s.state != StateReconnecting {
		s.mu.Unlock()
		return
	}
	s.state = StateConnecting
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), s.cfg.ConnectTimeout+2*defaultRequestTimeout)
	err := s.establish(ctx)
	cancel()
	if err != nil {
		s.logWarn("reconnect attempt failed", "error", err)
		s.scheduleReconnect()
		return
	}

	s.rediscover()
}

// rediscover refreshes devices and scenes after a reconnect, feeding the
// discovery callbacks so consumers get a fresh round of publications.
func (s *Session) rediscover() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*discoveryTimeout)
	defer cancel()

	if _, err := s.DiscoverDevices(ctx); err != nil {
		s.logError("rediscovery of devices failed", err)
	}
	if _, err := s.DiscoverScenes(ctx); err != nil {
		s.logError("rediscovery of scenes failed", err)
	}
}

// Reconnect closes the current session and re-enters Connecting
// immediately, bypassing the backoff schedule.
func (s *Session) Reconnect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return ErrClosed
	}
	transport := s.transport
	s.transport = nil
	stop := s.keepaliveStop
	s.keepaliveStop = nil
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	s.state = StateConnecting
	s.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if transport != nil {
		transport.Close()
	}
	s.backoff.Reset()

	if err := s.establish(ctx); err != nil {
		s.scheduleReconnect()
		return err
	}
	return nil
}

// Close transitions to Closed, cancels timers and shuts the transport.
// Best-effort: never returns an error. The gateway has no logout command;
// closing the connection ends the session on its side.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == StateClosed {
		s.mu.Unlock()
		return nil
	}
	s.state = StateClosed
	transport := s.transport
	s.transport = nil
	stop := s.keepaliveStop
	s.keepaliveStop = nil
	if s.reconnectTimer != nil {
		s.reconnectTimer.Stop()
		s.reconnectTimer = nil
	}
	s.mu.Unlock()

	if stop != nil {
		close(stop)
	}
	if transport != nil {
		transport.Close()
	}
	s.wg.Wait()

	s.logInfo("gateway session closed")
	return nil
}

// connectedTransport returns the live transport or ErrNotConnected.
func (s *Session) connectedTransport() (Transport, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state != StateConnected || s.transport == nil {
		return nil, ErrNotConnected
	}
	return s.transport, nil
}

// DiscoverDevices requests the full actuator list and rebuilds the
// session's device view. Only permitted while Connected.
func (s *Session) DiscoverDevices(ctx context.Context) ([]device.Device, error) {
	transport, err := s.connectedTransport()
	if err != nil {
		return nil, err
	}

	frames, err := s.collect(ctx, transport,
		Frame{Command: cmdGetAllNodesREQ}, cmdGetAllNodesCFM,
		func(f Frame) (done bool, keep bool) {
			switch f.Command {
			case cmdGetAllNodesNTF:
				return false, true
			case cmdGetAllNodesFinishedNTF:
				return true, false
			}
			return false, false
		})
	if err != nil {
		return nil, fmt.Errorf("discover devices: %w", err)
	}

	devices := make([]device.Device, 0, len(frames))
	fresh := make(map[int]device.Device, len(frames))
	for _, f := range frames {
		info, err := parseNodeInfo(f.Data)
		if err != nil {
			s.logError("skipping malformed node info", err)
			continue
		}
		d := buildDevice(info)
		devices = append(devices, d)
		fresh[d.NodeID] = d
	}

	s.nodesMu.Lock()
	s.nodes = fresh
	s.nodesMu.Unlock()

	s.logInfo("device discovery complete", "count", len(devices))
	s.fireDevicesDiscovered(devices)
	return devices, nil
}

// DiscoverScenes requests the scene list, then fetches each scene's node
// count. Only permitted while Connected.
func (s *Session) DiscoverScenes(ctx context.Context) ([]device.Scene, error) {
	transport, err := s.connectedTransport()
	if err != nil {
		return nil, err
	}

	frames, err := s.collect(ctx, transport,
		Frame{Command: cmdGetSceneListREQ}, cmdGetSceneListCFM,
		func(f Frame) (done bool, keep bool) {
			if f.Command != cmdGetSceneListNTF {
				return false, false
			}
			_, remaining, err := parseSceneList(f.Data)
			return err != nil || remaining == 0, true
		})
	if err != nil {
		return nil, fmt.Errorf("discover scenes: %w", err)
	}

	scenes := make([]device.Scene, 0)
	for _, f := range frames {
		entries, _, err := parseSceneList(f.Data)
		if err != nil {
			s.logError("skipping malformed scene list", err)
			continue
		}
		for _, e := range entries {
			scenes = append(scenes, device.Scene{SceneID: e.SceneID, Name: e.Name})
		}
	}

	// Fill product counts; a failed lookup leaves the count at zero.
	for i := range scenes {
		count, err := s.sceneProductCount(ctx, transport, scenes[i].SceneID)
		if err != nil {
			s.logWarn("scene information unavailable",
				"scene", scenes[i].SceneID, "error", err)
			continue
		}
		scenes[i].ProductCount = count
	}

	s.logInfo("scene discovery complete", "count", len(scenes))
	s.fireScenesDiscovered(scenes)
	return scenes, nil
}

// sceneProductCount fetches one scene's actuator count.
func (s *Session) sceneProductCount(ctx context.Context, transport Transport, sceneID int) (int, error) {
	frames, err := s.collect(ctx, transport,
		Frame{Command: cmdGetSceneInfoREQ, Data: []byte{byte(sceneID)}}, cmdGetSceneInfoCFM,
		func(f Frame) (done bool, keep bool) {
			if f.Command != cmdGetSceneInfoNTF {
				return false, false
			}
			info, err := parseSceneInfo(f.Data)
			return err != nil || info.Remaining == 0, true
		})
	if err != nil {
		return 0, err
	}

	total := 0
	for _, f := range frames {
		info, err := parseSceneInfo(f.Data)
		if err != nil {
			return 0, err
		}
		total += info.NodeCount
	}
	return total, nil
}

// collect issues a request and drains matching notification frames until
// the classifier reports completion. The collector is registered before
// the request goes out so no notification can slip past.
func (s *Session) collect(ctx context.Context, transport Transport, req Frame, wantCfm uint16,
	classify func(Frame) (done bool, keep bool)) ([]Frame, error) {
	ch := make(chan Frame, notifyQueueSize)
	s.collectorMu.Lock()
	if s.collector != nil {
		s.collectorMu.Unlock()
		return nil, fmt.Errorf("%w: discovery already running", ErrDeviceError)
	}
	s.collector = ch
	s.collectorMu.Unlock()

	defer func() {
		s.collectorMu.Lock()
		s.collector = nil
		s.collectorMu.Unlock()
	}()

	if _, err := transport.Call(ctx, req, wantCfm); err != nil {
		return nil, err
	}

	timer := time.NewTimer(discoveryTimeout)
	defer timer.Stop()

	var kept []Frame
	for {
		select {
		case f := <-ch:
			done, keep := classify(f)
			if keep {
				kept = append(kept, f)
			}
			if done {
				return kept, nil
			}
		case <-timer.C:
			return nil, fmt.Errorf("%w: discovery incomplete after %v", ErrTimeout, discoveryTimeout)
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
}

// Refresh re-runs discovery for both devices and scenes.
func (s *Session) Refresh(ctx context.Context) error {
	if _, err := s.DiscoverDevices(ctx); err != nil {
		return err
	}
	_, err := s.DiscoverScenes(ctx)
	return err
}

// SetPosition drives a node to a public position percentage.
//
// The percentage is clamped to [0, 100]. Fails with ErrNotConnected,
// ErrUnknownNode or ErrDeviceError.
func (s *Session) SetPosition(ctx context.Context, nodeID, pct int) error {
	if pct < 0 {
		pct = 0
	}
	if pct > 100 {
		pct = 100
	}
	return s.sendNodeCommand(ctx, nodeID, rawToWire(device.ToRaw(pct)))
}

// Stop halts a node's movement.
func (s *Session) Stop(ctx context.Context, nodeID int) error {
	return s.sendNodeCommand(ctx, nodeID, posCurrent)
}

// sendNodeCommand issues one set-target command, serialised per node so a
// burst of commands for the same actuator queues instead of colliding on
// the radio.
func (s *Session) sendNodeCommand(ctx context.Context, nodeID int, target uint16) error {
	transport, err := s.connectedTransport()
	if err != nil {
		return err
	}

	s.nodesMu.Lock()
	_, known := s.nodes[nodeID]
	s.nodesMu.Unlock()
	if !known {
		return fmt.Errorf("%w: node %d", ErrUnknownNode, nodeID)
	}

	lock := s.nodeLock(nodeID)
	lock.Lock()
	defer lock.Unlock()

	sessionID := uint16(s.cmdSession.Add(1))
	req := Frame{Command: cmdCommandSendREQ, Data: buildCommandSend(sessionID, nodeID, target)}
	cfm, err := transport.Call(ctx, req, cmdCommandSendCFM)
	if err != nil {
		return err
	}
	// CFM: SessionID(2) Status(1); 1 = accepted.
	if len(cfm.Data) < 3 || cfm.Data[2] != 1 {
		return fmt.Errorf("%w: command rejected for node %d", ErrDeviceError, nodeID)
	}
	return nil
}

// RunScene triggers execution of a gateway scene.
func (s *Session) RunScene(ctx context.Context, sceneID int) error {
	transport, err := s.connectedTransport()
	if err != nil {
		return err
	}

	sessionID := uint16(s.cmdSession.Add(1))
	req := Frame{Command: cmdActivateSceneREQ, Data: buildActivateScene(sessionID, sceneID)}
	cfm, err := transport.Call(ctx, req, cmdActivateSceneCFM)
	if err != nil {
		return err
	}
	// CFM: Status(1) SessionID(2); 0 = OK.
	if len(cfm.Data) < 1 || cfm.Data[0] != 0 {
		return fmt.Errorf("%w: scene %d rejected", ErrDeviceError, sceneID)
	}
	return nil
}

// nodeLock returns the per-node command mutex, creating it on first use.
func (s *Session) nodeLock(nodeID int) *sync.Mutex {
	s.nodeLocksMu.Lock()
	defer s.nodeLocksMu.Unlock()
	lock, ok := s.nodeLocks[nodeID]
	if !ok {
		lock = &sync.Mutex{}
		s.nodeLocks[nodeID] = lock
	}
	return lock
}

// handleNotify routes notification frames: discovery collectors first,
// then the state-change handlers.
func (s *Session) handleNotify(f Frame) {
	s.collectorMu.Lock()
	collector := s.collector
	s.collectorMu.Unlock()
	if collector != nil {
		switch f.Command {
		case cmdGetAllNodesNTF, cmdGetAllNodesFinishedNTF,
			cmdGetSceneListNTF, cmdGetSceneInfoNTF:
			select {
			case collector <- f:
			default:
				s.logError("discovery collector overflow", fmt.Errorf("command 0x%04X", f.Command))
			}
			return
		}
	}

	switch f.Command {
	case cmdNodeStateChangedNTF:
		s.handleNodeStateChanged(f)
	case cmdCommandRunStatusNTF:
		s.handleRunStatus(f)
	case cmdSessionFinishedNTF:
		// Command session drained; nothing to do.
	case cmdErrorNTF:
		code := -1
		if len(f.Data) > 0 {
			code = int(f.Data[0])
		}
		s.logWarn("gateway error notification", "error", errorNTFText(code))
	default:
		s.logDebug("unhandled notification", "command", fmt.Sprintf("0x%04X", f.Command))
	}
}

// handleNodeStateChanged merges a position notification into the device
// view and emits the change.
func (s *Session) handleNodeStateChanged(f Frame) {
	change, err := parseNodeStateChange(f.Data)
	if err != nil {
		s.logError("malformed state change", err)
		return
	}

	s.nodesMu.Lock()
	d, known := s.nodes[change.NodeID]
	if !known {
		s.nodesMu.Unlock()
		// Not discovered yet; the next discovery will pick it up.
		s.logDebug("state change for unknown node", "node", change.NodeID)
		return
	}

	if raw, ok := wireToRaw(change.CurrentPos); ok {
		d.Position = device.ToPublic(raw)
	}
	if raw, ok := wireToRaw(change.TargetPos); ok {
		d.TargetPosition = device.ToPublic(raw)
	}
	d.Online = change.State == nodeStateOnline
	d.Moving = change.State == nodeStateExecuting
	d.LastUpdate = time.Now().UTC()
	s.nodes[change.NodeID] = d
	s.nodesMu.Unlock()

	s.fireDeviceChanged(d)
}

// handleRunStatus merges a command run-status notification: movement state
// plus any actuator error text.
func (s *Session) handleRunStatus(f Frame) {
	status, err := parseRunStatus(f.Data)
	if err != nil {
		s.logError("malformed run status", err)
		return
	}

	s.nodesMu.Lock()
	d, known := s.nodes[status.NodeID]
	if !known {
		s.nodesMu.Unlock()
		return
	}

	const runStatusActive = 2
	d.Moving = status.RunStatus == runStatusActive
	if st := device.StatusText(status.StatusReply); st != nil && st.IsError {
		msg := st.Message
		d.Error = &msg
	} else {
		d.Error = nil
	}
	if raw, ok := wireToRaw(status.Parameter); ok {
		d.Position = device.ToPublic(raw)
	}
	d.LastUpdate = time.Now().UTC()
	s.nodes[status.NodeID] = d
	s.nodesMu.Unlock()

	s.fireDeviceChanged(d)
}

// buildDevice converts parsed node information into the public model.
func buildDevice(info nodeInfo) device.Device {
	d := device.Device{
		NodeID:        info.NodeID,
		Name:          info.Name,
		Type:          device.Classify(info.NodeType),
		Online:        info.State == nodeStateOnline,
		Moving:        info.State == nodeStateExecuting,
		LimitationMin: 0,
		LimitationMax: 100,
		SerialNumber:  info.SerialNumber,
		ProductType:   info.ProductType,
		LastUpdate:    time.Now().UTC(),
	}
	if raw, ok := wireToRaw(info.CurrentPos); ok {
		d.Position = device.ToPublic(raw)
	}
	if raw, ok := wireToRaw(info.TargetPos); ok {
		d.TargetPosition = device.ToPublic(raw)
	} else {
		d.TargetPosition = d.Position
	}
	return d
}

func (s *Session) fireConnected() {
	s.callbackMu.RLock()
	callback := s.onConnected
	s.callbackMu.RUnlock()
	if callback != nil {
		callback()
	}
}

func (s *Session) fireDisconnected(err error) {
	s.callbackMu.RLock()
	callback := s.onDisconnected
	s.callbackMu.RUnlock()
	if callback != nil {
		callback(err)
	}
}

func (s *Session) fireDeviceChanged(d device.Device) {
	s.callbackMu.RLock()
	callback := s.onDeviceChanged
	s.callbackMu.RUnlock()
	if callback != nil {
		callback(d)
	}
}

func (s *Session) fireDevicesDiscovered(devices []device.Device) {
	s.callbackMu.RLock()
	callback := s.onDevicesDiscovered
	s.callbackMu.RUnlock()
	if callback != nil {
		callback(devices)
	}
}

func (s *Session) fireScenesDiscovered(scenes []device.Scene) {
	s.callbackMu.RLock()
	callback := s.onScenesDiscovered
	s.callbackMu.RUnlock()
	if callback != nil {
		callback(scenes)
	}
}

func (s *Session) logDebug(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()
	if logger != nil {
		logger.Debug(msg, keysAndValues...)
	}
}

func (s *Session) logInfo(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()
	if logger != nil {
		logger.Info(msg, keysAndValues...)
	}
}

func (s *Session) logWarn(msg string, keysAndValues ...any) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()
	if logger != nil {
		logger.Warn(msg, keysAndValues...)
	}
}

func (s *Session) logError(msg string, err error) {
	s.loggerMu.RLock()
	logger := s.logger
	s.loggerMu.RUnlock()
	if logger != nil {
		logger.Error(msg, "error", err)
	}
}
