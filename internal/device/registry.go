package device

import (
	"sort"
	"sync"
	"time"
)

// defaultDebounce is the delay between a mutation and the snapshot write.
// Bursts of change notifications during movement collapse into one write.
const defaultDebounce = time.Second

// Logger defines the logging interface used by the Registry.
// This allows different logging implementations to be used.
type Logger interface {
	Debug(msg string, args ...any)
	Info(msg string, args ...any)
	Warn(msg string, args ...any)
	Error(msg string, args ...any)
}

// noopLogger is a logger that does nothing.
type noopLogger struct{}

func (noopLogger) Debug(string, ...any) {}
func (noopLogger) Info(string, ...any)  {}
func (noopLogger) Warn(string, ...any)  {}
func (noopLogger) Error(string, ...any) {}

// Registry is the authoritative in-memory snapshot of device and scene state.
//
// It detects semantic changes on update, fires change callbacks, and persists
// the whole snapshot to disk with a debounce so movement bursts cost one
// write. Persistence failures never propagate to callers: the registry stays
// dirty and retries on the next mutation.
//
// Thread Safety:
//   - All methods are safe for concurrent use.
//   - Change callbacks run on the mutating goroutine, after the mutation has
//     been committed, in commit order for any single caller.
type Registry struct {
	mu          sync.Mutex
	devices     map[int]*Device
	scenes      map[int]*Scene
	lastRefresh time.Time

	// Persistence
	snapshotPath string
	debounce     time.Duration
	dirty        bool
	timer        *time.Timer
	closed       bool

	// Change callbacks (optional)
	onDeviceChanged   func(prev *Device, curr Device)
	onDevicesReplaced func(devices []Device)
	callbackMu        sync.RWMutex

	logger Logger
}

// NewRegistry creates a registry persisting to snapshotPath.
// An empty snapshotPath disables persistence entirely (useful in tests).
func NewRegistry(snapshotPath string) *Registry {
	return &Registry{
		devices:      make(map[int]*Device),
		scenes:       make(map[int]*Scene),
		snapshotPath: snapshotPath,
		debounce:     defaultDebounce,
		logger:       noopLogger{},
	}
}

// SetLogger sets the logger for the registry.
func (r *Registry) SetLogger(logger Logger) {
	r.logger = logger
}

// SetOnDeviceChanged registers the callback fired whenever a device's
// semantic state changes. prev is nil for a device seen for the first time.
func (r *Registry) SetOnDeviceChanged(callback func(prev *Device, curr Device)) {
	r.callbackMu.Lock()
	r.onDeviceChanged = callback
	r.callbackMu.Unlock()
}

// SetOnDevicesReplaced registers the callback fired once after a bulk
// ReplaceAll, carrying the full device list.
func (r *Registry) SetOnDevicesReplaced(callback func(devices []Device)) {
	r.callbackMu.Lock()
	r.onDevicesReplaced = callback
	r.callbackMu.Unlock()
}

// Get returns a copy of the device with the given node ID.
func (r *Registry) Get(nodeID int) (Device, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	d, ok := r.devices[nodeID]
	if !ok {
		return Device{}, ErrNotFound
	}
	return d.Clone(), nil
}

// List returns copies of all devices in stable node-ID order.
func (r *Registry) List() []Device {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.listLocked()
}

func (r *Registry) listLocked() []Device {
	out := make([]Device, 0, len(r.devices))
	for _, d := range r.devices {
		out = append(out, d.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].NodeID < out[j].NodeID })
	return out
}

// Update stores a device and fires the change callback when a semantic field
// differs from the previous entry. Equal updates are a no-op: no event, no
// dirty flag, no snapshot write.
func (r *Registry) Update(d Device) error {
	if d.NodeID < 0 || d.NodeID > MaxNodeID {
		return ErrInvalidNodeID
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}

	prev, existed := r.devices[d.NodeID]
	if existed && d.SemanticEqual(prev) {
		// Non-semantic fields (timestamps, limits, serial) are still kept.
		stored := d.Clone()
		r.devices[d.NodeID] = &stored
		r.mu.Unlock()
		return nil
	}

	var prevCopy *Device
	if existed {
		p := prev.Clone()
		prevCopy = &p
	}
	stored := d.Clone()
	r.devices[d.NodeID] = &stored
	r.markDirtyLocked()
	curr := stored.Clone()
	r.mu.Unlock()

	r.fireDeviceChanged(prevCopy, curr)
	return nil
}

// ReplaceAll swaps the full device set, firing one change callback per
// semantically changed device and a single replaced callback afterwards.
// Used after discovery and by the poll loop.
func (r *Registry) ReplaceAll(devices []Device) error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrClosed
	}

	type change struct {
		prev *Device
		curr Device
	}
	var changes []change

	next := make(map[int]*Device, len(devices))
	for i := range devices {
		d := devices[i].Clone()
		next[d.NodeID] = &d

		prev, existed := r.devices[d.NodeID]
		if existed && d.SemanticEqual(prev) {
			continue
		}
		var prevCopy *Device
		if existed {
			p := prev.Clone()
			prevCopy = &p
		}
		changes = append(changes, change{prev: prevCopy, curr: d.Clone()})
	}

	r.devices = next
	r.lastRefresh = time.Now().UTC()
	if len(changes) > 0 {
		r.markDirtyLocked()
	}
	all := r.listLocked()
	r.mu.Unlock()

	for _, c := range changes {
		r.fireDeviceChanged(c.prev, c.curr)
	}
	r.fireDevicesReplaced(all)
	return nil
}

// SceneUpdate stores a scene. Scenes carry no semantic change detection;
// every accepted update marks the registry dirty.
func (r *Registry) SceneUpdate(s Scene) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	stored := s
	r.scenes[s.SceneID] = &stored
	r.markDirtyLocked()
	return nil
}

// SceneReplaceAll swaps the full scene set.
func (r *Registry) SceneReplaceAll(scenes []Scene) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return ErrClosed
	}

	next := make(map[int]*Scene, len(scenes))
	for i := range scenes {
		s := scenes[i]
		next[s.SceneID] = &s
	}
	r.scenes = next
	r.lastRefresh = time.Now().UTC()
	r.markDirtyLocked()
	return nil
}

// Scenes returns copies of all scenes in stable scene-ID order.
func (r *Registry) Scenes() []Scene {
	r.mu.Lock()
	defer r.mu.Unlock()

	out := make([]Scene, 0, len(r.scenes))
	for _, s := range r.scenes {
		out = append(out, *s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].SceneID < out[j].SceneID })
	return out
}

// Counts returns the current device and scene counts.
func (r *Registry) Counts() (devices, scenes int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.devices), len(r.scenes)
}

// Flush forces an immediate snapshot write if the registry is dirty.
func (r *Registry) Flush() error {
	r.mu.Lock()
	if r.timer != nil {
		r.timer.Stop()
		r.timer = nil
	}
	if !r.dirty || r.snapshotPath == "" {
		r.mu.Unlock()
		return nil
	}
	snap := r.snapshotLocked()
	path := r.snapshotPath
	r.dirty = false
	r.mu.Unlock()

	if err := snap.Save(path); err != nil {
		// Stay dirty; the next mutation re-arms the debounce and retries.
		r.mu.Lock()
		r.dirty = true
		r.mu.Unlock()
		r.logger.Error("snapshot write failed", "path", path, "error", err)
		return err
	}
	r.logger.Debug("snapshot written", "path", path)
	return nil
}

// Close flushes pending state and stops the debounce timer.
// The registry accepts no mutations afterwards.
func (r *Registry) Close() error {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return nil
	}
	r.closed = true
	r.mu.Unlock()

	return r.Flush()
}

// LoadSnapshot seeds the registry from a previously written snapshot file.
// Devices come back marked offline until the gateway confirms them; a missing
// file is not an error. Intended for startup, before any discovery runs.
func (r *Registry) LoadSnapshot() error {
	if r.snapshotPath == "" {
		return nil
	}

	snap, err := LoadSnapshot(r.snapshotPath)
	if err != nil {
		return err
	}
	if snap == nil {
		return nil
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for id, d := range snap.Devices {
		dev := d.Clone()
		dev.Online = false
		dev.Moving = false
		r.devices[id] = &dev
	}
	for id, s := range snap.Scenes {
		scene := s
		r.scenes[id] = &scene
	}
	r.lastRefresh = snap.LastRefresh

	r.logger.Info("snapshot loaded",
		"devices", len(snap.Devices),
		"scenes", len(snap.Scenes))
	return nil
}

// markDirtyLocked sets the dirty bit and (re)arms the debounce timer.
// Caller must hold r.mu.
func (r *Registry) markDirtyLocked() {
	r.dirty = true
	if r.snapshotPath == "" {
		return
	}
	if r.timer != nil {
		r.timer.Stop()
	}
	r.timer = time.AfterFunc(r.debounce, func() {
		//nolint:errcheck // Flush logs failures; the dirty bit handles retry.
		r.Flush()
	})
}

// snapshotLocked builds a Snapshot from current state. Caller must hold r.mu.
func (r *Registry) snapshotLocked() *Snapshot {
	snap := &Snapshot{
		Devices:     make(map[int]Device, len(r.devices)),
		Scenes:      make(map[int]Scene, len(r.scenes)),
		LastRefresh: r.lastRefresh,
	}
	for id, d := range r.devices {
		snap.Devices[id] = d.Clone()
	}
	for id, s := range r.scenes {
		snap.Scenes[id] = *s
	}
	return snap
}

func (r *Registry) fireDeviceChanged(prev *Device, curr Device) {
	r.callbackMu.RLock()
	callback := r.onDeviceChanged
	r.callbackMu.RUnlock()
	if callback != nil {
		callback(prev, curr)
	}
}

func (r *Registry) fireDevicesReplaced(devices []Device) {
	r.callbackMu.RLock()
	callback := r.onDevicesReplaced
	r.callbackMu.RUnlock()
	if callback != nil {
		callback(devices)
	}
}
