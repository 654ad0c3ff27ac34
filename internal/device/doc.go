// Package device holds the bridge's view of the actuators and scenes behind
// the KLF200 gateway.
//
// It provides:
//   - The Device and Scene data model published on the message bus
//   - Position conversion between the gateway's raw scale and the public scale
//   - Actuator type and status-code tables
//   - The Registry: the in-memory authoritative snapshot with semantic change
//     detection and debounced persistence to a JSON snapshot file
//
// # Position scales
//
// The gateway reports positions on a [0.0, 1.0] scale where 0.0 is fully open
// and 1.0 is fully closed. Consumers on the bus see the inverse percentage
// scale: 0 is closed, 100 is open. ToPublic and ToRaw convert between the two
// and round-trip exactly for every integer percentage.
//
// # Ownership
//
// The Registry exclusively owns the device and scene maps. Callers always
// receive copies; mutations go through Update/ReplaceAll, which serialise
// internally and fire change callbacks only when a semantic field changed.
package device
