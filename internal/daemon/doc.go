// Package daemon wires the bridge together and runs it.
//
// The daemon owns the startup sequence, the event wiring between the
// gateway session, the device registry and the bus bridge, the periodic
// poll loop and graceful shutdown.
//
// # Event flow
//
//	gateway deviceStateChanged → registry.Update → (if changed) bus.PublishDevice
//	gateway connected          → bus.PublishStatus(online)
//	gateway disconnected       → bus.PublishError (status stays; LWT covers process death)
//	bus deviceCommand          → gateway.SetPosition / Stop
//	bus sceneCommand           → gateway.RunScene
//	bus globalCommand          → gateway.Refresh / Reconnect
//
// Shutdown runs in reverse of startup and tolerates collaborators that are
// already closed: stop polling, stop the status API, close the gateway
// session, publish offline and close the bus, flush and close the registry.
package daemon
