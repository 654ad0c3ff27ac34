// Package velux speaks the KLF200 gateway API over TLS.
//
// The gateway exposes a framed request/confirm protocol with asynchronous
// notification frames, wrapped in SLIP on a TLS socket (port 51200). This
// package contains the four layers the bridge needs:
//
//   - frame.go: SLIP framing and the frame codec (protocol ID, length,
//     command, XOR checksum)
//   - protocol.go: command identifiers and typed encode/decode for the
//     API subset the bridge uses
//   - client.go: the TLS transport owning the socket, correlating confirm
//     frames to requests and dispatching notifications in arrival order
//   - session.go: the session manager with login, discovery, keepalive,
//     exponential-backoff reconnect and per-node command serialisation
//
// # Session lifecycle
//
//	session := velux.NewSession(cfg)
//	session.SetOnDeviceChanged(...)
//	if err := session.Connect(ctx); err != nil { ... }
//	defer session.Close()
//
// The gateway severs idle sessions after 10-15 minutes; the session sends a
// lightweight state query on a keepalive timer to hold the connection open,
// and re-dials with exponential backoff when the transport drops.
//
// # Security
//
// The gateway presents a self-signed certificate. By default any certificate
// is accepted; when a SHA-256 fingerprint is configured the presented leaf
// certificate must match it exactly.
package velux
