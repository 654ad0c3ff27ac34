// Package bridge owns the bus-facing side of the daemon.
//
// It defines the topic map under the configurable prefix, parses incoming
// command payloads, and publishes retained device, scene and status topics
// plus the non-retained error stream.
//
// # Topic map
//
//	{prefix}/status                      out  retained  online|offline (LWT)
//	{prefix}/devices/{n}/state           out  retained  device JSON
//	{prefix}/devices/{n}/position        out  retained  0..100
//	{prefix}/devices/{n}/moving          out  retained  true|false
//	{prefix}/devices/{n}/cmd             in             open|close|stop|0..100
//	{prefix}/devices/{n}/position/set    in             0..100
//	{prefix}/scenes/{n}/state            out  retained  scene JSON
//	{prefix}/scenes/{n}/cmd              in             run
//	{prefix}/cmd                         in             refresh|reconnect
//	{prefix}/errors                      out            error record JSON
//
// Unparseable inbound payloads are logged and discarded; no event reaches
// the daemon for them.
package bridge
