// Package config loads and validates the bridge configuration.
//
// Configuration comes from three layers, each overriding the last:
//
//  1. Built-in defaults
//  2. The configuration file (JSON; YAML accepted by file extension)
//  3. Environment variables (VELUXBRIDGE_*)
//
// Broker coordinates live in a separate operator file at a system path
// (see LoadBroker): the bridge shares its broker with other services on the
// host, so the operator maintains those credentials in one place. A missing
// broker file falls back to an anonymous localhost connection.
//
// Validation is fail-fast: a missing gateway host or password, an invalid
// port or an invalid QoS aborts startup before any external connection is
// opened.
package config
