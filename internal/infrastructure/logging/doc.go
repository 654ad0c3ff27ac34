// Package logging provides the bridge's structured logger.
//
// It wraps log/slog with level-based filtering, JSON or text output and
// default fields. The level is held in a slog.LevelVar so it can be
// adjusted at runtime: Watcher re-applies the configured level whenever
// the configuration file changes on disk, without a restart.
//
// Logging is the one ambient dependency in the bridge; everything else is
// passed in at construction.
package logging
