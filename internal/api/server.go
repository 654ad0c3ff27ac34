// Package api provides the read-only status HTTP API for the bridge.
//
// It exposes registry snapshots, connection health and session metrics,
// plus a WebSocket stream of device state changes. There is no write
// surface and no authentication: the server binds to loopback by default
// and sits on the same trusted network as the bus consumers. Control
// flows through the bus, never through HTTP.
//
// The server follows the same lifecycle pattern as the other components:
//
//	server := api.New(deps)
//	server.Start()
//	defer server.Close()
package api

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"time"

	"github.com/nerrad567/velux-bridge/internal/device"
	"github.com/nerrad567/velux-bridge/internal/infrastructure/config"
	"github.com/nerrad567/velux-bridge/internal/infrastructure/logging"
	"github.com/nerrad567/velux-bridge/internal/velux"
)

// gracefulShutdownTimeout is the maximum time to wait for in-flight
// requests during shutdown.
const gracefulShutdownTimeout = 5 * time.Second

// Deps holds the dependencies required by the API server.
type Deps struct {
	Config   config.APIConfig
	Logger   *logging.Logger
	Registry *device.Registry

	// SessionStats returns current gateway session statistics.
	SessionStats func() velux.SessionStats

	// BusConnected reports the broker connection state.
	BusConnected func() bool

	Version string
}

// Server is the status HTTP server.
//
// Thread Safety: all methods are safe for concurrent use.
type Server struct {
	cfg          config.APIConfig
	logger       *logging.Logger
	registry     *device.Registry
	sessionStats func() velux.SessionStats
	busConnected func() bool
	version      string

	hub  *Hub
	http *http.Server
}

// New creates the server. Call Start to begin serving.
func New(deps Deps) *Server {
	s := &Server{
		cfg:          deps.Config,
		logger:       deps.Logger,
		registry:     deps.Registry,
		sessionStats: deps.SessionStats,
		busConnected: deps.BusConnected,
		version:      deps.Version,
		hub:          NewHub(deps.Logger),
	}

	s.http = &http.Server{
		Addr:         net.JoinHostPort(deps.Config.Host, fmt.Sprintf("%d", deps.Config.Port)),
		Handler:      s.buildRouter(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Start begins serving on the configured address.
// Serving happens on an internal goroutine; Start returns immediately.
func (s *Server) Start() error {
	listener, err := net.Listen("tcp", s.http.Addr)
	if err != nil {
		return fmt.Errorf("api listen %s: %w", s.http.Addr, err)
	}

	s.hub.Start()

	go func() {
		if err := s.http.Serve(listener); err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("api server stopped", "error", err)
		}
	}()

	s.logger.Info("status API listening", "addr", s.http.Addr)
	return nil
}

// NotifyDeviceChanged pushes a device state change to WebSocket clients.
func (s *Server) NotifyDeviceChanged(d device.Device) {
	s.hub.BroadcastDevice(d)
}

// Close stops the server, waiting briefly for in-flight requests.
func (s *Server) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), gracefulShutdownTimeout)
	defer cancel()

	s.hub.Close()
	if err := s.http.Shutdown(ctx); err != nil {
		return fmt.Errorf("api shutdown: %w", err)
	}
	return nil
}
