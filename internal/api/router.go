package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/nerrad567/velux-bridge/internal/device"
)

// buildRouter creates the HTTP router with all routes and middleware.
func (s *Server) buildRouter() http.Handler {
	r := chi.NewRouter()

	r.Use(s.requestIDMiddleware)
	r.Use(s.loggingMiddleware)
	r.Use(s.recoveryMiddleware)

	r.Route("/api/v1", func(r chi.Router) {
		r.Get("/health", s.handleHealth)
		r.Get("/devices", s.handleListDevices)
		r.Get("/devices/{nodeID}", s.handleGetDevice)
		r.Get("/scenes", s.handleListScenes)
		r.Get("/metrics", s.handleMetrics)
		r.Get("/ws", s.handleWebSocket)
	})

	return r
}

// requestIDKey is the context key for the request identifier.
type requestIDKey struct{}

// requestIDMiddleware attaches a unique identifier to every request.
func (s *Server) requestIDMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := uuid.NewString()
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(
			contextWithRequestID(r.Context(), id)))
	})
}

// loggingMiddleware logs each request at debug level.
func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		next.ServeHTTP(w, r)
		s.logger.Debug("api request",
			"method", r.Method,
			"path", r.URL.Path,
			"duration", time.Since(start),
			"request_id", requestIDFrom(r.Context()))
	})
}

// recoveryMiddleware turns handler panics into 500 responses.
func (s *Server) recoveryMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if rec := recover(); rec != nil {
				s.logger.Error("api handler panic",
					"path", r.URL.Path, "panic", rec)
				http.Error(w, "internal server error", http.StatusInternalServerError)
			}
		}()
		next.ServeHTTP(w, r)
	})
}

// healthResponse is the /health document.
type healthResponse struct {
	Status  string `json:"status"`
	Gateway string `json:"gateway"`
	Bus     bool   `json:"bus"`
	Version string `json:"version"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	stats := s.sessionStats()
	resp := healthResponse{
		Status:  "ok",
		Gateway: stats.State,
		Bus:     s.busConnected(),
		Version: s.version,
	}
	if !resp.Bus || stats.State != "connected" {
		resp.Status = "degraded"
	}
	s.writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleListDevices(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.registry.List())
}

func (s *Server) handleGetDevice(w http.ResponseWriter, r *http.Request) {
	nodeID, err := strconv.Atoi(chi.URLParam(r, "nodeID"))
	if err != nil {
		http.Error(w, "invalid node ID", http.StatusBadRequest)
		return
	}

	d, err := s.registry.Get(nodeID)
	if err != nil {
		http.Error(w, "device not found", http.StatusNotFound)
		return
	}
	s.writeJSON(w, http.StatusOK, d)
}

func (s *Server) handleListScenes(w http.ResponseWriter, _ *http.Request) {
	s.writeJSON(w, http.StatusOK, s.registry.Scenes())
}

// metricsResponse is the /metrics document.
type metricsResponse struct {
	Gateway      gatewayMetrics `json:"gateway"`
	DeviceCount  int            `json:"deviceCount"`
	SceneCount   int            `json:"sceneCount"`
	BusConnected bool           `json:"busConnected"`
}

type gatewayMetrics struct {
	State             string    `json:"state"`
	FramesTx          uint64    `json:"framesTx"`
	FramesRx          uint64    `json:"framesRx"`
	ErrorsTotal       uint64    `json:"errorsTotal"`
	ReconnectAttempts uint64    `json:"reconnectAttempts"`
	LastActivity      time.Time `json:"lastActivity"`
}

func (s *Server) handleMetrics(w http.ResponseWriter, _ *http.Request) {
	stats := s.sessionStats()
	devices, scenes := s.registry.Counts()

	s.writeJSON(w, http.StatusOK, metricsResponse{
		Gateway: gatewayMetrics{
			State:             stats.State,
			FramesTx:          stats.FramesTx,
			FramesRx:          stats.FramesRx,
			ErrorsTotal:       stats.ErrorsTotal,
			ReconnectAttempts: stats.ReconnectAttempts,
			LastActivity:      stats.LastActivity.UTC(),
		},
		DeviceCount:  devices,
		SceneCount:   scenes,
		BusConnected: s.busConnected(),
	})
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		s.logger.Warn("api response encode failed", "error", err)
	}
}

// eventEnvelope is the WebSocket event document.
type eventEnvelope struct {
	Type      string        `json:"type"`
	Timestamp time.Time     `json:"timestamp"`
	Device    device.Device `json:"device"`
}
