// Package server exposes the engine's control surface: queue status and
// control, price stage control, strategy configuration, and daily strategy
// statistics. JSON responses always carry {success, data|error}; /metrics
// serves the Prometheus exposition format.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/scanenginehq/scanengine/internal/transport"
)

// Config holds the HTTP server configuration.
type Config struct {
	Port        int
	CORSOrigins []string
}

// Backend is the slice of the engine the control surface drives.
type Backend interface {
	QueuesStatus() map[string]any
	ControlScan(action string) error
	ControlPrice(action string) error
	StrategyConfigs() (map[string]map[string]any, error)
	UpdateStrategyConfig(ctx context.Context, strategy string, cfg map[string]any) error
	StrategyStatus() map[string]any
	SetEmergencyStop(engaged bool)
	RecentRequests() []transport.LogRecord
	MetricsHandler() http.Handler
}

// Server is the control-surface HTTP server.
type Server struct {
	httpServer *http.Server
	backend    Backend
	cors       []string
	logger     *slog.Logger
}

// New builds the server and registers every route.
func New(cfg Config, backend Backend, logger *slog.Logger) *Server {
	s := &Server{
		backend: backend,
		cors:    cfg.CORSOrigins,
		logger:  logger.With(slog.String("component", "server")),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("GET /queues/status", s.handleQueuesStatus)
	mux.HandleFunc("POST /queues/control", s.handleQueuesControl)
	mux.HandleFunc("POST /queues/price", s.handlePriceControl)
	mux.HandleFunc("GET /strategies/config", s.handleGetStrategyConfig)
	mux.HandleFunc("POST /strategies/config", s.handlePostStrategyConfig)
	mux.HandleFunc("GET /strategies/status", s.handleStrategyStatus)
	mux.HandleFunc("POST /emergency-stop", s.handleEmergencyStop)
	mux.HandleFunc("GET /logs/recent", s.handleRecentLogs)
	mux.Handle("GET /metrics", backend.MetricsHandler())
	mux.HandleFunc("GET /healthz", func(w http.ResponseWriter, r *http.Request) {
		writeSuccess(w, map[string]string{"status": "ok"})
	})

	s.httpServer = &http.Server{
		Addr:              fmt.Sprintf(":%d", cfg.Port),
		Handler:           s.withCORS(mux),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("control surface listening", slog.String("addr", s.httpServer.Addr))
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = s.httpServer.Shutdown(shutdownCtx)
		return ctx.Err()
	case err := <-errCh:
		return err
	}
}

func (s *Server) handleQueuesStatus(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, s.backend.QueuesStatus())
}

type controlRequest struct {
	Action string `json:"action"`
}

func (s *Server) handleQueuesControl(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.backend.ControlScan(req.Action); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeSuccess(w, map[string]string{"action": req.Action})
}

func (s *Server) handlePriceControl(w http.ResponseWriter, r *http.Request) {
	var req controlRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if err := s.backend.ControlPrice(req.Action); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeSuccess(w, map[string]string{"action": req.Action})
}

func (s *Server) handleGetStrategyConfig(w http.ResponseWriter, r *http.Request) {
	configs, err := s.backend.StrategyConfigs()
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	writeSuccess(w, configs)
}

type strategyConfigRequest struct {
	Strategy string         `json:"strategy"`
	Config   map[string]any `json:"config"`
}

func (s *Server) handlePostStrategyConfig(w http.ResponseWriter, r *http.Request) {
	var req strategyConfigRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	if req.Strategy == "" || req.Config == nil {
		writeError(w, http.StatusBadRequest, "strategy and config are required")
		return
	}
	if err := s.backend.UpdateStrategyConfig(r.Context(), req.Strategy, req.Config); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeSuccess(w, map[string]string{"strategy": req.Strategy})
}

func (s *Server) handleStrategyStatus(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, s.backend.StrategyStatus())
}

type emergencyStopRequest struct {
	Engaged bool `json:"engaged"`
}

func (s *Server) handleEmergencyStop(w http.ResponseWriter, r *http.Request) {
	var req emergencyStopRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body")
		return
	}
	s.backend.SetEmergencyStop(req.Engaged)
	writeSuccess(w, map[string]bool{"engaged": req.Engaged})
}

func (s *Server) handleRecentLogs(w http.ResponseWriter, r *http.Request) {
	writeSuccess(w, s.backend.RecentRequests())
}

// withCORS applies the configured allowed origins.
func (s *Server) withCORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		origin := r.Header.Get("Origin")
		for _, allowed := range s.cors {
			if allowed == "*" || allowed == origin {
				w.Header().Set("Access-Control-Allow-Origin", allowed)
				w.Header().Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
				w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
				break
			}
		}
		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		next.ServeHTTP(w, r)
	})
}

type apiResponse struct {
	Success bool   `json:"success"`
	Data    any    `json:"data,omitempty"`
	Error   string `json:"error,omitempty"`
}

func writeSuccess(w http.ResponseWriter, data any) {
	writeJSON(w, http.StatusOK, apiResponse{Success: true, Data: data})
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, apiResponse{Success: false, Error: msg})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	data, err := json.Marshal(v)
	if err != nil {
		http.Error(w, `{"success":false,"error":"internal server error"}`, http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_, _ = w.Write(data)
}
