// Package server exposes the local RPC surface (§6): health, stop,
// restart, get_config, set_config, stats. The core only consumes the
// stop/restart signal this package emits on its shutdown channel; routing
// and transport live here. The server does not authenticate requests.
package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/rs/zerolog"
	"github.com/shirou/gopsutil/v3/cpu"
	"github.com/shirou/gopsutil/v3/mem"

	"github.com/aristath/marketmaker/internal/config"
)

// Action is what the caller asked the engine to do after it finishes
// shutting down.
type Action int

const (
	// Nothing means exit the process once shutdown completes.
	Nothing Action = iota
	// Restart is carried through to the shutdown outcome as
	// lifecycle.Restart; cmd/server logs it and exits without re-executing.
	Restart
)

// ShutdownRequest is sent on Server's Shutdown channel when stop/restart is
// invoked over RPC.
type ShutdownRequest struct {
	Action Action
	Reason string
}

// ErrorCode enumerates the RPC layer's structured failure codes (§7).
type ErrorCode string

const (
	FailedToSaveNewConfig          ErrorCode = "FailedToSaveNewConfig"
	UnableToSendSignal             ErrorCode = "UnableToSendSignal"
	StopperIsNone                  ErrorCode = "StopperIsNone"
	TradingEngineServiceUnavailable ErrorCode = "TradingEngineServiceUnavailable"
	RequestTimeout                 ErrorCode = "RequestTimeout"
)

type apiError struct {
	Code    ErrorCode `json:"code"`
	Message string    `json:"message"`
}

// Config configures the server.
type Config struct {
	Log             zerolog.Logger
	Port            int
	DevMode         bool
	MainConfigPath  string
	CredentialsPath string
	StartedAt       time.Time
	GetConfig       func() *config.Config
	Stats           func() map[string]any
}

// Server is the local control-plane HTTP server.
type Server struct {
	router *chi.Mux
	server *http.Server
	log    zerolog.Logger
	cfg    Config

	// Shutdown receives exactly one ShutdownRequest when stop or restart is
	// invoked; the engine's lifecycle manager is the sole consumer.
	Shutdown chan ShutdownRequest
}

// New constructs a Server; call ListenAndServe to start it.
func New(cfg Config) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		log:      cfg.Log.With().Str("component", "server").Logger(),
		cfg:      cfg,
		Shutdown: make(chan ShutdownRequest, 1),
	}
	s.setupMiddleware()
	s.setupRoutes()
	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      s.router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

func (s *Server) setupMiddleware() {
	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.RealIP)
	s.router.Use(s.loggingMiddleware)
	s.router.Use(middleware.Timeout(60 * time.Second))
	s.router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
		MaxAge:           300,
	}))
	if !s.cfg.DevMode {
		s.router.Use(middleware.Compress(5))
	}
}

func (s *Server) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.log.Info().
			Str("method", r.Method).
			Str("path", r.URL.Path).
			Int("status", ww.Status()).
			Dur("elapsed", time.Since(start)).
			Str("request_id", middleware.GetReqID(r.Context())).
			Msg("request")
	})
}

func (s *Server) setupRoutes() {
	s.router.Get("/health", s.handleHealth)
	s.router.Route("/api", func(r chi.Router) {
		r.Post("/stop", s.handleStop)
		r.Post("/restart", s.handleRestart)
		r.Get("/config", s.handleGetConfig)
		r.Post("/config", s.handleSetConfig)
		r.Get("/stats", s.handleStats)
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{
		"status": "ok",
		"uptime": time.Since(s.cfg.StartedAt).String(),
	})
}

// handleStop requests a graceful shutdown with Action == Nothing.
func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	s.requestShutdown(w, Nothing, "stop requested via rpc")
}

// handleRestart requests a graceful shutdown with Action == Restart.
func (s *Server) handleRestart(w http.ResponseWriter, r *http.Request) {
	s.requestShutdown(w, Restart, "restart requested via rpc")
}

func (s *Server) requestShutdown(w http.ResponseWriter, action Action, reason string) {
	select {
	case s.Shutdown <- ShutdownRequest{Action: action, Reason: reason}:
		writeJSON(w, http.StatusAccepted, map[string]string{"status": "shutdown_requested"})
	default:
		writeError(w, http.StatusServiceUnavailable, UnableToSendSignal, "a shutdown is already in progress")
	}
}

func (s *Server) handleGetConfig(w http.ResponseWriter, r *http.Request) {
	if s.cfg.GetConfig == nil {
		writeError(w, http.StatusServiceUnavailable, TradingEngineServiceUnavailable, "config provider not wired")
		return
	}
	writeJSON(w, http.StatusOK, s.cfg.GetConfig())
}

func (s *Server) handleSetConfig(w http.ResponseWriter, r *http.Request) {
	var cfg config.Config
	if err := json.NewDecoder(r.Body).Decode(&cfg); err != nil {
		writeError(w, http.StatusBadRequest, FailedToSaveNewConfig, err.Error())
		return
	}
	if err := config.Save(&cfg, s.cfg.MainConfigPath, s.cfg.CredentialsPath); err != nil {
		writeError(w, http.StatusInternalServerError, FailedToSaveNewConfig, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "saved"})
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	out := map[string]any{}
	if s.cfg.Stats != nil {
		for k, v := range s.cfg.Stats() {
			out[k] = v
		}
	}
	if cpuPercent, err := cpu.Percent(100*time.Millisecond, false); err == nil && len(cpuPercent) > 0 {
		out["cpu_percent"] = cpuPercent[0]
	}
	if memStat, err := mem.VirtualMemory(); err == nil {
		out["mem_used_percent"] = memStat.UsedPercent
		out["mem_used_bytes"] = memStat.Used
	}
	writeJSON(w, http.StatusOK, out)
}

// ListenAndServe starts the HTTP server; it blocks until the server stops.
func (s *Server) ListenAndServe() error {
	s.log.Info().Str("addr", s.server.Addr).Msg("server starting")
	err := s.server.ListenAndServe()
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Close shuts the HTTP server down within ctx's deadline.
func (s *Server) Close(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code ErrorCode, message string) {
	writeJSON(w, status, apiError{Code: code, Message: message})
}
