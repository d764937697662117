// Package api fronts the enforcement engine's in-process operations with
// an HTTP/JSON boundary.
package api

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/carbongrid/enforcer/internal/audit"
	"github.com/carbongrid/enforcer/internal/observability"
	"github.com/carbongrid/enforcer/internal/policy"
)

// ServerConfig holds API server settings.
type ServerConfig struct {
	Address      string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
}

// Server exposes the enforcement service over HTTP.
type Server struct {
	cfg     ServerConfig
	service *policy.Service
	store   *audit.Store           // optional, enables /v1/audit
	metrics *observability.Metrics // optional

	httpServer *http.Server
}

// NewServer creates the API server. store and metrics may be nil.
func NewServer(cfg ServerConfig, service *policy.Service, store *audit.Store, metrics *observability.Metrics) *Server {
	return &Server{
		cfg:     cfg,
		service: service,
		store:   store,
		metrics: metrics,
	}
}

// Handler returns the routed HTTP handler.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("POST /v1/policies", s.handleCompile)
	mux.HandleFunc("POST /v1/enforce", s.handleEnforce)
	mux.HandleFunc("POST /v1/enforce/batch", s.handleEnforceBatch)
	mux.HandleFunc("GET /v1/stats", s.handleStats)
	if s.store != nil {
		mux.HandleFunc("GET /v1/audit", s.handleAuditQuery)
	}
	return mux
}

// Start begins serving in the background.
func (s *Server) Start(ctx context.Context) error {
	addr := fmt.Sprintf("%s:%d", s.cfg.Address, s.cfg.Port)
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  s.cfg.ReadTimeout,
		WriteTimeout: s.cfg.WriteTimeout,
		IdleTimeout:  s.cfg.IdleTimeout,
	}

	go func() {
		log.Info().Str("address", addr).Msg("API server listening")
		if err := s.httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msg("API server error")
		}
	}()

	return nil
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}
