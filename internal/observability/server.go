package observability

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog/log"
)

// ServerConfig holds configuration for the observability server.
type ServerConfig struct {
	MetricsEnabled bool
	MetricsAddress string
	MetricsPort    int
	MetricsPath    string

	HealthEnabled bool
	HealthAddress string
	HealthPort    int
	LivenessPath  string
	ReadinessPath string
}

// Server serves metrics and health check endpoints.
type Server struct {
	cfg    ServerConfig
	health *Health

	metricsServer *http.Server
	healthServer  *http.Server
}

// NewServer creates an observability server.
func NewServer(cfg ServerConfig, health *Health) *Server {
	return &Server{cfg: cfg, health: health}
}

// Start starts the enabled observability listeners.
func (s *Server) Start(ctx context.Context) error {
	if s.cfg.MetricsEnabled {
		mux := http.NewServeMux()
		mux.Handle(s.cfg.MetricsPath, promhttp.Handler())
		s.metricsServer = s.listen(fmt.Sprintf("%s:%d", s.cfg.MetricsAddress, s.cfg.MetricsPort), mux, "Metrics")
	}

	if s.cfg.HealthEnabled {
		mux := http.NewServeMux()
		mux.HandleFunc(s.cfg.LivenessPath, s.health.LivenessHandler())
		mux.HandleFunc(s.cfg.ReadinessPath, s.health.ReadinessHandler())
		s.healthServer = s.listen(fmt.Sprintf("%s:%d", s.cfg.HealthAddress, s.cfg.HealthPort), mux, "Health")
	}

	return nil
}

func (s *Server) listen(addr string, handler http.Handler, name string) *http.Server {
	srv := &http.Server{
		Addr:         addr,
		Handler:      handler,
		ReadTimeout:  5 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	go func() {
		log.Info().Str("address", addr).Msgf("%s server listening", name)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error().Err(err).Msgf("%s server error", name)
		}
	}()

	return srv
}

// Stop gracefully stops the observability servers.
func (s *Server) Stop(ctx context.Context) error {
	var errs []error

	if s.metricsServer != nil {
		if err := s.metricsServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("metrics server shutdown: %w", err))
		}
	}
	if s.healthServer != nil {
		if err := s.healthServer.Shutdown(ctx); err != nil {
			errs = append(errs, fmt.Errorf("health server shutdown: %w", err))
		}
	}

	if len(errs) > 0 {
		return errs[0]
	}
	return nil
}
