package observability

import (
	"context"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
)

// HealthStatus represents the overall health status.
type HealthStatus string

const (
	HealthStatusHealthy   HealthStatus = "healthy"
	HealthStatusDegraded  HealthStatus = "degraded"
	HealthStatusUnhealthy HealthStatus = "unhealthy"
)

// ComponentHealth represents the health of a single component.
type ComponentHealth struct {
	Status  HealthStatus `json:"status"`
	Message string       `json:"message,omitempty"`
	Latency string       `json:"latency,omitempty"`
}

// HealthResponse is returned by health check endpoints.
type HealthResponse struct {
	Status     HealthStatus               `json:"status"`
	Timestamp  time.Time                  `json:"timestamp"`
	Version    string                     `json:"version,omitempty"`
	Components map[string]ComponentHealth `json:"components,omitempty"`
}

// HealthChecker checks one component's health.
type HealthChecker func(ctx context.Context) ComponentHealth

// Health manages health check state and handlers.
type Health struct {
	version  string
	checkers map[string]HealthChecker
	mu       sync.RWMutex

	ready   bool
	readyMu sync.RWMutex
}

// NewHealth creates a health checker.
func NewHealth(version string) *Health {
	return &Health{
		version:  version,
		checkers: make(map[string]HealthChecker),
	}
}

// RegisterChecker adds a health check for a named component.
func (h *Health) RegisterChecker(name string, checker HealthChecker) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.checkers[name] = checker
}

// SetReady sets the readiness state.
func (h *Health) SetReady(ready bool) {
	h.readyMu.Lock()
	defer h.readyMu.Unlock()
	h.ready = ready
}

// IsReady returns the current readiness state.
func (h *Health) IsReady() bool {
	h.readyMu.RLock()
	defer h.readyMu.RUnlock()
	return h.ready
}

// LivenessHandler reports that the process is running.
func (h *Health) LivenessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		writeHealth(w, http.StatusOK, HealthResponse{
			Status:    HealthStatusHealthy,
			Timestamp: time.Now().UTC(),
			Version:   h.version,
		})
	}
}

// ReadinessHandler reports whether the engine can accept traffic.
func (h *Health) ReadinessHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if !h.IsReady() {
			writeHealth(w, http.StatusServiceUnavailable, HealthResponse{
				Status:    HealthStatusUnhealthy,
				Timestamp: time.Now().UTC(),
				Version:   h.version,
			})
			return
		}

		ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
		defer cancel()

		response := h.checkAll(ctx)
		status := http.StatusOK
		if response.Status == HealthStatusUnhealthy {
			status = http.StatusServiceUnavailable
		}
		writeHealth(w, status, response)
	}
}

func writeHealth(w http.ResponseWriter, status int, response HealthResponse) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(response)
}

// checkAll runs all registered health checkers concurrently.
func (h *Health) checkAll(ctx context.Context) HealthResponse {
	h.mu.RLock()
	checkers := make(map[string]HealthChecker, len(h.checkers))
	for name, checker := range h.checkers {
		checkers[name] = checker
	}
	h.mu.RUnlock()

	response := HealthResponse{
		Status:     HealthStatusHealthy,
		Timestamp:  time.Now().UTC(),
		Version:    h.version,
		Components: make(map[string]ComponentHealth),
	}

	var wg sync.WaitGroup
	var mu sync.Mutex
	hasUnhealthy := false
	hasDegraded := false

	for name, checker := range checkers {
		wg.Add(1)
		go func(name string, checker HealthChecker) {
			defer wg.Done()

			start := time.Now()
			result := checker(ctx)
			result.Latency = time.Since(start).String()

			mu.Lock()
			response.Components[name] = result
			switch result.Status {
			case HealthStatusUnhealthy:
				hasUnhealthy = true
			case HealthStatusDegraded:
				hasDegraded = true
			}
			mu.Unlock()
		}(name, checker)
	}
	wg.Wait()

	if hasUnhealthy {
		response.Status = HealthStatusUnhealthy
	} else if hasDegraded {
		response.Status = HealthStatusDegraded
	}
	return response
}

// DatabaseChecker creates a health checker for the audit database.
func DatabaseChecker(pingFunc func(ctx context.Context) error) HealthChecker {
	return func(ctx context.Context) ComponentHealth {
		if err := pingFunc(ctx); err != nil {
			return ComponentHealth{
				Status:  HealthStatusUnhealthy,
				Message: "database unreachable: " + err.Error(),
			}
		}
		return ComponentHealth{Status: HealthStatusHealthy, Message: "connected"}
	}
}

// RegistryChecker creates a health checker for the policy registry.
// An empty registry is degraded, not unhealthy: the engine still renders
// decisions (deny) for unknown policies.
func RegistryChecker(policyCount func() int) HealthChecker {
	return func(ctx context.Context) ComponentHealth {
		if policyCount() == 0 {
			return ComponentHealth{
				Status:  HealthStatusDegraded,
				Message: "no policies registered",
			}
		}
		return ComponentHealth{Status: HealthStatusHealthy, Message: "ready"}
	}
}
