package handler

import (
	"context"
	"net/http"
	"sort"
	"time"

	"github.com/gin-gonic/gin"
)

// HealthChecker is a dependency that can report its own health
type HealthChecker interface {
	HealthCheck(ctx context.Context) error
}

// HealthHandler handles health check endpoints
type HealthHandler struct {
	components map[string]HealthChecker
}

// NewHealthHandler creates a new HealthHandler. Nil checkers are reported as
// not configured.
func NewHealthHandler(components map[string]HealthChecker) *HealthHandler {
	return &HealthHandler{components: components}
}

// HealthResponse represents health check response
type HealthResponse struct {
	Status    string `json:"status"`
	Timestamp string `json:"timestamp"`
}

// ReadyResponse represents readiness check response
type ReadyResponse struct {
	Status     string            `json:"status"`
	Timestamp  string            `json:"timestamp"`
	Components map[string]string `json:"components"`
}

// Health returns a simple health check (liveness probe)
func (h *HealthHandler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, HealthResponse{
		Status:    "healthy",
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// Ready returns a readiness check (readiness probe)
func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), 5*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.components))
	for name := range h.components {
		names = append(names, name)
	}
	sort.Strings(names)

	components := make(map[string]string, len(names))
	allHealthy := true
	for _, name := range names {
		checker := h.components[name]
		if checker == nil {
			components[name] = "not configured"
			continue
		}
		if err := checker.HealthCheck(ctx); err != nil {
			components[name] = "unhealthy: " + err.Error()
			allHealthy = false
			continue
		}
		components[name] = "healthy"
	}

	response := ReadyResponse{
		Timestamp:  time.Now().UTC().Format(time.RFC3339),
		Components: components,
	}

	if allHealthy {
		response.Status = "ready"
		c.JSON(http.StatusOK, response)
	} else {
		response.Status = "not ready"
		c.JSON(http.StatusServiceUnavailable, response)
	}
}
