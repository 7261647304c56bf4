package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/customeros/supportstack/internal/utils"
)

const healthCheckTimeout = 2 * time.Second

// Pinger is a dependency checked by the readiness check.
type Pinger interface {
	Ping(ctx context.Context) error
}

type PingFunc func(ctx context.Context) error

func (f PingFunc) Ping(ctx context.Context) error {
	return f(ctx)
}

type HealthHandler struct {
	dependencies map[string]Pinger
}

// NewHealthHandler takes the dependencies checked by /health/ready; nil entries are skipped.
func NewHealthHandler(dependencies map[string]Pinger) *HealthHandler {
	return &HealthHandler{dependencies: dependencies}
}

// HealthCheck provides a simple health check endpoint
func (h *HealthHandler) HealthCheck(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status":    "ok",
		"timestamp": utils.Now().Format(time.RFC3339),
	})
}

func (h *HealthHandler) Live(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{"status": "alive"})
}

func (h *HealthHandler) Ready(c *gin.Context) {
	ctx, cancel := context.WithTimeout(c.Request.Context(), healthCheckTimeout)
	defer cancel()

	ready := true
	services := make(map[string]string, len(h.dependencies))
	for name, dependency := range h.dependencies {
		if dependency == nil {
			continue
		}
		if err := dependency.Ping(ctx); err != nil {
			ready = false
			services[name] = "down"
			continue
		}
		services[name] = "up"
	}

	if !ready {
		c.JSON(http.StatusServiceUnavailable, gin.H{"status": "not ready", "services": services})
		return
	}
	c.JSON(http.StatusOK, gin.H{"status": "ready", "services": services})
}
