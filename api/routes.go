package api

import (
	"github.com/gin-gonic/gin"
	"github.com/opentracing/opentracing-go"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/customeros/supportstack/api/handlers"
	"github.com/customeros/supportstack/api/middleware"
	"github.com/customeros/supportstack/internal/tracing"
)

const (
	APIKeyHeader = "X-SUPPORTSTACK-API-KEY"
	AppSource    = "supportstack"
)

// RegisterRoutes sets up all API endpoints
func RegisterRoutes(r *gin.Engine, h *handlers.APIHandlers, apikey string) {
	if h == nil {
		panic("Handlers cannot be nil")
	}

	// Add recovery middlewares
	r.Use(gin.Recovery())                                         // Gin's built-in recovery
	r.Use(tracing.RecoveryWithJaeger(opentracing.GlobalTracer())) // Our custom Jaeger recovery

	// Health check and metrics endpoints (no custom context needed)
	r.GET("/health", h.Health.HealthCheck)
	r.GET("/health/live", h.Health.Live)
	r.GET("/health/ready", h.Health.Ready)
	r.GET("/metrics", gin.WrapH(promhttp.Handler()))

	// SNS cannot send an API key
	webhooks := r.Group("/webhooks")
	webhooks.Use(middleware.CustomContextMiddleware(AppSource))
	webhooks.Use(middleware.TracingMiddleware())
	{
		webhooks.POST("/inbound-email", h.Inbound.ReceiveEmail())
	}

	apiKeyMiddleware := middleware.APIKeyMiddleware(middleware.APIKeyConfig{
		HeaderName:  APIKeyHeader,
		ValidAPIKey: apikey,
	})

	// API group with version and custom context
	api := r.Group("/v1")
	api.Use(apiKeyMiddleware)
	api.Use(middleware.CustomContextMiddleware(AppSource)) // Add custom context for all /v1/* endpoints
	api.Use(middleware.TracingMiddleware())                // Add tracing for all /v1/* endpoints
	{
		tickets := api.Group("/tickets")
		{
			tickets.POST("/:id/reply", h.Tickets.Reply())
			tickets.PATCH("/:id/status", h.Tickets.UpdateStatus())
		}
	}
}
