package http

import (
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/smartcity/hardbruecke/pkg/metrics"
)

// SetupRoutes configures all HTTP routes
func SetupRoutes(app *fiber.App, handler *Handler, registry *prometheus.Registry) {
	// Health check
	app.Get("/health", handler.HealthCheck)
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(registry, promhttp.HandlerOpts{})))

	// API v1 routes
	api := app.Group("/api/v1")
	{
		api.Get("/options", handler.GetOptions)
		api.Get("/predictions", handler.GetPrediction)
		api.Get("/history", handler.GetHistory)

		// Feature-encoding pipeline as a service
		api.Post("/featurize", handler.Featurize)
	}
}

// MetricsMiddleware records every request by matched route
func MetricsMiddleware(m *metrics.Manager) fiber.Handler {
	return func(c *fiber.Ctx) error {
		start := time.Now()
		err := c.Next()

		status := c.Response().StatusCode()
		if err != nil {
			status = fiber.StatusInternalServerError
			if fe, ok := err.(*fiber.Error); ok {
				status = fe.Code
			}
		}
		m.RecordHTTPRequest(c.Route().Path, c.Method(), strconv.Itoa(status), time.Since(start))
		return err
	}
}
