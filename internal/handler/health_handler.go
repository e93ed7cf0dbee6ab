package handler

import (
	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/arturoeanton/go-git-rag/internal/domain"
)

// MirrorStatusFunc reports the mirror state for health checks.
type MirrorStatusFunc func() domain.MirrorStatus

// RegisterHealth mounts GET /health on router.
func RegisterHealth(router fiber.Router, appName, version string, mirror MirrorStatusFunc) {
	router.Get("/health", func(c fiber.Ctx) error {
		body := fiber.Map{
			"status":  "healthy",
			"app":     appName,
			"version": version,
		}
		if mirror != nil {
			body["mirror"] = mirror().Status
		}
		return c.JSON(body)
	})
}

// RegisterMetrics mounts the Prometheus scrape endpoint at /metrics.
func RegisterMetrics(app *fiber.App, gatherer prometheus.Gatherer) {
	app.Get("/metrics", adaptor.HTTPHandler(promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{})))
}
