package http

import (
	"github.com/gofiber/fiber/v2"

	"github.com/nico-hl/ticketkp/internal/api/http/handlers"
)

// RouteConfig bundles dependencies for route registration.
type RouteConfig struct {
	Health  *handlers.HealthHandler
	Metrics *handlers.MetricsHandler
	Tickets *handlers.TicketsHandler
	Files   *handlers.FilesHandler
}

// RegisterRoutes wires HTTP routes.
func RegisterRoutes(app *fiber.App, cfg RouteConfig) {
	app.Get("/health/live", cfg.Health.Live)
	app.Get("/health/ready", cfg.Health.Ready)
	if cfg.Metrics != nil {
		app.Get("/metrics", cfg.Metrics.Show)
	}

	tickets := app.Group("/tickets")
	tickets.Get("/", cfg.Tickets.ListTickets)
	tickets.Post("/", cfg.Tickets.CreateTicket)
	tickets.Get("/:id", cfg.Tickets.GetTicket)
	tickets.Patch("/:id", cfg.Tickets.UpdateStatus)
	tickets.Put("/:id", cfg.Tickets.UpdateStatus)
	tickets.Delete("/:id", cfg.Tickets.DeleteTicket)

	app.Get("/files/*", cfg.Files.Download)
}
