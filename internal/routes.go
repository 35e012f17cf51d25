package internal

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/karloscodes/cartridge"
	cartridgemiddleware "github.com/karloscodes/cartridge/middleware"

	"emarsync/internal/config"
	"emarsync/internal/events"
	"emarsync/internal/http"
	"emarsync/internal/http/middleware"
)

// MountRoutes returns the route mount function of the operations API.
func MountRoutes(cfg *config.Config, service *events.Service) func(*cartridge.Server) {
	handlers := http.NewHandlers(service)

	return func(srv *cartridge.Server) {
		logger := srv.GetLogger()

		// Rate limiting only applies in production; it would interfere with tests.
		conditionalRateLimiter := func(limiter fiber.Handler) fiber.Handler {
			return func(c *fiber.Ctx) error {
				if cfg.IsProduction() {
					return limiter(c)
				}
				return c.Next()
			}
		}

		// Manual triggers reach real recipients, keep them slow.
		triggerRateLimiter := conditionalRateLimiter(cartridgemiddleware.RateLimiter(
			cartridgemiddleware.WithMax(30),
			cartridgemiddleware.WithDuration(time.Minute),
		))

		tokenAuth := middleware.APITokenAuth(cfg.APIToken, logger)

		// API clients are not browsers, Sec-Fetch-Site is not sent.
		apiConfig := &cartridge.RouteConfig{
			EnableSecFetchSite: cartridge.Bool(false),
			CustomMiddleware:   []fiber.Handler{tokenAuth},
		}

		triggerConfig := &cartridge.RouteConfig{
			EnableSecFetchSite: cartridge.Bool(false),
			CustomMiddleware:   []fiber.Handler{tokenAuth, triggerRateLimiter},
		}

		healthConfig := &cartridge.RouteConfig{
			EnableSecFetchSite: cartridge.Bool(false),
		}

		// Health check endpoint
		srv.Get("/_health", handlers.HealthIndexAction, healthConfig)
		srv.Head("/_health", handlers.HealthIndexAction, healthConfig)

		// === EVENTS ===
		srv.Get("/api/events", handlers.EventsIndexAction, apiConfig)
		srv.Post("/api/events/sync", handlers.EventsSyncAction, apiConfig)
		srv.Post("/api/events/:name/placeholder", handlers.EventPlaceholderAction, apiConfig)
		srv.Post("/api/events/:name/trigger", handlers.EventTriggerAction, triggerConfig)

		// === INSTANCES ===
		srv.Get("/api/instances", handlers.InstancesIndexAction, apiConfig)
		srv.Get("/api/instances/:id", handlers.InstanceShowAction, apiConfig)
	}
}
