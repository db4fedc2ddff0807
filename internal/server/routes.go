package server

import (
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/gofiber/fiber/v3/middleware/adaptor"
	"github.com/gofiber/fiber/v3/middleware/limiter"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"qryptic/internal/directory"
	"qryptic/internal/feed"
	"qryptic/internal/handlers"
	"qryptic/internal/handlers/api"
	"qryptic/internal/middleware"
	"qryptic/internal/resolver"
)

// Deps are the components the routes are served from.
type Deps struct {
	Store    *directory.Store
	Hub      *feed.Hub
	Resolver *resolver.Resolver
	Verifier middleware.Verifier

	// LimiterStorage keeps API rate limit counters. Nil keeps them in memory.
	LimiterStorage fiber.Storage
}

// RegisterRoutes registers all application routes.
func (s *Server) RegisterRoutes(deps Deps) {
	// Initialize middleware
	authMiddleware := middleware.NewAuthMiddleware(deps.Verifier, s.Cfg.ClientCertHeader)

	// Initialize handlers
	probeHandler := handlers.NewProbeHandler(deps.Store)
	redirectHandler := handlers.NewRedirectHandler(deps.Resolver, s.Cfg)
	linkHandler := api.NewLinkHandler(deps.Store)
	streamHandler := api.NewStreamHandler(deps.Hub, s.Cfg.Feed.Heartbeat)

	// Probes and metrics
	s.App.Get("/healthz", probeHandler.Liveness)
	s.App.Get("/readyz", probeHandler.Readiness)
	s.App.Get("/metrics", adaptor.HTTPHandler(promhttp.Handler()))

	// Owner API. Redirects are not rate limited.
	v1 := s.App.Group("/api/v1", s.rateLimiter(deps.LimiterStorage), authMiddleware.RequireAuth)
	v1.Get("/links", linkHandler.List)
	v1.Post("/links", linkHandler.Create)
	v1.Get("/links/stream", streamHandler.Stream)
	v1.Get("/links/:id", linkHandler.Get)
	v1.Patch("/links/:id", linkHandler.Update)
	v1.Delete("/links/:id", linkHandler.Delete)

	// Public redirects, registered last so /:id never shadows the routes above.
	s.App.Get("/go/:id", redirectHandler.Redirect)
	s.App.Get("/:id", redirectHandler.Redirect)
}

// rateLimiter limits API requests per client IP per minute.
func (s *Server) rateLimiter(storage fiber.Storage) fiber.Handler {
	limit := s.Cfg.API.RateLimit
	if limit <= 0 {
		return func(c fiber.Ctx) error { return c.Next() }
	}

	return limiter.New(limiter.Config{
		Max:        limit,
		Expiration: 1 * time.Minute,
		Storage:    storage,
		KeyGenerator: func(c fiber.Ctx) string {
			return c.IP()
		},
		LimitReached: func(c fiber.Ctx) error {
			c.Set(fiber.HeaderRetryAfter, "60")
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{
				"status": "error",
				"error":  "Rate limit exceeded. Please try again later.",
			})
		},
	})
}
