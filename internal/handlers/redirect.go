package handlers

import (
	"errors"

	"github.com/gofiber/fiber/v3"

	"qryptic/internal/config"
	"qryptic/internal/directory"
	"qryptic/internal/resolver"
)

// RedirectHandler handles public short-id redirects.
type RedirectHandler struct {
	resolver *resolver.Resolver
	cfg      *config.Config
}

// NewRedirectHandler creates a new redirect handler.
func NewRedirectHandler(r *resolver.Resolver, cfg *config.Config) *RedirectHandler {
	return &RedirectHandler{resolver: r, cfg: cfg}
}

// Redirect resolves the id and redirects to its destination. The visit is
// counted before the redirect is sent. Unknown ids render a 404 page; storage
// trouble renders a 503 and never redirects.
func (h *RedirectHandler) Redirect(c fiber.Ctx) error {
	id := c.Params("id")

	dest, err := h.resolver.Resolve(c.Context(), id)
	if err != nil {
		if errors.Is(err, directory.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).Render("error", MergeBranding(fiber.Map{
				"Title":   "Not Found",
				"Message": "This link does not exist.",
			}, h.cfg))
		}
		c.Set(fiber.HeaderRetryAfter, "1")
		return c.Status(fiber.StatusServiceUnavailable).Render("error", MergeBranding(fiber.Map{
			"Title":   "Temporarily Unavailable",
			"Message": "This link cannot be opened right now. Please try again.",
		}, h.cfg))
	}

	c.Set(fiber.HeaderCacheControl, "no-store")
	return c.Redirect().Status(fiber.StatusFound).To(dest)
}
