package handlers

import (
	"github.com/gofiber/fiber/v3"

	"qryptic/internal/config"
)

// MergeBranding adds branding data to a fiber.Map for template rendering.
func MergeBranding(data fiber.Map, cfg *config.Config) fiber.Map {
	data["SiteTitle"] = cfg.SiteTitle
	return data
}
