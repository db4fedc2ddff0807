package api

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v3"

	"qryptic/internal/directory"
)

// jsonSuccess returns a 200 response with data wrapped in the standard envelope.
func jsonSuccess(c fiber.Ctx, data any) error {
	return c.JSON(fiber.Map{
		"status": "ok",
		"data":   data,
	})
}

// jsonCreated returns a 201 response with data wrapped in the standard envelope.
func jsonCreated(c fiber.Ctx, data any) error {
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{
		"status": "ok",
		"data":   data,
	})
}

// jsonError returns an error response with the given HTTP status code.
func jsonError(c fiber.Ctx, status int, message string) error {
	return c.Status(status).JSON(fiber.Map{
		"status": "error",
		"error":  message,
	})
}

// directoryError maps a directory error onto its HTTP response.
func directoryError(c fiber.Ctx, err error) error {
	var ve *directory.ValidationError
	switch {
	case errors.As(err, &ve):
		return jsonError(c, fiber.StatusBadRequest, ve.Error())
	case errors.Is(err, directory.ErrNotFound):
		return jsonError(c, fiber.StatusNotFound, "link not found")
	case errors.Is(err, directory.ErrForbidden):
		return jsonError(c, fiber.StatusForbidden, "link belongs to another owner")
	case directory.IsTransient(err):
		slog.Warn("directory unavailable", "path", c.Path(), "error", err)
		c.Set(fiber.HeaderRetryAfter, "1")
		return jsonError(c, fiber.StatusServiceUnavailable, "temporarily unavailable, retry shortly")
	default:
		slog.Error("unexpected directory error", "path", c.Path(), "error", err)
		return jsonError(c, fiber.StatusInternalServerError, "internal error")
	}
}
