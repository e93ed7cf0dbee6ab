package handler

import (
	"errors"
	"log/slog"

	"github.com/gofiber/fiber/v3"

	"github.com/arturoeanton/go-git-rag/internal/port"
)

// statusFor maps domain errors onto HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, port.ErrEmptyQuestion):
		return fiber.StatusBadRequest
	case errors.Is(err, port.ErrCommitNotFound), errors.Is(err, port.ErrJobNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, port.ErrMirrorUnavailable),
		errors.Is(err, port.ErrEmbeddingProvider),
		errors.Is(err, port.ErrGenerationProvider),
		errors.Is(err, port.ErrDimensionMismatch):
		return fiber.StatusBadGateway
	case errors.Is(err, port.ErrQueueFull), errors.Is(err, port.ErrQueueClosed):
		return fiber.StatusServiceUnavailable
	default:
		return fiber.StatusInternalServerError
	}
}

func writeError(c fiber.Ctx, err error) error {
	status := statusFor(err)
	if status >= fiber.StatusInternalServerError {
		slog.Error("request failed", "method", c.Method(), "path", c.Path(), "status", status, "error", err)
	}
	return c.Status(status).JSON(fiber.Map{"error": err.Error()})
}

func badRequest(c fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{"error": msg})
}
