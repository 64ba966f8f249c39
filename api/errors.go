package api

import (
	"errors"

	"github.com/gofiber/fiber/v2"

	"github.com/papercomputeco/keepsake/pkg/chat"
	"github.com/papercomputeco/keepsake/pkg/llm"
	"github.com/papercomputeco/keepsake/pkg/orchestrator"
)

// StatusClientClosedRequest is returned when the caller aborted an exchange.
const StatusClientClosedRequest = 499

// ErrorResponse is the body of every failed request.
type ErrorResponse struct {
	Error string `json:"error"`

	// Partial is the answer text streamed before an abort.
	Partial string `json:"partial,omitempty"`
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, chat.ErrLockConflict):
		return fiber.StatusConflict
	case errors.Is(err, chat.ErrNotFound):
		return fiber.StatusNotFound
	case errors.Is(err, chat.ErrAborted):
		return StatusClientClosedRequest
	case errors.Is(err, chat.ErrUpstreamUnavailable):
		return fiber.StatusServiceUnavailable
	case errors.Is(err, llm.ErrEmptyPrompt):
		return fiber.StatusBadRequest
	case errors.Is(err, orchestrator.ErrRecallDisabled):
		return fiber.StatusNotImplemented
	default:
		return fiber.StatusInternalServerError
	}
}

func (s *Server) fail(c *fiber.Ctx, err error) error {
	status := statusFor(err)
	if status >= fiber.StatusInternalServerError {
		s.logger.Error("request failed",
			"method", c.Method(),
			"path", c.Path(),
			"status", status,
			"error", err,
		)
	}
	return c.Status(status).JSON(ErrorResponse{Error: err.Error()})
}

func badRequest(c *fiber.Ctx, msg string) error {
	return c.Status(fiber.StatusBadRequest).JSON(ErrorResponse{Error: msg})
}
