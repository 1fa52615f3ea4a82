package handler

import (
	"errors"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/internal/utils"
	"github.com/noah-isme/gema-grader/pkg/judge0"
)

func parseUintParam(c *fiber.Ctx, name string) (uint, error) {
	value := c.Params(name)
	parsed, err := strconv.ParseUint(value, 10, 64)
	if err != nil || parsed == 0 {
		return 0, errors.New("invalid identifier")
	}
	return uint(parsed), nil
}

// callerID is the authenticated user; routes are mounted behind
// middleware.RequireIdentity so it is never zero there.
func callerID(c *fiber.Ctx) uint {
	identity, _ := middleware.CurrentIdentity(c)
	return identity.UserID
}

func requestLogger(base zerolog.Logger, c *fiber.Ctx) *zerolog.Logger {
	logger := base
	if c != nil {
		if correlation := middleware.GetCorrelationID(c); correlation != "" {
			logger = base.With().Str("correlation_id", correlation).Logger()
		}
	}
	return &logger
}

// sendServiceError maps grading sentinels onto HTTP statuses.
func sendServiceError(c *fiber.Ctx, logger zerolog.Logger, err error, operation string) error {
	var validationErrors validator.ValidationErrors
	switch {
	case errors.As(err, &validationErrors):
		return utils.SendError(c, fiber.StatusBadRequest, validationErrors.Error())
	case errors.Is(err, service.ErrUnsupportedLanguage):
		return utils.SendError(c, fiber.StatusBadRequest, "language not supported")
	case errors.Is(err, service.ErrExerciseNotInEvaluation), errors.Is(err, service.ErrNoExamples):
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	case errors.Is(err, judge0.ErrBadRequest):
		return utils.SendError(c, fiber.StatusBadRequest, "submission rejected by execution service")
	case errors.Is(err, service.ErrEvaluationNotFound),
		errors.Is(err, service.ErrExerciseNotFound),
		errors.Is(err, service.ErrAttemptNotFound),
		errors.Is(err, service.ErrHistoryNotFound):
		return utils.SendError(c, fiber.StatusNotFound, err.Error())
	case errors.Is(err, service.ErrAttemptClosed):
		return utils.SendError(c, fiber.StatusConflict, err.Error())
	case errors.Is(err, service.ErrHistoryForbidden):
		return utils.SendError(c, fiber.StatusForbidden, "forbidden")
	case errors.Is(err, service.ErrServiceUnavailable), errors.Is(err, judge0.ErrServiceUnavailable):
		return utils.SendError(c, fiber.StatusServiceUnavailable, service.ErrServiceUnavailable.Error())
	default:
		requestLogger(logger, c).Error().Err(err).Str("operation", operation).Msg("grading operation failed")
		return utils.SendError(c, fiber.StatusInternalServerError, "internal server error")
	}
}
