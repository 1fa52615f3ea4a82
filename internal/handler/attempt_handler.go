package handler

import (
	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/internal/utils"
)

// AttemptHandler exposes attempt lifecycle endpoints scoped to an evaluation.
type AttemptHandler struct {
	attempts  service.AttemptService
	validator *validator.Validate
	logger    zerolog.Logger
}

// NewAttemptHandler constructs the handler.
func NewAttemptHandler(attempts service.AttemptService, validator *validator.Validate, logger zerolog.Logger) *AttemptHandler {
	return &AttemptHandler{
		attempts:  attempts,
		validator: validator,
		logger:    logger.With().Str("component", "attempt_handler").Logger(),
	}
}

// Register wires the handler endpoints into the evaluations group.
func (h *AttemptHandler) Register(router fiber.Router, staffOnly fiber.Handler) {
	router.Post("/:id/finalize", h.finalize)
	router.Post("/:id/expel", staffOnly, h.expel)
	router.Get("/:id/results", h.results)
}

func (h *AttemptHandler) finalize(c *fiber.Ctx) error {
	evaluationID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	studentID := callerID(c)

	var payload dto.FinalizeRequest
	if len(c.Body()) > 0 {
		if err := c.BodyParser(&payload); err != nil {
			return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
		}
	}

	response, err := h.attempts.Finalize(c.UserContext(), evaluationID, studentID, payload)
	if err != nil {
		return sendServiceError(c, h.logger, err, "finalize")
	}

	return utils.SendSuccess(c, "attempt finalized", response)
}

func (h *AttemptHandler) expel(c *fiber.Ctx) error {
	evaluationID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	var payload dto.ExpelRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}
	if err := h.validator.Struct(payload); err != nil {
		return sendServiceError(c, h.logger, err, "expel")
	}

	summary, err := h.attempts.Expel(c.UserContext(), evaluationID, payload.StudentID)
	if err != nil {
		return sendServiceError(c, h.logger, err, "expel")
	}

	requestLogger(h.logger, c).Info().
		Uint("evaluation_id", evaluationID).
		Uint("student_id", payload.StudentID).
		Uint("expelled_by", callerID(c)).
		Msg("student expelled")

	return utils.SendSuccess(c, "student expelled", summary)
}

func (h *AttemptHandler) results(c *fiber.Ctx) error {
	evaluationID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	studentID := callerID(c)

	response, err := h.attempts.Results(c.UserContext(), evaluationID, studentID)
	if err != nil {
		return sendServiceError(c, h.logger, err, "results")
	}

	return utils.SendSuccess(c, "results retrieved", response)
}
