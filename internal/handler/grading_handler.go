package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/dto"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/internal/utils"
)

// GradingHandler exposes the exercise submission endpoints.
type GradingHandler struct {
	grading service.GradingService
	batch   service.BatchService
	logger  zerolog.Logger
}

// NewGradingHandler constructs the handler.
func NewGradingHandler(grading service.GradingService, batch service.BatchService, logger zerolog.Logger) *GradingHandler {
	return &GradingHandler{
		grading: grading,
		batch:   batch,
		logger:  logger.With().Str("component", "grading_handler").Logger(),
	}
}

// Register wires the handler endpoints into the router group. Every route
// reaches the execution service, so all of them share the caller's limiter.
func (h *GradingHandler) Register(router fiber.Router, limiter fiber.Handler) {
	if limiter == nil {
		limiter = func(c *fiber.Ctx) error { return c.Next() }
	}
	router.Post("/submit", limiter, h.submit)
	router.Post("/submit-batch", limiter, h.submitBatch)
	router.Post("/test", limiter, h.testRun)
}

func (h *GradingHandler) submit(c *fiber.Ctx) error {
	studentID := callerID(c)

	var payload dto.SubmitRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	response, err := h.grading.Submit(c.UserContext(), studentID, payload)
	if err != nil {
		return sendServiceError(c, h.logger, err, "submit")
	}

	return utils.SendSuccess(c, "exercise graded", response)
}

func (h *GradingHandler) submitBatch(c *fiber.Ctx) error {
	studentID := callerID(c)

	var payload dto.BatchRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	response, err := h.batch.SubmitBatch(c.UserContext(), studentID, payload)
	if err != nil {
		return sendServiceError(c, h.logger, err, "submit_batch")
	}

	message := "batch graded"
	if response.Incomplete {
		message = "batch partially graded"
	}
	return utils.OK(c, response, message, fiber.Map{
		"results":  len(response.Results),
		"failures": len(response.Failures),
	})
}

func (h *GradingHandler) testRun(c *fiber.Ctx) error {
	var payload dto.TestRunRequest
	if err := c.BodyParser(&payload); err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, "invalid request body")
	}

	response, err := h.grading.TestRun(c.UserContext(), payload)
	if err != nil {
		return sendServiceError(c, h.logger, err, "test_run")
	}

	return utils.SendSuccess(c, "example executed", response)
}
