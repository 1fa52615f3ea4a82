package handler

import (
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"

	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/service"
	"github.com/noah-isme/gema-grader/internal/utils"
)

// HistoryHandler exposes frozen attempt snapshots.
type HistoryHandler struct {
	history service.HistoryService
	logger  zerolog.Logger
}

// NewHistoryHandler constructs the handler.
func NewHistoryHandler(history service.HistoryService, logger zerolog.Logger) *HistoryHandler {
	return &HistoryHandler{
		history: history,
		logger:  logger.With().Str("component", "history_handler").Logger(),
	}
}

// Register wires the read endpoints into the history group.
func (h *HistoryHandler) Register(router fiber.Router) {
	router.Get("", h.list)
	router.Get("/:id", h.get)
}

// RegisterEvaluation wires the staff endpoint that retires an evaluation's history.
func (h *HistoryHandler) RegisterEvaluation(router fiber.Router, staffOnly fiber.Handler) {
	router.Delete("/:id/history", staffOnly, h.markEvaluationDeleted)
}

func (h *HistoryHandler) list(c *fiber.Ctx) error {
	items, err := h.history.ListForStudent(c.UserContext(), callerID(c))
	if err != nil {
		return sendServiceError(c, h.logger, err, "list_history")
	}

	return utils.OK(c, items, "history retrieved", fiber.Map{"total": len(items)})
}

func (h *HistoryHandler) get(c *fiber.Ctx) error {
	id, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	caller, _ := middleware.CurrentIdentity(c)
	detail, err := h.history.Get(c.UserContext(), id, caller.UserID, caller.Role)
	if err != nil {
		return sendServiceError(c, h.logger, err, "get_history")
	}

	return utils.SendSuccess(c, "history retrieved", detail)
}

func (h *HistoryHandler) markEvaluationDeleted(c *fiber.Ctx) error {
	evaluationID, err := parseUintParam(c, "id")
	if err != nil {
		return utils.SendError(c, fiber.StatusBadRequest, err.Error())
	}

	response, err := h.history.MarkEvaluationDeleted(c.UserContext(), evaluationID)
	if err != nil {
		return sendServiceError(c, h.logger, err, "mark_evaluation_deleted")
	}

	return utils.SendSuccess(c, "evaluation history retired", response)
}
