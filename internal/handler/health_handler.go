package handler

import (
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-grader/internal/config"
	"github.com/noah-isme/gema-grader/internal/utils"
	"github.com/noah-isme/gema-grader/pkg/judge0"
)

// HealthResponse represents the payload returned by the health endpoint.
type HealthResponse struct {
	Status      string    `json:"status"`
	Timestamp   time.Time `json:"timestamp"`
	Service     string    `json:"service"`
	Environment string    `json:"environment"`
}

// JudgeHealthResponse reports reachability of the execution service.
type JudgeHealthResponse struct {
	Healthy   bool      `json:"healthy"`
	Message   string    `json:"message"`
	CheckedAt time.Time `json:"checked_at"`
}

// HealthCheck returns a handler that reports application health information.
func HealthCheck(cfg config.Config) fiber.Handler {
	return func(c *fiber.Ctx) error {
		payload := HealthResponse{
			Status:      "ok",
			Timestamp:   time.Now().UTC(),
			Service:     cfg.AppName,
			Environment: cfg.AppEnv,
		}

		return utils.SendSuccess(c, "service healthy", payload)
	}
}

// JudgeHealth reports whether grading can currently reach the execution service.
func JudgeHealth(checker judge0.HealthChecker) fiber.Handler {
	return func(c *fiber.Ctx) error {
		healthy, message := checker.Health(c.UserContext())
		payload := JudgeHealthResponse{
			Healthy:   healthy,
			Message:   message,
			CheckedAt: time.Now().UTC(),
		}
		if !healthy {
			return c.Status(fiber.StatusServiceUnavailable).JSON(utils.APIResponse{
				Success: false,
				Data:    payload,
				Message: "execution service unavailable",
			})
		}

		return utils.SendSuccess(c, "execution service healthy", payload)
	}
}
