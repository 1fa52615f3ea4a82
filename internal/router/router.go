package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-grader/internal/config"
	"github.com/noah-isme/gema-grader/internal/handler"
	"github.com/noah-isme/gema-grader/internal/middleware"
	"github.com/noah-isme/gema-grader/internal/observability"
	"github.com/noah-isme/gema-grader/pkg/judge0"
)

// Dependencies groups router dependencies for registration.
type Dependencies struct {
	GradingHandler *handler.GradingHandler
	AttemptHandler *handler.AttemptHandler
	HistoryHandler *handler.HistoryHandler
	JudgeHealth    judge0.HealthChecker
	RateLimiter    middleware.Admitter
	JWTMiddleware  fiber.Handler
}

// Register wires the HTTP routes into the fiber application.
func Register(app *fiber.App, cfg config.Config, deps Dependencies) {
	app.Get("/metrics", observability.MetricsHandler())

	api := app.Group("/api/v1", func(c *fiber.Ctx) error {
		c.Set("X-Application", cfg.AppName)
		return c.Next()
	})
	api.Get("/health", handler.HealthCheck(cfg))
	if deps.JudgeHealth != nil {
		api.Get("/health/judge", handler.JudgeHealth(deps.JudgeHealth))
	}

	// Use provided JWT middleware, or a no-op if nil
	jwtMiddleware := deps.JWTMiddleware
	if jwtMiddleware == nil {
		jwtMiddleware = func(c *fiber.Ctx) error { return c.Next() }
	}

	var limiter fiber.Handler
	if deps.RateLimiter != nil {
		limiter = middleware.RateLimit(deps.RateLimiter)
	}
	staffOnly := middleware.RequireStaff()
	authenticated := middleware.RequireIdentity()

	if deps.GradingHandler != nil {
		grading := api.Group("/grading", jwtMiddleware, authenticated)
		deps.GradingHandler.Register(grading, limiter)
	}

	evaluations := api.Group("/evaluations", jwtMiddleware, authenticated)
	if deps.AttemptHandler != nil {
		deps.AttemptHandler.Register(evaluations, staffOnly)
	}

	if deps.HistoryHandler != nil {
		history := api.Group("/history", jwtMiddleware, authenticated)
		deps.HistoryHandler.Register(history)
		deps.HistoryHandler.RegisterEvaluation(evaluations, staffOnly)
	}
}
