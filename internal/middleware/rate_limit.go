package middleware

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-grader/internal/ratelimit"
	"github.com/noah-isme/gema-grader/internal/utils"
)

// Admitter decides whether a caller may issue another request.
type Admitter interface {
	Allow(ctx context.Context, caller string) ratelimit.Decision
}

// RateLimit rejects callers that exceeded their execution window with 429.
func RateLimit(limiter Admitter) fiber.Handler {
	return func(c *fiber.Ctx) error {
		decision := limiter.Allow(c.UserContext(), rateLimitCaller(c))

		c.Set("X-RateLimit-Limit", strconv.Itoa(decision.Limit))
		c.Set("X-RateLimit-Remaining", strconv.Itoa(decision.Remaining))
		c.Set("X-RateLimit-Reset", strconv.FormatInt(decision.ResetAt.Unix(), 10))

		if !decision.Allowed {
			retryAfter := int(time.Until(decision.ResetAt).Seconds())
			if retryAfter < 1 {
				retryAfter = 1
			}
			c.Set(fiber.HeaderRetryAfter, strconv.Itoa(retryAfter))
			return utils.Fail(c, fiber.StatusTooManyRequests, "too many requests", fiber.Map{
				"limit":    decision.Limit,
				"reset_at": decision.ResetAt.UTC(),
			})
		}

		return c.Next()
	}
}

func rateLimitCaller(c *fiber.Ctx) string {
	switch id := c.Locals(localUserID).(type) {
	case uint:
		if id != 0 {
			return strconv.FormatUint(uint64(id), 10)
		}
	case int:
		if id > 0 {
			return strconv.Itoa(id)
		}
	case string:
		if id != "" {
			return id
		}
	case fmt.Stringer:
		return id.String()
	}
	return "anonymous"
}
