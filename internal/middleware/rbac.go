package middleware

import (
	"strings"

	"github.com/gofiber/fiber/v2"

	"github.com/noah-isme/gema-grader/internal/utils"
)

// Roles carried in the token's role claim.
const (
	RoleStudent = "student"
	RoleTeacher = "teacher"
	RoleAdmin   = "admin"
)

// RequireRole lets the request through only when the caller holds one of
// the given roles.
func RequireRole(roles ...string) fiber.Handler {
	allowed := make(map[string]struct{}, len(roles))
	required := make([]string, 0, len(roles))
	for _, role := range roles {
		if normalized := normalizeRoleValue(role); normalized != "" {
			allowed[normalized] = struct{}{}
			required = append(required, normalized)
		}
	}

	return func(c *fiber.Ctx) error {
		identity, _ := CurrentIdentity(c)
		if _, ok := allowed[identity.Role]; !ok {
			return utils.Fail(c, fiber.StatusForbidden, "insufficient permissions", fiber.Map{"required_roles": required})
		}
		return c.Next()
	}
}

// RequireStaff admits teachers and administrators.
func RequireStaff() fiber.Handler {
	return RequireRole(RoleTeacher, RoleAdmin)
}

func normalizeRoleValue(value interface{}) string {
	role, _ := value.(string)
	return strings.ToLower(strings.TrimSpace(role))
}
