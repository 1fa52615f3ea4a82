package middleware

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"

	"github.com/noah-isme/gema-grader/internal/utils"
)

const (
	localUserID   = "user_id"
	localUserRole = "user_role"
)

var errNoSubject = errors.New("token subject missing")

// Identity is the caller resolved from a bearer token.
type Identity struct {
	UserID uint
	Role   string
}

// Staff reports whether the caller may act on other students' attempts.
func (i Identity) Staff() bool {
	return i.Role == RoleTeacher || i.Role == RoleAdmin
}

// JWTProtected validates HMAC bearer tokens and stores the caller identity.
// Tokens without a numeric subject are rejected; a missing role means student.
func JWTProtected(secret string) fiber.Handler {
	parser := jwt.NewParser(
		jwt.WithValidMethods([]string{"HS256", "HS384", "HS512"}),
		jwt.WithIssuedAt(),
	)

	return func(c *fiber.Ctx) error {
		raw, err := bearerToken(c.Get(fiber.HeaderAuthorization))
		if err != nil {
			return utils.SendError(c, fiber.StatusUnauthorized, err.Error())
		}

		claims := jwt.MapClaims{}
		token, err := parser.ParseWithClaims(raw, claims, func(*jwt.Token) (interface{}, error) {
			return []byte(secret), nil
		})
		if err != nil || !token.Valid {
			return utils.SendError(c, fiber.StatusUnauthorized, "invalid token")
		}

		identity, err := identityFromClaims(claims)
		if err != nil {
			return utils.SendError(c, fiber.StatusUnauthorized, err.Error())
		}

		c.Locals(localUserID, identity.UserID)
		c.Locals(localUserRole, identity.Role)
		return c.Next()
	}
}

// RequireIdentity rejects requests that reached the route without a caller.
func RequireIdentity() fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, ok := CurrentIdentity(c); !ok {
			return utils.SendError(c, fiber.StatusUnauthorized, "unauthorized")
		}
		return c.Next()
	}
}

// CurrentIdentity returns the caller stored by JWTProtected.
func CurrentIdentity(c *fiber.Ctx) (Identity, bool) {
	identity := Identity{Role: normalizeRoleValue(c.Locals(localUserRole))}
	switch id := c.Locals(localUserID).(type) {
	case uint:
		identity.UserID = id
	case int:
		if id > 0 {
			identity.UserID = uint(id)
		}
	}
	if identity.Role == "" {
		identity.Role = RoleStudent
	}
	return identity, identity.UserID != 0
}

func bearerToken(header string) (string, error) {
	if header == "" {
		return "", errors.New("authorization header missing")
	}
	scheme, token, found := strings.Cut(header, " ")
	if !found || !strings.EqualFold(scheme, "Bearer") {
		return "", errors.New("invalid authorization header")
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return "", errors.New("invalid token")
	}
	return token, nil
}

func identityFromClaims(claims jwt.MapClaims) (Identity, error) {
	var identity Identity
	for _, key := range []string{"sub", "user_id", "id"} {
		value, ok := claims[key]
		if !ok {
			continue
		}
		id, err := subjectID(value)
		if err != nil {
			return Identity{}, err
		}
		identity.UserID = id
		break
	}
	if identity.UserID == 0 {
		return Identity{}, errNoSubject
	}

	for _, key := range []string{"role", "roles"} {
		if role := claimRole(claims[key]); role != "" {
			identity.Role = role
			break
		}
	}
	if identity.Role == "" {
		identity.Role = RoleStudent
	}
	return identity, nil
}

func subjectID(value interface{}) (uint, error) {
	switch v := value.(type) {
	case float64:
		if v < 1 || v != float64(uint(v)) {
			return 0, fmt.Errorf("invalid token subject %v", v)
		}
		return uint(v), nil
	case string:
		parsed, err := strconv.ParseUint(strings.TrimSpace(v), 10, 64)
		if err != nil || parsed == 0 {
			return 0, fmt.Errorf("invalid token subject %q", v)
		}
		return uint(parsed), nil
	default:
		return 0, errNoSubject
	}
}

func claimRole(value interface{}) string {
	switch v := value.(type) {
	case string:
		return normalizeRoleValue(v)
	case []interface{}:
		for _, item := range v {
			if role, ok := item.(string); ok {
				if normalized := normalizeRoleValue(role); normalized != "" {
					return normalized
				}
			}
		}
	}
	return ""
}
