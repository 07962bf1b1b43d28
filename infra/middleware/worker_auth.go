package middleware

import (
	"fmt"
	"strings"

	"cleanup_worker/pkg/logger"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
)

// LocalOperator holds the authenticated operator's subject.
const LocalOperator = "operator"

// OperatorClaims is the token an operator presents to the run API.
type OperatorClaims struct {
	Scope string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// ScopeRun is required to start runs; read-only tokens may omit it.
const ScopeRun = "runs:write"

// JWTAuth validates HS256 bearer tokens. An empty secret disables auth.
func JWTAuth(secret string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if secret == "" || c.Method() == fiber.MethodOptions {
			return c.Next()
		}

		tokenString := bearerToken(c.Get(fiber.HeaderAuthorization))
		if tokenString == "" {
			return fiber.NewError(fiber.StatusUnauthorized, "missing authorization")
		}

		claims := &OperatorClaims{}
		token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
			if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
				return nil, fmt.Errorf("unsupported signing method: %v", token.Header["alg"])
			}
			return []byte(secret), nil
		}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
		if err != nil || !token.Valid {
			logger.WithError(err).Warn("JWT validation failed")
			return fiber.NewError(fiber.StatusUnauthorized, "invalid token")
		}

		c.Locals(LocalOperator, claims.Subject)
		c.Locals("scope", claims.Scope)
		return c.Next()
	}
}

// RequireScope rejects authenticated requests whose token lacks scope.
// With auth disabled no scope is recorded and the request passes.
func RequireScope(scope string) fiber.Handler {
	return func(c *fiber.Ctx) error {
		if _, authed := c.Locals(LocalOperator).(string); !authed {
			return c.Next()
		}
		granted, _ := c.Locals("scope").(string)
		for _, s := range strings.Fields(granted) {
			if s == scope {
				return c.Next()
			}
		}
		return fiber.NewError(fiber.StatusForbidden, "missing scope "+scope)
	}
}

func bearerToken(header string) string {
	parts := strings.SplitN(header, " ", 2)
	if len(parts) == 2 && strings.EqualFold(parts[0], "Bearer") {
		return strings.TrimSpace(parts[1])
	}
	return ""
}
