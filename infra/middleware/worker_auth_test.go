package middleware

import (
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/golang-jwt/jwt/v5"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const testSecret = "test-secret"

func signToken(t *testing.T, secret, scope string, exp time.Time) string {
	t.Helper()
	claims := OperatorClaims{
		Scope: scope,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "ops@example.com",
			ExpiresAt: jwt.NewNumericDate(exp),
		},
	}
	s, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	require.NoError(t, err)
	return s
}

func newAuthApp(secret string) *fiber.App {
	app := fiber.New(fiber.Config{ErrorHandler: ErrorHandler()})
	app.Use(JWTAuth(secret))
	app.Get("/read", func(c *fiber.Ctx) error {
		operator, _ := c.Locals(LocalOperator).(string)
		return c.SendString(operator)
	})
	app.Post("/write", RequireScope(ScopeRun), func(c *fiber.Ctx) error { return c.SendStatus(fiber.StatusNoContent) })
	return app
}

func TestJWTAuth(t *testing.T) {
	future := time.Now().Add(time.Hour)
	tests := []struct {
		name   string
		secret string
		method string
		path   string
		token  string
		want   int
	}{
		{"disabled without secret", "", fiber.MethodGet, "/read", "", fiber.StatusOK},
		{"missing token", testSecret, fiber.MethodGet, "/read", "", fiber.StatusUnauthorized},
		{"valid token", testSecret, fiber.MethodGet, "/read", signToken(t, testSecret, "", future), fiber.StatusOK},
		{"wrong secret", testSecret, fiber.MethodGet, "/read", signToken(t, "other", "", future), fiber.StatusUnauthorized},
		{"expired", testSecret, fiber.MethodGet, "/read", signToken(t, testSecret, "", time.Now().Add(-time.Minute)), fiber.StatusUnauthorized},
		{"write without scope", testSecret, fiber.MethodPost, "/write", signToken(t, testSecret, "reports:read", future), fiber.StatusForbidden},
		{"write with scope", testSecret, fiber.MethodPost, "/write", signToken(t, testSecret, "reports:read runs:write", future), fiber.StatusNoContent},
		{"write with auth disabled", "", fiber.MethodPost, "/write", "", fiber.StatusNoContent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(tt.method, tt.path, nil)
			if tt.token != "" {
				req.Header.Set("Authorization", "Bearer "+tt.token)
			}
			resp, err := newAuthApp(tt.secret).Test(req, -1)
			require.NoError(t, err)
			assert.Equal(t, tt.want, resp.StatusCode)
		})
	}
}

func TestBearerToken(t *testing.T) {
	assert.Equal(t, "abc", bearerToken("Bearer abc"))
	assert.Equal(t, "abc", bearerToken("bearer abc"))
	assert.Equal(t, "", bearerToken("Basic abc"))
	assert.Equal(t, "", bearerToken("abc"))
}
