package middleware

import (
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"

	"github.com/epibuilder/portal/internal/model"
)

func testApp(m *AuthMiddleware) *fiber.App {
	app := fiber.New()
	app.Get("/me", m.Authenticate(), func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"id":       GetUserID(c),
			"username": GetUsername(c),
			"role":     GetRole(c),
		})
	})
	app.Get("/admin", m.Authenticate(), m.RequireRole(model.RoleAdmin), func(c *fiber.Ctx) error {
		return c.SendStatus(fiber.StatusOK)
	})
	return app
}

func TestTokenRoundTrip(t *testing.T) {
	m := NewAuthMiddleware("test-secret", 10)

	token, err := m.GenerateToken(&model.User{ID: 7, Username: "ana", Role: model.RoleUser})
	require.NoError(t, err)

	claims, err := m.ParseToken(token)
	require.NoError(t, err)
	require.Equal(t, int64(7), claims.UserID)
	require.Equal(t, "ana", claims.Username)
	require.Equal(t, model.RoleUser, claims.Role)
}

func TestParseTokenRejectsWrongSecret(t *testing.T) {
	token, err := NewAuthMiddleware("secret-a", 10).
		GenerateToken(&model.User{ID: 7, Username: "ana", Role: model.RoleUser})
	require.NoError(t, err)

	_, err = NewAuthMiddleware("secret-b", 10).ParseToken(token)
	require.Error(t, err)
}

func TestAuthenticateInstallsClaims(t *testing.T) {
	m := NewAuthMiddleware("test-secret", 10)
	app := testApp(m)

	token, err := m.GenerateToken(&model.User{ID: 7, Username: "ana", Role: model.RoleUser})
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestAuthenticateRejectsMissingHeader(t *testing.T) {
	app := testApp(NewAuthMiddleware("test-secret", 10))

	resp, err := app.Test(httptest.NewRequest("GET", "/me", nil), -1)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestAuthenticateRejectsGarbageToken(t *testing.T) {
	app := testApp(NewAuthMiddleware("test-secret", 10))

	req := httptest.NewRequest("GET", "/me", nil)
	req.Header.Set("Authorization", "Bearer not-a-token")
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, fiber.StatusUnauthorized, resp.StatusCode)
}

func TestRequireRole(t *testing.T) {
	m := NewAuthMiddleware("test-secret", 10)
	app := testApp(m)

	userToken, err := m.GenerateToken(&model.User{ID: 7, Username: "ana", Role: model.RoleUser})
	require.NoError(t, err)
	adminToken, err := m.GenerateToken(&model.User{ID: 1, Username: "root", Role: model.RoleAdmin})
	require.NoError(t, err)

	req := httptest.NewRequest("GET", "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+userToken)
	resp, err := app.Test(req, -1)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, fiber.StatusForbidden, resp.StatusCode)

	req = httptest.NewRequest("GET", "/admin", nil)
	req.Header.Set("Authorization", "Bearer "+adminToken)
	resp, err = app.Test(req, -1)
	require.NoError(t, err)
	resp.Body.Close()
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}
