package middleware

import (
	"github.com/gofiber/fiber/v2"

	icuser "github.com/mediavms/paywall/internal/pkg/usercontext"
)

// RequireAPISessionAuth ensures a logged-in session for API routes and returns JSON 401 instead of redirect.
func RequireAPISessionAuth(c *fiber.Ctx) error {
	v := c.Locals(icuser.KeyFromProtected)
	loggedIn := false
	if b, ok := v.(bool); ok {
		loggedIn = b
	}
	if !loggedIn {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"detail": "Authentication credentials were not provided.",
		})
	}
	return c.Next()
}

// RequireAPIAdmin ensures a logged-in admin for operator endpoints.
func RequireAPIAdmin(c *fiber.Ctx) error {
	if !icuser.IsLoggedIn(c) {
		return c.Status(fiber.StatusUnauthorized).JSON(fiber.Map{
			"detail": "Authentication credentials were not provided.",
		})
	}
	if !icuser.IsAdmin(c) {
		return c.Status(fiber.StatusForbidden).JSON(fiber.Map{
			"detail": "You do not have permission to perform this action.",
		})
	}
	return c.Next()
}
