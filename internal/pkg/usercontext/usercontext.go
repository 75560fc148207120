package usercontext

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mediavms/paywall/internal/pkg/entitlements"
)

// UserContext represents the complete user context for a request
type UserContext struct {
	UserID       uint   `json:"user_id"`
	Username     string `json:"username"`
	Email        string `json:"email"`
	IsLoggedIn   bool   `json:"is_logged_in"`
	IsAdmin      bool   `json:"is_admin"`
	IsPrivileged bool   `json:"is_privileged"`
}

// Subject converts the context into the viewer an access decision is made for.
func (u UserContext) Subject() entitlements.Subject {
	return entitlements.Subject{
		UserID:     u.UserID,
		LoggedIn:   u.IsLoggedIn,
		Privileged: u.IsLoggedIn && u.IsPrivileged,
	}
}

// SetUserContext stores uc in the request locals together with the flat keys
// older handlers read.
func SetUserContext(c *fiber.Ctx, uc UserContext) {
	c.Locals(KeyUserContext, uc)
	c.Locals(KeyFromProtected, uc.IsLoggedIn)
	c.Locals(KeyUserID, uc.UserID)
	c.Locals(KeyUsername, uc.Username)
	c.Locals(KeyIsAdmin, uc.IsAdmin)
}

// GetUserContext retrieves the user context from fiber context
// Returns a default anonymous context if none is set
func GetUserContext(c *fiber.Ctx) UserContext {
	if ctx, ok := c.Locals(KeyUserContext).(UserContext); ok {
		return ctx
	}
	return UserContext{IsLoggedIn: false, IsAdmin: false}
}

// IsLoggedIn checks if the current user is logged in
func IsLoggedIn(c *fiber.Ctx) bool {
	return GetUserContext(c).IsLoggedIn
}

// IsAdmin checks if the current user is an admin
func IsAdmin(c *fiber.Ctx) bool {
	return GetUserContext(c).IsAdmin
}

// GetUserID returns the current user's ID, or 0 if not logged in
func GetUserID(c *fiber.Ctx) uint {
	return GetUserContext(c).UserID
}
