// Package flash queues one-shot messages for the next page the portal
// renders, using the cookie flash store the portal reads.
package flash

import (
	"github.com/gofiber/fiber/v2"
	"github.com/sujit-baniya/flash"
)

type Level string

const (
	LevelSuccess Level = "success"
	LevelError   Level = "error"
	LevelWarning Level = "warning"
)

// Redirect stores message at level and redirects to location.
func Redirect(c *fiber.Ctx, level Level, message, location string) error {
	data := fiber.Map{"type": string(level), "message": message}
	switch level {
	case LevelSuccess:
		flash.WithSuccess(c, data)
	case LevelError:
		flash.WithError(c, data)
	default:
		// the portal renders info and warning flashes alike
		flash.WithInfo(c, data)
	}
	return c.Redirect(location, fiber.StatusFound)
}
