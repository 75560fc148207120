package middleware

import (
	"errors"
	"strconv"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/mediavms/paywall/app/models"
	"github.com/mediavms/paywall/app/repository"
	"github.com/mediavms/paywall/internal/pkg/usercontext"
)

// UserContextMiddleware resolves the logged-in user for every request from
// the portal session. The user row is read on each request so role changes
// and deactivations apply immediately.
func UserContextMiddleware(store *session.Store, users repository.UserRepository, log zerolog.Logger) fiber.Handler {
	return func(c *fiber.Ctx) error {
		anonymous := usercontext.UserContext{IsLoggedIn: false, IsAdmin: false}

		sess, err := store.Get(c)
		if err != nil {
			log.Debug().Err(err).Msg("session lookup failed")
			usercontext.SetUserContext(c, anonymous)
			return c.Next()
		}

		userID, ok := sessionUserID(sess.Get(usercontext.KeyUserID))
		if !ok {
			usercontext.SetUserContext(c, anonymous)
			return c.Next()
		}

		user, err := users.GetByID(c.UserContext(), userID)
		if err != nil {
			if !errors.Is(err, gorm.ErrRecordNotFound) {
				log.Error().Err(err).Uint("user_id", userID).Msg("failed to load session user")
			}
			usercontext.SetUserContext(c, anonymous)
			return c.Next()
		}
		if !user.IsActive() {
			usercontext.SetUserContext(c, anonymous)
			return c.Next()
		}

		username, _ := sess.Get(usercontext.KeyUsername).(string)
		if username == "" {
			username = user.Name
		}

		usercontext.SetUserContext(c, usercontext.UserContext{
			UserID:       user.ID,
			Username:     username,
			Email:        user.Email,
			IsLoggedIn:   true,
			IsAdmin:      strings.EqualFold(user.Role, models.ROLE_ADMIN),
			IsPrivileged: user.IsPrivileged(),
		})
		return c.Next()
	}
}

// sessionUserID accepts the numeric encodings the portal may have stored.
func sessionUserID(v any) (uint, bool) {
	switch id := v.(type) {
	case uint:
		return id, id > 0
	case uint64:
		return uint(id), id > 0
	case int:
		return uint(id), id > 0
	case int64:
		return uint(id), id > 0
	case float64:
		return uint(id), id >= 1
	case string:
		n, err := strconv.ParseUint(strings.TrimSpace(id), 10, 64)
		return uint(n), err == nil && n > 0
	default:
		return 0, false
	}
}
