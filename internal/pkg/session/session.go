package session

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"

	"github.com/mediavms/paywall/internal/pkg/cache"
	"github.com/mediavms/paywall/internal/pkg/config"
)

// CookieName is the session cookie issued by the media portal login.
const CookieName = "session_id"

// NewSessionStore opens the session store shared with the portal. Sessions
// live in their own Redis database (the cache uses DB 0).
func NewSessionStore(cfg config.CacheConfig) *session.Store {
	return NewStore(cache.NewStorage(cfg, cache.DBSessions))
}

// NewStore builds the store on storage. A nil storage keeps sessions in
// memory.
func NewStore(storage fiber.Storage) *session.Store {
	return session.New(session.Config{
		Storage:        storage,
		CookieHTTPOnly: true,
		Expiration:     time.Hour * 1,
		KeyLookup:      "cookie:" + CookieName,
	})
}
