package cache

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	fiberredis "github.com/gofiber/storage/redis"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/mediavms/paywall/internal/pkg/config"
)

const (
	// DBCache is the logical database of the shared client.
	DBCache = 0
	// DBSessions holds the fiber sessions shared with the media portal.
	DBSessions = 1
	// DBLimiter holds the rate limiter counters of the user API.
	DBLimiter = 2
)

var client *redis.Client

// SetupCache initializes the connection to the Dragonfly/Redis server. A
// failing ping is logged, not fatal: sessions then resolve as anonymous.
func SetupCache(cfg config.CacheConfig, log zerolog.Logger) *redis.Client {
	client = redis.NewClient(&redis.Options{
		Addr:     Addr(cfg),
		Password: cfg.Password,
		DB:       DBCache,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		log.Warn().Err(err).Str("addr", Addr(cfg)).Msg("could not connect to cache")
	} else {
		log.Info().Str("addr", Addr(cfg)).Msg("connected to cache")
	}
	return client
}

// Addr returns host:port of the cache server.
func Addr(cfg config.CacheConfig) string {
	return fmt.Sprintf("%s:%s", cfg.Host, strconv.Itoa(cfg.Port))
}

// Ping reports whether the cache answers within ctx.
func Ping(ctx context.Context) error {
	if client == nil {
		return fmt.Errorf("cache not initialized")
	}
	return client.Ping(ctx).Err()
}

// NewStorage returns a fiber storage on logical database db of the cache
// server, used by the session store and the rate limiter.
func NewStorage(cfg config.CacheConfig, db int) fiber.Storage {
	return fiberredis.New(fiberredis.Config{
		Host:     cfg.Host,
		Port:     cfg.Port,
		Password: cfg.Password,
		Database: db,
		Reset:    false,
	})
}
