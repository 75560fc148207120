package router

import (
	"context"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/session"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"

	"github.com/mediavms/paywall/app/controllers"
)

// Router registers a group of routes on the app.
type Router interface {
	InstallRouter(app *fiber.App)
}

// Options carries everything the routers wire into handlers.
type Options struct {
	Deps     controllers.Dependencies
	Sessions *session.Store
	Logger   zerolog.Logger

	// LimiterStorage keeps rate limiter counters; nil keeps them in memory.
	LimiterStorage fiber.Storage
	APIRateLimit   int

	// Metrics is exposed on /metrics behind basic auth when MetricsPassHash
	// holds a bcrypt hash.
	Metrics         prometheus.Gatherer
	MetricsUser     string
	MetricsPassHash string

	HealthChecks map[string]func(context.Context) error
}

func InstallRouter(app *fiber.App, opts Options) {
	// HttpRouter installs the UserContext middleware the API routes rely on,
	// so it goes first.
	setup(app, NewHttpRouter(opts), NewApiRouter(opts))
}

func setup(app *fiber.App, router ...Router) {
	for _, r := range router {
		r.InstallRouter(app)
	}
}
