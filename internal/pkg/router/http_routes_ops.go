package router

import (
	"context"
	"crypto/subtle"
	"sort"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/basicauth"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/crypto/bcrypt"
)

func (h HttpRouter) registerOpsRoutes(app *fiber.App) {
	app.Get("/healthz", h.handleHealth)

	if h.opts.Metrics == nil || h.opts.MetricsPassHash == "" {
		h.opts.Logger.Warn().Msg("METRICS_PASSWORD_HASH not set, /metrics is disabled")
		return
	}
	app.Get("/metrics", basicauth.New(basicauth.Config{
		Authorizer: metricsAuthorizer(h.opts.MetricsUser, h.opts.MetricsPassHash),
	}), adaptor.HTTPHandler(promhttp.HandlerFor(h.opts.Metrics, promhttp.HandlerOpts{})))
}

// metricsAuthorizer checks the password against a bcrypt hash so no clear
// text credential has to live in the environment.
func metricsAuthorizer(user, hash string) func(string, string) bool {
	return func(u, p string) bool {
		if subtle.ConstantTimeCompare([]byte(u), []byte(user)) != 1 {
			return false
		}
		return bcrypt.CompareHashAndPassword([]byte(hash), []byte(p)) == nil
	}
}

func (h HttpRouter) handleHealth(c *fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.UserContext(), 3*time.Second)
	defer cancel()

	names := make([]string, 0, len(h.opts.HealthChecks))
	for name := range h.opts.HealthChecks {
		names = append(names, name)
	}
	sort.Strings(names)

	status := fiber.StatusOK
	checks := fiber.Map{}
	for _, name := range names {
		if err := h.opts.HealthChecks[name](ctx); err != nil {
			checks[name] = err.Error()
			status = fiber.StatusServiceUnavailable
			continue
		}
		checks[name] = "ok"
	}
	return c.Status(status).JSON(fiber.Map{"status": status == fiber.StatusOK, "checks": checks})
}
