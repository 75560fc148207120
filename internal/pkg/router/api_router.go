package router

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"

	"github.com/mediavms/paywall/app/controllers"
	"github.com/mediavms/paywall/internal/pkg/middleware"
)

type ApiRouter struct {
	opts Options
}

func (h ApiRouter) InstallRouter(app *fiber.App) {
	limit := h.opts.APIRateLimit
	if limit <= 0 {
		limit = 120
	}
	api := app.Group("/api", limiter.New(limiter.Config{
		Max:        limit,
		Expiration: time.Minute,
		Storage:    h.opts.LimiterStorage,
		LimitReached: func(c *fiber.Ctx) error {
			return c.Status(fiber.StatusTooManyRequests).JSON(fiber.Map{"detail": "Request was throttled."})
		},
	}))

	v1 := api.Group("/v1")
	h.registerMediaRoutes(v1)
	h.registerAdminRoutes(v1)
}

func NewApiRouter(opts Options) *ApiRouter {
	return &ApiRouter{opts: opts}
}

func (h ApiRouter) registerMediaRoutes(v1 fiber.Router) {
	deps := h.opts.Deps
	checkout := controllers.NewCheckoutController(deps)
	download := controllers.NewDownloadController(deps)
	access := controllers.NewMediaAccessController(deps)

	media := v1.Group("/media/:token")
	media.Get("/access", access.HandleMediaAccess)
	media.Get("/download/checkout", middleware.RequireAPISessionAuth, checkout.HandleDownloadCheckout)
	media.Get("/download/file", middleware.RequireAPISessionAuth, download.HandleDownloadFile)
	media.Get("/stream/checkout", middleware.RequireAPISessionAuth, checkout.HandleStreamCheckout)

	v1.Get("/user/purchases", middleware.RequireAPISessionAuth, access.HandlePurchases)
}

func (h ApiRouter) registerAdminRoutes(v1 fiber.Router) {
	admin := controllers.NewAdminPaymentsController(h.opts.Deps)

	adminGroup := v1.Group("/admin", middleware.RequireAPIAdmin)
	adminGroup.Get("/payments", admin.HandleList)
	adminGroup.Get("/payments/events", admin.HandleRecentEvents)
	adminGroup.Get("/payments/:id", admin.HandleGet)
	adminGroup.Post("/payments/:id/reconcile", admin.HandleReconcile)
}
