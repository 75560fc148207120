package router

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mediavms/paywall/app/controllers"
	"github.com/mediavms/paywall/internal/pkg/middleware"
)

type HttpRouter struct {
	opts Options
}

func (h HttpRouter) InstallRouter(app *fiber.App) {
	// Apply UserContext middleware globally as first middleware
	app.Use(middleware.UserContextMiddleware(h.opts.Sessions, h.opts.Deps.Repos.User, h.opts.Logger))

	h.registerPublicRoutes(app)
	h.registerOpsRoutes(app)
}

func NewHttpRouter(opts Options) *HttpRouter {
	return &HttpRouter{opts: opts}
}

// registerPublicRoutes mounts the provider facing endpoints. They carry no
// session or CSRF requirement and are never rate limited.
func (h HttpRouter) registerPublicRoutes(app *fiber.App) {
	flow := controllers.NewFlowController(h.opts.Deps)

	app.Post(controllers.FlowConfirmationPath, flow.HandleConfirm)
	app.Get(controllers.FlowConfirmationPath, flow.HandleConfirmMethodNotAllowed)

	app.Get(controllers.FlowReturnPath, flow.HandleReturn)
	app.Post(controllers.FlowReturnPath, flow.HandleReturn)
}
