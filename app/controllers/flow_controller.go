package controllers

import (
	"github.com/gofiber/fiber/v2"

	"github.com/mediavms/paywall/app/models"
	"github.com/mediavms/paywall/internal/pkg/flash"
)

const (
	msgPaid     = "Compra realizada con éxito. Ya puedes descargar el video."
	msgFailed   = "Hubo un problema procesando tu pago. Si el cobro se realizó, contáctanos para validarlo."
	msgCanceled = "Tu pago fue cancelado."
	msgPending  = "Pago recibido. Estamos confirmándolo; si no se habilita en unos segundos, recarga la página."
)

// FlowController receives the provider's server-to-server confirmation and
// the payer's browser return.
type FlowController struct {
	deps Dependencies
}

func NewFlowController(deps Dependencies) *FlowController {
	return &FlowController{deps: deps}
}

// HandleConfirm handles POST /payments/flow/confirm/. The provider only
// needs a fast 200 "OK"; the outcome is persisted, never reported back.
func (fc *FlowController) HandleConfirm(c *fiber.Ctx) error {
	trigger := inboundTrigger(c, models.PaymentEventSourceConfirm)
	res := fc.deps.Payments.Reconcile(c.UserContext(), trigger)
	fc.deps.Logger.Info().
		Str("ip", clientIP(c)).
		Str("outcome", string(res.Outcome)).
		Bool("applied", res.Applied).
		Str("reason", res.Reason).
		Msg("flow confirmation handled")

	return plainText(c, fiber.StatusOK, "OK")
}

// HandleConfirmMethodNotAllowed answers GET on the confirmation endpoint.
func (fc *FlowController) HandleConfirmMethodNotAllowed(c *fiber.Ctx) error {
	return plainText(c, fiber.StatusMethodNotAllowed, "Method not allowed")
}

// HandleReturn handles GET and POST /payments/flow/return/. It refreshes
// the payment status for immediate feedback and sends the payer back to the
// media page.
func (fc *FlowController) HandleReturn(c *fiber.Ctx) error {
	trigger := inboundTrigger(c, models.PaymentEventSourceReturn)
	res := fc.deps.Payments.Reconcile(c.UserContext(), trigger)
	target := fc.returnTarget(c, trigger.Payload, res.Payment)
	if res.Payment == nil {
		return c.Redirect(target, fiber.StatusFound)
	}

	switch res.Payment.Status {
	case models.PaymentStatusPaid:
		return flash.Redirect(c, flash.LevelSuccess, msgPaid, target)
	case models.PaymentStatusFailed:
		return flash.Redirect(c, flash.LevelError, msgFailed, target)
	case models.PaymentStatusCanceled:
		return flash.Redirect(c, flash.LevelError, msgCanceled, target)
	default:
		return flash.Redirect(c, flash.LevelWarning, msgPending, target)
	}
}

// returnTarget prefers the media named in the request body or query, then
// the payment's media, then the home page.
func (fc *FlowController) returnTarget(c *fiber.Ctx, payload map[string]any, payment *models.Payment) string {
	token := firstOf(payload, "media", "m")
	if token != "" {
		if media, err := fc.deps.Repos.Media.GetByFriendlyToken(c.UserContext(), token); err == nil {
			return media.GetAbsoluteURL()
		}
	}
	if payment != nil {
		if payment.Media != nil {
			return payment.Media.GetAbsoluteURL()
		}
		if media, err := fc.deps.Repos.Media.GetByID(c.UserContext(), payment.MediaID); err == nil {
			return media.GetAbsoluteURL()
		}
	}
	return "/"
}

func plainText(c *fiber.Ctx, status int, body string) error {
	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.Status(status).SendString(body)
}
