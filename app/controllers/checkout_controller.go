package controllers

import (
	"fmt"

	"github.com/gofiber/fiber/v2"

	"github.com/mediavms/paywall/app/models"
	"github.com/mediavms/paywall/internal/pkg/apperror"
	"github.com/mediavms/paywall/internal/pkg/entitlements"
	"github.com/mediavms/paywall/internal/pkg/payments"
	"github.com/mediavms/paywall/internal/pkg/usercontext"
)

// CheckoutController starts paid download and stream purchases.
type CheckoutController struct {
	deps Dependencies
}

func NewCheckoutController(deps Dependencies) *CheckoutController {
	return &CheckoutController{deps: deps}
}

// HandleDownloadCheckout handles GET /api/v1/media/:token/download/checkout.
func (cc *CheckoutController) HandleDownloadCheckout(c *fiber.Ctx) error {
	media, err := loadMedia(c, cc.deps.Repos.Media)
	if err != nil {
		return err
	}
	if !media.AllowDownload {
		return apperror.New(apperror.CodeForbidden, "Download disabled.")
	}
	if !media.IsVideo() {
		return apperror.New(apperror.CodeValidation, "Payment required only for videos.")
	}
	if !cc.deps.Gate.RequiresPayment(media, entitlements.KindDownload) {
		return apperror.New(apperror.CodeValidation, "Payment not required.")
	}
	return cc.checkout(c, media, models.PaymentPurposeDownload)
}

// HandleStreamCheckout handles GET /api/v1/media/:token/stream/checkout.
func (cc *CheckoutController) HandleStreamCheckout(c *fiber.Ctx) error {
	media, err := loadMedia(c, cc.deps.Repos.Media)
	if err != nil {
		return err
	}
	if !media.IsVideo() || !media.HasStream() {
		return apperror.New(apperror.CodeValidation, "Stream payment is available only for stream videos.")
	}
	if !cc.deps.Gate.RequiresPayment(media, entitlements.KindStream) {
		return apperror.New(apperror.CodeValidation, "Payment not required.")
	}
	return cc.checkout(c, media, models.PaymentPurposeStream)
}

func (cc *CheckoutController) checkout(c *fiber.Ctx, media *models.Media, purpose string) error {
	ctx := c.UserContext()
	userCtx := usercontext.GetUserContext(c)

	entitled, err := cc.deps.Gate.IsEntitled(ctx, userCtx.Subject(), media)
	if err != nil {
		return fmt.Errorf("entitlement lookup: %w", err)
	}
	if entitled {
		return c.Redirect(media.GetAbsoluteURL(), fiber.StatusFound)
	}

	user, err := cc.deps.Repos.User.GetByID(ctx, userCtx.UserID)
	if err != nil {
		return apperror.Wrap(apperror.CodeUnauthorized, err, "Authentication credentials were not provided.")
	}

	res, err := cc.deps.Payments.Checkout(ctx, payments.CheckoutRequest{
		User:            user,
		Media:           media,
		Purpose:         purpose,
		ReturnURL:       absoluteURL(c, cc.deps.Flow.URLReturn, FlowReturnPath),
		ConfirmationURL: absoluteURL(c, cc.deps.Flow.URLConfirmation, FlowConfirmationPath),
	})
	if err != nil {
		return err
	}
	return c.Redirect(res.RedirectURL, fiber.StatusFound)
}
