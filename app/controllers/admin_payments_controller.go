package controllers

import (
	"errors"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/mediavms/paywall/app/models"
	"github.com/mediavms/paywall/app/repository"
	"github.com/mediavms/paywall/internal/pkg/apperror"
	"github.com/mediavms/paywall/internal/pkg/payments"
	"github.com/mediavms/paywall/internal/pkg/usercontext"
)

type paymentListQuery struct {
	Status  string `query:"status"`
	UserID  uint   `query:"user_id"`
	MediaID uint   `query:"media_id"`
	Offset  int    `query:"offset" validate:"min=0"`
	Limit   int    `query:"limit" validate:"min=0,max=200"`
}

// AdminPaymentsController lets operators inspect payments and replay
// reconciliation.
type AdminPaymentsController struct {
	deps     Dependencies
	validate *validator.Validate
}

func NewAdminPaymentsController(deps Dependencies) *AdminPaymentsController {
	return &AdminPaymentsController{deps: deps, validate: validator.New()}
}

// HandleList handles GET /api/v1/admin/payments.
func (ac *AdminPaymentsController) HandleList(c *fiber.Ctx) error {
	var q paymentListQuery
	if err := c.QueryParser(&q); err != nil {
		return apperror.Wrap(apperror.CodeValidation, err, "Invalid query.")
	}
	if err := ac.validate.Struct(q); err != nil {
		return apperror.Wrap(apperror.CodeValidation, err, "Invalid query.")
	}
	if q.Status != "" && !models.IsValidPaymentStatus(q.Status) {
		return apperror.New(apperror.CodeValidation, "Unknown payment status.")
	}

	list, err := ac.deps.Repos.Payment.List(c.UserContext(), repository.PaymentFilter{
		Status:  q.Status,
		UserID:  q.UserID,
		MediaID: q.MediaID,
		Offset:  q.Offset,
		Limit:   q.Limit,
	})
	if err != nil {
		return fmt.Errorf("list payments: %w", err)
	}
	return c.JSON(fiber.Map{"count": len(list), "results": list})
}

// HandleGet handles GET /api/v1/admin/payments/:id with its diagnostics.
func (ac *AdminPaymentsController) HandleGet(c *fiber.Ctx) error {
	payment, err := ac.payment(c)
	if err != nil {
		return err
	}
	events, err := ac.deps.Repos.PaymentEvent.ListByPayment(c.UserContext(), payment.ID, 50)
	if err != nil {
		return fmt.Errorf("list payment events: %w", err)
	}
	return c.JSON(fiber.Map{"payment": payment, "events": events})
}

// HandleRecentEvents handles GET /api/v1/admin/payments/events.
func (ac *AdminPaymentsController) HandleRecentEvents(c *fiber.Ctx) error {
	limit := c.QueryInt("limit", 100)
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	events, err := ac.deps.Repos.PaymentEvent.ListRecent(c.UserContext(), limit)
	if err != nil {
		return fmt.Errorf("list payment events: %w", err)
	}
	return c.JSON(fiber.Map{"count": len(events), "results": events})
}

// HandleReconcile handles POST /api/v1/admin/payments/:id/reconcile. It runs
// the same reconciliation as the provider webhook.
func (ac *AdminPaymentsController) HandleReconcile(c *fiber.Ctx) error {
	payment, err := ac.payment(c)
	if err != nil {
		return err
	}
	res := ac.deps.Payments.Reconcile(c.UserContext(), payments.Trigger{
		Source:        models.PaymentEventSourceOperator,
		CommerceOrder: strconv.FormatUint(uint64(payment.ID), 10),
	})
	ac.deps.Logger.Info().
		Uint("payment_id", payment.ID).
		Uint("operator_id", usercontext.GetUserID(c)).
		Str("outcome", string(res.Outcome)).
		Bool("applied", res.Applied).
		Msg("operator reconciliation")

	if fresh, err := ac.deps.Repos.Payment.GetByID(c.UserContext(), payment.ID); err == nil {
		payment = fresh
	}
	return c.JSON(fiber.Map{
		"payment": payment,
		"outcome": res.Outcome,
		"applied": res.Applied,
		"reason":  res.Reason,
	})
}

func (ac *AdminPaymentsController) payment(c *fiber.Ctx) (*models.Payment, error) {
	id, err := strconv.ParseUint(c.Params("id"), 10, 64)
	if err != nil || id == 0 {
		return nil, errNotFound
	}
	payment, err := ac.deps.Repos.Payment.GetByID(c.UserContext(), uint(id))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load payment %d: %w", id, err)
	}
	return payment, nil
}
