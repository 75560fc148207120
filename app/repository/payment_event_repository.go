package repository

import (
	"context"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/mediavms/paywall/app/models"
)

type paymentEventRepository struct {
	db *gorm.DB
}

// NewPaymentEventRepository creates a new diagnostics repository instance
func NewPaymentEventRepository(db *gorm.DB) PaymentEventRepository {
	return &paymentEventRepository{db: db}
}

func (r *paymentEventRepository) Create(ctx context.Context, event *models.PaymentEvent) error {
	if event.EventID == "" {
		event.EventID = uuid.NewString()
	}
	return r.db.WithContext(ctx).Create(event).Error
}

func (r *paymentEventRepository) ListByPayment(ctx context.Context, paymentID uint, limit int) ([]models.PaymentEvent, error) {
	var events []models.PaymentEvent
	err := r.db.WithContext(ctx).
		Where("payment_id = ?", paymentID).
		Order("id DESC").
		Limit(normalizeLimit(limit)).
		Find(&events).Error
	return events, err
}

func (r *paymentEventRepository) ListRecent(ctx context.Context, limit int) ([]models.PaymentEvent, error) {
	var events []models.PaymentEvent
	err := r.db.WithContext(ctx).Order("id DESC").Limit(normalizeLimit(limit)).Find(&events).Error
	return events, err
}

func normalizeLimit(limit int) int {
	if limit <= 0 || limit > maxPaymentListLimit {
		return 50
	}
	return limit
}
