package repository

import (
	"context"
	"strings"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/mediavms/paywall/app/models"
)

const maxPaymentListLimit = 200

// paymentRepository implements the PaymentRepository interface
type paymentRepository struct {
	db *gorm.DB
}

// NewPaymentRepository creates a new payment repository instance
func NewPaymentRepository(db *gorm.DB) PaymentRepository {
	return &paymentRepository{db: db}
}

func (r *paymentRepository) Create(ctx context.Context, payment *models.Payment) error {
	if payment.Provider == "" {
		payment.Provider = models.PaymentProviderFlow
	}
	if payment.Status == "" {
		payment.Status = models.PaymentStatusPending
	}
	return r.db.WithContext(ctx).Create(payment).Error
}

func (r *paymentRepository) GetByID(ctx context.Context, id uint) (*models.Payment, error) {
	var payment models.Payment
	if err := r.db.WithContext(ctx).Preload("Media").Preload("User").First(&payment, id).Error; err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *paymentRepository) GetByProviderToken(ctx context.Context, provider, token string) (*models.Payment, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var payment models.Payment
	err := r.db.WithContext(ctx).
		Preload("Media").
		Preload("User").
		Where("provider = ? AND provider_token = ?", provider, token).
		Order("id DESC").
		First(&payment).Error
	if err != nil {
		return nil, err
	}
	return &payment, nil
}

func (r *paymentRepository) List(ctx context.Context, filter PaymentFilter) ([]models.Payment, error) {
	limit := filter.Limit
	if limit <= 0 || limit > maxPaymentListLimit {
		limit = maxPaymentListLimit
	}
	q := r.db.WithContext(ctx).Model(&models.Payment{})
	if filter.Status != "" {
		q = q.Where("status = ?", filter.Status)
	}
	if filter.UserID != 0 {
		q = q.Where("user_id = ?", filter.UserID)
	}
	if filter.MediaID != 0 {
		q = q.Where("media_id = ?", filter.MediaID)
	}

	var payments []models.Payment
	err := q.Order("created_at DESC").Order("id DESC").Offset(filter.Offset).Limit(limit).Find(&payments).Error
	return payments, err
}

// SetProviderTokenIfEmpty records the token only when none is stored yet.
func (r *paymentRepository) SetProviderTokenIfEmpty(ctx context.Context, id uint, token string) (bool, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return false, nil
	}
	tx := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND (provider_token IS NULL OR provider_token = '')", id).
		Updates(map[string]any{"provider_token": token, "updated_at": time.Now()})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

func (r *paymentRepository) SaveCreateResponse(ctx context.Context, id uint, token, orderID string, raw datatypes.JSON) error {
	updates := map[string]any{
		"raw_create_response": raw,
		"updated_at":          time.Now(),
	}
	if t := strings.TrimSpace(token); t != "" {
		updates["provider_token"] = t
	}
	if o := strings.TrimSpace(orderID); o != "" {
		updates["provider_order_id"] = o
	}
	return r.db.WithContext(ctx).Model(&models.Payment{}).Where("id = ?", id).Updates(updates).Error
}

func (r *paymentRepository) SaveConfirmPayload(ctx context.Context, id uint, raw datatypes.JSON) error {
	return r.db.WithContext(ctx).Model(&models.Payment{}).Where("id = ?", id).
		Updates(map[string]any{"raw_confirm_payload": raw, "updated_at": time.Now()}).Error
}

func (r *paymentRepository) SaveReturnPayload(ctx context.Context, id uint, raw datatypes.JSON) error {
	return r.db.WithContext(ctx).Model(&models.Payment{}).Where("id = ?", id).
		Updates(map[string]any{"raw_return_payload": raw, "updated_at": time.Now()}).Error
}

func (r *paymentRepository) SaveStatusResponse(ctx context.Context, id uint, raw datatypes.JSON) error {
	return r.db.WithContext(ctx).Model(&models.Payment{}).Where("id = ?", id).
		Updates(map[string]any{"raw_status_response": raw, "updated_at": time.Now()}).Error
}

// MarkPaid moves any non-paid payment to paid. Only one concurrent caller
// observes true.
func (r *paymentRepository) MarkPaid(ctx context.Context, id uint, paidAt time.Time) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status <> ?", id, models.PaymentStatusPaid).
		Updates(map[string]any{
			"status":     models.PaymentStatusPaid,
			"paid_at":    paidAt,
			"updated_at": time.Now(),
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}

// MarkUnpaidTerminal moves a payment to failed or canceled unless it is
// already paid or already in that status.
func (r *paymentRepository) MarkUnpaidTerminal(ctx context.Context, id uint, status string) (bool, error) {
	tx := r.db.WithContext(ctx).Model(&models.Payment{}).
		Where("id = ? AND status NOT IN ?", id, []string{models.PaymentStatusPaid, status}).
		Updates(map[string]any{
			"status":     status,
			"updated_at": time.Now(),
		})
	if tx.Error != nil {
		return false, tx.Error
	}
	return tx.RowsAffected == 1, nil
}
