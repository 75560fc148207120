package models

import (
	"strings"
	"time"

	"gorm.io/datatypes"
)

const (
	PaymentProviderFlow = "flow"

	PaymentStatusPending  = "pending"
	PaymentStatusPaid     = "paid"
	PaymentStatusFailed   = "failed"
	PaymentStatusCanceled = "canceled"

	PaymentPurposeDownload = "download"
	PaymentPurposeStream   = "stream"
)

// Payment is one checkout attempt for (user, media). A user may accumulate
// several attempts for the same media; paid is absorbing.
type Payment struct {
	ID                uint           `gorm:"primaryKey" json:"id"`
	Provider          string         `gorm:"type:varchar(20);not null;default:'flow';index:idx_payments_provider_token,priority:1" json:"provider"`
	Purpose           string         `gorm:"type:varchar(20);not null;default:'download'" json:"purpose"`
	Status            string         `gorm:"type:varchar(20);not null;default:'pending';index:idx_payments_status_created,priority:1;index:idx_payments_user_media_status,priority:3" json:"status"`
	UserID            uint           `gorm:"not null;index:idx_payments_user_media_status,priority:1" json:"user_id"`
	User              *User          `gorm:"foreignKey:UserID" json:"-"`
	MediaID           uint           `gorm:"not null;index:idx_payments_user_media_status,priority:2" json:"media_id"`
	Media             *Media         `gorm:"foreignKey:MediaID" json:"-"`
	Amount            int64          `gorm:"not null" json:"amount"`
	Currency          string         `gorm:"type:varchar(10);not null;default:'CLP'" json:"currency"`
	ProviderToken     *string        `gorm:"type:varchar(255);index:idx_payments_provider_token,priority:2" json:"provider_token,omitempty"`
	ProviderOrderID   *string        `gorm:"type:varchar(255)" json:"provider_order_id,omitempty"`
	PaidAt            *time.Time     `json:"paid_at,omitempty"`
	RawCreateResponse datatypes.JSON `json:"raw_create_response,omitempty"`
	RawConfirmPayload datatypes.JSON `json:"raw_confirm_payload,omitempty"`
	RawReturnPayload  datatypes.JSON `json:"raw_return_payload,omitempty"`
	RawStatusResponse datatypes.JSON `json:"raw_status_response,omitempty"`
	CreatedAt         time.Time      `gorm:"autoCreateTime;index:idx_payments_status_created,priority:2" json:"created_at"`
	UpdatedAt         time.Time      `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsPaid reports whether the payment reached the absorbing paid state.
func (p *Payment) IsPaid() bool {
	return p.Status == PaymentStatusPaid
}

// Token returns the provider token or an empty string.
func (p *Payment) Token() string {
	if p.ProviderToken == nil {
		return ""
	}
	return strings.TrimSpace(*p.ProviderToken)
}

// IsValidPaymentStatus reports whether s names a known payment status.
func IsValidPaymentStatus(s string) bool {
	switch s {
	case PaymentStatusPending, PaymentStatusPaid, PaymentStatusFailed, PaymentStatusCanceled:
		return true
	default:
		return false
	}
}
