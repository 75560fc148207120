package models

import (
	"time"

	"gorm.io/datatypes"
)

const (
	PaymentEventSourceConfirm  = "confirm"
	PaymentEventSourceReturn   = "return"
	PaymentEventSourceOperator = "operator"
	PaymentEventSourceCheckout = "checkout"
)

// PaymentEvent is an append-only diagnostic row recorded whenever a
// reconciliation attempt could not complete normally.
type PaymentEvent struct {
	ID          uint           `gorm:"primaryKey" json:"id"`
	EventID     string         `gorm:"type:varchar(36);not null;uniqueIndex" json:"event_id"`
	PaymentID   *uint          `gorm:"index" json:"payment_id,omitempty"`
	Source      string         `gorm:"type:varchar(20);not null;index" json:"source"`
	Reason      string         `gorm:"type:varchar(50);not null;index" json:"reason"`
	Detail      string         `gorm:"type:text" json:"detail"`
	PayloadJSON datatypes.JSON `json:"payload,omitempty"`
	CreatedAt   time.Time      `gorm:"autoCreateTime;index" json:"created_at"`
}
