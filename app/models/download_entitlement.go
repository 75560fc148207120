package models

import "time"

const (
	EntitlementStatusActive  = "active"
	EntitlementStatusRevoked = "revoked"
)

// DownloadEntitlement is the durable right of a user to access one media
// item. At most one row exists per (user, media); granting is an upsert.
type DownloadEntitlement struct {
	ID        uint       `gorm:"primaryKey" json:"id"`
	UserID    uint       `gorm:"not null;uniqueIndex:ux_download_entitlements_user_media,priority:1;index:idx_download_entitlements_user_media_status,priority:1" json:"user_id"`
	MediaID   uint       `gorm:"not null;uniqueIndex:ux_download_entitlements_user_media,priority:2;index:idx_download_entitlements_user_media_status,priority:2" json:"media_id"`
	Media     *Media     `gorm:"foreignKey:MediaID" json:"media,omitempty"`
	Status    string     `gorm:"type:varchar(20);not null;default:'active';index:idx_download_entitlements_user_media_status,priority:3" json:"status"`
	PaidAt    *time.Time `gorm:"index" json:"paid_at,omitempty"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	CreatedAt time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsValidAt reports whether the entitlement grants access at now.
func (e *DownloadEntitlement) IsValidAt(now time.Time) bool {
	if e.Status != EntitlementStatusActive {
		return false
	}
	return e.ExpiresAt == nil || e.ExpiresAt.After(now)
}
