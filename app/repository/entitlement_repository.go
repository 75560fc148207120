package repository

import (
	"context"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/mediavms/paywall/app/models"
)

type entitlementRepository struct {
	db *gorm.DB
}

// NewEntitlementRepository creates a new entitlement repository instance
func NewEntitlementRepository(db *gorm.DB) EntitlementRepository {
	return &entitlementRepository{db: db}
}

// Upsert creates the (user, media) entitlement or reactivates the existing
// row in a single statement.
func (r *entitlementRepository) Upsert(ctx context.Context, ent *models.DownloadEntitlement) error {
	if ent.Status == "" {
		ent.Status = models.EntitlementStatusActive
	}
	if err := r.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns: []clause.Column{
			{Name: "user_id"},
			{Name: "media_id"},
		},
		DoUpdates: clause.AssignmentColumns([]string{
			"status",
			"paid_at",
			"expires_at",
			"updated_at",
		}),
	}).Create(ent).Error; err != nil {
		return err
	}

	// Ensure ID is populated after upsert.
	return r.db.WithContext(ctx).Where("user_id = ? AND media_id = ?", ent.UserID, ent.MediaID).
		First(ent).Error
}

func (r *entitlementRepository) GetByUserAndMedia(ctx context.Context, userID, mediaID uint) (*models.DownloadEntitlement, error) {
	var ent models.DownloadEntitlement
	err := r.db.WithContext(ctx).Where("user_id = ? AND media_id = ?", userID, mediaID).First(&ent).Error
	if err != nil {
		return nil, err
	}
	return &ent, nil
}

// ListValidByUser returns the entitlements granting access at now, most
// recently paid first.
func (r *entitlementRepository) ListValidByUser(ctx context.Context, userID uint, now time.Time) ([]models.DownloadEntitlement, error) {
	var ents []models.DownloadEntitlement
	err := r.db.WithContext(ctx).
		Preload("Media").
		Where("user_id = ? AND status = ?", userID, models.EntitlementStatusActive).
		Where("expires_at IS NULL OR expires_at > ?", now).
		Order("paid_at DESC").
		Order("id DESC").
		Find(&ents).Error
	return ents, err
}
