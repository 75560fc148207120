package repository

import (
	"context"
	"strings"

	"gorm.io/gorm"

	"github.com/mediavms/paywall/app/models"
)

type mediaRepository struct {
	db *gorm.DB
}

// NewMediaRepository creates a new media repository instance
func NewMediaRepository(db *gorm.DB) MediaRepository {
	return &mediaRepository{db: db}
}

func (r *mediaRepository) GetByID(ctx context.Context, id uint) (*models.Media, error) {
	var media models.Media
	if err := r.db.WithContext(ctx).First(&media, id).Error; err != nil {
		return nil, err
	}
	return &media, nil
}

func (r *mediaRepository) GetByFriendlyToken(ctx context.Context, token string) (*models.Media, error) {
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, gorm.ErrRecordNotFound
	}
	var media models.Media
	if err := r.db.WithContext(ctx).Where("friendly_token = ?", token).First(&media).Error; err != nil {
		return nil, err
	}
	return &media, nil
}

// GetEncoding loads an encoding of the given media with its profile.
func (r *mediaRepository) GetEncoding(ctx context.Context, mediaID, encodingID uint) (*models.Encoding, error) {
	var enc models.Encoding
	err := r.db.WithContext(ctx).
		Preload("Profile").
		Where("id = ? AND media_id = ?", encodingID, mediaID).
		First(&enc).Error
	if err != nil {
		return nil, err
	}
	return &enc, nil
}

// ListReadyEncodings returns finished, non-chunk encodings ordered by resolution.
func (r *mediaRepository) ListReadyEncodings(ctx context.Context, mediaID uint) ([]models.Encoding, error) {
	var encs []models.Encoding
	err := r.db.WithContext(ctx).
		Preload("Profile").
		Joins("JOIN encode_profiles ON encode_profiles.id = encodings.profile_id").
		Where("encodings.media_id = ? AND encodings.status = ? AND encodings.progress = ? AND encodings.chunk = ?",
			mediaID, models.EncodingStatusSuccess, 100, false).
		Order("encode_profiles.resolution DESC").
		Find(&encs).Error
	return encs, err
}
