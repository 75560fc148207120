package models

import (
	"strings"
	"time"
)

const (
	EncodingStatusPending = "pending"
	EncodingStatusRunning = "running"
	EncodingStatusFail    = "fail"
	EncodingStatusSuccess = "success"
)

// EncodeProfile describes one output rendition of the transcoder.
type EncodeProfile struct {
	ID         uint   `gorm:"primaryKey" json:"id"`
	Name       string `gorm:"type:varchar(90);not null" json:"name"`
	Extension  string `gorm:"type:varchar(10);not null" json:"extension"`
	Resolution int    `gorm:"default:0" json:"resolution"`
	Codec      string `gorm:"type:varchar(10)" json:"codec"`
}

// Encoding is one transcoded file of a media item.
type Encoding struct {
	ID        uint          `gorm:"primaryKey" json:"id"`
	MediaID   uint          `gorm:"not null;index" json:"media_id"`
	ProfileID uint          `gorm:"not null" json:"profile_id"`
	Profile   EncodeProfile `gorm:"foreignKey:ProfileID" json:"profile"`
	Status    string        `gorm:"type:varchar(20);not null;default:'pending'" json:"status"`
	Progress  int           `gorm:"default:0" json:"progress"`
	MediaFile string        `gorm:"type:varchar(500)" json:"-"`
	Size      int64         `gorm:"default:0" json:"size"`
	Chunk     bool          `gorm:"default:false" json:"chunk"`
	CreatedAt time.Time     `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt time.Time     `gorm:"autoUpdateTime" json:"updated_at"`
}

// IsReady reports whether the transcode finished and the file can be served.
func (e *Encoding) IsReady() bool {
	return e.Status == EncodingStatusSuccess && e.Progress == 100
}

// Extension returns the file extension of the rendition without a leading dot.
func (e *Encoding) Extension() string {
	ext := strings.TrimPrefix(strings.TrimSpace(e.Profile.Extension), ".")
	if ext == "" {
		return "mp4"
	}
	return strings.ToLower(ext)
}
