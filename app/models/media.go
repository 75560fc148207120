package models

import (
	"net/url"
	"strings"
	"time"
)

const (
	MediaTypeVideo = "video"
	MediaTypeImage = "image"
	MediaTypeAudio = "audio"

	StorageBackendLocal = "local"
	StorageBackendS3    = "s3"
)

// Media is a published item owned by the media catalogue. Only the fields the
// paywall decides on are mapped here.
type Media struct {
	ID             uint       `gorm:"primaryKey" json:"id"`
	FriendlyToken  string     `gorm:"type:varchar(64);not null;uniqueIndex" json:"friendly_token"`
	Title          string     `gorm:"type:varchar(255);not null" json:"title"`
	MediaType      string     `gorm:"type:varchar(20);not null;default:'video';index" json:"media_type"`
	AllowDownload  bool       `gorm:"not null" json:"allow_download"`
	Stream         string     `gorm:"type:varchar(500)" json:"-"`
	MediaFile      string     `gorm:"type:varchar(500)" json:"-"`
	StorageBackend string     `gorm:"type:varchar(20);not null;default:'local'" json:"-"`
	Size           int64      `gorm:"default:0" json:"size"`
	Encodings      []Encoding `gorm:"foreignKey:MediaID" json:"-"`
	CreatedAt      time.Time  `gorm:"autoCreateTime" json:"created_at"`
	UpdatedAt      time.Time  `gorm:"autoUpdateTime" json:"updated_at"`
}

func (Media) TableName() string {
	return "media"
}

// IsVideo reports whether the media item is a video.
func (m *Media) IsVideo() bool {
	return m.MediaType == MediaTypeVideo
}

// HasStream reports whether an HLS rendition is published for the item.
func (m *Media) HasStream() bool {
	return strings.TrimSpace(m.Stream) != ""
}

// GetAbsoluteURL returns the public page of the item.
func (m *Media) GetAbsoluteURL() string {
	return "/view?m=" + url.QueryEscape(m.FriendlyToken)
}
