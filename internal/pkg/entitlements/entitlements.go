package entitlements

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/mediavms/paywall/app/models"
	"github.com/mediavms/paywall/app/repository"
	"github.com/mediavms/paywall/internal/pkg/config"
	"github.com/mediavms/paywall/internal/pkg/metrics"
)

type Kind string

const (
	KindDownload Kind = "download"
	KindStream   Kind = "stream"
)

// Subject is the viewer an access decision is made for.
type Subject struct {
	UserID     uint
	LoggedIn   bool
	Privileged bool
}

// Gate answers whether a viewer may download or stream a media item.
// Decisions are evaluated against the database on every call.
type Gate struct {
	cfg     config.AccessConfig
	repo    repository.EntitlementRepository
	metrics *metrics.Paywall
	now     func() time.Time
}

func NewGate(cfg config.AccessConfig, repo repository.EntitlementRepository, m *metrics.Paywall) *Gate {
	return &Gate{cfg: cfg, repo: repo, metrics: m, now: time.Now}
}

// WithClock replaces the time source used to check expiry.
func (g *Gate) WithClock(now func() time.Time) *Gate {
	g.now = now
	return g
}

// RequiresPayment reports whether access of the given kind is paid for this
// media. Only videos participate.
func (g *Gate) RequiresPayment(media *models.Media, kind Kind) bool {
	if media == nil || !media.IsVideo() {
		return false
	}
	switch kind {
	case KindDownload:
		return g.cfg.DownloadRequiresPayment && media.AllowDownload
	case KindStream:
		return g.cfg.StreamRequiresPayment && media.HasStream()
	default:
		return false
	}
}

// IsEntitled reports whether the subject holds a currently valid entitlement.
// Privileged subjects are always entitled.
func (g *Gate) IsEntitled(ctx context.Context, subject Subject, media *models.Media) (bool, error) {
	if subject.Privileged {
		return true, nil
	}
	if !subject.LoggedIn || subject.UserID == 0 || media == nil {
		return false, nil
	}
	ent, err := g.repo.GetByUserAndMedia(ctx, subject.UserID, media.ID)
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	return ent.IsValidAt(g.now()), nil
}

// Allowed combines RequiresPayment and IsEntitled.
func (g *Gate) Allowed(ctx context.Context, subject Subject, media *models.Media, kind Kind) (bool, error) {
	if !g.RequiresPayment(media, kind) {
		g.metrics.IncAccess(string(kind), true)
		return true, nil
	}
	ok, err := g.IsEntitled(ctx, subject, media)
	if err != nil {
		return false, err
	}
	g.metrics.IncAccess(string(kind), ok)
	return ok, nil
}

// Price returns the configured price in minor units.
func (g *Gate) Price(kind Kind) int64 {
	if kind == KindStream {
		return g.cfg.EffectiveStreamPrice()
	}
	return g.cfg.DownloadPrice
}

func (g *Gate) Currency(kind Kind) string {
	if kind == KindStream {
		return g.cfg.EffectiveStreamCurrency()
	}
	return g.cfg.DownloadCurrency
}
