package repository

import (
	"context"
	"time"

	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/mediavms/paywall/app/models"
)

// PaymentRepository defines the persistence operations on payment attempts.
// Status transitions are conditional updates: the boolean reports whether
// this call performed the transition.
type PaymentRepository interface {
	Create(ctx context.Context, payment *models.Payment) error
	GetByID(ctx context.Context, id uint) (*models.Payment, error)
	GetByProviderToken(ctx context.Context, provider, token string) (*models.Payment, error)
	List(ctx context.Context, filter PaymentFilter) ([]models.Payment, error)
	SetProviderTokenIfEmpty(ctx context.Context, id uint, token string) (bool, error)
	SaveCreateResponse(ctx context.Context, id uint, token, orderID string, raw datatypes.JSON) error
	SaveConfirmPayload(ctx context.Context, id uint, raw datatypes.JSON) error
	SaveReturnPayload(ctx context.Context, id uint, raw datatypes.JSON) error
	SaveStatusResponse(ctx context.Context, id uint, raw datatypes.JSON) error
	MarkPaid(ctx context.Context, id uint, paidAt time.Time) (bool, error)
	MarkUnpaidTerminal(ctx context.Context, id uint, status string) (bool, error)
}

// PaymentFilter narrows admin listings.
type PaymentFilter struct {
	Status  string
	UserID  uint
	MediaID uint
	Offset  int
	Limit   int
}

// EntitlementRepository defines the persistence operations on entitlements.
type EntitlementRepository interface {
	Upsert(ctx context.Context, ent *models.DownloadEntitlement) error
	GetByUserAndMedia(ctx context.Context, userID, mediaID uint) (*models.DownloadEntitlement, error)
	ListValidByUser(ctx context.Context, userID uint, now time.Time) ([]models.DownloadEntitlement, error)
}

// MediaRepository reads catalogue rows owned by the media service.
type MediaRepository interface {
	GetByID(ctx context.Context, id uint) (*models.Media, error)
	GetByFriendlyToken(ctx context.Context, token string) (*models.Media, error)
	GetEncoding(ctx context.Context, mediaID, encodingID uint) (*models.Encoding, error)
	ListReadyEncodings(ctx context.Context, mediaID uint) ([]models.Encoding, error)
}

// UserRepository reads account rows owned by the identity service.
type UserRepository interface {
	GetByID(ctx context.Context, id uint) (*models.User, error)
}

// PaymentEventRepository stores reconciliation diagnostics.
type PaymentEventRepository interface {
	Create(ctx context.Context, event *models.PaymentEvent) error
	ListByPayment(ctx context.Context, paymentID uint, limit int) ([]models.PaymentEvent, error)
	ListRecent(ctx context.Context, limit int) ([]models.PaymentEvent, error)
}

// Repositories holds all repository instances
type Repositories struct {
	Payment      PaymentRepository
	Entitlement  EntitlementRepository
	Media        MediaRepository
	User         UserRepository
	PaymentEvent PaymentEventRepository
}

// NewRepositories creates a new instance of all repositories
func NewRepositories(db *gorm.DB) *Repositories {
	return &Repositories{
		Payment:      NewPaymentRepository(db),
		Entitlement:  NewEntitlementRepository(db),
		Media:        NewMediaRepository(db),
		User:         NewUserRepository(db),
		PaymentEvent: NewPaymentEventRepository(db),
	}
}
