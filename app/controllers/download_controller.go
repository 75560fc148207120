package controllers

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"gorm.io/gorm"

	"github.com/mediavms/paywall/app/models"
	"github.com/mediavms/paywall/internal/pkg/apperror"
	"github.com/mediavms/paywall/internal/pkg/delivery"
	"github.com/mediavms/paywall/internal/pkg/entitlements"
	"github.com/mediavms/paywall/internal/pkg/usercontext"
)

const kindOriginal = "original"

// fileSelector picks the file of a media item to download.
type fileSelector struct {
	EncodingID uint   `query:"encoding_id"`
	Kind       string `query:"kind" validate:"required_without=EncodingID"`
}

// DownloadController serves paid media files.
type DownloadController struct {
	deps     Dependencies
	validate *validator.Validate
}

func NewDownloadController(deps Dependencies) *DownloadController {
	return &DownloadController{deps: deps, validate: validator.New()}
}

// HandleDownloadFile handles GET /api/v1/media/:token/download/file. The
// entitlement is checked before any file is looked up.
func (dc *DownloadController) HandleDownloadFile(c *fiber.Ctx) error {
	media, err := loadMedia(c, dc.deps.Repos.Media)
	if err != nil {
		return err
	}
	if !media.AllowDownload {
		return apperror.New(apperror.CodeForbidden, "Download disabled.")
	}
	if !media.IsVideo() {
		return apperror.New(apperror.CodeValidation, "Not a video.")
	}

	subject := usercontext.GetUserContext(c).Subject()
	allowed, err := dc.deps.Gate.Allowed(c.UserContext(), subject, media, entitlements.KindDownload)
	if err != nil {
		return fmt.Errorf("entitlement lookup: %w", err)
	}
	if !allowed {
		return apperror.New(apperror.CodePaymentRequired, "Payment required.")
	}

	var sel fileSelector
	if err := c.QueryParser(&sel); err != nil {
		return apperror.Wrap(apperror.CodeValidation, err, "Invalid encoding_id.")
	}
	if err := dc.validate.Struct(sel); err != nil {
		return apperror.Wrap(apperror.CodeValidation, err, "Missing encoding_id or kind=original.")
	}

	file, err := dc.selectFile(c.UserContext(), media, sel)
	if err != nil {
		return err
	}
	if file.Path == "" {
		return apperror.New(apperror.CodeNotFound, "File not available.")
	}

	timeout := dc.deps.Delivery.RequestTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	ctx, cancel := context.WithTimeout(c.UserContext(), timeout)
	defer cancel()
	target, err := dc.deps.Resolver.Resolve(ctx, file)
	switch {
	case errors.Is(err, delivery.ErrFileMissing):
		return apperror.New(apperror.CodeNotFound, "File not found.")
	case errors.Is(err, delivery.ErrOutsideRoot):
		dc.deps.Logger.Error().Str("path", file.Path).Uint("media_id", media.ID).Msg("media file outside MEDIA_ROOT")
		return apperror.New(apperror.CodeNotFound, "File not available.")
	case err != nil:
		return fmt.Errorf("resolve media file: %w", err)
	}

	switch target.Kind {
	case delivery.KindAccel:
		c.Set("X-Accel-Redirect", target.AccelPath)
		c.Set(fiber.HeaderContentDisposition, target.ContentDisposition())
		return c.SendStatus(fiber.StatusOK)
	case delivery.KindRedirect:
		return c.Redirect(target.RedirectURL, fiber.StatusFound)
	default:
		return c.Download(target.FilePath, target.Filename)
	}
}

func (dc *DownloadController) selectFile(ctx context.Context, media *models.Media, sel fileSelector) (delivery.StoredFile, error) {
	if sel.EncodingID != 0 {
		enc, err := dc.deps.Repos.Media.GetEncoding(ctx, media.ID, sel.EncodingID)
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return delivery.StoredFile{}, errNotFound
		}
		if err != nil {
			return delivery.StoredFile{}, fmt.Errorf("load encoding %d: %w", sel.EncodingID, err)
		}
		if !enc.IsReady() {
			return delivery.StoredFile{}, apperror.New(apperror.CodeValidation, "Encoding not ready.")
		}
		return delivery.StoredFile{
			Backend:  media.StorageBackend,
			Path:     enc.MediaFile,
			Filename: delivery.Filename(media.Title, enc.Extension()),
		}, nil
	}

	if sel.Kind != kindOriginal {
		return delivery.StoredFile{}, apperror.New(apperror.CodeValidation, "Missing encoding_id or kind=original.")
	}
	return delivery.StoredFile{
		Backend:  media.StorageBackend,
		Path:     media.MediaFile,
		Filename: delivery.OriginalFilename(media.Title, media.MediaFile),
	}, nil
}
