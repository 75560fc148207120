package controllers

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/mediavms/paywall/app/models"
	"github.com/mediavms/paywall/internal/pkg/entitlements"
	"github.com/mediavms/paywall/internal/pkg/usercontext"
)

// DownloadOption is one entry of the download menu of the media page.
type DownloadOption struct {
	ItemType string            `json:"itemType"`
	Text     string            `json:"text"`
	Icon     string            `json:"icon"`
	Link     string            `json:"link"`
	LinkAttr map[string]string `json:"linkAttr"`
}

// MediaAccess summarizes what the viewer may do with a media item and what
// it costs. Prices and checkout URLs are null when nothing is to be paid.
type MediaAccess struct {
	FriendlyToken           string           `json:"friendly_token"`
	Title                   string           `json:"title"`
	MediaType               string           `json:"media_type"`
	AllowDownload           bool             `json:"allow_download"`
	DownloadRequiresPayment bool             `json:"download_requires_payment"`
	DownloadEntitled        bool             `json:"download_entitled"`
	DownloadPrice           *int64           `json:"download_price"`
	DownloadCurrency        *string          `json:"download_currency"`
	DownloadCheckoutURL     *string          `json:"download_checkout_url"`
	DownloadOptions         []DownloadOption `json:"download_options"`
	IsStream                bool             `json:"is_stream"`
	Stream                  string           `json:"stream"`
	StreamRequiresPayment   bool             `json:"stream_requires_payment"`
	StreamEntitled          bool             `json:"stream_entitled"`
	StreamPrice             *int64           `json:"stream_price"`
	StreamCurrency          *string          `json:"stream_currency"`
	StreamCheckoutURL       *string          `json:"stream_checkout_url"`
}

// MediaAccessController reports paywall state for the media page.
type MediaAccessController struct {
	deps Dependencies
}

func NewMediaAccessController(deps Dependencies) *MediaAccessController {
	return &MediaAccessController{deps: deps}
}

// HandleMediaAccess handles GET /api/v1/media/:token/access. Anonymous
// viewers get the same prices with nothing entitled.
func (mc *MediaAccessController) HandleMediaAccess(c *fiber.Ctx) error {
	media, err := loadMedia(c, mc.deps.Repos.Media)
	if err != nil {
		return err
	}
	ctx := c.UserContext()
	gate := mc.deps.Gate

	entitled, err := gate.IsEntitled(ctx, usercontext.GetUserContext(c).Subject(), media)
	if err != nil {
		return fmt.Errorf("entitlement lookup: %w", err)
	}

	base := absoluteURL(c, "", "/api/v1/media/"+media.FriendlyToken)
	out := MediaAccess{
		FriendlyToken:           media.FriendlyToken,
		Title:                   media.Title,
		MediaType:               media.MediaType,
		AllowDownload:           media.AllowDownload,
		DownloadRequiresPayment: gate.RequiresPayment(media, entitlements.KindDownload),
		IsStream:                media.HasStream(),
		StreamRequiresPayment:   gate.RequiresPayment(media, entitlements.KindStream),
		DownloadOptions:         []DownloadOption{},
	}

	out.DownloadEntitled = !out.DownloadRequiresPayment || entitled
	if out.DownloadRequiresPayment {
		out.DownloadPrice = ptr(gate.Price(entitlements.KindDownload))
		out.DownloadCurrency = ptr(gate.Currency(entitlements.KindDownload))
		if !entitled {
			out.DownloadCheckoutURL = ptr(base + "/download/checkout")
		}
	}

	out.StreamEntitled = !out.StreamRequiresPayment || entitled
	if out.StreamRequiresPayment {
		out.StreamPrice = ptr(gate.Price(entitlements.KindStream))
		out.StreamCurrency = ptr(gate.Currency(entitlements.KindStream))
		if !entitled {
			out.StreamCheckoutURL = ptr(base + "/stream/checkout")
		}
	}
	if out.StreamEntitled {
		out.Stream = media.Stream
	}

	if media.IsVideo() && media.AllowDownload && out.DownloadEntitled {
		encs, err := mc.deps.Repos.Media.ListReadyEncodings(ctx, media.ID)
		if err != nil {
			return fmt.Errorf("list encodings: %w", err)
		}
		out.DownloadOptions = downloadOptions(media, encs, base+"/download/file")
	}

	return c.JSON(out)
}

func downloadOptions(media *models.Media, encs []models.Encoding, fileURL string) []DownloadOption {
	items := make([]DownloadOption, 0, len(encs)+1)
	for _, enc := range encs {
		if enc.Extension() == "gif" || strings.TrimSpace(enc.MediaFile) == "" {
			continue
		}
		codec := strings.ToUpper(enc.Profile.Codec)
		text := fmt.Sprintf("%d - %s (%s)", enc.Profile.Resolution, codec, humanSize(enc.Size))
		items = append(items, DownloadOption{
			ItemType: "link",
			Text:     text,
			Icon:     "arrow_downward",
			Link:     fileURL + "?encoding_id=" + strconv.FormatUint(uint64(enc.ID), 10),
			LinkAttr: map[string]string{
				"target":   "_blank",
				"download": fmt.Sprintf("%s_%d_%s", media.Title, enc.Profile.Resolution, codec),
			},
		})
	}

	text := "Original file"
	if media.Size > 0 {
		text = fmt.Sprintf("Original file (%s)", humanSize(media.Size))
	}
	items = append(items, DownloadOption{
		ItemType: "link",
		Text:     text,
		Icon:     "arrow_downward",
		Link:     fileURL + "?kind=" + kindOriginal,
		LinkAttr: map[string]string{"target": "_blank", "download": media.Title},
	})
	return items
}

// humanSize renders a byte count with a binary unit.
func humanSize(n int64) string {
	const unit = 1024
	if n < unit {
		return fmt.Sprintf("%d B", n)
	}
	div, exp := int64(unit), 0
	for v := n / unit; v >= unit; v /= unit {
		div *= unit
		exp++
	}
	return fmt.Sprintf("%.1f %ciB", float64(n)/float64(div), "KMGTPE"[exp])
}

// PurchaseItem is one media item the user currently holds access to.
type PurchaseItem struct {
	FriendlyToken string     `json:"friendly_token"`
	Title         string     `json:"title"`
	MediaType     string     `json:"media_type"`
	URL           string     `json:"url"`
	PurchasedAt   *time.Time `json:"purchased_at"`
	ExpiresAt     *time.Time `json:"expires_at"`
}

// HandlePurchases handles GET /api/v1/user/purchases: media with a valid
// entitlement, most recently paid first.
func (mc *MediaAccessController) HandlePurchases(c *fiber.Ctx) error {
	userID := usercontext.GetUserID(c)
	ents, err := mc.deps.Repos.Entitlement.ListValidByUser(c.UserContext(), userID, time.Now())
	if err != nil {
		return fmt.Errorf("list purchases: %w", err)
	}

	items := make([]PurchaseItem, 0, len(ents))
	for _, ent := range ents {
		if ent.Media == nil {
			continue
		}
		items = append(items, PurchaseItem{
			FriendlyToken: ent.Media.FriendlyToken,
			Title:         ent.Media.Title,
			MediaType:     ent.Media.MediaType,
			URL:           ent.Media.GetAbsoluteURL(),
			PurchasedAt:   ent.PaidAt,
			ExpiresAt:     ent.ExpiresAt,
		})
	}
	return c.JSON(fiber.Map{"count": len(items), "results": items})
}

func ptr[T any](v T) *T {
	return &v
}
