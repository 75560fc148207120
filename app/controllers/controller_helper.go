package controllers

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/utils"
	"github.com/rs/zerolog"
	"gorm.io/gorm"

	"github.com/mediavms/paywall/app/models"
	"github.com/mediavms/paywall/app/repository"
	"github.com/mediavms/paywall/internal/pkg/apperror"
	"github.com/mediavms/paywall/internal/pkg/config"
	"github.com/mediavms/paywall/internal/pkg/delivery"
	"github.com/mediavms/paywall/internal/pkg/entitlements"
	"github.com/mediavms/paywall/internal/pkg/payments"
)

const (
	FlowReturnPath       = "/payments/flow/return/"
	FlowConfirmationPath = "/payments/flow/confirm/"
)

// Dependencies are the collaborators shared by the paywall controllers.
type Dependencies struct {
	Repos    *repository.Repositories
	Gate     *entitlements.Gate
	Payments *payments.Service
	Resolver *delivery.Resolver
	Flow     config.FlowConfig
	Delivery config.DeliveryConfig
	Logger   zerolog.Logger
}

var errNotFound = apperror.New(apperror.CodeNotFound, "Not found.")

// loadMedia resolves the :token route parameter.
func loadMedia(c *fiber.Ctx, repo repository.MediaRepository) (*models.Media, error) {
	media, err := repo.GetByFriendlyToken(c.UserContext(), c.Params("token"))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, errNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load media %q: %w", c.Params("token"), err)
	}
	return media, nil
}

// absoluteURL returns override when set, else path on the request base URL.
// Either way the scheme is lowercased and follows X-Forwarded-Proto: https.
func absoluteURL(c *fiber.Ctx, override, path string) string {
	raw := strings.TrimSpace(override)
	if raw == "" {
		raw = c.BaseURL() + path
	}
	u, err := url.Parse(raw)
	if err != nil {
		return raw
	}
	u.Scheme = strings.ToLower(u.Scheme)
	if u.Scheme == "http" && forwardedHTTPS(c) {
		u.Scheme = "https"
	}
	return u.String()
}

func forwardedHTTPS(c *fiber.Ctx) bool {
	proto := strings.Split(c.Get(fiber.HeaderXForwardedProto), ",")[0]
	return strings.EqualFold(strings.TrimSpace(proto), "https")
}

// requestPayload flattens the JSON or form body of the request. Values of
// the JSON body keep their decoded type; form fields win only for keys the
// JSON body did not carry.
func requestPayload(c *fiber.Ctx) map[string]any {
	out := map[string]any{}
	ct := strings.ToLower(string(c.Request().Header.ContentType()))
	if strings.HasPrefix(ct, fiber.MIMEApplicationJSON) && len(c.Body()) > 0 {
		var body map[string]any
		dec := json.NewDecoder(bytes.NewReader(c.Body()))
		dec.UseNumber()
		if err := dec.Decode(&body); err == nil {
			for k, v := range body {
				out[k] = firstValue(v)
			}
		}
	}
	c.Request().PostArgs().VisitAll(func(k, v []byte) {
		if _, ok := out[string(k)]; !ok {
			out[string(k)] = string(v)
		}
	})
	return out
}

// inboundTrigger extracts the identifying fields of a provider signal from
// the body and the query string. Body values win over query values.
func inboundTrigger(c *fiber.Ctx, source string) payments.Trigger {
	payload := requestPayload(c)
	c.Request().URI().QueryArgs().VisitAll(func(k, v []byte) {
		if _, ok := payload[string(k)]; !ok {
			payload[string(k)] = string(v)
		}
	})
	return payments.Trigger{
		Source:        source,
		Token:         firstOf(payload, "token"),
		CommerceOrder: firstOf(payload, "commerceOrder", "commerce_order"),
		Payload:       payload,
	}
}

// firstValue unwraps single element lists sent by some form encoders.
func firstValue(v any) any {
	if list, ok := v.([]any); ok {
		if len(list) == 0 {
			return nil
		}
		return list[0]
	}
	return v
}

// valueString renders a scalar payload value, "" for anything else.
func valueString(v any) string {
	switch t := v.(type) {
	case string:
		return strings.TrimSpace(t)
	case json.Number:
		return t.String()
	case float64, bool:
		return fmt.Sprint(t)
	default:
		return ""
	}
}

// firstOf returns the first non-empty payload field among keys.
func firstOf(payload map[string]any, keys ...string) string {
	for _, k := range keys {
		if v := valueString(payload[k]); v != "" {
			return v
		}
	}
	return ""
}

// clientIP determines the client address considering the reverse proxy
// headers. The result is copied out of the request buffers.
func clientIP(c *fiber.Ctx) string {
	if ip := strings.TrimSpace(c.Get("CF-Connecting-IP")); ip != "" {
		return utils.CopyString(ip)
	}
	if xff := c.Get(fiber.HeaderXForwardedFor); xff != "" {
		if ip := strings.TrimSpace(strings.Split(xff, ",")[0]); ip != "" {
			return utils.CopyString(ip)
		}
	}
	if ip := strings.TrimSpace(c.Get("X-Real-IP")); ip != "" {
		return utils.CopyString(ip)
	}
	return utils.CopyString(c.IP())
}
