package controllers

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediavms/paywall/app/models"
	"github.com/mediavms/paywall/internal/pkg/payments"
)

func payloadOf(t *testing.T, contentType, body string) map[string]any {
	t.Helper()
	var got map[string]any
	app := fiber.New()
	app.Post("/", func(c *fiber.Ctx) error {
		got = requestPayload(c)
		return nil
	})
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(body))
	req.Header.Set("Content-Type", contentType)
	_, err := app.Test(req)
	require.NoError(t, err)
	return got
}

func TestRequestPayloadJSON(t *testing.T) {
	got := payloadOf(t, fiber.MIMEApplicationJSON, `{"commerceOrder": 42, "token": ["tok-1", "tok-2"], "paid": true}`)

	assert.Equal(t, json.Number("42"), got["commerceOrder"])
	assert.Equal(t, "tok-1", got["token"])
	assert.Equal(t, "42", firstOf(got, "commerce_order", "commerceOrder"))
	assert.Equal(t, "true", firstOf(got, "paid"))
}

func TestRequestPayloadForm(t *testing.T) {
	got := payloadOf(t, fiber.MIMEApplicationForm, "token=abc&commerceOrder=7")

	assert.Equal(t, "abc", firstOf(got, "token"))
	assert.Equal(t, "7", firstOf(got, "commerceOrder"))
	assert.Empty(t, firstOf(got, "missing"))
}

func TestRequestPayloadMalformedJSON(t *testing.T) {
	got := payloadOf(t, fiber.MIMEApplicationJSON, `{"token":`)
	assert.Empty(t, got)
}

func TestInboundTriggerMergesQueryAndBody(t *testing.T) {
	var got payments.Trigger
	app := fiber.New()
	app.All("/", func(c *fiber.Ctx) error {
		got = inboundTrigger(c, models.PaymentEventSourceReturn)
		return nil
	})

	req := httptest.NewRequest(http.MethodGet, "/?commerceOrder=7&m=abc123", nil)
	_, err := app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, models.PaymentEventSourceReturn, got.Source)
	assert.Equal(t, "7", got.CommerceOrder)
	assert.Empty(t, got.Token)
	assert.Equal(t, map[string]any{"commerceOrder": "7", "m": "abc123"}, got.Payload)

	req = httptest.NewRequest(http.MethodPost, "/?token=from-query&commerceOrder=7", strings.NewReader("token=from-body"))
	req.Header.Set("Content-Type", fiber.MIMEApplicationForm)
	_, err = app.Test(req)
	require.NoError(t, err)
	assert.Equal(t, "from-body", got.Token)
	assert.Equal(t, "7", got.CommerceOrder)
}

func TestAbsoluteURLFollowsForwardedProto(t *testing.T) {
	tests := []struct {
		name     string
		proto    string
		override string
		want     string
	}{
		{name: "plain", want: "http://media.example.com/payments/flow/return/"},
		{name: "forwarded https", proto: "https", want: "https://media.example.com/payments/flow/return/"},
		{name: "forwarded list", proto: "HTTPS, http", want: "https://media.example.com/payments/flow/return/"},
		{name: "override", override: "https://pay.example.com/back/", want: "https://pay.example.com/back/"},
		{name: "override coerced", proto: "https", override: "http://pay.example.com/back/", want: "https://pay.example.com/back/"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got string
			app := fiber.New()
			app.Get("/", func(c *fiber.Ctx) error {
				got = absoluteURL(c, tt.override, FlowReturnPath)
				return nil
			})
			req := httptest.NewRequest(http.MethodGet, "http://media.example.com/", nil)
			if tt.proto != "" {
				req.Header.Set("X-Forwarded-Proto", tt.proto)
			}
			_, err := app.Test(req)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestHumanSize(t *testing.T) {
	assert.Equal(t, "512 B", humanSize(512))
	assert.Equal(t, "1.0 KiB", humanSize(1024))
	assert.Equal(t, "1.5 MiB", humanSize(1536*1024))
	assert.Equal(t, "2.0 GiB", humanSize(2<<30))
}

func TestDownloadOptions(t *testing.T) {
	media := &models.Media{Title: "Clase 1", Size: 0}
	encs := []models.Encoding{
		{ID: 3, MediaFile: "encoded/3.mp4", Size: 2048, Profile: models.EncodeProfile{Extension: "mp4", Resolution: 720, Codec: "h264"}},
		{ID: 4, MediaFile: "encoded/4.gif", Profile: models.EncodeProfile{Extension: "gif"}},
		{ID: 5, MediaFile: " ", Profile: models.EncodeProfile{Extension: "mp4", Resolution: 480, Codec: "h264"}},
	}

	items := downloadOptions(media, encs, "/api/v1/media/t/download/file")
	require.Len(t, items, 2)

	assert.Equal(t, "720 - H264 (2.0 KiB)", items[0].Text)
	assert.Equal(t, "/api/v1/media/t/download/file?encoding_id=3", items[0].Link)
	assert.Equal(t, "Clase 1_720_H264", items[0].LinkAttr["download"])

	assert.Equal(t, "Original file", items[1].Text)
	assert.Equal(t, "/api/v1/media/t/download/file?kind=original", items[1].Link)
}

func TestClientIP(t *testing.T) {
	var got []string
	app := fiber.New()
	app.Get("/", func(c *fiber.Ctx) error {
		got = append(got, clientIP(c))
		return nil
	})

	for _, h := range []map[string]string{
		{"CF-Connecting-IP": "1.1.1.1", "X-Forwarded-For": "2.2.2.2"},
		{"X-Forwarded-For": "2.2.2.2, 10.0.0.1"},
		{"X-Real-IP": "3.3.3.3"},
	} {
		req := httptest.NewRequest(http.MethodGet, "/", nil)
		for k, v := range h {
			req.Header.Set(k, v)
		}
		_, err := app.Test(req)
		require.NoError(t, err)
	}
	assert.Equal(t, []string{"1.1.1.1", "2.2.2.2", "3.3.3.3"}, got)
}
