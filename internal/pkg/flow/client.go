package flow

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/mediavms/paywall/internal/pkg/config"
	"github.com/mediavms/paywall/internal/pkg/metrics"
)

const (
	opCreatePayment = "create_payment"
	opGetStatus     = "get_status"

	maxResponseBytes = 1 << 20
)

// Client talks to the Flow payment API.
type Client struct {
	cfg        config.FlowConfig
	httpClient *http.Client
	metrics    *metrics.Paywall
}

type Option func(*Client)

// WithHTTPClient replaces the default HTTP client. The configured timeout is
// applied when the replacement has none.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *Client) {
		if hc != nil {
			c.httpClient = hc
		}
	}
}

func WithMetrics(m *metrics.Paywall) Option {
	return func(c *Client) {
		c.metrics = m
	}
}

func NewClient(cfg config.FlowConfig, opts ...Option) *Client {
	cfg.APIKey = strings.TrimSpace(cfg.APIKey)
	cfg.SecretKey = strings.TrimSpace(cfg.SecretKey)
	cfg.StatusMethod = strings.ToUpper(strings.TrimSpace(cfg.StatusMethod))
	if cfg.StatusMethod != http.MethodPost {
		cfg.StatusMethod = http.MethodGet
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 20 * time.Second
	}
	c := &Client{
		cfg: cfg,
		httpClient: &http.Client{
			Timeout: cfg.Timeout,
		},
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient.Timeout <= 0 {
		c.httpClient.Timeout = cfg.Timeout
	}
	return c
}

// IsConfigured reports whether both API key and secret are present.
func (c *Client) IsConfigured() bool {
	return c.cfg.APIKey != "" && c.cfg.SecretKey != ""
}

// CreatePaymentRequest describes a hosted payment session.
type CreatePaymentRequest struct {
	CommerceOrder   string
	Subject         string
	Amount          int64
	Email           string
	URLReturn       string
	URLConfirmation string
	Optional        map[string]string
}

type CreatePaymentResult struct {
	RedirectURL string
	Token       string
	FlowOrder   string
	Raw         map[string]any
}

// StatusResult is the decoded answer of getStatus. Provider side errors
// answered with a JSON body are returned here rather than as an error.
type StatusResult struct {
	HTTPStatus int
	Payload    map[string]any
}

// ProviderError returns the provider's error description, or "" when the
// answer does not describe an error.
func (r *StatusResult) ProviderError() string {
	if r == nil {
		return ""
	}
	_, hasErr := r.Payload["error"]
	ok := r.HTTPStatus >= 200 && r.HTTPStatus < 300
	if ok && !hasErr {
		return ""
	}
	msg := firstString(r.Payload, "error", "message")
	if code := firstString(r.Payload, "code"); code != "" && msg != "" {
		msg = fmt.Sprintf("%s (code %s)", msg, code)
	}
	if msg == "" && !ok {
		msg = fmt.Sprintf("provider answered HTTP %d", r.HTTPStatus)
	}
	if msg == "" {
		msg = "provider reported an error"
	}
	return msg
}

// CreatePayment opens a payment session and returns the URL the payer must
// be sent to, with the token inlined.
func (c *Client) CreatePayment(ctx context.Context, in CreatePaymentRequest) (*CreatePaymentResult, error) {
	if !c.IsConfigured() {
		return nil, &GatewayError{Op: opCreatePayment, Err: ErrNotConfigured}
	}
	params := map[string]string{
		"apiKey":          c.cfg.APIKey,
		"commerceOrder":   in.CommerceOrder,
		"subject":         in.Subject,
		"amount":          strconv.FormatInt(in.Amount, 10),
		"email":           in.Email,
		"urlReturn":       in.URLReturn,
		"urlConfirmation": in.URLConfirmation,
	}
	for k, v := range in.Optional {
		params[k] = v
	}

	status, data, body, err := c.call(ctx, opCreatePayment, http.MethodPost, c.cfg.CreatePath, params)
	if err != nil {
		return nil, err
	}
	if status < 200 || status >= 300 {
		return nil, &GatewayError{Op: opCreatePayment, StatusCode: status, Body: truncate(body)}
	}

	redirectURL := firstString(data, "url", "redirect", "redirectUrl")
	if redirectURL == "" {
		return nil, &GatewayError{Op: opCreatePayment, Err: fmt.Errorf("%w: missing redirect url", ErrMalformedResponse)}
	}
	token := firstString(data, "token", "flowOrder")

	return &CreatePaymentResult{
		RedirectURL: withToken(redirectURL, token),
		Token:       token,
		FlowOrder:   firstString(data, "flowOrder"),
		Raw:         data,
	}, nil
}

// GetStatus queries the authoritative status of a payment token. It is sent
// as a signed query string, or as a signed form with FLOW_STATUS_METHOD=POST.
func (c *Client) GetStatus(ctx context.Context, token string) (*StatusResult, error) {
	if !c.IsConfigured() {
		return nil, &GatewayError{Op: opGetStatus, Err: ErrNotConfigured}
	}
	token = strings.TrimSpace(token)
	if token == "" {
		return nil, &GatewayError{Op: opGetStatus, Err: fmt.Errorf("token is required")}
	}
	params := map[string]string{
		"apiKey": c.cfg.APIKey,
		"token":  token,
	}
	status, data, _, err := c.call(ctx, opGetStatus, c.cfg.StatusMethod, c.cfg.StatusPath, params)
	if err != nil {
		return nil, err
	}
	return &StatusResult{HTTPStatus: status, Payload: data}, nil
}

// call sends a signed request and decodes a JSON object answer. Any status
// code with a JSON object body is returned to the caller; transport errors
// and undecodable bodies become a *GatewayError.
func (c *Client) call(ctx context.Context, op, method, path string, params map[string]string) (int, map[string]any, []byte, error) {
	started := time.Now()
	result := "error"
	defer func() {
		c.metrics.ObserveGateway(op, result, time.Since(started))
	}()

	form := url.Values{}
	for k, v := range params {
		form.Set(k, v)
	}
	form.Set(SignatureParam, Sign(params, c.cfg.SecretKey))

	endpoint := strings.TrimRight(c.cfg.APIBase, "/") + path
	var body io.Reader
	if method == http.MethodGet {
		endpoint += "?" + form.Encode()
	} else {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, endpoint, body)
	if err != nil {
		return 0, nil, nil, &GatewayError{Op: op, Err: err}
	}
	if body != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	req.Header.Set("Accept", "application/json")

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return 0, nil, nil, &GatewayError{Op: op, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxResponseBytes))
	if err != nil {
		return resp.StatusCode, nil, nil, &GatewayError{Op: op, Err: fmt.Errorf("read body: %w", err)}
	}

	data := map[string]any{}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	if err := dec.Decode(&data); err != nil {
		if resp.StatusCode < 200 || resp.StatusCode >= 300 {
			return 0, nil, nil, &GatewayError{Op: op, StatusCode: resp.StatusCode, Body: truncate(raw)}
		}
		return 0, nil, nil, &GatewayError{Op: op, Err: fmt.Errorf("%w: %v", ErrMalformedResponse, err)}
	}

	if resp.StatusCode >= 200 && resp.StatusCode < 300 {
		result = "ok"
	} else {
		result = "provider_error"
	}
	return resp.StatusCode, data, raw, nil
}

// withToken appends token as a query parameter unless the URL already has it.
func withToken(redirectURL, token string) string {
	if token == "" {
		return redirectURL
	}
	u, err := url.Parse(redirectURL)
	if err != nil {
		sep := "?"
		if strings.Contains(redirectURL, "?") {
			sep = "&"
		}
		return redirectURL + sep + "token=" + url.QueryEscape(token)
	}
	q := u.Query()
	if q.Get("token") != "" {
		return redirectURL
	}
	q.Set("token", token)
	u.RawQuery = q.Encode()
	return u.String()
}

func firstString(data map[string]any, keys ...string) string {
	for _, k := range keys {
		v, ok := data[k]
		if !ok || v == nil {
			continue
		}
		var s string
		switch t := v.(type) {
		case string:
			s = t
		case json.Number:
			s = t.String()
		case float64:
			s = strconv.FormatFloat(t, 'f', -1, 64)
		case bool:
			s = strconv.FormatBool(t)
		default:
			continue
		}
		if s = strings.TrimSpace(s); s != "" {
			return s
		}
	}
	return ""
}

func truncate(body []byte) string {
	const max = 512
	if len(body) > max {
		return string(body[:max])
	}
	return string(body)
}
