package flow

import (
	"errors"
	"fmt"
)

var (
	// ErrNotConfigured is returned by signed calls when credentials are missing.
	ErrNotConfigured = errors.New("flow: api key and secret are not configured")
	// ErrMalformedResponse marks a provider answer that lacks required fields.
	ErrMalformedResponse = errors.New("flow: malformed response")
)

// GatewayError is a transport or protocol failure while talking to Flow.
// It never describes the outcome of the payment itself.
type GatewayError struct {
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("flow %s failed: status=%d body=%s", e.Op, e.StatusCode, e.Body)
	}
	return fmt.Sprintf("flow %s failed: %v", e.Op, e.Err)
}

func (e *GatewayError) Unwrap() error {
	return e.Err
}

// IsGatewayError reports whether err is, or wraps, a *GatewayError.
func IsGatewayError(err error) bool {
	var ge *GatewayError
	return errors.As(err, &ge)
}
