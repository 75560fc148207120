package payments

import (
	"encoding/json"
	"math"
	"slices"
	"strconv"
	"strings"
)

// Outcome is the classified result of a provider status payload.
type Outcome string

const (
	OutcomePaid          Outcome = "paid"
	OutcomeFailed        Outcome = "failed"
	OutcomeCanceled      Outcome = "canceled"
	OutcomeIndeterminate Outcome = "indeterminate"
)

// Flow status codes.
const (
	flowStatusPending  = 1
	flowStatusPaid     = 2
	flowStatusRejected = 3
	flowStatusCanceled = 4
)

var (
	paidTokens     = []string{"paid", "success"}
	failedTokens   = []string{"rejected", "reject", "failed", "failure", "error"}
	canceledTokens = []string{"canceled", "cancelled", "canceled_by_user", "cancel"}
)

// Classify maps a getStatus payload to an Outcome. Both the top level
// "status" and "paymentData.status" are inspected. A paid value in either
// field wins; otherwise the top level terminal value is preferred over the
// nested one.
func Classify(payload map[string]any) Outcome {
	if payload == nil {
		return OutcomeIndeterminate
	}
	candidates := []any{payload["status"]}
	if nested, ok := payload["paymentData"].(map[string]any); ok {
		candidates = append(candidates, nested["status"])
	}

	for _, v := range candidates {
		if classifyValue(v) == OutcomePaid {
			return OutcomePaid
		}
	}
	for _, v := range candidates {
		if o := classifyValue(v); o != OutcomeIndeterminate {
			return o
		}
	}
	return OutcomeIndeterminate
}

func classifyValue(v any) Outcome {
	if v == nil {
		return OutcomeIndeterminate
	}
	if n, ok := statusCode(v); ok {
		switch n {
		case flowStatusPaid:
			return OutcomePaid
		case flowStatusRejected:
			return OutcomeFailed
		case flowStatusCanceled:
			return OutcomeCanceled
		default:
			return OutcomeIndeterminate
		}
	}

	s, ok := v.(string)
	if !ok {
		return OutcomeIndeterminate
	}
	s = strings.ToLower(strings.TrimSpace(s))
	switch {
	case slices.Contains(paidTokens, s):
		return OutcomePaid
	case slices.Contains(failedTokens, s):
		return OutcomeFailed
	case slices.Contains(canceledTokens, s):
		return OutcomeCanceled
	}
	return OutcomeIndeterminate
}

// statusCode extracts an integral status code from numbers and numeric strings.
func statusCode(v any) (int64, bool) {
	switch t := v.(type) {
	case int:
		return int64(t), true
	case int32:
		return int64(t), true
	case int64:
		return t, true
	case float64:
		if t != math.Trunc(t) {
			return 0, false
		}
		return int64(t), true
	case json.Number:
		if n, err := t.Int64(); err == nil {
			return n, true
		}
		if f, err := t.Float64(); err == nil && f == math.Trunc(f) {
			return int64(f), true
		}
		return 0, false
	case string:
		n, err := strconv.ParseInt(strings.TrimSpace(t), 10, 64)
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
