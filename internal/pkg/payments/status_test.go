package payments

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassify(t *testing.T) {
	cases := []struct {
		name    string
		payload map[string]any
		want    Outcome
	}{
		{"int paid", map[string]any{"status": 2}, OutcomePaid},
		{"float paid", map[string]any{"status": float64(2)}, OutcomePaid},
		{"json number paid", map[string]any{"status": json.Number("2")}, OutcomePaid},
		{"numeric string paid", map[string]any{"status": "2"}, OutcomePaid},
		{"lower paid", map[string]any{"status": "paid"}, OutcomePaid},
		{"upper paid", map[string]any{"status": "PAID"}, OutcomePaid},
		{"success", map[string]any{"status": "Success"}, OutcomePaid},
		{"nested paid", map[string]any{"status": 1, "paymentData": map[string]any{"status": "paid"}}, OutcomePaid},
		{"rejected code", map[string]any{"status": 3}, OutcomeFailed},
		{"rejected token", map[string]any{"status": "REJECTED"}, OutcomeFailed},
		{"failure token", map[string]any{"status": "failure"}, OutcomeFailed},
		{"canceled code", map[string]any{"status": json.Number("4")}, OutcomeCanceled},
		{"cancelled spelling", map[string]any{"status": "cancelled"}, OutcomeCanceled},
		{"canceled by user", map[string]any{"status": "canceled_by_user"}, OutcomeCanceled},
		{"nested canceled", map[string]any{"paymentData": map[string]any{"status": 4}}, OutcomeCanceled},
		{"top level terminal before nested", map[string]any{"status": 3, "paymentData": map[string]any{"status": 4}}, OutcomeFailed},
		{"paid beats failure", map[string]any{"status": 3, "paymentData": map[string]any{"status": 2}}, OutcomePaid},
		{"pending", map[string]any{"status": 1}, OutcomeIndeterminate},
		{"fractional", map[string]any{"status": 2.5}, OutcomeIndeterminate},
		{"unknown token", map[string]any{"status": "waiting"}, OutcomeIndeterminate},
		{"bool", map[string]any{"status": true}, OutcomeIndeterminate},
		{"missing", map[string]any{"amount": 990}, OutcomeIndeterminate},
		{"nil payload", nil, OutcomeIndeterminate},
		{"nested not an object", map[string]any{"paymentData": "paid"}, OutcomeIndeterminate},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, Classify(tc.payload))
		})
	}
}

func TestClassifyDecodedProviderBody(t *testing.T) {
	var payload map[string]any
	dec := json.NewDecoder(strings.NewReader(`{"flowOrder":8765,"commerceOrder":"42","status":2,"paymentData":{"date":"2026-01-01","media":"Webpay"}}`))
	dec.UseNumber()
	assert.NoError(t, dec.Decode(&payload))

	assert.Equal(t, OutcomePaid, Classify(payload))
}
