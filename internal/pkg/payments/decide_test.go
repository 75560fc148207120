package payments

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mediavms/paywall/app/models"
)

func TestDecidePaidFromPending(t *testing.T) {
	now := time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)
	tr, ok := Decide(&models.Payment{Status: models.PaymentStatusPending}, OutcomePaid, now)
	require.True(t, ok)

	assert.Equal(t, models.PaymentStatusPaid, tr.To)
	require.NotNil(t, tr.PaidAt)
	assert.True(t, tr.PaidAt.Equal(now))
	assert.Equal(t, []Effect{EffectGrantEntitlement, EffectNotifyConfirmed}, tr.Effects)
}

func TestDecidePaidIsAbsorbing(t *testing.T) {
	paid := &models.Payment{Status: models.PaymentStatusPaid}
	for _, o := range []Outcome{OutcomePaid, OutcomeFailed, OutcomeCanceled, OutcomeIndeterminate} {
		_, ok := Decide(paid, o, time.Now())
		assert.False(t, ok, "outcome %s", o)
	}
}

func TestDecideFailures(t *testing.T) {
	tr, ok := Decide(&models.Payment{Status: models.PaymentStatusPending}, OutcomeFailed, time.Now())
	require.True(t, ok)
	assert.Equal(t, models.PaymentStatusFailed, tr.To)
	assert.Equal(t, "Pago rechazado.", tr.Problem)
	assert.Nil(t, tr.PaidAt)
	assert.Equal(t, []Effect{EffectNotifyProblem}, tr.Effects)

	tr, ok = Decide(&models.Payment{Status: models.PaymentStatusPending}, OutcomeCanceled, time.Now())
	require.True(t, ok)
	assert.Equal(t, models.PaymentStatusCanceled, tr.To)
	assert.Equal(t, "Pago cancelado.", tr.Problem)
}

func TestDecideSameTerminalIsNoop(t *testing.T) {
	_, ok := Decide(&models.Payment{Status: models.PaymentStatusFailed}, OutcomeFailed, time.Now())
	assert.False(t, ok)
	_, ok = Decide(&models.Payment{Status: models.PaymentStatusCanceled}, OutcomeCanceled, time.Now())
	assert.False(t, ok)
}

func TestDecideFailedCanStillBecomePaid(t *testing.T) {
	tr, ok := Decide(&models.Payment{Status: models.PaymentStatusFailed}, OutcomePaid, time.Now())
	require.True(t, ok)
	assert.Equal(t, models.PaymentStatusFailed, tr.From)
	assert.Equal(t, models.PaymentStatusPaid, tr.To)

	tr, ok = Decide(&models.Payment{Status: models.PaymentStatusFailed}, OutcomeCanceled, time.Now())
	require.True(t, ok)
	assert.Equal(t, models.PaymentStatusCanceled, tr.To)
}

func TestDecideIndeterminate(t *testing.T) {
	_, ok := Decide(&models.Payment{Status: models.PaymentStatusPending}, OutcomeIndeterminate, time.Now())
	assert.False(t, ok)
	_, ok = Decide(nil, OutcomePaid, time.Now())
	assert.False(t, ok)
}
