package payments

import (
	"time"

	"github.com/mediavms/paywall/app/models"
)

// Effect is a side effect owed once a transition has been persisted.
type Effect string

const (
	EffectGrantEntitlement Effect = "grant_entitlement"
	EffectNotifyConfirmed  Effect = "notify_confirmed"
	EffectNotifyProblem    Effect = "notify_problem"
)

const (
	problemRejected = "Pago rechazado."
	problemCanceled = "Pago cancelado."
)

// Transition is the state change Decide asks the caller to persist.
type Transition struct {
	From    string
	To      string
	PaidAt  *time.Time
	Problem string
	Effects []Effect
}

// Decide computes the transition for a payment currently in state current
// observing outcome. It returns false when nothing must change: paid is
// absorbing and a failure is applied at most once per target status.
func Decide(current *models.Payment, outcome Outcome, now time.Time) (Transition, bool) {
	if current == nil || current.IsPaid() {
		return Transition{}, false
	}

	switch outcome {
	case OutcomePaid:
		paidAt := now.UTC()
		return Transition{
			From:    current.Status,
			To:      models.PaymentStatusPaid,
			PaidAt:  &paidAt,
			Effects: []Effect{EffectGrantEntitlement, EffectNotifyConfirmed},
		}, true
	case OutcomeFailed, OutcomeCanceled:
		target, problem := models.PaymentStatusFailed, problemRejected
		if outcome == OutcomeCanceled {
			target, problem = models.PaymentStatusCanceled, problemCanceled
		}
		if current.Status == target {
			return Transition{}, false
		}
		return Transition{
			From:    current.Status,
			To:      target,
			Problem: problem,
			Effects: []Effect{EffectNotifyProblem},
		}, true
	default:
		return Transition{}, false
	}
}
