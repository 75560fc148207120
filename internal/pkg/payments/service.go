package payments

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/mediavms/paywall/app/models"
	"github.com/mediavms/paywall/app/repository"
	"github.com/mediavms/paywall/internal/pkg/config"
	"github.com/mediavms/paywall/internal/pkg/flow"
	"github.com/mediavms/paywall/internal/pkg/metrics"
)

// Diagnostic reasons recorded as payment events.
const (
	ReasonPaymentNotFound      = "payment_not_found"
	ReasonMissingIdentifiers   = "missing_identifiers"
	ReasonGatewayUnconfigured  = "gateway_unconfigured"
	ReasonMissingToken         = "missing_token"
	ReasonStatusQueryFailed    = "status_query_failed"
	ReasonProviderError        = "provider_error"
	ReasonReconcilePanic       = "reconcile_panic"
	ReasonPersistFailed        = "persist_failed"
	ReasonCheckoutGatewayError = "checkout_gateway_error"
)

// Gateway is the subset of the Flow client used by the service.
type Gateway interface {
	IsConfigured() bool
	CreatePayment(ctx context.Context, in flow.CreatePaymentRequest) (*flow.CreatePaymentResult, error)
	GetStatus(ctx context.Context, token string) (*flow.StatusResult, error)
}

// Notifier delivers customer and operator emails. Implementations report
// whether a message was sent and never fail the caller.
type Notifier interface {
	PurchaseConfirmed(ctx context.Context, payment *models.Payment) bool
	PurchaseProblem(ctx context.Context, payment *models.Payment, problem string) bool
	IntegrationError(ctx context.Context, payment *models.Payment, detail string) bool
}

type noopNotifier struct{}

func (noopNotifier) PurchaseConfirmed(context.Context, *models.Payment) bool { return false }

func (noopNotifier) PurchaseProblem(context.Context, *models.Payment, string) bool { return false }

func (noopNotifier) IntegrationError(context.Context, *models.Payment, string) bool { return false }

// ServiceParams groups the dependencies of Service.
type ServiceParams struct {
	Payments     repository.PaymentRepository
	Entitlements repository.EntitlementRepository
	Events       repository.PaymentEventRepository
	Gateway      Gateway
	Notifier     Notifier
	Metrics      *metrics.Paywall
	Logger       zerolog.Logger
	Flow         config.FlowConfig
	Access       config.AccessConfig
	Clock        func() time.Time
}

// Service reconciles provider observations into payment and entitlement
// state and opens checkouts.
type Service struct {
	payments     repository.PaymentRepository
	entitlements repository.EntitlementRepository
	events       repository.PaymentEventRepository
	gateway      Gateway
	notifier     Notifier
	metrics      *metrics.Paywall
	log          zerolog.Logger
	flow         config.FlowConfig
	access       config.AccessConfig
	now          func() time.Time
}

func NewService(p ServiceParams) *Service {
	s := &Service{
		payments:     p.Payments,
		entitlements: p.Entitlements,
		events:       p.Events,
		gateway:      p.Gateway,
		notifier:     p.Notifier,
		metrics:      p.Metrics,
		log:          p.Logger.With().Str("component", "payments").Logger(),
		flow:         p.Flow,
		access:       p.Access,
		now:          p.Clock,
	}
	if s.notifier == nil {
		s.notifier = noopNotifier{}
	}
	if s.now == nil {
		s.now = time.Now
	}
	return s
}

// Trigger carries the identifying fields extracted from an inbound signal.
type Trigger struct {
	Source        string
	Token         string
	CommerceOrder string
	Payload       map[string]any
}

// Result describes what a reconciliation run observed and changed.
type Result struct {
	Payment *models.Payment
	Outcome Outcome
	Applied bool
	Reason  string
}

func (r Result) label() string {
	switch {
	case r.Reason != "" && !r.Applied:
		return r.Reason
	case r.Applied:
		return string(r.Outcome)
	case r.Outcome != "":
		return "unchanged_" + string(r.Outcome)
	default:
		return "unchanged"
	}
}

// Reconcile resolves the payment designated by in, queries its authoritative
// status and applies at most one transition. It never returns an error:
// failures are recorded as diagnostics and forwarded to operators.
func (s *Service) Reconcile(ctx context.Context, in Trigger) (res Result) {
	in.Token = strings.TrimSpace(in.Token)
	in.CommerceOrder = strings.TrimSpace(in.CommerceOrder)
	log := s.log.With().
		Str("source", in.Source).
		Str("token", in.Token).
		Str("commerce_order", in.CommerceOrder).
		Logger()

	defer func() {
		if r := recover(); r != nil {
			detail := fmt.Sprintf("panic: %v", r)
			log.Error().Interface("panic", r).Msg("reconciliation panicked")
			s.diagnose(ctx, in, res.Payment, ReasonReconcilePanic, detail)
			s.notifyIntegration(ctx, res.Payment, detail)
			res.Reason = ReasonReconcilePanic
		}
		s.metrics.IncReconcile(in.Source, res.label())
	}()

	if in.Token == "" && in.CommerceOrder == "" {
		res.Reason = ReasonMissingIdentifiers
		s.diagnose(ctx, in, nil, res.Reason, "neither token nor commerceOrder present")
		return res
	}

	payment, status, err := s.resolve(ctx, in)
	if err != nil {
		res.Reason = ReasonPersistFailed
		s.diagnose(ctx, in, nil, res.Reason, err.Error())
		return res
	}
	if payment == nil {
		res.Reason = ReasonPaymentNotFound
		s.diagnose(ctx, in, nil, res.Reason, "no payment matches token or commerceOrder")
		return res
	}
	res.Payment = payment
	log = log.With().Uint("payment_id", payment.ID).Logger()

	if in.Token != "" && payment.Token() == "" {
		stored, err := s.payments.SetProviderTokenIfEmpty(ctx, payment.ID, in.Token)
		if err != nil {
			log.Error().Err(err).Msg("could not store provider token")
		} else if stored {
			token := in.Token
			payment.ProviderToken = &token
		}
	}

	s.saveInbound(ctx, log, payment, in)

	if !s.gateway.IsConfigured() {
		res.Reason = ReasonGatewayUnconfigured
		s.diagnose(ctx, in, payment, res.Reason, "flow credentials are not configured")
		return res
	}
	if payment.Token() == "" {
		res.Reason = ReasonMissingToken
		s.diagnose(ctx, in, payment, res.Reason, "payment has no provider token")
		return res
	}

	if payment.IsPaid() {
		res.Outcome = OutcomePaid
		if in.Source == models.PaymentEventSourceOperator {
			s.repairEntitlement(ctx, payment)
		}
		return res
	}

	if status == nil {
		status, err = s.gateway.GetStatus(ctx, payment.Token())
		if err != nil {
			detail := err.Error()
			if serr := s.payments.SaveStatusResponse(ctx, payment.ID, encodeJSON(map[string]any{"error": detail})); serr != nil {
				log.Error().Err(serr).Msg("could not store status error")
			}
			res.Reason = ReasonStatusQueryFailed
			s.diagnose(ctx, in, payment, res.Reason, detail)
			s.notifyIntegration(ctx, payment, detail)
			return res
		}
	}

	raw := encodeJSON(status.Payload)
	if err := s.payments.SaveStatusResponse(ctx, payment.ID, raw); err != nil {
		log.Error().Err(err).Msg("could not store status response")
	} else {
		payment.RawStatusResponse = raw
	}
	if msg := status.ProviderError(); msg != "" {
		res.Reason = ReasonProviderError
		s.diagnose(ctx, in, payment, res.Reason, msg)
		s.notifyIntegration(ctx, payment, msg)
	}

	res.Outcome = Classify(status.Payload)
	tr, ok := Decide(payment, res.Outcome, s.now())
	if !ok {
		log.Debug().Str("status", payment.Status).Str("outcome", string(res.Outcome)).Msg("no transition")
		return res
	}

	applied, err := s.apply(ctx, payment, tr)
	res.Applied = applied
	if err != nil {
		res.Reason = ReasonPersistFailed
		s.diagnose(ctx, in, payment, res.Reason, err.Error())
		s.notifyIntegration(ctx, payment, err.Error())
		return res
	}
	if applied {
		log.Info().Str("from", tr.From).Str("to", tr.To).Msg("payment transitioned")
	} else {
		log.Debug().Str("to", tr.To).Msg("transition already applied by a concurrent trigger")
		if fresh, err := s.payments.GetByID(ctx, payment.ID); err == nil {
			res.Payment = fresh
		}
	}
	return res
}

// saveInbound keeps the inbound payload for audit. Webhook and browser
// return payloads are stored apart; an empty payload stores nothing.
func (s *Service) saveInbound(ctx context.Context, log zerolog.Logger, payment *models.Payment, in Trigger) {
	if len(in.Payload) == 0 {
		return
	}
	raw := encodeJSON(in.Payload)
	var err error
	switch in.Source {
	case models.PaymentEventSourceConfirm:
		if err = s.payments.SaveConfirmPayload(ctx, payment.ID, raw); err == nil {
			payment.RawConfirmPayload = raw
		}
	case models.PaymentEventSourceReturn:
		if err = s.payments.SaveReturnPayload(ctx, payment.ID, raw); err == nil {
			payment.RawReturnPayload = raw
		}
	default:
		return
	}
	if err != nil {
		log.Error().Err(err).Msg("could not store inbound payload")
	}
}

// resolve finds the payment by commerce order, then by token. A confirm
// trigger carrying only an unknown token recovers the commerce order from
// the provider; the status answer is handed back so it is not fetched twice.
func (s *Service) resolve(ctx context.Context, in Trigger) (*models.Payment, *flow.StatusResult, error) {
	payment, err := s.byCommerceOrder(ctx, in.CommerceOrder)
	if err != nil || payment != nil {
		return payment, nil, err
	}
	if in.Token == "" {
		return nil, nil, nil
	}

	payment, err = s.payments.GetByProviderToken(ctx, models.PaymentProviderFlow, in.Token)
	if err == nil {
		return payment, nil, nil
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil, err
	}

	if in.Source != models.PaymentEventSourceConfirm || !s.gateway.IsConfigured() {
		return nil, nil, nil
	}
	status, err := s.gateway.GetStatus(ctx, in.Token)
	if err != nil {
		s.log.Warn().Err(err).Str("token", in.Token).Msg("could not recover payment through getStatus")
		return nil, nil, nil
	}
	order := stringField(status.Payload, "commerceOrder", "commerce_order")
	payment, err = s.byCommerceOrder(ctx, order)
	if err != nil || payment == nil {
		return nil, nil, err
	}
	return payment, status, nil
}

func (s *Service) byCommerceOrder(ctx context.Context, order string) (*models.Payment, error) {
	id, err := strconv.ParseUint(strings.TrimSpace(order), 10, 64)
	if err != nil || id == 0 {
		return nil, nil
	}
	payment, err := s.payments.GetByID(ctx, uint(id))
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	return payment, err
}

// apply persists tr with a conditional update and runs its effects only when
// this call won the update.
func (s *Service) apply(ctx context.Context, payment *models.Payment, tr Transition) (bool, error) {
	var (
		won bool
		err error
	)
	if tr.To == models.PaymentStatusPaid {
		won, err = s.payments.MarkPaid(ctx, payment.ID, *tr.PaidAt)
	} else {
		won, err = s.payments.MarkUnpaidTerminal(ctx, payment.ID, tr.To)
	}
	if err != nil || !won {
		return false, err
	}

	payment.Status = tr.To
	if tr.PaidAt != nil {
		payment.PaidAt = tr.PaidAt
	}

	for _, effect := range tr.Effects {
		switch effect {
		case EffectGrantEntitlement:
			if _, err := s.GrantEntitlement(ctx, payment.UserID, payment.MediaID, *tr.PaidAt); err != nil {
				return true, fmt.Errorf("grant entitlement: %w", err)
			}
		case EffectNotifyConfirmed:
			s.notifier.PurchaseConfirmed(ctx, payment)
		case EffectNotifyProblem:
			s.notifier.PurchaseProblem(ctx, payment, tr.Problem)
		}
	}
	return true, nil
}

// repairEntitlement re-grants the entitlement of a paid payment. Operators
// use it to recover from a grant that failed after the paid transition.
func (s *Service) repairEntitlement(ctx context.Context, payment *models.Payment) {
	paidAt := s.now()
	if payment.PaidAt != nil {
		paidAt = *payment.PaidAt
	}
	if _, err := s.GrantEntitlement(ctx, payment.UserID, payment.MediaID, paidAt); err != nil {
		s.log.Error().Err(err).Uint("payment_id", payment.ID).Msg("could not repair entitlement")
	}
}

// GrantEntitlement creates or reactivates the (user, media) entitlement.
func (s *Service) GrantEntitlement(ctx context.Context, userID, mediaID uint, paidAt time.Time) (*models.DownloadEntitlement, error) {
	paidAt = paidAt.UTC()
	ent := &models.DownloadEntitlement{
		UserID:  userID,
		MediaID: mediaID,
		Status:  models.EntitlementStatusActive,
		PaidAt:  &paidAt,
	}
	if ttl := s.access.EntitlementTTL; ttl > 0 {
		expires := paidAt.Add(ttl)
		ent.ExpiresAt = &expires
	}
	if err := s.entitlements.Upsert(ctx, ent); err != nil {
		return nil, err
	}
	return ent, nil
}

func (s *Service) diagnose(ctx context.Context, in Trigger, payment *models.Payment, reason, detail string) {
	ev := s.log.Warn()
	if reason == ReasonReconcilePanic || reason == ReasonPersistFailed || reason == ReasonStatusQueryFailed {
		ev = s.log.Error()
	}
	ev.Str("source", in.Source).
		Str("reason", reason).
		Str("token", in.Token).
		Str("commerce_order", in.CommerceOrder).
		Str("detail", detail).
		Msg("reconciliation diagnostic")
	s.metrics.IncDiagnostic(reason)

	if s.events == nil {
		return
	}
	event := &models.PaymentEvent{
		Source: in.Source,
		Reason: reason,
		Detail: detail,
	}
	if in.Payload != nil {
		event.PayloadJSON = encodeJSON(in.Payload)
	}
	if payment != nil {
		id := payment.ID
		event.PaymentID = &id
	}
	if err := s.events.Create(ctx, event); err != nil {
		s.log.Error().Err(err).Str("reason", reason).Msg("could not record payment event")
	}
}

func (s *Service) notifyIntegration(ctx context.Context, payment *models.Payment, detail string) {
	if payment == nil {
		return
	}
	s.notifier.IntegrationError(ctx, payment, detail)
}

func encodeJSON(v map[string]any) datatypes.JSON {
	if v == nil {
		return datatypes.JSON("{}")
	}
	b, err := json.Marshal(v)
	if err != nil {
		return datatypes.JSON("{}")
	}
	return datatypes.JSON(b)
}

func stringField(data map[string]any, keys ...string) string {
	for _, k := range keys {
		switch v := data[k].(type) {
		case string:
			if s := strings.TrimSpace(v); s != "" {
				return s
			}
		case json.Number:
			return v.String()
		case float64:
			return strconv.FormatFloat(v, 'f', -1, 64)
		}
	}
	return ""
}
