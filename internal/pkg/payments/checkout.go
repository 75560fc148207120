package payments

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/mediavms/paywall/app/models"
	"github.com/mediavms/paywall/internal/pkg/apperror"
	"github.com/mediavms/paywall/internal/pkg/flow"
)

const maxSubjectRunes = 45

// CheckoutRequest opens a paid access session for one media item.
type CheckoutRequest struct {
	User            *models.User
	Media           *models.Media
	Purpose         string
	ReturnURL       string
	ConfirmationURL string
}

// CheckoutResult tells the caller where to send the payer.
type CheckoutResult struct {
	Payment     *models.Payment
	RedirectURL string
	FakeSuccess bool
}

// Checkout creates a pending payment and opens the provider session. When
// the gateway is unconfigured and fake success is enabled the payment is
// settled immediately and the payer is sent back to the media page.
func (s *Service) Checkout(ctx context.Context, in CheckoutRequest) (*CheckoutResult, error) {
	if in.User == nil || in.Media == nil {
		return nil, apperror.New(apperror.CodeValidation, "user and media are required")
	}
	purpose := in.Purpose
	if purpose != models.PaymentPurposeStream {
		purpose = models.PaymentPurposeDownload
	}

	amount, currency := s.price(purpose)
	payment := &models.Payment{
		Provider: models.PaymentProviderFlow,
		Purpose:  purpose,
		Status:   models.PaymentStatusPending,
		UserID:   in.User.ID,
		MediaID:  in.Media.ID,
		Amount:   amount,
		Currency: currency,
	}
	if err := s.payments.Create(ctx, payment); err != nil {
		s.metrics.IncCheckout(purpose, "error")
		return nil, apperror.Wrap(apperror.CodeInternal, err, "Could not create payment.")
	}
	payment.User = in.User
	payment.Media = in.Media
	log := s.log.With().Uint("payment_id", payment.ID).Str("purpose", purpose).Logger()

	if !s.gateway.IsConfigured() {
		if !s.flow.FakeSuccess {
			s.metrics.IncCheckout(purpose, "unconfigured")
			return nil, apperror.New(apperror.CodeInternal, "Flow is not configured. Set FLOW_API_KEY and FLOW_SECRET_KEY.")
		}
		paidAt := s.now().UTC()
		if _, err := s.payments.MarkPaid(ctx, payment.ID, paidAt); err != nil {
			s.metrics.IncCheckout(purpose, "error")
			return nil, apperror.Wrap(apperror.CodeInternal, err, "Could not settle payment.")
		}
		payment.Status = models.PaymentStatusPaid
		payment.PaidAt = &paidAt
		if _, err := s.GrantEntitlement(ctx, in.User.ID, in.Media.ID, paidAt); err != nil {
			s.metrics.IncCheckout(purpose, "error")
			return nil, apperror.Wrap(apperror.CodeInternal, err, "Could not grant access.")
		}
		log.Warn().Msg("flow unconfigured, payment settled by fake success")
		s.metrics.IncCheckout(purpose, "fake_success")
		return &CheckoutResult{Payment: payment, RedirectURL: in.Media.GetAbsoluteURL(), FakeSuccess: true}, nil
	}

	optional := fmt.Sprintf("payment_id=%d&media=%s", payment.ID, in.Media.FriendlyToken)
	if purpose == models.PaymentPurposeStream {
		optional += "&purpose=stream"
	}
	created, err := s.gateway.CreatePayment(ctx, flowCreateRequest(payment, in, optional))
	if err != nil {
		log.Error().Err(err).Msg("flow create payment failed")
		raw := encodeJSON(map[string]any{"error": err.Error()})
		if _, merr := s.payments.MarkUnpaidTerminal(ctx, payment.ID, models.PaymentStatusFailed); merr != nil {
			log.Error().Err(merr).Msg("could not mark payment failed")
		}
		if serr := s.payments.SaveCreateResponse(ctx, payment.ID, "", "", raw); serr != nil {
			log.Error().Err(serr).Msg("could not store create error")
		}
		s.diagnose(ctx, Trigger{Source: models.PaymentEventSourceCheckout, CommerceOrder: strconv.FormatUint(uint64(payment.ID), 10)},
			payment, ReasonCheckoutGatewayError, err.Error())
		s.metrics.IncCheckout(purpose, "gateway_error")
		code := apperror.CodeInternal
		if flow.IsGatewayError(err) {
			code = apperror.CodeDependency
		}
		return nil, apperror.Wrap(code, err, "Failed to create Flow payment.")
	}

	if err := s.payments.SaveCreateResponse(ctx, payment.ID, created.Token, created.FlowOrder, encodeJSON(created.Raw)); err != nil {
		log.Error().Err(err).Msg("could not store create response")
	}
	if created.Token != "" {
		token := created.Token
		payment.ProviderToken = &token
	}
	if created.FlowOrder != "" {
		order := created.FlowOrder
		payment.ProviderOrderID = &order
	}
	s.metrics.IncCheckout(purpose, "redirect")
	return &CheckoutResult{Payment: payment, RedirectURL: created.RedirectURL}, nil
}

func (s *Service) price(purpose string) (int64, string) {
	if purpose == models.PaymentPurposeStream {
		return s.access.EffectiveStreamPrice(), s.access.EffectiveStreamCurrency()
	}
	return s.access.DownloadPrice, s.access.DownloadCurrency
}

func flowCreateRequest(payment *models.Payment, in CheckoutRequest, optional string) flow.CreatePaymentRequest {
	label := "Download video: "
	if payment.Purpose == models.PaymentPurposeStream {
		label = "Stream access: "
	}
	return flow.CreatePaymentRequest{
		CommerceOrder:   strconv.FormatUint(uint64(payment.ID), 10),
		Subject:         truncateRunes(label+in.Media.Title, maxSubjectRunes),
		Amount:          payment.Amount,
		Email:           strings.TrimSpace(in.User.Email),
		URLReturn:       in.ReturnURL,
		URLConfirmation: in.ConfirmationURL,
		Optional:        map[string]string{"optional": optional},
	}
}

func truncateRunes(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n])
}
