package mail

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/mediavms/paywall/app/models"
	"github.com/mediavms/paywall/internal/pkg/metrics"
)

const (
	kindConfirmed   = "confirmed"
	kindProblem     = "problem"
	kindIntegration = "integration"
)

// Notifications renders and sends the purchase emails. Delivery failures
// are logged and counted, never returned.
type Notifications struct {
	mailer       Mailer
	portalName   string
	frontendHost string
	admins       []string
	metrics      *metrics.Paywall
	log          zerolog.Logger
}

type NotificationsParams struct {
	Mailer       Mailer
	PortalName   string
	FrontendHost string
	AdminEmails  []string
	Metrics      *metrics.Paywall
	Logger       zerolog.Logger
}

func NewNotifications(p NotificationsParams) *Notifications {
	portal := strings.TrimSpace(p.PortalName)
	if portal == "" {
		portal = "MediaVMS"
	}
	admins := make([]string, 0, len(p.AdminEmails))
	for _, a := range p.AdminEmails {
		if a = strings.TrimSpace(a); a != "" {
			admins = append(admins, a)
		}
	}
	return &Notifications{
		mailer:       p.Mailer,
		portalName:   portal,
		frontendHost: strings.TrimRight(strings.TrimSpace(p.FrontendHost), "/"),
		admins:       admins,
		metrics:      p.Metrics,
		log:          p.Logger.With().Str("component", "mail").Logger(),
	}
}

// PurchaseConfirmed tells the buyer the purchase went through.
func (n *Notifications) PurchaseConfirmed(ctx context.Context, payment *models.Payment) bool {
	to := buyerEmail(payment)
	if to == "" {
		n.metrics.IncNotification(kindConfirmed, "skipped")
		return false
	}

	lines := []string{"Tu compra fue confirmada exitosamente.", ""}
	if payment.Media != nil {
		lines = append(lines, "Contenido: "+payment.Media.Title)
	}
	lines = append(lines, strings.TrimSpace(fmt.Sprintf("Monto: %d %s", payment.Amount, payment.Currency)))
	if u := n.mediaURL(payment); u != "" {
		lines = append(lines, "", "Puedes volver al video aquí: "+u)
	}
	lines = append(lines, "", "Gracias por tu compra.")

	return n.send(ctx, kindConfirmed, payment, Message{
		To:      []string{to},
		Subject: fmt.Sprintf("[%s] - Compra confirmada", n.portalName),
		Body:    strings.Join(lines, "\n"),
	})
}

// PurchaseProblem tells the buyer the payment was rejected or canceled.
func (n *Notifications) PurchaseProblem(ctx context.Context, payment *models.Payment, problem string) bool {
	to := buyerEmail(payment)
	if to == "" {
		n.metrics.IncNotification(kindProblem, "skipped")
		return false
	}

	lines := []string{
		"Detectamos un problema al procesar tu compra.",
		"",
		"Detalle: " + problem,
	}
	if payment.Media != nil {
		lines = append(lines, "", "Contenido: "+payment.Media.Title)
	}
	if u := n.mediaURL(payment); u != "" {
		lines = append(lines, "", "Link: "+u)
	}
	lines = append(lines, "",
		"Si el cobro se realizó pero no se habilitó la descarga, responde este correo o contáctanos para validarlo.")

	return n.send(ctx, kindProblem, payment, Message{
		To:      []string{to},
		Subject: fmt.Sprintf("[%s] - Problema con tu compra", n.portalName),
		Body:    strings.Join(lines, "\n"),
	})
}

// IntegrationError alerts operators that the provider could not be queried
// or answered with an error.
func (n *Notifications) IntegrationError(ctx context.Context, payment *models.Payment, detail string) bool {
	if len(n.admins) == 0 || payment == nil {
		n.metrics.IncNotification(kindIntegration, "skipped")
		return false
	}

	body := strings.Join([]string{
		"Hubo un error consultando el estado del pago en Flow.",
		"",
		fmt.Sprintf("payment_id: %d", payment.ID),
		"status local: " + payment.Status,
		"provider_token: " + payment.Token(),
		"",
		"error: " + detail,
	}, "\n")

	return n.send(ctx, kindIntegration, payment, Message{
		To:      n.admins,
		Subject: fmt.Sprintf("[%s] - Error integración Flow (payment_id=%d)", n.portalName, payment.ID),
		Body:    body,
	})
}

func (n *Notifications) send(ctx context.Context, kind string, payment *models.Payment, msg Message) bool {
	if n.mailer == nil {
		n.metrics.IncNotification(kind, "skipped")
		return false
	}
	if err := n.mailer.Send(ctx, msg); err != nil {
		n.log.Error().Err(err).Str("kind", kind).Uint("payment_id", payment.ID).Msg("could not send notification")
		n.metrics.IncNotification(kind, "failed")
		return false
	}
	n.metrics.IncNotification(kind, "sent")
	return true
}

func (n *Notifications) mediaURL(payment *models.Payment) string {
	if payment.Media == nil || n.frontendHost == "" {
		return ""
	}
	return n.frontendHost + payment.Media.GetAbsoluteURL()
}

func buyerEmail(payment *models.Payment) string {
	if payment == nil || payment.User == nil {
		return ""
	}
	return strings.TrimSpace(payment.User.Email)
}
