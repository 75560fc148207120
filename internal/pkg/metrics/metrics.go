package metrics

import (
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// Paywall records reconciliation, gateway, notification and access metrics.
// A nil *Paywall, or one built without a registerer, records nothing.
type Paywall struct {
	reconcile     *prometheus.CounterVec
	diagnostics   *prometheus.CounterVec
	gatewayCalls  *prometheus.CounterVec
	gatewayTime   *prometheus.HistogramVec
	notifications *prometheus.CounterVec
	access        *prometheus.CounterVec
	checkouts     *prometheus.CounterVec
}

// NewPaywall registers the paywall metrics on the provided registerer.
func NewPaywall(reg prometheus.Registerer) *Paywall {
	if reg == nil {
		return &Paywall{}
	}
	reconcile := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paywall_reconcile_total",
		Help: "Reconciliation runs by trigger source and resulting outcome.",
	}, []string{"source", "outcome"})
	diagnostics := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paywall_reconcile_diagnostics_total",
		Help: "Reconciliation diagnostics recorded, by reason.",
	}, []string{"reason"})
	gatewayCalls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paywall_gateway_requests_total",
		Help: "Requests sent to the payment provider by operation and result.",
	}, []string{"op", "result"})
	gatewayTime := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "paywall_gateway_duration_seconds",
		Help:    "Latency of payment provider requests.",
		Buckets: prometheus.DefBuckets,
	}, []string{"op"})
	notifications := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paywall_notifications_total",
		Help: "Notification emails by kind and delivery status.",
	}, []string{"kind", "status"})
	access := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paywall_access_decisions_total",
		Help: "Entitlement gate decisions by kind and result.",
	}, []string{"kind", "result"})
	checkouts := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "paywall_checkouts_total",
		Help: "Checkout attempts by purpose and result.",
	}, []string{"purpose", "result"})
	reg.MustRegister(reconcile, diagnostics, gatewayCalls, gatewayTime, notifications, access, checkouts)
	return &Paywall{
		reconcile:     reconcile,
		diagnostics:   diagnostics,
		gatewayCalls:  gatewayCalls,
		gatewayTime:   gatewayTime,
		notifications: notifications,
		access:        access,
		checkouts:     checkouts,
	}
}

func (m *Paywall) IncReconcile(source, outcome string) {
	if m == nil || m.reconcile == nil {
		return
	}
	m.reconcile.WithLabelValues(norm(source), norm(outcome)).Inc()
}

func (m *Paywall) IncDiagnostic(reason string) {
	if m == nil || m.diagnostics == nil {
		return
	}
	m.diagnostics.WithLabelValues(norm(reason)).Inc()
}

func (m *Paywall) ObserveGateway(op, result string, d time.Duration) {
	if m == nil || m.gatewayCalls == nil {
		return
	}
	m.gatewayCalls.WithLabelValues(norm(op), norm(result)).Inc()
	m.gatewayTime.WithLabelValues(norm(op)).Observe(d.Seconds())
}

func (m *Paywall) IncNotification(kind, status string) {
	if m == nil || m.notifications == nil {
		return
	}
	m.notifications.WithLabelValues(norm(kind), norm(status)).Inc()
}

func (m *Paywall) IncAccess(kind string, allowed bool) {
	if m == nil || m.access == nil {
		return
	}
	result := "denied"
	if allowed {
		result = "allowed"
	}
	m.access.WithLabelValues(norm(kind), result).Inc()
}

func (m *Paywall) IncCheckout(purpose, result string) {
	if m == nil || m.checkouts == nil {
		return
	}
	m.checkouts.WithLabelValues(norm(purpose), norm(result)).Inc()
}

func norm(v string) string {
	v = strings.ToLower(strings.TrimSpace(v))
	if v == "" {
		return "unknown"
	}
	return v
}
