package payments

import (
	"context"
	"encoding/json"
	"errors"
	"strconv"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/mediavms/paywall/app/models"
	"github.com/mediavms/paywall/app/repository"
	"github.com/mediavms/paywall/internal/pkg/apperror"
	"github.com/mediavms/paywall/internal/pkg/config"
	"github.com/mediavms/paywall/internal/pkg/database/dbtest"
	"github.com/mediavms/paywall/internal/pkg/flow"
)

type fakeGateway struct {
	mu          sync.Mutex
	configured  bool
	statuses    map[string]*flow.StatusResult
	statusErr   error
	panicOn     bool
	created     *flow.CreatePaymentResult
	createErr   error
	createReqs  []flow.CreatePaymentRequest
	statusCalls int
}

func (g *fakeGateway) IsConfigured() bool { return g.configured }

func (g *fakeGateway) CreatePayment(_ context.Context, in flow.CreatePaymentRequest) (*flow.CreatePaymentResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.createReqs = append(g.createReqs, in)
	if g.createErr != nil {
		return nil, g.createErr
	}
	return g.created, nil
}

func (g *fakeGateway) GetStatus(_ context.Context, token string) (*flow.StatusResult, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.statusCalls++
	if g.panicOn {
		panic("decoder exploded")
	}
	if g.statusErr != nil {
		return nil, g.statusErr
	}
	res, ok := g.statuses[token]
	if !ok {
		return &flow.StatusResult{HTTPStatus: 400, Payload: map[string]any{"code": json.Number("105"), "message": "token not found"}}, nil
	}
	return res, nil
}

func (g *fakeGateway) calls() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.statusCalls
}

type fakeNotifier struct {
	mu          sync.Mutex
	confirmed   []uint
	problems    []string
	integration []string
}

func (n *fakeNotifier) PurchaseConfirmed(_ context.Context, p *models.Payment) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.confirmed = append(n.confirmed, p.ID)
	return true
}

func (n *fakeNotifier) PurchaseProblem(_ context.Context, _ *models.Payment, problem string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.problems = append(n.problems, problem)
	return true
}

func (n *fakeNotifier) IntegrationError(_ context.Context, _ *models.Payment, detail string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.integration = append(n.integration, detail)
	return true
}

type fixture struct {
	db       *gorm.DB
	repos    *repository.Repositories
	gateway  *fakeGateway
	notifier *fakeNotifier
	svc      *Service
	user     *models.User
	media    *models.Media
	now      time.Time
}

func newFixture(t *testing.T, mutate ...func(*ServiceParams)) *fixture {
	t.Helper()
	db := dbtest.Open(t)
	repos := repository.NewRepositories(db)

	user := &models.User{Name: "Camila", Email: "camila@example.com", Role: models.ROLE_USER, Status: models.STATUS_ACTIVE}
	require.NoError(t, db.Create(user).Error)
	media := &models.Media{FriendlyToken: "abc123", Title: "Concierto en vivo", MediaType: models.MediaTypeVideo, AllowDownload: true}
	require.NoError(t, db.Create(media).Error)

	f := &fixture{
		db:       db,
		repos:    repos,
		gateway:  &fakeGateway{configured: true, statuses: map[string]*flow.StatusResult{}},
		notifier: &fakeNotifier{},
		user:     user,
		media:    media,
		now:      time.Date(2026, 5, 4, 10, 0, 0, 0, time.UTC),
	}
	params := ServiceParams{
		Payments:     repos.Payment,
		Entitlements: repos.Entitlement,
		Events:       repos.PaymentEvent,
		Gateway:      f.gateway,
		Notifier:     f.notifier,
		Logger:       zerolog.Nop(),
		Access: config.AccessConfig{
			DownloadPrice:    990,
			DownloadCurrency: "CLP",
		},
		Clock: func() time.Time { return f.now },
	}
	for _, m := range mutate {
		m(&params)
	}
	f.svc = NewService(params)
	return f
}

func (f *fixture) pendingPayment(t *testing.T, token string) *models.Payment {
	t.Helper()
	p := &models.Payment{UserID: f.user.ID, MediaID: f.media.ID, Amount: 990, Currency: "CLP"}
	if token != "" {
		p.ProviderToken = &token
	}
	require.NoError(t, f.repos.Payment.Create(context.Background(), p))
	return p
}

func (f *fixture) reload(t *testing.T, id uint) *models.Payment {
	t.Helper()
	p, err := f.repos.Payment.GetByID(context.Background(), id)
	require.NoError(t, err)
	return p
}

func (f *fixture) count(t *testing.T, model any) int64 {
	t.Helper()
	var n int64
	require.NoError(t, f.db.Model(model).Count(&n).Error)
	return n
}

func paidStatus(order uint) *flow.StatusResult {
	return &flow.StatusResult{HTTPStatus: 200, Payload: map[string]any{
		"commerceOrder": strconv.FormatUint(uint64(order), 10),
		"status":        json.Number("2"),
	}}
}

func TestReconcileUnknownCommerceOrderIsAcknowledged(t *testing.T) {
	f := newFixture(t)
	f.pendingPayment(t, "tok-1")

	res := f.svc.Reconcile(context.Background(), Trigger{
		Source:        models.PaymentEventSourceConfirm,
		CommerceOrder: "42",
		Payload:       map[string]any{"commerceOrder": "42"},
	})

	assert.Nil(t, res.Payment)
	assert.Equal(t, ReasonPaymentNotFound, res.Reason)
	assert.Equal(t, 0, f.gateway.calls())
	assert.Equal(t, int64(0), f.count(t, &models.DownloadEntitlement{}))

	events, err := f.repos.PaymentEvent.ListRecent(context.Background(), 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ReasonPaymentNotFound, events[0].Reason)
	assert.Nil(t, events[0].PaymentID)
	assert.Contains(t, string(events[0].PayloadJSON), `"42"`)
}

func TestReconcileMissingIdentifiers(t *testing.T) {
	f := newFixture(t)

	res := f.svc.Reconcile(context.Background(), Trigger{Source: models.PaymentEventSourceConfirm})
	assert.Equal(t, ReasonMissingIdentifiers, res.Reason)
	assert.Equal(t, int64(1), f.count(t, &models.PaymentEvent{}))
}

func TestReconcilePaidGrantsOnceAcrossDuplicates(t *testing.T) {
	f := newFixture(t)
	p := f.pendingPayment(t, "tok-1")
	f.gateway.statuses["tok-1"] = paidStatus(p.ID)

	for i := 0; i < 2; i++ {
		res := f.svc.Reconcile(context.Background(), Trigger{
			Source:  models.PaymentEventSourceConfirm,
			Token:   "tok-1",
			Payload: map[string]any{"token": "tok-1"},
		})
		assert.Equal(t, OutcomePaid, res.Outcome)
		assert.Equal(t, i == 0, res.Applied)
	}

	got := f.reload(t, p.ID)
	assert.Equal(t, models.PaymentStatusPaid, got.Status)
	require.NotNil(t, got.PaidAt)
	assert.True(t, got.PaidAt.Equal(f.now))
	assert.JSONEq(t, `{"token":"tok-1"}`, string(got.RawConfirmPayload))
	assert.Contains(t, string(got.RawStatusResponse), `"status":2`)

	assert.Equal(t, int64(1), f.count(t, &models.DownloadEntitlement{}))
	assert.Equal(t, []uint{p.ID}, f.notifier.confirmed)
	assert.Equal(t, 1, f.gateway.calls(), "already paid payments are not queried again")

	ent, err := f.repos.Entitlement.GetByUserAndMedia(context.Background(), f.user.ID, f.media.ID)
	require.NoError(t, err)
	assert.True(t, ent.IsValidAt(f.now))
	assert.Nil(t, ent.ExpiresAt)
}

func TestReconcileKeepsConfirmAndReturnPayloadsApart(t *testing.T) {
	f := newFixture(t)
	p := f.pendingPayment(t, "tok-1")
	f.gateway.statuses["tok-1"] = paidStatus(p.ID)

	f.svc.Reconcile(context.Background(), Trigger{
		Source:  models.PaymentEventSourceConfirm,
		Token:   "tok-1",
		Payload: map[string]any{"token": "tok-1"},
	})
	f.svc.Reconcile(context.Background(), Trigger{
		Source:  models.PaymentEventSourceReturn,
		Token:   "tok-1",
		Payload: map[string]any{},
	})

	got := f.reload(t, p.ID)
	assert.JSONEq(t, `{"token":"tok-1"}`, string(got.RawConfirmPayload))
	assert.Empty(t, got.RawReturnPayload)

	f.svc.Reconcile(context.Background(), Trigger{
		Source:  models.PaymentEventSourceReturn,
		Token:   "tok-1",
		Payload: map[string]any{"token": "tok-1", "m": "abc123"},
	})

	got = f.reload(t, p.ID)
	assert.JSONEq(t, `{"token":"tok-1"}`, string(got.RawConfirmPayload))
	assert.JSONEq(t, `{"token":"tok-1","m":"abc123"}`, string(got.RawReturnPayload))
}

func TestReconcileConcurrentDuplicates(t *testing.T) {
	f := newFixture(t)
	p := f.pendingPayment(t, "tok-1")
	f.gateway.statuses["tok-1"] = paidStatus(p.ID)

	var wg sync.WaitGroup
	for i := 0; i < 4; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			f.svc.Reconcile(context.Background(), Trigger{Source: models.PaymentEventSourceConfirm, Token: "tok-1"})
		}()
	}
	wg.Wait()

	assert.Equal(t, models.PaymentStatusPaid, f.reload(t, p.ID).Status)
	assert.Equal(t, int64(1), f.count(t, &models.DownloadEntitlement{}))
	assert.Len(t, f.notifier.confirmed, 1)
}

func TestReconcilePrefersCommerceOrderOverToken(t *testing.T) {
	f := newFixture(t)
	byToken := f.pendingPayment(t, "tok-other")
	byOrder := f.pendingPayment(t, "tok-1")
	f.gateway.statuses["tok-1"] = paidStatus(byOrder.ID)

	res := f.svc.Reconcile(context.Background(), Trigger{
		Source:        models.PaymentEventSourceReturn,
		Token:         "tok-other",
		CommerceOrder: strconv.FormatUint(uint64(byOrder.ID), 10),
	})

	require.NotNil(t, res.Payment)
	assert.Equal(t, byOrder.ID, res.Payment.ID)
	assert.Equal(t, "tok-1", f.reload(t, byOrder.ID).Token(), "stored token is never overwritten")
	assert.Equal(t, models.PaymentStatusPending, f.reload(t, byToken.ID).Status)
}

func TestReconcileStoresTokenWhenMissing(t *testing.T) {
	f := newFixture(t)
	p := f.pendingPayment(t, "")
	f.gateway.statuses["tok-new"] = &flow.StatusResult{HTTPStatus: 200, Payload: map[string]any{"status": json.Number("1")}}

	res := f.svc.Reconcile(context.Background(), Trigger{
		Source:        models.PaymentEventSourceReturn,
		Token:         "tok-new",
		CommerceOrder: strconv.FormatUint(uint64(p.ID), 10),
	})

	assert.Equal(t, OutcomeIndeterminate, res.Outcome)
	assert.False(t, res.Applied)
	got := f.reload(t, p.ID)
	assert.Equal(t, "tok-new", got.Token())
	assert.Equal(t, models.PaymentStatusPending, got.Status)
}

func TestReconcileRecoversOrderThroughStatusOnConfirm(t *testing.T) {
	f := newFixture(t)
	p := f.pendingPayment(t, "")
	f.gateway.statuses["tok-late"] = paidStatus(p.ID)

	res := f.svc.Reconcile(context.Background(), Trigger{Source: models.PaymentEventSourceConfirm, Token: "tok-late"})

	require.NotNil(t, res.Payment)
	assert.True(t, res.Applied)
	assert.Equal(t, 1, f.gateway.calls(), "recovered status answer is reused")
	got := f.reload(t, p.ID)
	assert.Equal(t, models.PaymentStatusPaid, got.Status)
	assert.Equal(t, "tok-late", got.Token())
}

func TestReconcileReturnDoesNotRecoverUnknownToken(t *testing.T) {
	f := newFixture(t)
	p := f.pendingPayment(t, "")
	f.gateway.statuses["tok-late"] = paidStatus(p.ID)

	res := f.svc.Reconcile(context.Background(), Trigger{Source: models.PaymentEventSourceReturn, Token: "tok-late"})

	assert.Equal(t, ReasonPaymentNotFound, res.Reason)
	assert.Equal(t, 0, f.gateway.calls())
}

func TestReconcileUnconfiguredGateway(t *testing.T) {
	f := newFixture(t)
	f.gateway.configured = false
	p := f.pendingPayment(t, "tok-1")

	res := f.svc.Reconcile(context.Background(), Trigger{
		Source:  models.PaymentEventSourceConfirm,
		Token:   "tok-1",
		Payload: map[string]any{"token": "tok-1"},
	})

	assert.Equal(t, ReasonGatewayUnconfigured, res.Reason)
	assert.Equal(t, 0, f.gateway.calls())
	got := f.reload(t, p.ID)
	assert.Equal(t, models.PaymentStatusPending, got.Status)
	assert.JSONEq(t, `{"token":"tok-1"}`, string(got.RawConfirmPayload))
}

func TestReconcileTransportFailureLeavesStatus(t *testing.T) {
	f := newFixture(t)
	p := f.pendingPayment(t, "tok-1")
	f.gateway.statusErr = &flow.GatewayError{Op: "get_status", Err: errors.New("dial tcp: i/o timeout")}

	res := f.svc.Reconcile(context.Background(), Trigger{Source: models.PaymentEventSourceReturn, Token: "tok-1"})

	assert.Equal(t, ReasonStatusQueryFailed, res.Reason)
	got := f.reload(t, p.ID)
	assert.Equal(t, models.PaymentStatusPending, got.Status)
	assert.Contains(t, string(got.RawStatusResponse), "i/o timeout")
	require.Len(t, f.notifier.integration, 1)
	assert.Contains(t, f.notifier.integration[0], "i/o timeout")
	assert.Empty(t, f.notifier.problems)

	events, err := f.repos.PaymentEvent.ListByPayment(context.Background(), p.ID, 10)
	require.NoError(t, err)
	require.Len(t, events, 1)
	assert.Equal(t, ReasonStatusQueryFailed, events[0].Reason)
}

func TestReconcileProviderErrorIsReported(t *testing.T) {
	f := newFixture(t)
	p := f.pendingPayment(t, "tok-unknown")

	res := f.svc.Reconcile(context.Background(), Trigger{Source: models.PaymentEventSourceConfirm, Token: "tok-unknown"})

	assert.Equal(t, ReasonProviderError, res.Reason)
	assert.Equal(t, OutcomeIndeterminate, res.Outcome)
	assert.Equal(t, models.PaymentStatusPending, f.reload(t, p.ID).Status)
	require.Len(t, f.notifier.integration, 1)
	assert.Equal(t, "token not found (code 105)", f.notifier.integration[0])
}

func TestReconcileRejectedNotifiesOnce(t *testing.T) {
	f := newFixture(t)
	p := f.pendingPayment(t, "tok-1")
	f.gateway.statuses["tok-1"] = &flow.StatusResult{HTTPStatus: 200, Payload: map[string]any{"status": json.Number("3")}}

	for i := 0; i < 2; i++ {
		f.svc.Reconcile(context.Background(), Trigger{Source: models.PaymentEventSourceConfirm, Token: "tok-1"})
	}

	assert.Equal(t, models.PaymentStatusFailed, f.reload(t, p.ID).Status)
	assert.Equal(t, []string{"Pago rechazado."}, f.notifier.problems)
	assert.Empty(t, f.notifier.confirmed)
	assert.Equal(t, int64(0), f.count(t, &models.DownloadEntitlement{}))
}

func TestReconcilePanicIsContained(t *testing.T) {
	f := newFixture(t)
	p := f.pendingPayment(t, "tok-1")
	f.gateway.panicOn = true

	var res Result
	assert.NotPanics(t, func() {
		res = f.svc.Reconcile(context.Background(), Trigger{Source: models.PaymentEventSourceConfirm, Token: "tok-1"})
	})

	assert.Equal(t, ReasonReconcilePanic, res.Reason)
	assert.Equal(t, models.PaymentStatusPending, f.reload(t, p.ID).Status)
	require.Len(t, f.notifier.integration, 1)
	assert.Contains(t, f.notifier.integration[0], "decoder exploded")
}

func TestReconcileOperatorRepairsEntitlement(t *testing.T) {
	f := newFixture(t)
	p := f.pendingPayment(t, "tok-1")
	_, err := f.repos.Payment.MarkPaid(context.Background(), p.ID, f.now)
	require.NoError(t, err)

	res := f.svc.Reconcile(context.Background(), Trigger{
		Source:        models.PaymentEventSourceOperator,
		CommerceOrder: strconv.FormatUint(uint64(p.ID), 10),
	})

	assert.Equal(t, OutcomePaid, res.Outcome)
	assert.False(t, res.Applied)
	assert.Equal(t, 0, f.gateway.calls())
	assert.Equal(t, int64(1), f.count(t, &models.DownloadEntitlement{}))
	assert.Empty(t, f.notifier.confirmed)
}

func TestGrantEntitlementAppliesTTL(t *testing.T) {
	f := newFixture(t, func(p *ServiceParams) { p.Access.EntitlementTTL = 48 * time.Hour })

	ent, err := f.svc.GrantEntitlement(context.Background(), f.user.ID, f.media.ID, f.now)
	require.NoError(t, err)
	require.NotNil(t, ent.ExpiresAt)
	assert.True(t, ent.ExpiresAt.Equal(f.now.Add(48*time.Hour)))
	assert.True(t, ent.IsValidAt(f.now.Add(47*time.Hour)))
	assert.False(t, ent.IsValidAt(f.now.Add(49*time.Hour)))

	// Re-granting reactivates the same row.
	require.NoError(t, f.db.Model(&models.DownloadEntitlement{}).Where("id = ?", ent.ID).
		Update("status", models.EntitlementStatusRevoked).Error)
	again, err := f.svc.GrantEntitlement(context.Background(), f.user.ID, f.media.ID, f.now.Add(time.Hour))
	require.NoError(t, err)
	assert.Equal(t, ent.ID, again.ID)
	assert.Equal(t, models.EntitlementStatusActive, again.Status)
	assert.Equal(t, int64(1), f.count(t, &models.DownloadEntitlement{}))
}

func TestCheckoutFakeSuccess(t *testing.T) {
	f := newFixture(t, func(p *ServiceParams) { p.Flow.FakeSuccess = true })
	f.gateway.configured = false

	res, err := f.svc.Checkout(context.Background(), CheckoutRequest{User: f.user, Media: f.media, Purpose: models.PaymentPurposeDownload})
	require.NoError(t, err)

	assert.True(t, res.FakeSuccess)
	assert.Equal(t, "/view?m=abc123", res.RedirectURL)
	got := f.reload(t, res.Payment.ID)
	assert.Equal(t, models.PaymentStatusPaid, got.Status)
	assert.Equal(t, int64(990), got.Amount)

	ent, err := f.repos.Entitlement.GetByUserAndMedia(context.Background(), f.user.ID, f.media.ID)
	require.NoError(t, err)
	assert.Equal(t, models.EntitlementStatusActive, ent.Status)
	assert.Empty(t, f.gateway.createReqs)
}

func TestCheckoutUnconfigured(t *testing.T) {
	f := newFixture(t)
	f.gateway.configured = false

	_, err := f.svc.Checkout(context.Background(), CheckoutRequest{User: f.user, Media: f.media})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeInternal))
	assert.Contains(t, err.Error(), "Flow is not configured")
}

func TestCheckoutGatewayFailureMarksFailed(t *testing.T) {
	f := newFixture(t)
	f.gateway.createErr = &flow.GatewayError{Op: "create_payment", StatusCode: 401, Body: "invalid apiKey"}

	_, err := f.svc.Checkout(context.Background(), CheckoutRequest{User: f.user, Media: f.media})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeDependency))

	payments, err := f.repos.Payment.List(context.Background(), repository.PaymentFilter{})
	require.NoError(t, err)
	require.Len(t, payments, 1)
	assert.Equal(t, models.PaymentStatusFailed, payments[0].Status)
	assert.Contains(t, string(payments[0].RawCreateResponse), "invalid apiKey")
}

func TestCheckoutUnexpectedFailureIsInternal(t *testing.T) {
	f := newFixture(t)
	f.gateway.createErr = errors.New("encoder exploded")

	_, err := f.svc.Checkout(context.Background(), CheckoutRequest{User: f.user, Media: f.media})
	require.Error(t, err)
	assert.True(t, apperror.Is(err, apperror.CodeInternal))
}

func TestCheckoutRedirectsToProvider(t *testing.T) {
	f := newFixture(t, func(p *ServiceParams) { p.Access.StreamPrice = 1500 })
	f.media.Title = "Una película con un título bastante largo para el asunto"
	f.gateway.created = &flow.CreatePaymentResult{
		RedirectURL: "https://sandbox.flow.cl/app/web/pay.php?token=tok-9",
		Token:       "tok-9",
		FlowOrder:   "77",
		Raw:         map[string]any{"token": "tok-9", "flowOrder": json.Number("77")},
	}

	res, err := f.svc.Checkout(context.Background(), CheckoutRequest{
		User:            f.user,
		Media:           f.media,
		Purpose:         models.PaymentPurposeStream,
		ReturnURL:       "https://portal/payments/flow/return/",
		ConfirmationURL: "https://portal/payments/flow/confirm/",
	})
	require.NoError(t, err)
	assert.Equal(t, "https://sandbox.flow.cl/app/web/pay.php?token=tok-9", res.RedirectURL)

	require.Len(t, f.gateway.createReqs, 1)
	req := f.gateway.createReqs[0]
	assert.Equal(t, strconv.FormatUint(uint64(res.Payment.ID), 10), req.CommerceOrder)
	assert.Equal(t, int64(1500), req.Amount)
	assert.Equal(t, "Stream access: Una película con un título bas", req.Subject)
	assert.Equal(t, "payment_id="+req.CommerceOrder+"&media=abc123&purpose=stream", req.Optional["optional"])
	assert.Equal(t, "camila@example.com", req.Email)

	got := f.reload(t, res.Payment.ID)
	assert.Equal(t, models.PaymentStatusPending, got.Status)
	assert.Equal(t, models.PaymentPurposeStream, got.Purpose)
	assert.Equal(t, "tok-9", got.Token())
	require.NotNil(t, got.ProviderOrderID)
	assert.Equal(t, "77", *got.ProviderOrderID)
	assert.Contains(t, string(got.RawCreateResponse), `"flowOrder":77`)
}
