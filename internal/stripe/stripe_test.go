package stripe

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const subscriptionJSON = `{
	"id": "sub_1",
	"object": "subscription",
	"status": "active",
	"customer": "cus_1",
	"default_payment_method": "pm_1",
	"latest_invoice": "in_1",
	"current_period_start": 1709000000,
	"current_period_end": 1711600000,
	"metadata": {"tenant_id": "t1"},
	"items": {"object": "list", "data": [{"id": "si_1", "object": "subscription_item", "price": {"id": "price_basic", "object": "price"}}]}
}`

// stripeBackend фейковый Stripe API: отвечает по методу и пути, запоминает формы запросов.
type stripeBackend struct {
	mu       sync.Mutex
	routes   map[string]func(w http.ResponseWriter, r *http.Request)
	requests []*http.Request
	forms    []map[string]string
}

func newStripeBackend(t *testing.T) (*stripeBackend, *Gateway) {
	t.Helper()
	b := &stripeBackend{routes: make(map[string]func(w http.ResponseWriter, r *http.Request))}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := r.ParseForm(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		form := make(map[string]string, len(r.PostForm))
		for k := range r.PostForm {
			form[k] = r.PostForm.Get(k)
		}

		b.mu.Lock()
		b.requests = append(b.requests, r)
		b.forms = append(b.forms, form)
		route, ok := b.routes[r.Method+" "+r.URL.Path]
		b.mu.Unlock()

		if !ok {
			writeJSON(w, http.StatusNotFound, `{"error": {"type": "invalid_request_error", "code": "resource_missing", "message": "No such route"}}`)
			return
		}
		route(w, r)
	}))
	t.Cleanup(srv.Close)
	return b, newTestGateway(t, srv.URL)
}

func (b *stripeBackend) handle(route string, status int, body string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.routes[route] = func(w http.ResponseWriter, _ *http.Request) { writeJSON(w, status, body) }
}

func (b *stripeBackend) lastForm() map[string]string {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.forms[len(b.forms)-1]
}

func (b *stripeBackend) lastRequest() *http.Request {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.requests[len(b.requests)-1]
}

func writeJSON(w http.ResponseWriter, status int, body string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(body))
}

func TestGateway_GetSubscription(t *testing.T) {
	backend, g := newStripeBackend(t)
	backend.handle("GET /v1/subscriptions/sub_1", http.StatusOK, subscriptionJSON)

	gs, err := g.GetSubscription(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "sub_1", gs.ID)
	assert.Equal(t, "active", gs.Status)
	assert.Equal(t, "cus_1", gs.CustomerID)
	assert.Equal(t, "pm_1", gs.DefaultPaymentMethodID)
	assert.Equal(t, "in_1", gs.LatestInvoiceID)
	assert.Equal(t, "price_basic", gs.PriceID)
	assert.Equal(t, "si_1", gs.ItemID)
	assert.Equal(t, int64(1711600000), gs.CurrentPeriodEnd.Unix())
	assert.Equal(t, "t1", gs.Metadata[domain.MetadataTenantID])
	assert.Equal(t, "Bearer sk_test_123", backend.lastRequest().Header.Get("Authorization"))
}

func TestGateway_CreateSubscriptionSendsIdempotencyKey(t *testing.T) {
	backend, g := newStripeBackend(t)
	backend.handle("POST /v1/subscriptions", http.StatusOK, subscriptionJSON)

	gs, err := g.CreateSubscription(context.Background(), domain.CreateGatewaySubscriptionParams{
		CustomerID:      "cus_1",
		PriceID:         "price_basic",
		PaymentMethodID: "pm_1",
		Metadata:        map[string]string{domain.MetadataTenantID: "t1"},
		IdempotencyKey:  "key-123",
	})
	require.NoError(t, err)
	assert.Equal(t, "sub_1", gs.ID)

	form := backend.lastForm()
	assert.Equal(t, "cus_1", form["customer"])
	assert.Equal(t, "price_basic", form["items[0][price]"])
	assert.Equal(t, "pm_1", form["default_payment_method"])
	assert.Equal(t, "error_if_incomplete", form["payment_behavior"])
	assert.Equal(t, "t1", form["metadata[tenant_id]"])
	assert.Equal(t, "key-123", backend.lastRequest().Header.Get("Idempotency-Key"))
}

func TestGateway_UpdateSubscriptionPriceWithoutProration(t *testing.T) {
	backend, g := newStripeBackend(t)
	backend.handle("GET /v1/subscriptions/sub_1", http.StatusOK, subscriptionJSON)
	backend.handle("POST /v1/subscriptions/sub_1", http.StatusOK, subscriptionJSON)

	_, err := g.UpdateSubscriptionPrice(context.Background(), "sub_1", "price_pro")
	require.NoError(t, err)

	form := backend.lastForm()
	assert.Equal(t, "si_1", form["items[0][id]"])
	assert.Equal(t, "price_pro", form["items[0][price]"])
	assert.Equal(t, "none", form["proration_behavior"])
}

func TestGateway_UpdateSubscriptionPriceWithoutItemsIsNotRetryable(t *testing.T) {
	backend, g := newStripeBackend(t)
	var updates int32
	backend.handle("GET /v1/subscriptions/sub_1", http.StatusOK, `{"id": "sub_1", "object": "subscription", "status": "active", "items": {"object": "list", "data": []}}`)
	backend.mu.Lock()
	backend.routes["POST /v1/subscriptions/sub_1"] = func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&updates, 1)
		writeJSON(w, http.StatusOK, subscriptionJSON)
	}
	backend.mu.Unlock()

	_, err := g.UpdateSubscriptionPrice(context.Background(), "sub_1", "price_pro")
	var gwErr *domain.GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.False(t, gwErr.Retryable)
	assert.Equal(t, errCodeSubscriptionWithoutItems, gwErr.Code)
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)
	assert.NotErrorIs(t, err, domain.ErrExternalServiceUnavailable)
	assert.Zero(t, atomic.LoadInt32(&updates))
}

func TestGateway_SetCancelAtPeriodEnd(t *testing.T) {
	backend, g := newStripeBackend(t)
	backend.handle("POST /v1/subscriptions/sub_1", http.StatusOK, subscriptionJSON)

	_, err := g.SetCancelAtPeriodEnd(context.Background(), "sub_1", true)
	require.NoError(t, err)
	assert.Equal(t, "true", backend.lastForm()["cancel_at_period_end"])
}

func TestGateway_CreateCheckoutSession(t *testing.T) {
	backend, g := newStripeBackend(t)
	backend.handle("POST /v1/checkout/sessions", http.StatusOK, `{"id": "cs_1", "object": "checkout.session", "url": "https://checkout.stripe.com/c/cs_1", "expires_at": 1710086400}`)

	session, err := g.CreateCheckoutSession(context.Background(), domain.CheckoutParams{
		TenantID:   "t1",
		PlanID:     "pro",
		PriceID:    "price_pro",
		Email:      "owner@example.com",
		TrialDays:  14,
		SuccessURL: "https://app.example.com/ok",
		CancelURL:  "https://app.example.com/cancel",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_1", session.ID)
	assert.Equal(t, "https://checkout.stripe.com/c/cs_1", session.URL)
	require.NotNil(t, session.ExpiresAt)

	form := backend.lastForm()
	assert.Equal(t, "subscription", form["mode"])
	assert.Equal(t, "t1", form["client_reference_id"])
	assert.Equal(t, "owner@example.com", form["customer_email"])
	assert.Equal(t, "14", form["subscription_data[trial_period_days]"])
	assert.Equal(t, "t1", form["subscription_data[metadata][tenant_id]"])
	assert.Equal(t, "pro", form["metadata[plan_id]"])
}

func TestGateway_PayInvoice(t *testing.T) {
	backend, g := newStripeBackend(t)
	backend.handle("POST /v1/invoices/in_1/pay", http.StatusOK, `{"id": "in_1", "object": "invoice", "status": "paid", "paid": true}`)

	result, err := g.PayInvoice(context.Background(), "in_1")
	require.NoError(t, err)
	assert.Equal(t, domain.PaymentResult{InvoiceID: "in_1", Status: "paid", Paid: true}, *result)
}

func TestGateway_CardErrorIsNotRetried(t *testing.T) {
	backend, g := newStripeBackend(t)
	var calls int32
	backend.mu.Lock()
	backend.routes["POST /v1/invoices/in_1/pay"] = func(w http.ResponseWriter, _ *http.Request) {
		atomic.AddInt32(&calls, 1)
		writeJSON(w, http.StatusPaymentRequired, `{"error": {"type": "card_error", "code": "card_declined", "decline_code": "insufficient_funds", "message": "Your card has insufficient funds."}}`)
	}
	backend.mu.Unlock()

	_, err := g.PayInvoice(context.Background(), "in_1")
	var gwErr *domain.GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, "card_error", gwErr.Type)
	assert.Equal(t, "card_declined", gwErr.Code)
	assert.Equal(t, "insufficient_funds", gwErr.DeclineCode)
	assert.Equal(t, http.StatusPaymentRequired, gwErr.StatusCode)
	assert.False(t, gwErr.Retryable)
	assert.Equal(t, "Your card has insufficient funds.", gwErr.Message)
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestGateway_ServerErrorIsRetried(t *testing.T) {
	backend, g := newStripeBackend(t)
	var calls int32
	backend.mu.Lock()
	backend.routes["GET /v1/subscriptions/sub_1"] = func(w http.ResponseWriter, _ *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			writeJSON(w, http.StatusInternalServerError, `{"error": {"type": "api_error", "message": "Something went wrong"}}`)
			return
		}
		writeJSON(w, http.StatusOK, subscriptionJSON)
	}
	backend.mu.Unlock()

	gs, err := g.GetSubscription(context.Background(), "sub_1")
	require.NoError(t, err)
	assert.Equal(t, "sub_1", gs.ID)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestGateway_MissingResource(t *testing.T) {
	_, g := newStripeBackend(t)

	_, err := g.GetSubscription(context.Background(), "sub_missing")
	var gwErr *domain.GatewayError
	require.True(t, errors.As(err, &gwErr))
	assert.Equal(t, "resource_missing", gwErr.Code)
	assert.Equal(t, http.StatusNotFound, gwErr.StatusCode)
	assert.False(t, gwErr.Retryable)
}

func TestToGatewayError_NetworkErrorIsRetryable(t *testing.T) {
	gwErr := toGatewayError("GetSubscription", errors.New("dial tcp: connection refused"))
	assert.True(t, gwErr.Retryable)
	assert.ErrorIs(t, gwErr, domain.ErrExternalServiceUnavailable)
}
