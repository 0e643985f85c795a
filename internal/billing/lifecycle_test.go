package billing

import (
	"context"
	"testing"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCreateCheckout_TrialPlanCreatesTrialingRecord(t *testing.T) {
	env := newTestEnv(t, "t1")
	lifecycle := NewLifecycleService(env.deps)

	session, err := lifecycle.CreateCheckout(context.Background(), CheckoutRequest{
		TenantID:   "t1",
		PlanID:     "pro",
		Email:      "owner@example.com",
		SuccessURL: "https://app.example.com/ok",
		CancelURL:  "https://app.example.com/cancel",
	})
	require.NoError(t, err)
	assert.Equal(t, "cs_test_1", session.ID)

	sub := env.subs.get("t1")
	require.NotNil(t, sub)
	assert.Equal(t, domain.SubscriptionStatusTrialing, sub.Status)
	assert.Equal(t, "pro", sub.PlanID)
	assert.Equal(t, env.at(0), sub.TrialStart)
	assert.Equal(t, env.at(14*day), sub.TrialEnd)

	require.Len(t, env.gateway.checkouts, 1)
	params := env.gateway.checkouts[0]
	assert.Equal(t, "price_pro", params.PriceID)
	assert.Equal(t, 14, params.TrialDays)
	assert.Equal(t, "owner@example.com", params.Email)
	assert.Equal(t, "t1", params.TenantID)
}

func TestCreateCheckout_NoTrialCreatesIncompleteRecord(t *testing.T) {
	env := newTestEnv(t, "t1")

	_, err := NewLifecycleService(env.deps).CreateCheckout(context.Background(), CheckoutRequest{TenantID: "t1", PlanID: "basic"})
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusIncomplete, env.subs.get("t1").Status)
	assert.Equal(t, 0, env.gateway.checkouts[0].TrialDays)
}

func TestCreateCheckout_TrialIsGrantedOnce(t *testing.T) {
	env := newTestEnv(t, "t1")
	env.subs.put(&domain.Subscription{
		TenantID:         "t1",
		PlanID:           "pro",
		Status:           domain.SubscriptionStatusTrialing,
		StripeCustomerID: "cus_t1",
		TrialStart:       env.at(-9 * day),
		TrialEnd:         env.at(5 * day),
	})
	lifecycle := NewLifecycleService(env.deps)

	_, err := lifecycle.CreateCheckout(context.Background(), CheckoutRequest{TenantID: "t1", PlanID: "pro"})
	require.NoError(t, err)
	assert.Equal(t, 5, env.gateway.checkouts[0].TrialDays)
	assert.Equal(t, "cus_t1", env.gateway.checkouts[0].CustomerID)

	env.now = env.now.Add(6 * day)
	_, err = lifecycle.CreateCheckout(context.Background(), CheckoutRequest{TenantID: "t1", PlanID: "pro"})
	require.NoError(t, err)
	assert.Equal(t, 0, env.gateway.checkouts[1].TrialDays)
}

func TestCreateCheckout_AlreadySubscribed(t *testing.T) {
	env := newTestEnv(t, "t1")
	activeSubscription(env, "t1", "basic")

	_, err := NewLifecycleService(env.deps).CreateCheckout(context.Background(), CheckoutRequest{TenantID: "t1", PlanID: "pro"})
	assert.ErrorIs(t, err, domain.ErrAlreadySubscribed)
	assert.Empty(t, env.gateway.checkouts)
}

func TestCreateCheckout_LiveGatewaySubscriptionBlocksCheckout(t *testing.T) {
	for _, status := range []domain.SubscriptionStatus{
		domain.SubscriptionStatusPastDue,
		domain.SubscriptionStatusIncomplete,
		domain.SubscriptionStatusTrialing,
	} {
		t.Run(string(status), func(t *testing.T) {
			env := newTestEnv(t, "t1")
			sub := activeSubscription(env, "t1", "basic")
			sub.Status = status
			sub.StripePaymentMethodID = ""
			env.subs.put(sub)

			_, err := NewLifecycleService(env.deps).CreateCheckout(context.Background(), CheckoutRequest{TenantID: "t1", PlanID: "pro"})
			assert.ErrorIs(t, err, domain.ErrAlreadySubscribed)
			assert.Empty(t, env.gateway.checkouts)
		})
	}
}

func TestCreateCheckout_AfterCancellationIsAllowed(t *testing.T) {
	env := newTestEnv(t, "t1")
	sub := activeSubscription(env, "t1", "basic")
	sub.Status = domain.SubscriptionStatusCancelled
	env.subs.put(sub)

	_, err := NewLifecycleService(env.deps).CreateCheckout(context.Background(), CheckoutRequest{TenantID: "t1", PlanID: "pro"})
	require.NoError(t, err)
	assert.Len(t, env.gateway.checkouts, 1)
}

func TestCreateCheckout_UnknownPlan(t *testing.T) {
	env := newTestEnv(t, "t1")

	_, err := NewLifecycleService(env.deps).CreateCheckout(context.Background(), CheckoutRequest{TenantID: "t1", PlanID: "gold"})
	assert.ErrorIs(t, err, domain.ErrPlanNotFound)
	assert.Nil(t, env.subs.get("t1"))
}

func TestCancelAndResume(t *testing.T) {
	env := newTestEnv(t, "t1")
	activeSubscription(env, "t1", "basic")
	lifecycle := NewLifecycleService(env.deps)

	sub, err := lifecycle.CancelAtPeriodEnd(context.Background(), "t1")
	require.NoError(t, err)
	assert.True(t, sub.CancelAtPeriodEnd)
	assert.Equal(t, env.at(0), sub.CanceledAt)
	assert.True(t, env.subs.get("t1").CancelAtPeriodEnd)
	gs, err := env.gateway.GetSubscription(context.Background(), "sub_t1")
	require.NoError(t, err)
	assert.True(t, gs.CancelAtPeriodEnd)

	// Повторная отмена ничего не делает.
	updates := env.subs.updates
	_, err = lifecycle.CancelAtPeriodEnd(context.Background(), "t1")
	require.NoError(t, err)
	assert.Equal(t, updates, env.subs.updates)

	sub, err = lifecycle.Resume(context.Background(), "t1")
	require.NoError(t, err)
	assert.False(t, sub.CancelAtPeriodEnd)
	assert.Nil(t, sub.CanceledAt)
	assert.Equal(t, env.at(0), sub.ResumedAt)
}

func TestResume_AfterPeriodEndIsRejected(t *testing.T) {
	env := newTestEnv(t, "t1")
	activeSubscription(env, "t1", "basic")
	sub := env.subs.get("t1")
	sub.CancelAtPeriodEnd = true
	sub.CurrentPeriodEnd = env.at(-day)
	env.subs.put(sub)

	_, err := NewLifecycleService(env.deps).Resume(context.Background(), "t1")
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)
}

func TestCancel_WithoutGatewaySubscription(t *testing.T) {
	env := newTestEnv(t, "t1")
	env.subs.put(&domain.Subscription{TenantID: "t1", PlanID: "basic", Status: domain.SubscriptionStatusIncomplete})
	lifecycle := NewLifecycleService(env.deps)

	_, err := lifecycle.CancelAtPeriodEnd(context.Background(), "t1")
	assert.ErrorIs(t, err, domain.ErrInvalidOperation)

	_, err = lifecycle.CancelAtPeriodEnd(context.Background(), "nobody")
	assert.ErrorIs(t, err, domain.ErrSubscriptionNotFound)
}

func TestRetryPayment(t *testing.T) {
	env := newTestEnv(t, "t1")
	activeSubscription(env, "t1", "basic")
	lifecycle := NewLifecycleService(env.deps)

	_, err := lifecycle.RetryPayment(context.Background(), "t1")
	assert.ErrorIs(t, err, domain.ErrInvalidOperation, "active subscription has nothing to pay")

	sub := env.subs.get("t1")
	sub.Status = domain.SubscriptionStatusPastDue
	env.subs.put(sub)

	_, err = lifecycle.RetryPayment(context.Background(), "t1")
	assert.ErrorIs(t, err, domain.ErrInvalidOperation, "no open invoice")

	gs, err := env.gateway.GetSubscription(context.Background(), "sub_t1")
	require.NoError(t, err)
	gs.LatestInvoiceID = "in_9"
	env.gateway.set(gs)

	result, err := lifecycle.RetryPayment(context.Background(), "t1")
	require.NoError(t, err)
	assert.True(t, result.Paid)
	assert.Equal(t, []string{"in_9"}, env.gateway.paidInvoices)
	// Статус меняет вебхук, а не повтор оплаты.
	assert.Equal(t, domain.SubscriptionStatusPastDue, env.subs.get("t1").Status)

	env.gateway.payErr = &domain.GatewayError{Operation: "PayInvoice", Type: "card_error", Code: "card_declined", DeclineCode: "insufficient_funds"}
	_, err = lifecycle.RetryPayment(context.Background(), "t1")
	var rejection *domain.GatewayRejection
	require.ErrorAs(t, err, &rejection)
	assert.Equal(t, domain.RejectionInsufficientFunds, rejection.Reason)
}
