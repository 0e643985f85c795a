package billing

import (
	"context"
	"errors"
	"fmt"
	"math"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/google/uuid"
)

// CheckoutRequest запрос на оформление подписки через hosted checkout.
type CheckoutRequest struct {
	TenantID   string
	PlanID     string
	Email      string
	SuccessURL string
	CancelURL  string
}

// LifecycleService операции тенанта над собственной подпиской.
type LifecycleService struct {
	deps *Dependencies
}

// NewLifecycleService создает сервис операций жизненного цикла.
func NewLifecycleService(deps Dependencies) *LifecycleService {
	return &LifecycleService{deps: deps.withDefaults()}
}

// CreateCheckout создает checkout-сессию. Запись подписки появляется при первой попытке:
// TRIALING, если у плана есть пробный период, иначе INCOMPLETE.
func (s *LifecycleService) CreateCheckout(ctx context.Context, req CheckoutRequest) (*domain.CheckoutSession, error) {
	plan, err := s.deps.Plans.GetByID(ctx, req.PlanID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrPlanNotFound, req.PlanID)
		}
		return nil, fmt.Errorf("billing: load plan: %w", err)
	}
	if plan.StripePriceID == "" {
		return nil, fmt.Errorf("%w: plan %s has no price", domain.ErrInvalidOperation, plan.ID)
	}

	var sub *domain.Subscription
	err = s.deps.Guard.Do(ctx, req.TenantID, func(ctx context.Context) error {
		var err error
		sub, err = s.prepareCheckout(ctx, req.TenantID, plan)
		return err
	})
	if err != nil {
		return nil, err
	}

	session, err := s.deps.Gateway.CreateCheckoutSession(ctx, domain.CheckoutParams{
		TenantID:   req.TenantID,
		PlanID:     plan.ID,
		PriceID:    plan.StripePriceID,
		CustomerID: sub.StripeCustomerID,
		Email:      req.Email,
		TrialDays:  s.remainingTrialDays(sub, plan),
		SuccessURL: req.SuccessURL,
		CancelURL:  req.CancelURL,
	})
	if err != nil {
		return nil, s.deps.gatewayFailure("create_checkout_session", req.TenantID, err)
	}

	s.deps.Log.Infow("Checkout session created", "tenantID", req.TenantID, "planID", plan.ID, "sessionID", session.ID)
	return session, nil
}

func (s *LifecycleService) prepareCheckout(ctx context.Context, tenantID string, plan *domain.Plan) (*domain.Subscription, error) {
	sub, err := s.deps.Subscriptions.GetByTenantID(ctx, tenantID)
	if err == nil {
		if sub.HasActiveSubscription() || sub.HasLiveGatewaySubscription() {
			return nil, fmt.Errorf("%w: tenant %s", domain.ErrAlreadySubscribed, tenantID)
		}
		return sub, nil
	}
	if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("billing: load subscription: %w", err)
	}

	now := s.deps.Now().UTC()
	sub = &domain.Subscription{
		ID:       uuid.New(),
		TenantID: tenantID,
		PlanID:   plan.ID,
		Status:   domain.SubscriptionStatusIncomplete,
	}
	if plan.TrialDays > 0 {
		sub.Status = domain.SubscriptionStatusTrialing
		sub.TrialStart = domain.TimePtr(now)
		sub.TrialEnd = domain.TimePtr(now.AddDate(0, 0, plan.TrialDays))
	}
	if err := s.deps.Subscriptions.Create(ctx, sub); err != nil {
		return nil, fmt.Errorf("billing: create subscription: %w", err)
	}
	s.deps.Log.Infow("Subscription record created", "tenantID", tenantID, "planID", plan.ID, "status", sub.Status)
	return sub, nil
}

// remainingTrialDays пробный период выдается один раз: в шлюз уходит только его остаток.
func (s *LifecycleService) remainingTrialDays(sub *domain.Subscription, plan *domain.Plan) int {
	if sub.TrialStart == nil {
		return plan.TrialDays
	}
	now := s.deps.Now()
	if sub.TrialEnd == nil || !now.Before(*sub.TrialEnd) {
		return 0
	}
	return int(math.Ceil(float64(sub.TrialEnd.Sub(now)) / float64(day)))
}

// CancelAtPeriodEnd планирует отмену подписки в конце оплаченного периода.
func (s *LifecycleService) CancelAtPeriodEnd(ctx context.Context, tenantID string) (*domain.Subscription, error) {
	return s.setCancelAtPeriodEnd(ctx, tenantID, true)
}

// Resume отменяет запланированную отмену.
func (s *LifecycleService) Resume(ctx context.Context, tenantID string) (*domain.Subscription, error) {
	return s.setCancelAtPeriodEnd(ctx, tenantID, false)
}

func (s *LifecycleService) setCancelAtPeriodEnd(ctx context.Context, tenantID string, cancel bool) (*domain.Subscription, error) {
	var sub *domain.Subscription
	err := s.deps.Guard.Do(ctx, tenantID, func(ctx context.Context) error {
		var err error
		sub, err = s.loadLive(ctx, tenantID)
		if err != nil {
			return err
		}
		if sub.CancelAtPeriodEnd == cancel {
			return nil
		}
		if !cancel && sub.CurrentPeriodEnd != nil && !s.deps.Now().Before(*sub.CurrentPeriodEnd) {
			return fmt.Errorf("%w: billing period already ended", domain.ErrInvalidOperation)
		}

		operation := "resume_subscription"
		if cancel {
			operation = "cancel_subscription"
		}
		gs, err := s.deps.Gateway.SetCancelAtPeriodEnd(ctx, sub.StripeSubscriptionID, cancel)
		if err != nil {
			return s.deps.gatewayFailure(operation, tenantID, err)
		}
		if err := applyGatewaySubscription(sub, gs); err != nil {
			return fmt.Errorf("billing: apply gateway subscription: %w", err)
		}

		now := s.deps.Now().UTC()
		sub.CancelAtPeriodEnd = cancel
		if cancel {
			if sub.CanceledAt == nil {
				sub.CanceledAt = domain.TimePtr(now)
			}
		} else {
			sub.CanceledAt = nil
			sub.ResumedAt = domain.TimePtr(now)
		}
		if err := s.deps.Subscriptions.Update(ctx, sub); err != nil {
			return fmt.Errorf("billing: save subscription: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	s.deps.Log.Infow("Cancel at period end updated", "tenantID", tenantID, "cancelAtPeriodEnd", cancel)
	return sub, nil
}

// RetryPayment повторяет оплату последнего счета. Состояние подписки меняет
// последующий вебхук, а не этот вызов.
func (s *LifecycleService) RetryPayment(ctx context.Context, tenantID string) (*domain.PaymentResult, error) {
	sub, err := s.loadLive(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	if sub.Status != domain.SubscriptionStatusPastDue && sub.Status != domain.SubscriptionStatusIncomplete {
		return nil, fmt.Errorf("%w: nothing to pay in status %s", domain.ErrInvalidOperation, sub.Status)
	}

	gs, err := s.deps.Gateway.GetSubscription(ctx, sub.StripeSubscriptionID)
	if err != nil {
		return nil, s.deps.gatewayFailure("get_subscription", tenantID, err)
	}
	if gs.LatestInvoiceID == "" {
		return nil, fmt.Errorf("%w: subscription has no open invoice", domain.ErrInvalidOperation)
	}

	result, err := s.deps.Gateway.PayInvoice(ctx, gs.LatestInvoiceID)
	if err != nil {
		return nil, s.deps.gatewayFailure("pay_invoice", tenantID, err)
	}
	s.deps.Log.Infow("Payment retried", "tenantID", tenantID, "invoiceID", result.InvoiceID, "paid", result.Paid)
	return result, nil
}

// loadLive загружает подписку, у которой есть живая подписка в шлюзе.
func (s *LifecycleService) loadLive(ctx context.Context, tenantID string) (*domain.Subscription, error) {
	sub, err := s.deps.Subscriptions.GetByTenantID(ctx, tenantID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: tenant %s", domain.ErrSubscriptionNotFound, tenantID)
		}
		return nil, fmt.Errorf("billing: load subscription: %w", err)
	}
	if sub.StripeSubscriptionID == "" || sub.Status == domain.SubscriptionStatusCancelled {
		return nil, fmt.Errorf("%w: no live subscription for tenant %s", domain.ErrInvalidOperation, tenantID)
	}
	return sub, nil
}
