package billing

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/google/uuid"
)

// Plan change outcomes, reported in metrics.
const (
	planChangeNoop    = "noop"
	planChangeBlocked = "blocked"
	planChangeCreated = "created"
	planChangeUpdated = "updated"
	planChangeFailed  = "failed"
)

// PlanChangeResult итог смены плана.
type PlanChangeResult struct {
	Changed        bool                      `json:"changed"`
	PlanID         string                    `json:"planId"`
	PreviousPlanID string                    `json:"previousPlanId,omitempty"`
	Status         domain.SubscriptionStatus `json:"status"`
	EffectiveAt    *time.Time                `json:"effectiveAt,omitempty"`
	Message        string                    `json:"message"`
	Warnings       []string                  `json:"warnings,omitempty"`
}

// PlanChangeOrchestrator меняет план без пропорционального перерасчета.
type PlanChangeOrchestrator struct {
	deps   *Dependencies
	limits *LimitEvaluator
}

// NewPlanChangeOrchestrator создает оркестратор смены плана.
func NewPlanChangeOrchestrator(deps Dependencies) *PlanChangeOrchestrator {
	d := deps.withDefaults()
	return &PlanChangeOrchestrator{deps: d, limits: &LimitEvaluator{deps: d}}
}

// ChangePlan переводит тенанта на targetPlanID.
// Новый план записывается сразу, лимиты предыдущего действуют до конца периода.
// Исключение: лимит SMS меняется немедленно.
func (o *PlanChangeOrchestrator) ChangePlan(ctx context.Context, tenantID, targetPlanID string) (*PlanChangeResult, error) {
	target, err := o.deps.Plans.GetByID(ctx, targetPlanID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrPlanNotFound, targetPlanID)
		}
		return nil, fmt.Errorf("billing: load plan: %w", err)
	}

	// Ключ идемпотентности общий для всех повторов после конфликта версий.
	idempotencyKey := uuid.NewString()

	var (
		result  *PlanChangeResult
		outcome string
	)
	err = o.deps.Guard.Do(ctx, tenantID, func(ctx context.Context) error {
		var err error
		result, outcome, err = o.changePlan(ctx, tenantID, target, idempotencyKey)
		return err
	})
	if err != nil {
		if outcome == "" {
			outcome = planChangeFailed
		}
		o.deps.Metrics.IncPlanChange(outcome)
		return nil, err
	}
	o.deps.Metrics.IncPlanChange(outcome)
	return result, nil
}

func (o *PlanChangeOrchestrator) changePlan(ctx context.Context, tenantID string, target *domain.Plan, idempotencyKey string) (*PlanChangeResult, string, error) {
	sub, err := o.deps.Subscriptions.GetByTenantID(ctx, tenantID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, "", fmt.Errorf("%w: tenant %s", domain.ErrSubscriptionNotFound, tenantID)
		}
		return nil, "", fmt.Errorf("billing: load subscription: %w", err)
	}

	if sub.PlanID == target.ID {
		return &PlanChangeResult{
			PlanID:         sub.PlanID,
			PreviousPlanID: sub.PreviousPlanID,
			Status:         sub.Status,
			Message:        fmt.Sprintf("You are already on the %s plan.", target.Name),
		}, planChangeNoop, nil
	}

	check, err := o.limits.canSwitchTo(ctx, tenantID, target)
	if err != nil {
		return nil, "", err
	}
	if !check.CanDowngrade {
		return nil, planChangeBlocked, &domain.DowngradeBlockedError{PlanID: target.ID, Issues: check.Issues}
	}
	if target.StripePriceID == "" {
		return nil, "", fmt.Errorf("%w: plan %s has no price", domain.ErrInvalidOperation, target.ID)
	}

	previousStatus := sub.Status
	now := o.deps.Now()
	var outcome string

	if sub.StripeSubscriptionID == "" || sub.Status == domain.SubscriptionStatusCancelled {
		if err := o.createSubscription(ctx, sub, target, idempotencyKey); err != nil {
			return nil, "", err
		}
		outcome = planChangeCreated
	} else {
		if err := o.updateSubscriptionPrice(ctx, sub, target, now); err != nil {
			return nil, "", err
		}
		outcome = planChangeUpdated
	}

	if err := o.deps.Subscriptions.Update(ctx, sub); err != nil {
		return nil, "", fmt.Errorf("billing: save subscription: %w", err)
	}
	if err := o.deps.Tenants.SetSmsLimit(ctx, tenantID, target.Features.SMS); err != nil {
		return nil, "", fmt.Errorf("billing: set sms limit: %w", err)
	}

	o.deps.Log.Infow("Plan changed",
		"tenantID", tenantID,
		"planID", sub.PlanID,
		"previousPlanID", sub.PreviousPlanID,
		"outcome", outcome)
	o.deps.publish(ctx, domain.BillingEventPlanChanged, sub, previousStatus, "")

	result := &PlanChangeResult{
		Changed:        true,
		PlanID:         sub.PlanID,
		PreviousPlanID: sub.PreviousPlanID,
		Status:         sub.Status,
		Warnings:       check.Warnings,
	}
	if sub.HasPendingPlanChange(now) {
		result.EffectiveAt = sub.CurrentPeriodEnd
		result.Message = fmt.Sprintf("Your plan is now %s. Your current limits stay in place until %s.",
			target.Name, sub.CurrentPeriodEnd.UTC().Format("2006-01-02"))
	} else {
		result.Message = fmt.Sprintf("Your plan is now %s.", target.Name)
	}
	return result, outcome, nil
}

// createSubscription оформляет подписку в шлюзе сразу, без отложенной цены:
// предыдущего оплаченного периода нет.
func (o *PlanChangeOrchestrator) createSubscription(ctx context.Context, sub *domain.Subscription, target *domain.Plan, idempotencyKey string) error {
	if sub.StripePaymentMethodID == "" || sub.StripeCustomerID == "" {
		return fmt.Errorf("%w: add a card before choosing a plan", domain.ErrPaymentMethodRequired)
	}

	gs, err := o.deps.Gateway.CreateSubscription(ctx, domain.CreateGatewaySubscriptionParams{
		CustomerID:      sub.StripeCustomerID,
		PriceID:         target.StripePriceID,
		PaymentMethodID: sub.StripePaymentMethodID,
		Metadata: map[string]string{
			domain.MetadataTenantID: sub.TenantID,
			domain.MetadataPlanID:   target.ID,
		},
		IdempotencyKey: idempotencyKey,
	})
	if err != nil {
		return o.deps.gatewayFailure("create_subscription", sub.TenantID, err)
	}

	// Прежний CANCELLED относится к другой внешней подписке и не мешает новой.
	sub.StripeSubscriptionID = ""
	if err := applyGatewaySubscription(sub, gs); err != nil {
		return fmt.Errorf("billing: apply gateway subscription: %w", err)
	}
	sub.Status = domain.SubscriptionStatusActive
	sub.PlanID = target.ID
	sub.PreviousPlanID = ""
	sub.CancelAtPeriodEnd = false
	sub.CanceledAt = nil
	return nil
}

// updateSubscriptionPrice меняет цену в шлюзе; новая цена списывается со следующего периода.
func (o *PlanChangeOrchestrator) updateSubscriptionPrice(ctx context.Context, sub *domain.Subscription, target *domain.Plan, now time.Time) error {
	gs, err := o.deps.Gateway.UpdateSubscriptionPrice(ctx, sub.StripeSubscriptionID, target.StripePriceID)
	if err != nil {
		return o.deps.gatewayFailure("update_subscription_price", sub.TenantID, err)
	}
	if err := applyGatewaySubscription(sub, gs); err != nil {
		return fmt.Errorf("billing: apply gateway subscription: %w", err)
	}

	schedulePlanChange(sub, target.ID, now)
	return nil
}

// schedulePlanChange записывает новый план сразу, а предыдущий оставляет
// действующим до конца оплаченного периода.
func schedulePlanChange(sub *domain.Subscription, targetPlanID string, now time.Time) {
	switch {
	case sub.HasPendingPlanChange(now) && sub.PreviousPlanID == targetPlanID:
		sub.PreviousPlanID = ""
	case sub.HasPendingPlanChange(now):
		// Уже действуют лимиты исходного плана периода, их и сохраняем.
	case sub.CurrentPeriodEnd != nil && now.Before(*sub.CurrentPeriodEnd):
		sub.PreviousPlanID = sub.PlanID
	default:
		sub.PreviousPlanID = ""
	}
	sub.PlanID = targetPlanID
}
