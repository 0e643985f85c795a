package billing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Dhoini/Billing-microservice/internal/domain"
)

// StatusView ответ на запрос статуса подписки тенанта.
type StatusView struct {
	HasActiveSubscription bool                       `json:"hasActiveSubscription"`
	IsInTrial             bool                       `json:"isInTrial"`
	RemainingTrialDays    int                        `json:"remainingTrialDays"`
	TrialEnd              *time.Time                 `json:"trialEnd,omitempty"`
	CurrentPeriodEnd      *time.Time                 `json:"currentPeriodEnd,omitempty"`
	PlanID                string                     `json:"planId,omitempty"`
	PlanName              string                     `json:"planName,omitempty"`
	Status                *domain.SubscriptionStatus `json:"status"`
	IsPastDue             bool                       `json:"isPastDue"`
	IsCancelled           bool                       `json:"isCancelled"`
	DaysUntilBlock        *int                       `json:"daysUntilBlock"`
	GracePeriodDays       int                        `json:"gracePeriodDays"`
	CancelAtPeriodEnd     bool                       `json:"cancelAtPeriodEnd"`
	DaysUntilPeriodEnd    *int                       `json:"daysUntilPeriodEnd"`
	IsSubscriptionEnding  bool                       `json:"isSubscriptionEnding"`
	IsSubscriptionExpired bool                       `json:"isSubscriptionExpired"`
	IsSuspended           bool                       `json:"isSuspended"`
	SuspendedReason       string                     `json:"suspendedReason,omitempty"`
}

// StatusService отвечает на запрос статуса и приостанавливает тенанта,
// если grace-период исчерпан.
type StatusService struct {
	deps *Dependencies
}

// NewStatusService создает сервис статуса.
func NewStatusService(deps Dependencies) *StatusService {
	return &StatusService{deps: deps.withDefaults()}
}

// GetStatus возвращает статус подписки тенанта.
func (s *StatusService) GetStatus(ctx context.Context, tenantID string) (*StatusView, error) {
	tenant, err := s.deps.Tenants.GetByID(ctx, tenantID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrTenantNotFound, tenantID)
		}
		return nil, fmt.Errorf("billing: load tenant: %w", err)
	}

	view := &StatusView{
		GracePeriodDays: GracePeriodDays,
		IsSuspended:     tenant.IsSuspended,
		SuspendedReason: tenant.SuspendedReason,
	}

	sub, err := s.deps.Subscriptions.GetByTenantID(ctx, tenantID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return view, nil
		}
		return nil, fmt.Errorf("billing: load subscription: %w", err)
	}

	now := s.deps.Now()
	status := sub.Status
	view.Status = &status
	view.HasActiveSubscription = sub.HasActiveSubscription()
	view.IsInTrial = sub.IsInTrial(now)
	view.TrialEnd = sub.TrialEnd
	view.CurrentPeriodEnd = sub.CurrentPeriodEnd
	view.PlanID = sub.PlanID
	view.IsPastDue = sub.Status == domain.SubscriptionStatusPastDue
	view.IsCancelled = sub.Status == domain.SubscriptionStatusCancelled
	view.CancelAtPeriodEnd = sub.CancelAtPeriodEnd
	if view.IsInTrial {
		view.RemainingTrialDays = int(math.Ceil(float64(sub.TrialEnd.Sub(now)) / float64(day)))
	}

	if plan, err := s.deps.Plans.GetByID(ctx, sub.PlanID); err == nil {
		view.PlanName = plan.Name
	} else if !errors.Is(err, domain.ErrNotFound) {
		return nil, fmt.Errorf("billing: load plan: %w", err)
	}

	grace := EvaluateGrace(GraceInputFor(sub, tenant.IsSuspended, now))
	view.DaysUntilBlock = grace.DaysUntilBlock
	view.DaysUntilPeriodEnd = grace.DaysUntilPeriodEnd
	view.IsSubscriptionEnding = grace.IsSubscriptionEnding
	view.IsSubscriptionExpired = grace.IsSubscriptionExpired

	if grace.NeedsSuspension {
		if err := s.suspendExpired(ctx, sub, grace); err != nil {
			return nil, err
		}
		view.IsSuspended = true
		view.SuspendedReason = domain.SuspendReasonGraceExpired
	}

	return view, nil
}

// suspendExpired приостанавливает тенанта. Повторный вызов ничего не меняет.
func (s *StatusService) suspendExpired(ctx context.Context, sub *domain.Subscription, grace GraceResult) error {
	var changed bool
	err := s.deps.Guard.Do(ctx, sub.TenantID, func(ctx context.Context) error {
		var err error
		changed, err = s.deps.suspendTenant(ctx, sub.TenantID, domain.SuspendReasonGraceExpired)
		return err
	})
	if err != nil {
		return err
	}
	if !changed {
		return nil
	}

	s.deps.Log.Debugw("Grace period exhausted", "tenantID", sub.TenantID, "daysSinceExpired", *grace.DaysSinceExpired)
	s.deps.announceSuspension(ctx, sub, domain.SuspendReasonGraceExpired, suspensionGraceExpired)
	return nil
}
