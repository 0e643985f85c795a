package billing

import (
	"context"
	"fmt"

	"github.com/Dhoini/Billing-microservice/internal/domain"
)

// Suspension labels for metrics.
const (
	suspensionGraceExpired   = "grace_expired"
	suspensionCancelled      = "cancelled"
	suspensionPaymentFailure = "payment_failure"
)

// suspendTenant возвращает true, только если флаг действительно переключился.
func (d *Dependencies) suspendTenant(ctx context.Context, tenantID, reason string) (bool, error) {
	changed, err := d.Tenants.Suspend(ctx, tenantID, reason)
	if err != nil {
		return false, fmt.Errorf("billing: suspend tenant: %w", err)
	}
	return changed, nil
}

// reactivateTenant снимает приостановку для живой подписки.
func (d *Dependencies) reactivateTenant(ctx context.Context, sub *domain.Subscription) (bool, error) {
	if sub.Status != domain.SubscriptionStatusActive && sub.Status != domain.SubscriptionStatusTrialing {
		return false, nil
	}
	changed, err := d.Tenants.Unsuspend(ctx, sub.TenantID)
	if err != nil {
		return false, fmt.Errorf("billing: unsuspend tenant: %w", err)
	}
	return changed, nil
}

func (d *Dependencies) announceSuspension(ctx context.Context, sub *domain.Subscription, reason, label string) {
	d.Log.Infow("Tenant suspended", "tenantID", sub.TenantID, "status", sub.Status, "reason", reason)
	d.Metrics.IncSuspension(label)
	d.publish(ctx, domain.BillingEventTenantSuspended, sub, sub.Status, reason)
	d.notify(ctx, domain.NotificationSuspended, sub.TenantID, map[string]string{"reason": reason})
}

func (d *Dependencies) announceReactivation(ctx context.Context, sub *domain.Subscription) {
	d.Log.Infow("Tenant reactivated", "tenantID", sub.TenantID, "status", sub.Status)
	d.Metrics.IncReactivation()
	d.publish(ctx, domain.BillingEventTenantReactivated, sub, sub.Status, "")
	d.notify(ctx, domain.NotificationReactivated, sub.TenantID, map[string]string{"planId": sub.PlanID})
}

func (d *Dependencies) announceStatusChange(ctx context.Context, sub *domain.Subscription, previous domain.SubscriptionStatus) {
	if sub.Status == previous {
		return
	}
	d.Log.Infow("Subscription status changed", "tenantID", sub.TenantID, "from", previous, "to", sub.Status)
	d.publish(ctx, domain.BillingEventStatusChanged, sub, previous, "")
}
