package billing

import (
	"context"
	"time"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/google/uuid"
)

// Notifier доставляет уведомления тенантам. Ошибки доставки не влияют на биллинг.
type Notifier interface {
	Notify(ctx context.Context, n domain.Notification) error
}

// EventPublisher публикует события жизненного цикла подписки.
type EventPublisher interface {
	Publish(ctx context.Context, event domain.BillingEvent) error
}

type noopNotifier struct{}

func (noopNotifier) Notify(context.Context, domain.Notification) error { return nil }

type noopPublisher struct{}

func (noopPublisher) Publish(context.Context, domain.BillingEvent) error { return nil }

// notify отправляет уведомление в фоне.
func (d *Dependencies) notify(ctx context.Context, kind domain.NotificationKind, tenantID string, data map[string]string) {
	n := domain.Notification{
		Kind:     kind,
		TenantID: tenantID,
		Data:     data,
		SentAt:   d.Now(),
	}
	bg := context.WithoutCancel(ctx)
	go func() {
		if err := d.Notifier.Notify(bg, n); err != nil {
			d.Log.Warnw("Failed to send notification", "error", err, "kind", kind, "tenantID", tenantID)
		}
	}()
}

// publish отправляет событие в шину в фоне.
func (d *Dependencies) publish(ctx context.Context, eventType domain.BillingEventType, sub *domain.Subscription, previous domain.SubscriptionStatus, reason string) {
	event := domain.BillingEvent{
		ID:             uuid.NewString(),
		Type:           eventType,
		TenantID:       sub.TenantID,
		SubscriptionID: sub.ID.String(),
		PlanID:         sub.PlanID,
		Status:         sub.Status,
		PreviousStatus: previous,
		Reason:         reason,
		OccurredAt:     d.Now().UTC().Truncate(time.Millisecond),
	}
	bg := context.WithoutCancel(ctx)
	go func() {
		if err := d.Publisher.Publish(bg, event); err != nil {
			d.Log.Warnw("Failed to publish billing event", "error", err, "type", eventType, "tenantID", sub.TenantID)
		}
	}()
}
