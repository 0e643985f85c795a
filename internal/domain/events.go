package domain

import "time"

// BillingEventType тип события, публикуемого в шину.
type BillingEventType string

const (
	BillingEventStatusChanged     BillingEventType = "subscription_status_changed"
	BillingEventTenantSuspended   BillingEventType = "tenant_suspended"
	BillingEventTenantReactivated BillingEventType = "tenant_reactivated"
	BillingEventPlanChanged       BillingEventType = "subscription_plan_changed"
)

// BillingEvent событие жизненного цикла подписки для внешних потребителей.
type BillingEvent struct {
	ID             string             `json:"id"`
	Type           BillingEventType   `json:"type"`
	TenantID       string             `json:"tenantId"`
	SubscriptionID string             `json:"subscriptionId,omitempty"`
	PlanID         string             `json:"planId,omitempty"`
	Status         SubscriptionStatus `json:"status,omitempty"`
	PreviousStatus SubscriptionStatus `json:"previousStatus,omitempty"`
	Reason         string             `json:"reason,omitempty"`
	OccurredAt     time.Time          `json:"occurredAt"`
}

// NotificationKind вид уведомления тенанту.
type NotificationKind string

const (
	NotificationSubscriptionStarted   NotificationKind = "subscription_started"
	NotificationSubscriptionCancelled NotificationKind = "subscription_cancelled"
	NotificationPaymentFailed         NotificationKind = "payment_failed"
	NotificationReactivated           NotificationKind = "tenant_reactivated"
	NotificationSuspended             NotificationKind = "tenant_suspended"
	NotificationTrialEnding           NotificationKind = "trial_ending"
)

// Notification запрос на доставку уведомления (fire-and-forget).
type Notification struct {
	Kind     NotificationKind  `json:"kind"`
	TenantID string            `json:"tenantId"`
	Data     map[string]string `json:"data,omitempty"`
	SentAt   time.Time         `json:"sentAt"`
}
