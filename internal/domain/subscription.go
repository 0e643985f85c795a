package domain

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// SubscriptionStatus статус подписки тенанта. Множество значений закрыто.
type SubscriptionStatus string

const (
	SubscriptionStatusIncomplete SubscriptionStatus = "INCOMPLETE"
	SubscriptionStatusTrialing   SubscriptionStatus = "TRIALING"
	SubscriptionStatusActive     SubscriptionStatus = "ACTIVE"
	SubscriptionStatusPastDue    SubscriptionStatus = "PAST_DUE"
	SubscriptionStatusCancelled  SubscriptionStatus = "CANCELLED"
)

// Valid сообщает, что статус входит в перечисление.
func (s SubscriptionStatus) Valid() bool {
	switch s {
	case SubscriptionStatusIncomplete, SubscriptionStatusTrialing, SubscriptionStatusActive,
		SubscriptionStatusPastDue, SubscriptionStatusCancelled:
		return true
	}
	return false
}

// ParseSubscriptionStatus разбирает строку в статус, неизвестные значения отклоняются.
func ParseSubscriptionStatus(s string) (SubscriptionStatus, error) {
	status := SubscriptionStatus(s)
	if !status.Valid() {
		return "", fmt.Errorf("%w: %q", ErrInvalidStatus, s)
	}
	return status, nil
}

// Payment status values stored in last_payment_status.
const (
	PaymentStatusSucceeded = "succeeded"
	PaymentStatusFailed    = "failed"
)

// Subscription локальная запись подписки, одна на тенанта.
// Пустые строки во внешних идентификаторах означают "нет значения".
type Subscription struct {
	ID                    uuid.UUID          `db:"id" json:"id"`
	TenantID              string             `db:"tenant_id" json:"tenantId"`
	PlanID                string             `db:"plan_id" json:"planId"`
	PreviousPlanID        string             `db:"previous_plan_id" json:"previousPlanId,omitempty"`
	Status                SubscriptionStatus `db:"status" json:"status"`
	StripeCustomerID      string             `db:"stripe_customer_id" json:"stripeCustomerId,omitempty"`
	StripeSubscriptionID  string             `db:"stripe_subscription_id" json:"stripeSubscriptionId,omitempty"`
	StripePaymentMethodID string             `db:"stripe_payment_method_id" json:"stripePaymentMethodId,omitempty"`
	CurrentPeriodStart    *time.Time         `db:"current_period_start" json:"currentPeriodStart,omitempty"`
	CurrentPeriodEnd      *time.Time         `db:"current_period_end" json:"currentPeriodEnd,omitempty"`
	TrialStart            *time.Time         `db:"trial_start" json:"trialStart,omitempty"`
	TrialEnd              *time.Time         `db:"trial_end" json:"trialEnd,omitempty"`
	CancelAtPeriodEnd     bool               `db:"cancel_at_period_end" json:"cancelAtPeriodEnd"`
	CanceledAt            *time.Time         `db:"canceled_at" json:"canceledAt,omitempty"`
	ResumedAt             *time.Time         `db:"resumed_at" json:"resumedAt,omitempty"`
	LastPaymentStatus     string             `db:"last_payment_status" json:"lastPaymentStatus,omitempty"`
	LastPaymentError      string             `db:"last_payment_error" json:"lastPaymentError,omitempty"`
	// UsagePeriodEnd конец платежного периода, к которому относится счетчик SMS.
	UsagePeriodEnd *time.Time `db:"usage_period_end" json:"usagePeriodEnd,omitempty"`
	Version               int64              `db:"version" json:"version"`
	CreatedAt             time.Time          `db:"created_at" json:"createdAt"`
	UpdatedAt             time.Time          `db:"updated_at" json:"updatedAt"`
}

// Validate проверяет инварианты перед записью.
func (s *Subscription) Validate() error {
	if s.TenantID == "" {
		return fmt.Errorf("%w: tenant id is required", ErrInvalidInput)
	}
	if s.PlanID == "" {
		return fmt.Errorf("%w: plan id is required", ErrInvalidInput)
	}
	if !s.Status.Valid() {
		return fmt.Errorf("%w: %q", ErrInvalidStatus, s.Status)
	}
	return nil
}

// HasActiveSubscription: ACTIVE или TRIALING и сохраненный платежный метод.
func (s *Subscription) HasActiveSubscription() bool {
	if s == nil {
		return false
	}
	if s.Status != SubscriptionStatusActive && s.Status != SubscriptionStatusTrialing {
		return false
	}
	return s.StripePaymentMethodID != ""
}

// HasLiveGatewaySubscription сообщает, что у шлюза есть неотмененная подписка,
// даже если она просрочена или не оплачена.
func (s *Subscription) HasLiveGatewaySubscription() bool {
	return s != nil && s.StripeSubscriptionID != "" && s.Status != SubscriptionStatusCancelled
}

// IsInTrial сообщает, идет ли пробный период на момент now.
func (s *Subscription) IsInTrial(now time.Time) bool {
	return s.Status == SubscriptionStatusTrialing && s.TrialEnd != nil && now.Before(*s.TrialEnd)
}

// HasPendingPlanChange: смена плана запланирована и период еще не закончился.
func (s *Subscription) HasPendingPlanChange(now time.Time) bool {
	return s.PreviousPlanID != "" && s.CurrentPeriodEnd != nil && now.Before(*s.CurrentPeriodEnd)
}

// ClearExpiredPlanChange сбрасывает previous_plan_id после конца периода.
// Возвращает true, если запись изменилась.
func (s *Subscription) ClearExpiredPlanChange(now time.Time) bool {
	if s.PreviousPlanID == "" || s.HasPendingPlanChange(now) {
		return false
	}
	s.PreviousPlanID = ""
	return true
}

// Clone возвращает глубокую копию записи.
func (s *Subscription) Clone() *Subscription {
	if s == nil {
		return nil
	}
	c := *s
	c.CurrentPeriodStart = cloneTime(s.CurrentPeriodStart)
	c.CurrentPeriodEnd = cloneTime(s.CurrentPeriodEnd)
	c.TrialStart = cloneTime(s.TrialStart)
	c.TrialEnd = cloneTime(s.TrialEnd)
	c.CanceledAt = cloneTime(s.CanceledAt)
	c.ResumedAt = cloneTime(s.ResumedAt)
	c.UsagePeriodEnd = cloneTime(s.UsagePeriodEnd)
	return &c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// TimePtr возвращает указатель на UTC копию t.
func TimePtr(t time.Time) *time.Time {
	v := t.UTC()
	return &v
}
