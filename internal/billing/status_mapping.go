package billing

import (
	"fmt"

	"github.com/Dhoini/Billing-microservice/internal/domain"
)

// externalStatuses таблица соответствия статусов Stripe локальным.
var externalStatuses = map[string]domain.SubscriptionStatus{
	"incomplete":         domain.SubscriptionStatusIncomplete,
	"incomplete_expired": domain.SubscriptionStatusCancelled,
	"trialing":           domain.SubscriptionStatusTrialing,
	"active":             domain.SubscriptionStatusActive,
	"past_due":           domain.SubscriptionStatusPastDue,
	"unpaid":             domain.SubscriptionStatusPastDue,
	"paused":             domain.SubscriptionStatusPastDue,
	"canceled":           domain.SubscriptionStatusCancelled,
}

// MapExternalStatus переводит внешний статус в локальный. Неизвестные отклоняются.
func MapExternalStatus(external string) (domain.SubscriptionStatus, error) {
	status, ok := externalStatuses[external]
	if !ok {
		return "", fmt.Errorf("%w: %q", domain.ErrUnknownExternalStatus, external)
	}
	return status, nil
}

// applyGatewaySubscription переносит состояние подписки шлюза в локальную запись.
// CANCELLED терминален для той же внешней подписки: запоздалые события ее не воскрешают.
func applyGatewaySubscription(sub *domain.Subscription, gs *domain.GatewaySubscription) error {
	status, err := MapExternalStatus(gs.Status)
	if err != nil {
		return err
	}

	if sub.Status == domain.SubscriptionStatusCancelled && sub.StripeSubscriptionID != "" && sub.StripeSubscriptionID == gs.ID {
		status = domain.SubscriptionStatusCancelled
	}

	sub.Status = status
	sub.StripeSubscriptionID = gs.ID
	if gs.CustomerID != "" {
		sub.StripeCustomerID = gs.CustomerID
	}
	if gs.DefaultPaymentMethodID != "" {
		sub.StripePaymentMethodID = gs.DefaultPaymentMethodID
	}
	// Первый сдвиг периода фиксирует, к какому периоду относится счетчик SMS.
	if sub.UsagePeriodEnd == nil && sub.CurrentPeriodEnd != nil {
		end := *sub.CurrentPeriodEnd
		sub.UsagePeriodEnd = &end
	}
	if gs.CurrentPeriodStart != nil {
		sub.CurrentPeriodStart = gs.CurrentPeriodStart
	}
	if gs.CurrentPeriodEnd != nil {
		sub.CurrentPeriodEnd = gs.CurrentPeriodEnd
	}
	// Даты триала сохраняются и после его окончания: повторный триал не выдается.
	if gs.TrialStart != nil {
		sub.TrialStart = gs.TrialStart
	}
	if gs.TrialEnd != nil {
		sub.TrialEnd = gs.TrialEnd
	}
	sub.CancelAtPeriodEnd = gs.CancelAtPeriodEnd && status != domain.SubscriptionStatusCancelled
	if gs.CanceledAt != nil {
		sub.CanceledAt = gs.CanceledAt
	} else if status != domain.SubscriptionStatusCancelled && !gs.CancelAtPeriodEnd {
		sub.CanceledAt = nil
	}
	return nil
}
