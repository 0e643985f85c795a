package billing

import (
	"context"

	"github.com/Dhoini/Billing-microservice/internal/domain"
)

// PaymentGateway операции платежного шлюза, которые нужны движку.
// Ошибки шлюза возвращаются как *domain.GatewayError.
type PaymentGateway interface {
	// GetSubscription читает актуальное состояние подписки в шлюзе.
	GetSubscription(ctx context.Context, subscriptionID string) (*domain.GatewaySubscription, error)

	// CreateSubscription создает подписку и сразу списывает оплату с сохраненного метода.
	CreateSubscription(ctx context.Context, params domain.CreateGatewaySubscriptionParams) (*domain.GatewaySubscription, error)

	// UpdateSubscriptionPrice меняет цену подписки без пропорционального перерасчета.
	UpdateSubscriptionPrice(ctx context.Context, subscriptionID, priceID string) (*domain.GatewaySubscription, error)

	// SetCancelAtPeriodEnd включает или выключает отмену в конце периода.
	SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*domain.GatewaySubscription, error)

	// CreateCheckoutSession создает hosted checkout для оформления подписки.
	CreateCheckoutSession(ctx context.Context, params domain.CheckoutParams) (*domain.CheckoutSession, error)

	// PayInvoice повторяет попытку оплаты счета.
	PayInvoice(ctx context.Context, invoiceID string) (*domain.PaymentResult, error)
}

// EventVerifier проверяет подпись вебхука и разбирает событие.
// Ошибка подписи оборачивает domain.ErrWebhookValidationFailed.
type EventVerifier interface {
	VerifyEvent(payload []byte, signature string) (*domain.GatewayEvent, error)
}
