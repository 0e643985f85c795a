package stripe

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/webhook"
)

// VerifyEvent проверяет подпись Stripe-Signature и разбирает объект события.
// Для неизвестных типов полезная нагрузка не заполняется.
func (g *Gateway) VerifyEvent(payload []byte, signature string) (*domain.GatewayEvent, error) {
	if signature == "" {
		return nil, fmt.Errorf("%w: missing signature", domain.ErrWebhookValidationFailed)
	}

	if err := webhook.ValidatePayload(payload, signature, g.webhookSecret); err != nil {
		return nil, fmt.Errorf("%w: %v", domain.ErrWebhookValidationFailed, err)
	}

	// Версия API аккаунта не сверяется с версией SDK.
	var event stripe.Event
	if err := json.Unmarshal(payload, &event); err != nil {
		return nil, fmt.Errorf("%w: cannot decode webhook event: %v", domain.ErrInvalidInput, err)
	}

	return decodeEvent(&event)
}

// decodeEvent разбирает event.Data.Raw в объект, соответствующий типу события.
func decodeEvent(event *stripe.Event) (*domain.GatewayEvent, error) {
	ge := &domain.GatewayEvent{
		ID:      event.ID,
		Type:    domain.GatewayEventType(event.Type),
		Created: time.Unix(event.Created, 0).UTC(),
	}
	if event.Data == nil {
		return ge, nil
	}
	raw := event.Data.Raw

	switch ge.Type {
	case domain.EventCheckoutCompleted:
		var cs stripe.CheckoutSession
		if err := json.Unmarshal(raw, &cs); err != nil {
			return nil, decodeError(ge, err)
		}
		ge.Checkout = toCheckoutCompleted(&cs)

	case domain.EventSubscriptionCreated, domain.EventSubscriptionUpdated,
		domain.EventSubscriptionDeleted, domain.EventSubscriptionTrialEnd:
		var sub stripe.Subscription
		if err := json.Unmarshal(raw, &sub); err != nil {
			return nil, decodeError(ge, err)
		}
		ge.Subscription = toGatewaySubscription(&sub)

	case domain.EventInvoicePaid, domain.EventInvoicePaymentSucceeded, domain.EventInvoicePaymentFailed:
		var inv stripe.Invoice
		if err := json.Unmarshal(raw, &inv); err != nil {
			return nil, decodeError(ge, err)
		}
		ge.Invoice = toGatewayInvoice(&inv)

	case domain.EventPaymentMethodAttached:
		var pm stripe.PaymentMethod
		if err := json.Unmarshal(raw, &pm); err != nil {
			return nil, decodeError(ge, err)
		}
		ge.PaymentMethod = toGatewayPaymentMethod(&pm)
	}

	return ge, nil
}

func decodeError(ge *domain.GatewayEvent, err error) error {
	return fmt.Errorf("%w: cannot decode %s event %s: %v", domain.ErrInvalidInput, ge.Type, ge.ID, err)
}
