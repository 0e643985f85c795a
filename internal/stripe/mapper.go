package stripe

import (
	"time"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/stripe/stripe-go/v78"
)

// unixTime переводит секунды Stripe во время. 0 означает "нет значения".
func unixTime(sec int64) *time.Time {
	if sec == 0 {
		return nil
	}
	t := time.Unix(sec, 0).UTC()
	return &t
}

// toGatewaySubscription преобразует подписку Stripe в доменную модель шлюза.
func toGatewaySubscription(s *stripe.Subscription) *domain.GatewaySubscription {
	gs := &domain.GatewaySubscription{
		ID:                 s.ID,
		Status:             string(s.Status),
		CurrentPeriodStart: unixTime(s.CurrentPeriodStart),
		CurrentPeriodEnd:   unixTime(s.CurrentPeriodEnd),
		TrialStart:         unixTime(s.TrialStart),
		TrialEnd:           unixTime(s.TrialEnd),
		CancelAtPeriodEnd:  s.CancelAtPeriodEnd,
		CanceledAt:         unixTime(s.CanceledAt),
		Metadata:           s.Metadata,
	}
	if s.Customer != nil {
		gs.CustomerID = s.Customer.ID
	}
	if s.DefaultPaymentMethod != nil {
		gs.DefaultPaymentMethodID = s.DefaultPaymentMethod.ID
	}
	if s.LatestInvoice != nil {
		gs.LatestInvoiceID = s.LatestInvoice.ID
	}
	// У подписок сервиса ровно одна позиция.
	if s.Items != nil && len(s.Items.Data) > 0 {
		item := s.Items.Data[0]
		gs.ItemID = item.ID
		if item.Price != nil {
			gs.PriceID = item.Price.ID
		}
	}
	if gs.Metadata == nil {
		gs.Metadata = map[string]string{}
	}
	return gs
}

// toGatewayInvoice преобразует счет Stripe. Причина отказа берется из последней
// ошибки платежа, затем из ошибки финализации счета.
func toGatewayInvoice(inv *stripe.Invoice) *domain.GatewayInvoice {
	gi := &domain.GatewayInvoice{
		ID:           inv.ID,
		Status:       string(inv.Status),
		AttemptCount: inv.AttemptCount,
		PeriodStart:  unixTime(inv.PeriodStart),
		PeriodEnd:    unixTime(inv.PeriodEnd),
		Metadata:     inv.Metadata,
	}
	if inv.Subscription != nil {
		gi.SubscriptionID = inv.Subscription.ID
	}
	if inv.Customer != nil {
		gi.CustomerID = inv.Customer.ID
	}
	// Период подписки лежит в строке счета, а не в самом счете.
	if inv.Lines != nil && len(inv.Lines.Data) > 0 && inv.Lines.Data[0].Period != nil {
		gi.PeriodStart = unixTime(inv.Lines.Data[0].Period.Start)
		gi.PeriodEnd = unixTime(inv.Lines.Data[0].Period.End)
	}
	switch {
	case inv.PaymentIntent != nil && inv.PaymentIntent.LastPaymentError != nil:
		gi.FailureMessage = inv.PaymentIntent.LastPaymentError.Msg
	case inv.LastFinalizationError != nil:
		gi.FailureMessage = inv.LastFinalizationError.Msg
	}
	if gi.Metadata == nil {
		gi.Metadata = map[string]string{}
	}
	return gi
}

// toCheckoutCompleted извлекает тенанта из client_reference_id или metadata.
func toCheckoutCompleted(cs *stripe.CheckoutSession) *domain.CheckoutCompleted {
	co := &domain.CheckoutCompleted{
		SessionID: cs.ID,
		TenantID:  cs.ClientReferenceID,
	}
	if co.TenantID == "" {
		co.TenantID = cs.Metadata[domain.MetadataTenantID]
	}
	co.PlanID = cs.Metadata[domain.MetadataPlanID]
	if cs.Subscription != nil {
		co.SubscriptionID = cs.Subscription.ID
	}
	if cs.Customer != nil {
		co.CustomerID = cs.Customer.ID
	}
	return co
}

func toGatewayPaymentMethod(pm *stripe.PaymentMethod) *domain.GatewayPaymentMethod {
	gpm := &domain.GatewayPaymentMethod{ID: pm.ID}
	if pm.Customer != nil {
		gpm.CustomerID = pm.Customer.ID
	}
	return gpm
}
