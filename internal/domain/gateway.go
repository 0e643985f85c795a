package domain

import "time"

// Metadata keys attached to Stripe objects created by this service.
const (
	MetadataTenantID = "tenant_id"
	MetadataPlanID   = "plan_id"
)

// GatewayEventType тип события платежного шлюза.
type GatewayEventType string

const (
	EventCheckoutCompleted       GatewayEventType = "checkout.session.completed"
	EventSubscriptionCreated     GatewayEventType = "customer.subscription.created"
	EventSubscriptionUpdated     GatewayEventType = "customer.subscription.updated"
	EventSubscriptionDeleted     GatewayEventType = "customer.subscription.deleted"
	EventSubscriptionTrialEnd    GatewayEventType = "customer.subscription.trial_will_end"
	EventInvoicePaid             GatewayEventType = "invoice.paid"
	EventInvoicePaymentSucceeded GatewayEventType = "invoice.payment_succeeded"
	EventInvoicePaymentFailed    GatewayEventType = "invoice.payment_failed"
	EventPaymentMethodAttached   GatewayEventType = "payment_method.attached"
)

// GatewaySubscription подписка в том виде, в котором ее видит шлюз.
// Status содержит внешний статус (active, past_due, ...).
type GatewaySubscription struct {
	ID                     string
	CustomerID             string
	Status                 string
	PriceID                string
	ItemID                 string
	CurrentPeriodStart     *time.Time
	CurrentPeriodEnd       *time.Time
	TrialStart             *time.Time
	TrialEnd               *time.Time
	CancelAtPeriodEnd      bool
	CanceledAt             *time.Time
	DefaultPaymentMethodID string
	LatestInvoiceID        string
	Metadata               map[string]string
}

// GatewayInvoice счет шлюза.
type GatewayInvoice struct {
	ID             string
	SubscriptionID string
	CustomerID     string
	Status         string
	AttemptCount   int64
	PeriodStart    *time.Time
	PeriodEnd      *time.Time
	FailureMessage string
	Metadata       map[string]string
}

// CheckoutCompleted данные завершенной checkout-сессии.
type CheckoutCompleted struct {
	SessionID      string
	SubscriptionID string
	CustomerID     string
	TenantID       string
	PlanID         string
}

// GatewayPaymentMethod привязанный платежный метод.
type GatewayPaymentMethod struct {
	ID         string
	CustomerID string
}

// GatewayEvent проверенное и разобранное событие вебхука.
// Заполнено ровно одно из полей-полезных нагрузок (или ни одного для неизвестных типов).
type GatewayEvent struct {
	ID            string
	Type          GatewayEventType
	Created       time.Time
	Checkout      *CheckoutCompleted
	Subscription  *GatewaySubscription
	Invoice       *GatewayInvoice
	PaymentMethod *GatewayPaymentMethod
}

// CreateGatewaySubscriptionParams параметры создания подписки в шлюзе.
type CreateGatewaySubscriptionParams struct {
	CustomerID      string
	PriceID         string
	PaymentMethodID string
	Metadata        map[string]string
	IdempotencyKey  string
}

// CheckoutParams параметры создания checkout-сессии.
type CheckoutParams struct {
	TenantID   string
	PlanID     string
	PriceID    string
	CustomerID string
	Email      string
	TrialDays  int
	SuccessURL string
	CancelURL  string
}

// CheckoutSession созданная checkout-сессия.
type CheckoutSession struct {
	ID        string     `json:"id"`
	URL       string     `json:"url"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// PaymentResult результат повторной попытки оплаты счета.
type PaymentResult struct {
	InvoiceID string `json:"invoiceId"`
	Status    string `json:"status"`
	Paid      bool   `json:"paid"`
}
