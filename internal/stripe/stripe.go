package stripe

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
	"github.com/cenkalti/backoff/v4"
	"github.com/google/uuid"
	"github.com/stripe/stripe-go/v78"
	"github.com/stripe/stripe-go/v78/client"
)

const (
	defaultMaxRetries = 3

	// Поведение оплаты при создании подписки с сохраненной картой:
	// если первый платеж не прошел, подписка не создается.
	paymentBehaviorErrorIfIncomplete = "error_if_incomplete"

	prorationBehaviorNone = "none"
)

// Config настройки клиента Stripe.
type Config struct {
	SecretKey     string
	WebhookSecret string
	// APIURL переопределяет адрес API (stripe-mock, тесты).
	APIURL     string
	MaxRetries uint64
}

// Gateway реализует billing.PaymentGateway и billing.EventVerifier поверх Stripe SDK.
type Gateway struct {
	client        *client.API // Клиент Stripe SDK
	webhookSecret string
	maxRetries    uint64
	log           *logger.Logger
}

// NewGateway создает клиент Stripe. Глобальный stripe.Key не используется.
func NewGateway(cfg Config, log *logger.Logger) (*Gateway, error) {
	if cfg.SecretKey == "" {
		return nil, errors.New("stripe: secret key is not configured")
	}
	if cfg.WebhookSecret == "" {
		return nil, errors.New("stripe: webhook secret is not configured")
	}

	// Повторы делает backoff, встроенные повторы SDK отключены.
	backendConfig := &stripe.BackendConfig{
		MaxNetworkRetries: stripe.Int64(0),
		LeveledLogger:     &stripe.LeveledLogger{Level: stripe.LevelError},
	}
	if cfg.APIURL != "" {
		backendConfig.URL = stripe.String(cfg.APIURL)
	}

	sc := &client.API{}
	sc.Init(cfg.SecretKey, &stripe.Backends{
		API:     stripe.GetBackendWithConfig(stripe.APIBackend, backendConfig),
		Connect: stripe.GetBackendWithConfig(stripe.ConnectBackend, backendConfig),
		Uploads: stripe.GetBackendWithConfig(stripe.UploadsBackend, backendConfig),
	})

	maxRetries := cfg.MaxRetries
	if maxRetries == 0 {
		maxRetries = defaultMaxRetries
	}

	return &Gateway{
		client:        sc,
		webhookSecret: cfg.WebhookSecret,
		maxRetries:    maxRetries,
		log:           log,
	}, nil
}

// GetSubscription читает подписку из Stripe.
func (g *Gateway) GetSubscription(ctx context.Context, subscriptionID string) (*domain.GatewaySubscription, error) {
	var sub *stripe.Subscription
	err := g.call(ctx, "GetSubscription", func() error {
		params := &stripe.SubscriptionParams{}
		params.Context = ctx
		var err error
		sub, err = g.client.Subscriptions.Get(subscriptionID, params)
		return err
	})
	if err != nil {
		return nil, err
	}
	return toGatewaySubscription(sub), nil
}

// CreateSubscription создает подписку и сразу списывает первый платеж с сохраненного метода.
func (g *Gateway) CreateSubscription(ctx context.Context, p domain.CreateGatewaySubscriptionParams) (*domain.GatewaySubscription, error) {
	idempotencyKey := p.IdempotencyKey
	if idempotencyKey == "" {
		idempotencyKey = uuid.NewString()
	}

	var sub *stripe.Subscription
	err := g.call(ctx, "CreateSubscription", func() error {
		params := &stripe.SubscriptionParams{
			Customer: stripe.String(p.CustomerID),
			Items: []*stripe.SubscriptionItemsParams{
				{
					Price: stripe.String(p.PriceID),
				},
			},
			PaymentBehavior: stripe.String(paymentBehaviorErrorIfIncomplete),
			Params: stripe.Params{
				IdempotencyKey: stripe.String(idempotencyKey),
				Context:        ctx,
			},
		}
		if p.PaymentMethodID != "" {
			params.DefaultPaymentMethod = stripe.String(p.PaymentMethodID)
		}
		for k, v := range p.Metadata {
			params.AddMetadata(k, v)
		}
		var err error
		sub, err = g.client.Subscriptions.New(params)
		return err
	})
	if err != nil {
		return nil, err
	}

	g.log.Infow("Stripe subscription created", "stripeSubscriptionID", sub.ID, "status", string(sub.Status))
	return toGatewaySubscription(sub), nil
}

// errCodeSubscriptionWithoutItems подписка в Stripe без позиций: повтор не поможет.
const errCodeSubscriptionWithoutItems = "subscription_without_items"

// UpdateSubscriptionPrice меняет цену единственной позиции подписки без перерасчета.
func (g *Gateway) UpdateSubscriptionPrice(ctx context.Context, subscriptionID, priceID string) (*domain.GatewaySubscription, error) {
	current, err := g.GetSubscription(ctx, subscriptionID)
	if err != nil {
		return nil, err
	}
	if current.ItemID == "" {
		msg := fmt.Sprintf("subscription %s has no items", subscriptionID)
		return nil, &domain.GatewayError{
			Operation:   "UpdateSubscriptionPrice",
			Code:        errCodeSubscriptionWithoutItems,
			Message:     msg,
			OriginalErr: fmt.Errorf("%w: %s", domain.ErrInvalidOperation, msg),
		}
	}

	idempotencyKey := uuid.NewString()
	var sub *stripe.Subscription
	err = g.call(ctx, "UpdateSubscriptionPrice", func() error {
		params := &stripe.SubscriptionParams{
			Items: []*stripe.SubscriptionItemsParams{
				{
					ID:    stripe.String(current.ItemID),
					Price: stripe.String(priceID),
				},
			},
			ProrationBehavior: stripe.String(prorationBehaviorNone),
			Params: stripe.Params{
				IdempotencyKey: stripe.String(idempotencyKey),
				Context:        ctx,
			},
		}
		var err error
		sub, err = g.client.Subscriptions.Update(subscriptionID, params)
		return err
	})
	if err != nil {
		return nil, err
	}

	g.log.Infow("Stripe subscription price updated", "stripeSubscriptionID", sub.ID, "priceID", priceID)
	return toGatewaySubscription(sub), nil
}

// SetCancelAtPeriodEnd включает или снимает отмену в конце периода.
func (g *Gateway) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*domain.GatewaySubscription, error) {
	idempotencyKey := uuid.NewString()
	var sub *stripe.Subscription
	err := g.call(ctx, "SetCancelAtPeriodEnd", func() error {
		params := &stripe.SubscriptionParams{
			CancelAtPeriodEnd: stripe.Bool(cancel),
			Params: stripe.Params{
				IdempotencyKey: stripe.String(idempotencyKey),
				Context:        ctx,
			},
		}
		var err error
		sub, err = g.client.Subscriptions.Update(subscriptionID, params)
		return err
	})
	if err != nil {
		return nil, err
	}

	g.log.Infow("Stripe subscription cancel_at_period_end updated", "stripeSubscriptionID", sub.ID, "cancelAtPeriodEnd", cancel)
	return toGatewaySubscription(sub), nil
}

// CreateCheckoutSession создает hosted checkout в режиме подписки.
func (g *Gateway) CreateCheckoutSession(ctx context.Context, p domain.CheckoutParams) (*domain.CheckoutSession, error) {
	idempotencyKey := uuid.NewString()
	var cs *stripe.CheckoutSession
	err := g.call(ctx, "CreateCheckoutSession", func() error {
		params := &stripe.CheckoutSessionParams{
			Mode: stripe.String(string(stripe.CheckoutSessionModeSubscription)),
			LineItems: []*stripe.CheckoutSessionLineItemParams{
				{
					Price:    stripe.String(p.PriceID),
					Quantity: stripe.Int64(1),
				},
			},
			ClientReferenceID: stripe.String(p.TenantID),
			SuccessURL:        stripe.String(p.SuccessURL),
			CancelURL:         stripe.String(p.CancelURL),
			SubscriptionData: &stripe.CheckoutSessionSubscriptionDataParams{
				Metadata: map[string]string{
					domain.MetadataTenantID: p.TenantID,
					domain.MetadataPlanID:   p.PlanID,
				},
			},
			Params: stripe.Params{
				IdempotencyKey: stripe.String(idempotencyKey),
				Context:        ctx,
			},
		}
		params.AddMetadata(domain.MetadataTenantID, p.TenantID)
		params.AddMetadata(domain.MetadataPlanID, p.PlanID)
		if p.TrialDays > 0 {
			params.SubscriptionData.TrialPeriodDays = stripe.Int64(int64(p.TrialDays))
		}
		switch {
		case p.CustomerID != "":
			params.Customer = stripe.String(p.CustomerID)
		case p.Email != "":
			params.CustomerEmail = stripe.String(p.Email)
		}
		var err error
		cs, err = g.client.CheckoutSessions.New(params)
		return err
	})
	if err != nil {
		return nil, err
	}

	g.log.Infow("Stripe checkout session created", "sessionID", cs.ID, "tenantID", p.TenantID)
	return &domain.CheckoutSession{
		ID:        cs.ID,
		URL:       cs.URL,
		ExpiresAt: unixTime(cs.ExpiresAt),
	}, nil
}

// PayInvoice повторяет попытку оплаты счета.
func (g *Gateway) PayInvoice(ctx context.Context, invoiceID string) (*domain.PaymentResult, error) {
	idempotencyKey := uuid.NewString()
	var inv *stripe.Invoice
	err := g.call(ctx, "PayInvoice", func() error {
		params := &stripe.InvoicePayParams{
			Params: stripe.Params{
				IdempotencyKey: stripe.String(idempotencyKey),
				Context:        ctx,
			},
		}
		var err error
		inv, err = g.client.Invoices.Pay(invoiceID, params)
		return err
	})
	if err != nil {
		return nil, err
	}

	g.log.Infow("Stripe invoice payment attempted", "invoiceID", inv.ID, "status", string(inv.Status), "paid", inv.Paid)
	return &domain.PaymentResult{
		InvoiceID: inv.ID,
		Status:    string(inv.Status),
		Paid:      inv.Paid,
	}, nil
}

// call выполняет запрос к Stripe с повторами на временных ошибках.
// Ошибки возвращаются как *domain.GatewayError.
func (g *Gateway) call(ctx context.Context, operation string, fn func() error) error {
	var last *domain.GatewayError
	attempt := 0
	op := func() error {
		attempt++
		err := fn()
		if err == nil {
			return nil
		}
		last = toGatewayError(operation, err)
		if !last.Retryable {
			return backoff.Permanent(last)
		}
		g.log.Warnw("Retryable Stripe error", "operation", operation, "attempt", attempt, "error", err)
		return last
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 200 * time.Millisecond
	b.MaxInterval = 2 * time.Second
	b.MaxElapsedTime = 10 * time.Second
	b.Reset()

	if err := backoff.Retry(op, backoff.WithContext(backoff.WithMaxRetries(b, g.maxRetries), ctx)); err != nil {
		if last == nil {
			last = toGatewayError(operation, err)
		}
		logStripeError(g.log, operation, last.OriginalErr)
		return last
	}
	return nil
}
