package billing

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/internal/metrics"
	"github.com/google/uuid"
)

// suspendAfterAttempts число неудачных попыток оплаты, после которого тенант приостанавливается.
const suspendAfterAttempts = 3

const defaultPaymentError = "Payment failed"

// errStaleEvent событие относится к прежней внешней подписке, а у тенанта уже другая живая.
var errStaleEvent = errors.New("event belongs to a replaced subscription")

type eventHandler func(ctx context.Context, event *domain.GatewayEvent) (string, error)

// Reconciler применяет события шлюза к локальным подпискам.
// Каждый обработчик идемпотентен: повторная доставка выводит то же состояние из payload.
type Reconciler struct {
	deps     *Dependencies
	resolver *SubscriptionResolver
	handlers map[domain.GatewayEventType]eventHandler
}

// NewReconciler создает обработчик событий.
func NewReconciler(deps Dependencies) *Reconciler {
	d := deps.withDefaults()
	r := &Reconciler{
		deps:     d,
		resolver: NewSubscriptionResolver(d.Subscriptions, d.Log),
	}
	r.handlers = map[domain.GatewayEventType]eventHandler{
		domain.EventCheckoutCompleted:       r.handleCheckoutCompleted,
		domain.EventSubscriptionCreated:     r.handleSubscriptionChanged,
		domain.EventSubscriptionUpdated:     r.handleSubscriptionChanged,
		domain.EventSubscriptionDeleted:     r.handleSubscriptionDeleted,
		domain.EventSubscriptionTrialEnd:    r.handleTrialWillEnd,
		domain.EventInvoicePaid:             r.handleInvoicePaid,
		domain.EventInvoicePaymentSucceeded: r.handleInvoicePaid,
		domain.EventInvoicePaymentFailed:    r.handleInvoicePaymentFailed,
		domain.EventPaymentMethodAttached:   r.handlePaymentMethodAttached,
	}
	return r
}

// HandleEvent обрабатывает проверенное событие. Неизвестные типы и события,
// которые не удалось сопоставить с подпиской, логируются и отбрасываются.
func (r *Reconciler) HandleEvent(ctx context.Context, event *domain.GatewayEvent) error {
	start := time.Now()

	handler, ok := r.handlers[event.Type]
	if !ok {
		r.deps.Log.Infow("Ignoring unsupported gateway event", "eventID", event.ID, "type", event.Type)
		r.deps.Metrics.ObserveWebhookEvent(string(event.Type), metrics.OutcomeIgnored, time.Since(start))
		return nil
	}

	outcome, err := handler(ctx, event)
	switch {
	case errors.Is(err, domain.ErrUnresolvable):
		r.deps.Log.Warnw("Gateway event cannot be matched to a subscription", "eventID", event.ID, "type", event.Type, "error", err)
		outcome, err = metrics.OutcomeUnresolvable, nil
	case errors.Is(err, errStaleEvent):
		r.deps.Log.Infow("Ignoring event for a replaced subscription", "eventID", event.ID, "type", event.Type)
		outcome, err = metrics.OutcomeIgnored, nil
	case errors.Is(err, domain.ErrUnknownExternalStatus):
		r.deps.Log.Errorw("Gateway event carries an unknown subscription status", "eventID", event.ID, "type", event.Type, "error", err)
		outcome = metrics.OutcomeFailed
	case err != nil:
		r.deps.Log.Errorw("Failed to handle gateway event", "eventID", event.ID, "type", event.Type, "error", err)
		outcome = metrics.OutcomeFailed
	default:
		r.deps.Log.Debugw("Gateway event handled", "eventID", event.ID, "type", event.Type, "outcome", outcome)
	}

	r.deps.Metrics.ObserveWebhookEvent(string(event.Type), outcome, time.Since(start))
	return err
}

func (r *Reconciler) handleCheckoutCompleted(ctx context.Context, event *domain.GatewayEvent) (string, error) {
	co := event.Checkout
	if co == nil || co.SubscriptionID == "" {
		return metrics.OutcomeIgnored, nil
	}

	// Данные сессии могут устареть: состояние берется из самой подписки.
	gs, err := r.deps.Gateway.GetSubscription(ctx, co.SubscriptionID)
	if err != nil {
		return "", fmt.Errorf("billing: fetch subscription %s: %w", co.SubscriptionID, err)
	}

	tenantID := firstNonEmpty(co.TenantID, gs.Metadata[domain.MetadataTenantID])
	if tenantID == "" {
		existing, _, err := r.resolver.Resolve(ctx, LookupKeys{SubscriptionID: gs.ID, CustomerID: firstNonEmpty(co.CustomerID, gs.CustomerID)})
		if err != nil {
			return "", err
		}
		tenantID = existing.TenantID
	}

	var (
		sub         *domain.Subscription
		previous    domain.SubscriptionStatus
		started     bool
		reactivated bool
	)
	err = r.deps.Guard.Do(ctx, tenantID, func(ctx context.Context) error {
		var err error
		sub, err = r.deps.Subscriptions.GetByTenantID(ctx, tenantID)
		switch {
		case errors.Is(err, domain.ErrNotFound):
			sub = &domain.Subscription{ID: uuid.New(), TenantID: tenantID}
		case err != nil:
			return fmt.Errorf("billing: load subscription: %w", err)
		}
		previous = sub.Status
		started = sub.StripeSubscriptionID != gs.ID || !sub.HasActiveSubscription()

		if err := applyGatewaySubscription(sub, gs); err != nil {
			return err
		}

		plan, err := r.resolvePlan(ctx, firstNonEmpty(co.PlanID, gs.Metadata[domain.MetadataPlanID]), gs.PriceID)
		if err != nil {
			return err
		}
		if plan != nil {
			sub.PlanID = plan.ID
		}
		if sub.PlanID == "" {
			return fmt.Errorf("%w: checkout %s carries no known plan", domain.ErrInvalidInput, co.SessionID)
		}
		sub.PreviousPlanID = ""

		if err := r.deps.Subscriptions.Upsert(ctx, sub); err != nil {
			return fmt.Errorf("billing: upsert subscription: %w", err)
		}
		if plan != nil {
			if err := r.deps.Tenants.SetSmsLimit(ctx, tenantID, plan.Features.SMS); err != nil {
				return fmt.Errorf("billing: set sms limit: %w", err)
			}
		}
		reactivated, err = r.deps.reactivateTenant(ctx, sub)
		return err
	})
	if err != nil {
		return "", err
	}

	r.deps.announceStatusChange(ctx, sub, previous)
	if reactivated {
		r.deps.announceReactivation(ctx, sub)
	}
	if started && sub.HasActiveSubscription() {
		r.deps.notify(ctx, domain.NotificationSubscriptionStarted, tenantID, map[string]string{
			"planId": sub.PlanID,
			"status": string(sub.Status),
		})
	}
	return metrics.OutcomeProcessed, nil
}

func (r *Reconciler) handleSubscriptionChanged(ctx context.Context, event *domain.GatewayEvent) (string, error) {
	gs := event.Subscription
	if gs == nil || gs.ID == "" {
		return metrics.OutcomeIgnored, nil
	}

	var (
		sub      *domain.Subscription
		previous domain.SubscriptionStatus
	)
	err := r.mutate(ctx, subscriptionKeys(gs), func(ctx context.Context, current *domain.Subscription) error {
		sub = current
		previous = sub.Status
		if isStale(sub, gs.ID, gs.Status) {
			return errStaleEvent
		}
		if sub.StripeSubscriptionID != "" && sub.StripeSubscriptionID != gs.ID {
			r.deps.Log.Infow("Adopting replaced gateway subscription", "tenantID", sub.TenantID, "from", sub.StripeSubscriptionID, "to", gs.ID)
		}
		return r.applyAndSave(ctx, sub, gs)
	})
	if err != nil {
		return "", err
	}

	r.deps.announceStatusChange(ctx, sub, previous)
	return metrics.OutcomeProcessed, nil
}

func (r *Reconciler) handleSubscriptionDeleted(ctx context.Context, event *domain.GatewayEvent) (string, error) {
	gs := event.Subscription
	if gs == nil || gs.ID == "" {
		return metrics.OutcomeIgnored, nil
	}

	var (
		sub       *domain.Subscription
		previous  domain.SubscriptionStatus
		suspended bool
	)
	err := r.mutate(ctx, subscriptionKeys(gs), func(ctx context.Context, current *domain.Subscription) error {
		sub = current
		previous = sub.Status
		if isStale(sub, gs.ID, "canceled") {
			return errStaleEvent
		}

		sub.StripeSubscriptionID = gs.ID
		sub.Status = domain.SubscriptionStatusCancelled
		sub.CancelAtPeriodEnd = false
		sub.PreviousPlanID = ""
		switch {
		case gs.CanceledAt != nil:
			sub.CanceledAt = gs.CanceledAt
		case sub.CanceledAt == nil:
			sub.CanceledAt = domain.TimePtr(r.deps.Now())
		}
		if err := r.deps.Subscriptions.Update(ctx, sub); err != nil {
			return fmt.Errorf("billing: save subscription: %w", err)
		}

		// Удаление в шлюзе однозначно: grace-период не дается.
		var err error
		suspended, err = r.deps.suspendTenant(ctx, sub.TenantID, domain.SuspendReasonCancelled)
		return err
	})
	if err != nil {
		return "", err
	}

	r.deps.announceStatusChange(ctx, sub, previous)
	if previous != domain.SubscriptionStatusCancelled {
		r.deps.notify(ctx, domain.NotificationSubscriptionCancelled, sub.TenantID, map[string]string{"planId": sub.PlanID})
	}
	if suspended {
		r.deps.announceSuspension(ctx, sub, domain.SuspendReasonCancelled, suspensionCancelled)
	}
	return metrics.OutcomeProcessed, nil
}

func (r *Reconciler) handleInvoicePaid(ctx context.Context, event *domain.GatewayEvent) (string, error) {
	inv := event.Invoice
	if inv == nil || inv.SubscriptionID == "" {
		return metrics.OutcomeIgnored, nil
	}

	gs, err := r.deps.Gateway.GetSubscription(ctx, inv.SubscriptionID)
	if err != nil {
		return "", fmt.Errorf("billing: fetch subscription %s: %w", inv.SubscriptionID, err)
	}

	var (
		sub         *domain.Subscription
		previous    domain.SubscriptionStatus
		renewed     bool
		reactivated bool
	)
	err = r.mutate(ctx, invoiceKeys(inv), func(ctx context.Context, current *domain.Subscription) error {
		sub = current
		previous = sub.Status
		if isStale(sub, gs.ID, gs.Status) {
			return errStaleEvent
		}

		sub.LastPaymentStatus = domain.PaymentStatusSucceeded
		sub.LastPaymentError = ""

		renewed = false
		if start, end := invoicePeriod(inv, gs); isUsageRenewal(sub, start) {
			renewed = true
			sub.UsagePeriodEnd = end
			if err := r.deps.Tenants.ResetSmsUsage(ctx, sub.TenantID, r.deps.Now()); err != nil {
				return fmt.Errorf("billing: reset sms usage: %w", err)
			}
		}
		if err := r.applyAndSave(ctx, sub, gs); err != nil {
			return err
		}

		var err error
		reactivated, err = r.deps.reactivateTenant(ctx, sub)
		return err
	})
	if err != nil {
		return "", err
	}

	if renewed {
		r.deps.Log.Infow("Billing period renewed, SMS usage reset", "tenantID", sub.TenantID, "periodStart", sub.CurrentPeriodStart)
	}
	r.deps.announceStatusChange(ctx, sub, previous)
	if reactivated {
		r.deps.announceReactivation(ctx, sub)
	}
	return metrics.OutcomeProcessed, nil
}

// invoicePeriod период оплаченного счета; без строк счета берется период подписки.
func invoicePeriod(inv *domain.GatewayInvoice, gs *domain.GatewaySubscription) (start, end *time.Time) {
	start, end = inv.PeriodStart, inv.PeriodEnd
	if start == nil {
		start = gs.CurrentPeriodStart
	}
	if end == nil {
		end = gs.CurrentPeriodEnd
	}
	if end != nil {
		end = domain.TimePtr(*end)
	}
	return start, end
}

// isUsageRenewal сообщает, начинает ли оплаченный период новый счетчик SMS.
// Период, начавшийся раньше конца учтенного, это исправление счета, а не продление.
func isUsageRenewal(sub *domain.Subscription, start *time.Time) bool {
	anchor := sub.UsagePeriodEnd
	if anchor == nil {
		anchor = sub.CurrentPeriodEnd
	}
	return anchor != nil && start != nil && !start.Before(*anchor)
}

func (r *Reconciler) handleInvoicePaymentFailed(ctx context.Context, event *domain.GatewayEvent) (string, error) {
	inv := event.Invoice
	if inv == nil || inv.SubscriptionID == "" {
		return metrics.OutcomeIgnored, nil
	}

	var (
		sub       *domain.Subscription
		previous  domain.SubscriptionStatus
		suspended bool
	)
	err := r.mutate(ctx, invoiceKeys(inv), func(ctx context.Context, current *domain.Subscription) error {
		sub = current
		previous = sub.Status
		if isStale(sub, inv.SubscriptionID, "past_due") {
			return errStaleEvent
		}

		if sub.Status != domain.SubscriptionStatusCancelled {
			sub.Status = domain.SubscriptionStatusPastDue
		}
		sub.LastPaymentStatus = domain.PaymentStatusFailed
		sub.LastPaymentError = firstNonEmpty(inv.FailureMessage, defaultPaymentError)
		sub.ClearExpiredPlanChange(r.deps.Now())
		if err := r.deps.Subscriptions.Update(ctx, sub); err != nil {
			return fmt.Errorf("billing: save subscription: %w", err)
		}

		if inv.AttemptCount < suspendAfterAttempts {
			return nil
		}
		var err error
		suspended, err = r.deps.suspendTenant(ctx, sub.TenantID, domain.SuspendReasonPaymentFailure)
		return err
	})
	if err != nil {
		return "", err
	}

	r.deps.Log.Infow("Invoice payment failed", "tenantID", sub.TenantID, "invoiceID", inv.ID, "attempt", inv.AttemptCount)
	r.deps.announceStatusChange(ctx, sub, previous)
	r.deps.notify(ctx, domain.NotificationPaymentFailed, sub.TenantID, map[string]string{
		"invoiceId": inv.ID,
		"attempt":   strconv.FormatInt(inv.AttemptCount, 10),
		"reason":    sub.LastPaymentError,
	})
	if suspended {
		r.deps.announceSuspension(ctx, sub, domain.SuspendReasonPaymentFailure, suspensionPaymentFailure)
	}
	return metrics.OutcomeProcessed, nil
}

func (r *Reconciler) handlePaymentMethodAttached(ctx context.Context, event *domain.GatewayEvent) (string, error) {
	pm := event.PaymentMethod
	if pm == nil || pm.ID == "" || pm.CustomerID == "" {
		return metrics.OutcomeIgnored, nil
	}

	err := r.mutate(ctx, LookupKeys{CustomerID: pm.CustomerID}, func(ctx context.Context, sub *domain.Subscription) error {
		if sub.StripePaymentMethodID == pm.ID {
			return nil
		}
		sub.StripePaymentMethodID = pm.ID
		if err := r.deps.Subscriptions.Update(ctx, sub); err != nil {
			return fmt.Errorf("billing: save subscription: %w", err)
		}
		r.deps.Log.Infow("Payment method recorded", "tenantID", sub.TenantID, "paymentMethodID", pm.ID)
		return nil
	})
	if err != nil {
		return "", err
	}
	return metrics.OutcomeProcessed, nil
}

func (r *Reconciler) handleTrialWillEnd(ctx context.Context, event *domain.GatewayEvent) (string, error) {
	gs := event.Subscription
	if gs == nil {
		return metrics.OutcomeIgnored, nil
	}

	sub, _, err := r.resolver.Resolve(ctx, subscriptionKeys(gs))
	if err != nil {
		return "", err
	}

	data := map[string]string{"planId": sub.PlanID}
	if gs.TrialEnd != nil {
		data["trialEnd"] = gs.TrialEnd.UTC().Format(time.RFC3339)
	}
	r.deps.notify(ctx, domain.NotificationTrialEnding, sub.TenantID, data)
	return metrics.OutcomeProcessed, nil
}

// Resync выполняет ручную сверку подписки тенанта с шлюзом.
func (r *Reconciler) Resync(ctx context.Context, tenantID string) (*domain.Subscription, error) {
	sub, err := r.deps.Subscriptions.GetByTenantID(ctx, tenantID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: tenant %s", domain.ErrSubscriptionNotFound, tenantID)
		}
		return nil, fmt.Errorf("billing: load subscription: %w", err)
	}
	if sub.StripeSubscriptionID == "" {
		return nil, fmt.Errorf("%w: tenant %s has no gateway subscription", domain.ErrInvalidOperation, tenantID)
	}

	gs, err := r.deps.Gateway.GetSubscription(ctx, sub.StripeSubscriptionID)
	if err != nil {
		return nil, r.deps.gatewayFailure("get_subscription", tenantID, err)
	}

	var (
		previous    domain.SubscriptionStatus
		suspended   bool
		reactivated bool
	)
	err = r.deps.Guard.Do(ctx, tenantID, func(ctx context.Context) error {
		var err error
		sub, err = r.deps.Subscriptions.GetByTenantID(ctx, tenantID)
		if err != nil {
			return fmt.Errorf("billing: load subscription: %w", err)
		}
		previous = sub.Status
		if err := r.applyAndSave(ctx, sub, gs); err != nil {
			return err
		}
		if sub.Status == domain.SubscriptionStatusCancelled {
			suspended, err = r.deps.suspendTenant(ctx, tenantID, domain.SuspendReasonCancelled)
			return err
		}
		reactivated, err = r.deps.reactivateTenant(ctx, sub)
		return err
	})
	if err != nil {
		return nil, err
	}

	r.deps.Log.Infow("Subscription resynced", "tenantID", tenantID, "status", sub.Status, "planID", sub.PlanID)
	r.deps.announceStatusChange(ctx, sub, previous)
	if suspended {
		r.deps.announceSuspension(ctx, sub, domain.SuspendReasonCancelled, suspensionCancelled)
	}
	if reactivated {
		r.deps.announceReactivation(ctx, sub)
	}
	return sub, nil
}

// mutate находит подписку по цепочке стратегий и применяет fn под guard тенанта.
// При конфликте версий fn вызывается заново со свежей записью.
func (r *Reconciler) mutate(ctx context.Context, keys LookupKeys, fn func(ctx context.Context, sub *domain.Subscription) error) error {
	resolved, strategy, err := r.resolver.Resolve(ctx, keys)
	if err != nil {
		return err
	}
	tenantID := resolved.TenantID

	first := true
	return r.deps.Guard.Do(ctx, tenantID, func(ctx context.Context) error {
		sub := resolved
		if !first {
			var err error
			if sub, err = r.deps.Subscriptions.GetByTenantID(ctx, tenantID); err != nil {
				return fmt.Errorf("billing: reload subscription: %w", err)
			}
		}
		first = false
		r.deps.Log.Debugw("Applying gateway event", "tenantID", tenantID, "strategy", strategy)
		return fn(ctx, sub)
	})
}

// applyAndSave переносит состояние шлюза, синхронизирует план по цене и сохраняет запись.
func (r *Reconciler) applyAndSave(ctx context.Context, sub *domain.Subscription, gs *domain.GatewaySubscription) error {
	if err := applyGatewaySubscription(sub, gs); err != nil {
		return err
	}

	now := r.deps.Now()
	plan, err := r.syncPlanFromPrice(ctx, sub, gs.PriceID, now)
	if err != nil {
		return err
	}
	sub.ClearExpiredPlanChange(now)

	if err := r.deps.Subscriptions.Update(ctx, sub); err != nil {
		return fmt.Errorf("billing: save subscription: %w", err)
	}
	if plan != nil {
		if err := r.deps.Tenants.SetSmsLimit(ctx, sub.TenantID, plan.Features.SMS); err != nil {
			return fmt.Errorf("billing: set sms limit: %w", err)
		}
	}
	return nil
}

// syncPlanFromPrice подхватывает смену плана, сделанную в самом шлюзе.
// Возвращает новый план или nil, если план не менялся.
func (r *Reconciler) syncPlanFromPrice(ctx context.Context, sub *domain.Subscription, priceID string, now time.Time) (*domain.Plan, error) {
	if priceID == "" {
		return nil, nil
	}
	plan, err := r.deps.Plans.GetByStripePriceID(ctx, priceID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			r.deps.Log.Warnw("Gateway price is not in the plan catalog", "tenantID", sub.TenantID, "priceID", priceID)
			return nil, nil
		}
		return nil, fmt.Errorf("billing: load plan by price: %w", err)
	}
	if plan.ID == sub.PlanID {
		return nil, nil
	}

	r.deps.Log.Infow("Plan changed in gateway", "tenantID", sub.TenantID, "from", sub.PlanID, "to", plan.ID)
	if sub.PlanID == "" {
		sub.PlanID = plan.ID
	} else {
		schedulePlanChange(sub, plan.ID, now)
	}
	return plan, nil
}

// resolvePlan ищет план по id из metadata, затем по цене.
func (r *Reconciler) resolvePlan(ctx context.Context, planID, priceID string) (*domain.Plan, error) {
	if planID != "" {
		plan, err := r.deps.Plans.GetByID(ctx, planID)
		if err == nil {
			return plan, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("billing: load plan: %w", err)
		}
		r.deps.Log.Warnw("Plan from metadata is not in the catalog", "planID", planID)
	}
	if priceID != "" {
		plan, err := r.deps.Plans.GetByStripePriceID(ctx, priceID)
		if err == nil {
			return plan, nil
		}
		if !errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("billing: load plan by price: %w", err)
		}
	}
	return nil, nil
}

// isStale: у тенанта другая живая внешняя подписка, а событие про прежнюю и
// сообщает о ее завершении. Такие события не должны затирать новую подписку.
func isStale(sub *domain.Subscription, gatewaySubscriptionID, externalStatus string) bool {
	if sub.StripeSubscriptionID == "" || sub.StripeSubscriptionID == gatewaySubscriptionID {
		return false
	}
	if sub.Status == domain.SubscriptionStatusCancelled {
		return false
	}
	status, err := MapExternalStatus(externalStatus)
	if err != nil {
		return false
	}
	return status == domain.SubscriptionStatusCancelled || status == domain.SubscriptionStatusPastDue
}

func subscriptionKeys(gs *domain.GatewaySubscription) LookupKeys {
	return LookupKeys{
		SubscriptionID: gs.ID,
		CustomerID:     gs.CustomerID,
		TenantID:       gs.Metadata[domain.MetadataTenantID],
	}
}

func invoiceKeys(inv *domain.GatewayInvoice) LookupKeys {
	return LookupKeys{
		SubscriptionID: inv.SubscriptionID,
		CustomerID:     inv.CustomerID,
		TenantID:       inv.Metadata[domain.MetadataTenantID],
	}
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}
