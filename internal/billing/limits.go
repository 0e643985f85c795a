package billing

import (
	"context"
	"errors"
	"fmt"
	"math"
	"time"

	"github.com/Dhoini/Billing-microservice/internal/domain"
)

// Пороги предупреждений об остатке квоты.
const (
	bookingsWarnRemaining = 10
	smsWarnRemaining      = 20
)

// LimitEvaluator проверяет квоты тенанта с учетом отложенной смены плана.
type LimitEvaluator struct {
	deps *Dependencies
}

// NewLimitEvaluator создает оценщик лимитов.
func NewLimitEvaluator(deps Dependencies) *LimitEvaluator {
	return &LimitEvaluator{deps: deps.withDefaults()}
}

// GetPlanLimits возвращает лимиты, действующие сейчас. Пока previous_plan_id
// установлен и период не закончился, действуют лимиты предыдущего плана.
func (e *LimitEvaluator) GetPlanLimits(ctx context.Context, tenantID string) (*domain.EffectiveLimits, error) {
	sub, err := e.deps.Subscriptions.GetByTenantID(ctx, tenantID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return fallbackLimits(), nil
		}
		return nil, fmt.Errorf("billing: load subscription: %w", err)
	}
	return e.limitsFor(ctx, sub, e.deps.Now())
}

func fallbackLimits() *domain.EffectiveLimits {
	return &domain.EffectiveLimits{Features: domain.FallbackFeatures, Fallback: true}
}

func (e *LimitEvaluator) limitsFor(ctx context.Context, sub *domain.Subscription, now time.Time) (*domain.EffectiveLimits, error) {
	current, err := e.lookupPlan(ctx, sub.PlanID)
	if err != nil {
		return nil, err
	}

	if sub.HasPendingPlanChange(now) {
		previous, err := e.lookupPlan(ctx, sub.PreviousPlanID)
		if err != nil {
			return nil, err
		}
		if previous != nil {
			return &domain.EffectiveLimits{
				Features:           previous.Features,
				Plan:               previous,
				PendingPlan:        current,
				PendingEffectiveAt: sub.CurrentPeriodEnd,
			}, nil
		}
		e.deps.Log.Warnw("Previous plan missing from catalog, using current plan limits", "tenantID", sub.TenantID, "planID", sub.PreviousPlanID)
	}

	if current == nil {
		e.deps.Log.Warnw("Subscription plan missing from catalog, using fallback limits", "tenantID", sub.TenantID, "planID", sub.PlanID)
		return fallbackLimits(), nil
	}
	return &domain.EffectiveLimits{Features: current.Features, Plan: current}, nil
}

// lookupPlan возвращает nil без ошибки, если плана нет в каталоге.
func (e *LimitEvaluator) lookupPlan(ctx context.Context, planID string) (*domain.Plan, error) {
	if planID == "" {
		return nil, nil
	}
	plan, err := e.deps.Plans.GetByID(ctx, planID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, nil
		}
		return nil, fmt.Errorf("billing: load plan %s: %w", planID, err)
	}
	return plan, nil
}

// CheckBookingLimit бронирования за текущий календарный месяц (UTC), без отмененных.
func (e *LimitEvaluator) CheckBookingLimit(ctx context.Context, tenantID string) (domain.LimitCheckResult, error) {
	return e.Check(ctx, tenantID, domain.ResourceBookings)
}

// CheckEmployeeLimit активные сотрудники.
func (e *LimitEvaluator) CheckEmployeeLimit(ctx context.Context, tenantID string) (domain.LimitCheckResult, error) {
	return e.Check(ctx, tenantID, domain.ResourceEmployees)
}

// CheckSmsLimit SMS за текущий платежный период.
func (e *LimitEvaluator) CheckSmsLimit(ctx context.Context, tenantID string) (domain.LimitCheckResult, error) {
	return e.Check(ctx, tenantID, domain.ResourceSMS)
}

// Check проверяет одну квоту.
func (e *LimitEvaluator) Check(ctx context.Context, tenantID string, resource domain.Resource) (domain.LimitCheckResult, error) {
	limits, err := e.GetPlanLimits(ctx, tenantID)
	if err != nil {
		return domain.LimitCheckResult{}, err
	}
	return e.checkWith(ctx, tenantID, limits, resource)
}

func (e *LimitEvaluator) checkWith(ctx context.Context, tenantID string, limits *domain.EffectiveLimits, resource domain.Resource) (domain.LimitCheckResult, error) {
	now := e.deps.Now()

	switch resource {
	case domain.ResourceBookings:
		count, err := e.deps.Usage.CountBookingsSince(ctx, tenantID, monthStart(now))
		if err != nil {
			return domain.LimitCheckResult{}, fmt.Errorf("billing: count bookings: %w", err)
		}
		return evaluateLimit(resource, count, limits.Features.Bookings, bookingsWarnRemaining), nil

	case domain.ResourceEmployees:
		count, err := e.deps.Usage.CountActiveEmployees(ctx, tenantID)
		if err != nil {
			return domain.LimitCheckResult{}, fmt.Errorf("billing: count employees: %w", err)
		}
		return evaluateLimit(resource, count, limits.Features.Employees, 0), nil

	case domain.ResourceSMS:
		tenant, err := e.deps.Tenants.GetByID(ctx, tenantID)
		if err != nil {
			return domain.LimitCheckResult{}, fmt.Errorf("billing: load tenant: %w", err)
		}
		limit := limits.Features.SMS
		// sms_usage.limit переписывается при смене плана сразу и имеет приоритет.
		if tenant.SmsUsage.Limit != nil && !limits.Fallback {
			limit = *tenant.SmsUsage.Limit
		}
		return evaluateLimit(resource, tenant.SmsUsage.Used, limit, smsWarnRemaining), nil
	}

	return domain.LimitCheckResult{}, fmt.Errorf("%w: unknown resource %q", domain.ErrInvalidInput, resource)
}

// Summary проверяет все квоты сразу.
func (e *LimitEvaluator) Summary(ctx context.Context, tenantID string) (*domain.LimitsSummary, error) {
	limits, err := e.GetPlanLimits(ctx, tenantID)
	if err != nil {
		return nil, err
	}

	summary := &domain.LimitsSummary{Fallback: limits.Fallback}
	if limits.Plan != nil {
		summary.PlanID = limits.Plan.ID
		summary.PlanName = limits.Plan.Name
	}
	if limits.PendingPlan != nil {
		summary.PendingPlanID = limits.PendingPlan.ID
		summary.PendingPlanName = limits.PendingPlan.Name
		summary.PendingEffectiveAt = limits.PendingEffectiveAt
	}

	if summary.Bookings, err = e.checkWith(ctx, tenantID, limits, domain.ResourceBookings); err != nil {
		return nil, err
	}
	if summary.Employees, err = e.checkWith(ctx, tenantID, limits, domain.ResourceEmployees); err != nil {
		return nil, err
	}
	if summary.SMS, err = e.checkWith(ctx, tenantID, limits, domain.ResourceSMS); err != nil {
		return nil, err
	}
	return summary, nil
}

// EnsureCanCreateBooking возвращает *domain.QuotaExceededError, если квота исчерпана.
func (e *LimitEvaluator) EnsureCanCreateBooking(ctx context.Context, tenantID string) error {
	_, err := e.Enforce(ctx, tenantID, domain.ResourceBookings)
	return err
}

// EnsureCanCreateEmployee возвращает *domain.QuotaExceededError, если квота исчерпана.
func (e *LimitEvaluator) EnsureCanCreateEmployee(ctx context.Context, tenantID string) error {
	_, err := e.Enforce(ctx, tenantID, domain.ResourceEmployees)
	return err
}

// EnsureCanSendSms возвращает *domain.QuotaExceededError, если квота исчерпана.
func (e *LimitEvaluator) EnsureCanSendSms(ctx context.Context, tenantID string) error {
	_, err := e.Enforce(ctx, tenantID, domain.ResourceSMS)
	return err
}

// Enforce проверяет квоту и отказывает *domain.QuotaExceededError, если она исчерпана.
// Отказ считается в метриках.
func (e *LimitEvaluator) Enforce(ctx context.Context, tenantID string, resource domain.Resource) (domain.LimitCheckResult, error) {
	result, err := e.Check(ctx, tenantID, resource)
	if err != nil {
		return domain.LimitCheckResult{}, err
	}
	if !result.CanProceed {
		e.deps.Metrics.IncLimitRejection(string(resource))
		e.deps.Log.Infow("Operation rejected by plan quota", "tenantID", tenantID, "resource", resource, "current", result.Current)
		return result, &domain.QuotaExceededError{Resource: resource, Result: result}
	}
	return result, nil
}

// CanDowngradeToPlan блокирует переход только если активных сотрудников больше,
// чем разрешает целевой план. Превышение по бронированиям дает предупреждение.
func (e *LimitEvaluator) CanDowngradeToPlan(ctx context.Context, tenantID, targetPlanID string) (*domain.DowngradeCheck, error) {
	target, err := e.deps.Plans.GetByID(ctx, targetPlanID)
	if err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return nil, fmt.Errorf("%w: %s", domain.ErrPlanNotFound, targetPlanID)
		}
		return nil, fmt.Errorf("billing: load plan: %w", err)
	}
	return e.canSwitchTo(ctx, tenantID, target)
}

func (e *LimitEvaluator) canSwitchTo(ctx context.Context, tenantID string, target *domain.Plan) (*domain.DowngradeCheck, error) {
	check := &domain.DowngradeCheck{CanDowngrade: true, Issues: []domain.DowngradeIssue{}, Warnings: []string{}}

	if limit, ok := target.Features.Employees.Value(); ok {
		employees, err := e.deps.Usage.CountActiveEmployees(ctx, tenantID)
		if err != nil {
			return nil, fmt.Errorf("billing: count employees: %w", err)
		}
		if employees > limit {
			check.CanDowngrade = false
			check.Issues = append(check.Issues, domain.DowngradeIssue{
				Resource: domain.ResourceEmployees,
				Current:  employees,
				Limit:    limit,
				Message: fmt.Sprintf("The %s plan allows %d active employees, you have %d. Deactivate at least %d employee(s) before switching.",
					target.Name, limit, employees, employees-limit),
			})
		}
	}

	if limit, ok := target.Features.Bookings.Value(); ok {
		bookings, err := e.deps.Usage.CountBookingsSince(ctx, tenantID, monthStart(e.deps.Now()))
		if err != nil {
			return nil, fmt.Errorf("billing: count bookings: %w", err)
		}
		if bookings > limit {
			check.Warnings = append(check.Warnings, fmt.Sprintf(
				"You have %d bookings this month and the %s plan allows %d. Existing bookings are kept, new ones will be blocked until the limit resets.",
				bookings, target.Name, limit))
		}
	}

	return check, nil
}

// evaluateLimit считает результат проверки квоты. warnAt=0 отключает предупреждение.
func evaluateLimit(resource domain.Resource, current int64, limit domain.Limit, warnAt int64) domain.LimitCheckResult {
	n, ok := limit.Value()
	if !ok {
		return domain.LimitCheckResult{CanProceed: true, Current: current}
	}

	remaining := n - current
	if remaining < 0 {
		remaining = 0
	}

	percent := 100
	if n > 0 {
		percent = int(math.Round(float64(current) * 100 / float64(n)))
		if percent > 100 {
			percent = 100
		}
		if percent < 0 {
			percent = 0
		}
	}

	result := domain.LimitCheckResult{
		CanProceed:  current < n,
		Current:     current,
		Limit:       &n,
		Remaining:   &remaining,
		PercentUsed: percent,
	}

	switch {
	case !result.CanProceed:
		result.Message = blockedMessage(resource, n)
	case warnAt > 0 && remaining <= warnAt:
		result.Message = warningMessage(resource, remaining)
	}
	return result
}

func blockedMessage(resource domain.Resource, limit int64) string {
	switch resource {
	case domain.ResourceBookings:
		return fmt.Sprintf("You have reached your monthly limit of %d bookings. Upgrade your plan to accept more bookings.", limit)
	case domain.ResourceEmployees:
		return fmt.Sprintf("Your plan allows up to %d active employees. Upgrade your plan to add more.", limit)
	case domain.ResourceSMS:
		return fmt.Sprintf("You have used all %d SMS messages for this billing period. Upgrade your plan to send more.", limit)
	}
	return "Plan limit reached. Upgrade your plan to continue."
}

func warningMessage(resource domain.Resource, remaining int64) string {
	switch resource {
	case domain.ResourceBookings:
		return fmt.Sprintf("Only %d bookings left this month.", remaining)
	case domain.ResourceSMS:
		return fmt.Sprintf("Only %d SMS messages left in this billing period.", remaining)
	}
	return ""
}

// monthStart начало календарного месяца в UTC.
func monthStart(now time.Time) time.Time {
	now = now.UTC()
	return time.Date(now.Year(), now.Month(), 1, 0, 0, 0, 0, time.UTC)
}
