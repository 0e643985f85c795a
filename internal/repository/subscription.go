package repository

import (
	"context"
	"time"

	"github.com/Dhoini/Billing-microservice/internal/domain"
)

// SubscriptionRepository определяет методы для работы с хранилищем подписок.
// Одна запись на тенанта.
type SubscriptionRepository interface {
	// Create сохраняет новую подписку. Повтор для того же тенанта дает ErrDuplicate.
	Create(ctx context.Context, sub *domain.Subscription) error

	// Upsert создает или перезаписывает подписку тенанта целиком.
	Upsert(ctx context.Context, sub *domain.Subscription) error

	// Update обновляет подписку при совпадении version, иначе ErrVersionConflict.
	Update(ctx context.Context, sub *domain.Subscription) error

	// GetByTenantID возвращает подписку тенанта.
	GetByTenantID(ctx context.Context, tenantID string) (*domain.Subscription, error)

	// GetByStripeSubscriptionID возвращает подписку по её Stripe ID. (нужна для вебхуков)
	GetByStripeSubscriptionID(ctx context.Context, stripeSubscriptionID string) (*domain.Subscription, error)

	// GetByStripeCustomerID возвращает подписку по Stripe Customer ID.
	GetByStripeCustomerID(ctx context.Context, stripeCustomerID string) (*domain.Subscription, error)
}

// PlanRepository каталог тарифных планов.
type PlanRepository interface {
	Create(ctx context.Context, plan *domain.Plan) error
	GetByID(ctx context.Context, planID string) (*domain.Plan, error)
	GetByStripePriceID(ctx context.Context, priceID string) (*domain.Plan, error)
	List(ctx context.Context) ([]domain.Plan, error)
}

// TenantRepository доступ к флагу приостановки и счетчику SMS тенанта.
type TenantRepository interface {
	GetByID(ctx context.Context, tenantID string) (*domain.Tenant, error)

	// Suspend приостанавливает тенанта; changed=false, если он уже приостановлен.
	Suspend(ctx context.Context, tenantID, reason string) (changed bool, err error)

	// Unsuspend снимает приостановку; changed=false, если тенант не был приостановлен.
	Unsuspend(ctx context.Context, tenantID string) (changed bool, err error)

	// SetSmsLimit переписывает sms_usage.limit.
	SetSmsLimit(ctx context.Context, tenantID string, limit domain.Limit) error

	// ResetSmsUsage обнуляет sms_usage.used и фиксирует время сброса.
	ResetSmsUsage(ctx context.Context, tenantID string, at time.Time) error
}

// UsageRepository счетчики использования ресурсов тенанта.
type UsageRepository interface {
	// CountBookingsSince считает неотмененные бронирования, созданные начиная с since.
	CountBookingsSince(ctx context.Context, tenantID string, since time.Time) (int64, error)

	// CountActiveEmployees считает активных сотрудников.
	CountActiveEmployees(ctx context.Context, tenantID string) (int64, error)
}
