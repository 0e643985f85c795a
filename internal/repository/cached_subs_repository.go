package repository

import (
	"context"
	"errors"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// CachedSubscriptionRepository реализует SubscriptionRepository с кешированием по тенанту.
// Поиск по Stripe идентификаторам идет напрямую в хранилище.
type CachedSubscriptionRepository struct {
	repo  SubscriptionRepository
	cache *RedisCacheRepository
	log   *logger.Logger
}

// NewCachedSubscriptionRepository создает новый репозиторий с кешированием
func NewCachedSubscriptionRepository(
	repo SubscriptionRepository,
	cache *RedisCacheRepository,
	log *logger.Logger,
) SubscriptionRepository {
	return &CachedSubscriptionRepository{
		repo:  repo,
		cache: cache,
		log:   log,
	}
}

// Create сохраняет подписку в БД и кеширует ее
func (r *CachedSubscriptionRepository) Create(ctx context.Context, sub *domain.Subscription) error {
	if err := r.repo.Create(ctx, sub); err != nil {
		return err
	}
	r.store(ctx, sub)
	return nil
}

// Upsert записывает подписку и обновляет кеш
func (r *CachedSubscriptionRepository) Upsert(ctx context.Context, sub *domain.Subscription) error {
	if err := r.repo.Upsert(ctx, sub); err != nil {
		r.invalidate(ctx, sub.TenantID)
		return err
	}
	r.store(ctx, sub)
	return nil
}

// Update обновляет подписку в БД и кеше. При конфликте версий кеш сбрасывается.
func (r *CachedSubscriptionRepository) Update(ctx context.Context, sub *domain.Subscription) error {
	if err := r.repo.Update(ctx, sub); err != nil {
		if errors.Is(err, ErrVersionConflict) {
			r.invalidate(ctx, sub.TenantID)
		}
		return err
	}
	r.store(ctx, sub)
	return nil
}

// GetByTenantID получает подписку из кеша, потом из БД
func (r *CachedSubscriptionRepository) GetByTenantID(ctx context.Context, tenantID string) (*domain.Subscription, error) {
	cachedSub, err := r.cache.GetCachedSubscription(ctx, tenantID)
	if err != nil {
		r.log.Warnw("Error getting subscription from cache", "error", err, "tenantID", tenantID)
	}
	if cachedSub != nil {
		r.log.Debugw("Subscription found in cache", "tenantID", tenantID)
		return cachedSub, nil
	}

	sub, err := r.repo.GetByTenantID(ctx, tenantID)
	if err != nil {
		return nil, err
	}
	r.store(ctx, sub)
	return sub, nil
}

// GetByStripeSubscriptionID прокси к хранилищу
func (r *CachedSubscriptionRepository) GetByStripeSubscriptionID(ctx context.Context, stripeSubscriptionID string) (*domain.Subscription, error) {
	return r.repo.GetByStripeSubscriptionID(ctx, stripeSubscriptionID)
}

// GetByStripeCustomerID прокси к хранилищу
func (r *CachedSubscriptionRepository) GetByStripeCustomerID(ctx context.Context, stripeCustomerID string) (*domain.Subscription, error) {
	return r.repo.GetByStripeCustomerID(ctx, stripeCustomerID)
}

func (r *CachedSubscriptionRepository) store(ctx context.Context, sub *domain.Subscription) {
	if err := r.cache.CacheSubscription(ctx, sub); err != nil {
		r.log.Warnw("Failed to cache subscription", "error", err, "tenantID", sub.TenantID)
	}
}

func (r *CachedSubscriptionRepository) invalidate(ctx context.Context, tenantID string) {
	if err := r.cache.DeleteCachedSubscription(ctx, tenantID); err != nil {
		r.log.Warnw("Failed to invalidate cached subscription", "error", err, "tenantID", tenantID)
	}
}
