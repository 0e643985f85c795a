package billing

import (
	"context"
	"errors"
	"fmt"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/internal/repository"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
)

// LookupKeys идентификаторы из события, по которым ищется подписка.
type LookupKeys struct {
	SubscriptionID string
	CustomerID     string
	TenantID       string
}

// Lookup strategy names, reported in logs.
const (
	LookupBySubscriptionID = "by_subscription_id"
	LookupByCustomerID     = "by_customer_id"
	LookupByTenantMetadata = "by_tenant_metadata"
)

type lookupStrategy struct {
	name string
	find func(ctx context.Context, keys LookupKeys) (*domain.Subscription, error)
}

// SubscriptionResolver перебирает стратегии поиска по порядку, пропуская
// стратегии с пустым ключом. Первая найденная запись побеждает.
type SubscriptionResolver struct {
	strategies []lookupStrategy
	log        *logger.Logger
}

// NewSubscriptionResolver собирает цепочку: Stripe subscription id, Stripe customer id, tenant id из metadata.
func NewSubscriptionResolver(subs repository.SubscriptionRepository, log *logger.Logger) *SubscriptionResolver {
	return &SubscriptionResolver{
		log: log,
		strategies: []lookupStrategy{
			{
				name: LookupBySubscriptionID,
				find: func(ctx context.Context, keys LookupKeys) (*domain.Subscription, error) {
					if keys.SubscriptionID == "" {
						return nil, nil
					}
					return subs.GetByStripeSubscriptionID(ctx, keys.SubscriptionID)
				},
			},
			{
				name: LookupByCustomerID,
				find: func(ctx context.Context, keys LookupKeys) (*domain.Subscription, error) {
					if keys.CustomerID == "" {
						return nil, nil
					}
					return subs.GetByStripeCustomerID(ctx, keys.CustomerID)
				},
			},
			{
				name: LookupByTenantMetadata,
				find: func(ctx context.Context, keys LookupKeys) (*domain.Subscription, error) {
					if keys.TenantID == "" {
						return nil, nil
					}
					return subs.GetByTenantID(ctx, keys.TenantID)
				},
			},
		},
	}
}

// Resolve возвращает подписку и имя сработавшей стратегии.
// Если ни одна стратегия не нашла запись, возвращается domain.ErrUnresolvable.
func (r *SubscriptionResolver) Resolve(ctx context.Context, keys LookupKeys) (*domain.Subscription, string, error) {
	for _, strategy := range r.strategies {
		sub, err := strategy.find(ctx, keys)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, "", fmt.Errorf("billing: lookup %s: %w", strategy.name, err)
		}
		if sub != nil {
			r.log.Debugw("Subscription resolved", "strategy", strategy.name, "tenantID", sub.TenantID)
			return sub, strategy.name, nil
		}
	}
	return nil, "", fmt.Errorf("%w: subscription=%q customer=%q tenant=%q",
		domain.ErrUnresolvable, keys.SubscriptionID, keys.CustomerID, keys.TenantID)
}
