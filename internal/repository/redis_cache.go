package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
	"github.com/redis/go-redis/v9"
)

const (
	// Префикс ключей подписок по тенанту
	tenantSubscriptionKeyPrefix = "billing:subscription:tenant:"

	// TTL для кэша
	defaultCacheTTL = 15 * time.Minute
)

// RedisCacheRepository кеширует подписки тенантов в Redis.
type RedisCacheRepository struct {
	client *redis.Client
	ttl    time.Duration
	log    *logger.Logger
}

// NewRedisClient подключается к Redis и проверяет соединение.
func NewRedisClient(addr, password string, db int, log *logger.Logger) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     addr,
		Password: password,
		DB:       db,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := client.Ping(ctx).Err(); err != nil {
		log.Errorw("Failed to connect to Redis", "error", err)
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to Redis: %w", err)
	}

	log.Infow("Connected to Redis successfully", "addr", addr)
	return client, nil
}

// NewRedisCacheRepository создает кеш поверх готового клиента. ttl <= 0 дает значение по умолчанию.
func NewRedisCacheRepository(client *redis.Client, ttl time.Duration, log *logger.Logger) *RedisCacheRepository {
	if ttl <= 0 {
		ttl = defaultCacheTTL
	}
	return &RedisCacheRepository{
		client: client,
		ttl:    ttl,
		log:    log,
	}
}

// Close закрывает соединение с Redis
func (r *RedisCacheRepository) Close() error {
	return r.client.Close()
}

func tenantKey(tenantID string) string {
	return tenantSubscriptionKeyPrefix + tenantID
}

// CacheSubscription кеширует подписку в Redis
func (r *RedisCacheRepository) CacheSubscription(ctx context.Context, sub *domain.Subscription) error {
	data, err := json.Marshal(sub)
	if err != nil {
		return fmt.Errorf("failed to marshal subscription: %w", err)
	}

	if err := r.client.Set(ctx, tenantKey(sub.TenantID), data, r.ttl).Err(); err != nil {
		r.log.Errorw("Failed to cache subscription in Redis", "error", err, "tenantID", sub.TenantID)
		return fmt.Errorf("failed to cache subscription: %w", err)
	}

	r.log.Debugw("Subscription cached successfully", "tenantID", sub.TenantID, "version", sub.Version)
	return nil
}

// GetCachedSubscription получает подписку из кеша. Промах дает (nil, nil).
func (r *RedisCacheRepository) GetCachedSubscription(ctx context.Context, tenantID string) (*domain.Subscription, error) {
	data, err := r.client.Get(ctx, tenantKey(tenantID)).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, nil
		}
		r.log.Errorw("Error getting subscription from Redis", "error", err, "tenantID", tenantID)
		return nil, fmt.Errorf("failed to get subscription from cache: %w", err)
	}

	var sub domain.Subscription
	if err := json.Unmarshal(data, &sub); err != nil {
		r.log.Errorw("Failed to unmarshal cached subscription", "error", err, "tenantID", tenantID)
		return nil, fmt.Errorf("failed to unmarshal cached subscription: %w", err)
	}

	return &sub, nil
}

// DeleteCachedSubscription удаляет подписку из кеша
func (r *RedisCacheRepository) DeleteCachedSubscription(ctx context.Context, tenantID string) error {
	if err := r.client.Del(ctx, tenantKey(tenantID)).Err(); err != nil {
		r.log.Errorw("Failed to delete subscription from cache", "error", err, "tenantID", tenantID)
		return fmt.Errorf("failed to delete subscription from cache: %w", err)
	}
	return nil
}
