package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
)

const subscriptionColumns = `
        id, tenant_id, plan_id, previous_plan_id, status,
        stripe_customer_id, stripe_subscription_id, stripe_payment_method_id,
        current_period_start, current_period_end, trial_start, trial_end,
        cancel_at_period_end, canceled_at, resumed_at,
        last_payment_status, last_payment_error, usage_period_end, version, created_at, updated_at`

const insertSubscriptionQuery = `
        INSERT INTO subscriptions (` + subscriptionColumns + `
        ) VALUES (
            :id, :tenant_id, :plan_id, :previous_plan_id, :status,
            :stripe_customer_id, :stripe_subscription_id, :stripe_payment_method_id,
            :current_period_start, :current_period_end, :trial_start, :trial_end,
            :cancel_at_period_end, :canceled_at, :resumed_at,
            :last_payment_status, :last_payment_error, :usage_period_end, :version, :created_at, :updated_at
        )`

// postgresSubscriptionRepo реализует SubscriptionRepository поверх sqlx.
type postgresSubscriptionRepo struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewPostgresSubscriptionRepository создает новый экземпляр репозитория.
func NewPostgresSubscriptionRepository(db *sqlx.DB, log *logger.Logger) SubscriptionRepository {
	return &postgresSubscriptionRepo{
		db:  db,
		log: log,
	}
}

func prepareForInsert(sub *domain.Subscription) {
	if sub.ID == uuid.Nil {
		sub.ID = uuid.New()
	}
	now := time.Now().UTC()
	if sub.CreatedAt.IsZero() {
		sub.CreatedAt = now
	}
	sub.UpdatedAt = now
	sub.Version = 1
}

// Create сохраняет новую подписку в базе данных.
func (r *postgresSubscriptionRepo) Create(ctx context.Context, sub *domain.Subscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	prepareForInsert(sub)

	if _, err := r.db.NamedExecContext(ctx, insertSubscriptionQuery, sub); err != nil {
		if isUniqueViolation(err) {
			r.log.Warnw("Subscription already exists for tenant", "tenantID", sub.TenantID)
			return fmt.Errorf("%w: subscription for tenant %s", ErrDuplicate, sub.TenantID)
		}
		r.log.Errorw("Failed to create subscription in DB", "error", err, "tenantID", sub.TenantID)
		return fmt.Errorf("repository: failed to create subscription: %w", err)
	}

	r.log.Debugw("Successfully created subscription in DB", "subscriptionID", sub.ID, "tenantID", sub.TenantID)
	return nil
}

// Upsert вставляет подписку или перезаписывает существующую запись тенанта.
// После записи структура перечитывается, чтобы получить актуальные id и version.
func (r *postgresSubscriptionRepo) Upsert(ctx context.Context, sub *domain.Subscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	prepareForInsert(sub)

	query := insertSubscriptionQuery + `
        ON CONFLICT (tenant_id) DO UPDATE SET
            plan_id = excluded.plan_id,
            previous_plan_id = excluded.previous_plan_id,
            status = excluded.status,
            stripe_customer_id = excluded.stripe_customer_id,
            stripe_subscription_id = excluded.stripe_subscription_id,
            stripe_payment_method_id = excluded.stripe_payment_method_id,
            current_period_start = excluded.current_period_start,
            current_period_end = excluded.current_period_end,
            trial_start = excluded.trial_start,
            trial_end = excluded.trial_end,
            cancel_at_period_end = excluded.cancel_at_period_end,
            canceled_at = excluded.canceled_at,
            resumed_at = excluded.resumed_at,
            last_payment_status = excluded.last_payment_status,
            last_payment_error = excluded.last_payment_error,
            usage_period_end = excluded.usage_period_end,
            version = subscriptions.version + 1,
            updated_at = excluded.updated_at`

	if _, err := r.db.NamedExecContext(ctx, query, sub); err != nil {
		r.log.Errorw("Failed to upsert subscription in DB", "error", err, "tenantID", sub.TenantID)
		return fmt.Errorf("repository: failed to upsert subscription: %w", err)
	}

	stored, err := r.GetByTenantID(ctx, sub.TenantID)
	if err != nil {
		return err
	}
	*sub = *stored

	r.log.Debugw("Successfully upserted subscription in DB", "subscriptionID", sub.ID, "tenantID", sub.TenantID, "version", sub.Version)
	return nil
}

// Update обновляет подписку, если version в базе совпадает с sub.Version.
// При успехе sub.Version увеличивается.
func (r *postgresSubscriptionRepo) Update(ctx context.Context, sub *domain.Subscription) error {
	if err := sub.Validate(); err != nil {
		return err
	}
	sub.UpdatedAt = time.Now().UTC()

	query := `
        UPDATE subscriptions SET
            plan_id = :plan_id,
            previous_plan_id = :previous_plan_id,
            status = :status,
            stripe_customer_id = :stripe_customer_id,
            stripe_subscription_id = :stripe_subscription_id,
            stripe_payment_method_id = :stripe_payment_method_id,
            current_period_start = :current_period_start,
            current_period_end = :current_period_end,
            trial_start = :trial_start,
            trial_end = :trial_end,
            cancel_at_period_end = :cancel_at_period_end,
            canceled_at = :canceled_at,
            resumed_at = :resumed_at,
            last_payment_status = :last_payment_status,
            last_payment_error = :last_payment_error,
            usage_period_end = :usage_period_end,
            version = version + 1,
            updated_at = :updated_at
        WHERE tenant_id = :tenant_id AND version = :version`

	result, err := r.db.NamedExecContext(ctx, query, sub)
	if err != nil {
		r.log.Errorw("Failed to update subscription in DB", "error", err, "tenantID", sub.TenantID)
		return fmt.Errorf("repository: failed to update subscription: %w", err)
	}

	rowsAffected, err := result.RowsAffected()
	if err != nil {
		r.log.Errorw("Failed to get rows affected after update", "error", err, "tenantID", sub.TenantID)
		return fmt.Errorf("repository: failed to get rows affected: %w", err)
	}
	if rowsAffected == 0 {
		// Либо записи нет, либо ее уже обновил кто-то другой.
		if _, getErr := r.GetByTenantID(ctx, sub.TenantID); getErr != nil {
			return getErr
		}
		r.log.Warnw("Subscription update lost optimistic race", "tenantID", sub.TenantID, "version", sub.Version)
		return fmt.Errorf("%w: tenant %s version %d", ErrVersionConflict, sub.TenantID, sub.Version)
	}

	sub.Version++
	r.log.Debugw("Successfully updated subscription in DB", "tenantID", sub.TenantID, "version", sub.Version)
	return nil
}

// GetByTenantID возвращает подписку тенанта.
func (r *postgresSubscriptionRepo) GetByTenantID(ctx context.Context, tenantID string) (*domain.Subscription, error) {
	return r.getOne(ctx, "tenant_id", tenantID)
}

// GetByStripeSubscriptionID возвращает подписку по ее Stripe ID.
func (r *postgresSubscriptionRepo) GetByStripeSubscriptionID(ctx context.Context, stripeSubscriptionID string) (*domain.Subscription, error) {
	if stripeSubscriptionID == "" {
		return nil, ErrNotFound
	}
	return r.getOne(ctx, "stripe_subscription_id", stripeSubscriptionID)
}

// GetByStripeCustomerID возвращает подписку по Stripe Customer ID.
func (r *postgresSubscriptionRepo) GetByStripeCustomerID(ctx context.Context, stripeCustomerID string) (*domain.Subscription, error) {
	if stripeCustomerID == "" {
		return nil, ErrNotFound
	}
	return r.getOne(ctx, "stripe_customer_id", stripeCustomerID)
}

// getOne выбирает одну запись по колонке. column передается только из кода пакета.
func (r *postgresSubscriptionRepo) getOne(ctx context.Context, column, value string) (*domain.Subscription, error) {
	var sub domain.Subscription
	query := r.db.Rebind(`SELECT ` + subscriptionColumns + `
        FROM subscriptions
        WHERE ` + column + ` = ?
        ORDER BY updated_at DESC
        LIMIT 1`)

	if err := r.db.GetContext(ctx, &sub, query, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			r.log.Debugw("Subscription not found", "by", column, "value", value)
			return nil, ErrNotFound
		}
		r.log.Errorw("Failed to get subscription from DB", "error", err, "by", column, "value", value)
		return nil, fmt.Errorf("repository: failed to get subscription by %s: %w", column, err)
	}

	return &sub, nil
}
