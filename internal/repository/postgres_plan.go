package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
	"github.com/jmoiron/sqlx"
)

const planColumns = `id, slug, name, price_monthly, currency, trial_days, stripe_price_id, features, created_at`

type postgresPlanRepo struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewPostgresPlanRepository создает каталог планов поверх sqlx.
func NewPostgresPlanRepository(db *sqlx.DB, log *logger.Logger) PlanRepository {
	return &postgresPlanRepo{db: db, log: log}
}

// Create добавляет план в каталог.
func (r *postgresPlanRepo) Create(ctx context.Context, plan *domain.Plan) error {
	if plan.ID == "" || plan.Name == "" {
		return fmt.Errorf("%w: plan id and name are required", ErrInvalidData)
	}
	if plan.Slug == "" {
		plan.Slug = plan.ID
	}
	if plan.Currency == "" {
		plan.Currency = "usd"
	}
	if plan.CreatedAt.IsZero() {
		plan.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO plans (` + planColumns + `)
        VALUES (:id, :slug, :name, :price_monthly, :currency, :trial_days, :stripe_price_id, :features, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, plan); err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: plan %s", ErrDuplicate, plan.ID)
		}
		r.log.Errorw("Failed to create plan", "error", err, "planID", plan.ID)
		return fmt.Errorf("repository: failed to create plan: %w", err)
	}
	return nil
}

// GetByID возвращает план по ID.
func (r *postgresPlanRepo) GetByID(ctx context.Context, planID string) (*domain.Plan, error) {
	return r.getOne(ctx, "id", planID)
}

// GetByStripePriceID возвращает план по Stripe Price ID.
func (r *postgresPlanRepo) GetByStripePriceID(ctx context.Context, priceID string) (*domain.Plan, error) {
	if priceID == "" {
		return nil, ErrNotFound
	}
	return r.getOne(ctx, "stripe_price_id", priceID)
}

// List возвращает все планы в порядке отображения.
func (r *postgresPlanRepo) List(ctx context.Context) ([]domain.Plan, error) {
	var plans []domain.Plan
	query := `SELECT ` + planColumns + ` FROM plans ORDER BY price_monthly, id`
	if err := r.db.SelectContext(ctx, &plans, query); err != nil {
		r.log.Errorw("Failed to list plans", "error", err)
		return nil, fmt.Errorf("repository: failed to list plans: %w", err)
	}
	return plans, nil
}

func (r *postgresPlanRepo) getOne(ctx context.Context, column, value string) (*domain.Plan, error) {
	var plan domain.Plan
	query := r.db.Rebind(`SELECT ` + planColumns + ` FROM plans WHERE ` + column + ` = ? LIMIT 1`)
	if err := r.db.GetContext(ctx, &plan, query, value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		r.log.Errorw("Failed to get plan", "error", err, "by", column, "value", value)
		return nil, fmt.Errorf("repository: failed to get plan by %s: %w", column, err)
	}
	return &plan, nil
}
