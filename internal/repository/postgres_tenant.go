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

// postgresTenantRepo реализует TenantRepository и UsageRepository.
type postgresTenantRepo struct {
	db  *sqlx.DB
	log *logger.Logger
}

// NewPostgresTenantRepository создает репозиторий тенантов.
func NewPostgresTenantRepository(db *sqlx.DB, log *logger.Logger) TenantRepository {
	return &postgresTenantRepo{db: db, log: log}
}

// NewPostgresUsageRepository создает счетчики использования.
func NewPostgresUsageRepository(db *sqlx.DB, log *logger.Logger) UsageRepository {
	return &postgresTenantRepo{db: db, log: log}
}

// GetByID возвращает тенанта.
func (r *postgresTenantRepo) GetByID(ctx context.Context, tenantID string) (*domain.Tenant, error) {
	return r.get(ctx, r.db, tenantID)
}

func (r *postgresTenantRepo) get(ctx context.Context, q sqlx.QueryerContext, tenantID string) (*domain.Tenant, error) {
	var tenant domain.Tenant
	query := r.db.Rebind(`SELECT id, name, is_suspended, suspended_reason, sms_usage, updated_at
        FROM tenants WHERE id = ?`)
	if err := sqlx.GetContext(ctx, q, &tenant, query, tenantID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.NewNotFoundError("tenant", tenantID)
		}
		r.log.Errorw("Failed to get tenant", "error", err, "tenantID", tenantID)
		return nil, fmt.Errorf("repository: failed to get tenant: %w", err)
	}
	return &tenant, nil
}

// Suspend приостанавливает тенанта, только если он еще не приостановлен.
func (r *postgresTenantRepo) Suspend(ctx context.Context, tenantID, reason string) (bool, error) {
	query := r.db.Rebind(`UPDATE tenants
        SET is_suspended = ?, suspended_reason = ?, updated_at = ?
        WHERE id = ? AND is_suspended = ?`)
	return r.execChanged(ctx, "suspend", tenantID, query, true, reason, time.Now().UTC(), tenantID, false)
}

// Unsuspend снимает приостановку.
func (r *postgresTenantRepo) Unsuspend(ctx context.Context, tenantID string) (bool, error) {
	query := r.db.Rebind(`UPDATE tenants
        SET is_suspended = ?, suspended_reason = '', updated_at = ?
        WHERE id = ? AND is_suspended = ?`)
	return r.execChanged(ctx, "unsuspend", tenantID, query, false, time.Now().UTC(), tenantID, true)
}

func (r *postgresTenantRepo) execChanged(ctx context.Context, op, tenantID, query string, args ...interface{}) (bool, error) {
	result, err := r.db.ExecContext(ctx, query, args...)
	if err != nil {
		r.log.Errorw("Failed to update tenant", "error", err, "op", op, "tenantID", tenantID)
		return false, fmt.Errorf("repository: failed to %s tenant: %w", op, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("repository: failed to get rows affected: %w", err)
	}
	if n == 0 {
		// Различаем "уже в нужном состоянии" и "нет такого тенанта".
		if _, err := r.GetByID(ctx, tenantID); err != nil {
			return false, err
		}
		return false, nil
	}
	r.log.Infow("Tenant suspension flag changed", "op", op, "tenantID", tenantID)
	return true, nil
}

// SetSmsLimit переписывает лимит SMS, сохраняя счетчик.
func (r *postgresTenantRepo) SetSmsLimit(ctx context.Context, tenantID string, limit domain.Limit) error {
	return r.updateSmsUsage(ctx, tenantID, func(u *domain.SmsUsage) {
		l := limit
		u.Limit = &l
	})
}

// ResetSmsUsage обнуляет счетчик SMS.
func (r *postgresTenantRepo) ResetSmsUsage(ctx context.Context, tenantID string, at time.Time) error {
	return r.updateSmsUsage(ctx, tenantID, func(u *domain.SmsUsage) {
		u.Used = 0
		u.LastReset = domain.TimePtr(at)
	})
}

// updateSmsUsage read-modify-write документа sms_usage в одной транзакции.
func (r *postgresTenantRepo) updateSmsUsage(ctx context.Context, tenantID string, mutate func(*domain.SmsUsage)) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("repository: failed to begin transaction: %w", err)
	}
	//goland:noinspection GoUnhandledErrorResult
	defer tx.Rollback()

	tenant, err := r.get(ctx, tx, tenantID)
	if err != nil {
		return err
	}
	usage := tenant.SmsUsage
	mutate(&usage)

	query := r.db.Rebind(`UPDATE tenants SET sms_usage = ?, updated_at = ? WHERE id = ?`)
	if _, err := tx.ExecContext(ctx, query, usage, time.Now().UTC(), tenantID); err != nil {
		r.log.Errorw("Failed to update sms usage", "error", err, "tenantID", tenantID)
		return fmt.Errorf("repository: failed to update sms usage: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("repository: failed to commit sms usage: %w", err)
	}
	r.log.Debugw("SMS usage updated", "tenantID", tenantID, "used", usage.Used, "limit", usage.Limit)
	return nil
}

// CountBookingsSince считает бронирования с since, кроме отмененных.
func (r *postgresTenantRepo) CountBookingsSince(ctx context.Context, tenantID string, since time.Time) (int64, error) {
	var n int64
	query := r.db.Rebind(`SELECT COUNT(*) FROM bookings
        WHERE tenant_id = ? AND status <> ? AND created_at >= ?`)
	if err := r.db.GetContext(ctx, &n, query, tenantID, BookingStatusCancelled, since.UTC()); err != nil {
		r.log.Errorw("Failed to count bookings", "error", err, "tenantID", tenantID)
		return 0, fmt.Errorf("repository: failed to count bookings: %w", err)
	}
	return n, nil
}

// CountActiveEmployees считает активных сотрудников.
func (r *postgresTenantRepo) CountActiveEmployees(ctx context.Context, tenantID string) (int64, error) {
	var n int64
	query := r.db.Rebind(`SELECT COUNT(*) FROM employees WHERE tenant_id = ? AND is_active = ?`)
	if err := r.db.GetContext(ctx, &n, query, tenantID, true); err != nil {
		r.log.Errorw("Failed to count employees", "error", err, "tenantID", tenantID)
		return 0, fmt.Errorf("repository: failed to count employees: %w", err)
	}
	return n, nil
}
