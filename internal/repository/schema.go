package repository

import (
	"context"
	"fmt"
	"strings"

	"github.com/jmoiron/sqlx"
)

// BookingStatusCancelled статус отмененного бронирования, не входит в квоту.
const BookingStatusCancelled = "CANCELLED"

// schema таблицы, которые читает и пишет сервис. Диалект общий для PostgreSQL и SQLite.
// Документы features и sms_usage хранятся в TEXT как JSON.
const schema = `
CREATE TABLE IF NOT EXISTS plans (
    id               TEXT PRIMARY KEY,
    slug             TEXT NOT NULL UNIQUE,
    name             TEXT NOT NULL,
    price_monthly    BIGINT NOT NULL DEFAULT 0,
    currency         TEXT NOT NULL DEFAULT 'usd',
    trial_days       INTEGER NOT NULL DEFAULT 0,
    stripe_price_id  TEXT NOT NULL DEFAULT '',
    features         TEXT NOT NULL,
    created_at       TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_plans_stripe_price_id ON plans (stripe_price_id);

CREATE TABLE IF NOT EXISTS tenants (
    id                TEXT PRIMARY KEY,
    name              TEXT NOT NULL DEFAULT '',
    is_suspended      BOOLEAN NOT NULL DEFAULT FALSE,
    suspended_reason  TEXT NOT NULL DEFAULT '',
    sms_usage         TEXT,
    updated_at        TIMESTAMP NOT NULL
);

CREATE TABLE IF NOT EXISTS subscriptions (
    id                        TEXT PRIMARY KEY,
    tenant_id                 TEXT NOT NULL UNIQUE,
    plan_id                   TEXT NOT NULL,
    previous_plan_id          TEXT NOT NULL DEFAULT '',
    status                    TEXT NOT NULL,
    stripe_customer_id        TEXT NOT NULL DEFAULT '',
    stripe_subscription_id    TEXT NOT NULL DEFAULT '',
    stripe_payment_method_id  TEXT NOT NULL DEFAULT '',
    current_period_start      TIMESTAMP,
    current_period_end        TIMESTAMP,
    trial_start               TIMESTAMP,
    trial_end                 TIMESTAMP,
    cancel_at_period_end      BOOLEAN NOT NULL DEFAULT FALSE,
    canceled_at               TIMESTAMP,
    resumed_at                TIMESTAMP,
    last_payment_status       TEXT NOT NULL DEFAULT '',
    last_payment_error        TEXT NOT NULL DEFAULT '',
    usage_period_end          TIMESTAMP,
    version                   BIGINT NOT NULL DEFAULT 1,
    created_at                TIMESTAMP NOT NULL,
    updated_at                TIMESTAMP NOT NULL,
    CHECK (status IN ('INCOMPLETE', 'TRIALING', 'ACTIVE', 'PAST_DUE', 'CANCELLED'))
);

CREATE INDEX IF NOT EXISTS idx_subscriptions_stripe_subscription_id ON subscriptions (stripe_subscription_id);
CREATE INDEX IF NOT EXISTS idx_subscriptions_stripe_customer_id ON subscriptions (stripe_customer_id);

CREATE TABLE IF NOT EXISTS employees (
    id         TEXT PRIMARY KEY,
    tenant_id  TEXT NOT NULL,
    is_active  BOOLEAN NOT NULL DEFAULT TRUE
);

CREATE TABLE IF NOT EXISTS bookings (
    id          TEXT PRIMARY KEY,
    tenant_id   TEXT NOT NULL,
    status      TEXT NOT NULL,
    created_at  TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_bookings_tenant_created ON bookings (tenant_id, created_at);
`

// Migrate создает таблицы, если их нет.
func Migrate(ctx context.Context, db *sqlx.DB) error {
	for _, stmt := range strings.Split(schema, ";") {
		stmt = strings.TrimSpace(stmt)
		if stmt == "" {
			continue
		}
		if _, err := db.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("repository: migrate: %w", err)
		}
	}
	return nil
}
