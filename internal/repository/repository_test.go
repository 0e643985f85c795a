package repository

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"
)

// newTestDB открывает временную SQLite базу со схемой сервиса.
func newTestDB(t *testing.T) *sqlx.DB {
	t.Helper()
	dsn := filepath.Join(t.TempDir(), "billing.db") + "?_time_format=sqlite"
	db, err := sqlx.Open("sqlite", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })

	require.NoError(t, Migrate(context.Background(), db))
	// Повторная миграция безопасна.
	require.NoError(t, Migrate(context.Background(), db))
	return db
}

func insertTenant(t *testing.T, db *sqlx.DB, id string) {
	t.Helper()
	_, err := db.Exec(`INSERT INTO tenants (id, name, updated_at) VALUES (?, ?, ?)`, id, "Tenant "+id, time.Now().UTC())
	require.NoError(t, err)
}

func testSubscription(tenantID string) *domain.Subscription {
	end := time.Date(2025, 4, 1, 0, 0, 0, 0, time.UTC)
	return &domain.Subscription{
		TenantID:             tenantID,
		PlanID:               "basic",
		Status:               domain.SubscriptionStatusActive,
		StripeCustomerID:     "cus_" + tenantID,
		StripeSubscriptionID: "sub_" + tenantID,
		CurrentPeriodEnd:     &end,
	}
}

func TestSubscriptionRepository_CreateAndLookups(t *testing.T) {
	repo := NewPostgresSubscriptionRepository(newTestDB(t), logger.NewNop())
	ctx := context.Background()

	sub := testSubscription("t1")
	require.NoError(t, repo.Create(ctx, sub))
	assert.Equal(t, int64(1), sub.Version)

	got, err := repo.GetByTenantID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, sub.ID, got.ID)
	assert.Equal(t, domain.SubscriptionStatusActive, got.Status)
	require.NotNil(t, got.CurrentPeriodEnd)
	assert.True(t, sub.CurrentPeriodEnd.Equal(*got.CurrentPeriodEnd))
	assert.Nil(t, got.TrialEnd)

	got, err = repo.GetByStripeSubscriptionID(ctx, "sub_t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.TenantID)

	got, err = repo.GetByStripeCustomerID(ctx, "cus_t1")
	require.NoError(t, err)
	assert.Equal(t, "t1", got.TenantID)

	_, err = repo.GetByTenantID(ctx, "t2")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.GetByStripeSubscriptionID(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Error(t, repo.Create(ctx, testSubscription("t1")), "one subscription per tenant")
}

func TestSubscriptionRepository_RejectsInvalidRecord(t *testing.T) {
	repo := NewPostgresSubscriptionRepository(newTestDB(t), logger.NewNop())

	sub := testSubscription("t1")
	sub.Status = "UNPAID"
	assert.ErrorIs(t, repo.Create(context.Background(), sub), domain.ErrInvalidStatus)

	sub = testSubscription("t1")
	sub.PlanID = ""
	assert.ErrorIs(t, repo.Create(context.Background(), sub), domain.ErrInvalidInput)
}

func TestSubscriptionRepository_UpdateChecksVersion(t *testing.T) {
	repo := NewPostgresSubscriptionRepository(newTestDB(t), logger.NewNop())
	ctx := context.Background()
	require.NoError(t, repo.Create(ctx, testSubscription("t1")))

	first, err := repo.GetByTenantID(ctx, "t1")
	require.NoError(t, err)
	second, err := repo.GetByTenantID(ctx, "t1")
	require.NoError(t, err)

	first.Status = domain.SubscriptionStatusPastDue
	first.LastPaymentError = "Your card was declined."
	anchor := time.Date(2025, 5, 1, 0, 0, 0, 0, time.UTC)
	first.UsagePeriodEnd = &anchor
	require.NoError(t, repo.Update(ctx, first))
	assert.Equal(t, int64(2), first.Version)

	second.PlanID = "pro"
	err = repo.Update(ctx, second)
	assert.ErrorIs(t, err, ErrVersionConflict)

	stored, err := repo.GetByTenantID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusPastDue, stored.Status)
	assert.Equal(t, "basic", stored.PlanID)
	assert.Equal(t, int64(2), stored.Version)
	require.NotNil(t, stored.UsagePeriodEnd)
	assert.True(t, anchor.Equal(*stored.UsagePeriodEnd))

	missing := testSubscription("t9")
	missing.Version = 1
	assert.ErrorIs(t, repo.Update(ctx, missing), ErrNotFound)
}

func TestSubscriptionRepository_Upsert(t *testing.T) {
	repo := NewPostgresSubscriptionRepository(newTestDB(t), logger.NewNop())
	ctx := context.Background()

	sub := testSubscription("t1")
	require.NoError(t, repo.Upsert(ctx, sub))
	id := sub.ID
	assert.Equal(t, int64(1), sub.Version)

	replacement := testSubscription("t1")
	replacement.Status = domain.SubscriptionStatusTrialing
	replacement.StripeSubscriptionID = "sub_new"
	require.NoError(t, repo.Upsert(ctx, replacement))
	assert.Equal(t, id, replacement.ID)
	assert.Equal(t, int64(2), replacement.Version)

	stored, err := repo.GetByStripeSubscriptionID(ctx, "sub_new")
	require.NoError(t, err)
	assert.Equal(t, domain.SubscriptionStatusTrialing, stored.Status)
}

func TestPlanRepository(t *testing.T) {
	repo := NewPostgresPlanRepository(newTestDB(t), logger.NewNop())
	ctx := context.Background()

	pro := &domain.Plan{
		ID:            "pro",
		Name:          "Pro",
		PriceMonthly:  4900,
		TrialDays:     14,
		StripePriceID: "price_pro",
		Features:      domain.PlanFeatures{Bookings: domain.Unlimited, Employees: domain.LimitOf(10), SMS: domain.LimitOf(500), Tier: 2},
	}
	basic := &domain.Plan{
		ID:            "basic",
		Name:          "Basic",
		PriceMonthly:  1900,
		StripePriceID: "price_basic",
		Features:      domain.PlanFeatures{Bookings: domain.LimitOf(100), Employees: domain.LimitOf(2), SMS: domain.LimitOf(50)},
	}
	require.NoError(t, repo.Create(ctx, pro))
	require.NoError(t, repo.Create(ctx, basic))
	assert.Equal(t, "pro", pro.Slug)
	assert.Equal(t, "usd", pro.Currency)

	got, err := repo.GetByID(ctx, "pro")
	require.NoError(t, err)
	assert.True(t, got.Features.Bookings.IsUnlimited())
	assert.Equal(t, pro.Features, got.Features)
	assert.Equal(t, 14, got.TrialDays)

	got, err = repo.GetByStripePriceID(ctx, "price_basic")
	require.NoError(t, err)
	assert.Equal(t, "basic", got.ID)

	_, err = repo.GetByID(ctx, "gold")
	assert.ErrorIs(t, err, ErrNotFound)
	_, err = repo.GetByStripePriceID(ctx, "")
	assert.ErrorIs(t, err, ErrNotFound)

	plans, err := repo.List(ctx)
	require.NoError(t, err)
	require.Len(t, plans, 2)
	assert.Equal(t, "basic", plans[0].ID)
	assert.Equal(t, "pro", plans[1].ID)

	assert.ErrorIs(t, repo.Create(ctx, &domain.Plan{ID: "x"}), ErrInvalidData)
}

func TestTenantRepository_SuspendIsIdempotent(t *testing.T) {
	db := newTestDB(t)
	insertTenant(t, db, "t1")
	repo := NewPostgresTenantRepository(db, logger.NewNop())
	ctx := context.Background()

	changed, err := repo.Suspend(ctx, "t1", domain.SuspendReasonGraceExpired)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.Suspend(ctx, "t1", domain.SuspendReasonCancelled)
	require.NoError(t, err)
	assert.False(t, changed)

	tenant, err := repo.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, tenant.IsSuspended)
	assert.Equal(t, domain.SuspendReasonGraceExpired, tenant.SuspendedReason)

	changed, err = repo.Unsuspend(ctx, "t1")
	require.NoError(t, err)
	assert.True(t, changed)
	changed, err = repo.Unsuspend(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, changed)

	tenant, err = repo.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.False(t, tenant.IsSuspended)
	assert.Empty(t, tenant.SuspendedReason)

	_, err = repo.Suspend(ctx, "ghost", domain.SuspendReasonCancelled)
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestTenantRepository_SmsUsage(t *testing.T) {
	db := newTestDB(t)
	insertTenant(t, db, "t1")
	repo := NewPostgresTenantRepository(db, logger.NewNop())
	ctx := context.Background()

	tenant, err := repo.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Nil(t, tenant.SmsUsage.Limit)

	_, err = db.Exec(`UPDATE tenants SET sms_usage = ? WHERE id = ?`, `{"used":42}`, "t1")
	require.NoError(t, err)

	require.NoError(t, repo.SetSmsLimit(ctx, "t1", domain.LimitOf(500)))
	tenant, err = repo.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(42), tenant.SmsUsage.Used)
	require.NotNil(t, tenant.SmsUsage.Limit)
	assert.Equal(t, domain.LimitOf(500), *tenant.SmsUsage.Limit)

	at := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)
	require.NoError(t, repo.ResetSmsUsage(ctx, "t1", at))
	tenant, err = repo.GetByID(ctx, "t1")
	require.NoError(t, err)
	assert.Zero(t, tenant.SmsUsage.Used)
	assert.Equal(t, domain.LimitOf(500), *tenant.SmsUsage.Limit)
	require.NotNil(t, tenant.SmsUsage.LastReset)
	assert.True(t, at.Equal(*tenant.SmsUsage.LastReset))

	assert.ErrorIs(t, repo.SetSmsLimit(ctx, "ghost", domain.Unlimited), ErrNotFound)
}

func TestUsageRepository_Counts(t *testing.T) {
	db := newTestDB(t)
	repo := NewPostgresUsageRepository(db, logger.NewNop())
	ctx := context.Background()
	monthStart := time.Date(2025, 3, 1, 0, 0, 0, 0, time.UTC)

	bookings := []struct {
		id, tenant, status string
		at                 time.Time
	}{
		{"b1", "t1", "CONFIRMED", monthStart.Add(time.Hour)},
		{"b2", "t1", "PENDING", monthStart.Add(48 * time.Hour)},
		{"b3", "t1", BookingStatusCancelled, monthStart.Add(time.Hour)},
		{"b4", "t1", "CONFIRMED", monthStart.Add(-time.Hour)},
		{"b5", "t2", "CONFIRMED", monthStart.Add(time.Hour)},
	}
	for _, b := range bookings {
		_, err := db.Exec(`INSERT INTO bookings (id, tenant_id, status, created_at) VALUES (?, ?, ?, ?)`, b.id, b.tenant, b.status, b.at)
		require.NoError(t, err)
	}
	for i, active := range []bool{true, true, false} {
		_, err := db.Exec(`INSERT INTO employees (id, tenant_id, is_active) VALUES (?, ?, ?)`, "e"+string(rune('0'+i)), "t1", active)
		require.NoError(t, err)
	}

	n, err := repo.CountBookingsSince(ctx, "t1", monthStart)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = repo.CountActiveEmployees(ctx, "t1")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	n, err = repo.CountActiveEmployees(ctx, "t2")
	require.NoError(t, err)
	assert.Zero(t, n)
}
