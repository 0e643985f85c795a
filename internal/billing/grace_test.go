package billing

import (
	"testing"
	"time"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var graceNow = time.Date(2025, 3, 15, 12, 0, 0, 0, time.UTC)

func ago(d time.Duration) *time.Time { return domain.TimePtr(graceNow.Add(-d)) }

func ahead(d time.Duration) *time.Time { return domain.TimePtr(graceNow.Add(d)) }

func TestEvaluateGrace_ActiveNotExpired(t *testing.T) {
	res := EvaluateGrace(GraceInput{
		Status:           domain.SubscriptionStatusActive,
		CurrentPeriodEnd: ahead(10 * day),
		Now:              graceNow,
	})

	assert.Nil(t, res.DaysUntilBlock)
	assert.Nil(t, res.DaysSinceExpired)
	assert.False(t, res.ShouldSuspend)
	assert.False(t, res.IsSubscriptionExpired)
	require.NotNil(t, res.DaysUntilPeriodEnd)
	assert.Equal(t, 10, *res.DaysUntilPeriodEnd)
}

func TestEvaluateGrace_ExpiredTrial(t *testing.T) {
	// Пробный период закончился 2 дня назад: остался 1 день.
	res := EvaluateGrace(GraceInput{
		Status:   domain.SubscriptionStatusTrialing,
		TrialEnd: ago(2 * day),
		Now:      graceNow,
	})
	require.NotNil(t, res.DaysUntilBlock)
	assert.Equal(t, 1, *res.DaysUntilBlock)
	assert.Equal(t, 2, *res.DaysSinceExpired)
	assert.False(t, res.ShouldSuspend)

	res = EvaluateGrace(GraceInput{
		Status:   domain.SubscriptionStatusTrialing,
		TrialEnd: ago(3 * day),
		Now:      graceNow,
	})
	assert.Equal(t, 0, *res.DaysUntilBlock)
	assert.True(t, res.ShouldSuspend)
	assert.True(t, res.NeedsSuspension)
}

func TestEvaluateGrace_SuspendedTenantNeedsNothing(t *testing.T) {
	res := EvaluateGrace(GraceInput{
		Status:      domain.SubscriptionStatusTrialing,
		TrialEnd:    ago(5 * day),
		IsSuspended: true,
		Now:         graceNow,
	})
	assert.True(t, res.ShouldSuspend)
	assert.False(t, res.NeedsSuspension)
}

func TestEvaluateGrace_PastDueBeforePeriodEnd(t *testing.T) {
	res := EvaluateGrace(GraceInput{
		Status:           domain.SubscriptionStatusPastDue,
		CurrentPeriodEnd: ahead(12 * time.Hour),
		Now:              graceNow,
	})
	require.NotNil(t, res.DaysUntilBlock)
	assert.Equal(t, GracePeriodDays, *res.DaysUntilBlock)
	assert.False(t, res.ShouldSuspend)

	// Блокировка не бывает дальше окна отсрочки, даже если период закончится нескоро.
	res = EvaluateGrace(GraceInput{
		Status:           domain.SubscriptionStatusPastDue,
		CurrentPeriodEnd: ahead(10 * day),
		Now:              graceNow,
	})
	require.NotNil(t, res.DaysSinceExpired)
	assert.Equal(t, -10, *res.DaysSinceExpired)
	assert.Equal(t, GracePeriodDays, *res.DaysUntilBlock)
	assert.False(t, res.ShouldSuspend)
}

func TestEvaluateGrace_BoundaryIsExact(t *testing.T) {
	in := GraceInput{Status: domain.SubscriptionStatusPastDue, Now: graceNow}

	in.CurrentPeriodEnd = ago(3*day - time.Minute)
	res := EvaluateGrace(in)
	assert.Equal(t, 1, *res.DaysUntilBlock)
	assert.False(t, res.ShouldSuspend)

	in.CurrentPeriodEnd = ago(3 * day)
	res = EvaluateGrace(in)
	assert.Equal(t, 0, *res.DaysUntilBlock)
	assert.True(t, res.ShouldSuspend)
}

func TestEvaluateGrace_CancelledUsesPeriodEnd(t *testing.T) {
	res := EvaluateGrace(GraceInput{
		Status:           domain.SubscriptionStatusCancelled,
		CurrentPeriodEnd: ago(4 * day),
		Now:              graceNow,
	})
	assert.True(t, res.ShouldSuspend)
	assert.True(t, res.IsSubscriptionExpired)

	res = EvaluateGrace(GraceInput{
		Status:           domain.SubscriptionStatusCancelled,
		CurrentPeriodEnd: ahead(day),
		Now:              graceNow,
	})
	assert.Nil(t, res.DaysUntilBlock)
	assert.True(t, res.IsSubscriptionExpired)
}

func TestEvaluateGrace_SubscriptionEnding(t *testing.T) {
	in := GraceInput{
		Status:            domain.SubscriptionStatusActive,
		CancelAtPeriodEnd: true,
		CurrentPeriodEnd:  ahead(2 * day),
		Now:               graceNow,
	}
	assert.True(t, EvaluateGrace(in).IsSubscriptionEnding)

	in.CurrentPeriodEnd = ahead(5 * day)
	assert.False(t, EvaluateGrace(in).IsSubscriptionEnding)

	in.CurrentPeriodEnd = ahead(2 * day)
	in.CancelAtPeriodEnd = false
	assert.False(t, EvaluateGrace(in).IsSubscriptionEnding)
}

func TestEvaluateGrace_Monotonic(t *testing.T) {
	end := graceNow
	prevUntil := GracePeriodDays + 1
	suspended := false

	for h := 0; h <= 6*24; h++ {
		res := EvaluateGrace(GraceInput{
			Status:           domain.SubscriptionStatusPastDue,
			CurrentPeriodEnd: &end,
			Now:              end.Add(time.Duration(h) * time.Hour),
		})
		require.NotNil(t, res.DaysUntilBlock)
		assert.LessOrEqual(t, *res.DaysUntilBlock, prevUntil, "hour %d", h)
		prevUntil = *res.DaysUntilBlock

		if suspended {
			assert.True(t, res.ShouldSuspend, "hour %d", h)
		}
		suspended = res.ShouldSuspend
		assert.Equal(t, *res.DaysSinceExpired >= GracePeriodDays, res.ShouldSuspend, "hour %d", h)
		assert.Equal(t, res.ShouldSuspend, *res.DaysUntilBlock == 0, "hour %d", h)
	}
	assert.True(t, suspended)
}
