package billing

import (
	"math"
	"time"

	"github.com/Dhoini/Billing-microservice/internal/domain"
)

// GracePeriodDays сколько полных дней тенант работает после истечения подписки.
const GracePeriodDays = 3

const day = 24 * time.Hour

// GraceInput входные данные политики grace-периода.
type GraceInput struct {
	Status            domain.SubscriptionStatus
	TrialEnd          *time.Time
	CurrentPeriodEnd  *time.Time
	CancelAtPeriodEnd bool
	IsSuspended       bool
	Now               time.Time
}

// GraceResult решение политики.
type GraceResult struct {
	// DaysUntilBlock nil, если подписка не истекла и не просрочена.
	DaysUntilBlock *int
	// DaysSinceExpired полные дни после точки истечения (может быть отрицательным для PAST_DUE до конца периода).
	DaysSinceExpired *int
	// ShouldSuspend grace-период исчерпан.
	ShouldSuspend bool
	// NeedsSuspension ShouldSuspend и тенант еще не приостановлен.
	NeedsSuspension       bool
	IsSubscriptionEnding  bool
	IsSubscriptionExpired bool
	DaysUntilPeriodEnd    *int
}

// GraceInputFor собирает вход политики из подписки и тенанта.
func GraceInputFor(sub *domain.Subscription, isSuspended bool, now time.Time) GraceInput {
	return GraceInput{
		Status:            sub.Status,
		TrialEnd:          sub.TrialEnd,
		CurrentPeriodEnd:  sub.CurrentPeriodEnd,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
		IsSuspended:       isSuspended,
		Now:               now,
	}
}

// EvaluateGrace чистая функция без побочных эффектов.
func EvaluateGrace(in GraceInput) GraceResult {
	var res GraceResult
	now := in.Now

	if in.CurrentPeriodEnd != nil {
		d := int(math.Ceil(float64(in.CurrentPeriodEnd.Sub(now)) / float64(day)))
		res.DaysUntilPeriodEnd = &d
	}

	var anchor *time.Time
	switch {
	case in.Status == domain.SubscriptionStatusTrialing && in.TrialEnd != nil && in.TrialEnd.Before(now):
		anchor = in.TrialEnd
	case in.CurrentPeriodEnd != nil && (in.Status == domain.SubscriptionStatusPastDue || in.CurrentPeriodEnd.Before(now)):
		anchor = in.CurrentPeriodEnd
	}

	if anchor != nil {
		since := int(math.Floor(float64(now.Sub(*anchor)) / float64(day)))
		until := GracePeriodDays - since
		if until < 0 {
			until = 0
		}
		// PAST_DUE до конца периода дает отрицательный since.
		if until > GracePeriodDays {
			until = GracePeriodDays
		}
		res.DaysSinceExpired = &since
		res.DaysUntilBlock = &until
		res.ShouldSuspend = since >= GracePeriodDays
		res.NeedsSuspension = res.ShouldSuspend && !in.IsSuspended
	}

	if in.Status == domain.SubscriptionStatusActive && in.CancelAtPeriodEnd && res.DaysUntilPeriodEnd != nil {
		d := *res.DaysUntilPeriodEnd
		res.IsSubscriptionEnding = d > 0 && d <= GracePeriodDays
	}

	// Прошедший конец периода считается истечением и без cancelAtPeriodEnd.
	periodPassed := in.CurrentPeriodEnd != nil && in.CurrentPeriodEnd.Before(now)
	res.IsSubscriptionExpired = in.Status == domain.SubscriptionStatusCancelled || periodPassed

	return res
}
