package domain

import "time"

// Resource ресурс, ограниченный квотой плана.
type Resource string

const (
	ResourceBookings  Resource = "bookings"
	ResourceEmployees Resource = "employees"
	ResourceSMS       Resource = "sms"
)

// ParseResource разбирает имя ресурса из URL.
func ParseResource(s string) (Resource, bool) {
	switch r := Resource(s); r {
	case ResourceBookings, ResourceEmployees, ResourceSMS:
		return r, true
	}
	return "", false
}

// LimitCheckResult результат проверки квоты.
// Limit и Remaining равны nil для безлимитной квоты.
type LimitCheckResult struct {
	CanProceed  bool   `json:"canProceed"`
	Current     int64  `json:"current"`
	Limit       *int64 `json:"limit"`
	Remaining   *int64 `json:"remaining"`
	PercentUsed int    `json:"percentUsed"`
	Message     string `json:"message,omitempty"`
}

// EffectiveLimits лимиты, действующие для тенанта прямо сейчас.
type EffectiveLimits struct {
	Features PlanFeatures
	// Plan план, чьи лимиты действуют; nil для FallbackFeatures.
	Plan *Plan
	// PendingPlan новый план, вступающий в силу в PendingEffectiveAt.
	PendingPlan        *Plan
	PendingEffectiveAt *time.Time
	Fallback           bool
}

// LimitsSummary агрегированный ответ по всем квотам.
type LimitsSummary struct {
	PlanID             string           `json:"planId,omitempty"`
	PlanName           string           `json:"planName,omitempty"`
	PendingPlanID      string           `json:"pendingPlanId,omitempty"`
	PendingPlanName    string           `json:"pendingPlanName,omitempty"`
	PendingEffectiveAt *time.Time       `json:"pendingEffectiveAt,omitempty"`
	Fallback           bool             `json:"fallback"`
	Bookings           LimitCheckResult `json:"bookings"`
	Employees          LimitCheckResult `json:"employees"`
	SMS                LimitCheckResult `json:"sms"`
}

// DowngradeIssue блокирующая причина для смены плана.
type DowngradeIssue struct {
	Resource Resource `json:"resource"`
	Current  int64    `json:"current"`
	Limit    int64    `json:"limit"`
	Message  string   `json:"message"`
}

// DowngradeCheck результат проверки возможности перехода на план.
type DowngradeCheck struct {
	CanDowngrade bool             `json:"canDowngrade"`
	Issues       []DowngradeIssue `json:"issues"`
	Warnings     []string         `json:"warnings"`
}
