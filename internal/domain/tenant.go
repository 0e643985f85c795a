package domain

import (
	"database/sql/driver"
	"encoding/json"
	"time"
)

// Suspension reasons written to tenants.suspended_reason.
const (
	SuspendReasonGraceExpired   = "Subscription expired: grace period ended"
	SuspendReasonCancelled      = "Subscription cancelled"
	SuspendReasonPaymentFailure = "Payment failed after multiple attempts"
)

// SmsUsage счетчик SMS за текущий платежный период.
// Limit == nil означает "брать лимит из плана".
type SmsUsage struct {
	Used      int64      `json:"used"`
	Limit     *Limit     `json:"limit,omitempty"`
	LastReset *time.Time `json:"lastReset,omitempty"`
}

// Scan читает sms_usage из TEXT/JSON колонки. NULL дает пустой счетчик.
func (u *SmsUsage) Scan(src interface{}) error {
	if src == nil {
		*u = SmsUsage{}
		return nil
	}
	data, err := jsonColumnBytes(src)
	if err != nil {
		return err
	}
	if len(data) == 0 {
		*u = SmsUsage{}
		return nil
	}
	return json.Unmarshal(data, u)
}

// Value сериализует sms_usage.
func (u SmsUsage) Value() (driver.Value, error) {
	data, err := json.Marshal(u)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// Tenant часть записи тенанта, которую трогает биллинг.
type Tenant struct {
	ID              string    `db:"id" json:"id"`
	Name            string    `db:"name" json:"name"`
	IsSuspended     bool      `db:"is_suspended" json:"isSuspended"`
	SuspendedReason string    `db:"suspended_reason" json:"suspendedReason,omitempty"`
	SmsUsage        SmsUsage  `db:"sms_usage" json:"smsUsage"`
	UpdatedAt       time.Time `db:"updated_at" json:"updatedAt"`
}
