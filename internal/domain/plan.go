package domain

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"time"
)

// unlimitedWire значение, которым "безлимит" кодируется в JSON документе фич плана.
const unlimitedWire int64 = -1

// ErrInvalidLimit лимит в документе фич не является целым числом >= -1.
var ErrInvalidLimit = errors.New("invalid plan limit")

// Limit квота плана: либо неотрицательное число, либо явный безлимит.
// Нулевое значение Limit означает квоту 0.
type Limit struct {
	value     int64
	unlimited bool
}

// Unlimited безлимитная квота.
var Unlimited = Limit{unlimited: true}

// LimitOf возвращает конечную квоту n. Отрицательные значения приводятся к нулю.
func LimitOf(n int64) Limit {
	if n < 0 {
		n = 0
	}
	return Limit{value: n}
}

// IsUnlimited сообщает, что квота не ограничена.
func (l Limit) IsUnlimited() bool { return l.unlimited }

// Value возвращает значение конечной квоты; ok=false для безлимита.
func (l Limit) Value() (n int64, ok bool) {
	if l.unlimited {
		return 0, false
	}
	return l.value, true
}

func (l Limit) String() string {
	if l.unlimited {
		return "unlimited"
	}
	return strconv.FormatInt(l.value, 10)
}

// MarshalJSON пишет -1 для безлимита.
func (l Limit) MarshalJSON() ([]byte, error) {
	if l.unlimited {
		return []byte(strconv.FormatInt(unlimitedWire, 10)), nil
	}
	return []byte(strconv.FormatInt(l.value, 10)), nil
}

// UnmarshalJSON принимает целое >= -1; -1 превращается в Unlimited.
func (l *Limit) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		return fmt.Errorf("%w: null", ErrInvalidLimit)
	}
	n, err := strconv.ParseInt(string(data), 10, 64)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrInvalidLimit, string(data))
	}
	switch {
	case n == unlimitedWire:
		*l = Unlimited
	case n < 0:
		return fmt.Errorf("%w: %d", ErrInvalidLimit, n)
	default:
		*l = Limit{value: n}
	}
	return nil
}

// PlanFeatures типизированный документ фич плана.
type PlanFeatures struct {
	Bookings      Limit `json:"bookings"`
	Employees     Limit `json:"employees"`
	SMS           Limit `json:"sms"`
	Tier          int   `json:"tier"`
	DisplayOrder  int   `json:"displayOrder"`
	IsHighlighted bool  `json:"isHighlighted"`
}

// UnmarshalJSON требует наличия всех трех квот.
func (f *PlanFeatures) UnmarshalJSON(data []byte) error {
	var raw struct {
		Bookings      *Limit `json:"bookings"`
		Employees     *Limit `json:"employees"`
		SMS           *Limit `json:"sms"`
		Tier          int    `json:"tier"`
		DisplayOrder  int    `json:"displayOrder"`
		IsHighlighted bool   `json:"isHighlighted"`
	}
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if raw.Bookings == nil || raw.Employees == nil || raw.SMS == nil {
		return fmt.Errorf("%w: bookings, employees and sms are required", ErrInvalidLimit)
	}
	*f = PlanFeatures{
		Bookings:      *raw.Bookings,
		Employees:     *raw.Employees,
		SMS:           *raw.SMS,
		Tier:          raw.Tier,
		DisplayOrder:  raw.DisplayOrder,
		IsHighlighted: raw.IsHighlighted,
	}
	return nil
}

// Scan читает документ фич из TEXT/JSON колонки.
func (f *PlanFeatures) Scan(src interface{}) error {
	data, err := jsonColumnBytes(src)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, f)
}

// Value сериализует документ фич для записи в БД.
func (f PlanFeatures) Value() (driver.Value, error) {
	data, err := json.Marshal(f)
	if err != nil {
		return nil, err
	}
	return string(data), nil
}

// FallbackFeatures минимальный набор лимитов для тенанта без подписки.
var FallbackFeatures = PlanFeatures{
	Bookings:  LimitOf(50),
	Employees: LimitOf(1),
	SMS:       LimitOf(10),
}

// Plan тарифный план. Планы неизменяемы после того, как на них сослалась подписка.
type Plan struct {
	ID            string       `db:"id" json:"id"`
	Slug          string       `db:"slug" json:"slug"`
	Name          string       `db:"name" json:"name"`
	PriceMonthly  int64        `db:"price_monthly" json:"priceMonthly"`
	Currency      string       `db:"currency" json:"currency"`
	TrialDays     int          `db:"trial_days" json:"trialDays"`
	StripePriceID string       `db:"stripe_price_id" json:"stripePriceId"`
	Features      PlanFeatures `db:"features" json:"features"`
	CreatedAt     time.Time    `db:"created_at" json:"createdAt"`
}

func jsonColumnBytes(src interface{}) ([]byte, error) {
	switch v := src.(type) {
	case []byte:
		return v, nil
	case string:
		return []byte(v), nil
	case nil:
		return nil, errors.New("json column is null")
	default:
		return nil, fmt.Errorf("unsupported json column type %T", src)
	}
}
