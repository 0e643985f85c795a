package domain

import (
	"errors"
	"fmt"
	"strings"
)

// Application errors
var (
	// ErrNotFound запись не найдена
	ErrNotFound = errors.New("record not found")

	// ErrDuplicate дубликат записи
	ErrDuplicate = errors.New("duplicate record")

	// ErrVersionConflict запись изменена конкурентно (не совпал version)
	ErrVersionConflict = errors.New("version conflict")

	// ErrInvalidInput неверные входные данные
	ErrInvalidInput = errors.New("invalid input data")

	// ErrInvalidStatus статус вне перечисления
	ErrInvalidStatus = errors.New("invalid subscription status")

	// ErrSubscriptionNotFound у тенанта нет подписки
	ErrSubscriptionNotFound = errors.New("subscription not found")

	// ErrPlanNotFound план не найден в каталоге
	ErrPlanNotFound = errors.New("plan not found")

	// ErrTenantNotFound тенант не найден
	ErrTenantNotFound = errors.New("tenant not found")

	// ErrPaymentMethodRequired для операции нужен сохраненный платежный метод
	ErrPaymentMethodRequired = errors.New("payment method required")

	// ErrInvalidOperation операция невозможна в текущем состоянии подписки
	ErrInvalidOperation = errors.New("invalid operation")

	// ErrAlreadySubscribed у тенанта уже есть активная подписка
	ErrAlreadySubscribed = errors.New("tenant already has an active subscription")

	// ErrWebhookValidationFailed не удалось проверить подпись вебхука
	ErrWebhookValidationFailed = errors.New("webhook validation failed")

	// ErrUnresolvable событие не удалось сопоставить ни с одной подпиской
	ErrUnresolvable = errors.New("event cannot be resolved to a subscription")

	// ErrUnknownExternalStatus внешний статус отсутствует в таблице соответствия
	ErrUnknownExternalStatus = errors.New("unknown external subscription status")

	// ErrExternalServiceUnavailable внешний сервис недоступен
	ErrExternalServiceUnavailable = errors.New("external service unavailable")

	// ErrQuotaExceeded квота плана исчерпана
	ErrQuotaExceeded = errors.New("plan quota exceeded")

	// ErrDowngradeBlocked переход на план заблокирован текущим использованием
	ErrDowngradeBlocked = errors.New("plan change blocked by current usage")

	// ErrGatewayRejected шлюз отклонил операцию пользователя
	ErrGatewayRejected = errors.New("payment gateway rejected the request")
)

// GatewayError ошибка платежного шлюза, нормализованная адаптером.
type GatewayError struct {
	Operation   string
	Type        string
	Code        string
	DeclineCode string
	Message     string
	StatusCode  int
	Retryable   bool
	OriginalErr error
}

// Error реализует интерфейс error
func (e *GatewayError) Error() string {
	code := e.Code
	if e.DeclineCode != "" {
		code = code + "/" + e.DeclineCode
	}
	return fmt.Sprintf("gateway error [%s] during %s: %s", code, e.Operation, e.Message)
}

// Unwrap возвращает оригинальную ошибку
func (e *GatewayError) Unwrap() error {
	return e.OriginalErr
}

// Rejection reasons exposed to users.
const (
	RejectionCardDeclined           = "card_declined"
	RejectionInsufficientFunds      = "insufficient_funds"
	RejectionExpiredCard            = "expired_card"
	RejectionAuthenticationRequired = "authentication_required"
	RejectionGatewayUnavailable     = "gateway_unavailable"
	RejectionGeneric                = "payment_error"
)

// GatewayRejection типизированный отказ, показываемый пользователю.
type GatewayRejection struct {
	Reason      string
	Message     string
	OriginalErr error
}

// Error реализует интерфейс error
func (e *GatewayRejection) Error() string {
	return fmt.Sprintf("%s: %s", e.Reason, e.Message)
}

// Unwrap возвращает оригинальную ошибку
func (e *GatewayRejection) Unwrap() error {
	return e.OriginalErr
}

// Is позволяет сравнивать с ErrGatewayRejected
func (e *GatewayRejection) Is(target error) bool {
	return target == ErrGatewayRejected
}

// QuotaExceededError квота ресурса исчерпана.
type QuotaExceededError struct {
	Resource Resource
	Result   LimitCheckResult
}

// Error реализует интерфейс error
func (e *QuotaExceededError) Error() string {
	if e.Result.Message != "" {
		return e.Result.Message
	}
	return fmt.Sprintf("%s quota exceeded", e.Resource)
}

// Is позволяет сравнивать с ErrQuotaExceeded
func (e *QuotaExceededError) Is(target error) bool {
	return target == ErrQuotaExceeded
}

// DowngradeBlockedError переход на план невозможен.
type DowngradeBlockedError struct {
	PlanID string
	Issues []DowngradeIssue
}

// Error реализует интерфейс error
func (e *DowngradeBlockedError) Error() string {
	msgs := make([]string, 0, len(e.Issues))
	for _, issue := range e.Issues {
		msgs = append(msgs, issue.Message)
	}
	return fmt.Sprintf("cannot switch to plan %s: %s", e.PlanID, strings.Join(msgs, "; "))
}

// Is позволяет сравнивать с ErrDowngradeBlocked
func (e *DowngradeBlockedError) Is(target error) bool {
	return target == ErrDowngradeBlocked
}

// NotFoundError представляет ошибку "не найдено"
type NotFoundError struct {
	Entity string
	ID     string
}

// Error реализует интерфейс error
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s with ID %s not found", e.Entity, e.ID)
}

// Is проверяет, является ли ошибка ошибкой типа "не найдено"
func (e *NotFoundError) Is(target error) bool {
	return target == ErrNotFound
}

// NewNotFoundError создает новую ошибку "не найдено"
func NewNotFoundError(entity, id string) *NotFoundError {
	return &NotFoundError{
		Entity: entity,
		ID:     id,
	}
}
