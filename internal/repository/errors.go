package repository

import (
	"errors"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/jackc/pgx/v5/pgconn"
)

var (
	// ErrNotFound запись не найдена
	ErrNotFound = domain.ErrNotFound

	// ErrDuplicate дубликат записи
	ErrDuplicate = domain.ErrDuplicate

	// ErrVersionConflict запись изменена другим писателем
	ErrVersionConflict = domain.ErrVersionConflict

	// ErrInvalidData неверные данные
	ErrInvalidData = domain.ErrInvalidInput
)

// pgUniqueViolation код ошибки PostgreSQL для нарушения уникальности.
const pgUniqueViolation = "23505"

// isUniqueViolation распознает нарушение уникального ключа.
func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return false
}
