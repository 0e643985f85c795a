package res

import (
	"encoding/json"
	"net/http"
)

// ErrorResponse представляет формат JSON-ответа для ошибок.
type ErrorResponse struct {
	Error     string `json:"error"`                // Сообщение об ошибке (для пользователя)
	ErrorCode int    `json:"error_code,omitempty"` // Код ошибки (для программной обработки)
	Reason    string `json:"reason,omitempty"`     // Машиночитаемая причина (card_declined, quota_exceeded, ...)
	Details   any    `json:"details,omitempty"`    // Детали ошибки (например, ошибки валидации)
}

// JsonResponse отправляет JSON-ответ с заданным статусом.
func JsonResponse(w http.ResponseWriter, data any, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(data)
}

// JsonError отправляет ErrorResponse, ErrorCode совпадает с HTTP статусом.
func JsonError(w http.ResponseWriter, message string, status int) {
	JsonResponse(w, ErrorResponse{Error: message, ErrorCode: status}, status)
}
