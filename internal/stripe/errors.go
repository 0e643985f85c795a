package stripe

import (
	"errors"
	"net/http"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
	"github.com/stripe/stripe-go/v78"
)

// toGatewayError нормализует ошибку Stripe SDK в *domain.GatewayError.
func toGatewayError(operation string, err error) *domain.GatewayError {
	gwErr := &domain.GatewayError{
		Operation:   operation,
		Message:     err.Error(),
		OriginalErr: err,
	}

	var stripeErr *stripe.Error
	if !errors.As(err, &stripeErr) {
		// Сетевые ошибки и таймауты: запрос можно повторить.
		gwErr.Retryable = true
		gwErr.OriginalErr = errors.Join(domain.ErrExternalServiceUnavailable, err)
		return gwErr
	}

	gwErr.Type = string(stripeErr.Type)
	gwErr.Code = string(stripeErr.Code)
	gwErr.DeclineCode = string(stripeErr.DeclineCode)
	gwErr.StatusCode = stripeErr.HTTPStatusCode
	if stripeErr.Msg != "" {
		gwErr.Message = stripeErr.Msg
	}
	gwErr.Retryable = stripeErr.Type == stripe.ErrorTypeAPI ||
		stripeErr.HTTPStatusCode == http.StatusTooManyRequests ||
		stripeErr.HTTPStatusCode >= http.StatusInternalServerError
	return gwErr
}

// logStripeError - вспомогательная функция для логирования деталей ошибки Stripe.
func logStripeError(log *logger.Logger, operation string, err error) {
	var stripeErr *stripe.Error
	if errors.As(err, &stripeErr) {
		log.Errorw("Stripe API error",
			"operation", operation,
			"type", string(stripeErr.Type),
			"code", string(stripeErr.Code),
			"decline_code", string(stripeErr.DeclineCode),
			"param", stripeErr.Param,
			"message", stripeErr.Msg,
			"request_id", stripeErr.RequestID,
			"status_code", stripeErr.HTTPStatusCode,
		)
	} else {
		log.Errorw("Non-Stripe error during Stripe operation",
			"operation", operation,
			"error", err,
		)
	}
}
