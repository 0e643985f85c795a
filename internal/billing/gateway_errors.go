package billing

import (
	"errors"

	"github.com/Dhoini/Billing-microservice/internal/domain"
)

var rejectionMessages = map[string]string{
	domain.RejectionCardDeclined:           "Your card was declined. Please use a different payment method.",
	domain.RejectionInsufficientFunds:      "Your card has insufficient funds. Please use a different card.",
	domain.RejectionExpiredCard:            "Your card has expired. Please update your payment method.",
	domain.RejectionAuthenticationRequired: "Your bank requires additional authentication. Please complete the verification and try again.",
	domain.RejectionGatewayUnavailable:     "The payment provider is temporarily unavailable. Please try again in a few minutes.",
	domain.RejectionGeneric:                "We could not process your request with the payment provider. Please try again later.",
}

// TranslateGatewayError превращает ошибку шлюза в отказ, понятный пользователю.
// Вызывается только для ошибок вызовов PaymentGateway.
func TranslateGatewayError(err error) error {
	if err == nil {
		return nil
	}
	var rejection *domain.GatewayRejection
	if errors.As(err, &rejection) {
		return err
	}
	return &domain.GatewayRejection{
		Reason:      rejectionReason(err),
		Message:     rejectionMessages[rejectionReason(err)],
		OriginalErr: err,
	}
}

func rejectionReason(err error) string {
	var gwErr *domain.GatewayError
	if !errors.As(err, &gwErr) {
		if errors.Is(err, domain.ErrExternalServiceUnavailable) {
			return domain.RejectionGatewayUnavailable
		}
		return domain.RejectionGeneric
	}

	switch {
	case gwErr.DeclineCode == domain.RejectionInsufficientFunds:
		return domain.RejectionInsufficientFunds
	case gwErr.Code == domain.RejectionExpiredCard || gwErr.DeclineCode == domain.RejectionExpiredCard:
		return domain.RejectionExpiredCard
	case gwErr.Code == domain.RejectionAuthenticationRequired || gwErr.DeclineCode == domain.RejectionAuthenticationRequired:
		return domain.RejectionAuthenticationRequired
	case gwErr.Code == domain.RejectionCardDeclined || gwErr.Type == "card_error":
		return domain.RejectionCardDeclined
	case gwErr.Retryable:
		return domain.RejectionGatewayUnavailable
	}
	return domain.RejectionGeneric
}

// gatewayFailure логирует ошибку шлюза, считает ее в метриках и переводит в отказ.
func (d *Dependencies) gatewayFailure(operation, tenantID string, err error) error {
	code := domain.RejectionGeneric
	var gwErr *domain.GatewayError
	if errors.As(err, &gwErr) && gwErr.Code != "" {
		code = gwErr.Code
	}
	d.Metrics.IncGatewayError(operation, code)
	d.Log.Errorw("Payment gateway call failed", "operation", operation, "tenantID", tenantID, "error", err)
	return TranslateGatewayError(err)
}
