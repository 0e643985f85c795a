package handlers

import (
	"errors"
	"net/http"

	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
	"github.com/Dhoini/Billing-microservice/pkg/res"
	"github.com/gin-gonic/gin"
)

// writeError переводит ошибку движка в HTTP ответ.
func writeError(c *gin.Context, log *logger.Logger, operation string, err error) {
	var (
		quota     *domain.QuotaExceededError
		downgrade *domain.DowngradeBlockedError
		rejection *domain.GatewayRejection
	)

	status := http.StatusInternalServerError
	body := res.ErrorResponse{Error: "Internal server error"}

	switch {
	case errors.As(err, &quota):
		status = http.StatusForbidden
		body = res.ErrorResponse{Error: quota.Result.Message, Reason: "quota_exceeded", Details: quota.Result}
	case errors.As(err, &downgrade):
		status = http.StatusConflict
		body = res.ErrorResponse{Error: "Plan change blocked by current usage", Reason: "downgrade_blocked", Details: downgrade.Issues}
	case errors.As(err, &rejection):
		status = http.StatusPaymentRequired
		if rejection.Reason == domain.RejectionGatewayUnavailable || rejection.Reason == domain.RejectionGeneric {
			status = http.StatusBadGateway
		}
		body = res.ErrorResponse{Error: rejection.Message, Reason: rejection.Reason}
	case errors.Is(err, domain.ErrSubscriptionNotFound):
		status = http.StatusNotFound
		body = res.ErrorResponse{Error: "Subscription not found"}
	case errors.Is(err, domain.ErrPlanNotFound):
		status = http.StatusNotFound
		body = res.ErrorResponse{Error: "Plan not found"}
	case errors.Is(err, domain.ErrTenantNotFound):
		status = http.StatusNotFound
		body = res.ErrorResponse{Error: "Tenant not found"}
	case errors.Is(err, domain.ErrPaymentMethodRequired):
		status = http.StatusPaymentRequired
		body = res.ErrorResponse{Error: "Add a payment method before choosing a plan", Reason: "payment_method_required"}
	case errors.Is(err, domain.ErrAlreadySubscribed):
		status = http.StatusConflict
		body = res.ErrorResponse{Error: "Tenant already has an active subscription", Reason: "already_subscribed"}
	case errors.Is(err, domain.ErrInvalidOperation):
		status = http.StatusConflict
		body = res.ErrorResponse{Error: err.Error(), Reason: "invalid_operation"}
	case errors.Is(err, domain.ErrInvalidInput):
		status = http.StatusBadRequest
		body = res.ErrorResponse{Error: "Invalid request data", Details: err.Error()}
	}
	body.ErrorCode = status

	if status >= http.StatusInternalServerError {
		log.Errorw("Request failed", "operation", operation, "error", err)
	} else {
		log.Warnw("Request rejected", "operation", operation, "status", status, "error", err)
	}

	res.JsonResponse(c.Writer, body, status)
	c.Abort()
}
