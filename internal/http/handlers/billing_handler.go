package handlers

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/Dhoini/Billing-microservice/internal/billing"
	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/internal/middleware"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
	"github.com/Dhoini/Billing-microservice/pkg/req"
	"github.com/Dhoini/Billing-microservice/pkg/res"
)

// StatusQuery статус подписки тенанта.
type StatusQuery interface {
	GetStatus(ctx context.Context, tenantID string) (*billing.StatusView, error)
}

// LimitQuery проверки квот тенанта.
type LimitQuery interface {
	Summary(ctx context.Context, tenantID string) (*domain.LimitsSummary, error)
	Check(ctx context.Context, tenantID string, resource domain.Resource) (domain.LimitCheckResult, error)
	CanDowngradeToPlan(ctx context.Context, tenantID, targetPlanID string) (*domain.DowngradeCheck, error)
}

// PlanChanger смена плана.
type PlanChanger interface {
	ChangePlan(ctx context.Context, tenantID, targetPlanID string) (*billing.PlanChangeResult, error)
}

// Lifecycle операции тенанта над подпиской.
type Lifecycle interface {
	CreateCheckout(ctx context.Context, r billing.CheckoutRequest) (*domain.CheckoutSession, error)
	CancelAtPeriodEnd(ctx context.Context, tenantID string) (*domain.Subscription, error)
	Resume(ctx context.Context, tenantID string) (*domain.Subscription, error)
	RetryPayment(ctx context.Context, tenantID string) (*domain.PaymentResult, error)
}

// Resyncer ручная сверка с шлюзом.
type Resyncer interface {
	Resync(ctx context.Context, tenantID string) (*domain.Subscription, error)
}

// PlanCatalog список планов.
type PlanCatalog interface {
	List(ctx context.Context) ([]domain.Plan, error)
}

// BillingHandler обрабатывает HTTP запросы тенанта к биллингу (для Gin).
type BillingHandler struct {
	status    StatusQuery
	limits    LimitQuery
	plans     PlanCatalog
	changer   PlanChanger
	lifecycle Lifecycle
	resyncer  Resyncer
	log       *logger.Logger
}

// BillingHandlerDeps зависимости BillingHandler.
type BillingHandlerDeps struct {
	Status    StatusQuery
	Limits    LimitQuery
	Plans     PlanCatalog
	Changer   PlanChanger
	Lifecycle Lifecycle
	Resyncer  Resyncer
	Log       *logger.Logger
}

// NewBillingHandler создает новый экземпляр BillingHandler.
func NewBillingHandler(deps BillingHandlerDeps) *BillingHandler {
	return &BillingHandler{
		status:    deps.Status,
		limits:    deps.Limits,
		plans:     deps.Plans,
		changer:   deps.Changer,
		lifecycle: deps.Lifecycle,
		resyncer:  deps.Resyncer,
		log:       deps.Log,
	}
}

// --- DTO ---

type ChangePlanRequest struct {
	PlanID string `json:"planId" validate:"required"`
}

type CheckoutRequest struct {
	PlanID     string `json:"planId" validate:"required"`
	Email      string `json:"email" validate:"omitempty,email"`
	SuccessURL string `json:"successUrl" validate:"required,url"`
	CancelURL  string `json:"cancelUrl" validate:"required,url"`
}

// --- Обработчики ---

// GetStatus обрабатывает GET /billing/subscription/status
func (h *BillingHandler) GetStatus(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}

	view, err := h.status.GetStatus(c.Request.Context(), tenantID)
	if err != nil {
		writeError(c, h.log, "GetStatus", err)
		return
	}
	res.JsonResponse(c.Writer, view, http.StatusOK)
}

// GetLimits обрабатывает GET /billing/limits
func (h *BillingHandler) GetLimits(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}

	summary, err := h.limits.Summary(c.Request.Context(), tenantID)
	if err != nil {
		writeError(c, h.log, "GetLimits", err)
		return
	}
	res.JsonResponse(c.Writer, summary, http.StatusOK)
}

// GetResourceLimit обрабатывает GET /billing/limits/:resource
func (h *BillingHandler) GetResourceLimit(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}

	resource, valid := domain.ParseResource(c.Param("resource"))
	if !valid {
		res.JsonResponse(c.Writer, res.ErrorResponse{
			Error:     "Unknown resource",
			ErrorCode: http.StatusBadRequest,
			Details:   []domain.Resource{domain.ResourceBookings, domain.ResourceEmployees, domain.ResourceSMS},
		}, http.StatusBadRequest)
		c.Abort()
		return
	}

	result, err := h.limits.Check(c.Request.Context(), tenantID, resource)
	if err != nil {
		writeError(c, h.log, "GetResourceLimit", err)
		return
	}
	res.JsonResponse(c.Writer, result, http.StatusOK)
}

// ListPlans обрабатывает GET /billing/plans
func (h *BillingHandler) ListPlans(c *gin.Context) {
	plans, err := h.plans.List(c.Request.Context())
	if err != nil {
		writeError(c, h.log, "ListPlans", err)
		return
	}
	res.JsonResponse(c.Writer, plans, http.StatusOK)
}

// DowngradeCheck обрабатывает GET /billing/plans/:plan_id/downgrade-check
func (h *BillingHandler) DowngradeCheck(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}

	check, err := h.limits.CanDowngradeToPlan(c.Request.Context(), tenantID, c.Param("plan_id"))
	if err != nil {
		writeError(c, h.log, "DowngradeCheck", err)
		return
	}
	res.JsonResponse(c.Writer, check, http.StatusOK)
}

// ChangePlan обрабатывает POST /billing/plan-change
func (h *BillingHandler) ChangePlan(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	body, ok := decodeBody[ChangePlanRequest](c, h.log)
	if !ok {
		return
	}

	result, err := h.changer.ChangePlan(c.Request.Context(), tenantID, body.PlanID)
	if err != nil {
		writeError(c, h.log, "ChangePlan", err)
		return
	}
	h.log.Infow("Plan change handled", "tenantID", tenantID, "planID", body.PlanID, "changed", result.Changed)
	res.JsonResponse(c.Writer, result, http.StatusOK)
}

// CreateCheckout обрабатывает POST /billing/checkout
func (h *BillingHandler) CreateCheckout(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}
	body, ok := decodeBody[CheckoutRequest](c, h.log)
	if !ok {
		return
	}

	session, err := h.lifecycle.CreateCheckout(c.Request.Context(), billing.CheckoutRequest{
		TenantID:   tenantID,
		PlanID:     body.PlanID,
		Email:      body.Email,
		SuccessURL: body.SuccessURL,
		CancelURL:  body.CancelURL,
	})
	if err != nil {
		writeError(c, h.log, "CreateCheckout", err)
		return
	}
	res.JsonResponse(c.Writer, session, http.StatusCreated)
}

// CancelSubscription обрабатывает POST /billing/subscription/cancel
func (h *BillingHandler) CancelSubscription(c *gin.Context) {
	h.subscriptionAction(c, "CancelSubscription", h.lifecycle.CancelAtPeriodEnd)
}

// ResumeSubscription обрабатывает POST /billing/subscription/resume
func (h *BillingHandler) ResumeSubscription(c *gin.Context) {
	h.subscriptionAction(c, "ResumeSubscription", h.lifecycle.Resume)
}

// SyncSubscription обрабатывает POST /billing/subscription/sync
func (h *BillingHandler) SyncSubscription(c *gin.Context) {
	h.subscriptionAction(c, "SyncSubscription", h.resyncer.Resync)
}

// RetryPayment обрабатывает POST /billing/subscription/retry-payment
func (h *BillingHandler) RetryPayment(c *gin.Context) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}

	result, err := h.lifecycle.RetryPayment(c.Request.Context(), tenantID)
	if err != nil {
		writeError(c, h.log, "RetryPayment", err)
		return
	}
	res.JsonResponse(c.Writer, result, http.StatusOK)
}

func (h *BillingHandler) subscriptionAction(c *gin.Context, operation string, action func(context.Context, string) (*domain.Subscription, error)) {
	tenantID, ok := h.tenantID(c)
	if !ok {
		return
	}

	sub, err := action(c.Request.Context(), tenantID)
	if err != nil {
		writeError(c, h.log, operation, err)
		return
	}
	res.JsonResponse(c.Writer, sub, http.StatusOK)
}

// tenantID берет ID тенанта, положенный auth middleware.
func (h *BillingHandler) tenantID(c *gin.Context) (string, bool) {
	tenantID, ok := middleware.TenantIDFromContext(c.Request.Context())
	if !ok {
		// Этого не должно произойти, если middleware отработал правильно
		h.log.Errorw("TenantID not found in context after auth middleware", "path", c.Request.URL.Path)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Internal server error"}, http.StatusInternalServerError)
		c.Abort()
		return "", false
	}
	return tenantID, true
}

func decodeBody[T any](c *gin.Context, log *logger.Logger) (T, bool) {
	body, err := req.Decode[T](c.Request.Body)
	if err != nil {
		log.Warnw("Failed to decode request body", "error", err)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Invalid request format"}, http.StatusUnprocessableEntity)
		c.Abort()
		return body, false
	}
	if err := req.IsValid(body); err != nil {
		log.Warnw("Request body validation failed", "error", err)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Invalid request data", Details: err.Error()}, http.StatusUnprocessableEntity)
		c.Abort()
		return body, false
	}
	return body, true
}
