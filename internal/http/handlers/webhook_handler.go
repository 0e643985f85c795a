package handlers

import (
	"context"
	"errors"
	"io"
	"net/http"

	"github.com/Dhoini/Billing-microservice/internal/billing"
	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
	"github.com/Dhoini/Billing-microservice/pkg/res"

	"github.com/gin-gonic/gin"
)

const (
	// Ограничение на размер тела запроса вебхука (Stripe рекомендует ~65kb)
	maxRequestBodySize = int64(65536)
)

// EventHandler применяет проверенное событие шлюза.
type EventHandler interface {
	HandleEvent(ctx context.Context, event *domain.GatewayEvent) error
}

// WebhookHandler обрабатывает входящие вебхуки от Stripe.
type WebhookHandler struct {
	verifier billing.EventVerifier
	events   EventHandler
	log      *logger.Logger
}

// NewWebhookHandler создает новый экземпляр WebhookHandler.
func NewWebhookHandler(verifier billing.EventVerifier, events EventHandler, log *logger.Logger) *WebhookHandler {
	return &WebhookHandler{
		verifier: verifier,
		events:   events,
		log:      log,
	}
}

// HandleStripeWebhook - обработчик для Gin, принимающий вебхуки Stripe.
// 400 только при ошибке чтения или подписи. Ошибки разбора и обработки
// логируются, ответ все равно 200: повторная доставка того же события их не исправит.
func (h *WebhookHandler) HandleStripeWebhook(c *gin.Context) {
	ctx := c.Request.Context()

	// Тело читается один раз: подпись считается по сырым байтам.
	c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxRequestBodySize)
	payload, err := io.ReadAll(c.Request.Body)
	//goland:noinspection GoUnhandledErrorResult
	defer c.Request.Body.Close()

	if err != nil {
		h.log.Errorw("Failed to read webhook request body", "error", err)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Cannot read request body"}, http.StatusBadRequest)
		c.Abort()
		return
	}

	sigHeader := c.GetHeader("Stripe-Signature")
	if sigHeader == "" {
		h.log.Warnw("Missing Stripe-Signature header")
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Missing Stripe-Signature header"}, http.StatusBadRequest)
		c.Abort()
		return
	}

	event, err := h.verifier.VerifyEvent(payload, sigHeader)
	if errors.Is(err, domain.ErrWebhookValidationFailed) {
		h.log.Errorw("Webhook signature verification failed", "error", err)
		res.JsonResponse(c.Writer, res.ErrorResponse{Error: "Webhook signature verification failed"}, http.StatusBadRequest)
		c.Abort()
		return
	}
	if err != nil {
		// Подпись верна, но событие не разобрать: повтор доставки даст то же самое.
		h.log.Errorw("Failed to decode verified webhook event", "error", err)
		c.JSON(http.StatusOK, gin.H{"received": true})
		return
	}

	h.log.Infow("Received verified Stripe event", "eventID", event.ID, "eventType", event.Type)

	if err := h.events.HandleEvent(ctx, event); err != nil {
		h.log.Errorw("Error processing webhook event", "error", err, "eventID", event.ID, "eventType", event.Type)
	}

	c.JSON(http.StatusOK, gin.H{"received": true})
}
