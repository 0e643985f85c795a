package routes

import (
	"net/http"
	"time"

	"github.com/Dhoini/Billing-microservice/internal/app"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// SetupRoutes настраивает все маршруты API для Gin роутера
func SetupRoutes(router *gin.Engine, app *app.App, log *logger.Logger) {
	// Промежуточное ПО для всех запросов
	router.Use(app.LoggerMiddleware)
	router.Use(gin.Recovery())

	// Здоровье сервиса
	router.GET("/health", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{
			"status": "ok",
			"time":   time.Now().UTC().Format(time.RFC3339),
		})
	})

	// Prometheus метрики
	if app.Registry != nil {
		router.GET("/metrics", gin.WrapH(promhttp.HandlerFor(app.Registry, promhttp.HandlerOpts{})))
	}

	// Группа API
	api := router.Group("/api/v1")
	{
		// Публичные маршруты (без аутентификации)
		// Обработчик вебхуков Stripe
		api.POST("/webhooks/stripe", app.WebhookHandler.HandleStripeWebhook)

		// Защищенные маршруты (требуют аутентификации)
		auth := api.Group("/billing")
		auth.Use(app.AuthMiddleware.RequireAuth())

		auth.GET("/limits", app.BillingHandler.GetLimits)
		auth.GET("/limits/:resource", app.BillingHandler.GetResourceLimit)

		plans := auth.Group("/plans")
		{
			plans.GET("", app.BillingHandler.ListPlans)
			plans.GET("/:plan_id/downgrade-check", app.BillingHandler.DowngradeCheck)
		}

		auth.POST("/plan-change", app.BillingHandler.ChangePlan)
		auth.POST("/checkout", app.BillingHandler.CreateCheckout)

		// Подписка тенанта
		subscription := auth.Group("/subscription")
		{
			subscription.GET("/status", app.BillingHandler.GetStatus)
			subscription.POST("/cancel", app.BillingHandler.CancelSubscription)
			subscription.POST("/resume", app.BillingHandler.ResumeSubscription)
			subscription.POST("/retry-payment", app.BillingHandler.RetryPayment)
			subscription.POST("/sync", app.BillingHandler.SyncSubscription)
		}
	}

	log.Infow("API routes successfully configured")
}
