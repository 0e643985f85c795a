package app

import (
	"github.com/Dhoini/Billing-microservice/internal/billing"
	"github.com/Dhoini/Billing-microservice/internal/config"
	gate "github.com/Dhoini/Billing-microservice/internal/grpc"
	"github.com/Dhoini/Billing-microservice/internal/http/handlers"
	"github.com/Dhoini/Billing-microservice/internal/interceptors"
	"github.com/Dhoini/Billing-microservice/internal/middleware"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
)

// App представляет собой контейнер для всех компонентов приложения
type App struct {
	Config           *config.Config
	Registry         *prometheus.Registry
	Reconciler       *billing.Reconciler
	BillingHandler   *handlers.BillingHandler
	WebhookHandler   *handlers.WebhookHandler
	AuthMiddleware   *middleware.JWTMiddleware
	AuthInterceptor  *interceptors.AuthInterceptor
	GateServer       *gate.GateServer
	LoggerMiddleware gin.HandlerFunc
	Logger           *logger.Logger
}

// NewApp создает и инициализирует новый экземпляр приложения.
// Все компоненты движка получают один TenantGuard.
func NewApp(
	cfg *config.Config,
	deps billing.Dependencies,
	verifier billing.EventVerifier,
	validator middleware.TokenValidator,
	registry *prometheus.Registry,
	log *logger.Logger,
) *App {
	if deps.Log == nil {
		deps.Log = log
	}
	if deps.Guard == nil {
		deps.Guard = billing.NewTenantGuard(log)
	}

	// Инициализируем движок биллинга
	statusService := billing.NewStatusService(deps)
	limits := billing.NewLimitEvaluator(deps)
	planChanger := billing.NewPlanChangeOrchestrator(deps)
	lifecycle := billing.NewLifecycleService(deps)
	reconciler := billing.NewReconciler(deps)

	// Инициализируем обработчики HTTP
	billingHandler := handlers.NewBillingHandler(handlers.BillingHandlerDeps{
		Status:    statusService,
		Limits:    limits,
		Plans:     deps.Plans,
		Changer:   planChanger,
		Lifecycle: lifecycle,
		Resyncer:  reconciler,
		Log:       log,
	})
	webhookHandler := handlers.NewWebhookHandler(verifier, reconciler, log)

	return &App{
		Config:           cfg,
		Registry:         registry,
		Reconciler:       reconciler,
		BillingHandler:   billingHandler,
		WebhookHandler:   webhookHandler,
		AuthMiddleware:   middleware.NewJWTMiddleware(log, validator),
		AuthInterceptor:  interceptors.NewAuthInterceptor(log, validator),
		GateServer:       gate.NewGateServer(statusService, limits, log),
		LoggerMiddleware: middleware.RequestLogger(log),
		Logger:           log,
	}
}
