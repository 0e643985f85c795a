package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/Dhoini/Billing-microservice/internal/app"
	"github.com/Dhoini/Billing-microservice/internal/billing"
	"github.com/Dhoini/Billing-microservice/internal/config"
	"github.com/Dhoini/Billing-microservice/internal/db"
	gate "github.com/Dhoini/Billing-microservice/internal/grpc"
	"github.com/Dhoini/Billing-microservice/internal/http/routes"
	"github.com/Dhoini/Billing-microservice/internal/kafka"
	"github.com/Dhoini/Billing-microservice/internal/metrics"
	"github.com/Dhoini/Billing-microservice/internal/middleware"
	"github.com/Dhoini/Billing-microservice/internal/repository"
	"github.com/Dhoini/Billing-microservice/internal/stripe"
	"github.com/Dhoini/Billing-microservice/pkg/logger"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"google.golang.org/grpc/reflection" // Для дебаггинга gRPC через grpcurl/Evans
)

func main() {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Инициализируем логгер
	log := initLogger()
	defer func() { _ = log.Sync() }()

	log.Infow("Billing microservice starting up...")

	// Загружаем конфигурацию
	cfg, err := config.LoadConfig(".env")
	if err != nil {
		log.Fatalw("Failed to load configuration", "error", err)
	}
	log.SetLevel(logger.ParseLevel(cfg.Log.Level))

	// Устанавливаем режим Gin в зависимости от окружения
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	// Подключаемся к базе данных
	dbClient, err := db.NewDBClient(cfg.Database.DSN, log)
	if err != nil {
		log.Fatalw("Failed to connect to database", "error", err)
	}
	defer func() {
		if err := dbClient.Close(); err != nil {
			log.Errorw("Error closing database connection", "error", err)
		}
	}()
	log.Infow("Database connection established")

	if cfg.Database.Migrate {
		if err := repository.Migrate(ctx, dbClient.DB()); err != nil {
			log.Fatalw("Failed to apply schema", "error", err)
		}
	}

	// Инициализируем базовый репозиторий
	var subscriptionRepo repository.SubscriptionRepository = repository.NewPostgresSubscriptionRepository(dbClient.DB(), log)

	// Создаем репозиторий с кешированием, если Redis доступен
	if cfg.Redis.Addr != "" {
		redisClient, err := repository.NewRedisClient(cfg.Redis.Addr, cfg.Redis.Password, cfg.Redis.DB, log)
		if err != nil {
			// Не фатально, но предупреждаем
			log.Warnw("Failed to initialize Redis cache, continuing without caching", "error", err)
		} else {
			redisCache := repository.NewRedisCacheRepository(redisClient, cfg.Redis.CacheTTL, log)
			defer func() {
				if err := redisCache.Close(); err != nil {
					log.Errorw("Error closing Redis connection", "error", err)
				}
			}()
			subscriptionRepo = repository.NewCachedSubscriptionRepository(subscriptionRepo, redisCache, log)
			log.Infow("Using cached subscription repository")
		}
	}

	tenantRepo := repository.NewPostgresTenantRepository(dbClient.DB(), log)

	// Инициализируем клиент Stripe
	gateway, err := stripe.NewGateway(stripe.Config{
		SecretKey:     cfg.Stripe.APIKey,
		WebhookSecret: cfg.Stripe.WebhookSecret,
		APIURL:        cfg.Stripe.APIURL,
		MaxRetries:    cfg.Stripe.MaxRetries,
	}, log)
	if err != nil {
		log.Fatalw("Failed to initialize Stripe gateway", "error", err)
	}

	// Инициализация Prometheus
	promRegistry := prometheus.NewRegistry()
	promRegistry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	deps := billing.Dependencies{
		Subscriptions: subscriptionRepo,
		Plans:         repository.NewPostgresPlanRepository(dbClient.DB(), log),
		Tenants:       tenantRepo,
		Usage:         repository.NewPostgresUsageRepository(dbClient.DB(), log),
		Gateway:       gateway,
		Metrics:       metrics.NewBillingMetrics(promRegistry, log),
		Guard:         billing.NewTenantGuard(log),
		Log:           log,
	}

	// Инициализируем Kafka. Без брокеров события и уведомления не отправляются.
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaConfig := kafka.NewConfig(cfg.Kafka.Brokers, cfg.Kafka.EventsTopic, cfg.Kafka.NotificationsTopic)

		topicsCtx, topicsCancel := context.WithTimeout(ctx, 30*time.Second)
		if err := kafka.EnsureKafkaTopics(topicsCtx, kafkaConfig, log); err != nil {
			log.Warnw("Failed to ensure Kafka topics", "error", err)
		}
		topicsCancel()

		publisher, err := kafka.NewEventPublisher(kafkaConfig.Brokers, kafkaConfig.EventsTopic, log)
		if err != nil {
			log.Errorw("Failed to initialize Kafka publisher, continuing without event publishing", "error", err)
		} else {
			deps.Publisher = publisher
			defer func() {
				if err := publisher.Close(); err != nil {
					log.Errorw("Error closing Kafka publisher", "error", err)
				}
			}()
		}

		producer, err := kafka.NewSyncProducer(kafkaConfig)
		if err != nil {
			log.Errorw("Failed to initialize Kafka notifier, continuing without notifications", "error", err)
		} else {
			notifier := kafka.NewNotifier(producer, kafkaConfig.NotificationsTopic, log)
			deps.Notifier = notifier
			defer func() {
				if err := notifier.Close(); err != nil {
					log.Errorw("Error closing Kafka notifier", "error", err)
				}
			}()
		}
	} else {
		log.Warnw("Kafka brokers are not configured, billing events and notifications are disabled")
	}

	// Создаем валидатор токенов
	validator := &middleware.DefaultTokenValidator{
		Secret: []byte(cfg.Auth.JWTSecret),
	}
	application := app.NewApp(cfg, deps, gateway, validator, promRegistry, log)

	// Инициализируем HTTP сервер с роутами
	router := gin.New() // Используем gin.New() для большего контроля над middleware
	routes.SetupRoutes(router, application, log)

	httpServer := &http.Server{
		Addr:         ":" + cfg.App.Port,
		Handler:      router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
	}

	// Запускаем HTTP сервер в горутине
	go func() {
		log.Infow("Starting HTTP server", "port", cfg.App.Port)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalw("Failed to start HTTP server", "error", err)
		}
	}()

	// --- Настройка gRPC сервера ---
	grpcListener, err := net.Listen("tcp", ":"+cfg.GRPC.Port)
	if err != nil {
		log.Fatalw("Failed to listen for gRPC", "error", err)
	}

	grpcServer := gate.NewServer(application.AuthInterceptor.Unary())
	gate.RegisterBillingGateServer(grpcServer, application.GateServer)

	// Включаем gRPC Reflection для дебаггинга (удобно с grpcurl/Evans)
	reflection.Register(grpcServer)
	log.Infow("gRPC reflection service registered")

	// Запускаем gRPC сервер в горутине
	go func() {
		log.Infow("Starting gRPC server", "port", cfg.GRPC.Port)
		if err := grpcServer.Serve(grpcListener); err != nil {
			log.Fatalw("Failed to start gRPC server", "error", err)
		}
	}()

	// --- Graceful Shutdown ---
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Infow("Shutdown signal received")

	// Даем 10 секунд на завершение текущих запросов
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()

	// Останавливаем HTTP сервер
	log.Infow("Shutting down HTTP server")
	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		log.Errorw("HTTP server shutdown error", "error", err)
	} else {
		log.Infow("HTTP server gracefully stopped")
	}

	// Останавливаем gRPC сервер
	log.Infow("Shutting down gRPC server")
	grpcServer.GracefulStop() // GracefulStop ждет завершения текущих RPC
	log.Infow("gRPC server gracefully stopped")

	log.Infow("Cleanup finished. Goodbye!")
}

// initLogger инициализирует логгер до загрузки конфигурации.
func initLogger() *logger.Logger {
	return logger.New(logger.ParseLevel(os.Getenv("LOG_LEVEL")))
}
