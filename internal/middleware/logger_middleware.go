package middleware

import (
	"time"

	"github.com/Dhoini/Billing-microservice/pkg/logger"
	"github.com/gin-gonic/gin"
)

// RequestLogger - Gin middleware для логирования запросов с использованием вашего логгера.
func RequestLogger(log *logger.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		// Время начала обработки запроса
		start := time.Now()

		// Путь запроса
		path := c.Request.URL.Path
		// Сырой query string, если есть
		rawQuery := c.Request.URL.RawQuery
		if rawQuery != "" {
			path = path + "?" + rawQuery
		}

		// Обрабатываем запрос следующим middleware/обработчиком
		c.Next()

		// Время окончания обработки
		end := time.Now()
		latency := end.Sub(start)

		// Получаем детали ответа
		statusCode := c.Writer.Status()
		clientIP := c.ClientIP()
		method := c.Request.Method
		userAgent := c.Request.UserAgent()
		tenantID, _ := c.Get(string(ContextTenantIDKey))

		fields := []interface{}{
			"status_code", statusCode,
			"method", method,
			"path", path,
			"latency_ms", latency.Milliseconds(),
			"client_ip", clientIP,
			"user_agent", userAgent,
		}
		if tenantID != nil {
			fields = append(fields, "tenantID", tenantID)
		}
		if errs := c.Errors.ByType(gin.ErrorTypePrivate).String(); errs != "" {
			fields = append(fields, "errors", errs)
		}

		// Health-check и сбор метрик пишем на уровне debug.
		if statusCode < 400 && (c.FullPath() == "/health" || c.FullPath() == "/metrics") {
			log.Debugw("Request handled", fields...)
			return
		}
		log.Infow("Request handled", fields...)
	}
}
