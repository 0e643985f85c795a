package interceptors

import (
	"context"
	"strings"

	"github.com/Dhoini/Billing-microservice/internal/middleware" // Используем тот же пакет для ключа и валидатора
	"github.com/Dhoini/Billing-microservice/pkg/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
)

type AuthInterceptor struct {
	log            *logger.Logger
	validator      middleware.TokenValidator
	requiredScopes []string
}

func NewAuthInterceptor(log *logger.Logger, validator middleware.TokenValidator, requiredScopes ...string) *AuthInterceptor {
	return &AuthInterceptor{
		log:            log,
		validator:      validator,
		requiredScopes: requiredScopes,
	}
}

// Unary возвращает UnaryServerInterceptor для проверки JWT.
func (i *AuthInterceptor) Unary() grpc.UnaryServerInterceptor {
	return func(
		ctx context.Context,
		req interface{},
		info *grpc.UnaryServerInfo,
		handler grpc.UnaryHandler,
	) (interface{}, error) {
		// Получаем метаданные из контекста
		md, ok := metadata.FromIncomingContext(ctx)
		if !ok {
			i.log.Warnw("gRPC Auth: missing metadata", "method", info.FullMethod)
			return nil, status.Errorf(codes.Unauthenticated, "missing metadata")
		}

		// Ищем заголовок авторизации
		authHeaders := md.Get("authorization")
		if len(authHeaders) == 0 {
			i.log.Warnw("gRPC Auth: missing authorization header", "method", info.FullMethod)
			return nil, status.Errorf(codes.Unauthenticated, "missing authorization header")
		}

		// Извлекаем токен (ожидаем "Bearer <token>")
		authHeader := authHeaders[0]
		if !strings.HasPrefix(authHeader, "Bearer ") {
			i.log.Warnw("gRPC Auth: invalid authorization header format", "method", info.FullMethod)
			return nil, status.Errorf(codes.Unauthenticated, "invalid authorization header format")
		}
		tokenString := strings.TrimPrefix(authHeader, "Bearer ")

		// Валидируем токен
		claims, err := i.validator.Validate(tokenString)
		if err != nil {
			i.log.Warnw("gRPC Auth: invalid token", "method", info.FullMethod, "error", err)
			return nil, status.Errorf(codes.Unauthenticated, "invalid token: %v", err)
		}

		if !middleware.HasRequiredScope(claims.Scope, i.requiredScopes) {
			i.log.Warnw("gRPC Auth: insufficient scope", "method", info.FullMethod, "scope", claims.Scope)
			return nil, status.Errorf(codes.PermissionDenied, "insufficient scope")
		}

		tenantID := claims.TenantID()
		if tenantID == "" {
			i.log.Warnw("gRPC Auth: tenant ID missing in token", "method", info.FullMethod)
			return nil, status.Errorf(codes.Unauthenticated, "tenant ID missing in token")
		}

		i.log.Debugw("Tenant authenticated via gRPC", "tenantID", tenantID, "method", info.FullMethod)
		return handler(middleware.WithTenantID(ctx, tenantID), req)
	}
}
