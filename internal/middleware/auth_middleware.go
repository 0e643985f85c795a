package middleware

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/Dhoini/Billing-microservice/pkg/logger"
	"github.com/Dhoini/Billing-microservice/pkg/res"

	"github.com/gin-gonic/gin"
	"github.com/golang-jwt/jwt/v5"
)

// ContextKey тип для ключей контекста во избежание коллизий.
type ContextKey string

const (
	// ContextTenantIDKey ключ для хранения ID тенанта в контексте (используется HTTP middleware и gRPC interceptor).
	ContextTenantIDKey ContextKey = "tenantID"
	authHeaderPrefix              = "Bearer "
)

type TokenValidator interface {
	Validate(tokenString string) (*TokenClaims, error)
}

// TokenClaims claims токена тенанта. tenant_id приоритетнее sub.
type TokenClaims struct {
	TenantClaim string `json:"tenant_id,omitempty"`
	UserEmail   string `json:"email,omitempty"`
	Scope       string `json:"scope,omitempty"`
	jwt.RegisteredClaims
}

// TenantID возвращает тенанта из claim tenant_id или из sub.
func (c *TokenClaims) TenantID() string {
	if c.TenantClaim != "" {
		return c.TenantClaim
	}
	return c.Subject
}

type JWTMiddleware struct {
	log       *logger.Logger
	validator TokenValidator
}

func NewJWTMiddleware(log *logger.Logger, validator TokenValidator) *JWTMiddleware {
	return &JWTMiddleware{
		log:       log,
		validator: validator,
	}
}

func (m *JWTMiddleware) RequireAuth(requiredScopes ...string) gin.HandlerFunc {
	return func(c *gin.Context) {
		authHeader := c.GetHeader("Authorization")
		if authHeader == "" {
			m.handleAuthError(c, "Missing authorization token")
			return
		}

		tokenString := strings.TrimPrefix(authHeader, authHeaderPrefix)
		claims, err := m.validator.Validate(tokenString)
		if err != nil {
			m.handleAuthError(c, fmt.Sprintf("Token validation failed: %v", err))
			return
		}

		if !HasRequiredScope(claims.Scope, requiredScopes) {
			m.handleAuthError(c, "Insufficient token permissions")
			return
		}

		tenantID := claims.TenantID()
		if tenantID == "" {
			m.handleAuthError(c, "Tenant ID (tenant_id or sub) missing in token")
			return
		}

		c.Set(string(ContextTenantIDKey), tenantID)
		c.Request = c.Request.WithContext(WithTenantID(c.Request.Context(), tenantID))
		m.log.Debugw("Tenant authenticated via HTTP", "tenantID", tenantID)
		c.Next()
	}
}

// HasRequiredScope: пустой список требований пропускает любой токен.
func HasRequiredScope(tokenScope string, requiredScopes []string) bool {
	if len(requiredScopes) == 0 {
		return true
	}
	granted := strings.Fields(tokenScope)
	for _, scope := range requiredScopes {
		for _, g := range granted {
			if g == scope {
				return true
			}
		}
	}
	return false
}

func (m *JWTMiddleware) handleAuthError(c *gin.Context, message string) {
	m.log.Warnw("HTTP Authentication failed", "path", c.Request.URL.Path, "error", message)
	res.JsonResponse(c.Writer, res.ErrorResponse{
		Error:     message,
		ErrorCode: http.StatusUnauthorized,
	}, http.StatusUnauthorized)
	c.Abort()
}

// WithTenantID кладет ID тенанта в context.Context.
func WithTenantID(ctx context.Context, tenantID string) context.Context {
	return context.WithValue(ctx, ContextTenantIDKey, tenantID)
}

// TenantIDFromContext достает ID тенанта, положенный middleware или interceptor.
func TenantIDFromContext(ctx context.Context) (string, bool) {
	tenantID, ok := ctx.Value(ContextTenantIDKey).(string)
	return tenantID, ok && tenantID != ""
}

// DefaultTokenValidator - реализация валидатора по умолчанию.
type DefaultTokenValidator struct {
	Secret []byte
}

func (v *DefaultTokenValidator) Validate(tokenString string) (*TokenClaims, error) {
	token, err := jwt.ParseWithClaims(tokenString, &TokenClaims{}, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", token.Header["alg"])
		}
		return v.Secret, nil
	})

	if err != nil {
		if errors.Is(err, jwt.ErrTokenMalformed) {
			return nil, errors.New("malformed token")
		} else if errors.Is(err, jwt.ErrTokenSignatureInvalid) {
			return nil, errors.New("invalid token signature")
		} else if errors.Is(err, jwt.ErrTokenExpired) || errors.Is(err, jwt.ErrTokenNotValidYet) {
			return nil, errors.New("token expired")
		} else {
			return nil, fmt.Errorf("invalid token: %w", err)
		}
	}

	if claims, ok := token.Claims.(*TokenClaims); ok && token.Valid {
		return claims, nil
	}

	return nil, errors.New("invalid token claims")
}
