package gate

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/Dhoini/Billing-microservice/internal/billing"
	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/internal/middleware"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

// StatusQuery статус подписки тенанта.
type StatusQuery interface {
	GetStatus(ctx context.Context, tenantID string) (*billing.StatusView, error)
}

// LimitChecker проверка квоты одного ресурса.
// Enforce дополнительно отказывает, если квота исчерпана.
type LimitChecker interface {
	Check(ctx context.Context, tenantID string, resource domain.Resource) (domain.LimitCheckResult, error)
	Enforce(ctx context.Context, tenantID string, resource domain.Resource) (domain.LimitCheckResult, error)
}

// GateServer реализует BillingGateServer поверх движка биллинга.
type GateServer struct {
	status StatusQuery
	limits LimitChecker
	log    *logger.Logger
}

func NewGateServer(status StatusQuery, limits LimitChecker, log *logger.Logger) *GateServer {
	return &GateServer{
		status: status,
		limits: limits,
		log:    log,
	}
}

// NewServer создает gRPC сервер с keepalive и цепочкой интерцепторов.
func NewServer(interceptors ...grpc.UnaryServerInterceptor) *grpc.Server {
	// Настройки keepalive для gRPC
	kaParams := keepalive.ServerParameters{
		MaxConnectionIdle:     time.Minute * 5,  // Максимальное время простоя соединения
		MaxConnectionAge:      time.Hour,        // Максимальное время жизни соединения
		MaxConnectionAgeGrace: time.Minute * 5,  // Дополнительное время для завершения запросов при закрытии соединения
		Time:                  time.Minute * 2,  // Время между пингами для проверки активности
		Timeout:               time.Second * 20, // Таймаут после которого соединение закрывается если нет ответа на пинг
	}

	return grpc.NewServer(
		grpc.KeepaliveParams(kaParams),
		grpc.ChainUnaryInterceptor(interceptors...),
	)
}

func (s *GateServer) GetSubscriptionStatus(ctx context.Context, _ *structpb.Struct) (*structpb.Struct, error) {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	view, err := s.status.GetStatus(ctx, tenantID)
	if err != nil {
		s.log.Warnw("gRPC GetSubscriptionStatus failed", "error", err, "tenantID", tenantID)
		return nil, mapErrorToGRPCStatus(err)
	}
	return toStruct(view)
}

// CheckLimit возвращает результат проверки квоты. С enforce=true исчерпанная
// квота дает codes.ResourceExhausted с текстом для пользователя.
func (s *GateServer) CheckLimit(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	tenantID, err := tenantFromContext(ctx)
	if err != nil {
		return nil, err
	}

	raw := req.GetFields()["resource"].GetStringValue()
	resource, ok := domain.ParseResource(raw)
	if !ok {
		return nil, status.Errorf(codes.InvalidArgument, "unknown resource %q", raw)
	}

	check := s.limits.Check
	if req.GetFields()["enforce"].GetBoolValue() {
		check = s.limits.Enforce
	}
	result, err := check(ctx, tenantID, resource)
	if err != nil {
		s.log.Warnw("gRPC CheckLimit failed", "error", err, "tenantID", tenantID, "resource", resource)
		return nil, mapErrorToGRPCStatus(err)
	}
	return toStruct(result)
}

func tenantFromContext(ctx context.Context) (string, error) {
	tenantID, ok := middleware.TenantIDFromContext(ctx)
	if !ok {
		return "", status.Error(codes.Unauthenticated, "tenant ID not found in context")
	}
	return tenantID, nil
}

// toStruct переводит JSON представление ответа в google.protobuf.Struct.
func toStruct(v interface{}) (*structpb.Struct, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	var fields map[string]interface{}
	if err := json.Unmarshal(data, &fields); err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	out, err := structpb.NewStruct(fields)
	if err != nil {
		return nil, status.Errorf(codes.Internal, "encode response: %v", err)
	}
	return out, nil
}

func mapErrorToGRPCStatus(err error) error {
	switch {
	case errors.Is(err, domain.ErrTenantNotFound),
		errors.Is(err, domain.ErrSubscriptionNotFound),
		errors.Is(err, domain.ErrPlanNotFound):
		return status.Error(codes.NotFound, err.Error())
	case errors.Is(err, domain.ErrInvalidInput):
		return status.Error(codes.InvalidArgument, err.Error())
	case errors.Is(err, domain.ErrInvalidOperation):
		return status.Error(codes.FailedPrecondition, err.Error())
	case errors.Is(err, domain.ErrQuotaExceeded):
		return status.Error(codes.ResourceExhausted, err.Error())
	default:
		return status.Error(codes.Internal, "Internal server error")
	}
}
