package gate

import (
	"context"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"
)

// Полное имя сервиса. Сообщения описаны как google.protobuf.Struct,
// поэтому сгенерированный код не нужен.
const (
	ServiceName = "billing.v1.BillingGate"

	GetSubscriptionStatusMethod = "/" + ServiceName + "/GetSubscriptionStatus"
	CheckLimitMethod            = "/" + ServiceName + "/CheckLimit"
)

// BillingGateServer серверная сторона сервиса.
type BillingGateServer interface {
	GetSubscriptionStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	CheckLimit(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

// RegisterBillingGateServer регистрирует реализацию на сервере.
func RegisterBillingGateServer(s grpc.ServiceRegistrar, srv BillingGateServer) {
	s.RegisterService(&BillingGateServiceDesc, srv)
}

func getSubscriptionStatusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BillingGateServer).GetSubscriptionStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: GetSubscriptionStatusMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(BillingGateServer).GetSubscriptionStatus(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

func checkLimitHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(structpb.Struct)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(BillingGateServer).CheckLimit(ctx, in)
	}
	info := &grpc.UnaryServerInfo{
		Server:     srv,
		FullMethod: CheckLimitMethod,
	}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(BillingGateServer).CheckLimit(ctx, req.(*structpb.Struct))
	}
	return interceptor(ctx, in, info, handler)
}

// BillingGateServiceDesc описание сервиса для grpc.Server.
var BillingGateServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*BillingGateServer)(nil),
	Methods: []grpc.MethodDesc{
		{
			MethodName: "GetSubscriptionStatus",
			Handler:    getSubscriptionStatusHandler,
		},
		{
			MethodName: "CheckLimit",
			Handler:    checkLimitHandler,
		},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "billing/v1/gate.proto",
}

// BillingGateClient клиент для внутренних сервисов (слой проверки запросов).
type BillingGateClient struct {
	cc grpc.ClientConnInterface
}

func NewBillingGateClient(cc grpc.ClientConnInterface) *BillingGateClient {
	return &BillingGateClient{cc: cc}
}

// GetSubscriptionStatus возвращает статус подписки тенанта из токена.
func (c *BillingGateClient) GetSubscriptionStatus(ctx context.Context, opts ...grpc.CallOption) (*structpb.Struct, error) {
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, GetSubscriptionStatusMethod, &structpb.Struct{}, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

// CheckLimit проверяет квоту ресурса (bookings, employees, sms).
func (c *BillingGateClient) CheckLimit(ctx context.Context, resource string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.checkLimit(ctx, resource, false, opts...)
}

// EnforceLimit как CheckLimit, но исчерпанная квота возвращается ошибкой codes.ResourceExhausted.
func (c *BillingGateClient) EnforceLimit(ctx context.Context, resource string, opts ...grpc.CallOption) (*structpb.Struct, error) {
	return c.checkLimit(ctx, resource, true, opts...)
}

func (c *BillingGateClient) checkLimit(ctx context.Context, resource string, enforce bool, opts ...grpc.CallOption) (*structpb.Struct, error) {
	in := &structpb.Struct{
		Fields: map[string]*structpb.Value{
			"resource": structpb.NewStringValue(resource),
			"enforce":  structpb.NewBoolValue(enforce),
		},
	}
	out := new(structpb.Struct)
	if err := c.cc.Invoke(ctx, CheckLimitMethod, in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}
