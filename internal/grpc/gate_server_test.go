package gate

import (
	"context"
	"net"
	"testing"

	"github.com/Dhoini/Billing-microservice/internal/billing"
	"github.com/Dhoini/Billing-microservice/internal/domain"
	"github.com/Dhoini/Billing-microservice/internal/interceptors"
	"github.com/Dhoini/Billing-microservice/internal/middleware"
	"github.com/Dhoini/Billing-microservice/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
)

type stubValidator struct{}

// Validate принимает токен вида "tenant:<id>".
func (stubValidator) Validate(token string) (*middleware.TokenClaims, error) {
	if len(token) > len("tenant:") && token[:len("tenant:")] == "tenant:" {
		return &middleware.TokenClaims{TenantClaim: token[len("tenant:"):]}, nil
	}
	return nil, assert.AnError
}

type stubEngine struct {
	statusErr error
	limit     int64
}

func (s *stubEngine) GetStatus(_ context.Context, tenantID string) (*billing.StatusView, error) {
	if s.statusErr != nil {
		return nil, s.statusErr
	}
	st := domain.SubscriptionStatusPastDue
	days := 2
	return &billing.StatusView{
		HasActiveSubscription: true,
		PlanID:                "basic-" + tenantID,
		Status:                &st,
		IsPastDue:             true,
		DaysUntilBlock:        &days,
		GracePeriodDays:       3,
	}, nil
}

func (s *stubEngine) Check(_ context.Context, _ string, resource domain.Resource) (domain.LimitCheckResult, error) {
	remaining := s.limit - 50
	return domain.LimitCheckResult{
		CanProceed:  remaining > 0,
		Current:     50,
		Limit:       &s.limit,
		Remaining:   &remaining,
		PercentUsed: 100,
		Message:     string(resource) + " limit reached",
	}, nil
}

func (s *stubEngine) Enforce(ctx context.Context, tenantID string, resource domain.Resource) (domain.LimitCheckResult, error) {
	result, _ := s.Check(ctx, tenantID, resource)
	if !result.CanProceed {
		return result, &domain.QuotaExceededError{Resource: resource, Result: result}
	}
	return result, nil
}

func newGateClient(t *testing.T, engine *stubEngine) *BillingGateClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	srv := NewServer(interceptors.NewAuthInterceptor(logger.NewNop(), stubValidator{}).Unary())
	RegisterBillingGateServer(srv, NewGateServer(engine, engine, logger.NewNop()))
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return NewBillingGateClient(conn)
}

func withToken(token string) context.Context {
	return metadata.AppendToOutgoingContext(context.Background(), "authorization", "Bearer "+token)
}

func TestGate_GetSubscriptionStatus(t *testing.T) {
	client := newGateClient(t, &stubEngine{})

	out, err := client.GetSubscriptionStatus(withToken("tenant:t1"))
	require.NoError(t, err)
	fields := out.GetFields()
	assert.Equal(t, "basic-t1", fields["planId"].GetStringValue())
	assert.Equal(t, "PAST_DUE", fields["status"].GetStringValue())
	assert.Equal(t, float64(2), fields["daysUntilBlock"].GetNumberValue())
	assert.True(t, fields["isPastDue"].GetBoolValue())
}

func TestGate_CheckLimit(t *testing.T) {
	client := newGateClient(t, &stubEngine{limit: 50})

	out, err := client.CheckLimit(withToken("tenant:t1"), "bookings")
	require.NoError(t, err)
	assert.False(t, out.GetFields()["canProceed"].GetBoolValue())
	assert.Equal(t, "bookings limit reached", out.GetFields()["message"].GetStringValue())

	_, err = client.CheckLimit(withToken("tenant:t1"), "rooms")
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
}

func TestGate_EnforceLimit(t *testing.T) {
	client := newGateClient(t, &stubEngine{limit: 50})

	_, err := client.EnforceLimit(withToken("tenant:t1"), "sms")
	st := status.Convert(err)
	assert.Equal(t, codes.ResourceExhausted, st.Code())
	assert.Equal(t, "sms limit reached", st.Message())

	client = newGateClient(t, &stubEngine{limit: 100})
	out, err := client.EnforceLimit(withToken("tenant:t1"), "sms")
	require.NoError(t, err)
	assert.True(t, out.GetFields()["canProceed"].GetBoolValue())
	assert.Equal(t, float64(50), out.GetFields()["remaining"].GetNumberValue())
}

func TestGate_Errors(t *testing.T) {
	client := newGateClient(t, &stubEngine{statusErr: domain.ErrTenantNotFound})

	_, err := client.GetSubscriptionStatus(withToken("tenant:ghost"))
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = client.GetSubscriptionStatus(context.Background())
	assert.Equal(t, codes.Unauthenticated, status.Code(err))

	_, err = client.GetSubscriptionStatus(withToken("garbage"))
	assert.Equal(t, codes.Unauthenticated, status.Code(err))
}

func TestMapErrorToGRPCStatus(t *testing.T) {
	assert.Equal(t, codes.NotFound, status.Code(mapErrorToGRPCStatus(domain.ErrPlanNotFound)))
	assert.Equal(t, codes.InvalidArgument, status.Code(mapErrorToGRPCStatus(domain.ErrInvalidInput)))
	assert.Equal(t, codes.FailedPrecondition, status.Code(mapErrorToGRPCStatus(domain.ErrInvalidOperation)))
	assert.Equal(t, codes.ResourceExhausted, status.Code(mapErrorToGRPCStatus(&domain.QuotaExceededError{Resource: domain.ResourceBookings})))
	st := status.Convert(mapErrorToGRPCStatus(assert.AnError))
	assert.Equal(t, codes.Internal, st.Code())
	assert.Equal(t, "Internal server error", st.Message())
}
