package grpc

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/types/known/structpb"

	"momopay-service/internal/config"
	"momopay-service/internal/hubtel"
	"momopay-service/internal/ledger"
	"momopay-service/internal/logging"
	"momopay-service/internal/otp"
	"momopay-service/internal/reconcile"
	"momopay-service/internal/services"
	"momopay-service/internal/store"
	"momopay-service/pkg/common"
)

type noGateway struct{}

func (noGateway) Initiate(ctx context.Context, req hubtel.InitiateRequest) (*hubtel.InitiateResult, error) {
	return &hubtel.InitiateResult{Accepted: true, GatewayTransactionID: "hub-1"}, nil
}

func (noGateway) CheckStatus(ctx context.Context, reference string) (*hubtel.StatusResult, error) {
	return &hubtel.StatusResult{Found: false}, nil
}

func (noGateway) VerifyOtp(ctx context.Context, id, code string) (*hubtel.VerifyResult, error) {
	return &hubtel.VerifyResult{}, nil
}

type downGateway struct{ noGateway }

func (downGateway) Initiate(ctx context.Context, req hubtel.InitiateRequest) (*hubtel.InitiateResult, error) {
	return nil, common.NewError(common.KindGatewayTransport, "hubtel initiate failed")
}

func dial(t *testing.T, gw services.Gateway) *grpc.ClientConn {
	t.Helper()
	st := store.NewMemoryStore()
	log := logging.Discard()
	l := ledger.New(st, log)
	m := otp.NewManager(config.OTPConfig{TTL: time.Minute, MaxAttempts: 3}, log)
	engine := reconcile.NewEngine(st, l, m, log)
	payments := services.NewPaymentService(st, l, engine, m, gw, nil, log)

	lis := bufconn.Listen(1 << 20)
	srv := NewServer(payments, log)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func invoke(t *testing.T, conn *grpc.ClientConn, method string, in map[string]interface{}) (*structpb.Struct, error) {
	t.Helper()
	req, err := structpb.NewStruct(in)
	require.NoError(t, err)
	out := new(structpb.Struct)
	err = conn.Invoke(context.Background(), "/"+ServiceName+"/"+method, req, out)
	return out, err
}

func TestInitiateAndPollOverGRPC(t *testing.T) {
	conn := dial(t, noGateway{})

	out, err := invoke(t, conn, "InitiatePayment", map[string]interface{}{
		"amount":        "30.00",
		"customer_name": "Abena Darko",
		"phone_number":  "233551234567",
		"network":       "AirtelTigo",
	})
	require.NoError(t, err)
	data := out.Fields["data"].GetStructValue()
	require.NotNil(t, data)
	assert.True(t, data.Fields["accepted"].GetBoolValue())
	txn := data.Fields["transaction"].GetStructValue()
	assert.Equal(t, "processing", txn.Fields["status"].GetStringValue())
	reference := txn.Fields["reference"].GetStringValue()

	out, err = invoke(t, conn, "PollStatus", map[string]interface{}{"reference": reference})
	require.NoError(t, err)
	view := out.Fields["data"].GetStructValue()
	assert.Equal(t, "failed", view.Fields["status"].GetStringValue())

	_, err = invoke(t, conn, "HandleCallback", map[string]interface{}{
		"payload": map[string]interface{}{
			"ResponseCode": "0000",
			"Status":       "Success",
			"Data":         map[string]interface{}{"ClientReference": reference},
		},
	})
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))
}

func TestErrorCodes(t *testing.T) {
	conn := dial(t, noGateway{})

	_, err := invoke(t, conn, "GetTransaction", map[string]interface{}{"reference": "PAY-NONE"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	_, err = invoke(t, conn, "GenerateReference", map[string]interface{}{"prefix": "toolongprefix"})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))

	out, err := invoke(t, conn, "GenerateReference", map[string]interface{}{"prefix": "web"})
	require.NoError(t, err)
	ref := out.Fields["data"].GetStructValue().Fields["reference"].GetStringValue()
	assert.Regexp(t, `^WEB-`, ref)
}

func envelopeDetail(t *testing.T, err error) *structpb.Struct {
	t.Helper()
	st, ok := status.FromError(err)
	require.True(t, ok)
	details := st.Details()
	require.Len(t, details, 1)
	env, ok := details[0].(*structpb.Struct)
	require.True(t, ok, "detail is %T", details[0])
	return env
}

func TestOtpRejectionCarriesView(t *testing.T) {
	conn := dial(t, noGateway{})

	out, err := invoke(t, conn, "InitiatePayment", map[string]interface{}{
		"amount":        "15.00",
		"customer_name": "Kofi Mensah",
		"phone_number":  "233241234567",
		"network":       "MTN",
	})
	require.NoError(t, err)
	reference := out.Fields["data"].GetStructValue().Fields["transaction"].GetStructValue().Fields["reference"].GetStringValue()

	_, err = invoke(t, conn, "IssueOtpChallenge", map[string]interface{}{
		"reference":   reference,
		"code":        "123456",
		"ttl_seconds": 60,
	})
	require.NoError(t, err)

	_, err = invoke(t, conn, "VerifyOtp", map[string]interface{}{"reference": reference, "otp": "000000"})
	require.Error(t, err)
	assert.Equal(t, codes.FailedPrecondition, status.Code(err))

	env := envelopeDetail(t, err)
	assert.Equal(t, string(common.KindOtpRejected), env.Fields["kind"].GetStringValue())
	view := env.Fields["data"].GetStructValue()
	require.NotNil(t, view)
	assert.Equal(t, float64(2), view.Fields["attempts_remaining"].GetNumberValue())
	assert.Equal(t, "processing", view.Fields["status"].GetStringValue())
}

func TestInitiateTransportErrorCarriesTransaction(t *testing.T) {
	conn := dial(t, downGateway{})

	_, err := invoke(t, conn, "InitiatePayment", map[string]interface{}{
		"amount":        "15.00",
		"customer_name": "Kofi Mensah",
		"phone_number":  "233241234567",
	})
	require.Error(t, err)
	assert.Equal(t, codes.Unavailable, status.Code(err))

	env := envelopeDetail(t, err)
	assert.True(t, env.Fields["retryable"].GetBoolValue())
	txn := env.Fields["data"].GetStructValue().Fields["transaction"].GetStructValue()
	require.NotNil(t, txn)
	assert.Equal(t, "pending", txn.Fields["status"].GetStringValue())
	assert.Equal(t, "15.00", txn.Fields["amount"].GetStringValue())
}

func TestHealth(t *testing.T) {
	conn := dial(t, noGateway{})
	resp, err := healthpb.NewHealthClient(conn).Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, resp.Status)
}
