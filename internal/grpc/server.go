package grpc

import (
	"context"
	"encoding/json"
	"net"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"

	"momopay-service/internal/ledger"
	"momopay-service/internal/services"
	"momopay-service/pkg/common"
)

const ServiceName = "momopay.v1.PaymentService"

// PaymentServer exposes the payment operations over gRPC. Every message is a
// google.protobuf.Struct carrying the same JSON shapes as the HTTP API.
type PaymentServer interface {
	CreateTransaction(context.Context, *structpb.Struct) (*structpb.Struct, error)
	InitiatePayment(context.Context, *structpb.Struct) (*structpb.Struct, error)
	RecordInitiationResult(context.Context, *structpb.Struct) (*structpb.Struct, error)
	HandleCallback(context.Context, *structpb.Struct) (*structpb.Struct, error)
	PollStatus(context.Context, *structpb.Struct) (*structpb.Struct, error)
	IssueOtpChallenge(context.Context, *structpb.Struct) (*structpb.Struct, error)
	VerifyOtp(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GetTransaction(context.Context, *structpb.Struct) (*structpb.Struct, error)
	GenerateReference(context.Context, *structpb.Struct) (*structpb.Struct, error)
	SendSMS(context.Context, *structpb.Struct) (*structpb.Struct, error)
}

type Server struct {
	Payments *services.PaymentService
}

type referenceRequest struct {
	Reference string `json:"reference"`
}

type initiationRequest struct {
	Reference string `json:"reference"`
	services.InitiationReport
}

type callbackRequest struct {
	Payload json.RawMessage `json:"payload"`
}

type issueOtpRequest struct {
	Reference  string `json:"reference"`
	Code       string `json:"code"`
	TTLSeconds int    `json:"ttl_seconds"`
}

type verifyOtpRequest struct {
	Reference string `json:"reference"`
	Otp       string `json:"otp"`
}

type getTransactionRequest struct {
	Reference string `json:"reference"`
	Refresh   bool   `json:"refresh"`
}

type generateReferenceRequest struct {
	Prefix string `json:"prefix"`
}

type sendSMSRequest struct {
	Phone   string `json:"phone"`
	Message string `json:"message"`
}

func (s *Server) CreateTransaction(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ledger.CreateSpec
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	txn, err := s.Payments.CreateTransaction(ctx, req)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(txn, "Transaction created")
}

func (s *Server) InitiatePayment(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req ledger.CreateSpec
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	res, err := s.Payments.InitiatePayment(ctx, req)
	if err != nil {
		if res != nil {
			return nil, toStatusWith(err, res)
		}
		return nil, toStatus(err)
	}
	return reply(res, "Payment initiated")
}

func (s *Server) RecordInitiationResult(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req initiationRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	view, err := s.Payments.RecordInitiationResult(ctx, req.Reference, req.InitiationReport)
	if err != nil {
		return nil, foldStatus(err, view)
	}
	return reply(view, "Initiation result recorded")
}

// HandleCallback expects the webhook body under "payload".
func (s *Server) HandleCallback(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req callbackRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	view, err := s.Payments.HandleCallback(ctx, req.Payload)
	if err != nil {
		return nil, foldStatus(err, view)
	}
	return reply(view, "Callback processed")
}

func (s *Server) PollStatus(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req referenceRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	view, err := s.Payments.PollStatus(ctx, req.Reference)
	if err != nil {
		return nil, foldStatus(err, view)
	}
	return reply(view, "Status refreshed")
}

func (s *Server) IssueOtpChallenge(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req issueOtpRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	view, err := s.Payments.IssueOtpChallenge(ctx, req.Reference, req.Code, time.Duration(req.TTLSeconds)*time.Second)
	if err != nil {
		return nil, foldStatus(err, view)
	}
	return reply(view, "OTP challenge issued")
}

func (s *Server) VerifyOtp(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req verifyOtpRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	view, err := s.Payments.VerifyOtp(ctx, req.Reference, req.Otp)
	if err != nil {
		return nil, foldStatus(err, view)
	}
	return reply(view, "OTP verified")
}

func (s *Server) GetTransaction(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req getTransactionRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	view, err := s.Payments.GetTransaction(ctx, req.Reference, req.Refresh)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(view, "Transaction found")
}

func (s *Server) GenerateReference(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req generateReferenceRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	ref, err := s.Payments.GenerateReference(req.Prefix)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]string{"reference": ref}, "Reference generated")
}

func (s *Server) SendSMS(ctx context.Context, in *structpb.Struct) (*structpb.Struct, error) {
	var req sendSMSRequest
	if err := decode(in, &req); err != nil {
		return nil, err
	}
	delivered, err := s.Payments.SendSMS(ctx, req.Phone, req.Message)
	if err != nil {
		return nil, toStatus(err)
	}
	return reply(map[string]bool{"delivered": delivered}, "SMS processed")
}

// NewServer builds a gRPC server with the payment service and the standard
// health service registered.
func NewServer(payments *services.PaymentService, log *logrus.Entry) *grpc.Server {
	s := grpc.NewServer(grpc.ChainUnaryInterceptor(recoverInterceptor(log), logInterceptor(log)))
	s.RegisterService(&PaymentServiceDesc, &Server{Payments: payments})

	hs := health.NewServer()
	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(s, hs)
	return s
}

// StartGRPCServer listens on port and serves until s is stopped.
func StartGRPCServer(port string, s *grpc.Server, log *logrus.Entry) error {
	lis, err := net.Listen("tcp", ":"+port)
	if err != nil {
		return err
	}
	log.WithField("port", port).Info("gRPC server listening")
	return s.Serve(lis)
}

func decode(in *structpb.Struct, v interface{}) error {
	raw, err := json.Marshal(in.AsMap())
	if err != nil {
		return status.Error(codes.InvalidArgument, err.Error())
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return status.Errorf(codes.InvalidArgument, "invalid request: %v", err)
	}
	return nil
}

func reply(data interface{}, message string) (*structpb.Struct, error) {
	out, err := toStruct(common.NewSuccessResponse(data, message))
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	return out, nil
}

func toStruct(v interface{}) (*structpb.Struct, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	var m map[string]interface{}
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, err
	}
	return structpb.NewStruct(m)
}

func toStatus(err error) error {
	res := common.ErrorResponseFrom(err, nil)
	return status.Error(res.Kind.GRPCCode(), string(res.Kind)+": "+res.Message)
}

// toStatusWith attaches the error envelope, data included, as a Struct
// detail. The bare status is returned if the detail cannot be built.
func toStatusWith(err error, data interface{}) error {
	res := common.ErrorResponseFrom(err, data)
	st := status.New(res.Kind.GRPCCode(), string(res.Kind)+": "+res.Message)
	detail, derr := toStruct(res)
	if derr != nil {
		return st.Err()
	}
	if withDetail, derr := st.WithDetails(detail); derr == nil {
		st = withDetail
	}
	return st.Err()
}

func foldStatus(err error, view *services.FoldView) error {
	if view == nil {
		return toStatus(err)
	}
	return toStatusWith(err, view)
}
