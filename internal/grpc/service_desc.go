package grpc

import (
	"context"
	"runtime/debug"
	"time"

	"github.com/sirupsen/logrus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/types/known/structpb"
)

type unaryCall func(PaymentServer, context.Context, *structpb.Struct) (*structpb.Struct, error)

func unaryHandler(method string, call unaryCall) grpc.MethodHandler {
	return func(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
		in := new(structpb.Struct)
		if err := dec(in); err != nil {
			return nil, err
		}
		if interceptor == nil {
			return call(srv.(PaymentServer), ctx, in)
		}
		info := &grpc.UnaryServerInfo{
			Server:     srv,
			FullMethod: "/" + ServiceName + "/" + method,
		}
		handler := func(ctx context.Context, req interface{}) (interface{}, error) {
			return call(srv.(PaymentServer), ctx, req.(*structpb.Struct))
		}
		return interceptor(ctx, in, info, handler)
	}
}

var PaymentServiceDesc = grpc.ServiceDesc{
	ServiceName: ServiceName,
	HandlerType: (*PaymentServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "CreateTransaction", Handler: unaryHandler("CreateTransaction", PaymentServer.CreateTransaction)},
		{MethodName: "InitiatePayment", Handler: unaryHandler("InitiatePayment", PaymentServer.InitiatePayment)},
		{MethodName: "RecordInitiationResult", Handler: unaryHandler("RecordInitiationResult", PaymentServer.RecordInitiationResult)},
		{MethodName: "HandleCallback", Handler: unaryHandler("HandleCallback", PaymentServer.HandleCallback)},
		{MethodName: "PollStatus", Handler: unaryHandler("PollStatus", PaymentServer.PollStatus)},
		{MethodName: "IssueOtpChallenge", Handler: unaryHandler("IssueOtpChallenge", PaymentServer.IssueOtpChallenge)},
		{MethodName: "VerifyOtp", Handler: unaryHandler("VerifyOtp", PaymentServer.VerifyOtp)},
		{MethodName: "GetTransaction", Handler: unaryHandler("GetTransaction", PaymentServer.GetTransaction)},
		{MethodName: "GenerateReference", Handler: unaryHandler("GenerateReference", PaymentServer.GenerateReference)},
		{MethodName: "SendSMS", Handler: unaryHandler("SendSMS", PaymentServer.SendSMS)},
	},
	Streams:  []grpc.StreamDesc{},
	Metadata: "momopay/v1/payment.proto",
}

func logInterceptor(log *logrus.Entry) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		entry := log.WithFields(logrus.Fields{
			"method":   info.FullMethod,
			"code":     status.Code(err).String(),
			"duration": time.Since(start).String(),
		})
		if status.Code(err) == codes.Internal {
			entry.WithError(err).Error("rpc failed")
		} else {
			entry.Debug("rpc")
		}
		return resp, err
	}
}

func recoverInterceptor(log *logrus.Entry) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.WithFields(logrus.Fields{
					"method": info.FullMethod,
					"panic":  r,
					"stack":  string(debug.Stack()),
				}).Error("rpc panicked")
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}
