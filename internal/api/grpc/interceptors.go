package grpc

import (
	"context"
	"time"

	"github.com/Dhoini/payment-reconciler/pkg/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// LoggingInterceptor логирует каждый унарный вызов
func LoggingInterceptor(log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (interface{}, error) {
		start := time.Now()
		resp, err := handler(ctx, req)

		code := status.Code(err)
		if code == codes.OK {
			log.Debugw("gRPC call", "method", info.FullMethod, "code", code.String(), "latency", time.Since(start).String())
		} else {
			log.Warnw("gRPC call failed", "method", info.FullMethod, "code", code.String(), "error", err, "latency", time.Since(start).String())
		}
		return resp, err
	}
}

// RecoveryInterceptor превращает панику обработчика в codes.Internal
func RecoveryInterceptor(log *logger.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req interface{}, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp interface{}, err error) {
		defer func() {
			if r := recover(); r != nil {
				log.Errorw("gRPC handler panic", "method", info.FullMethod, "panic", r)
				err = status.Errorf(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}
