package api

import (
	"context"

	"github.com/matheus3301/chatd/internal/status"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	grpcstatus "google.golang.org/grpc/status"
)

// UnaryGuard rejects calls while the daemon is not accepting work. Status is
// always answered.
func UnaryGuard(machine *status.Machine, logger *zap.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		if info.FullMethod != MethodStatus && !machine.Accepting() {
			return nil, grpcstatus.Errorf(codes.Unavailable, "daemon is %s", machine.Current())
		}
		resp, err := handler(ctx, req)
		if err != nil && logger != nil {
			logger.Debug("rpc failed", zap.String("method", info.FullMethod), zap.Error(err))
		}
		return resp, err
	}
}

// StreamGuard rejects new streams while the daemon is not accepting work.
func StreamGuard(machine *status.Machine) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) error {
		if !machine.Accepting() {
			return grpcstatus.Errorf(codes.Unavailable, "daemon is %s", machine.Current())
		}
		return handler(srv, ss)
	}
}
