package daemon

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"

	"github.com/matheus3301/chatd/internal/api"
	"github.com/matheus3301/chatd/internal/profile"
	"github.com/matheus3301/chatd/internal/status"
	"go.uber.org/zap"
	"google.golang.org/grpc"
)

// Server manages the gRPC server lifecycle for a profile daemon.
type Server struct {
	grpcServer *grpc.Server
	listener   net.Listener
	socketPath string
	logger     *zap.Logger
}

// NewServer creates a gRPC server bound to the profile's Unix domain socket.
func NewServer(
	p Params,
	logger *zap.Logger,
	machine *status.Machine,
	chatSvc *api.ChatService,
) (*Server, error) {
	socketPath := p.SocketPath
	if socketPath == "" {
		socketPath = profile.SocketPath(p.ProfileName)
	}

	// Clean stale socket if it exists.
	if _, err := os.Stat(socketPath); err == nil {
		_ = os.Remove(socketPath)
	}

	listener, err := net.Listen("unix", socketPath)
	if err != nil {
		return nil, fmt.Errorf("listen unix socket: %w", err)
	}

	// Set socket permissions to 0600.
	if err := os.Chmod(socketPath, 0600); err != nil {
		_ = listener.Close()
		return nil, fmt.Errorf("chmod socket: %w", err)
	}

	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(api.UnaryGuard(machine, logger)),
		grpc.ChainStreamInterceptor(api.StreamGuard(machine)),
	)
	api.RegisterChatServiceServer(srv, chatSvc)

	return &Server{
		grpcServer: srv,
		listener:   listener,
		socketPath: socketPath,
		logger:     logger,
	}, nil
}

// Start begins serving gRPC requests. Blocks until stopped.
func (s *Server) Start() error {
	s.logger.Info("gRPC server starting", zap.String("socket", s.socketPath))
	err := s.grpcServer.Serve(s.listener)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// Stop performs a graceful shutdown and removes the socket file. Streams
// still open when ctx expires are cut.
func (s *Server) Stop(ctx context.Context) {
	s.logger.Info("gRPC server stopping")
	done := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpcServer.Stop()
		<-done
	}
	_ = s.listener.Close()
	_ = os.Remove(s.socketPath)
}
