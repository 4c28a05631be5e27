package health

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// Server serves HealthChecker over gRPC on its own listener.
type Server struct {
	grpc    *grpc.Server
	lis     net.Listener
	checker *HealthChecker
	log     *slog.Logger
}

func Listen(addr string, checker *HealthChecker, log *slog.Logger) (*Server, error) {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	gs := grpc.NewServer()
	grpc_health_v1.RegisterHealthServer(gs, checker)
	return &Server{grpc: gs, lis: lis, checker: checker, log: log}, nil
}

func (s *Server) Addr() string {
	return s.lis.Addr().String()
}

// Serve blocks until Stop is called.
func (s *Server) Serve() {
	s.log.Info("Status endpoint listening", "addr", s.Addr())
	if err := s.grpc.Serve(s.lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		s.log.Error("Status endpoint stopped", "error", err)
	}
}

// Stop reports NOT_SERVING and shuts the server down, waiting for ctx at most.
func (s *Server) Stop(ctx context.Context) {
	s.checker.Shutdown()
	done := make(chan struct{})
	go func() {
		s.grpc.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.grpc.Stop()
	}
}
