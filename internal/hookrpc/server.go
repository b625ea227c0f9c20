package hookrpc

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/ppiankov/hallpass/internal/gatekeeper"
)

// Server implements the NavigationHook gRPC service over a Gatekeeper.
type Server struct {
	gk     *gatekeeper.Gatekeeper
	logger *slog.Logger

	grpcServer *grpc.Server
}

// New creates a gRPC server for gk.
func New(gk *gatekeeper.Gatekeeper, logger *slog.Logger) (*Server, error) {
	if gk == nil {
		return nil, errors.New("hookrpc: gatekeeper is required")
	}
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{gk: gk, logger: logger}
	s.grpcServer = grpc.NewServer(grpc.UnaryInterceptor(s.logCalls))
	RegisterNavigationHookServer(s.grpcServer, s)
	return s, nil
}

// Serve listens on addr. Blocks until stopped.
func (s *Server) Serve(addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}
	return s.ServeOn(lis)
}

// ServeOn serves on the given listener.
func (s *Server) ServeOn(lis net.Listener) error {
	s.logger.Info("grpc navigation hook listening", "addr", lis.Addr().String())
	return s.grpcServer.Serve(lis)
}

// GracefulStop gracefully shuts down the gRPC server.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}

// NavigationCompleted implements the NavigationCompleted RPC. A navigator
// failure is logged; the decision is still returned so the caller can act.
func (s *Server) NavigationCompleted(ctx context.Context, req *structpb.Struct) (*structpb.Struct, error) {
	ev, err := StructToEvent(req)
	if err != nil {
		return nil, err
	}
	d, err := s.gk.OnNavigationComplete(ctx, ev)
	if err != nil {
		s.logger.Warn("navigator failed", "tab_id", ev.TabID, "error", err)
	}
	return DecisionToStruct(d), nil
}

func (s *Server) logCalls(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
	start := time.Now()
	resp, err := handler(ctx, req)
	s.logger.Debug("grpc call", "method", info.FullMethod, "duration", time.Since(start), "error", err)
	return resp, err
}
