package api

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"runtime/debug"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
	"google.golang.org/grpc/status"

	"github.com/miradorstack/mirador-incident/internal/config"
)

// Server owns the gRPC listener, the IncidentEngine registration and the
// standard health service.
type Server struct {
	cfg      config.ServerConfig
	logger   *slog.Logger
	rpc      *grpc.Server
	health   *health.Server
	listener net.Listener
}

// NewServer listens on cfg.Address and registers service.
func NewServer(cfg config.ServerConfig, logger *slog.Logger, service IncidentEngineServer, opts ...grpc.ServerOption) (*Server, error) {
	lis, err := net.Listen("tcp", cfg.Address)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.Address, err)
	}
	return NewServerWithListener(cfg, lis, logger, service, opts...), nil
}

// NewServerWithListener serves on an existing listener, such as a bufconn.
func NewServerWithListener(cfg config.ServerConfig, lis net.Listener, logger *slog.Logger, service IncidentEngineServer, opts ...grpc.ServerOption) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	grpc_prometheus.EnableHandlingTimeHistogram()

	// Recovery runs innermost so the metrics and access log see the
	// converted status instead of a crashed handler.
	base := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			grpc_prometheus.UnaryServerInterceptor,
			accessLog(logger),
			recoverPanics(logger),
		),
		grpc.ChainStreamInterceptor(grpc_prometheus.StreamServerInterceptor),
	}
	rpc := grpc.NewServer(append(base, opts...)...)

	RegisterIncidentEngineServer(rpc, service)
	grpc_prometheus.Register(rpc)

	hs := health.NewServer()
	for _, name := range []string{"", ServiceName} {
		hs.SetServingStatus(name, healthpb.HealthCheckResponse_SERVING)
	}
	healthpb.RegisterHealthServer(rpc, hs)

	if cfg.Reflection {
		reflection.Register(rpc)
	}

	return &Server{cfg: cfg, logger: logger, rpc: rpc, health: hs, listener: lis}
}

func accessLog(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		started := time.Now()
		resp, err := handler(ctx, req)
		code := status.Code(err)
		level := slog.LevelDebug
		if code == codes.Internal || code == codes.Unknown {
			level = slog.LevelWarn
		}
		logger.Log(ctx, level, "rpc handled",
			slog.String("method", info.FullMethod),
			slog.String("code", code.String()),
			slog.Duration("elapsed", time.Since(started)),
		)
		return resp, err
	}
}

func recoverPanics(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("rpc handler panicked",
					slog.String("method", info.FullMethod),
					slog.Any("panic", r),
					slog.String("stack", string(debug.Stack())),
				)
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

// Start blocks serving requests until Shutdown.
func (s *Server) Start() error {
	if s.rpc == nil || s.listener == nil {
		return errors.New("server not initialised")
	}
	err := s.rpc.Serve(s.listener)
	if errors.Is(err, grpc.ErrServerStopped) {
		return nil
	}
	return err
}

// Shutdown reports NOT_SERVING to health probes and drains in-flight calls.
// When ctx ends first the remaining calls are cut off and ctx.Err() is
// returned.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.rpc == nil {
		return nil
	}
	s.health.Shutdown()

	drained := make(chan struct{})
	go func() {
		defer close(drained)
		s.rpc.GracefulStop()
	}()

	select {
	case <-drained:
		return nil
	case <-ctx.Done():
		s.logger.Warn("graceful stop timed out; closing open calls")
		s.rpc.Stop()
		<-drained
		return ctx.Err()
	}
}

// Address is the bound listener address.
func (s *Server) Address() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// GracefulTimeout bounds how long Shutdown should be given.
func (s *Server) GracefulTimeout() time.Duration {
	return s.cfg.GracefulTimeout
}
