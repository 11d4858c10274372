package api

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"time"

	grpc_prometheus "github.com/grpc-ecosystem/go-grpc-prometheus"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/miradorstack/blackbox/internal/config"
	blackboxv1 "github.com/miradorstack/blackbox/internal/grpc/blackboxv1"
	"github.com/miradorstack/blackbox/internal/utils"
)

// Prober reports whether the backing store can serve requests.
type Prober func(ctx context.Context) error

// Server owns the gRPC listener, the IncidentService registration and the
// standard health service whose status follows the store probe.
type Server struct {
	cfg        config.ServerConfig
	logger     *slog.Logger
	grpcServer *grpc.Server
	health     *health.Server
	listener   net.Listener
}

// NewServer binds cfg.GRPCAddress and registers service. Unary calls are
// recovered, logged and measured before any caller-supplied interceptor.
func NewServer(cfg config.ServerConfig, service blackboxv1.IncidentServiceServer, logger *slog.Logger, opts ...grpc.ServerOption) (*Server, error) {
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	lis, err := net.Listen("tcp", cfg.GRPCAddress)
	if err != nil {
		return nil, fmt.Errorf("listen on %s: %w", cfg.GRPCAddress, err)
	}

	grpc_prometheus.EnableHandlingTimeHistogram()
	serverOpts := []grpc.ServerOption{
		grpc.ChainUnaryInterceptor(
			recoverUnary(logger),
			logUnary(logger),
			grpc_prometheus.UnaryServerInterceptor,
		),
	}
	grpcServer := grpc.NewServer(append(serverOpts, opts...)...)

	blackboxv1.RegisterIncidentServiceServer(grpcServer, service)
	grpc_prometheus.Register(grpcServer)

	healthSrv := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, healthSrv)

	s := &Server{
		cfg:        cfg,
		logger:     logger,
		grpcServer: grpcServer,
		health:     healthSrv,
		listener:   lis,
	}
	s.setServing(true)
	return s, nil
}

// recoverUnary turns a handler panic into codes.Internal.
func recoverUnary(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		defer func() {
			if r := recover(); r != nil {
				logger.Error("grpc handler panic", slog.String("method", info.FullMethod), slog.Any("panic", r))
				err = status.Error(codes.Internal, "internal error")
			}
		}()
		return handler(ctx, req)
	}
}

func logUnary(logger *slog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (any, error) {
		start := time.Now()
		resp, err := handler(ctx, req)
		logger.Debug("grpc request",
			slog.String("method", info.FullMethod),
			slog.String("code", status.Code(err).String()),
			slog.Duration("duration", time.Since(start)))
		return resp, err
	}
}

func (s *Server) setServing(ok bool) {
	st := healthpb.HealthCheckResponse_SERVING
	if !ok {
		st = healthpb.HealthCheckResponse_NOT_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(blackboxv1.ServiceName, st)
}

// WatchHealth runs probe every interval until ctx is done and mirrors the
// result into the health service. Transitions are logged once.
func (s *Server) WatchHealth(ctx context.Context, probe Prober, interval time.Duration) {
	if probe == nil || interval <= 0 {
		return
	}
	serving := true
	check := func() {
		probeCtx, cancel := context.WithTimeout(ctx, interval)
		err := probe(probeCtx)
		cancel()
		if ctx.Err() != nil {
			return
		}
		if ok := err == nil; ok != serving {
			serving = ok
			s.setServing(ok)
			if ok {
				s.logger.Info("store reachable again, health SERVING")
			} else {
				s.logger.Warn("store probe failed, health NOT_SERVING", slog.Any("error", err))
			}
		}
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	check()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			check()
		}
	}
}

// Start serves incoming gRPC requests until Shutdown is invoked.
func (s *Server) Start() error {
	if s.grpcServer == nil || s.listener == nil {
		return fmt.Errorf("server not initialised")
	}
	return s.grpcServer.Serve(s.listener)
}

// Shutdown marks every service NOT_SERVING, then stops gracefully, falling
// back to a hard stop when ctx expires.
func (s *Server) Shutdown(ctx context.Context) {
	if s.grpcServer == nil {
		return
	}
	s.health.Shutdown()

	stopped := make(chan struct{})
	go func() {
		s.grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-ctx.Done():
		s.grpcServer.Stop()
	case <-stopped:
	}
}

// Address exposes the bound listener address.
func (s *Server) Address() string {
	if s.listener == nil {
		return ""
	}
	return s.listener.Addr().String()
}

// GracefulTimeout returns the configured graceful timeout duration.
func (s *Server) GracefulTimeout() time.Duration {
	return s.cfg.GracefulTimeout
}
