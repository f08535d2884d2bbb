package grpc

import (
	"context"
	"errors"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"gitlab.com/timkado/api/storefront-edge/internal/adapters/config"
	"gitlab.com/timkado/api/storefront-edge/internal/domain"
	"gitlab.com/timkado/api/storefront-edge/pkg/safego"
)

const probeInterval = 10 * time.Second

// ReadinessProbe reports an error while a dependency is unavailable.
type ReadinessProbe func(ctx context.Context) error

// Server exposes grpc.health.v1.Health mirroring the HTTP /ready probe.
type Server struct {
	gsrv        *grpc.Server
	health      *health.Server
	logger      domain.Logger
	cfgProvider config.Provider
	serviceName string
	probe       ReadinessProbe
	appCtx      context.Context // the server's own lifecycle, derived from the app context
	cancelCtx   context.CancelFunc
}

// NewServer creates the health server. probe may be nil, in which case the
// service always reports SERVING.
func NewServer(appCtx context.Context, logger domain.Logger, cfgProvider config.Provider, probe ReadinessProbe) *Server {
	gsrv := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gsrv, hs)

	serverLifecycleCtx, serverLifecycleCancel := context.WithCancel(appCtx)
	return &Server{
		gsrv:        gsrv,
		health:      hs,
		logger:      logger,
		cfgProvider: cfgProvider,
		serviceName: cfgProvider.Get().App.ServiceName,
		probe:       probe,
		appCtx:      serverLifecycleCtx,
		cancelCtx:   serverLifecycleCancel,
	}
}

// Check runs the probe once and publishes the result for the overall server
// and the named service.
func (s *Server) Check(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if s.probe != nil {
		if err := s.probe(ctx); err != nil {
			s.logger.Warn(ctx, "Readiness probe failed", "error", err.Error())
			status = healthpb.HealthCheckResponse_NOT_SERVING
		}
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(s.serviceName, status)
	return status
}

// Start listens on server.grpc_port and serves until the app context ends.
func (s *Server) Start() error {
	grpcPort := s.cfgProvider.Get().Server.GRPCPort
	if grpcPort == 0 {
		s.logger.Info(s.appCtx, "gRPC port is 0, health server disabled")
		return nil
	}
	addr := fmt.Sprintf(":%d", grpcPort)

	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen for gRPC on %s: %w", addr, err)
	}
	return s.Serve(lis)
}

// Serve serves on lis in the background.
func (s *Server) Serve(lis net.Listener) error {
	s.Check(s.appCtx)
	s.logger.Info(s.appCtx, "gRPC health server starting", "address", lis.Addr().String())

	safego.Execute(s.appCtx, s.logger, "GRPCServerServe", func() {
		if err := s.gsrv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.logger.Error(s.appCtx, "gRPC server failed to serve", "error", err)
		}
		s.cancelCtx()
	})

	safego.Every(s.appCtx, s.logger, "GRPCHealthProbe", probeInterval, func() {
		ctx, cancel := context.WithTimeout(s.appCtx, probeInterval/2)
		defer cancel()
		s.Check(ctx)
	})

	safego.Execute(s.appCtx, s.logger, "GRPCServerContextWatcher", func() {
		<-s.appCtx.Done()
		s.health.Shutdown()
		s.gsrv.GracefulStop()
		s.logger.Info(context.Background(), "gRPC health server stopped")
	})
	return nil
}

// GracefulStop cancels the server's lifecycle context, which stops it.
func (s *Server) GracefulStop() {
	s.cancelCtx()
}
