// Package health reports reservation store reachability over the standard gRPC health protocol.
package health

import (
	"context"
	"errors"
	"log/slog"
	"net"
	"time"

	"library-reservation/internal/domain"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name clients query for the ledger.
const ServiceName = "library.reservation.Ledger"

// probeKey is never claimed; reading it only proves the store answers.
const probeKey = "__health_probe__"

// Server serves grpc.health.v1 and keeps the ledger's status in sync with the store.
type Server struct {
	grpcServer *grpc.Server
	health     *health.Server
	store      domain.ClaimStore
	interval   time.Duration
	timeout    time.Duration
	logger     *slog.Logger
}

func NewServer(store domain.ClaimStore, interval, timeout time.Duration, logger *slog.Logger) *Server {
	grpcServer := grpc.NewServer(grpc.StatsHandler(otelgrpc.NewServerHandler()))
	hs := health.NewServer()
	healthpb.RegisterHealthServer(grpcServer, hs)
	reflection.Register(grpcServer)

	hs.SetServingStatus(ServiceName, healthpb.HealthCheckResponse_NOT_SERVING)
	return &Server{
		grpcServer: grpcServer,
		health:     hs,
		store:      store,
		interval:   interval,
		timeout:    timeout,
		logger:     logger.With("component", "health-server"),
	}
}

// Probe reads the probe key once and updates the serving status.
func (s *Server) Probe(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	status := healthpb.HealthCheckResponse_SERVING
	_, err := s.store.Get(ctx, probeKey)
	if err != nil && !errors.Is(err, domain.ErrClaimNotFound) {
		s.logger.Warn("store probe failed", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}

	s.health.SetServingStatus(ServiceName, status)
	s.health.SetServingStatus("", status)
	return status
}

// Serve probes the store every interval and serves gRPC on lis until ctx is done.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	s.Probe(ctx)
	go s.watch(ctx)

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("gRPC health server listening", "address", lis.Addr().String())
		errCh <- s.grpcServer.Serve(lis)
	}()

	select {
	case <-ctx.Done():
		s.health.Shutdown()
		s.grpcServer.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}

func (s *Server) watch(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.Probe(ctx)
		}
	}
}
