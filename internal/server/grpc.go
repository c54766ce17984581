package server

import (
	"context"
	"log/slog"
	"net"
	"time"

	"github.com/ogulcanaydogan/resource-sentinel/pkg/storage"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the name reported by the gRPC health service next to the
// empty overall name.
const ServiceName = "resource_sentinel.Sentinel"

const defaultHealthInterval = 15 * time.Second

// HealthService exposes the standard grpc.health.v1 service. Status follows
// storage reachability.
type HealthService struct {
	grpc     *grpc.Server
	health   *health.Server
	store    storage.Storage
	interval time.Duration
	logger   *slog.Logger
}

// NewHealthService creates a gRPC server with the health service registered.
func NewHealthService(store storage.Storage, logger *slog.Logger) *HealthService {
	gs := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(gs, hs)
	return &HealthService{
		grpc:     gs,
		health:   hs,
		store:    store,
		interval: defaultHealthInterval,
		logger:   logger,
	}
}

// Refresh pings storage and updates the reported status.
func (h *HealthService) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if err := h.store.Ping(ctx); err != nil {
		h.logger.Warn("grpc health: storage unreachable", "error", err)
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.health.SetServingStatus("", status)
	h.health.SetServingStatus(ServiceName, status)
	return status
}

// Serve refreshes the status periodically and serves on lis until Stop is
// called or ctx is done.
func (h *HealthService) Serve(ctx context.Context, lis net.Listener) error {
	h.Refresh(ctx)
	go func() {
		ticker := time.NewTicker(h.interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				pingCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
				h.Refresh(pingCtx)
				cancel()
			}
		}
	}()

	h.logger.Info("grpc health listening", "addr", lis.Addr().String())
	return h.grpc.Serve(lis)
}

// Stop marks every service NOT_SERVING and drains open calls.
func (h *HealthService) Stop() {
	h.health.Shutdown()
	h.grpc.GracefulStop()
}
