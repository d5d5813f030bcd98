package server

import (
	"context"
	"time"

	"review-service/internal/tenant"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is the name reported by the gRPC health service.
const ServiceName = "reviews.ReviewService"

type StorageChecker interface {
	Health(ctx context.Context, tenantKey string) error
}

// HealthReporter mirrors storage reachability of the default tenant into grpc.health.v1.
type HealthReporter struct {
	checker StorageChecker
	srv     *health.Server
	logger  *zap.Logger
}

func NewHealthReporter(checker StorageChecker, logger *zap.Logger) *HealthReporter {
	return &HealthReporter{
		checker: checker,
		srv:     health.NewServer(),
		logger:  logger,
	}
}

func (h *HealthReporter) Server() *health.Server { return h.srv }

// Refresh checks storage once and updates both the overall and the named service status.
func (h *HealthReporter) Refresh(ctx context.Context) healthpb.HealthCheckResponse_ServingStatus {
	status := healthpb.HealthCheckResponse_SERVING
	if err := h.checker.Health(ctx, tenant.DefaultTenant); err != nil {
		h.logger.Warn("storage health check failed", zap.Error(err))
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	h.srv.SetServingStatus("", status)
	h.srv.SetServingStatus(ServiceName, status)
	return status
}

// Run refreshes immediately and then every interval until ctx is done.
func (h *HealthReporter) Run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		checkCtx, cancel := context.WithTimeout(ctx, interval)
		h.Refresh(checkCtx)
		cancel()

		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// Shutdown flips every service to NOT_SERVING.
func (h *HealthReporter) Shutdown() {
	h.srv.Shutdown()
}
