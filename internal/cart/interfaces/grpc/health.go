package grpc

import (
	"context"
	"time"

	"github.com/wyfcoding/jewelrycart/internal/cart/domain"
	"github.com/wyfcoding/jewelrycart/pkg/logger"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// ServiceName 对外暴露的服务名，Check 请求可用空串或该名称
const ServiceName = "jewelry.cart.v1.CartService"

const pingTimeout = 2 * time.Second

// HealthServer 以持久化存储的连通性作为服务健康状态
type HealthServer struct {
	healthpb.UnimplementedHealthServer
	store domain.DurableStore
}

// NewHealthServer 创建并注册健康检查服务
func NewHealthServer(s *grpc.Server, store domain.DurableStore) *HealthServer {
	srv := &HealthServer{store: store}
	healthpb.RegisterHealthServer(s, srv)
	return srv
}

// Check 探测存储，不可达时返回 NOT_SERVING
func (h *HealthServer) Check(ctx context.Context, req *healthpb.HealthCheckRequest) (*healthpb.HealthCheckResponse, error) {
	if svc := req.GetService(); svc != "" && svc != ServiceName {
		return nil, status.Errorf(codes.NotFound, "unknown service %q", svc)
	}

	ctx, cancel := context.WithTimeout(ctx, pingTimeout)
	defer cancel()
	if err := h.store.Ping(ctx); err != nil {
		logger.Warn(ctx, "health check failed", "error", err)
		return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_NOT_SERVING}, nil
	}
	return &healthpb.HealthCheckResponse{Status: healthpb.HealthCheckResponse_SERVING}, nil
}
