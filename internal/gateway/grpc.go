// ABOUTME: gRPC health endpoint reporting whether an executor is attached
// ABOUTME: Uses the standard grpc.health.v1 service so stock health checkers work unchanged

package gateway

import (
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"

	"github.com/2389/workbridge/internal/channel"
)

// ExecutorService is the health service name tracking the executor link.
const ExecutorService = "workbridge.executor"

// newHealthServer creates a gRPC server with the health service registered.
// The gateway itself serves; the executor starts out NOT_SERVING.
func newHealthServer() (*grpc.Server, *health.Server) {
	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ExecutorService, healthpb.HealthCheckResponse_NOT_SERVING)
	healthpb.RegisterHealthServer(server, hs)
	return server, hs
}

// reportExecutorHealth mirrors link state changes into the health service.
func (g *Gateway) reportExecutorHealth(state channel.State) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if state.Connected {
		status = healthpb.HealthCheckResponse_SERVING
	}
	g.health.SetServingStatus(ExecutorService, status)
	g.logger.Debug("executor health updated", "status", status.String())
}
