// Package grpcapi exposes the service's gRPC surface. The telephony
// audio-streaming RPC it used to host has moved entirely to the
// websocket host connection (internal/transport/ws): this package now
// only marks the standard gRPC health service as serving, so existing
// orchestration tooling that health-checks over gRPC keeps working
// unchanged alongside the new data plane.
package grpcapi

import (
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// ServiceName is reported to the gRPC health service once the
// websocket transport is ready to accept host connections.
const ServiceName = "ai.speech.translate.core.StreamService"

// RegisterHealth marks the overall server and the named service as
// SERVING. Call once at startup after the websocket listener is up.
func RegisterHealth(h *health.Server) {
	h.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	h.SetServingStatus(ServiceName, grpc_health_v1.HealthCheckResponse_SERVING)
}
