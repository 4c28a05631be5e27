package health

import (
	"context"
	"sync"
	"time"

	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/ciricc/go-stream-bench/internal/monitor"
)

// ServiceName is the service reported by Check for streambench itself.
const ServiceName = "streambench.Benchmark"

const defaultWatchInterval = time.Second

// HealthChecker implements the gRPC health checking protocol.
// It reports SERVING while the running trial has no failed streams.
type HealthChecker struct {
	grpc_health_v1.UnimplementedHealthServer
	mu            sync.RWMutex
	status        monitor.StatusReader
	statusMap     map[string]grpc_health_v1.HealthCheckResponse_ServingStatus
	globalStatus  grpc_health_v1.HealthCheckResponse_ServingStatus
	watchInterval time.Duration
}

// NewHealthChecker creates a health checker over the live trial status.
func NewHealthChecker(st monitor.StatusReader) *HealthChecker {
	return &HealthChecker{
		status: st,
		statusMap: map[string]grpc_health_v1.HealthCheckResponse_ServingStatus{
			ServiceName: grpc_health_v1.HealthCheckResponse_SERVING,
		},
		globalStatus:  grpc_health_v1.HealthCheckResponse_SERVING,
		watchInterval: defaultWatchInterval,
	}
}

// Check implements the health check RPC
func (h *HealthChecker) Check(ctx context.Context, req *grpc_health_v1.HealthCheckRequest) (*grpc_health_v1.HealthCheckResponse, error) {
	st, ok := h.servingStatus(req.GetService())
	if !ok {
		return nil, status.Error(codes.NotFound, "service not found")
	}
	return &grpc_health_v1.HealthCheckResponse{Status: st}, nil
}

// Watch implements the health check streaming RPC. It sends the current status
// and then every change, polled at the watch interval. An unknown service is
// reported as SERVICE_UNKNOWN until it gets registered.
func (h *HealthChecker) Watch(req *grpc_health_v1.HealthCheckRequest, stream grpc_health_v1.Health_WatchServer) error {
	last, _ := h.servingStatus(req.GetService())
	if err := stream.Send(&grpc_health_v1.HealthCheckResponse{Status: last}); err != nil {
		return err
	}

	t := time.NewTicker(h.watchInterval)
	defer t.Stop()
	for {
		select {
		case <-stream.Context().Done():
			return stream.Context().Err()
		case <-t.C:
			cur, _ := h.servingStatus(req.GetService())
			if cur == last {
				continue
			}
			last = cur
			if err := stream.Send(&grpc_health_v1.HealthCheckResponse{Status: cur}); err != nil {
				return err
			}
		}
	}
}

// servingStatus returns SERVICE_UNKNOWN and false for an unregistered service.
func (h *HealthChecker) servingStatus(service string) (grpc_health_v1.HealthCheckResponse_ServingStatus, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	st := h.globalStatus
	if service != "" {
		var ok bool
		if st, ok = h.statusMap[service]; !ok {
			return grpc_health_v1.HealthCheckResponse_SERVICE_UNKNOWN, false
		}
	}
	// a failing trial overrides any registered status
	if st == grpc_health_v1.HealthCheckResponse_SERVING && !h.status.IsHealthy() {
		st = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	return st, true
}

// SetServingStatus sets the serving status for a specific service
func (h *HealthChecker) SetServingStatus(service string, st grpc_health_v1.HealthCheckResponse_ServingStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.statusMap[service] = st
}

// SetGlobalStatus sets the status reported for the empty service name.
func (h *HealthChecker) SetGlobalStatus(st grpc_health_v1.HealthCheckResponse_ServingStatus) {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.globalStatus = st
}

// Shutdown marks every service and the global status NOT_SERVING, used once the
// benchmark has finished.
func (h *HealthChecker) Shutdown() {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.globalStatus = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	for s := range h.statusMap {
		h.statusMap[s] = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
}
