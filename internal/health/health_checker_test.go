package health

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"

	"github.com/ciricc/go-stream-bench/internal/model/slot"
	"github.com/ciricc/go-stream-bench/internal/monitor"
)

func TestCheck_FollowsTrialStatus(t *testing.T) {
	st := monitor.NewStatus()
	h := NewHealthChecker(st)
	ctx := context.Background()

	for _, svc := range []string{"", ServiceName} {
		resp, err := h.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: svc})
		require.NoError(t, err)
		assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.GetStatus(), svc)
	}

	st.BeginTrial(3)
	st.Set(slot.Counts{Requested: 3, Active: 2, Failed: 1})
	resp, err := h.Check(ctx, &grpc_health_v1.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	st.BeginTrial(4)
	resp, err = h.Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.GetStatus())
}

func TestCheck_UnknownService(t *testing.T) {
	_, err := NewHealthChecker(monitor.NewStatus()).Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: "nope"})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestShutdown(t *testing.T) {
	h := NewHealthChecker(monitor.NewStatus())
	h.Shutdown()
	for _, svc := range []string{"", ServiceName} {
		resp, err := h.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: svc})
		require.NoError(t, err)
		assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, resp.GetStatus(), "service %q", svc)
	}
}

func TestSetGlobalStatus(t *testing.T) {
	h := NewHealthChecker(monitor.NewStatus())
	h.SetGlobalStatus(grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	resp, err := h.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, resp.GetStatus())

	resp, err = h.Check(context.Background(), &grpc_health_v1.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.GetStatus(), "registered services keep their own status")
}

func TestServer_WatchSeesChanges(t *testing.T) {
	st := monitor.NewStatus()
	checker := NewHealthChecker(st)
	checker.watchInterval = 5 * time.Millisecond

	srv, err := Listen("127.0.0.1:0", checker, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	go srv.Serve()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Stop(ctx)
	})

	conn, err := grpc.NewClient(srv.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()
	client := grpc_health_v1.NewHealthClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := client.Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, resp.GetStatus())

	stream, err := client.Watch(ctx, &grpc_health_v1.HealthCheckRequest{Service: ServiceName})
	require.NoError(t, err)
	first, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, first.GetStatus())

	st.Set(slot.Counts{Requested: 1, Failed: 1})
	next, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_NOT_SERVING, next.GetStatus())
}

func TestServer_WatchUnknownService(t *testing.T) {
	st := monitor.NewStatus()
	checker := NewHealthChecker(st)
	checker.watchInterval = 5 * time.Millisecond

	srv, err := Listen("127.0.0.1:0", checker, slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	go srv.Serve()
	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Second)
		defer cancel()
		srv.Stop(ctx)
	})

	conn, err := grpc.NewClient(srv.Addr(), grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	stream, err := grpc_health_v1.NewHealthClient(conn).Watch(ctx, &grpc_health_v1.HealthCheckRequest{Service: "later"})
	require.NoError(t, err)
	first, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVICE_UNKNOWN, first.GetStatus())

	checker.SetServingStatus("later", grpc_health_v1.HealthCheckResponse_SERVING)
	next, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, grpc_health_v1.HealthCheckResponse_SERVING, next.GetStatus())
}
