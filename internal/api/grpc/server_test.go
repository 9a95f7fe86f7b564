package grpc

import (
	"context"
	"errors"
	"net"
	"testing"

	"github.com/Dhoini/payment-reconciler/config"
	"github.com/Dhoini/payment-reconciler/pkg/logger"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/test/bufconn"
)

type pingerFunc func(ctx context.Context) error

func (f pingerFunc) Ping(ctx context.Context) error { return f(ctx) }

func TestServer_HealthFollowsStore(t *testing.T) {
	srv, err := NewServer(config.GRPCConfig{Host: "127.0.0.1", Port: "0"}, logger.NewNop())
	require.NoError(t, err)

	lis := bufconn.Listen(1 << 20)
	go func() { _ = srv.Serve(lis) }()
	t.Cleanup(srv.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) { return lis.DialContext(ctx) }),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })

	client := healthpb.NewHealthClient(conn)
	check := func() healthpb.HealthCheckResponse_ServingStatus {
		resp, err := client.Check(context.Background(), &healthpb.HealthCheckRequest{Service: ServiceName})
		require.NoError(t, err)
		return resp.GetStatus()
	}

	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())

	assert.True(t, srv.CheckReadiness(context.Background(), pingerFunc(func(context.Context) error { return nil })))
	assert.Equal(t, healthpb.HealthCheckResponse_SERVING, check())

	assert.False(t, srv.CheckReadiness(context.Background(), pingerFunc(func(context.Context) error { return errors.New("down") })))
	assert.Equal(t, healthpb.HealthCheckResponse_NOT_SERVING, check())
}

func TestRecoveryInterceptor(t *testing.T) {
	interceptor := RecoveryInterceptor(logger.NewNop())

	_, err := interceptor(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: "/test/Panic"},
		func(ctx context.Context, req interface{}) (interface{}, error) { panic("boom") })
	require.Error(t, err)
	assert.Contains(t, err.Error(), "internal error")
}
