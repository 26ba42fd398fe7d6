package grpcserver

import (
	"context"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/novamarket/predictcore/internal/adminrpc"
	"github.com/novamarket/predictcore/internal/metrics"
)

// TestServerServesRegisteredService starts a real listener on an ephemeral
// port, registers adminrpc's hand-written ServiceDesc, and drives one RPC
// through a live client connection end to end, also verifying the
// observability interceptor counts the failed call.
func TestServerServesRegisteredService(t *testing.T) {
	m := metrics.New()
	srv := NewServer(zap.NewNop(), DefaultServerOptions(), m)
	svc := adminrpc.NewService(nil, zap.NewNop())
	srv.RegisterService(func(s *grpc.Server) { adminrpc.Register(s, svc) })

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start(context.Background(), "127.0.0.1:0") }()

	// Start binds the listener synchronously before Serve blocks, but the
	// goroutine above may not have reached that point yet; poll briefly.
	var addr string
	require.Eventually(t, func() bool {
		if srv.GetListener() == nil {
			return false
		}
		addr = srv.GetListener().Addr().String()
		return true
	}, time.Second, 10*time.Millisecond)

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	req, err := structpb.NewStruct(map[string]any{"market_id": "not-a-uuid"})
	require.NoError(t, err)
	reply := new(structpb.Struct)
	invokeErr := conn.Invoke(context.Background(), "/"+adminrpc.ServiceName+"/CloseMarket", req, reply)
	require.Error(t, invokeErr) // invalid market_id still proves the RPC reached the handler

	count := testutil.ToFloat64(m.AdminRPCRequests.WithLabelValues("/"+adminrpc.ServiceName+"/CloseMarket", "InvalidArgument"))
	assert.Equal(t, float64(1), count)

	srv.Stop()
	assert.NoError(t, <-errCh)
}
