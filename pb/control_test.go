package pb

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/test/bufconn"
)

// fakeControlServiceServer is a minimal ControlServiceServer used to
// prove the hand-authored grpc.ServiceDesc actually round-trips
// requests through a real *grpc.Server, not just through Go values in
// the same process.
type fakeControlServiceServer struct {
	UnimplementedControlServiceServer
	state SessionState
}

func (f *fakeControlServiceServer) Start(ctx context.Context, req *StartRequest) (*ControlResponse, error) {
	return &ControlResponse{Success: true, Message: "started"}, nil
}

func (f *fakeControlServiceServer) GetStatus(ctx context.Context, req *StatusRequest) (*StatusResponse, error) {
	return &StatusResponse{State: f.state, DeviceSerialNumber: "unit-test-serial"}, nil
}

func (f *fakeControlServiceServer) WatchStatus(req *StatusRequest, stream ControlService_WatchStatusServer) error {
	if err := stream.Send(&StatusResponse{State: f.state}); err != nil {
		return err
	}
	return stream.Send(&StatusResponse{State: SessionState_SERVING})
}

func dialTestControlService(t *testing.T, srv *fakeControlServiceServer) (ControlServiceClient, func()) {
	t.Helper()

	lis := bufconn.Listen(1024 * 1024)
	grpcServer := grpc.NewServer(grpc.ForceServerCodec(Codec{}))
	RegisterControlServiceServer(grpcServer, srv)
	go grpcServer.Serve(lis)

	dialer := func(context.Context, string) (net.Conn, error) { return lis.Dial() }
	conn, err := grpc.NewClient("passthrough:///bufconn",
		grpc.WithContextDialer(dialer),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(grpc.ForceCodec(Codec{})),
	)
	require.NoError(t, err)

	client := NewControlServiceClient(conn)
	cleanup := func() {
		conn.Close()
		grpcServer.Stop()
	}
	return client, cleanup
}

func TestControlServiceUnaryRoundTripsOverRealGRPCServer(t *testing.T) {
	srv := &fakeControlServiceServer{state: SessionState_SERVING}
	client, cleanup := dialTestControlService(t, srv)
	defer cleanup()

	resp, err := client.Start(context.Background(), &StartRequest{})
	require.NoError(t, err)
	assert.True(t, resp.Success)

	status, err := client.GetStatus(context.Background(), &StatusRequest{})
	require.NoError(t, err)
	assert.Equal(t, SessionState_SERVING, status.State)
	assert.Equal(t, "unit-test-serial", status.DeviceSerialNumber)
}

func TestControlServiceWatchStatusStreamsOverRealGRPCServer(t *testing.T) {
	srv := &fakeControlServiceServer{state: SessionState_TLS_HANDSHAKING}
	client, cleanup := dialTestControlService(t, srv)
	defer cleanup()

	stream, err := client.WatchStatus(context.Background(), &StatusRequest{})
	require.NoError(t, err)

	first, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, SessionState_TLS_HANDSHAKING, first.State)

	second, err := stream.Recv()
	require.NoError(t, err)
	assert.Equal(t, SessionState_SERVING, second.State)
}
