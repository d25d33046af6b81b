// Package pb holds the embedder-facing RPC message and client/server
// types for the head unit's status/control surface. These are
// hand-authored Go structs, not run through the protobuf code
// generator — no protoc invocation happens in this build, matching how
// the rest of this stack's out-of-repo service boundaries are typed.
package pb

import (
	"context"

	"google.golang.org/grpc"
)

// SessionState mirrors internal/control.State for embedders that only
// link against pb, not the core packages.
type SessionState int32

const (
	SessionState_IDLE             SessionState = 0
	SessionState_VERSION_PENDING  SessionState = 1
	SessionState_TLS_HANDSHAKING  SessionState = 2
	SessionState_AUTHED           SessionState = 3
	SessionState_SERVING          SessionState = 4
	SessionState_CLOSING          SessionState = 5
	SessionState_FAILED           SessionState = 6
)

// StatusRequest requests the current session status; empty, reserved
// for future filters.
type StatusRequest struct{}

// StatusResponse describes the connected phone and current control
// state.
type StatusResponse struct {
	State              SessionState
	DeviceVendorID     uint32
	DeviceProductID    uint32
	DeviceSerialNumber string
	DeviceBusPath      string
}

// StartRequest carries nothing today; Start always begins scanning for
// the next phone using the head unit's configured identity.
type StartRequest struct{}

// StopRequest carries an optional operator-facing reason. The daemon's
// Stop handler accepts it but does not record it anywhere.
type StopRequest struct {
	Reason string
}

// TouchEvent forwards one touchscreen sample to the phone's input
// channel.
type TouchEvent struct {
	X      int32
	Y      int32
	Action int32 // 0=down, 1=up, 2=move, matching messages.TouchAction
}

// ButtonEvent forwards one hardware/steering-wheel key event.
type ButtonEvent struct {
	Keycode int32
	Down    bool
}

// ControlResponse is the uniform ack for every mutating control call.
type ControlResponse struct {
	Success bool
	Message string
}

// ControlServiceServer is the RPC surface an embedder's process talks
// to over gRPC: start/stop the session and forward input, alongside a
// status stream.
type ControlServiceServer interface {
	Start(context.Context, *StartRequest) (*ControlResponse, error)
	Stop(context.Context, *StopRequest) (*ControlResponse, error)
	SendTouch(context.Context, *TouchEvent) (*ControlResponse, error)
	SendButton(context.Context, *ButtonEvent) (*ControlResponse, error)
	GetStatus(context.Context, *StatusRequest) (*StatusResponse, error)
	WatchStatus(*StatusRequest, ControlService_WatchStatusServer) error
}

// UnimplementedControlServiceServer can be embedded by a partial
// implementation to satisfy ControlServiceServer at compile time.
type UnimplementedControlServiceServer struct{}

func (UnimplementedControlServiceServer) Start(context.Context, *StartRequest) (*ControlResponse, error) {
	return nil, nil
}

func (UnimplementedControlServiceServer) Stop(context.Context, *StopRequest) (*ControlResponse, error) {
	return nil, nil
}

func (UnimplementedControlServiceServer) SendTouch(context.Context, *TouchEvent) (*ControlResponse, error) {
	return nil, nil
}

func (UnimplementedControlServiceServer) SendButton(context.Context, *ButtonEvent) (*ControlResponse, error) {
	return nil, nil
}

func (UnimplementedControlServiceServer) GetStatus(context.Context, *StatusRequest) (*StatusResponse, error) {
	return nil, nil
}

func (UnimplementedControlServiceServer) WatchStatus(*StatusRequest, ControlService_WatchStatusServer) error {
	return nil
}

// ControlService_WatchStatusServer is the server side of the status
// stream: a sequence of StatusResponse snapshots (the daemon sends one
// when the stream opens and another every 2 s).
type ControlService_WatchStatusServer interface {
	Send(*StatusResponse) error
	grpc.ServerStream
}

// ControlService_WatchStatusClient is the client side of the same stream.
type ControlService_WatchStatusClient interface {
	Recv() (*StatusResponse, error)
	grpc.ClientStream
}

// ControlServiceClient is the embedder-side stub for ControlServiceServer.
type ControlServiceClient interface {
	Start(ctx context.Context, in *StartRequest, opts ...grpc.CallOption) (*ControlResponse, error)
	Stop(ctx context.Context, in *StopRequest, opts ...grpc.CallOption) (*ControlResponse, error)
	SendTouch(ctx context.Context, in *TouchEvent, opts ...grpc.CallOption) (*ControlResponse, error)
	SendButton(ctx context.Context, in *ButtonEvent, opts ...grpc.CallOption) (*ControlResponse, error)
	GetStatus(ctx context.Context, in *StatusRequest, opts ...grpc.CallOption) (*StatusResponse, error)
	WatchStatus(ctx context.Context, in *StatusRequest, opts ...grpc.CallOption) (ControlService_WatchStatusClient, error)
}

const controlServiceName = "aacore.control.ControlService"

// RegisterControlServiceServer registers srv against s the same way a
// protoc-gen-go-grpc-generated Register call would, so cmd/aacored can
// Serve this service off a real *grpc.Server.
func RegisterControlServiceServer(s grpc.ServiceRegistrar, srv ControlServiceServer) {
	s.RegisterService(&controlServiceDesc, srv)
}

func controlServiceStartHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(StartRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServiceServer).Start(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: controlServiceName + "/Start"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ControlServiceServer).Start(ctx, req.(*StartRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func controlServiceStopHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(StopRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServiceServer).Stop(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: controlServiceName + "/Stop"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ControlServiceServer).Stop(ctx, req.(*StopRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func controlServiceSendTouchHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(TouchEvent)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServiceServer).SendTouch(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: controlServiceName + "/SendTouch"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ControlServiceServer).SendTouch(ctx, req.(*TouchEvent))
	}
	return interceptor(ctx, in, info, handler)
}

func controlServiceSendButtonHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(ButtonEvent)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServiceServer).SendButton(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: controlServiceName + "/SendButton"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ControlServiceServer).SendButton(ctx, req.(*ButtonEvent))
	}
	return interceptor(ctx, in, info, handler)
}

func controlServiceGetStatusHandler(srv interface{}, ctx context.Context, dec func(interface{}) error, interceptor grpc.UnaryServerInterceptor) (interface{}, error) {
	in := new(StatusRequest)
	if err := dec(in); err != nil {
		return nil, err
	}
	if interceptor == nil {
		return srv.(ControlServiceServer).GetStatus(ctx, in)
	}
	info := &grpc.UnaryServerInfo{Server: srv, FullMethod: controlServiceName + "/GetStatus"}
	handler := func(ctx context.Context, req interface{}) (interface{}, error) {
		return srv.(ControlServiceServer).GetStatus(ctx, req.(*StatusRequest))
	}
	return interceptor(ctx, in, info, handler)
}

func controlServiceWatchStatusHandler(srv interface{}, stream grpc.ServerStream) error {
	m := new(StatusRequest)
	if err := stream.RecvMsg(m); err != nil {
		return err
	}
	return srv.(ControlServiceServer).WatchStatus(m, &controlServiceWatchStatusServerStream{stream})
}

type controlServiceWatchStatusServerStream struct {
	grpc.ServerStream
}

func (x *controlServiceWatchStatusServerStream) Send(m *StatusResponse) error {
	return x.ServerStream.SendMsg(m)
}

var controlServiceDesc = grpc.ServiceDesc{
	ServiceName: controlServiceName,
	HandlerType: (*ControlServiceServer)(nil),
	Methods: []grpc.MethodDesc{
		{MethodName: "Start", Handler: controlServiceStartHandler},
		{MethodName: "Stop", Handler: controlServiceStopHandler},
		{MethodName: "SendTouch", Handler: controlServiceSendTouchHandler},
		{MethodName: "SendButton", Handler: controlServiceSendButtonHandler},
		{MethodName: "GetStatus", Handler: controlServiceGetStatusHandler},
	},
	Streams: []grpc.StreamDesc{
		{StreamName: "WatchStatus", Handler: controlServiceWatchStatusHandler, ServerStreams: true},
	},
	Metadata: "control.proto",
}

// NewControlServiceClient builds the embedder-side stub over an
// already-dialed connection. Callers must dial with
// grpc.WithDefaultCallOptions(grpc.ForceCodec(Codec{})) to match the
// server's wire encoding.
func NewControlServiceClient(cc grpc.ClientConnInterface) ControlServiceClient {
	return &controlServiceClient{cc}
}

type controlServiceClient struct {
	cc grpc.ClientConnInterface
}

func (c *controlServiceClient) Start(ctx context.Context, in *StartRequest, opts ...grpc.CallOption) (*ControlResponse, error) {
	out := new(ControlResponse)
	if err := c.cc.Invoke(ctx, controlServiceName+"/Start", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *controlServiceClient) Stop(ctx context.Context, in *StopRequest, opts ...grpc.CallOption) (*ControlResponse, error) {
	out := new(ControlResponse)
	if err := c.cc.Invoke(ctx, controlServiceName+"/Stop", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *controlServiceClient) SendTouch(ctx context.Context, in *TouchEvent, opts ...grpc.CallOption) (*ControlResponse, error) {
	out := new(ControlResponse)
	if err := c.cc.Invoke(ctx, controlServiceName+"/SendTouch", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *controlServiceClient) SendButton(ctx context.Context, in *ButtonEvent, opts ...grpc.CallOption) (*ControlResponse, error) {
	out := new(ControlResponse)
	if err := c.cc.Invoke(ctx, controlServiceName+"/SendButton", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *controlServiceClient) GetStatus(ctx context.Context, in *StatusRequest, opts ...grpc.CallOption) (*StatusResponse, error) {
	out := new(StatusResponse)
	if err := c.cc.Invoke(ctx, controlServiceName+"/GetStatus", in, out, opts...); err != nil {
		return nil, err
	}
	return out, nil
}

func (c *controlServiceClient) WatchStatus(ctx context.Context, in *StatusRequest, opts ...grpc.CallOption) (ControlService_WatchStatusClient, error) {
	stream, err := c.cc.NewStream(ctx, &controlServiceDesc.Streams[0], controlServiceName+"/WatchStatus", opts...)
	if err != nil {
		return nil, err
	}
	x := &controlServiceWatchStatusClientStream{stream}
	if err := x.ClientStream.SendMsg(in); err != nil {
		return nil, err
	}
	if err := x.ClientStream.CloseSend(); err != nil {
		return nil, err
	}
	return x, nil
}

type controlServiceWatchStatusClientStream struct {
	grpc.ClientStream
}

func (x *controlServiceWatchStatusClientStream) Recv() (*StatusResponse, error) {
	m := new(StatusResponse)
	if err := x.ClientStream.RecvMsg(m); err != nil {
		return nil, err
	}
	return m, nil
}
