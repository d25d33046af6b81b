package api

import (
	"context"
	"time"

	"github.com/ocx/aacore/internal/control"
	"github.com/ocx/aacore/internal/messages"
	"github.com/ocx/aacore/pb"
)

// GRPCService implements pb.ControlServiceServer over a Manager, for
// an embedder process that prefers a gRPC control channel to the REST
// one served by Server.
type GRPCService struct {
	pb.UnimplementedControlServiceServer

	manager *Manager
}

// NewGRPCService builds a GRPCService around an already-running Manager.
func NewGRPCService(manager *Manager) *GRPCService {
	return &GRPCService{manager: manager}
}

func (g *GRPCService) Start(ctx context.Context, _ *pb.StartRequest) (*pb.ControlResponse, error) {
	g.manager.Start(ctx)
	return &pb.ControlResponse{Success: true, Message: "started"}, nil
}

func (g *GRPCService) Stop(ctx context.Context, req *pb.StopRequest) (*pb.ControlResponse, error) {
	if err := g.manager.Stop(req.Reason); err != nil {
		return &pb.ControlResponse{Success: false, Message: err.Error()}, nil
	}
	return &pb.ControlResponse{Success: true, Message: "stopped"}, nil
}

func (g *GRPCService) SendTouch(ctx context.Context, req *pb.TouchEvent) (*pb.ControlResponse, error) {
	err := g.manager.SendTouch(ctx, uint16(req.X), uint16(req.Y), messages.TouchAction(req.Action))
	if err != nil {
		return &pb.ControlResponse{Success: false, Message: err.Error()}, nil
	}
	return &pb.ControlResponse{Success: true}, nil
}

func (g *GRPCService) SendButton(ctx context.Context, req *pb.ButtonEvent) (*pb.ControlResponse, error) {
	err := g.manager.SendButton(ctx, uint32(req.Keycode), req.Down)
	if err != nil {
		return &pb.ControlResponse{Success: false, Message: err.Error()}, nil
	}
	return &pb.ControlResponse{Success: true}, nil
}

func (g *GRPCService) GetStatus(ctx context.Context, _ *pb.StatusRequest) (*pb.StatusResponse, error) {
	return g.status(), nil
}

func (g *GRPCService) WatchStatus(_ *pb.StatusRequest, stream pb.ControlService_WatchStatusServer) error {
	ticker := time.NewTicker(2 * time.Second)
	defer ticker.Stop()

	if err := stream.Send(g.status()); err != nil {
		return err
	}

	for {
		select {
		case <-stream.Context().Done():
			return stream.Context().Err()
		case <-ticker.C:
			if err := stream.Send(g.status()); err != nil {
				return err
			}
		}
	}
}

func (g *GRPCService) status() *pb.StatusResponse {
	resp := &pb.StatusResponse{State: toPBState(g.manager.State())}
	if dev, ok := g.manager.DeviceInfo(); ok {
		resp.DeviceVendorID = uint32(dev.VendorID)
		resp.DeviceProductID = uint32(dev.ProductID)
		resp.DeviceSerialNumber = dev.SerialNumber
		resp.DeviceBusPath = dev.BusPath
	}
	return resp
}

// toPBState maps the internal control graph onto the wire-stable
// pb.SessionState enum, so a renumbering of control.State never
// changes what's sent over the gRPC status stream.
func toPBState(s control.State) pb.SessionState {
	switch s {
	case control.StateIdle:
		return pb.SessionState_IDLE
	case control.StateVersionPending:
		return pb.SessionState_VERSION_PENDING
	case control.StateTlsHandshaking:
		return pb.SessionState_TLS_HANDSHAKING
	case control.StateAuthed:
		return pb.SessionState_AUTHED
	case control.StateServing:
		return pb.SessionState_SERVING
	case control.StateClosing:
		return pb.SessionState_CLOSING
	default:
		return pb.SessionState_FAILED
	}
}
