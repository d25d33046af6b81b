package api

import (
	"context"
	"testing"

	"github.com/ocx/aacore/internal/control"
	"github.com/ocx/aacore/pb"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestGetStatusReportsIdleWithNoSession(t *testing.T) {
	m := NewManager(nil, nil, nil, nil)
	svc := NewGRPCService(m)

	resp, err := svc.GetStatus(context.Background(), &pb.StatusRequest{})
	require.NoError(t, err)
	assert.Equal(t, pb.SessionState_IDLE, resp.State)
}

func TestSendTouchWithoutSessionReturnsFailureResponse(t *testing.T) {
	m := NewManager(nil, nil, nil, nil)
	svc := NewGRPCService(m)

	resp, err := svc.SendTouch(context.Background(), &pb.TouchEvent{X: 1, Y: 2, Action: 0})
	require.NoError(t, err)
	assert.False(t, resp.Success)
}

func TestToPBStateMapsEveryControlState(t *testing.T) {
	cases := map[control.State]pb.SessionState{
		control.StateIdle:            pb.SessionState_IDLE,
		control.StateVersionPending:  pb.SessionState_VERSION_PENDING,
		control.StateTlsHandshaking:  pb.SessionState_TLS_HANDSHAKING,
		control.StateAuthed:          pb.SessionState_AUTHED,
		control.StateServing:         pb.SessionState_SERVING,
		control.StateClosing:         pb.SessionState_CLOSING,
		control.StateFailed:          pb.SessionState_FAILED,
	}
	for in, want := range cases {
		assert.Equal(t, want, toPBState(in))
	}
}
