package control

import (
	"context"
	"crypto/ecdsa"
	"crypto/elliptic"
	"crypto/rand"
	"crypto/tls"
	"crypto/x509"
	"crypto/x509/pkix"
	"fmt"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ocx/aacore/internal/channel"
	"github.com/ocx/aacore/internal/circuitbreaker"
	"github.com/ocx/aacore/internal/crypto"
	"github.com/ocx/aacore/internal/messages"
	"github.com/ocx/aacore/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// recordingSender captures every message sent through a channel.Sender
// without touching the real messenger/transport stack, so the state
// machine can be tested in isolation.
type recordingSender struct {
	mu       sync.Mutex
	messages []sentMessage
}

type sentMessage struct {
	channel   wire.ChannelID
	messageID uint16
	payload   []byte
	encrypted bool
}

func (s *recordingSender) send(ctx context.Context, ch wire.ChannelID, messageID uint16, payload []byte, encrypted bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.messages = append(s.messages, sentMessage{channel: ch, messageID: messageID, payload: append([]byte(nil), payload...), encrypted: encrypted})
	return nil
}

func (s *recordingSender) snapshot() []sentMessage {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]sentMessage(nil), s.messages...)
}

func selfSignedTLSConfig(t *testing.T) *tls.Config {
	t.Helper()
	key, err := ecdsa.GenerateKey(elliptic.P256(), rand.Reader)
	require.NoError(t, err)
	template := &x509.Certificate{
		SerialNumber: big.NewInt(1),
		Subject:      pkix.Name{CommonName: "head-unit-test"},
		NotBefore:    time.Now().Add(-time.Hour),
		NotAfter:     time.Now().Add(time.Hour),
	}
	der, err := x509.CreateCertificate(rand.Reader, template, template, &key.PublicKey, key)
	require.NoError(t, err)
	return &tls.Config{
		Certificates:       []tls.Certificate{{Certificate: [][]byte{der}, PrivateKey: key}},
		InsecureSkipVerify: true,
		MinVersion:         tls.VersionTLS12,
	}
}

func newTestStateMachine(t *testing.T) (*StateMachine, *recordingSender) {
	sender := &recordingSender{}
	controlSender := channel.NewSender(wire.ChannelControl, sender.send)
	cryptor := crypto.New(selfSignedTLSConfig(t))
	sm := New(controlSender, cryptor, ServiceInfo{Make: "test", Model: "unit"}, Callbacks{}, func(error) {})
	return sm, sender
}

func TestStartSendsVersionRequestAndConnected(t *testing.T) {
	sm, sender := newTestStateMachine(t)
	var connected []bool
	sm.callbacks.OnConnectionStatus = func(c bool) { connected = append(connected, c) }

	require.NoError(t, sm.Start(context.Background()))

	assert.Equal(t, StateVersionPending, sm.State())
	assert.Equal(t, []bool{true}, connected)

	sent := sender.snapshot()
	require.Len(t, sent, 1)
	assert.Equal(t, messages.IDVersionRequest, sent[0].messageID)
	assert.False(t, sent[0].encrypted)
}

func TestVersionMismatchFailsSession(t *testing.T) {
	sm, _ := newTestStateMachine(t)
	var failed error
	sm.onFatal = func(err error) { failed = err }

	require.NoError(t, sm.Start(context.Background()))

	resp := messages.VersionResponse{Major: 99, Minor: 0, Status: messages.VersionStatusMismatch}
	sm.HandleControlMessage(context.Background(), messages.IDVersionResponse, resp.Marshal())

	assert.Equal(t, StateFailed, sm.State())
	require.Error(t, failed)
}

func TestUnsolicitedServiceDiscoveryBeforeAuthIsProtocolError(t *testing.T) {
	sm, _ := newTestStateMachine(t)
	var failed error
	sm.onFatal = func(err error) { failed = err }

	require.NoError(t, sm.Start(context.Background()))
	sm.HandleControlMessage(context.Background(), messages.IDServiceDiscoveryRequest, nil)

	assert.Equal(t, StateFailed, sm.State())
	require.Error(t, failed)
	assert.ErrorIs(t, failed, ErrProtocol)
}

func TestPingIsAnsweredInAnyState(t *testing.T) {
	sm, sender := newTestStateMachine(t)
	req := messages.PingRequest{Timestamp: 42}
	sm.HandleControlMessage(context.Background(), messages.IDPingRequest, req.Marshal())

	sent := sender.snapshot()
	require.Len(t, sent, 1)
	assert.Equal(t, messages.IDPingResponse, sent[0].messageID)
	resp, err := messages.UnmarshalPingResponse(sent[0].payload)
	require.NoError(t, err)
	assert.Equal(t, int64(42), resp.Timestamp)
}

func TestServiceDiscoveryResponseChannelOrder(t *testing.T) {
	sm, sender := newTestStateMachine(t)
	sm.state = StateAuthed // fast-forward past the handshake for this test

	sm.HandleControlMessage(context.Background(), messages.IDServiceDiscoveryRequest, nil)

	sent := sender.snapshot()
	require.Len(t, sent, 1)
	assert.Equal(t, messages.IDServiceDiscoveryResponse, sent[0].messageID)

	resp, err := messages.UnmarshalServiceDiscoveryResponse(sent[0].payload)
	require.NoError(t, err)

	var got []wire.ChannelID
	for _, ch := range resp.Channels {
		got = append(got, ch.ChannelID)
	}
	assert.Equal(t, []wire.ChannelID{
		wire.ChannelAVInput,
		wire.ChannelMediaAudio,
		wire.ChannelSpeechAudio,
		wire.ChannelSystemAudio,
		wire.ChannelSensor,
		wire.ChannelVideo,
		wire.ChannelBluetooth,
		wire.ChannelInput,
	}, got)

	assert.Equal(t, StateServing, sm.State())
}

func TestAVChannelSetupEchoesConfigIndex(t *testing.T) {
	sm, _ := newTestStateMachine(t)
	sm.state = StateServing

	avSender := &recordingSender{}
	cs := &avChannelState{sender: channel.NewSender(wire.ChannelVideo, avSender.send)}
	sm.avChannels[wire.ChannelVideo] = cs

	req := messages.AVChannelSetupRequest{ConfigIndex: 3}
	sm.HandleAVMessage(context.Background(), wire.ChannelVideo, messages.IDAVChannelSetupRequest, req.Marshal())

	sent := avSender.snapshot()
	require.Len(t, sent, 1)
	assert.Equal(t, messages.IDAVChannelSetupResponse, sent[0].messageID)
	resp, err := messages.UnmarshalAVChannelSetupResponse(sent[0].payload)
	require.NoError(t, err)
	assert.Equal(t, []uint8{3}, resp.Configs)
	assert.GreaterOrEqual(t, resp.MaxUnacked, uint8(1))
}

func TestMediaBeforeStartIsRejected(t *testing.T) {
	sm, _ := newTestStateMachine(t)
	sm.state = StateServing

	avSender := &recordingSender{}
	cs := &avChannelState{sender: channel.NewSender(wire.ChannelVideo, avSender.send), breaker: circuitbreaker.NewChannelErrorBreaker("VIDEO")}
	sm.avChannels[wire.ChannelVideo] = cs

	var failed error
	sm.onFatal = func(err error) { failed = err }

	ind := messages.AVMediaWithTimestampIndication{Timestamp: 1, Payload: []byte("frame")}
	// One rejection alone must not escalate to fatal (breaker needs 3).
	sm.HandleAVMessage(context.Background(), wire.ChannelVideo, messages.IDAVMediaWithTimestamp, ind.Marshal())
	assert.Nil(t, failed)
}

func TestThreeConsecutiveChannelErrorsEscalateToFatal(t *testing.T) {
	sm, _ := newTestStateMachine(t)
	sm.state = StateServing

	avSender := &recordingSender{}
	cs := &avChannelState{sender: channel.NewSender(wire.ChannelVideo, avSender.send), breaker: circuitbreaker.NewChannelErrorBreaker("VIDEO")}
	sm.avChannels[wire.ChannelVideo] = cs

	var failed error
	sm.onFatal = func(err error) { failed = err }

	ind := messages.AVMediaWithTimestampIndication{Timestamp: 1, Payload: []byte("frame")}
	for i := 0; i < 3; i++ {
		sm.HandleAVMessage(context.Background(), wire.ChannelVideo, messages.IDAVMediaWithTimestamp, ind.Marshal())
	}

	assert.Equal(t, StateFailed, sm.State())
	require.Error(t, failed)
}

func TestShutdownRequestSendsResponseAndTearsDownSessionExactlyOnce(t *testing.T) {
	sm, sender := newTestStateMachine(t)
	sm.state = StateServing

	var connected []bool
	sm.callbacks.OnConnectionStatus = func(c bool) { connected = append(connected, c) }
	var failed error
	var fatalCalls int
	sm.onFatal = func(err error) { fatalCalls++; failed = err }

	sm.HandleControlMessage(context.Background(), messages.IDShutdownRequest, nil)

	assert.Equal(t, StateClosing, sm.State())
	assert.Equal(t, []bool{false}, connected)
	require.Error(t, failed)
	assert.Equal(t, 1, fatalCalls)

	sent := sender.snapshot()
	require.Len(t, sent, 1)
	assert.Equal(t, messages.IDShutdownResponse, sent[0].messageID)

	// A second ShutdownRequest (or any other fatal path) must not fire
	// OnConnectionStatus/onFatal again — closeGracefully and fail share
	// one exactly-once teardown.
	sm.HandleControlMessage(context.Background(), messages.IDShutdownRequest, nil)
	sm.Fail(fmt.Errorf("late failure after shutdown"))
	assert.Equal(t, 1, fatalCalls)
}

func TestVideoFrameCallbackFiresOnMediaAfterStart(t *testing.T) {
	sm, _ := newTestStateMachine(t)
	sm.state = StateServing
	sm.info.VideoModes = []messages.VideoConfig{
		{Width: 1920, Height: 1080, FPS: 60, DPI: 160},
		{Width: 1280, Height: 720, FPS: 30, DPI: 160},
	}

	var gotFrame []byte
	var gotWidth, gotHeight uint16
	sm.callbacks.OnVideoFrame = func(data []byte, w, h uint16) {
		gotFrame = data
		gotWidth, gotHeight = w, h
	}

	avSender := &recordingSender{}
	cs := &avChannelState{
		sender:      channel.NewSender(wire.ChannelVideo, avSender.send),
		started:     true,
		selectedCfg: 1,
		breaker:     circuitbreaker.NewChannelErrorBreaker("VIDEO"),
	}
	sm.avChannels[wire.ChannelVideo] = cs

	ind := messages.AVMediaWithTimestampIndication{Timestamp: 7, Payload: []byte("h264-frame")}
	sm.HandleAVMessage(context.Background(), wire.ChannelVideo, messages.IDAVMediaWithTimestamp, ind.Marshal())

	assert.Equal(t, []byte("h264-frame"), gotFrame)
	assert.Equal(t, uint16(1280), gotWidth)
	assert.Equal(t, uint16(720), gotHeight)
}

// TestVideoFrameCallbackReportsZeroGeometryWhenConfigIndexUnresolved
// covers the defensive path in videoGeometry: if selectedCfg somehow
// points past the advertised VideoModes (AVChannelSetupRequest never
// arrived, or a malformed index), the callback still fires but with
// zero geometry rather than an out-of-range panic.
func TestVideoFrameCallbackReportsZeroGeometryWhenConfigIndexUnresolved(t *testing.T) {
	sm, _ := newTestStateMachine(t)
	sm.state = StateServing

	var gotWidth, gotHeight uint16 = 99, 99
	sm.callbacks.OnVideoFrame = func(data []byte, w, h uint16) { gotWidth, gotHeight = w, h }

	avSender := &recordingSender{}
	cs := &avChannelState{sender: channel.NewSender(wire.ChannelVideo, avSender.send), started: true, breaker: circuitbreaker.NewChannelErrorBreaker("VIDEO")}
	sm.avChannels[wire.ChannelVideo] = cs

	ind := messages.AVMediaWithTimestampIndication{Timestamp: 7, Payload: []byte("h264-frame")}
	sm.HandleAVMessage(context.Background(), wire.ChannelVideo, messages.IDAVMediaWithTimestamp, ind.Marshal())

	assert.Equal(t, uint16(0), gotWidth)
	assert.Equal(t, uint16(0), gotHeight)
}
