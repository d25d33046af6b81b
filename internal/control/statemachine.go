// Package control implements the control-channel state machine that
// drives an Android Auto session end to end: version negotiation, the
// TLS handshake pump, service discovery, and the channel open/setup/
// start/focus lifecycle described in spec.md §4.6.
package control

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/ocx/aacore/internal/channel"
	"github.com/ocx/aacore/internal/circuitbreaker"
	"github.com/ocx/aacore/internal/crypto"
	"github.com/ocx/aacore/internal/messages"
	"github.com/ocx/aacore/internal/metrics"
	"github.com/ocx/aacore/internal/wire"
)

// State is one node of the control graph in spec.md §4.6.
type State int

const (
	StateIdle State = iota
	StateVersionPending
	StateTlsHandshaking
	StateAuthed
	StateServing
	StateClosing
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateIdle:
		return "Idle"
	case StateVersionPending:
		return "VersionPending"
	case StateTlsHandshaking:
		return "TlsHandshaking"
	case StateAuthed:
		return "Authed"
	case StateServing:
		return "Serving"
	case StateClosing:
		return "Closing"
	case StateFailed:
		return "Failed"
	default:
		return "Unknown"
	}
}

// ErrProtocol wraps every state-machine rejection of an out-of-order
// or malformed message, matching spec.md §7's ProtocolError kind.
var ErrProtocol = errors.New("control: protocol error")

// ProtocolVersion is the version this head unit advertises.
const (
	ProtocolVersionMajor = 1
	ProtocolVersionMinor = 0
)

// ServiceInfo describes the head unit for ServiceDiscoveryResponse.
type ServiceInfo struct {
	Make    string
	Model   string
	SWBuild string
	SWVer   string

	Audio      messages.AudioDescriptor
	VideoModes []messages.VideoConfig
	Input      messages.InputDescriptor
	Bluetooth  string
}

// Callbacks are the outbound-to-embedder hooks a StateMachine drives.
// They mirror spec.md §6's callback triple plus the connection-status
// signal.
type Callbacks struct {
	OnConnectionStatus func(connected bool)
	OnVideoFrame       func(data []byte, width, height uint16)
	OnAudioSamples     func(samples []byte, channel wire.ChannelID)

	// OpenAVChannel and OpenInputChannel are provided by the session
	// supervisor; they construct a channel.Sender and register a
	// channel.Dispatcher with the messenger for the given channel id,
	// wiring inbound delivery back to HandleAVMessage/HandleInputMessage.
	// Called once, right after ServiceDiscoveryResponse is sent.
	OpenAVChannel    func(id wire.ChannelID) *channel.Sender
	OpenInputChannel func(id wire.ChannelID) *channel.Sender
}

type avChannelState struct {
	sender      *channel.Sender
	opened      bool
	started     bool
	selectedCfg uint8
	breaker     *circuitbreaker.CircuitBreaker
}

// StateMachine is the single owner of a session's protocol state. It
// is driven by the control channel's Dispatcher (HandleControlMessage)
// and, once channels exist, by each AV/input channel's Dispatcher
// (HandleAVMessage / HandleInputMessage).
type StateMachine struct {
	mu sync.Mutex

	state         State
	controlSender *channel.Sender
	cryptor       *crypto.Cryptor
	info          ServiceInfo
	callbacks     Callbacks

	avChannels    map[wire.ChannelID]*avChannelState
	inputChannel  *avChannelState
	breakers      *circuitbreaker.Manager
	connectedOnce sync.Once
	failedOnce    sync.Once

	onFatal func(error)
	metrics *metrics.Metrics
}

// New constructs a StateMachine that has not yet started; call Start
// to send VersionRequest and begin the handshake.
func New(controlSender *channel.Sender, cryptor *crypto.Cryptor, info ServiceInfo, callbacks Callbacks, onFatal func(error)) *StateMachine {
	return &StateMachine{
		state:         StateIdle,
		controlSender: controlSender,
		cryptor:       cryptor,
		info:          info,
		callbacks:     callbacks,
		avChannels:    make(map[wire.ChannelID]*avChannelState),
		breakers:      circuitbreaker.NewManager(nil),
		onFatal:       onFatal,
	}
}

// SetMetrics installs the Prometheus collectors this state machine
// reports handshake/channel-error activity to. Optional; a nil
// metrics.Metrics (the default) disables instrumentation.
func (sm *StateMachine) SetMetrics(mt *metrics.Metrics) {
	sm.mu.Lock()
	sm.metrics = mt
	sm.mu.Unlock()
}

// State reports the current control state.
func (sm *StateMachine) State() State {
	sm.mu.Lock()
	defer sm.mu.Unlock()
	return sm.state
}

// Start sends VersionRequest and transitions Idle -> VersionPending.
// spec.md §4.8: "connected(true) is emitted when the device handle is
// wired" — this implementation fires it here, before authentication,
// per the Open Question decision recorded in DESIGN.md.
func (sm *StateMachine) Start(ctx context.Context) error {
	sm.mu.Lock()
	if sm.state != StateIdle {
		sm.mu.Unlock()
		return fmt.Errorf("%w: Start called in state %s", ErrProtocol, sm.state)
	}
	sm.state = StateVersionPending
	sm.mu.Unlock()

	sm.fireConnected()

	req := messages.VersionRequest{Major: ProtocolVersionMajor, Minor: ProtocolVersionMinor}
	return sm.controlSender.Send(ctx, messages.IDVersionRequest, req.Marshal())
}

func (sm *StateMachine) fireConnected() {
	sm.connectedOnce.Do(func() {
		if sm.callbacks.OnConnectionStatus != nil {
			sm.callbacks.OnConnectionStatus(true)
		}
	})
}

// Fail forces the state machine into Failed and runs the same
// exactly-once disconnect path Start/dispatch use internally. External
// callers — namely the messenger reporting a transport or crypto
// failure through a channel.Dispatcher's Fail callback — call this to
// report a fatal error that did not originate from a decoded message.
func (sm *StateMachine) Fail(err error) {
	sm.fail(err)
}

func (sm *StateMachine) fail(err error) {
	sm.mu.Lock()
	if sm.state == StateFailed || sm.state == StateClosing {
		sm.mu.Unlock()
		return
	}
	priorState := sm.state
	sm.state = StateFailed
	sm.mu.Unlock()
	slog.Error("control: state machine failed", "stage", priorState.String(), "error", err)
	sm.teardown(err)
}

// closeGracefully moves the state machine into Closing and runs the
// same exactly-once teardown fail uses, for the peer-initiated
// ShutdownRequest transition rather than a protocol violation
// (spec.md §4.6: "[emit ShutdownResponse, stop]").
func (sm *StateMachine) closeGracefully(reason error) {
	sm.mu.Lock()
	if sm.state == StateFailed || sm.state == StateClosing {
		sm.mu.Unlock()
		return
	}
	priorState := sm.state
	sm.state = StateClosing
	sm.mu.Unlock()
	slog.Warn("control: closing session, shutdown requested by peer", "stage", priorState.String())
	sm.teardown(reason)
}

// teardown runs the exactly-once disconnect path shared by fail and
// closeGracefully: zero the active-session gauge, fire
// OnConnectionStatus(false), and hand off to onFatal so the session
// supervisor releases the transport/cryptor/USB handle.
func (sm *StateMachine) teardown(err error) {
	sm.mu.Lock()
	mt := sm.metrics
	sm.mu.Unlock()
	if mt != nil {
		mt.SessionsActive.Set(0)
	}

	sm.failedOnce.Do(func() {
		if sm.callbacks.OnConnectionStatus != nil {
			sm.callbacks.OnConnectionStatus(false)
		}
		if sm.onFatal != nil {
			sm.onFatal(err)
		}
	})
}

// HandleControlMessage routes one decoded control-channel message
// according to the current state (spec.md §4.6).
func (sm *StateMachine) HandleControlMessage(ctx context.Context, messageID uint16, payload []byte) {
	if err := sm.dispatchControlMessage(ctx, messageID, payload); err != nil {
		sm.fail(err)
	}
}

func (sm *StateMachine) dispatchControlMessage(ctx context.Context, messageID uint16, payload []byte) error {
	sm.mu.Lock()
	state := sm.state
	sm.mu.Unlock()

	switch messageID {
	case messages.IDVersionResponse:
		if state != StateVersionPending {
			return fmt.Errorf("%w: VersionResponse in state %s", ErrProtocol, state)
		}
		return sm.handleVersionResponse(ctx, payload)

	case messages.IDSslHandshake:
		if state != StateTlsHandshaking {
			return fmt.Errorf("%w: SslHandshake in state %s", ErrProtocol, state)
		}
		return sm.cryptor.FeedInbound(payload)

	case messages.IDServiceDiscoveryRequest:
		if state != StateAuthed {
			return fmt.Errorf("%w: ServiceDiscoveryRequest in state %s", ErrProtocol, state)
		}
		return sm.handleServiceDiscoveryRequest(ctx)

	case messages.IDPingRequest:
		req, err := messages.UnmarshalPingRequest(payload)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		resp := messages.PingResponse{Timestamp: req.Timestamp}
		return sm.controlSender.Send(ctx, messages.IDPingResponse, resp.Marshal())

	case messages.IDAudioFocusRequest:
		if state != StateServing {
			return fmt.Errorf("%w: AudioFocusRequest in state %s", ErrProtocol, state)
		}
		req, err := messages.UnmarshalFocusRequest(payload)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		return sm.controlSender.Send(ctx, messages.IDAudioFocusResponse, grantFocus(req).Marshal())

	case messages.IDNavigationFocusRequest:
		if state != StateServing {
			return fmt.Errorf("%w: NavigationFocusRequest in state %s", ErrProtocol, state)
		}
		req, err := messages.UnmarshalFocusRequest(payload)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		return sm.controlSender.Send(ctx, messages.IDNavigationFocusResponse, grantFocus(req).Marshal())

	case messages.IDShutdownRequest:
		sendErr := sm.controlSender.Send(ctx, messages.IDShutdownResponse, (messages.ShutdownResponse{}).Marshal())
		sm.closeGracefully(fmt.Errorf("control: shutdown requested by peer"))
		return sendErr

	case messages.IDVoiceSessionRequest:
		// Acknowledged implicitly; no response defined for this
		// message beyond accepting it in Serving.
		if state != StateServing {
			return fmt.Errorf("%w: VoiceSessionRequest in state %s", ErrProtocol, state)
		}
		return nil

	default:
		return fmt.Errorf("%w: unexpected control message id 0x%04x in state %s", ErrProtocol, messageID, state)
	}
}

func grantFocus(req messages.FocusRequest) messages.FocusResponse {
	return messages.FocusResponse{State: messages.FocusStateGain}
}

func (sm *StateMachine) handleVersionResponse(ctx context.Context, payload []byte) error {
	resp, err := messages.UnmarshalVersionResponse(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrProtocol, err)
	}
	if resp.Status != messages.VersionStatusOK {
		return fmt.Errorf("%w: version mismatch (peer wants major=%d minor=%d)", ErrProtocol, resp.Major, resp.Minor)
	}

	sm.mu.Lock()
	sm.state = StateTlsHandshaking
	sm.mu.Unlock()

	handshakeCtx, cancel := context.WithTimeout(ctx, 30*time.Second)
	resultCh := make(chan error, 1)
	go func() { resultCh <- sm.cryptor.Handshake(handshakeCtx) }()

	go sm.pumpHandshake(ctx, cancel, resultCh, time.Now())
	return nil
}

func (sm *StateMachine) pumpHandshake(ctx context.Context, cancel context.CancelFunc, resultCh <-chan error, started time.Time) {
	defer cancel()
	for {
		select {
		case chunk, ok := <-sm.cryptor.Outbound():
			if !ok {
				return
			}
			if err := sm.controlSender.Send(ctx, messages.IDSslHandshake, chunk); err != nil {
				sm.recordHandshakeFailure()
				sm.fail(fmt.Errorf("control: sending handshake flight: %w", err))
				return
			}
		case err := <-resultCh:
			if err != nil {
				sm.recordHandshakeFailure()
				sm.fail(fmt.Errorf("control: TLS handshake failed: %w", err))
				return
			}
			sm.recordHandshakeDuration(time.Since(started))
			sm.onHandshakeComplete(ctx)
			return
		case <-ctx.Done():
			sm.recordHandshakeFailure()
			sm.fail(fmt.Errorf("control: %w", ctx.Err()))
			return
		}
	}
}

func (sm *StateMachine) recordHandshakeDuration(d time.Duration) {
	sm.mu.Lock()
	mt := sm.metrics
	sm.mu.Unlock()
	if mt != nil {
		mt.HandshakeDuration.Observe(d.Seconds())
	}
}

func (sm *StateMachine) recordHandshakeFailure() {
	sm.mu.Lock()
	mt := sm.metrics
	sm.mu.Unlock()
	if mt != nil {
		mt.HandshakeFailures.Inc()
	}
}

func (sm *StateMachine) onHandshakeComplete(ctx context.Context) {
	sm.mu.Lock()
	sm.state = StateAuthed
	sm.mu.Unlock()
	sm.controlSender.SetEncrypted(true)

	ind := messages.AuthCompleteIndication{Status: messages.StatusOK}
	if err := sm.controlSender.Send(ctx, messages.IDAuthComplete, ind.Marshal()); err != nil {
		sm.fail(fmt.Errorf("control: sending AuthComplete: %w", err))
	}
}

// serviceDiscoveryOrder is the fixed channel order spec.md §4.6
// requires ServiceDiscoveryResponse to declare.
var serviceDiscoveryOrder = []wire.ChannelID{
	wire.ChannelAVInput,
	wire.ChannelMediaAudio,
	wire.ChannelSpeechAudio,
	wire.ChannelSystemAudio,
	wire.ChannelSensor,
	wire.ChannelVideo,
	wire.ChannelBluetooth,
	wire.ChannelInput,
}

func (sm *StateMachine) handleServiceDiscoveryRequest(ctx context.Context) error {
	resp := messages.ServiceDiscoveryResponse{
		HeadUnitMake:  sm.info.Make,
		HeadUnitModel: sm.info.Model,
		SWBuild:       sm.info.SWBuild,
		SWVersion:     sm.info.SWVer,
	}

	for _, id := range serviceDiscoveryOrder {
		resp.Channels = append(resp.Channels, sm.describeChannel(id))
	}

	if err := sm.controlSender.Send(ctx, messages.IDServiceDiscoveryResponse, resp.Marshal()); err != nil {
		return err
	}

	sm.mu.Lock()
	sm.state = StateServing
	for _, id := range serviceDiscoveryOrder {
		sm.armChannel(id)
	}
	mt := sm.metrics
	sm.mu.Unlock()
	if mt != nil {
		mt.SessionsActive.Set(1)
	}
	return nil
}

func (sm *StateMachine) describeChannel(id wire.ChannelID) messages.ChannelDescriptor {
	desc := messages.ChannelDescriptor{ChannelID: id}
	switch id {
	case wire.ChannelMediaAudio, wire.ChannelSpeechAudio, wire.ChannelSystemAudio:
		audio := sm.info.Audio
		desc.Audio = &audio
	case wire.ChannelAVInput:
		desc.Audio = &messages.AudioDescriptor{SampleRate: 16000, BitDepth: 16, ChannelCount: 1}
	case wire.ChannelVideo:
		desc.VideoConfigs = sm.info.VideoModes
	case wire.ChannelInput:
		input := sm.info.Input
		desc.Input = &input
	case wire.ChannelBluetooth:
		desc.BluetoothAddr = sm.info.Bluetooth
	case wire.ChannelSensor:
		// No sensor types advertised by default; embedders that wire
		// real sensors extend ServiceInfo and this switch together.
	}
	return desc
}

// armChannel constructs the channel's sender (via the supervisor's
// OpenAVChannel/OpenInputChannel hook) and records its dispatch state,
// called while already holding sm.mu from handleServiceDiscoveryRequest.
func (sm *StateMachine) armChannel(id wire.ChannelID) {
	cs := &avChannelState{breaker: sm.breakers.GetOrCreate(id.String(), circuitbreaker.ChannelErrorConfig(id.String()))}
	switch id {
	case wire.ChannelInput:
		if sm.callbacks.OpenInputChannel != nil {
			cs.sender = sm.callbacks.OpenInputChannel(id)
		}
		sm.inputChannel = cs
	default:
		if sm.callbacks.OpenAVChannel != nil {
			cs.sender = sm.callbacks.OpenAVChannel(id)
		}
		sm.avChannels[id] = cs
	}
	if cs.sender != nil {
		cs.sender.SetEncrypted(true)
	}
}

// HandleAVMessage routes a message received on an opened AV channel
// (video or one of the three audio channels, or AV_INPUT).
func (sm *StateMachine) HandleAVMessage(ctx context.Context, ch wire.ChannelID, messageID uint16, payload []byte) {
	if err := sm.dispatchAVMessage(ctx, ch, messageID, payload); err != nil {
		sm.recordChannelError(ch, err)
	}
}

func (sm *StateMachine) recordChannelError(ch wire.ChannelID, err error) {
	sm.mu.Lock()
	cs := sm.avChannels[ch]
	if cs == nil && sm.inputChannel != nil {
		cs = sm.inputChannel
	}
	mt := sm.metrics
	sm.mu.Unlock()
	if mt != nil {
		mt.ChannelErrors.WithLabelValues(ch.String()).Inc()
	}
	slog.Warn("control: channel error", "channel", ch.String(), "stage", "dispatch", "error", err)
	if cs == nil {
		sm.fail(err)
		return
	}
	if _, execErr := cs.breaker.Execute(func() (interface{}, error) { return nil, err }); execErr != nil && cs.breaker.State() == circuitbreaker.StateOpen {
		if mt != nil {
			mt.ChannelBreakerOpen.WithLabelValues(ch.String()).Inc()
		}
		sm.fail(fmt.Errorf("control: channel %s: %w (escalated after repeated errors)", ch, execErr))
	}
}

func (sm *StateMachine) dispatchAVMessage(ctx context.Context, ch wire.ChannelID, messageID uint16, payload []byte) error {
	sm.mu.Lock()
	if sm.state != StateServing {
		sm.mu.Unlock()
		return fmt.Errorf("%w: AV message on channel %s in state %s", ErrProtocol, ch, sm.state)
	}
	cs, ok := sm.avChannels[ch]
	sm.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: message on unopened channel %s", ErrProtocol, ch)
	}

	switch messageID {
	case messages.IDChannelOpenRequest:
		req, err := messages.UnmarshalChannelOpenRequest(payload)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		if req.ChannelID != ch {
			return fmt.Errorf("%w: ChannelOpenRequest channel mismatch: got %s on %s", ErrProtocol, req.ChannelID, ch)
		}
		sm.mu.Lock()
		cs.opened = true
		sm.mu.Unlock()
		resp := messages.ChannelOpenResponse{Status: messages.StatusOK}
		return cs.sender.Send(ctx, messages.IDChannelOpenResponse, resp.Marshal())

	case messages.IDAVChannelSetupRequest:
		req, err := messages.UnmarshalAVChannelSetupRequest(payload)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		sm.mu.Lock()
		cs.selectedCfg = req.ConfigIndex
		sm.mu.Unlock()
		resp := messages.AVChannelSetupResponse{MediaStatus: messages.StatusOK, MaxUnacked: 1, Configs: []uint8{req.ConfigIndex}}
		return cs.sender.Send(ctx, messages.IDAVChannelSetupResponse, resp.Marshal())

	case messages.IDAVChannelStartIndication:
		sm.mu.Lock()
		cs.started = true
		sm.mu.Unlock()
		return nil

	case messages.IDAVChannelStopIndication:
		sm.mu.Lock()
		cs.started = false
		sm.mu.Unlock()
		return nil

	case messages.IDVideoFocusRequest:
		if ch != wire.ChannelVideo {
			return fmt.Errorf("%w: VideoFocusRequest on non-video channel %s", ErrProtocol, ch)
		}
		req, err := messages.UnmarshalVideoFocusRequest(payload)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		ind := messages.VideoFocusIndication{Mode: req.Mode, Unrequested: false}
		return cs.sender.Send(ctx, messages.IDVideoFocusIndication, ind.Marshal())

	case messages.IDAVMedia:
		sm.mu.Lock()
		started := cs.started
		sm.mu.Unlock()
		if !started {
			return fmt.Errorf("%w: media on channel %s before Start", ErrProtocol, ch)
		}
		return sm.deliverMedia(cs, ch, messages.UnmarshalAVMediaIndication(payload).Payload)

	case messages.IDAVMediaWithTimestamp:
		sm.mu.Lock()
		started := cs.started
		sm.mu.Unlock()
		if !started {
			return fmt.Errorf("%w: media on channel %s before Start", ErrProtocol, ch)
		}
		ind, err := messages.UnmarshalAVMediaWithTimestampIndication(payload)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		return sm.deliverMedia(cs, ch, ind.Payload)

	default:
		return fmt.Errorf("%w: unexpected AV message id 0x%04x on channel %s", ErrProtocol, messageID, ch)
	}
}

func (sm *StateMachine) deliverMedia(cs *avChannelState, ch wire.ChannelID, payload []byte) error {
	if ch == wire.ChannelVideo {
		if sm.callbacks.OnVideoFrame != nil {
			width, height := sm.videoGeometry(cs)
			sm.callbacks.OnVideoFrame(payload, width, height)
		}
		return nil
	}
	if sm.callbacks.OnAudioSamples != nil {
		sm.callbacks.OnAudioSamples(payload, ch)
	}
	return nil
}

// videoGeometry resolves the width/height the phone actually accepted
// during AVChannelSetupRequest/Response, rather than a hardcoded
// resolution: cs.selectedCfg indexes into the VideoConfig list this
// head unit advertised in ServiceDiscoveryResponse.
func (sm *StateMachine) videoGeometry(cs *avChannelState) (width, height uint16) {
	sm.mu.Lock()
	idx := cs.selectedCfg
	sm.mu.Unlock()
	if int(idx) >= len(sm.info.VideoModes) {
		slog.Warn("control: no negotiated video config for selected index", "stage", "deliver_media", "config_index", idx)
		return 0, 0
	}
	cfg := sm.info.VideoModes[idx]
	return cfg.Width, cfg.Height
}

// SendInputEvent forwards one touch/key indication to the phone on the
// input channel, for the embedder's send_touch/send_button API
// (spec.md §6). Returns an error if the input channel has not been
// opened yet (i.e. before ServiceDiscoveryResponse/Serving).
func (sm *StateMachine) SendInputEvent(ctx context.Context, ind messages.InputEventIndication) error {
	sm.mu.Lock()
	cs := sm.inputChannel
	sm.mu.Unlock()
	if cs == nil || cs.sender == nil {
		return fmt.Errorf("control: input channel not open yet")
	}
	return cs.sender.Send(ctx, messages.IDInputEventIndication, ind.Marshal())
}

// HandleInputMessage routes a message received on the input channel.
func (sm *StateMachine) HandleInputMessage(ctx context.Context, messageID uint16, payload []byte) {
	if err := sm.dispatchInputMessage(ctx, messageID, payload); err != nil {
		sm.recordChannelError(wire.ChannelInput, err)
	}
}

func (sm *StateMachine) dispatchInputMessage(ctx context.Context, messageID uint16, payload []byte) error {
	sm.mu.Lock()
	if sm.state != StateServing || sm.inputChannel == nil {
		sm.mu.Unlock()
		return fmt.Errorf("%w: input message in state %s", ErrProtocol, sm.state)
	}
	cs := sm.inputChannel
	sm.mu.Unlock()

	switch messageID {
	case messages.IDChannelOpenRequest:
		req, err := messages.UnmarshalChannelOpenRequest(payload)
		if err != nil {
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		if req.ChannelID != wire.ChannelInput {
			return fmt.Errorf("%w: ChannelOpenRequest channel mismatch on input", ErrProtocol)
		}
		sm.mu.Lock()
		cs.opened = true
		sm.mu.Unlock()
		resp := messages.ChannelOpenResponse{Status: messages.StatusOK}
		return cs.sender.Send(ctx, messages.IDChannelOpenResponse, resp.Marshal())

	case messages.IDBindingRequest:
		if _, err := messages.UnmarshalBindingRequest(payload); err != nil {
			return fmt.Errorf("%w: %v", ErrProtocol, err)
		}
		resp := messages.BindingResponse{Status: messages.StatusOK}
		return cs.sender.Send(ctx, messages.IDBindingResponse, resp.Marshal())

	default:
		return fmt.Errorf("%w: unexpected input message id 0x%04x", ErrProtocol, messageID)
	}
}
