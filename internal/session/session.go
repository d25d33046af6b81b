// Package session is the supervisor that owns one Android Auto
// connection end to end: USB discovery and the AOAP mode switch
// (spec.md §4.7), the transport/cryptor/messenger construction and
// startup order, the control-channel state machine, and the single
// teardown path that fires the disconnected callback exactly once
// (spec.md §4.8).
package session

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	usb "github.com/kevmo314/go-usb"

	"github.com/ocx/aacore/internal/aoap"
	"github.com/ocx/aacore/internal/channel"
	"github.com/ocx/aacore/internal/control"
	"github.com/ocx/aacore/internal/crypto"
	"github.com/ocx/aacore/internal/messages"
	"github.com/ocx/aacore/internal/messenger"
	"github.com/ocx/aacore/internal/metrics"
	"github.com/ocx/aacore/internal/transport"
	"github.com/ocx/aacore/internal/wire"
)

// accessoryInterfaceNumber is the USB interface AOAP mode always
// exposes its bulk endpoints under.
const accessoryInterfaceNumber = 0

// rescanInterval/rescanTimeout bound how long Open waits for a phone
// that was just switched into AOAP mode to re-enumerate, per the
// design note in spec.md §9: RunQueryChain triggers the switch but
// does not itself wait for the device to reappear.
const (
	rescanInterval = 500 * time.Millisecond
	rescanTimeout  = 15 * time.Second
)

// Config bundles everything Open needs to bring up a session against
// whatever Android phone it finds on the bus.
type Config struct {
	// Identity is the accessory string table sent during the AOAP
	// query chain (manufacturer/model/description/version/uri/serial).
	Identity aoap.Identity

	// TLSIdentity is the head unit's certificate/key pair for the
	// control-channel TLS handshake.
	TLSIdentity crypto.Identity

	// ServiceInfo describes the head unit for ServiceDiscoveryResponse.
	ServiceInfo control.ServiceInfo

	// Callbacks carries the embedder's video/audio/connection-status
	// hooks. OpenAVChannel/OpenInputChannel are filled in by Open and
	// any value set here is overwritten.
	Callbacks control.Callbacks

	// Metrics, if set, receives frame/handshake/channel-error
	// instrumentation for this session. Optional.
	Metrics *metrics.Metrics
}

// Session owns one live connection's transport, cryptor, messenger,
// and control state machine, and is the single place that tears all
// four down together.
type Session struct {
	ctx    context.Context
	cancel context.CancelFunc

	device     *usb.Device
	handle     *usb.DeviceHandle
	deviceInfo aoap.DeviceDescriptor
	transport  *transport.Transport
	cryptor    *crypto.Cryptor
	messenger  *messenger.Messenger
	sm         *control.StateMachine

	closeOnce sync.Once
	closed    chan struct{}
}

// Open discovers a phone on the USB bus, drives it into AOAP mode if
// necessary, and brings up the full protocol stack against it. It
// blocks until the control channel's VersionRequest has been sent;
// the rest of the handshake proceeds asynchronously and is observed
// through cfg.Callbacks.
func Open(ctx context.Context, cfg Config) (*Session, error) {
	dev, err := waitForAccessoryDevice(ctx, cfg.Identity)
	if err != nil {
		return nil, err
	}

	handle, err := aoap.OpenAlreadyAOAP(dev, accessoryInterfaceNumber)
	if err != nil {
		return nil, fmt.Errorf("session: open accessory device: %w", err)
	}

	endpoints, err := aoap.FindAccessoryEndpoints(handle, accessoryInterfaceNumber)
	if err != nil {
		handle.Close()
		return nil, fmt.Errorf("session: %w", err)
	}

	sessionCtx, cancel := context.WithCancel(ctx)

	s := &Session{
		ctx:        sessionCtx,
		cancel:     cancel,
		device:     dev,
		handle:     handle,
		deviceInfo: aoap.DescribeDevice(dev, handle),
		transport:  transport.New(handle, endpoints),
		closed:     make(chan struct{}),
	}

	s.cryptor = crypto.New(cfg.TLSIdentity.TLSConfig())
	s.messenger = messenger.New(s.transport, s.onFatal)
	s.messenger.SetCryptor(s.cryptor)
	if cfg.Metrics != nil {
		s.messenger.SetMetrics(cfg.Metrics)
	}

	controlSender := channel.NewSender(wire.ChannelControl, s.messenger.Send)

	callbacks := cfg.Callbacks
	callbacks.OpenAVChannel = s.openAVChannel
	callbacks.OpenInputChannel = s.openInputChannel

	s.sm = control.New(controlSender, s.cryptor, cfg.ServiceInfo, callbacks, s.onFatal)
	if cfg.Metrics != nil {
		s.sm.SetMetrics(cfg.Metrics)
	}

	controlDispatcher := channel.NewDispatcher(
		wire.ChannelControl,
		func(messageID uint16, payload []byte) { s.sm.HandleControlMessage(s.ctx, messageID, payload) },
		s.sm.Fail,
	)
	s.messenger.RegisterSink(wire.ChannelControl, controlDispatcher)

	s.messenger.Start(sessionCtx)

	if err := s.sm.Start(sessionCtx); err != nil {
		s.Close()
		return nil, fmt.Errorf("session: start control channel: %w", err)
	}

	return s, nil
}

// State reports the control state machine's current node, mainly for
// diagnostics and tests.
func (s *Session) State() control.State {
	return s.sm.State()
}

// DeviceInfo reports the physical USB identity of the connected phone,
// for the session-connected event and audit record.
func (s *Session) DeviceInfo() aoap.DeviceDescriptor {
	return s.deviceInfo
}

// Done returns a channel that is closed once Close has run, so a
// supervisor can wait for this session to end without polling State.
func (s *Session) Done() <-chan struct{} {
	return s.closed
}

// SendTouch forwards one touchscreen sample to the phone, for an
// embedder whose touchscreen is on the head unit rather than mirrored
// from the phone.
func (s *Session) SendTouch(ctx context.Context, x, y uint16, action messages.TouchAction) error {
	ind := messages.InputEventIndication{
		Timestamp: uint64(time.Now().UnixMilli()),
		Touches:   []messages.TouchEvent{{X: x, Y: y, Action: action}},
	}
	return s.sm.SendInputEvent(ctx, ind)
}

// SendButton forwards one physical/steering-wheel button event to the phone.
func (s *Session) SendButton(ctx context.Context, keycode uint32, pressed bool) error {
	ind := messages.InputEventIndication{
		Timestamp: uint64(time.Now().UnixMilli()),
		Keys:      []messages.KeyEvent{{Keycode: keycode, Pressed: pressed}},
	}
	return s.sm.SendInputEvent(ctx, ind)
}

func (s *Session) openAVChannel(id wire.ChannelID) *channel.Sender {
	sender := channel.NewSender(id, s.messenger.Send)
	dispatcher := channel.NewDispatcher(
		id,
		func(messageID uint16, payload []byte) { s.sm.HandleAVMessage(s.ctx, id, messageID, payload) },
		s.sm.Fail,
	)
	s.messenger.RegisterSink(id, dispatcher)
	return sender
}

func (s *Session) openInputChannel(id wire.ChannelID) *channel.Sender {
	sender := channel.NewSender(id, s.messenger.Send)
	dispatcher := channel.NewDispatcher(
		id,
		func(messageID uint16, payload []byte) { s.sm.HandleInputMessage(s.ctx, messageID, payload) },
		s.sm.Fail,
	)
	s.messenger.RegisterSink(id, dispatcher)
	return sender
}

// onFatal is the single path that ends a session, wired into the
// messenger and the control state machine so that a failure from
// either one tears the whole stack down exactly once.
func (s *Session) onFatal(err error) {
	slog.Error("session: fatal error, closing session", "session", s.deviceInfo.SerialNumber, "stage", s.sm.State().String(), "error", err)
	go s.Close()
}

// Close releases the USB device handle and stops every loop this
// session started. Safe to call more than once and safe to call from
// within a callback that Close itself will end up invoking.
func (s *Session) Close() error {
	var closeErr error
	s.closeOnce.Do(func() {
		close(s.closed)
		s.cancel()
		s.messenger.Stop()
		s.cryptor.Close()
		closeErr = s.transport.Close()
	})
	return closeErr
}

// waitForAccessoryDevice repeatedly scans the USB bus, running the
// AOAP query chain against any untried candidate device it finds,
// until an already-AOAP device appears or rescanTimeout elapses.
func waitForAccessoryDevice(ctx context.Context, identity aoap.Identity) (*usb.Device, error) {
	deadlineCtx, cancel := context.WithTimeout(ctx, rescanTimeout)
	defer cancel()

	tried := make(map[*usb.Device]bool)

	for {
		devices, classes, err := aoap.Discover()
		if err != nil {
			return nil, fmt.Errorf("session: %w", err)
		}

		for _, dev := range devices {
			switch classes[dev] {
			case aoap.ClassifyAlreadyAOAP:
				return dev, nil
			case aoap.ClassifyCandidate:
				if tried[dev] {
					continue
				}
				tried[dev] = true
				switchCandidateToAOAP(deadlineCtx, dev, identity)
			}
		}

		select {
		case <-deadlineCtx.Done():
			return nil, fmt.Errorf("session: no AOAP-capable device found within %s", rescanTimeout)
		case <-time.After(rescanInterval):
		}
	}
}

// switchCandidateToAOAP opens a candidate device just long enough to
// run the query chain. Any failure here just means this particular
// device isn't an Android phone (or doesn't support AOAP); the caller
// keeps scanning rather than treating it as fatal.
func switchCandidateToAOAP(ctx context.Context, dev *usb.Device, identity aoap.Identity) {
	handle, err := dev.Open()
	if err != nil {
		return
	}
	defer handle.Close()
	_ = aoap.RunQueryChain(ctx, handle, identity)
}
