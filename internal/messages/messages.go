// Package messages defines the typed payloads carried by AA channel
// messages: the control-channel handshake/discovery/focus schema, the
// AV-channel open/setup/media schema, and the input-channel schema
// described in spec.md §4.5, plus their message ids from spec.md §6.
//
// Encoding is a small fixed-order binary form (encoding/binary plus
// length-prefixed strings/slices) rather than protobuf: the spec
// defines message_id as "the first two bytes of the decrypted
// payload" and says nothing about a schema-description format, so a
// direct binary encoding keeps the wire format exactly what the spec
// describes without pulling in a serialization framework the pack
// does not otherwise exercise for this size of message.
package messages

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"

	"github.com/ocx/aacore/internal/wire"
)

// Control-channel message ids, verbatim from spec.md §6.
const (
	IDVersionRequest           uint16 = 0x0001
	IDVersionResponse          uint16 = 0x0002
	IDSslHandshake             uint16 = 0x0003
	IDAuthComplete             uint16 = 0x0004
	IDServiceDiscoveryRequest  uint16 = 0x0005
	IDServiceDiscoveryResponse uint16 = 0x0006
	IDChannelOpenRequest       uint16 = 0x0007
	IDChannelOpenResponse      uint16 = 0x0008
	IDPingRequest              uint16 = 0x000B
	IDPingResponse             uint16 = 0x000C
	IDNavigationFocusRequest   uint16 = 0x000D
	IDNavigationFocusResponse  uint16 = 0x000E
	IDShutdownRequest          uint16 = 0x000F
	IDShutdownResponse         uint16 = 0x0010
	IDVoiceSessionRequest      uint16 = 0x0011
	IDAudioFocusRequest        uint16 = 0x0012
	IDAudioFocusResponse       uint16 = 0x0013
)

// AV-channel media ids, verbatim from spec.md §6.
const (
	IDAVMediaWithTimestamp uint16 = 0x0000
	IDAVMedia              uint16 = 0x0001
)

// The remaining AV/input channel-lifecycle ids are not pinned to a
// literal value by spec.md; this implementation assigns them a block
// above the control ids so they can never collide with one, and
// documents the choice here rather than leaving it implicit.
const (
	IDAVChannelSetupRequest      uint16 = 0x8000
	IDAVChannelSetupResponse     uint16 = 0x8001
	IDAVChannelStartIndication   uint16 = 0x8002
	IDAVChannelStopIndication    uint16 = 0x8003
	IDVideoFocusRequest          uint16 = 0x8004
	IDVideoFocusIndication       uint16 = 0x8005
	IDBindingRequest             uint16 = 0x8006
	IDBindingResponse            uint16 = 0x8007
	IDInputEventIndication       uint16 = 0x8008
)

// Status is the generic ok/fail result carried by several response
// messages.
type Status uint16

const (
	StatusOK   Status = 0
	StatusFail Status = 1
)

// VersionStatus reports whether the peer's declared major/minor
// version is compatible.
type VersionStatus uint16

const (
	VersionStatusOK       VersionStatus = 0
	VersionStatusMismatch VersionStatus = 1
)

// FocusType/FocusState cover both audio and navigation focus
// exchanges, which share the same shape.
type FocusType uint8

const (
	FocusTypeRelease FocusType = iota
	FocusTypeGain
	FocusTypeGainTransient
	FocusTypeGainNavi
)

type FocusState uint8

const (
	FocusStateGain FocusState = iota
	FocusStateLoss
	FocusStateLossTransient
	FocusStateLossTransientCanDuck
)

// VideoFocusMode mirrors the AV video-specific focus exchange.
type VideoFocusMode uint8

const (
	VideoFocusUnfocused VideoFocusMode = iota
	VideoFocusFocused
)

// ---------------------------------------------------------------------
// small encode/decode helpers
// ---------------------------------------------------------------------

func putString(buf *bytes.Buffer, s string) {
	binary.Write(buf, binary.BigEndian, uint16(len(s)))
	buf.WriteString(s)
}

func readString(r *bytes.Reader) (string, error) {
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return "", err
	}
	buf := make([]byte, n)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// ---------------------------------------------------------------------
// version negotiation
// ---------------------------------------------------------------------

type VersionRequest struct {
	Major uint16
	Minor uint16
}

func (m VersionRequest) Marshal() []byte {
	buf := make([]byte, 4)
	binary.BigEndian.PutUint16(buf[0:2], m.Major)
	binary.BigEndian.PutUint16(buf[2:4], m.Minor)
	return buf
}

func UnmarshalVersionRequest(payload []byte) (VersionRequest, error) {
	if len(payload) < 4 {
		return VersionRequest{}, fmt.Errorf("messages: VersionRequest too short")
	}
	return VersionRequest{
		Major: binary.BigEndian.Uint16(payload[0:2]),
		Minor: binary.BigEndian.Uint16(payload[2:4]),
	}, nil
}

type VersionResponse struct {
	Major  uint16
	Minor  uint16
	Status VersionStatus
}

func (m VersionResponse) Marshal() []byte {
	buf := make([]byte, 6)
	binary.BigEndian.PutUint16(buf[0:2], m.Major)
	binary.BigEndian.PutUint16(buf[2:4], m.Minor)
	binary.BigEndian.PutUint16(buf[4:6], uint16(m.Status))
	return buf
}

func UnmarshalVersionResponse(payload []byte) (VersionResponse, error) {
	if len(payload) < 6 {
		return VersionResponse{}, fmt.Errorf("messages: VersionResponse too short")
	}
	return VersionResponse{
		Major:  binary.BigEndian.Uint16(payload[0:2]),
		Minor:  binary.BigEndian.Uint16(payload[2:4]),
		Status: VersionStatus(binary.BigEndian.Uint16(payload[4:6])),
	}, nil
}

// AuthCompleteIndication carries the handshake outcome; payload is a
// single status word.
type AuthCompleteIndication struct {
	Status Status
}

func (m AuthCompleteIndication) Marshal() []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(m.Status))
	return buf
}

func UnmarshalAuthCompleteIndication(payload []byte) (AuthCompleteIndication, error) {
	if len(payload) < 2 {
		return AuthCompleteIndication{}, fmt.Errorf("messages: AuthCompleteIndication too short")
	}
	return AuthCompleteIndication{Status: Status(binary.BigEndian.Uint16(payload))}, nil
}

// ---------------------------------------------------------------------
// service discovery
// ---------------------------------------------------------------------

// ServiceDiscoveryRequest carries no fields; the peer merely asserts
// readiness for the head unit to describe its channels.
type ServiceDiscoveryRequest struct{}

// AudioDescriptor describes one of the audio channel variants.
type AudioDescriptor struct {
	SampleRate   uint32
	BitDepth     uint8
	ChannelCount uint8
}

// VideoConfig describes one supported resolution/fps configuration.
type VideoConfig struct {
	Width        uint16
	Height       uint16
	FPS          uint8
	DPI          uint16
	MarginWidth  uint16
	MarginHeight uint16
}

// InputDescriptor describes the touchscreen size and supported keycodes.
type InputDescriptor struct {
	TouchWidth  uint16
	TouchHeight uint16
	Keycodes    []uint32
}

// ChannelDescriptor is a tagged union describing one advertised
// channel in ServiceDiscoveryResponse.
type ChannelDescriptor struct {
	ChannelID       wire.ChannelID
	Audio           *AudioDescriptor // MEDIA_AUDIO, SPEECH_AUDIO, SYSTEM_AUDIO, AV_INPUT
	VideoConfigs    []VideoConfig    // VIDEO
	Input           *InputDescriptor // INPUT
	BluetoothAddr   string           // BLUETOOTH
	SensorTypes     []uint8          // SENSOR
}

func (d ChannelDescriptor) marshal(buf *bytes.Buffer) {
	binary.Write(buf, binary.BigEndian, uint8(d.ChannelID))
	hasAudio := d.Audio != nil
	binary.Write(buf, binary.BigEndian, boolToByte(hasAudio))
	if hasAudio {
		binary.Write(buf, binary.BigEndian, d.Audio.SampleRate)
		binary.Write(buf, binary.BigEndian, d.Audio.BitDepth)
		binary.Write(buf, binary.BigEndian, d.Audio.ChannelCount)
	}
	binary.Write(buf, binary.BigEndian, uint16(len(d.VideoConfigs)))
	for _, vc := range d.VideoConfigs {
		binary.Write(buf, binary.BigEndian, vc.Width)
		binary.Write(buf, binary.BigEndian, vc.Height)
		binary.Write(buf, binary.BigEndian, vc.FPS)
		binary.Write(buf, binary.BigEndian, vc.DPI)
		binary.Write(buf, binary.BigEndian, vc.MarginWidth)
		binary.Write(buf, binary.BigEndian, vc.MarginHeight)
	}
	hasInput := d.Input != nil
	binary.Write(buf, binary.BigEndian, boolToByte(hasInput))
	if hasInput {
		binary.Write(buf, binary.BigEndian, d.Input.TouchWidth)
		binary.Write(buf, binary.BigEndian, d.Input.TouchHeight)
		binary.Write(buf, binary.BigEndian, uint16(len(d.Input.Keycodes)))
		for _, kc := range d.Input.Keycodes {
			binary.Write(buf, binary.BigEndian, kc)
		}
	}
	putString(buf, d.BluetoothAddr)
	binary.Write(buf, binary.BigEndian, uint16(len(d.SensorTypes)))
	buf.Write(d.SensorTypes)
}

func unmarshalChannelDescriptor(r *bytes.Reader) (ChannelDescriptor, error) {
	var d ChannelDescriptor
	var chID, hasAudio uint8
	if err := binary.Read(r, binary.BigEndian, &chID); err != nil {
		return d, err
	}
	d.ChannelID = wire.ChannelID(chID)
	if err := binary.Read(r, binary.BigEndian, &hasAudio); err != nil {
		return d, err
	}
	if hasAudio == 1 {
		d.Audio = &AudioDescriptor{}
		if err := binary.Read(r, binary.BigEndian, &d.Audio.SampleRate); err != nil {
			return d, err
		}
		if err := binary.Read(r, binary.BigEndian, &d.Audio.BitDepth); err != nil {
			return d, err
		}
		if err := binary.Read(r, binary.BigEndian, &d.Audio.ChannelCount); err != nil {
			return d, err
		}
	}
	var numConfigs uint16
	if err := binary.Read(r, binary.BigEndian, &numConfigs); err != nil {
		return d, err
	}
	for i := 0; i < int(numConfigs); i++ {
		var vc VideoConfig
		if err := binary.Read(r, binary.BigEndian, &vc.Width); err != nil {
			return d, err
		}
		if err := binary.Read(r, binary.BigEndian, &vc.Height); err != nil {
			return d, err
		}
		if err := binary.Read(r, binary.BigEndian, &vc.FPS); err != nil {
			return d, err
		}
		if err := binary.Read(r, binary.BigEndian, &vc.DPI); err != nil {
			return d, err
		}
		if err := binary.Read(r, binary.BigEndian, &vc.MarginWidth); err != nil {
			return d, err
		}
		if err := binary.Read(r, binary.BigEndian, &vc.MarginHeight); err != nil {
			return d, err
		}
		d.VideoConfigs = append(d.VideoConfigs, vc)
	}
	var hasInput uint8
	if err := binary.Read(r, binary.BigEndian, &hasInput); err != nil {
		return d, err
	}
	if hasInput == 1 {
		d.Input = &InputDescriptor{}
		if err := binary.Read(r, binary.BigEndian, &d.Input.TouchWidth); err != nil {
			return d, err
		}
		if err := binary.Read(r, binary.BigEndian, &d.Input.TouchHeight); err != nil {
			return d, err
		}
		var numKeys uint16
		if err := binary.Read(r, binary.BigEndian, &numKeys); err != nil {
			return d, err
		}
		for i := 0; i < int(numKeys); i++ {
			var kc uint32
			if err := binary.Read(r, binary.BigEndian, &kc); err != nil {
				return d, err
			}
			d.Input.Keycodes = append(d.Input.Keycodes, kc)
		}
	}
	addr, err := readString(r)
	if err != nil {
		return d, err
	}
	d.BluetoothAddr = addr
	var numSensors uint16
	if err := binary.Read(r, binary.BigEndian, &numSensors); err != nil {
		return d, err
	}
	sensors := make([]byte, numSensors)
	if _, err := io.ReadFull(r, sensors); err != nil {
		return d, err
	}
	d.SensorTypes = sensors
	return d, nil
}

// ServiceDiscoveryResponse enumerates the channels the head unit
// offers, in the fixed order required by spec.md §4.6.
type ServiceDiscoveryResponse struct {
	HeadUnitMake  string
	HeadUnitModel string
	SWBuild       string
	SWVersion     string
	Channels      []ChannelDescriptor
}

func (m ServiceDiscoveryResponse) Marshal() []byte {
	buf := &bytes.Buffer{}
	putString(buf, m.HeadUnitMake)
	putString(buf, m.HeadUnitModel)
	putString(buf, m.SWBuild)
	putString(buf, m.SWVersion)
	binary.Write(buf, binary.BigEndian, uint16(len(m.Channels)))
	for _, ch := range m.Channels {
		ch.marshal(buf)
	}
	return buf.Bytes()
}

func UnmarshalServiceDiscoveryResponse(payload []byte) (ServiceDiscoveryResponse, error) {
	r := bytes.NewReader(payload)
	var m ServiceDiscoveryResponse
	var err error
	if m.HeadUnitMake, err = readString(r); err != nil {
		return m, err
	}
	if m.HeadUnitModel, err = readString(r); err != nil {
		return m, err
	}
	if m.SWBuild, err = readString(r); err != nil {
		return m, err
	}
	if m.SWVersion, err = readString(r); err != nil {
		return m, err
	}
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return m, err
	}
	for i := 0; i < int(n); i++ {
		d, err := unmarshalChannelDescriptor(r)
		if err != nil {
			return m, err
		}
		m.Channels = append(m.Channels, d)
	}
	return m, nil
}

// ---------------------------------------------------------------------
// channel open / focus / shutdown / ping
// ---------------------------------------------------------------------

type ChannelOpenRequest struct {
	ChannelID wire.ChannelID
	Priority  uint8
}

func (m ChannelOpenRequest) Marshal() []byte {
	return []byte{uint8(m.ChannelID), m.Priority}
}

func UnmarshalChannelOpenRequest(payload []byte) (ChannelOpenRequest, error) {
	if len(payload) < 2 {
		return ChannelOpenRequest{}, fmt.Errorf("messages: ChannelOpenRequest too short")
	}
	return ChannelOpenRequest{ChannelID: wire.ChannelID(payload[0]), Priority: payload[1]}, nil
}

type ChannelOpenResponse struct {
	Status Status
}

func (m ChannelOpenResponse) Marshal() []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(m.Status))
	return buf
}

func UnmarshalChannelOpenResponse(payload []byte) (ChannelOpenResponse, error) {
	if len(payload) < 2 {
		return ChannelOpenResponse{}, fmt.Errorf("messages: ChannelOpenResponse too short")
	}
	return ChannelOpenResponse{Status: Status(binary.BigEndian.Uint16(payload))}, nil
}

type FocusRequest struct {
	Type FocusType
}

func (m FocusRequest) Marshal() []byte { return []byte{uint8(m.Type)} }

func UnmarshalFocusRequest(payload []byte) (FocusRequest, error) {
	if len(payload) < 1 {
		return FocusRequest{}, fmt.Errorf("messages: FocusRequest too short")
	}
	return FocusRequest{Type: FocusType(payload[0])}, nil
}

type FocusResponse struct {
	State FocusState
}

func (m FocusResponse) Marshal() []byte { return []byte{uint8(m.State)} }

func UnmarshalFocusResponse(payload []byte) (FocusResponse, error) {
	if len(payload) < 1 {
		return FocusResponse{}, fmt.Errorf("messages: FocusResponse too short")
	}
	return FocusResponse{State: FocusState(payload[0])}, nil
}

type ShutdownRequest struct {
	Reason uint8
}

func (m ShutdownRequest) Marshal() []byte { return []byte{m.Reason} }

func UnmarshalShutdownRequest(payload []byte) (ShutdownRequest, error) {
	if len(payload) < 1 {
		return ShutdownRequest{}, fmt.Errorf("messages: ShutdownRequest too short")
	}
	return ShutdownRequest{Reason: payload[0]}, nil
}

type ShutdownResponse struct{}

func (m ShutdownResponse) Marshal() []byte { return nil }

type PingRequest struct {
	Timestamp int64
}

func (m PingRequest) Marshal() []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(m.Timestamp))
	return buf
}

func UnmarshalPingRequest(payload []byte) (PingRequest, error) {
	if len(payload) < 8 {
		return PingRequest{}, fmt.Errorf("messages: PingRequest too short")
	}
	return PingRequest{Timestamp: int64(binary.BigEndian.Uint64(payload))}, nil
}

type PingResponse struct {
	Timestamp int64
}

func (m PingResponse) Marshal() []byte {
	buf := make([]byte, 8)
	binary.BigEndian.PutUint64(buf, uint64(m.Timestamp))
	return buf
}

func UnmarshalPingResponse(payload []byte) (PingResponse, error) {
	if len(payload) < 8 {
		return PingResponse{}, fmt.Errorf("messages: PingResponse too short")
	}
	return PingResponse{Timestamp: int64(binary.BigEndian.Uint64(payload))}, nil
}

// ---------------------------------------------------------------------
// AV channel setup / start / stop / focus
// ---------------------------------------------------------------------

type AVChannelSetupRequest struct {
	ConfigIndex uint8
}

func (m AVChannelSetupRequest) Marshal() []byte { return []byte{m.ConfigIndex} }

func UnmarshalAVChannelSetupRequest(payload []byte) (AVChannelSetupRequest, error) {
	if len(payload) < 1 {
		return AVChannelSetupRequest{}, fmt.Errorf("messages: AVChannelSetupRequest too short")
	}
	return AVChannelSetupRequest{ConfigIndex: payload[0]}, nil
}

type AVChannelSetupResponse struct {
	MediaStatus Status
	MaxUnacked  uint8
	Configs     []uint8
}

func (m AVChannelSetupResponse) Marshal() []byte {
	buf := &bytes.Buffer{}
	binary.Write(buf, binary.BigEndian, uint16(m.MediaStatus))
	binary.Write(buf, binary.BigEndian, m.MaxUnacked)
	binary.Write(buf, binary.BigEndian, uint16(len(m.Configs)))
	buf.Write(m.Configs)
	return buf.Bytes()
}

func UnmarshalAVChannelSetupResponse(payload []byte) (AVChannelSetupResponse, error) {
	r := bytes.NewReader(payload)
	var m AVChannelSetupResponse
	var status uint16
	if err := binary.Read(r, binary.BigEndian, &status); err != nil {
		return m, err
	}
	m.MediaStatus = Status(status)
	if err := binary.Read(r, binary.BigEndian, &m.MaxUnacked); err != nil {
		return m, err
	}
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return m, err
	}
	cfgs := make([]byte, n)
	if _, err := io.ReadFull(r, cfgs); err != nil {
		return m, err
	}
	m.Configs = cfgs
	return m, nil
}

type VideoFocusRequest struct {
	Mode   VideoFocusMode
	Reason uint8
}

func (m VideoFocusRequest) Marshal() []byte { return []byte{uint8(m.Mode), m.Reason} }

func UnmarshalVideoFocusRequest(payload []byte) (VideoFocusRequest, error) {
	if len(payload) < 2 {
		return VideoFocusRequest{}, fmt.Errorf("messages: VideoFocusRequest too short")
	}
	return VideoFocusRequest{Mode: VideoFocusMode(payload[0]), Reason: payload[1]}, nil
}

type VideoFocusIndication struct {
	Mode        VideoFocusMode
	Unrequested bool
}

func (m VideoFocusIndication) Marshal() []byte {
	return []byte{uint8(m.Mode), boolToByte(m.Unrequested)}
}

func UnmarshalVideoFocusIndication(payload []byte) (VideoFocusIndication, error) {
	if len(payload) < 2 {
		return VideoFocusIndication{}, fmt.Errorf("messages: VideoFocusIndication too short")
	}
	return VideoFocusIndication{Mode: VideoFocusMode(payload[0]), Unrequested: payload[1] != 0}, nil
}

// AVMediaIndication carries a raw codec payload with no timestamp.
type AVMediaIndication struct {
	Payload []byte
}

func UnmarshalAVMediaIndication(payload []byte) AVMediaIndication {
	return AVMediaIndication{Payload: payload}
}

// AVMediaWithTimestampIndication carries an 8-byte monotonic
// timestamp prefix followed by the codec payload, per spec.md §4.5.
type AVMediaWithTimestampIndication struct {
	Timestamp uint64
	Payload   []byte
}

func (m AVMediaWithTimestampIndication) Marshal() []byte {
	buf := make([]byte, 8+len(m.Payload))
	binary.BigEndian.PutUint64(buf[0:8], m.Timestamp)
	copy(buf[8:], m.Payload)
	return buf
}

func UnmarshalAVMediaWithTimestampIndication(payload []byte) (AVMediaWithTimestampIndication, error) {
	if len(payload) < 8 {
		return AVMediaWithTimestampIndication{}, fmt.Errorf("messages: AVMediaWithTimestampIndication too short")
	}
	return AVMediaWithTimestampIndication{
		Timestamp: binary.BigEndian.Uint64(payload[0:8]),
		Payload:   payload[8:],
	}, nil
}

// ---------------------------------------------------------------------
// input channel
// ---------------------------------------------------------------------

type BindingRequest struct {
	ScanCodes []uint32
}

func UnmarshalBindingRequest(payload []byte) (BindingRequest, error) {
	r := bytes.NewReader(payload)
	var n uint16
	if err := binary.Read(r, binary.BigEndian, &n); err != nil {
		return BindingRequest{}, err
	}
	codes := make([]uint32, n)
	for i := range codes {
		if err := binary.Read(r, binary.BigEndian, &codes[i]); err != nil {
			return BindingRequest{}, err
		}
	}
	return BindingRequest{ScanCodes: codes}, nil
}

type BindingResponse struct {
	Status Status
}

func (m BindingResponse) Marshal() []byte {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, uint16(m.Status))
	return buf
}

// TouchAction mirrors the embedder-facing send_touch action parameter.
type TouchAction uint8

const (
	TouchDown TouchAction = iota
	TouchUp
	TouchMove
)

// TouchEvent is one point in an InputEventIndication touch batch.
type TouchEvent struct {
	X      uint16
	Y      uint16
	Action TouchAction
	Index  uint8
}

// KeyEvent is a physical/virtual button event.
type KeyEvent struct {
	Keycode uint32
	Pressed bool
}

// InputEventIndication carries either a touch batch or a key event
// with a monotonic timestamp, matching spec.md §4.5.
type InputEventIndication struct {
	Timestamp uint64
	Touches   []TouchEvent
	Keys      []KeyEvent
}

func (m InputEventIndication) Marshal() []byte {
	buf := &bytes.Buffer{}
	binary.Write(buf, binary.BigEndian, m.Timestamp)
	binary.Write(buf, binary.BigEndian, uint16(len(m.Touches)))
	for _, t := range m.Touches {
		binary.Write(buf, binary.BigEndian, t.X)
		binary.Write(buf, binary.BigEndian, t.Y)
		binary.Write(buf, binary.BigEndian, uint8(t.Action))
		binary.Write(buf, binary.BigEndian, t.Index)
	}
	binary.Write(buf, binary.BigEndian, uint16(len(m.Keys)))
	for _, k := range m.Keys {
		binary.Write(buf, binary.BigEndian, k.Keycode)
		binary.Write(buf, binary.BigEndian, boolToByte(k.Pressed))
	}
	return buf.Bytes()
}

func boolToByte(b bool) uint8 {
	if b {
		return 1
	}
	return 0
}
