package session

import (
	"context"
	"testing"

	"github.com/ocx/aacore/internal/channel"
	"github.com/ocx/aacore/internal/control"
	"github.com/ocx/aacore/internal/messenger"
	"github.com/ocx/aacore/internal/wire"
	"github.com/stretchr/testify/assert"
)

// newTestSession builds a Session with no real transport or cryptor,
// enough to exercise the openAVChannel/openInputChannel wiring that
// glues control.Callbacks to the messenger without opening real
// hardware.
func newTestSession(t *testing.T) *Session {
	t.Helper()
	m := messenger.New(nil, func(error) {})
	controlSender := channel.NewSender(wire.ChannelControl, func(ctx context.Context, ch wire.ChannelID, id uint16, payload []byte, encrypted bool) error {
		return nil
	})
	sm := control.New(controlSender, nil, control.ServiceInfo{}, control.Callbacks{}, func(error) {})
	return &Session{ctx: context.Background(), messenger: m, sm: sm, closed: make(chan struct{})}
}

func TestOpenAVChannelReturnsSenderBoundToRequestedChannel(t *testing.T) {
	s := newTestSession(t)
	sender := s.openAVChannel(wire.ChannelVideo)
	assert.Equal(t, wire.ChannelVideo, sender.ChannelID())
}

func TestOpenInputChannelReturnsSenderBoundToInputChannel(t *testing.T) {
	s := newTestSession(t)
	sender := s.openInputChannel(wire.ChannelInput)
	assert.Equal(t, wire.ChannelInput, sender.ChannelID())
}

func TestOpenAVChannelDistinctChannelsGetDistinctSenders(t *testing.T) {
	s := newTestSession(t)
	video := s.openAVChannel(wire.ChannelVideo)
	audio := s.openAVChannel(wire.ChannelMediaAudio)
	assert.NotEqual(t, video.ChannelID(), audio.ChannelID())
}

// Close itself is not exercised here: it tears down the real USB
// handle and transport, neither of which this package can fake
// without hardware (see internal/messenger's tests for the same
// limitation applied to Transport).
