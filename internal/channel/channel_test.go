package channel

import (
	"context"
	"errors"
	"testing"

	"github.com/ocx/aacore/internal/wire"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type sentCall struct {
	channel   wire.ChannelID
	messageID uint16
	payload   []byte
	encrypted bool
}

func TestSenderSendUsesFixedChannelAndCurrentEncryptedFlag(t *testing.T) {
	var got sentCall
	sender := NewSender(wire.ChannelVideo, func(ctx context.Context, ch wire.ChannelID, messageID uint16, payload []byte, encrypted bool) error {
		got = sentCall{channel: ch, messageID: messageID, payload: payload, encrypted: encrypted}
		return nil
	})

	require.NoError(t, sender.Send(context.Background(), 7, []byte("payload")))
	assert.Equal(t, wire.ChannelVideo, got.channel)
	assert.Equal(t, uint16(7), got.messageID)
	assert.Equal(t, []byte("payload"), got.payload)
	assert.False(t, got.encrypted)

	sender.SetEncrypted(true)
	require.NoError(t, sender.Send(context.Background(), 8, nil))
	assert.True(t, got.encrypted)
}

func TestSenderChannelIDReportsConstructedChannel(t *testing.T) {
	sender := NewSender(wire.ChannelInput, func(context.Context, wire.ChannelID, uint16, []byte, bool) error { return nil })
	assert.Equal(t, wire.ChannelInput, sender.ChannelID())
}

func TestDispatcherDeliverForwardsToHandler(t *testing.T) {
	var gotID uint16
	var gotPayload []byte
	d := NewDispatcher(wire.ChannelSensor, func(messageID uint16, payload []byte) {
		gotID = messageID
		gotPayload = payload
	}, nil)

	d.Deliver(3, []byte("sensor-data"))
	assert.Equal(t, uint16(3), gotID)
	assert.Equal(t, []byte("sensor-data"), gotPayload)
	assert.Equal(t, wire.ChannelSensor, d.ChannelID())
}

func TestDispatcherFailForwardsToOnFail(t *testing.T) {
	var gotErr error
	d := NewDispatcher(wire.ChannelVideo, func(uint16, []byte) {}, func(err error) { gotErr = err })

	boom := errors.New("boom")
	d.Fail(boom)
	assert.Equal(t, boom, gotErr)
}

func TestDispatcherFailToleratesNilOnFail(t *testing.T) {
	d := NewDispatcher(wire.ChannelVideo, func(uint16, []byte) {}, nil)
	assert.NotPanics(t, func() { d.Fail(errors.New("boom")) })
}
