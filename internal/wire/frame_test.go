package wire

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmitParseRoundTrip(t *testing.T) {
	raw, err := Emit(ChannelVideo, FlagFirst|FlagLast|FlagEncrypted, []byte("hello"))
	require.NoError(t, err)

	frame, remaining, err := Parse(raw)
	require.NoError(t, err)
	assert.Empty(t, remaining)
	assert.Equal(t, ChannelVideo, frame.Header.ChannelID)
	assert.True(t, frame.Header.Flags.Has(FlagFirst))
	assert.True(t, frame.Header.Flags.Has(FlagLast))
	assert.True(t, frame.Header.Flags.Has(FlagEncrypted))
	assert.Equal(t, []byte("hello"), frame.Payload)
}

func TestParseNeedsMore(t *testing.T) {
	raw, err := Emit(ChannelControl, FlagFirst|FlagLast, []byte("0123456789"))
	require.NoError(t, err)

	_, _, err = Parse(raw[:HeaderSize+3])
	assert.ErrorIs(t, err, ErrNeedMore)

	_, _, err = Parse(raw[:2])
	assert.ErrorIs(t, err, ErrNeedMore)
}

func TestFragmentSingleFragmentCarriesBothBits(t *testing.T) {
	frames, err := Fragment(ChannelMediaAudio, 0, []byte("short payload"))
	require.NoError(t, err)
	require.Len(t, frames, 1)

	f, _, err := Parse(frames[0])
	require.NoError(t, err)
	assert.True(t, f.Header.Flags.Has(FlagFirst))
	assert.True(t, f.Header.Flags.Has(FlagLast))
}

func TestFragmentLargePayloadSplitsCorrectly(t *testing.T) {
	payload := make([]byte, 0x6000) // matches spec.md S6 scenario
	for i := range payload {
		payload[i] = byte(i)
	}

	frames, err := Fragment(ChannelVideo, FlagEncrypted, payload)
	require.NoError(t, err)
	require.Len(t, frames, FragmentCount(len(payload)))
	require.Equal(t, 2, len(frames))

	first, _, err := Parse(frames[0])
	require.NoError(t, err)
	assert.True(t, first.Header.Flags.Has(FlagFirst))
	assert.False(t, first.Header.Flags.Has(FlagLast))
	assert.Equal(t, MaxFramePayload, len(first.Payload))
	assert.True(t, first.Header.Flags.Has(FlagEncrypted))

	last, _, err := Parse(frames[1])
	require.NoError(t, err)
	assert.False(t, last.Header.Flags.Has(FlagFirst))
	assert.True(t, last.Header.Flags.Has(FlagLast))
	assert.Equal(t, len(payload)-MaxFramePayload, len(last.Payload))
}

func TestFragmentCountMatchesCeilDivision(t *testing.T) {
	assert.Equal(t, 1, FragmentCount(0))
	assert.Equal(t, 1, FragmentCount(1))
	assert.Equal(t, 1, FragmentCount(MaxFramePayload))
	assert.Equal(t, 2, FragmentCount(MaxFramePayload+1))
	assert.Equal(t, 2, FragmentCount(0x6000))
}

func TestReassemblerSingleFragment(t *testing.T) {
	r := &Reassembler{}
	frame, _, err := Parse(mustEmit(t, ChannelControl, FlagFirst|FlagLast, []byte("abc")))
	require.NoError(t, err)

	msg, complete, err := r.Feed(frame)
	require.NoError(t, err)
	assert.True(t, complete)
	assert.Equal(t, []byte("abc"), msg)
}

func TestReassemblerMultiFragment(t *testing.T) {
	r := &Reassembler{}
	payload := make([]byte, 0x6000)
	for i := range payload {
		payload[i] = byte(i % 251)
	}
	frames, err := Fragment(ChannelVideo, FlagEncrypted, payload)
	require.NoError(t, err)
	require.Len(t, frames, 2)

	f0, _, _ := Parse(frames[0])
	msg, complete, err := r.Feed(f0)
	require.NoError(t, err)
	assert.False(t, complete)
	assert.Nil(t, msg)

	f1, _, _ := Parse(frames[1])
	msg, complete, err = r.Feed(f1)
	require.NoError(t, err)
	assert.True(t, complete)
	assert.Equal(t, payload, msg)
}

func TestReassemblerRejectsFirstOnOpenBuffer(t *testing.T) {
	r := &Reassembler{}
	frames, err := Fragment(ChannelVideo, 0, make([]byte, 0x6000))
	require.NoError(t, err)

	f0, _, _ := Parse(frames[0])
	_, _, err = r.Feed(f0)
	require.NoError(t, err)

	// A second FIRST frame on the same still-open channel is a protocol error.
	badFrame, _, _ := Parse(mustEmit(t, ChannelVideo, FlagFirst|FlagLast, []byte("x")))
	_, _, err = r.Feed(badFrame)
	assert.ErrorIs(t, err, ErrReassemblyViolation)
}

func mustEmit(t *testing.T, ch ChannelID, flags Flags, payload []byte) []byte {
	t.Helper()
	raw, err := Emit(ch, flags, payload)
	require.NoError(t, err)
	return raw
}
