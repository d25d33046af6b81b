package api

import (
	"context"
	"testing"
	"time"

	"github.com/ocx/aacore/internal/control"
	"github.com/ocx/aacore/internal/eventbus"
	"github.com/ocx/aacore/internal/messages"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerStateIsIdleWithNoSession(t *testing.T) {
	m := NewManager(nil, nil, nil, nil)
	assert.Equal(t, control.StateIdle, m.State())
}

func TestManagerDeviceInfoFalseWithNoSession(t *testing.T) {
	m := NewManager(nil, nil, nil, nil)
	_, ok := m.DeviceInfo()
	assert.False(t, ok)
}

func TestManagerSendTouchWithoutSessionErrors(t *testing.T) {
	m := NewManager(nil, nil, nil, nil)
	err := m.SendTouch(context.Background(), 10, 20, messages.TouchDown)
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestManagerSendButtonWithoutSessionErrors(t *testing.T) {
	m := NewManager(nil, nil, nil, nil)
	err := m.SendButton(context.Background(), 4, true)
	assert.ErrorIs(t, err, ErrNoActiveSession)
}

func TestManagerStopWithoutStartIsNoop(t *testing.T) {
	m := NewManager(nil, nil, nil, nil)
	assert.NoError(t, m.Stop("shutdown"))
}

func TestManagerPublishSkipsNilBus(t *testing.T) {
	m := NewManager(nil, nil, nil, nil)
	assert.NotPanics(t, func() {
		m.publish(context.Background(), eventbus.EventSessionConnected, nil)
	})
}

type fakeBus struct {
	published []*eventbus.Event
}

func (b *fakeBus) Publish(ctx context.Context, event *eventbus.Event) error {
	b.published = append(b.published, event)
	return nil
}

func (b *fakeBus) Subscribe(eventType eventbus.EventType, handler eventbus.Handler) func() {
	return func() {}
}

func (b *fakeBus) Close() error { return nil }

func TestManagerPublishForwardsToBus(t *testing.T) {
	bus := &fakeBus{}
	m := NewManager(nil, bus, nil, nil)

	m.publish(context.Background(), eventbus.EventSessionConnected, map[string]interface{}{"vendor_id": 1})

	require.Len(t, bus.published, 1)
	assert.Equal(t, eventbus.EventSessionConnected, bus.published[0].Type)
	assert.Equal(t, "aacore", bus.published[0].Source)
}

func TestManagerSleepReturnsFalseOnCancel(t *testing.T) {
	m := NewManager(nil, nil, nil, nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	assert.False(t, m.sleep(ctx, time.Second))
}

func TestManagerSleepReturnsTrueAfterDelay(t *testing.T) {
	m := NewManager(nil, nil, nil, nil)
	assert.True(t, m.sleep(context.Background(), time.Millisecond))
}
