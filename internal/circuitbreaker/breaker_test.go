package circuitbreaker

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChannelErrorBreakerStartsClosed(t *testing.T) {
	cb := NewChannelErrorBreaker("VIDEO")
	assert.Equal(t, StateClosed, cb.State())
}

func TestNewChannelErrorBreakerTripsOnThreeConsecutiveFailures(t *testing.T) {
	cb := NewChannelErrorBreaker("VIDEO")
	boom := errors.New("decode failed")

	for i := 0; i < 2; i++ {
		_, err := cb.Execute(func() (interface{}, error) { return nil, boom })
		assert.ErrorIs(t, err, boom)
		assert.Equal(t, StateClosed, cb.State())
	}

	_, err := cb.Execute(func() (interface{}, error) { return nil, boom })
	assert.ErrorIs(t, err, boom)
	assert.Equal(t, StateOpen, cb.State())
}

func TestChannelErrorBreakerRejectsWhileOpen(t *testing.T) {
	cb := NewChannelErrorBreaker("VIDEO")
	boom := errors.New("decode failed")

	for i := 0; i < 3; i++ {
		cb.Execute(func() (interface{}, error) { return nil, boom })
	}
	require.Equal(t, StateOpen, cb.State())

	_, err := cb.Execute(func() (interface{}, error) { return "unreachable", nil })
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestChannelErrorBreakerHalfOpensAfterTimeout(t *testing.T) {
	cb := NewChannelErrorBreaker("VIDEO")
	boom := errors.New("decode failed")

	for i := 0; i < 3; i++ {
		cb.Execute(func() (interface{}, error) { return nil, boom })
	}
	require.Equal(t, StateOpen, cb.State())

	time.Sleep(1100 * time.Millisecond)
	assert.Equal(t, StateHalfOpen, cb.State())
}

func TestSuccessResetsConsecutiveFailureCount(t *testing.T) {
	cb := NewChannelErrorBreaker("AUDIO")
	boom := errors.New("frame drop")

	cb.Execute(func() (interface{}, error) { return nil, boom })
	cb.Execute(func() (interface{}, error) { return nil, boom })
	cb.Execute(func() (interface{}, error) { return "ok", nil })

	assert.Equal(t, uint32(0), cb.Counts().ConsecutiveFailures)
	assert.Equal(t, StateClosed, cb.State())
}

func TestManagerGetReusesExistingBreaker(t *testing.T) {
	m := NewManager(nil)
	first := m.Get("VIDEO")
	second := m.Get("VIDEO")
	assert.Same(t, first, second)
}

func TestManagerRemoveDropsBreaker(t *testing.T) {
	m := NewManager(nil)
	first := m.Get("VIDEO")
	m.Remove("VIDEO")
	second := m.Get("VIDEO")
	assert.NotSame(t, first, second)
}

func TestCountsFailureRatio(t *testing.T) {
	c := Counts{Requests: 4, TotalFailures: 1}
	assert.Equal(t, 0.25, c.FailureRatio())

	empty := Counts{}
	assert.Equal(t, 0.0, empty.FailureRatio())
}
