package transport

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

// These tests exercise only the closed-channel guard on each method,
// which is the one seam reachable without a real USB device handle.
// BulkTransfer itself requires actual hardware or a kernel-level USB
// gadget and is not covered here.

func newClosedTransport() *Transport {
	tr := &Transport{closed: make(chan struct{})}
	close(tr.closed)
	return tr
}

func TestSendReturnsErrClosedAfterClose(t *testing.T) {
	tr := newClosedTransport()
	err := tr.Send(context.Background(), []byte("hello"))
	assert.ErrorIs(t, err, ErrClosed)
}

func TestReceiveReturnsErrClosedAfterClose(t *testing.T) {
	tr := newClosedTransport()
	buf := make([]byte, 16)
	n, err := tr.Receive(context.Background(), buf)
	assert.ErrorIs(t, err, ErrClosed)
	assert.Equal(t, 0, n)
}

func TestCloseIsIdempotent(t *testing.T) {
	tr := newClosedTransport()
	assert.NoError(t, tr.Close())
}
