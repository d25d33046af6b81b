// Package transport binds the two USB bulk endpoints AOAP mode
// exposes and turns them into a plain send/receive interface the
// messenger can drive without knowing anything about libusb.
package transport

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	usb "github.com/kevmo314/go-usb"
)

// ErrClosed is returned by Send/Receive after Close has run.
var ErrClosed = errors.New("transport: closed")

// Endpoints is the pair of bulk endpoint addresses AOAP negotiates —
// discovered by internal/aoap once the accessory interface has been
// claimed.
type Endpoints struct {
	In  uint8 // device-to-host bulk endpoint
	Out uint8 // host-to-device bulk endpoint
}

// Transport moves raw bytes across the two USB bulk endpoints of an
// AOAP accessory interface.
type Transport struct {
	handle    *usb.DeviceHandle
	endpoints Endpoints
	timeout   time.Duration

	closed chan struct{}
}

// New wraps an already-open, already-in-accessory-mode device handle.
// The caller (internal/aoap) is responsible for having claimed the
// accessory interface and detached any competing kernel driver first.
func New(handle *usb.DeviceHandle, endpoints Endpoints) *Transport {
	return &Transport{
		handle:    handle,
		endpoints: endpoints,
		timeout:   2 * time.Second,
		closed:    make(chan struct{}),
	}
}

// Send writes one buffer to the out endpoint, blocking until the
// entire buffer has been transferred or ctx is cancelled.
func (t *Transport) Send(ctx context.Context, data []byte) error {
	select {
	case <-t.closed:
		return ErrClosed
	default:
	}

	deadline := t.timeout
	if d, ok := ctx.Deadline(); ok {
		if remaining := time.Until(d); remaining < deadline {
			deadline = remaining
		}
	}

	n, err := t.handle.BulkTransfer(t.endpoints.Out, data, deadline)
	if err != nil {
		slog.Error("transport: bulk write failed", "stage", "send", "endpoint", t.endpoints.Out, "error", err)
		return fmt.Errorf("transport: bulk write: %w", err)
	}
	if n != len(data) {
		err := fmt.Errorf("transport: short write: wrote %d of %d bytes", n, len(data))
		slog.Error("transport: short write", "stage", "send", "endpoint", t.endpoints.Out, "error", err)
		return err
	}
	return nil
}

// Receive reads up to len(buf) bytes from the in endpoint, returning
// the number of bytes read.
func (t *Transport) Receive(ctx context.Context, buf []byte) (int, error) {
	select {
	case <-t.closed:
		return 0, ErrClosed
	default:
	}

	deadline := t.timeout
	if d, ok := ctx.Deadline(); ok {
		if remaining := time.Until(d); remaining < deadline {
			deadline = remaining
		}
	}

	n, err := t.handle.BulkTransfer(t.endpoints.In, buf, deadline)
	if err != nil {
		slog.Warn("transport: bulk read failed", "stage", "receive", "endpoint", t.endpoints.In, "error", err)
		return 0, fmt.Errorf("transport: bulk read: %w", err)
	}
	return n, nil
}

// Close releases the underlying device handle. Safe to call more than
// once.
func (t *Transport) Close() error {
	select {
	case <-t.closed:
		return nil
	default:
		close(t.closed)
	}
	return t.handle.Close()
}
