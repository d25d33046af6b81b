// Package crypto drives a crypto/tls client engine over an in-memory
// duplex pipe instead of a real socket, so the control state machine
// can pump handshake flights and encrypted records through the AA
// wire framing (spec.md §4.3) one message at a time.
package crypto

import (
	"context"
	"crypto/tls"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"
)

// Cryptor wraps a *tls.Conn whose transport is an in-process buffer
// pair rather than a socket. The peer side of the pair is drained by
// an internal pump goroutine and exposed as a channel of raw record
// bytes; callers are responsible for wrapping each chunk in the
// appropriate wire message given the current control state.
type Cryptor struct {
	tlsConn *tls.Conn
	net     *duplexEnd

	outbound  chan []byte
	closeOnce sync.Once
	done      chan struct{}
}

// New creates a Cryptor configured to act as the TLS client side of
// the handshake, matching spec.md §4.3 (the head unit authenticates
// to the phone, not the other way around).
func New(cfg *tls.Config) *Cryptor {
	tlsSide, wireSide := newDuplexPipe()
	c := &Cryptor{
		tlsConn:  tls.Client(tlsSide, cfg),
		net:      wireSide,
		outbound: make(chan []byte, 64),
		done:     make(chan struct{}),
	}
	go c.pump()
	return c
}

func (c *Cryptor) pump() {
	buf := make([]byte, 16*1024)
	for {
		n, err := c.net.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			select {
			case c.outbound <- chunk:
			case <-c.done:
				return
			}
		}
		if err != nil {
			close(c.outbound)
			return
		}
	}
}

// Outbound yields raw TLS bytes as the engine produces them —
// handshake flights before Handshake returns, encrypted application
// records after each Encrypt call.
func (c *Cryptor) Outbound() <-chan []byte { return c.outbound }

// Handshake runs the TLS client handshake to completion, blocking
// until it succeeds, fails, or ctx is cancelled. Call it in its own
// goroutine; drive its message flow by draining Outbound and calling
// FeedInbound as SslHandshake messages arrive from the peer.
func (c *Cryptor) Handshake(ctx context.Context) error {
	if err := c.tlsConn.HandshakeContext(ctx); err != nil {
		slog.Error("crypto: tls handshake failed", "stage", "handshake", "error", err)
		return err
	}
	return nil
}

// ConnectionState exposes the negotiated TLS parameters once the
// handshake has completed.
func (c *Cryptor) ConnectionState() tls.ConnectionState {
	return c.tlsConn.ConnectionState()
}

// FeedInbound delivers bytes received from the peer — either a
// handshake flight or an encrypted record — into the TLS engine.
func (c *Cryptor) FeedInbound(data []byte) error {
	_, err := c.net.Write(data)
	return err
}

// Encrypt writes plaintext through the TLS engine and returns the
// resulting ciphertext. A single Write over the ~16KB max TLS record
// plaintext size issues more than one record, and the pump's 16KB
// read buffer can itself split one record's ciphertext across more
// than one outbound chunk, so this tracks exactly how many ciphertext
// bytes the Write produced and drains c.outbound until it has all of
// them, rather than assuming one Write means one chunk. Safe to call
// only after Handshake has completed; used for every ENCRYPTED-flagged
// frame's payload.
func (c *Cryptor) Encrypt(plaintext []byte) ([]byte, error) {
	before := c.net.local.fedTotal()
	if _, err := c.tlsConn.Write(plaintext); err != nil {
		slog.Error("crypto: encrypt failed", "stage", "encrypt", "error", err)
		return nil, fmt.Errorf("crypto: encrypt: %w", err)
	}
	want := c.net.local.fedTotal() - before

	ciphertext := make([]byte, 0, want)
	deadline := time.After(5 * time.Second)
	for int64(len(ciphertext)) < want {
		select {
		case chunk, ok := <-c.outbound:
			if !ok {
				return nil, io.ErrClosedPipe
			}
			ciphertext = append(ciphertext, chunk...)
		case <-deadline:
			slog.Error("crypto: encrypt timed out waiting for TLS record", "stage", "encrypt")
			return nil, fmt.Errorf("crypto: encrypt: timed out waiting for TLS record")
		}
	}
	return ciphertext, nil
}

// Decrypt feeds ciphertext into the TLS engine and returns the
// recovered plaintext. tlsConn.Read yields at most one TLS record's
// plaintext per call, so a ciphertext blob spanning more than one
// record (the peer coalesced several Encrypt outputs before framing
// them, or split one across reads) is drained in a loop until the
// wire-side buffer the records were fed into is empty.
func (c *Cryptor) Decrypt(ciphertext []byte) ([]byte, error) {
	if err := c.FeedInbound(ciphertext); err != nil {
		return nil, err
	}
	var plaintext []byte
	buf := make([]byte, 64*1024)
	for {
		n, err := c.tlsConn.Read(buf)
		if err != nil {
			slog.Error("crypto: decrypt failed", "stage", "decrypt", "error", err)
			return nil, fmt.Errorf("crypto: decrypt: %w", err)
		}
		plaintext = append(plaintext, buf[:n]...)
		if c.net.peer.buffered() == 0 {
			return plaintext, nil
		}
	}
}

// Close tears down the TLS engine and its pump goroutine.
func (c *Cryptor) Close() error {
	c.closeOnce.Do(func() { close(c.done) })
	return c.tlsConn.Close()
}
