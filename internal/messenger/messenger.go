// Package messenger owns the inbound and outbound loops that sit
// between the USB transport and the channel layer: it reassembles
// frames into logical messages, drives the cryptor for encrypted
// payloads, and serializes every outbound send through a single FIFO
// so no two channels can interleave writes to the transport or the
// TLS engine (spec.md §5).
package messenger

import (
	"context"
	"encoding/binary"
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/ocx/aacore/internal/crypto"
	"github.com/ocx/aacore/internal/metrics"
	"github.com/ocx/aacore/internal/transport"
	"github.com/ocx/aacore/internal/wire"
)

// maxEncryptedChunk bounds the plaintext handed to a single Encrypt
// call so it always fits in one TLS record and therefore one wire
// frame, keeping frame boundaries aligned with TLS record boundaries
// in both directions (spec.md §4.4).
const maxEncryptedChunk = wire.MaxFramePayload - 256

// InboundSink receives decoded messages and fatal errors for one
// channel. internal/channel.Dispatcher implements this.
type InboundSink interface {
	Deliver(messageID uint16, payload []byte)
	Fail(err error)
}

// Messenger multiplexes the wire protocol over a Transport.
type Messenger struct {
	transport *transport.Transport
	cryptor   *crypto.Cryptor

	mu           sync.RWMutex
	sinks        map[wire.ChannelID]InboundSink
	reassemblers map[wire.ChannelID]*wire.Reassembler

	outbound chan outboundJob
	stopCh   chan struct{}
	stopOnce sync.Once

	onFatal func(error)
	metrics *metrics.Metrics
}

type outboundJob struct {
	channel   wire.ChannelID
	message   []byte
	encrypted bool
	done      chan error
}

// New builds a Messenger over transport t. cryptor may be nil until
// the TLS handshake completes; Send with encrypted=true before then
// is a programming error.
func New(t *transport.Transport, onFatal func(error)) *Messenger {
	return &Messenger{
		transport:    t,
		sinks:        make(map[wire.ChannelID]InboundSink),
		reassemblers: make(map[wire.ChannelID]*wire.Reassembler),
		outbound:     make(chan outboundJob, 256),
		stopCh:       make(chan struct{}),
		onFatal:      onFatal,
	}
}

// SetMetrics installs the Prometheus collectors this messenger reports
// frame/byte counts to. Optional; a nil metrics.Metrics (the default)
// disables instrumentation.
func (m *Messenger) SetMetrics(mt *metrics.Metrics) {
	m.mu.Lock()
	m.metrics = mt
	m.mu.Unlock()
}

// SetCryptor installs the cryptor once the session's TLS engine has
// been constructed. Must be called before any encrypted Send/Deliver.
func (m *Messenger) SetCryptor(c *crypto.Cryptor) {
	m.mu.Lock()
	m.cryptor = c
	m.mu.Unlock()
}

// RegisterSink attaches a channel's dispatcher. Channels other than
// control are registered once service discovery has been sent, per
// spec.md §4.5's "channel objects are created after ... service
// discovery are sent".
func (m *Messenger) RegisterSink(channelID wire.ChannelID, sink InboundSink) {
	m.mu.Lock()
	m.sinks[channelID] = sink
	m.mu.Unlock()
}

// Start launches the inbound and outbound loops. It returns
// immediately; fatal errors are reported through onFatal exactly
// once and both loops exit.
func (m *Messenger) Start(ctx context.Context) {
	go m.inboundLoop(ctx)
	go m.outboundLoop(ctx)
}

// Stop halts both loops without touching the transport, which the
// session supervisor owns and closes separately.
func (m *Messenger) Stop() {
	m.stopOnce.Do(func() { close(m.stopCh) })
}

func (m *Messenger) fail(err error) {
	slog.Error("messenger: fatal error, tearing down loops", "stage", "messenger", "error", err)
	m.Stop()
	if m.onFatal != nil {
		m.onFatal(err)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, sink := range m.sinks {
		sink.Fail(err)
	}
}

func (m *Messenger) inboundLoop(ctx context.Context) {
	pending := make([]byte, 0, 32*1024)
	readBuf := make([]byte, 16*1024)

	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		default:
		}

		n, err := m.transport.Receive(ctx, readBuf)
		if err != nil {
			if errors.Is(err, context.Canceled) || errors.Is(err, transport.ErrClosed) {
				return
			}
			m.fail(fmt.Errorf("messenger: transport read: %w", err))
			return
		}
		pending = append(pending, readBuf[:n]...)

		for {
			frame, remaining, perr := wire.Parse(pending)
			if perr != nil {
				if errors.Is(perr, wire.ErrNeedMore) {
					break
				}
				m.fail(fmt.Errorf("messenger: %w", perr))
				return
			}
			pending = remaining
			if err := m.handleFrame(frame); err != nil {
				m.fail(err)
				return
			}
		}
	}
}

func (m *Messenger) handleFrame(f *wire.Frame) error {
	m.mu.Lock()
	reassembler, ok := m.reassemblers[f.Header.ChannelID]
	if !ok {
		reassembler = &wire.Reassembler{}
		m.reassemblers[f.Header.ChannelID] = reassembler
	}
	sink := m.sinks[f.Header.ChannelID]
	cryptor := m.cryptor
	mt := m.metrics
	m.mu.Unlock()

	if mt != nil {
		channelLabel := f.Header.ChannelID.String()
		mt.FramesReceived.WithLabelValues(channelLabel).Inc()
		mt.BytesReceived.WithLabelValues(channelLabel).Add(float64(len(f.Payload)))
	}

	// Decrypt this frame's own payload before reassembly, not the other
	// way around: each frame's payload is the ciphertext of exactly one
	// TLS record (the sender chunked plaintext to fit before
	// encrypting), so decrypting per frame and then reassembling the
	// recovered plaintext is the only order that lines up with how
	// Encrypt/Decrypt actually consume TLS records (spec.md §4.4).
	framePayload := f.Payload
	if f.Header.Flags.Has(wire.FlagEncrypted) {
		if cryptor == nil {
			err := fmt.Errorf("messenger: channel %s: encrypted frame before handshake completed", f.Header.ChannelID)
			slog.Error("messenger: encrypted frame before handshake completed", "channel", f.Header.ChannelID, "stage", "decrypt")
			return err
		}
		plaintext, err := cryptor.Decrypt(framePayload)
		if err != nil {
			slog.Error("messenger: decrypt failed", "channel", f.Header.ChannelID, "stage", "decrypt", "error", err)
			return fmt.Errorf("messenger: channel %s: decrypt: %w", f.Header.ChannelID, err)
		}
		framePayload = plaintext
	}

	message, complete, err := reassembler.Feed(&wire.Frame{Header: f.Header, Payload: framePayload})
	if err != nil {
		slog.Error("messenger: reassembly violation", "channel", f.Header.ChannelID, "stage", "reassemble", "error", err)
		return fmt.Errorf("messenger: channel %s: %w", f.Header.ChannelID, err)
	}
	if !complete {
		return nil
	}

	if len(message) < 2 {
		return fmt.Errorf("messenger: channel %s: message too short to carry a message id", f.Header.ChannelID)
	}
	messageID := binary.BigEndian.Uint16(message[0:2])
	payload := message[2:]

	if sink == nil {
		// No channel registered yet for this id — drop rather than
		// fail the whole session; this can legitimately happen for a
		// stray frame that arrives in the instant before a channel's
		// dispatcher is wired up.
		return nil
	}
	sink.Deliver(messageID, payload)
	return nil
}

func (m *Messenger) outboundLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.stopCh:
			return
		case job := <-m.outbound:
			job.done <- m.sendJob(ctx, job)
		}
	}
}

func (m *Messenger) sendJob(ctx context.Context, job outboundJob) error {
	baseFlags := wire.Flags(0)
	if job.channel == wire.ChannelControl {
		baseFlags |= wire.FlagControl
	}

	var frames [][]byte
	var err error
	if job.encrypted {
		frames, err = m.encryptAndFrame(job.channel, baseFlags, job.message)
	} else {
		frames, err = wire.Fragment(job.channel, baseFlags, job.message)
	}
	if err != nil {
		return err
	}

	for _, frame := range frames {
		if err := m.transport.Send(ctx, frame); err != nil {
			slog.Error("messenger: transport write failed", "channel", job.channel, "stage", "send", "error", err)
			return fmt.Errorf("messenger: transport write: %w", err)
		}
	}

	m.mu.RLock()
	mt := m.metrics
	m.mu.RUnlock()
	if mt != nil {
		channelLabel := job.channel.String()
		mt.FramesSent.WithLabelValues(channelLabel).Add(float64(len(frames)))
		mt.BytesSent.WithLabelValues(channelLabel).Add(float64(len(job.message)))
	}
	return nil
}

// encryptAndFrame splits plaintext into chunks no larger than a
// single TLS record's worth, encrypts each chunk independently, and
// wraps each chunk's ciphertext in its own wire frame with FIRST on
// the first chunk and LAST on the last. Every frame this produces is
// therefore the output of exactly one Cryptor.Encrypt call, which is
// what lets the receiving side's handleFrame decrypt each frame on
// its own before reassembling.
func (m *Messenger) encryptAndFrame(channel wire.ChannelID, baseFlags wire.Flags, plaintext []byte) ([][]byte, error) {
	m.mu.RLock()
	cryptor := m.cryptor
	m.mu.RUnlock()
	if cryptor == nil {
		return nil, fmt.Errorf("messenger: encrypted send on channel %s before handshake completed", channel)
	}

	chunks := splitChunks(plaintext, maxEncryptedChunk)
	frames := make([][]byte, 0, len(chunks))
	for i, chunk := range chunks {
		ciphertext, err := cryptor.Encrypt(chunk)
		if err != nil {
			slog.Error("messenger: encrypt failed", "channel", channel, "stage", "encrypt", "error", err)
			return nil, fmt.Errorf("messenger: encrypt: %w", err)
		}
		flags := baseFlags | wire.FlagEncrypted
		if i == 0 {
			flags |= wire.FlagFirst
		}
		if i == len(chunks)-1 {
			flags |= wire.FlagLast
		}
		frame, err := wire.Emit(channel, flags, ciphertext)
		if err != nil {
			return nil, fmt.Errorf("messenger: emit: %w", err)
		}
		frames = append(frames, frame)
	}
	return frames, nil
}

// splitChunks divides data into pieces of at most size bytes. It
// always returns at least one chunk, so an empty message still
// produces a single FIRST|LAST frame.
func splitChunks(data []byte, size int) [][]byte {
	if len(data) == 0 {
		return [][]byte{{}}
	}
	chunks := make([][]byte, 0, (len(data)+size-1)/size)
	for offset := 0; offset < len(data); offset += size {
		end := offset + size
		if end > len(data) {
			end = len(data)
		}
		chunks = append(chunks, data[offset:end])
	}
	return chunks
}

// Send queues one message id + payload for delivery on channel,
// blocking until it has been fully written to the transport (or
// ctx is cancelled). Sends to different channels are unordered with
// respect to each other; sends to the same channel complete in
// submission order because they share this one FIFO.
func (m *Messenger) Send(ctx context.Context, channelID wire.ChannelID, messageID uint16, payload []byte, encrypted bool) error {
	message := make([]byte, 2+len(payload))
	binary.BigEndian.PutUint16(message[0:2], messageID)
	copy(message[2:], payload)

	job := outboundJob{channel: channelID, message: message, encrypted: encrypted, done: make(chan error, 1)}
	select {
	case m.outbound <- job:
	case <-ctx.Done():
		return ctx.Err()
	case <-m.stopCh:
		return fmt.Errorf("messenger: stopped")
	}

	select {
	case err := <-job.done:
		return err
	case <-ctx.Done():
		return ctx.Err()
	}
}
