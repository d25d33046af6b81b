// Package channel provides the per-channel dispatch and send
// capability every logical channel (control, AV, input, sensor,
// bluetooth) is built from. A Dispatcher decodes an inbound message
// id and hands it to a handler function; a Sender wraps outbound
// sends to one fixed channel id through the messenger.
package channel

import (
	"context"
	"sync/atomic"

	"github.com/ocx/aacore/internal/wire"
)

// Sender is the outbound capability a channel's handler is given at
// construction — a plain value, not a reference back to the owning
// session, so ownership stays a tree rather than a cycle.
type Sender struct {
	send      func(ctx context.Context, channel wire.ChannelID, messageID uint16, payload []byte, encrypted bool) error
	channelID wire.ChannelID
	encrypted atomic.Bool
}

// NewSender wraps a messenger's Send method for one fixed channel id.
func NewSender(channelID wire.ChannelID, send func(ctx context.Context, channel wire.ChannelID, messageID uint16, payload []byte, encrypted bool) error) *Sender {
	return &Sender{send: send, channelID: channelID}
}

// ChannelID reports which channel this sender writes to.
func (s *Sender) ChannelID() wire.ChannelID { return s.channelID }

// SetEncrypted toggles whether subsequent sends are wrapped in a TLS
// record. The control state machine flips this on for the control
// channel once AuthComplete has been sent, and on for every channel
// created afterward (they exist only once the session is Authed).
func (s *Sender) SetEncrypted(v bool) { s.encrypted.Store(v) }

// Send emits one message on this sender's channel.
func (s *Sender) Send(ctx context.Context, messageID uint16, payload []byte) error {
	return s.send(ctx, s.channelID, messageID, payload, s.encrypted.Load())
}

// HandlerFunc decodes and reacts to one inbound message.
type HandlerFunc func(messageID uint16, payload []byte)

// FailFunc reacts to a channel-level fatal error (spec.md §7's
// ChannelError propagation).
type FailFunc func(err error)

// Dispatcher implements messenger.InboundSink for one channel: it has
// no state of its own beyond the callbacks it was built with, so a
// channel object never needs to re-arm itself after each message —
// the messenger simply calls Deliver again for the next one.
type Dispatcher struct {
	channelID wire.ChannelID
	onMessage HandlerFunc
	onFail    FailFunc
}

// NewDispatcher builds a Dispatcher for channelID that forwards every
// decoded message to onMessage and every fatal error to onFail.
func NewDispatcher(channelID wire.ChannelID, onMessage HandlerFunc, onFail FailFunc) *Dispatcher {
	return &Dispatcher{channelID: channelID, onMessage: onMessage, onFail: onFail}
}

// ChannelID reports which channel this dispatcher serves.
func (d *Dispatcher) ChannelID() wire.ChannelID { return d.channelID }

// Deliver is called by the messenger for each reassembled, decrypted
// message on this channel.
func (d *Dispatcher) Deliver(messageID uint16, payload []byte) {
	d.onMessage(messageID, payload)
}

// Fail is called by the messenger when the transport or crypto layer
// fails in a way that invalidates this channel.
func (d *Dispatcher) Fail(err error) {
	if d.onFail != nil {
		d.onFail(err)
	}
}
