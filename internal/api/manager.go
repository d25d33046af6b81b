// Package api exposes one running session to the outside world: a
// REST control surface, a WebSocket status/event feed, and a gRPC
// status service, all backed by a Manager that owns the
// scan-connect-serve-reconnect loop around internal/session.
package api

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/ocx/aacore/internal/aoap"
	"github.com/ocx/aacore/internal/audit"
	"github.com/ocx/aacore/internal/control"
	"github.com/ocx/aacore/internal/eventbus"
	"github.com/ocx/aacore/internal/messages"
	"github.com/ocx/aacore/internal/metrics"
	"github.com/ocx/aacore/internal/session"
)

// sessionRetryInterval bounds how often Manager retries session.Open
// after a failed scan or a disconnect, so a phone that's momentarily
// unplugged doesn't spin the USB bus continuously.
const sessionRetryInterval = 2 * time.Second

// ConfigFactory builds a fresh session.Config for each connection
// attempt. It is called once per loop iteration rather than once at
// startup so that a config reload (a new active vehicle-trim profile,
// a rotated identity) takes effect on the next reconnect without
// restarting the process.
type ConfigFactory func() session.Config

// ErrNoActiveSession is returned by input-forwarding calls when no
// phone is currently connected.
var ErrNoActiveSession = errors.New("api: no active session")

// Manager supervises the connect/serve/reconnect lifecycle for one
// physical head unit, publishing lifecycle events and audit records
// as sessions come and go.
type Manager struct {
	cfgFn   ConfigFactory
	bus     eventbus.Bus
	auditor *audit.Log
	metrics *metrics.Metrics

	mu      sync.RWMutex
	current *session.Session
	cancel  context.CancelFunc
	running bool
}

// NewManager builds a Manager. bus and auditor may be nil, in which
// case lifecycle events and audit records are simply not emitted.
func NewManager(cfgFn ConfigFactory, bus eventbus.Bus, auditor *audit.Log, mt *metrics.Metrics) *Manager {
	return &Manager{
		cfgFn:   cfgFn,
		bus:     bus,
		auditor: auditor,
		metrics: mt,
	}
}

// Start begins the supervising loop in the background. Safe to call
// once; a second call while already running is a no-op.
func (m *Manager) Start(ctx context.Context) {
	m.mu.Lock()
	if m.running {
		m.mu.Unlock()
		return
	}
	loopCtx, cancel := context.WithCancel(ctx)
	m.cancel = cancel
	m.running = true
	m.mu.Unlock()

	go m.run(loopCtx)
}

// Stop ends the current session, if any, and halts the supervising
// loop so it does not immediately reconnect.
func (m *Manager) Stop(reason string) error {
	m.mu.Lock()
	cancel := m.cancel
	cur := m.current
	m.running = false
	m.cancel = nil
	m.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	if cur != nil {
		return cur.Close()
	}
	return nil
}

// State reports the current control state machine node, or
// control.StateIdle if no phone is connected.
func (m *Manager) State() control.State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return control.StateIdle
	}
	return m.current.State()
}

// DeviceInfo reports the connected phone's USB identity. The second
// return value is false when no phone is currently connected.
func (m *Manager) DeviceInfo() (aoap.DeviceDescriptor, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.current == nil {
		return aoap.DeviceDescriptor{}, false
	}
	return m.current.DeviceInfo(), true
}

// SendTouch forwards a touch sample to the connected phone.
func (m *Manager) SendTouch(ctx context.Context, x, y uint16, action messages.TouchAction) error {
	m.mu.RLock()
	cur := m.current
	m.mu.RUnlock()
	if cur == nil {
		return ErrNoActiveSession
	}
	return cur.SendTouch(ctx, x, y, action)
}

// SendButton forwards a button event to the connected phone.
func (m *Manager) SendButton(ctx context.Context, keycode uint32, pressed bool) error {
	m.mu.RLock()
	cur := m.current
	m.mu.RUnlock()
	if cur == nil {
		return ErrNoActiveSession
	}
	return cur.SendButton(ctx, keycode, pressed)
}

func (m *Manager) run(ctx context.Context) {
	for {
		if ctx.Err() != nil {
			return
		}

		cfg := m.cfgFn()
		cfg.Metrics = m.metrics

		sess, err := session.Open(ctx, cfg)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			slog.Warn("api: session open failed, retrying", "error", err)
			if !m.sleep(ctx, sessionRetryInterval) {
				return
			}
			continue
		}

		m.mu.Lock()
		m.current = sess
		m.mu.Unlock()

		dev := sess.DeviceInfo()
		m.publish(ctx, eventbus.EventSessionConnected, map[string]interface{}{
			"vendor_id":     dev.VendorID,
			"product_id":    dev.ProductID,
			"serial_number": dev.SerialNumber,
			"bus_path":      dev.BusPath,
		})
		if m.auditor != nil {
			_ = m.auditor.RecordConnected(ctx, dev)
		}

		<-sess.Done()

		m.mu.Lock()
		m.current = nil
		m.mu.Unlock()

		m.publish(ctx, eventbus.EventSessionDisconnected, nil)
		if m.auditor != nil {
			_ = m.auditor.RecordDisconnected(ctx, nil)
		}

		if !m.sleep(ctx, sessionRetryInterval) {
			return
		}
	}
}

func (m *Manager) sleep(ctx context.Context, d time.Duration) bool {
	select {
	case <-ctx.Done():
		return false
	case <-time.After(d):
		return true
	}
}

func (m *Manager) publish(ctx context.Context, evtType eventbus.EventType, payload map[string]interface{}) {
	if m.bus == nil {
		return
	}
	if err := m.bus.Publish(ctx, &eventbus.Event{
		Type:    evtType,
		Source:  "aacore",
		Payload: payload,
	}); err != nil {
		slog.Warn("api: event publish failed", "type", evtType, "error", err)
	}
}
