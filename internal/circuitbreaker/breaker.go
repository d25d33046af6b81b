// Package circuitbreaker implements a closed/open/half-open circuit
// breaker over per-channel frame errors: internal/control uses one per
// opened AV/input channel to escalate a burst of consecutive decode or
// protocol errors on that channel into a fatal session failure, rather
// than tearing the whole session down on the first bad frame.
package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// State is one node of the breaker's closed/open/half-open cycle.
type State int

const (
	StateClosed   State = iota // frames on this channel are delivered normally
	StateOpen                  // tripped: the channel is treated as failed until Timeout elapses
	StateHalfOpen              // probing: a limited number of frames are let through to test recovery
)

func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// ErrCircuitOpen is returned by Allow/Execute while a channel's breaker
// is open. ErrTooManyRequests is returned once a half-open breaker's
// probe budget (MaxRequests) has been spent for the current generation.
var (
	ErrCircuitOpen     = errors.New("circuit breaker is open")
	ErrTooManyRequests = errors.New("too many requests in half-open state")
)

// Config tunes one channel's breaker.
type Config struct {
	// Name identifies the channel this breaker tracks, for logging and
	// the Manager registry key.
	Name string

	// MaxRequests bounds how many frames a half-open breaker lets
	// through before deciding the channel has recovered.
	MaxRequests uint32

	// Interval is how often a closed breaker's error counts are reset,
	// so an old error doesn't count toward a trip long after it happened.
	Interval time.Duration

	// Timeout is how long a breaker stays open before probing again.
	Timeout time.Duration

	// ReadyToTrip is evaluated after every failed frame while closed; a
	// true result opens the breaker for this channel.
	ReadyToTrip func(counts Counts) bool

	// OnStateChange, if set, is called whenever this channel's breaker
	// changes state — trip, probe, or recovery.
	OnStateChange func(name string, from State, to State)
}

// DefaultConfig returns a general-purpose breaker configuration: trip
// once over half of at least 5 tracked frames fail, log every state
// transition, and give a tripped channel 30s before probing again.
func DefaultConfig(name string) *Config {
	return &Config{
		Name:        name,
		MaxRequests: 3,
		Interval:    60 * time.Second,
		Timeout:     30 * time.Second,
		ReadyToTrip: func(counts Counts) bool {
			return counts.Requests >= 5 && counts.FailureRatio() > 0.5
		},
		OnStateChange: func(name string, from State, to State) {
			slog.Warn("circuitbreaker: channel breaker state change", "channel", name, "from", from.String(), "to", to.String())
		},
	}
}

// Counts tallies one generation's worth of frame outcomes on a channel.
type Counts struct {
	Requests             uint32
	TotalSuccesses       uint32
	TotalFailures        uint32
	ConsecutiveSuccesses uint32
	ConsecutiveFailures  uint32
}

// FailureRatio reports the fraction of tracked frames that failed.
func (c Counts) FailureRatio() float64 {
	if c.Requests == 0 {
		return 0.0
	}
	return float64(c.TotalFailures) / float64(c.Requests)
}

// Clear resets all counts, starting a fresh generation.
func (c *Counts) Clear() {
	c.Requests = 0
	c.TotalSuccesses = 0
	c.TotalFailures = 0
	c.ConsecutiveSuccesses = 0
	c.ConsecutiveFailures = 0
}

// OnSuccess records one successfully delivered frame.
func (c *Counts) OnSuccess() {
	c.TotalSuccesses++
	c.ConsecutiveSuccesses++
	c.ConsecutiveFailures = 0
}

// OnFailure records one frame that failed to decode or violated protocol.
func (c *Counts) OnFailure() {
	c.TotalFailures++
	c.ConsecutiveFailures++
	c.ConsecutiveSuccesses = 0
}

// CircuitBreaker tracks one channel's recent frame error history and
// decides when repeated errors should escalate to a fatal session
// failure.
type CircuitBreaker struct {
	cfg *Config

	mu            sync.Mutex
	state         State
	generation    uint64
	counts        Counts
	expiry        time.Time
	lastStateTime time.Time
}

// New builds a breaker from cfg, or a DefaultConfig("default") breaker
// if cfg is nil.
func New(cfg *Config) *CircuitBreaker {
	if cfg == nil {
		cfg = DefaultConfig("default")
	}

	return &CircuitBreaker{
		cfg:           cfg,
		state:         StateClosed,
		lastStateTime: time.Now(),
	}
}

// Name returns the channel name this breaker was built for.
func (cb *CircuitBreaker) Name() string {
	return cb.cfg.Name
}

// State reports the breaker's current state, first applying any
// generation rollover or open-to-half-open transition that elapsed
// time makes due.
func (cb *CircuitBreaker) State() State {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state, _ := cb.currentState(time.Now())
	return state
}

// Counts reports the current generation's frame outcome tallies.
func (cb *CircuitBreaker) Counts() Counts {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.counts
}

// Execute runs fn if the channel's breaker currently allows it,
// recording the outcome. internal/control calls this once per
// AV/input dispatch error, with fn just wrapping the already-occurred
// error so the breaker's trip/reset bookkeeping runs uniformly whether
// the caller has real work to gate or is only reporting a frame error.
func (cb *CircuitBreaker) Execute(fn func() (interface{}, error)) (interface{}, error) {
	generation, err := cb.beforeAttempt()
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.afterAttempt(generation, false)
			panic(r)
		}
	}()

	result, err := fn()
	cb.afterAttempt(generation, err == nil)
	return result, err
}

// ExecuteContext is Execute for a channel operation that itself takes
// a context.
func (cb *CircuitBreaker) ExecuteContext(
	ctx context.Context,
	fn func(context.Context) (interface{}, error),
) (interface{}, error) {
	generation, err := cb.beforeAttempt()
	if err != nil {
		return nil, err
	}

	defer func() {
		if r := recover(); r != nil {
			cb.afterAttempt(generation, false)
			panic(r)
		}
	}()

	result, err := fn(ctx)
	cb.afterAttempt(generation, err == nil)
	return result, err
}

// Allow reports whether a frame on this channel would currently be let
// through, without recording an attempt the way Execute does.
func (cb *CircuitBreaker) Allow() error {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state, _ := cb.currentState(time.Now())

	if state == StateOpen {
		return ErrCircuitOpen
	}
	if state == StateHalfOpen && cb.counts.Requests >= cb.cfg.MaxRequests {
		return ErrTooManyRequests
	}
	return nil
}

// beforeAttempt checks whether an attempt is currently allowed and
// reserves a slot in the current generation's count.
func (cb *CircuitBreaker) beforeAttempt() (uint64, error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state, generation := cb.currentState(time.Now())

	if state == StateOpen {
		return generation, ErrCircuitOpen
	}
	if state == StateHalfOpen && cb.counts.Requests >= cb.cfg.MaxRequests {
		return generation, ErrTooManyRequests
	}

	cb.counts.Requests++
	return generation, nil
}

// afterAttempt records the outcome of a previously reserved attempt,
// discarding it if the breaker has since rolled over to a new
// generation (the channel already tripped or reset while it was
// in flight).
func (cb *CircuitBreaker) afterAttempt(generation uint64, success bool) {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	state, currentGeneration := cb.currentState(time.Now())
	if generation != currentGeneration {
		return
	}

	if success {
		cb.onSuccess(state)
	} else {
		cb.onFailure(state)
	}
}

func (cb *CircuitBreaker) onSuccess(state State) {
	switch state {
	case StateClosed:
		cb.counts.OnSuccess()
	case StateHalfOpen:
		cb.counts.OnSuccess()
		if cb.counts.ConsecutiveSuccesses >= cb.cfg.MaxRequests {
			cb.setState(StateClosed, time.Now())
		}
	}
}

func (cb *CircuitBreaker) onFailure(state State) {
	switch state {
	case StateClosed:
		cb.counts.OnFailure()
		if cb.cfg.ReadyToTrip(cb.counts) {
			cb.setState(StateOpen, time.Now())
		}
	case StateHalfOpen:
		cb.setState(StateOpen, time.Now())
	}
}

// currentState applies any due generation rollover (closed interval
// elapsed) or open-to-half-open transition (timeout elapsed) before
// returning the resulting state.
func (cb *CircuitBreaker) currentState(now time.Time) (State, uint64) {
	switch cb.state {
	case StateClosed:
		if !cb.expiry.IsZero() && cb.expiry.Before(now) {
			cb.toNewGeneration(now)
		}
	case StateOpen:
		if cb.expiry.Before(now) {
			cb.setState(StateHalfOpen, now)
		}
	}
	return cb.state, cb.generation
}

func (cb *CircuitBreaker) setState(state State, now time.Time) {
	if cb.state == state {
		return
	}

	prevState := cb.state
	cb.state = state
	cb.lastStateTime = now

	cb.toNewGeneration(now)

	if cb.cfg.OnStateChange != nil {
		cb.cfg.OnStateChange(cb.cfg.Name, prevState, state)
	}
}

func (cb *CircuitBreaker) toNewGeneration(now time.Time) {
	cb.generation++
	cb.counts.Clear()

	var expiry time.Time
	switch cb.state {
	case StateClosed:
		if cb.cfg.Interval > 0 {
			expiry = now.Add(cb.cfg.Interval)
		}
	case StateOpen:
		expiry = now.Add(cb.cfg.Timeout)
	}
	cb.expiry = expiry
}

// String reports a one-line snapshot of this channel's breaker state,
// for debug logging.
func (cb *CircuitBreaker) String() string {
	state := cb.State()
	counts := cb.Counts()
	return fmt.Sprintf("CircuitBreaker[%s: state=%s, requests=%d, failures=%d]",
		cb.cfg.Name, state, counts.Requests, counts.TotalFailures)
}

// Manager owns one breaker per channel name, so internal/control can
// look up (or lazily create) the breaker for a channel without every
// call site tracking its own map.
type Manager struct {
	mu       sync.RWMutex
	breakers map[string]*CircuitBreaker
	cfg      *Config
}

// NewManager builds a Manager that creates new breakers from
// defaultCfg (or DefaultConfig("") if nil) whenever Get is asked for a
// channel name it hasn't seen yet.
func NewManager(defaultCfg *Config) *Manager {
	if defaultCfg == nil {
		defaultCfg = DefaultConfig("")
	}
	return &Manager{
		breakers: make(map[string]*CircuitBreaker),
		cfg:      defaultCfg,
	}
}

// Get returns the named channel's breaker, creating it from the
// Manager's default config on first use.
func (m *Manager) Get(name string) *CircuitBreaker {
	m.mu.RLock()
	cb, exists := m.breakers[name]
	m.mu.RUnlock()
	if exists {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, exists = m.breakers[name]; exists {
		return cb
	}

	cfg := *m.cfg
	cfg.Name = name
	cb = New(&cfg)
	m.breakers[name] = cb
	return cb
}

// GetOrCreate returns the named channel's breaker, creating it from
// cfg (or the Manager's default if cfg is nil) on first use. Used by
// internal/control to arm each newly opened AV/input channel with the
// three-consecutive-errors policy from NewChannelErrorBreaker.
func (m *Manager) GetOrCreate(name string, cfg *Config) *CircuitBreaker {
	m.mu.RLock()
	cb, exists := m.breakers[name]
	m.mu.RUnlock()
	if exists {
		return cb
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	if cb, exists = m.breakers[name]; exists {
		return cb
	}

	if cfg == nil {
		cfg = m.cfg
	}
	cfg.Name = name
	cb = New(cfg)
	m.breakers[name] = cb
	return cb
}

// Remove drops the named channel's breaker, so a channel that gets
// closed and later reopened starts with a fresh generation instead of
// inheriting whatever state it was in when it closed.
func (m *Manager) Remove(name string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.breakers, name)
}

// List returns the names of every channel this Manager currently
// tracks a breaker for.
func (m *Manager) List() []string {
	m.mu.RLock()
	defer m.mu.RUnlock()

	names := make([]string, 0, len(m.breakers))
	for name := range m.breakers {
		names = append(names, name)
	}
	return names
}

// Stats reports every tracked channel's current state and counts, for
// a diagnostics endpoint.
func (m *Manager) Stats() map[string]CircuitBreakerStats {
	m.mu.RLock()
	defer m.mu.RUnlock()

	stats := make(map[string]CircuitBreakerStats, len(m.breakers))
	for name, cb := range m.breakers {
		stats[name] = CircuitBreakerStats{
			Name:   name,
			State:  cb.State(),
			Counts: cb.Counts(),
		}
	}
	return stats
}

// CircuitBreakerStats is one channel's breaker snapshot, as reported
// by Manager.Stats.
type CircuitBreakerStats struct {
	Name   string
	State  State
	Counts Counts
}

// ChannelErrorConfig is the three-consecutive-errors-within-a-second
// trip policy internal/control arms every AV/input channel breaker
// with (spec.md §8 Testable Property #5).
func ChannelErrorConfig(channelName string) *Config {
	return &Config{
		Name:        channelName,
		MaxRequests: 1,
		Interval:    time.Second,
		Timeout:     time.Second,
		ReadyToTrip: func(c Counts) bool {
			return c.ConsecutiveFailures >= 3
		},
	}
}

// NewChannelErrorBreaker builds a standalone breaker with the same
// three-consecutive-errors policy ChannelErrorConfig describes,
// without going through a Manager. Exported for tests and any caller
// that doesn't need a Manager's per-channel registry.
func NewChannelErrorBreaker(channelName string) *CircuitBreaker {
	return New(ChannelErrorConfig(channelName))
}
