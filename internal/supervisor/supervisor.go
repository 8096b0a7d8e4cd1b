// Package supervisor owns the session lifecycle: connecting, dispatching
// inbound events to playback and callbacks, detecting dead connections, and
// reconnecting with bounded backoff.
//
// The supervisor is the only component that decides when and how often to
// dial. Everything below it (the wire channel, the playback scheduler, the
// capture stream) is policy-free.
package supervisor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/parleyvoice/parley/internal/observe"
	"github.com/parleyvoice/parley/pkg/audio"
	"github.com/parleyvoice/parley/pkg/credential"
	"github.com/parleyvoice/parley/pkg/session"
)

// State is the supervisor's connection state.
type State int

const (
	// StateDisconnected means no session exists and none is being attempted.
	StateDisconnected State = iota

	// StateConnecting means a dial attempt is in flight.
	StateConnecting

	// StateConnected means a live session is established.
	StateConnected

	// StateReconnecting means the session dropped and a retry is pending.
	StateReconnecting

	// StateFailed means the retry budget is exhausted. Only an explicit
	// Connect leaves this state.
	StateFailed
)

// String returns the human-readable name of the state.
func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateFailed:
		return "failed"
	default:
		return "unknown"
	}
}

// Player consumes decoded model audio. Implemented by the playback scheduler.
type Player interface {
	// Push enqueues one decoded frame for gapless playback.
	Push(frame audio.Frame)

	// Interrupt hard-cuts playback and flushes everything queued.
	Interrupt()
}

// Capture is the microphone stream as the supervisor sees it.
type Capture interface {
	// Stop shuts the stream down and releases the device.
	Stop()
}

// ToolHandler executes one tool invocation and returns its result. It runs on
// its own goroutine; blocking is fine.
type ToolHandler func(ctx context.Context, call session.ToolCall) (map[string]any, error)

// Config configures a Supervisor.
type Config struct {
	// Dialer opens sessions. Required.
	Dialer session.Dialer

	// Credentials issues the ephemeral token for each dial. Required.
	Credentials credential.Provider

	// Session is the per-session configuration passed to every dial.
	Session session.Config

	// Player receives decoded model audio. Required.
	Player Player

	// Capture, when set, is stopped on Disconnect.
	Capture Capture

	// ToolHandler, when set, serves tool calls. Calls arriving without a
	// handler are answered with an error result.
	ToolHandler ToolHandler

	// OnStateChange, when set, is invoked on every state transition.
	OnStateChange func(State)

	// OnTranscript, when set, receives transcript fragments.
	OnTranscript func(session.Transcript)

	// BaseDelay is the backoff unit; attempt n waits n*BaseDelay.
	// Defaults to 2s.
	BaseDelay time.Duration

	// MaxAttempts bounds consecutive failed reconnects before StateFailed.
	// Defaults to 5.
	MaxAttempts int

	// HeartbeatInterval is how often connection liveness is checked.
	// Defaults to 30s.
	HeartbeatInterval time.Duration

	// HeartbeatTimeout is the silence window after which the connection is
	// declared dead. Defaults to 120s.
	HeartbeatTimeout time.Duration

	// TriggerModelFirst sends an empty turn after setup so the model speaks
	// first.
	TriggerModelFirst bool

	// ProtocolErrorLimit is the number of protocol errors on one connection
	// after which it is torn down. Defaults to 8.
	ProtocolErrorLimit int

	// Logger defaults to slog.Default.
	Logger *slog.Logger
}

func (c Config) withDefaults() Config {
	if c.BaseDelay <= 0 {
		c.BaseDelay = 2 * time.Second
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = 5
	}
	if c.HeartbeatInterval <= 0 {
		c.HeartbeatInterval = 30 * time.Second
	}
	if c.HeartbeatTimeout <= 0 {
		c.HeartbeatTimeout = 120 * time.Second
	}
	if c.ProtocolErrorLimit <= 0 {
		c.ProtocolErrorLimit = 8
	}
	if c.Logger == nil {
		c.Logger = slog.Default()
	}
	return c
}

// Supervisor drives one logical conversation across any number of physical
// connections. Safe for concurrent use.
type Supervisor struct {
	cfg     Config
	log     *slog.Logger
	metrics *observe.Metrics

	// flight collapses concurrent Connect calls into one dial.
	flight singleflight.Group

	mu         sync.Mutex
	state      State
	ch         session.Channel
	gen        uint64
	attempt    int
	manual     bool
	retryTimer *time.Timer
	lastHeard  time.Time
	closed     bool
}

// New creates a Supervisor. Dialer, Credentials and Player must be set.
func New(cfg Config) (*Supervisor, error) {
	if cfg.Dialer == nil {
		return nil, errors.New("supervisor: Dialer is required")
	}
	if cfg.Credentials == nil {
		return nil, errors.New("supervisor: Credentials is required")
	}
	if cfg.Player == nil {
		return nil, errors.New("supervisor: Player is required")
	}
	cfg = cfg.withDefaults()
	return &Supervisor{
		cfg:     cfg,
		log:     cfg.Logger,
		metrics: observe.DefaultMetrics(),
		state:   StateDisconnected,
	}, nil
}

// State returns the current connection state.
func (s *Supervisor) State() State {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// Connect establishes a session. Concurrent calls collapse into a single
// dial attempt; all callers receive its outcome. Calling Connect from
// StateFailed resets the retry budget.
func (s *Supervisor) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("supervisor: closed")
	}
	if s.state == StateConnected {
		s.mu.Unlock()
		return nil
	}
	if s.state == StateFailed || s.state == StateDisconnected {
		s.attempt = 0
	}
	s.manual = false
	s.mu.Unlock()

	_, err, _ := s.flight.Do("connect", func() (any, error) {
		return nil, s.connect(ctx)
	})
	return err
}

// connect runs one dial sequence: fetch credential, dial, and on an auth
// rejection fetch a fresh credential and retry exactly once.
func (s *Supervisor) connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == StateConnected {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	s.setState(StateConnecting)

	ch, err := s.dialOnce(ctx)
	if err != nil {
		var authErr *session.AuthError
		if errors.As(err, &authErr) {
			s.log.Warn("credential rejected, retrying with a fresh token", "error", err)
			ch, err = s.dialOnce(ctx)
		}
	}
	if err != nil {
		s.metrics.RecordSessionConnect(ctx, "error")
		var authErr *session.AuthError
		if errors.As(err, &authErr) {
			// A second rejection with a brand-new token will not fix itself.
			s.log.Error("fresh credential rejected, giving up", "error", err)
			s.setState(StateFailed)
			return err
		}
		s.log.Warn("connect failed", "error", err)
		s.scheduleReconnect()
		return err
	}

	s.mu.Lock()
	if s.manual || s.closed {
		// Disconnect raced the dial; discard the fresh session.
		s.mu.Unlock()
		ch.Close()
		return errors.New("supervisor: disconnected during connect")
	}
	s.gen++
	gen := s.gen
	s.ch = ch
	s.attempt = 0
	s.lastHeard = time.Now()
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	s.mu.Unlock()

	s.metrics.RecordSessionConnect(ctx, "ok")
	s.setState(StateConnected)

	done := make(chan struct{})
	go s.eventLoop(gen, ch, done)
	go s.heartbeat(gen, ch, done)
	return nil
}

func (s *Supervisor) dialOnce(ctx context.Context) (session.Channel, error) {
	cred, err := s.cfg.Credentials.Fetch(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetch credential: %w", err)
	}
	return s.cfg.Dialer.Dial(ctx, cred, s.cfg.Session)
}

// eventLoop consumes one connection's events until the channel closes. When
// the loop ends it owns the decision to reconnect, unless a newer generation
// or a manual disconnect superseded it.
func (s *Supervisor) eventLoop(gen uint64, ch session.Channel, done chan struct{}) {
	defer close(done)

	protoErrs := 0

	for ev := range ch.Events() {
		s.touch(gen)

		switch ev.Kind {
		case session.KindOpened:
			s.log.Debug("session transport established")

		case session.KindSetupComplete:
			s.log.Info("session ready")
			if s.cfg.TriggerModelFirst {
				if err := ch.SendTurnComplete(); err != nil {
					s.log.Warn("initial turn trigger failed", "error", err)
				}
			}

		case session.KindInterrupted:
			// Barge-in: cut playback before touching anything else so no
			// stale audio leaks out.
			s.cfg.Player.Interrupt()
			s.metrics.RecordInterruption(context.Background())
			s.log.Debug("playback interrupted by user speech")

		case session.KindAudio:
			frame, err := audio.DecodePCM16(ev.Audio, s.cfg.Session.InboundRate)
			if err != nil {
				s.log.Warn("dropping undecodable audio chunk", "error", err, "bytes", len(ev.Audio))
				continue
			}
			s.cfg.Player.Push(frame)
			s.metrics.RecordAudioBytes(context.Background(), "inbound", int64(len(ev.Audio)))

		case session.KindTranscript:
			if s.cfg.OnTranscript != nil {
				s.cfg.OnTranscript(ev.Transcript)
			}

		case session.KindToolCall:
			go s.serveToolCall(ch, ev.ToolCall)

		case session.KindTurnComplete:
			s.log.Debug("model turn complete")

		case session.KindError:
			var protoErr *session.ProtocolError
			if errors.As(ev.Err, &protoErr) {
				protoErrs++
				s.log.Warn("protocol error", "error", ev.Err, "count", protoErrs)
				if protoErrs >= s.cfg.ProtocolErrorLimit {
					s.log.Error("protocol error limit reached, tearing down connection")
					ch.Close()
				}
				continue
			}
			s.log.Warn("session error", "error", ev.Err)

		case session.KindClosed:
			s.log.Info("session closed by remote", "code", ev.Code, "reason", ev.Reason)
		}
	}

	s.onConnectionLost(gen)
}

// serveToolCall runs the handler and forwards its result. Handler failures
// are reported to the model rather than swallowed.
func (s *Supervisor) serveToolCall(ch session.Channel, call session.ToolCall) {
	ctx := context.Background()

	var result map[string]any
	var err error
	if s.cfg.ToolHandler != nil {
		result, err = s.cfg.ToolHandler(ctx, call)
	} else {
		err = fmt.Errorf("no handler registered for tool %q", call.Name)
	}

	status := "ok"
	if err != nil {
		status = "error"
		result = map[string]any{"error": err.Error()}
		s.log.Warn("tool handler failed", "tool", call.Name, "error", err)
	}
	s.metrics.RecordToolCall(ctx, call.Name, status)

	if err := ch.SendToolResult(call.ID, call.Name, result); err != nil {
		s.log.Warn("sending tool result failed", "tool", call.Name, "error", err)
	}
}

// onConnectionLost transitions to reconnecting when the lost connection is
// still the current one and the loss was not requested.
func (s *Supervisor) onConnectionLost(gen uint64) {
	s.mu.Lock()
	if gen != s.gen || s.manual || s.closed {
		s.mu.Unlock()
		return
	}
	s.ch = nil
	s.mu.Unlock()

	s.log.Warn("connection lost")
	s.scheduleReconnect()
}

// scheduleReconnect arms the next retry with linear backoff, or gives up when
// the budget is spent. The transition to StateReconnecting happens before the
// timer is armed so a fast retry cannot emit its Connecting/Connected
// transitions first and then be clobbered by a late Reconnecting.
func (s *Supervisor) scheduleReconnect() {
	s.mu.Lock()
	if s.manual || s.closed {
		s.mu.Unlock()
		return
	}
	s.attempt++
	attempt := s.attempt
	if attempt > s.cfg.MaxAttempts {
		s.mu.Unlock()
		s.log.Error("retry budget exhausted", "attempts", s.cfg.MaxAttempts)
		s.setState(StateFailed)
		return
	}
	delay := time.Duration(attempt) * s.cfg.BaseDelay
	s.mu.Unlock()

	s.metrics.RecordReconnect(context.Background(), attempt)
	s.log.Info("reconnect scheduled", "attempt", attempt, "delay", delay)
	s.setState(StateReconnecting)

	s.mu.Lock()
	if s.manual || s.closed {
		// Disconnect raced the transition; it already set the final state.
		s.mu.Unlock()
		return
	}
	if s.retryTimer != nil {
		s.retryTimer.Stop()
	}
	s.retryTimer = time.AfterFunc(delay, s.retryConnect)
	s.mu.Unlock()
}

// retryConnect is the timer callback for a scheduled reconnect.
func (s *Supervisor) retryConnect() {
	s.mu.Lock()
	if s.manual || s.closed {
		s.mu.Unlock()
		return
	}
	s.mu.Unlock()

	_, err, _ := s.flight.Do("connect", func() (any, error) {
		return nil, s.connect(context.Background())
	})
	if err != nil {
		s.log.Debug("reconnect attempt failed", "error", err)
	}
}

// touch records inbound activity for the heartbeat, ignoring stale
// generations.
func (s *Supervisor) touch(gen uint64) {
	s.mu.Lock()
	if gen == s.gen {
		s.lastHeard = time.Now()
	}
	s.mu.Unlock()
}

// SendAudio forwards captured audio to the live session. While no session is
// up the chunk is dropped; capture loss during a reconnect window is expected
// and not an error.
func (s *Supervisor) SendAudio(chunk []byte) {
	s.mu.Lock()
	ch := s.ch
	connected := s.state == StateConnected
	s.mu.Unlock()

	if !connected || ch == nil {
		s.log.Debug("dropping captured audio, no session", "bytes", len(chunk))
		return
	}
	if err := ch.SendAudio(chunk); err != nil {
		s.log.Debug("audio send failed", "error", err, "bytes", len(chunk))
		return
	}
	s.metrics.RecordAudioBytes(context.Background(), "outbound", int64(len(chunk)))
}

// SendText injects a user text turn into the live session.
func (s *Supervisor) SendText(text string) error {
	s.mu.Lock()
	ch := s.ch
	s.mu.Unlock()
	if ch == nil {
		return errors.New("supervisor: not connected")
	}
	return ch.SendText(text)
}

// Disconnect tears the session down on purpose. No reconnect follows.
// Idempotent.
func (s *Supervisor) Disconnect() {
	s.mu.Lock()
	if s.manual && s.ch == nil && s.retryTimer == nil {
		s.mu.Unlock()
		return
	}
	s.manual = true
	s.gen++
	if s.retryTimer != nil {
		s.retryTimer.Stop()
		s.retryTimer = nil
	}
	ch := s.ch
	s.ch = nil
	s.mu.Unlock()

	if s.cfg.Capture != nil {
		s.cfg.Capture.Stop()
	}
	s.cfg.Player.Interrupt()
	if ch != nil {
		ch.Close()
	}
	s.setState(StateDisconnected)
}

// Close disconnects and permanently disables the supervisor.
func (s *Supervisor) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	s.mu.Unlock()
	s.Disconnect()
}

// setState transitions the state and fires the callback outside the lock.
func (s *Supervisor) setState(next State) {
	s.mu.Lock()
	if s.state == next {
		s.mu.Unlock()
		return
	}
	prev := s.state
	s.state = next
	s.mu.Unlock()

	s.log.Debug("state transition", "from", prev, "to", next)
	if s.cfg.OnStateChange != nil {
		s.cfg.OnStateChange(next)
	}
}
