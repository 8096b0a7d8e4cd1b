// Package session defines the bidirectional transport abstraction to the
// remote real-time speech service.
//
// A [Channel] is one open duplex session: it carries outbound audio and text
// frames and demultiplexes inbound traffic into a single typed [Event] stream
// (audio, transcripts, interruption signals, tool invocations, lifecycle
// events). Concrete wire implementations live in subpackages; the supervisor
// and tests depend only on the interfaces here.
//
// All implementations must be safe for concurrent use.
package session

import (
	"context"
	"fmt"

	"github.com/parleyvoice/parley/pkg/credential"
)

// EventKind classifies inbound events delivered by a [Channel].
type EventKind int

const (
	// KindOpened signals the transport is established. The session is not
	// usable for audio until KindSetupComplete follows.
	KindOpened EventKind = iota

	// KindSetupComplete signals the handshake finished and the remote model
	// is ready. Exactly one is delivered per session.
	KindSetupComplete

	// KindAudio carries a chunk of synthesized audio as raw s16le PCM bytes.
	KindAudio

	// KindTranscript carries a transcript fragment for either direction.
	KindTranscript

	// KindInterrupted signals the remote side detected the local user
	// speaking over the model's response (barge-in). Playback must stop
	// immediately.
	KindInterrupted

	// KindToolCall carries a tool invocation request from the model.
	KindToolCall

	// KindTurnComplete signals the model finished its current response turn.
	KindTurnComplete

	// KindError carries a non-fatal session error (see the error types below
	// for classification). The session remains open.
	KindError

	// KindClosed is the final event before the event channel closes.
	KindClosed
)

// String returns the human-readable name of the event kind.
func (k EventKind) String() string {
	switch k {
	case KindOpened:
		return "opened"
	case KindSetupComplete:
		return "setup_complete"
	case KindAudio:
		return "audio"
	case KindTranscript:
		return "transcript"
	case KindInterrupted:
		return "interrupted"
	case KindToolCall:
		return "tool_call"
	case KindTurnComplete:
		return "turn_complete"
	case KindError:
		return "error"
	case KindClosed:
		return "closed"
	default:
		return "unknown"
	}
}

// Direction identifies which party a transcript fragment belongs to.
type Direction int

const (
	// DirectionUser is speech recognized from the local user.
	DirectionUser Direction = iota

	// DirectionModel is the text form of the model's spoken output.
	DirectionModel
)

// String returns the human-readable name of the direction.
func (d Direction) String() string {
	if d == DirectionUser {
		return "user"
	}
	return "model"
}

// Transcript is one transcript fragment.
type Transcript struct {
	Text      string
	Final     bool
	Direction Direction
}

// ToolCall is a tool invocation request from the model. The supervisor relays
// it to an external handler and forwards the result back unchanged; the core
// has no knowledge of tool semantics.
type ToolCall struct {
	ID   string
	Name string
	Args map[string]any
}

// Event is one demultiplexed inbound event. Kind selects which payload
// fields are meaningful.
type Event struct {
	Kind EventKind

	// Audio is set for KindAudio: raw little-endian 16-bit PCM.
	Audio []byte

	// Transcript is set for KindTranscript.
	Transcript Transcript

	// ToolCall is set for KindToolCall.
	ToolCall ToolCall

	// Err is set for KindError.
	Err error

	// Code and Reason are set for KindClosed.
	Code   int
	Reason string
}

// ToolDefinition declares one callable tool offered to the model at setup.
type ToolDefinition struct {
	Name        string
	Description string
	Parameters  map[string]any
}

// Config is the negotiated configuration for a new session.
type Config struct {
	// Model is the remote speech model identifier.
	Model string

	// Voice selects the synthesized voice.
	Voice string

	// Instructions is the system-level prompt for the session.
	Instructions string

	// Tools is the set of tool declarations offered to the model.
	Tools []ToolDefinition

	// InboundRate is the sample rate of KindAudio payloads in Hz.
	InboundRate int

	// OutboundRate is the sample rate of audio sent via SendAudio in Hz.
	OutboundRate int
}

// Channel is one open duplex session to the remote speech service.
//
// Outbound sends return an error when the channel is closed; during a
// reconnect window dropped audio is expected and non-fatal, so callers log
// rather than surface these. Callers must drain Events promptly.
type Channel interface {
	// SendAudio delivers one chunk of raw s16le PCM at the configured
	// outbound rate.
	SendAudio(chunk []byte) error

	// SendText injects a text turn and completes it.
	SendText(text string) error

	// SendToolResult forwards an external tool handler's result for the
	// identified call.
	SendToolResult(id, name string, result map[string]any) error

	// SendTurnComplete sends an empty turn-completion signal, used to
	// trigger the model to speak first after setup.
	SendTurnComplete() error

	// Events returns the inbound event stream. The channel is closed after
	// KindClosed is delivered or the session dies.
	Events() <-chan Event

	// Close terminates the session and releases resources. Idempotent.
	Close() error
}

// Dialer opens sessions. The supervisor owns when and how often to dial.
type Dialer interface {
	// Dial establishes a new session using the supplied ephemeral credential.
	// Returns *AuthError for credential problems, *NetworkError for transport
	// failures, and *ProtocolError for a malformed handshake.
	Dial(ctx context.Context, cred credential.Credential, cfg Config) (Channel, error)
}

// AuthError indicates the credential was rejected. Not worth retrying with
// backoff — a stale credential will not become valid by waiting.
type AuthError struct {
	Err error
}

func (e *AuthError) Error() string { return fmt.Sprintf("session: auth: %v", e.Err) }

func (e *AuthError) Unwrap() error { return e.Err }

// NetworkError indicates the transport is closed or unreachable. Retried with
// bounded exponential backoff.
type NetworkError struct {
	Err error
}

func (e *NetworkError) Error() string { return fmt.Sprintf("session: network: %v", e.Err) }

func (e *NetworkError) Unwrap() error { return e.Err }

// ProtocolError indicates a malformed message. Logged and dropped; it does
// not tear down the session unless it recurs above a threshold.
type ProtocolError struct {
	Detail string
}

func (e *ProtocolError) Error() string { return "session: protocol: " + e.Detail }
