// Package gemini implements session.Dialer for Google's Gemini Live API.
//
// It establishes a bidirectional WebSocket connection to the Live endpoint
// and exchanges JSON messages according to the BidiGenerateContent protocol.
// Audio travels as base64-encoded PCM chunks; inbound traffic is demultiplexed
// into the session.Event taxonomy.
package gemini

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"

	"github.com/coder/websocket"

	"github.com/parleyvoice/parley/pkg/credential"
	"github.com/parleyvoice/parley/pkg/session"
)

// Compile-time assertions that the exported types satisfy the session
// interfaces.
var _ session.Dialer = (*Dialer)(nil)
var _ session.Channel = (*channel)(nil)

const (
	defaultBaseURL = "wss://generativelanguage.googleapis.com/ws"

	bidiPath = "/google.ai.generativelanguage.v1beta.GenerativeService.BidiGenerateContent"

	// eventBuffer bounds the inbound event channel. Consumers that stall
	// longer than this backpressure the receive loop.
	eventBuffer = 64
)

// ── Options ────────────────────────────────────────────────────────────────────

// Option is a functional option for configuring a Dialer.
type Option func(*Dialer)

// WithBaseURL overrides the base WebSocket URL. Primarily used in tests to
// point at a local mock server.
func WithBaseURL(url string) Option {
	return func(d *Dialer) { d.baseURL = url }
}

// ── Dialer ─────────────────────────────────────────────────────────────────────

// Dialer opens Gemini Live sessions.
type Dialer struct {
	baseURL string
}

// NewDialer creates a Dialer with the given options.
func NewDialer(opts ...Option) *Dialer {
	d := &Dialer{baseURL: defaultBaseURL}
	for _, o := range opts {
		o(d)
	}
	return d
}

// Dial establishes a new Live session authenticated by the ephemeral
// credential and sends the setup message. The returned channel emits
// KindOpened immediately and KindSetupComplete once the server acknowledges
// the handshake.
func (d *Dialer) Dial(ctx context.Context, cred credential.Credential, cfg session.Config) (session.Channel, error) {
	wsURL := fmt.Sprintf("%s%s?access_token=%s", d.baseURL, bidiPath, cred.Token)

	conn, resp, err := websocket.Dial(ctx, wsURL, &websocket.DialOptions{
		HTTPHeader: http.Header{
			"Content-Type": []string{"application/json"},
		},
	})
	if err != nil {
		if resp != nil && (resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden) {
			return nil, &session.AuthError{Err: fmt.Errorf("gemini: dial: status %d", resp.StatusCode)}
		}
		return nil, &session.NetworkError{Err: fmt.Errorf("gemini: dial: %w", err)}
	}

	chCtx, chCancel := context.WithCancel(context.Background())
	ch := &channel{
		conn:         conn,
		cfg:          cfg,
		events:       make(chan session.Event, eventBuffer),
		ctx:          chCtx,
		cancel:       chCancel,
		outboundMIME: fmt.Sprintf("audio/pcm;rate=%d", cfg.OutboundRate),
	}

	if err := ch.sendSetup(); err != nil {
		chCancel()
		conn.Close(websocket.StatusInternalError, "setup failed")
		return nil, &session.ProtocolError{Detail: fmt.Sprintf("setup: %v", err)}
	}

	ch.events <- session.Event{Kind: session.KindOpened}
	go ch.receiveLoop()

	return ch, nil
}

// ── Protocol message types (outgoing) ─────────────────────────────────────────

type setupMessage struct {
	Setup setupConfig `json:"setup"`
}

type setupConfig struct {
	Model             string             `json:"model"`
	GenerationConfig  generationConfig   `json:"generationConfig"`
	SystemInstruction *systemInstruction `json:"systemInstruction,omitempty"`
	Tools             []liveTool         `json:"tools,omitempty"`
}

type generationConfig struct {
	ResponseModalities []string      `json:"responseModalities"`
	SpeechConfig       *speechConfig `json:"speechConfig,omitempty"`
}

type speechConfig struct {
	VoiceConfig voiceConfig `json:"voiceConfig"`
}

type voiceConfig struct {
	PrebuiltVoiceConfig prebuiltVoiceConfig `json:"prebuiltVoiceConfig"`
}

type prebuiltVoiceConfig struct {
	VoiceName string `json:"voiceName"`
}

type systemInstruction struct {
	Parts []part `json:"parts"`
}

type part struct {
	Text       string      `json:"text,omitempty"`
	InlineData *inlineData `json:"inlineData,omitempty"`
}

type inlineData struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type liveTool struct {
	FunctionDeclarations []functionDeclaration `json:"functionDeclarations,omitempty"`
}

type functionDeclaration struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

type realtimeInputMessage struct {
	RealtimeInput realtimeInput `json:"realtimeInput"`
}

type realtimeInput struct {
	MediaChunks []mediaChunk `json:"mediaChunks"`
}

type mediaChunk struct {
	MIMEType string `json:"mimeType"`
	Data     string `json:"data"` // base64-encoded
}

type clientContentMessage struct {
	ClientContent clientContent `json:"clientContent"`
}

type clientContent struct {
	Turns        []contentTurn `json:"turns,omitempty"`
	TurnComplete bool          `json:"turnComplete"`
}

type contentTurn struct {
	Role  string `json:"role"`
	Parts []part `json:"parts"`
}

type toolResponseMessage struct {
	ToolResponse toolResponse `json:"toolResponse"`
}

type toolResponse struct {
	FunctionResponses []functionResponse `json:"functionResponses"`
}

type functionResponse struct {
	ID       string         `json:"id,omitempty"`
	Name     string         `json:"name"`
	Response map[string]any `json:"response"`
}

// ── Protocol message types (incoming) ─────────────────────────────────────────

type serverMessage struct {
	SetupComplete        *json.RawMessage `json:"setupComplete,omitempty"`
	ServerContent        *serverContent   `json:"serverContent,omitempty"`
	ToolCall             *toolCallMsg     `json:"toolCall,omitempty"`
	ToolCallCancellation *json.RawMessage `json:"toolCallCancellation,omitempty"`
	Error                *liveError       `json:"error,omitempty"`
}

type liveError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
	Status  string `json:"status,omitempty"`
}

type serverContent struct {
	ModelTurn           *modelTurn     `json:"modelTurn,omitempty"`
	TurnComplete        bool           `json:"turnComplete,omitempty"`
	Interrupted         bool           `json:"interrupted,omitempty"`
	InputTranscription  *transcription `json:"inputTranscription,omitempty"`
	OutputTranscription *transcription `json:"outputTranscription,omitempty"`
}

type modelTurn struct {
	Parts []part `json:"parts"`
}

type transcription struct {
	Text     string `json:"text"`
	Finished bool   `json:"finished,omitempty"`
}

type toolCallMsg struct {
	FunctionCalls []functionCall `json:"functionCalls"`
}

type functionCall struct {
	ID   string         `json:"id"`
	Name string         `json:"name"`
	Args map[string]any `json:"args"`
}

// ── channel ────────────────────────────────────────────────────────────────────

type channel struct {
	conn         *websocket.Conn
	cfg          session.Config
	events       chan session.Event
	outboundMIME string

	mu     sync.Mutex
	closed bool

	ctx       context.Context
	cancel    context.CancelFunc
	closeOnce sync.Once
}

// sendSetup sends the initial BidiGenerateContent setup message.
func (c *channel) sendSetup() error {
	msg := setupMessage{
		Setup: setupConfig{
			Model: fmt.Sprintf("models/%s", c.cfg.Model),
			GenerationConfig: generationConfig{
				ResponseModalities: []string{"audio"},
			},
		},
	}

	if c.cfg.Instructions != "" {
		msg.Setup.SystemInstruction = &systemInstruction{
			Parts: []part{{Text: c.cfg.Instructions}},
		}
	}

	if c.cfg.Voice != "" {
		msg.Setup.GenerationConfig.SpeechConfig = &speechConfig{
			VoiceConfig: voiceConfig{
				PrebuiltVoiceConfig: prebuiltVoiceConfig{VoiceName: c.cfg.Voice},
			},
		}
	}

	if len(c.cfg.Tools) > 0 {
		decls := make([]functionDeclaration, len(c.cfg.Tools))
		for i, t := range c.cfg.Tools {
			decls[i] = functionDeclaration{
				Name:        t.Name,
				Description: t.Description,
				Parameters:  t.Parameters,
			}
		}
		msg.Setup.Tools = []liveTool{{FunctionDeclarations: decls}}
	}

	return c.writeJSON(msg)
}

// writeJSON marshals v and writes it as a text WebSocket message.
func (c *channel) writeJSON(v any) error {
	data, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("gemini: marshal: %w", err)
	}
	if err := c.conn.Write(c.ctx, websocket.MessageText, data); err != nil {
		return &session.NetworkError{Err: fmt.Errorf("gemini: write: %w", err)}
	}
	return nil
}

// emit delivers an event unless the channel context is gone.
func (c *channel) emit(ev session.Event) bool {
	select {
	case c.events <- ev:
		return true
	case <-c.ctx.Done():
		return false
	}
}

// receiveLoop reads messages from the WebSocket and dispatches them. It owns
// the events channel: it emits KindClosed and closes it when it exits.
func (c *channel) receiveLoop() {
	defer c.closeEvents()

	for {
		_, data, err := c.conn.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() != nil {
				c.emitClosed(int(websocket.StatusNormalClosure), "closed by client")
				return
			}
			status := websocket.CloseStatus(err)
			if status == -1 {
				status = websocket.StatusAbnormalClosure
			}
			c.emitClosed(int(status), err.Error())
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			// Malformed frames are dropped, not fatal; the supervisor counts
			// recurrences and tears down above a threshold.
			if !c.emit(session.Event{
				Kind: session.KindError,
				Err:  &session.ProtocolError{Detail: fmt.Sprintf("malformed frame: %v", err)},
			}) {
				return
			}
			continue
		}

		if !c.dispatch(&msg) {
			return
		}
	}
}

// dispatch fans one server message out into events. Returns false when the
// channel context ended mid-emit.
func (c *channel) dispatch(msg *serverMessage) bool {
	if msg.SetupComplete != nil {
		if !c.emit(session.Event{Kind: session.KindSetupComplete}) {
			return false
		}
	}

	if msg.Error != nil {
		detail := msg.Error.Message
		if detail == "" {
			detail = "unknown error"
		}
		if !c.emit(session.Event{
			Kind: session.KindError,
			Err:  fmt.Errorf("gemini: server error %d: %s", msg.Error.Code, detail),
		}) {
			return false
		}
	}

	if msg.ServerContent != nil {
		if !c.dispatchContent(msg.ServerContent) {
			return false
		}
	}

	if msg.ToolCall != nil {
		for _, fc := range msg.ToolCall.FunctionCalls {
			if !c.emit(session.Event{
				Kind: session.KindToolCall,
				ToolCall: session.ToolCall{
					ID:   fc.ID,
					Name: fc.Name,
					Args: fc.Args,
				},
			}) {
				return false
			}
		}
	}

	return true
}

func (c *channel) dispatchContent(sc *serverContent) bool {
	// Barge-in must beat any audio still in the same message.
	if sc.Interrupted {
		if !c.emit(session.Event{Kind: session.KindInterrupted}) {
			return false
		}
	}

	if sc.ModelTurn != nil {
		for _, p := range sc.ModelTurn.Parts {
			if p.InlineData == nil {
				continue
			}
			audioData, err := base64.StdEncoding.DecodeString(p.InlineData.Data)
			if err != nil {
				if !c.emit(session.Event{
					Kind: session.KindError,
					Err:  &session.ProtocolError{Detail: fmt.Sprintf("bad audio base64: %v", err)},
				}) {
					return false
				}
				continue
			}
			if len(audioData) == 0 {
				continue
			}
			if !c.emit(session.Event{Kind: session.KindAudio, Audio: audioData}) {
				return false
			}
		}
	}

	if sc.InputTranscription != nil && sc.InputTranscription.Text != "" {
		if !c.emit(session.Event{
			Kind: session.KindTranscript,
			Transcript: session.Transcript{
				Text:      sc.InputTranscription.Text,
				Final:     sc.InputTranscription.Finished,
				Direction: session.DirectionUser,
			},
		}) {
			return false
		}
	}

	if sc.OutputTranscription != nil && sc.OutputTranscription.Text != "" {
		if !c.emit(session.Event{
			Kind: session.KindTranscript,
			Transcript: session.Transcript{
				Text:      sc.OutputTranscription.Text,
				Final:     sc.OutputTranscription.Finished,
				Direction: session.DirectionModel,
			},
		}) {
			return false
		}
	}

	if sc.TurnComplete {
		if !c.emit(session.Event{Kind: session.KindTurnComplete}) {
			return false
		}
	}

	return true
}

// emitClosed delivers the final KindClosed event without blocking forever.
func (c *channel) emitClosed(code int, reason string) {
	select {
	case c.events <- session.Event{Kind: session.KindClosed, Code: code, Reason: reason}:
	default:
	}
}

func (c *channel) closeEvents() {
	c.closeOnce.Do(func() {
		close(c.events)
	})
}

// ── Channel methods ────────────────────────────────────────────────────────────

// SendAudio delivers one raw PCM chunk at the configured outbound rate.
func (c *channel) SendAudio(chunk []byte) error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	msg := realtimeInputMessage{
		RealtimeInput: realtimeInput{
			MediaChunks: []mediaChunk{
				{MIMEType: c.outboundMIME, Data: base64.StdEncoding.EncodeToString(chunk)},
			},
		},
	}
	return c.writeJSON(msg)
}

// SendText injects a completed user text turn.
func (c *channel) SendText(text string) error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	msg := clientContentMessage{
		ClientContent: clientContent{
			Turns: []contentTurn{
				{Role: "user", Parts: []part{{Text: text}}},
			},
			TurnComplete: true,
		},
	}
	return c.writeJSON(msg)
}

// SendToolResult forwards an external handler's result for a tool call.
func (c *channel) SendToolResult(id, name string, result map[string]any) error {
	if err := c.checkOpen(); err != nil {
		return err
	}

	msg := toolResponseMessage{
		ToolResponse: toolResponse{
			FunctionResponses: []functionResponse{
				{ID: id, Name: name, Response: result},
			},
		},
	}
	return c.writeJSON(msg)
}

// SendTurnComplete sends an empty turn-completion signal, nudging the model
// to start generating.
func (c *channel) SendTurnComplete() error {
	if err := c.checkOpen(); err != nil {
		return err
	}
	return c.writeJSON(clientContentMessage{
		ClientContent: clientContent{TurnComplete: true},
	})
}

func (c *channel) checkOpen() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return fmt.Errorf("gemini: session closed")
	}
	return nil
}

// Events returns the inbound event stream.
func (c *channel) Events() <-chan session.Event { return c.events }

// Close terminates the session and releases all resources. Idempotent.
func (c *channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel() // unblocks receiveLoop
	c.conn.Close(websocket.StatusNormalClosure, "session closed")
	return nil
}
