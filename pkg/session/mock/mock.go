// Package mock provides in-memory session doubles for testing.
package mock

import (
	"context"
	"fmt"
	"sync"

	"github.com/parleyvoice/parley/pkg/credential"
	"github.com/parleyvoice/parley/pkg/session"
)

var _ session.Channel = (*Channel)(nil)
var _ session.Dialer = (*Dialer)(nil)

// Channel is a scriptable session.Channel. Tests push inbound events via
// Emit and inspect outbound traffic via the recorded slices.
type Channel struct {
	mu sync.Mutex

	events chan session.Event
	closed bool

	// Recorded outbound traffic.
	AudioChunks   [][]byte
	Texts         []string
	ToolResults   []ToolResult
	TurnCompletes int

	// SendErr, when set, is returned from every Send* method.
	SendErr error

	// OnClose, when set, runs once on the first Close call.
	OnClose func()
}

// ToolResult records one SendToolResult call.
type ToolResult struct {
	ID     string
	Name   string
	Result map[string]any
}

// NewChannel creates a Channel with a buffered event stream.
func NewChannel() *Channel {
	return &Channel{events: make(chan session.Event, 64)}
}

// Emit delivers an inbound event to the consumer. Panics if called after
// CloseEvents, matching a real channel's lifecycle.
func (c *Channel) Emit(ev session.Event) { c.events <- ev }

// CloseEvents closes the event stream, simulating the remote end going away.
func (c *Channel) CloseEvents() { close(c.events) }

func (c *Channel) SendAudio(chunk []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return c.SendErr
	}
	if c.closed {
		return fmt.Errorf("mock: channel closed")
	}
	cp := make([]byte, len(chunk))
	copy(cp, chunk)
	c.AudioChunks = append(c.AudioChunks, cp)
	return nil
}

func (c *Channel) SendText(text string) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return c.SendErr
	}
	if c.closed {
		return fmt.Errorf("mock: channel closed")
	}
	c.Texts = append(c.Texts, text)
	return nil
}

func (c *Channel) SendToolResult(id, name string, result map[string]any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return c.SendErr
	}
	if c.closed {
		return fmt.Errorf("mock: channel closed")
	}
	c.ToolResults = append(c.ToolResults, ToolResult{ID: id, Name: name, Result: result})
	return nil
}

func (c *Channel) SendTurnComplete() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.SendErr != nil {
		return c.SendErr
	}
	if c.closed {
		return fmt.Errorf("mock: channel closed")
	}
	c.TurnCompletes++
	return nil
}

func (c *Channel) Events() <-chan session.Event { return c.events }

func (c *Channel) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	onClose := c.OnClose
	c.mu.Unlock()
	if onClose != nil {
		onClose()
	}
	return nil
}

// Closed reports whether Close has been called.
func (c *Channel) Closed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// SentAudio returns a snapshot of recorded audio chunks.
func (c *Channel) SentAudio() [][]byte {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([][]byte, len(c.AudioChunks))
	copy(out, c.AudioChunks)
	return out
}

// SentTurnCompletes returns the number of SendTurnComplete calls.
func (c *Channel) SentTurnCompletes() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.TurnCompletes
}

// SentToolResults returns a snapshot of recorded tool results.
func (c *Channel) SentToolResults() []ToolResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]ToolResult, len(c.ToolResults))
	copy(out, c.ToolResults)
	return out
}

// Dialer is a scriptable session.Dialer. DialFunc, when set, decides the
// outcome of each Dial; otherwise a fresh Channel is returned and recorded.
type Dialer struct {
	mu sync.Mutex

	// DialFunc overrides the default behavior. The call index is zero-based.
	DialFunc func(call int, cred credential.Credential, cfg session.Config) (session.Channel, error)

	calls    int
	channels []*Channel
	creds    []credential.Credential
}

func (d *Dialer) Dial(ctx context.Context, cred credential.Credential, cfg session.Config) (session.Channel, error) {
	if err := ctx.Err(); err != nil {
		return nil, &session.NetworkError{Err: err}
	}

	d.mu.Lock()
	call := d.calls
	d.calls++
	d.creds = append(d.creds, cred)
	fn := d.DialFunc
	d.mu.Unlock()

	if fn != nil {
		return fn(call, cred, cfg)
	}

	ch := NewChannel()
	d.mu.Lock()
	d.channels = append(d.channels, ch)
	d.mu.Unlock()
	ch.Emit(session.Event{Kind: session.KindOpened})
	return ch, nil
}

// Calls returns the number of Dial invocations.
func (d *Dialer) Calls() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.calls
}

// Channels returns the channels handed out by the default behavior.
func (d *Dialer) Channels() []*Channel {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]*Channel, len(d.channels))
	copy(out, d.channels)
	return out
}

// Credentials returns the credentials passed to each Dial call.
func (d *Dialer) Credentials() []credential.Credential {
	d.mu.Lock()
	defer d.mu.Unlock()
	out := make([]credential.Credential, len(d.creds))
	copy(out, d.creds)
	return out
}
